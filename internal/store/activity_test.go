package store

import (
	"context"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListActivity_NewestFirstAndRespectsLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, desc := range []string{"first", "second", "third"} {
		_, err := st.LogActivity(ctx, domain.ActivityLog{Type: "test", Description: desc})
		require.NoError(t, err)
	}

	entries, err := st.ListActivity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Description)
	assert.Equal(t, "second", entries[1].Description)
}

func TestLogActivity_DefaultsSeverityToInfo(t *testing.T) {
	st := newTestStore(t)
	entry, err := st.LogActivity(context.Background(), domain.ActivityLog{Type: "test", Description: "no severity set"})
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityInfo, entry.Severity)
}
