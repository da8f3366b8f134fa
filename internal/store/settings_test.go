package store

import (
	"context"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateFloatSetting_CreatesDefaultOnFirstRead(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	v, err := st.GetOrCreateFloatSetting(ctx, "min_tp_sl_percent", 3.0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	setting, ok, err := st.GetSetting(ctx, domain.OwnerApp, 0, "min_tp_sl_percent")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, setting.AsFloat(-1))
}

func TestGetOrCreateFloatSetting_ReturnsExistingValue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetOrCreateFloatSetting(ctx, "account_refresh_interval", 5.0)
	require.NoError(t, err)

	require.NoError(t, st.PutSetting(ctx, domain.Setting{
		OwnerKind: domain.OwnerApp,
		Key:       "account_refresh_interval",
		ValueType: domain.SettingFloat,
		RawValue:  "15",
	}))

	v, err := st.GetOrCreateFloatSetting(ctx, "account_refresh_interval", 5.0)
	require.NoError(t, err)
	assert.Equal(t, 15.0, v)
}

func TestPutSetting_StringRoundTripsThroughJSON(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutSetting(ctx, domain.Setting{
		OwnerKind: domain.OwnerApp,
		Key:       "broker_api_key",
		ValueType: domain.SettingString,
		RawValue:  `"super-secret"`,
	}))

	setting, ok, err := st.GetSetting(ctx, domain.OwnerApp, 0, "broker_api_key")
	require.NoError(t, err)
	require.True(t, ok)

	var decoded string
	require.NoError(t, setting.AsStructured(&decoded))
	assert.Equal(t, "super-secret", decoded)
}

func TestGetSetting_MissingKeyReturnsNotFound(t *testing.T) {
	st := newTestStore(t)
	_, ok, err := st.GetSetting(context.Background(), domain.OwnerApp, 0, "does_not_exist")
	require.NoError(t, err)
	assert.False(t, ok)
}
