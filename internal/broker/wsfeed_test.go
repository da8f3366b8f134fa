package broker

import (
	"context"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_GrowsExponentiallyUpToCap(t *testing.T) {
	assert.Equal(t, wsBaseReconnectDelay, backoffDelay(1))
	assert.Equal(t, 2*wsBaseReconnectDelay, backoffDelay(2))
	assert.Equal(t, 4*wsBaseReconnectDelay, backoffDelay(3))
}

func TestBackoffDelay_CapsAtMaxReconnectDelay(t *testing.T) {
	assert.Equal(t, wsMaxReconnectDelay, backoffDelay(20))
}

func TestNewOrderFeed_BuildsUnconnectedFeed(t *testing.T) {
	f := NewOrderFeed("wss://example.invalid/feed", func(ctx context.Context, update domain.BrokerOrderSnapshot) {}, zerolog.Nop())
	assert.False(t, f.connected)
	assert.Equal(t, "wss://example.invalid/feed", f.url)
}

func TestOrderFeed_StopBeforeStartIsNoOp(t *testing.T) {
	f := NewOrderFeed("wss://example.invalid/feed", func(ctx context.Context, update domain.BrokerOrderSnapshot) {}, zerolog.Nop())
	assert.NoError(t, f.Stop())
}
