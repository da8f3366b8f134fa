package config

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSettingsStore is an in-memory stand-in for store.Store, exercising only
// the narrow SettingsStore interface config needs.
type fakeSettingsStore struct {
	floats   map[string]float64
	settings map[string]domain.Setting
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{floats: map[string]float64{}, settings: map[string]domain.Setting{}}
}

func (f *fakeSettingsStore) GetOrCreateFloatSetting(ctx context.Context, key string, def float64) (float64, error) {
	if v, ok := f.floats[key]; ok {
		return v, nil
	}
	f.floats[key] = def
	return def, nil
}

func (f *fakeSettingsStore) GetSetting(ctx context.Context, owner domain.SettingOwnerKind, ownerID int64, key string) (domain.Setting, bool, error) {
	s, ok := f.settings[key]
	return s, ok, nil
}

func TestLoad_AppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("TRADECORE_DATA_DIR", t.TempDir())
	t.Setenv("TRADECORE_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DefaultMinTPSLPercent, cfg.MinTPSLPercent)
	assert.Equal(t, "tradecore.db", cfg.DBFile)
}

func TestUpdateFromSettings_OverlaysFloatsAndDecodesCredentials(t *testing.T) {
	cfg := &Config{MinTPSLPercent: DefaultMinTPSLPercent}
	store := newFakeSettingsStore()
	store.floats[SettingMinTPSLPercent] = 4.5

	rawKey, err := json.Marshal("rotated-key")
	require.NoError(t, err)
	store.settings["broker_api_key"] = domain.Setting{OwnerKind: domain.OwnerApp, Key: "broker_api_key", RawValue: string(rawKey)}

	require.NoError(t, cfg.UpdateFromSettings(context.Background(), store))
	assert.Equal(t, 4.5, cfg.MinTPSLPercent)
	assert.Equal(t, "rotated-key", cfg.BrokerAPIKey)
	assert.Equal(t, "", cfg.BrokerAPISecret)
}

func TestUpdateFromSettings_LeavesCredentialUnchangedWhenSettingAbsent(t *testing.T) {
	cfg := &Config{BrokerAPIKey: "from-env"}
	require.NoError(t, cfg.UpdateFromSettings(context.Background(), newFakeSettingsStore()))
	assert.Equal(t, "from-env", cfg.BrokerAPIKey)
}
