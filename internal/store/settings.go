package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/bmigette/tradecore/internal/domain"
)

// GetSetting fetches a single setting row for an owner.
func (s *Store) GetSetting(ctx context.Context, owner domain.SettingOwnerKind, ownerID int64, key string) (domain.Setting, bool, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT owner_kind, owner_id, key, value_type, raw_value FROM settings WHERE owner_kind=? AND owner_id=? AND key=?`,
		owner, ownerID, key)
	var st domain.Setting
	if err := row.Scan(&st.OwnerKind, &st.OwnerID, &st.Key, &st.ValueType, &st.RawValue); err != nil {
		if err == sql.ErrNoRows {
			return domain.Setting{}, false, nil
		}
		return domain.Setting{}, false, err
	}
	return st, true, nil
}

// PutSetting upserts a setting row.
func (s *Store) PutSetting(ctx context.Context, st domain.Setting) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO settings (owner_kind, owner_id, key, value_type, raw_value) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_kind, owner_id, key) DO UPDATE SET value_type=excluded.value_type, raw_value=excluded.raw_value`,
		st.OwnerKind, st.OwnerID, st.Key, st.ValueType, st.RawValue)
	return err
}

// GetOrCreateFloatSetting reads an application-wide float setting, creating
// it with def the first time it is read, so settings like
// `account_refresh_interval` self-heal after a database reset.
func (s *Store) GetOrCreateFloatSetting(ctx context.Context, key string, def float64) (float64, error) {
	st, ok, err := s.GetSetting(ctx, domain.OwnerApp, 0, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		raw, _ := json.Marshal(def)
		if err := s.PutSetting(ctx, domain.Setting{
			OwnerKind: domain.OwnerApp, Key: key, ValueType: domain.SettingFloat, RawValue: string(raw),
		}); err != nil {
			return 0, err
		}
		return def, nil
	}
	return st.AsFloat(def), nil
}

// ListSettingsForOwner returns every setting for a given owner, used to
// resolve an expert instance's or account's full settings schema.
func (s *Store) ListSettingsForOwner(ctx context.Context, owner domain.SettingOwnerKind, ownerID int64) (map[string]domain.Setting, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT owner_kind, owner_id, key, value_type, raw_value FROM settings WHERE owner_kind=? AND owner_id=?`,
		owner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Setting)
	for rows.Next() {
		var st domain.Setting
		if err := rows.Scan(&st.OwnerKind, &st.OwnerID, &st.Key, &st.ValueType, &st.RawValue); err != nil {
			return nil, err
		}
		out[st.Key] = st
	}
	return out, rows.Err()
}
