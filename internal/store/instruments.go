package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
)

func encodeStrings(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeStrings(raw string) []string {
	var ss []string
	_ = json.Unmarshal([]byte(raw), &ss)
	return ss
}

// GetInstrumentBySymbol fetches an Instrument by its symbol.
func (s *Store) GetInstrumentBySymbol(ctx context.Context, symbol string) (domain.Instrument, bool, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, symbol, kind, categories, labels FROM instruments WHERE symbol = ?`, symbol)
	var i domain.Instrument
	var categories, labels string
	if err := row.Scan(&i.ID, &i.Symbol, &i.Kind, &categories, &labels); err != nil {
		if err == sql.ErrNoRows {
			return domain.Instrument{}, false, nil
		}
		return domain.Instrument{}, false, err
	}
	i.Categories = decodeStrings(categories)
	i.Labels = decodeStrings(labels)
	return i, true, nil
}

// AddInstrument inserts a new Instrument.
func (s *Store) AddInstrument(ctx context.Context, i domain.Instrument) (domain.Instrument, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO instruments (symbol, kind, categories, labels) VALUES (?, ?, ?, ?)`,
		i.Symbol, i.Kind, encodeStrings(i.Categories), encodeStrings(i.Labels))
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("add instrument: %w", err)
	}
	id, _ := res.LastInsertId()
	i.ID = id
	return i, nil
}

// EnsureInstrument returns the Instrument for symbol, auto-creating it with
// the "auto_added" label if it has never been seen before.
func (s *Store) EnsureInstrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	if existing, ok, err := s.GetInstrumentBySymbol(ctx, symbol); err != nil {
		return domain.Instrument{}, err
	} else if ok {
		return existing, nil
	}
	return s.AddInstrument(ctx, domain.Instrument{
		Symbol: symbol,
		Kind:   "stock",
		Labels: []string{"auto_added"},
	})
}
