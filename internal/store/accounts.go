package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
)

// Store bundles every repository over a single DB connection. The core only
// needs add/get/update/delete/list-all-of-kind plus a handful of ordered
// queries; everything lives as methods on Store so callers
// hold one handle instead of wiring N repository interfaces.
type Store struct {
	db *DB
}

// New wraps an open DB as a Store.
func New(db *DB) *Store { return &Store{db: db} }

// DB returns the underlying database handle (for transactions spanning repos).
func (s *Store) DB() *DB { return s.db }

// AddAccount inserts a new AccountDefinition and returns it with its ID set.
// expunge_after_flush is satisfied trivially here: the returned
// value is a plain struct, not a session-bound handle, so callers may keep
// using it after the call returns with no reload required.
func (s *Store) AddAccount(ctx context.Context, a domain.AccountDefinition) (domain.AccountDefinition, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO accounts (provider, name, description) VALUES (?, ?, ?)`,
		a.Provider, a.Name, a.Description)
	if err != nil {
		return domain.AccountDefinition{}, fmt.Errorf("add account: %w", err)
	}
	id, _ := res.LastInsertId()
	a.ID = id
	return a, nil
}

// GetAccount fetches an AccountDefinition by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (domain.AccountDefinition, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, provider, name, description, created_at FROM accounts WHERE id = ?`, id)
	var a domain.AccountDefinition
	if err := row.Scan(&a.ID, &a.Provider, &a.Name, &a.Description, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.AccountDefinition{}, &domain.NotFoundError{Kind: "AccountDefinition", ID: id}
		}
		return domain.AccountDefinition{}, err
	}
	return a, nil
}

// ListAccounts returns every AccountDefinition.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.AccountDefinition, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT id, provider, name, description, created_at FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AccountDefinition
	for rows.Next() {
		var a domain.AccountDefinition
		if err := rows.Scan(&a.ID, &a.Provider, &a.Name, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddExpertInstance inserts a new ExpertInstance.
func (s *Store) AddExpertInstance(ctx context.Context, e domain.ExpertInstance) (domain.ExpertInstance, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO expert_instances (account_id, expert_class_tag, enabled, virtual_equity_percent, ruleset_id, alias)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.AccountID, e.ExpertClassTag, e.Enabled, e.VirtualEquityPercent, e.RulesetID, e.Alias)
	if err != nil {
		return domain.ExpertInstance{}, fmt.Errorf("add expert instance: %w", err)
	}
	id, _ := res.LastInsertId()
	e.ID = id
	return e, nil
}

// GetExpertInstance fetches an ExpertInstance by ID.
func (s *Store) GetExpertInstance(ctx context.Context, id int64) (domain.ExpertInstance, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, account_id, expert_class_tag, enabled, virtual_equity_percent, ruleset_id, alias, created_at
		 FROM expert_instances WHERE id = ?`, id)
	var e domain.ExpertInstance
	if err := row.Scan(&e.ID, &e.AccountID, &e.ExpertClassTag, &e.Enabled, &e.VirtualEquityPercent, &e.RulesetID, &e.Alias, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.ExpertInstance{}, &domain.NotFoundError{Kind: "ExpertInstance", ID: id}
		}
		return domain.ExpertInstance{}, err
	}
	return e, nil
}

// ListEnabledExpertInstances returns every enabled ExpertInstance.
func (s *Store) ListEnabledExpertInstances(ctx context.Context) ([]domain.ExpertInstance, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, account_id, expert_class_tag, enabled, virtual_equity_percent, ruleset_id, alias, created_at
		 FROM expert_instances WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExpertInstance
	for rows.Next() {
		var e domain.ExpertInstance
		if err := rows.Scan(&e.ID, &e.AccountID, &e.ExpertClassTag, &e.Enabled, &e.VirtualEquityPercent, &e.RulesetID, &e.Alias, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateExpertInstance persists changes to an existing ExpertInstance.
func (s *Store) UpdateExpertInstance(ctx context.Context, e domain.ExpertInstance) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE expert_instances SET account_id=?, expert_class_tag=?, enabled=?, virtual_equity_percent=?, ruleset_id=?, alias=? WHERE id=?`,
		e.AccountID, e.ExpertClassTag, e.Enabled, e.VirtualEquityPercent, e.RulesetID, e.Alias, e.ID)
	return err
}
