package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bmigette/tradecore/internal/domain"
)

// GetRuleset fetches a Ruleset by ID.
func (s *Store) GetRuleset(ctx context.Context, id int64) (domain.Ruleset, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT id, name, kind, subtype FROM rulesets WHERE id=?`, id)
	var r domain.Ruleset
	if err := row.Scan(&r.ID, &r.Name, &r.Kind, &r.Subtype); err != nil {
		if err == sql.ErrNoRows {
			return domain.Ruleset{}, &domain.NotFoundError{Kind: "Ruleset", ID: id}
		}
		return domain.Ruleset{}, err
	}
	return r, nil
}

// OrderedEventActions returns a ruleset's event-actions in order_index order.
func (s *Store) OrderedEventActions(ctx context.Context, rulesetID int64) ([]domain.EventAction, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT ea.id, ea.kind, ea.triggers, ea.actions, ea.continue_processing
		 FROM ruleset_memberships m JOIN event_actions ea ON ea.id = m.event_action_id
		 WHERE m.ruleset_id = ? ORDER BY m.order_index ASC`, rulesetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventAction
	for rows.Next() {
		var ea domain.EventAction
		var triggersJSON, actionsJSON string
		if err := rows.Scan(&ea.ID, &ea.Kind, &triggersJSON, &actionsJSON, &ea.ContinueProcessing); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(triggersJSON), &ea.Triggers); err != nil {
			return nil, fmt.Errorf("decode triggers for event_action %d: %w", ea.ID, err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &ea.Actions); err != nil {
			return nil, fmt.Errorf("decode actions for event_action %d: %w", ea.ID, err)
		}
		out = append(out, ea)
	}
	return out, rows.Err()
}

// AddEventAction inserts a new EventAction.
func (s *Store) AddEventAction(ctx context.Context, ea domain.EventAction) (domain.EventAction, error) {
	triggersJSON, err := json.Marshal(ea.Triggers)
	if err != nil {
		return domain.EventAction{}, err
	}
	actionsJSON, err := json.Marshal(ea.Actions)
	if err != nil {
		return domain.EventAction{}, err
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO event_actions (kind, triggers, actions, continue_processing) VALUES (?, ?, ?, ?)`,
		ea.Kind, string(triggersJSON), string(actionsJSON), ea.ContinueProcessing)
	if err != nil {
		return domain.EventAction{}, fmt.Errorf("add event action: %w", err)
	}
	id, _ := res.LastInsertId()
	ea.ID = id
	return ea, nil
}

// AddRuleset inserts a new Ruleset.
func (s *Store) AddRuleset(ctx context.Context, r domain.Ruleset) (domain.Ruleset, error) {
	res, err := s.db.Conn().ExecContext(ctx, `INSERT INTO rulesets (name, kind, subtype) VALUES (?, ?, ?)`, r.Name, r.Kind, r.Subtype)
	if err != nil {
		return domain.Ruleset{}, fmt.Errorf("add ruleset: %w", err)
	}
	id, _ := res.LastInsertId()
	r.ID = id
	return r, nil
}

// AppendMembership attaches an event-action to a ruleset at the next
// available order_index (gap-free, 0-based).
func (s *Store) AppendMembership(ctx context.Context, rulesetID, eventActionID int64) error {
	var maxIdx sql.NullInt64
	if err := s.db.Conn().QueryRowContext(ctx, `SELECT MAX(order_index) FROM ruleset_memberships WHERE ruleset_id=?`, rulesetID).Scan(&maxIdx); err != nil {
		return err
	}
	next := 0
	if maxIdx.Valid {
		next = int(maxIdx.Int64) + 1
	}
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO ruleset_memberships (ruleset_id, event_action_id, order_index) VALUES (?, ?, ?)`,
		rulesetID, eventActionID, next)
	return err
}

// Reorder rewrites every membership's order_index to match the position of
// its event_action_id in ids.
// Gap-free and 0-based; any membership id not present in ids is left alone
// but pushed after the reordered set.
func (s *Store) Reorder(ctx context.Context, rulesetID int64, ids []int64) error {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT event_action_id FROM ruleset_memberships WHERE ruleset_id=? ORDER BY order_index ASC`, rulesetID)
	if err != nil {
		return err
	}
	var existing []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	listed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		listed[id] = true
	}
	ordered := append([]int64(nil), ids...)
	for _, id := range existing {
		if !listed[id] {
			ordered = append(ordered, id)
		}
	}

	return WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for idx, id := range ordered {
			if _, err := tx.Exec(
				`UPDATE ruleset_memberships SET order_index=? WHERE ruleset_id=? AND event_action_id=?`,
				idx, rulesetID, id); err != nil {
				return fmt.Errorf("reorder event_action %d: %w", id, err)
			}
		}
		return nil
	})
}

// MoveUp swaps eventActionID with its immediate predecessor in order_index.
// A no-op if it is already first.
func (s *Store) MoveUp(ctx context.Context, rulesetID, eventActionID int64) error {
	return s.swapWithNeighbor(ctx, rulesetID, eventActionID, -1)
}

// MoveDown swaps eventActionID with its immediate successor in order_index.
// A no-op if it is already last.
func (s *Store) MoveDown(ctx context.Context, rulesetID, eventActionID int64) error {
	return s.swapWithNeighbor(ctx, rulesetID, eventActionID, 1)
}

func (s *Store) swapWithNeighbor(ctx context.Context, rulesetID, eventActionID int64, direction int) error {
	type row struct {
		id  int64
		idx int
	}
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT event_action_id, order_index FROM ruleset_memberships WHERE ruleset_id=? ORDER BY order_index ASC`, rulesetID)
	if err != nil {
		return err
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.idx); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].idx < all[j].idx })

	pos := -1
	for i, r := range all {
		if r.id == eventActionID {
			pos = i
			break
		}
	}
	if pos == -1 {
		return &domain.NotFoundError{Kind: "EventAction", ID: eventActionID}
	}
	neighbor := pos + direction
	if neighbor < 0 || neighbor >= len(all) {
		return nil // already at the boundary; no-op
	}

	return WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE ruleset_memberships SET order_index=? WHERE ruleset_id=? AND event_action_id=?`,
			all[neighbor].idx, rulesetID, all[pos].id); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE ruleset_memberships SET order_index=? WHERE ruleset_id=? AND event_action_id=?`,
			all[pos].idx, rulesetID, all[neighbor].id)
		return err
	})
}
