package store

import (
	"context"
	"encoding/json"

	"github.com/bmigette/tradecore/internal/domain"
)

// LogActivity appends an ActivityLog entry. The log is
// append-only: there is no Update/Delete here by design.
func (s *Store) LogActivity(ctx context.Context, a domain.ActivityLog) (domain.ActivityLog, error) {
	dataJSON, err := json.Marshal(a.Data)
	if err != nil {
		return domain.ActivityLog{}, err
	}
	if a.Severity == "" {
		a.Severity = domain.SeverityInfo
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO activity_log (severity, type, description, data, account_id, expert_id) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Severity, a.Type, a.Description, string(dataJSON), a.AccountID, a.ExpertID)
	if err != nil {
		return domain.ActivityLog{}, err
	}
	id, _ := res.LastInsertId()
	a.ID = id
	return a, nil
}

// ListActivity returns the most recent activity entries, newest first.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, severity, type, description, data, account_id, expert_id, timestamp
		 FROM activity_log ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ActivityLog
	for rows.Next() {
		var a domain.ActivityLog
		var data string
		if err := rows.Scan(&a.ID, &a.Severity, &a.Type, &a.Description, &data, &a.AccountID, &a.ExpertID, &a.Timestamp); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(data), &a.Data)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddLLMUsage appends an LLMUsageLog row.
func (s *Store) AddLLMUsage(ctx context.Context, u domain.LLMUsageLog) (domain.LLMUsageLog, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO llm_usage_log (provider, model, prompt_tokens, output_tokens, cost_usd) VALUES (?, ?, ?, ?, ?)`,
		u.Provider, u.Model, u.PromptTokens, u.OutputTokens, u.CostUSD)
	if err != nil {
		return domain.LLMUsageLog{}, err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	return u, nil
}
