package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
)

// AddMarketAnalysis inserts a new MarketAnalysis row (normally PENDING).
func (s *Store) AddMarketAnalysis(ctx context.Context, a domain.MarketAnalysis) (domain.MarketAnalysis, error) {
	stateJSON, err := json.Marshal(a.State)
	if err != nil {
		return domain.MarketAnalysis{}, err
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO market_analyses (expert_instance_id, symbol, use_case, status, state) VALUES (?, ?, ?, ?, ?)`,
		a.ExpertInstanceID, a.Symbol, a.UseCase, a.Status, string(stateJSON))
	if err != nil {
		return domain.MarketAnalysis{}, fmt.Errorf("add market analysis: %w", err)
	}
	id, _ := res.LastInsertId()
	a.ID = id
	return a, nil
}

// GetMarketAnalysis fetches a MarketAnalysis by ID.
func (s *Store) GetMarketAnalysis(ctx context.Context, id int64) (domain.MarketAnalysis, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, expert_instance_id, symbol, use_case, status, state, created_at, updated_at FROM market_analyses WHERE id=?`, id)
	return scanMarketAnalysis(row)
}

func scanMarketAnalysis(row *sql.Row) (domain.MarketAnalysis, error) {
	var a domain.MarketAnalysis
	var state string
	if err := row.Scan(&a.ID, &a.ExpertInstanceID, &a.Symbol, &a.UseCase, &a.Status, &state, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.MarketAnalysis{}, &domain.NotFoundError{Kind: "MarketAnalysis", ID: "?"}
		}
		return domain.MarketAnalysis{}, err
	}
	_ = json.Unmarshal([]byte(state), &a.State)
	return a, nil
}

// UpdateMarketAnalysisStatus transitions a MarketAnalysis's status and state blob.
func (s *Store) UpdateMarketAnalysisStatus(ctx context.Context, id int64, status domain.AnalysisStatus, state map[string]interface{}) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().ExecContext(ctx,
		`UPDATE market_analyses SET status=?, state=?, updated_at=? WHERE id=?`,
		status, string(stateJSON), time.Now(), id)
	return err
}

// ListMarketAnalysesByStatus returns every MarketAnalysis in the given status.
// Used by startup reconciliation to find orphaned RUNNING rows.
func (s *Store) ListMarketAnalysesByStatus(ctx context.Context, status domain.AnalysisStatus) ([]domain.MarketAnalysis, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, expert_instance_id, symbol, use_case, status, state, created_at, updated_at FROM market_analyses WHERE status=?`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MarketAnalysis
	for rows.Next() {
		var a domain.MarketAnalysis
		var state string
		if err := rows.Scan(&a.ID, &a.ExpertInstanceID, &a.Symbol, &a.UseCase, &a.Status, &state, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(state), &a.State)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAnalysisOutput appends an artefact produced during an analysis run.
func (s *Store) AddAnalysisOutput(ctx context.Context, o domain.AnalysisOutput) (domain.AnalysisOutput, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO analysis_outputs (market_analysis_id, name, type_tag, text) VALUES (?, ?, ?, ?)`,
		o.MarketAnalysisID, o.Name, o.TypeTag, o.Text)
	if err != nil {
		return domain.AnalysisOutput{}, fmt.Errorf("add analysis output: %w", err)
	}
	id, _ := res.LastInsertId()
	o.ID = id
	return o, nil
}

// AddExpertRecommendation inserts a new ExpertRecommendation.
//
// Confidence out of [0, 100] is rejected (ValidationError), not clamped: a
// clamped 150 would be indistinguishable from a genuine 100 in the audit
// trail.
func (s *Store) AddExpertRecommendation(ctx context.Context, r domain.ExpertRecommendation) (domain.ExpertRecommendation, error) {
	if r.Confidence < 0 || r.Confidence > 100 {
		return domain.ExpertRecommendation{}, domain.NewValidationError(
			fmt.Sprintf("confidence %.2f out of range [0,100]", r.Confidence))
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO expert_recommendations
		 (expert_instance_id, market_analysis_id, symbol, action, expected_profit_percent, price_at_issue, confidence, risk_level, time_horizon, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ExpertInstanceID, r.MarketAnalysisID, r.Symbol, r.Action, r.ExpectedProfitPercent, r.PriceAtIssue, r.Confidence, r.RiskLevel, r.TimeHorizon, r.Details)
	if err != nil {
		return domain.ExpertRecommendation{}, fmt.Errorf("add expert recommendation: %w", err)
	}
	id, _ := res.LastInsertId()
	r.ID = id
	return r, nil
}

// GetLatestRecommendationForAnalysis fetches the most recent recommendation
// written against a MarketAnalysis.
func (s *Store) GetLatestRecommendationForAnalysis(ctx context.Context, analysisID int64) (domain.ExpertRecommendation, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, expert_instance_id, market_analysis_id, symbol, action, expected_profit_percent, price_at_issue, confidence, risk_level, time_horizon, details, created_at
		 FROM expert_recommendations WHERE market_analysis_id=? ORDER BY created_at DESC LIMIT 1`, analysisID)
	var r domain.ExpertRecommendation
	if err := row.Scan(&r.ID, &r.ExpertInstanceID, &r.MarketAnalysisID, &r.Symbol, &r.Action, &r.ExpectedProfitPercent,
		&r.PriceAtIssue, &r.Confidence, &r.RiskLevel, &r.TimeHorizon, &r.Details, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.ExpertRecommendation{}, &domain.NotFoundError{Kind: "ExpertRecommendation", ID: analysisID}
		}
		return domain.ExpertRecommendation{}, err
	}
	return r, nil
}
