package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bmigette/tradecore/internal/domain"
)

// AddTransaction inserts a new Transaction with the status it is given.
func (s *Store) AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO transactions (expert_instance_id, symbol, side, quantity, open_price, status, take_profit, stop_loss, close_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ExpertInstanceID, tx.Symbol, tx.Side, tx.Quantity, tx.OpenPrice, tx.Status, tx.TakeProfit, tx.StopLoss, tx.CloseReason)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("add transaction: %w", err)
	}
	id, _ := res.LastInsertId()
	tx.ID = id
	return tx, nil
}

func scanTransaction(scan func(dest ...interface{}) error) (domain.Transaction, error) {
	var t domain.Transaction
	if err := scan(&t.ID, &t.ExpertInstanceID, &t.Symbol, &t.Side, &t.Quantity, &t.OpenPrice, &t.ClosePrice,
		&t.OpenDate, &t.CloseDate, &t.Status, &t.TakeProfit, &t.StopLoss, &t.CloseReason); err != nil {
		if err == sql.ErrNoRows {
			return domain.Transaction{}, &domain.NotFoundError{Kind: "Transaction", ID: "?"}
		}
		return domain.Transaction{}, err
	}
	return t, nil
}

const transactionColumns = `id, expert_instance_id, symbol, side, quantity, open_price, close_price, open_date, close_date, status, take_profit, stop_loss, close_reason`

// GetTransaction fetches a Transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=?`, id)
	return scanTransaction(row.Scan)
}

// UpdateTransaction persists every mutable field of a Transaction.
func (s *Store) UpdateTransaction(ctx context.Context, t domain.Transaction) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE transactions SET quantity=?, open_price=?, close_price=?, open_date=?, close_date=?, status=?, take_profit=?, stop_loss=?, close_reason=? WHERE id=?`,
		t.Quantity, t.OpenPrice, t.ClosePrice, t.OpenDate, t.CloseDate, t.Status, t.TakeProfit, t.StopLoss, t.CloseReason, t.ID)
	return err
}

// HasOpenTransactionForExpertAndSymbol reports whether an OPENED or WAITING
// transaction exists for (expert, symbol); used by submit_market_analysis's
// ENTER_MARKET skip rule and by the OPEN_POSITIONS schedule-fire skip rule.
func (s *Store) HasOpenTransactionForExpertAndSymbol(ctx context.Context, expertInstanceID int64, symbol string) (bool, error) {
	var count int
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE expert_instance_id=? AND symbol=? AND status IN ('WAITING','OPENED')`,
		expertInstanceID, symbol).Scan(&count)
	return count > 0, err
}

// OpenTransactionForExpertAndSymbol fetches the WAITING or OPENED
// transaction for (expert, symbol), if any; used by the Trade Action
// Engine's CLOSE/ADJUST_TP_SL action handlers to resolve which transaction
// an event-action's descriptor applies to.
func (s *Store) OpenTransactionForExpertAndSymbol(ctx context.Context, expertInstanceID int64, symbol string) (domain.Transaction, bool, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE expert_instance_id=? AND symbol=? AND status IN ('WAITING','OPENED') ORDER BY id DESC LIMIT 1`,
		expertInstanceID, symbol)
	t, err := scanTransaction(row.Scan)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return domain.Transaction{}, false, nil
		}
		return domain.Transaction{}, false, err
	}
	return t, true, nil
}

// OpenSymbolsForExpert returns the distinct symbols with a WAITING or OPENED
// transaction for expertInstanceID, used by OPEN_POSITIONS expansion.
func (s *Store) OpenSymbolsForExpert(ctx context.Context, expertInstanceID int64) ([]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT DISTINCT symbol FROM transactions WHERE expert_instance_id=? AND status IN ('WAITING','OPENED')`,
		expertInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// TransactionsWithOrdersForAccount returns every transaction that has at
// least one order on the given account, the driving set for
// refresh_transactions.
func (s *Store) TransactionsWithOrdersForAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT DISTINCT `+prefixColumns("t", transactionColumns)+`
		 FROM transactions t JOIN trading_orders o ON o.transaction_id = t.id
		 WHERE o.account_id = ?`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
