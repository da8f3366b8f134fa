package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
)

const orderColumns = `id, account_id, transaction_id, symbol, side, type, quantity, limit_price, stop_price, status,
	filled_quantity, open_price, broker_order_id, depends_on_order, depends_order_status_trigger, good_for, comment, data, created_at`

func scanOrder(scan func(dest ...interface{}) error) (domain.TradingOrder, error) {
	var o domain.TradingOrder
	var dataJSON string
	if err := scan(&o.ID, &o.AccountID, &o.TransactionID, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &o.LimitPrice, &o.StopPrice,
		&o.Status, &o.FilledQuantity, &o.OpenPrice, &o.BrokerOrderID, &o.DependsOnOrder, &o.DependsOrderStatusTrigger,
		&o.GoodFor, &o.Comment, &dataJSON, &o.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.TradingOrder{}, &domain.NotFoundError{Kind: "TradingOrder", ID: "?"}
		}
		return domain.TradingOrder{}, err
	}
	_ = json.Unmarshal([]byte(dataJSON), &o.Data)
	return o, nil
}

// AddOrder inserts a new TradingOrder and returns it with its ID set. The
// caller must persist before submitting to the broker so a broker-side
// failure remains attributable to a row.
func (s *Store) AddOrder(ctx context.Context, o domain.TradingOrder) (domain.TradingOrder, error) {
	dataJSON, err := json.Marshal(o.Data)
	if err != nil {
		return domain.TradingOrder{}, err
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO trading_orders
		 (account_id, transaction_id, symbol, side, type, quantity, limit_price, stop_price, status, filled_quantity,
		  open_price, broker_order_id, depends_on_order, depends_order_status_trigger, good_for, comment, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.AccountID, o.TransactionID, o.Symbol, o.Side, o.Type, o.Quantity, o.LimitPrice, o.StopPrice, o.Status, o.FilledQuantity,
		o.OpenPrice, o.BrokerOrderID, o.DependsOnOrder, o.DependsOrderStatusTrigger, o.GoodFor, o.Comment, string(dataJSON))
	if err != nil {
		return domain.TradingOrder{}, fmt.Errorf("add order: %w", err)
	}
	id, _ := res.LastInsertId()
	o.ID = id
	return o, nil
}

// GetOrder fetches a TradingOrder by ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (domain.TradingOrder, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+orderColumns+` FROM trading_orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

// UpdateOrder persists every mutable field of a TradingOrder. Terminal
// statuses must never be overwritten by a subsequent write; the
// check is enforced by callers (internal/broker), not here, because the
// store layer is not the place that decides policy; it is a dumb mapper
// over the entity graph.
func (s *Store) UpdateOrder(ctx context.Context, o domain.TradingOrder) error {
	dataJSON, err := json.Marshal(o.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().ExecContext(ctx,
		`UPDATE trading_orders SET transaction_id=?, quantity=?, limit_price=?, stop_price=?, status=?, filled_quantity=?,
		 open_price=?, broker_order_id=?, depends_on_order=?, depends_order_status_trigger=?, comment=?, data=? WHERE id=?`,
		o.TransactionID, o.Quantity, o.LimitPrice, o.StopPrice, o.Status, o.FilledQuantity, o.OpenPrice, o.BrokerOrderID,
		o.DependsOnOrder, o.DependsOrderStatusTrigger, o.Comment, string(dataJSON), o.ID)
	return err
}

// OrdersForTransaction returns every order bound to a transaction.
func (s *Store) OrdersForTransaction(ctx context.Context, transactionID int64) ([]domain.TradingOrder, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+orderColumns+` FROM trading_orders WHERE transaction_id=? ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradingOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// NonTerminalOrdersForAccount returns every order on accountID whose status
// is not yet terminal, the driving set for refresh_orders.
func (s *Store) NonTerminalOrdersForAccount(ctx context.Context, accountID int64) ([]domain.TradingOrder, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+orderColumns+` FROM trading_orders WHERE account_id=? AND status NOT IN ('FILLED','CANCELED','REJECTED','EXPIRED','ERROR','CLOSED')`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradingOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOrdersByStatus returns every order in the given status, across accounts.
func (s *Store) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.TradingOrder, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+orderColumns+` FROM trading_orders WHERE status=?`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradingOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DependentOrders returns every order that depends on parentOrderID.
func (s *Store) DependentOrders(ctx context.Context, parentOrderID int64) ([]domain.TradingOrder, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+orderColumns+` FROM trading_orders WHERE depends_on_order=?`, parentOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradingOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
