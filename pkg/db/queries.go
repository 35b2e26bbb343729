package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"execution-core/pkg/errs"
)

// CreatePortfolio inserts a new portfolio row.
func (d *Database) CreatePortfolio(ctx context.Context, p Portfolio) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO portfolios (id, name, total_value_usd, realized_pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, p.ID, p.Name, p.TotalValueUSD, p.RealizedPnL, nullTime(p.CreatedAt), nullTime(p.UpdatedAt))
	return err
}

// GetPortfolio returns a portfolio by id.
func (d *Database) GetPortfolio(ctx context.Context, id string) (*Portfolio, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, total_value_usd, realized_pnl, created_at, updated_at
		FROM portfolios WHERE id = ?
	`, id)
	var p Portfolio
	if err := row.Scan(&p.ID, &p.Name, &p.TotalValueUSD, &p.RealizedPnL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("portfolio %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// ListPortfolios returns all portfolios.
func (d *Database) ListPortfolios(ctx context.Context) ([]Portfolio, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, total_value_usd, realized_pnl, created_at, updated_at
		FROM portfolios ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Portfolio
	for rows.Next() {
		var p Portfolio
		if err := rows.Scan(&p.ID, &p.Name, &p.TotalValueUSD, &p.RealizedPnL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ApplyPortfolioPnL adds realized PnL to the portfolio and moves equity by
// the same amount.
func (d *Database) ApplyPortfolioPnL(ctx context.Context, id string, pnl float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE portfolios
		SET total_value_usd = total_value_usd + ?,
		    realized_pnl = realized_pnl + ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, pnl, pnl, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("portfolio %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// UpsertRiskParameters writes risk parameters unconditionally (used at
// portfolio creation). Version starts at 1.
func (d *Database) UpsertRiskParameters(ctx context.Context, rp RiskParameters) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_parameters (
			portfolio_id, max_position_size_pct, max_daily_loss_pct, max_portfolio_heat_pct,
			circuit_breaker_enabled, circuit_breaker_triggered, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(portfolio_id) DO UPDATE SET
			max_position_size_pct = excluded.max_position_size_pct,
			max_daily_loss_pct = excluded.max_daily_loss_pct,
			max_portfolio_heat_pct = excluded.max_portfolio_heat_pct,
			circuit_breaker_enabled = excluded.circuit_breaker_enabled,
			version = risk_parameters.version + 1,
			updated_at = CURRENT_TIMESTAMP
	`,
		rp.PortfolioID, rp.MaxPositionSizePct, rp.MaxDailyLossPct, rp.MaxPortfolioHeatPct,
		boolToInt(rp.CircuitBreakerEnabled), boolToInt(rp.CircuitBreakerTriggered),
	)
	return err
}

// GetRiskParameters returns the risk parameters for a portfolio, including
// the current version for conditional updates.
func (d *Database) GetRiskParameters(ctx context.Context, portfolioID string) (*RiskParameters, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT portfolio_id, max_position_size_pct, max_daily_loss_pct, max_portfolio_heat_pct,
		       circuit_breaker_enabled, circuit_breaker_triggered, version, updated_at
		FROM risk_parameters WHERE portfolio_id = ?
	`, portfolioID)

	var rp RiskParameters
	var enabled, triggered int
	if err := row.Scan(&rp.PortfolioID, &rp.MaxPositionSizePct, &rp.MaxDailyLossPct, &rp.MaxPortfolioHeatPct,
		&enabled, &triggered, &rp.Version, &rp.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("risk parameters for %s: %w", portfolioID, errs.ErrNotFound)
		}
		return nil, err
	}
	rp.CircuitBreakerEnabled = enabled == 1
	rp.CircuitBreakerTriggered = triggered == 1
	return &rp, nil
}

// SetRiskTriggeredCAS flips the circuit_breaker_triggered latch only if the
// caller still holds the current version. Returns errs.ErrConflict when a
// concurrent writer got there first.
func (d *Database) SetRiskTriggeredCAS(ctx context.Context, portfolioID string, triggered bool, expectedVersion int64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE risk_parameters
		SET circuit_breaker_triggered = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE portfolio_id = ? AND version = ?
	`, boolToInt(triggered), portfolioID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("risk parameters for %s: %w", portfolioID, errs.ErrConflict)
	}
	return nil
}

// GetBreaker returns the breaker state for a scope, or nil if the scope
// has never been written (logically CLOSED).
func (d *Database) GetBreaker(ctx context.Context, portfolioID, scope string) (*BreakerState, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT portfolio_id, scope, triggered, triggered_at, cooldown_until, loss_in_r, reason, version
		FROM circuit_breakers WHERE portfolio_id = ? AND scope = ?
	`, portfolioID, scope)

	var st BreakerState
	var triggered int
	if err := row.Scan(&st.PortfolioID, &st.Scope, &triggered, &st.TriggeredAt, &st.CooldownUntil,
		&st.LossInR, &st.Reason, &st.Version); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	st.Triggered = triggered == 1
	return &st, nil
}

// ListBreakers returns all breaker rows for a portfolio.
func (d *Database) ListBreakers(ctx context.Context, portfolioID string) ([]BreakerState, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT portfolio_id, scope, triggered, triggered_at, cooldown_until, loss_in_r, reason, version
		FROM circuit_breakers WHERE portfolio_id = ?
		ORDER BY scope
	`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []BreakerState
	for rows.Next() {
		var st BreakerState
		var triggered int
		if err := rows.Scan(&st.PortfolioID, &st.Scope, &triggered, &st.TriggeredAt, &st.CooldownUntil,
			&st.LossInR, &st.Reason, &st.Version); err != nil {
			return nil, err
		}
		st.Triggered = triggered == 1
		res = append(res, st)
	}
	return res, rows.Err()
}

// InsertBreaker creates a breaker row at version 1. Fails if the row
// already exists; callers treat that as a conflict and re-read.
func (d *Database) InsertBreaker(ctx context.Context, st BreakerState) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO circuit_breakers (portfolio_id, scope, triggered, triggered_at, cooldown_until, loss_in_r, reason, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`, st.PortfolioID, st.Scope, boolToInt(st.Triggered), st.TriggeredAt, st.CooldownUntil, st.LossInR, st.Reason)
	if err != nil {
		return fmt.Errorf("breaker %s/%s: %w", st.PortfolioID, st.Scope, errs.ErrConflict)
	}
	return nil
}

// UpdateBreakerCAS conditionally updates a breaker row. The write only
// lands when the stored version matches what the caller read, so a trip is
// never silently overwritten by a concurrent reset (and vice versa).
func (d *Database) UpdateBreakerCAS(ctx context.Context, st BreakerState, expectedVersion int64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE circuit_breakers
		SET triggered = ?, triggered_at = ?, cooldown_until = ?, loss_in_r = ?, reason = ?, version = version + 1
		WHERE portfolio_id = ? AND scope = ? AND version = ?
	`, boolToInt(st.Triggered), st.TriggeredAt, st.CooldownUntil, st.LossInR, st.Reason,
		st.PortfolioID, st.Scope, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("breaker %s/%s: %w", st.PortfolioID, st.Scope, errs.ErrConflict)
	}
	return nil
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, portfolio_id, parent_order_id, exchange_order_id, symbol, side, type,
			qty, price, stop_price, status, filled_qty, avg_fill_price,
			signal_id, atr, sl_mult, tp1_mult, tp2_mult, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`,
		o.ID, o.PortfolioID, o.ParentOrderID, o.ExchangeOrderID, o.Symbol, o.Side, o.Type,
		o.Qty, o.Price, o.StopPrice, o.Status, o.FilledQty, o.AvgFillPrice,
		o.SignalID, o.ATR, o.SLMult, o.TP1Mult, o.TP2Mult, nullTime(o.CreatedAt),
	)
	return err
}

// GetOrder returns an order by id.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, portfolio_id, parent_order_id, exchange_order_id, symbol, side, type,
		       qty, price, stop_price, status, filled_qty, avg_fill_price,
		       signal_id, atr, sl_mult, tp1_mult, tp2_mult, created_at, updated_at
		FROM orders WHERE id = ?
	`, id)
	var o Order
	if err := row.Scan(&o.ID, &o.PortfolioID, &o.ParentOrderID, &o.ExchangeOrderID, &o.Symbol, &o.Side, &o.Type,
		&o.Qty, &o.Price, &o.StopPrice, &o.Status, &o.FilledQty, &o.AvgFillPrice,
		&o.SignalID, &o.ATR, &o.SLMult, &o.TP1Mult, &o.TP2Mult, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("order %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	return &o, nil
}

// UpdateOrderExec merges execution state into an order row.
func (d *Database) UpdateOrderExec(ctx context.Context, id, status string, filledQty, avgFillPrice float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, avg_fill_price = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, filledQty, avgFillPrice, id)
	return err
}

// UpdateOrderStatus sets the status of an order.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// SetOrderExchangeID records the exchange-assigned id after placement.
func (d *Database) SetOrderExchangeID(ctx context.Context, id, exchangeOrderID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET exchange_order_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, exchangeOrderID, id)
	return err
}

// ListOpenOrders returns non-terminal orders, oldest first.
func (d *Database) ListOpenOrders(ctx context.Context, limit int) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, portfolio_id, parent_order_id, exchange_order_id, symbol, side, type,
		       qty, price, stop_price, status, filled_qty, avg_fill_price,
		       signal_id, atr, sl_mult, tp1_mult, tp2_mult, created_at, updated_at
		FROM orders
		WHERE status NOT IN ('FILLED', 'CANCELLED', 'REJECTED')
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.PortfolioID, &o.ParentOrderID, &o.ExchangeOrderID, &o.Symbol, &o.Side, &o.Type,
			&o.Qty, &o.Price, &o.StopPrice, &o.Status, &o.FilledQty, &o.AvgFillPrice,
			&o.SignalID, &o.ATR, &o.SLMult, &o.TP1Mult, &o.TP2Mult, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CreatePosition inserts a new open position.
func (d *Database) CreatePosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, portfolio_id, symbol, side, qty, entry_price, stop_loss, take_profit,
			risk_usd, unrealized_pnl, cluster_num, status, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', COALESCE(?, CURRENT_TIMESTAMP))
	`,
		p.ID, p.PortfolioID, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.StopLoss, p.TakeProfit,
		p.RiskUSD, p.UnrealizedPnL, p.ClusterNum, nullTime(p.OpenedAt),
	)
	return err
}

// GetPosition returns a position by id.
func (d *Database) GetPosition(ctx context.Context, id string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, portfolio_id, symbol, side, qty, entry_price, stop_loss, take_profit,
		       risk_usd, unrealized_pnl, cluster_num, status, opened_at, closed_at
		FROM positions WHERE id = ?
	`, id)
	var p Position
	if err := row.Scan(&p.ID, &p.PortfolioID, &p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.StopLoss, &p.TakeProfit,
		&p.RiskUSD, &p.UnrealizedPnL, &p.ClusterNum, &p.Status, &p.OpenedAt, &p.ClosedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("position %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// ListOpenPositions returns all open positions for a portfolio.
func (d *Database) ListOpenPositions(ctx context.Context, portfolioID string) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, side, qty, entry_price, stop_loss, take_profit,
		       risk_usd, unrealized_pnl, cluster_num, status, opened_at, closed_at
		FROM positions WHERE portfolio_id = ? AND status = 'OPEN'
	`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.PortfolioID, &p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.StopLoss, &p.TakeProfit,
			&p.RiskUSD, &p.UnrealizedPnL, &p.ClusterNum, &p.Status, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdatePositionMark refreshes the unrealized PnL of an open position.
func (d *Database) UpdatePositionMark(ctx context.Context, id string, unrealizedPnL float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET unrealized_pnl = ? WHERE id = ? AND status = 'OPEN'
	`, unrealizedPnL, id)
	return err
}

// ClosePosition marks a position closed. The row stays for audit.
func (d *Database) ClosePosition(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE positions
		SET status = 'CLOSED', unrealized_pnl = 0, closed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'OPEN'
	`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %s not open: %w", id, errs.ErrInvalidState)
	}
	return nil
}

// CreateTrade inserts a realized fill row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, portfolio_id, position_id, symbol, side, qty, price, fee, pnl, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.PortfolioID, t.PositionID, t.Symbol, t.Side, t.Qty, t.Price, t.Fee, t.PnL, nullTime(t.CreatedAt))
	return err
}

// SumRealizedPnLSince returns net realized PnL for trades at or after the
// cutoff. Used for the daily-loss computation: this is always recomputed
// from trade rows, never taken from a cached percentage field.
func (d *Database) SumRealizedPnLSince(ctx context.Context, portfolioID string, since time.Time) (float64, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl - fee), 0) FROM trades
		WHERE portfolio_id = ? AND created_at >= ?
	`, portfolioID, since)
	var pnl float64
	if err := row.Scan(&pnl); err != nil {
		return 0, err
	}
	return pnl, nil
}

// CreateSignal inserts a new pending signal.
func (d *Database) CreateSignal(ctx context.Context, s Signal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (id, portfolio_id, symbol, side, status, position_id, execution_price, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`, s.ID, s.PortfolioID, s.Symbol, s.Side, s.Status, s.PositionID, s.ExecutionPrice, s.Reason, nullTime(s.CreatedAt))
	return err
}

// GetSignal returns a signal by id.
func (d *Database) GetSignal(ctx context.Context, id string) (*Signal, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, portfolio_id, symbol, side, status, position_id, execution_price, reason, created_at, updated_at
		FROM signals WHERE id = ?
	`, id)
	var s Signal
	if err := row.Scan(&s.ID, &s.PortfolioID, &s.Symbol, &s.Side, &s.Status, &s.PositionID,
		&s.ExecutionPrice, &s.Reason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("signal %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

// TransitionSignal moves a signal out of PENDING. The WHERE clause makes
// the pending->terminal transition one-way at the storage level: updating
// an already-terminal signal affects zero rows and returns ErrInvalidState.
func (d *Database) TransitionSignal(ctx context.Context, id, status, positionID string, executionPrice float64, reason string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals
		SET status = ?, position_id = ?, execution_price = ?, reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'
	`, status, positionID, executionPrice, reason, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("signal %s is not pending: %w", id, errs.ErrInvalidState)
	}
	return nil
}

// UpsertCluster writes a cluster summary row.
func (d *Database) UpsertCluster(ctx context.Context, c Cluster) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO clusters (portfolio_id, cluster_num, avg_volatility, circuit_breaker_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(portfolio_id, cluster_num) DO UPDATE SET
			avg_volatility = excluded.avg_volatility,
			circuit_breaker_active = excluded.circuit_breaker_active
	`, c.PortfolioID, c.ClusterNum, c.AvgVolatility, boolToInt(c.CircuitBreakerActive))
	return err
}

// SetClusterBreakerActive updates only the breaker flag of the cluster
// projection, creating the row if needed.
func (d *Database) SetClusterBreakerActive(ctx context.Context, portfolioID string, clusterNum int, active bool) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO clusters (portfolio_id, cluster_num, avg_volatility, circuit_breaker_active)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(portfolio_id, cluster_num) DO UPDATE SET
			circuit_breaker_active = excluded.circuit_breaker_active
	`, portfolioID, clusterNum, boolToInt(active))
	return err
}

// SetClusterMember maps a symbol into a cluster for a portfolio.
func (d *Database) SetClusterMember(ctx context.Context, portfolioID, symbol string, clusterNum int) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO cluster_members (portfolio_id, symbol, cluster_num)
		VALUES (?, ?, ?)
		ON CONFLICT(portfolio_id, symbol) DO UPDATE SET cluster_num = excluded.cluster_num
	`, portfolioID, symbol, clusterNum)
	return err
}

// ClusterForSymbol returns the cluster a symbol belongs to, or 0 when the
// symbol is unclustered.
func (d *Database) ClusterForSymbol(ctx context.Context, portfolioID, symbol string) (int, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT cluster_num FROM cluster_members WHERE portfolio_id = ? AND symbol = ?
	`, portfolioID, symbol)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// ListClusterMembers returns the symbol-to-cluster mapping for a portfolio.
func (d *Database) ListClusterMembers(ctx context.Context, portfolioID string) ([]ClusterMember, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT portfolio_id, symbol, cluster_num FROM cluster_members
		WHERE portfolio_id = ?
		ORDER BY cluster_num, symbol
	`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ClusterMember
	for rows.Next() {
		var m ClusterMember
		if err := rows.Scan(&m.PortfolioID, &m.Symbol, &m.ClusterNum); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListClusters returns cluster summaries for a portfolio.
func (d *Database) ListClusters(ctx context.Context, portfolioID string) ([]Cluster, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT portfolio_id, cluster_num, avg_volatility, circuit_breaker_active
		FROM clusters WHERE portfolio_id = ?
		ORDER BY cluster_num
	`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Cluster
	for rows.Next() {
		var c Cluster
		var active int
		if err := rows.Scan(&c.PortfolioID, &c.ClusterNum, &c.AvgVolatility, &active); err != nil {
			return nil, err
		}
		c.CircuitBreakerActive = active == 1
		res = append(res, c)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
