package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS portfolios (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    total_value_usd REAL NOT NULL,
    realized_pnl REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_parameters (
    portfolio_id TEXT PRIMARY KEY,
    max_position_size_pct REAL NOT NULL,
    max_daily_loss_pct REAL NOT NULL,
    max_portfolio_heat_pct REAL NOT NULL,
    circuit_breaker_enabled INTEGER DEFAULT 1,
    circuit_breaker_triggered INTEGER DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(portfolio_id) REFERENCES portfolios(id)
);

CREATE TABLE IF NOT EXISTS circuit_breakers (
    portfolio_id TEXT NOT NULL,
    scope TEXT NOT NULL,
    triggered INTEGER NOT NULL DEFAULT 0,
    triggered_at DATETIME,
    cooldown_until DATETIME,
    loss_in_r REAL NOT NULL DEFAULT 0,
    reason TEXT DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY(portfolio_id, scope)
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    portfolio_id TEXT NOT NULL,
    parent_order_id TEXT DEFAULT '',
    exchange_order_id TEXT DEFAULT '',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL DEFAULT 0,
    stop_price REAL DEFAULT 0,
    status TEXT NOT NULL,
    filled_qty REAL DEFAULT 0,
    avg_fill_price REAL DEFAULT 0,
    signal_id TEXT DEFAULT '',
    atr REAL DEFAULT 0,
    sl_mult REAL DEFAULT 0,
    tp1_mult REAL DEFAULT 0,
    tp2_mult REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_orders_portfolio ON orders(portfolio_id, status);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    portfolio_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    stop_loss REAL DEFAULT 0,
    take_profit REAL DEFAULT 0,
    risk_usd REAL DEFAULT 0,
    unrealized_pnl REAL DEFAULT 0,
    cluster_num INTEGER DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'OPEN',
    opened_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id, status);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    portfolio_id TEXT NOT NULL,
    position_id TEXT DEFAULT '',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    fee REAL DEFAULT 0,
    pnl REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_portfolio ON trades(portfolio_id, created_at);

CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    portfolio_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    position_id TEXT DEFAULT '',
    execution_price REAL DEFAULT 0,
    reason TEXT DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS clusters (
    portfolio_id TEXT NOT NULL,
    cluster_num INTEGER NOT NULL,
    avg_volatility REAL DEFAULT 0,
    circuit_breaker_active INTEGER DEFAULT 0,
    PRIMARY KEY(portfolio_id, cluster_num)
);

CREATE TABLE IF NOT EXISTS cluster_members (
    portfolio_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    cluster_num INTEGER NOT NULL,
    PRIMARY KEY(portfolio_id, symbol)
);
`

// InitSchema creates all tables if they do not exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
