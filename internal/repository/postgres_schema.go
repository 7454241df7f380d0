package repository

// PostgresSchema is applied at start-up; every statement is idempotent.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS positions (
        id             TEXT PRIMARY KEY,
        symbol         TEXT NOT NULL,
        strategy_name  TEXT NOT NULL,
        side           TEXT NOT NULL CHECK (side IN ('long','short')),
        status         TEXT NOT NULL CHECK (status IN ('OPEN','CLOSED')),
        entry_price    DOUBLE PRECISION NOT NULL,
        exit_price     DOUBLE PRECISION,
        quantity       DOUBLE PRECISION NOT NULL,
        current_price  DOUBLE PRECISION NOT NULL,
        pnl            DOUBLE PRECISION,
        phase_at_entry INTEGER NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL,
        updated_at     TIMESTAMPTZ NOT NULL,
        closed_at      TIMESTAMPTZ
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_positions_open
        ON positions (symbol, strategy_name) WHERE status = 'OPEN'`,
	`CREATE INDEX IF NOT EXISTS ix_positions_created ON positions (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS trades (
        id           TEXT PRIMARY KEY,
        position_id  TEXT NOT NULL REFERENCES positions(id),
        is_entry     BOOLEAN NOT NULL,
        symbol       TEXT NOT NULL,
        side         TEXT NOT NULL CHECK (side IN ('buy','sell')),
        quantity     DOUBLE PRECISION NOT NULL,
        price        DOUBLE PRECISION NOT NULL,
        realized_pnl DOUBLE PRECISION,
        order_id     TEXT,
        executed_at  TIMESTAMPTZ NOT NULL
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_trades_leg ON trades (position_id, is_entry)`,
	`CREATE TABLE IF NOT EXISTS fused_decisions (
        id                   TEXT PRIMARY KEY,
        symbol               TEXT NOT NULL,
        strategy_name        TEXT NOT NULL,
        technical_action     TEXT NOT NULL,
        technical_confidence DOUBLE PRECISION NOT NULL,
        sentiment_score      DOUBLE PRECISION,
        sentiment_confidence DOUBLE PRECISION,
        markov_state         TEXT,
        markov_confidence    DOUBLE PRECISION,
        combined_confidence  DOUBLE PRECISION NOT NULL,
        final_action         TEXT NOT NULL,
        conflict             BOOLEAN NOT NULL,
        confidence_boost     DOUBLE PRECISION NOT NULL,
        reason               TEXT NOT NULL,
        phase                INTEGER NOT NULL,
        signal_time          TIMESTAMPTZ NOT NULL,
        executed             BOOLEAN NOT NULL DEFAULT FALSE,
        execution_time       TIMESTAMPTZ,
        execution_error      TEXT
    )`,
	`CREATE INDEX IF NOT EXISTS ix_decisions_symbol_time ON fused_decisions (symbol, signal_time DESC)`,
	`CREATE TABLE IF NOT EXISTS instances (
        id             TEXT PRIMARY KEY,
        name           TEXT NOT NULL,
        status         TEXT NOT NULL,
        last_sync      TIMESTAMPTZ,
        last_heartbeat TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS consolidated_records (
        instance_id  TEXT NOT NULL,
        original_id  TEXT NOT NULL,
        record_kind  TEXT NOT NULL,
        symbol       TEXT NOT NULL,
        action       TEXT,
        score        DOUBLE PRECISION,
        confidence   DOUBLE PRECISION,
        completeness DOUBLE PRECISION,
        status       TEXT,
        pnl          DOUBLE PRECISION,
        payload      JSONB,
        data_hash    TEXT NOT NULL,
        collected_at TIMESTAMPTZ NOT NULL,
        last_updated TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (instance_id, original_id, record_kind)
    )`,
	`CREATE INDEX IF NOT EXISTS ix_consolidated_symbol_updated
        ON consolidated_records (symbol, last_updated DESC)`,
}
