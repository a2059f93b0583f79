package app

import "blockmine.pro/mining-bot/internal/db/postgres"

// Migrations: схема БД. SQL встроен в код для упрощения деплоя.
var Migrations = []postgres.Migration{
	{Version: 1, Name: "users", SQL: migration001Users},
	{Version: 2, Name: "packages", SQL: migration002Packages},
	{Version: 3, Name: "deposits_withdrawals", SQL: migration003Requests},
	{Version: 4, Name: "transactions", SQL: migration004Transactions},
	{Version: 5, Name: "settings", SQL: migration005Settings},
	{Version: 6, Name: "admin", SQL: migration006Admin},
	{Version: 7, Name: "stakes", SQL: migration007Stakes},
}

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    username VARCHAR(255) NOT NULL DEFAULT '',
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    balance_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
    bonus_balance_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
    earnings_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
    bmt_balance NUMERIC(24,8) NOT NULL DEFAULT 0,
    is_frozen BOOLEAN NOT NULL DEFAULT FALSE,
    welcome_bonus_redeemed BOOLEAN NOT NULL DEFAULT FALSE,
    referral_code VARCHAR(32) NOT NULL DEFAULT '',
    own_referral_code VARCHAR(32) UNIQUE NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT users_balances_non_negative
        CHECK (balance_usd >= 0 AND bonus_balance_usd >= 0 AND bmt_balance >= 0)
);
CREATE INDEX IF NOT EXISTS idx_users_referral_code ON users(referral_code);
`

var migration002Packages = `
CREATE TABLE IF NOT EXISTS packages (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    price_usd NUMERIC(18,2) NOT NULL,
    mining_power NUMERIC(18,4) NOT NULL,
    duration_days INTEGER NOT NULL,
    earning_rate NUMERIC(18,6),
    bmt_reward NUMERIC(24,8) NOT NULL DEFAULT 0,
    is_listed BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS mining_purchases (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    package_id BIGINT NOT NULL,
    purchase_date TIMESTAMPTZ NOT NULL,
    duration_days INTEGER NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    earnings_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
    principal_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
    principal_refunded BOOLEAN NOT NULL DEFAULT FALSE,
    accrued_through TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_mining_purchases_user_id ON mining_purchases(user_id);
CREATE INDEX IF NOT EXISTS idx_mining_purchases_active ON mining_purchases(user_id) WHERE is_active;
`

var migration003Requests = `
CREATE TABLE IF NOT EXISTS deposits (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    amount_usd NUMERIC(18,2) NOT NULL,
    coin VARCHAR(16) NOT NULL,
    network VARCHAR(64) NOT NULL DEFAULT '',
    expected_coin_amount NUMERIC(30,8) NOT NULL DEFAULT 0,
    quote_rate NUMERIC(30,8) NOT NULL DEFAULT 0,
    tx_hash VARCHAR(255) NOT NULL DEFAULT '',
    confirmations INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL,
    source VARCHAR(16) NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status, id);
CREATE TABLE IF NOT EXISTS withdrawals (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    amount_usd NUMERIC(18,2) NOT NULL,
    method VARCHAR(16) NOT NULL,
    details TEXT NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status, id);
`

var migration004Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    seq BIGSERIAL,
    user_id BIGINT NOT NULL REFERENCES users(id),
    kind VARCHAR(32) NOT NULL,
    wallet VARCHAR(16) NOT NULL,
    amount_usd NUMERIC(18,2) NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    ref VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_seq ON transactions(user_id, seq DESC);
`

var migration005Settings = `
CREATE TABLE IF NOT EXISTS settings (
    id BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
    stake_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    swap_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    bmt_price_usd NUMERIC(18,4) NOT NULL DEFAULT 0,
    deposit_addresses JSONB NOT NULL DEFAULT '{}',
    last_mining_earnings_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
INSERT INTO settings (id) VALUES (TRUE) ON CONFLICT (id) DO NOTHING;
`

var migration006Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    session_token VARCHAR(255) UNIQUE,
    authenticated_at TIMESTAMPTZ DEFAULT NOW(),
    expires_at TIMESTAMPTZ,
    last_activity TIMESTAMPTZ DEFAULT NOW(),
    is_active BOOLEAN DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_user_id ON admin_sessions(user_id);
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    attempt_time TIMESTAMPTZ DEFAULT NOW(),
    success BOOLEAN DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_user ON admin_login_attempts(user_id, attempt_time);
`

var migration007Stakes = `
CREATE TABLE IF NOT EXISTS stakes (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    amount NUMERIC(24,8) NOT NULL CHECK (amount > 0),
    daily_reward NUMERIC(24,8) NOT NULL,
    lock_days INTEGER NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    unlock_at TIMESTAMPTZ NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    refunded BOOLEAN NOT NULL DEFAULT FALSE,
    credited BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_stakes_user_id ON stakes(user_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_stakes_due ON stakes(unlock_at) WHERE is_active;
`
