package database

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS profiles (
    id VARCHAR(64) PRIMARY KEY,
    is_legacy_user TINYINT(1) NOT NULL DEFAULT 0,
    credits_remaining DECIMAL(14,4) NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS usage_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    operation_type VARCHAR(32) NOT NULL,
    model_identifier VARCHAR(128) NOT NULL,
    cost_charged DECIMAL(14,4) NOT NULL,
    provider_cost DECIMAL(14,6) NOT NULL DEFAULT 0,
    input_description TEXT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX idx_usage_user (user_id, id),
    FOREIGN KEY (user_id) REFERENCES profiles(id)
)`, `
CREATE TABLE IF NOT EXISTS artifacts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    storage_path VARCHAR(512) NOT NULL UNIQUE,
    public_url VARCHAR(1024) NOT NULL,
    prompt_text TEXT NOT NULL,
    width INT NOT NULL DEFAULT 0,
    height INT NOT NULL DEFAULT 0,
    format VARCHAR(16) NOT NULL,
    visibility VARCHAR(16) NOT NULL DEFAULT 'private',
    operation_type VARCHAR(32) NOT NULL,
    model_identifier VARCHAR(128) NOT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX idx_artifacts_owner (owner_id, id),
    FOREIGN KEY (owner_id) REFERENCES profiles(id)
)`, `
CREATE TABLE IF NOT EXISTS vouchers (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    credits DECIMAL(14,4) NOT NULL,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS voucher_redemptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    voucher_id BIGINT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_user_voucher (user_id, voucher_id),
    FOREIGN KEY (user_id) REFERENCES profiles(id),
    FOREIGN KEY (voucher_id) REFERENCES vouchers(id) ON DELETE CASCADE
)`,
}

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    is_legacy_user INTEGER NOT NULL DEFAULT 0,
    credits_remaining DECIMAL(14,4) NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS usage_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES profiles(id),
    kind TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    model_identifier TEXT NOT NULL,
    cost_charged DECIMAL(14,4) NOT NULL,
    provider_cost DECIMAL(14,6) NOT NULL DEFAULT 0,
    input_description TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_logs(user_id, id)`, `
CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT NOT NULL REFERENCES profiles(id),
    storage_path TEXT NOT NULL UNIQUE,
    public_url TEXT NOT NULL,
    prompt_text TEXT NOT NULL,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    format TEXT NOT NULL,
    visibility TEXT NOT NULL DEFAULT 'private',
    operation_type TEXT NOT NULL,
    model_identifier TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_artifacts_owner ON artifacts(owner_id, id)`, `
CREATE TABLE IF NOT EXISTS vouchers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code TEXT NOT NULL UNIQUE,
    credits DECIMAL(14,4) NOT NULL,
    max_uses INTEGER NOT NULL,
    uses INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS voucher_redemptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES profiles(id),
    voucher_id INTEGER NOT NULL REFERENCES vouchers(id) ON DELETE CASCADE,
    created_at DATETIME NOT NULL,
    UNIQUE (user_id, voucher_id)
)`,
}
