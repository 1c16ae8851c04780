package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS client_state (
    state_key VARCHAR(64) NOT NULL PRIMARY KEY,
    state_value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS payment_orders (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    order_id VARCHAR(64) NOT NULL UNIQUE,
    plan_id VARCHAR(32) NOT NULL DEFAULT '',
    amount INT NOT NULL DEFAULT 0,
    currency VARCHAR(8) NOT NULL DEFAULT '',
    payment_id VARCHAR(64),
    signature VARCHAR(255),
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_payment_orders_status (status)
)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    prompt TEXT NOT NULL,
    image MEDIUMTEXT NOT NULL,
    archive_url VARCHAR(512),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
}
