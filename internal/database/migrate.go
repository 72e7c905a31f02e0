package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema is written once with placeholders for the two spots where MySQL and
// SQLite disagree: the auto-increment primary key and table options.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(32) NOT NULL DEFAULT 'user',
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		email_verification_token VARCHAR(128) NULL,
		email_verification_expires BIGINT NULL,
		password_reset_token VARCHAR(128) NULL,
		password_reset_expires BIGINT NULL,
		last_login_at BIGINT NULL,
		created_by BIGINT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS oauth_accounts (
		id {{pk}},
		user_id BIGINT NOT NULL,
		provider VARCHAR(64) NOT NULL,
		provider_account_id VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (provider, provider_account_id)
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(64) PRIMARY KEY,
		user_id BIGINT NOT NULL,
		token_hash VARCHAR(128) NOT NULL UNIQUE,
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		user_agent VARCHAR(512) NOT NULL DEFAULT '',
		expires_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS api_tokens (
		id {{pk}},
		user_id BIGINT NOT NULL,
		token_hash VARCHAR(128) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		scopes TEXT NOT NULL,
		expires_at BIGINT NULL,
		last_used_at BIGINT NULL,
		created_at BIGINT NOT NULL
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS rate_limits (
		id {{pk}},
		identifier VARCHAR(255) NOT NULL,
		endpoint VARCHAR(128) NOT NULL,
		attempts INTEGER NOT NULL,
		window_start BIGINT NOT NULL,
		UNIQUE (identifier, endpoint)
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS trusted_devices (
		id {{pk}},
		user_id BIGINT NOT NULL,
		fingerprint VARCHAR(128) NOT NULL,
		device_name VARCHAR(255) NOT NULL DEFAULT '',
		user_agent VARCHAR(512) NOT NULL DEFAULT '',
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		is_trusted BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (user_id, fingerprint)
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS security_audit_logs (
		id {{pk}},
		user_id BIGINT NULL,
		action VARCHAR(64) NOT NULL,
		resource VARCHAR(255) NOT NULL DEFAULT '',
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		user_agent VARCHAR(512) NOT NULL DEFAULT '',
		device_fingerprint VARCHAR(128) NOT NULL DEFAULT '',
		details TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		created_at BIGINT NOT NULL
	){{opts}}`,
	`CREATE INDEX {{ifnotexists}}idx_audit_user_created ON security_audit_logs (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id {{pk}},
		name VARCHAR(128) NOT NULL UNIQUE,
		resource VARCHAR(64) NOT NULL,
		action VARCHAR(64) NOT NULL,
		description VARCHAR(255) NOT NULL DEFAULT ''
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS role_permissions (
		role VARCHAR(32) NOT NULL,
		permission_id BIGINT NOT NULL,
		PRIMARY KEY (role, permission_id)
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS user_permissions (
		user_id BIGINT NOT NULL,
		permission_id BIGINT NOT NULL,
		granted BOOLEAN NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, permission_id)
	){{opts}}`,
}

func render(stmt, driver string) string {
	pk, opts, ine := "INTEGER PRIMARY KEY AUTOINCREMENT", "", "IF NOT EXISTS "
	if driver == DriverMySQL {
		pk = "BIGINT PRIMARY KEY AUTO_INCREMENT"
		opts = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
		// MySQL has no CREATE INDEX IF NOT EXISTS; duplicates are ignored below.
		ine = ""
	}
	r := strings.NewReplacer("{{pk}}", pk, "{{opts}}", opts, "{{ifnotexists}}", ine)
	return r.Replace(stmt)
}

// Migrate creates every table the service needs. It is safe to run on each
// start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, render(stmt, driver)); err != nil {
			// 1061: duplicate key name on a re-run of CREATE INDEX
			if driver == DriverMySQL && strings.Contains(err.Error(), "1061") {
				continue
			}
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
