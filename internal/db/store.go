package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// Store is the persistence layer for tenants, key bindings, media buys,
// creative assignments and workflow runs. Every tenant-owned query is
// filtered by tenant_id.
type Store struct {
	DB      *sql.DB
	dialect dialect
}

// schemaSQL is written in the subset shared by Postgres and SQLite.
const schemaSQL = `CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    subdomain TEXT NOT NULL UNIQUE,
    virtual_host TEXT UNIQUE,
    network_code TEXT NOT NULL DEFAULT '',
    key_names TEXT NOT NULL DEFAULT '{}',
    naming_templates TEXT NOT NULL DEFAULT '{}',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS principals (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    name TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS custom_targeting_keys (
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    logical_role TEXT NOT NULL,
    external_key_name TEXT NOT NULL,
    external_key_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, logical_role)
);

CREATE TABLE IF NOT EXISTS creatives (
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    format TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS media_buys (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    principal_id TEXT NOT NULL DEFAULT '',
    buyer_ref TEXT NOT NULL DEFAULT '',
    campaign_name TEXT NOT NULL DEFAULT '',
    promoted_offering TEXT NOT NULL DEFAULT '',
    order_name TEXT NOT NULL DEFAULT '',
    order_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS media_buy_packages (
    media_buy_id TEXT NOT NULL REFERENCES media_buys(id),
    id TEXT NOT NULL,
    position INTEGER NOT NULL,
    product_name TEXT NOT NULL DEFAULT '',
    line_item_name TEXT NOT NULL DEFAULT '',
    targeting TEXT NOT NULL DEFAULT '{}',
    dimensions TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (media_buy_id, id)
);

CREATE TABLE IF NOT EXISTS creative_assignments (
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    media_buy_id TEXT NOT NULL,
    package_id TEXT NOT NULL,
    creative_id TEXT NOT NULL,
    assigned_at TIMESTAMP NOT NULL,
    PRIMARY KEY (media_buy_id, package_id, creative_id),
    FOREIGN KEY (media_buy_id, package_id) REFERENCES media_buy_packages(media_buy_id, id)
);

CREATE TABLE IF NOT EXISTS workflow_runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    media_buy_id TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_steps (
    run_id TEXT NOT NULL REFERENCES workflow_runs(id),
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NULL,
    finished_at TIMESTAMP NULL,
    PRIMARY KEY (run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_principals_tenant_id ON principals (tenant_id);
CREATE INDEX IF NOT EXISTS idx_media_buys_tenant_id ON media_buys (tenant_id);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_tenant_media_buy ON workflow_runs (tenant_id, media_buy_id);
`

// ensureSchema creates the required tables if they do not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close terminates the database connection.
func (s *Store) Close() {
	if s != nil && s.DB != nil {
		if err := s.DB.Close(); err != nil {
			zap.L().Error("store close", zap.Error(err))
		}
	}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// forUpdate returns the row-locking clause where the dialect supports it.
// SQLite serializes writers on its single connection.
func (s *Store) forUpdate() string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
