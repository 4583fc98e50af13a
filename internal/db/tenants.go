package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

const tenantColumns = `id, name, subdomain, virtual_host, network_code, key_names, naming_templates, is_active, created_at`

// CreateTenant inserts a tenant. Subdomain and virtual host are unique.
func (s *Store) CreateTenant(ctx context.Context, t models.Tenant) error {
	keyNames, err := json.Marshal(t.KeyNames)
	if err != nil {
		return fmt.Errorf("marshal key names: %w", err)
	}
	templates, err := json.Marshal(t.NamingTemplates)
	if err != nil {
		return fmt.Errorf("marshal naming templates: %w", err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Subdomain, nullString(t.VirtualHost), t.NetworkCode,
		string(keyNames), string(templates), t.IsActive, t.CreatedAt.UTC())
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("tenant %s: %w", t.ID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// GetTenant looks a tenant up by its identifier.
func (s *Store) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	return s.getTenant(ctx, `id = $1`, id)
}

// GetTenantByVirtualHost looks a tenant up by exact virtual host.
func (s *Store) GetTenantByVirtualHost(ctx context.Context, host string) (models.Tenant, error) {
	if host == "" {
		return models.Tenant{}, models.ErrNotFound
	}
	return s.getTenant(ctx, `virtual_host = $1`, host)
}

// GetTenantBySubdomain looks a tenant up by subdomain.
func (s *Store) GetTenantBySubdomain(ctx context.Context, subdomain string) (models.Tenant, error) {
	return s.getTenant(ctx, `subdomain = $1`, subdomain)
}

func (s *Store) getTenant(ctx context.Context, where string, arg string) (models.Tenant, error) {
	var (
		t           models.Tenant
		virtualHost sql.NullString
		keyNames    string
		templates   string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE `+where, arg).
		Scan(&t.ID, &t.Name, &t.Subdomain, &virtualHost, &t.NetworkCode, &keyNames, &templates, &t.IsActive, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tenant{}, models.ErrNotFound
	}
	if err != nil {
		return models.Tenant{}, fmt.Errorf("query tenant: %w", err)
	}
	t.VirtualHost = virtualHost.String
	if err := json.Unmarshal([]byte(keyNames), &t.KeyNames); err != nil {
		return models.Tenant{}, fmt.Errorf("decode key names for tenant %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(templates), &t.NamingTemplates); err != nil {
		return models.Tenant{}, fmt.Errorf("decode naming templates for tenant %s: %w", t.ID, err)
	}
	return t, nil
}

// CreatePrincipal inserts a principal. TokenHash must already be hashed.
func (s *Store) CreatePrincipal(ctx context.Context, p models.Principal) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO principals (id, tenant_id, name, token_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.TenantID, p.Name, p.TokenHash, p.CreatedAt.UTC())
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("principal %s: %w", p.ID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

// GetPrincipalByTokenHash returns the principal owning the hashed token.
func (s *Store) GetPrincipalByTokenHash(ctx context.Context, hash string) (models.Principal, error) {
	var p models.Principal
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, token_hash, created_at FROM principals WHERE token_hash = $1`, hash).
		Scan(&p.ID, &p.TenantID, &p.Name, &p.TokenHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Principal{}, models.ErrNotFound
	}
	if err != nil {
		return models.Principal{}, fmt.Errorf("query principal: %w", err)
	}
	return p, nil
}
