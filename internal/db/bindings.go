package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// GetBinding returns the tenant's binding for role.
func (s *Store) GetBinding(ctx context.Context, tenantID string, role models.LogicalRole) (models.CustomTargetingKeyBinding, error) {
	var (
		b     models.CustomTargetingKeyBinding
		keyID string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT tenant_id, logical_role, external_key_name, external_key_id, created_at
		 FROM custom_targeting_keys WHERE tenant_id = $1 AND logical_role = $2`,
		tenantID, string(role)).
		Scan(&b.TenantID, &b.Role, &b.ExternalKeyName, &keyID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CustomTargetingKeyBinding{}, models.ErrNotFound
	}
	if err != nil {
		return models.CustomTargetingKeyBinding{}, fmt.Errorf("query binding: %w", err)
	}
	b.ExternalKeyID = models.ExternalKeyID(keyID)
	return b, nil
}

// CreateBinding inserts a binding. A second binding for the same
// (tenant, role) fails with models.ErrAlreadyExists; the primary key is the
// arbiter between concurrent creators.
func (s *Store) CreateBinding(ctx context.Context, b models.CustomTargetingKeyBinding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO custom_targeting_keys (tenant_id, logical_role, external_key_name, external_key_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.TenantID, string(b.Role), b.ExternalKeyName, string(b.ExternalKeyID), b.CreatedAt.UTC())
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("binding %s/%s: %w", b.TenantID, b.Role, models.ErrAlreadyExists)
		}
		return fmt.Errorf("insert binding: %w", err)
	}
	return nil
}

// CountBindings returns how many bindings the tenant has.
func (s *Store) CountBindings(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM custom_targeting_keys WHERE tenant_id = $1`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bindings: %w", err)
	}
	return n, nil
}
