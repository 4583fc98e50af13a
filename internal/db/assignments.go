package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// MissingCreatives returns the ids in ids that are not creatives of the tenant.
func (s *Store) MissingCreatives(ctx context.Context, tenantID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM creatives WHERE tenant_id = $1 AND id IN (`+placeholders(2, len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query creatives: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan creative: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	return missing, nil
}

// ListAssignments returns the creative ids assigned to a package, sorted.
func (s *Store) ListAssignments(ctx context.Context, tenantID, mediaBuyID, packageID string) ([]string, error) {
	return queryCreativeIDs(ctx, s.DB, tenantID, mediaBuyID, packageID, "")
}

// InPackageTx runs fn in a transaction scoped to one package. The package
// must belong to a media buy of the tenant, otherwise models.ErrNotFound is
// returned without calling fn. The transaction commits only when fn
// returns nil.
func (s *Store) InPackageTx(ctx context.Context, tenantID, mediaBuyID, packageID string, fn func(models.AssignmentTx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM media_buy_packages p JOIN media_buys m ON m.id = p.media_buy_id
		 WHERE m.tenant_id = $1 AND p.media_buy_id = $2 AND p.id = $3`+s.forUpdate(),
		tenantID, mediaBuyID, packageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock package: %w", err)
	}

	if err := fn(&packageTx{tx: tx, store: s, tenantID: tenantID, mediaBuyID: mediaBuyID, packageID: packageID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type packageTx struct {
	tx         *sql.Tx
	store      *Store
	tenantID   string
	mediaBuyID string
	packageID  string
}

func (p *packageTx) CurrentCreativeIDs(ctx context.Context) ([]string, error) {
	return queryCreativeIDs(ctx, p.tx, p.tenantID, p.mediaBuyID, p.packageID, p.store.forUpdate())
}

func (p *packageTx) DeleteAssignments(ctx context.Context, creativeIDs []string) error {
	if len(creativeIDs) == 0 {
		return nil
	}
	args := []any{p.tenantID, p.mediaBuyID, p.packageID}
	for _, id := range creativeIDs {
		args = append(args, id)
	}
	_, err := p.tx.ExecContext(ctx,
		`DELETE FROM creative_assignments WHERE tenant_id = $1 AND media_buy_id = $2 AND package_id = $3
		 AND creative_id IN (`+placeholders(4, len(creativeIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	return nil
}

func (p *packageTx) InsertAssignments(ctx context.Context, creativeIDs []string, at time.Time) error {
	for _, id := range creativeIDs {
		_, err := p.tx.ExecContext(ctx,
			`INSERT INTO creative_assignments (tenant_id, media_buy_id, package_id, creative_id, assigned_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			p.tenantID, p.mediaBuyID, p.packageID, id, at.UTC())
		if err != nil {
			if p.store.isUniqueViolation(err) {
				return fmt.Errorf("assignment %s: %w", id, models.ErrAlreadyExists)
			}
			return fmt.Errorf("insert assignment: %w", err)
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryCreativeIDs(ctx context.Context, q querier, tenantID, mediaBuyID, packageID, lock string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT creative_id FROM creative_assignments
		 WHERE tenant_id = $1 AND media_buy_id = $2 AND package_id = $3`+lock,
		tenantID, mediaBuyID, packageID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}
