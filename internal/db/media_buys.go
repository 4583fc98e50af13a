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

// CreateMediaBuy inserts a media buy and its packages in one transaction.
func (s *Store) CreateMediaBuy(ctx context.Context, mb models.MediaBuy) error {
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = time.Now()
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO media_buys (id, tenant_id, principal_id, buyer_ref, campaign_name, promoted_offering,
		 order_name, order_id, status, start_time, end_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		mb.ID, mb.TenantID, mb.PrincipalID, mb.BuyerRef, mb.CampaignName, mb.PromotedOffering,
		mb.OrderName, mb.OrderID, string(mb.Status), mb.StartTime.UTC(), mb.EndTime.UTC(), mb.CreatedAt.UTC())
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("media buy %s: %w", mb.ID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("insert media buy: %w", err)
	}

	for i, p := range mb.Packages {
		targeting, err := json.Marshal(p.Targeting)
		if err != nil {
			return fmt.Errorf("marshal targeting for package %s: %w", p.ID, err)
		}
		dimensions, err := json.Marshal(p.Dimensions)
		if err != nil {
			return fmt.Errorf("marshal dimensions for package %s: %w", p.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO media_buy_packages (media_buy_id, id, position, product_name, line_item_name, targeting, dimensions)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			mb.ID, p.ID, i, p.ProductName, p.LineItemName, string(targeting), string(dimensions))
		if err != nil {
			if s.isUniqueViolation(err) {
				return fmt.Errorf("package %s: %w", p.ID, models.ErrAlreadyExists)
			}
			return fmt.Errorf("insert package: %w", err)
		}
	}
	return tx.Commit()
}

// GetMediaBuy returns the tenant's media buy with its packages.
func (s *Store) GetMediaBuy(ctx context.Context, tenantID, id string) (models.MediaBuy, error) {
	var (
		mb     models.MediaBuy
		status string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, tenant_id, principal_id, buyer_ref, campaign_name, promoted_offering,
		 order_name, order_id, status, start_time, end_time, created_at
		 FROM media_buys WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&mb.ID, &mb.TenantID, &mb.PrincipalID, &mb.BuyerRef, &mb.CampaignName, &mb.PromotedOffering,
			&mb.OrderName, &mb.OrderID, &status, &mb.StartTime, &mb.EndTime, &mb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MediaBuy{}, models.ErrNotFound
	}
	if err != nil {
		return models.MediaBuy{}, fmt.Errorf("query media buy: %w", err)
	}
	mb.Status = models.MediaBuyStatus(status)

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, product_name, line_item_name, targeting, dimensions FROM media_buy_packages
		 WHERE media_buy_id = $1 ORDER BY position`, id)
	if err != nil {
		return models.MediaBuy{}, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p          models.Package
			targeting  string
			dimensions string
		)
		if err := rows.Scan(&p.ID, &p.ProductName, &p.LineItemName, &targeting, &dimensions); err != nil {
			return models.MediaBuy{}, fmt.Errorf("scan package: %w", err)
		}
		if err := json.Unmarshal([]byte(targeting), &p.Targeting); err != nil {
			return models.MediaBuy{}, fmt.Errorf("decode targeting for package %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(dimensions), &p.Dimensions); err != nil {
			return models.MediaBuy{}, fmt.Errorf("decode dimensions for package %s: %w", p.ID, err)
		}
		p.MediaBuyID = id
		mb.Packages = append(mb.Packages, p)
	}
	return mb, rows.Err()
}

// UpdateMediaBuyOrder records the ad server order and the buy's status.
func (s *Store) UpdateMediaBuyOrder(ctx context.Context, tenantID, id, orderName, orderID string, status models.MediaBuyStatus) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE media_buys SET order_name = $1, order_id = $2, status = $3 WHERE tenant_id = $4 AND id = $5`,
		orderName, orderID, string(status), tenantID, id)
	if err != nil {
		return fmt.Errorf("update media buy: %w", err)
	}
	return expectOneRow(res)
}

// UpdatePackageLineItem records the line item name applied for a package.
func (s *Store) UpdatePackageLineItem(ctx context.Context, tenantID, mediaBuyID, packageID, lineItemName string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE media_buy_packages SET line_item_name = $1
		 WHERE media_buy_id = $2 AND id = $3
		 AND EXISTS (SELECT 1 FROM media_buys WHERE id = $2 AND tenant_id = $4)`,
		lineItemName, mediaBuyID, packageID, tenantID)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	return expectOneRow(res)
}

// CreateCreative registers a tenant-owned creative.
func (s *Store) CreateCreative(ctx context.Context, c models.Creative) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO creatives (tenant_id, id, name, format, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.TenantID, c.ID, c.Name, c.Format, c.CreatedAt.UTC())
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("creative %s: %w", c.ID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("insert creative: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
