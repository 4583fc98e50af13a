package models

import "time"

// MediaBuyStatus tracks a media buy through creation.
type MediaBuyStatus string

const (
	MediaBuyPending MediaBuyStatus = "pending"
	MediaBuyActive  MediaBuyStatus = "active"
	// MediaBuyPartial means some packages have line items and others failed.
	MediaBuyPartial MediaBuyStatus = "partial"
	MediaBuyFailed  MediaBuyStatus = "failed"
)

// MediaBuy is a buyer's purchased campaign, composed of packages.
type MediaBuy struct {
	ID               string         `json:"media_buy_id"`
	TenantID         string         `json:"tenant_id"`
	PrincipalID      string         `json:"principal_id,omitempty"`
	BuyerRef         string         `json:"buyer_ref,omitempty"`
	CampaignName     string         `json:"campaign_name,omitempty"`
	PromotedOffering string         `json:"promoted_offering,omitempty"`
	OrderName        string         `json:"order_name,omitempty"`
	OrderID          string         `json:"order_id,omitempty"`
	Status           MediaBuyStatus `json:"status"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
	CreatedAt        time.Time      `json:"created_at"`
	Packages         []Package      `json:"packages,omitempty"`
}

// Package is a line-item-like unit within a media buy.
type Package struct {
	ID           string              `json:"package_id"`
	MediaBuyID   string              `json:"media_buy_id"`
	ProductName  string              `json:"product_name,omitempty"`
	LineItemName string              `json:"line_item_name,omitempty"`
	Targeting    TargetingExpression `json:"targeting"`
	// Dimensions holds targeting outside custom key-values, such as geo
	// country codes, keyed by ad server dimension name.
	Dimensions map[string][]string `json:"dimensions,omitempty"`
}
