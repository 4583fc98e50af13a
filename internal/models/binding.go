package models

import "time"

// LogicalRole names what a custom targeting key represents for a tenant,
// independent of the key's external name.
type LogicalRole string

const (
	RoleAudienceSegment LogicalRole = "audience_segment"
	RoleContentCategory LogicalRole = "content_category"
)

// DefaultKeyNames maps built-in roles to the external key name used when a
// tenant has not configured one.
var DefaultKeyNames = map[LogicalRole]string{
	RoleAudienceSegment: "axe_segment",
	RoleContentCategory: "content_category",
}

// DefaultKeyRoles maps the targeting keys buyers send to the logical role
// they target.
var DefaultKeyRoles = map[string]LogicalRole{
	"audience":                  RoleAudienceSegment,
	string(RoleAudienceSegment): RoleAudienceSegment,
	"genre":                     RoleContentCategory,
	string(RoleContentCategory): RoleContentCategory,
}

// ExternalKeyID identifies a custom targeting key in the foreign ad server.
type ExternalKeyID string

// CustomTargetingKeyBinding links a tenant's logical role to the ad server
// key object. Unique per (TenantID, Role).
type CustomTargetingKeyBinding struct {
	TenantID        string        `json:"tenant_id"`
	Role            LogicalRole   `json:"logical_role"`
	ExternalKeyName string        `json:"external_key_name"`
	ExternalKeyID   ExternalKeyID `json:"external_key_id"`
	CreatedAt       time.Time     `json:"created_at"`
}
