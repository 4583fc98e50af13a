package models

import "time"

// Tenant is one publisher account and the unit of data isolation.
type Tenant struct {
	ID          string `json:"tenant_id"`
	Name        string `json:"name"`
	Subdomain   string `json:"subdomain"`
	VirtualHost string `json:"virtual_host,omitempty"`
	// NetworkCode identifies the tenant's account on the foreign ad server.
	NetworkCode string `json:"network_code"`
	// KeyNames overrides the external custom targeting key name per logical role.
	KeyNames        map[LogicalRole]string `json:"key_names,omitempty"`
	NamingTemplates NamingTemplates        `json:"naming_templates"`
	IsActive        bool                   `json:"is_active"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Principal is an API caller bound to exactly one tenant.
type Principal struct {
	ID        string    `json:"principal_id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ResolutionSource records which request signal identified the tenant.
type ResolutionSource string

const (
	SourceVirtualHost    ResolutionSource = "virtual_host"
	SourceHostHeader     ResolutionSource = "host_header"
	SourceExplicitHeader ResolutionSource = "explicit_header"
)

// TenantContext is created once per inbound request and passed explicitly
// through every tenant-scoped call. It is never stored outside the call stack.
type TenantContext struct {
	TenantID    string
	Source      ResolutionSource
	VirtualHost string
	ResolvedAt  time.Time
	PrincipalID string
	Tenant      Tenant
}

// RequireTenant fails when tc is absent or unresolved.
func RequireTenant(tc *TenantContext) error {
	if tc == nil || tc.TenantID == "" {
		return ErrMissingTenantContext
	}
	return nil
}

// KeyName returns the tenant's configured external key name for role, or def.
func (tc *TenantContext) KeyName(role LogicalRole, def string) string {
	if tc != nil {
		if name := tc.Tenant.KeyNames[role]; name != "" {
			return name
		}
	}
	return def
}

// RoleForKey returns the logical role a buyer's targeting key binds to for
// this tenant: a built-in alias, a role the tenant configured a key name
// for, or the external key name of one of those roles. Other keys are
// unbound and must never create ad server keys.
func (tc *TenantContext) RoleForKey(key string) (LogicalRole, bool) {
	if tc == nil || key == "" {
		return "", false
	}
	if role, ok := DefaultKeyRoles[key]; ok {
		return role, true
	}
	if _, ok := tc.Tenant.KeyNames[LogicalRole(key)]; ok {
		return LogicalRole(key), true
	}
	for role, name := range tc.Tenant.KeyNames {
		if name == key {
			return role, true
		}
	}
	for role, name := range DefaultKeyNames {
		if name == key && tc.Tenant.KeyNames[role] == "" {
			return role, true
		}
	}
	return "", false
}
