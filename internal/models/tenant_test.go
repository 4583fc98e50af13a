package models

import "testing"

func TestTenantContext_RoleForKey(t *testing.T) {
	tc := &TenantContext{TenantID: "t1", Tenant: Tenant{
		ID: "t1",
		KeyNames: map[LogicalRole]string{
			RoleAudienceSegment: "acme_aud",
			"sport_team":        "acme_team",
		},
	}}
	tests := []struct {
		key  string
		role LogicalRole
		ok   bool
	}{
		{"audience", RoleAudienceSegment, true},
		{"audience_segment", RoleAudienceSegment, true},
		{"genre", RoleContentCategory, true},
		{"acme_aud", RoleAudienceSegment, true},
		{"sport_team", "sport_team", true},
		{"acme_team", "sport_team", true},
		{"content_category", RoleContentCategory, true},
		// overridden by the tenant, so the default name no longer binds
		{"axe_segment", "", false},
		{"junk_1", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		role, ok := tc.RoleForKey(tt.key)
		if role != tt.role || ok != tt.ok {
			t.Errorf("RoleForKey(%q) = %q, %v; want %q, %v", tt.key, role, ok, tt.role, tt.ok)
		}
	}

	var missing *TenantContext
	if _, ok := missing.RoleForKey("audience"); ok {
		t.Errorf("nil context resolved a role")
	}
}

func TestTenantContext_RoleForKeyDefaultName(t *testing.T) {
	tc := &TenantContext{TenantID: "t1"}
	role, ok := tc.RoleForKey("axe_segment")
	if !ok || role != RoleAudienceSegment {
		t.Errorf("got %q, %v", role, ok)
	}
}
