package models

import (
	"context"
	"time"
)

// Creative is a tenant-owned creative that can be attached to packages.
type Creative struct {
	ID        string    `json:"creative_id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
}

// CreativeAssignment attaches one creative to one package of one media buy.
// Unique per (MediaBuyID, PackageID, CreativeID).
type CreativeAssignment struct {
	TenantID   string    `json:"tenant_id"`
	MediaBuyID string    `json:"media_buy_id"`
	PackageID  string    `json:"package_id"`
	CreativeID string    `json:"creative_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// AssignmentDiff is the transient result of reconciling one package.
type AssignmentDiff struct {
	PackageID string   `json:"package_id"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Current   []string `json:"current"`
}

// CreativeIDChanges is the creative_ids block of a package response.
type CreativeIDChanges struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Current []string `json:"current"`
}

// ChangesApplied is the changes_applied block of a package response.
type ChangesApplied struct {
	CreativeIDs CreativeIDChanges `json:"creative_ids"`
}

// ChangesApplied renders the diff in the protocol envelope shape.
func (d AssignmentDiff) ChangesApplied() ChangesApplied {
	return ChangesApplied{CreativeIDs: CreativeIDChanges{
		Added:   nonNil(d.Added),
		Removed: nonNil(d.Removed),
		Current: nonNil(d.Current),
	}}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// AssignmentTx is a transaction scoped to one package's creative
// assignments. CurrentCreativeIDs locks the rows it reads where the
// database supports it.
type AssignmentTx interface {
	CurrentCreativeIDs(ctx context.Context) ([]string, error)
	DeleteAssignments(ctx context.Context, creativeIDs []string) error
	InsertAssignments(ctx context.Context, creativeIDs []string, at time.Time) error
}
