package mediabuy

import (
	"errors"
	"time"

	"github.com/adcontextprotocol/salesagent/internal/adserver"
	"github.com/adcontextprotocol/salesagent/internal/models"
)

// PackageRequest describes one package of a new media buy.
type PackageRequest struct {
	PackageID   string                      `json:"package_id" validate:"required,max=128"`
	ProductName string                      `json:"product_name" validate:"max=255"`
	Targeting   *models.TargetingExpression `json:"targeting,omitempty"`
	// Dimensions carries non key-value targeting, e.g. {"geo": ["US"]}.
	Dimensions  map[string][]string `json:"dimensions,omitempty" validate:"omitempty,dive,keys,required,endkeys,min=1,dive,required"`
	CreativeIDs []string            `json:"creative_ids,omitempty" validate:"omitempty,dive,required"`
}

// CreateRequest is the create_media_buy payload.
type CreateRequest struct {
	BuyerRef         string           `json:"buyer_ref" validate:"max=255"`
	CampaignName     string           `json:"campaign_name" validate:"max=255"`
	PromotedOffering string           `json:"promoted_offering" validate:"max=255"`
	StartTime        time.Time        `json:"start_time" validate:"required"`
	EndTime          time.Time        `json:"end_time" validate:"required,gtfield=StartTime"`
	Packages         []PackageRequest `json:"packages" validate:"required,min=1,dive"`
}

// PackageUpdate is the requested creative set of one package. The set
// replaces the current one, so CreativeIDs must be present; an empty list
// removes every creative.
type PackageUpdate struct {
	PackageID   string   `json:"package_id" validate:"required"`
	CreativeIDs []string `json:"creative_ids" validate:"required,dive,required"`
}

// ErrCreativeIDsRequired rejects a package update without a creative set.
var ErrCreativeIDsRequired = errors.New("creative_ids is required, send an empty list to remove every creative")

// UpdateRequest is the update_media_buy payload.
type UpdateRequest struct {
	Packages []PackageUpdate `json:"packages" validate:"required,min=1,dive"`
}

// ItemError is the itemised failure of one package or key.
type ItemError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	CreativeIDs []string `json:"creative_ids,omitempty"`
}

// PackageResult is the per-package entry of a response. LineItemName is
// set once the package's line item was applied.
type PackageResult struct {
	PackageID      string                 `json:"package_id"`
	LineItemName   string                 `json:"line_item_name,omitempty"`
	ChangesApplied *models.ChangesApplied `json:"changes_applied,omitempty"`
	Error          *ItemError             `json:"error,omitempty"`
}

// KeyResult is the binding outcome of one targeting key on create.
type KeyResult struct {
	Key             string               `json:"key"`
	Role            models.LogicalRole   `json:"logical_role,omitempty"`
	ExternalKeyID   models.ExternalKeyID `json:"external_key_id,omitempty"`
	ExternalKeyName string               `json:"external_key_name,omitempty"`
	Error           *ItemError           `json:"error,omitempty"`
}

// Response status values.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// UpdateResponse is returned by update_media_buy.
type UpdateResponse struct {
	MediaBuyID string          `json:"media_buy_id"`
	Status     string          `json:"status"`
	Packages   []PackageResult `json:"packages"`
}

// CreateResponse is returned by create_media_buy and by workflow resumption.
type CreateResponse struct {
	MediaBuyID string                `json:"media_buy_id"`
	Status     models.MediaBuyStatus `json:"status"`
	OrderID    string                `json:"order_id,omitempty"`
	OrderName  string                `json:"order_name,omitempty"`
	Workflow   *models.WorkflowRun   `json:"workflow"`
	Keys       []KeyResult           `json:"keys,omitempty"`
	Packages   []PackageResult       `json:"packages,omitempty"`
	Error      *ItemError            `json:"error,omitempty"`
}

// StatusResponse is returned when polling a media buy.
type StatusResponse struct {
	MediaBuy models.MediaBuy     `json:"media_buy"`
	Workflow *models.WorkflowRun `json:"workflow,omitempty"`
}

// Item error codes.
const (
	CodeCreativeNotFound     = "creative_not_found"
	CodePackageNotFound      = "package_not_found"
	CodePackageUpdateFailed  = "package_update_failed"
	CodeConflictingTargeting = "conflicting_targeting"
	CodeUnboundKey           = "unbound_key"
	CodeAdapterPermission    = "adapter_permission_denied"
	CodeAdapterTransient     = "adapter_transient_error"
	CodeMissingTenantContext = "missing_tenant_context"
	CodeTenantResolution     = "tenant_resolution_failed"
	CodeNotFound             = "not_found"
	CodeInvalidTransition    = "invalid_transition"
	CodeInvalidRequest       = "invalid_request"
	CodeInternal             = "internal_error"
)

// ItemErrorFor classifies err into an itemised error.
func ItemErrorFor(err error) *ItemError {
	if err == nil {
		return nil
	}
	ie := &ItemError{Code: CodeInternal, Message: err.Error()}
	var cnf *models.CreativeNotFoundError
	switch {
	case errors.As(err, &cnf):
		ie.Code = CodeCreativeNotFound
		ie.CreativeIDs = cnf.CreativeIDs
	case errors.Is(err, ErrCreativeIDsRequired):
		ie.Code = CodeInvalidRequest
	case errors.Is(err, models.ErrTenantResolution):
		ie.Code = CodeTenantResolution
	case errors.Is(err, models.ErrMissingTenantContext):
		ie.Code = CodeMissingTenantContext
	case errors.Is(err, models.ErrPackageNotFound):
		ie.Code = CodePackageNotFound
	case errors.Is(err, models.ErrPackageUpdateFailed):
		ie.Code = CodePackageUpdateFailed
	case errors.Is(err, models.ErrConflictingTargeting):
		ie.Code = CodeConflictingTargeting
	case errors.Is(err, models.ErrUnboundKey):
		ie.Code = CodeUnboundKey
	case adserver.IsPermissionDenied(err):
		ie.Code = CodeAdapterPermission
	case adserver.IsTransient(err):
		ie.Code = CodeAdapterTransient
	case errors.Is(err, models.ErrInvalidTransition):
		ie.Code = CodeInvalidTransition
	case errors.Is(err, models.ErrNotFound):
		ie.Code = CodeNotFound
	}
	return ie
}
