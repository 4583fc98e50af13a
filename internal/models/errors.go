package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when an entity does not exist or is not
	// visible to the requesting tenant.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a uniqueness constraint rejects a write.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrMissingTenantContext is returned by every tenant-scoped operation
	// invoked without a resolved TenantContext.
	ErrMissingTenantContext = errors.New("tenant context missing")

	ErrTenantResolution     = errors.New("tenant resolution failed")
	ErrConflictingTargeting = errors.New("conflicting targeting")
	ErrCreativeNotFound     = errors.New("creative not found")
	ErrPackageNotFound      = errors.New("package not found")
	ErrPackageUpdateFailed  = errors.New("package update failed")
	ErrUnboundKey           = errors.New("targeting key has no binding")
	ErrInvalidTransition    = errors.New("invalid workflow transition")
)

// TenantResolutionErrorKind classifies why a request could not be bound to a tenant.
type TenantResolutionErrorKind string

const (
	NoHostSignal      TenantResolutionErrorKind = "no_host_signal"
	UnknownTenant     TenantResolutionErrorKind = "unknown_tenant"
	MissingCredential TenantResolutionErrorKind = "missing_credential"
	TenantMismatch    TenantResolutionErrorKind = "tenant_mismatch"
)

// TenantResolutionError is fatal for the request. It never carries a
// fallback tenant.
type TenantResolutionError struct {
	Kind   TenantResolutionErrorKind
	Signal string
	Detail string
}

func (e *TenantResolutionError) Error() string {
	msg := fmt.Sprintf("tenant resolution failed: %s", e.Kind)
	if e.Signal != "" {
		msg += fmt.Sprintf(" (signal %q)", e.Signal)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TenantResolutionError) Unwrap() error { return ErrTenantResolution }

// IsTenantResolutionKind reports whether err is a TenantResolutionError of the given kind.
func IsTenantResolutionKind(err error, kind TenantResolutionErrorKind) bool {
	var tre *TenantResolutionError
	return errors.As(err, &tre) && tre.Kind == kind
}

// KeyValue names one (key, value) pair of a targeting expression.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ConflictingTargetingError lists pairs found in both include and exclude.
type ConflictingTargetingError struct {
	Conflicts []KeyValue
}

func (e *ConflictingTargetingError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, kv := range e.Conflicts {
		parts = append(parts, kv.Key+"="+kv.Value)
	}
	return fmt.Sprintf("conflicting targeting: %s both included and excluded", strings.Join(parts, ", "))
}

func (e *ConflictingTargetingError) Unwrap() error { return ErrConflictingTargeting }

// CreativeNotFoundError names the requested creative ids that do not exist
// for the tenant.
type CreativeNotFoundError struct {
	PackageID   string
	CreativeIDs []string
}

func (e *CreativeNotFoundError) Error() string {
	ids := append([]string(nil), e.CreativeIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("package %s: creatives not found: %s", e.PackageID, strings.Join(ids, ", "))
}

func (e *CreativeNotFoundError) Unwrap() error { return ErrCreativeNotFound }

// PackageUpdateError wraps a persistence failure while applying one
// package's assignment diff.
type PackageUpdateError struct {
	PackageID string
	Err       error
}

func (e *PackageUpdateError) Error() string {
	return fmt.Sprintf("package %s: update failed: %v", e.PackageID, e.Err)
}

func (e *PackageUpdateError) Unwrap() []error { return []error{ErrPackageUpdateFailed, e.Err} }
