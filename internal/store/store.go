// Package store provides the effect indices and plan-response cache
// backing the execution engine. The engine only sees the narrow
// interfaces below; implementations are swappable between in-memory
// (local dev, tests) and PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/glossarium/glossarium/pkg/models"
)

// ── Effect Indices ───────────────────────────────────────────

// RawResponseIndex persists raw tool responses keyed by response id.
type RawResponseIndex interface {
	// StoreRawResponse persists a raw response and returns its ref.
	StoreRawResponse(ctx context.Context, effect *models.RawResponseEffect) (models.ToolResponseRef, error)

	// GetRawResponse returns a raw response by id.
	GetRawResponse(ctx context.Context, responseID string) (*models.RawResponseEffect, error)
}

// ExtractionIndex persists extraction effects keyed by extraction id.
// Re-writing the same deterministic id is an upsert, not an error.
type ExtractionIndex interface {
	StoreExtraction(ctx context.Context, effect *models.ExtractionEffect) error
	GetExtraction(ctx context.Context, extractionID string) (*models.ExtractionEffect, error)
}

// DerivationIndex persists derivation effects keyed by derivation id.
type DerivationIndex interface {
	StoreDerivation(ctx context.Context, effect *models.DerivationEffect) error
	GetDerivation(ctx context.Context, derivationID string) (*models.DerivationEffect, error)
}

// ClaimIndex persists claim effects keyed by claim id.
type ClaimIndex interface {
	StoreClaim(ctx context.Context, effect *models.ClaimEffect) error
	GetClaim(ctx context.Context, claimID string) (*models.ClaimEffect, error)

	// ListClaimsBySubject returns up to limit claims whose subject
	// matches exactly.
	ListClaimsBySubject(ctx context.Context, subject string, limit int) ([]models.ClaimEffect, error)
}

// ── Plan Cache ───────────────────────────────────────────────

// PlanResponseIndex maps a plan hash to the raw-response refs its last
// execution produced, enabling whole-plan fetch reuse.
type PlanResponseIndex interface {
	// GetPlanResponses returns the cached refs for a plan hash, or
	// ErrNotFound on a cache miss.
	GetPlanResponses(ctx context.Context, planHash string) ([]models.ToolResponseRef, error)

	// UpsertPlanResponses replaces the cache entry for a plan hash.
	UpsertPlanResponses(ctx context.Context, planHash, planID string, refs []models.ToolResponseRef) error

	// PrunePlanCache deletes cache entries last updated before cutoff
	// and returns how many were removed. Raw responses are kept; only
	// the hash-to-refs mapping expires.
	PrunePlanCache(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Composite ────────────────────────────────────────────────

// Store is the full storage surface the server composes. Engine and
// handler code depend on the narrow interfaces above, so tests can
// pass a MemoryStore everywhere.
type Store interface {
	RawResponseIndex
	ExtractionIndex
	DerivationIndex
	ClaimIndex
	PlanResponseIndex

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Errors ───────────────────────────────────────────────────

// ErrNotFound is returned when a requested record does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
