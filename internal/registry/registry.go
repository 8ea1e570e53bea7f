// Package registry holds the per-tool, per-stage handler tables the
// execution engine dispatches derived stages through.
//
// Handlers are pure functions of (call, upstream effect). No hidden
// state is allowed: purity is what keeps the derived-effect ids
// deterministic across runs.
package registry

import (
	"github.com/glossarium/glossarium/pkg/models"
)

// ExtractFunc turns a raw response into an extraction.
type ExtractFunc func(call models.ToolCallSpec, raw *models.RawResponseEffect) (*models.ExtractionEffect, error)

// DeriveFunc turns an extraction into a derivation.
type DeriveFunc func(call models.ToolCallSpec, ext *models.ExtractionEffect) (*models.DerivationEffect, error)

// ClaimFunc turns a derivation into a claim.
type ClaimFunc func(call models.ToolCallSpec, der *models.DerivationEffect) (*models.ClaimEffect, error)

// ToolRegistry maps tool names to stage handlers. Built once by the
// caller and passed into the engine; there is no global registry.
type ToolRegistry struct {
	extract map[string]ExtractFunc
	derive  map[string]DeriveFunc
	claim   map[string]ClaimFunc

	// stubs makes lookups for unregistered tools fall back to the
	// pass-through handlers instead of returning nil.
	stubs bool
}

// New creates an empty registry.
func New() *ToolRegistry {
	return &ToolRegistry{
		extract: make(map[string]ExtractFunc),
		derive:  make(map[string]DeriveFunc),
		claim:   make(map[string]ClaimFunc),
	}
}

// WithStubs enables pass-through fallback handlers for any tool not
// explicitly registered, so plans naming unknown tools degrade
// gracefully instead of failing. Returns the registry for chaining.
func (r *ToolRegistry) WithStubs() *ToolRegistry {
	r.stubs = true
	return r
}

// RegisterExtract installs the extract handler for a tool.
func (r *ToolRegistry) RegisterExtract(tool string, fn ExtractFunc) { r.extract[tool] = fn }

// RegisterDerive installs the derive handler for a tool.
func (r *ToolRegistry) RegisterDerive(tool string, fn DeriveFunc) { r.derive[tool] = fn }

// RegisterClaim installs the claim handler for a tool.
func (r *ToolRegistry) RegisterClaim(tool string, fn ClaimFunc) { r.claim[tool] = fn }

// Extract returns the extract handler for a tool, the stub when stubs
// are enabled, or nil.
func (r *ToolRegistry) Extract(tool string) ExtractFunc {
	if fn, ok := r.extract[tool]; ok {
		return fn
	}
	if r.stubs {
		return StubExtract
	}
	return nil
}

// Derive returns the derive handler for a tool, the stub when stubs
// are enabled, or nil.
func (r *ToolRegistry) Derive(tool string) DeriveFunc {
	if fn, ok := r.derive[tool]; ok {
		return fn
	}
	if r.stubs {
		return StubDerive
	}
	return nil
}

// Claim returns the claim handler for a tool, the stub when stubs are
// enabled, or nil.
func (r *ToolRegistry) Claim(tool string) ClaimFunc {
	if fn, ok := r.claim[tool]; ok {
		return fn
	}
	if r.stubs {
		return StubClaim
	}
	return nil
}

// ── Stub Handlers ────────────────────────────────────────────

// StubExtract is the pass-through extract handler: it wraps the raw
// body without interpreting it.
func StubExtract(call models.ToolCallSpec, raw *models.RawResponseEffect) (*models.ExtractionEffect, error) {
	canonical := call.Params["canonical"]
	if canonical == "" {
		canonical = call.Endpoint
	}
	return &models.ExtractionEffect{
		ExtractionID: models.ExtractionID(call.CallID, raw.ResponseID),
		Tool:         call.Tool,
		CallID:       call.CallID,
		SourceCallID: call.SourceCallID(),
		ResponseID:   raw.ResponseID,
		Kind:         "passthrough",
		Canonical:    canonical,
		Payload: map[string]any{
			"content_type": raw.ContentType,
			"body":         string(raw.Body),
		},
	}, nil
}

// StubDerive is the pass-through derive handler: it carries the
// extraction forward unchanged, appending the provenance link.
func StubDerive(call models.ToolCallSpec, ext *models.ExtractionEffect) (*models.DerivationEffect, error) {
	return &models.DerivationEffect{
		DerivationID: models.DerivationID(call.CallID, ext.ExtractionID),
		Tool:         call.Tool,
		CallID:       call.CallID,
		SourceCallID: call.SourceCallID(),
		ExtractionID: ext.ExtractionID,
		Kind:         ext.Kind,
		Canonical:    ext.Canonical,
		Payload:      ext.Payload,
		Provenance:   models.AppendLink(nil, models.StageExtract, ext.Tool, ext.ExtractionID),
	}, nil
}

// StubClaim is the pass-through claim handler: subject is the derived
// canonical form, predicate comes from params or defaults to
// "asserts".
func StubClaim(call models.ToolCallSpec, der *models.DerivationEffect) (*models.ClaimEffect, error) {
	predicate := call.Params["predicate"]
	if predicate == "" {
		predicate = "asserts"
	}
	return &models.ClaimEffect{
		ClaimID:      models.ClaimID(call.CallID, der.DerivationID),
		Tool:         call.Tool,
		CallID:       call.CallID,
		SourceCallID: call.SourceCallID(),
		DerivationID: der.DerivationID,
		Subject:      der.Canonical,
		Predicate:    predicate,
		Value:        der.Payload,
		Provenance:   models.AppendLink(der.Provenance, models.StageDerive, der.Tool, der.DerivationID),
	}, nil
}
