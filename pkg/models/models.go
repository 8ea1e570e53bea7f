// Package models defines the shared data model for the Glossarium core:
// tool plans, the four-stage pipeline, effect records, and provenance chains.
package models

import (
	"time"
)

// ── Pipeline Stages ──────────────────────────────────────────

// Stage identifies where a tool call sits in the four-step pipeline.
// Every call belongs to exactly one stage; any other value is rejected
// at execution time.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageDerive  Stage = "derive"
	StageClaim   Stage = "claim"
)

// Known reports whether s is one of the four pipeline stages.
func (s Stage) Known() bool {
	switch s {
	case StageFetch, StageExtract, StageDerive, StageClaim:
		return true
	}
	return false
}

// ── Plans ────────────────────────────────────────────────────

// SourceCallParam is the params key naming the upstream call whose
// effect a derived-stage call consumes. Its presence also implies an
// ordering edge, honored alongside explicit PlanDependency edges.
const SourceCallParam = "source_call_id"

// ToolCallSpec is one planned invocation of an external tool.
// Specs are created by the planner and are immutable once the plan
// is handed to the engine.
type ToolCallSpec struct {
	Tool     string            `json:"tool"`
	CallID   string            `json:"call_id"`
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params,omitempty"`
	Stage    Stage             `json:"stage"`
	Priority int               `json:"priority"`
	Optional bool              `json:"optional"`
}

// SourceCallID returns the upstream call named by the source_call_id
// param, or "" when the call has none.
func (c ToolCallSpec) SourceCallID() string {
	return c.Params[SourceCallParam]
}

// PlanDependency is a hard ordering edge: ToCallID waits until
// FromCallID has completed.
type PlanDependency struct {
	FromCallID string `json:"from_call_id"`
	ToCallID   string `json:"to_call_id"`
	Rationale  string `json:"rationale,omitempty"`
}

// ToolPlan is a DAG of tool calls produced by the upstream planner,
// one per normalized user query.
type ToolPlan struct {
	PlanID       string           `json:"plan_id"`
	PlanHash     string           `json:"plan_hash,omitempty"`
	ToolCalls    []ToolCallSpec   `json:"tool_calls"`
	Dependencies []PlanDependency `json:"dependencies,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ── Effects ──────────────────────────────────────────────────

// RawResponseEffect records one fetch from an external tool. The
// response id is freshly generated per invocation; fetching is a
// non-deterministic external effect.
type RawResponseEffect struct {
	ResponseID    string            `json:"response_id"`
	Tool          string            `json:"tool"`
	CallID        string            `json:"call_id"`
	Endpoint      string            `json:"endpoint"`
	StatusCode    int               `json:"status_code"`
	ContentType   string            `json:"content_type,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
	ReceivedAt    time.Time         `json:"received_at"`
	FetchDuration int64             `json:"fetch_duration_ms"`
}

// ExtractionEffect is a structured fact pulled out of a raw response.
// Its id is a deterministic function of (call_id, response_id), so
// re-running against the same cached response reproduces it exactly.
type ExtractionEffect struct {
	ExtractionID string         `json:"extraction_id"`
	Tool         string         `json:"tool"`
	CallID       string         `json:"call_id"`
	SourceCallID string         `json:"source_call_id"`
	ResponseID   string         `json:"response_id"`
	Kind         string         `json:"kind"`
	Canonical    string         `json:"canonical"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// DerivationEffect is a normalized lexical fact derived from an
// extraction. Deterministic id over (call_id, extraction_id).
type DerivationEffect struct {
	DerivationID string           `json:"derivation_id"`
	Tool         string           `json:"tool"`
	CallID       string           `json:"call_id"`
	SourceCallID string           `json:"source_call_id"`
	ExtractionID string           `json:"extraction_id"`
	Kind         string           `json:"kind"`
	Canonical    string           `json:"canonical"`
	Payload      map[string]any   `json:"payload,omitempty"`
	Provenance   []ProvenanceLink `json:"provenance_chain"`
}

// ClaimEffect is an attributable subject/predicate/value assertion,
// the end product of the pipeline. Deterministic id over
// (call_id, derivation_id).
type ClaimEffect struct {
	ClaimID      string           `json:"claim_id"`
	Tool         string           `json:"tool"`
	CallID       string           `json:"call_id"`
	SourceCallID string           `json:"source_call_id"`
	DerivationID string           `json:"derivation_id"`
	Subject      string           `json:"subject"`
	Predicate    string           `json:"predicate"`
	Value        map[string]any   `json:"value,omitempty"`
	Provenance   []ProvenanceLink `json:"provenance_chain"`
}

// ProvenanceLink points at one upstream effect. A derived effect's
// chain is its upstream's chain plus exactly one link referencing the
// upstream effect's own id, so a claim's full lineage is recovered by
// walking the chain backward: derivation → extraction → raw response.
type ProvenanceLink struct {
	Stage       Stage             `json:"stage"`
	Tool        string            `json:"tool"`
	ReferenceID string            `json:"reference_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AppendLink returns chain extended with a link to the given upstream
// effect. The input chain is not modified.
func AppendLink(chain []ProvenanceLink, stage Stage, tool, referenceID string) []ProvenanceLink {
	out := make([]ProvenanceLink, 0, len(chain)+1)
	out = append(out, chain...)
	out = append(out, ProvenanceLink{Stage: stage, Tool: tool, ReferenceID: referenceID})
	return out
}

// ── Execution Summary ────────────────────────────────────────

// ToolResponseRef is a lightweight pointer to a persisted raw
// response, cheap enough to store as the plan-cache value.
type ToolResponseRef struct {
	Tool       string `json:"tool"`
	CallID     string `json:"call_id"`
	ResponseID string `json:"response_id"`
	Cached     bool   `json:"cached"`
}

// ExecutedPlan summarizes one engine run, separate from the full
// effect payloads.
type ExecutedPlan struct {
	PlanID        string            `json:"plan_id"`
	PlanHash      string            `json:"plan_hash"`
	Responses     []ToolResponseRef `json:"responses"`
	ExecutionTime int64             `json:"execution_time_ms"`
	FromCache     bool              `json:"from_cache"`
}

// ExecutionArtifacts bundles everything one run produced. The engine
// hands it to the caller and retains nothing; the effect indices are
// the durable record.
type ExecutionArtifacts struct {
	Plan        *ToolPlan           `json:"plan"`
	Executed    *ExecutedPlan       `json:"executed"`
	RawEffects  []RawResponseEffect `json:"raw_effects"`
	Extractions []ExtractionEffect  `json:"extractions"`
	Derivations []DerivationEffect  `json:"derivations"`
	Claims      []ClaimEffect       `json:"claims"`
	FromCache   bool                `json:"from_cache"`
}
