// Package engine implements the staged plan executor.
//
// The engine walks a plan's dependency DAG and runs every call exactly
// once through the four-stage pipeline:
//
//	FETCH (ToolClient) → EXTRACT → DERIVE → CLAIM (registry handlers)
//
// Execution flow:
//  1. Compute or reuse the plan's content hash
//  2. Probe the plan-response cache; on a hit, seed raw responses and
//     treat the fetch calls as already completed
//  3. Sweep the pending calls level by level: every call whose
//     dependencies (explicit edges plus source_call_id) are satisfied
//     is dispatched; ready calls within a pass run concurrently
//  4. A pass that completes nothing means a dependency cycle — abort
//  5. Persist every produced effect to its index as it appears
//  6. If new responses were fetched, upsert the plan cache
//
// Optional calls that hit a missing client, handler, or upstream
// effect are skipped; the same condition on a mandatory call aborts
// the run with the originating error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glossarium/glossarium/internal/planhash"
	"github.com/glossarium/glossarium/internal/registry"
	"github.com/glossarium/glossarium/internal/store"
	"github.com/glossarium/glossarium/internal/toolclient"
	"github.com/glossarium/glossarium/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config wires the engine's collaborators. The engine owns none of
// them: clients, registry, and indices are built by the caller.
type Config struct {
	Clients  map[string]toolclient.ToolClient
	Registry *registry.ToolRegistry

	Raw         store.RawResponseIndex
	Extractions store.ExtractionIndex
	Derivations store.DerivationIndex
	Claims      store.ClaimIndex

	// PlanCache enables whole-plan raw-response reuse; nil disables it.
	PlanCache store.PlanResponseIndex

	// AllowCache gates the cache probe at the start of a run. Cache
	// writes at the end of a run only need PlanCache to be set.
	AllowCache bool
}

// Engine executes tool plans.
type Engine struct {
	cfg    Config
	tracer trace.Tracer
}

// New creates a plan execution engine.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		tracer: otel.Tracer("glossarium/engine"),
	}
}

// ── Run State ────────────────────────────────────────────────

// runState carries the per-run scheduling maps. All access during the
// concurrent fan-out goes through mu.
type runState struct {
	mu sync.Mutex

	calls map[string]models.ToolCallSpec
	deps  map[string][]string // call_id → prerequisite call_ids

	completed map[string]bool // includes skipped
	skipped   map[string]bool

	// Per-stage effect lookup, keyed by the producing call_id.
	rawByCall map[string]*models.RawResponseEffect
	extByCall map[string]*models.ExtractionEffect
	derByCall map[string]*models.DerivationEffect

	refs        []models.ToolResponseRef
	raws        []models.RawResponseEffect
	extractions []models.ExtractionEffect
	derivations []models.DerivationEffect
	claims      []models.ClaimEffect

	fetchedNew bool
}

func newRunState(plan *models.ToolPlan) *runState {
	rs := &runState{
		calls:     make(map[string]models.ToolCallSpec, len(plan.ToolCalls)),
		deps:      make(map[string][]string),
		completed: make(map[string]bool),
		skipped:   make(map[string]bool),
		rawByCall: make(map[string]*models.RawResponseEffect),
		extByCall: make(map[string]*models.ExtractionEffect),
		derByCall: make(map[string]*models.DerivationEffect),
	}
	for _, call := range plan.ToolCalls {
		rs.calls[call.CallID] = call
	}
	for _, dep := range plan.Dependencies {
		rs.addDep(dep.ToCallID, dep.FromCallID)
	}
	for _, call := range plan.ToolCalls {
		if src := call.SourceCallID(); src != "" {
			rs.addDep(call.CallID, src)
		}
	}
	return rs
}

// addDep records a prerequisite edge. Edges pointing at calls absent
// from the plan are dropped here: a dangling source_call_id surfaces
// as a missing-source condition at dispatch time, not as a permanently
// unsatisfiable dependency.
func (rs *runState) addDep(callID, prereq string) {
	if _, ok := rs.calls[prereq]; !ok {
		return
	}
	if _, ok := rs.calls[callID]; !ok {
		return
	}
	rs.deps[callID] = append(rs.deps[callID], prereq)
}

// readySet returns pending calls whose prerequisites are all completed,
// ordered by priority (descending) then call_id.
func (rs *runState) readySet() []models.ToolCallSpec {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var ready []models.ToolCallSpec
	for id, call := range rs.calls {
		if rs.completed[id] {
			continue
		}
		ok := true
		for _, prereq := range rs.deps[id] {
			if !rs.completed[prereq] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, call)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].CallID < ready[j].CallID
	})
	return ready
}

func (rs *runState) pendingIDs() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []string
	for id := range rs.calls {
		if !rs.completed[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (rs *runState) allDone() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.completed) == len(rs.calls)
}

func (rs *runState) skip(callID string) {
	rs.mu.Lock()
	rs.completed[callID] = true
	rs.skipped[callID] = true
	rs.mu.Unlock()
}

// ── Execution ────────────────────────────────────────────────

// ExecutePlan runs every call in the plan and returns the produced
// effects. On a mandatory-call failure the first error is returned;
// effects persisted before the failure remain in their indices.
func (e *Engine) ExecutePlan(ctx context.Context, plan *models.ToolPlan) (*models.ExecutionArtifacts, error) {
	start := time.Now()
	hash := planhash.EnsureHash(plan)

	ctx, span := e.tracer.Start(ctx, "engine.ExecutePlan", trace.WithAttributes(
		attribute.String("plan.id", plan.PlanID),
		attribute.String("plan.hash", hash),
		attribute.Int("plan.calls", len(plan.ToolCalls)),
	))
	defer span.End()

	rs := newRunState(plan)
	fromCache := e.probeCache(ctx, rs, hash)

	log.Info().
		Str("plan_id", plan.PlanID).
		Int("calls", len(plan.ToolCalls)).
		Bool("from_cache", fromCache).
		Msg("📜 Plan execution started")

	for !rs.allDone() {
		ready := rs.readySet()
		if len(ready) == 0 {
			err := &DependencyCycleError{Remaining: rs.pendingIDs()}
			log.Error().Str("plan_id", plan.PlanID).Strs("pending", err.Remaining).Msg("💥 Plan execution stalled")
			return nil, err
		}

		// Ready calls have no data dependency on one another: fan out,
		// then barrier before recomputing the next level.
		var wg sync.WaitGroup
		errCh := make(chan error, len(ready))
		for _, call := range ready {
			wg.Add(1)
			go func(call models.ToolCallSpec) {
				defer wg.Done()
				if err := e.dispatch(ctx, rs, call); err != nil {
					errCh <- err
				}
			}(call)
		}
		wg.Wait()
		close(errCh)

		// Fail fast on the first mandatory error; persisted effects stay.
		if err := <-errCh; err != nil {
			log.Error().Err(err).Str("plan_id", plan.PlanID).Msg("💥 Plan execution failed")
			return nil, err
		}
	}

	if rs.fetchedNew && e.cfg.PlanCache != nil {
		if err := e.cfg.PlanCache.UpsertPlanResponses(ctx, hash, plan.PlanID, rs.refs); err != nil {
			// Cache write failure degrades reuse, not correctness.
			log.Warn().Err(err).Str("plan_hash", hash).Msg("Failed to upsert plan cache")
		}
	}

	elapsed := time.Since(start).Milliseconds()
	log.Info().
		Str("plan_id", plan.PlanID).
		Int("claims", len(rs.claims)).
		Int("skipped", len(rs.skipped)).
		Int64("duration_ms", elapsed).
		Msg("✅ Plan execution completed")

	return &models.ExecutionArtifacts{
		Plan: plan,
		Executed: &models.ExecutedPlan{
			PlanID:        plan.PlanID,
			PlanHash:      hash,
			Responses:     rs.refs,
			ExecutionTime: elapsed,
			FromCache:     fromCache,
		},
		RawEffects:  rs.raws,
		Extractions: rs.extractions,
		Derivations: rs.derivations,
		Claims:      rs.claims,
		FromCache:   fromCache,
	}, nil
}

// probeCache seeds raw responses for a previously executed identical
// plan. Returns true only when every cached ref resolves; a partial
// cache is abandoned and the run fetches fresh.
func (e *Engine) probeCache(ctx context.Context, rs *runState, hash string) bool {
	if !e.cfg.AllowCache || e.cfg.PlanCache == nil {
		return false
	}
	refs, err := e.cfg.PlanCache.GetPlanResponses(ctx, hash)
	if err != nil {
		var nf *store.ErrNotFound
		if !errors.As(err, &nf) {
			log.Warn().Err(err).Str("plan_hash", hash).Msg("Plan cache probe failed")
		}
		return false
	}

	seeded := make([]*models.RawResponseEffect, 0, len(refs))
	for _, ref := range refs {
		effect, err := e.cfg.Raw.GetRawResponse(ctx, ref.ResponseID)
		if err != nil {
			log.Warn().
				Err(err).
				Str("response_id", ref.ResponseID).
				Msg("Cached raw response missing, refetching plan")
			return false
		}
		seeded = append(seeded, effect)
	}

	for _, effect := range seeded {
		if _, ok := rs.calls[effect.CallID]; !ok {
			continue
		}
		rs.rawByCall[effect.CallID] = effect
		rs.raws = append(rs.raws, *effect)
		rs.refs = append(rs.refs, models.ToolResponseRef{
			Tool:       effect.Tool,
			CallID:     effect.CallID,
			ResponseID: effect.ResponseID,
			Cached:     true,
		})
		rs.completed[effect.CallID] = true
	}

	log.Debug().Str("plan_hash", hash).Int("responses", len(seeded)).Msg("Plan cache hit")
	return true
}

// dispatch executes one ready call at its stage.
func (e *Engine) dispatch(ctx context.Context, rs *runState, call models.ToolCallSpec) error {
	switch call.Stage {
	case models.StageFetch:
		return e.runFetch(ctx, rs, call)
	case models.StageExtract:
		return e.runExtract(ctx, rs, call)
	case models.StageDerive:
		return e.runDerive(ctx, rs, call)
	case models.StageClaim:
		return e.runClaim(ctx, rs, call)
	default:
		if call.Optional {
			log.Warn().Str("call_id", call.CallID).Str("stage", string(call.Stage)).Msg("Skipping optional call with unknown stage")
			rs.skip(call.CallID)
			return nil
		}
		return &UnsupportedStageError{CallID: call.CallID, Stage: call.Stage}
	}
}

// ── Stage: FETCH ─────────────────────────────────────────────

func (e *Engine) runFetch(ctx context.Context, rs *runState, call models.ToolCallSpec) error {
	// Seeded from the plan cache: nothing to do.
	rs.mu.Lock()
	_, cached := rs.rawByCall[call.CallID]
	rs.mu.Unlock()
	if cached {
		return nil
	}

	client, ok := e.cfg.Clients[call.Tool]
	if !ok || client == nil {
		if call.Optional {
			log.Debug().Str("call_id", call.CallID).Str("tool", call.Tool).Msg("Skipping optional fetch, no client")
			rs.skip(call.CallID)
			return nil
		}
		return &MissingClientError{Tool: call.Tool, CallID: call.CallID}
	}

	effect, err := client.Execute(ctx, call.CallID, call.Endpoint, call.Params)
	if err != nil {
		if call.Optional {
			log.Warn().Err(err).Str("call_id", call.CallID).Str("tool", call.Tool).Msg("Optional fetch failed, skipping")
			rs.skip(call.CallID)
			return nil
		}
		return fmt.Errorf("fetch %s via %q: %w", call.CallID, call.Tool, err)
	}

	ref, err := e.cfg.Raw.StoreRawResponse(ctx, effect)
	if err != nil {
		return fmt.Errorf("persist raw response for %s: %w", call.CallID, err)
	}

	rs.mu.Lock()
	rs.rawByCall[call.CallID] = effect
	rs.raws = append(rs.raws, *effect)
	rs.refs = append(rs.refs, ref)
	rs.fetchedNew = true
	rs.completed[call.CallID] = true
	rs.mu.Unlock()
	return nil
}

// ── Stage: EXTRACT ───────────────────────────────────────────

func (e *Engine) runExtract(ctx context.Context, rs *runState, call models.ToolCallSpec) error {
	fn := e.cfg.Registry.Extract(call.Tool)
	if fn == nil {
		return e.missingHandler(rs, call)
	}

	rs.mu.Lock()
	raw := rs.rawByCall[call.SourceCallID()]
	rs.mu.Unlock()
	if raw == nil {
		return e.missingSource(rs, call)
	}

	effect, err := fn(call, raw)
	if err != nil {
		return e.handlerFailure(rs, call, err)
	}
	if err := e.cfg.Extractions.StoreExtraction(ctx, effect); err != nil {
		return fmt.Errorf("persist extraction for %s: %w", call.CallID, err)
	}

	rs.mu.Lock()
	rs.extByCall[call.CallID] = effect
	rs.extractions = append(rs.extractions, *effect)
	rs.completed[call.CallID] = true
	rs.mu.Unlock()
	return nil
}

// ── Stage: DERIVE ────────────────────────────────────────────

func (e *Engine) runDerive(ctx context.Context, rs *runState, call models.ToolCallSpec) error {
	fn := e.cfg.Registry.Derive(call.Tool)
	if fn == nil {
		return e.missingHandler(rs, call)
	}

	rs.mu.Lock()
	ext := rs.extByCall[call.SourceCallID()]
	rs.mu.Unlock()
	if ext == nil {
		return e.missingSource(rs, call)
	}

	effect, err := fn(call, ext)
	if err != nil {
		return e.handlerFailure(rs, call, err)
	}
	if err := e.cfg.Derivations.StoreDerivation(ctx, effect); err != nil {
		return fmt.Errorf("persist derivation for %s: %w", call.CallID, err)
	}

	rs.mu.Lock()
	rs.derByCall[call.CallID] = effect
	rs.derivations = append(rs.derivations, *effect)
	rs.completed[call.CallID] = true
	rs.mu.Unlock()
	return nil
}

// ── Stage: CLAIM ─────────────────────────────────────────────

func (e *Engine) runClaim(ctx context.Context, rs *runState, call models.ToolCallSpec) error {
	fn := e.cfg.Registry.Claim(call.Tool)
	if fn == nil {
		return e.missingHandler(rs, call)
	}

	rs.mu.Lock()
	der := rs.derByCall[call.SourceCallID()]
	rs.mu.Unlock()
	if der == nil {
		return e.missingSource(rs, call)
	}

	effect, err := fn(call, der)
	if err != nil {
		return e.handlerFailure(rs, call, err)
	}
	if err := e.cfg.Claims.StoreClaim(ctx, effect); err != nil {
		return fmt.Errorf("persist claim for %s: %w", call.CallID, err)
	}

	rs.mu.Lock()
	rs.claims = append(rs.claims, *effect)
	rs.completed[call.CallID] = true
	rs.mu.Unlock()
	return nil
}

// ── Optional/Mandatory Branching ─────────────────────────────

func (e *Engine) missingHandler(rs *runState, call models.ToolCallSpec) error {
	if call.Optional {
		log.Debug().Str("call_id", call.CallID).Str("tool", call.Tool).Str("stage", string(call.Stage)).Msg("Skipping optional call, no handler")
		rs.skip(call.CallID)
		return nil
	}
	return &MissingHandlerError{Tool: call.Tool, Stage: call.Stage, CallID: call.CallID}
}

func (e *Engine) missingSource(rs *runState, call models.ToolCallSpec) error {
	if call.Optional {
		log.Debug().Str("call_id", call.CallID).Str("source", call.SourceCallID()).Msg("Skipping optional call, upstream effect missing")
		rs.skip(call.CallID)
		return nil
	}
	return &MissingSourceEffectError{CallID: call.CallID, SourceCallID: call.SourceCallID(), Stage: call.Stage}
}

func (e *Engine) handlerFailure(rs *runState, call models.ToolCallSpec, err error) error {
	if call.Optional {
		log.Warn().Err(err).Str("call_id", call.CallID).Str("tool", call.Tool).Msg("Optional handler failed, skipping")
		rs.skip(call.CallID)
		return nil
	}
	return fmt.Errorf("%s handler for call %s (tool %q): %w", call.Stage, call.CallID, call.Tool, err)
}
