package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glossarium/glossarium/internal/engine"
	"github.com/glossarium/glossarium/internal/registry"
	"github.com/glossarium/glossarium/internal/store"
	"github.com/glossarium/glossarium/internal/toolclient"
	"github.com/glossarium/glossarium/pkg/models"
)

// fakeClient counts executions and returns a canned body.
type fakeClient struct {
	mu    sync.Mutex
	tool  string
	body  string
	calls int
}

func (f *fakeClient) Execute(ctx context.Context, callID, endpoint string, params map[string]string) (*models.RawResponseEffect, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &models.RawResponseEffect{
		ResponseID: models.NewResponseID(),
		Tool:       f.tool,
		CallID:     callID,
		Endpoint:   endpoint,
		StatusCode: 200,
		Body:       []byte(f.body),
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeClient) executions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(t *testing.T, s store.Store, clients map[string]toolclient.ToolClient) *engine.Engine {
	t.Helper()
	return engine.New(engine.Config{
		Clients:     clients,
		Registry:    registry.New().WithStubs(),
		Raw:         s,
		Extractions: s,
		Derivations: s,
		Claims:      s,
		PlanCache:   s,
		AllowCache:  true,
	})
}

func fetchCall(id, tool string) models.ToolCallSpec {
	return models.ToolCallSpec{Tool: tool, CallID: id, Endpoint: "/lookup", Stage: models.StageFetch}
}

func stagedCall(id, tool string, stage models.Stage, source string) models.ToolCallSpec {
	return models.ToolCallSpec{
		Tool: tool, CallID: id, Stage: stage,
		Params: map[string]string{models.SourceCallParam: source},
	}
}

func TestFlatPlanDispatchesEachCallOnce(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	client := &fakeClient{tool: "lsj", body: "entry"}
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{"lsj": client})

	plan := &models.ToolPlan{
		PlanID: "flat",
		ToolCalls: []models.ToolCallSpec{
			fetchCall("f1", "lsj"), fetchCall("f2", "lsj"), fetchCall("f3", "lsj"),
		},
	}

	artifacts, err := e.ExecutePlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("ExecutePlan() error = %v", err)
	}
	if client.executions() != 3 {
		t.Errorf("client executed %d times, want 3", client.executions())
	}
	if len(artifacts.RawEffects) != 3 {
		t.Errorf("got %d raw effects, want 3", len(artifacts.RawEffects))
	}
	if artifacts.FromCache {
		t.Errorf("FromCache = true on first run")
	}
}

func TestOptionalFetchWithoutClientSkips(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	client := &fakeClient{tool: "lsj", body: "entry"}
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{"lsj": client})

	optional := fetchCall("f2", "perseus")
	optional.Optional = true
	plan := &models.ToolPlan{
		PlanID:    "opt",
		ToolCalls: []models.ToolCallSpec{fetchCall("f1", "lsj"), optional},
	}

	artifacts, err := e.ExecutePlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("ExecutePlan() error = %v", err)
	}
	if len(artifacts.RawEffects) != 1 {
		t.Errorf("got %d raw effects, want 1 (optional call skipped)", len(artifacts.RawEffects))
	}
}

func TestMandatoryFetchWithoutClientFails(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{})

	plan := &models.ToolPlan{
		PlanID:    "strict",
		ToolCalls: []models.ToolCallSpec{fetchCall("f1", "perseus")},
	}

	artifacts, err := e.ExecutePlan(context.Background(), plan)
	var missing *engine.MissingClientError
	if !errors.As(err, &missing) {
		t.Fatalf("ExecutePlan() error = %v, want MissingClientError", err)
	}
	if missing.Tool != "perseus" {
		t.Errorf("MissingClientError.Tool = %q, want %q", missing.Tool, "perseus")
	}
	if artifacts != nil {
		t.Errorf("artifacts = %+v, want nil on mandatory failure", artifacts)
	}
}

func TestMutualDependencyCycle(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	client := &fakeClient{tool: "lsj"}
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{"lsj": client})

	plan := &models.ToolPlan{
		PlanID:    "cycle",
		ToolCalls: []models.ToolCallSpec{fetchCall("a", "lsj"), fetchCall("b", "lsj")},
		Dependencies: []models.PlanDependency{
			{FromCallID: "a", ToCallID: "b"},
			{FromCallID: "b", ToCallID: "a"},
		},
	}

	_, err := e.ExecutePlan(context.Background(), plan)
	var cycle *engine.DependencyCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("ExecutePlan() error = %v, want DependencyCycleError", err)
	}
	if len(cycle.Remaining) != 2 {
		t.Errorf("cycle.Remaining = %v, want both calls", cycle.Remaining)
	}
}

func TestSourceChainProvenance(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	client := &fakeClient{tool: "x", body: "lemma"}
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{"x": client})

	// No explicit dependency edges: the chain is inferred from
	// source_call_id alone.
	plan := &models.ToolPlan{
		PlanID: "chain",
		ToolCalls: []models.ToolCallSpec{
			fetchCall("f1", "x"),
			stagedCall("e1", "x", models.StageExtract, "f1"),
			stagedCall("d1", "x", models.StageDerive, "e1"),
			stagedCall("c1", "x", models.StageClaim, "d1"),
		},
	}

	artifacts, err := e.ExecutePlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("ExecutePlan() error = %v", err)
	}
	if len(artifacts.RawEffects) != 1 || len(artifacts.Extractions) != 1 ||
		len(artifacts.Derivations) != 1 || len(artifacts.Claims) != 1 {
		t.Fatalf("effect counts = %d/%d/%d/%d, want 1 per stage",
			len(artifacts.RawEffects), len(artifacts.Extractions),
			len(artifacts.Derivations), len(artifacts.Claims))
	}

	claim := artifacts.Claims[0]
	if len(claim.Provenance) != 2 {
		t.Fatalf("claim provenance length = %d, want 2", len(claim.Provenance))
	}
	if claim.Provenance[0].Stage != models.StageExtract {
		t.Errorf("first link stage = %q, want extract", claim.Provenance[0].Stage)
	}
	if claim.Provenance[1].Stage != models.StageDerive {
		t.Errorf("second link stage = %q, want derive", claim.Provenance[1].Stage)
	}
	if claim.Provenance[1].ReferenceID != artifacts.Derivations[0].DerivationID {
		t.Errorf("derive link points at %q, want the derivation id", claim.Provenance[1].ReferenceID)
	}
}

func TestPlanCacheIdempotence(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	client := &fakeClient{tool: "x", body: "lemma"}
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{"x": client})

	makePlan := func() *models.ToolPlan {
		return &models.ToolPlan{
			PlanID: "cached",
			ToolCalls: []models.ToolCallSpec{
				fetchCall("f1", "x"),
				stagedCall("e1", "x", models.StageExtract, "f1"),
				stagedCall("d1", "x", models.StageDerive, "e1"),
				stagedCall("c1", "x", models.StageClaim, "d1"),
			},
		}
	}

	first, err := e.ExecutePlan(context.Background(), makePlan())
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if first.FromCache {
		t.Fatalf("first run FromCache = true")
	}
	if client.executions() != 1 {
		t.Fatalf("first run executed client %d times, want 1", client.executions())
	}

	second, err := e.ExecutePlan(context.Background(), makePlan())
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if !second.FromCache {
		t.Errorf("second run FromCache = false, want true")
	}
	if client.executions() != 1 {
		t.Errorf("second run re-invoked the client (%d total executions)", client.executions())
	}

	// Derived stages recompute against the cached response, so every
	// derived id is byte-identical across runs.
	if first.Extractions[0].ExtractionID != second.Extractions[0].ExtractionID {
		t.Errorf("extraction ids differ across cached runs")
	}
	if first.Derivations[0].DerivationID != second.Derivations[0].DerivationID {
		t.Errorf("derivation ids differ across cached runs")
	}
	if first.Claims[0].ClaimID != second.Claims[0].ClaimID {
		t.Errorf("claim ids differ across cached runs")
	}
}

func TestSkipPropagatesToOptionalDependents(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{})

	fetch := fetchCall("f1", "perseus")
	fetch.Optional = true
	extract := stagedCall("e1", "perseus", models.StageExtract, "f1")
	extract.Optional = true

	plan := &models.ToolPlan{
		PlanID:    "skip-chain",
		ToolCalls: []models.ToolCallSpec{fetch, extract},
	}

	artifacts, err := e.ExecutePlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("ExecutePlan() error = %v", err)
	}
	if len(artifacts.RawEffects) != 0 || len(artifacts.Extractions) != 0 {
		t.Errorf("skipped chain produced effects: %d raw, %d extractions",
			len(artifacts.RawEffects), len(artifacts.Extractions))
	}
}

func TestMandatoryMissingSource(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	client := &fakeClient{tool: "x"}
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{"x": client})

	// source_call_id names a call that is not part of the plan at all;
	// this surfaces at execution time, not as upfront validation.
	plan := &models.ToolPlan{
		PlanID:    "dangling",
		ToolCalls: []models.ToolCallSpec{stagedCall("e1", "x", models.StageExtract, "ghost")},
	}

	_, err := e.ExecutePlan(context.Background(), plan)
	var missing *engine.MissingSourceEffectError
	if !errors.As(err, &missing) {
		t.Fatalf("ExecutePlan() error = %v, want MissingSourceEffectError", err)
	}
	if missing.SourceCallID != "ghost" {
		t.Errorf("SourceCallID = %q, want %q", missing.SourceCallID, "ghost")
	}
}

func TestUnsupportedStage(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	e := newTestEngine(t, s, nil)

	bad := models.ToolCallSpec{Tool: "x", CallID: "z1", Stage: "transmogrify"}
	plan := &models.ToolPlan{PlanID: "bad-stage", ToolCalls: []models.ToolCallSpec{bad}}

	_, err := e.ExecutePlan(context.Background(), plan)
	var unsupported *engine.UnsupportedStageError
	if !errors.As(err, &unsupported) {
		t.Fatalf("ExecutePlan() error = %v, want UnsupportedStageError", err)
	}

	bad.Optional = true
	plan = &models.ToolPlan{PlanID: "bad-stage-opt", ToolCalls: []models.ToolCallSpec{bad}}
	if _, err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Errorf("optional unsupported stage aborted the run: %v", err)
	}
}

func TestExplicitDependencyOrdering(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	var mu sync.Mutex
	var order []string
	recorder := &recordingClient{mu: &mu, order: &order}
	e := newTestEngine(t, s, map[string]toolclient.ToolClient{"x": recorder})

	plan := &models.ToolPlan{
		PlanID: "ordered",
		ToolCalls: []models.ToolCallSpec{
			fetchCall("second", "x"), fetchCall("first", "x"),
		},
		Dependencies: []models.PlanDependency{
			{FromCallID: "first", ToCallID: "second", Rationale: "hard ordering"},
		},
	}

	if _, err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan() error = %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("dispatch order = %v, want [first second]", order)
	}
}

type recordingClient struct {
	mu    *sync.Mutex
	order *[]string
}

func (r *recordingClient) Execute(ctx context.Context, callID, endpoint string, params map[string]string) (*models.RawResponseEffect, error) {
	r.mu.Lock()
	*r.order = append(*r.order, callID)
	r.mu.Unlock()
	return &models.RawResponseEffect{
		ResponseID: models.NewResponseID(),
		Tool:       "x",
		CallID:     callID,
		StatusCode: 200,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
