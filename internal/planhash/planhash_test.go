package planhash_test

import (
	"testing"
	"time"

	"github.com/glossarium/glossarium/internal/planhash"
	"github.com/glossarium/glossarium/pkg/models"
)

func samplePlan() *models.ToolPlan {
	return &models.ToolPlan{
		PlanID: "plan-1",
		ToolCalls: []models.ToolCallSpec{
			{Tool: "lsj", CallID: "f1", Endpoint: "/lookup", Stage: models.StageFetch, Params: map[string]string{"word": "logos", "lang": "grc"}},
			{Tool: "lsj", CallID: "e1", Endpoint: "entries", Stage: models.StageExtract, Params: map[string]string{models.SourceCallParam: "f1"}},
			{Tool: "whitaker", CallID: "f2", Endpoint: "words", Stage: models.StageFetch, Optional: true},
		},
		Dependencies: []models.PlanDependency{
			{FromCallID: "f1", ToCallID: "e1", Rationale: "entries need the raw page"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestHashInvariantUnderCallReordering(t *testing.T) {
	a := samplePlan()
	b := samplePlan()
	b.ToolCalls[0], b.ToolCalls[2] = b.ToolCalls[2], b.ToolCalls[0]

	if planhash.Hash(a) != planhash.Hash(b) {
		t.Errorf("Hash() differs after permuting tool_calls")
	}
}

func TestHashInvariantUnderDependencyReordering(t *testing.T) {
	a := samplePlan()
	a.Dependencies = append(a.Dependencies, models.PlanDependency{FromCallID: "f2", ToCallID: "e1"})
	b := samplePlan()
	b.Dependencies = append(b.Dependencies, models.PlanDependency{FromCallID: "f2", ToCallID: "e1"})
	b.Dependencies[0], b.Dependencies[1] = b.Dependencies[1], b.Dependencies[0]

	if planhash.Hash(a) != planhash.Hash(b) {
		t.Errorf("Hash() differs after permuting dependencies")
	}
}

func TestHashIgnoresIdentityFields(t *testing.T) {
	a := samplePlan()
	b := samplePlan()
	b.PlanID = "plan-other"
	b.PlanHash = "pre-set"
	b.CreatedAt = b.CreatedAt.Add(48 * time.Hour)

	if planhash.Hash(a) != planhash.Hash(b) {
		t.Errorf("Hash() depends on plan_id/plan_hash/created_at")
	}
}

func TestHashSensitiveToContent(t *testing.T) {
	a := samplePlan()
	b := samplePlan()
	b.ToolCalls[0].Params["word"] = "mythos"

	if planhash.Hash(a) == planhash.Hash(b) {
		t.Errorf("Hash() unchanged after param edit")
	}
}

func TestEnsureHash(t *testing.T) {
	p := samplePlan()
	got := planhash.EnsureHash(p)
	if got == "" || p.PlanHash != got {
		t.Fatalf("EnsureHash() = %q, plan.PlanHash = %q; want computed hash written back", got, p.PlanHash)
	}

	// A caller-supplied hash is used verbatim.
	pre := samplePlan()
	pre.PlanHash = "caller-supplied"
	if got := planhash.EnsureHash(pre); got != "caller-supplied" {
		t.Errorf("EnsureHash() = %q, want caller-supplied hash", got)
	}
}
