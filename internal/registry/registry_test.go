package registry_test

import (
	"testing"

	"github.com/glossarium/glossarium/internal/registry"
	"github.com/glossarium/glossarium/pkg/models"
)

func TestLookupWithoutStubs(t *testing.T) {
	r := registry.New()
	if r.Extract("unknown") != nil {
		t.Errorf("Extract(unknown) != nil without stubs")
	}
	if r.Derive("unknown") != nil {
		t.Errorf("Derive(unknown) != nil without stubs")
	}
	if r.Claim("unknown") != nil {
		t.Errorf("Claim(unknown) != nil without stubs")
	}
}

func TestLookupWithStubs(t *testing.T) {
	r := registry.New().WithStubs()
	if r.Extract("unknown") == nil || r.Derive("unknown") == nil || r.Claim("unknown") == nil {
		t.Fatalf("stub registry returned nil handler for unknown tool")
	}
}

func TestExplicitHandlerWinsOverStub(t *testing.T) {
	r := registry.New().WithStubs()
	called := false
	r.RegisterExtract("lsj", func(call models.ToolCallSpec, raw *models.RawResponseEffect) (*models.ExtractionEffect, error) {
		called = true
		return registry.StubExtract(call, raw)
	})

	fn := r.Extract("lsj")
	if fn == nil {
		t.Fatalf("Extract(lsj) = nil")
	}
	fn(models.ToolCallSpec{Tool: "lsj", CallID: "e1"}, &models.RawResponseEffect{ResponseID: "raw_x"})
	if !called {
		t.Errorf("registered handler not invoked; stub used instead")
	}
}

func TestStubChainProvenanceAndIDs(t *testing.T) {
	call := models.ToolCallSpec{Tool: "x", CallID: "e1", Endpoint: "entries"}
	raw := &models.RawResponseEffect{ResponseID: "raw_1", Tool: "x", Body: []byte("lemma: lego")}

	ext, err := registry.StubExtract(call, raw)
	if err != nil {
		t.Fatalf("StubExtract() error = %v", err)
	}
	if ext.ExtractionID != models.ExtractionID("e1", "raw_1") {
		t.Errorf("extraction id not deterministic: %q", ext.ExtractionID)
	}

	der, err := registry.StubDerive(models.ToolCallSpec{Tool: "x", CallID: "d1"}, ext)
	if err != nil {
		t.Fatalf("StubDerive() error = %v", err)
	}
	if len(der.Provenance) != 1 || der.Provenance[0].Stage != models.StageExtract || der.Provenance[0].ReferenceID != ext.ExtractionID {
		t.Errorf("derivation provenance = %+v, want one extract link", der.Provenance)
	}

	clm, err := registry.StubClaim(models.ToolCallSpec{Tool: "x", CallID: "c1"}, der)
	if err != nil {
		t.Fatalf("StubClaim() error = %v", err)
	}
	if len(clm.Provenance) != 2 {
		t.Fatalf("claim provenance length = %d, want 2", len(clm.Provenance))
	}
	if clm.Provenance[0].Stage != models.StageExtract || clm.Provenance[1].Stage != models.StageDerive {
		t.Errorf("claim provenance stages = %v/%v, want extract/derive", clm.Provenance[0].Stage, clm.Provenance[1].Stage)
	}
	if clm.Predicate != "asserts" {
		t.Errorf("Predicate = %q, want default %q", clm.Predicate, "asserts")
	}
}
