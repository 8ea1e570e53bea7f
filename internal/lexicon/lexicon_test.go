package lexicon_test

import (
	"testing"

	"github.com/glossarium/glossarium/internal/lexicon"
	"github.com/glossarium/glossarium/pkg/models"
)

func TestNormalizeLemma(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Amō", "amo"},
		{"  lēgō ", "lego"},
		{"īnsula", "insula"},
		{"āctus", "actus"}, // combining macron
		{"mare", "mare"},
	}
	for _, tt := range tests {
		if got := lexicon.NormalizeLemma(tt.in); got != tt.want {
			t.Errorf("NormalizeLemma(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractEntries(t *testing.T) {
	call := models.ToolCallSpec{
		Tool: "lewis-short", CallID: "e1", Stage: models.StageExtract,
		Params: map[string]string{"word": "amo", models.SourceCallParam: "f1"},
	}
	raw := &models.RawResponseEffect{
		ResponseID: "raw_1",
		Tool:       "lewis-short",
		Body:       []byte("amo\tto love\n\namo\tto be fond of\n"),
	}

	ext, err := lexicon.ExtractEntries(call, raw)
	if err != nil {
		t.Fatalf("ExtractEntries() error = %v", err)
	}
	if ext.Canonical != "amo" {
		t.Errorf("Canonical = %q, want %q", ext.Canonical, "amo")
	}
	if ext.Kind != "dictionary-entry" {
		t.Errorf("Kind = %q", ext.Kind)
	}
	if ext.Payload["line_count"] != 2 {
		t.Errorf("line_count = %v, want 2", ext.Payload["line_count"])
	}
	if ext.SourceCallID != "f1" {
		t.Errorf("SourceCallID = %q, want f1", ext.SourceCallID)
	}
}

func TestExtractEntriesHeadwordFallback(t *testing.T) {
	call := models.ToolCallSpec{Tool: "lewis-short", CallID: "e1", Stage: models.StageExtract}
	raw := &models.RawResponseEffect{ResponseID: "raw_1", Body: []byte("lego\tto read, gather\n")}

	ext, err := lexicon.ExtractEntries(call, raw)
	if err != nil {
		t.Fatalf("ExtractEntries() error = %v", err)
	}
	if ext.Canonical != "lego" {
		t.Errorf("Canonical = %q, want headword of first entry", ext.Canonical)
	}
}

func TestDeriveAndClaimPipeline(t *testing.T) {
	ext := &models.ExtractionEffect{
		ExtractionID: models.ExtractionID("e1", "raw_1"),
		Tool:         "lewis-short",
		CallID:       "e1",
		Canonical:    "Amō",
		Payload:      map[string]any{"entries": []any{"amo\tto love"}, "line_count": 1},
	}

	der, err := lexicon.DeriveNormalized(models.ToolCallSpec{Tool: "lewis-short", CallID: "d1"}, ext)
	if err != nil {
		t.Fatalf("DeriveNormalized() error = %v", err)
	}
	if der.Canonical != "amo" {
		t.Errorf("derived Canonical = %q, want %q", der.Canonical, "amo")
	}
	if der.Payload["surface_form"] != "Amō" {
		t.Errorf("surface_form = %v, want original headword", der.Payload["surface_form"])
	}

	clm, err := lexicon.ClaimDefinitions(models.ToolCallSpec{Tool: "lewis-short", CallID: "c1"}, der)
	if err != nil {
		t.Fatalf("ClaimDefinitions() error = %v", err)
	}
	if clm.Subject != "amo" || clm.Predicate != "has-definition" {
		t.Errorf("claim = %q %q", clm.Subject, clm.Predicate)
	}
	if clm.Value["source_tool"] != "lewis-short" {
		t.Errorf("source_tool = %v", clm.Value["source_tool"])
	}
	if len(clm.Provenance) != 2 {
		t.Errorf("provenance length = %d, want 2", len(clm.Provenance))
	}
}
