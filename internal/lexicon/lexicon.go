// Package lexicon provides the built-in registry handlers for
// dictionary-entry pipelines. They are pure functions: extract splits
// a raw body into entry lines, derive normalizes the headword, claim
// emits the attributable definition assertion.
//
// Backend-specific payload parsing belongs here (or in other handler
// packages), never in the engine.
package lexicon

import (
	"strings"

	"github.com/glossarium/glossarium/internal/registry"
	"github.com/glossarium/glossarium/pkg/models"
)

// Register installs the dictionary-entry handlers for a tool.
func Register(r *registry.ToolRegistry, tool string) {
	r.RegisterExtract(tool, ExtractEntries)
	r.RegisterDerive(tool, DeriveNormalized)
	r.RegisterClaim(tool, ClaimDefinitions)
}

// ExtractEntries splits a line-oriented raw body into entry lines.
// The canonical form is the queried word when present, else the
// headword of the first entry.
func ExtractEntries(call models.ToolCallSpec, raw *models.RawResponseEffect) (*models.ExtractionEffect, error) {
	var entries []string
	for _, line := range strings.Split(string(raw.Body), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			entries = append(entries, line)
		}
	}

	canonical := call.Params["word"]
	if canonical == "" && len(entries) > 0 {
		canonical, _, _ = strings.Cut(entries[0], "\t")
	}

	payload := map[string]any{"line_count": len(entries)}
	if len(entries) > 0 {
		vals := make([]any, len(entries))
		for i, e := range entries {
			vals[i] = e
		}
		payload["entries"] = vals
	}

	return &models.ExtractionEffect{
		ExtractionID: models.ExtractionID(call.CallID, raw.ResponseID),
		Tool:         call.Tool,
		CallID:       call.CallID,
		SourceCallID: call.SourceCallID(),
		ResponseID:   raw.ResponseID,
		Kind:         "dictionary-entry",
		Canonical:    canonical,
		Payload:      payload,
	}, nil
}

// DeriveNormalized lowercases the canonical form and strips the vowel
// length marks dictionaries print but cross-tool comparison must
// ignore.
func DeriveNormalized(call models.ToolCallSpec, ext *models.ExtractionEffect) (*models.DerivationEffect, error) {
	payload := make(map[string]any, len(ext.Payload)+1)
	for k, v := range ext.Payload {
		payload[k] = v
	}
	payload["surface_form"] = ext.Canonical

	return &models.DerivationEffect{
		DerivationID: models.DerivationID(call.CallID, ext.ExtractionID),
		Tool:         call.Tool,
		CallID:       call.CallID,
		SourceCallID: call.SourceCallID(),
		ExtractionID: ext.ExtractionID,
		Kind:         "normalized-lemma",
		Canonical:    NormalizeLemma(ext.Canonical),
		Payload:      payload,
		Provenance:   models.AppendLink(nil, models.StageExtract, ext.Tool, ext.ExtractionID),
	}, nil
}

// ClaimDefinitions asserts that the normalized lemma has the extracted
// definitions, attributed to the producing tool.
func ClaimDefinitions(call models.ToolCallSpec, der *models.DerivationEffect) (*models.ClaimEffect, error) {
	value := map[string]any{"source_tool": der.Tool}
	if entries, ok := der.Payload["entries"]; ok {
		value["definitions"] = entries
	}

	return &models.ClaimEffect{
		ClaimID:      models.ClaimID(call.CallID, der.DerivationID),
		Tool:         call.Tool,
		CallID:       call.CallID,
		SourceCallID: call.SourceCallID(),
		DerivationID: der.DerivationID,
		Subject:      der.Canonical,
		Predicate:    "has-definition",
		Value:        value,
		Provenance:   models.AppendLink(der.Provenance, models.StageDerive, der.Tool, der.DerivationID),
	}, nil
}

// lengthMarks maps macron/breve vowels to their plain forms. Both the
// precomposed code points and the combining marks appear in scraped
// dictionary text.
var lengthMarks = strings.NewReplacer(
	"ā", "a", "ē", "e", "ī", "i", "ō", "o", "ū", "u", "ȳ", "y",
	"Ā", "a", "Ē", "e", "Ī", "i", "Ō", "o", "Ū", "u", "Ȳ", "y",
	"ă", "a", "ĕ", "e", "ĭ", "i", "ŏ", "o", "ŭ", "u",
	"Ă", "a", "Ĕ", "e", "Ĭ", "i", "Ŏ", "o", "Ŭ", "u",
	"̄", "", "̆", "", // combining macron, combining breve
)

// NormalizeLemma produces the cross-tool comparison form of a
// headword: lowercase, no vowel length marks, no surrounding space.
func NormalizeLemma(word string) string {
	return strings.ToLower(lengthMarks.Replace(strings.TrimSpace(word)))
}
