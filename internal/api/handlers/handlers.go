// Package handlers implements the HTTP handlers for the Glossarium
// server: plan submission and claim/lineage queries. The planner that
// builds ToolPlans lives upstream; handlers only validate shape and
// hand plans to the engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/glossarium/glossarium/internal/engine"
	"github.com/glossarium/glossarium/internal/store"
	"github.com/glossarium/glossarium/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store  store.Store
	Engine *engine.Engine
}

// New creates a Handlers instance.
func New(s store.Store, e *engine.Engine) *Handlers {
	return &Handlers{Store: s, Engine: e}
}

// ── Plan Execution ───────────────────────────────────────────

// ExecutePlan accepts a ToolPlan and runs it through the engine.
func (h *Handlers) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	var plan models.ToolPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid plan body")
		return
	}
	if len(plan.ToolCalls) == 0 {
		respondError(w, http.StatusBadRequest, "Plan has no tool calls")
		return
	}
	if plan.PlanID == "" {
		plan.PlanID = uuid.New().String()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	artifacts, err := h.Engine.ExecutePlan(r.Context(), &plan)
	if err != nil {
		respondError(w, executionStatus(err), err.Error())
		return
	}

	log.Info().
		Str("plan_id", plan.PlanID).
		Int("claims", len(artifacts.Claims)).
		Bool("from_cache", artifacts.FromCache).
		Msg("Plan executed via API")
	respondJSON(w, http.StatusOK, artifacts)
}

// executionStatus maps engine errors onto HTTP statuses: plan-shape
// problems are the caller's fault, missing collaborators are failed
// dependencies.
func executionStatus(err error) int {
	var (
		cycle       *engine.DependencyCycleError
		unsupported *engine.UnsupportedStageError
		noClient    *engine.MissingClientError
		noHandler   *engine.MissingHandlerError
		noSource    *engine.MissingSourceEffectError
	)
	switch {
	case errors.As(err, &cycle), errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity
	case errors.As(err, &noClient), errors.As(err, &noHandler), errors.As(err, &noSource):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// ── Claims ───────────────────────────────────────────────────

// ListClaims returns claims for a subject (exact match on the
// normalized lemma).
func (h *Handlers) ListClaims(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		respondError(w, http.StatusBadRequest, "Missing subject query parameter")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	claims, err := h.Store.ListClaimsBySubject(r.Context(), subject, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if claims == nil {
		claims = []models.ClaimEffect{}
	}
	respondJSON(w, http.StatusOK, claims)
}

// GetClaim returns a single claim by id.
func (h *Handlers) GetClaim(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claimId")

	claim, err := h.Store.GetClaim(r.Context(), claimID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, claim)
}

// ── Lineage ──────────────────────────────────────────────────

// Lineage is the fully resolved audit trail of one claim: every
// upstream effect back to the raw response.
type Lineage struct {
	Claim       *models.ClaimEffect       `json:"claim"`
	Derivation  *models.DerivationEffect  `json:"derivation,omitempty"`
	Extraction  *models.ExtractionEffect  `json:"extraction,omitempty"`
	RawResponse *models.RawResponseEffect `json:"raw_response,omitempty"`
}

// GetLineage reconstructs a claim's lineage by walking its effect ids
// backward through the indices.
func (h *Handlers) GetLineage(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claimId")
	ctx := r.Context()

	claim, err := h.Store.GetClaim(ctx, claimID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	lineage := Lineage{Claim: claim}
	if der, err := h.Store.GetDerivation(ctx, claim.DerivationID); err == nil {
		lineage.Derivation = der
		if ext, err := h.Store.GetExtraction(ctx, der.ExtractionID); err == nil {
			lineage.Extraction = ext
			if raw, err := h.Store.GetRawResponse(ctx, ext.ResponseID); err == nil {
				lineage.RawResponse = raw
			}
		}
	}

	respondJSON(w, http.StatusOK, lineage)
}

// ── Response Helpers ─────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
