// Package store — in-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests).
// Supports file-based snapshot persistence so effects survive restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glossarium/glossarium/pkg/models"
	"github.com/rs/zerolog/log"
)

// planCacheEntry is the stored plan-cache value.
type planCacheEntry struct {
	PlanID    string                   `json:"plan_id"`
	Responses []models.ToolResponseRef `json:"responses"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Raw         map[string]*models.RawResponseEffect `json:"raw_responses"`
	Extractions map[string]*models.ExtractionEffect  `json:"extractions"`
	Derivations map[string]*models.DerivationEffect  `json:"derivations"`
	Claims      map[string]*models.ClaimEffect       `json:"claims"`
	PlanCache   map[string]*planCacheEntry           `json:"plan_cache"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	raw         map[string]*models.RawResponseEffect // key: response_id
	extractions map[string]*models.ExtractionEffect  // key: extraction_id
	derivations map[string]*models.DerivationEffect  // key: derivation_id
	claims      map[string]*models.ClaimEffect       // key: claim_id
	planCache   map[string]*planCacheEntry           // key: plan_hash

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the background saver to stop
}

// NewMemoryStore creates a new in-memory store.
// If GLOSSARIUM_DATA_DIR is set, effects are persisted to a JSON file
// in that directory; otherwise the store is purely volatile.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		raw:         make(map[string]*models.RawResponseEffect),
		extractions: make(map[string]*models.ExtractionEffect),
		derivations: make(map[string]*models.DerivationEffect),
		claims:      make(map[string]*models.ClaimEffect),
		planCache:   make(map[string]*planCacheEntry),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	if dataDir := os.Getenv("GLOSSARIUM_DATA_DIR"); dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "effects.json")
			m.loadSnapshot()
			go m.saveLoop()
		}
	}

	return m
}

// ── Raw Response Index ───────────────────────────────────────

func (m *MemoryStore) StoreRawResponse(ctx context.Context, effect *models.RawResponseEffect) (models.ToolResponseRef, error) {
	m.mu.Lock()
	m.raw[effect.ResponseID] = effect
	m.mu.Unlock()
	m.requestSave()
	return models.ToolResponseRef{
		Tool:       effect.Tool,
		CallID:     effect.CallID,
		ResponseID: effect.ResponseID,
	}, nil
}

func (m *MemoryStore) GetRawResponse(ctx context.Context, responseID string) (*models.RawResponseEffect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	effect, ok := m.raw[responseID]
	if !ok {
		return nil, &ErrNotFound{Entity: "raw response", Key: responseID}
	}
	return effect, nil
}

// ── Extraction Index ─────────────────────────────────────────

func (m *MemoryStore) StoreExtraction(ctx context.Context, effect *models.ExtractionEffect) error {
	m.mu.Lock()
	m.extractions[effect.ExtractionID] = effect
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetExtraction(ctx context.Context, extractionID string) (*models.ExtractionEffect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	effect, ok := m.extractions[extractionID]
	if !ok {
		return nil, &ErrNotFound{Entity: "extraction", Key: extractionID}
	}
	return effect, nil
}

// ── Derivation Index ─────────────────────────────────────────

func (m *MemoryStore) StoreDerivation(ctx context.Context, effect *models.DerivationEffect) error {
	m.mu.Lock()
	m.derivations[effect.DerivationID] = effect
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetDerivation(ctx context.Context, derivationID string) (*models.DerivationEffect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	effect, ok := m.derivations[derivationID]
	if !ok {
		return nil, &ErrNotFound{Entity: "derivation", Key: derivationID}
	}
	return effect, nil
}

// ── Claim Index ──────────────────────────────────────────────

func (m *MemoryStore) StoreClaim(ctx context.Context, effect *models.ClaimEffect) error {
	m.mu.Lock()
	m.claims[effect.ClaimID] = effect
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetClaim(ctx context.Context, claimID string) (*models.ClaimEffect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	effect, ok := m.claims[claimID]
	if !ok {
		return nil, &ErrNotFound{Entity: "claim", Key: claimID}
	}
	return effect, nil
}

func (m *MemoryStore) ListClaimsBySubject(ctx context.Context, subject string, limit int) ([]models.ClaimEffect, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ClaimEffect, 0)
	for _, c := range m.claims {
		if c.Subject == subject {
			out = append(out, *c)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ── Plan Cache ───────────────────────────────────────────────

func (m *MemoryStore) GetPlanResponses(ctx context.Context, planHash string) ([]models.ToolResponseRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.planCache[planHash]
	if !ok {
		return nil, &ErrNotFound{Entity: "plan cache entry", Key: planHash}
	}
	refs := make([]models.ToolResponseRef, len(entry.Responses))
	copy(refs, entry.Responses)
	return refs, nil
}

func (m *MemoryStore) UpsertPlanResponses(ctx context.Context, planHash, planID string, refs []models.ToolResponseRef) error {
	stored := make([]models.ToolResponseRef, len(refs))
	copy(stored, refs)
	m.mu.Lock()
	m.planCache[planHash] = &planCacheEntry{
		PlanID:    planID,
		Responses: stored,
		UpdatedAt: time.Now().UTC(),
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) PrunePlanCache(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	removed := 0
	for hash, entry := range m.planCache {
		if entry.UpdatedAt.Before(cutoff) {
			delete(m.planCache, hash)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 {
		m.requestSave()
	}
	return removed, nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close flushes a final snapshot and stops the background saver.
func (m *MemoryStore) Close() error {
	if m.snapshotPath != "" {
		close(m.doneCh)
		m.save()
	}
	return nil
}

// ── Snapshot Persistence ─────────────────────────────────────

// requestSave schedules a debounced snapshot write.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default: // a save is already pending
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			// Debounce bursts of writes from one scheduling pass.
			time.Sleep(250 * time.Millisecond)
			m.save()
		}
	}
}

func (m *MemoryStore) save() {
	m.mu.RLock()
	snap := snapshot{
		Raw:         m.raw,
		Extractions: m.extractions,
		Derivations: m.derivations,
		Claims:      m.claims,
		PlanCache:   m.planCache,
	}
	data, err := json.Marshal(&snap)
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal store snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write store snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to replace store snapshot")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Cannot read store snapshot")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Corrupt store snapshot, starting empty")
		return
	}
	if snap.Raw != nil {
		m.raw = snap.Raw
	}
	if snap.Extractions != nil {
		m.extractions = snap.Extractions
	}
	if snap.Derivations != nil {
		m.derivations = snap.Derivations
	}
	if snap.Claims != nil {
		m.claims = snap.Claims
	}
	if snap.PlanCache != nil {
		m.planCache = snap.PlanCache
	}
	log.Info().
		Int("raw", len(m.raw)).
		Int("claims", len(m.claims)).
		Int("plans", len(m.planCache)).
		Msg("Store snapshot loaded")
}
