package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glossarium/glossarium/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL via pgx. Effect writes
// are per-key upserts (ON CONFLICT DO UPDATE); since derived-effect
// ids are deterministic, re-running a plan overwrites rows with
// identical content instead of creating duplicates.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and creates the effect
// tables if they don't exist.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL effect store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS gl_raw_responses (
			response_id       TEXT PRIMARY KEY,
			tool              TEXT NOT NULL,
			call_id           TEXT NOT NULL,
			endpoint          TEXT NOT NULL DEFAULT '',
			status_code       INT NOT NULL DEFAULT 0,
			content_type      TEXT NOT NULL DEFAULT '',
			headers           JSONB NOT NULL DEFAULT '{}',
			body              BYTEA,
			received_at       TIMESTAMPTZ NOT NULL,
			fetch_duration_ms BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS gl_extractions (
			extraction_id  TEXT PRIMARY KEY,
			tool           TEXT NOT NULL,
			call_id        TEXT NOT NULL,
			source_call_id TEXT NOT NULL DEFAULT '',
			response_id    TEXT NOT NULL,
			kind           TEXT NOT NULL DEFAULT '',
			canonical      TEXT NOT NULL DEFAULT '',
			payload        JSONB NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS gl_derivations (
			derivation_id  TEXT PRIMARY KEY,
			tool           TEXT NOT NULL,
			call_id        TEXT NOT NULL,
			source_call_id TEXT NOT NULL DEFAULT '',
			extraction_id  TEXT NOT NULL,
			kind           TEXT NOT NULL DEFAULT '',
			canonical      TEXT NOT NULL DEFAULT '',
			payload        JSONB NOT NULL DEFAULT '{}',
			provenance     JSONB NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS gl_claims (
			claim_id       TEXT PRIMARY KEY,
			tool           TEXT NOT NULL,
			call_id        TEXT NOT NULL,
			source_call_id TEXT NOT NULL DEFAULT '',
			derivation_id  TEXT NOT NULL,
			subject        TEXT NOT NULL DEFAULT '',
			predicate      TEXT NOT NULL DEFAULT '',
			value          JSONB NOT NULL DEFAULT '{}',
			provenance     JSONB NOT NULL DEFAULT '[]'
		);

		CREATE INDEX IF NOT EXISTS idx_gl_claims_subject ON gl_claims (subject);

		CREATE TABLE IF NOT EXISTS gl_plan_cache (
			plan_hash  TEXT PRIMARY KEY,
			plan_id    TEXT NOT NULL,
			responses  JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Raw Response Index ───────────────────────────────────────

func (s *PostgresStore) StoreRawResponse(ctx context.Context, effect *models.RawResponseEffect) (models.ToolResponseRef, error) {
	headers, err := json.Marshal(effect.Headers)
	if err != nil {
		return models.ToolResponseRef{}, fmt.Errorf("marshal headers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gl_raw_responses
			(response_id, tool, call_id, endpoint, status_code, content_type, headers, body, received_at, fetch_duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (response_id) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			headers = EXCLUDED.headers,
			body = EXCLUDED.body,
			received_at = EXCLUDED.received_at,
			fetch_duration_ms = EXCLUDED.fetch_duration_ms`,
		effect.ResponseID, effect.Tool, effect.CallID, effect.Endpoint, effect.StatusCode,
		effect.ContentType, headers, effect.Body, effect.ReceivedAt, effect.FetchDuration)
	if err != nil {
		return models.ToolResponseRef{}, fmt.Errorf("store raw response: %w", err)
	}
	return models.ToolResponseRef{
		Tool:       effect.Tool,
		CallID:     effect.CallID,
		ResponseID: effect.ResponseID,
	}, nil
}

func (s *PostgresStore) GetRawResponse(ctx context.Context, responseID string) (*models.RawResponseEffect, error) {
	var effect models.RawResponseEffect
	var headers []byte
	err := s.pool.QueryRow(ctx, `
		SELECT response_id, tool, call_id, endpoint, status_code, content_type, headers, body, received_at, fetch_duration_ms
		FROM gl_raw_responses WHERE response_id = $1`, responseID).
		Scan(&effect.ResponseID, &effect.Tool, &effect.CallID, &effect.Endpoint, &effect.StatusCode,
			&effect.ContentType, &headers, &effect.Body, &effect.ReceivedAt, &effect.FetchDuration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "raw response", Key: responseID}
	}
	if err != nil {
		return nil, fmt.Errorf("get raw response: %w", err)
	}
	if err := json.Unmarshal(headers, &effect.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return &effect, nil
}

// ── Extraction Index ─────────────────────────────────────────

func (s *PostgresStore) StoreExtraction(ctx context.Context, effect *models.ExtractionEffect) error {
	payload, err := json.Marshal(effect.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gl_extractions
			(extraction_id, tool, call_id, source_call_id, response_id, kind, canonical, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (extraction_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			canonical = EXCLUDED.canonical,
			payload = EXCLUDED.payload`,
		effect.ExtractionID, effect.Tool, effect.CallID, effect.SourceCallID,
		effect.ResponseID, effect.Kind, effect.Canonical, payload)
	if err != nil {
		return fmt.Errorf("store extraction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExtraction(ctx context.Context, extractionID string) (*models.ExtractionEffect, error) {
	var effect models.ExtractionEffect
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT extraction_id, tool, call_id, source_call_id, response_id, kind, canonical, payload
		FROM gl_extractions WHERE extraction_id = $1`, extractionID).
		Scan(&effect.ExtractionID, &effect.Tool, &effect.CallID, &effect.SourceCallID,
			&effect.ResponseID, &effect.Kind, &effect.Canonical, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "extraction", Key: extractionID}
	}
	if err != nil {
		return nil, fmt.Errorf("get extraction: %w", err)
	}
	if err := json.Unmarshal(payload, &effect.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &effect, nil
}

// ── Derivation Index ─────────────────────────────────────────

func (s *PostgresStore) StoreDerivation(ctx context.Context, effect *models.DerivationEffect) error {
	payload, err := json.Marshal(effect.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	provenance, err := json.Marshal(effect.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gl_derivations
			(derivation_id, tool, call_id, source_call_id, extraction_id, kind, canonical, payload, provenance)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (derivation_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			canonical = EXCLUDED.canonical,
			payload = EXCLUDED.payload,
			provenance = EXCLUDED.provenance`,
		effect.DerivationID, effect.Tool, effect.CallID, effect.SourceCallID,
		effect.ExtractionID, effect.Kind, effect.Canonical, payload, provenance)
	if err != nil {
		return fmt.Errorf("store derivation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDerivation(ctx context.Context, derivationID string) (*models.DerivationEffect, error) {
	var effect models.DerivationEffect
	var payload, provenance []byte
	err := s.pool.QueryRow(ctx, `
		SELECT derivation_id, tool, call_id, source_call_id, extraction_id, kind, canonical, payload, provenance
		FROM gl_derivations WHERE derivation_id = $1`, derivationID).
		Scan(&effect.DerivationID, &effect.Tool, &effect.CallID, &effect.SourceCallID,
			&effect.ExtractionID, &effect.Kind, &effect.Canonical, &payload, &provenance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "derivation", Key: derivationID}
	}
	if err != nil {
		return nil, fmt.Errorf("get derivation: %w", err)
	}
	if err := json.Unmarshal(payload, &effect.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(provenance, &effect.Provenance); err != nil {
		return nil, fmt.Errorf("unmarshal provenance: %w", err)
	}
	return &effect, nil
}

// ── Claim Index ──────────────────────────────────────────────

func (s *PostgresStore) StoreClaim(ctx context.Context, effect *models.ClaimEffect) error {
	value, err := json.Marshal(effect.Value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	provenance, err := json.Marshal(effect.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gl_claims
			(claim_id, tool, call_id, source_call_id, derivation_id, subject, predicate, value, provenance)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (claim_id) DO UPDATE SET
			subject = EXCLUDED.subject,
			predicate = EXCLUDED.predicate,
			value = EXCLUDED.value,
			provenance = EXCLUDED.provenance`,
		effect.ClaimID, effect.Tool, effect.CallID, effect.SourceCallID,
		effect.DerivationID, effect.Subject, effect.Predicate, value, provenance)
	if err != nil {
		return fmt.Errorf("store claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, claimID string) (*models.ClaimEffect, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT claim_id, tool, call_id, source_call_id, derivation_id, subject, predicate, value, provenance
		FROM gl_claims WHERE claim_id = $1`, claimID)
	effect, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "claim", Key: claimID}
	}
	return effect, err
}

func (s *PostgresStore) ListClaimsBySubject(ctx context.Context, subject string, limit int) ([]models.ClaimEffect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT claim_id, tool, call_id, source_call_id, derivation_id, subject, predicate, value, provenance
		FROM gl_claims WHERE subject = $1 LIMIT $2`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	out := make([]models.ClaimEffect, 0)
	for rows.Next() {
		effect, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *effect)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*models.ClaimEffect, error) {
	var effect models.ClaimEffect
	var value, provenance []byte
	if err := row.Scan(&effect.ClaimID, &effect.Tool, &effect.CallID, &effect.SourceCallID,
		&effect.DerivationID, &effect.Subject, &effect.Predicate, &value, &provenance); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(value, &effect.Value); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	if err := json.Unmarshal(provenance, &effect.Provenance); err != nil {
		return nil, fmt.Errorf("unmarshal provenance: %w", err)
	}
	return &effect, nil
}

// ── Plan Cache ───────────────────────────────────────────────

func (s *PostgresStore) GetPlanResponses(ctx context.Context, planHash string) ([]models.ToolResponseRef, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT responses FROM gl_plan_cache WHERE plan_hash = $1`, planHash).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "plan cache entry", Key: planHash}
	}
	if err != nil {
		return nil, fmt.Errorf("get plan cache: %w", err)
	}
	var refs []models.ToolResponseRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("unmarshal plan cache: %w", err)
	}
	return refs, nil
}

func (s *PostgresStore) UpsertPlanResponses(ctx context.Context, planHash, planID string, refs []models.ToolResponseRef) error {
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal plan cache: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gl_plan_cache (plan_hash, plan_id, responses, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (plan_hash) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			responses = EXCLUDED.responses,
			updated_at = NOW()`,
		planHash, planID, data)
	if err != nil {
		return fmt.Errorf("upsert plan cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) PrunePlanCache(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM gl_plan_cache WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune plan cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
