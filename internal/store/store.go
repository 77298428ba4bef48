// Package store persists the knowledge base in PostgreSQL with pgvector.
//
// It owns the Section and Generation data (two full blue/green copies plus a
// single active-generation pointer), the semantic-cache entries, and the
// interaction audit records. Row expiry is implemented with expires_at
// columns: reads filter expired rows and PurgeExpired deletes them.
//
// Store is safe for concurrent use by multiple goroutines.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

var (
	// ErrSearchUnavailable indicates the vector search backend failed.
	// Recoverable: callers treat it as "no context found", never as fatal.
	ErrSearchUnavailable = errors.New("vector search unavailable")

	// ErrNotFound indicates the requested record does not exist or has expired.
	ErrNotFound = errors.New("not found")
)

// Singleton app_state keys.
const (
	keyActiveGeneration  = "active_generation"
	keyEmbeddingsVersion = "embeddings_version"
)

// Retention policy for interaction records.
const (
	// interactionTTL is the default retention of an interaction record.
	interactionTTL = 10 * time.Minute

	// feedbackTTL is the extended retention once feedback is recorded, so
	// the nightly export job and follow-up reads can still find it.
	feedbackTTL = 90 * 24 * time.Hour
)

// NewPool creates a pgx connection pool with the pgvector codecs registered
// on every connection.
func NewPool(ctx context.Context, connURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Store provides vector search over the section generations plus the
// interaction and semantic-cache records.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on an existing pool. The pool must have been created
// with NewPool (or otherwise have pgvector types registered).
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// SearchSections returns the k nearest sections of one generation, best
// first. Distances come back ascending from pgvector and are projected to
// similarity = 1 − distance at this boundary. A backend failure returns
// ErrSearchUnavailable; callers must treat that as "no context found".
func (s *Store) SearchSections(ctx context.Context, gen Generation, queryVec []float32, k int) ([]SectionMatch, error) {
	if !gen.Valid() {
		return nil, fmt.Errorf("searching sections: invalid generation %q", gen)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT header, body, anchor_url, num_tokens, 1 - (embedding <=> $2) AS similarity
		FROM sections
		WHERE generation = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		string(gen), pgvector.NewVector(queryVec), k)
	if err != nil {
		s.logger.Error("section search failed", "generation", gen, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer rows.Close()

	var matches []SectionMatch
	for rows.Next() {
		var m SectionMatch
		if err := rows.Scan(&m.Header, &m.Body, &m.AnchorURL, &m.NumTokens, &m.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scanning section row: %v", ErrSearchUnavailable, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	return matches, nil
}

// PutSections upserts sections into one generation, keyed by header.
// Idempotent: re-running a reindex overwrites rather than duplicates.
func (s *Store) PutSections(ctx context.Context, gen Generation, sections []Section) error {
	if !gen.Valid() {
		return fmt.Errorf("putting sections: invalid generation %q", gen)
	}

	batch := &pgx.Batch{}
	for _, sec := range sections {
		batch.Queue(`
			INSERT INTO sections (generation, header, body, anchor_url, num_tokens, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (generation, header) DO UPDATE
			SET body = EXCLUDED.body,
			    anchor_url = EXCLUDED.anchor_url,
			    num_tokens = EXCLUDED.num_tokens,
			    embedding = EXCLUDED.embedding`,
			string(gen), sec.Header, sec.Body, sec.AnchorURL, sec.NumTokens, pgvector.NewVector(sec.Embedding))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer func() {
		if err := br.Close(); err != nil {
			s.logger.Warn("closing section batch", "error", err)
		}
	}()

	for range sections {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting section into %s: %w", gen, err)
		}
	}

	s.logger.Debug("sections stored", "generation", gen, "count", len(sections))
	return nil
}

// DeleteAllSections clears one generation before a rebuild.
func (s *Store) DeleteAllSections(ctx context.Context, gen Generation) error {
	if !gen.Valid() {
		return fmt.Errorf("deleting sections: invalid generation %q", gen)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sections WHERE generation = $1`, string(gen))
	if err != nil {
		return fmt.Errorf("deleting sections from %s: %w", gen, err)
	}
	s.logger.Info("sections deleted", "generation", gen, "count", tag.RowsAffected())
	return nil
}

// ActiveGeneration reads the global active-generation pointer. If no pointer
// exists yet (first startup) the default is written once with
// ON CONFLICT DO NOTHING, so a lost race is harmless.
func (s *Store) ActiveGeneration(ctx context.Context) (Generation, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM app_state WHERE key = $1`, keyActiveGeneration).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO app_state (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			keyActiveGeneration, string(DefaultGeneration)); err != nil {
			return "", fmt.Errorf("initializing active generation: %w", err)
		}
		// Re-read: a concurrent writer may have won the insert.
		err = s.pool.QueryRow(ctx,
			`SELECT value FROM app_state WHERE key = $1`, keyActiveGeneration).Scan(&value)
	}
	if err != nil {
		return "", fmt.Errorf("reading active generation: %w", err)
	}
	return ParseGeneration(value)
}

// SetActiveGeneration atomically replaces the active-generation pointer.
// The value is fully replaced in a single statement, so no reader ever
// observes a torn pointer.
func (s *Store) SetActiveGeneration(ctx context.Context, gen Generation) error {
	if !gen.Valid() {
		return fmt.Errorf("setting active generation: invalid generation %q", gen)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		keyActiveGeneration, string(gen))
	if err != nil {
		return fmt.Errorf("setting active generation: %w", err)
	}
	s.logger.Info("active generation switched", "generation", gen)
	return nil
}

// PassiveGeneration returns the generation not currently serving traffic.
func (s *Store) PassiveGeneration(ctx context.Context) (Generation, error) {
	active, err := s.ActiveGeneration(ctx)
	if err != nil {
		return "", err
	}
	return active.Passive(), nil
}

// EmbeddingsVersion returns the date stamp of the last validated reindex,
// or the empty string when none has run yet.
func (s *Store) EmbeddingsVersion(ctx context.Context) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM app_state WHERE key = $1`, keyEmbeddingsVersion).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading embeddings version: %w", err)
	}
	return value, nil
}

// SetEmbeddingsVersion stamps the embeddings version, stored as YYYY-MM-DD.
func (s *Store) SetEmbeddingsVersion(ctx context.Context, day time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		keyEmbeddingsVersion, day.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("setting embeddings version: %w", err)
	}
	return nil
}

// SaveInteraction inserts one audit record with the default short retention.
func (s *Store) SaveInteraction(ctx context.Context, in Interaction) error {
	if in.Feedback == "" {
		in.Feedback = FeedbackNotGiven
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interactions
			(id, query, reply, request_duration, completion_duration,
			 feedback, comment, from_cache, original_query, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now() + make_interval(secs => $10))`,
		in.ID, in.Query, in.Reply,
		in.RequestDuration.Seconds(), in.CompletionDuration.Seconds(),
		in.Feedback, in.Comment, in.FromCache, in.OriginalQuery,
		interactionTTL.Seconds())
	if err != nil {
		return fmt.Errorf("saving interaction %s: %w", in.ID, err)
	}
	s.logger.Debug("interaction saved", "id", in.ID, "from_cache", in.FromCache)
	return nil
}

// GetInteraction fetches one interaction; expired records count as missing.
func (s *Store) GetInteraction(ctx context.Context, id uuid.UUID) (*Interaction, error) {
	var (
		in           Interaction
		reqSecs      float64
		completeSecs float64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, query, reply, request_duration, completion_duration,
		       feedback, comment, from_cache, original_query, created_at
		FROM interactions
		WHERE id = $1 AND expires_at > now()`, id).
		Scan(&in.ID, &in.Query, &in.Reply, &reqSecs, &completeSecs,
			&in.Feedback, &in.Comment, &in.FromCache, &in.OriginalQuery, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting interaction %s: %w", id, err)
	}
	in.RequestDuration = time.Duration(reqSecs * float64(time.Second))
	in.CompletionDuration = time.Duration(completeSecs * float64(time.Second))
	return &in, nil
}

// SetFeedback records user feedback on an interaction and extends its
// retention to 90 days. Returns ErrNotFound when the interaction is missing
// or already expired.
func (s *Store) SetFeedback(ctx context.Context, id uuid.UUID, feedback, comment string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interactions
		SET feedback = $2, comment = $3, expires_at = now() + make_interval(secs => $4)
		WHERE id = $1 AND expires_at > now()`,
		id, feedback, comment, feedbackTTL.Seconds())
	if err != nil {
		return fmt.Errorf("recording feedback for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("feedback recorded", "id", id, "feedback", feedback)
	return nil
}

// UpsertCacheEntry writes one semantic-cache entry keyed by the literal
// query text. Concurrent writers for the same query overwrite each other
// with equivalent data; last-write-wins is acceptable here.
func (s *Store) UpsertCacheEntry(ctx context.Context, query, reply string, sections []SectionRef, embedding []float32, ttl time.Duration) error {
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshaling section refs: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cache_entries (query, reply, section_headers, embedding, created_at, expires_at)
		VALUES ($1, $2, $3, $4, now(), now() + make_interval(secs => $5))
		ON CONFLICT (query) DO UPDATE
		SET reply = EXCLUDED.reply,
		    section_headers = EXCLUDED.section_headers,
		    embedding = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at`,
		query, reply, sectionsJSON, pgvector.NewVector(embedding), ttl.Seconds())
	if err != nil {
		return fmt.Errorf("upserting cache entry: %w", err)
	}
	return nil
}

// NearestCacheEntry runs a 1-nearest-neighbor search over the non-expired
// cache entries. Returns (nil, nil) when the cache is empty.
func (s *Store) NearestCacheEntry(ctx context.Context, queryVec []float32) (*CacheHit, error) {
	var (
		hit          CacheHit
		sectionsJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT query, reply, section_headers, 1 - (embedding <=> $1) AS similarity
		FROM cache_entries
		WHERE expires_at > now()
		ORDER BY embedding <=> $1
		LIMIT 1`, pgvector.NewVector(queryVec)).
		Scan(&hit.Query, &hit.Reply, &sectionsJSON, &hit.Similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cache lookup: %v", ErrSearchUnavailable, err)
	}
	if err := json.Unmarshal(sectionsJSON, &hit.Sections); err != nil {
		s.logger.Warn("unparseable section refs in cache entry", "query", hit.Query, "error", err)
		hit.Sections = nil
	}
	return &hit, nil
}

// DeleteAllCacheEntries flushes the semantic cache. Called after a reindex
// swap: old answers were generated against embeddings that no longer exist.
func (s *Store) DeleteAllCacheEntries(ctx context.Context) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("flushing semantic cache: %w", err)
	}
	s.logger.Info("semantic cache flushed", "count", tag.RowsAffected())
	return nil
}

// PurgeExpired deletes expired interactions and cache entries. Run
// periodically (cmd purge); reads already filter on expires_at, so this is
// housekeeping, not correctness.
func (s *Store) PurgeExpired(ctx context.Context) (interactions, cacheEntries int64, err error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM interactions WHERE expires_at <= now()`)
	if err != nil {
		return 0, 0, fmt.Errorf("purging interactions: %w", err)
	}
	interactions = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= now()`)
	if err != nil {
		return interactions, 0, fmt.Errorf("purging cache entries: %w", err)
	}
	cacheEntries = tag.RowsAffected()

	s.logger.Info("purged expired records",
		"interactions", interactions, "cache_entries", cacheEntries)
	return interactions, cacheEntries, nil
}
