package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/adapter"
	"github.com/memvra/recall/internal/db"
)

// LongTermConfig configures a LongTermIndex.
type LongTermConfig struct {
	MinSimilarity float64
	EmbedTimeout  time.Duration
	Retry         adapter.RetryPolicy
}

// RetrieveOptions narrows a retrieval. Entries of SessionID with
// Seq >= ExcludeFromSeq are still in the rolling window and are skipped.
type RetrieveOptions struct {
	TopK           int
	SessionID      string
	ExcludeFromSeq int64
}

// LongTermIndex is the persistent, per-user partitioned store of every turn,
// searchable by embedding similarity. Every query is scoped to one user.
type LongTermIndex struct {
	db       *db.DB
	embedder adapter.Embedder
	cfg      LongTermConfig
	locks    *userLocks
	log      zerolog.Logger

	sqlSearch atomic.Bool
}

// NewLongTermIndex returns an index over database.
func NewLongTermIndex(database *db.DB, embedder adapter.Embedder, cfg LongTermConfig, log zerolog.Logger) *LongTermIndex {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = adapter.DefaultRetry
	}
	x := &LongTermIndex{
		db:       database,
		embedder: embedder,
		cfg:      cfg,
		locks:    newUserLocks(),
		log:      log,
	}
	x.sqlSearch.Store(database.VectorSupport())
	return x
}

// embed vectorizes text with bounded retries.
func (x *LongTermIndex) embed(ctx context.Context, text string) ([]float32, int, error) {
	var vec []float32
	attempts, err := x.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, x.cfg.EmbedTimeout)
		defer cancel()
		v, err := adapter.EmbedOne(ctx, x.embedder, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	return vec, attempts, err
}

// Store embeds t and persists it under userID. Storing the same
// (session, seq) twice keeps the first copy. Failures are logged and
// returned wrapped in ErrStorage; callers are expected to drop them.
func (x *LongTermIndex) Store(ctx context.Context, userID, sessionID string, t Turn) (MemoryEntry, error) {
	if userID == "" {
		return MemoryEntry{}, fmt.Errorf("longterm: store: empty user id")
	}
	if strings.TrimSpace(t.Content) == "" {
		return MemoryEntry{}, fmt.Errorf("longterm: store: empty content")
	}

	log := x.log.With().Str("user_id", userID).Str("session_id", sessionID).Int64("seq", t.Seq).Logger()

	vec, attempts, err := x.embed(ctx, t.Content)
	if err != nil {
		log.Error().Err(err).Int("attempts", attempts).Msg("dropping long-term store: embedding failed")
		return MemoryEntry{}, storageErr("embed", err)
	}

	created := t.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	entry := MemoryEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Seq:       t.Seq,
		Role:      t.Role,
		Content:   t.Content,
		Embedding: vec,
		CreatedAt: created.UTC(),
	}

	unlock := x.locks.lock(userID)
	defer unlock()

	_, err = x.db.Conn().ExecContext(ctx, `
		INSERT INTO memory_entries (id, user_id, session_id, seq, role, content, embedding, dim, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id, seq) DO NOTHING`,
		entry.ID, entry.UserID, entry.SessionID, entry.Seq, string(entry.Role), entry.Content,
		float32SliceToBlob(vec), len(vec), formatTime(entry.CreatedAt),
	)
	if err != nil {
		log.Error().Err(err).Msg("dropping long-term store: insert failed")
		return MemoryEntry{}, storageErr("insert", err)
	}
	return entry, nil
}

// Retrieve returns up to opts.TopK of userID's entries most similar to
// query, most similar first, skipping entries below the similarity floor.
func (x *LongTermIndex) Retrieve(ctx context.Context, userID, query string, opts RetrieveOptions) ([]Match, error) {
	if userID == "" || strings.TrimSpace(query) == "" || opts.TopK <= 0 {
		return nil, nil
	}

	vec, attempts, err := x.embed(ctx, query)
	if err != nil {
		x.log.Warn().Err(err).Str("user_id", userID).Int("attempts", attempts).Msg("retrieval embedding failed")
		return nil, storageErr("embed query", err)
	}

	var matches []Match
	if x.sqlSearch.Load() {
		matches, err = x.searchSQL(ctx, userID, vec, opts)
		if err != nil {
			if strings.Contains(err.Error(), "no such function") {
				x.sqlSearch.Store(false)
			}
			x.log.Debug().Err(err).Msg("sqlite-vec search failed, scanning partition")
		}
	}
	if matches == nil {
		matches, err = x.searchScan(ctx, userID, vec, opts)
		if err != nil {
			return nil, storageErr("search", err)
		}
	}
	return rankMatches(matches, x.cfg.MinSimilarity, opts.TopK), nil
}

// exclusion returns the SQL clause and args that skip turns still in the
// rolling window.
func exclusion(opts RetrieveOptions) (string, []any) {
	if opts.SessionID == "" || opts.ExcludeFromSeq <= 0 {
		return "", nil
	}
	return ` AND NOT (session_id = ? AND seq >= ?)`, []any{opts.SessionID, opts.ExcludeFromSeq}
}

// searchSQL ranks inside SQLite with sqlite-vec's cosine distance.
func (x *LongTermIndex) searchSQL(ctx context.Context, userID string, query []float32, opts RetrieveOptions) ([]Match, error) {
	clause, extra := exclusion(opts)
	args := append([]any{float32SliceToBlob(query), userID, len(query)}, extra...)
	args = append(args, opts.TopK)

	rows, err := x.db.Conn().QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, created_at,
		       vec_distance_cosine(embedding, ?) AS distance
		FROM memory_entries
		WHERE user_id = ? AND dim = ?`+clause+`
		ORDER BY distance ASC, created_at ASC, id ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Match{}
	for rows.Next() {
		var (
			m        Match
			role     string
			created  string
			distance sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Content, &created, &distance); err != nil {
			return nil, err
		}
		if !distance.Valid {
			continue
		}
		m.UserID = userID
		m.Role = Role(role)
		m.CreatedAt = parseTime(created)
		m.Similarity = 1 - distance.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}

// searchScan computes similarity in Go over the user's partition.
func (x *LongTermIndex) searchScan(ctx context.Context, userID string, query []float32, opts RetrieveOptions) ([]Match, error) {
	clause, extra := exclusion(opts)
	args := append([]any{userID}, extra...)

	rows, err := x.db.Conn().QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, created_at, embedding
		FROM memory_entries
		WHERE user_id = ?`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Match{}
	for rows.Next() {
		var (
			m       Match
			role    string
			created string
			blob    []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Content, &created, &blob); err != nil {
			return nil, err
		}
		vec := BlobToFloat32Slice(blob)
		if len(vec) != len(query) {
			continue
		}
		m.UserID = userID
		m.Role = Role(role)
		m.CreatedAt = parseTime(created)
		m.Similarity = CosineSimilarity(query, vec)
		out = append(out, m)
	}
	return out, rows.Err()
}

// List returns every entry of userID in insertion order, without vectors.
func (x *LongTermIndex) List(ctx context.Context, userID string) ([]MemoryEntry, error) {
	rows, err := x.db.Conn().QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, created_at
		FROM memory_entries WHERE user_id = ?
		ORDER BY created_at ASC, session_id ASC, seq ASC`, userID)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	var out []MemoryEntry
	for rows.Next() {
		var (
			e       MemoryEntry
			role    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Seq, &role, &e.Content, &created); err != nil {
			return nil, storageErr("list", err)
		}
		e.UserID = userID
		e.Role = Role(role)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return out, nil
}

// Count returns how many entries userID has.
func (x *LongTermIndex) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := x.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries WHERE user_id = ?`, userID).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// Erase permanently deletes every entry of userID and returns how many
// were removed. Erasing an empty partition is not an error.
func (x *LongTermIndex) Erase(ctx context.Context, userID string) (int, error) {
	unlock := x.locks.lock(userID)
	defer unlock()

	res, err := x.db.Conn().ExecContext(ctx, `DELETE FROM memory_entries WHERE user_id = ?`, userID)
	if err != nil {
		return 0, storageErr("erase", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
