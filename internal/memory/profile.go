package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/adapter"
	"github.com/memvra/recall/internal/db"
)

// ProfileConfig configures a ProfileStore.
type ProfileConfig struct {
	Model            string
	DedupThreshold   float64 // cosine similarity at or above which facts are duplicates
	JaccardThreshold float64 // word overlap used when embeddings are unavailable
	MaxFacts         int
	MaxExtracts      int
	EmbedTimeout     time.Duration
	Retry            adapter.RetryPolicy
}

// MergeReport counts what a merge did.
type MergeReport struct {
	Added      int
	Superseded int
	Duplicates int
	Evicted    int
}

// ProfileStore accumulates deduplicated facts per user. A newer fact about
// an attribute replaces the older one.
type ProfileStore struct {
	db       *db.DB
	gen      adapter.Generator
	embedder adapter.Embedder
	cfg      ProfileConfig
	locks    *userLocks
	log      zerolog.Logger
}

// NewProfileStore returns a store over database. embedder may be nil, in
// which case duplicates are detected by word overlap only.
func NewProfileStore(database *db.DB, gen adapter.Generator, embedder adapter.Embedder, cfg ProfileConfig, log zerolog.Logger) *ProfileStore {
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.9
	}
	if cfg.JaccardThreshold <= 0 {
		cfg.JaccardThreshold = 0.8
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = 50
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = adapter.DefaultRetry
	}
	return &ProfileStore{
		db:       database,
		gen:      gen,
		embedder: embedder,
		cfg:      cfg,
		locks:    newUserLocks(),
		log:      log,
	}
}

// ExtractAndMerge extracts facts from recent turns and merges them into
// userID's profile.
func (p *ProfileStore) ExtractAndMerge(ctx context.Context, userID string, recent []Turn) (MergeReport, error) {
	if p.gen == nil || len(recent) == 0 {
		return MergeReport{}, nil
	}
	candidates, err := ExtractFacts(ctx, p.gen, p.cfg.Model, recent, p.cfg.MaxExtracts)
	if err != nil {
		return MergeReport{}, fmt.Errorf("profile: extract: %w", err)
	}
	return p.Merge(ctx, userID, candidates)
}

// Merge folds candidates into userID's profile: same-attribute facts are
// superseded unless the new text says the same thing, and near-duplicates
// of any existing fact only refresh its timestamp.
func (p *ProfileStore) Merge(ctx context.Context, userID string, candidates []FactCandidate) (MergeReport, error) {
	var report MergeReport
	if userID == "" {
		return report, fmt.Errorf("profile: merge: empty user id")
	}
	if len(candidates) == 0 {
		return report, nil
	}

	unlock := p.locks.lock(userID)
	defer unlock()

	facts, err := p.load(ctx, userID, true)
	if err != nil {
		return report, err
	}

	for _, c := range candidates {
		text := strings.TrimSpace(c.Fact)
		if text == "" {
			continue
		}
		attr := normalizeAttribute(c.Attribute)
		vec := p.embed(ctx, text)
		now := time.Now().UTC()

		if i := findAttribute(facts, attr); i >= 0 {
			old := facts[i]
			if p.nearDuplicate(old, text, vec) {
				if err := p.touch(ctx, old.ID, now); err != nil {
					return report, err
				}
				facts[i].UpdatedAt = now
				report.Duplicates++
				continue
			}
			if err := p.replace(ctx, old.ID, attr, text, vec, now); err != nil {
				return report, err
			}
			p.log.Info().Err(ConsolidationConflict{UserID: userID, Attribute: attr, Old: old.Text, New: text}).
				Str("user_id", userID).Msg("profile fact superseded")
			facts[i].Text, facts[i].Embedding, facts[i].UpdatedAt = text, vec, now
			report.Superseded++
			continue
		}

		if i := p.findDuplicate(facts, text, vec); i >= 0 {
			keep := facts[i]
			if keep.Attribute == "" && attr != "" {
				keep.Attribute = attr
				if err := p.replace(ctx, keep.ID, attr, keep.Text, keep.Embedding, now); err != nil {
					return report, err
				}
			} else if err := p.touch(ctx, keep.ID, now); err != nil {
				return report, err
			}
			keep.UpdatedAt = now
			facts[i] = keep
			report.Duplicates++
			continue
		}

		f, err := p.insert(ctx, userID, attr, text, vec, now)
		if err != nil {
			return report, err
		}
		facts = append(facts, f)
		report.Added++
	}

	if over := len(facts) - p.cfg.MaxFacts; over > 0 {
		n, err := p.evictStale(ctx, userID, over)
		if err != nil {
			return report, err
		}
		report.Evicted = n
	}
	return report, nil
}

func findAttribute(facts []Fact, attr string) int {
	if attr == "" {
		return -1
	}
	for i, f := range facts {
		if f.Attribute == attr {
			return i
		}
	}
	return -1
}

func (p *ProfileStore) findDuplicate(facts []Fact, text string, vec []float32) int {
	for i, f := range facts {
		if p.nearDuplicate(f, text, vec) {
			return i
		}
	}
	return -1
}

// nearDuplicate compares by embedding when both sides have one, and by
// normalized word overlap otherwise.
func (p *ProfileStore) nearDuplicate(f Fact, text string, vec []float32) bool {
	if normalizeText(f.Text) == normalizeText(text) {
		return true
	}
	if len(vec) > 0 && len(vec) == len(f.Embedding) {
		return CosineSimilarity(vec, f.Embedding) >= p.cfg.DedupThreshold
	}
	return jaccard(f.Text, text) >= p.cfg.JaccardThreshold
}

func normalizeText(s string) string {
	return strings.Join(wordSet(s), " ")
}

func wordSet(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func jaccard(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	set := make(map[string]bool, len(wa))
	for _, w := range wa {
		set[w] = true
	}
	inter := 0
	for _, w := range wb {
		if set[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

// embed returns nil when embedding is unavailable.
func (p *ProfileStore) embed(ctx context.Context, text string) []float32 {
	if p.embedder == nil {
		return nil
	}
	var vec []float32
	_, err := p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
		defer cancel()
		v, err := adapter.EmbedOne(ctx, p.embedder, text)
		vec = v
		return err
	})
	if err != nil {
		p.log.Debug().Err(err).Msg("fact embedding failed, using word overlap")
		return nil
	}
	return vec
}

func (p *ProfileStore) load(ctx context.Context, userID string, withVectors bool) ([]Fact, error) {
	rows, err := p.db.Conn().QueryContext(ctx, `
		SELECT id, attribute, content, embedding, created_at, updated_at
		FROM user_facts WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, storageErr("load facts", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var (
			fact             Fact
			blob             []byte
			created, updated string
		)
		if err := rows.Scan(&fact.ID, &fact.Attribute, &fact.Text, &blob, &created, &updated); err != nil {
			return nil, storageErr("load facts", err)
		}
		if withVectors && len(blob) > 0 {
			fact.Embedding = BlobToFloat32Slice(blob)
		}
		fact.CreatedAt = parseTime(created)
		fact.UpdatedAt = parseTime(updated)
		out = append(out, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load facts", err)
	}
	return out, nil
}

func blobOrNil(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return float32SliceToBlob(vec)
}

func (p *ProfileStore) insert(ctx context.Context, userID, attr, text string, vec []float32, now time.Time) (Fact, error) {
	res, err := p.db.Conn().ExecContext(ctx, `
		INSERT INTO user_facts (user_id, attribute, content, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, attr, text, blobOrNil(vec), formatTime(now), formatTime(now))
	if err != nil {
		return Fact{}, storageErr("insert fact", err)
	}
	id, _ := res.LastInsertId()
	return Fact{ID: id, Attribute: attr, Text: text, Embedding: vec, CreatedAt: now, UpdatedAt: now}, nil
}

func (p *ProfileStore) replace(ctx context.Context, id int64, attr, text string, vec []float32, now time.Time) error {
	_, err := p.db.Conn().ExecContext(ctx, `
		UPDATE user_facts SET attribute = ?, content = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		attr, text, blobOrNil(vec), formatTime(now), id)
	if err != nil {
		return storageErr("update fact", err)
	}
	return nil
}

func (p *ProfileStore) touch(ctx context.Context, id int64, now time.Time) error {
	_, err := p.db.Conn().ExecContext(ctx, `UPDATE user_facts SET updated_at = ? WHERE id = ?`, formatTime(now), id)
	if err != nil {
		return storageErr("touch fact", err)
	}
	return nil
}

// evictStale drops the n least recently confirmed facts.
func (p *ProfileStore) evictStale(ctx context.Context, userID string, n int) (int, error) {
	res, err := p.db.Conn().ExecContext(ctx, `
		DELETE FROM user_facts WHERE id IN (
			SELECT id FROM user_facts WHERE user_id = ? ORDER BY updated_at ASC, id ASC LIMIT ?
		)`, userID, n)
	if err != nil {
		return 0, storageErr("evict facts", err)
	}
	removed, _ := res.RowsAffected()
	return int(removed), nil
}

// Profile returns userID's facts in the order they were first learned.
func (p *ProfileStore) Profile(ctx context.Context, userID string) (UserProfile, error) {
	facts, err := p.load(ctx, userID, false)
	if err != nil {
		return UserProfile{UserID: userID}, err
	}
	prof := UserProfile{UserID: userID, Facts: facts}
	for _, f := range facts {
		if f.UpdatedAt.After(prof.LastUpdated) {
			prof.LastUpdated = f.UpdatedAt
		}
	}
	return prof, nil
}

// Get renders userID's profile as short bullet lines, or "" when empty.
func (p *ProfileStore) Get(ctx context.Context, userID string) (string, error) {
	prof, err := p.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	return RenderProfile(prof), nil
}

// RenderProfile formats facts as "- fact" lines.
func RenderProfile(prof UserProfile) string {
	lines := make([]string, 0, len(prof.Facts))
	for _, f := range prof.Facts {
		lines = append(lines, "- "+f.Text)
	}
	return strings.Join(lines, "\n")
}

// Erase permanently removes userID's profile. Erasing twice is not an error.
func (p *ProfileStore) Erase(ctx context.Context, userID string) error {
	unlock := p.locks.lock(userID)
	defer unlock()

	if _, err := p.db.Conn().ExecContext(ctx, `DELETE FROM user_facts WHERE user_id = ?`, userID); err != nil {
		return storageErr("erase profile", err)
	}
	return nil
}
