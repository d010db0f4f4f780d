// Package orchestrator runs one conversational turn at a time: it records
// the user message, assembles a bounded prompt from every memory layer,
// calls the model and feeds the answer back into memory.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/memvra/recall/internal/adapter"
	"github.com/memvra/recall/internal/config"
	"github.com/memvra/recall/internal/memory"
	"github.com/memvra/recall/internal/prompt"
	"github.com/memvra/recall/internal/tokenizer"
)

// LongTerm is the long-term memory index as the orchestrator uses it.
type LongTerm interface {
	Store(ctx context.Context, userID, sessionID string, t memory.Turn) (memory.MemoryEntry, error)
	Retrieve(ctx context.Context, userID, query string, opts memory.RetrieveOptions) ([]memory.Match, error)
	Erase(ctx context.Context, userID string) (int, error)
}

// Profiles is the user profile store as the orchestrator uses it.
type Profiles interface {
	ExtractAndMerge(ctx context.Context, userID string, recent []memory.Turn) (memory.MergeReport, error)
	Get(ctx context.Context, userID string) (string, error)
	Erase(ctx context.Context, userID string) error
}

// Deps are the collaborators of an Orchestrator. Scorer and Compressor are
// optional.
type Deps struct {
	Generator  adapter.Generator
	Counter    tokenizer.Counter
	Scorer     memory.Scorer
	Compressor memory.Compressor
	LongTerm   LongTerm
	Profiles   Profiles
	Registry   *Registry
	Logger     zerolog.Logger
}

// Reply is the outcome of one turn. Text is never empty.
type Reply struct {
	Text           string `json:"text"`
	SessionID      string `json:"session_id"`
	Seq            int64  `json:"seq"`
	Retrieved      int    `json:"retrieved"`
	PromptTokens   int    `json:"prompt_tokens"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
	BudgetExceeded bool   `json:"budget_exceeded"`
	// Degraded is set when a memory layer was missing from the prompt or
	// the budget was exceeded.
	Degraded bool `json:"degraded"`
	// Failed is set when generation failed and Text is the fallback reply.
	Failed bool `json:"failed"`
}

// Diagnostics describes the state of one session.
type Diagnostics struct {
	SessionID          string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	WindowTokens       int       `json:"window_tokens"`
	SummaryTokens      int       `json:"summary_tokens"`
	RetrievedCount     int       `json:"retrieved_count"`
	WindowTurns        int       `json:"window_turns"`
	WindowOverBudget   bool      `json:"window_over_budget"`
	SummaryLevels      []int     `json:"summary_levels"`
	Promotions         int       `json:"promotions"`
	Turns              int64     `json:"turns"`
	LastPromptTokens   int       `json:"last_prompt_tokens"`
	LastBudgetExceeded bool      `json:"last_budget_exceeded"`
	LastDegraded       bool      `json:"last_degraded"`
	LastActive         time.Time `json:"last_active"`
}

// EraseReport counts what Erase removed.
type EraseReport struct {
	Entries  int `json:"entries"`
	Sessions int `json:"sessions"`
}

// Orchestrator is the MemoryOrchestrator. It keeps no state between
// requests beyond what the registry's sessions own.
type Orchestrator struct {
	cfg        config.Config
	gen        adapter.Generator
	counter    tokenizer.Counter
	scorer     memory.Scorer
	compressor memory.Compressor
	longTerm   LongTerm
	profiles   Profiles
	registry   *Registry
	builder    *prompt.Builder
	budget     prompt.Budget
	retry      adapter.RetryPolicy
	bg         *background
	gates      *userGates
	log        zerolog.Logger
}

// New wires an Orchestrator.
func New(cfg config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Generator == nil || deps.Counter == nil || deps.LongTerm == nil || deps.Profiles == nil || deps.Registry == nil {
		return nil, errors.New("orchestrator: generator, counter, long-term index, profiles and registry are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	budget := prompt.BudgetFrom(cfg.Budget)
	if share := budget.Window(); cfg.Window.TokenBudget > share {
		deps.Logger.Warn().Int("window_budget", cfg.Window.TokenBudget).Int("window_share", share).
			Msg("window.token_budget exceeds the share the prompt budget guarantees; full windows will be pruned")
	}

	scorer := deps.Scorer
	if scorer == nil {
		h, err := memory.NewHeuristicScorer(memory.HeuristicConfig{
			HighPatterns:     cfg.Scorer.HighPatterns,
			LowPatterns:      cfg.Scorer.LowPatterns,
			LongMessageWords: cfg.Scorer.LongMessageWords,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		scorer = h
	}
	compressor := deps.Compressor
	if compressor == nil {
		compressor = memory.NewLLMCompressor(deps.Generator, deps.Counter, memory.CompressorConfig{
			Model:           cfg.ChatModel(),
			MaxOutputTokens: cfg.Summary.MaxOutputTokens,
			FallbackChars:   cfg.Summary.FallbackChars,
			Timeout:         cfg.Timeouts.Compression.Duration,
		}, deps.Logger.With().Str("component", "compressor").Logger())
	}

	return &Orchestrator{
		cfg:        cfg,
		gen:        deps.Generator,
		counter:    deps.Counter,
		scorer:     scorer,
		compressor: compressor,
		longTerm:   deps.LongTerm,
		profiles:   deps.Profiles,
		registry:   deps.Registry,
		builder: prompt.NewBuilder(deps.Counter, prompt.NewFormatter(cfg.Provider.Instructions),
			memory.NewPruner(cfg.Pruner.MessageOverhead)),
		budget: budget,
		retry:  RetryPolicy(cfg.Retry),
		bg:     newBackground(),
		gates:  newUserGates(),
		log:    deps.Logger,
	}, nil
}

// RetryPolicy converts the retry configuration.
func RetryPolicy(c config.RetryConfig) adapter.RetryPolicy {
	return adapter.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Duration,
		Multiplier:  c.Multiplier,
		MaxDelay:    c.MaxDelay.Duration,
	}
}

func (o *Orchestrator) newSession(userID, sessionID string) *memory.Session {
	return memory.NewSession(userID, sessionID, memory.SessionConfig{
		WindowBudget:  o.cfg.Window.TokenBudget,
		EvictFraction: o.cfg.Window.EvictFraction,
		Thresholds:    o.cfg.Summary.Thresholds,
	}, o.compressor, o.counter)
}

// HandleTurn answers message for userID in sessionID. It returns an error
// only for invalid input or a session owned by another user; model
// failures produce the configured fallback reply.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, sessionID, message string) (Reply, error) {
	if userID == "" || sessionID == "" {
		return Reply{}, errors.New("orchestrator: user id and session id are required")
	}
	if strings.TrimSpace(message) == "" {
		return Reply{}, errors.New("orchestrator: empty message")
	}

	release := o.gates.read(userID)
	defer release()

	sess, err := o.lockSession(ctx, userID, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer sess.Unlock()

	log := o.log.With().Str("user_id", userID).Str("session_id", sessionID).Logger()
	reply := Reply{SessionID: sessionID}

	userTurn := o.record(ctx, sess, memory.RoleUser, message, log)

	matches, profile, degraded := o.gather(ctx, sess, userID, message, log)
	assembled := o.builder.Build(prompt.Layers{
		Profile:   profile,
		Retrieved: matches,
		Summary:   sess.Summary(),
		Window:    sess.WindowTurns(),
	}, o.budget)

	reply.Retrieved = assembled.RetrievedUsed
	reply.PromptTokens = assembled.Tokens
	reply.BudgetExceeded = assembled.BudgetExceeded
	if assembled.BudgetExceeded {
		degraded = true
		log.Warn().Err(memory.ErrBudgetExceeded).Int("prompt_tokens", assembled.Tokens).
			Int("limit", o.budget.TotalLimit).Int64("seq", userTurn.Seq).Msg("prompt over budget, sending protected exchange only")
	}
	if len(assembled.Pruned) > 0 {
		log.Debug().Int("pruned", len(assembled.Pruned)).Msg("window pruned to fit budget")
	}

	gen, attempts, err := o.generate(ctx, assembled.Messages)
	if err != nil {
		log.Error().Err(err).Int("attempts", attempts).Int64("seq", userTurn.Seq).Msg("generation failed, returning fallback reply")
		reply.Text = o.cfg.Provider.FallbackReply
		reply.Failed = true
		reply.Degraded = true
		sess.RecordTurn(reply.Retrieved, reply.PromptTokens, reply.BudgetExceeded, true)
		return reply, nil
	}

	assistantTurn := o.record(ctx, sess, memory.RoleAssistant, gen.Content, log)

	if pending, ok := sess.TakePending(o.cfg.Profile.EveryTurns); ok {
		o.extractAsync(ctx, userID, pending)
	}

	reply.Text = gen.Content
	reply.Seq = assistantTurn.Seq
	reply.InputTokens = gen.InputTokens
	reply.OutputTokens = gen.OutputTokens
	reply.Degraded = degraded
	sess.RecordTurn(reply.Retrieved, reply.PromptTokens, reply.BudgetExceeded, degraded)
	return reply, nil
}

// lockSession returns the live session locked. A session closed while
// this call waited for its lock is fetched again, so the turn continues on
// the resumed state and never on a retired copy.
func (o *Orchestrator) lockSession(ctx context.Context, userID, sessionID string) (*memory.Session, error) {
	for {
		sess, err := o.registry.Acquire(ctx, userID, sessionID, func() *memory.Session {
			return o.newSession(userID, sessionID)
		})
		if err != nil {
			return nil, err
		}
		sess.Lock()
		if !sess.Closed() {
			return sess, nil
		}
		sess.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// record scores content, appends it to the session and stores it
// long-term in the background. The sequence number is taken before any
// external call.
func (o *Orchestrator) record(ctx context.Context, sess *memory.Session, role memory.Role, content string, log zerolog.Logger) memory.Turn {
	seq := sess.NextSeq()
	probe := memory.Turn{Seq: seq, Role: role, Content: content}
	turn := sess.NewTurn(seq, role, content, o.scorer.Score(ctx, probe))

	if err := sess.Append(ctx, turn); err != nil {
		log.Error().Err(err).Int64("seq", seq).Msg("summary promotion failed")
	}
	o.storeAsync(ctx, sess.UserID, sess.ID, turn)
	return turn
}

// gather fetches the retrieved turns and the profile concurrently. Either
// may come back empty; degraded reports that one of them failed.
func (o *Orchestrator) gather(ctx context.Context, sess *memory.Session, userID, query string, log zerolog.Logger) ([]memory.Match, string, bool) {
	opts := memory.RetrieveOptions{TopK: o.cfg.LongTerm.TopK, SessionID: sess.ID}
	if first, ok := sess.FirstWindowSeq(); ok {
		opts.ExcludeFromSeq = first
	}

	var (
		matches    []memory.Match
		profile    string
		retrErr    error
		profileErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctx, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.Retrieval.Duration)
		defer cancel()
		matches, retrErr = o.longTerm.Retrieve(ctx, userID, query, opts)
		return nil
	})
	g.Go(func() error {
		ctx, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.Retrieval.Duration)
		defer cancel()
		profile, profileErr = o.profiles.Get(ctx, userID)
		return nil
	})
	_ = g.Wait()

	if retrErr != nil {
		log.Warn().Err(retrErr).Msg("long-term retrieval failed, continuing without it")
		matches = nil
	}
	if profileErr != nil {
		log.Warn().Err(profileErr).Msg("profile unavailable, continuing without it")
		profile = ""
	}
	return matches, profile, retrErr != nil || profileErr != nil
}

// generate calls the model with retries and a timeout per attempt.
func (o *Orchestrator) generate(ctx context.Context, messages []adapter.Message) (adapter.Generation, int, error) {
	var out adapter.Generation
	attempts, err := o.retry.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Generation.Duration)
		defer cancel()
		gen, err := o.gen.Generate(ctx, adapter.GenerateRequest{
			Messages:    messages,
			Model:       o.cfg.ChatModel(),
			MaxTokens:   o.cfg.Provider.MaxOutputTokens,
			Temperature: o.cfg.Provider.Temperature,
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(gen.Content) == "" {
			return adapter.ErrEmptyResponse
		}
		gen.Content = strings.TrimSpace(gen.Content)
		out = gen
		return nil
	})
	return out, attempts, err
}

// storeAsync writes t to long-term memory without delaying the reply.
// Failures are logged by the index and dropped.
func (o *Orchestrator) storeAsync(ctx context.Context, userID, sessionID string, t memory.Turn) {
	o.bg.start(userID)
	go func() {
		defer o.bg.done(userID)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Timeouts.Store.Duration)
		defer cancel()
		_, _ = o.longTerm.Store(ctx, userID, sessionID, t)
	}()
}

// extractAsync merges facts from recent into the user's profile in the
// background.
func (o *Orchestrator) extractAsync(ctx context.Context, userID string, recent []memory.Turn) {
	o.bg.start(userID)
	go func() {
		defer o.bg.done(userID)
		o.extract(context.WithoutCancel(ctx), userID, recent)
	}()
}

func (o *Orchestrator) extract(ctx context.Context, userID string, recent []memory.Turn) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Extraction.Duration)
	defer cancel()
	report, err := o.profiles.ExtractAndMerge(ctx, userID, recent)
	if err != nil {
		o.log.Warn().Err(err).Str("user_id", userID).Int("turns", len(recent)).Msg("profile extraction failed")
		return
	}
	o.log.Debug().Str("user_id", userID).Int("added", report.Added).Int("superseded", report.Superseded).
		Int("duplicates", report.Duplicates).Int("evicted", report.Evicted).Msg("profile updated")
}

// Erase permanently removes everything stored about userID: live sessions,
// long-term entries, profile facts and session snapshots. In-flight turns
// and background writes of the user finish first. Erasing twice is not an
// error.
func (o *Orchestrator) Erase(ctx context.Context, userID string) (EraseReport, error) {
	if userID == "" {
		return EraseReport{}, errors.New("orchestrator: erase: empty user id")
	}
	release := o.gates.write(userID)
	defer release()

	sessions := o.registry.RemoveUser(userID)
	for _, s := range sessions {
		s.Lock()
		s.Close()
		s.Unlock()
	}
	o.bg.wait(userID)

	report := EraseReport{Sessions: len(sessions)}
	var errs []error
	n, err := o.longTerm.Erase(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}
	report.Entries = n
	if err := o.profiles.Erase(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if err := o.registry.DeleteUser(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("orchestrator: erase %s: %w", userID, errors.Join(errs...))
	}
	o.log.Info().Str("user_id", userID).Int("entries", report.Entries).Int("sessions", report.Sessions).Msg("user erased")
	return report, nil
}

// EndSession flushes sessionID: unprocessed turns go through profile
// extraction, pending long-term writes finish and a snapshot is saved so
// the session can be resumed later.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	sess, ok := o.registry.Lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	release := o.gates.read(sess.UserID)
	defer release()

	sess.Lock()
	if sess.Closed() {
		sess.Unlock()
		return ErrUnknownSession
	}
	if pending, ok := sess.TakePending(0); ok {
		o.extract(ctx, sess.UserID, pending)
	}
	// The snapshot is saved before the session is retired so that a turn
	// queued on the lock resumes from it with the next sequence number.
	if err := o.registry.Save(ctx, sess.Snapshot()); err != nil {
		sess.Unlock()
		return err
	}
	sess.Close()
	o.registry.Remove(sess)
	sess.Unlock()

	o.bg.wait(sess.UserID)
	return nil
}

// Resume makes sessionID live for userID, restoring it from the snapshot
// store when it is not already in memory.
func (o *Orchestrator) Resume(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return errors.New("orchestrator: user id and session id are required")
	}
	_, err := o.registry.Acquire(ctx, userID, sessionID, func() *memory.Session {
		return o.newSession(userID, sessionID)
	})
	return err
}

// Diagnostics reports the state of a live session. It does not wait for
// an in-flight turn.
func (o *Orchestrator) Diagnostics(sessionID string) (Diagnostics, error) {
	sess, ok := o.registry.Lookup(sessionID)
	if !ok {
		return Diagnostics{}, ErrUnknownSession
	}
	st := sess.Stats()
	return Diagnostics{
		SessionID:          sess.ID,
		UserID:             sess.UserID,
		WindowTokens:       st.WindowTokens,
		SummaryTokens:      st.SummaryTokens,
		RetrievedCount:     st.LastRetrieved,
		WindowTurns:        st.WindowTurns,
		WindowOverBudget:   st.WindowOverBudget,
		SummaryLevels:      st.SummaryLevels,
		Promotions:         st.Promotions,
		Turns:              st.Turns,
		LastPromptTokens:   st.LastPromptTokens,
		LastBudgetExceeded: st.LastBudgetExceeded,
		LastDegraded:       st.LastDegraded,
		LastActive:         st.LastActive,
	}, nil
}

// Search runs a long-term retrieval for userID outside of any session.
func (o *Orchestrator) Search(ctx context.Context, userID, query string, topK int) ([]memory.Match, error) {
	if topK <= 0 {
		topK = o.cfg.LongTerm.TopK
	}
	return o.longTerm.Retrieve(ctx, userID, query, memory.RetrieveOptions{TopK: topK})
}

// Profile renders userID's profile.
func (o *Orchestrator) Profile(ctx context.Context, userID string) (string, error) {
	return o.profiles.Get(ctx, userID)
}

// Wait blocks until all background work has finished.
func (o *Orchestrator) Wait() { o.bg.waitAll() }
