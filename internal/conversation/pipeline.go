// Package conversation runs message submission and the asynchronous AI turn
// that follows it.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/gemini-learner/internal/agent"
	"github.com/ashureev/gemini-learner/internal/config"
	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/knowledge"
	"github.com/ashureev/gemini-learner/internal/realtime"
	"github.com/ashureev/gemini-learner/internal/shared"
	"github.com/ashureev/gemini-learner/internal/store"
)

const busyWriteTimeout = 10 * time.Second

// Config configures a Pipeline.
type Config struct {
	Limits         config.LimitsConfig
	SerializeTurns bool
	Log            agent.ConversationLogger
}

// SubmitRequest is a human message addressed to a session.
type SubmitRequest struct {
	Token  string
	Origin string
	Text   string
}

// SubmitResult is returned once the human message is accepted.
type SubmitResult struct {
	Message *domain.Message
	Session *domain.Session
}

// Pipeline accepts human messages and runs AI turns for them.
type Pipeline struct {
	repo      store.Repository
	knowledge *knowledge.Model
	generator agent.Generator
	pusher    realtime.Pusher
	log       agent.ConversationLogger
	limits    config.LimitsConfig
	locks     *keyedMutex

	turnCtx    context.Context
	cancelTurn context.CancelFunc
	wg         sync.WaitGroup
	now        func() time.Time
}

// New creates a pipeline. A nil generator abandons every turn.
func New(repo store.Repository, generator agent.Generator, pusher realtime.Pusher, cfg Config) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = agent.NoopConversationLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		repo:       repo,
		knowledge:  knowledge.New(repo),
		generator:  generator,
		pusher:     pusher,
		log:        cfg.Log,
		limits:     cfg.Limits,
		turnCtx:    ctx,
		cancelTurn: cancel,
		now:        time.Now,
	}
	if cfg.SerializeTurns {
		p.locks = newKeyedMutex()
	}
	return p
}

// Submit validates and persists a human message, marks the session busy and
// starts the AI turn in the background.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	text := strings.TrimSpace(req.Text)

	session, err := p.repo.ResolveSession(ctx, req.Token, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	counts, err := p.repo.RateCounts(ctx, session, p.now().Add(-p.limits.Window))
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if counts.PerSession >= p.limits.SessionDaily {
		return nil, &RateLimitError{Scope: ScopeSession, Limit: p.limits.SessionDaily}
	}
	if counts.PerOrigin >= p.limits.OriginDaily {
		return nil, &RateLimitError{Scope: ScopeOrigin, Limit: p.limits.OriginDaily}
	}

	if err := p.validateLength(text); err != nil {
		return nil, err
	}

	msg, err := p.repo.AddMessage(ctx, session.ID, true, text)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	err = shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, func(ctx context.Context) error {
		return p.repo.SetBusy(ctx, session.ID, true)
	})
	if err != nil {
		// The message is already stored, so its turn still runs and clears the flag.
		slog.Error("Failed to mark session busy, running turn anyway", "session_id", session.Token, "error", err)
	}
	session.Busy = true

	p.log.Log(agent.ConversationLogEvent{
		SessionID:  session.Token,
		Channel:    "message_http",
		Direction:  "inbound",
		EventType:  "human_message",
		ContentRaw: text,
	})

	turnSession := *session
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.RunTurn(p.turnCtx, &turnSession, text)
	}()

	return &SubmitResult{Message: msg, Session: session}, nil
}

func (p *Pipeline) validateLength(text string) error {
	n := utf8.RuneCountInString(text)
	if n < p.limits.MessageMinLength {
		return &ValidationError{Reason: "Text length short"}
	}
	if n > p.limits.MessageMaxLength {
		return &ValidationError{Reason: "Text length too long"}
	}
	return nil
}

// RunTurn runs one AI turn. The session's busy flag is cleared on every
// exit path, including panics.
func (p *Pipeline) RunTurn(ctx context.Context, session *domain.Session, text string) {
	release := func() {}
	if p.locks != nil {
		release = p.locks.Lock(session.ID)
		// The previous turn may have cleared the flag before this one was queued.
		p.markBusy(session)
	}
	defer func() {
		if !p.turnsQueued(session.ID) {
			p.clearBusy(session)
		}
		release()
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("AI turn panicked", "session_id", session.Token, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	action, err := p.turn(ctx, session, text)
	if err != nil {
		slog.Warn("AI turn abandoned", "session_id", session.Token, "error", err)
		p.log.Log(agent.ConversationLogEvent{
			SessionID: session.Token,
			Channel:   "turn",
			Direction: "internal",
			EventType: "turn_abandoned",
			Meta:      map[string]any{"error": err.Error()},
		})
		return
	}
	slog.Info("AI turn completed", "session_id", session.Token, "action", action, "duration_ms", time.Since(start).Milliseconds())
}

func (p *Pipeline) turn(ctx context.Context, session *domain.Session, text string) (agent.Action, error) {
	if p.generator == nil {
		return "", ErrAIDisabled
	}

	topics, err := p.knowledge.ListTeachable(ctx, session.ID)
	if err != nil {
		return "", err
	}
	prompt := agent.BuildPrompt(session, topics, text)

	raw, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	decision, err := agent.ParseDecision(raw)
	if err != nil {
		p.log.Log(agent.ConversationLogEvent{
			SessionID:  session.Token,
			Channel:    "turn",
			Direction:  "outbound",
			EventType:  "ai_reply_rejected",
			ContentRaw: raw,
		})
		return "", err
	}

	msg, err := p.repo.AddMessage(ctx, session.ID, false, decision.Response)
	if err != nil {
		return "", fmt.Errorf("add AI message: %w", err)
	}

	action := decision.Effective()
	if action != decision.Action {
		slog.Info("Ignoring knowledge change for untrue statement", "session_id", session.Token, "declared_action", decision.Action)
	}

	var topicEvent *realtime.Event
	switch action {
	case agent.ActionNewTopic:
		mut, err := p.knowledge.Learn(ctx, session.ID, decision.TopicName, decision.NewProficiency)
		if err != nil {
			return "", err
		}
		ev := realtime.AddTopicEvent(mut.TopicID, mut.Name, mut.Proficiency)
		topicEvent = &ev
	case agent.ActionIncreaseProficiency:
		mut, err := p.knowledge.Improve(ctx, session.ID, decision.TopicName, decision.NewProficiency)
		if err != nil {
			return "", err
		}
		if mut != nil {
			ev := realtime.UpdateTopicEvent(mut.Name, mut.Proficiency)
			topicEvent = &ev
		}
	}

	p.log.Log(agent.ConversationLogEvent{
		SessionID:  session.Token,
		Channel:    "turn",
		Direction:  "outbound",
		EventType:  "ai_message",
		ContentRaw: decision.Response,
		Meta: map[string]any{
			"action":            string(action),
			"declared_action":   string(decision.Action),
			"is_factually_true": decision.IsFactuallyTrue,
			"topic_name":        decision.TopicName,
			"new_proficiency":   decision.NewProficiency,
			"target_topic":      prompt.Target.Name,
		},
	})

	if topicEvent != nil {
		p.pusher.Push(ctx, session.Token, *topicEvent)
	}
	p.pusher.Push(ctx, session.Token, realtime.AddMessageEvent(msg, p.turnsQueued(session.ID)))
	return action, nil
}

// turnsQueued reports whether later turns for the session wait on the lock.
// The session stays busy until the last of them finishes.
func (p *Pipeline) turnsQueued(sessionID int64) bool {
	return p.locks != nil && p.locks.waiting(sessionID)
}

func (p *Pipeline) markBusy(session *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), busyWriteTimeout)
	defer cancel()

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, func(ctx context.Context) error {
		return p.repo.SetBusy(ctx, session.ID, true)
	})
	if err != nil {
		slog.Error("Failed to mark session busy", "session_id", session.Token, "error", err)
	}
}

// clearBusy runs detached from the turn context so a cancelled turn still
// returns the session to idle.
func (p *Pipeline) clearBusy(session *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), busyWriteTimeout)
	defer cancel()

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, func(ctx context.Context) error {
		return p.repo.SetBusy(ctx, session.ID, false)
	})
	if err != nil {
		slog.Error("Failed to clear busy flag", "session_id", session.Token, "error", err)
	}
}

// Wait blocks until every in-flight turn has finished or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight turns. Turns still running when ctx expires are
// cancelled and awaited; their busy flags are still cleared.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Wait(ctx)
	if err != nil {
		slog.Warn("Cancelling in-flight AI turns", "error", err)
	}
	p.cancelTurn()
	p.wg.Wait()
	return err
}
