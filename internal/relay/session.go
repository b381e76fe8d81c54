// Package relay holds the per-call conversation state machine and the
// registry of live calls.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/llm"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/soyeahso/owlvin/internal/persona"
)

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadySetUp is returned when setup or decline arrives twice.
	ErrAlreadySetUp = errors.New("session already set up")
	// ErrNotReady is returned when a prompt arrives before setup.
	ErrNotReady = errors.New("session not set up")
	// ErrBusy is returned when a prompt arrives while a generation is in flight.
	ErrBusy = errors.New("generation in flight")

	errStreamTruncated = errors.New("stream closed without a terminal event")
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateSeeding
	StateIdle
	StateGenerating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSeeding:
		return "seeding"
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transport delivers outbound frames to the voice gateway. Implementations
// must be safe to call from the generation goroutine.
type Transport interface {
	SendText(token string, last bool) error
	SendEnd(handoffData string) error
}

// Notifier is told once when a session with a valid identity closes.
type Notifier interface {
	NotifyClose(id domain.CallerIdentity, fallback domain.Locale)
}

// Options configures every Session created by a Registry.
type Options struct {
	Client      llm.Client
	Notifier    Notifier
	Hooks       *hooks.Manager
	Log         *logging.Logger
	Policy      persona.Policy
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	State    State
	Identity domain.CallerIdentity
	History  []domain.Turn
	InFlight bool
}

// Session is the conversation state for one call. All methods are safe for
// concurrent use; operations never interleave.
type Session struct {
	id        string
	transport Transport
	opts      Options
	log       *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	identity  domain.CallerIdentity
	profile   *domain.Profile
	history   []domain.Turn
	inFlight  bool
	genID     uint64
	genCancel context.CancelFunc
	genStart  time.Time
	buffer    strings.Builder

	// hooksPending counts generation and prompt events queued while the
	// session was open. Close waits for them.
	hooksPending sync.WaitGroup
}

// NewSession creates an Uninitialized session bound to transport.
func NewSession(id string, transport Transport, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		transport: transport,
		opts:      opts,
		log:       opts.Log.Sub("relay").With("conn", id),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateUninitialized,
	}
}

// ID returns the connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Transport returns the transport the session writes to.
func (s *Session) Transport() Transport {
	return s.transport
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session's state for diagnostics.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]domain.Turn, len(s.history))
	copy(history, s.history)
	return Snapshot{
		State:    s.state,
		Identity: s.identity,
		History:  history,
		InFlight: s.inFlight,
	}
}

// HandleSetup seeds the conversation for a known caller and starts the
// opening generation.
func (s *Session) HandleSetup(id domain.CallerIdentity, profile *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != StateUninitialized {
		s.log.Warn().Str("state", s.state.String()).Msg("duplicate setup dropped")
		return ErrAlreadySetUp
	}

	s.identity = id
	s.profile = profile
	s.history = append(s.history, persona.Seed(*profile, s.opts.Policy)...)
	s.state = StateSeeding
	s.log.Info().
		Str("channel", string(id.Channel)).
		Str("locale", string(profile.Locale.Normalize())).
		Msg("session seeded")
	s.startGenerationLocked()
	return nil
}

// Decline tells an unknown caller that no conversation is available and
// closes the session without contacting the generation backend.
func (s *Session) Decline(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != StateUninitialized {
		return ErrAlreadySetUp
	}

	if err := s.transport.SendText(message, true); err != nil {
		s.log.Warn().Err(err).Msg("failed to send decline text")
	}
	if err := s.transport.SendEnd(""); err != nil {
		s.log.Warn().Err(err).Msg("failed to send end")
	}
	s.closeLocked()
	s.log.Info().Msg("caller declined")
	return nil
}

// HandlePrompt accepts a caller utterance when the session is idle. A prompt
// that arrives during a generation is dropped.
func (s *Session) HandlePrompt(text string) error {
	s.mu.Lock()
	emit, err := s.handlePromptLocked(text)
	s.mu.Unlock()
	emit()
	return err
}

func (s *Session) handlePromptLocked(text string) (func(), error) {
	switch {
	case s.state == StateClosed:
		return noEmit, ErrSessionClosed
	case s.state == StateUninitialized:
		s.log.Warn().Msg("prompt before setup dropped")
		return noEmit, ErrNotReady
	case s.inFlight:
		s.log.Warn().Str("state", s.state.String()).Msg("prompt dropped, generation in flight")
		return s.queueHookLocked(hooks.EventPromptRejected, nil), ErrBusy
	}

	s.history = append(s.history, domain.Turn{Role: domain.RoleUser, Content: text})
	s.state = StateGenerating
	s.startGenerationLocked()
	return noEmit, nil
}

// Close ends the session. It cancels any generation, discards history and
// triggers the closing notification. Calling Close again has no effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	notify := s.identity.Valid() && s.profile != nil
	id := s.identity
	locale := domain.LocaleEnglish
	if s.profile != nil {
		locale = s.profile.Locale.Normalize()
	}
	s.closeLocked()
	s.mu.Unlock()

	s.hooksPending.Wait()
	s.log.Info().Msg("session closed")
	if notify && s.opts.Notifier != nil {
		s.opts.Notifier.NotifyClose(id, locale)
	}
}

func (s *Session) closeLocked() {
	s.state = StateClosed
	if s.genCancel != nil {
		s.genCancel()
		s.genCancel = nil
	}
	s.cancel()
	s.inFlight = false
	s.history = nil
	s.buffer.Reset()
}

func (s *Session) startGenerationLocked() {
	s.genID++
	gen := s.genID
	s.inFlight = true
	s.buffer.Reset()
	s.genStart = time.Now()

	ctx, cancel := context.WithCancel(s.ctx)
	s.genCancel = cancel

	messages := make([]llm.Message, len(s.history))
	for i, t := range s.history {
		messages[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	req := llm.CompletionRequest{
		Model:       s.opts.Model,
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
	if s.profile != nil {
		req.ContinuityToken = s.profile.ContinuityToken
	}

	go s.run(ctx, gen, req)
}

// run consumes one generation. It never holds the session lock while
// waiting for the backend.
func (s *Session) run(ctx context.Context, gen uint64, req llm.CompletionRequest) {
	ch, err := s.opts.Client.Stream(ctx, req)
	if err != nil {
		s.finish(gen, err)
		return
	}

	for evt := range ch {
		switch evt.Type {
		case llm.EventDelta:
			s.deliver(gen, evt.Content)
		case llm.EventDone:
			s.finish(gen, nil)
			drain(ch)
			return
		case llm.EventError:
			s.finish(gen, errors.New(evt.Error))
			drain(ch)
			return
		}
	}

	if ctx.Err() != nil {
		s.finish(gen, ctx.Err())
		return
	}
	s.finish(gen, errStreamTruncated)
}

func drain(ch <-chan llm.StreamEvent) {
	for range ch {
	}
}

// current reports whether gen is the live generation. Caller holds mu.
func (s *Session) current(gen uint64) bool {
	return s.state != StateClosed && s.inFlight && gen == s.genID
}

func (s *Session) deliver(gen uint64, token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		s.log.Debug().Uint64("gen", gen).Msg("stale increment discarded")
		return
	}
	s.buffer.WriteString(token)
	if err := s.transport.SendText(token, false); err != nil {
		s.log.Warn().Err(err).Msg("failed to send increment")
	}
}

// finish completes generation gen. A backend failure is treated as a
// completion of whatever text arrived.
func (s *Session) finish(gen uint64, genErr error) {
	s.mu.Lock()
	emit := s.finishLocked(gen, genErr)
	s.mu.Unlock()
	emit()
}

func (s *Session) finishLocked(gen uint64, genErr error) func() {
	if !s.current(gen) {
		s.log.Debug().Uint64("gen", gen).Msg("stale completion discarded")
		return s.queueHookLocked(hooks.EventGenerationDone, map[string]any{hooks.KeyOutcome: "discarded"})
	}

	content := s.buffer.String()
	outcome := "ok"
	if genErr != nil {
		outcome = "failed"
		s.log.Error().Err(genErr).Int("partial", len(content)).Msg("generation failed")
	}
	if genErr == nil || content != "" {
		s.history = append(s.history, domain.Turn{Role: domain.RoleAssistant, Content: content})
	}
	if err := s.transport.SendText("", true); err != nil {
		s.log.Warn().Err(err).Msg("failed to send end of turn")
	}

	s.buffer.Reset()
	s.inFlight = false
	s.state = StateIdle
	if s.genCancel != nil {
		s.genCancel()
		s.genCancel = nil
	}

	data := map[string]any{
		hooks.KeyOutcome:  outcome,
		hooks.KeyDuration: time.Since(s.genStart),
	}
	if s.opts.Client != nil {
		data[hooks.KeyProvider] = s.opts.Client.Name()
	}
	if genErr != nil {
		data[hooks.KeyError] = genErr.Error()
	}
	return s.queueHookLocked(hooks.EventGenerationDone, data)
}

func noEmit() {}

// queueHookLocked builds the event payload under mu and returns the function
// that emits it. Call the returned function after unlocking. Events queued
// while the session is open are emitted before Close returns.
func (s *Session) queueHookLocked(event string, data map[string]any) func() {
	if s.opts.Hooks == nil {
		return noEmit
	}
	if data == nil {
		data = map[string]any{}
	}
	data[hooks.KeyConnID] = s.id

	tracked := s.state != StateClosed
	if tracked {
		s.hooksPending.Add(1)
	}
	return func() {
		if tracked {
			defer s.hooksPending.Done()
		}
		s.opts.Hooks.Emit(context.Background(), event, data)
	}
}
