package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/identity"
	"github.com/soyeahso/owlvin/internal/llm"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/soyeahso/owlvin/internal/persona"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type frame struct {
	Type  string
	Token string
	Last  bool
}

type recorder struct {
	mu     sync.Mutex
	frames []frame
}

func (r *recorder) SendText(token string, last bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{Type: "text", Token: token, Last: last})
	return nil
}

func (r *recorder) SendEnd(string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{Type: "end"})
	return nil
}

func (r *recorder) Frames() []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// gatedClient hands each stream channel to the test so it controls when
// increments and completions arrive.
type gatedClient struct {
	mu    sync.Mutex
	reqs  []llm.CompletionRequest
	ctxs  []context.Context
	chans []chan llm.StreamEvent
}

func (g *gatedClient) Name() string { return "gated" }

func (g *gatedClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan llm.StreamEvent)
	g.reqs = append(g.reqs, req)
	g.ctxs = append(g.ctxs, ctx)
	g.chans = append(g.chans, ch)
	return ch, nil
}

func (g *gatedClient) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.chans)
}

func (g *gatedClient) stream(t *testing.T, i int) chan llm.StreamEvent {
	t.Helper()
	require.Eventually(t, func() bool { return g.calls() > i }, waitFor, tick)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chans[i]
}

func (g *gatedClient) request(i int) llm.CompletionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs[i]
}

// complete streams the given increments then a done event, and closes.
func (g *gatedClient) complete(t *testing.T, i int, pieces ...string) {
	t.Helper()
	ch := g.stream(t, i)
	for _, p := range pieces {
		ch <- llm.StreamEvent{Type: llm.EventDelta, Content: p}
	}
	ch <- llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{}}
	close(ch)
}

type countingNotifier struct {
	count  atomic.Int32
	mu     sync.Mutex
	last   domain.CallerIdentity
	locale domain.Locale
}

func (n *countingNotifier) NotifyClose(id domain.CallerIdentity, locale domain.Locale) {
	n.count.Add(1)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = id
	n.locale = locale
}

type fixture struct {
	session  *Session
	rec      *recorder
	client   *gatedClient
	notifier *countingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rec:      &recorder{},
		client:   &gatedClient{},
		notifier: &countingNotifier{},
	}
	f.session = NewSession("conn-1", f.rec, Options{
		Client:   f.client,
		Notifier: f.notifier,
		Log:      logging.New(nil, "silent"),
		Policy:   persona.DefaultPolicy(),
	})
	t.Cleanup(f.session.Close)
	return f
}

func testIdentity() domain.CallerIdentity {
	return identity.Resolve("whatsapp:+15551234567")
}

func testProfile() *domain.Profile {
	return &domain.Profile{
		Topic:           "the ocean",
		Personality:     "a curious pirate",
		Locale:          domain.LocalePortuguese,
		ContinuityToken: "tok-123",
		Active:          true,
	}
}

func (f *fixture) waitFrames(t *testing.T, n int) []frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.rec.Frames()) >= n }, waitFor, tick)
	return f.rec.Frames()
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.session.State() == StateIdle }, waitFor, tick)
}

func TestSetupSeedsHistoryAndStartsGeneration(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))

	snap := f.session.Snapshot()
	assert.Equal(t, StateSeeding, snap.State)
	assert.True(t, snap.InFlight)
	require.Len(t, snap.History, 2)
	assert.Equal(t, domain.RoleSystem, snap.History[0].Role)
	assert.Contains(t, snap.History[0].Content, "the ocean")
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "Hi there!"}, snap.History[1])

	f.client.stream(t, 0)
	req := f.client.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Hi there!", req.Messages[1].Content)
	assert.Equal(t, "tok-123", req.ContinuityToken)
}

func TestIncrementsStreamThenFinalFrame(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))

	f.client.complete(t, 0, "Hel", "lo", " there")
	f.waitIdle(t)

	assert.Equal(t, []frame{
		{Type: "text", Token: "Hel"},
		{Type: "text", Token: "lo"},
		{Type: "text", Token: " there"},
		{Type: "text", Token: "", Last: true},
	}, f.rec.Frames())

	snap := f.session.Snapshot()
	require.Len(t, snap.History, 3)
	assert.Equal(t, domain.Turn{Role: domain.RoleAssistant, Content: "Hello there"}, snap.History[2])
	assert.False(t, snap.InFlight)
}

func TestPromptDuringGenerationIsDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	f.client.stream(t, 0)

	before := f.session.Snapshot()
	err := f.session.HandlePrompt("are you there?")
	assert.ErrorIs(t, err, ErrBusy)

	after := f.session.Snapshot()
	assert.Equal(t, before.History, after.History)
	assert.Empty(t, f.rec.Frames())
	assert.Equal(t, 1, f.client.calls())

	f.client.complete(t, 0, "Ahoy")
	f.waitIdle(t)

	require.NoError(t, f.session.HandlePrompt("tell me about whales"))
	assert.Equal(t, StateGenerating, f.session.State())
	assert.ErrorIs(t, f.session.HandlePrompt("and sharks"), ErrBusy)

	f.client.stream(t, 1)
	assert.Equal(t, 2, f.client.calls())
	req := f.client.request(1)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Ahoy"}, req.Messages[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "tell me about whales"}, req.Messages[3])
}

func TestHistoryIsAppendOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))

	var snapshots [][]domain.Turn
	snapshots = append(snapshots, f.session.Snapshot().History)

	f.client.complete(t, 0, "one")
	f.waitIdle(t)
	snapshots = append(snapshots, f.session.Snapshot().History)

	require.NoError(t, f.session.HandlePrompt("two"))
	snapshots = append(snapshots, f.session.Snapshot().History)

	f.client.complete(t, 1, "three")
	f.waitIdle(t)
	snapshots = append(snapshots, f.session.Snapshot().History)

	for i := 1; i < len(snapshots); i++ {
		prev, next := snapshots[i-1], snapshots[i]
		require.GreaterOrEqual(t, len(next), len(prev))
		assert.Equal(t, prev, next[:len(prev)], "snapshot %d rewrote history", i)
	}
	assert.Len(t, snapshots[len(snapshots)-1], 5)
}

func TestFinalFrameOfTurnPrecedesNextTurn(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	f.client.complete(t, 0, "a")
	f.waitIdle(t)
	require.NoError(t, f.session.HandlePrompt("next"))
	f.client.complete(t, 1, "b")
	f.waitIdle(t)

	assert.Equal(t, []frame{
		{Type: "text", Token: "a"},
		{Type: "text", Last: true},
		{Type: "text", Token: "b"},
		{Type: "text", Last: true},
	}, f.rec.Frames())
}

func TestCloseTwiceNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))

	f.session.Close()
	f.session.Close()

	assert.Equal(t, int32(1), f.notifier.count.Load())
	assert.Equal(t, domain.ChannelWhatsApp, f.notifier.last.Channel)
	assert.Equal(t, domain.LocalePortuguese, f.notifier.locale)

	snap := f.session.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Empty(t, snap.History)
	assert.False(t, snap.InFlight)
}

func TestCloseCancelsGeneration(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	ch := f.client.stream(t, 0)

	f.session.Close()

	f.client.mu.Lock()
	ctx := f.client.ctxs[0]
	f.client.mu.Unlock()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	close(ch)
}

func TestIncrementsAfterCloseAreDiscarded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	ch := f.client.stream(t, 0)

	ch <- llm.StreamEvent{Type: llm.EventDelta, Content: "kept"}
	f.waitFrames(t, 1)

	f.session.Close()
	ch <- llm.StreamEvent{Type: llm.EventDelta, Content: "dropped"}
	ch <- llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{}}
	close(ch)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []frame{{Type: "text", Token: "kept"}}, f.rec.Frames())
	assert.Empty(t, f.session.Snapshot().History)
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	f.client.complete(t, 0, "first")
	f.waitIdle(t)
	require.NoError(t, f.session.HandlePrompt("again"))
	f.client.stream(t, 1)

	framesBefore := f.rec.Frames()
	historyBefore := f.session.Snapshot().History

	f.session.deliver(1, "stale")
	f.session.finish(1, nil)

	assert.Equal(t, framesBefore, f.rec.Frames())
	assert.Equal(t, historyBefore, f.session.Snapshot().History)
	assert.True(t, f.session.Snapshot().InFlight)

	f.client.complete(t, 1, "second")
	f.waitIdle(t)
}

func TestBackendErrorCompletesWithPartialText(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	ch := f.client.stream(t, 0)
	ch <- llm.StreamEvent{Type: llm.EventDelta, Content: "par"}
	ch <- llm.StreamEvent{Type: llm.EventError, Error: "upstream reset"}
	close(ch)
	f.waitIdle(t)

	assert.Equal(t, []frame{
		{Type: "text", Token: "par"},
		{Type: "text", Last: true},
	}, f.rec.Frames())
	snap := f.session.Snapshot()
	require.Len(t, snap.History, 3)
	assert.Equal(t, "par", snap.History[2].Content)
	assert.False(t, snap.InFlight)

	require.NoError(t, f.session.HandlePrompt("still there?"))
}

func TestStreamSetupErrorClearsInFlight(t *testing.T) {
	rec := &recorder{}
	s := NewSession("conn-err", rec, Options{
		Client: &llm.MockClient{
			ProviderName: "broken",
			StreamFunc: func(context.Context, llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
				return nil, errors.New("dial failed")
			},
		},
		Log:    logging.New(nil, "silent"),
		Policy: persona.DefaultPolicy(),
	})
	defer s.Close()

	require.NoError(t, s.HandleSetup(testIdentity(), testProfile()))
	require.Eventually(t, func() bool { return s.State() == StateIdle }, waitFor, tick)

	assert.Equal(t, []frame{{Type: "text", Last: true}}, rec.Frames())
	snap := s.Snapshot()
	assert.Len(t, snap.History, 2, "no assistant turn without text")
	assert.False(t, snap.InFlight)
}

func TestTruncatedStreamIsTreatedAsFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	ch := f.client.stream(t, 0)
	ch <- llm.StreamEvent{Type: llm.EventDelta, Content: "half"}
	close(ch)
	f.waitIdle(t)

	snap := f.session.Snapshot()
	require.Len(t, snap.History, 3)
	assert.Equal(t, "half", snap.History[2].Content)
}

func TestDeclineNeverCallsBackend(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Decline("who are you?"))

	assert.Equal(t, 0, f.client.calls())
	assert.Equal(t, StateClosed, f.session.State())
	assert.Equal(t, []frame{
		{Type: "text", Token: "who are you?", Last: true},
		{Type: "end"},
	}, f.rec.Frames())

	f.session.Close()
	assert.Zero(t, f.notifier.count.Load())
	assert.ErrorIs(t, f.session.HandlePrompt("hello"), ErrSessionClosed)
}

func TestProtocolViolations(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.session.HandlePrompt("too early"), ErrNotReady)
	assert.Equal(t, StateUninitialized, f.session.State())

	require.NoError(t, f.session.HandleSetup(testIdentity(), testProfile()))
	assert.ErrorIs(t, f.session.HandleSetup(testIdentity(), testProfile()), ErrAlreadySetUp)
	assert.ErrorIs(t, f.session.Decline("nope"), ErrAlreadySetUp)
	assert.Len(t, f.session.Snapshot().History, 2)

	f.session.Close()
	assert.ErrorIs(t, f.session.HandleSetup(testIdentity(), testProfile()), ErrSessionClosed)
	assert.ErrorIs(t, f.session.Decline("late"), ErrSessionClosed)
}

func TestCloseWithoutSetupDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	f.session.Close()
	assert.Zero(t, f.notifier.count.Load())
}

func TestGenerationHooks(t *testing.T) {
	hm := hooks.NewManager(logging.New(nil, "silent"))
	var outcomes sync.Map
	var rejected atomic.Int32
	hm.On(hooks.EventGenerationDone, "test", func(_ context.Context, p hooks.Payload) error {
		outcomes.Store(p.Data[hooks.KeyOutcome], p.Data[hooks.KeyConnID])
		return nil
	})
	hm.On(hooks.EventPromptRejected, "test", func(context.Context, hooks.Payload) error {
		rejected.Add(1)
		return nil
	})

	client := &gatedClient{}
	s := NewSession("conn-hooks", &recorder{}, Options{
		Client: client,
		Hooks:  hm,
		Log:    logging.New(nil, "silent"),
		Policy: persona.DefaultPolicy(),
	})
	defer s.Close()

	require.NoError(t, s.HandleSetup(testIdentity(), testProfile()))
	_ = s.HandlePrompt("busy?")
	client.complete(t, 0, "done")
	require.Eventually(t, func() bool { return s.State() == StateIdle }, waitFor, tick)
	s.Close()

	conn, ok := outcomes.Load("ok")
	require.True(t, ok)
	assert.Equal(t, "conn-hooks", conn)
	assert.Equal(t, int32(1), rejected.Load())
}

func TestCloseWaitsForGenerationHooks(t *testing.T) {
	hm := hooks.NewManager(logging.New(nil, "silent"))
	entered := make(chan struct{})
	release := make(chan struct{})
	hm.On(hooks.EventGenerationDone, "slow", func(context.Context, hooks.Payload) error {
		close(entered)
		<-release
		return nil
	})

	client := &gatedClient{}
	s := NewSession("conn-slow", &recorder{}, Options{
		Client: client,
		Hooks:  hm,
		Log:    logging.New(nil, "silent"),
		Policy: persona.DefaultPolicy(),
	})

	require.NoError(t, s.HandleSetup(testIdentity(), testProfile()))
	client.complete(t, 0, "hi")
	<-entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the generation hook finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "seeding", StateSeeding.String())
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "generating", StateGenerating.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
