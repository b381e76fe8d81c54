package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/soyeahso/owlvin/internal/metrics"
)

type metricsPlugin struct {
	m *metrics.Metrics
}

// NewMetrics feeds relay hook events into m.
func NewMetrics(m *metrics.Metrics) Plugin {
	return &metricsPlugin{m: m}
}

func (p *metricsPlugin) ID() string { return "metrics" }

func (p *metricsPlugin) Init(_ context.Context, api API) error {
	p.m.Subscribe(api.Hooks)
	return nil
}

func (p *metricsPlugin) Close() error { return nil }

// CallSummary is the audit record written when a call ends.
type CallSummary struct {
	ConnID      string
	Channel     string
	Outcome     string
	Generations int
	Failures    int
	Rejected    int
	Duration    time.Duration
}

type callStats struct {
	channel     string
	outcome     string
	generations int
	failures    int
	rejected    int
}

// CallLog writes one summary line per finished call.
type CallLog struct {
	mu    sync.Mutex
	calls map[string]*callStats
	log   *logging.Logger

	// OnSummary, if set, receives every summary after it is logged.
	OnSummary func(CallSummary)
}

// NewCallLog creates the call audit plugin.
func NewCallLog() *CallLog {
	return &CallLog{calls: make(map[string]*callStats)}
}

func (c *CallLog) ID() string { return "calllog" }

func (c *CallLog) Init(_ context.Context, api API) error {
	c.log = api.Log
	api.Hooks.On(hooks.EventCallStart, c.ID(), c.onStart)
	api.Hooks.On(hooks.EventGenerationDone, c.ID(), c.onGeneration)
	api.Hooks.On(hooks.EventPromptRejected, c.ID(), c.onRejected)
	api.Hooks.On(hooks.EventCallEnd, c.ID(), c.onEnd)
	return nil
}

// Close forgets calls that never reported an end.
func (c *CallLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.calls); n > 0 && c.log != nil {
		c.log.Warn().Int("calls", n).Msg("calls still open at shutdown")
	}
	c.calls = make(map[string]*callStats)
	return nil
}

func connID(p hooks.Payload) string {
	id, _ := p.Data[hooks.KeyConnID].(string)
	return id
}

func (c *CallLog) onStart(_ context.Context, p hooks.Payload) error {
	id := connID(p)
	if id == "" {
		return nil
	}
	channel, _ := p.Data[hooks.KeyChannel].(string)
	outcome, _ := p.Data[hooks.KeyOutcome].(string)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[id] = &callStats{channel: channel, outcome: outcome}
	return nil
}

// withCall runs fn on the stats of a known call. Events for unknown or
// already ended calls are ignored.
func (c *CallLog) withCall(p hooks.Payload, fn func(*callStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.calls[connID(p)]; ok {
		fn(st)
	}
}

func (c *CallLog) onGeneration(_ context.Context, p hooks.Payload) error {
	outcome, _ := p.Data[hooks.KeyOutcome].(string)
	c.withCall(p, func(st *callStats) {
		switch outcome {
		case "ok":
			st.generations++
		case "failed":
			st.generations++
			st.failures++
		}
	})
	return nil
}

func (c *CallLog) onRejected(_ context.Context, p hooks.Payload) error {
	c.withCall(p, func(st *callStats) { st.rejected++ })
	return nil
}

func (c *CallLog) onEnd(_ context.Context, p hooks.Payload) error {
	id := connID(p)
	d, _ := p.Data[hooks.KeyDuration].(time.Duration)

	c.mu.Lock()
	st, ok := c.calls[id]
	delete(c.calls, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	summary := CallSummary{
		ConnID:      id,
		Channel:     st.channel,
		Outcome:     st.outcome,
		Generations: st.generations,
		Failures:    st.failures,
		Rejected:    st.rejected,
		Duration:    d,
	}
	c.log.Info().
		Str("conn", id).
		Str("channel", summary.Channel).
		Str("outcome", summary.Outcome).
		Int("generations", summary.Generations).
		Int("failures", summary.Failures).
		Int("rejected", summary.Rejected).
		Dur("duration", d).
		Msg("call summary")
	if c.OnSummary != nil {
		c.OnSummary(summary)
	}
	return nil
}
