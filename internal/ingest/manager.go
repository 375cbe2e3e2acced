package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/livestatus"
	"github.com/you/streampulse/internal/report"
	"github.com/you/streampulse/internal/store"
)

var ErrNotRunning = errors.New("ingest: no pipeline for channel")

// Target is one channel the manager watches.
type Target struct {
	Platform core.Platform
	Channel  string
}

func (t Target) String() string { return string(t.Platform) + "/" + t.Channel }

type ConnectorFactory interface {
	New(p core.Platform, channel string) (connector.Connector, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, s core.Session, now time.Time) (report.Outcome, error)
}

type ManagerOptions struct {
	Pipeline PipelineOptions
	Now      func() time.Time
}

// Manager owns the running pipelines, at most one per channel.
type Manager struct {
	store     store.Store
	factory   ConnectorFactory
	finalizer Finalizer
	opts      ManagerOptions
	log       *slog.Logger

	mu        sync.Mutex
	pipelines map[Target]*Pipeline
}

func NewManager(st store.Store, factory ConnectorFactory, finalizer Finalizer, opts ManagerOptions) *Manager {
	opts.Pipeline = opts.Pipeline.withDefaults()
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     st,
		factory:   factory,
		finalizer: finalizer,
		opts:      opts,
		log:       opts.Pipeline.Logger.With("component", "ingest"),
		pipelines: make(map[Target]*Pipeline),
	}
}

func target(p core.Platform, channel string) Target {
	return Target{Platform: p, Channel: normalizeChannel(channel)}
}

// Start opens (or resumes) the channel's session and starts ingesting. It is
// a no-op returning the current session when a pipeline already runs.
func (m *Manager) Start(ctx context.Context, p core.Platform, channel string) (core.Session, error) {
	t := target(p, channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	if pl, ok := m.pipelines[t]; ok {
		if !pl.Ended() {
			return pl.Session(), nil
		}
		delete(m.pipelines, t)
		m.stop(pl)
	}

	conn, err := m.factory.New(t.Platform, t.Channel)
	if err != nil {
		return core.Session{}, err
	}
	s, created, err := m.store.OpenSession(ctx, t.Channel, t.Platform, m.opts.Now())
	if err != nil {
		return core.Session{}, fmt.Errorf("open session for %s: %w", t, err)
	}

	pl := NewPipeline(s, conn, m.store, m.opts.Pipeline)
	pl.Start(context.WithoutCancel(ctx))
	m.pipelines[t] = pl
	m.opts.Pipeline.Metrics.AddOpenSessions(1)
	m.log.Info("session started", "session", s.ID, "target", t.String(), "resumed", !created)
	return s, nil
}

func (m *Manager) take(t Target) *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl := m.pipelines[t]
	delete(m.pipelines, t)
	return pl
}

func (m *Manager) stop(pl *Pipeline) core.Session {
	if err := pl.Stop(); err != nil {
		m.log.Error("pipeline stop", "session", pl.session.ID, "err", err)
	}
	m.opts.Pipeline.Metrics.AddOpenSessions(-1)
	return pl.Session()
}

// End stops the channel's pipeline and finalizes its session.
func (m *Manager) End(ctx context.Context, p core.Platform, channel string) (report.Outcome, error) {
	t := target(p, channel)
	pl := m.take(t)
	if pl == nil {
		return report.Outcome{}, fmt.Errorf("%w: %s", ErrNotRunning, t)
	}
	s := m.stop(pl)
	return m.finalizer.Finalize(ctx, s, m.opts.Now())
}

// EndSession finalizes a session by id, stopping its pipeline if one runs.
func (m *Manager) EndSession(ctx context.Context, id string) (report.Outcome, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return report.Outcome{}, err
	}
	t := target(s.Platform, s.ChannelName)
	m.mu.Lock()
	pl := m.pipelines[t]
	if pl != nil && pl.session.ID == id {
		delete(m.pipelines, t)
	} else {
		pl = nil
	}
	m.mu.Unlock()
	if pl != nil {
		s = m.stop(pl)
	}
	return m.finalizer.Finalize(ctx, s, m.opts.Now())
}

// Active lists the sessions with running pipelines.
func (m *Manager) Active() []core.Session {
	m.mu.Lock()
	out := make([]core.Session, 0, len(m.pipelines))
	for _, pl := range m.pipelines {
		out = append(out, pl.Session())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionStart < out[j].SessionStart })
	return out
}

// Owns reports whether a running pipeline writes to the session.
func (m *Manager) Owns(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pl := range m.pipelines {
		if pl.session.ID == sessionID && !pl.Ended() {
			return true
		}
	}
	return false
}

// running reports whether t has a pipeline. A pipeline whose session was
// finalized elsewhere is reaped so the next Start opens a new session.
func (m *Manager) running(t Target) bool {
	m.mu.Lock()
	pl, ok := m.pipelines[t]
	reap := ok && pl.Ended()
	if reap {
		delete(m.pipelines, t)
	}
	m.mu.Unlock()
	if reap {
		m.stop(pl)
		m.log.Info("supervisor: session finalized elsewhere", "session", pl.session.ID, "target", t.String())
		return false
	}
	return ok
}

// Supervise polls live status for every target and starts or ends sessions
// as channels go live or offline. Channels whose platform has no status
// source are ingested continuously. It blocks until ctx is done.
func (m *Manager) Supervise(ctx context.Context, targets []Target, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	m.log.Info("supervisor started", "targets", len(targets), "interval", every)
	for {
		for _, t := range targets {
			if ctx.Err() != nil {
				return
			}
			m.reconcile(ctx, target(t.Platform, t.Channel))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) reconcile(ctx context.Context, t Target) {
	live := true
	if checker := m.opts.Pipeline.Live; checker != nil {
		st, err := checker.Status(ctx, t.Platform, t.Channel)
		switch {
		case errors.Is(err, livestatus.ErrUnsupported):
		case err != nil:
			m.log.Debug("supervisor: status unknown", "target", t.String(), "err", err)
			return
		default:
			live = st.Live
		}
	}

	running := m.running(t)
	switch {
	case live && !running:
		if _, err := m.Start(ctx, t.Platform, t.Channel); err != nil {
			m.log.Error("supervisor: start failed", "target", t.String(), "err", err)
		}
	case !live && running:
		out, err := m.End(ctx, t.Platform, t.Channel)
		if err != nil {
			m.log.Warn("supervisor: end failed", "target", t.String(), "err", err)
			return
		}
		m.log.Info("supervisor: channel offline", "target", t.String(), "session", out.Session.ID,
			"report_generated", out.ReportGenerated, "report_sent", out.ReportSent)
	}
}

// Close stops every pipeline without ending its session. Sessions left open
// are resumed by the next Start or finalized by the recovery sweep.
func (m *Manager) Close() {
	m.mu.Lock()
	pls := make([]*Pipeline, 0, len(m.pipelines))
	for t, pl := range m.pipelines {
		pls = append(pls, pl)
		delete(m.pipelines, t)
	}
	m.mu.Unlock()
	var wg sync.WaitGroup
	for _, pl := range pls {
		wg.Add(1)
		go func(pl *Pipeline) {
			defer wg.Done()
			m.stop(pl)
		}(pl)
	}
	wg.Wait()
}
