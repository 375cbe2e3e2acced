package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/you/streampulse/internal/aggregate"
	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/livestatus"
	"github.com/you/streampulse/internal/store"
	"github.com/you/streampulse/internal/telemetry"
)

const (
	DefaultBuffer         = 256
	DefaultFlushEvery     = 30 * time.Second
	DefaultViewerPoll     = time.Minute
	DefaultRecentSessions = 10
	finalFlushTimeout     = 30 * time.Second
)

type LiveChecker interface {
	Status(ctx context.Context, p core.Platform, channel string) (livestatus.Status, error)
}

type PipelineOptions struct {
	Buffer         int
	Sink           store.BufferedOptions
	FlushEvery     time.Duration
	ViewerPoll     time.Duration
	ConnectRetry   time.Duration
	RecentSessions int
	Aggregate      aggregate.Options
	Live           LiveChecker
	Metrics        *telemetry.Metrics
	Logger         *slog.Logger
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}
	if o.Sink.BatchSize <= 0 {
		o.Sink.BatchSize = 50
	}
	if o.Sink.FlushInterval <= 0 {
		o.Sink.FlushInterval = time.Second
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = DefaultFlushEvery
	}
	if o.ViewerPoll <= 0 {
		o.ViewerPoll = DefaultViewerPoll
	}
	if o.ConnectRetry <= 0 {
		o.ConnectRetry = connector.DefaultBackoff
	}
	if o.RecentSessions <= 0 {
		o.RecentSessions = DefaultRecentSessions
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Pipeline drains one connector into one open session: every message is
// appended to the store and folded into the session aggregator, and the
// session counters and rollups are flushed periodically and on stop.
type Pipeline struct {
	session core.Session
	conn    connector.Connector
	store   store.Store
	opts    PipelineOptions
	log     *slog.Logger

	agg       *aggregate.Aggregator
	writer    *store.BufferedWriter
	recurring map[string]struct{}
	peak      atomic.Int64
	ended     atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewPipeline(s core.Session, conn connector.Connector, st store.Store, opts PipelineOptions) *Pipeline {
	opts = opts.withDefaults()
	log := opts.Logger.With("session", s.ID, "channel", s.ChannelName, "platform", s.Platform)
	aggOpts := opts.Aggregate
	if aggOpts.Logger == nil {
		aggOpts.Logger = opts.Logger
	}
	p := &Pipeline{
		session: s,
		conn:    conn,
		store:   st,
		opts:    opts,
		log:     log,
		agg:     aggregate.New(s, aggOpts),
		writer:  store.NewBufferedWriter(st, s.ID, opts.Sink),
		done:    make(chan struct{}),
	}
	p.peak.Store(int64(s.PeakViewerCount))
	return p
}

func (p *Pipeline) Aggregator() *aggregate.Aggregator { return p.agg }

// Session returns the session with its live counters.
func (p *Pipeline) Session() core.Session {
	s := p.session
	s.TotalMessages = p.agg.Total()
	s.PeakViewerCount = int(p.peak.Load())
	return s
}

func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Ended reports whether the pipeline stopped because its session was
// finalized by someone else.
func (p *Pipeline) Ended() bool { return p.ended.Load() }

// Start runs the pipeline in the background until Stop or ctx is done.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		defer close(p.done)
		p.err = p.run(ctx)
	}()
}

// Stop disconnects, drains buffered messages and waits for the final flush.
func (p *Pipeline) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	<-p.done
	return p.err
}

// prepare loads the recurring-chatter set and, when resuming a session that
// already has stored messages, replays them into the aggregator.
func (p *Pipeline) prepare(ctx context.Context) {
	recurring, err := p.store.RecentChatters(ctx, p.session.ChannelName, p.session.Platform, p.session.SessionStart, p.opts.RecentSessions)
	if err != nil {
		p.log.Warn("ingest: recurring chatters unavailable", "err", err)
	}
	p.recurring = recurring

	stored, err := p.store.SessionMessages(ctx, p.session.ID)
	if err != nil {
		p.log.Warn("ingest: stored messages unavailable", "err", err)
		return
	}
	for _, m := range stored {
		p.agg.Add(m)
	}
	if len(stored) > 0 {
		p.log.Info("ingest: resumed session", "messages", len(stored))
	}
}

func (p *Pipeline) run(ctx context.Context) error {
	p.prepare(ctx)

	msgs := connector.Stream(ctx, p.conn, p.opts.Buffer)
	p.conn.OnError(func(err error) {
		p.log.Warn("ingest: connector error", "err", err)
	})

	for {
		err := p.conn.Connect(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, connector.ErrDisconnected) || ctx.Err() != nil {
			return p.shutdown(msgs)
		}
		select {
		case <-ctx.Done():
			return p.shutdown(msgs)
		case <-time.After(p.opts.ConnectRetry):
		}
	}

	flushT := time.NewTicker(p.opts.FlushEvery)
	defer flushT.Stop()
	var viewerC <-chan time.Time
	if p.opts.Live != nil {
		viewerT := time.NewTicker(p.opts.ViewerPoll)
		defer viewerT.Stop()
		viewerC = viewerT.C
		p.pollViewers(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return p.shutdown(msgs)
		case m := <-msgs:
			p.handle(m)
		case <-flushT.C:
			if !p.flush(ctx) {
				return p.retire()
			}
		case <-viewerC:
			p.pollViewers(ctx)
		}
	}
}

func (p *Pipeline) handle(m core.UnifiedChatMessage) {
	// The store ignores repeated ids, so re-delivered messages are written
	// again without harm.
	if err := p.writer.Write(m); err != nil {
		p.opts.Metrics.IncDBWriteErrors()
		p.log.Error("ingest: message insert failed", "err", err)
	}
	p.agg.Add(m)
}

func (p *Pipeline) pollViewers(ctx context.Context) {
	st, err := p.opts.Live.Status(ctx, p.session.Platform, p.session.ChannelName)
	if err != nil {
		p.log.Debug("ingest: viewer poll failed", "err", err)
		return
	}
	if n := int64(st.ViewerCount); n > p.peak.Load() {
		p.peak.Store(n)
	}
}

// flush persists counters, pending messages and rollups. It returns false,
// writing nothing, once the session has been finalized elsewhere.
func (p *Pipeline) flush(ctx context.Context) bool {
	err := p.store.UpsertSession(ctx, p.Session())
	switch {
	case errors.Is(err, store.ErrSessionEnded):
		p.ended.Store(true)
		return false
	case err != nil:
		p.log.Error("ingest: session counters update failed", "err", err)
	}
	if err := p.writer.Flush(); err != nil {
		p.opts.Metrics.IncDBWriteErrors()
		p.log.Error("ingest: message flush failed", "err", err)
	}
	if res := p.agg.Flush(ctx, p.store, p.recurring); res.Err != nil {
		p.opts.Metrics.AddFlushFailures(res.FailedChatters, res.FailedBuckets)
	}
	return true
}

// retire disconnects without touching the finalized session again.
func (p *Pipeline) retire() error {
	if err := p.conn.Disconnect(); err != nil {
		p.log.Debug("ingest: disconnect", "err", err)
	}
	dropped := p.writer.Discard()
	p.log.Warn("ingest: session was finalized elsewhere, pipeline stopped", "dropped", dropped)
	return nil
}

func (p *Pipeline) shutdown(msgs <-chan core.UnifiedChatMessage) error {
	err := p.conn.Disconnect()
	if err != nil {
		p.log.Debug("ingest: disconnect", "err", err)
	}
	for drained := false; !drained; {
		select {
		case m := <-msgs:
			p.handle(m)
		default:
			drained = true
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if !p.flush(ctx) {
		return p.retire()
	}
	return p.writer.Close()
}
