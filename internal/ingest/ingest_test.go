package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/livestatus"
	"github.com/you/streampulse/internal/recovery"
	"github.com/you/streampulse/internal/report"
	"github.com/you/streampulse/internal/store"
)

type chanLink struct {
	msgs   chan core.UnifiedChatMessage
	closed chan struct{}
	once   sync.Once
}

func (l *chanLink) Run(ctx context.Context, emit func(core.UnifiedChatMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return errors.New("closed")
		case m := <-l.msgs:
			emit(m)
		}
	}
}

func (l *chanLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

type chanTransport struct {
	link *chanLink
}

func newChanTransport() *chanTransport {
	return &chanTransport{link: &chanLink{msgs: make(chan core.UnifiedChatMessage, 64), closed: make(chan struct{})}}
}

func (t *chanTransport) Open(context.Context) (connector.Link, error) { return t.link, nil }

func (t *chanTransport) send(user, pid string, at time.Time) {
	t.link.msgs <- core.UnifiedChatMessage{
		PlatformMessageID: pid,
		Platform:          core.PlatformTwitch,
		Channel:           "chan",
		Username:          user,
		DisplayName:       user,
		Message:           "great stream, love it",
		Timestamp:         core.Millis(at),
	}
}

type fakeFactory struct {
	mu         sync.Mutex
	transports map[string]*chanTransport
}

func (f *fakeFactory) New(p core.Platform, channel string) (connector.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transports == nil {
		f.transports = make(map[string]*chanTransport)
	}
	t := newChanTransport()
	f.transports[channel] = t
	return connector.NewBase(p, channel, t, connector.Options{}), nil
}

func (f *fakeFactory) transport(channel string) *chanTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[channel]
}

type fixedViewers int

func (v fixedViewers) Status(context.Context, core.Platform, string) (livestatus.Status, error) {
	return livestatus.Status{Live: true, ViewerCount: int(v)}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPipelineStoresAndAggregates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s, _, err := st.OpenSession(ctx, "chan", core.PlatformTwitch, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tr := newChanTransport()
	conn := connector.NewBase(core.PlatformTwitch, "chan", tr, connector.Options{})
	p := NewPipeline(s, conn, st, PipelineOptions{Live: fixedViewers(42), Sink: store.BufferedOptions{BatchSize: 7}})
	p.Start(ctx)

	waitFor(t, "connect", conn.IsConnected)
	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 30; i++ {
		tr.send(fmt.Sprintf("user%d", i%4), fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute))
	}
	// Re-delivery of an earlier message is ignored.
	tr.send("user0", "m0", base)
	waitFor(t, "aggregation", func() bool { return p.Aggregator().Total() == 30 })

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if conn.State() != connector.StateClosed {
		t.Fatalf("connector state = %s", conn.State())
	}

	n, _ := st.CountMessages(ctx, s.ID)
	if n != 30 {
		t.Fatalf("stored messages = %d", n)
	}
	stored, _ := st.GetSession(ctx, s.ID)
	if stored.TotalMessages != 30 || stored.PeakViewerCount != 42 || !stored.Open() {
		t.Fatalf("session = %+v", stored)
	}
	buckets, _ := st.TimelineBuckets(ctx, s.ID)
	sum := 0
	for _, b := range buckets {
		sum += b.MessageCount
	}
	if sum != 30 {
		t.Fatalf("bucket sum = %d", sum)
	}
	chatters, _ := st.TopChatters(ctx, s.ID, 0)
	if len(chatters) != 4 {
		t.Fatalf("chatters = %d", len(chatters))
	}
}

func TestPipelineResumesStoredSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s, _, _ := st.OpenSession(ctx, "chan", core.PlatformTwitch, time.Now().Add(-time.Hour))
	var old []core.UnifiedChatMessage
	for i := 0; i < 5; i++ {
		old = append(old, core.UnifiedChatMessage{ID: connector.MessageID(core.PlatformTwitch, fmt.Sprintf("m%d", i)),
			Platform: core.PlatformTwitch, Channel: "chan", Username: "alice", Timestamp: core.Millis(time.Now().Add(-50 * time.Minute))})
	}
	if err := st.InsertMessages(ctx, s.ID, old); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tr := newChanTransport()
	conn := connector.NewBase(core.PlatformTwitch, "chan", tr, connector.Options{})
	p := NewPipeline(s, conn, st, PipelineOptions{})
	p.Start(ctx)
	waitFor(t, "connect", conn.IsConnected)
	for i := 3; i < 8; i++ {
		tr.send("bob", fmt.Sprintf("m%d", i), time.Now())
	}
	waitFor(t, "aggregation", func() bool { return p.Aggregator().Total() == 8 })
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	stored, _ := st.GetSession(ctx, s.ID)
	if stored.TotalMessages != 8 {
		t.Fatalf("total = %d", stored.TotalMessages)
	}
}

func TestPipelineStopBeforeConnect(t *testing.T) {
	st := store.NewMemoryStore()
	s, _, _ := st.OpenSession(context.Background(), "chan", core.PlatformTwitch, time.Now())
	tr := &failingTransport{}
	conn := connector.NewBase(core.PlatformTwitch, "chan", tr, connector.Options{})
	p := NewPipeline(s, conn, st, PipelineOptions{ConnectRetry: 10 * time.Millisecond})
	p.Start(context.Background())
	waitFor(t, "retries", func() bool { return tr.calls.Load() >= 2 })
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

type failingTransport struct{ calls atomic.Int32 }

func (f *failingTransport) Open(context.Context) (connector.Link, error) {
	f.calls.Add(1)
	return nil, errors.New("dial refused")
}

func newTestManager(st *store.MemoryStore, factory ConnectorFactory, live LiveChecker) *Manager {
	b := &report.Builder{Sessions: st, Events: st}
	f := &report.Finalizer{Store: st, Builder: b, MinMessages: 1, MinDuration: time.Minute}
	// Each reading of the clock advances it a minute so sessions are never
	// too short to report.
	base := time.Now()
	var ticks atomic.Int64
	clock := func() time.Time { return base.Add(time.Duration(ticks.Add(1)) * time.Minute) }
	return NewManager(st, factory, f, ManagerOptions{Pipeline: PipelineOptions{Live: live}, Now: clock})
}

func TestManagerStartEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	factory := &fakeFactory{}
	m := newTestManager(st, factory, nil)

	s1, err := m.Start(ctx, core.PlatformTwitch, "#Chan")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	s2, err := m.Start(ctx, core.PlatformTwitch, "chan")
	if err != nil || s2.ID != s1.ID {
		t.Fatalf("second start = %+v, %v", s2, err)
	}
	if len(m.Active()) != 1 {
		t.Fatalf("active = %+v", m.Active())
	}

	tr := factory.transport("chan")
	for i := 0; i < 3; i++ {
		tr.send("alice", fmt.Sprintf("m%d", i), time.Now())
	}
	waitFor(t, "messages", func() bool {
		for _, s := range m.Active() {
			if s.TotalMessages == 3 {
				return true
			}
		}
		return false
	})

	out, err := m.End(ctx, core.PlatformTwitch, "chan")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !out.Ended || out.Session.TotalMessages != 3 || !out.ReportGenerated {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := m.End(ctx, core.PlatformTwitch, "chan"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	// A new Start opens a fresh session.
	s3, err := m.Start(ctx, core.PlatformTwitch, "chan")
	if err != nil || s3.ID == s1.ID {
		t.Fatalf("restart = %+v, %v", s3, err)
	}
	m.Close()
	if len(m.Active()) != 0 {
		t.Fatalf("close left pipelines running")
	}
	reopened, _ := st.GetSession(ctx, s3.ID)
	if !reopened.Open() {
		t.Fatalf("Close must not end sessions")
	}
}

func TestManagerEndSessionByID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newTestManager(st, &fakeFactory{}, nil)
	s, err := m.Start(ctx, core.PlatformKick, "chan")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := m.EndSession(ctx, s.ID)
	if err != nil || !out.Ended || len(m.Active()) != 0 {
		t.Fatalf("end session = %+v err=%v", out, err)
	}
	if _, err := m.EndSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func bucketSum(t *testing.T, st store.Store, sessionID string) int {
	t.Helper()
	buckets, err := st.TimelineBuckets(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("buckets: %v", err)
	}
	sum := 0
	for _, b := range buckets {
		sum += b.MessageCount
	}
	return sum
}

func TestSweepSkipsSessionOwnedByPipeline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	factory := &fakeFactory{}
	m := newTestManager(st, factory, nil)
	defer m.Close()

	// A marathon stream on a channel without a live status source.
	old, _, err := st.OpenSession(ctx, "chan", core.PlatformTwitch, time.Now().Add(-13*time.Hour))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := m.Start(ctx, core.PlatformTwitch, "chan")
	if err != nil || s.ID != old.ID {
		t.Fatalf("start = %+v, %v", s, err)
	}
	tr := factory.transport("chan")
	for i := 0; i < 20; i++ {
		tr.send(fmt.Sprintf("u%d", i%5), fmt.Sprintf("a%d", i), time.Now().Add(-time.Duration(20-i)*time.Minute))
	}
	waitFor(t, "first batch", func() bool { return len(m.Active()) == 1 && m.Active()[0].TotalMessages == 20 })

	b := &report.Builder{Sessions: st, Events: st}
	fin := &report.Finalizer{Store: st, Builder: b, MinMessages: 1, MinDuration: time.Minute}
	res, err := recovery.New(st, nil, fin, recovery.Options{Owner: m}).RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Candidates != 1 || res.Skipped != 1 || res.Ended != 0 {
		t.Fatalf("sweep result = %+v", res)
	}

	for i := 0; i < 30; i++ {
		tr.send(fmt.Sprintf("u%d", i%5), fmt.Sprintf("b%d", i), time.Now())
	}
	waitFor(t, "second batch", func() bool { return len(m.Active()) == 1 && m.Active()[0].TotalMessages == 50 })

	out, err := m.End(ctx, core.PlatformTwitch, "chan")
	if err != nil || !out.Ended {
		t.Fatalf("end = %+v, %v", out, err)
	}
	ended, _ := st.GetSession(ctx, s.ID)
	if ended.TotalMessages != 50 {
		t.Fatalf("total = %d", ended.TotalMessages)
	}
	if sum := bucketSum(t, st, s.ID); sum != ended.TotalMessages {
		t.Fatalf("bucket sum %d != total %d", sum, ended.TotalMessages)
	}
}

func TestPipelineStopsWhenSessionFinalizedElsewhere(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	factory := &fakeFactory{}
	b := &report.Builder{Sessions: st, Events: st}
	fin := &report.Finalizer{Store: st, Builder: b, MinMessages: 1, MinDuration: time.Minute}
	m := NewManager(st, factory, fin, ManagerOptions{Pipeline: PipelineOptions{FlushEvery: 20 * time.Millisecond}})
	defer m.Close()

	s, err := m.Start(ctx, core.PlatformTwitch, "chan")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	tr := factory.transport("chan")
	for i := 0; i < 20; i++ {
		tr.send("alice", fmt.Sprintf("a%d", i), time.Now())
	}
	waitFor(t, "stored", func() bool {
		n, _ := st.CountMessages(ctx, s.ID)
		return n == 20
	})

	// Another process ends the session.
	if _, err := fin.Finalize(ctx, s, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	waitFor(t, "pipeline retired", func() bool { return !m.Owns(s.ID) })

	tgt := Target{Platform: core.PlatformTwitch, Channel: "chan"}
	if m.running(tgt) {
		t.Fatalf("retired pipeline still counted as running")
	}
	next, err := m.Start(ctx, core.PlatformTwitch, "chan")
	if err != nil || next.ID == s.ID {
		t.Fatalf("restart = %+v, %v", next, err)
	}
	tr = factory.transport("chan")
	for i := 0; i < 5; i++ {
		tr.send("bob", fmt.Sprintf("b%d", i), time.Now())
	}
	waitFor(t, "new session", func() bool {
		n, _ := st.CountMessages(ctx, next.ID)
		return n == 5
	})

	ended, _ := st.GetSession(ctx, s.ID)
	if ended.Open() || ended.TotalMessages != 20 {
		t.Fatalf("finalized session = %+v", ended)
	}
	if n, _ := st.CountMessages(ctx, s.ID); n != 20 {
		t.Fatalf("finalized session gained messages: %d", n)
	}
	if sum := bucketSum(t, st, s.ID); sum != 20 {
		t.Fatalf("bucket sum = %d", sum)
	}
}

type toggleLive struct{ live atomic.Bool }

func (l *toggleLive) Status(context.Context, core.Platform, string) (livestatus.Status, error) {
	return livestatus.Status{Live: l.live.Load()}, nil
}

func TestManagerSupervise(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()
	live := &toggleLive{}
	m := newTestManager(st, &fakeFactory{}, live)
	defer m.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Supervise(ctx, []Target{{Platform: core.PlatformTwitch, Channel: "chan"}}, 10*time.Millisecond)
	}()

	time.Sleep(30 * time.Millisecond)
	if len(m.Active()) != 0 {
		t.Fatalf("offline channel should not start")
	}
	live.live.Store(true)
	waitFor(t, "start", func() bool { return len(m.Active()) == 1 })
	id := m.Active()[0].ID
	live.live.Store(false)
	waitFor(t, "end", func() bool { return len(m.Active()) == 0 })
	s, _ := st.GetSession(context.Background(), id)
	if s.Open() {
		t.Fatalf("session should be ended: %+v", s)
	}
	cancel()
	<-done
}

func TestFactory(t *testing.T) {
	f := &Factory{}
	c, err := f.New(core.PlatformTwitch, "chan")
	if err != nil || c.Platform() != core.PlatformTwitch || c.Channel() != "chan" {
		t.Fatalf("twitch = %v, %v", c, err)
	}
	c, err = f.New(core.PlatformKick, "https://kick.com/Someone")
	if err != nil || c.Platform() != core.PlatformKick || c.Channel() != "someone" {
		t.Fatalf("kick = %v, %v", c, err)
	}
	if _, err := f.New("youtube", "chan"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}
