package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/streampulse/internal/botlist"
	"github.com/you/streampulse/internal/core"
)

type fakeLink struct {
	msgs   chan core.UnifiedChatMessage
	drop   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		msgs:   make(chan core.UnifiedChatMessage, 16),
		drop:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (l *fakeLink) Run(ctx context.Context, emit func(core.UnifiedChatMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return errors.New("closed")
		case err := <-l.drop:
			return err
		case msg := <-l.msgs:
			emit(msg)
		}
	}
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	opens   []time.Time
	links   []*fakeLink
	failErr error
	opened  chan *fakeLink
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeLink, 8)}
}

func (t *fakeTransport) Open(ctx context.Context) (Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens = append(t.opens, time.Now())
	if t.failErr != nil {
		return nil, t.failErr
	}
	l := newFakeLink()
	t.links = append(t.links, l)
	t.opened <- l
	return l, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opens)
}

func waitLink(t *testing.T, ft *fakeTransport) *fakeLink {
	t.Helper()
	select {
	case l := <-ft.opened:
		return l
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport open")
		return nil
	}
}

func TestConnectEmitsClassifiedMessagesAndFiltersBots(t *testing.T) {
	ft := newFakeTransport()
	b := NewBase(core.PlatformTwitch, "chan", ft, Options{Bots: botlist.New(), Backoff: 50 * time.Millisecond})

	got := make(chan core.UnifiedChatMessage, 8)
	b.OnMessage(func(m core.UnifiedChatMessage) { got <- m })

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()
	if !b.IsConnected() || b.State() != StateConnected {
		t.Fatalf("expected connected state, got %s", b.State())
	}

	link := waitLink(t, ft)
	link.msgs <- core.UnifiedChatMessage{PlatformMessageID: "1", Username: "viewer", Message: "I love this stream"}
	link.msgs <- core.UnifiedChatMessage{PlatformMessageID: "2", Username: "Nightbot", Message: "!commands"}
	link.msgs <- core.UnifiedChatMessage{PlatformMessageID: "3", Username: "other", Message: "how do you do that?"}

	first := <-got
	if first.ID != "twitch:1" || first.Channel != "chan" || first.Platform != core.PlatformTwitch {
		t.Fatalf("unexpected identity fields: %+v", first)
	}
	if first.Sentiment != core.SentimentPositive {
		t.Fatalf("expected classification before emission, got %s", first.Sentiment)
	}
	second := <-got
	if second.Username != "other" || !second.IsQuestion {
		t.Fatalf("expected bot line to be skipped, got %+v", second)
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected extra message %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnexpectedCloseReconnectsOnceAfterBackoff(t *testing.T) {
	const backoff = 100 * time.Millisecond
	ft := newFakeTransport()
	b := NewBase(core.PlatformKick, "chan", ft, Options{Backoff: backoff})

	var (
		mu      sync.Mutex
		changes []bool
		errs    []error
	)
	b.OnConnectionChange(func(c bool) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})
	b.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	got := make(chan core.UnifiedChatMessage, 8)
	b.OnMessage(func(m core.UnifiedChatMessage) { got <- m })

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()

	first := waitLink(t, ft)
	dropped := time.Now()
	first.drop <- errors.New("connection reset")

	second := waitLink(t, ft)
	elapsed := time.Since(dropped)
	if elapsed < backoff {
		t.Fatalf("reconnect happened before backoff: %s", elapsed)
	}
	if elapsed > backoff+time.Second {
		t.Fatalf("reconnect took too long: %s", elapsed)
	}

	second.msgs <- core.UnifiedChatMessage{PlatformMessageID: "after", Username: "viewer", Message: "back again"}
	select {
	case m := <-got:
		if m.ID != "kick:after" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("messages did not resume after reconnect")
	}

	time.Sleep(3 * backoff)
	if n := ft.openCount(); n != 2 {
		t.Fatalf("expected exactly 2 opens, got %d", n)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false, true}
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Fatalf("connection changes: want %v got %v", want, changes)
	}
	if len(errs) != 1 {
		t.Fatalf("expected one transport error, got %v", errs)
	}
	var cerr *core.ConnectionError
	if !errors.As(errs[0], &cerr) || cerr.Platform != core.PlatformKick {
		t.Fatalf("expected ConnectionError, got %T %v", errs[0], errs[0])
	}
}

func TestConnectDuringReconnectKeepsOneSupervisor(t *testing.T) {
	const backoff = 150 * time.Millisecond
	ft := newFakeTransport()
	b := NewBase(core.PlatformTwitch, "chan", ft, Options{Backoff: backoff})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()
	first := waitLink(t, ft)
	done := b.Done()

	ft.mu.Lock()
	ft.failErr = errors.New("connection refused")
	ft.mu.Unlock()
	first.drop <- errors.New("connection reset")

	deadline := time.Now().Add(2 * time.Second)
	for b.State() != StateError {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", b.State(), StateError)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ft.mu.Lock()
	ft.failErr = nil
	ft.mu.Unlock()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect during reconnect: %v", err)
	}
	if b.Done() != done {
		t.Fatalf("connect replaced the running supervisor")
	}

	waitLink(t, ft)
	time.Sleep(3 * backoff)
	ft.mu.Lock()
	links := len(ft.links)
	ft.mu.Unlock()
	if links != 2 {
		t.Fatalf("expected the supervisor alone to reopen the link, got %d links", links)
	}
	if !b.IsConnected() {
		t.Fatalf("state = %s", b.State())
	}
}

func TestDisconnectIsTerminalAndIdempotent(t *testing.T) {
	const backoff = 40 * time.Millisecond
	ft := newFakeTransport()
	b := NewBase(core.PlatformTwitch, "chan", ft, Options{Backoff: backoff})

	var disconnects atomic.Int32
	b.OnConnectionChange(func(c bool) {
		if !c {
			disconnects.Add(1)
		}
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitLink(t, ft)

	if err := b.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := b.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatalf("supervisor did not exit")
	}

	time.Sleep(4 * backoff)
	if n := ft.openCount(); n != 1 {
		t.Fatalf("expected no reconnect after disconnect, got %d opens", n)
	}
	if b.IsConnected() || b.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", b.State())
	}
	if n := disconnects.Load(); n != 1 {
		t.Fatalf("expected a single disconnect notification, got %d", n)
	}
	if err := b.Connect(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected after disconnect, got %v", err)
	}
}

func TestConnectFailureReturnsConnectionError(t *testing.T) {
	ft := newFakeTransport()
	ft.failErr = errors.New("room not found")
	b := NewBase(core.PlatformKick, "missing", ft, Options{})

	err := b.Connect(context.Background())
	var cerr *core.ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if cerr.Channel != "missing" || cerr.Op != "connect" {
		t.Fatalf("unexpected error fields: %+v", cerr)
	}
	if b.State() != StateError || b.IsConnected() {
		t.Fatalf("expected error state, got %s", b.State())
	}
}

func TestStreamPreservesOrder(t *testing.T) {
	ft := newFakeTransport()
	b := NewBase(core.PlatformTwitch, "chan", ft, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := Stream(ctx, b, 4)
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()
	link := waitLink(t, ft)

	go func() {
		for i := 0; i < 10; i++ {
			link.msgs <- core.UnifiedChatMessage{PlatformMessageID: fmt.Sprint(i), Username: "u", Message: "m"}
		}
	}()
	for i := 0; i < 10; i++ {
		select {
		case m := <-ch:
			if want := fmt.Sprintf("twitch:%d", i); m.ID != want {
				t.Fatalf("out of order: want %s got %s", want, m.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at message %d", i)
		}
	}
}
