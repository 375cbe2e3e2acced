package twitchirc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/you/streampulse/internal/botlist"
	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
)

// fakeServer accepts connections, consumes the four login lines and hands
// each connection to script.
type fakeServer struct {
	ln     net.Listener
	wg     sync.WaitGroup
	script func(n int, c net.Conn, r *bufio.Reader)
}

func newFakeServer(t *testing.T, script func(n int, c net.Conn, r *bufio.Reader)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, script: script}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for n := 0; ; n++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func(n int, c net.Conn) {
				defer s.wg.Done()
				defer c.Close()
				r := bufio.NewReader(c)
				for i := 0; i < 4; i++ {
					if _, err := r.ReadString('\n'); err != nil {
						return
					}
				}
				s.script(n, c, r)
			}(n, conn)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func joinAck(c net.Conn) {
	fmt.Fprintf(c, ":tmi.twitch.tv CAP * ACK :twitch.tv/tags twitch.tv/commands\r\n")
	fmt.Fprintf(c, "@room-id=1;slow=0 :tmi.twitch.tv ROOMSTATE #chan\r\n")
}

func privmsg(id, user, text string) string {
	return fmt.Sprintf("@display-name=%s;id=%s;tmi-sent-ts=1700000000000;user-id=42 :%s!%s@%s.tmi.twitch.tv PRIVMSG #chan :%s\r\n",
		user, id, strings.ToLower(user), strings.ToLower(user), strings.ToLower(user), text)
}

func TestClientDeliversViewerMessagesAndDropsBots(t *testing.T) {
	pong := make(chan string, 1)
	srv := newFakeServer(t, func(n int, c net.Conn, r *bufio.Reader) {
		joinAck(c)
		fmt.Fprintf(c, "PING :tmi.twitch.tv\r\n")
		line, err := r.ReadString('\n')
		if err == nil {
			pong <- strings.TrimSpace(line)
		}
		w := bufio.NewWriter(c)
		for i := 0; i < 500; i++ {
			fmt.Fprint(w, privmsg(fmt.Sprintf("v%d", i), "Viewer", "nice play"))
			if i%10 == 0 {
				fmt.Fprint(w, privmsg(fmt.Sprintf("b%d", i), "Nightbot", "Follow the channel!"))
			}
		}
		_ = w.Flush()
		_, _ = r.ReadString('\n')
	})

	client := New(Config{Channel: "#Chan", Addr: srv.addr()}, connector.Options{Bots: botlist.New()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := connector.Stream(ctx, client, 64)

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	select {
	case got := <-pong:
		if got != "PONG :tmi.twitch.tv" {
			t.Fatalf("unexpected pong %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no PONG")
	}

	for i := 0; i < 500; i++ {
		select {
		case m := <-msgs:
			if m.Username != "viewer" {
				t.Fatalf("bot message leaked: %+v", m)
			}
			if want := fmt.Sprintf("twitch:v%d", i); m.ID != want {
				t.Fatalf("order: want %s got %s", want, m.ID)
			}
			if m.Timestamp != 1700000000000 || m.DisplayName != "Viewer" || m.UserID != "42" {
				t.Fatalf("unexpected fields %+v", m)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d messages", i)
		}
	}
	select {
	case extra := <-msgs:
		t.Fatalf("unexpected extra message %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientSuspendedChannelFailsConnect(t *testing.T) {
	srv := newFakeServer(t, func(n int, c net.Conn, r *bufio.Reader) {
		fmt.Fprintf(c, "@msg-id=msg_channel_suspended :tmi.twitch.tv NOTICE #chan :This channel has been suspended.\r\n")
		_, _ = r.ReadString('\n')
	})
	client := New(Config{Channel: "chan", Addr: srv.addr()}, connector.Options{})

	err := client.Connect(context.Background())
	var cerr *core.ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !errors.Is(err, errChannelUnavailable) {
		t.Fatalf("expected channel unavailable, got %v", err)
	}
	if client.IsConnected() {
		t.Fatalf("client should not report connected")
	}
}

func TestClientHandshakeTimeout(t *testing.T) {
	srv := newFakeServer(t, func(n int, c net.Conn, r *bufio.Reader) {
		_, _ = r.ReadString('\n')
	})
	client := New(Config{Channel: "chan", Addr: srv.addr(), HandshakeTimeout: 100 * time.Millisecond}, connector.Options{})
	if err := client.Connect(context.Background()); err == nil {
		t.Fatalf("expected handshake timeout")
	}
}

func TestClientReconnectsAfterServerDrop(t *testing.T) {
	srv := newFakeServer(t, func(n int, c net.Conn, r *bufio.Reader) {
		joinAck(c)
		if n == 0 {
			fmt.Fprint(c, privmsg("first", "viewer", "hello"))
			return
		}
		fmt.Fprint(c, privmsg("second", "viewer", "back"))
		_, _ = r.ReadString('\n')
	})

	var (
		mu      sync.Mutex
		changes []bool
	)
	client := New(Config{Channel: "chan", Addr: srv.addr()}, connector.Options{Backoff: 50 * time.Millisecond})
	client.OnConnectionChange(func(c bool) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})
	client.OnError(func(error) {})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := connector.Stream(ctx, client, 4)

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	for _, want := range []string{"twitch:first", "twitch:second"} {
		select {
		case m := <-msgs:
			if m.ID != want {
				t.Fatalf("want %s got %s", want, m.ID)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(changes) != "[true false true]" {
		t.Fatalf("unexpected connection changes %v", changes)
	}
}

func TestParsePrivmsg(t *testing.T) {
	now := time.UnixMilli(5000)
	tests := []struct {
		name    string
		line    string
		ok      bool
		user    string
		display string
		text    string
		id      string
		ts      int64
	}{
		{
			name: "tagged", ok: true,
			line: `@display-name=Foo\sBar;id=abc;tmi-sent-ts=1234 :foo!foo@foo.tmi.twitch.tv PRIVMSG #chan :hi there`,
			user: "foo", display: "Foo Bar", text: "hi there", id: "abc", ts: 1234,
		},
		{
			name: "untagged uses now", ok: true,
			line: ":Bar!bar@bar.tmi.twitch.tv PRIVMSG #chan :yo",
			user: "bar", display: "bar", text: "yo", ts: 5000,
		},
		{
			name: "action", ok: true,
			line: ":baz!baz@baz PRIVMSG #chan :\x01ACTION dances\x01",
			user: "baz", display: "baz", text: "dances", ts: 5000,
		},
		{name: "other channel", line: ":baz!baz@baz PRIVMSG #other :hi"},
		{name: "not privmsg", line: ":tmi.twitch.tv USERSTATE #chan"},
		{name: "no prefix", line: "PRIVMSG #chan :hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := parsePrivmsg(tt.line, "chan", now)
			if ok != tt.ok {
				t.Fatalf("ok: want %v got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if msg.Username != tt.user || msg.DisplayName != tt.display || msg.Message != tt.text ||
				msg.PlatformMessageID != tt.id || msg.Timestamp != tt.ts {
				t.Fatalf("unexpected message %+v", msg)
			}
			if msg.Platform != core.PlatformTwitch || msg.Channel != "chan" {
				t.Fatalf("unexpected identity %+v", msg)
			}
		})
	}
}
