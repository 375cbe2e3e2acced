// Package twitchirc is the anonymous, read-only Twitch chat connector.
package twitchirc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
)

const (
	defaultHost             = "irc.chat.twitch.tv"
	defaultHandshakeTimeout = 15 * time.Second
	readDeadline            = 2 * time.Minute
	keepaliveEvery          = 4 * time.Minute
)

// Config for one channel. Nick defaults to an anonymous justinfanNNNNN login.
type Config struct {
	Channel          string
	Nick             string
	UseTLS           bool
	Addr             string
	HandshakeTimeout time.Duration
	DebugDrops       bool
}

// Client joins one channel and emits its PRIVMSG lines.
type Client struct {
	*connector.Base
	cfg Config
}

var (
	errChannelUnavailable = errors.New("twitchirc: channel unavailable")
	errAuthFailed         = errors.New("twitchirc: authentication failed")
	errServerReconnect    = errors.New("twitchirc: server requested reconnect")
)

func New(cfg Config, opts connector.Options) *Client {
	cfg.Channel = normalizeChannel(cfg.Channel)
	if strings.TrimSpace(cfg.Nick) == "" {
		cfg.Nick = AnonymousNick()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	c := &Client{cfg: cfg}
	c.Base = connector.NewBase(core.PlatformTwitch, cfg.Channel, c, opts)
	return c
}

// AnonymousNick returns a justinfan login that Twitch accepts without a token.
func AnonymousNick() string {
	return "justinfan" + strconv.Itoa(10000+rand.IntN(89999))
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

func (c *Client) addr() (string, string) {
	host := defaultHost
	addr := host + ":6667"
	if c.cfg.UseTLS {
		addr = host + ":6697"
	}
	if a := strings.TrimSpace(c.cfg.Addr); a != "" {
		addr = a
		if h, _, err := net.SplitHostPort(a); err == nil {
			host = h
		}
	}
	return addr, host
}

// Open dials, logs in anonymously, joins the channel and waits for ROOMSTATE
// or the end of NAMES for that channel.
func (c *Client) Open(ctx context.Context) (connector.Link, error) {
	if c.cfg.Channel == "" {
		return nil, errors.New("twitchirc: channel is required")
	}
	addr, host := c.addr()

	d := &net.Dialer{Timeout: 10 * time.Second}
	var (
		conn net.Conn
		err  error
	)
	if c.cfg.UseTLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	l := &link{
		conn:    conn,
		rw:      bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		channel: c.cfg.Channel,
		stats:   newLineStats(c.cfg.Channel, time.Now(), c.cfg.DebugDrops, statsInterval),
	}
	if err := l.handshake(ctx, c.cfg.Nick, c.cfg.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return l, nil
}

type link struct {
	conn    net.Conn
	rw      *bufio.ReadWriter
	channel string
	stats   *lineStats
	pending []core.UnifiedChatMessage
}

func (l *link) send(s string) error {
	if _, err := l.rw.WriteString(s + "\r\n"); err != nil {
		return err
	}
	return l.rw.Flush()
}

func (l *link) handshake(ctx context.Context, nick string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	stop := context.AfterFunc(ctx, func() { _ = l.conn.SetDeadline(time.Now()) })
	defer stop()

	for _, line := range []string{
		"PASS SCHMOOPIIE",
		"NICK " + nick,
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"JOIN #" + l.channel,
	} {
		if err := l.send(line); err != nil {
			return fmt.Errorf("send %s: %w", strings.Fields(line)[0], err)
		}
	}

	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	for {
		raw, err := l.rw.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("twitchirc: no join acknowledgement for #%s within %s", l.channel, timeout)
			}
			return fmt.Errorf("read: %w", err)
		}
		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "PING ") {
			if err := l.send("PONG " + strings.TrimPrefix(line, "PING ")); err != nil {
				return fmt.Errorf("send PONG: %w", err)
			}
			continue
		}
		if authFailure(line) {
			return errAuthFailed
		}

		parsed := splitIRC(line)
		onChannel := strings.EqualFold(parsed.channel, "#"+l.channel)
		switch parsed.command {
		case "ROOMSTATE", "366":
			if onChannel {
				return nil
			}
		case "NOTICE":
			if onChannel && joinRejected(parsed.tags) {
				return fmt.Errorf("%w: #%s (%s)", errChannelUnavailable, l.channel, tagValue(parsed.tags, "msg-id"))
			}
		case "PRIVMSG":
			if msg, ok := parsePrivmsg(line, l.channel, time.Now()); ok {
				l.pending = append(l.pending, msg)
			}
		}
	}
}

func joinRejected(tags string) bool {
	switch tagValue(tags, "msg-id") {
	case "msg_channel_suspended", "msg_banned", "msg_channel_blocked", "tos_ban", "msg_room_not_found":
		return true
	}
	return false
}

// Run reads until the server drops, asks for a reconnect or ctx is done.
func (l *link) Run(ctx context.Context, emit func(core.UnifiedChatMessage)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.conn.Close()
		case <-done:
		}
	}()

	for _, msg := range l.pending {
		emit(msg)
	}
	l.pending = nil

	nextPing := time.Now().Add(keepaliveEvery)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}

		raw, err := l.rw.ReadString('\n')
		now := time.Now()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if !now.Before(nextPing) {
					if err := l.send("PING :keepalive"); err != nil {
						return fmt.Errorf("send PING: %w", err)
					}
					nextPing = now.Add(keepaliveEvery)
				}
				l.stats.tick(now)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		nextPing = now.Add(keepaliveEvery)
		l.stats.tick(now)

		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "PING ") {
			if err := l.send("PONG " + strings.TrimPrefix(line, "PING ")); err != nil {
				return fmt.Errorf("send PONG: %w", err)
			}
			continue
		}
		if msg, ok := parsePrivmsg(line, l.channel, now); ok {
			l.stats.chat()
			emit(msg)
			continue
		}
		parsed := splitIRC(line)
		if parsed.command == "RECONNECT" {
			return errServerReconnect
		}
		l.stats.ignore(parsed)
	}
}

func (l *link) Close() error {
	l.stats.flush(time.Now())
	return l.conn.Close()
}

func authFailure(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth") ||
		strings.Contains(lower, "login unsuccessful")
}
