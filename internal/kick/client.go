// Package kick is the read-only Kick chat connector. Kick chat rides on a
// Pusher channel per chatroom; the room id is resolved from the public
// channel API before subscribing.
package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
)

const (
	DefaultPusherURL        = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=8.4.0&flash=false"
	defaultHandshakeTimeout = 15 * time.Second
	defaultActivityTimeout  = 120 * time.Second
	readLimit               = 1 << 20

	chatEvent = `App\Events\ChatMessageEvent`
)

var errPusher = errors.New("kick: pusher error")

type Config struct {
	Channel          string
	APIBase          string
	PusherURL        string
	HandshakeTimeout time.Duration
}

// Client subscribes to one channel's chatroom.
type Client struct {
	*connector.Base
	cfg      Config
	resolver *Resolver

	mu         sync.Mutex
	chatroomID int64
}

func New(cfg Config, resolver *Resolver, opts connector.Options) *Client {
	cfg.Channel = normalizeSlug(cfg.Channel)
	if strings.TrimSpace(cfg.PusherURL) == "" {
		cfg.PusherURL = DefaultPusherURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if resolver == nil {
		resolver = NewResolver(nil, cfg.APIBase)
	}
	c := &Client{cfg: cfg, resolver: resolver}
	c.Base = connector.NewBase(core.PlatformKick, cfg.Channel, c, opts)
	return c
}

// pusherFrame is one Pusher protocol message. Data is either an object or
// a JSON document encoded as a string, depending on the event.
type pusherFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (f pusherFrame) decode(v any) error {
	raw := []byte(f.Data)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	return json.Unmarshal(raw, v)
}

type pusherError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type chatMessage struct {
	ID         string `json:"id"`
	ChatroomID int64  `json:"chatroom_id"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	CreatedAt  string `json:"created_at"`
	Sender     struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Slug     string `json:"slug"`
	} `json:"sender"`
}

func (c *Client) roomID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	id := c.chatroomID
	c.mu.Unlock()
	if id != 0 {
		return id, nil
	}
	ch, err := c.resolver.Resolve(ctx, c.cfg.Channel)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.chatroomID = ch.ChatroomID
	c.mu.Unlock()
	return ch.ChatroomID, nil
}

// Open resolves the chatroom, connects, subscribes and waits for the
// subscription acknowledgement.
func (c *Client) Open(ctx context.Context) (connector.Link, error) {
	if c.cfg.Channel == "" {
		return nil, errors.New("kick: channel is required")
	}
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	roomID, err := c.roomID(hctx)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(hctx, c.cfg.PusherURL, nil)
	if err != nil {
		return nil, fmt.Errorf("kick: dial pusher: %w", err)
	}
	conn.SetReadLimit(readLimit)

	l := &link{
		conn:    conn,
		room:    "chatrooms." + strconv.FormatInt(roomID, 10) + ".v2",
		roomID:  roomID,
		channel: c.cfg.Channel,
		idle:    defaultActivityTimeout,
	}
	if err := l.handshake(hctx); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("kick: no subscription acknowledgement for %s within %s", l.room, c.cfg.HandshakeTimeout)
		}
		return nil, err
	}
	return l, nil
}

type link struct {
	conn    *websocket.Conn
	room    string
	roomID  int64
	channel string
	idle    time.Duration
	pending []core.UnifiedChatMessage
}

func (l *link) read(ctx context.Context) (pusherFrame, error) {
	_, data, err := l.conn.Read(ctx)
	if err != nil {
		return pusherFrame{}, err
	}
	var f pusherFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return pusherFrame{}, fmt.Errorf("kick: bad frame: %w", err)
	}
	return f, nil
}

func (l *link) write(ctx context.Context, event string, data any) error {
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		return err
	}
	return l.conn.Write(ctx, websocket.MessageText, payload)
}

func (l *link) handshake(ctx context.Context) error {
	subscribed := false
	for {
		f, err := l.read(ctx)
		if err != nil {
			return err
		}
		switch f.Event {
		case "pusher:connection_established":
			var est struct {
				SocketID        string `json:"socket_id"`
				ActivityTimeout int    `json:"activity_timeout"`
			}
			if err := f.decode(&est); err == nil && est.ActivityTimeout > 0 {
				l.idle = time.Duration(est.ActivityTimeout) * time.Second
			}
			if subscribed {
				continue
			}
			if err := l.write(ctx, "pusher:subscribe", map[string]string{"auth": "", "channel": l.room}); err != nil {
				return fmt.Errorf("kick: subscribe: %w", err)
			}
			subscribed = true
		case "pusher_internal:subscription_succeeded":
			if f.Channel == l.room {
				return nil
			}
		case "pusher:error":
			return l.frameError(f)
		case "pusher:ping":
			if err := l.write(ctx, "pusher:pong", map[string]any{}); err != nil {
				return err
			}
		case chatEvent:
			if msg, ok := l.parseChat(f, time.Now()); ok {
				l.pending = append(l.pending, msg)
			}
		}
	}
}

func (l *link) frameError(f pusherFrame) error {
	var pe pusherError
	_ = f.decode(&pe)
	return fmt.Errorf("%w %d: %s", errPusher, pe.Code, pe.Message)
}

// Run reads frames until the socket closes, Pusher reports an error or ctx
// is done. A ping goes out whenever the connection has been quiet for the
// server's activity timeout.
func (l *link) Run(ctx context.Context, emit func(core.UnifiedChatMessage)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, msg := range l.pending {
		emit(msg)
	}
	l.pending = nil

	activity := make(chan struct{}, 1)
	go l.keepalive(ctx, activity)

	for {
		f, err := l.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case activity <- struct{}{}:
		default:
		}

		switch f.Event {
		case chatEvent:
			if msg, ok := l.parseChat(f, time.Now()); ok {
				emit(msg)
			}
		case "pusher:ping":
			if err := l.write(ctx, "pusher:pong", map[string]any{}); err != nil {
				return fmt.Errorf("kick: pong: %w", err)
			}
		case "pusher:pong":
		case "pusher:error":
			return l.frameError(f)
		default:
			slog.Debug("kick: ignored event", "channel", l.channel, "event", f.Event)
		}
	}
}

func (l *link) keepalive(ctx context.Context, activity <-chan struct{}) {
	timer := time.NewTimer(l.idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			if err := l.write(ctx, "pusher:ping", map[string]any{}); err != nil {
				return
			}
		}
		timer.Reset(l.idle)
	}
}

func (l *link) Close() error {
	return l.conn.Close(websocket.StatusNormalClosure, "")
}

func (l *link) parseChat(f pusherFrame, now time.Time) (core.UnifiedChatMessage, bool) {
	if f.Channel != "" && f.Channel != l.room {
		return core.UnifiedChatMessage{}, false
	}
	var m chatMessage
	if err := f.decode(&m); err != nil {
		slog.Debug("kick: undecodable chat event", "channel", l.channel, "err", err)
		return core.UnifiedChatMessage{}, false
	}
	if m.ChatroomID != 0 && m.ChatroomID != l.roomID {
		return core.UnifiedChatMessage{}, false
	}
	login := strings.ToLower(m.Sender.Slug)
	if login == "" {
		login = strings.ToLower(m.Sender.Username)
	}
	if login == "" {
		return core.UnifiedChatMessage{}, false
	}

	ts := now.UnixMilli()
	if t := parseKickTime(m.CreatedAt); !t.IsZero() {
		ts = t.UnixMilli()
	}
	userID := ""
	if m.Sender.ID != 0 {
		userID = strconv.FormatInt(m.Sender.ID, 10)
	}
	return core.UnifiedChatMessage{
		PlatformMessageID: m.ID,
		Platform:          core.PlatformKick,
		Channel:           l.channel,
		Username:          login,
		DisplayName:       m.Sender.Username,
		UserID:            userID,
		Message:           m.Content,
		Timestamp:         ts,
	}, true
}
