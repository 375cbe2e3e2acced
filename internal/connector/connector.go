// Package connector defines the platform-neutral chat connector contract and
// the shared machinery every platform client embeds: callback registry,
// connection state, bot filtering, inline classification and the fixed
// backoff reconnect supervisor.
package connector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/streampulse/internal/classify"
	"github.com/you/streampulse/internal/core"
)

// DefaultBackoff is the fixed delay before a reconnect attempt.
const DefaultBackoff = 3 * time.Second

var ErrDisconnected = errors.New("connector: disconnected")

// Connector is one read-only chat subscription to one channel.
type Connector interface {
	// Connect returns once the platform acknowledged room membership.
	Connect(ctx context.Context) error
	// Disconnect closes the transport and suppresses reconnects. Idempotent.
	Disconnect() error
	OnMessage(func(core.UnifiedChatMessage))
	OnError(func(error))
	OnConnectionChange(func(connected bool))
	IsConnected() bool
	State() State
	Platform() core.Platform
	Channel() string
}

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Link is one live transport that has already joined its room. Run blocks
// until the transport closes; emit is called in wire-arrival order.
type Link interface {
	Run(ctx context.Context, emit func(core.UnifiedChatMessage)) error
	Close() error
}

// Transport dials, authenticates and joins. Open must not return until the
// room join is acknowledged.
type Transport interface {
	Open(ctx context.Context) (Link, error)
}

type Classifier interface {
	Classify(text string, tier core.Tier) core.Classification
}

type BotFilter interface {
	IsBot(username string) bool
}

// Metrics receives connector counters. All methods must be nil-safe on the
// implementation side; a nil Metrics is ignored.
type Metrics interface {
	IncMessages(platform core.Platform)
	IncBotDropped(platform core.Platform)
	IncReconnects(platform core.Platform)
	IncErrors(platform core.Platform)
	SetConnected(platform core.Platform, channel string, connected bool)
}

type Options struct {
	Classifier Classifier
	Tier       core.Tier
	Bots       BotFilter
	Backoff    time.Duration
	Logger     *slog.Logger
	Metrics    Metrics
}

// Base implements Connector on top of a Transport.
type Base struct {
	platform  core.Platform
	channel   string
	transport Transport
	opts      Options
	log       *slog.Logger

	mu        sync.Mutex
	state     State
	onMessage func(core.UnifiedChatMessage)
	onError   func(error)
	onConn    func(bool)
	link      Link
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool
}

func NewBase(platform core.Platform, channel string, t Transport, opts Options) *Base {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.New()
	}
	opts.Tier = core.ParseTier(string(opts.Tier))
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		platform:  platform,
		channel:   channel,
		transport: t,
		opts:      opts,
		log:       logger.With("platform", string(platform), "channel", channel),
	}
}

func (b *Base) Platform() core.Platform { return b.platform }
func (b *Base) Channel() string         { return b.channel }

func (b *Base) OnMessage(h func(core.UnifiedChatMessage)) {
	b.mu.Lock()
	b.onMessage = h
	b.mu.Unlock()
}

func (b *Base) OnError(h func(error)) {
	b.mu.Lock()
	b.onError = h
	b.mu.Unlock()
}

func (b *Base) OnConnectionChange(h func(bool)) {
	b.mu.Lock()
	b.onConn = h
	b.mu.Unlock()
}

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) IsConnected() bool { return b.State() == StateConnected }

// Done is closed when the supervisor goroutine exits after Disconnect.
func (b *Base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return b.done
}

func (b *Base) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrDisconnected
	}
	// A live supervisor owns reconnection, even while its last attempt
	// left the state at StateError.
	if b.state == StateConnecting || b.state == StateConnected || b.supervisingLocked() {
		b.mu.Unlock()
		return nil
	}
	b.state = StateConnecting
	b.mu.Unlock()

	link, err := b.transport.Open(ctx)
	if err != nil {
		cerr := b.connErr("connect", err)
		b.setState(StateError)
		b.reportError(cerr)
		return cerr
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		_ = link.Close()
		return ErrDisconnected
	}
	// The link outlives the handshake context; only Disconnect ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.link = link
	b.cancel = cancel
	b.done = make(chan struct{})
	b.state = StateConnected
	done := b.done
	b.mu.Unlock()

	b.log.Info("connector: connected")
	b.notifyConnection(true)
	go b.supervise(runCtx, link, done)
	return nil
}

func (b *Base) supervisingLocked() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *Base) Disconnect() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	wasConnected := b.state == StateConnected
	b.state = StateClosed
	cancel, link := b.cancel, b.link
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if link != nil {
		err = link.Close()
	}
	if wasConnected {
		b.notifyConnection(false)
	}
	b.log.Info("connector: disconnected")
	return err
}

// supervise runs the link until it drops, then schedules exactly one
// reconnect attempt per backoff period until one succeeds or Disconnect.
func (b *Base) supervise(ctx context.Context, link Link, done chan struct{}) {
	defer close(done)
	for {
		err := link.Run(ctx, b.emit)
		_ = link.Close()
		if ctx.Err() != nil {
			return
		}

		b.setState(StateClosed)
		b.notifyConnection(false)
		if err != nil {
			b.reportError(b.connErr("read", err))
		}
		b.log.Warn("connector: transport closed; reconnecting", "backoff", b.opts.Backoff, "err", err)

		next, ok := b.reconnect(ctx)
		if !ok {
			return
		}
		link = next
	}
}

func (b *Base) reconnect(ctx context.Context) (Link, bool) {
	for {
		timer := time.NewTimer(b.opts.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		b.setState(StateConnecting)
		if b.opts.Metrics != nil {
			b.opts.Metrics.IncReconnects(b.platform)
		}
		next, err := b.transport.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			b.setState(StateError)
			b.reportError(b.connErr("reconnect", err))
			continue
		}

		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			_ = next.Close()
			return nil, false
		}
		b.link = next
		b.state = StateConnected
		b.mu.Unlock()

		b.log.Info("connector: reconnected")
		b.notifyConnection(true)
		return next, true
	}
}

// emit filters bots, classifies and hands the message to the callback.
func (b *Base) emit(msg core.UnifiedChatMessage) {
	if b.opts.Bots != nil && b.opts.Bots.IsBot(msg.Username) {
		if b.opts.Metrics != nil {
			b.opts.Metrics.IncBotDropped(b.platform)
		}
		return
	}
	if msg.ID == "" {
		msg.ID = MessageID(b.platform, msg.PlatformMessageID)
	}
	if msg.Platform == "" {
		msg.Platform = b.platform
	}
	if msg.Channel == "" {
		msg.Channel = b.channel
	}
	if msg.DisplayName == "" {
		msg.DisplayName = msg.Username
	}
	msg.Classification = b.opts.Classifier.Classify(msg.Message, b.opts.Tier)

	b.mu.Lock()
	h, stopped := b.onMessage, b.stopped
	b.mu.Unlock()
	if stopped || h == nil {
		return
	}
	if b.opts.Metrics != nil {
		b.opts.Metrics.IncMessages(b.platform)
	}
	h(msg)
}

// MessageID derives a stable id from the platform-issued id so re-delivery
// after a reconnect deduplicates downstream.
func MessageID(platform core.Platform, platformID string) string {
	if platformID == "" {
		return uuid.NewString()
	}
	return string(platform) + ":" + platformID
}

func (b *Base) setState(s State) {
	b.mu.Lock()
	if !b.stopped {
		b.state = s
	}
	b.mu.Unlock()
}

func (b *Base) notifyConnection(connected bool) {
	if b.opts.Metrics != nil {
		b.opts.Metrics.SetConnected(b.platform, b.channel, connected)
	}
	b.mu.Lock()
	h := b.onConn
	b.mu.Unlock()
	if h != nil {
		h(connected)
	}
}

func (b *Base) reportError(err error) {
	if b.opts.Metrics != nil {
		b.opts.Metrics.IncErrors(b.platform)
	}
	b.mu.Lock()
	h := b.onError
	b.mu.Unlock()
	if h != nil {
		h(err)
		return
	}
	b.log.Error("connector: error", "err", err)
}

func (b *Base) connErr(op string, err error) *core.ConnectionError {
	var cerr *core.ConnectionError
	if errors.As(err, &cerr) {
		return cerr
	}
	return &core.ConnectionError{Platform: b.platform, Channel: b.channel, Op: op, Err: err}
}
