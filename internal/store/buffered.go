package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/you/streampulse/internal/core"
)

var errWriterClosed = errors.New("store: buffered writer closed")

// MessageInserter is the append side of Store.
type MessageInserter interface {
	InsertMessages(ctx context.Context, sessionID string, msgs []core.UnifiedChatMessage) error
}

type BufferedOptions struct {
	// BatchSize triggers a write once that many messages are pending.
	BatchSize int
	// FlushInterval bounds how long the first pending message waits.
	FlushInterval time.Duration
	// WriteTimeout bounds one insert call. Defaults to 30s.
	WriteTimeout time.Duration
}

// BufferedWriter batches message inserts for one session. A failed timer
// flush is reported by the next Write, Flush or Close.
type BufferedWriter struct {
	base      MessageInserter
	sessionID string
	opts      BufferedOptions

	mu       sync.Mutex
	pending  []core.UnifiedChatMessage
	timer    *time.Timer
	closed   bool
	deferred error
}

func NewBufferedWriter(base MessageInserter, sessionID string, opts BufferedOptions) *BufferedWriter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	return &BufferedWriter{base: base, sessionID: sessionID, opts: opts}
}

func (b *BufferedWriter) Write(msg core.UnifiedChatMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errWriterClosed
	}
	b.pending = append(b.pending, msg)
	if len(b.pending) == 1 && b.opts.FlushInterval > 0 {
		b.timer = time.AfterFunc(b.opts.FlushInterval, b.onTimer)
	}
	if len(b.pending) < b.opts.BatchSize {
		err := b.takeDeferredLocked()
		b.mu.Unlock()
		return err
	}
	batch, deferred := b.drainLocked()
	b.mu.Unlock()
	return b.commit(batch, deferred)
}

// Flush writes whatever is pending now.
func (b *BufferedWriter) Flush() error {
	b.mu.Lock()
	batch, deferred := b.drainLocked()
	b.mu.Unlock()
	return b.commit(batch, deferred)
}

// Pending reports how many messages wait for the next write.
func (b *BufferedWriter) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close writes the remainder. Later writes fail; a second Close is a no-op.
func (b *BufferedWriter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	batch, deferred := b.drainLocked()
	b.mu.Unlock()
	return b.commit(batch, deferred)
}

// Discard closes the writer and drops whatever is pending, returning how
// many messages were dropped.
func (b *BufferedWriter) Discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.deferred = nil
	return len(b.takePendingLocked())
}

func (b *BufferedWriter) onTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	batch := b.takePendingLocked()
	b.mu.Unlock()

	if err := b.insert(batch); err != nil {
		b.mu.Lock()
		b.deferred = err
		b.mu.Unlock()
	}
}

func (b *BufferedWriter) drainLocked() ([]core.UnifiedChatMessage, error) {
	return b.takePendingLocked(), b.takeDeferredLocked()
}

func (b *BufferedWriter) takePendingLocked() []core.UnifiedChatMessage {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *BufferedWriter) takeDeferredLocked() error {
	err := b.deferred
	b.deferred = nil
	return err
}

// commit inserts batch and prefers its error over one deferred from a timer.
func (b *BufferedWriter) commit(batch []core.UnifiedChatMessage, deferred error) error {
	if err := b.insert(batch); err != nil {
		return err
	}
	return deferred
}

func (b *BufferedWriter) insert(batch []core.UnifiedChatMessage) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.WriteTimeout)
	defer cancel()
	return b.base.InsertMessages(ctx, b.sessionID, batch)
}
