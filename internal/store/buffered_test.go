package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/you/streampulse/internal/core"
)

type recordingInserter struct {
	mu        sync.Mutex
	batches   [][]core.UnifiedChatMessage
	sessionID string
	fail      bool
}

func (r *recordingInserter) InsertMessages(_ context.Context, sessionID string, msgs []core.UnifiedChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("boom")
	}
	r.sessionID = sessionID
	r.batches = append(r.batches, msgs)
	return nil
}

func (r *recordingInserter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestBufferedWriterBatchFlush(t *testing.T) {
	base := &recordingInserter{}
	bw := NewBufferedWriter(base, "s1", BufferedOptions{BatchSize: 2, FlushInterval: time.Hour})
	defer bw.Close()

	if err := bw.Write(core.UnifiedChatMessage{ID: "1"}); err != nil {
		t.Fatalf("write1: %v", err)
	}
	if base.count() != 0 {
		t.Fatalf("expected no flush yet")
	}
	if err := bw.Write(core.UnifiedChatMessage{ID: "2"}); err != nil {
		t.Fatalf("write2: %v", err)
	}
	if base.count() != 2 || len(base.batches) != 1 || base.sessionID != "s1" {
		t.Fatalf("expected one batch of 2 for s1, got %+v", base.batches)
	}
}

func TestBufferedWriterFlushInterval(t *testing.T) {
	base := &recordingInserter{}
	bw := NewBufferedWriter(base, "s1", BufferedOptions{BatchSize: 10, FlushInterval: 20 * time.Millisecond})
	defer bw.Close()

	if err := bw.Write(core.UnifiedChatMessage{ID: "interval"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for base.count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected timer flush")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBufferedWriterFlushAndClose(t *testing.T) {
	base := &recordingInserter{}
	bw := NewBufferedWriter(base, "s1", BufferedOptions{BatchSize: 100})
	for i := 0; i < 3; i++ {
		_ = bw.Write(core.UnifiedChatMessage{ID: fmt.Sprint(i)})
	}
	if err := bw.Flush(); err != nil || base.count() != 3 {
		t.Fatalf("flush: %v count=%d", err, base.count())
	}
	_ = bw.Write(core.UnifiedChatMessage{ID: "last"})
	if err := bw.Close(); err != nil || base.count() != 4 {
		t.Fatalf("close: %v count=%d", err, base.count())
	}
	if err := bw.Write(core.UnifiedChatMessage{ID: "after"}); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestBufferedWriterErrorPropagation(t *testing.T) {
	base := &recordingInserter{fail: true}
	bw := NewBufferedWriter(base, "s1", BufferedOptions{BatchSize: 1})
	if err := bw.Write(core.UnifiedChatMessage{ID: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBufferedWriterDeferredTimerError(t *testing.T) {
	base := &recordingInserter{fail: true}
	bw := NewBufferedWriter(base, "s1", BufferedOptions{BatchSize: 10, FlushInterval: 10 * time.Millisecond})

	if err := bw.Write(core.UnifiedChatMessage{ID: "a"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for bw.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timer never drained the buffer")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The timer insert failed; the error surfaces once on the next call.
	var err error
	for time.Now().Before(deadline) {
		if err = bw.Flush(); err != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err == nil {
		t.Fatalf("expected deferred timer error")
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("deferred error reported twice: %v", err)
	}
}
