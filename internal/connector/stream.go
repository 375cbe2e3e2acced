package connector

import (
	"context"

	"github.com/you/streampulse/internal/core"
)

// Stream registers c's message callback and forwards messages into a
// buffered channel in arrival order. A full buffer blocks the connector's
// read loop until the consumer catches up or ctx is done. The channel is
// never closed; consumers select on their own context.
func Stream(ctx context.Context, c Connector, buffer int) <-chan core.UnifiedChatMessage {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan core.UnifiedChatMessage, buffer)
	c.OnMessage(func(msg core.UnifiedChatMessage) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})
	return ch
}
