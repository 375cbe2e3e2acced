package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATS publishes reports on the subject named by a nats:<subject> address.
type NATS struct {
	conn   publisher
	closer func()
}

func DialNATS(url string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("streampulse"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{conn: nc, closer: nc.Close}, nil
}

func subject(address string) (string, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(address, "nats://"), "nats:")
	s = strings.Trim(s, "/")
	if s == "" || strings.ContainsAny(s, " \t") {
		return "", fmt.Errorf("invalid nats subject in %q", address)
	}
	return s, nil
}

// Deliver publishes and waits for the server to acknowledge the flush.
func (n *NATS) Deliver(ctx context.Context, address string, payload []byte) error {
	subj, err := subject(address)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(subj, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subj, err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (n *NATS) Close() {
	if n != nil && n.closer != nil {
		n.closer()
	}
}
