// Package livestatus answers "is this channel live right now" across
// platforms by routing each query to the platform's own source.
package livestatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/you/streampulse/internal/core"
)

var ErrUnsupported = errors.New("livestatus: platform not configured")

// Status is the platform view of one channel. ViewerCount is zero when the
// channel is offline.
type Status struct {
	Live        bool
	ViewerCount int
	Title       string
	StartedAt   time.Time
}

// Source reports status for one platform.
type Source interface {
	Status(ctx context.Context, channel string) (Status, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context, channel string) (Status, error)

func (f SourceFunc) Status(ctx context.Context, channel string) (Status, error) {
	return f(ctx, channel)
}

// Checker dispatches by platform. A zero Checker answers ErrUnsupported for
// everything, which callers treat as "unknown".
type Checker struct {
	sources map[core.Platform]Source
	timeout time.Duration
}

func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{sources: make(map[core.Platform]Source), timeout: timeout}
}

func (c *Checker) Register(p core.Platform, src Source) {
	if src == nil {
		return
	}
	c.sources[p] = src
}

func (c *Checker) Status(ctx context.Context, p core.Platform, channel string) (Status, error) {
	if c == nil {
		return Status{}, ErrUnsupported
	}
	src, ok := c.sources[p]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnsupported, p)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	st, err := src.Status(ctx, channel)
	if err != nil {
		return Status{}, fmt.Errorf("livestatus %s/%s: %w", p, channel, err)
	}
	return st, nil
}
