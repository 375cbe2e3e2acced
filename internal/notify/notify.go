// Package notify delivers finished session reports. Addresses are URLs whose
// scheme picks the transport: http(s) posts to a webhook, nats:<subject>
// publishes on a NATS subject.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/telemetry"
)

// Transport delivers to one address scheme.
type Transport interface {
	Deliver(ctx context.Context, address string, payload []byte) error
}

// Router picks a Transport by the address scheme. Every failure comes back
// as a *core.DeliveryFailure.
type Router struct {
	transports map[string]Transport
	metrics    *telemetry.Metrics
}

func NewRouter(metrics *telemetry.Metrics) *Router {
	return &Router{transports: make(map[string]Transport), metrics: metrics}
}

// Handle registers t for each scheme.
func (r *Router) Handle(t Transport, schemes ...string) {
	for _, s := range schemes {
		r.transports[strings.ToLower(s)] = t
	}
}

func scheme(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (r *Router) Deliver(ctx context.Context, address string, payload []byte) error {
	s := scheme(address)
	t, ok := r.transports[s]
	if !ok {
		r.metrics.IncDeliveries("unknown", false)
		return &core.DeliveryFailure{Address: address, Err: fmt.Errorf("no transport for scheme %q", s)}
	}
	if err := t.Deliver(ctx, address, payload); err != nil {
		r.metrics.IncDeliveries(s, false)
		return &core.DeliveryFailure{Address: address, Err: err}
	}
	r.metrics.IncDeliveries(s, true)
	return nil
}

// StaticAddressBook maps channels to addresses, with an optional fallback.
// Keys are "platform/channel" or a bare channel matching any platform.
type StaticAddressBook struct {
	Default string
	entries map[string]string
}

// ParseAddressBook reads "key=address" pairs separated by commas.
func ParseAddressBook(raw, fallback string) (*StaticAddressBook, error) {
	b := &StaticAddressBook{Default: strings.TrimSpace(fallback), entries: make(map[string]string)}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, addr, ok := strings.Cut(part, "=")
		key, addr = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(addr)
		if !ok || key == "" || addr == "" {
			return nil, fmt.Errorf("notify: bad address entry %q", part)
		}
		if platform, ch, scoped := strings.Cut(key, "/"); scoped {
			key = platform + "/" + strings.TrimPrefix(ch, "#")
		} else {
			key = strings.TrimPrefix(key, "#")
		}
		b.entries[key] = addr
	}
	return b, nil
}

func (b *StaticAddressBook) Address(channel string, platform core.Platform) (string, bool) {
	if b == nil {
		return "", false
	}
	channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
	if a, ok := b.entries[string(platform)+"/"+channel]; ok {
		return a, true
	}
	if a, ok := b.entries[channel]; ok {
		return a, true
	}
	return b.Default, b.Default != ""
}
