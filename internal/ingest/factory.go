// Package ingest wires connectors to storage and aggregation: the factory
// builds a connector per (platform, channel), a Pipeline drains one open
// session, and the Manager keeps one pipeline per live channel.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/kick"
	"github.com/you/streampulse/internal/twitchirc"
)

var ErrUnsupportedPlatform = errors.New("ingest: unsupported platform")

// Factory holds the per-platform templates. Channel is filled per call.
type Factory struct {
	Twitch       twitchirc.Config
	Kick         kick.Config
	KickResolver *kick.Resolver
	Options      connector.Options
}

func (f *Factory) New(p core.Platform, channel string) (connector.Connector, error) {
	if channel == "" {
		return nil, errors.New("ingest: channel is required")
	}
	switch p {
	case core.PlatformTwitch:
		cfg := f.Twitch
		cfg.Channel = channel
		return twitchirc.New(cfg, f.Options), nil
	case core.PlatformKick:
		cfg := f.Kick
		cfg.Channel = channel
		return kick.New(cfg, f.KickResolver, f.Options), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, p)
	}
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}
