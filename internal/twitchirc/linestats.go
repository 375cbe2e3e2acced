package twitchirc

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	statsInterval = time.Minute
	sampleMaxLen  = 96
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

// ircLine is the routing part of a raw IRC line: tags, command, the first
// #channel parameter and the trailing text.
type ircLine struct {
	tags     string
	command  string
	channel  string
	trailing string
}

func splitIRC(raw string) ircLine {
	line := strings.TrimSpace(raw)
	var out ircLine
	if rest, ok := strings.CutPrefix(line, "@"); ok {
		tags, after, found := strings.Cut(rest, " ")
		if !found {
			return ircLine{command: "UNKNOWN", trailing: line}
		}
		out.tags = tags
		line = strings.TrimSpace(after)
	}
	if strings.HasPrefix(line, ":") {
		_, after, found := strings.Cut(line, " ")
		if !found {
			return ircLine{command: "UNKNOWN", trailing: line}
		}
		line = strings.TrimSpace(after)
	}
	if line == "" {
		out.command = "UNKNOWN"
		return out
	}

	cmd, rest, _ := strings.Cut(line, " ")
	out.command = strings.ToUpper(cmd)
	params := rest
	if i := strings.Index(rest, " :"); i >= 0 {
		params, out.trailing = rest[:i], rest[i+2:]
	} else if t, ok := strings.CutPrefix(rest, ":"); ok {
		params, out.trailing = "", t
	}
	for _, p := range strings.Fields(params) {
		if strings.HasPrefix(p, "#") {
			out.channel = p
			break
		}
	}
	return out
}

// sample is a short redacted excerpt suitable for logs.
func (l ircLine) sample() string {
	s := l.trailing
	if l.command == "USERNOTICE" {
		if id := tagValue(l.tags, "msg-id"); id != "" {
			s = "msg-id=" + id
		}
	}
	if s == "" {
		s = l.channel
	}
	return redact(s, sampleMaxLen)
}

// redact collapses whitespace, masks credentials and truncates to max bytes.
func redact(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if upper := strings.ToUpper(s); upper == "PASS" || strings.HasPrefix(upper, "PASS ") {
		return "PASS [REDACTED]"
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllString(s, "[REDACTED]")
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// lineStats counts what one link reads and logs one summary per interval,
// with the ignored lines grouped by command.
type lineStats struct {
	channel  string
	verbose  bool
	interval time.Duration

	mu       sync.Mutex
	next     time.Time
	received int64
	ignored  map[string]int
	samples  map[string]string
}

func newLineStats(channel string, now time.Time, verbose bool, interval time.Duration) *lineStats {
	if interval <= 0 {
		interval = statsInterval
	}
	return &lineStats{
		channel:  channel,
		verbose:  verbose,
		interval: interval,
		next:     now.Add(interval),
		ignored:  make(map[string]int),
		samples:  make(map[string]string),
	}
}

func (s *lineStats) chat() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
}

func (s *lineStats) ignore(l ircLine) {
	if s == nil {
		return
	}
	if s.verbose {
		slog.Debug("twitchirc: ignored line", "channel", s.channel, "command", l.command, "sample", l.sample())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored[l.command]++
	if _, ok := s.samples[l.command]; !ok {
		s.samples[l.command] = l.sample()
	}
}

// tick emits the summary once the interval has passed.
func (s *lineStats) tick(now time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.next) {
		return
	}
	s.emitLocked(now)
}

func (s *lineStats) flush(now time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(now)
}

func (s *lineStats) emitLocked(now time.Time) {
	s.next = now.Add(s.interval)
	if s.received == 0 && len(s.ignored) == 0 {
		return
	}
	total := 0
	var parts []string
	for _, cmd := range slices.Sorted(maps.Keys(s.ignored)) {
		n := s.ignored[cmd]
		total += n
		parts = append(parts, fmt.Sprintf("%s:%d '%s'", cmd, n, s.samples[cmd]))
	}
	level := slog.LevelDebug
	if total > 0 {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "twitchirc: window",
		"channel", s.channel,
		"received", s.received,
		"ignored", total,
		"by_command", strings.Join(parts, " "),
	)
	s.received = 0
	clear(s.ignored)
	clear(s.samples)
}
