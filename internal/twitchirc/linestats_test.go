package twitchirc

import (
	"strings"
	"testing"
	"time"
)

func TestSplitIRC(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		command string
		channel string
		sample  string
	}{
		{"ping trailing", "PING :tmi.twitch.tv", "PING", "", "tmi.twitch.tv"},
		{"roomstate falls back to channel", "@room-id=123;slow=0 :tmi.twitch.tv ROOMSTATE #chan", "ROOMSTATE", "#chan", "#chan"},
		{"names end", ":justinfan1.tmi.twitch.tv 366 justinfan1 #chan :End of /NAMES list", "366", "#chan", "End of /NAMES list"},
		{"notice text", "@msg-id=msg_channel_suspended :tmi.twitch.tv NOTICE #chan :This channel has been suspended.", "NOTICE", "#chan", "This channel has been suspended."},
		{"usernotice msg-id", "@msg-id=raid;msg-param-viewerCount=40 :tmi.twitch.tv USERNOTICE #chan", "USERNOTICE", "#chan", "msg-id=raid"},
		{"reconnect", ":tmi.twitch.tv RECONNECT", "RECONNECT", "", ""},
		{"tags only", "@a=b", "UNKNOWN", "", "@a=b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIRC(tt.raw)
			if got.command != tt.command || got.channel != tt.channel || got.sample() != tt.sample {
				t.Fatalf("want %s/%q/%q got %s/%q/%q", tt.command, tt.channel, tt.sample, got.command, got.channel, got.sample())
			}
		})
	}
}

func TestRedact(t *testing.T) {
	got := redact("oauth:abcdefghijklmnopqrstuvwxyz123456 key=QWxhZGRpbjpPcGVuU2VzYW1lMTIzNDU2Nzg5MA==", 300)
	if strings.Contains(got, "abcdefghijkl") || strings.Contains(got, "QWxhZGRpbjpP") {
		t.Fatalf("secret leaked: %q", got)
	}
	if !strings.Contains(got, "oauth:[REDACTED]") {
		t.Fatalf("missing oauth marker: %q", got)
	}
	if got := redact("PASS SCHMOOPIIE", 200); got != "PASS [REDACTED]" {
		t.Fatalf("expected PASS redaction, got %q", got)
	}
	if got := redact("hello   there\tfriend", 8); got != "hello..." {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestLineStatsWindow(t *testing.T) {
	start := time.Unix(0, 0)
	s := newLineStats("chan", start, false, time.Second)
	s.chat()
	s.ignore(splitIRC(":tmi.twitch.tv USERSTATE #chan"))
	s.ignore(splitIRC(":tmi.twitch.tv USERSTATE #chan"))
	s.ignore(splitIRC("@msg-id=sub :tmi.twitch.tv USERNOTICE #chan"))

	s.tick(start.Add(500 * time.Millisecond))
	s.mu.Lock()
	if s.ignored["USERSTATE"] != 2 || s.ignored["USERNOTICE"] != 1 || s.received != 1 {
		s.mu.Unlock()
		t.Fatalf("unexpected counts %v received=%d", s.ignored, s.received)
	}
	if s.samples["USERNOTICE"] != "msg-id=sub" {
		s.mu.Unlock()
		t.Fatalf("unexpected sample %q", s.samples["USERNOTICE"])
	}
	s.mu.Unlock()

	s.tick(start.Add(2 * time.Second))
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ignored) != 0 || s.received != 0 {
		t.Fatalf("expected window reset, got %v received=%d", s.ignored, s.received)
	}
	if !s.next.Equal(start.Add(3 * time.Second)) {
		t.Fatalf("unexpected next window %v", s.next)
	}
}

func TestNilLineStatsIsSafe(t *testing.T) {
	var s *lineStats
	s.chat()
	s.ignore(splitIRC("PING :x"))
	s.tick(time.Now())
	s.flush(time.Now())
}
