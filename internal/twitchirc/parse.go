package twitchirc

import (
	"strconv"
	"strings"
	"time"

	"github.com/you/streampulse/internal/core"
)

// parsePrivmsg extracts a chat message for channel from one raw IRC line.
// now is used when the line carries no tmi-sent-ts tag.
func parsePrivmsg(line, channel string, now time.Time) (core.UnifiedChatMessage, bool) {
	rest := line
	tags := map[string]string{}

	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return core.UnifiedChatMessage{}, false
		}
		for _, kv := range strings.Split(rest[1:idx], ";") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			tags[k] = unescapeIRC(v)
		}
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if !strings.HasPrefix(rest, ":") {
		return core.UnifiedChatMessage{}, false
	}
	prefix, rest, ok := strings.Cut(rest[1:], " ")
	if !ok {
		return core.UnifiedChatMessage{}, false
	}
	rest = strings.TrimSpace(rest)

	if !strings.HasPrefix(strings.ToUpper(rest), "PRIVMSG #") {
		return core.UnifiedChatMessage{}, false
	}
	chanName, rest, ok := strings.Cut(rest[len("PRIVMSG #"):], " ")
	if !ok || !strings.EqualFold(chanName, channel) {
		return core.UnifiedChatMessage{}, false
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, ":") {
		return core.UnifiedChatMessage{}, false
	}
	text := rest[1:]
	// /me lines arrive wrapped in CTCP ACTION.
	if strings.HasPrefix(text, "\x01ACTION ") && strings.HasSuffix(text, "\x01") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
	}

	login := strings.ToLower(extractUser(prefix))
	display := tags["display-name"]
	if display == "" {
		display = login
	}

	ts := now.UnixMilli()
	if raw := tags["tmi-sent-ts"]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts = ms
		}
	}

	return core.UnifiedChatMessage{
		PlatformMessageID: tags["id"],
		Platform:          core.PlatformTwitch,
		Channel:           strings.ToLower(chanName),
		Username:          login,
		DisplayName:       display,
		UserID:            tags["user-id"],
		Message:           text,
		Timestamp:         ts,
	}, true
}

func extractUser(prefix string) string {
	prefix = strings.TrimPrefix(prefix, ":")
	if idx := strings.IndexByte(prefix, '!'); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

func tagValue(rawTags, key string) string {
	for _, kv := range strings.Split(rawTags, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == key {
			return unescapeIRC(v)
		}
	}
	return ""
}

func unescapeIRC(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
