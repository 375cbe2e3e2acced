package classify

import "sort"

var topicKeywords = map[string][]string{
	"gameplay":  {"game", "play", "playing", "boss", "level", "build", "strat", "strategy", "run", "speedrun", "quest", "ranked", "match", "loadout", "gameplay", "weapon", "character"},
	"technical": {"lag", "laggy", "audio", "mic", "fps", "bitrate", "buffering", "resolution", "quality", "sound", "volume", "camera", "cam", "frozen", "delay", "stuttering", "desync"},
	"music":     {"song", "music", "playlist", "track", "beat", "spotify", "dj", "banger", "soundtrack"},
	"greeting":  {"hi", "hello", "hey", "hola", "yo", "sup", "morning", "evening", "bonjour", "hallo", "oi", "greetings", "howdy", "salut"},
	"hype":      {"hype", "pog", "poggers", "pogchamp", "letsgo", "insane", "clutch", "clip", "omg", "wow"},
	"feedback":  {"suggest", "suggestion", "should", "feedback", "idea", "recommend", "improve", "try"},
	"humor":     {"lol", "lmao", "haha", "hahaha", "kekw", "lul", "rofl", "funny", "joke", "xd", "jaja", "kkkk"},
	"schedule":  {"schedule", "tomorrow", "tonight", "next", "later", "weekend", "today", "monday", "friday", "sunday"},
	"support":   {"sub", "subs", "subscribe", "subscribed", "follow", "followed", "donate", "donation", "bits", "prime", "gifted", "tier", "raid"},
}

var keywordTopics = buildKeywordIndex()

func buildKeywordIndex() map[string][]string {
	names := make([]string, 0, len(topicKeywords))
	for name := range topicKeywords {
		names = append(names, name)
	}
	sort.Strings(names)

	idx := make(map[string][]string)
	for _, name := range names {
		for _, kw := range topicKeywords[name] {
			idx[kw] = append(idx[kw], name)
		}
	}
	return idx
}

// detectTopics returns matched topics sorted by name. A positive limit keeps
// only the strongest matches.
func detectTopics(tokens []string, limit int) []string {
	counts := make(map[string]int)
	for _, tok := range tokens {
		for _, topic := range keywordTopics[tok] {
			counts[topic]++
		}
	}
	if len(counts) == 0 {
		return []string{}
	}

	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	sort.Strings(topics)
	return topics
}
