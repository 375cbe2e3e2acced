package classify

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/you/streampulse/internal/core"
)

var hypeTokens = map[string]bool{
	"pog": true, "poggers": true, "pogchamp": true, "hype": true, "letsgo": true,
	"gg": true, "insane": true, "clip": true, "clutch": true, "omg": true, "w": true,
}

// engagementFor sums cheap cues: length, question, exclamation, mention,
// hype words, shouting and strong sentiment.
func engagementFor(text string, tokens []string, isQuestion bool, score float64) core.EngagementLevel {
	points := 0
	n := utf8.RuneCountInString(text)
	if n >= 40 {
		points++
	}
	if n >= 100 {
		points++
	}
	if isQuestion {
		points++
	}
	if strings.Contains(text, "!") {
		points++
	}
	if hasMention(text) {
		points++
	}
	for _, tok := range tokens {
		if hypeTokens[tok] {
			points++
			break
		}
	}
	if containsPhrase(tokens, []string{"lets", "go"}) || containsPhrase(tokens, []string{"let's", "go"}) {
		points++
	}
	if capsRatio(text) >= 0.6 {
		points++
	}
	if math.Abs(score) >= 0.5 {
		points++
	}

	switch {
	case points >= 4:
		return core.EngagementHigh
	case points >= 2:
		return core.EngagementMedium
	default:
		return core.EngagementLow
	}
}

func hasMention(text string) bool {
	idx := strings.IndexByte(text, '@')
	for idx != -1 {
		rest := text[idx+1:]
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return true
		}
		next := strings.IndexByte(rest, '@')
		if next == -1 {
			return false
		}
		idx += next + 1
	}
	return false
}

// capsRatio is the share of upper-case letters, 0 for texts under five letters.
func capsRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 5 {
		return 0
	}
	return float64(upper) / float64(letters)
}
