// Package classify attaches language, sentiment, question, engagement and
// topic verdicts to chat text. Every pass is a lexicon or heuristic lookup,
// so the same text and tier always produce the same classification.
package classify

import (
	"strings"
	"unicode"

	"github.com/you/streampulse/internal/core"
)

// Classifier is safe for concurrent use; it holds no mutable state.
type Classifier struct {
	maxFreeTopics int
}

func New() *Classifier {
	return &Classifier{maxFreeTopics: 2}
}

// Classify never fails. Empty or unrecognizable text yields the neutral
// defaults with Degraded set where a pass could not decide.
func (c *Classifier) Classify(text string, tier core.Tier) core.Classification {
	out := core.Classification{
		Language:        "unknown",
		Sentiment:       core.SentimentNeutral,
		SentimentReason: reasonFor(nil),
		EngagementLevel: core.EngagementLow,
		Topics:          []string{},
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return out
	}
	tier = core.ParseTier(string(tier))
	tokens := tokenize(trimmed)

	out.Language, out.LanguageConfidence = detectLanguage(trimmed, tokens)
	if out.Language == "unknown" {
		out.Degraded = true
	}

	s := scoreSentiment(trimmed, tokens, tier != core.TierFree)
	out.SentimentScore = s.score
	out.Sentiment = labelFor(s.score)
	out.SentimentReason = s.reason

	out.IsQuestion, out.QuestionType = detectQuestion(trimmed, tokens)
	out.EngagementLevel = engagementFor(trimmed, tokens, out.IsQuestion, out.SentimentScore)

	limit := 0
	if tier == core.TierFree {
		limit = c.maxFreeTopics
	}
	out.Topics = detectTopics(tokens, limit)
	return out
}

// tokenize lower-cases text and splits it on anything that is not a letter,
// digit or in-word apostrophe.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'’")
		if f != "" {
			out = append(out, strings.ReplaceAll(f, "’", "'"))
		}
	}
	return out
}

func containsPhrase(tokens []string, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}
