package classify

import (
	"strings"

	"github.com/you/streampulse/internal/core"
)

var interrogatives = map[string]core.QuestionType{
	"how": core.QuestionHow, "what": core.QuestionWhat, "whats": core.QuestionWhat, "what's": core.QuestionWhat,
	"why": core.QuestionWhy, "when": core.QuestionWhen, "where": core.QuestionWhere,
	"who": core.QuestionWho, "whom": core.QuestionWho, "whose": core.QuestionWho,
	"which": core.QuestionWhich,
	"cómo": core.QuestionHow, "qué": core.QuestionWhat, "cuándo": core.QuestionWhen,
	"dónde": core.QuestionWhere, "quién": core.QuestionWho, "cuál": core.QuestionWhich,
	"pourquoi": core.QuestionWhy, "quand": core.QuestionWhen,
	"où": core.QuestionWhere, "qui": core.QuestionWho,
	"wie": core.QuestionHow, "warum": core.QuestionWhy, "wann": core.QuestionWhen,
	"wo": core.QuestionWhere, "wer": core.QuestionWho,
}

var auxiliaries = map[string]bool{
	"is": true, "are": true, "am": true, "was": true, "were": true, "can": true, "could": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "should": true,
	"shall": true, "has": true, "have": true, "had": true, "may": true, "might": true,
	"isnt": true, "isn't": true, "arent": true, "aren't": true, "doesnt": true, "doesn't": true,
	"didnt": true, "didn't": true, "wanna": true, "u": true,
}

var helpPhrases = [][]string{
	{"help", "me"},
	{"can", "someone"},
	{"can", "anyone"},
	{"anyone", "know"},
	{"how", "do", "i"},
	{"how", "to"},
	{"need", "help"},
}

// detectQuestion treats a trailing question mark, a leading interrogative or
// a leading auxiliary with at least three words as a question.
func detectQuestion(text string, tokens []string) (bool, core.QuestionType) {
	if len(tokens) == 0 {
		return false, core.QuestionNone
	}
	endsQ := strings.HasSuffix(text, "?") || strings.HasSuffix(text, "？")
	_, leadingWh := interrogatives[tokens[0]]
	leadingAux := auxiliaries[tokens[0]] && len(tokens) >= 3

	if !endsQ && !leadingWh && !leadingAux {
		return false, core.QuestionNone
	}

	for _, phrase := range helpPhrases {
		if containsPhrase(tokens, phrase) {
			return true, core.QuestionHelp
		}
	}
	for i := 0; i < len(tokens) && i < 3; i++ {
		if qt, ok := interrogatives[tokens[i]]; ok {
			return true, qt
		}
	}
	if auxiliaries[tokens[0]] {
		return true, core.QuestionYesNo
	}
	return true, core.QuestionOther
}
