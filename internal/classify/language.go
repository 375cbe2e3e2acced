package classify

import (
	"unicode"
)

// languageOrder breaks stop-word ties deterministically.
var languageOrder = []string{"en", "es", "pt", "fr", "de", "it"}

var stopwords = map[string][]string{
	"en": {"the", "and", "is", "are", "you", "i", "it", "this", "that", "to", "of", "in", "what", "how", "my", "me", "was", "for", "with", "so", "just", "be", "have", "do", "lol", "gg", "omg", "can", "not", "why", "your", "we", "they", "he", "she", "yes", "no", "oh", "im", "i'm", "dont", "don't", "good", "nice", "love", "stream", "chat", "hello", "hi", "hey", "thanks", "wow"},
	"es": {"el", "la", "los", "las", "que", "de", "y", "es", "en", "un", "una", "por", "para", "con", "como", "pero", "muy", "hola", "gracias", "qué", "cómo", "está", "esta", "jaja", "jajaja", "bueno", "todo", "yo", "tu", "mi", "se", "lo", "del", "al", "más", "si", "sí", "también"},
	"pt": {"o", "a", "os", "as", "que", "de", "e", "é", "em", "um", "uma", "por", "para", "com", "não", "muito", "olá", "oi", "obrigado", "obrigada", "você", "voce", "kkk", "kkkk", "tá", "ta", "eu", "meu", "minha", "isso", "mais", "também", "tudo", "bom", "boa"},
	"fr": {"le", "la", "les", "de", "des", "et", "est", "un", "une", "je", "tu", "il", "elle", "nous", "vous", "que", "qui", "pas", "pour", "avec", "dans", "sur", "bonjour", "salut", "merci", "c'est", "mdr", "oui", "très", "bien", "mais", "comment", "pourquoi"},
	"de": {"der", "die", "das", "und", "ist", "ich", "du", "nicht", "ein", "eine", "mit", "auf", "für", "zu", "von", "den", "dem", "hallo", "danke", "ja", "nein", "sehr", "gut", "was", "wie", "warum", "auch", "aber", "noch", "schon"},
	"it": {"il", "lo", "la", "gli", "le", "di", "e", "è", "che", "un", "una", "per", "con", "non", "ciao", "grazie", "sono", "molto", "anche", "come", "perché", "questo", "questa", "bene", "tutto"},
}

var stopwordIndex = buildStopwordIndex()

func buildStopwordIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, lang := range languageOrder {
		for _, w := range stopwords[lang] {
			idx[w] = append(idx[w], lang)
		}
	}
	return idx
}

type scriptRule struct {
	lang   string
	tables []*unicode.RangeTable
}

// scriptRules is ordered; Kana outranks Han so mixed Japanese text is ja.
var scriptRules = []scriptRule{
	{"ko", []*unicode.RangeTable{unicode.Hangul}},
	{"ja", []*unicode.RangeTable{unicode.Hiragana, unicode.Katakana}},
	{"zh", []*unicode.RangeTable{unicode.Han}},
	{"ru", []*unicode.RangeTable{unicode.Cyrillic}},
	{"ar", []*unicode.RangeTable{unicode.Arabic}},
	{"th", []*unicode.RangeTable{unicode.Thai}},
	{"el", []*unicode.RangeTable{unicode.Greek}},
	{"he", []*unicode.RangeTable{unicode.Hebrew}},
	{"hi", []*unicode.RangeTable{unicode.Devanagari}},
}

// detectLanguage returns an ISO 639-1 code and a confidence in [0,1], or
// "unknown" with confidence 0.
func detectLanguage(text string, tokens []string) (string, float64) {
	if lang, conf, ok := detectScript(text); ok {
		return lang, conf
	}

	if len(tokens) == 0 {
		return "unknown", 0
	}
	hits := make(map[string]int, len(languageOrder))
	for _, tok := range tokens {
		for _, lang := range stopwordIndex[tok] {
			hits[lang]++
		}
	}

	best, second := "", 0
	bestHits := 0
	for _, lang := range languageOrder {
		n := hits[lang]
		if n > bestHits {
			second = bestHits
			best, bestHits = lang, n
		} else if n > second {
			second = n
		}
	}
	if bestHits == 0 {
		return "unknown", 0
	}

	conf := float64(bestHits) / float64(len(tokens))
	if second == bestHits {
		conf /= 2
	}
	if conf > 1 {
		conf = 1
	}
	return best, round2(conf)
}

func detectScript(text string) (string, float64, bool) {
	counts := make([]int, len(scriptRules))
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for i, rule := range scriptRules {
			if unicode.In(r, rule.tables...) {
				counts[i]++
				break
			}
		}
	}
	if letters == 0 {
		return "", 0, false
	}

	// Any kana marks Japanese even when Han dominates.
	if counts[1] > 0 {
		return "ja", round2(float64(counts[1]+counts[2]) / float64(letters)), true
	}
	for i, rule := range scriptRules {
		frac := float64(counts[i]) / float64(letters)
		if frac >= 0.3 {
			return rule.lang, round2(frac), true
		}
	}
	return "", 0, false
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
