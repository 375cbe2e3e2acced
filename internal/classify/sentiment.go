package classify

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/you/streampulse/internal/core"
)

const (
	positiveThreshold = 0.2
	negativeThreshold = -0.2
	normalizeAlpha    = 15.0
	negationScalar    = -0.74
	intensifierBoost  = 1.3
	capsBoost         = 1.2
	exclaimStep       = 0.292
)

var baseLexicon = map[string]float64{
	"love": 3.2, "loved": 2.9, "loving": 2.9, "great": 3.1, "awesome": 3.1, "amazing": 3.0,
	"good": 1.9, "nice": 1.8, "cool": 1.3, "fun": 2.3, "funny": 1.9, "hype": 2.0,
	"pog": 2.5, "poggers": 2.5, "lol": 1.2, "lmao": 1.5, "haha": 1.6, "hahaha": 1.8,
	"gg": 1.5, "wow": 2.0, "beautiful": 2.9, "best": 3.2, "thanks": 1.9, "thank": 1.5,
	"congrats": 2.4, "congratulations": 2.6, "clutch": 2.0, "happy": 2.7, "win": 2.0,
	"won": 2.0, "glad": 2.0, "like": 1.0, "excited": 2.4, "perfect": 3.0, "epic": 2.6,
	"legend": 2.6, "legendary": 2.8, "wholesome": 2.6, "cute": 2.0, "welcome": 1.7,
	"enjoy": 2.2, "enjoying": 2.2, "yay": 2.4, "insane": 1.5, "incredible": 3.0,
	"brilliant": 2.8, "sick": 1.0, "yes": 1.0, "smart": 1.7, "genius": 2.5,
	"hate": -3.0, "hated": -3.0, "bad": -2.5, "terrible": -3.1, "awful": -3.0,
	"boring": -2.2, "bored": -1.9, "trash": -2.5, "garbage": -2.6, "sucks": -2.5,
	"suck": -2.3, "worst": -3.1, "ugly": -2.3, "sad": -2.1, "annoying": -2.2,
	"lag": -1.5, "laggy": -1.6, "stupid": -2.4, "dumb": -2.2, "rip": -1.0,
	"cringe": -2.0, "toxic": -2.5, "angry": -2.3, "fail": -2.0, "failed": -2.0,
	"lost": -1.3, "lose": -1.4, "wtf": -1.5, "noob": -1.4, "scam": -2.8, "unfair": -2.1,
	"broken": -1.9, "disappointed": -2.4, "disappointing": -2.4, "horrible": -3.0,
	"mad": -2.0, "cheater": -2.5, "cheating": -2.4, "ban": -1.2, "bug": -1.0,
	"genial": 2.5, "bueno": 1.9, "buena": 1.9, "increíble": 3.0, "gracias": 1.9, "malo": -2.2,
	"legal": 1.6, "lindo": 2.2, "ruim": -2.2, "chato": -1.8,
	"génial": 2.6, "super": 1.8, "merci": 1.9, "nul": -2.0,
	"gut": 1.9, "toll": 2.4, "danke": 1.9, "schlecht": -2.2, "langweilig": -2.0,
}

// extendedLexicon covers emotes, emoji and slang; paid tiers only.
var extendedLexicon = map[string]float64{
	"kekw": 1.5, "pogchamp": 2.5, "pogu": 2.5, "lul": 1.0, "omegalul": 1.4,
	"pepehands": -2.0, "biblethump": -2.0, "residentsleeper": -2.2, "notlikethis": -2.0,
	"kappa": 0.5, "monkas": -1.0, "pepega": -1.0, "ez": 1.0, "catjam": 1.8,
	"fire": 2.0, "goated": 3.0, "based": 2.0, "mid": -1.5, "ratio": -1.0, "sus": -1.0,
	"bussin": 2.5, "slaps": 2.5, "lit": 2.0, "cap": -1.0, "w": 2.0, "l": -2.0,
	"banger": 2.6, "cracked": 2.2, "washed": -1.8, "copium": -0.8, "sadge": -1.8,
}

var emoticons = []struct {
	token string
	value float64
}{
	{":)", 2.0}, {":-)", 2.0}, {":d", 2.5}, {"<3", 3.0}, {";)", 1.5}, {"xd", 1.8},
	{":(", -2.0}, {":-(", -2.0}, {"d:", -1.5}, {":'(", -2.2}, {">:(", -2.8},
}

var emoji = map[rune]float64{
	'😂': 2.0, '🤣': 2.2, '❤': 3.0, '😍': 3.0, '🔥': 2.0, '👍': 2.0, '👏': 2.0,
	'🎉': 2.5, '😊': 2.3, '😄': 2.3, '🥰': 3.0, '💯': 2.0,
	'😭': -1.0, '😡': -3.0, '😠': -2.6, '👎': -2.0, '😢': -2.2, '🤮': -2.8, '😴': -1.5,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "dont": true, "isn't": true,
	"isnt": true, "wasn't": true, "wasnt": true, "ain't": true, "aint": true, "can't": true,
	"cant": true, "won't": true, "wont": true, "nope": true, "nah": true, "without": true,
	"nicht": true, "kein": true, "nunca": true, "não": true, "pas": true,
}

var intensifiers = map[string]bool{
	"very": true, "so": true, "really": true, "super": true, "extremely": true,
	"totally": true, "absolutely": true, "incredibly": true, "hella": true, "muy": true, "sehr": true,
}

type sentimentResult struct {
	score  float64
	reason string
}

type cue struct {
	word  string
	value float64
	pos   int
}

func scoreSentiment(text string, tokens []string, extended bool) sentimentResult {
	words := strings.Fields(text)
	upperByLower := make(map[string]bool, len(words))
	for _, w := range words {
		if isShouted(w) {
			upperByLower[strings.ToLower(strings.Trim(w, "!?.,"))] = true
		}
	}

	var cues []cue
	sum := 0.0
	for i, tok := range tokens {
		v, ok := baseLexicon[tok]
		if !ok && extended {
			v, ok = extendedLexicon[tok]
		}
		if !ok {
			continue
		}
		if i > 0 && intensifiers[tokens[i-1]] {
			v *= intensifierBoost
		}
		if upperByLower[tok] {
			v *= capsBoost
		}
		for back := 1; back <= 3 && i-back >= 0; back++ {
			if negators[tokens[i-back]] {
				v *= negationScalar
				break
			}
		}
		sum += v
		cues = append(cues, cue{word: tok, value: v, pos: len(cues)})
	}

	if extended {
		lower := strings.ToLower(text)
		for _, e := range emoticons {
			if n := strings.Count(lower, e.token); n > 0 {
				sum += e.value * float64(n)
				cues = append(cues, cue{word: e.token, value: e.value * float64(n), pos: len(cues)})
			}
		}
		for _, r := range text {
			if v, ok := emoji[r]; ok {
				sum += v
				cues = append(cues, cue{word: string(r), value: v, pos: len(cues)})
			}
		}
	}

	if sum != 0 {
		exclaims := strings.Count(text, "!")
		if exclaims > 4 {
			exclaims = 4
		}
		sum += math.Copysign(exclaimStep*float64(exclaims), sum)
	}

	score := sum / math.Sqrt(sum*sum+normalizeAlpha)
	score = math.Round(score*1000) / 1000
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return sentimentResult{score: score, reason: reasonFor(cues)}
}

func labelFor(score float64) core.Sentiment {
	switch {
	case score >= positiveThreshold:
		return core.SentimentPositive
	case score <= negativeThreshold:
		return core.SentimentNegative
	default:
		return core.SentimentNeutral
	}
}

func reasonFor(cues []cue) string {
	if len(cues) == 0 {
		return "no sentiment cues"
	}
	sorted := append([]cue(nil), cues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := math.Abs(sorted[i].value), math.Abs(sorted[j].value)
		if ai != aj {
			return ai > aj
		}
		return sorted[i].pos < sorted[j].pos
	})
	if len(sorted) > 3 {
		sorted = sorted[:3]
	}
	names := make([]string, 0, len(sorted))
	for _, c := range sorted {
		names = append(names, c.word)
	}
	return "matched: " + strings.Join(names, ", ")
}

func isShouted(word string) bool {
	letters, upper := 0, 0
	for _, r := range word {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 3 && upper == letters
}
