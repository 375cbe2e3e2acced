package classify

import (
	"reflect"
	"strings"
	"testing"

	"github.com/you/streampulse/internal/core"
)

func TestClassifyEmptyText(t *testing.T) {
	c := New()
	for _, text := range []string{"", "   ", "\t\n"} {
		got := c.Classify(text, core.TierPro)
		if got.Sentiment != core.SentimentNeutral || got.SentimentScore != 0 {
			t.Fatalf("%q: expected neutral/0, got %s/%v", text, got.Sentiment, got.SentimentScore)
		}
		if got.SentimentReason != "no sentiment cues" {
			t.Fatalf("%q: sentiment reason = %q", text, got.SentimentReason)
		}
		if got.IsQuestion {
			t.Fatalf("%q: expected isQuestion=false", text)
		}
		if got.Language != "unknown" || got.LanguageConfidence != 0 {
			t.Fatalf("%q: expected unknown language, got %s", text, got.Language)
		}
		if got.EngagementLevel != core.EngagementLow {
			t.Fatalf("%q: expected low engagement, got %s", text, got.EngagementLevel)
		}
		if got.Topics == nil || len(got.Topics) != 0 {
			t.Fatalf("%q: expected empty topics, got %v", text, got.Topics)
		}
	}
}

func TestSentimentScoreBoundedAndConsistent(t *testing.T) {
	corpus := []string{
		"I love this stream",
		"this is terrible and boring",
		"not good",
		"VERY VERY AMAZING AWESOME BEST BEST BEST!!!!!!!",
		"hate hate hate worst trash garbage awful horrible",
		"ok",
		"KEKW :) <3 🔥🔥🔥",
		"pepehands :( 😡",
		"gg wp",
		"what game is this?",
	}
	c := New()
	for _, tier := range []core.Tier{core.TierFree, core.TierPro, core.TierAgency} {
		for _, text := range corpus {
			got := c.Classify(text, tier)
			if got.SentimentScore < -1 || got.SentimentScore > 1 {
				t.Fatalf("%q (%s): score %v out of range", text, tier, got.SentimentScore)
			}
			switch got.Sentiment {
			case core.SentimentPositive:
				if got.SentimentScore < positiveThreshold {
					t.Fatalf("%q: positive label with score %v", text, got.SentimentScore)
				}
			case core.SentimentNegative:
				if got.SentimentScore > negativeThreshold {
					t.Fatalf("%q: negative label with score %v", text, got.SentimentScore)
				}
			case core.SentimentNeutral:
				if got.SentimentScore >= positiveThreshold || got.SentimentScore <= negativeThreshold {
					t.Fatalf("%q: neutral label with score %v", text, got.SentimentScore)
				}
			default:
				t.Fatalf("%q: unexpected label %q", text, got.Sentiment)
			}
		}
	}
}

func TestSentimentCues(t *testing.T) {
	c := New()
	tests := []struct {
		text string
		want core.Sentiment
	}{
		{"I love this stream", core.SentimentPositive},
		{"this is terrible", core.SentimentNegative},
		{"not good", core.SentimentNegative},
		{"not bad at all", core.SentimentPositive},
		{"the chair is blue", core.SentimentNeutral},
	}
	for _, tt := range tests {
		got := c.Classify(tt.text, core.TierFree)
		if got.Sentiment != tt.want {
			t.Fatalf("%q: want %s got %s (score %v, %s)", tt.text, tt.want, got.Sentiment, got.SentimentScore, got.SentimentReason)
		}
	}
}

func TestExtendedPassRequiresPaidTier(t *testing.T) {
	c := New()
	free := c.Classify("KEKW", core.TierFree)
	if free.Sentiment != core.SentimentNeutral {
		t.Fatalf("free tier should ignore emotes, got %s", free.Sentiment)
	}
	pro := c.Classify("KEKW", core.TierPro)
	if pro.Sentiment != core.SentimentPositive {
		t.Fatalf("pro tier should score emotes, got %s (%v)", pro.Sentiment, pro.SentimentScore)
	}
	if !strings.Contains(pro.SentimentReason, "kekw") {
		t.Fatalf("expected reason to name the emote, got %q", pro.SentimentReason)
	}
	unknown := c.Classify("KEKW", core.Tier("platinum"))
	if unknown.Sentiment != free.Sentiment {
		t.Fatalf("unknown tier should behave like free")
	}
}

func TestQuestionDetection(t *testing.T) {
	c := New()
	tests := []struct {
		text     string
		question bool
		qtype    core.QuestionType
	}{
		{"how did you beat that boss?", true, core.QuestionHow},
		{"how do i get channel points", true, core.QuestionHelp},
		{"what game is this?", true, core.QuestionWhat},
		{"why", true, core.QuestionWhy},
		{"is this live", true, core.QuestionYesNo},
		{"really?", true, core.QuestionOther},
		{"where are you from", true, core.QuestionWhere},
		{"gg", false, core.QuestionNone},
		{"is it", false, core.QuestionNone},
		{"warum nicht", true, core.QuestionWhy},
	}
	for _, tt := range tests {
		got := c.Classify(tt.text, core.TierFree)
		if got.IsQuestion != tt.question || got.QuestionType != tt.qtype {
			t.Fatalf("%q: want (%v,%q) got (%v,%q)", tt.text, tt.question, tt.qtype, got.IsQuestion, got.QuestionType)
		}
	}
}

func TestLanguageDetection(t *testing.T) {
	c := New()
	tests := []struct {
		text string
		lang string
	}{
		{"the game is great and you are good", "en"},
		{"hola como estas gracias por todo", "es"},
		{"merci beaucoup c'est très bien", "fr"},
		{"danke das ist sehr gut", "de"},
		{"안녕하세요 여러분", "ko"},
		{"こんにちは世界", "ja"},
		{"你好世界", "zh"},
		{"привет всем", "ru"},
		{"xqzt vrrp", "unknown"},
	}
	for _, tt := range tests {
		got := c.Classify(tt.text, core.TierFree)
		if got.Language != tt.lang {
			t.Fatalf("%q: want %s got %s", tt.text, tt.lang, got.Language)
		}
		if got.LanguageConfidence < 0 || got.LanguageConfidence > 1 {
			t.Fatalf("%q: confidence %v out of range", tt.text, got.LanguageConfidence)
		}
		if tt.lang == "unknown" && !got.Degraded {
			t.Fatalf("%q: expected degraded flag for unknown language", tt.text)
		}
	}
}

func TestEngagementLevels(t *testing.T) {
	c := New()
	if got := c.Classify("ok", core.TierFree).EngagementLevel; got != core.EngagementLow {
		t.Fatalf("expected low, got %s", got)
	}
	if got := c.Classify("WOW THIS IS INSANE!!! @streamer", core.TierFree).EngagementLevel; got != core.EngagementHigh {
		t.Fatalf("expected high, got %s", got)
	}
	if got := c.Classify("nice play @streamer!", core.TierFree).EngagementLevel; got != core.EngagementMedium {
		t.Fatalf("expected medium, got %s", got)
	}
}

func TestTopicsGatedByTier(t *testing.T) {
	c := New()
	text := "hi lol the lag on this game and the song"
	free := c.Classify(text, core.TierFree)
	if len(free.Topics) != 2 {
		t.Fatalf("free tier: expected 2 topics, got %v", free.Topics)
	}
	pro := c.Classify(text, core.TierPro)
	want := []string{"gameplay", "greeting", "humor", "music", "technical"}
	if !reflect.DeepEqual(pro.Topics, want) {
		t.Fatalf("pro tier: want %v got %v", want, pro.Topics)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New()
	text := "hola! how is the stream today?? @mod this song slaps 🔥"
	first := c.Classify(text, core.TierAgency)
	for i := 0; i < 20; i++ {
		if got := c.Classify(text, core.TierAgency); !reflect.DeepEqual(got, first) {
			t.Fatalf("classification changed between runs:\n%#v\n%#v", first, got)
		}
	}
}
