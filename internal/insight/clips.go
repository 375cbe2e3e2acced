package insight

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/you/streampulse/internal/core"
)

type ClipOptions struct {
	RaidMinViewers  int
	GiftBurstMin    int
	GiftBurstWindow time.Duration
	Limit           int
}

func (o ClipOptions) withDefaults() ClipOptions {
	if o.RaidMinViewers <= 0 {
		o.RaidMinViewers = 10
	}
	if o.GiftBurstMin <= 0 {
		o.GiftBurstMin = 5
	}
	if o.GiftBurstWindow <= 0 {
		o.GiftBurstWindow = time.Minute
	}
	if o.Limit <= 0 {
		o.Limit = 5
	}
	return o
}

const (
	ReasonPeak      = "engagement_peak"
	ReasonRaid      = "raid"
	ReasonGiftBurst = "gift_burst"
)

func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, math.Round(v*10)/10))
}

// ClipMoments merges engagement peaks, large raids and gift-sub bursts into
// one candidate list, highest intensity first, truncated to opts.Limit.
func ClipMoments(s core.Session, peaks []core.EngagementPeak, events []core.StreamEvent, opts ClipOptions) []core.ClipMoment {
	opts = opts.withDefaults()
	out := []core.ClipMoment{}
	moment := func(ts int64, reason, label string, intensity float64) core.ClipMoment {
		off := (ts - s.SessionStart) / 1000
		if off < 0 {
			off = 0
		}
		return core.ClipMoment{Timestamp: ts, OffsetSeconds: off, Reason: reason, Label: label, Intensity: clamp100(intensity)}
	}

	for _, p := range peaks {
		out = append(out, moment(p.Timestamp, ReasonPeak,
			fmt.Sprintf("Chat peak: %d messages in a minute", p.MessageCount), p.Intensity))
	}

	var gifts []core.StreamEvent
	for _, ev := range events {
		switch ev.EventType {
		case core.EventRaid:
			viewers := ev.IntData("viewers")
			if viewers < opts.RaidMinViewers {
				continue
			}
			from := ev.DisplayName
			if from == "" {
				from = ev.UserName
			}
			out = append(out, moment(ev.Timestamp, ReasonRaid,
				fmt.Sprintf("Raid from %s with %d viewers", from, viewers), 40+float64(viewers)/10))
		case core.EventGiftSub:
			gifts = append(gifts, ev)
		}
	}

	for _, b := range giftBursts(gifts, opts) {
		out = append(out, moment(b.start, ReasonGiftBurst,
			fmt.Sprintf("%d gift subs in %ds", b.count, int(opts.GiftBurstWindow.Seconds())), 30+5*float64(b.count)))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Intensity != out[j].Intensity {
			return out[i].Intensity > out[j].Intensity
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

type burst struct {
	start int64
	count int
}

func giftCount(ev core.StreamEvent) int {
	if n := ev.IntData("count"); n > 0 {
		return n
	}
	return 1
}

// giftBursts scans gift events in time order and reports each
// non-overlapping window whose gift total reaches the threshold.
func giftBursts(gifts []core.StreamEvent, opts ClipOptions) []burst {
	sort.Slice(gifts, func(i, j int) bool { return gifts[i].Timestamp < gifts[j].Timestamp })
	window := opts.GiftBurstWindow.Milliseconds()
	var out []burst
	for i := 0; i < len(gifts); {
		total, j := 0, i
		for j < len(gifts) && gifts[j].Timestamp-gifts[i].Timestamp <= window {
			total += giftCount(gifts[j])
			j++
		}
		if total >= opts.GiftBurstMin {
			out = append(out, burst{start: gifts[i].Timestamp, count: total})
			i = j
			continue
		}
		i++
	}
	return out
}
