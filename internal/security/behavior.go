package security

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Bot-behavior rejection reasons.
const (
	BehaviorTooRapid        = "Messages sent too rapidly"
	BehaviorSuspicious      = "Suspicious messaging pattern detected"
	BehaviorIdentical       = "Identical messages detected"
	BehaviorRepetitiveShort = "Repetitive short messages detected"
)

// automatedAgent matches user agents of scripted HTTP clients and crawlers.
var automatedAgent = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|wget|curl|python|java`)

// IsAutomatedUserAgent reports whether ua identifies a non-browser client.
// An empty user agent is not considered automated.
func IsAutomatedUserAgent(ua string) bool {
	return automatedAgent.MatchString(ua)
}

// Advisory warnings attached to accepted messages.
const (
	warnHigh   = "You're sending messages quite quickly. Please slow down to avoid being temporarily blocked."
	warnMedium = "Please slow down a bit between messages."
	warnLow    = "You're chatting quickly! Take your time."
)

// TimedMessage is one entry of a conversation's recent history.
type TimedMessage struct {
	SentAt time.Time `json:"sent_at"`
	Text   string    `json:"text"`
}

// BehaviorOutcome is the verdict of Analyze. Severity and Warning are set
// only on accepted outcomes that carry an advisory.
type BehaviorOutcome struct {
	Accepted bool
	Reason   string
	Warning  string
	Severity Severity
}

// BehaviorConfig tunes the bot-behavior heuristics. Zero values take defaults.
type BehaviorConfig struct {
	// Window is how many trailing messages are considered.
	Window int `yaml:"window"`

	RapidDelta time.Duration `yaml:"rapid_delta"`
	RapidCount int           `yaml:"rapid_count"`

	BurstDelta       time.Duration `yaml:"burst_delta"`
	BurstCount       int           `yaml:"burst_count"`
	BurstMinMessages int           `yaml:"burst_min_messages"`

	IdenticalMinLength int `yaml:"identical_min_length"`

	ShortLength      int `yaml:"short_length"`
	ShortMinCount    int `yaml:"short_min_count"`
	ShortMaxDistinct int `yaml:"short_max_distinct"`

	// Moderate and fast are the half-open delta ranges used for warnings.
	ModerateMin time.Duration `yaml:"moderate_min"`
	ModerateMax time.Duration `yaml:"moderate_max"`
	FastMin     time.Duration `yaml:"fast_min"`
	FastMax     time.Duration `yaml:"fast_max"`

	HighModerateCount   int `yaml:"high_moderate_count"`
	HighMinMessages     int `yaml:"high_min_messages"`
	MediumModerateCount int `yaml:"medium_moderate_count"`
	MediumFastCount     int `yaml:"medium_fast_count"`
	LowFastCount        int `yaml:"low_fast_count"`
}

func (c BehaviorConfig) withDefaults() BehaviorConfig {
	setInt := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	setDur := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	setInt(&c.Window, 5)
	setDur(&c.RapidDelta, 500*time.Millisecond)
	setInt(&c.RapidCount, 2)
	setDur(&c.BurstDelta, time.Second)
	setInt(&c.BurstCount, 3)
	setInt(&c.BurstMinMessages, 4)
	setInt(&c.IdenticalMinLength, 5)
	setInt(&c.ShortLength, 20)
	setInt(&c.ShortMinCount, 3)
	setInt(&c.ShortMaxDistinct, 2)
	setDur(&c.ModerateMin, 500*time.Millisecond)
	setDur(&c.ModerateMax, 2*time.Second)
	setDur(&c.FastMin, time.Second)
	setDur(&c.FastMax, 3*time.Second)
	setInt(&c.HighModerateCount, 3)
	setInt(&c.HighMinMessages, 4)
	setInt(&c.MediumModerateCount, 2)
	setInt(&c.MediumFastCount, 4)
	setInt(&c.LowFastCount, 3)
	return c
}

// BotBehaviorDetector classifies a short message history as automated,
// suspicious-but-allowed, or normal. It keeps no state of its own.
type BotBehaviorDetector struct {
	cfg BehaviorConfig
}

// NewBotBehaviorDetector creates a detector with cfg applied over defaults.
func NewBotBehaviorDetector(cfg BehaviorConfig) *BotBehaviorDetector {
	return &BotBehaviorDetector{cfg: cfg.withDefaults()}
}

// Window returns how many trailing messages Analyze looks at.
func (d *BotBehaviorDetector) Window() int { return d.cfg.Window }

// Analyze inspects history, which must be in chronological order.
func (d *BotBehaviorDetector) Analyze(history []TimedMessage) BehaviorOutcome {
	if len(history) < 2 {
		return BehaviorOutcome{Accepted: true}
	}
	if len(history) > d.cfg.Window {
		history = history[len(history)-d.cfg.Window:]
	}
	c := d.cfg

	deltas := make([]time.Duration, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		deltas = append(deltas, history[i].SentAt.Sub(history[i-1].SentAt))
	}
	countIn := func(lo, hi time.Duration) int {
		n := 0
		for _, dt := range deltas {
			if dt >= lo && dt < hi {
				n++
			}
		}
		return n
	}
	// Negative deltas (out-of-order timestamps) count as instantaneous.
	const minDelta = time.Duration(math.MinInt64)

	if countIn(minDelta, c.RapidDelta) >= c.RapidCount {
		return BehaviorOutcome{Reason: BehaviorTooRapid}
	}
	if countIn(minDelta, c.BurstDelta) >= c.BurstCount && len(history) >= c.BurstMinMessages {
		return BehaviorOutcome{Reason: BehaviorSuspicious}
	}

	texts := make([]string, len(history))
	for i, m := range history {
		texts[i] = strings.ToLower(strings.TrimSpace(m.Text))
	}
	for i := 1; i < len(texts); i++ {
		if texts[i] == texts[i-1] && utf8.RuneCountInString(texts[i]) > c.IdenticalMinLength {
			return BehaviorOutcome{Reason: BehaviorIdentical}
		}
	}

	if len(history) >= c.ShortMinCount {
		short := 0
		distinct := make(map[string]struct{})
		for _, t := range texts {
			if utf8.RuneCountInString(t) < c.ShortLength {
				short++
				distinct[t] = struct{}{}
			}
		}
		if short >= c.ShortMinCount && len(distinct) <= c.ShortMaxDistinct {
			return BehaviorOutcome{Reason: BehaviorRepetitiveShort}
		}
	}

	moderate := countIn(c.ModerateMin, c.ModerateMax)
	fast := countIn(c.FastMin, c.FastMax)
	switch {
	case moderate >= c.HighModerateCount && len(history) >= c.HighMinMessages:
		return BehaviorOutcome{Accepted: true, Warning: warnHigh, Severity: SeverityHigh}
	case moderate >= c.MediumModerateCount || fast >= c.MediumFastCount:
		return BehaviorOutcome{Accepted: true, Warning: warnMedium, Severity: SeverityMedium}
	case fast >= c.LowFastCount:
		return BehaviorOutcome{Accepted: true, Warning: warnLow, Severity: SeverityLow}
	}
	return BehaviorOutcome{Accepted: true}
}
