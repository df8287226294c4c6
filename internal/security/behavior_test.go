package security

import (
	"fmt"
	"testing"
	"time"
)

var behaviorBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// history builds a conversation from millisecond offsets and texts.
func history(offsetsMs []int, texts ...string) []TimedMessage {
	out := make([]TimedMessage, len(offsetsMs))
	for i, ms := range offsetsMs {
		text := fmt.Sprintf("a fairly long question number %d", i)
		if i < len(texts) {
			text = texts[i]
		}
		out[i] = TimedMessage{SentAt: behaviorBase.Add(time.Duration(ms) * time.Millisecond), Text: text}
	}
	return out
}

func TestBotBehaviorDetector_Analyze(t *testing.T) {
	t.Parallel()

	d := NewBotBehaviorDetector(BehaviorConfig{})
	tests := []struct {
		name     string
		history  []TimedMessage
		accepted bool
		reason   string
		severity Severity
	}{
		{"empty", nil, true, "", ""},
		{"single", history([]int{0}), true, "", ""},
		{"too rapid", history([]int{1000, 1100, 1200}, "", "", ""), false, BehaviorTooRapid, ""},
		{"relaxed pace", history([]int{1000, 5000, 12000}, "hi", "how are you", "thanks"), true, "", ""},
		{"burst", history([]int{0, 800, 1600, 2400}), false, BehaviorSuspicious, ""},
		{"identical", history([]int{0, 5000}, "Where is my order?", "  where is my ORDER? "), false, BehaviorIdentical, ""},
		{"identical but short", history([]int{0, 5000}, "hi", "HI "), true, "", ""},
		{"repetitive short", history([]int{0, 5000, 10000}, "hi", "hello", "hi"), false, BehaviorRepetitiveShort, ""},
		{"high warning", history([]int{0, 1500, 3000, 4500}), true, "", SeverityHigh},
		{"medium warning moderate", history([]int{0, 1500, 3000}), true, "", SeverityMedium},
		{"medium warning fast", history([]int{0, 2500, 5000, 7500, 10000}), true, "", SeverityMedium},
		{"low warning", history([]int{0, 2500, 5000, 7500}), true, "", SeverityLow},
		{"only last five count", history([]int{0, 100, 200, 10200, 20200, 30200, 40200}), true, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Analyze(tt.history)
			if got.Accepted != tt.accepted {
				t.Fatalf("Accepted = %v, want %v (reason %q)", got.Accepted, tt.accepted, got.Reason)
			}
			if got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.Severity != tt.severity {
				t.Errorf("Severity = %q, want %q", got.Severity, tt.severity)
			}
			if (got.Severity == "") != (got.Warning == "") {
				t.Errorf("Warning %q inconsistent with severity %q", got.Warning, got.Severity)
			}
		})
	}
}

func TestBotBehaviorDetector_WarningTexts(t *testing.T) {
	t.Parallel()

	d := NewBotBehaviorDetector(BehaviorConfig{})
	if got := d.Analyze(history([]int{0, 1500, 3000, 4500})); got.Warning != warnHigh {
		t.Errorf("high Warning = %q, want %q", got.Warning, warnHigh)
	}
	if got := d.Analyze(history([]int{0, 2500, 5000, 7500})); got.Warning != warnLow {
		t.Errorf("low Warning = %q, want %q", got.Warning, warnLow)
	}
}

func TestBotBehaviorDetector_Config(t *testing.T) {
	t.Parallel()

	d := NewBotBehaviorDetector(BehaviorConfig{RapidCount: 5})
	got := d.Analyze(history([]int{1000, 1100, 1200}, "a", "b", "c"))
	if !got.Accepted {
		t.Errorf("Analyze with RapidCount=5 rejected: %q", got.Reason)
	}
	if d.Window() != 5 {
		t.Errorf("Window = %d, want default 5", d.Window())
	}
}

func TestBotBehaviorDetector_OutOfOrderTimestamps(t *testing.T) {
	t.Parallel()

	d := NewBotBehaviorDetector(BehaviorConfig{})
	got := d.Analyze(history([]int{5000, 1000, 0}))
	if got.Accepted || got.Reason != BehaviorTooRapid {
		t.Errorf("Analyze(backwards clock) = %+v, want too rapid", got)
	}
}

func TestIsAutomatedUserAgent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ua   string
		want bool
	}{
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 Safari/605.1.15", false},
		{"", false},
		{"curl/8.7.1", true},
		{"python-requests/2.32.3", true},
		{"Googlebot/2.1 (+http://www.google.com/bot.html)", true},
		{"Wget/1.24.5", true},
		{"Java/21.0.2", true},
		{"AhrefsSpider", true},
	}
	for _, tt := range tests {
		if got := IsAutomatedUserAgent(tt.ua); got != tt.want {
			t.Errorf("IsAutomatedUserAgent(%q) = %v, want %v", tt.ua, got, tt.want)
		}
	}
}
