package security

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// RuleCategory classifies what a content rule detects.
type RuleCategory string

// Rule categories. Each maps to its own public rejection message.
const (
	CategoryPromptInjection  RuleCategory = "prompt_injection"
	CategoryMaliciousContent RuleCategory = "malicious_content"
)

// regexp2MatchTimeout bounds backtracking on the lookaround rules.
const regexp2MatchTimeout = 50 * time.Millisecond

// Rule is one entry of the content rule table. Patterns are matched
// case-insensitively. Patterns that use lookaround are compiled with
// regexp2; everything else uses the standard RE2 engine.
type Rule struct {
	Name     string       `yaml:"name"`
	Category RuleCategory `yaml:"category"`
	Pattern  string       `yaml:"pattern"`
}

// RuleMatch is the security-log detail of a rule hit. It is never
// shown to the client.
type RuleMatch struct {
	Rule     string       `json:"rule"`
	Category RuleCategory `json:"category"`
	Pattern  string       `json:"pattern"`
}

type compiledRule struct {
	Rule
	match func(string) bool
}

func compileRule(r Rule) (compiledRule, error) {
	if r.Name == "" {
		return compiledRule{}, fmt.Errorf("rule with pattern %q: name is required", r.Pattern)
	}
	switch r.Category {
	case CategoryPromptInjection, CategoryMaliciousContent:
	default:
		return compiledRule{}, fmt.Errorf("rule %s: unknown category %q", r.Name, r.Category)
	}

	if re, err := regexp.Compile("(?i)" + r.Pattern); err == nil {
		return compiledRule{Rule: r, match: re.MatchString}, nil
	}

	re, err := regexp2.Compile(r.Pattern, regexp2.IgnoreCase)
	if err != nil {
		return compiledRule{}, fmt.Errorf("rule %s: compiling pattern: %w", r.Name, err)
	}
	re.MatchTimeout = regexp2MatchTimeout
	return compiledRule{
		Rule: r,
		match: func(s string) bool {
			ok, err := re.MatchString(s)
			// A timeout means the input drove the engine into heavy
			// backtracking; treat it as a hit.
			return ok || err != nil
		},
	}, nil
}

// DefaultRules returns the built-in rule table in evaluation order.
func DefaultRules() []Rule {
	pi := CategoryPromptInjection
	mc := CategoryMaliciousContent
	return []Rule{
		// Instruction override.
		{"ignore-instructions", pi, `ignore\s+(all\s+)?(previous\s+|prior\s+|above\s+)?(instructions?|prompts?|rules?|context)`},
		{"forget-instructions", pi, `forget\s+(everything|all|previous|instructions?|context)`},
		{"disregard-instructions", pi, `disregard\s+(previous\s+|all\s+)?(instructions?|prompts?|rules?)`},

		// Role hijack. Support roles are exempt.
		{"role-you-are", pi, `you\s+are\s+(now\s+)?(a\s+|an\s+)?(?!customer|support|assistant|helpful)(.*?)\b(assistant|bot|ai|system|admin|developer)\b`},
		{"role-act-as", pi, `act\s+as\s+(a\s+|an\s+)?(?!customer|support)(.*?)\b(admin|developer|system|root)\b`},
		{"role-pretend", pi, `pretend\s+(to\s+be\s+|you\s+are\s+)(a\s+|an\s+)?(?!customer)(admin|developer|system|ai)\b`},

		// System prompt extraction.
		{"extract-what-is", pi, `what\s+(is\s+|are\s+)?(your\s+)?(system\s+)?(prompt|instructions?|rules)`},
		{"extract-show-me", pi, `show\s+me\s+(your\s+)?(system\s+)?(prompt|instructions?|configuration)`},
		{"extract-tell-me", pi, `tell\s+me\s+(your\s+)?(system\s+)?(prompt|instructions?|rules)`},
		{"extract-repeat", pi, `repeat\s+(your\s+)?(system\s+)?(prompt|instructions?|rules)`},

		// Jailbreak framing.
		{"jailbreak-hypothetically", pi, `hypothetically`},
		{"jailbreak-imagine", pi, `imagine\s+you\s+are`},
		{"jailbreak-fiction", pi, `in\s+a\s+fictional\s+scenario`},
		{"jailbreak-roleplay", pi, `roleplay\s+as`},

		// Code injection.
		{"code-script-tag", pi, `<script`},
		{"code-javascript-scheme", pi, `javascript:`},
		{"code-eval", pi, `eval\s*\(`},
		{"code-function", pi, `function\s*\(`},

		// Administrative commands.
		{"admin-path", pi, `/admin`},
		{"system-path", pi, `/system`},
		{"admin-sudo", pi, `sudo\s+`},
		{"admin-rm-rf", pi, `rm\s+-rf`},

		// Credential extraction.
		{"credential-api-key", pi, `api[\s_-]*key`},
		{"credential-secret-key", pi, `secret[\s_-]*key`},
		{"credential-password", pi, `password`},
		{"credential-token", pi, `token`},

		// SQL injection.
		{"sql-union-select", mc, `union\s+select`},
		{"sql-drop-table", mc, `drop\s+table`},
		{"sql-delete-from", mc, `delete\s+from`},

		// XSS probes.
		{"xss-alert", mc, `alert\s*\(`},
		{"xss-document-cookie", mc, `document\.cookie`},
		{"xss-window-location", mc, `window\.location`},
	}
}
