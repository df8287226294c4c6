package security

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// RejectReason identifies which content check rejected a message.
type RejectReason string

// Content rejection reasons, in check order.
const (
	ReasonEmpty            RejectReason = "empty"
	ReasonTooLong          RejectReason = "too_long"
	ReasonPromptInjection  RejectReason = "prompt_injection"
	ReasonMaliciousContent RejectReason = "malicious_content"
	ReasonInvalidContent   RejectReason = "invalid_content"
	ReasonSpam             RejectReason = "spam"
	ReasonSpecialChars     RejectReason = "special_chars"
	ReasonInappropriate    RejectReason = "inappropriate"

	// ReasonInvalidFormat is set by callers for structurally malformed
	// requests; Validate never returns it.
	ReasonInvalidFormat RejectReason = "invalid_format"
)

// Public rejection messages. None of them reveal which rule matched.
const (
	msgEmpty            = "Message cannot be empty"
	msgPromptInjection  = "Message contains inappropriate content that cannot be processed"
	msgMaliciousContent = "Message contains potentially harmful content"
	msgInvalidContent   = "Message contains too much invalid content"
	msgSpam             = "Message appears to be spam"
	msgSpecialChars     = "Message contains too many special characters"
	msgInappropriate    = "Message contains inappropriate content"
)

// Content validation defaults.
const (
	DefaultMaxLength        = 500
	DefaultMinRetainedRatio = 0.5
	DefaultMinRetainedBase  = 20
	DefaultMaxSpecialRatio  = 0.5
	DefaultRepeatRun        = 11
)

// ValidationOutcome is the result of validating one message.
type ValidationOutcome struct {
	Accepted bool
	Reason   RejectReason
	// Message is safe to return to the client.
	Message string
	// SanitizedText is set when the message was accepted.
	SanitizedText string
	// Match carries rule detail for rule rejections; log only.
	Match *RuleMatch
}

// ContentValidatorConfig tunes the validator. Zero values take defaults.
type ContentValidatorConfig struct {
	MaxLength        int      `yaml:"max_length"`
	MinRetainedRatio float64  `yaml:"min_retained_ratio"`
	MinRetainedBase  int      `yaml:"min_retained_base"`
	MaxSpecialRatio  float64  `yaml:"max_special_ratio"`
	RepeatRun        int      `yaml:"repeat_run"`
	DenyList         []string `yaml:"deny_list"`

	// ExtraRules are appended after the built-in rules.
	ExtraRules []Rule `yaml:"extra_rules"`
}

func (c ContentValidatorConfig) withDefaults() ContentValidatorConfig {
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.MinRetainedRatio <= 0 {
		c.MinRetainedRatio = DefaultMinRetainedRatio
	}
	if c.MinRetainedBase <= 0 {
		c.MinRetainedBase = DefaultMinRetainedBase
	}
	if c.MaxSpecialRatio <= 0 {
		c.MaxSpecialRatio = DefaultMaxSpecialRatio
	}
	if c.RepeatRun <= 0 {
		c.RepeatRun = DefaultRepeatRun
	}
	if c.DenyList == nil {
		c.DenyList = []string{"spam", strings.Repeat("test", 10)}
	}
	return c
}

// ContentValidator runs the ordered message checks. It holds no mutable
// state and is safe for concurrent use.
type ContentValidator struct {
	cfg      ContentValidatorConfig
	rules    []compiledRule
	denyList []string
}

// NewContentValidator compiles the built-in rules followed by
// cfg.ExtraRules. A rule that does not compile is an error.
func NewContentValidator(cfg ContentValidatorConfig) (*ContentValidator, error) {
	cfg = cfg.withDefaults()

	all := append(DefaultRules(), cfg.ExtraRules...)
	rules := make([]compiledRule, 0, len(all))
	for _, r := range all {
		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("content validator: %w", err)
		}
		rules = append(rules, cr)
	}

	deny := make([]string, 0, len(cfg.DenyList))
	for _, d := range cfg.DenyList {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			deny = append(deny, d)
		}
	}

	return &ContentValidator{cfg: cfg, rules: rules, denyList: deny}, nil
}

// MaxLength returns the effective maximum message length in characters.
func (v *ContentValidator) MaxLength() int { return v.cfg.MaxLength }

// Validate runs the checks in order and stops at the first failure.
func (v *ContentValidator) Validate(text string) ValidationOutcome {
	if strings.TrimSpace(text) == "" {
		return reject(ReasonEmpty, msgEmpty)
	}

	length := utf8.RuneCountInString(text)
	if length > v.cfg.MaxLength {
		return reject(ReasonTooLong, fmt.Sprintf("Message too long (max %d characters)", v.cfg.MaxLength))
	}

	if m := v.matchRule(text); m != nil {
		out := reject(ReasonPromptInjection, msgPromptInjection)
		if m.Category == CategoryMaliciousContent {
			out = reject(ReasonMaliciousContent, msgMaliciousContent)
		}
		out.Match = m
		return out
	}

	sanitized := Sanitize(text)
	if sanitized == "" {
		return reject(ReasonEmpty, msgEmpty)
	}
	retained := utf8.RuneCountInString(sanitized)
	if float64(retained) < float64(length)*v.cfg.MinRetainedRatio && length > v.cfg.MinRetainedBase {
		return reject(ReasonInvalidContent, msgInvalidContent)
	}

	if longestRun(sanitized) >= v.cfg.RepeatRun {
		return reject(ReasonSpam, msgSpam)
	}

	if specialRatio(sanitized) > v.cfg.MaxSpecialRatio {
		return reject(ReasonSpecialChars, msgSpecialChars)
	}

	lower := strings.ToLower(sanitized)
	for _, d := range v.denyList {
		if strings.Contains(lower, d) {
			return reject(ReasonInappropriate, msgInappropriate)
		}
	}

	return ValidationOutcome{Accepted: true, SanitizedText: sanitized}
}

func (v *ContentValidator) matchRule(text string) *RuleMatch {
	for _, r := range v.rules {
		if r.match(text) {
			return &RuleMatch{Rule: r.Name, Category: r.Category, Pattern: r.Pattern}
		}
	}
	return nil
}

func reject(reason RejectReason, msg string) ValidationOutcome {
	return ValidationOutcome{Reason: reason, Message: msg}
}
