package security

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes security events.
type EventType string

// Security event types.
const (
	EventPromptInjection  EventType = "prompt_injection"
	EventMaliciousContent EventType = "malicious_content"
	EventBotBehavior      EventType = "bot_behavior"
	EventRateLimit        EventType = "rate_limit"
	EventValidationError  EventType = "validation_error"
)

// EventTypes lists every event type in a stable order.
var EventTypes = []EventType{
	EventPromptInjection,
	EventMaliciousContent,
	EventBotBehavior,
	EventRateLimit,
	EventValidationError,
}

// Severity ranks events and behavior warnings for operator attention.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Valid reports whether t is one of the defined event types.
func (t EventType) Valid() bool {
	for _, et := range EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

func (s Severity) logLevel() slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh, SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// EventDetail holds the diagnostic payload of an event. It is never
// returned to the end user.
type EventDetail struct {
	OriginalText   string            `json:"original_text,omitempty"`
	SanitizedText  string            `json:"sanitized_text,omitempty"`
	MatchedPattern string            `json:"matched_pattern,omitempty"`
	Message        string            `json:"message,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// SecurityEvent is a single immutable log entry.
type SecurityEvent struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Severity   Severity    `json:"severity"`
	OccurredAt time.Time   `json:"occurred_at"`
	SourceKey  string      `json:"source_key"`
	UserAgent  string      `json:"user_agent,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	Detail     EventDetail `json:"detail"`
}

// Source identifies who triggered an event.
type Source struct {
	Key       string
	UserAgent string
	UserID    string
}

// EventFilter selects events. Zero-valued fields match everything.
type EventFilter struct {
	Type      EventType
	Severity  Severity
	SourceKey string
	// Limit caps the result; <= 0 means DefaultQueryLimit.
	Limit int
}

func (f EventFilter) match(e SecurityEvent) bool {
	return (f.Type == "" || e.Type == f.Type) &&
		(f.Severity == "" || e.Severity == f.Severity) &&
		(f.SourceKey == "" || e.SourceKey == f.SourceKey)
}

// Event log defaults.
const (
	DefaultEventCapacity = 10000
	DefaultQueryLimit    = 100
)

// EventLogConfig configures a SecurityEventLog.
type EventLogConfig struct {
	// Capacity bounds the number of retained events. Defaults to DefaultEventCapacity.
	Capacity int

	// Writer, if non-nil, receives every event as one JSON line.
	Writer io.Writer

	// Redactor, if non-nil, is applied to free-text detail fields.
	Redactor *Redactor

	// Logger receives one structured line per event. Nil disables it.
	Logger *slog.Logger

	// OnEvent, if non-nil, is called for every recorded event under the log's lock.
	OnEvent func(SecurityEvent)

	// Now overrides time.Now for testing.
	Now func() time.Time

	// NewID overrides UUID generation for testing.
	NewID func() string
}

// SecurityEventLog is a bounded, append-only, in-memory record of
// rejected and flagged requests. Oldest events are evicted first.
// All methods are safe for concurrent use.
type SecurityEventLog struct {
	writer   io.Writer
	redactor *Redactor
	logger   *slog.Logger
	onEvent  func(SecurityEvent)
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	ring    *ring[SecurityEvent]
	counts  map[EventType]int
	subs    map[int]chan SecurityEvent
	nextSub int
}

// NewSecurityEventLog creates an empty event log.
func NewSecurityEventLog(cfg EventLogConfig) *SecurityEventLog {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultEventCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &SecurityEventLog{
		writer:   cfg.Writer,
		redactor: cfg.Redactor,
		logger:   cfg.Logger,
		onEvent:  cfg.OnEvent,
		now:      cfg.Now,
		newID:    cfg.NewID,
		ring:     newRing[SecurityEvent](cfg.Capacity),
		counts:   make(map[EventType]int),
		subs:     make(map[int]chan SecurityEvent),
	}
}

// Record stamps the event with an ID and timestamp, redacts its free-text
// detail, and appends it. A copy of the stored event is returned.
func (l *SecurityEventLog) Record(event SecurityEvent) SecurityEvent {
	if event.ID == "" {
		event.ID = l.newID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.now()
	}
	if event.Severity == "" {
		event.Severity = SeverityLow
	}
	// Copy Extra so later caller mutations cannot reach the stored event.
	event.Detail.Extra = maps.Clone(event.Detail.Extra)

	if l.redactor != nil {
		d := &event.Detail
		d.OriginalText = l.redactor.Redact(d.OriginalText)
		d.SanitizedText = l.redactor.Redact(d.SanitizedText)
		d.Message = l.redactor.Redact(d.Message)
		for k, v := range d.Extra {
			d.Extra[k] = l.redactor.Redact(v)
		}
	}

	l.mu.Lock()
	if old, evicted := l.ring.push(event); evicted {
		l.counts[old.Type]--
	}
	l.counts[event.Type]++
	if l.onEvent != nil {
		l.onEvent(event.clone())
	}
	if l.writer != nil {
		_ = json.NewEncoder(l.writer).Encode(event)
	}
	for _, ch := range l.subs {
		select {
		case ch <- event.clone():
		default:
			// Slow subscribers miss events rather than block recording.
		}
	}
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Log(context.Background(), event.Severity.logLevel(), "security event",
			"id", event.ID,
			"type", string(event.Type),
			"severity", string(event.Severity),
			"source", event.SourceKey,
			"user_id", event.UserID,
			"message", event.Detail.Message,
		)
	}
	return event.clone()
}

// clone copies the event so callers never share Extra with the ring.
func (e SecurityEvent) clone() SecurityEvent {
	e.Detail.Extra = maps.Clone(e.Detail.Extra)
	return e
}

// Query returns up to f.Limit of the most recent matching events, oldest first.
func (l *SecurityEventLog) Query(f EventFilter) []SecurityEvent {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	l.mu.Lock()
	out := l.ring.last(limit, f.match)
	l.mu.Unlock()
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

// Recent returns the most recent events, oldest first.
func (l *SecurityEventLog) Recent(limit int) []SecurityEvent {
	return l.Query(EventFilter{Limit: limit})
}

// ByType returns the most recent events of type t, oldest first.
func (l *SecurityEventLog) ByType(t EventType, limit int) []SecurityEvent {
	return l.Query(EventFilter{Type: t, Limit: limit})
}

// ByIP returns the most recent events from source key ip, oldest first.
func (l *SecurityEventLog) ByIP(ip string, limit int) []SecurityEvent {
	return l.Query(EventFilter{SourceKey: ip, Limit: limit})
}

// BySeverity returns the most recent events with severity s, oldest first.
func (l *SecurityEventLog) BySeverity(s Severity, limit int) []SecurityEvent {
	return l.Query(EventFilter{Severity: s, Limit: limit})
}

// Clear drops every retained event.
func (l *SecurityEventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring.reset()
	clear(l.counts)
}

// Len returns the number of retained events.
func (l *SecurityEventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.len()
}

// Capacity returns the maximum number of retained events.
func (l *SecurityEventLog) Capacity() int {
	return l.ring.capacity()
}

// Counts returns the number of retained events per type. Every type is
// present, possibly with zero.
func (l *SecurityEventLog) Counts() map[EventType]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[EventType]int, len(EventTypes))
	for _, t := range EventTypes {
		out[t] = l.counts[t]
	}
	return out
}

// Subscribe returns a channel receiving every event recorded after the
// call. Events are dropped for a subscriber whose buffer is full. The
// cancel function closes the channel and is safe to call more than once.
func (l *SecurityEventLog) Subscribe(buffer int) (<-chan SecurityEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan SecurityEvent, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// PromptInjection records a prompt-injection rule hit (severity high).
func (l *SecurityEventLog) PromptInjection(src Source, original string, m *RuleMatch) SecurityEvent {
	return l.Record(ruleEvent(EventPromptInjection, SeverityHigh, "Prompt injection attempt detected", src, original, m))
}

// MaliciousContent records a malicious-content rule hit (severity medium).
func (l *SecurityEventLog) MaliciousContent(src Source, original string, m *RuleMatch) SecurityEvent {
	return l.Record(ruleEvent(EventMaliciousContent, SeverityMedium, "Malicious content detected", src, original, m))
}

// BotBehavior records a bot-behavior rejection (severity medium).
func (l *SecurityEventLog) BotBehavior(src Source, reason string, messageCount int) SecurityEvent {
	return l.Record(SecurityEvent{
		Type:      EventBotBehavior,
		Severity:  SeverityMedium,
		SourceKey: src.Key,
		UserAgent: src.UserAgent,
		UserID:    src.UserID,
		Detail: EventDetail{
			Message: reason,
			Extra:   map[string]string{"message_count": strconv.Itoa(messageCount)},
		},
	})
}

// RateLimited records a rate-limit rejection (severity low).
func (l *SecurityEventLog) RateLimited(src Source, scope Scope, res RateLimitResult) SecurityEvent {
	return l.Record(SecurityEvent{
		Type:      EventRateLimit,
		Severity:  SeverityLow,
		SourceKey: src.Key,
		UserAgent: src.UserAgent,
		UserID:    src.UserID,
		Detail: EventDetail{
			Message: "Rate limit exceeded: " + string(scope),
			Extra: map[string]string{
				"scope":    string(scope),
				"limit":    strconv.Itoa(res.Limit),
				"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
			},
		},
	})
}

// ValidationFailed records a non-rule content rejection (severity low).
func (l *SecurityEventLog) ValidationFailed(src Source, original string, reason RejectReason, message string) SecurityEvent {
	return l.Record(SecurityEvent{
		Type:      EventValidationError,
		Severity:  SeverityLow,
		SourceKey: src.Key,
		UserAgent: src.UserAgent,
		UserID:    src.UserID,
		Detail: EventDetail{
			OriginalText: original,
			Message:      message,
			Extra:        map[string]string{"reason": string(reason)},
		},
	})
}

func ruleEvent(t EventType, sev Severity, msg string, src Source, original string, m *RuleMatch) SecurityEvent {
	e := SecurityEvent{
		Type:      t,
		Severity:  sev,
		SourceKey: src.Key,
		UserAgent: src.UserAgent,
		UserID:    src.UserID,
		Detail:    EventDetail{OriginalText: original, Message: msg},
	}
	if m != nil {
		e.Detail.MatchedPattern = m.Pattern
		e.Detail.Extra = map[string]string{"rule": m.Rule}
	}
	return e
}
