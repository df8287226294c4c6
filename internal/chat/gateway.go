// Package chat implements the storefront chat pipeline: rate limits,
// content validation, bot-behavior detection and the provider quota gate
// around a single upstream completion, with canned fallbacks whenever the
// upstream cannot be used.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/flemzord/storeguard/internal/chat"

// Pipeline defaults.
const (
	DefaultMaxHistory      = 10
	DefaultUpstreamTimeout = 15 * time.Second
)

const (
	msgTooManyRequests = "Too many requests. Please wait a moment before trying again."
	msgDailyLimit      = "Daily message limit reached (%d messages per day). Please try again tomorrow."
	msgInvalidFormat   = "Invalid message format"
	msgSlowDown        = ". Please slow down and try again."
)

// ErrMissingDependency is returned by NewGateway when a required
// collaborator is nil.
var ErrMissingDependency = errors.New("chat: missing dependency")

// Completer is the upstream call. *provider.Chain satisfies it.
type Completer interface {
	Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
}

// Recorder receives the outcome of every evaluation.
type Recorder interface {
	ObserveChat(outcome string, elapsed time.Duration)
}

// Settings are the tunables that can be swapped at runtime.
// Zero values take defaults.
type Settings struct {
	Limits          map[security.Scope]security.Limit
	Validator       *security.ContentValidator
	Detector        *security.BotBehaviorDetector
	Catalog         Catalog
	MaxHistory      int
	UpstreamTimeout time.Duration
}

func (s Settings) normalize() (*Settings, error) {
	limits := security.DefaultLimits()
	for scope, l := range s.Limits {
		limits[scope] = l
	}
	for scope, l := range limits {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", scope, err)
		}
	}
	s.Limits = limits

	if s.Validator == nil {
		v, err := security.NewContentValidator(security.ContentValidatorConfig{})
		if err != nil {
			return nil, err
		}
		s.Validator = v
	}
	if s.Detector == nil {
		s.Detector = security.NewBotBehaviorDetector(security.BehaviorConfig{})
	}
	if s.Catalog.StoreName == "" {
		s.Catalog = DefaultCatalog()
	}
	if s.MaxHistory <= 0 {
		s.MaxHistory = DefaultMaxHistory
	}
	if s.UpstreamTimeout <= 0 {
		s.UpstreamTimeout = DefaultUpstreamTimeout
	}
	return &s, nil
}

// Options wires a Gateway. Limiter, Events and Quota are required.
type Options struct {
	Limiter  *security.RateLimiter
	Events   *security.SecurityEventLog
	Quota    *quota.Tracker
	Settings Settings

	// Upstream may be set later with SetUpstream. Without one every
	// accepted message is answered from the fallback table.
	Upstream Completer
	// Activity defaults to a tracker of DefaultActivityDepth.
	Activity *ActivityTracker
	Recorder Recorder
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
}

type upstreamRef struct{ c Completer }

// Gateway runs the pipeline. It owns no state of its own beyond the
// current settings; counters live in the limiter, the tracker and the
// event log it was built with.
type Gateway struct {
	limiter  *security.RateLimiter
	events   *security.SecurityEventLog
	quota    *quota.Tracker
	activity *ActivityTracker
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	settings atomic.Pointer[Settings]
	upstream atomic.Pointer[upstreamRef]
}

// NewGateway validates opts and builds a Gateway.
func NewGateway(opts Options) (*Gateway, error) {
	switch {
	case opts.Limiter == nil:
		return nil, fmt.Errorf("%w: rate limiter", ErrMissingDependency)
	case opts.Events == nil:
		return nil, fmt.Errorf("%w: security event log", ErrMissingDependency)
	case opts.Quota == nil:
		return nil, fmt.Errorf("%w: quota tracker", ErrMissingDependency)
	}

	g := &Gateway{
		limiter:  opts.Limiter,
		events:   opts.Events,
		quota:    opts.Quota,
		activity: opts.Activity,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		now:      opts.Now,
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.activity == nil {
		g.activity = NewActivityTracker(DefaultActivityDepth)
	}
	if err := g.SetSettings(opts.Settings); err != nil {
		return nil, err
	}
	g.SetUpstream(opts.Upstream)
	return g, nil
}

// SetSettings validates and atomically replaces the tunables. In-flight
// evaluations finish with the settings they started with.
func (g *Gateway) SetSettings(s Settings) error {
	n, err := s.normalize()
	if err != nil {
		return err
	}
	g.settings.Store(n)
	return nil
}

// Settings returns the current tunables.
func (g *Gateway) Settings() Settings {
	return *g.settings.Load()
}

// SetUpstream replaces the upstream. nil disables upstream calls.
func (g *Gateway) SetUpstream(c Completer) {
	if c == nil {
		g.upstream.Store(nil)
		return
	}
	g.upstream.Store(&upstreamRef{c: c})
}

// UpstreamConfigured reports whether an upstream is set.
func (g *Gateway) UpstreamConfigured() bool {
	return g.upstream.Load() != nil
}

// UpstreamStatus reports per-provider health when the upstream is a
// provider chain. Nil otherwise.
func (g *Gateway) UpstreamStatus() []provider.EntryStatus {
	up := g.upstream.Load()
	if up == nil {
		return nil
	}
	if s, ok := up.c.(interface{ Status() []provider.EntryStatus }); ok {
		return s.Status()
	}
	return nil
}

// Activity returns the per-user arrival tracker.
func (g *Gateway) Activity() *ActivityTracker { return g.activity }

// Limiter returns the rate limiter shared with other endpoints.
func (g *Gateway) Limiter() *security.RateLimiter { return g.limiter }

// Events returns the security event log.
func (g *Gateway) Events() *security.SecurityEventLog { return g.events }

// Quota returns the provider quota tracker.
func (g *Gateway) Quota() *quota.Tracker { return g.quota }

// Limit returns the current limit for scope.
func (g *Gateway) Limit(scope security.Scope) security.Limit {
	return g.settings.Load().Limits[scope]
}

// EvaluateAndRespond runs one message through the pipeline. It never
// returns an error: upstream problems degrade to a fallback answer and
// every refusal is a Rejection.
func (g *Gateway) EvaluateAndRespond(ctx context.Context, req Request) Response {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "chat.evaluate",
		trace.WithAttributes(attribute.String("chat.tier", string(tierOf(req.Tier)))),
	)
	defer span.End()

	resp := g.evaluate(ctx, req)

	span.SetAttributes(
		attribute.String("chat.outcome", resp.Outcome()),
		attribute.Bool("chat.fallback", resp.Fallback),
	)
	if resp.Provider != "" {
		span.SetAttributes(attribute.String("chat.provider", resp.Provider))
	}
	if resp.Severity != "" {
		span.SetAttributes(attribute.String("chat.warning_severity", string(resp.Severity)))
	}
	if resp.Rejection != nil {
		span.SetStatus(codes.Error, string(resp.Rejection.Kind))
	}
	if g.recorder != nil {
		g.recorder.ObserveChat(resp.Outcome(), g.now().Sub(start))
	}
	return resp
}

func (g *Gateway) evaluate(ctx context.Context, req Request) Response {
	s := g.settings.Load()
	src := security.Source{Key: req.ClientKey, UserAgent: req.UserAgent, UserID: req.UserKey}

	ipRes := g.limiter.Check(security.ScopeChatByIP.Key(req.ClientKey), s.Limits[security.ScopeChatByIP])
	if !ipRes.Allowed {
		g.events.RateLimited(src, security.ScopeChatByIP, ipRes)
		return g.throttled(ipRes, msgTooManyRequests)
	}

	scope := userScope(req.Tier)
	userLimit := s.Limits[scope]
	userRes := g.limiter.Check(scope.Key(UserIdentity(req.ClientKey, req.UserKey)), userLimit)
	if !userRes.Allowed {
		g.events.RateLimited(src, scope, userRes)
		return g.throttled(userRes, fmt.Sprintf(msgDailyLimit, userLimit.MaxRequests))
	}

	latest, ok := latestUserMessage(req.Messages)
	if !ok {
		g.events.ValidationFailed(src, "", security.ReasonInvalidFormat, msgInvalidFormat)
		return rejected(KindInvalidRequest, 400, msgInvalidFormat)
	}

	vo := s.Validator.Validate(latest)
	if !vo.Accepted {
		g.recordContentRejection(src, latest, vo)
		return rejected(KindContentRejected, 400, vo.Message)
	}

	arrival := g.activity.Arrival(vo.SanitizedText)
	history := append(append([]security.TimedMessage(nil), req.Recent...), arrival)
	bo := s.Detector.Analyze(history)
	if !bo.Accepted {
		g.events.BotBehavior(src, bo.Reason, min(len(history), s.Detector.Window()))
		return rejected(KindBotBehavior, 429, bo.Reason+msgSlowDown)
	}
	// Only arrivals that passed every check feed later behavior analysis.
	g.activity.Append(ActivityKey(req.ClientKey, req.UserKey), arrival)

	resp := Response{
		Allowed:       true,
		SanitizedText: vo.SanitizedText,
		Warning:       bo.Warning,
		Severity:      bo.Severity,
		Quota: &QuotaUsage{
			Remaining: userRes.Remaining,
			Limit:     userRes.Limit,
			ResetAt:   userRes.ResetAt,
		},
	}

	if dec := g.quota.CanProceed(); !dec.Allowed {
		g.logger.Info("quota gate closed, serving fallback", "reason", dec.Reason)
		return fallback(resp, s.Catalog, vo.SanitizedText)
	}

	up := g.upstream.Load()
	if up == nil {
		g.logger.Debug("no upstream configured, serving fallback")
		return fallback(resp, s.Catalog, vo.SanitizedText)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.UpstreamTimeout)
	defer cancel()
	out, err := up.c.Complete(callCtx, provider.CompletionRequest{
		System:   s.Catalog.Instructions(req.Cart),
		Messages: conversation(req.Messages, vo.SanitizedText, s.MaxHistory),
	})
	if err != nil {
		g.logger.Warn("upstream call failed, serving fallback", "error", err, "outcome", provider.Outcome(err))
		trace.SpanFromContext(ctx).RecordError(err)
		if billed := out.Usage.Billable(); billed > 0 {
			g.quota.RecordUsage(billed)
		}
		return fallback(resp, s.Catalog, vo.SanitizedText)
	}

	tokens := out.Usage.Billable()
	g.quota.RecordUsage(tokens)
	resp.Content = out.Content
	resp.Provider = out.Provider
	resp.Quota.TokensUsed = tokens
	return resp
}

func (g *Gateway) recordContentRejection(src security.Source, raw string, vo security.ValidationOutcome) {
	switch vo.Reason {
	case security.ReasonPromptInjection:
		g.events.PromptInjection(src, raw, vo.Match)
	case security.ReasonMaliciousContent:
		g.events.MaliciousContent(src, raw, vo.Match)
	default:
		g.events.ValidationFailed(src, raw, vo.Reason, vo.Message)
	}
}

func (g *Gateway) throttled(res security.RateLimitResult, msg string) Response {
	retry := int(res.RetryAfter(g.now()) / time.Second)
	return Response{Rejection: &Rejection{
		Kind:              KindRateLimited,
		HTTPStatusHint:    429,
		RetryAfterSeconds: max(retry, 1),
		PublicMessage:     msg,
	}}
}

func rejected(kind RejectionKind, status int, msg string) Response {
	return Response{Rejection: &Rejection{Kind: kind, HTTPStatusHint: status, PublicMessage: msg}}
}

func fallback(resp Response, c Catalog, text string) Response {
	resp.Fallback = true
	resp.Content = c.Fallback(text)
	return resp
}

// UserIdentity is the per-user rate-limit key: the user ID when signed in,
// otherwise the client address.
func UserIdentity(clientKey, userKey string) string {
	if userKey != "" {
		return "user:" + userKey
	}
	return "user:ip:" + clientKey
}

func tierOf(t Tier) Tier {
	if t == TierRegistered {
		return TierRegistered
	}
	return TierGuest
}

func userScope(t Tier) security.Scope {
	if tierOf(t) == TierRegistered {
		return security.ScopeChatByUserRegistered
	}
	return security.ScopeChatByUserGuest
}

func latestUserMessage(msgs []Message) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != string(provider.MessageRoleUser) {
		return "", false
	}
	return last.Content, true
}

// conversation builds the upstream turns: at most maxHistory of the most
// recent messages, every one sanitized, the newest replaced by the
// already validated text.
func conversation(msgs []Message, latest string, maxHistory int) []provider.Message {
	if len(msgs) > maxHistory {
		msgs = msgs[len(msgs)-maxHistory:]
	}
	out := make([]provider.Message, 0, len(msgs))
	for i, m := range msgs {
		text := latest
		if i < len(msgs)-1 {
			text = security.Sanitize(m.Content)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		role := provider.MessageRoleUser
		if m.Role == string(provider.MessageRoleAssistant) {
			role = provider.MessageRoleAssistant
		}
		out = append(out, provider.Message{Role: role, Content: text})
	}
	return out
}
