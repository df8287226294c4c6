package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flemzord/storeguard/internal/chat"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
)

// Public error messages.
const (
	msgInvalidMessages = "Invalid messages format"
	msgBodyTooLarge    = "Request body too large"
	msgAuthRequired    = "Authentication required"
	msgAccessDenied    = "Access denied"
	msgUsageIPLimit    = "Too many requests. Please try again later."
	msgUsageUserLimit  = "Daily limit reached for usage statistics."
)

type storeChatRequest struct {
	Messages []chat.Message `json:"messages"`
	Cart     *chat.Cart     `json:"cart,omitempty"`
}

type chatReply struct {
	Content  string            `json:"content"`
	Fallback bool              `json:"fallback,omitempty"`
	Warning  string            `json:"warning,omitempty"`
	Severity security.Severity `json:"severity,omitempty"`
	Usage    *chatUsage        `json:"usage,omitempty"`
}

type chatUsage struct {
	TokensUsed int `json:"tokensUsed"`
	Remaining  int `json:"remaining"`
}

type errorReply struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// handleStoreChat runs one storefront message through the chat pipeline.
func (g *Gateway) handleStoreChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body storeChatRequest
		if status, err := g.decodeBody(r, &body); err != nil {
			msg := msgInvalidMessages
			if status == http.StatusRequestEntityTooLarge {
				msg = msgBodyTooLarge
			}
			g.logger.Debug("rejected store-chat body", "error", err)
			writeJSON(w, status, errorReply{Error: msg})
			return
		}
		if body.Messages == nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: msgInvalidMessages})
			return
		}

		ip := clientIP(r, g.config.TrustProxyHeaders)
		userID, tier := g.identity(r)
		req := chat.Request{
			ClientKey: ip,
			UserKey:   userID,
			Tier:      tier,
			UserAgent: r.UserAgent(),
			Messages:  body.Messages,
			Cart:      body.Cart,
			Recent:    g.chat.Activity().History(chat.ActivityKey(ip, userID)),
		}

		resp := g.chat.EvaluateAndRespond(r.Context(), req)
		if resp.Rejection != nil {
			rej := resp.Rejection
			if rej.RetryAfterSeconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfterSeconds))
			}
			writeJSON(w, rej.HTTPStatusHint, errorReply{Error: rej.PublicMessage, RetryAfter: rej.RetryAfterSeconds})
			return
		}

		reply := chatReply{
			Content:  resp.Content,
			Fallback: resp.Fallback,
			Warning:  resp.Warning,
			Severity: resp.Severity,
		}
		if q := resp.Quota; q != nil {
			setRateLimitHeaders(w, q.Limit, q.Remaining, q.ResetAt)
			if !resp.Fallback {
				reply.Usage = &chatUsage{TokensUsed: q.TokensUsed, Remaining: q.Remaining}
			}
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

type usageCounter struct {
	Current    int64  `json:"current"`
	Limit      int64  `json:"limit"`
	Percentage string `json:"percentage"`
}

type usageView struct {
	Requests         usageCounter         `json:"requests"`
	Tokens           usageCounter         `json:"tokens"`
	LastReset        time.Time            `json:"lastReset"`
	NextReset        time.Time            `json:"nextReset"`
	DataSource       quota.DataSource     `json:"dataSource"`
	LastExternalSync *time.Time           `json:"lastExternalSync"`
	ErrorRate        *string              `json:"errorRate"`
	AverageLatency   *string              `json:"averageLatency"`
	External         *quota.ExternalUsage `json:"externalData"`
}

type limitView struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetTime time.Time `json:"resetTime"`
}

type storeUsageReply struct {
	Usage      usageView            `json:"usage"`
	Timestamp  time.Time            `json:"timestamp"`
	RateLimits map[string]limitView `json:"rateLimits"`
}

// handleStoreUsage reports provider usage to signed-in shoppers. The
// checks run cheapest first so the oracle is only queried for callers
// that pass all of them.
func (g *Gateway) handleStoreUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := g.identity(r)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorReply{Error: msgAuthRequired})
			return
		}

		ip := clientIP(r, g.config.TrustProxyHeaders)
		src := security.Source{Key: ip, UserAgent: r.UserAgent(), UserID: userID}
		limiter := g.chat.Limiter()

		ipRes := limiter.Check(security.ScopeUsageByIP.Key(ip), g.chat.Limit(security.ScopeUsageByIP))
		if !ipRes.Allowed {
			g.chat.Events().RateLimited(src, security.ScopeUsageByIP, ipRes)
			g.writeThrottled(w, ipRes, msgUsageIPLimit)
			return
		}
		userRes := limiter.Check(security.ScopeUsageByUser.Key(userID), g.chat.Limit(security.ScopeUsageByUser))
		if !userRes.Allowed {
			g.chat.Events().RateLimited(src, security.ScopeUsageByUser, userRes)
			g.writeThrottled(w, userRes, msgUsageUserLimit)
			return
		}

		if security.IsAutomatedUserAgent(r.UserAgent()) {
			g.logger.Warn("automated client requested usage stats", "ip", ip, "user_agent", r.UserAgent())
			g.chat.Events().BotBehavior(src, "Automated user agent requested usage statistics", 0)
			writeJSON(w, http.StatusForbidden, errorReply{Error: msgAccessDenied})
			return
		}

		stats := g.chat.Quota().EnhancedStats(r.Context())
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		setRateLimitHeaders(w, ipRes.Limit, ipRes.Remaining, ipRes.ResetAt)
		writeJSON(w, http.StatusOK, storeUsageReply{
			Usage:     newUsageView(stats),
			Timestamp: g.clock().UTC(),
			RateLimits: map[string]limitView{
				"ip":   {Remaining: ipRes.Remaining, Limit: ipRes.Limit, ResetTime: ipRes.ResetAt},
				"user": {Remaining: userRes.Remaining, Limit: userRes.Limit, ResetTime: userRes.ResetAt},
			},
		})
	}
}

func newUsageView(s quota.EnhancedStats) usageView {
	v := usageView{
		Requests: usageCounter{
			Current:    s.RequestCount,
			Limit:      s.Limits.MaxRequests,
			Percentage: strconv.FormatFloat(s.RequestPercent, 'f', 1, 64),
		},
		Tokens: usageCounter{
			Current:    s.TokenCount,
			Limit:      s.Limits.MaxTokens,
			Percentage: strconv.FormatFloat(s.TokenPercent, 'f', 1, 64),
		},
		LastReset:  s.WindowStartedAt,
		NextReset:  s.NextReset,
		DataSource: s.DataSource,
		External:   s.External,
	}
	if !s.LastSync.IsZero() {
		last := s.LastSync
		v.LastExternalSync = &last
	}
	if s.External != nil {
		rate := strconv.FormatFloat(s.ErrorRate, 'f', 2, 64)
		latency := fmt.Sprintf("%dms", s.AverageLatency.Milliseconds())
		v.ErrorRate = &rate
		v.AverageLatency = &latency
	}
	return v
}

func (g *Gateway) writeThrottled(w http.ResponseWriter, res security.RateLimitResult, msg string) {
	retry := retryAfterSeconds(res, g.clock())
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, errorReply{Error: msg, RetryAfter: retry})
}

// retryAfterSeconds is at least one so clients never retry immediately.
func retryAfterSeconds(res security.RateLimitResult, now time.Time) int {
	return max(int(res.RetryAfter(now)/time.Second), 1)
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.UnixMilli(), 10))
}

// decodeBody reads a size-capped JSON body, rejects excessive nesting,
// then decodes it into v. The returned status is the one to answer with
// on error.
func (g *Gateway) decodeBody(r *http.Request, v any) (int, error) {
	limits := security.BodyLimits{
		MaxBytes: int(g.config.MaxBodyBytes),
		MaxDepth: g.config.MaxJSONDepth,
	}
	data, err := limits.ReadBody(r.Body)
	if errors.Is(err, security.ErrBodyTooLarge) {
		return http.StatusRequestEntityTooLarge, err
	}
	if err != nil {
		return http.StatusBadRequest, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return http.StatusBadRequest, err
	}
	return http.StatusOK, nil
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
