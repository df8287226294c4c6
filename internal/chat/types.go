package chat

import (
	"time"

	"github.com/flemzord/storeguard/internal/security"
)

// Tier selects the per-user daily budget.
type Tier string

// Tier values. Anything other than TierRegistered is treated as a guest.
const (
	TierGuest      Tier = "guest"
	TierRegistered Tier = "registered"
)

// Message is one conversation turn as sent by the storefront.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one inbound chat message with its conversation.
type Request struct {
	// ClientKey identifies the network client, normally the IP address.
	ClientKey string
	// UserKey is the authenticated user ID; empty for anonymous visitors.
	UserKey   string
	Tier      Tier
	UserAgent string

	// Messages is the conversation, newest last. The newest turn must be
	// from the user.
	Messages []Message

	// Recent is the sender's earlier accepted arrivals, oldest first, not
	// including the current message. The gateway appends the current
	// arrival once it passes the behavior check; see Gateway.Activity.
	Recent []security.TimedMessage

	// Cart is the shopper's cart as reported by the storefront. Optional.
	Cart *Cart
}

// Cart is the storefront cart payload. Only item IDs and quantities are
// trusted; names and prices are taken from the catalog.
type Cart struct {
	Items []CartItem `json:"items"`
}

// CartItem is one cart line.
type CartItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// RejectionKind classifies why a request was refused.
type RejectionKind string

// Rejection kinds.
const (
	KindRateLimited     RejectionKind = "rate_limited"
	KindInvalidRequest  RejectionKind = "invalid_request"
	KindContentRejected RejectionKind = "content_rejected"
	KindBotBehavior     RejectionKind = "bot_behavior"
)

// Rejection describes a refused request. PublicMessage never reveals
// which rule matched.
type Rejection struct {
	Kind              RejectionKind `json:"kind"`
	HTTPStatusHint    int           `json:"http_status_hint"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty"`
	PublicMessage     string        `json:"public_message"`
}

// QuotaUsage reports the caller's per-user budget after this request and
// the tokens spent upstream.
type QuotaUsage struct {
	TokensUsed int       `json:"tokens_used"`
	Remaining  int       `json:"remaining"`
	Limit      int       `json:"limit"`
	ResetAt    time.Time `json:"reset_at"`
}

// Response is the pipeline verdict. Exactly one of Content (Allowed) or
// Rejection (!Allowed) is meaningful.
type Response struct {
	Allowed       bool              `json:"allowed"`
	Content       string            `json:"content,omitempty"`
	SanitizedText string            `json:"sanitized_text,omitempty"`
	Warning       string            `json:"warning,omitempty"`
	Severity      security.Severity `json:"severity,omitempty"`
	Fallback      bool              `json:"fallback,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Rejection     *Rejection        `json:"rejection,omitempty"`
	Quota         *QuotaUsage       `json:"quota,omitempty"`
}

// Outcome is a short label for metrics and traces.
func (r Response) Outcome() string {
	switch {
	case r.Rejection != nil:
		return string(r.Rejection.Kind)
	case r.Fallback:
		return "fallback"
	default:
		return "answered"
	}
}
