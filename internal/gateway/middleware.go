package gateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/flemzord/storeguard/internal/chat"
)

// securityHeaders sets the storefront's baseline response headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// cors answers with the caller's origin when it is allowed, "*" when the
// request carries no Origin, and "null" otherwise.
func (g *Gateway) cors(next http.Handler) http.Handler {
	maxAge := strconv.Itoa(int(g.config.CORS.MaxAge.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allow := "null"
		switch {
		case origin == "":
			allow = "*"
		case g.config.CORS.allows(origin):
			allow = origin
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", maxAge)
		h.Add("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// clientIP returns the caller's address. Proxy headers are honored only
// when trust is set.
func clientIP(r *http.Request, trust bool) string {
	if trust {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}

// identity reads the user set by the fronting auth proxy. Without
// TrustProxyHeaders every caller is an anonymous guest.
func (g *Gateway) identity(r *http.Request) (userID string, tier chat.Tier) {
	if !g.config.TrustProxyHeaders {
		return "", chat.TierGuest
	}
	userID = strings.TrimSpace(r.Header.Get(g.config.Identity.UserHeader))
	if userID == "" {
		return "", chat.TierGuest
	}
	switch strings.ToLower(strings.TrimSpace(r.Header.Get(g.config.Identity.TierHeader))) {
	case "regular", "registered":
		return userID, chat.TierRegistered
	default:
		return userID, chat.TierGuest
	}
}
