package gateway

import (
	"time"

	"github.com/flemzord/storeguard/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind     string         `yaml:"bind"`
	Auth     AuthConfig     `yaml:"auth"`
	CORS     CORSConfig     `yaml:"cors"`
	Identity IdentityConfig `yaml:"identity"`

	// TrustProxyHeaders takes the client IP from CF-Connecting-IP,
	// X-Real-IP or X-Forwarded-For and honours the Identity headers.
	// Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	MaxJSONDepth int   `yaml:"max_json_depth"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = security.DefaultMaxBodyBytes
	}
	if c.MaxJSONDepth <= 0 {
		c.MaxJSONDepth = security.DefaultMaxJSONDepth
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = []string{"http://localhost:3000", "https://localhost:3000"}
	}
	if c.CORS.MaxAge <= 0 {
		c.CORS.MaxAge = 24 * time.Hour
	}
	if c.Identity.UserHeader == "" {
		c.Identity.UserHeader = "X-Storefront-User"
	}
	if c.Identity.TierHeader == "" {
		c.Identity.TierHeader = "X-Storefront-User-Type"
	}
}

// AuthConfig configures authentication for admin endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// CORSConfig lists the storefront origins allowed to call the public API.
type CORSConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxAge         time.Duration `yaml:"max_age"`
}

func (c CORSConfig) allows(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// IdentityConfig names the headers set by the fronting auth proxy. They
// are ignored unless TrustProxyHeaders is set.
type IdentityConfig struct {
	// UserHeader carries the authenticated user ID. Absent means anonymous.
	UserHeader string `yaml:"user_header"`
	// TierHeader carries the account type; "regular" or "registered"
	// selects the registered quota, anything else is a guest.
	TierHeader string `yaml:"tier_header"`
}
