package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/flemzord/storeguard/internal/provider"
	"google.golang.org/genai"
)

// mapError converts a genai error into a provider sentinel carrying the
// upstream status. Context errors pass through unchanged.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code, msg, ok := apiError(err)
	if !ok {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
		}
		return err
	}

	switch {
	case code == http.StatusTooManyRequests:
		return provider.WithStatus(code, fmt.Errorf("%w: %s", provider.ErrRateLimit, msg))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return provider.WithStatus(code, fmt.Errorf("%w: %s", provider.ErrAuth, msg))
	case code >= http.StatusInternalServerError:
		return provider.WithStatus(code, fmt.Errorf("%w: %s", provider.ErrProviderDown, msg))
	default:
		return provider.WithStatus(code, errors.New(msg))
	}
}

// apiError extracts the status and message from a genai API error, which
// the SDK returns by value.
func apiError(err error) (int, string, bool) {
	var val genai.APIError
	if errors.As(err, &val) {
		return val.Code, val.Message, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message, true
	}
	return 0, "", false
}
