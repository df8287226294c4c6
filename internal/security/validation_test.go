package security

import (
	"errors"
	"strings"
	"testing"
)

func TestBodyLimits_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		limits  BodyLimits
		body    string
		wantErr error
	}{
		{"chat request", BodyLimits{}, `{"messages":[{"role":"user","content":"hi"}]}`, nil},
		{"empty body", BodyLimits{}, ``, nil},
		{"at depth limit", BodyLimits{MaxDepth: 3}, `{"a":[{"b":1}]}`, nil},
		{"over depth limit", BodyLimits{MaxDepth: 2}, `{"a":[{"b":1}]}`, ErrJSONTooDeep},
		{"default depth", BodyLimits{}, strings.Repeat("[", 9) + strings.Repeat("]", 9), ErrJSONTooDeep},
		{"at size limit", BodyLimits{MaxBytes: 7}, `{"a":1}`, nil},
		{"over size limit", BodyLimits{MaxBytes: 6}, `{"a":1}`, ErrBodyTooLarge},
		{"malformed", BodyLimits{}, `{"a":`, ErrInvalidJSON},
		{"wrong delimiter", BodyLimits{}, `{"a":1]`, ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.limits.Check([]byte(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check(%q) = %v, want %v", tt.body, err, tt.wantErr)
			}
		})
	}
}

func TestBodyLimits_ReadBody(t *testing.T) {
	t.Parallel()

	limits := BodyLimits{MaxBytes: 16}

	data, err := limits.ReadBody(strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("ReadBody = %q", data)
	}

	// The reader is cut off one byte past the limit, so oversized bodies
	// are reported without reading them fully.
	_, err = limits.ReadBody(strings.NewReader(`{"padding":"` + strings.Repeat("x", 1<<20) + `"}`))
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("ReadBody(oversized) = %v, want ErrBodyTooLarge", err)
	}
}
