package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Request body defaults for the chat endpoint. A chat turn is at most a
// few kilobytes; the history array is the only nesting.
const (
	DefaultMaxBodyBytes = 64 << 10
	DefaultMaxJSONDepth = 8
)

// Body validation errors.
var (
	ErrBodyTooLarge = errors.New("request body exceeds maximum size")
	ErrJSONTooDeep  = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON  = errors.New("invalid JSON")
)

// BodyLimits bounds an inbound JSON request body. Zero values take defaults.
type BodyLimits struct {
	MaxBytes int `yaml:"max_bytes"`
	MaxDepth int `yaml:"max_depth"`
}

func (l BodyLimits) withDefaults() BodyLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBodyBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxJSONDepth
	}
	return l
}

// ReadBody reads at most MaxBytes+1 bytes from r and checks the result
// with Check.
func (l BodyLimits) ReadBody(r io.Reader) ([]byte, error) {
	l = l.withDefaults()
	data, err := io.ReadAll(io.LimitReader(r, int64(l.MaxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if err := l.Check(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Check verifies size first, then nesting depth. Depth is measured by
// streaming tokens so that a deeply nested payload is rejected before it
// is decoded into memory.
func (l BodyLimits) Check(data []byte) error {
	l = l.withDefaults()
	if len(data) > l.MaxBytes {
		return fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, l.MaxBytes)
	}
	if len(data) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if depth != 0 {
				return fmt.Errorf("%w: unexpected end of input", ErrInvalidJSON)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > l.MaxDepth {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, l.MaxDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
