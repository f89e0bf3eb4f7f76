// Package token produces random token strings in the formats keydrop issues.
// Uniqueness is enforced by the key store, not here; a collision simply
// surfaces as a duplicate-token error on create and the caller retries.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/keydropio/keydrop/internal/model"
)

const (
	// MinLength and MaxLength bound the length of variable-length formats.
	MinLength = 8
	MaxLength = 128
	// DefaultLength is used when the caller asks for length 0.
	DefaultLength = 32
	// DefaultBashPrefix is the leading segment of bash-format tokens.
	DefaultBashPrefix = "FREE"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator creates token strings. The zero value is not usable; construct
// with New.
type Generator struct {
	rand       io.Reader
	bashPrefix string
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand replaces the randomness source. Tests use it for determinism.
func WithRand(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

// WithBashPrefix sets the first segment of bash-format tokens.
func WithBashPrefix(prefix string) Option {
	return func(g *Generator) {
		if prefix != "" {
			g.bashPrefix = prefix
		}
	}
}

// New returns a Generator reading from crypto/rand.
func New(opts ...Option) *Generator {
	g := &Generator{rand: rand.Reader, bashPrefix: DefaultBashPrefix}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ClampLength maps a requested length into [MinLength, MaxLength]. Zero or a
// negative value selects DefaultLength.
func ClampLength(n int) int {
	switch {
	case n <= 0:
		return DefaultLength
	case n < MinLength:
		return MinLength
	case n > MaxLength:
		return MaxLength
	default:
		return n
	}
}

// Generate returns a new token in the requested format. Length is clamped for
// the variable-length formats and ignored by uuid and bash, which have a
// fixed shape.
func (g *Generator) Generate(format model.Format, length int) (string, error) {
	switch format {
	case model.FormatBash:
		return g.bash()
	case model.FormatUUID:
		id, err := uuid.NewRandomFromReader(g.rand)
		if err != nil {
			return "", fmt.Errorf("generate uuid: %w", err)
		}
		return id.String(), nil
	case model.FormatHex:
		return g.hex(ClampLength(length))
	case model.FormatAlphanumeric, model.FormatCustom:
		return g.alphanumeric(ClampLength(length))
	default:
		return "", fmt.Errorf("unsupported token format %q", format)
	}
}

func (g *Generator) bash() (string, error) {
	head, err := g.hex(10)
	if err != nil {
		return "", err
	}
	tail, err := g.hex(8)
	if err != nil {
		return "", err
	}
	return g.bashPrefix + "-" + head + "-" + tail, nil
}

func (g *Generator) hex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf)[:n], nil
}

// alphanumeric draws n characters uniformly from the 62-symbol alphabet.
// Bytes at or above 248 (the largest multiple of 62 that fits) are rejected
// so the modulo does not bias early letters.
func (g *Generator) alphanumeric(n int) (string, error) {
	const limit = 256 - 256%len(alphanumeric)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
