package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/keydropio/keydrop/internal/model"
)

var (
	// ErrNotFound is returned when no key matches the presented token.
	ErrNotFound = errors.New("key not found")
	// ErrExpired is returned by Consume when the key's validity window has closed.
	ErrExpired = errors.New("key expired")
	// ErrExhausted is returned by Consume when every allowed use is spent.
	ErrExhausted = errors.New("key exhausted")
	// ErrDuplicateToken is returned by Create when the token is already stored.
	ErrDuplicateToken = errors.New("duplicate token")
	// ErrUnavailable marks backend I/O failures.
	ErrUnavailable = errors.New("store unavailable")
)

// Unavailable wraps a backend failure so errors.Is(err, ErrUnavailable) holds
// while the original cause stays inspectable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// FoldASCII lowercases the ASCII letters of s and leaves every other rune
// untouched. Search folds case this way on every backend.
func FoldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if 'A' <= b[j] && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// LikePattern folds q with FoldASCII, escapes LIKE metacharacters using '!'
// as the escape character, and wraps the result for a contains match. Callers
// compare it against the dialect's ASCII fold of each column with ESCAPE '!'.
func LikePattern(q string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range FoldASCII(q) {
		switch r {
		case '!', '%', '_', '[':
			b.WriteByte('!')
		}
		b.WriteRune(r)
	}
	b.WriteByte('%')
	return b.String()
}

// Matches reports whether k's name or token contains q, ignoring ASCII case.
// It is the in-process equivalent of the LIKE search used by SQL backends.
func Matches(k *model.Key, q string) bool {
	q = FoldASCII(q)
	return strings.Contains(FoldASCII(k.Name), q) ||
		strings.Contains(FoldASCII(k.Token), q)
}
