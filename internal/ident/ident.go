// Package ident allocates public object identifiers and deletion keys.
package ident

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

const (
	// Alphabet is the character set for short ids.
	Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultLength is the length of a short id.
	DefaultLength = 6

	// DefaultAttempts bounds collision retries before falling back to a long id.
	DefaultAttempts = 10

	fallbackBytes = 16
	keyBytes      = 32
)

// Checker reports whether an id is already taken.
type Checker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, id string) (bool, error)

// Exists calls f.
func (f CheckerFunc) Exists(ctx context.Context, id string) (bool, error) {
	return f(ctx, id)
}

// Allocator hands out short ids that are unused at the time of the check.
// The check is best-effort; two concurrent allocations may race.
type Allocator struct {
	checker  Checker
	length   int
	attempts int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLength sets the short id length.
func WithLength(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.length = n
		}
	}
}

// WithAttempts sets the number of collision retries.
func WithAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// NewAllocator creates an Allocator that checks collisions against checker.
func NewAllocator(checker Checker, opts ...Option) *Allocator {
	a := &Allocator{
		checker:  checker,
		length:   DefaultLength,
		attempts: DefaultAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns an id that was free when checked. It never fails: after
// the retry budget is spent, or if the checker keeps erroring, it returns a
// 32-character hex id whose collision probability is negligible.
func (a *Allocator) Allocate(ctx context.Context) string {
	for range a.attempts {
		id := Code(a.length)
		taken, err := a.checker.Exists(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "id collision check failed", "id", id, "error", err)
			continue
		}
		if !taken {
			return id
		}
	}
	id := Hex(fallbackBytes)
	slog.WarnContext(ctx, "short id space exhausted, using long id", "id", id, "attempts", a.attempts)
	return id
}

// Code returns n characters drawn uniformly from Alphabet.
func Code(n int) string {
	const maxByte = 256 - 256%len(Alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2)
	for len(out) < n {
		fill(buf)
		for _, b := range buf {
			// Rejection sampling keeps the distribution uniform.
			if int(b) >= maxByte {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}

// Hex returns n random bytes hex encoded.
func Hex(n int) string {
	b := make([]byte, n)
	fill(b)
	return hex.EncodeToString(b)
}

// DeletionKey returns a new 64-character deletion secret.
func DeletionKey() string {
	return Hex(keyBytes)
}

func fill(b []byte) {
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
}
