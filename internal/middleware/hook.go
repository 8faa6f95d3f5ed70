// Package middleware holds the request guards that run before the gateway's
// handlers: rate limiting, bearer auth and request ids.
package middleware

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized rejects a request with a missing or invalid bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited rejects a request over the client's rate.
	ErrRateLimited = errors.New("rate limited")
)

// Hook inspects a request before its handler runs. Return an error to
// reject it; the returned request replaces the original.
type Hook func(r *http.Request) (*http.Request, error)

// Chain holds ordered pre hooks.
type Chain struct {
	Pre []Hook
}

// RunPre executes pre-hooks in order. Stops on first error.
func (c *Chain) RunPre(r *http.Request) (*http.Request, error) {
	for _, h := range c.Pre {
		var err error
		r, err = h(r)
		if err != nil {
			return r, err
		}
	}
	return r, nil
}

// Wrap runs the chain before next. Rejections are handed to reject.
func (c *Chain) Wrap(next http.Handler, reject func(w http.ResponseWriter, r *http.Request, err error)) http.Handler {
	if c == nil || len(c.Pre) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, err := c.RunPre(r)
		if err != nil {
			reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
