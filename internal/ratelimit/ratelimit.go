// Package ratelimit implements fixed-window counters keyed by arbitrary strings
// (phone number, client address). Counters are (count, windowStart) pairs updated
// with an atomic increment-and-check so several instances can share one backend.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrRateLimited matches every *Error via errors.Is.
var ErrRateLimited = errors.New("rate limited")

// Rule allows Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// ParseRule parses "count/window", e.g. "3/10m" or "100/1d".
func ParseRule(s string) (Rule, error) {
	count, window, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rule{}, fmt.Errorf("ratelimit: rule %q must look like count/window", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return Rule{}, fmt.Errorf("ratelimit: invalid count in %q", s)
	}
	window = strings.TrimSpace(window)
	var d time.Duration
	if days, found := strings.CutSuffix(window, "d"); found {
		v, err := strconv.Atoi(days)
		if err != nil {
			return Rule{}, fmt.Errorf("ratelimit: invalid window in %q", s)
		}
		d = time.Duration(v) * 24 * time.Hour
	} else {
		d, err = time.ParseDuration(window)
		if err != nil {
			return Rule{}, fmt.Errorf("ratelimit: invalid window in %q: %w", s, err)
		}
	}
	if d <= 0 {
		return Rule{}, fmt.Errorf("ratelimit: window must be positive in %q", s)
	}
	return Rule{Limit: n, Window: d}, nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// Result is the outcome of one Hit.
type Result struct {
	Allowed bool
	// Count is the number of hits in the current window, including this one.
	Count int
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
}

// Limiter counts hits per key.
type Limiter interface {
	// Hit records one hit for key under rule and reports whether it is within the limit.
	Hit(ctx context.Context, key string, rule Rule) (Result, error)
}

// Error reports a rejected hit. Scope names the counter that tripped ("phone", "address").
type Error struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) true for *Error.
func (e *Error) Is(target error) bool {
	return target == ErrRateLimited
}

// Check hits key and converts a rejected hit into an *Error with the given scope.
func Check(ctx context.Context, l Limiter, scope, key string, rule Rule) error {
	res, err := l.Hit(ctx, key, rule)
	if err != nil {
		return fmt.Errorf("ratelimit: %s: %w", scope, err)
	}
	if !res.Allowed {
		return &Error{Scope: scope, RetryAfter: res.RetryAfter}
	}
	return nil
}
