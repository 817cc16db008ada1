package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loomgate/loomgate/pkg/providers"
)

// RetryDecision is what ClassifyRetryDecision extracts from a failed
// completion call: whether it's worth retrying at all, the HTTP status it
// was carrying (if any), a coarse reason for logging/notify, and a
// server-dictated delay (Retry-After) that overrides backoff+jitter when
// present.
type RetryDecision struct {
	Retryable  bool
	Status     int
	Reason     providers.FailoverReason
	RetryAfter time.Duration
}

// ClassifyRetryDecision inspects err's message for the status/Retry-After
// shape providers.LLMProvider implementations wrap their HTTP failures in,
// and classifies it for DoWithRetry.
func ClassifyRetryDecision(err error) RetryDecision {
	if err == nil {
		return RetryDecision{}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return RetryDecision{Retryable: true, Reason: providers.FailoverTimeout}
	}

	msg := err.Error()
	if strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "Client.Timeout") {
		return RetryDecision{Retryable: true, Reason: providers.FailoverTimeout}
	}

	status, ok := ParseHTTPStatusFromError(msg)
	if !ok {
		return RetryDecision{}
	}

	if status == http.StatusTooManyRequests {
		retryAfter, _ := extractRetryAfter(err, time.Now())
		return RetryDecision{Retryable: true, Status: status, Reason: providers.FailoverRateLimit, RetryAfter: retryAfter}
	}
	if status >= 500 && status <= 599 {
		return RetryDecision{Retryable: true, Status: status, Reason: providers.FailoverServerErr}
	}
	return RetryDecision{Status: status}
}

// ParseHTTPStatusFromError finds the "Status: NNN" marker providers embed in
// wrapped HTTP errors, matching the marker case-insensitively.
func ParseHTTPStatusFromError(msg string) (int, bool) {
	lower := strings.ToLower(msg)
	idx := strings.Index(lower, "status:")
	if idx < 0 {
		return 0, false
	}

	s := strings.TrimSpace(lower[idx+len("status:"):])
	end := 0
	for end < len(s) {
		c := s[end]
		if c < '0' || c > '9' {
			break
		}
		end++
	}
	if end == 0 {
		return 0, false
	}

	code, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return code, true
}

// extractRetryAfter finds a "Retry-After:" marker in err's message and
// parses its value either as a delay in seconds or as an HTTP-date,
// returning the wait duration measured from now.
func extractRetryAfter(err error, now time.Time) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	msg := err.Error()
	idx := strings.Index(msg, "Retry-After:")
	if idx < 0 {
		return 0, false
	}

	rest := msg[idx+len("Retry-After:"):]
	if nl := strings.IndexAny(rest, "\n\r"); nl >= 0 {
		rest = rest[:nl]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(rest); err == nil {
		return time.Duration(secs) * time.Second, true
	}

	if t, err := time.Parse(http.TimeFormat, rest); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// RetryNotifyFunc is invoked before each backoff wait so a caller can
// surface a user-facing retry notice.
type RetryNotifyFunc func(attempt, total int, decision RetryDecision)

// RetryPolicy configures DoWithRetry. AttemptTimeouts has one entry per
// attempt and its length is the attempt budget; Backoffs holds the wait
// between attempt i and i+1. Sleep and Jitter are injectable for
// deterministic tests; both default to real implementations when nil.
type RetryPolicy struct {
	AttemptTimeouts []time.Duration
	Backoffs        []time.Duration
	MaxJitter       time.Duration
	Jitter          func(max time.Duration) time.Duration
	Sleep           func(ctx context.Context, d time.Duration) error
	Notify          RetryNotifyFunc
}

func defaultJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffWait computes how long to wait before the next attempt: a
// Retry-After delay wins outright (no jitter added, since it's a
// server-dictated value); otherwise it's Backoffs[attempt-1] plus jitter
// bounded by MaxJitter.
func backoffWait(policy RetryPolicy, decision RetryDecision, attempt int) (time.Duration, bool) {
	if decision.RetryAfter > 0 {
		return decision.RetryAfter, true
	}

	idx := attempt - 1
	if idx < 0 || idx >= len(policy.Backoffs) {
		return 0, false
	}
	wait := policy.Backoffs[idx]
	if policy.MaxJitter > 0 {
		jitter := policy.Jitter
		if jitter == nil {
			jitter = defaultJitter
		}
		wait += jitter(policy.MaxJitter)
	}
	return wait, true
}

// DoWithRetry runs fn under a fresh per-attempt timeout derived from ctx,
// retrying while ClassifyRetryDecision says the failure is retryable and
// attempts remain. An attempt whose own failure is ctx's cancellation (the
// parent deadline firing mid-attempt) ends the loop immediately without
// consuming the remaining configured attempts.
func DoWithRetry[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	if len(policy.AttemptTimeouts) == 0 {
		return fn(ctx)
	}

	sleep := policy.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	var lastErr error
	for attempt := 1; attempt <= len(policy.AttemptTimeouts); attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeouts[attempt-1])
		val, err := fn(attemptCtx)
		cancel()

		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, err
		}

		if attempt == len(policy.AttemptTimeouts) {
			break
		}

		decision := ClassifyRetryDecision(err)
		if !decision.Retryable {
			break
		}

		if policy.Notify != nil {
			policy.Notify(attempt, len(policy.AttemptTimeouts), decision)
		}

		wait, ok := backoffWait(policy, decision, attempt)
		if !ok {
			continue
		}
		if serr := sleep(ctx, wait); serr != nil {
			return zero, serr
		}
	}

	return zero, lastErr
}

// FormatLLMRetryNotice renders a human-facing retry notice for decision,
// suitable for a RetryNotifyFunc that surfaces progress to a session log.
func FormatLLMRetryNotice(attempt, total int, decision RetryDecision) string {
	switch decision.Reason {
	case providers.FailoverTimeout:
		return fmt.Sprintf("LLM timed out, retrying (attempt %d/%d)", attempt+1, total)
	case providers.FailoverRateLimit:
		if decision.RetryAfter > 0 {
			return fmt.Sprintf("LLM rate limited, retrying in %s (attempt %d/%d)", decision.RetryAfter, attempt+1, total)
		}
		return fmt.Sprintf("LLM rate limited, retrying (attempt %d/%d)", attempt+1, total)
	case providers.FailoverServerErr:
		if decision.Status > 0 {
			return fmt.Sprintf("LLM server error (%d), retrying (attempt %d/%d)", decision.Status, attempt+1, total)
		}
		return fmt.Sprintf("LLM server error, retrying (attempt %d/%d)", attempt+1, total)
	default:
		return fmt.Sprintf("LLM call failed, retrying (attempt %d/%d)", attempt+1, total)
	}
}
