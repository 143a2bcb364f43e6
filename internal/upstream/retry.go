package upstream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/ami-nexus/internal/util"
)

const (
	// DefaultMaxRetries bounds 429 retries per outbound call.
	DefaultMaxRetries = 3
	// DefaultBackoffStep is the linear backoff increment for 429s.
	DefaultBackoffStep = 10 * time.Second
	// DefaultBackoffCap caps a single backoff wait.
	DefaultBackoffCap = 30 * time.Second
	// errorBodyLimit bounds how much upstream error text is surfaced.
	errorBodyLimit = 500
)

// RetryPolicy wraps exactly one outbound "send chat request" call per
// provider. Only HTTP 429 is retried; every other non-200 status is
// classified and returned immediately. Local and body-parsing errors are
// never retried here.
type RetryPolicy struct {
	MaxRetries  int
	BackoffStep time.Duration
	BackoffCap  time.Duration

	// Sleep is injectable for tests; nil uses a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the standard policy. Per-provider deviations
// are configuration knobs, not behavioral differences.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BackoffStep: DefaultBackoffStep,
		BackoffCap:  DefaultBackoffCap,
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do issues send() until it yields a 200, classifying failures per the
// taxonomy. The returned response body is open and owned by the caller.
func (p RetryPolicy) Do(ctx context.Context, provider string, send func() (*http.Response, error)) (*http.Response, error) {
	// Up to MaxRetries waits, so up to MaxRetries+1 send attempts.
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		resp, err := send()
		if err != nil {
			// Transport-level failure: not retried at this layer.
			return nil, fmt.Errorf("%s request failed: %w", provider, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			hinted := parseRetryAfter(resp)
			drain(resp)
			if attempt == p.MaxRetries {
				return nil, &Error{
					Kind:    KindRateLimited,
					Status:  http.StatusTooManyRequests,
					Message: fmt.Sprintf("%s rate limited after %d retries", provider, p.MaxRetries),
				}
			}
			// A server-provided Retry-After wins over the local schedule;
			// either way the wait never exceeds the cap.
			wait := p.BackoffStep * time.Duration(attempt+1)
			if hinted > 0 {
				wait = hinted
			}
			if wait > p.BackoffCap {
				wait = p.BackoffCap
			}
			log.Printf("⏳ [%s] 429 rate limited, retry %d/%d after %s", provider, attempt+1, p.MaxRetries, wait)
			if err := p.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode == http.StatusUnauthorized:
			body := readErrorBody(resp)
			return nil, &Error{
				Kind:    KindAuthentication,
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("%s rejected credential (401): %s", provider, body),
				Fatal:   true,
			}

		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
			body := readErrorBody(resp)
			return nil, &Error{
				Kind:    KindNotFound,
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("%s returned %d: %s", provider, resp.StatusCode, body),
			}

		default:
			body := readErrorBody(resp)
			return nil, &Error{
				Kind:    KindUpstream,
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("%s returned %d: %s", provider, resp.StatusCode, body),
			}
		}
	}

	// Unreachable: the 429 arm above terminates the final attempt.
	return nil, &Error{
		Kind:    KindRateLimited,
		Status:  http.StatusTooManyRequests,
		Message: fmt.Sprintf("%s rate limited after %d retries", provider, p.MaxRetries),
	}
}

// readErrorBody reads the full body before surfacing it, truncated to a
// bounded length.
func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return util.TruncateLog(string(body), errorBodyLimit)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
