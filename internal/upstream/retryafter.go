package upstream

import (
	"net/http"
	"strconv"
	"time"
)

// parseRetryAfter extracts the server-requested wait from a 429 response.
// Both the delta-seconds and HTTP-date forms are accepted. Returns 0 when
// the header is absent or unparseable, meaning the caller falls back to
// its own backoff schedule.
func parseRetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
