// Package upstream contains the pieces shared by every provider adapter:
// the failure taxonomy, the retry/backoff controller, and the chat
// request model adapters consume.
package upstream

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies an upstream failure. Kinds drive both the HTTP
// status surfaced to clients and the credential policy (fatal kinds may
// deactivate the credential).
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication_error"
	KindRateLimited    ErrorKind = "rate_limited"
	KindNotFound       ErrorKind = "not_found_or_forbidden"
	KindUpstream       ErrorKind = "upstream_server_error"
	KindNoCredential   ErrorKind = "no_available_credential"
	KindOAuthState     ErrorKind = "oauth_state_mismatch"
)

// Error is the typed failure every adapter returns for non-200 upstream
// responses and pool/auth conditions.
type Error struct {
	Kind    ErrorKind
	Status  int // upstream HTTP status when applicable
	Message string
	Fatal   bool // credential itself is unusable going forward
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatus maps a kind to the status returned to the client.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindNoCredential:
		return http.StatusServiceUnavailable
	case KindOAuthState:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// defaultFatalPhrases are the account-exhaustion markers recognized in
// provider error text when the config does not override them. Provider
// wording changes silently, so deployments can extend this list.
var defaultFatalPhrases = []string{
	"quota exceeded",
	"subscription required",
	"session expired",
	"unauthorized",
	"authentication",
}

// FatalClassifier reports whether free-text provider errors indicate the
// credential, not the request, is dead.
type FatalClassifier struct {
	phrases []string
}

// NewFatalClassifier uses the given phrase list, falling back to the
// built-in defaults when empty.
func NewFatalClassifier(phrases []string) *FatalClassifier {
	if len(phrases) == 0 {
		phrases = defaultFatalPhrases
	}
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return &FatalClassifier{phrases: lowered}
}

// IsFatal does a case-insensitive substring match against the phrase list.
func (c *FatalClassifier) IsFatal(message string) bool {
	msg := strings.ToLower(message)
	for _, p := range c.phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
