package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/ami-nexus/internal/db"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"gorm.io/gorm"
)

const (
	// tokenURL is the OpenAI OAuth token endpoint.
	tokenURL = "https://auth.openai.com/oauth/token"
	// clientID is the Codex CLI OAuth client.
	clientID = "app_EMoamEEZ73f0CkXaXp7hrann"

	// refreshThreshold refreshes proactively well before expiry so a
	// long streaming response never races token death.
	refreshThreshold = 20 * time.Minute

	refreshAttempts    = 3
	refreshInitialWait = time.Second
)

// TokenSource hands out valid access tokens for codex credentials,
// refreshing and persisting them when they approach expiry. One mutex
// per credential keeps concurrent requests from double-refreshing.
type TokenSource struct {
	db         *gorm.DB
	httpClient *http.Client
	tokenURL   string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewTokenSource(database *gorm.DB) *TokenSource {
	return &TokenSource{
		db:         database,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokenURL:   tokenURL,
		locks:      make(map[string]*sync.Mutex),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

func (s *TokenSource) credLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[id]; !ok {
		s.locks[id] = &sync.Mutex{}
	}
	return s.locks[id]
}

// AccessToken returns a token valid for at least refreshThreshold,
// refreshing through the OAuth endpoint when needed. The credential is
// updated in place and in the store.
func (s *TokenSource) AccessToken(ctx context.Context, cred *models.Credential) (string, error) {
	lock := s.credLock(cred.ID)
	lock.Lock()
	defer lock.Unlock()

	if cred.AccessToken != "" && time.Until(cred.ExpiresAt) > refreshThreshold {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", &upstream.Error{
			Kind:    upstream.KindAuthentication,
			Message: "codex credential has no refresh token; run the login flow",
			Fatal:   true,
		}
	}
	return s.refresh(ctx, cred)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// refresh exchanges the refresh token, retrying transient failures with
// doubling waits. A 4xx from the issuer is terminal: the grant is gone.
func (s *TokenSource) refresh(ctx context.Context, cred *models.Credential) (string, error) {
	form := url.Values{
		"client_id":     {clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"scope":         {"openid profile email"},
	}

	var lastErr error
	wait := refreshInitialWait
	for attempt := 0; attempt < refreshAttempts; attempt++ {
		if attempt > 0 {
			log.Printf("⏳ [codex] token refresh retry %d/%d for %s in %s", attempt, refreshAttempts-1, cred.ID, wait)
			if err := s.sleep(ctx, wait); err != nil {
				return "", err
			}
			wait *= 2
		}

		tok, retryable, err := s.refreshOnce(ctx, form)
		if err == nil {
			return s.persist(cred, tok)
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("codex token refresh exhausted retries: %w", lastErr)
}

func (s *TokenSource) refreshOnce(ctx context.Context, form url.Values) (*tokenResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, &upstream.Error{
			Kind:    upstream.KindAuthentication,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("token refresh rejected (%d): %s", resp.StatusCode, body),
			Fatal:   true,
		}
	default:
		return nil, true, fmt.Errorf("token refresh failed (%d): %s", resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, false, fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, false, fmt.Errorf("token response missing access_token")
	}
	return &tok, false, nil
}

// persist writes the rotated tokens to the store and the in-memory
// credential. An empty rotated refresh token keeps the previous one.
func (s *TokenSource) persist(cred *models.Credential, tok *tokenResponse) (string, error) {
	expiresAt := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)

	cred.AccessToken = tok.AccessToken
	cred.IDToken = tok.IDToken
	cred.ExpiresAt = expiresAt
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if claims, err := DecodeClaims(tok.IDToken); err == nil {
		cred.Email = claims.Email
		cred.AccountID = claims.AuthInfo.AccountID
	}

	if err := db.UpdateOAuthTokens(s.db, cred.ID, tok.AccessToken, tok.RefreshToken, tok.IDToken, expiresAt); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}
	log.Printf("✅ [codex] token refreshed for %s, expires %s", cred.ID, expiresAt.Format(time.RFC3339))
	return tok.AccessToken, nil
}
