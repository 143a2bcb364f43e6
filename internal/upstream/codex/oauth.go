package codex

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const (
	authorizeURL = "https://auth.openai.com/oauth/authorize"

	// callbackPort is fixed: the OAuth client registration only allows
	// this redirect.
	callbackPort = 1455
	callbackPath = "/auth/callback"

	verifierBytes  = 96
	sessionTimeout = 10 * time.Minute
)

type loginSession struct {
	verifier string
	expires  time.Time
	timer    *time.Timer
}

// LoginFlow runs the browser-based PKCE login and turns the resulting
// token set into a stored codex credential. At most one callback
// listener exists; starting a new flow replaces the previous one.
type LoginFlow struct {
	db       *gorm.DB
	oauthCfg oauth2.Config

	mu       sync.Mutex
	sessions map[string]loginSession
	server   *http.Server
}

func NewLoginFlow(database *gorm.DB) *LoginFlow {
	return &LoginFlow{
		db: database,
		oauthCfg: oauth2.Config{
			ClientID:    clientID,
			RedirectURL: fmt.Sprintf("http://localhost:%d%s", callbackPort, callbackPath),
			Scopes:      []string{"openid", "profile", "email", "offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizeURL,
				TokenURL: tokenURL,
			},
		},
		sessions: make(map[string]loginSession),
	}
}

// newVerifier builds a PKCE code verifier from 96 random bytes,
// base64url-encoded without padding.
func newVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate PKCE verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Start registers a login session and returns the authorization URL the
// operator should open. The callback listener is (re)started on the
// fixed port; an in-flight previous flow is abandoned.
func (f *LoginFlow) Start(ctx context.Context) (string, error) {
	verifier, err := newVerifier()
	if err != nil {
		return "", err
	}
	state := uuid.NewString()

	f.mu.Lock()
	f.pruneLocked()
	s := loginSession{verifier: verifier, expires: time.Now().Add(sessionTimeout)}
	s.timer = time.AfterFunc(sessionTimeout, func() { f.expire(state) })
	f.sessions[state] = s
	err = f.ensureListenerLocked()
	f.mu.Unlock()
	if err != nil {
		return "", err
	}

	url := f.oauthCfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("id_token_add_organizations", "true"),
	)
	log.Printf("🔑 [codex] login flow started, state=%s", state)
	return url, nil
}

// ensureListenerLocked restarts the callback server. Closing the old
// server invalidates any flow still waiting on it.
func (f *LoginFlow) ensureListenerLocked() error {
	if f.server != nil {
		_ = f.server.Close()
		f.server = nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", callbackPort))
	if err != nil {
		return fmt.Errorf("listen on callback port %d: %w", callbackPort, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, f.handleCallback)
	srv := &http.Server{Handler: mux}
	f.server = srv
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️ [codex] callback server: %v", err)
		}
	}()
	return nil
}

// Shutdown abandons pending sessions and closes the callback listener
// if one is running.
func (f *LoginFlow) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for state, s := range f.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(f.sessions, state)
	}
	f.closeListenerLocked()
}

// expire discards one session when its timer fires. The listener only
// serves pending logins, so it closes with the last one.
func (f *LoginFlow) expire(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[state]; !ok {
		return
	}
	delete(f.sessions, state)
	log.Printf("⏳ [codex] login session %s expired", state)
	if len(f.sessions) == 0 {
		f.closeListenerLocked()
	}
}

func (f *LoginFlow) closeListenerLocked() {
	if f.server != nil {
		_ = f.server.Close()
		f.server = nil
	}
}

func (f *LoginFlow) pruneLocked() {
	now := time.Now()
	for state, s := range f.sessions {
		if now.After(s.expires) {
			if s.timer != nil {
				s.timer.Stop()
			}
			delete(f.sessions, state)
		}
	}
}

// takeSession consumes the session for a state. Unknown or expired
// states fail the flow.
func (f *LoginFlow) takeSession(state string) (loginSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked()
	s, ok := f.sessions[state]
	if !ok {
		return loginSession{}, &upstream.Error{
			Kind:    upstream.KindOAuthState,
			Message: "unknown or expired OAuth state",
		}
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(f.sessions, state)
	return s, nil
}

func (f *LoginFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	cred, err := f.Complete(r.Context(), state, code)
	if err != nil {
		log.Printf("❌ [codex] login callback failed: %v", err)
		var ue *upstream.Error
		status := http.StatusInternalServerError
		if errors.As(err, &ue) {
			status = ue.HTTPStatus()
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h2>Login complete</h2><p>Credential %s (%s) saved. You can close this tab.</p></body></html>", cred.ID, cred.Email)
}

// Complete exchanges the authorization code and stores the credential.
// Split from the HTTP handler so tests can drive it directly.
func (f *LoginFlow) Complete(ctx context.Context, state, code string) (*models.Credential, error) {
	session, err := f.takeSession(state)
	if err != nil {
		return nil, err
	}

	tok, err := f.oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(session.verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	cred := &models.Credential{
		ID:           uuid.NewString(),
		Provider:     models.ProviderCodex,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		ExpiresAt:    tok.Expiry,
		IsActive:     true,
	}
	if claims, err := DecodeClaims(idToken); err == nil {
		cred.Email = claims.Email
		cred.AccountID = claims.AuthInfo.AccountID
		cred.Label = claims.Email
	}

	if err := f.db.Create(cred).Error; err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	log.Printf("✅ [codex] stored credential %s for %s", cred.ID, cred.Email)
	return cred, nil
}
