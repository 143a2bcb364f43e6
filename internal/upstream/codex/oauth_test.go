package codex

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/ami-nexus/internal/upstream"
)

func TestNewVerifierLengthAndAlphabet(t *testing.T) {
	v1, err := newVerifier()
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	// 96 raw bytes -> 128 base64url chars, no padding.
	if len(v1) != 128 {
		t.Errorf("verifier length = %d, want 128", len(v1))
	}
	if strings.ContainsAny(v1, "+/=") {
		t.Errorf("verifier contains non-url-safe characters: %q", v1)
	}
	v2, _ := newVerifier()
	if v1 == v2 {
		t.Error("verifiers should be unique")
	}
}

func TestCompleteUnknownStateRejected(t *testing.T) {
	f := NewLoginFlow(newTestDB(t))

	_, err := f.Complete(context.Background(), "never-issued", "code")
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.Kind != upstream.KindOAuthState {
		t.Fatalf("expected oauth_state_mismatch, got %v", err)
	}
}

func TestSessionConsumedOnce(t *testing.T) {
	f := NewLoginFlow(newTestDB(t))
	f.sessions["s1"] = loginSession{verifier: "v", expires: time.Now().Add(time.Minute)}

	if _, err := f.takeSession("s1"); err != nil {
		t.Fatalf("first take: %v", err)
	}
	if _, err := f.takeSession("s1"); err == nil {
		t.Error("second take of the same state should fail")
	}
}

func TestSessionExpires(t *testing.T) {
	f := NewLoginFlow(newTestDB(t))
	f.sessions["s1"] = loginSession{verifier: "v", expires: time.Now().Add(-time.Second)}

	_, err := f.takeSession("s1")
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.Kind != upstream.KindOAuthState {
		t.Fatalf("expired session should report state mismatch, got %v", err)
	}
}

func TestAuthCodeURLCarriesChallenge(t *testing.T) {
	f := NewLoginFlow(newTestDB(t))
	f.sessions["s"] = loginSession{verifier: "v", expires: time.Now().Add(time.Minute)}

	// Build the URL the same way Start does, without binding the
	// callback port.
	url := f.oauthCfg.AuthCodeURL("s")
	if !strings.Contains(url, "client_id="+clientID) {
		t.Errorf("auth URL missing client id: %s", url)
	}
	if !strings.Contains(url, "redirect_uri=") || !strings.Contains(url, "1455") {
		t.Errorf("auth URL missing fixed-port redirect: %s", url)
	}
}

func TestListenerClosesWithLastExpiredSession(t *testing.T) {
	f := NewLoginFlow(newTestDB(t))
	f.sessions["s1"] = loginSession{verifier: "v", expires: time.Now().Add(sessionTimeout)}
	f.sessions["s2"] = loginSession{verifier: "v", expires: time.Now().Add(sessionTimeout)}
	f.server = &http.Server{}

	f.expire("s1")
	if f.server == nil {
		t.Fatal("listener closed while a login was still pending")
	}
	f.expire("s2")
	if f.server != nil {
		t.Error("listener should close when the last pending login expires")
	}
	if len(f.sessions) != 0 {
		t.Errorf("expired sessions still tracked: %v", f.sessions)
	}

	// A stale timer firing for an already-consumed state is a no-op.
	f.expire("s1")
}
