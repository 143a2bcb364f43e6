package ami

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/ami-nexus/internal/config"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.AutoMigrate(&models.Credential{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func newTestProvider(t *testing.T, baseURL string) (*Provider, *gorm.DB) {
	t.Helper()
	database := newTestDB(t)
	retry := upstream.RetryPolicy{
		MaxRetries:  upstream.DefaultMaxRetries,
		BackoffStep: time.Millisecond,
		BackoffCap:  time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
	p := New(database, config.ProviderConfig{BaseURL: baseURL}, retry, upstream.NewFatalClassifier(nil), nil)
	return p, database
}

func TestStreamProvisionsThenChats(t *testing.T) {
	sawGzip := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/projects":
			json.NewEncoder(w).Encode(map[string]string{"id": "proj-1"})
		case "/api/v1/projects/proj-1/chats":
			json.NewEncoder(w).Encode(map[string]string{"id": "chat-1"})
		case "/api/v1/chats/chat-1/messages":
			if r.Header.Get("Content-Encoding") == "gzip" {
				zr, err := gzip.NewReader(r.Body)
				if err != nil {
					t.Errorf("gzip reader: %v", err)
					break
				}
				body, _ := io.ReadAll(zr)
				var payload map[string]interface{}
				if err := json.Unmarshal(body, &payload); err != nil {
					t.Errorf("request body not JSON after gunzip: %v", err)
				}
				sawGzip = payload["model"] == "ami-large"
			}
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"type\":\"start\",\"messageId\":\"m1\",\"model\":\"ami-large\"}\n\n")
			fmt.Fprint(w, "data: {\"type\":\"text-delta\",\"text\":\"hi\"}\n\n")
			fmt.Fprint(w, "data: {\"type\":\"finish\",\"finishReason\":\"stop\",\"usage\":{\"inputTokens\":3,\"outputTokens\":2}}\n\n")
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, database := newTestProvider(t, srv.URL)
	cred := &models.Credential{ID: "c1", Provider: models.ProviderAmi, SessionCookie: "s", IsActive: true}
	if err := database.Create(cred).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}

	var events []stream.Event
	err := p.Stream(context.Background(), cred, &upstream.ChatRequest{
		Model:    "ami-large",
		Messages: []upstream.Message{{Role: "user", Content: "hello"}},
	}, func(ev stream.Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if !sawGzip {
		t.Error("chat request body was not gzip-compressed JSON")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != stream.Start || events[0].MessageID != "m1" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[2].StopReason != "end_turn" {
		t.Errorf("expected end_turn, got %q", events[2].StopReason)
	}
	if events[2].Usage.InputTokens != 3 || events[2].Usage.OutputTokens != 2 {
		t.Errorf("usage not carried through: %+v", events[2].Usage)
	}

	var stored models.Credential
	if err := database.First(&stored, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if stored.ProjectID != "proj-1" || stored.ChatID != "chat-1" {
		t.Errorf("provisioning not persisted: project=%q chat=%q", stored.ProjectID, stored.ChatID)
	}
}

func TestStreamSkipsProvisioningWhenAlreadySet(t *testing.T) {
	provisionCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/projects" {
			provisionCalls++
			json.NewEncoder(w).Encode(map[string]string{"id": "p"})
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"finish\",\"finishReason\":\"stop\"}\n\n")
	}))
	defer srv.Close()

	p, database := newTestProvider(t, srv.URL)
	cred := &models.Credential{ID: "c2", Provider: models.ProviderAmi, SessionCookie: "s", ProjectID: "proj-9", ChatID: "chat-9", IsActive: true}
	if err := database.Create(cred).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}

	err := p.Stream(context.Background(), cred, &upstream.ChatRequest{Model: "ami-large"}, func(stream.Event) {})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if provisionCalls != 0 {
		t.Errorf("provisioning endpoints hit %d times for a provisioned credential", provisionCalls)
	}
}

func TestNormalizeVocabulary(t *testing.T) {
	p, _ := newTestProvider(t, "http://unused")

	cases := []struct {
		raw  rawEvent
		want stream.Type
	}{
		{rawEvent{Type: "start", MessageID: "m"}, stream.Start},
		{rawEvent{Type: "reasoning-start"}, stream.ReasoningStart},
		{rawEvent{Type: "reasoning-delta", Text: "up"}, stream.ReasoningDelta},
		{rawEvent{Type: "reasoning-end"}, stream.ReasoningEnd},
		{rawEvent{Type: "text-start"}, stream.TextStart},
		{rawEvent{Type: "text-delta", Text: "hi"}, stream.TextDelta},
		{rawEvent{Type: "text-end"}, stream.TextEnd},
		{rawEvent{Type: "tool-input", ToolID: "t1", ToolName: "bash"}, stream.ToolInput},
		{rawEvent{Type: "tool-output", ToolID: "t1"}, stream.ToolOutput},
		{rawEvent{Type: "finish", FinishReason: "stop"}, stream.Finish},
		{rawEvent{Type: "error", Message: "boom"}, stream.Error},
		{rawEvent{Type: "ping"}, stream.Ping},
	}
	for _, tc := range cases {
		ev, ok := p.normalize(tc.raw)
		if !ok {
			t.Errorf("event %q dropped", tc.raw.Type)
			continue
		}
		if ev.Type != tc.want {
			t.Errorf("event %q normalized to %q, want %q", tc.raw.Type, ev.Type, tc.want)
		}
	}

	if _, ok := p.normalize(rawEvent{Type: "future-thing"}); ok {
		t.Error("unknown event type should be dropped")
	}
}

func TestNormalizeErrorFatalClassification(t *testing.T) {
	p, _ := newTestProvider(t, "http://unused")

	ev, _ := p.normalize(rawEvent{Type: "error", Message: "Quota exceeded for this account"})
	if !ev.Fatal {
		t.Error("quota exceeded should classify as fatal")
	}
	ev, _ = p.normalize(rawEvent{Type: "error", Message: "temporary hiccup"})
	if ev.Fatal {
		t.Error("transient error should not classify as fatal")
	}
}

func TestStreamEstablishesBridgeOnFirstUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"finish\",\"finishReason\":\"stop\"}\n\n")
	}))
	defer srv.Close()

	fc := newFakeCloud(t, nil)
	pool := NewBridgePool(fc.wsURL(), NewToolExecutor(t.TempDir()))
	defer pool.StopAll()

	p, database := newTestProvider(t, srv.URL)
	p.bridges = pool
	cred := &models.Credential{
		ID: "c3", Provider: models.ProviderAmi, SessionCookie: "s",
		BridgeToken: "tok", ProjectID: "proj-9", ChatID: "chat-9", IsActive: true,
	}
	if err := database.Create(cred).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}

	if err := p.Stream(context.Background(), cred, &upstream.ChatRequest{Model: "ami-large"}, func(stream.Event) {}); err != nil {
		t.Fatalf("stream: %v", err)
	}

	// The chat path itself dialed and authenticated the bridge.
	b, err := pool.Get(context.Background(), cred)
	if err != nil {
		t.Fatalf("pool get: %v", err)
	}
	if !b.Alive() {
		t.Error("bridge not alive after first chat")
	}
	resolved, ok := b.resolveProjectPath([]byte(`{"projectId":"proj-9"}`)).(map[string]interface{})
	if !ok || resolved["path"] == nil {
		t.Errorf("project binding not registered by chat path: %v", resolved)
	}
}

func TestStreamWithoutBridgeTokenSkipsBridge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"finish\",\"finishReason\":\"stop\"}\n\n")
	}))
	defer srv.Close()

	pool := NewBridgePool("ws://127.0.0.1:1/unreachable", NewToolExecutor(t.TempDir()))
	p, database := newTestProvider(t, srv.URL)
	p.bridges = pool
	cred := &models.Credential{ID: "c4", Provider: models.ProviderAmi, SessionCookie: "s", ProjectID: "p", ChatID: "c", IsActive: true}
	if err := database.Create(cred).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}

	if err := p.Stream(context.Background(), cred, &upstream.ChatRequest{Model: "ami-large"}, func(stream.Event) {}); err != nil {
		t.Fatalf("stream should not touch the bridge without a token: %v", err)
	}
}
