package ami

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	bridgeConnectTimeout = 10 * time.Second
	bridgeWriteTimeout   = 10 * time.Second
)

// frame is one websocket message on the daemon bridge. Every frame is
// discriminated by its _tag field.
type frame struct {
	Tag    string          `json:"_tag"`
	Token  string          `json:"token,omitempty"`
	Status string          `json:"status,omitempty"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result interface{}     `json:"result,omitempty"`
}

// Bridge is one authenticated daemon connection to Ami's cloud side. The
// cloud agent issues rpc_call frames and the bridge answers each with an
// rpc_result carrying the tool output.
type Bridge struct {
	conn     *websocket.Conn
	credID   string
	token    string
	executor *ToolExecutor

	mu            sync.Mutex
	authenticated bool
	closed        bool
	projects      map[string]string // projectID -> local working directory
	ready         chan struct{}     // closed once auth_success arrives
	done          chan struct{}
}

// DialBridge connects, runs the server-driven auth handshake, and
// returns only once the bridge is authenticated: the server sends
// auth_required, we answer with the credential's bridge token, and on
// auth_success we announce presence and resolve. If no auth_success
// arrives within the connect timeout (default 10s) the socket is closed
// and the dial reports failure instead of handing back a half-open
// bridge.
func DialBridge(ctx context.Context, url, credID, token string, executor *ToolExecutor) (*Bridge, error) {
	dialer := websocket.Dialer{HandshakeTimeout: bridgeConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("bridge dial %s: %w", url, err)
	}

	b := &Bridge{
		conn:     conn,
		credID:   credID,
		token:    token,
		executor: executor,
		projects: make(map[string]string),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.readLoop()

	timer := time.NewTimer(bridgeConnectTimeout)
	defer timer.Stop()
	select {
	case <-b.ready:
		return b, nil
	case <-b.done:
		return nil, fmt.Errorf("bridge %s: connection closed before auth_success", credID)
	case <-ctx.Done():
		b.Close()
		return nil, fmt.Errorf("bridge %s: %w", credID, ctx.Err())
	case <-timer.C:
		b.Close()
		return nil, fmt.Errorf("bridge %s: no auth_success within %s", credID, bridgeConnectTimeout)
	}
}

// Alive reports whether the bridge is still usable: connected and past
// the auth handshake.
func (b *Bridge) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.authenticated
}

// RegisterProject binds a provider-side project id to a local working
// directory for path-resolution RPCs. An empty dir binds the executor's
// workspace root. Only the request path owning the credential calls
// this.
func (b *Bridge) RegisterProject(projectID, dir string) {
	if projectID == "" {
		return
	}
	if dir == "" {
		dir = b.executor.Root
	}
	b.mu.Lock()
	b.projects[projectID] = dir
	b.mu.Unlock()
}

// Close tears down the connection. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.conn.Close()
}

func (b *Bridge) readLoop() {
	defer close(b.done)
	defer b.Close()
	for {
		var f frame
		if err := b.conn.ReadJSON(&f); err != nil {
			b.mu.Lock()
			wasClosed := b.closed
			b.mu.Unlock()
			if !wasClosed {
				log.Printf("⚠️ [ami] bridge %s read loop ended: %v", b.credID, err)
			}
			return
		}
		b.handle(f)
	}
}

func (b *Bridge) handle(f frame) {
	switch f.Tag {
	case "auth_required":
		if err := b.write(frame{Tag: "auth", Token: b.token}); err != nil {
			log.Printf("❌ [ami] bridge %s auth send failed: %v", b.credID, err)
		}
	case "auth_success":
		b.mu.Lock()
		first := !b.authenticated
		b.authenticated = true
		b.mu.Unlock()
		if first {
			close(b.ready)
		}
		log.Printf("✅ [ami] bridge %s authenticated", b.credID)
		if err := b.write(frame{Tag: "presence", Status: "online"}); err != nil {
			log.Printf("❌ [ami] bridge %s presence send failed: %v", b.credID, err)
		}
	case "rpc_call":
		// Tool calls can block (bash especially), so each runs in its
		// own goroutine; the write lock serializes results on the wire.
		go b.serveRPC(f)
	case "ping":
		_ = b.write(frame{Tag: "pong"})
	default:
		log.Printf("⚠️ [ami] bridge %s unknown frame tag %q", b.credID, f.Tag)
	}
}

// serveRPC answers one rpc_call, correlated solely by echoing the
// request id. Binding-state methods are served from the bridge itself;
// everything else is a tool invocation.
func (b *Bridge) serveRPC(f frame) {
	var result interface{}
	switch f.Method {
	case "resolveProjectPath":
		result = b.resolveProjectPath(f.Params)
	case "listCancellableOperations":
		// Nothing the daemon runs is cancellable from the cloud side.
		result = map[string]interface{}{"operations": []interface{}{}}
	default:
		result = b.executor.Execute(f.Method, f.Params)
	}
	if err := b.write(frame{Tag: "rpc_result", ID: f.ID, Result: result}); err != nil {
		log.Printf("❌ [ami] bridge %s rpc_result send failed: %v", b.credID, err)
	}
}

func (b *Bridge) resolveProjectPath(params json.RawMessage) interface{} {
	var p struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return toolError("resolveProjectPath", fmt.Sprintf("bad params: %v", err))
	}
	b.mu.Lock()
	dir, ok := b.projects[p.ProjectID]
	b.mu.Unlock()
	if !ok {
		return toolError("resolveProjectPath", fmt.Sprintf("no binding for project %q", p.ProjectID))
	}
	return map[string]interface{}{
		"path":          dir,
		"isGitWorkTree": isGitWorkTree(dir),
	}
}

// isGitWorkTree detects a version-controlled working tree. Linked
// worktrees carry a .git file rather than a directory, so a bare Stat
// covers both.
func isGitWorkTree(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func (b *Bridge) write(f frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bridge closed")
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
	return b.conn.WriteJSON(f)
}
