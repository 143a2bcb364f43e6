package ami

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func execTool(t *testing.T, e *ToolExecutor, method string, params interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	result, ok := e.Execute(method, data).(map[string]interface{})
	if !ok {
		t.Fatalf("tool %s returned non-map result", method)
	}
	return result
}

func TestToolWriteThenRead(t *testing.T) {
	e := NewToolExecutor(t.TempDir())

	out := execTool(t, e, "write", map[string]string{"path": "notes/a.txt", "content": "hello"})
	if out["error"] != nil {
		t.Fatalf("write failed: %v", out["error"])
	}

	out = execTool(t, e, "read", map[string]string{"path": "notes/a.txt"})
	if out["content"] != "hello" {
		t.Errorf("read back %q, want hello", out["content"])
	}
}

// requireToolError asserts the {type:"error", error:{type, message}}
// failure envelope and returns its inner error map.
func requireToolError(t *testing.T, out map[string]interface{}) map[string]interface{} {
	t.Helper()
	if out["type"] != "error" {
		t.Fatalf("result type = %v, want error envelope: %v", out["type"], out)
	}
	inner, ok := out["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("error payload is %T, want map", out["error"])
	}
	if inner["type"] == "" || inner["message"] == "" {
		t.Fatalf("error envelope missing type or message: %v", inner)
	}
	return inner
}

func TestToolPathEscapeRejected(t *testing.T) {
	e := NewToolExecutor(t.TempDir())
	out := execTool(t, e, "read", map[string]string{"path": "../../etc/passwd"})
	inner := requireToolError(t, out)
	if inner["type"] != "read" {
		t.Errorf("error type = %v, want read", inner["type"])
	}
}

func TestToolUnknownMethod(t *testing.T) {
	e := NewToolExecutor(t.TempDir())
	out := execTool(t, e, "launch_missiles", json.RawMessage(`{}`))
	inner := requireToolError(t, out)
	if inner["type"] != "unknown_method" {
		t.Errorf("error type = %v, want unknown_method", inner["type"])
	}
}

func TestToolReadOffsetAndLimit(t *testing.T) {
	e := NewToolExecutor(t.TempDir())
	execTool(t, e, "write", map[string]string{"path": "lines.txt", "content": "l0\nl1\nl2\nl3\nl4"})

	out := execTool(t, e, "read", map[string]interface{}{"path": "lines.txt", "offset": 1, "limit": 2})
	if out["content"] != "l1\nl2" {
		t.Errorf("windowed content = %q, want %q", out["content"], "l1\nl2")
	}
	if out["totalLines"] != 5 {
		t.Errorf("totalLines = %v, want 5", out["totalLines"])
	}

	// Offset past the end reads nothing rather than failing.
	out = execTool(t, e, "read", map[string]interface{}{"path": "lines.txt", "offset": 99})
	if out["content"] != "" {
		t.Errorf("past-end content = %q, want empty", out["content"])
	}
}

func TestToolBashCapturesExitCode(t *testing.T) {
	e := NewToolExecutor(t.TempDir())

	out := execTool(t, e, "bash", map[string]string{"command": "echo hi; exit 3"})
	if out["error"] != nil {
		t.Fatalf("bash failed: %v", out["error"])
	}
	if out["exitCode"] != 3 {
		t.Errorf("exitCode = %v, want 3", out["exitCode"])
	}
	if out["output"] != "hi\n" {
		t.Errorf("output = %q, want %q", out["output"], "hi\n")
	}
}

func TestToolGlobAndGrep(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte("package x\nfunc Match() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "y.txt"), []byte("nothing"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "z.go"), []byte("package z\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewToolExecutor(dir)

	// Glob matches by file name anywhere under the root.
	out := execTool(t, e, "glob", map[string]string{"pattern": "*.go"})
	matches, _ := out["matches"].([]string)
	want := map[string]bool{"x.go": true, filepath.Join("sub", "z.go"): true}
	if len(matches) != 2 || !want[matches[0]] || !want[matches[1]] {
		t.Errorf("glob matches = %v, want x.go and sub/z.go", out["matches"])
	}

	out = execTool(t, e, "grep", map[string]string{"pattern": "func Match", "path": "."})
	hits, _ := out["matches"].([]map[string]interface{})
	if len(hits) != 1 {
		t.Fatalf("grep hits = %v, want one", out["matches"])
	}
	if hits[0]["file"] != "x.go" || hits[0]["line"] != 2 {
		t.Errorf("unexpected grep hit: %v", hits[0])
	}
}
