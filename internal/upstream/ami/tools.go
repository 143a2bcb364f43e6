package ami

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	bashTimeout    = 2 * time.Minute
	maxToolOutput  = 64 * 1024
	maxReadLines   = 2000
	maxGlobMatches = 200
	maxGrepMatches = 200
)

// ToolExecutor runs the local tool calls the cloud agent requests over
// the bridge. Every failure is returned as a structured result so the
// agent sees the error text instead of a dropped call.
type ToolExecutor struct {
	// Root confines read/write/glob/grep to one directory tree.
	Root string
}

// NewToolExecutor rooted at dir; empty dir means the process working
// directory.
func NewToolExecutor(dir string) *ToolExecutor {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return &ToolExecutor{Root: dir}
}

// Execute dispatches one rpc_call. The result is always a JSON-friendly
// map; failures come back as the structured error envelope rather than
// crashing the session.
func (e *ToolExecutor) Execute(method string, params json.RawMessage) interface{} {
	var out interface{}
	var err error
	switch method {
	case "bash":
		out, err = e.bash(params)
	case "read":
		out, err = e.readFile(params)
	case "write":
		out, err = e.writeFile(params)
	case "glob":
		out, err = e.glob(params)
	case "grep":
		out, err = e.grep(params)
	default:
		return toolError("unknown_method", fmt.Sprintf("unknown tool %q", method))
	}
	if err != nil {
		return toolError(method, err.Error())
	}
	return out
}

// toolError is the failure envelope the cloud agent parses:
// {type:"error", error:{type, message}}.
func toolError(errType, message string) map[string]interface{} {
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}
}

// resolve joins a tool-supplied path against the root and rejects
// escapes above it.
func (e *ToolExecutor) resolve(path string) (string, error) {
	full := filepath.Join(e.Root, path)
	rel, err := filepath.Rel(e.Root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes workspace", path)
	}
	return full, nil
}

func (e *ToolExecutor) bash(params json.RawMessage) (interface{}, error) {
	var p struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad bash params: %w", err)
	}
	if p.Command == "" {
		return nil, fmt.Errorf("bash: empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), bashTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "bash", "-c", p.Command)
	cmd.Dir = e.Root
	output, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("bash: %w", err)
		}
	}
	return map[string]interface{}{
		"output":   clampOutput(string(output)),
		"exitCode": exitCode,
	}, nil
}

// readFile returns a bounded window of a file: offset is the first line
// returned (zero-based), limit the number of lines. Defaults read from
// the top, capped at maxReadLines.
func (e *ToolExecutor) readFile(params json.RawMessage) (interface{}, error) {
	var p struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad read params: %w", err)
	}
	full, err := e.resolve(p.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}

	lines := strings.Split(string(data), "\n")
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(lines) {
		offset = len(lines)
	}
	limit := p.Limit
	if limit <= 0 || limit > maxReadLines {
		limit = maxReadLines
	}
	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}
	return map[string]interface{}{
		"content":    clampOutput(strings.Join(lines[offset:end], "\n")),
		"totalLines": len(lines),
	}, nil
}

func (e *ToolExecutor) writeFile(params json.RawMessage) (interface{}, error) {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad write params: %w", err)
	}
	full, err := e.resolve(p.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.Path, err)
	}
	if err := os.WriteFile(full, []byte(p.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.Path, err)
	}
	return map[string]interface{}{"written": len(p.Content)}, nil
}

// glob walks the tree under path matching the pattern against each
// file's name and its root-relative path, capped at maxGlobMatches.
func (e *ToolExecutor) glob(params json.RawMessage) (interface{}, error) {
	var p struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad glob params: %w", err)
	}
	if _, err := filepath.Match(p.Pattern, ""); err != nil {
		return nil, fmt.Errorf("glob pattern %q: %w", p.Pattern, err)
	}
	start, err := e.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	matches := []string{}
	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(e.Root, path)
		if relErr != nil {
			return nil
		}
		byName, _ := filepath.Match(p.Pattern, d.Name())
		byPath, _ := filepath.Match(p.Pattern, rel)
		if byName || byPath {
			matches = append(matches, rel)
			if len(matches) >= maxGlobMatches {
				return fs.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("glob walk: %w", walkErr)
	}
	return map[string]interface{}{"matches": matches}, nil
}

func (e *ToolExecutor) grep(params json.RawMessage) (interface{}, error) {
	var p struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad grep params: %w", err)
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, fmt.Errorf("grep pattern %q: %w", p.Pattern, err)
	}
	start, err := e.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	var hits []map[string]interface{}
	walkErr := filepath.Walk(start, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		relPath, _ := filepath.Rel(e.Root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				hits = append(hits, map[string]interface{}{
					"file": relPath,
					"line": i + 1,
					"text": line,
				})
				if len(hits) >= maxGrepMatches {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("grep walk: %w", walkErr)
	}
	return map[string]interface{}{"matches": hits}, nil
}

func clampOutput(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	return s[:maxToolOutput] + "\n... [output truncated]"
}
