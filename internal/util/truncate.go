package util

import "fmt"

// DefaultLogMaxLen bounds verbose log output (1KB). Full request and
// response bodies are retained by the monitor, not the log stream.
const DefaultLogMaxLen = 1024

// TruncateLog shortens s for logging, appending the original size so
// diagnostics stay useful.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is a []byte convenience wrapper using DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
