// Package httpx holds the transport primitives shared by provider
// adapters: body decompression for received responses and gzip
// compression for providers that require compressed request bodies.
package httpx

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

// DefaultTimeout is the outbound HTTP timeout. Streaming responses can
// trickle for minutes, so this is generous but finite.
const DefaultTimeout = 5 * time.Minute

// NewClient returns the standard outbound client.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// BodyReader wraps resp.Body with the decoder matching its
// Content-Encoding. The caller still closes resp.Body; the returned
// reader need not be closed separately except when a close function is
// returned.
func BodyReader(resp *http.Response) (io.Reader, func(), error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case "br":
		return brotli.NewReader(resp.Body), func() {}, nil
	default:
		return resp.Body, func() {}, nil
	}
}

// GzipJSON marshals v and gzip-compresses the result, for providers that
// expect Content-Encoding: gzip request bodies.
func GzipJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("compress body: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("flush compressed body: %w", err)
	}
	return buf.Bytes(), nil
}
