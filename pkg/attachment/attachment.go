// Package attachment classifies and resolves link URIs found in a
// document body into concrete byte parts (§3 Link / Attachment /
// Attachment Part).
package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a link URI.
type Kind int

const (
	KindFile Kind = iota
	KindHTTP
	KindData
	KindS3
	KindMCPResource
)

// Part is one resolved chunk of attachment content (§3).
type Part struct {
	Bytes          []byte
	Mimetype       string
	Title          string
	URI            string
	FragmentParams map[string]string
}

// Classify identifies which Kind a raw link URI belongs to, per §3: local
// file (with "$VAR" env-var expansion), http(s), "data:", "s3:", or an
// MCP resource scheme ("SCHEME+uri").
func Classify(uri string) Kind {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return KindData
	case strings.HasPrefix(uri, "s3:"):
		return KindS3
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return KindHTTP
	case strings.Contains(uri, "+"):
		before, _, ok := strings.Cut(uri, "+")
		if ok && isSchemeWord(before) {
			return KindMCPResource
		}
		return KindFile
	default:
		return KindFile
	}
}

func isSchemeWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}

// Fetcher resolves one non-local-file attachment kind. Registered fetchers
// let pkg/tool/mcp (for MCP resource URIs) and an S3 client plug into
// resolution without this package depending on them directly.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]Part, error)
}

// Resolver resolves link URIs to Parts, expanding globs for local files
// and delegating other schemes to registered Fetchers.
type Resolver struct {
	HTTPClient *http.Client
	Fetchers   map[Kind]Fetcher
}

// NewResolver returns a Resolver with a sane default HTTP client.
func NewResolver() *Resolver {
	return &Resolver{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Fetchers:   map[Kind]Fetcher{},
	}
}

// Register installs a Fetcher for a non-file, non-http, non-data Kind
// (KindS3, KindMCPResource).
func (r *Resolver) Register(kind Kind, f Fetcher) {
	r.Fetchers[kind] = f
}

// Resolve classifies uri and returns its resolved Parts. A local-file URI
// may be a glob, in which case each match yields its own Part.
func (r *Resolver) Resolve(ctx context.Context, uri string) ([]Part, error) {
	switch Classify(uri) {
	case KindData:
		return resolveData(uri)
	case KindHTTP:
		return r.resolveHTTP(ctx, uri)
	case KindFile:
		return resolveFile(uri)
	default:
		k := Classify(uri)
		f, ok := r.Fetchers[k]
		if !ok {
			return nil, fmt.Errorf("attachment: no fetcher registered for %q", uri)
		}
		return f.Fetch(ctx, uri)
	}
}

func resolveData(uri string) ([]Part, error) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("attachment: malformed data URI")
	}
	mimetype := "text/plain"
	isBase64 := strings.HasSuffix(meta, ";base64")
	metaType := strings.TrimSuffix(meta, ";base64")
	if metaType != "" {
		mimetype = metaType
	}
	var bytes []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("attachment: decode data URI: %w", err)
		}
		bytes = decoded
	} else {
		bytes = []byte(payload)
	}
	return []Part{{Bytes: bytes, Mimetype: normalizeMimetype(mimetype), URI: uri}}, nil
}

func (r *Resolver) resolveHTTP(ctx context.Context, uri string) ([]Part, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("attachment: build request: %w", err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment: fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("attachment: fetch %s: status %d", uri, resp.StatusCode)
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("attachment: read %s: %w", uri, err)
	}
	mimetype := resp.Header.Get("Content-Type")
	if mimetype == "" {
		mimetype = mime.TypeByExtension(filepath.Ext(uri))
	}
	return []Part{{Bytes: buf, Mimetype: normalizeMimetype(mimetype), URI: uri, Title: filepath.Base(uri)}}, nil
}

// resolveFile expands $VAR-style env vars and glob patterns, then reads
// each matched file.
func resolveFile(uri string) ([]Part, error) {
	expanded := os.Expand(uri, os.Getenv)
	matches, err := filepath.Glob(expanded)
	if err != nil {
		return nil, fmt.Errorf("attachment: glob %s: %w", expanded, err)
	}
	if matches == nil {
		matches = []string{expanded}
	}
	var parts []Part
	for _, path := range matches {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("attachment: read %s: %w", path, err)
		}
		mimetype := mime.TypeByExtension(filepath.Ext(path))
		parts = append(parts, Part{
			Bytes:    buf,
			Mimetype: normalizeMimetype(mimetype),
			Title:    filepath.Base(path),
			URI:      path,
		})
	}
	return parts, nil
}

// normalizeMimetype collapses any "text/*" mimetype to "text/plain" and
// defaults an empty mimetype to "application/octet-stream" (§3 Tool Call
// Result carries the same text/* collapsing rule).
func normalizeMimetype(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return "application/octet-stream"
	}
	if semi := strings.IndexByte(m, ';'); semi >= 0 {
		m = m[:semi]
	}
	if strings.HasPrefix(m, "text/") {
		return "text/plain"
	}
	return m
}
