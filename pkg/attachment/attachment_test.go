package attachment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"data:text/plain;base64,aGk=": KindData,
		"s3://bucket/key.txt":         KindS3,
		"http://example.com/a.png":    KindHTTP,
		"https://example.com/a.png":   KindHTTP,
		"resource+mcp://server/x":     KindMCPResource,
		"./relative/path.md":          KindFile,
		"/abs/path.md":                KindFile,
	}
	for uri, want := range cases {
		assert.Equal(t, want, Classify(uri), uri)
	}
}

func TestResolve_DataURI_Base64(t *testing.T) {
	r := NewResolver()
	parts, err := r.Resolve(context.Background(), "data:text/plain;base64,aGVsbG8=")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "hello", string(parts[0].Bytes))
	assert.Equal(t, "text/plain", parts[0].Mimetype)
}

func TestResolve_DataURI_Plain(t *testing.T) {
	r := NewResolver()
	parts, err := r.Resolve(context.Background(), "data:,hello%20world")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "hello%20world", string(parts[0].Bytes))
}

func TestResolve_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	r := NewResolver()
	parts, err := r.Resolve(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "hi", string(parts[0].Bytes))
	assert.Equal(t, "note.txt", parts[0].Title)
}

func TestResolve_FileGlobExpandsToMultipleParts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B"), 0o644))

	r := NewResolver()
	parts, err := r.Resolve(context.Background(), filepath.Join(dir, "*.txt"))
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestResolve_FileExpandsEnvVar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hi"), 0o644))
	t.Setenv("LECTIC_TEST_DIR", dir)

	r := NewResolver()
	parts, err := r.Resolve(context.Background(), "$LECTIC_TEST_DIR/note.txt")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "hi", string(parts[0].Bytes))
}

func TestResolve_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<h1>hi</h1>"))
	}))
	defer srv.Close()

	r := NewResolver()
	parts, err := r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "text/plain", parts[0].Mimetype, "text/* collapses to text/plain")
	assert.Equal(t, "<h1>hi</h1>", string(parts[0].Bytes))
}

type stubFetcher struct {
	parts []Part
}

func (s *stubFetcher) Fetch(ctx context.Context, uri string) ([]Part, error) {
	return s.parts, nil
}

func TestResolve_UnregisteredFetcherErrors(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "s3://bucket/key")
	assert.Error(t, err)
}

func TestResolve_RegisteredFetcherUsed(t *testing.T) {
	r := NewResolver()
	r.Register(KindS3, &stubFetcher{parts: []Part{{Bytes: []byte("x"), Mimetype: "text/plain"}}})
	parts, err := r.Resolve(context.Background(), "s3://bucket/key")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "x", string(parts[0].Bytes))
}

func TestNormalizeMimetype(t *testing.T) {
	assert.Equal(t, "application/octet-stream", normalizeMimetype(""))
	assert.Equal(t, "text/plain", normalizeMimetype("text/markdown"))
	assert.Equal(t, "image/png", normalizeMimetype("image/png"))
	assert.Equal(t, "text/plain", normalizeMimetype("text/plain; charset=utf-8"))
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := parseS3URI("s3://my-bucket/path/to/key.txt")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "path/to/key.txt", key)
}

func TestParseS3URI_Malformed(t *testing.T) {
	_, _, err := parseS3URI("s3://bucket-only")
	assert.Error(t, err)
}
