package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jxwalker/modshelf/internal/config"
	"github.com/jxwalker/modshelf/internal/state"
)

// Config parses a minimal config rooted in a temp dir, followed by extra YAML
// (top-level sections other than version and general).
func Config(t *testing.T, extra string) *config.Config {
	t.Helper()
	y := fmt.Sprintf("version: 1\ngeneral:\n  data_root: %q\n%s", t.TempDir(), extra)
	cfg, err := config.Parse([]byte(y))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

// DB opens a state database in a temp dir, closed when the test ends.
func DB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.OpenPath(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

// AddLocal records a scanned file at root/rel without touching the disk.
func AddLocal(t *testing.T, db *state.DB, hash, modelType, root, rel string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := db.UpsertLocalFile(state.LocalFile{
		Hash: hash, Path: p, Root: root, MTime: 1, Size: 1024, Name: filepath.Base(p), ModelType: modelType,
	}); err != nil {
		t.Fatal(err)
	}
	return p
}

// WriteModel writes content to dir/rel and returns the path and its SHA256.
func WriteModel(t *testing.T, dir, rel, content string) (string, string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte(content))
	return p, hex.EncodeToString(sum[:])
}

// MockHTTPServer serves canned responses keyed by path, or path?query when a
// more specific entry exists.
type MockHTTPServer struct {
	*httptest.Server
	mu        sync.Mutex
	responses map[string]MockResponse
	requests  []string
}

// MockResponse represents a canned HTTP response
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// NewMockHTTPServer starts a server that is closed when the test ends.
func NewMockHTTPServer(t *testing.T) *MockHTTPServer {
	t.Helper()
	ms := &MockHTTPServer{responses: make(map[string]MockResponse)}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		ms.mu.Lock()
		ms.requests = append(ms.requests, key)
		resp, ok := ms.responses[key]
		if !ok {
			resp, ok = ms.responses[r.URL.Path]
		}
		ms.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprintf(w, "No mock response configured for %s", key)
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = fmt.Fprint(w, resp.Body)
	}))
	t.Cleanup(ms.Close)
	return ms
}

// AddResponse adds a canned response for a path.
func (ms *MockHTTPServer) AddResponse(path string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[path] = response
}

// AddJSONResponse adds a JSON response for a path.
func (ms *MockHTTPServer) AddJSONResponse(path string, statusCode int, body string) {
	ms.AddResponse(path, MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// Requests returns the path?query of every request served so far.
func (ms *MockHTTPServer) Requests() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.requests...)
}
