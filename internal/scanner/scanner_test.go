package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/config"
	"github.com/jxwalker/modshelf/internal/lockfile"
	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/util"
)

// setupTestDB creates a temporary test database
func setupTestDB(t testing.TB) *state.DB {
	t.Helper()
	db, err := state.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// createTestFile writes content to dir/name, creating parents.
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create file %s: %v", path, err)
	}
	return path
}

func testConfig(t testing.TB, roots map[string][]string) *config.Config {
	t.Helper()
	cfg := &config.Config{Version: 1, General: config.General{DataRoot: t.TempDir()}}
	cfg.Models.Roots = roots
	return cfg
}

func sha(t testing.TB, path string) string {
	t.Helper()
	h, _, err := util.HashFileSHA256(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestScan_HashesThenSkipsUnchanged(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	a := createTestFile(t, dir, "a.safetensors", "alpha")
	createTestFile(t, dir, "style/b.safetensors", "beta")
	createTestFile(t, dir, "README.md", "ignored")

	s := New(db, testConfig(t, map[string][]string{"loras": {dir}}))
	res, err := s.Scan(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.FilesScanned != 2 || res.FilesHashed != 2 || res.FilesSkipped != 0 || res.BytesHashed != 9 {
		t.Fatalf("first scan = %+v", res)
	}
	v, err := db.VersionByHash(sha(t, a))
	if err != nil || v == nil || v.LocalPath != a || v.ModelType != "loras" || v.LocalRoot != dir {
		t.Fatalf("row for a = %+v, %v", v, err)
	}

	res, _ = s.Scan(context.Background(), Options{})
	if res.FilesHashed != 0 || res.FilesSkipped != 2 {
		t.Fatalf("second scan = %+v", res)
	}

	// Changed contents and mtime: rehashed under the new hash.
	if err := os.WriteFile(a, []byte("alpha2"), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(a, later, later); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Scan(context.Background(), Options{})
	if res.FilesHashed != 1 || res.FilesSkipped != 1 {
		t.Fatalf("third scan = %+v", res)
	}
	if v, _ := db.VersionByPath(a); v == nil || v.Hash != sha(t, a) {
		t.Fatalf("path not moved to new hash: %+v", v)
	}

	if err := os.Remove(a); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Scan(context.Background(), Options{})
	if res.FilesForgotten != 1 {
		t.Fatalf("fourth scan = %+v", res)
	}
	models, _ := db.LocalModels("loras")
	if len(models) != 1 {
		t.Fatalf("expected 1 local model, got %d", len(models))
	}
}

func TestScan_ForceAndRehash(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	createTestFile(t, dir, "a.ckpt", "a")
	createTestFile(t, dir, "b.ckpt", "b")
	s := New(db, testConfig(t, map[string][]string{"checkpoints": {dir}}), WithWorkers(2))
	if _, err := s.Scan(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		opts Options
		want int
	}{
		{"plain", Options{}, 0},
		{"force", Options{Force: true}, 2},
		{"rehash", Options{Rehash: true}, 2},
		{"other type only", Options{Types: []string{"loras"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Scan(context.Background(), tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if res.FilesHashed != tt.want {
				t.Fatalf("hashed %d, want %d", res.FilesHashed, tt.want)
			}
		})
	}
}

func TestScan_UnsortedClassified(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	lora := createTestFile(t, dir, "fox_lora.safetensors", "x")
	createTestFile(t, dir, "mystery.bin", strings.Repeat("y", 10))
	cfg := testConfig(t, nil)
	cfg.Models.Unsorted = []string{dir}

	res, err := New(db, cfg).Scan(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	// mystery.bin is a small pickle, so it is taken for an embedding
	if res.FilesHashed != 2 {
		t.Fatalf("result = %+v", res)
	}
	if v, _ := db.VersionByPath(lora); v == nil || v.ModelType != "loras" {
		t.Fatalf("lora row = %+v", v)
	}
}

func TestScan_MissingRootReported(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t, map[string][]string{"vae": {filepath.Join(t.TempDir(), "nope")}})
	res, err := New(db, cfg).Scan(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestScan_UnreadableRootKeepsRows(t *testing.T) {
	db := setupTestDB(t)
	mounted := t.TempDir()
	drive := filepath.Join(t.TempDir(), "drive")
	a := createTestFile(t, mounted, "a.safetensors", "alpha")
	b := createTestFile(t, drive, "b.safetensors", "beta")
	s := New(db, testConfig(t, map[string][]string{"loras": {mounted, drive}}))
	if res, err := s.Scan(context.Background(), Options{}); err != nil || res.FilesHashed != 2 {
		t.Fatalf("first scan = %+v, %v", res, err)
	}

	// The drive goes away; b must keep its path until the root is readable again.
	if err := os.RemoveAll(drive); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(a); err != nil {
		t.Fatal(err)
	}
	res, err := s.Scan(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesForgotten != 0 || len(res.Kept) != 1 || res.Kept[0] != "loras" || len(res.Errors) != 1 {
		t.Fatalf("scan with missing root = %+v", res)
	}
	if v, _ := db.VersionByPath(b); v == nil {
		t.Fatal("row for the unreadable root was forgotten")
	}

	// Once every root reads again, missing files are forgotten as usual.
	if err := os.MkdirAll(drive, 0o755); err != nil {
		t.Fatal(err)
	}
	res, err = s.Scan(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesForgotten != 2 || len(res.Kept) != 0 {
		t.Fatalf("scan with roots back = %+v", res)
	}
}

func TestScan_HeldLock(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t, map[string][]string{})
	l, err := lockfile.Acquire(LockPath(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()
	if _, err := New(db, cfg).Scan(context.Background(), Options{}); !errors.Is(err, lockfile.ErrLocked) {
		t.Fatalf("Scan with held lock = %v", err)
	}
}

func TestScan_Cancelled(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	createTestFile(t, dir, "a.safetensors", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(db, testConfig(t, map[string][]string{"loras": {dir}})).Scan(ctx, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func pngBody(t testing.TB) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestScan_EnrichAndCovers(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	known := createTestFile(t, dir, "known.safetensors", "known")
	unknown := createTestFile(t, dir, "unknown.safetensors", "unknown")
	knownHash := sha(t, known)

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/model-versions/by-hash/"+knownHash:
			fmt.Fprintf(w, `{"id":77,"modelId":7,"name":"v1","baseModel":"SDXL 1.0","trainedWords":["fox ears"],
				"model":{"name":"Fox","type":"LORA"},
				"images":[{"url":"%s/img/nsfw.png","nsfwLevel":8},{"url":"%s/img/safe.png","nsfwLevel":1}]}`, srvURL, srvURL)
		case strings.HasPrefix(r.URL.Path, "/api/v1/model-versions/by-hash/"):
			http.NotFound(w, r)
		case r.URL.Path == "/img/safe.png":
			w.Write(pngBody(t))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	client := civitai.New(nil, civitai.WithBaseURL(srv.URL), civitai.WithHTTPClient(srv.Client()))
	s := New(db, testConfig(t, map[string][]string{"loras": {dir}}), WithClient(client))
	res, err := s.Scan(context.Background(), Options{Enrich: true, Covers: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Enriched != 1 || res.NotFound != 1 || res.CoversDownloaded != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}

	v, _ := db.VersionByHash(knownHash)
	if v.ModelName != "Fox" || v.VersionID != 77 || v.BaseModel != "SDXL 1.0" {
		t.Fatalf("enriched row = %+v", v)
	}
	nf, _ := db.VersionByPath(unknown)
	if !nf.Checked() || nf.Found() {
		t.Fatalf("unknown row = %+v", nf)
	}

	c := CoverFor(v)
	if c.Kind != CoverFile || c.Ref != filepath.Join(dir, "known.png") {
		t.Fatalf("cover after download = %+v", c)
	}
	if CoverFor(nf).Kind != CoverNone {
		t.Fatal("unknown model should have no cover")
	}

	// Nothing left to look up or download.
	res, _ = s.Scan(context.Background(), Options{Enrich: true, Covers: true})
	if res.Enriched+res.NotFound+res.CoversDownloaded != 0 {
		t.Fatalf("rescan did work again: %+v", res)
	}
}

func TestCoverFor_RemoteWhenNothingLocal(t *testing.T) {
	v := &state.Version{
		VersionID:   1,
		LocalPath:   filepath.Join(t.TempDir(), "m.safetensors"),
		APIResponse: `{"id":1,"images":[{"url":"https://x/v.mp4","type":"video"},{"url":"https://x/1.jpeg","nsfw":"X"}]}`,
	}
	c := CoverFor(v)
	if c.Kind != CoverRemote || c.Ref != "https://x/1.jpeg" {
		t.Fatalf("cover = %+v", c)
	}
}

func BenchmarkScan_Unchanged(b *testing.B) {
	db := setupTestDB(b)
	dir := b.TempDir()
	for i := 0; i < 200; i++ {
		createTestFile(b, dir, fmt.Sprintf("sub%d/model_%d.safetensors", i%10, i), fmt.Sprint(i))
	}
	s := New(db, testConfig(b, map[string][]string{"loras": {dir}}))
	if _, err := s.Scan(context.Background(), Options{}); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := s.Scan(context.Background(), Options{})
		if err != nil {
			b.Fatal(err)
		}
		if res.FilesSkipped != 200 {
			b.Fatalf("skipped %d", res.FilesSkipped)
		}
	}
}
