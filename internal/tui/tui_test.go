package tui

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jxwalker/modshelf/internal/catalog"
	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/config"
	"github.com/jxwalker/modshelf/internal/masonry"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	return testutil.Config(t, "gallery:\n  limit: 10\n  probe_concurrency: 2\n")
}

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(m *Model, s string) {
	for _, r := range s {
		m.Update(key(string(r)))
	}
}

// loaded builds a model over db and delivers the initial catalog load.
func loaded(t *testing.T, cfg *config.Config, db *state.DB, deps Deps) *Model {
	t.Helper()
	m := New(cfg, db, deps, "test")
	t.Cleanup(m.shutdown)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m.Update(m.loadLocalCmd()())
	return m
}

func rowLabels(rows []treeRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = strings.Repeat(" ", r.depth) + r.label
	}
	return out
}

func TestManager_SectionsFoldersFirst(t *testing.T) {
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "h1", "loras", "/m/loras", "zeta.safetensors")
	testutil.AddLocal(t, db, "h2", "loras", "/m/loras", "style/fox.safetensors")
	testutil.AddLocal(t, db, "h3", "checkpoints", "/m/ckpt", "base.safetensors")

	cfg := testConfig(t)
	cfg.UI.DefaultCategory = catalog.AllCategories
	m := loaded(t, cfg, db, Deps{})

	want := []string{"checkpoints", " base.safetensors", "loras", " style", "  fox.safetensors", " zeta.safetensors"}
	if got := rowLabels(m.mgr.rows); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("rows = %q, want %q", got, want)
	}

	// Searching clears the category tab; Esc restores it.
	m.Update(key("/"))
	typeText(m, "fox")
	snap := m.mgr.store.Snapshot()
	if snap.Category != "" || len(snap.Visible) != 1 {
		t.Fatalf("during search: category %q, %d visible", snap.Category, len(snap.Visible))
	}
	if len(m.mgr.rows) != 3 {
		t.Errorf("search rows = %q", rowLabels(m.mgr.rows))
	}
	m.Update(key("esc"))
	if snap := m.mgr.store.Snapshot(); snap.Category != catalog.AllCategories || len(snap.Visible) != 3 {
		t.Errorf("after esc: category %q, %d visible", snap.Category, len(snap.Visible))
	}
}

func TestManager_CategoryCycleAndCopy(t *testing.T) {
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "h1", "loras", "/m/loras", "a.safetensors")
	testutil.AddLocal(t, db, "h3", "checkpoints", "/m/ckpt", "b.safetensors")
	m := loaded(t, testConfig(t), db, Deps{})

	// Auto-selects the first category seen (checkpoints sort first in the catalog).
	if got := m.mgr.store.Snapshot().Category; got != "checkpoints" {
		t.Fatalf("initial category = %q", got)
	}
	m.Update(key("]"))
	if got := m.mgr.store.Snapshot().Category; got != "loras" {
		t.Fatalf("after ] category = %q", got)
	}
	m.Update(key("]"))
	if got := m.mgr.store.Snapshot().Category; got != catalog.AllCategories {
		t.Fatalf("wrap to all, got %q", got)
	}

	var copied string
	old := copyToClipboard
	copyToClipboard = func(s string) error { copied = s; return nil }
	defer func() { copyToClipboard = old }()
	m.mgr.selected = 1 // first leaf under the first section
	m.Update(key("h"))
	if copied != "h3" {
		t.Errorf("copied %q", copied)
	}
}

func TestManager_DetailOpensAndCloses(t *testing.T) {
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "abc123", "loras", "/m/loras", "fox.safetensors")
	m := loaded(t, testConfig(t), db, Deps{})
	m.mgr.selected = 1
	m.Update(key("enter"))
	if !m.mgr.detail {
		t.Fatal("detail not open")
	}
	if out := m.renderManager(); !strings.Contains(out, "abc123") || !strings.Contains(out, "not looked up") {
		t.Errorf("detail view:\n%s", out)
	}
	m.Update(key("esc"))
	if m.mgr.detail {
		t.Error("detail still open")
	}
}

// galleryServer serves one version per hash and a page of images per version.
func galleryServer(t *testing.T, delay map[string]time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v1/model-versions/by-hash/"):
			h := strings.TrimPrefix(r.URL.Path, "/api/v1/model-versions/by-hash/")
			time.Sleep(delay[h])
			id := map[string]int{"hash-a": 1, "hash-b": 2}[h]
			if id == 0 {
				http.NotFound(w, r)
				return
			}
			fmt.Fprintf(w, `{"id":%d,"modelId":9,"name":"v%d","model":{"name":"Fox"}}`, id, id)
		case r.URL.Path == "/api/v1/images":
			if r.URL.Query().Get("page") != "1" {
				fmt.Fprint(w, `{"items":[]}`)
				return
			}
			v := r.URL.Query().Get("modelVersionId")
			fmt.Fprintf(w, `{"items":[
				{"id":%[1]s01,"url":"https://img/%[1]s/1.jpeg","width":512,"height":768,"username":"alice","meta":{"prompt":"red fox, snow"}},
				{"id":%[1]s02,"url":"https://img/%[1]s/2.jpeg","width":512,"height":512,"username":"bob","meta":{"prompt":"cat"}},
				{"id":%[1]s03,"url":"https://img/%[1]s/v.mp4","type":"video","username":"carol","meta":{"prompt":"moving fox"}}
			]}`, v)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(cfg *config.Config, srv *httptest.Server) *civitai.Client {
	return civitai.New(cfg, civitai.WithBaseURL(srv.URL), civitai.WithHTTPClient(srv.Client()),
		civitai.WithRetry(0, time.Millisecond, time.Millisecond))
}

func TestGallery_FetchLayoutAndFilter(t *testing.T) {
	cfg := testConfig(t)
	srv := galleryServer(t, nil)
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "hash-a", "loras", "/m/loras", "fox.safetensors")
	m := loaded(t, cfg, db, Deps{Client: testClient(cfg, srv)})

	m.activeTab = tabGallery
	v := m.gal.locals[0]
	m.Update(m.openGallery(v)())

	snap := m.gal.store.Snapshot()
	if snap.Err != nil || len(snap.Items) != 3 {
		t.Fatalf("items %d, err %v", len(snap.Items), snap.Err)
	}
	if m.gal.version == nil || m.gal.version.ID != 1 {
		t.Fatalf("version = %+v", m.gal.version)
	}
	cards := m.gal.grid.Cards()
	if !cards[0].Placed || !cards[1].Placed || cards[2].Placed {
		t.Fatalf("placement = %+v", cards)
	}
	if !m.gal.failed[2] {
		t.Error("video without dimensions should be a failed measurement")
	}
	// Taller source image, taller card.
	if cards[0].Height <= cards[1].Height {
		t.Errorf("heights %d, %d", cards[0].Height, cards[1].Height)
	}

	// Filter to video: the only video failed measurement, so nothing is placed.
	m.Update(key("f")) // image
	m.Update(key("f")) // video
	if got := m.gal.store.Snapshot().Category; got != catalog.CategoryVideo {
		t.Fatalf("filter = %q", got)
	}
	for i, c := range m.gal.grid.Cards() {
		if c.Placed {
			t.Errorf("card %d placed under the video filter", i)
		}
	}
	m.Update(key("f")) // back to all
	if placed := m.gal.grid.Cards(); !placed[0].Placed || !placed[1].Placed {
		t.Error("cards not restored")
	}

	// Selection is recorded for the host.
	m.gal.selected = 1
	m.Update(key(" "))
	raw, err := db.Selection(SelectionNode)
	if err != nil || !strings.Contains(string(raw), `"id":"102"`) {
		t.Errorf("selection = %s, %v", raw, err)
	}

	if out := m.galleryDetail(snap.Items[0].Payload.(civitai.Image), 80); !strings.Contains(out, "red fox · snow") {
		t.Errorf("recipe detail:\n%s", out)
	}
}

func TestGallery_AnalysisPanel(t *testing.T) {
	cfg := testConfig(t)
	srv := galleryServer(t, nil)
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "hash-a", "loras", "/m/loras", "a.safetensors")
	testutil.AddLocal(t, db, "hash-b", "loras", "/m/loras", "b.safetensors")
	m := loaded(t, cfg, db, Deps{Client: testClient(cfg, srv)})
	m.activeTab = tabGallery
	byHash := map[string]*state.Version{}
	for _, v := range m.gal.locals {
		byHash[v.Hash] = v
	}

	if cmd := m.updateGallery(key("a")); cmd != nil {
		t.Fatal("analysis started without a model")
	}
	if last := m.toasts[len(m.toasts)-1].msg; !strings.Contains(last, "pick a model") {
		t.Errorf("toast = %q", last)
	}

	m.Update(m.openGallery(byHash["hash-a"])())
	cmd := m.updateGallery(key("a"))
	if cmd == nil || !m.gal.analyzing {
		t.Fatal("analysis not started")
	}
	m.Update(cmd())
	if !m.gal.analysis || m.gal.analyzing || m.gal.result.Images != 3 || m.gal.result.Cached {
		t.Fatalf("panel open %v, result %+v", m.gal.analysis, m.gal.result)
	}
	view := m.renderGallery()
	for _, want := range []string{"Fox • v1", "3 images with generation data", "red fox ×1", "Suggested settings"} {
		if !strings.Contains(view, want) {
			t.Errorf("panel missing %q:\n%s", want, view)
		}
	}

	m.Update(key("esc"))
	if m.gal.analysis {
		t.Fatal("esc did not close the panel")
	}
	m.Update(m.updateGallery(key("a"))())
	if !m.gal.analysis || !m.gal.result.Cached {
		t.Errorf("second analysis not served from cache: %+v", m.gal.result)
	}

	// A result for a model the gallery has left is dropped.
	m.Update(key("esc"))
	stale := m.updateGallery(key("a"))
	m.Update(m.openGallery(byHash["hash-b"])())
	m.Update(stale())
	if m.gal.analysis || m.gal.analyzing {
		t.Error("stale analysis opened the panel")
	}
}

func TestGallery_AnalysisNeedsCivitai(t *testing.T) {
	cfg := testConfig(t)
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "hash-a", "loras", "/m/loras", "a.safetensors")
	m := loaded(t, cfg, db, Deps{})
	m.activeTab = tabGallery
	m.gal.model = m.gal.locals[0]
	if cmd := m.updateGallery(key("a")); cmd != nil {
		t.Fatal("analysis started without a client")
	}
	if last := m.toasts[len(m.toasts)-1].msg; !strings.Contains(last, "disabled") {
		t.Errorf("toast = %q", last)
	}
}

func TestGallery_LaterFetchWins(t *testing.T) {
	cfg := testConfig(t)
	srv := galleryServer(t, map[string]time.Duration{"hash-a": 50 * time.Millisecond})
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "hash-a", "loras", "/m/loras", "a.safetensors")
	testutil.AddLocal(t, db, "hash-b", "loras", "/m/loras", "b.safetensors")
	m := loaded(t, cfg, db, Deps{Client: testClient(cfg, srv)})

	first := m.openGallery(m.gal.locals[0])
	second := m.openGallery(m.gal.locals[1])
	m.Update(second())
	m.Update(first()) // cancelled and stale

	snap := m.gal.store.Snapshot()
	if snap.Err != nil || len(snap.Items) != 3 || snap.Items[0].ID != "201" {
		t.Fatalf("items = %+v, err %v", snap.Items, snap.Err)
	}
	if m.gal.version.ID != 2 {
		t.Errorf("version = %d", m.gal.version.ID)
	}
}

func TestGallery_PickerRanksFuzzy(t *testing.T) {
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "h1", "loras", "/m/loras", "cat_ears.safetensors")
	testutil.AddLocal(t, db, "h2", "loras", "/m/loras", "fox_ears_v2.safetensors")
	m := loaded(t, testConfig(t), db, Deps{})

	m.Update(key("2"))
	if !m.gal.picking {
		t.Fatal("picker should open when no model is selected")
	}
	typeText(m, "fxv2")
	if len(m.gal.matches) != 1 || m.gal.matches[0].Hash != "h2" {
		t.Fatalf("matches = %v", m.gal.matches)
	}
	m.Update(key("esc"))
	if m.gal.picking {
		t.Error("picker still open")
	}
}

func TestMoveCard(t *testing.T) {
	cards := []masonry.Card{
		{Placed: true, Column: 0, Y: 0},
		{Placed: true, Column: 1, Y: 0},
		{Placed: false},
		{Placed: true, Column: 1, Y: 10},
		{Placed: true, Column: 0, Y: 12},
	}
	tests := []struct {
		cur  int
		dir  string
		want int
	}{
		{0, "right", 1},
		{1, "right", 3},
		{3, "left", 1},
		{0, "left", 0},
		{1, "down", 3},
		{3, "down", 3},
		{4, "up", 0},
		{2, "up", 0}, // not placed: first placed card
	}
	for _, tt := range tests {
		if got := moveCard(cards, tt.cur, tt.dir); got != tt.want {
			t.Errorf("moveCard(%d, %s) = %d, want %d", tt.cur, tt.dir, got, tt.want)
		}
	}
}

func TestDrawCards(t *testing.T) {
	cards := []masonry.Card{
		{Placed: true, X: 0, Y: 0, Height: 4},
		{Placed: true, X: 6, Y: 0, Height: 3},
		{Hidden: true},
	}
	lines := drawCards(cards, [][]string{{"hello"}, {"x"}}, 1, 5, 12, 4)
	want := []string{
		"┌───┐ ╔═══╗",
		"│he…│ ║x  ║",
		"│   │ ╚═══╝",
		"└───┘",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("canvas:\n%s\nwant:\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestCardRows(t *testing.T) {
	if got := cardRows(300, 150, 25); got != 25+3 {
		t.Errorf("portrait = %d", got)
	}
	if got := cardRows(1, 150, 25); got != 2+3 {
		t.Errorf("minimum = %d", got)
	}
}

func TestBrowser_SearchMarksLocalAndLoadsMore(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := r.URL.Query().Get("cursor")
		cursors = append(cursors, c)
		if c == "" {
			fmt.Fprint(w, `{"items":[{"id":1,"name":"Fox","type":"LORA","modelVersions":[{"id":11,"files":[{"hashes":{"SHA256":"HASH-A"}}]}]}],
				"metadata":{"nextCursor":"p2"}}`)
			return
		}
		fmt.Fprint(w, `{"items":[{"id":2,"name":"Base","type":"Checkpoint"}],"metadata":{}}`)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	db := testutil.DB(t)
	testutil.AddLocal(t, db, "hash-a", "loras", "/m/loras", "fox.safetensors")
	m := loaded(t, cfg, db, Deps{Client: testClient(cfg, srv)})

	m.Update(m.switchTab(tabBrowser)())
	snap := m.br.store.Snapshot()
	if len(snap.Visible) != 1 || !snap.Visible[0].Payload.(catalog.RemoteModel).Local {
		t.Fatalf("first page = %+v", snap.Visible)
	}
	if m.br.cursor != "p2" {
		t.Fatalf("cursor = %q", m.br.cursor)
	}
	m.Update(m.searchModelsCmd(true)())
	snap = m.br.store.Snapshot()
	if len(snap.Items) != 2 || snap.Items[1].Category != "checkpoints" {
		t.Fatalf("after more = %+v", snap.Items)
	}
	if m.br.cursor != "" || strings.Join(cursors, ",") != ",p2" {
		t.Errorf("cursor %q, requests %q", m.br.cursor, cursors)
	}
	if cmd := m.searchModelsCmd(true); cmd != nil {
		t.Error("no cursor left; load more should not fetch")
	}
}

func TestSettings_ToggleNetwork(t *testing.T) {
	cfg := testConfig(t)
	db := testutil.DB(t)
	m := loaded(t, cfg, db, Deps{Client: civitai.New(cfg)})
	m.activeTab = tabSettings

	m.Update(key("n"))
	if got := db.Network("com"); got != "work" {
		t.Fatalf("stored network = %q", got)
	}
	if got := m.deps.Client.BaseURL(); got != "https://civitai.work" {
		t.Errorf("client base = %q", got)
	}
	m.Update(key("n"))
	if got := db.Network("work"); got != "com" {
		t.Errorf("stored network = %q", got)
	}
}

func TestSettings_ClearProbeCache(t *testing.T) {
	pc, err := media.OpenMemoryCache(0)
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	if err := pc.Put("https://img/1.jpeg", media.Size{W: 1, H: 2}); err != nil {
		t.Fatal(err)
	}
	m := loaded(t, testConfig(t), testutil.DB(t), Deps{ProbeCache: pc})
	msg := m.clearCacheCmd(CacheProbe)()
	if cc := msg.(cacheClearedMsg); cc.err != nil {
		t.Fatalf("clear: %v", cc.err)
	}
	if n, _ := pc.Len(); n != 0 {
		t.Errorf("probe cache has %d entries", n)
	}
}

func TestGlobalKeys(t *testing.T) {
	m := loaded(t, testConfig(t), testutil.DB(t), Deps{})
	m.Update(key("?"))
	if !m.showHelp || !strings.Contains(m.View(), "Help (TUI)") {
		t.Fatal("help not shown")
	}
	m.Update(key("?"))
	m.Update(key("4"))
	if m.activeTab != tabSettings {
		t.Fatalf("tab = %d", m.activeTab)
	}
	m.Update(key("q"))
	if m.ctx.Err() != context.Canceled {
		t.Error("quit should cancel in-flight work")
	}
}

func TestTruncateMiddle(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijkl", 9, "abc...jkl"},
		{"abcdefghijkl", 5, "abcde"},
	}
	for _, tt := range tests {
		if got := truncateMiddle(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateMiddle(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
