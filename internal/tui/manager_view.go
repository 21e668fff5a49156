package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/jxwalker/modshelf/internal/catalog"
	"github.com/jxwalker/modshelf/internal/config"
	"github.com/jxwalker/modshelf/internal/hierarchy"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/scanner"
	"github.com/jxwalker/modshelf/internal/session"
	"github.com/jxwalker/modshelf/internal/state"
)

// treeRow is one line of the manager list: a category header, a folder or a model.
type treeRow struct {
	depth   int
	label   string
	folder  bool
	section bool
	count   int
	item    catalog.Item
}

// scanState is written by scanner goroutines and read on render.
type scanState struct {
	mu      sync.Mutex
	running bool
	enrich  bool
	p       scanner.Progress
}

func (s *scanState) start(enrich bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running, s.enrich, s.p = true, enrich, scanner.Progress{}
	return true
}

func (s *scanState) set(p scanner.Progress) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

func (s *scanState) stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *scanState) snapshot() (bool, scanner.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.p
}

type managerView struct {
	store     *session.Store
	rows      []treeRow
	selected  int
	offset    int
	searching bool
	input     textinput.Model
	detail    bool
	vp        viewport.Model
	scan      *scanState
}

func newManagerView(cfg *config.Config) managerView {
	opts := []session.Option{session.WithAutoSelectFirst()}
	if cfg.UI.DefaultCategory != "" {
		opts = append(opts, session.WithCategory(cfg.UI.DefaultCategory))
	}
	in := textinput.New()
	in.Placeholder = "name, civitai name or base model"
	in.Prompt = "/ "
	return managerView{
		store: session.New(opts...),
		input: in,
		vp:    viewport.New(80, 20),
		scan:  &scanState{},
	}
}

type localLoadedMsg struct {
	locals []*state.Version
	err    error
}

type scanDoneMsg struct {
	res *scanner.Result
	err error
}

func (m *Model) loadLocalCmd() tea.Cmd {
	st := m.st
	return func() tea.Msg {
		vs, err := st.LocalModels("")
		return localLoadedMsg{locals: vs, err: err}
	}
}

func (m *Model) onLocalLoaded(msg localLoadedMsg) tea.Cmd {
	if msg.err != nil {
		m.errorToast("load catalog", msg.err)
		return nil
	}
	items := catalog.FromLocalModels(msg.locals)
	m.mgr.store.Dispatch(session.SetItemsAction{Items: items})
	m.gal.locals = msg.locals
	counts := map[string]int{}
	for _, v := range msg.locals {
		counts[v.ModelType]++
	}
	for t, n := range counts {
		m.deps.Metrics.SetCatalogSize(t, n)
	}
	m.rebuildManager()
	return nil
}

// rebuildManager flattens the visible items into category sections, each an ordered
// folder tree.
func (m *Model) rebuildManager() {
	snap := m.mgr.store.Snapshot()
	hook := hierarchy.WithCollisionHook(func(path string) {
		m.log().Debugf("catalog: %q replaced an entry at the same path", path)
	})
	var rows []treeRow
	for _, sec := range hierarchy.Sections(snap.Visible, hook) {
		rows = append(rows, treeRow{label: sec.Category, folder: true, section: true, count: hierarchy.CountLeaves(sec.Root)})
		for e := range hierarchy.Order(sec.Root, hierarchy.WithLanguage(m.lang)) {
			rows = append(rows, treeRow{depth: e.Depth + 1, label: e.Key, folder: e.Kind == hierarchy.KindFolder, item: e.Item})
		}
	}
	m.mgr.rows = rows
	m.mgr.selected = clamp(m.mgr.selected, 0, len(rows)-1)
}

// managerCategories are the tab choices: "all" then every category present, sorted.
func managerCategories(items []catalog.Item) []string {
	cats := catalog.Categories(items)
	sort.Strings(cats)
	return append([]string{catalog.AllCategories}, cats...)
}

func cycle(options []string, current string, delta int) string {
	idx := 0
	for i, o := range options {
		if strings.EqualFold(o, current) {
			idx = i
			break
		}
	}
	n := len(options)
	return options[((idx+delta)%n+n)%n]
}

func (m *Model) selectedLocal() *state.Version {
	rows := m.mgr.rows
	if m.mgr.selected < 0 || m.mgr.selected >= len(rows) || rows[m.mgr.selected].folder {
		return nil
	}
	v, _ := rows[m.mgr.selected].item.Payload.(*state.Version)
	return v
}

func (m *Model) updateManager(msg tea.KeyMsg) tea.Cmd {
	if m.mgr.searching {
		return m.updateManagerSearch(msg)
	}
	s := msg.String()
	if m.mgr.detail {
		switch s {
		case "esc", "enter", "backspace":
			m.mgr.detail = false
			return nil
		case "j", "down":
			m.mgr.vp.LineDown(1)
			return nil
		case "k", "up":
			m.mgr.vp.LineUp(1)
			return nil
		case "pgdown", " ":
			m.mgr.vp.ViewDown()
			return nil
		case "pgup":
			m.mgr.vp.ViewUp()
			return nil
		}
	}
	switch s {
	case "j", "down":
		m.mgr.selected = clamp(m.mgr.selected+1, 0, len(m.mgr.rows)-1)
	case "k", "up":
		m.mgr.selected = clamp(m.mgr.selected-1, 0, len(m.mgr.rows)-1)
	case "home":
		m.mgr.selected = 0
	case "end":
		m.mgr.selected = max(0, len(m.mgr.rows)-1)
	case "enter":
		if v := m.selectedLocal(); v != nil {
			w, _ := m.bodySize()
			m.mgr.vp.SetContent(m.managerDetail(v, w-2))
			m.mgr.vp.GotoTop()
			m.mgr.detail = true
		}
	case "/":
		m.mgr.searching = true
		m.mgr.input.SetValue(m.mgr.store.Snapshot().Query)
		m.mgr.input.CursorEnd()
		return m.mgr.input.Focus()
	case "[", "]":
		delta := 1
		if s == "[" {
			delta = -1
		}
		snap := m.mgr.store.Snapshot()
		m.mgr.store.Dispatch(session.SetCategoryAction{Category: cycle(managerCategories(snap.Items), snap.Category, delta)})
		m.mgr.selected = 0
		m.rebuildManager()
	case "c":
		if v := m.selectedLocal(); v != nil {
			m.copy("trigger words", strings.Join(v.TrainedWords, ", "))
		}
	case "h":
		if v := m.selectedLocal(); v != nil {
			m.copy("SHA256", v.Hash)
		}
	case "g":
		if v := m.selectedLocal(); v != nil {
			m.mgr.detail = false
			m.activeTab = tabGallery
			return m.openGallery(v)
		}
	case "S":
		return m.scanCmd(false)
	case "E":
		return m.scanCmd(true)
	case "r":
		return m.loadLocalCmd()
	}
	return nil
}

func (m *Model) updateManagerSearch(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.mgr.searching = false
		m.mgr.input.Blur()
		m.mgr.input.SetValue("")
		m.mgr.store.Dispatch(session.SetQueryAction{Query: ""})
		m.rebuildManager()
		return nil
	case "enter", "ctrl+j":
		m.mgr.searching = false
		m.mgr.input.Blur()
		return nil
	}
	var cmd tea.Cmd
	m.mgr.input, cmd = m.mgr.input.Update(msg)
	if m.mgr.store.Dispatch(session.SetQueryAction{Query: m.mgr.input.Value()}) {
		m.mgr.selected = 0
		m.rebuildManager()
	}
	return cmd
}

func (m *Model) copy(what, s string) {
	if strings.TrimSpace(s) == "" {
		m.addToast(fmt.Sprintf("no %s to copy", what))
		return
	}
	if err := copyToClipboard(s); err != nil {
		m.errorToast("copy "+what, err)
		return
	}
	m.addToast(m.th.ok.Render("copied " + what))
}

func (m *Model) scanCmd(enrich bool) tea.Cmd {
	if m.deps.Scanner == nil {
		m.addToast("scanning is not available")
		return nil
	}
	if enrich && m.deps.Client == nil {
		m.addToast("civitai source disabled; scanning without lookups")
		enrich = false
	}
	if !m.mgr.scan.start(enrich) {
		m.addToast("a scan is already running")
		return nil
	}
	sc, ctx, st := m.deps.Scanner, m.ctx, m.mgr.scan
	opts := scanner.Options{Enrich: enrich, Progress: st.set}
	m.addToast("scan started")
	return func() tea.Msg {
		res, err := sc.Scan(ctx, opts)
		return scanDoneMsg{res: res, err: err}
	}
}

func (m *Model) onScanDone(msg scanDoneMsg) tea.Cmd {
	m.mgr.scan.stop()
	if msg.err != nil {
		m.errorToast("scan", msg.err)
		return m.loadLocalCmd()
	}
	r := msg.res
	summary := fmt.Sprintf("scan: %d files, %d hashed (%s), %d unchanged, %d removed",
		r.FilesScanned, r.FilesHashed, humanize.Bytes(uint64(r.BytesHashed)), r.FilesSkipped, r.FilesForgotten)
	if r.Enriched+r.NotFound > 0 {
		summary += fmt.Sprintf(", %d matched on civitai, %d unknown", r.Enriched, r.NotFound)
	}
	if len(r.Errors) > 0 {
		summary += m.th.bad.Render(fmt.Sprintf(", %d errors", len(r.Errors)))
	}
	m.addToast(summary)
	_ = m.deps.Metrics.Write()
	return m.loadLocalCmd()
}

func (m *Model) renderManager() string {
	if m.mgr.detail {
		return m.mgr.vp.View()
	}
	w, h := m.bodySize()
	snap := m.mgr.store.Snapshot()

	var sb strings.Builder
	var tabs []string
	for _, c := range managerCategories(snap.Items) {
		active := strings.EqualFold(c, snap.Category) || (c == catalog.AllCategories && snap.Category == "" && snap.Query == "")
		style := m.th.tabInactive
		if active {
			style = m.th.tabActive
		}
		tabs = append(tabs, style.Render(c))
	}
	sb.WriteString(strings.Join(tabs, " │ ") + "\n")

	switch {
	case m.mgr.searching:
		sb.WriteString(m.mgr.input.View() + "\n")
	case snap.Query != "":
		sb.WriteString(m.th.label.Render(fmt.Sprintf("search: %q • %d of %d", snap.Query, len(snap.Visible), len(snap.Items))) + "\n")
	default:
		line := fmt.Sprintf("%d models", len(snap.Visible))
		if running, p := m.mgr.scan.snapshot(); running {
			line = m.spin.View() + " " + scanLine(p)
		}
		sb.WriteString(m.th.label.Render(line) + "\n")
	}

	if len(m.mgr.rows) == 0 {
		if len(snap.Items) == 0 {
			sb.WriteString(m.th.label.Render("No models in the catalog yet. Press S to scan the configured roots."))
		} else {
			sb.WriteString(m.th.label.Render("Nothing matches."))
		}
		return sb.String()
	}

	avail := max(3, h-2)
	m.mgr.offset = scrollOffset(m.mgr.offset, m.mgr.selected, avail, len(m.mgr.rows))
	end := min(len(m.mgr.rows), m.mgr.offset+avail)
	for i := m.mgr.offset; i < end; i++ {
		sb.WriteString(m.renderTreeRow(m.mgr.rows[i], i == m.mgr.selected, w) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// scrollOffset keeps selected inside a window of height rows.
func scrollOffset(offset, selected, height, total int) int {
	if selected < offset {
		offset = selected
	}
	if selected >= offset+height {
		offset = selected - height + 1
	}
	return clamp(offset, 0, max(0, total-height))
}

func scanLine(p scanner.Progress) string {
	if p.Stage == "" {
		return "scanning..."
	}
	s := fmt.Sprintf("%s %d/%d", p.Stage, p.Done, p.Total)
	if p.Path != "" {
		s += " " + truncateMiddle(filepath.Base(p.Path), 40)
	}
	return s
}

func (m *Model) renderTreeRow(r treeRow, selected bool, width int) string {
	cursor := "  "
	if selected {
		cursor = "▶ "
	}
	indent := strings.Repeat("  ", r.depth)
	var line string
	switch {
	case r.section:
		line = m.th.head.Render(fmt.Sprintf("%s (%d)", strings.ToUpper(r.label), r.count))
	case r.folder:
		line = m.th.folder.Render(indent + "▸ " + r.label + "/")
	default:
		label := indent + r.label
		var extra string
		if v, ok := r.item.Payload.(*state.Version); ok {
			extra = joinNonEmpty(" • ", v.ModelName, v.BaseModel)
			switch {
			case !v.Checked():
				extra = joinNonEmpty(" • ", extra, "unchecked")
			case !v.Found():
				extra = joinNonEmpty(" • ", extra, "not on civitai")
			}
		}
		label = truncateMiddle(label, max(10, width-len(cursor)-len([]rune(extra))-3))
		style := m.th.row
		if selected {
			style = m.th.rowSelected
		}
		line = style.Render(label)
		if extra != "" {
			line += "  " + m.th.label.Render(extra)
		}
	}
	return cursor + line
}

func (m *Model) managerDetail(v *state.Version, width int) string {
	var sb strings.Builder
	field := func(k, val string) {
		if strings.TrimSpace(val) != "" {
			sb.WriteString(m.th.label.Render(k+": ") + val + "\n")
		}
	}
	sb.WriteString(m.th.head.Render(filepath.Base(v.LocalPath)) + "\n\n")
	field("Type", v.ModelType)
	field("Path", v.LocalPath)
	field("Size", humanize.Bytes(uint64(v.FileSize)))
	if v.LocalMTime > 0 {
		field("Modified", humanize.Time(time.Unix(int64(v.LocalMTime), 0)))
	}
	field("SHA256", v.Hash)
	switch {
	case !v.Checked():
		field("Civitai", "not looked up yet (E scans and looks hashes up)")
	case !v.Found():
		field("Civitai", "no version with this hash")
	default:
		field("Model", v.ModelName)
		field("Version", fmt.Sprintf("%s (%d)", v.Name, v.VersionID))
		field("Base model", v.BaseModel)
		if m.deps.Client != nil && v.ModelID != 0 {
			field("Page", m.deps.Client.ModelURL(v.ModelID))
		}
	}

	cover := scanner.CoverFor(v)
	switch cover.Kind {
	case scanner.CoverEmbedded:
		field("Cover", "embedded in the file header")
	case scanner.CoverFile:
		field("Cover", cover.Ref)
	case scanner.CoverRemote:
		field("Cover", cover.Ref+" (not downloaded)")
	default:
		field("Cover", "none")
	}

	if len(v.TrainedWords) > 0 {
		sb.WriteString("\n" + m.th.head.Render("Trigger words") + "\n")
		sb.WriteString(wrap(strings.Join(v.TrainedWords, ", "), width) + "\n")
	}
	if meta, err := media.SafetensorsMetadata(v.LocalPath); err == nil {
		if tags := media.TopTags(meta, 20); len(tags) > 0 {
			parts := make([]string, len(tags))
			for i, t := range tags {
				parts[i] = fmt.Sprintf("%s (%d)", t.Tag, t.Count)
			}
			sb.WriteString("\n" + m.th.head.Render("Training tags") + "\n")
			sb.WriteString(wrap(strings.Join(parts, ", "), width) + "\n")
		}
		if base := meta["ss_base_model_version"]; base != "" {
			field("Trained on", base)
		}
	}
	return sb.String()
}
