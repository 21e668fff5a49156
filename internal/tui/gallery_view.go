package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/jxwalker/modshelf/internal/catalog"
	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/config"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/masonry"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/metrics"
	"github.com/jxwalker/modshelf/internal/recipe"
	"github.com/jxwalker/modshelf/internal/session"
	"github.com/jxwalker/modshelf/internal/state"
)

// SelectionNode is the consumer key gallery selections are stored under.
const SelectionNode = "gallery"

var galleryFilters = []string{catalog.AllCategories, catalog.CategoryImage, catalog.CategoryVideo}

type galleryView struct {
	store  *session.Store
	grid   *masonry.Grid
	failed []bool
	labels [][]string
	cellW  int // card width in cells
	gap    int
	pxW    int // card width in pixels the measurements are scaled to

	model   *state.Version
	version *civitai.ModelVersion
	locals  []*state.Version

	picking bool
	picker  textinput.Model
	matches []*state.Version
	pickSel int
	pickOff int

	searching bool
	input     textinput.Model

	selected int // index into the store's items
	detail   bool
	vp       viewport.Model // card canvas
	dvp      viewport.Model // recipe popup

	analysis  bool // analysis panel open
	analyzing bool
	result    recipe.Analysis
	avp       viewport.Model
}

func newGalleryView(cfg *config.Config, mm *metrics.Manager) galleryView {
	cellW := max(8, cfg.Gallery.CardWidth/6)
	gap := max(1, cfg.Gallery.Gap/4)
	filter := strings.ToLower(cfg.Gallery.FilterType)
	if filter == "" {
		filter = catalog.AllCategories
	}
	pk := textinput.New()
	pk.Placeholder = "model file name"
	pk.Prompt = "model> "
	in := textinput.New()
	in.Placeholder = "prompt or username"
	in.Prompt = "/ "
	return galleryView{
		store:  session.New(session.WithCategory(filter)),
		grid:   masonry.NewGrid(cellW, gap, func(int) { mm.IncLayoutPasses() }),
		cellW:  cellW,
		gap:    gap,
		pxW:    cfg.Gallery.CardWidth,
		picker: pk,
		input:  in,
		vp:     viewport.New(80, 20),
		dvp:    viewport.New(80, 20),
		avp:    viewport.New(80, 20),
	}
}

// cardRows converts a height measured at pxW pixels wide into terminal rows for a card
// cellW cells wide. Cells are about twice as tall as they are wide; borders add two rows
// and the caption one.
func cardRows(px, pxW, cellW int) int {
	if pxW <= 0 {
		pxW = cellW
	}
	return max(2, px*cellW/(pxW*2)) + 3
}

type galleryFetchedMsg struct {
	ticket  session.Ticket
	version *civitai.ModelVersion
	items   []catalog.Item
	results []masonry.Result
	err     error
}

type savedMsg struct {
	saved recipe.Saved
	err   error
}

func (m *Model) openPicker() {
	g := &m.gal
	g.picking = true
	g.picker.SetValue("")
	g.picker.Focus()
	g.pickSel, g.pickOff = 0, 0
	m.matchPicker()
}

// matchPicker ranks local models against the picker text, best match first.
func (m *Model) matchPicker() {
	g := &m.gal
	q := strings.TrimSpace(g.picker.Value())
	if q == "" {
		g.matches = g.locals
		g.pickSel = clamp(g.pickSel, 0, len(g.matches)-1)
		return
	}
	names := make([]string, len(g.locals))
	for i, v := range g.locals {
		names[i] = filepath.Base(v.LocalPath)
	}
	ranks := fuzzy.RankFindNormalizedFold(q, names)
	sort.Stable(ranks)
	g.matches = make([]*state.Version, 0, len(ranks))
	for _, r := range ranks {
		g.matches = append(g.matches, g.locals[r.OriginalIndex])
	}
	g.pickSel = 0
}

// openGallery starts loading the community images of v. Any fetch still running for
// the previous model is cancelled and its result dropped.
func (m *Model) openGallery(v *state.Version) tea.Cmd {
	g := &m.gal
	g.model, g.version = v, nil
	g.picking, g.detail, g.searching, g.analysis = false, false, false, false
	g.picker.Blur()
	g.selected = 0
	if m.deps.Client == nil {
		m.addToast("civitai source is disabled; the gallery needs it")
		return nil
	}
	t, ctx := g.store.Begin(m.ctx)
	client, prober := m.deps.Client, m.deps.Prober
	q := civitai.ImageQuery{
		Sort:       m.cfg.Gallery.Sort,
		NSFW:       m.cfg.Gallery.NSFW,
		FilterType: m.cfg.Gallery.FilterType,
		Limit:      m.cfg.Gallery.Limit,
	}
	pxW, limit, hash := g.pxW, m.cfg.Gallery.ProbeConcurrency, v.Hash
	return func() tea.Msg {
		mv, ims, err := client.ImagesByHash(ctx, hash, q)
		if err != nil {
			return galleryFetchedMsg{ticket: t, err: err}
		}
		results, err := masonry.Settle(ctx, len(ims), limit, prober.Measure(imageSources(ims), pxW))
		if err != nil {
			return galleryFetchedMsg{ticket: t, err: err}
		}
		return galleryFetchedMsg{ticket: t, version: mv, items: catalog.FromImages(ims), results: results}
	}
}

func imageSources(ims []civitai.Image) []media.Source {
	out := make([]media.Source, len(ims))
	for i, im := range ims {
		out[i] = media.Source{URL: im.URL, Width: im.Width, Height: im.Height, Video: im.IsVideo()}
	}
	return out
}

func (m *Model) onGalleryFetched(msg galleryFetchedMsg) tea.Cmd {
	g := &m.gal
	if !g.store.Complete(msg.ticket, msg.items, msg.err) {
		return nil // superseded by a later fetch
	}
	if msg.err != nil {
		g.failed, g.labels = nil, nil
		g.grid.Reset(nil)
		m.refreshGallery()
		if errors.Is(msg.err, friendlyerrors.ErrNotFound) {
			m.addToast("this model is not on civitai")
			return nil
		}
		m.errorToast("gallery", msg.err)
		return nil
	}
	g.version = msg.version

	cards := masonry.Cards(msg.results)
	g.failed = make([]bool, len(cards))
	g.labels = make([][]string, len(cards))
	vis := visibleIDs(g.store.Snapshot())
	for i, c := range cards {
		g.failed[i] = c.Hidden
		if !c.Hidden {
			c.Height = cardRows(c.Height, g.pxW, g.cellW)
		}
		c.Hidden = c.Hidden || !vis[msg.items[i].ID]
		g.labels[i] = cardLabel(msg.items[i], g.cellW-2)
	}
	w, _ := m.bodySize()
	g.grid.Resize(w)
	g.grid.Reset(cards)
	m.ensureGallerySelection()
	m.refreshGallery()
	if hidden := countTrue(g.failed); hidden > 0 {
		m.log().Debugf("gallery: %d of %d cards could not be measured", hidden, len(cards))
	}
	return nil
}

func visibleIDs(s session.State) map[string]bool {
	out := make(map[string]bool, len(s.Visible))
	for _, it := range s.Visible {
		out[it.ID] = true
	}
	return out
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// cardLabel is the text drawn inside a card: reactions or a video marker, the author,
// then as much of the prompt as fits.
func cardLabel(it catalog.Item, width int) []string {
	im, ok := it.Payload.(civitai.Image)
	if !ok {
		return []string{it.DisplayName()}
	}
	head := fmt.Sprintf("♥ %d", im.Stats.HeartCount+im.Stats.LikeCount)
	if im.IsVideo() {
		head = "▶ video"
	}
	lines := []string{head}
	if im.Username != "" {
		lines = append(lines, "@"+im.Username)
	}
	if meta, err := recipe.ParseMeta(im.Meta); err == nil {
		if p := meta.String("prompt"); p != "" && width > 4 {
			lines = append(lines, strings.Split(wrap(p, width), "\n")...)
		}
	}
	return lines
}

// applyGalleryFilter hides the cards the session filter rejects and lays out again.
func (m *Model) applyGalleryFilter() {
	g := &m.gal
	snap := g.store.Snapshot()
	vis := visibleIDs(snap)
	items, failed := snap.Items, g.failed
	g.grid.SetVisible(func(i int) bool {
		return i < len(items) && i < len(failed) && !failed[i] && vis[items[i].ID]
	})
	m.ensureGallerySelection()
	m.refreshGallery()
}

func (m *Model) ensureGallerySelection() {
	cards := m.gal.grid.Cards()
	if m.gal.selected >= 0 && m.gal.selected < len(cards) && cards[m.gal.selected].Placed {
		return
	}
	m.gal.selected = 0
	for i, c := range cards {
		if c.Placed {
			m.gal.selected = i
			return
		}
	}
}

// moveCard picks the next card in a direction. Left and right follow input order;
// up and down stay in the current column.
func moveCard(cards []masonry.Card, cur int, dir string) int {
	if cur < 0 || cur >= len(cards) || !cards[cur].Placed {
		for i, c := range cards {
			if c.Placed {
				return i
			}
		}
		return cur
	}
	best := cur
	switch dir {
	case "right":
		for i := cur + 1; i < len(cards); i++ {
			if cards[i].Placed {
				return i
			}
		}
	case "left":
		for i := cur - 1; i >= 0; i-- {
			if cards[i].Placed {
				return i
			}
		}
	case "down":
		for i, c := range cards {
			if c.Placed && c.Column == cards[cur].Column && c.Y > cards[cur].Y &&
				(best == cur || c.Y < cards[best].Y) {
				best = i
			}
		}
	case "up":
		for i, c := range cards {
			if c.Placed && c.Column == cards[cur].Column && c.Y < cards[cur].Y &&
				(best == cur || c.Y > cards[best].Y) {
				best = i
			}
		}
	}
	return best
}

// refreshGallery redraws the card canvas and scrolls the selection into view.
func (m *Model) refreshGallery() {
	g := &m.gal
	w, _ := m.bodySize()
	cards := g.grid.Cards()
	lines := drawCards(cards, g.labels, g.selected, g.cellW, w, g.grid.Height())
	g.vp.SetContent(strings.Join(lines, "\n"))
	if g.selected < len(cards) && cards[g.selected].Placed {
		c := cards[g.selected]
		switch {
		case c.Y < g.vp.YOffset:
			g.vp.SetYOffset(c.Y)
		case c.Y+c.Height > g.vp.YOffset+g.vp.Height:
			g.vp.SetYOffset(c.Y + c.Height - g.vp.Height)
		}
	}
}

type boxChars struct{ h, v, tl, tr, bl, br rune }

var (
	boxLight = boxChars{'─', '│', '┌', '┐', '└', '┘'}
	boxHeavy = boxChars{'═', '║', '╔', '╗', '╚', '╝'}
)

// drawCards renders placed cards onto a width x height character canvas.
func drawCards(cards []masonry.Card, labels [][]string, selected, cardW, width, height int) []string {
	if width <= 0 || height <= 0 {
		return nil
	}
	canvas := make([][]rune, height)
	for y := range canvas {
		canvas[y] = []rune(strings.Repeat(" ", width))
	}
	put := func(x, y int, r rune) {
		if y >= 0 && y < height && x >= 0 && x < width {
			canvas[y][x] = r
		}
	}
	for i, c := range cards {
		if !c.Placed || c.Height < 2 || cardW < 2 {
			continue
		}
		b := boxLight
		if i == selected {
			b = boxHeavy
		}
		x0, y0 := c.X, c.Y
		x1, y1 := c.X+cardW-1, c.Y+c.Height-1
		for x := x0 + 1; x < x1; x++ {
			put(x, y0, b.h)
			put(x, y1, b.h)
		}
		for y := y0 + 1; y < y1; y++ {
			put(x0, y, b.v)
			put(x1, y, b.v)
		}
		put(x0, y0, b.tl)
		put(x1, y0, b.tr)
		put(x0, y1, b.bl)
		put(x1, y1, b.br)
		if i >= len(labels) {
			continue
		}
		for k, line := range labels[i] {
			row := y0 + 1 + k
			if row >= y1 {
				break
			}
			for j, r := range []rune(truncateEnd(line, cardW-2)) {
				put(x0+1+j, row, r)
			}
		}
	}
	out := make([]string, height)
	for y, row := range canvas {
		out[y] = strings.TrimRight(string(row), " ")
	}
	return out
}

func (m *Model) currentImage() (catalog.Item, civitai.Image, bool) {
	items := m.gal.store.Snapshot().Items
	if m.gal.selected < 0 || m.gal.selected >= len(items) {
		return catalog.Item{}, civitai.Image{}, false
	}
	it := items[m.gal.selected]
	im, ok := it.Payload.(civitai.Image)
	return it, im, ok
}

func (m *Model) updateGallery(msg tea.KeyMsg) tea.Cmd {
	g := &m.gal
	if g.picking {
		return m.updatePicker(msg)
	}
	if g.searching {
		return m.updateGallerySearch(msg)
	}
	if g.analysis {
		return m.updateAnalysis(msg)
	}
	s := msg.String()
	if g.detail {
		switch s {
		case "esc", "enter", "backspace":
			g.detail = false
			return nil
		case "j", "down":
			g.dvp.LineDown(1)
			return nil
		case "k", "up":
			g.dvp.LineUp(1)
			return nil
		case "pgdown":
			g.dvp.ViewDown()
			return nil
		case "pgup":
			g.dvp.ViewUp()
			return nil
		}
	}
	dirs := map[string]string{
		"left": "left", "h": "left", "right": "right", "l": "right",
		"up": "up", "k": "up", "down": "down", "j": "down",
	}
	if d, ok := dirs[s]; ok && !g.detail {
		g.selected = moveCard(g.grid.Cards(), g.selected, d)
		m.refreshGallery()
		return nil
	}
	switch s {
	case "pgdown":
		g.vp.ViewDown()
	case "pgup":
		g.vp.ViewUp()
	case "enter":
		if _, im, ok := m.currentImage(); ok {
			w, _ := m.bodySize()
			g.dvp.SetContent(m.galleryDetail(im, w-2))
			g.dvp.GotoTop()
			g.detail = true
		}
	case "f":
		snap := g.store.Snapshot()
		g.store.Dispatch(session.SetCategoryAction{Category: cycle(galleryFilters, snap.Category, 1)})
		m.applyGalleryFilter()
	case "/":
		g.searching = true
		g.input.SetValue(g.store.Snapshot().Query)
		g.input.CursorEnd()
		return g.input.Focus()
	case "m":
		m.openPicker()
	case "a":
		return m.analyzeCmd(false)
	case "R":
		if g.model != nil {
			return m.openGallery(g.model)
		}
	case "p":
		if _, im, ok := m.currentImage(); ok {
			meta, _ := recipe.ParseMeta(im.Meta)
			m.copy("prompt", meta.String("prompt"))
		}
	case "s":
		if _, im, ok := m.currentImage(); ok {
			return m.saveImageCmd(im)
		}
	case " ":
		if it, _, ok := m.currentImage(); ok {
			if err := m.st.SetSelection(SelectionNode, it); err != nil {
				m.errorToast("select", err)
			} else {
				m.addToast(m.th.ok.Render("selected " + it.PathKey))
			}
		}
	}
	return nil
}

func (m *Model) updatePicker(msg tea.KeyMsg) tea.Cmd {
	g := &m.gal
	switch msg.String() {
	case "esc":
		g.picking = false
		g.picker.Blur()
		return nil
	case "enter":
		if g.pickSel >= 0 && g.pickSel < len(g.matches) {
			return m.openGallery(g.matches[g.pickSel])
		}
		return nil
	case "down", "ctrl+n":
		g.pickSel = clamp(g.pickSel+1, 0, len(g.matches)-1)
		return nil
	case "up", "ctrl+p":
		g.pickSel = clamp(g.pickSel-1, 0, len(g.matches)-1)
		return nil
	}
	var cmd tea.Cmd
	g.picker, cmd = g.picker.Update(msg)
	m.matchPicker()
	return cmd
}

func (m *Model) updateGallerySearch(msg tea.KeyMsg) tea.Cmd {
	g := &m.gal
	switch msg.String() {
	case "esc":
		g.searching = false
		g.input.Blur()
		g.input.SetValue("")
		g.store.Dispatch(session.SetQueryAction{Query: ""})
		m.applyGalleryFilter()
		return nil
	case "enter", "ctrl+j":
		g.searching = false
		g.input.Blur()
		return nil
	}
	var cmd tea.Cmd
	g.input, cmd = g.input.Update(msg)
	if g.store.Dispatch(session.SetQueryAction{Query: g.input.Value()}) {
		m.applyGalleryFilter()
	}
	return cmd
}

func (m *Model) saveImageCmd(im civitai.Image) tea.Cmd {
	if m.deps.Saver == nil {
		m.addToast("saving needs general.output_root")
		return nil
	}
	var versionID int64
	if m.gal.version != nil {
		versionID = m.gal.version.ID
	}
	saver, ctx := m.deps.Saver, m.ctx
	m.addToast("saving original...")
	return func() tea.Msg {
		s, err := saver.Save(ctx, im.URL, versionID, im.Meta)
		return savedMsg{saved: s, err: err}
	}
}

func (m *Model) onSaved(msg savedMsg) {
	switch {
	case msg.err != nil:
		m.errorToast("save image", msg.err)
	case msg.saved.Existed:
		m.addToast("already saved: " + msg.saved.Path)
	default:
		m.addToast(m.th.ok.Render("saved " + msg.saved.Path))
		_ = m.deps.Metrics.Write()
	}
}

// localPaths maps every local hash to its file for recipe diagnosis.
func (m *Model) localPaths() map[string]string {
	out := make(map[string]string, len(m.gal.locals))
	for _, v := range m.gal.locals {
		out[strings.ToLower(v.Hash)] = v.LocalPath
	}
	return out
}

func (m *Model) galleryDetail(im civitai.Image, width int) string {
	var sb strings.Builder
	field := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			sb.WriteString(m.th.label.Render(k+": ") + v + "\n")
		}
	}
	title := fmt.Sprintf("#%d", im.ID)
	if im.Username != "" {
		title = "@" + im.Username + " " + title
	}
	sb.WriteString(m.th.head.Render(title) + "\n\n")
	field("URL", im.URL)
	if im.Width > 0 && im.Height > 0 {
		field("Size", fmt.Sprintf("%dx%d", im.Width, im.Height))
	}
	field("Reactions", fmt.Sprintf("♥ %d • 💬 %d", im.Stats.HeartCount+im.Stats.LikeCount, im.Stats.CommentCount))

	meta, err := recipe.ParseMeta(im.Meta)
	if err != nil {
		sb.WriteString("\n" + m.th.bad.Render("unreadable generation data: "+err.Error()) + "\n")
		return sb.String()
	}
	p := meta.Params()
	sb.WriteString("\n" + m.th.head.Render("Parameters") + "\n")
	field("Checkpoint", p.Checkpoint)
	field("Seed", fmt.Sprint(p.Seed))
	field("Steps", fmt.Sprint(p.Steps))
	field("CFG", fmt.Sprint(p.CFG))
	field("Sampler", p.Sampler+" / "+p.Scheduler)
	field("Size", fmt.Sprintf("%dx%d", p.Width, p.Height))
	if p.Denoise != 1 {
		field("Denoise", fmt.Sprint(p.Denoise))
	}
	if p.ClipSkip > 0 {
		field("Clip skip", fmt.Sprint(p.ClipSkip))
	}

	if tags := recipe.ParsePrompt(p.Prompt); len(tags) > 0 {
		sb.WriteString("\n" + m.th.head.Render(fmt.Sprintf("Prompt (%d tags)", len(tags))) + "\n")
		sb.WriteString(wrap(strings.Join(tags, " · "), width) + "\n")
	}
	if p.Negative != "" {
		sb.WriteString("\n" + m.th.head.Render("Negative") + "\n")
		sb.WriteString(m.th.label.Render(wrap(p.Negative, width)) + "\n")
	}

	res := meta.Resources()
	if res.CheckpointName != "" || len(res.LoRAs) > 0 {
		sb.WriteString("\n" + m.th.head.Render("Resources") + "\n")
		if res.CheckpointName != "" || res.CheckpointHash != "" {
			field("Checkpoint", joinNonEmpty(" ", res.CheckpointName, res.CheckpointHash))
		}
		for _, d := range recipe.Diagnose(res.LoRAs, m.localPaths()) {
			name := joinNonEmpty(" ", d.Resource.Name, d.Resource.Hash)
			if name == "" {
				name = fmt.Sprintf("version %d", d.Resource.VersionID)
			}
			line := fmt.Sprintf("%s @ %g", name, d.Resource.Weight)
			switch d.Status {
			case recipe.StatusFound:
				sb.WriteString(m.th.ok.Render("✓ "+line) + m.th.label.Render(" → "+d.LocalPath) + "\n")
			case recipe.StatusMissing:
				sb.WriteString(m.th.bad.Render("✗ "+line+" (missing)") + "\n")
			default:
				sb.WriteString(m.th.label.Render("? "+line+" (cannot tell)") + "\n")
			}
		}
	}
	return sb.String()
}

func (m *Model) renderGallery() string {
	g := &m.gal
	_, h := m.bodySize()
	if g.picking {
		return m.renderPicker(h)
	}
	if g.detail {
		return g.dvp.View()
	}
	if g.analysis {
		return g.avp.View()
	}
	snap := g.store.Snapshot()
	var sb strings.Builder

	title := "no model selected (m to pick one)"
	if g.model != nil {
		title = filepath.Base(g.model.LocalPath)
		if g.version != nil {
			title += m.th.label.Render(fmt.Sprintf("  %s • %s", g.version.Model.Name, g.version.Name))
		}
	}
	sb.WriteString(m.th.title.Render(title) + "\n")

	counts := map[string]int{}
	for i, it := range snap.Items {
		if i < len(g.failed) && g.failed[i] {
			continue
		}
		counts[it.Category]++
		counts[catalog.AllCategories]++
	}
	var tabs []string
	for _, f := range galleryFilters {
		style := m.th.tabInactive
		if strings.EqualFold(f, snap.Category) || (f == catalog.AllCategories && snap.Category == "") {
			style = m.th.tabActive
		}
		tabs = append(tabs, style.Render(fmt.Sprintf("%s (%d)", f, counts[f])))
	}
	status := strings.Join(tabs, " │ ")
	switch {
	case g.searching:
		status += "  " + g.input.View()
	case snap.Query != "":
		status += m.th.label.Render(fmt.Sprintf("  search: %q", snap.Query))
	}
	if snap.Loading {
		status += "  " + m.spin.View() + " loading"
	}
	sb.WriteString(status + "\n")

	switch {
	case snap.Err != nil:
		sb.WriteString(m.th.bad.Render(errText(snap.Err)))
	case snap.Loading && len(snap.Items) == 0:
		sb.WriteString(m.th.label.Render("fetching images and measuring cards..."))
	case g.model != nil && len(snap.Visible) == 0:
		sb.WriteString(m.th.label.Render("no images"))
	default:
		sb.WriteString(g.vp.View())
	}
	return sb.String()
}

func (m *Model) renderPicker(h int) string {
	g := &m.gal
	var sb strings.Builder
	sb.WriteString(m.th.head.Render("Pick a local model") + "\n")
	sb.WriteString(g.picker.View() + "\n")
	if len(g.matches) == 0 {
		if len(g.locals) == 0 {
			sb.WriteString(m.th.label.Render("the catalog is empty; scan first"))
		} else {
			sb.WriteString(m.th.label.Render("no match"))
		}
		return sb.String()
	}
	avail := max(3, h-2)
	g.pickOff = scrollOffset(g.pickOff, g.pickSel, avail, len(g.matches))
	end := min(len(g.matches), g.pickOff+avail)
	for i := g.pickOff; i < end; i++ {
		v := g.matches[i]
		line := fmt.Sprintf("%-12s %s", v.ModelType, filepath.Base(v.LocalPath))
		if i == g.pickSel {
			sb.WriteString(m.th.rowSelected.Render("▶ "+line) + "\n")
		} else {
			sb.WriteString("  " + line + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
