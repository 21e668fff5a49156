package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/jxwalker/modshelf/internal/catalog"
	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/session"
)

var browserSorts = []string{"Highest Rated", "Most Downloaded", "Newest"}

// browserTypes are the type filters offered; "" searches every type.
var browserTypes = append([]string{""}, civitai.Types...)

type browserView struct {
	store    *session.Store
	input    textinput.Model
	typing   bool
	query    string
	typeIdx  int
	sortIdx  int
	cursor   string
	selected int
	offset   int
	detail   bool
	vp       viewport.Model
}

func newBrowserView() browserView {
	in := textinput.New()
	in.Placeholder = "search civitai models"
	in.Prompt = "query> "
	return browserView{
		store: session.New(session.WithCategory(catalog.AllCategories)),
		input: in,
		vp:    viewport.New(80, 20),
	}
}

type browserFetchedMsg struct {
	ticket session.Ticket
	items  []catalog.Item
	next   string
	err    error
}

// searchModelsCmd runs the current query. With more set the next page is appended to
// the current results.
func (m *Model) searchModelsCmd(more bool) tea.Cmd {
	b := &m.br
	if m.deps.Client == nil {
		m.addToast("civitai source is disabled")
		return nil
	}
	if more && b.cursor == "" {
		m.addToast("no more results")
		return nil
	}
	q := civitai.ModelQuery{Query: b.query, Sort: browserSorts[b.sortIdx], Limit: 24}
	if t := browserTypes[b.typeIdx]; t != "" {
		q.Types = []string{t}
	}
	var prev []catalog.Item
	if more {
		q.Cursor = b.cursor
		prev = b.store.Snapshot().Items
	} else {
		b.selected, b.offset = 0, 0
	}
	t, ctx := b.store.Begin(m.ctx)
	client, st := m.deps.Client, m.st
	return func() tea.Msg {
		page, err := client.SearchModels(ctx, q)
		if err != nil {
			return browserFetchedMsg{ticket: t, err: err}
		}
		local, err := st.LocalHashes()
		if err != nil {
			return browserFetchedMsg{ticket: t, err: err}
		}
		items := append(append([]catalog.Item(nil), prev...), catalog.FromModels(page.Items, local)...)
		return browserFetchedMsg{ticket: t, items: items, next: page.NextCursor}
	}
}

func (m *Model) onBrowserFetched(msg browserFetchedMsg) {
	b := &m.br
	if !b.store.Complete(msg.ticket, msg.items, msg.err) {
		return
	}
	if msg.err != nil {
		m.errorToast("model search", msg.err)
		return
	}
	b.cursor = msg.next
	b.selected = clamp(b.selected, 0, len(b.store.Snapshot().Visible)-1)
}

func (m *Model) selectedRemote() (catalog.RemoteModel, bool) {
	vis := m.br.store.Snapshot().Visible
	if m.br.selected < 0 || m.br.selected >= len(vis) {
		return catalog.RemoteModel{}, false
	}
	rm, ok := vis[m.br.selected].Payload.(catalog.RemoteModel)
	return rm, ok
}

func (m *Model) updateBrowser(msg tea.KeyMsg) tea.Cmd {
	b := &m.br
	if b.typing {
		switch msg.String() {
		case "esc":
			b.typing = false
			b.input.Blur()
			b.input.SetValue(b.query)
			return nil
		case "enter", "ctrl+j":
			b.typing = false
			b.input.Blur()
			b.query = strings.TrimSpace(b.input.Value())
			return m.searchModelsCmd(false)
		}
		var cmd tea.Cmd
		b.input, cmd = b.input.Update(msg)
		return cmd
	}
	s := msg.String()
	if b.detail {
		switch s {
		case "esc", "enter", "backspace":
			b.detail = false
			return nil
		case "j", "down":
			b.vp.LineDown(1)
			return nil
		case "k", "up":
			b.vp.LineUp(1)
			return nil
		}
	}
	n := len(b.store.Snapshot().Visible)
	switch s {
	case "j", "down":
		b.selected = clamp(b.selected+1, 0, n-1)
	case "k", "up":
		b.selected = clamp(b.selected-1, 0, n-1)
	case "enter":
		if rm, ok := m.selectedRemote(); ok {
			w, _ := m.bodySize()
			b.vp.SetContent(m.browserDetail(rm, w-2))
			b.vp.GotoTop()
			b.detail = true
		}
	case "/":
		b.typing = true
		b.input.SetValue(b.query)
		b.input.CursorEnd()
		return b.input.Focus()
	case "t":
		b.typeIdx = (b.typeIdx + 1) % len(browserTypes)
		return m.searchModelsCmd(false)
	case "o":
		b.sortIdx = (b.sortIdx + 1) % len(browserSorts)
		return m.searchModelsCmd(false)
	case "m":
		return m.searchModelsCmd(true)
	case "[", "]":
		delta := 1
		if s == "[" {
			delta = -1
		}
		snap := b.store.Snapshot()
		cats := catalog.Categories(snap.Items)
		sort.Strings(cats)
		b.store.Dispatch(session.SetCategoryAction{Category: cycle(append([]string{catalog.AllCategories}, cats...), snap.Category, delta)})
		b.selected = 0
	case "u":
		if rm, ok := m.selectedRemote(); ok && m.deps.Client != nil {
			m.copy("model URL", m.deps.Client.ModelURL(rm.ID))
		}
	}
	return nil
}

func (m *Model) renderBrowser() string {
	b := &m.br
	if b.detail {
		return b.vp.View()
	}
	w, h := m.bodySize()
	snap := b.store.Snapshot()
	var sb strings.Builder

	typ := browserTypes[b.typeIdx]
	if typ == "" {
		typ = "any type"
	}
	if b.typing {
		sb.WriteString(b.input.View() + "\n")
	} else {
		q := b.query
		if q == "" {
			q = "(no query)"
		}
		sb.WriteString(m.th.label.Render(fmt.Sprintf("%s • %s • %s • category %s", q, typ, browserSorts[b.sortIdx], snap.Category)) + "\n")
	}
	status := fmt.Sprintf("%d results", len(snap.Visible))
	if b.cursor != "" {
		status += " • m for more"
	}
	if snap.Loading {
		status = m.spin.View() + " searching"
	}
	sb.WriteString(m.th.label.Render(status) + "\n")

	if snap.Err != nil {
		sb.WriteString(m.th.bad.Render(errText(snap.Err)))
		return sb.String()
	}
	avail := max(3, h-2)
	b.offset = scrollOffset(b.offset, b.selected, avail, len(snap.Visible))
	end := min(len(snap.Visible), b.offset+avail)
	for i := b.offset; i < end; i++ {
		rm, _ := snap.Visible[i].Payload.(catalog.RemoteModel)
		mark := "  "
		if rm.Local {
			mark = m.th.ok.Render("✓ ")
		}
		stats := fmt.Sprintf("%-11s ↓%-6s ♥%-6s by %s", rm.Type, humanize.SIWithDigits(float64(rm.Stats.DownloadCount), 1, ""),
			humanize.SIWithDigits(float64(rm.Stats.FavoriteCount+rm.Stats.ThumbsUpCount), 1, ""), rm.Creator.Username)
		name := truncateEnd(rm.Name, max(10, w-len([]rune(stats))-6))
		style := m.th.row
		cursor := "  "
		if i == b.selected {
			style, cursor = m.th.rowSelected, "▶ "
		}
		sb.WriteString(cursor + mark + style.Render(name) + "  " + m.th.label.Render(stats) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Model) browserDetail(rm catalog.RemoteModel, width int) string {
	var sb strings.Builder
	field := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			sb.WriteString(m.th.label.Render(k+": ") + v + "\n")
		}
	}
	sb.WriteString(m.th.head.Render(rm.Name) + "\n\n")
	field("Type", rm.Type)
	field("Creator", rm.Creator.Username)
	if m.deps.Client != nil {
		field("Page", m.deps.Client.ModelURL(rm.ID))
	}
	field("Downloads", humanize.Comma(rm.Stats.DownloadCount))
	field("Rating", fmt.Sprintf("%.2f", rm.Stats.Rating))
	if rm.Local {
		field("Local", m.th.ok.Render("a file of this model is in your catalog"))
	}
	if len(rm.Tags) > 0 {
		field("Tags", wrap(strings.Join(rm.Tags, ", "), width))
	}
	if len(rm.ModelVersions) > 0 {
		sb.WriteString("\n" + m.th.head.Render("Versions") + "\n")
		for _, v := range rm.ModelVersions {
			line := fmt.Sprintf("%s (%d) %s", v.Name, v.ID, v.BaseModel)
			for _, f := range v.Files {
				if f.Primary {
					line += m.th.label.Render(fmt.Sprintf("  %s %s", f.Name, humanize.Bytes(uint64(f.SizeKB*1024))))
				}
			}
			sb.WriteString("• " + line + "\n")
		}
	}
	if d := strings.TrimSpace(stripTags(rm.Description)); d != "" {
		sb.WriteString("\n" + wrap(d, width) + "\n")
	}
	return sb.String()
}

// stripTags drops HTML markup from model descriptions.
func stripTags(s string) string {
	var sb strings.Builder
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>':
			in = false
			sb.WriteRune(' ')
		case !in:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
