package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Tab rendering

func (m *Model) renderTabs() string {
	var sb strings.Builder
	for i, name := range tabNames {
		style := m.th.tabInactive
		if tab(i) == m.activeTab {
			style = m.th.tabActive
		}
		label := fmt.Sprintf("%d %s", i+1, name)
		switch tab(i) {
		case tabManager:
			label = fmt.Sprintf("%s (%d)", label, len(m.mgr.store.Snapshot().Items))
		case tabGallery:
			if n := len(m.gal.store.Snapshot().Items); n > 0 {
				label = fmt.Sprintf("%s (%d)", label, n)
			}
		case tabBrowser:
			if n := len(m.br.store.Snapshot().Items); n > 0 {
				label = fmt.Sprintf("%s (%d)", label, n)
			}
		}
		sb.WriteString(style.Render(label))
		if i < len(tabNames)-1 {
			sb.WriteString("  •  ")
		}
	}
	return sb.String()
}

// Toast notifications

func (m *Model) addToast(s string) {
	m.toasts = append(m.toasts, toast{msg: s, when: time.Now(), ttl: 5 * time.Second})
	if len(m.toasts) > 50 {
		m.toasts = m.toasts[len(m.toasts)-50:]
	}
}

// gcToasts drops expired toasts unless the drawer is open.
func (m *Model) gcToasts() {
	if m.showToasts {
		return
	}
	now := time.Now()
	fresh := m.toasts[:0]
	for _, t := range m.toasts {
		if now.Sub(t.when) < t.ttl {
			fresh = append(fresh, t)
		}
	}
	m.toasts = fresh
}

func (m *Model) renderToasts() string {
	if len(m.toasts) == 0 {
		return ""
	}
	t := m.toasts[len(m.toasts)-1]
	if time.Since(t.when) >= t.ttl {
		return ""
	}
	return m.th.label.Render(t.msg)
}

func (m *Model) renderToastDrawer() string {
	if len(m.toasts) == 0 {
		return m.th.label.Render("(no recent notifications)")
	}
	var sb strings.Builder
	sb.WriteString(m.th.head.Render("Notifications") + "\n")
	for i := len(m.toasts) - 1; i >= 0; i-- { // newest first
		t := m.toasts[i]
		sb.WriteString(fmt.Sprintf("%s  %s\n", t.msg, m.th.label.Render(humanize.Time(t.when))))
	}
	return sb.String()
}

// Command bars

func (m *Model) renderCommandsBar() string {
	switch m.activeTab {
	case tabManager:
		if m.mgr.detail {
			return m.th.footer.Render("j/k scroll • c copy trigger words • h copy hash • g gallery • Esc back")
		}
		return m.th.footer.Render("j/k nav • Enter details • / search • [ ] category • g gallery • S scan • E scan+enrich • r reload • ? help • q quit")
	case tabGallery:
		if m.gal.detail {
			return m.th.footer.Render("j/k scroll • p copy prompt • s save original • Space select • Esc back")
		}
		if m.gal.analysis {
			return m.th.footer.Render("j/k scroll • c copy suggested prompt • r refresh analysis • Esc back")
		}
		return m.th.footer.Render("arrows/hjkl move • Enter recipe • f media filter • / search • m pick model • a analyze • p copy prompt • s save • Space select • R refetch • q quit")
	case tabBrowser:
		if m.br.detail {
			return m.th.footer.Render("j/k scroll • u copy page URL • Esc back")
		}
		return m.th.footer.Render("j/k nav • Enter details • / query • t type • o sort • m load more • [ ] category • q quit")
	case tabSettings:
		return m.th.footer.Render("n toggle network • c cache kind • x clear cache • r refresh stats • q quit")
	}
	return ""
}

// Help screen

func (m *Model) renderHelp() string {
	var sb strings.Builder
	sb.WriteString(m.th.head.Render("Help (TUI)") + "\n")
	sb.WriteString("Tabs: 1 Manager • 2 Gallery • 3 Browser • 4 Settings • Tab/Shift+Tab cycle\n")
	sb.WriteString("\n")
	sb.WriteString(m.th.head.Render("Manager (1)") + "\n")
	sb.WriteString("Local models grouped by type, then by sub-folder. Folders list before files.\n")
	sb.WriteString("Nav: j/k up/down • Enter details • Esc back\n")
	sb.WriteString("Search: / to type; the category tab is cleared while a query is active\n")
	sb.WriteString("Category: [ and ] cycle type tabs, including all\n")
	sb.WriteString("Scan: S rescan roots • E rescan and look hashes up on Civitai • r reload\n")
	sb.WriteString("Copy: c trigger words • h SHA256\n")
	sb.WriteString("\n")
	sb.WriteString(m.th.head.Render("Gallery (2)") + "\n")
	sb.WriteString("Community images for a local model, laid out in masonry columns.\n")
	sb.WriteString("m pick model • f all/image/video • / search prompts • R refetch\n")
	sb.WriteString("Enter recipe details • p copy prompt • s save original • Space select for the host\n")
	sb.WriteString("a analyze the model's recipes: common LoRAs, settings and tags • r refresh it\n")
	sb.WriteString("\n")
	sb.WriteString(m.th.head.Render("Browser (3)") + "\n")
	sb.WriteString("/ query • t model type • o sort • m load more • ✓ marks models you have locally\n")
	sb.WriteString("\n")
	sb.WriteString(m.th.head.Render("Settings (4)") + "\n")
	sb.WriteString("n toggle civitai.com / civitai.work • c choose cache • x clear it • r refresh stats\n")
	sb.WriteString("\n")
	sb.WriteString("Toasts: H toggle drawer • Quit: q\n")
	return sb.String()
}
