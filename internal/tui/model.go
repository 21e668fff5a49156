// Package tui is the interactive terminal front end: the local model manager, the recipe
// gallery, the Civitai model browser and the settings panel.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/config"
	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/metrics"
	"github.com/jxwalker/modshelf/internal/recipe"
	"github.com/jxwalker/modshelf/internal/scanner"
	"github.com/jxwalker/modshelf/internal/state"
)

type tab int

const (
	tabManager tab = iota
	tabGallery
	tabBrowser
	tabSettings
)

var tabNames = []string{"Manager", "Gallery", "Browser", "Settings"}

// Deps are the services the views call into. Nil Client disables every Civitai feature;
// the other fields fall back to sensible defaults.
type Deps struct {
	Client     *civitai.Client
	Prober     *media.Prober
	ProbeCache *media.Cache
	Saver      *recipe.Saver
	Analyzer   *recipe.Analyzer
	Scanner    *scanner.Scanner
	Log        *logging.Logger
	Metrics    *metrics.Manager
}

type toast struct {
	msg  string
	when time.Time
	ttl  time.Duration
}

type tickMsg time.Time

type Model struct {
	cfg     *config.Config
	st      *state.DB
	deps    Deps
	version string
	th      Theme
	lang    language.Tag
	w, h    int

	activeTab  tab
	showHelp   bool
	showToasts bool
	toasts     []toast
	spin       spinner.Model

	ctx    context.Context
	cancel context.CancelFunc

	mgr managerView
	gal galleryView
	br  browserView
	set settingsView
}

func New(cfg *config.Config, st *state.DB, deps Deps, version string) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	lang := language.English
	if cfg.UI.Language != "" {
		if tag, err := language.Parse(cfg.UI.Language); err == nil {
			lang = tag
		}
	}
	if deps.Prober == nil && deps.Client != nil {
		deps.Prober = media.NewProber(deps.Client.HTTP(),
			media.WithCache(deps.ProbeCache),
			media.WithUserAgent(cfg.Network.UserAgent),
			media.WithLogger(deps.Log),
			media.WithMetrics(deps.Metrics))
	}
	if deps.Analyzer == nil && deps.Client != nil {
		deps.Analyzer = recipe.NewAnalyzer(st, deps.Client, time.Duration(cfg.Cache.APITTLHours)*time.Hour, deps.Log)
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := &Model{
		cfg:     cfg,
		st:      st,
		deps:    deps,
		version: version,
		th:      defaultTheme(),
		lang:    lang,
		spin:    sp,
		ctx:     ctx,
		cancel:  cancel,
	}
	m.mgr = newManagerView(cfg)
	m.gal = newGalleryView(cfg, deps.Metrics)
	m.br = newBrowserView()
	m.set = newSettingsView()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadLocalCmd(), m.spin.Tick, m.tick())
}

func (m *Model) tick() tea.Cmd {
	hz := m.cfg.UI.RefreshHz
	if hz <= 0 {
		hz = 1
	}
	if hz > 10 {
		hz = 10
	}
	return tea.Tick(time.Second/time.Duration(hz), func(t time.Time) tea.Msg { return tickMsg(t) })
}

// inputActive reports whether a text field owns the keyboard.
func (m *Model) inputActive() bool {
	switch m.activeTab {
	case tabManager:
		return m.mgr.searching
	case tabGallery:
		return m.gal.picking || m.gal.searching
	case tabBrowser:
		return m.br.typing
	}
	return false
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.w, m.h = msg.Width, msg.Height
		m.resize()
		return m, nil
	case tickMsg:
		m.gcToasts()
		return m, m.tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if m.inputActive() {
			return m, m.updateActive(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.shutdown()
			return m, tea.Quit
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		case "H":
			m.showToasts = !m.showToasts
			return m, nil
		case "1":
			return m, m.switchTab(tabManager)
		case "2":
			return m, m.switchTab(tabGallery)
		case "3":
			return m, m.switchTab(tabBrowser)
		case "4":
			return m, m.switchTab(tabSettings)
		case "tab":
			return m, m.switchTab((m.activeTab + 1) % tab(len(tabNames)))
		case "shift+tab":
			return m, m.switchTab((m.activeTab + tab(len(tabNames)) - 1) % tab(len(tabNames)))
		}
		if m.showHelp {
			if msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}
		return m, m.updateActive(msg)

	case localLoadedMsg:
		return m, m.onLocalLoaded(msg)
	case scanDoneMsg:
		return m, m.onScanDone(msg)
	case galleryFetchedMsg:
		return m, m.onGalleryFetched(msg)
	case savedMsg:
		m.onSaved(msg)
		return m, nil
	case analyzedMsg:
		m.onAnalyzed(msg)
		return m, nil
	case browserFetchedMsg:
		m.onBrowserFetched(msg)
		return m, nil
	case statsMsg:
		m.onStats(msg)
		return m, nil
	case cacheClearedMsg:
		return m, m.onCacheCleared(msg)
	}
	return m, nil
}

func (m *Model) updateActive(msg tea.KeyMsg) tea.Cmd {
	switch m.activeTab {
	case tabManager:
		return m.updateManager(msg)
	case tabGallery:
		return m.updateGallery(msg)
	case tabBrowser:
		return m.updateBrowser(msg)
	case tabSettings:
		return m.updateSettings(msg)
	}
	return nil
}

func (m *Model) switchTab(t tab) tea.Cmd {
	if t == m.activeTab {
		return nil
	}
	m.activeTab = t
	m.showHelp = false
	switch t {
	case tabGallery:
		if m.gal.model == nil && !m.gal.picking {
			m.openPicker()
		}
	case tabBrowser:
		if len(m.br.store.Snapshot().Items) == 0 && !m.br.store.Snapshot().Loading {
			return m.searchModelsCmd(false)
		}
	case tabSettings:
		return m.loadStatsCmd()
	}
	return nil
}

func (m *Model) shutdown() {
	m.cancel()
	m.mgr.store.Close()
	m.gal.store.Close()
	m.br.store.Close()
}

// bodySize is the area inside the main border.
func (m *Model) bodySize() (int, int) {
	w, h := m.w, m.h
	if w == 0 {
		w = 120
	}
	if h == 0 {
		h = 30
	}
	// header (3) + footer (3) + body border (2)
	return max(20, w-4), max(5, h-8)
}

func (m *Model) resize() {
	w, h := m.bodySize()
	m.mgr.vp.Width, m.mgr.vp.Height = w, h
	m.br.vp.Width, m.br.vp.Height = w, h
	m.gal.vp.Width, m.gal.vp.Height = w, h-2
	m.gal.dvp.Width, m.gal.dvp.Height = w, h
	m.gal.avp.Width, m.gal.avp.Height = w, h
	m.gal.grid.Resize(w)
	m.refreshGallery()
}

func (m *Model) View() string {
	w, h := m.bodySize()
	title := m.th.title.Render("modshelf " + m.version)
	header := m.th.border.Width(w).Render(lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", m.renderTabs()))

	var body string
	switch {
	case m.showHelp:
		body = m.renderHelp()
	case m.showToasts:
		body = m.renderToastDrawer()
	default:
		switch m.activeTab {
		case tabManager:
			body = m.renderManager()
		case tabGallery:
			body = m.renderGallery()
		case tabBrowser:
			body = m.renderBrowser()
		case tabSettings:
			body = m.renderSettings()
		}
	}
	main := m.th.border.Width(w).Height(h).MaxHeight(h + 2).Render(body)

	foot := m.renderCommandsBar()
	if t := m.renderToasts(); t != "" {
		foot = t + "\n" + foot
	}
	footer := m.th.border.Width(w).Render(foot)
	return lipgloss.JoinVertical(lipgloss.Left, header, main, footer)
}

func (m *Model) log() *logging.Logger { return m.deps.Log }

func (m *Model) errorToast(what string, err error) {
	m.log().Warnf("%s: %v", what, err)
	m.addToast(m.th.bad.Render(fmt.Sprintf("%s: %s", what, errText(err))))
}
