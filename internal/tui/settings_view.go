package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/recipe"
	"github.com/jxwalker/modshelf/internal/scanner"
	"github.com/jxwalker/modshelf/internal/state"
)

// CacheProbe names the image size cache; the other kinds live in the state DB.
const CacheProbe = "probe"

var cacheKinds = []string{state.CacheAPIResponses, state.CacheTriggers, state.CacheAnalysis, CacheProbe, state.CacheAll}

type settingsView struct {
	kind     int
	stats    state.Stats
	probeLen int
	loaded   bool
}

func newSettingsView() settingsView { return settingsView{} }

type statsMsg struct {
	stats    state.Stats
	probeLen int
	err      error
}

type cacheClearedMsg struct {
	kind string
	err  error
}

func (m *Model) loadStatsCmd() tea.Cmd {
	st, pc := m.st, m.deps.ProbeCache
	return func() tea.Msg {
		s, err := st.Stats()
		if err != nil {
			return statsMsg{err: err}
		}
		var n int
		if pc != nil {
			n, _ = pc.Len()
		}
		return statsMsg{stats: s, probeLen: n}
	}
}

func (m *Model) onStats(msg statsMsg) {
	if msg.err != nil {
		m.errorToast("stats", msg.err)
		return
	}
	m.set.stats, m.set.probeLen, m.set.loaded = msg.stats, msg.probeLen, true
}

func (m *Model) clearCacheCmd(kind string) tea.Cmd {
	st, pc := m.st, m.deps.ProbeCache
	return func() tea.Msg {
		var err error
		if kind != CacheProbe {
			err = st.ClearCache(kind)
		}
		if err == nil && (kind == CacheProbe || kind == state.CacheAll) && pc != nil {
			err = pc.Clear()
		}
		return cacheClearedMsg{kind: kind, err: err}
	}
}

func (m *Model) onCacheCleared(msg cacheClearedMsg) tea.Cmd {
	if msg.err != nil {
		m.errorToast("clear "+msg.kind, msg.err)
		return nil
	}
	m.addToast(m.th.ok.Render("cleared " + msg.kind))
	return tea.Batch(m.loadStatsCmd(), m.loadLocalCmd())
}

// network is the active Civitai network: the stored choice, else the config value.
func (m *Model) network() string {
	return m.st.Network(m.cfg.Network.Domain)
}

// setNetwork persists the choice and rebuilds the client and the services that hold it.
func (m *Model) setNetwork(domain string) error {
	if err := m.st.SetSetting(state.SettingNetwork, domain); err != nil {
		return err
	}
	if m.deps.Client == nil {
		return nil
	}
	c := civitai.New(m.cfg, civitai.WithDomain(domain), civitai.WithLogger(m.deps.Log), civitai.WithMetrics(m.deps.Metrics))
	m.deps.Client = c
	if m.deps.Scanner != nil {
		m.deps.Scanner = scanner.New(m.st, m.cfg, scanner.WithClient(c), scanner.WithLogger(m.deps.Log), scanner.WithMetrics(m.deps.Metrics))
	}
	if m.deps.Analyzer != nil {
		m.deps.Analyzer = recipe.NewAnalyzer(m.st, c, time.Duration(m.cfg.Cache.APITTLHours)*time.Hour, m.deps.Log)
	}
	if m.deps.Saver != nil && m.cfg.General.OutputRoot != "" {
		m.deps.Saver = recipe.NewSaver(m.st, c.HTTP(), m.cfg.General.OutputRoot,
			recipe.WithUserAgent(m.cfg.Network.UserAgent), recipe.WithLogger(m.deps.Log), recipe.WithMetrics(m.deps.Metrics))
	}
	return nil
}

func (m *Model) updateSettings(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "n":
		next := "work"
		if m.network() == "work" {
			next = "com"
		}
		if err := m.setNetwork(next); err != nil {
			m.errorToast("network", err)
			return nil
		}
		m.addToast(m.th.ok.Render("network: civitai." + next))
	case "c":
		m.set.kind = (m.set.kind + 1) % len(cacheKinds)
	case "x":
		return m.clearCacheCmd(cacheKinds[m.set.kind])
	case "r":
		return m.loadStatsCmd()
	}
	return nil
}

func (m *Model) renderSettings() string {
	var sb strings.Builder
	field := func(k, v string) {
		sb.WriteString(m.th.label.Render(fmt.Sprintf("%-16s", k+":")) + " " + v + "\n")
	}
	sb.WriteString(m.th.head.Render("Network") + "\n")
	net := m.network()
	field("Civitai", "civitai."+net)
	if m.deps.Client != nil {
		field("API", m.deps.Client.BaseURL())
	} else {
		field("API", m.th.bad.Render("disabled (sources.civitai.enabled)"))
	}
	tok := "not set"
	if m.cfg.Sources.CivitAI.TokenEnv != "" {
		tok = m.cfg.Sources.CivitAI.TokenEnv + " (unset)"
		if envSet(m.cfg.Sources.CivitAI.TokenEnv) {
			tok = m.th.ok.Render(m.cfg.Sources.CivitAI.TokenEnv + " is set")
		}
	}
	field("Token", tok)

	sb.WriteString("\n" + m.th.head.Render("Paths") + "\n")
	field("Data root", m.cfg.General.DataRoot)
	field("Output root", m.cfg.General.OutputRoot)
	types := make([]string, 0, len(m.cfg.Models.Roots))
	for t := range m.cfg.Models.Roots {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		field("Models/"+t, strings.Join(m.cfg.Models.Roots[t], ", "))
	}
	if len(m.cfg.Models.Unsorted) > 0 {
		field("Unsorted", strings.Join(m.cfg.Models.Unsorted, ", "))
	}

	sb.WriteString("\n" + m.th.head.Render("Gallery") + "\n")
	g := m.cfg.Gallery
	field("Images", fmt.Sprintf("%d, %s, nsfw %s, %s", g.Limit, g.Sort, g.NSFW, g.FilterType))
	field("Cards", fmt.Sprintf("%dpx wide, %dpx gap (%d cells)", g.CardWidth, g.Gap, m.gal.cellW))

	sb.WriteString("\n" + m.th.head.Render("Database") + "\n")
	if m.set.loaded {
		st := m.set.stats
		types := make([]string, 0, len(st.ByType))
		for t := range st.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		var parts []string
		for _, t := range types {
			name := t
			if name == "" {
				name = "(untyped)"
			}
			parts = append(parts, fmt.Sprintf("%s %d", name, st.ByType[t]))
		}
		field("Local models", joinNonEmpty(", ", parts...))
		field("Unchecked", fmt.Sprint(st.Unchecked))
		field("Not on civitai", fmt.Sprint(st.NotFound))
		field("Images", fmt.Sprintf("%d known, %d saved", st.Images, st.Saved))
		field("Selections", fmt.Sprint(st.Selections))
		field("Probe cache", fmt.Sprintf("%d sizes", m.set.probeLen))
	} else {
		sb.WriteString(m.th.label.Render("loading...") + "\n")
	}

	sb.WriteString("\n" + m.th.head.Render("Caches") + "\n")
	for i, k := range cacheKinds {
		if i == m.set.kind {
			sb.WriteString(m.th.rowSelected.Render("▶ "+k) + "\n")
		} else {
			sb.WriteString("  " + k + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
