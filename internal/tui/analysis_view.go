package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jxwalker/modshelf/internal/civitai"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/recipe"
)

const analysisTop = 10

type analyzedMsg struct {
	hash     string
	analysis recipe.Analysis
	err      error
}

// analyzeCmd summarises the recipes of the gallery's model in the background.
func (m *Model) analyzeCmd(refresh bool) tea.Cmd {
	g := &m.gal
	if g.model == nil {
		m.addToast("pick a model first (m)")
		return nil
	}
	if m.deps.Analyzer == nil {
		m.addToast("civitai source is disabled; the analysis needs it")
		return nil
	}
	if g.analyzing {
		return nil
	}
	g.analyzing = true
	m.addToast("analysing recipes...")
	an, ctx, hash := m.deps.Analyzer, m.ctx, g.model.Hash
	q := civitai.ImageQuery{
		Sort:       m.cfg.Gallery.Sort,
		NSFW:       m.cfg.Gallery.NSFW,
		FilterType: m.cfg.Gallery.FilterType,
		Limit:      m.cfg.Gallery.Limit,
	}
	return func() tea.Msg {
		a, err := an.Analyze(ctx, hash, q, refresh)
		return analyzedMsg{hash: hash, analysis: a, err: err}
	}
}

func (m *Model) onAnalyzed(msg analyzedMsg) {
	g := &m.gal
	g.analyzing = false
	if g.model == nil || g.model.Hash != msg.hash {
		return // the gallery moved on to another model
	}
	switch {
	case errors.Is(msg.err, friendlyerrors.ErrNotFound):
		m.addToast("this model is not on civitai")
		return
	case errors.Is(msg.err, recipe.ErrNoRecipes):
		m.addToast("no images with generation data to analyse")
		return
	case msg.err != nil:
		m.errorToast("analyze", msg.err)
		return
	}
	g.result = msg.analysis
	w, _ := m.bodySize()
	g.avp.SetContent(m.renderAnalysis(msg.analysis, w-2))
	g.avp.GotoTop()
	g.analysis = true
}

func (m *Model) updateAnalysis(msg tea.KeyMsg) tea.Cmd {
	g := &m.gal
	switch msg.String() {
	case "esc", "a", "backspace":
		g.analysis = false
	case "j", "down":
		g.avp.LineDown(1)
	case "k", "up":
		g.avp.LineUp(1)
	case "pgdown":
		g.avp.ViewDown()
	case "pgup":
		g.avp.ViewUp()
	case "r":
		return m.analyzeCmd(true)
	case "c":
		m.copy("suggested prompt", g.result.Suggested(analysisTop).Prompt)
	}
	return nil
}

func (m *Model) renderAnalysis(a recipe.Analysis, width int) string {
	var sb strings.Builder
	title := joinNonEmpty(" • ", a.ModelName, a.VersionName)
	if title == "" {
		title = "Recipe analysis"
	}
	sb.WriteString(m.th.head.Render(title) + "\n")
	note := fmt.Sprintf("%d images with generation data", a.Images)
	if a.Cached {
		note += " (cached, r to refresh)"
	}
	sb.WriteString(m.th.label.Render(note) + "\n")

	pct := func(n int) string {
		if a.Images == 0 {
			return ""
		}
		return fmt.Sprintf("%3.0f%%", float64(n)*100/float64(a.Images))
	}
	section := func(head string) { sb.WriteString("\n" + m.th.head.Render(head) + "\n") }

	section("LoRAs")
	if len(a.LoRAs) == 0 {
		sb.WriteString(m.th.label.Render("none recorded") + "\n")
	}
	for i, u := range a.LoRAs {
		if i == analysisTop {
			break
		}
		name := u.Name
		if name == "" {
			name = u.Key
		}
		line := fmt.Sprintf("%s %-*s avg %.2f • common %g", pct(u.Count), min(30, width/2), truncateEnd(name, 30), u.Mean(), u.Mode())
		sb.WriteString(line + "\n")
	}

	p := a.Suggested(analysisTop)
	section("Suggested settings")
	field := func(k, v string) { sb.WriteString(m.th.label.Render(k+": ") + v + "\n") }
	field("Sampler", p.Sampler+" / "+p.Scheduler)
	field("Steps", fmt.Sprint(p.Steps))
	field("CFG", fmt.Sprint(p.CFG))
	field("Size", fmt.Sprintf("%dx%d", p.Width, p.Height))
	if p.Checkpoint != "" {
		field("Checkpoint", p.Checkpoint)
	}

	section("Parameters")
	for _, k := range recipe.ParamKeys {
		var vals []string
		for i, c := range a.Params[k] {
			if i == 3 {
				break
			}
			vals = append(vals, fmt.Sprintf("%s (%d)", c.Value, c.Count))
		}
		if len(vals) > 0 {
			field(k, strings.Join(vals, ", "))
		}
	}

	tags := func(head string, cs []recipe.Count) {
		if len(cs) == 0 {
			return
		}
		section(head)
		vals := make([]string, 0, analysisTop)
		for i, c := range cs {
			if i == analysisTop {
				break
			}
			vals = append(vals, fmt.Sprintf("%s ×%d", c.Value, c.Count))
		}
		sb.WriteString(wrap(strings.Join(vals, " · "), width) + "\n")
	}
	tags("Common prompt tags", a.Positive)
	tags("Common negative tags", a.Negative)
	return sb.String()
}
