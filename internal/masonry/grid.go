package masonry

import "sync"

// Grid owns a card set and the container width, and lays the cards out again on every
// invalidation: a width change, a visibility change, or a card whose height changed
// after it was first placed.
type Grid struct {
	mu        sync.Mutex
	cards     []*Card
	width     int
	cardWidth int
	gap       int
	height    int
	passes    int
	onLayout  func(height int)
}

// NewGrid returns an empty grid. onLayout, when non-nil, is called after each completed
// pass with the new container height.
func NewGrid(cardWidth, gap int, onLayout func(height int)) *Grid {
	return &Grid{cardWidth: cardWidth, gap: gap, onLayout: onLayout}
}

// Reset replaces the card set, e.g. after a new fetch settled, and lays out.
func (g *Grid) Reset(cards []*Card) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cards = cards
	g.relayout()
}

// Resize sets the container width and lays out. A non-positive width defers layout
// until a usable width arrives.
func (g *Grid) Resize(width int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if width == g.width {
		return
	}
	g.width = width
	g.relayout()
}

// SetVisible hides every card for which visible returns false and lays out.
func (g *Grid) SetVisible(visible func(i int) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, c := range g.cards {
		c.Hidden = !visible(i)
	}
	g.relayout()
}

// SetHeight records a late height change for card i (for example media that finished
// loading after the first pass) and lays out.
func (g *Grid) SetHeight(i, h int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i < 0 || i >= len(g.cards) || g.cards[i].Height == h {
		return
	}
	g.cards[i].Height = h
	g.relayout()
}

// Height is the container height computed by the last pass.
func (g *Grid) Height() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.height
}

// Passes reports how many layout passes completed.
func (g *Grid) Passes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.passes
}

// Cards returns a copy of the cards in input order.
func (g *Grid) Cards() []Card {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Card, len(g.cards))
	for i, c := range g.cards {
		out[i] = *c
	}
	return out
}

func (g *Grid) relayout() {
	h, ok := Layout(g.cards, g.width, g.cardWidth, g.gap)
	if !ok {
		return
	}
	g.height = h
	g.passes++
	if g.onLayout != nil {
		g.onLayout(h)
	}
}
