// Package masonry places fixed-width, variable-height cards into the currently
// shortest column.
//
// All dimensions are integer pixels (or terminal cells); column counts truncate.
// The greedy placement is not an optimal packing and is not meant to be.
package masonry

// Card is one positioned unit. Height is measured by the caller; X, Y and Placed are
// written by Layout and never carried over between passes.
type Card struct {
	Height int
	Hidden bool

	X, Y   int
	Column int
	Placed bool
}

// Columns returns the number of columns that fit: max(1, (width-gap)/(cardWidth+gap)).
func Columns(containerWidth, cardWidth, gap int) int {
	if cardWidth+gap <= 0 {
		return 1
	}
	n := (containerWidth - gap) / (cardWidth + gap)
	if n < 1 {
		return 1
	}
	return n
}

// Layout assigns positions to the visible cards in input order and returns the height
// the container must be given. When containerWidth is not positive nothing is touched
// and ok is false; the caller lays out again once the container has a size.
func Layout(cards []*Card, containerWidth, cardWidth, gap int) (height int, ok bool) {
	if containerWidth <= 0 {
		return 0, false
	}
	cols := make([]int, Columns(containerWidth, cardWidth, gap))
	for _, c := range cards {
		c.Placed = false
		if c.Hidden {
			continue
		}
		col := shortest(cols)
		c.Column = col
		c.X = col * (cardWidth + gap)
		c.Y = cols[col]
		c.Placed = true
		cols[col] += c.Height + gap
	}
	for _, h := range cols {
		if h > height {
			height = h
		}
	}
	return height, true
}

// shortest returns the index of the lowest column; the leftmost wins ties.
func shortest(cols []int) int {
	best := 0
	for i := 1; i < len(cols); i++ {
		if cols[i] < cols[best] {
			best = i
		}
	}
	return best
}
