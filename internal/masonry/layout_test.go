package masonry

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func mkCards(heights ...int) []*Card {
	out := make([]*Card, len(heights))
	for i, h := range heights {
		out[i] = &Card{Height: h}
	}
	return out
}

func TestColumns(t *testing.T) {
	tests := []struct {
		width, cw, gap, want int
	}{
		{320, 150, 10, 1},
		{650, 150, 10, 4},
		{100, 150, 10, 1},
		{170, 150, 10, 1},
		{330, 150, 10, 2},
		{1000, 150, 8, 6},
	}
	for _, tt := range tests {
		if got := Columns(tt.width, tt.cw, tt.gap); got != tt.want {
			t.Errorf("Columns(%d,%d,%d) = %d, want %d", tt.width, tt.cw, tt.gap, got, tt.want)
		}
	}
}

func TestLayout_SingleColumn(t *testing.T) {
	cards := mkCards(100, 50, 200, 50)
	h, ok := Layout(cards, 320, 150, 10)
	if !ok {
		t.Fatal("expected layout to run")
	}
	wantY := []int{0, 110, 170, 380}
	for i, c := range cards {
		if c.X != 0 || c.Y != wantY[i] || c.Column != 0 || !c.Placed {
			t.Errorf("card %d = %+v, want x=0 y=%d", i, *c, wantY[i])
		}
	}
	if h != 440 {
		t.Errorf("height = %d, want 440", h)
	}
}

func TestLayout_FourColumns(t *testing.T) {
	cards := mkCards(100, 50, 200, 50)
	h, _ := Layout(cards, 650, 150, 10)
	for i, c := range cards {
		if c.Column != i || c.X != i*160 || c.Y != 0 {
			t.Errorf("card %d = %+v, want column %d at y=0", i, *c, i)
		}
	}
	if h != 210 {
		t.Errorf("height = %d, want 210", h)
	}
}

func TestLayout_ShortestColumnThenLeftmost(t *testing.T) {
	// two columns: 100 -> col0, 50 -> col1, 200 -> col1 (60 < 110), 50 -> col0 (110 < 270)
	cards := mkCards(100, 50, 200, 50)
	h, _ := Layout(cards, 330, 150, 10)
	want := []struct{ col, y int }{{0, 0}, {1, 0}, {1, 60}, {0, 110}}
	for i, c := range cards {
		if c.Column != want[i].col || c.Y != want[i].y {
			t.Errorf("card %d at col %d y %d, want col %d y %d", i, c.Column, c.Y, want[i].col, want[i].y)
		}
	}
	if h != 270 {
		t.Errorf("height = %d, want 270", h)
	}
}

func TestLayout_HiddenCardsSkipped(t *testing.T) {
	cards := mkCards(100, 999, 50)
	cards[1].Hidden = true
	cards[1].X, cards[1].Y, cards[1].Placed = 7, 7, true
	h, _ := Layout(cards, 330, 150, 10)
	if cards[1].Placed {
		t.Error("hidden card was placed")
	}
	if cards[2].Column != 1 || cards[2].Y != 0 {
		t.Errorf("card after hidden one = %+v, want column 1 y 0", *cards[2])
	}
	if h != 110 {
		t.Errorf("height = %d, want 110", h)
	}
}

func TestLayout_NoWidthIsNoop(t *testing.T) {
	cards := mkCards(10, 20)
	cards[0].X, cards[0].Y = 3, 4
	for _, w := range []int{0, -5} {
		if h, ok := Layout(cards, w, 150, 10); ok || h != 0 {
			t.Fatalf("Layout(width=%d) = %d, %v; want 0, false", w, h, ok)
		}
	}
	if cards[0].X != 3 || cards[0].Y != 4 {
		t.Fatal("cards modified by a no-op layout")
	}
}

func TestLayout_Deterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	heights := make([]int, 60)
	for i := range heights {
		heights[i] = 20 + r.Intn(300)
	}
	a, b := mkCards(heights...), mkCards(heights...)
	ha, _ := Layout(a, 900, 150, 8)
	hb, _ := Layout(b, 900, 150, 8)
	if ha != hb || !reflect.DeepEqual(a, b) {
		t.Fatal("identical inputs produced different layouts")
	}
	// idempotent on the same cards
	before := make([]Card, len(a))
	for i, c := range a {
		before[i] = *c
	}
	Layout(a, 900, 150, 8)
	for i, c := range a {
		if *c != before[i] {
			t.Fatalf("card %d moved on relayout: %+v vs %+v", i, *c, before[i])
		}
	}
}

func TestLayout_ColumnBalance(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const cw, gap = 150, 10
	for trial := 0; trial < 200; trial++ {
		n := 1 + r.Intn(80)
		width := 160 + r.Intn(1600)
		heights := make([]int, n)
		maxH := 0
		for i := range heights {
			heights[i] = 1 + r.Intn(500)
			if heights[i] > maxH {
				maxH = heights[i]
			}
		}
		cards := mkCards(heights...)
		Layout(cards, width, cw, gap)
		cols := make([]int, Columns(width, cw, gap))
		for _, c := range cards {
			cols[c.Column] += c.Height + gap
		}
		lo, hi := cols[0], cols[0]
		for _, v := range cols {
			lo, hi = min(lo, v), max(hi, v)
		}
		if n >= len(cols) && hi-lo > maxH+gap {
			t.Fatalf("trial %d: column spread %d exceeds %d", trial, hi-lo, maxH+gap)
		}
	}
}

func TestGrid_Invalidation(t *testing.T) {
	var heights []int
	g := NewGrid(150, 10, func(h int) { heights = append(heights, h) })
	g.Reset(mkCards(100, 50, 200, 50))
	if g.Passes() != 0 {
		t.Fatalf("layout ran without a width")
	}

	g.Resize(650)
	if g.Height() != 210 {
		t.Fatalf("height after resize = %d", g.Height())
	}
	g.Resize(650)
	if g.Passes() != 1 {
		t.Fatalf("same width should not relayout, passes = %d", g.Passes())
	}

	g.SetVisible(func(i int) bool { return i != 2 })
	if g.Height() != 110 {
		t.Fatalf("height after hiding the tall card = %d", g.Height())
	}

	g.SetHeight(0, 300)
	if g.Height() != 310 {
		t.Fatalf("height after late measurement = %d", g.Height())
	}
	g.Resize(320)
	cards := g.Cards()
	if cards[2].Placed {
		t.Fatal("hidden card placed after resize")
	}
	if want := []int{210, 110, 310, 430}; !reflect.DeepEqual(heights, want) {
		t.Fatalf("onLayout heights = %v, want %v", heights, want)
	}
}

func TestSettle_WaitsForAllAndKeepsFailures(t *testing.T) {
	var inflight, peak int32
	boom := errors.New("decode failed")
	results, err := Settle(context.Background(), 10, 3, func(ctx context.Context, i int) (int, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		if i%4 == 0 {
			return 0, boom
		}
		return i * 10, nil
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if peak > 3 {
		t.Errorf("concurrency peak %d exceeds limit 3", peak)
	}
	cards := Cards(results)
	for i, c := range cards {
		failed := i%4 == 0
		if c.Hidden != failed {
			t.Errorf("card %d hidden = %v, want %v", i, c.Hidden, failed)
		}
		if !failed && c.Height != i*10 {
			t.Errorf("card %d height = %d", i, c.Height)
		}
	}
}

func TestSettle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Settle(ctx, 5, 2, func(ctx context.Context, i int) (int, error) {
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
