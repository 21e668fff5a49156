package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/jxwalker/modshelf/internal/catalog"
)

func models() []catalog.Item {
	return []catalog.Item{
		catalog.NewItem("1", "sdxl/fox.safetensors", "loras", nil, "fox.safetensors", "Fox Style"),
		catalog.NewItem("2", "base.safetensors", "checkpoints", nil, "base.safetensors"),
		catalog.NewItem("3", "anime/fox_ckpt.safetensors", "checkpoints", nil, "fox_ckpt.safetensors"),
	}
}

func visibleIDs(s State) []string {
	out := []string{}
	for _, it := range s.Visible {
		out = append(out, it.ID)
	}
	return out
}

func TestReduce_QueryClearsAndRestoresCategory(t *testing.T) {
	st := New(WithCategory("loras"))
	st.Dispatch(SetItemsAction{Items: models()})
	if got := visibleIDs(st.Snapshot()); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("loras tab = %v", got)
	}

	st.Dispatch(SetQueryAction{Query: "fox"})
	s := st.Snapshot()
	if s.Category != "" {
		t.Fatalf("typing a query should clear the category, got %q", s.Category)
	}
	if got := visibleIDs(s); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("search across categories = %v", got)
	}

	st.Dispatch(SetQueryAction{Query: "fox_"})
	if s := st.Snapshot(); s.LastCategory != "loras" {
		t.Fatalf("refining the query lost the last tab: %q", s.LastCategory)
	}

	st.Dispatch(SetQueryAction{Query: ""})
	s = st.Snapshot()
	if s.Category != "loras" {
		t.Fatalf("clearing the query should restore loras, got %q", s.Category)
	}
}

func TestReduce_CategoryClearsQuery(t *testing.T) {
	st := New()
	st.Dispatch(SetItemsAction{Items: models()})
	st.Dispatch(SetQueryAction{Query: "fox"})
	st.Dispatch(SetCategoryAction{Category: "checkpoints"})
	s := st.Snapshot()
	if s.Query != "" || s.Category != "checkpoints" {
		t.Fatalf("state = %+v", s)
	}
	if got := visibleIDs(s); !reflect.DeepEqual(got, []string{"2", "3"}) {
		t.Fatalf("visible = %v", got)
	}
}

func TestReduce_AutoSelectFirst(t *testing.T) {
	st := New(WithAutoSelectFirst())
	t1, _ := st.Begin(context.Background())
	st.Complete(t1, models(), nil)
	if s := st.Snapshot(); s.Category != "loras" {
		t.Fatalf("expected first category to be selected, got %q", s.Category)
	}
}

func TestStore_LastRequestWins(t *testing.T) {
	st := New()
	t1, ctx1 := st.Begin(context.Background())
	t2, ctx2 := st.Begin(context.Background())

	if ctx1.Err() == nil {
		t.Fatal("starting a second fetch should cancel the first")
	}
	if ctx2.Err() != nil {
		t.Fatal("current fetch context cancelled")
	}

	if st.Complete(t2, models()[:1], nil) != true {
		t.Fatal("current fetch result discarded")
	}
	if st.Complete(t1, models(), nil) {
		t.Fatal("stale fetch result applied")
	}
	s := st.Snapshot()
	if s.Generation != t2 || s.Loading || len(s.Items) != 1 {
		t.Fatalf("state after stale completion = %+v", s)
	}
}

func TestStore_StaleFailureIgnored(t *testing.T) {
	st := New()
	t1, _ := st.Begin(context.Background())
	t2, _ := st.Begin(context.Background())
	if st.Complete(t1, nil, errors.New("timeout")) {
		t.Fatal("stale failure applied")
	}
	if !st.Snapshot().Loading {
		t.Fatal("stale failure ended the current fetch")
	}
	boom := errors.New("boom")
	st.Complete(t2, nil, boom)
	if s := st.Snapshot(); s.Err != boom || s.Loading {
		t.Fatalf("state = %+v", s)
	}
}

func TestStore_FetchConcurrent(t *testing.T) {
	st := New()
	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]bool, 2)

	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = st.Fetch(context.Background(), func(ctx context.Context) ([]catalog.Item, error) {
			close(started)
			<-release
			return models(), nil
		})
	}()
	<-started
	results[1], _ = st.Fetch(context.Background(), func(ctx context.Context) ([]catalog.Item, error) {
		return models()[:2], nil
	})
	close(release)
	wg.Wait()

	if results[0] || !results[1] {
		t.Fatalf("applied = %v, want [false true]", results)
	}
	if n := len(st.Snapshot().Items); n != 2 {
		t.Fatalf("items = %d, want 2", n)
	}
}

func TestStore_OnChange(t *testing.T) {
	var seen []string
	st := New(OnChange(func(s State) { seen = append(seen, s.Query) }))
	st.Dispatch(SetQueryAction{Query: "a"})
	st.Dispatch(SetQueryAction{Query: "ab"})
	if !reflect.DeepEqual(seen, []string{"a", "ab"}) {
		t.Fatalf("onChange saw %v", seen)
	}
}
