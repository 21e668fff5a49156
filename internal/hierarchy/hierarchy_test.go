package hierarchy

import (
	"reflect"
	"testing"

	"golang.org/x/text/language"

	"github.com/jxwalker/modshelf/internal/catalog"
)

func items(paths ...string) []catalog.Item {
	out := make([]catalog.Item, 0, len(paths))
	for i, p := range paths {
		out = append(out, catalog.NewItem(string(rune('a'+i)), p, "loras", nil, p))
	}
	return out
}

type flat struct {
	Kind  Kind
	Key   string
	Depth int
}

func flatten(root Node) []flat {
	var out []flat
	for e := range Order(root) {
		out = append(out, flat{e.Kind, e.Key, e.Depth})
	}
	return out
}

func TestBuild_GroupsByFolder(t *testing.T) {
	root := Build(items("a/x.bin", "a/y.bin", "b.bin"))
	a, ok := root.Children["a"].(*Branch)
	if !ok {
		t.Fatalf("expected a to be a folder, got %T", root.Children["a"])
	}
	if len(a.Children) != 2 {
		t.Fatalf("expected 2 children under a, got %d", len(a.Children))
	}
	for _, k := range []string{"x.bin", "y.bin"} {
		if _, ok := a.Children[k].(*Leaf); !ok {
			t.Errorf("expected %s to be a leaf", k)
		}
	}
	if _, ok := root.Children["b.bin"].(*Leaf); !ok {
		t.Errorf("expected b.bin to be a leaf")
	}
}

func TestOrder_FoldersFirstDepthFirst(t *testing.T) {
	got := flatten(Build(items("a/x.bin", "a/y.bin", "b.bin")))
	want := []flat{
		{KindFolder, "a", 0},
		{KindLeaf, "x.bin", 1},
		{KindLeaf, "y.bin", 1},
		{KindLeaf, "b.bin", 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Order = %+v, want %+v", got, want)
	}
}

func TestOrder_FoldersBeforeLeavesEvenWhenNamesSortEarlier(t *testing.T) {
	got := flatten(Build(items("aaa.bin", "zzz/m.bin", "bbb/n.bin")))
	want := []flat{
		{KindFolder, "bbb", 0},
		{KindLeaf, "n.bin", 1},
		{KindFolder, "zzz", 0},
		{KindLeaf, "m.bin", 1},
		{KindLeaf, "aaa.bin", 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Order = %+v, want %+v", got, want)
	}
}

func TestOrder_LocaleCollation(t *testing.T) {
	got := flatten(Build(items("Beta.bin", "alpha.bin", "Émile.bin", "zeta.bin")))
	var keys []string
	for _, f := range got {
		keys = append(keys, f.Key)
	}
	want := []string{"alpha.bin", "Beta.bin", "Émile.bin", "zeta.bin"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func TestOrder_Restartable(t *testing.T) {
	seq := Order(Build(items("c/1.bin", "a/2.bin", "b.bin", "a/sub/3.bin")))
	var first, second []string
	for e := range seq {
		first = append(first, e.Path)
	}
	for e := range seq {
		second = append(second, e.Path)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second traversal differs: %v vs %v", first, second)
	}
	want := []string{"a", "a/sub", "a/sub/3.bin", "a/2.bin", "c", "c/1.bin", "b.bin"}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("paths = %v, want %v", first, want)
	}
}

func TestOrder_EarlyBreak(t *testing.T) {
	n := 0
	for range Order(Build(items("a/1", "a/2", "b/3", "c"))) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected to stop after 2 entries, got %d", n)
	}
}

func TestOrder_LeafRoot(t *testing.T) {
	leaf := &Leaf{Item: catalog.NewItem("1", "x/y.bin", "loras", nil)}
	got := Flatten(leaf)
	if len(got) != 1 || got[0].Kind != KindLeaf || got[0].Key != "y.bin" {
		t.Fatalf("unexpected entries for leaf root: %+v", got)
	}
}

func TestOrder_NilRoots(t *testing.T) {
	var b *Branch
	var l *Leaf
	for _, root := range []Node{nil, b, l} {
		if got := Flatten(root); len(got) != 0 {
			t.Errorf("Flatten(%T) = %+v", root, got)
		}
		if n := CountLeaves(root); n != 0 {
			t.Errorf("CountLeaves(%T) = %d", root, n)
		}
	}

	tree := Build(items("a/x.bin", "b.bin"))
	tree.Children["empty"] = (*Branch)(nil)
	tree.Children["gone.bin"] = (*Leaf)(nil)
	got := Flatten(tree)
	var keys []string
	for _, e := range got {
		keys = append(keys, e.Key)
	}
	if want := []string{"a", "x.bin", "empty", "b.bin"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	if n := CountLeaves(tree); n != 2 {
		t.Fatalf("CountLeaves = %d", n)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	in := items("x/a.bin", "x/b.bin", "y/z/c.bin", "d.bin")
	if !reflect.DeepEqual(Build(in), Build(in)) {
		t.Fatal("Build produced different trees for the same input")
	}
	if !reflect.DeepEqual(Flatten(Build(in)), Flatten(Build(in))) {
		t.Fatal("Order produced different sequences for the same input")
	}
}

func TestBuild_EmptyPathIsSingleLeaf(t *testing.T) {
	root := Build(items(""))
	if _, ok := root.Children[""].(*Leaf); !ok {
		t.Fatalf("expected empty-named leaf, got %#v", root.Children)
	}
}

func TestBuild_BackslashSeparators(t *testing.T) {
	it := catalog.Item{ID: "1", PathKey: `sdxl\chars\foo.safetensors`}
	root := Build([]catalog.Item{it})
	sdxl, ok := root.Children["sdxl"].(*Branch)
	if !ok {
		t.Fatalf("expected sdxl folder, got %#v", root.Children)
	}
	if _, ok := sdxl.Children["chars"].(*Branch); !ok {
		t.Fatalf("expected chars folder")
	}
}

// A path that implies both "m is a file" and "m is a folder" resolves to the later write.
func TestBuild_CollisionLastWriteWins(t *testing.T) {
	var hits []string
	hook := WithCollisionHook(func(p string) { hits = append(hits, p) })

	root := Build(items("m", "m/a.bin"), hook)
	b, ok := root.Children["m"].(*Branch)
	if !ok {
		t.Fatalf("expected folder m to win, got %T", root.Children["m"])
	}
	if _, ok := b.Children["a.bin"].(*Leaf); !ok {
		t.Fatalf("expected a.bin under m")
	}
	if !reflect.DeepEqual(hits, []string{"m"}) {
		t.Fatalf("collision hook calls = %v", hits)
	}

	hits = nil
	root = Build(items("m/a.bin", "m"), hook)
	if _, ok := root.Children["m"].(*Leaf); !ok {
		t.Fatalf("expected file m to win, got %T", root.Children["m"])
	}
	if !reflect.DeepEqual(hits, []string{"m"}) {
		t.Fatalf("collision hook calls = %v", hits)
	}
}

func TestSections_SortedCategories(t *testing.T) {
	in := []catalog.Item{
		catalog.NewItem("1", "x.bin", "loras", nil),
		catalog.NewItem("2", "y.bin", "checkpoints", nil),
		catalog.NewItem("3", "sub/z.bin", "loras", nil),
	}
	secs := Sections(in)
	if len(secs) != 2 || secs[0].Category != "checkpoints" || secs[1].Category != "loras" {
		t.Fatalf("unexpected sections: %+v", secs)
	}
	if n := CountLeaves(secs[1].Root); n != 2 {
		t.Fatalf("loras leaves = %d, want 2", n)
	}
}

func TestLeaves_WithLanguage(t *testing.T) {
	got := Leaves(Build(items("b.bin", "a.bin")), WithLanguage(language.German))
	if len(got) != 2 || got[0].PathKey != "a.bin" {
		t.Fatalf("unexpected leaves: %+v", got)
	}
}
