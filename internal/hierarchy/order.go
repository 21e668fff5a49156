package hierarchy

import (
	"iter"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jxwalker/modshelf/internal/catalog"
)

// Entry is one display node produced by Order. Folder entries are headers; leaf entries
// carry the wrapped item.
type Entry struct {
	Kind  Kind
	Key   string
	Path  string
	Depth int
	Item  catalog.Item
}

// OrderOption configures Order.
type OrderOption func(*orderOptions)

type orderOptions struct {
	lang language.Tag
}

// WithLanguage selects the collation language used to compare segment names.
func WithLanguage(tag language.Tag) OrderOption {
	return func(o *orderOptions) { o.lang = tag }
}

// Order walks the tree depth-first, pre-order. At every level folders come before
// leaves, and names within each group follow locale collation with byte order as the
// final tie-break. The returned sequence is restartable: each range sorts again from
// scratch and keeps no cursor between runs.
func Order(root Node, opts ...OrderOption) iter.Seq[Entry] {
	o := orderOptions{lang: language.English}
	for _, opt := range opts {
		opt(&o)
	}
	return func(yield func(Entry) bool) {
		// collate.Collator is not safe for concurrent use; one per traversal.
		col := collate.New(o.lang)
		switch n := root.(type) {
		case *Leaf:
			if n != nil {
				yield(Entry{Kind: KindLeaf, Key: n.Item.DisplayName(), Path: n.Item.PathKey, Item: n.Item})
			}
		case *Branch:
			walk(n, "", 0, col, yield)
		}
	}
}

func walk(b *Branch, prefix string, depth int, col *collate.Collator, yield func(Entry) bool) bool {
	if b == nil {
		return true
	}
	for _, key := range sortedKeys(b, col) {
		path := key
		if prefix != "" {
			path = prefix + "/" + key
		}
		switch n := b.Children[key].(type) {
		case *Leaf:
			if n == nil {
				continue
			}
			if !yield(Entry{Kind: KindLeaf, Key: key, Path: path, Depth: depth, Item: n.Item}) {
				return false
			}
		case *Branch:
			if !yield(Entry{Kind: KindFolder, Key: key, Path: path, Depth: depth}) {
				return false
			}
			if !walk(n, path, depth+1, col, yield) {
				return false
			}
		}
	}
	return true
}

func sortedKeys(b *Branch, col *collate.Collator) []string {
	keys := make([]string, 0, len(b.Children))
	for k := range b.Children {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y string) int {
		kx, ky := b.Children[x].Kind(), b.Children[y].Kind()
		if kx != ky {
			if kx == KindFolder {
				return -1
			}
			return 1
		}
		if c := col.CompareString(x, y); c != 0 {
			return c
		}
		return strings.Compare(x, y)
	})
	return keys
}

// Flatten collects the full Order sequence into a slice.
func Flatten(root Node, opts ...OrderOption) []Entry {
	var out []Entry
	for e := range Order(root, opts...) {
		out = append(out, e)
	}
	return out
}

// Leaves returns the items of the tree in display order.
func Leaves(root Node, opts ...OrderOption) []catalog.Item {
	var out []catalog.Item
	for e := range Order(root, opts...) {
		if e.Kind == KindLeaf {
			out = append(out, e.Item)
		}
	}
	return out
}
