// Package hierarchy turns flat, slash-keyed catalog items into a folder tree and walks
// that tree in display order.
//
// Trees are rebuilt from scratch for every render pass and never mutated afterwards.
package hierarchy

import (
	"sort"
	"strings"

	"github.com/jxwalker/modshelf/internal/catalog"
)

// Kind tags a node or a display entry as a folder or a leaf.
type Kind int

const (
	KindFolder Kind = iota
	KindLeaf
)

func (k Kind) String() string {
	if k == KindLeaf {
		return "leaf"
	}
	return "folder"
}

// Node is either a *Leaf or a *Branch.
type Node interface {
	Kind() Kind
}

// Leaf wraps exactly one item.
type Leaf struct {
	Item catalog.Item
}

func (*Leaf) Kind() Kind { return KindLeaf }

// Branch maps a path segment to its child node. Map order carries no meaning; display
// order is decided by Order.
type Branch struct {
	Children map[string]Node
}

func (*Branch) Kind() Kind { return KindFolder }

func newBranch() *Branch {
	return &Branch{Children: make(map[string]Node)}
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	onCollision func(path string)
}

// WithCollisionHook registers a callback invoked whenever a write replaces an existing
// node at the same position (a folder replacing a file, a file replacing a folder, or a
// duplicate path). The later write still wins.
func WithCollisionHook(fn func(path string)) Option {
	return func(o *buildOptions) { o.onCollision = fn }
}

// Build groups items into a tree keyed by the segments of their PathKey. Backslashes are
// treated as separators. Every segment but the last becomes a Branch; the last becomes a
// Leaf. When two paths disagree about what sits at a key, the later item wins.
func Build(items []catalog.Item, opts ...Option) *Branch {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	root := newBranch()
	for _, it := range items {
		parts := strings.Split(catalog.NormalizePath(it.PathKey), "/")
		cur := root
		for i, part := range parts[:len(parts)-1] {
			child, exists := cur.Children[part]
			if b, ok := child.(*Branch); ok {
				cur = b
				continue
			}
			if exists && o.onCollision != nil {
				o.onCollision(strings.Join(parts[:i+1], "/"))
			}
			nb := newBranch()
			cur.Children[part] = nb
			cur = nb
		}
		last := parts[len(parts)-1]
		if _, exists := cur.Children[last]; exists && o.onCollision != nil {
			o.onCollision(strings.Join(parts, "/"))
		}
		cur.Children[last] = &Leaf{Item: it}
	}
	return root
}

// Section is the tree of one category.
type Section struct {
	Category string
	Root     *Branch
}

// Sections splits items by category (sorted by name) and builds one tree per category.
// Item order inside each category is preserved.
func Sections(items []catalog.Item, opts ...Option) []Section {
	byCat := make(map[string][]catalog.Item)
	for _, it := range items {
		byCat[it.Category] = append(byCat[it.Category], it)
	}
	cats := make([]string, 0, len(byCat))
	for c := range byCat {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	out := make([]Section, 0, len(cats))
	for _, c := range cats {
		out = append(out, Section{Category: c, Root: Build(byCat[c], opts...)})
	}
	return out
}

// CountLeaves returns the number of leaves under n.
func CountLeaves(n Node) int {
	switch v := n.(type) {
	case *Leaf:
		if v == nil {
			return 0
		}
		return 1
	case *Branch:
		if v == nil {
			return 0
		}
		total := 0
		for _, c := range v.Children {
			total += CountLeaves(c)
		}
		return total
	}
	return 0
}
