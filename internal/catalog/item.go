package catalog

import (
	"strings"
)

// AllCategories is the category selector value that disables category filtering.
const AllCategories = "all"

// Item is one catalog entry: a local model file, a gallery image or a remote model.
// Payload is carried through untouched; the grouping, filtering and layout code never
// looks inside it.
type Item struct {
	ID             string `json:"id"`
	PathKey        string `json:"path_key"`
	Category       string `json:"category"`
	SearchableText string `json:"-"`
	Payload        any    `json:"payload,omitempty"`
}

// NewItem builds an Item whose searchable text is the lowercase, space-joined
// concatenation of the non-empty parts.
func NewItem(id, pathKey, category string, payload any, searchParts ...string) Item {
	return Item{
		ID:             id,
		PathKey:        NormalizePath(pathKey),
		Category:       category,
		SearchableText: SearchText(searchParts...),
		Payload:        payload,
	}
}

// SearchText joins the non-empty parts with a single space and lowercases the result.
func SearchText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.ToLower(strings.Join(kept, " "))
}

// NormalizePath converts Windows separators to forward slashes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// DisplayName is the last segment of the item's path key.
func (it Item) DisplayName() string {
	p := NormalizePath(it.PathKey)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
