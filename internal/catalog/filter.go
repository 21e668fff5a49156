package catalog

import "strings"

// Filter returns the items matching both the free-text query and the category selector,
// in their original order. An empty query disables text matching; an empty category or
// AllCategories disables category matching. Text matching is plain case-insensitive
// substring containment against SearchableText.
func Filter(items []Item, query, category string) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	cat := strings.TrimSpace(category)
	if strings.EqualFold(cat, AllCategories) {
		cat = ""
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if q != "" && !strings.Contains(strings.ToLower(it.SearchableText), q) {
			continue
		}
		if cat != "" && !strings.EqualFold(it.Category, cat) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Categories lists the distinct categories of items in first-seen order.
func Categories(items []Item) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		key := strings.ToLower(it.Category)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it.Category)
	}
	return out
}
