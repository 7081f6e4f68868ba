package catalog

import "strings"

// Criteria are the optional filters of the catalog projection. Zero-valued
// fields match everything.
type Criteria struct {
	Term      string
	StoreName string
	Category  string
}

// IsZero reports whether c filters nothing.
func (c Criteria) IsZero() bool {
	return c.Term == "" && c.StoreName == "" && c.Category == ""
}

// Search returns the items matching every supplied criterion in their input
// order. The input slice is never modified.
func Search(items []Item, c Criteria) []Item {
	term := strings.ToLower(strings.TrimSpace(c.Term))

	out := make([]Item, 0, len(items))
	for _, it := range items {
		if term != "" &&
			!strings.Contains(strings.ToLower(it.Name), term) &&
			!strings.Contains(strings.ToLower(it.Description), term) {
			continue
		}
		if c.StoreName != "" && it.StoreName != c.StoreName {
			continue
		}
		if c.Category != "" && it.Category != c.Category {
			continue
		}
		out = append(out, it)
	}
	return out
}
