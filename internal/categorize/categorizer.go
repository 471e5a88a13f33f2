// Package categorize maps free-text detection labels to coarse garment categories.
package categorize

import (
	"strings"

	"github.com/timmy/fitfinder/internal/domain"
)

// Vocabulary holds the keyword sets used for categorization.
type Vocabulary struct {
	Top    []string
	Bottom []string
}

// DefaultVocabulary returns the built-in keyword sets.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Top:    []string{"shirt", "top", "blouse", "t-shirt", "sweater", "jacket", "hoodie", "coat", "cardigan"},
		Bottom: []string{"pants", "jeans", "skirt", "shorts", "leggings", "trousers", "bottom"},
	}
}

// Categorizer is an immutable keyword lookup table. It is safe for concurrent use.
type Categorizer struct {
	top    []string
	bottom []string
}

// New creates a Categorizer from v. Keywords are lower-cased and trimmed;
// blank keywords are dropped so they cannot match every label.
func New(v Vocabulary) *Categorizer {
	return &Categorizer{
		top:    normalize(v.Top),
		bottom: normalize(v.Bottom),
	}
}

// Default creates a Categorizer with DefaultVocabulary.
func Default() *Categorizer {
	return New(DefaultVocabulary())
}

// Categorize returns the category for label. Upper-body keywords are checked
// first, so a label that matches both sets is a top. Labels matching neither
// set, including empty ones, are unknown.
func (c *Categorizer) Categorize(label string) domain.Category {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return domain.CategoryUnknown
	}
	if containsAny(l, c.top) {
		return domain.CategoryTop
	}
	if containsAny(l, c.bottom) {
		return domain.CategoryBottom
	}
	return domain.CategoryUnknown
}

// Keywords returns a copy of the keyword set for category.
func (c *Categorizer) Keywords(category domain.Category) []string {
	var src []string
	switch category {
	case domain.CategoryTop:
		src = c.top
	case domain.CategoryBottom:
		src = c.bottom
	}
	return append([]string(nil), src...)
}

func containsAny(label string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(label, kw) {
			return true
		}
	}
	return false
}

func normalize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
