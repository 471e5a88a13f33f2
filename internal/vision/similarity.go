package vision

import (
	"path"
	"sort"
	"strings"

	"github.com/timmy/fitfinder/internal/domain"
)

// SearchContext describes the detection a query image came from.
type SearchContext struct {
	TargetItem string
	Confidence float64
	Box        domain.BoundingBox
}

// Query is one similarity search request.
type Query struct {
	// SourceKey and SourceURI identify the stored object that was read.
	SourceKey string
	SourceURI string
	// Image is the query image; a local crop of the source when Cropped.
	Image   []byte
	Cropped bool
	// Category narrows the search when known.
	Category domain.Category
	Context  *SearchContext
	TopK     int
}

// Match is one similar product.
type Match struct {
	ProductID string
	Score     float64
	ImageKey  string
	Metadata  map[string]interface{}
}

// RankMatches clamps scores to [0,1], then orders matches by descending
// score, keeping input order for ties.
func RankMatches(matches []Match) []Match {
	out := make([]Match, len(matches))
	copy(out, matches)
	for i := range out {
		out[i].Score = clamp01(out[i].Score)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ProductIDFromKey derives a product code from the parent directory of an
// image key, e.g. "catalog/A100/front.jpg" -> "A100".
func ProductIDFromKey(key string) string {
	dir := path.Dir(strings.Trim(key, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return path.Base(dir)
}
