package service

import (
	"sort"
	"time"

	"github.com/timmy/fitfinder/internal/domain"
)

// SessionStateView is the read model handed to the HTTP layer.
type SessionStateView struct {
	SessionID   string          `json:"session_id"`
	Stage       domain.Stage    `json:"stage"`
	Pass        int             `json:"pass"`
	ImageURL    string          `json:"image_url,omitempty"`
	Detections  []DetectionView `json:"detections"`
	Categories  []CategoryGroup `json:"categories"`
	Selection   *SelectionView  `json:"selection,omitempty"`
	Results     []ResultView    `json:"results"`
	ErrorReason domain.Reason   `json:"error_reason,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DetectionView is one detection, ordered by confidence in the view.
type DetectionView struct {
	ID         string             `json:"id"`
	Label      string             `json:"label"`
	Category   domain.Category    `json:"category"`
	Confidence float64            `json:"confidence"`
	Box        domain.BoundingBox `json:"box"`
	CropURL    string             `json:"crop_url,omitempty"`
}

// CategoryGroup lists the detections of one category, best first.
type CategoryGroup struct {
	Category     domain.Category `json:"category"`
	DetectionIDs []string        `json:"detection_ids"`
}

// SelectionView is the selection recorded for the current pass.
type SelectionView struct {
	DetectionID string          `json:"detection_id,omitempty"`
	Category    domain.Category `json:"category,omitempty"`
	WholeImage  bool            `json:"whole_image"`
}

// ResultView is one ranked product.
type ResultView struct {
	Rank        int     `json:"rank"`
	ProductID   string  `json:"product_id"`
	Score       float64 `json:"score"`
	ImageURL    string  `json:"image_url,omitempty"`
	DetectionID string  `json:"detection_id,omitempty"`
	Name        string  `json:"name,omitempty"`
}

// urlFunc maps a storage key to a browser URL.
type urlFunc func(key string) string

// buildView renders snap. products may be nil.
func buildView(snap *domain.SessionSnapshot, url urlFunc, products map[string]domain.Product) *SessionStateView {
	sess := &snap.Session
	v := &SessionStateView{
		SessionID:   sess.ID,
		Stage:       sess.Stage,
		Pass:        sess.Pass,
		Detections:  []DetectionView{},
		Categories:  []CategoryGroup{},
		Results:     []ResultView{},
		ErrorReason: sess.FailureReason,
		ErrorDetail: sess.FailureDetail,
		UpdatedAt:   sess.LastActivityAt,
	}
	if snap.Image != nil {
		v.ImageURL = url(snap.Image.StorageKey)
	}

	dets := make([]domain.Detection, len(snap.Detections))
	copy(dets, snap.Detections)
	sort.SliceStable(dets, func(i, j int) bool {
		if dets[i].Confidence != dets[j].Confidence {
			return dets[i].Confidence > dets[j].Confidence
		}
		return dets[i].Ordinal < dets[j].Ordinal
	})

	groups := make(map[domain.Category][]string)
	for _, d := range dets {
		dv := DetectionView{
			ID:         d.ID,
			Label:      d.Label,
			Category:   d.Category,
			Confidence: d.Confidence,
			Box:        d.Box,
		}
		if d.CropKey != nil {
			dv.CropURL = url(*d.CropKey)
		}
		v.Detections = append(v.Detections, dv)
		groups[d.Category] = append(groups[d.Category], d.ID)
	}
	for _, c := range domain.Categories {
		if ids := groups[c]; len(ids) > 0 {
			v.Categories = append(v.Categories, CategoryGroup{Category: c, DetectionIDs: ids})
		}
	}

	if sess.HasSelection() {
		sel := &SelectionView{WholeImage: sess.SelectedWholeImage}
		if sess.SelectedDetectionID != nil {
			sel.DetectionID = *sess.SelectedDetectionID
		}
		if sess.SelectedCategory != nil {
			sel.Category = *sess.SelectedCategory
		}
		v.Selection = sel
	}

	for _, r := range snap.Results {
		rv := ResultView{
			Rank:      r.Rank,
			ProductID: r.ProductID,
			Score:     r.Score,
		}
		if r.ImageKey != "" {
			rv.ImageURL = url(r.ImageKey)
		}
		if r.DetectionID != nil {
			rv.DetectionID = *r.DetectionID
		}
		if p, ok := products[r.ProductID]; ok {
			rv.Name = p.Name
		}
		v.Results = append(v.Results, rv)
	}

	return v
}
