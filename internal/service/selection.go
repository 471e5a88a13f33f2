package service

import (
	"github.com/timmy/fitfinder/internal/domain"
)

// Selection names the query image for a similarity search. At most one
// field may be set; the zero value re-uses the auto-resolved selection.
type Selection struct {
	DetectionID string          `json:"detection_id,omitempty"`
	Category    domain.Category `json:"category,omitempty"`
	WholeImage  bool            `json:"whole_image,omitempty"`
}

// IsEmpty reports whether no selection was given.
func (s Selection) IsEmpty() bool {
	return s.DetectionID == "" && s.Category == "" && !s.WholeImage
}

func (s Selection) fieldCount() int {
	n := 0
	if s.DetectionID != "" {
		n++
	}
	if s.Category != "" {
		n++
	}
	if s.WholeImage {
		n++
	}
	return n
}

// resolved is a validated selection. det is nil for the whole image.
type resolved struct {
	det      *domain.Detection
	category *domain.Category
}

// resolveSelection maps sel onto the current detections of snap.
func resolveSelection(snap *domain.SessionSnapshot, sel Selection) (resolved, *domain.Error) {
	if sel.fieldCount() > 1 {
		return resolved{}, domain.NewError(domain.ReasonInvalidSelection, "selection must name exactly one of detection, category or whole image")
	}

	switch {
	case sel.WholeImage:
		return resolved{}, nil

	case sel.DetectionID != "":
		det, ok := snap.DetectionByID(sel.DetectionID)
		if !ok {
			return resolved{}, domain.NewError(domain.ReasonInvalidSelection, "detection %s is not part of this session", sel.DetectionID)
		}
		cat := det.Category
		return resolved{det: det, category: &cat}, nil

	case sel.Category != "":
		if !sel.Category.IsValid() {
			return resolved{}, domain.NewError(domain.ReasonInvalidSelection, "unknown category %q", sel.Category)
		}
		det := bestInCategory(snap.Detections, sel.Category)
		if det == nil {
			return resolved{}, domain.NewError(domain.ReasonInvalidSelection, "no detection in category %s", sel.Category)
		}
		cat := sel.Category
		return resolved{det: det, category: &cat}, nil
	}

	// Empty selection: only valid once a single detection was auto-selected.
	sess := &snap.Session
	if sess.Stage != domain.StageResolvedSingle || !sess.HasSelection() {
		return resolved{}, domain.NewError(domain.ReasonInvalidSelection, "a selection is required in stage %s", sess.Stage)
	}
	if sess.SelectedWholeImage {
		return resolved{}, nil
	}
	det, ok := snap.DetectionByID(*sess.SelectedDetectionID)
	if !ok {
		return resolved{}, domain.NewError(domain.ReasonInvalidSelection, "selected detection %s no longer exists", *sess.SelectedDetectionID)
	}
	cat := det.Category
	return resolved{det: det, category: &cat}, nil
}

// bestInCategory returns the highest-confidence detection of cat, earlier
// ordinal first on ties.
func bestInCategory(dets []domain.Detection, cat domain.Category) *domain.Detection {
	var best *domain.Detection
	for i := range dets {
		d := &dets[i]
		if d.Category != cat {
			continue
		}
		if best == nil || d.Confidence > best.Confidence ||
			(d.Confidence == best.Confidence && d.Ordinal < best.Ordinal) {
			best = d
		}
	}
	return best
}
