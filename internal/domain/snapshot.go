package domain

// SessionSnapshot is a consistent read of one session and its current children.
type SessionSnapshot struct {
	Session    SearchSession
	Image      *UploadedImage
	Detections []Detection    // current image only, ordered by Ordinal
	Results    []SearchResult // current pass only, ordered by Rank
}

// DetectionByID returns the current detection with the given id.
func (s *SessionSnapshot) DetectionByID(id string) (*Detection, bool) {
	for i := range s.Detections {
		if s.Detections[i].ID == id {
			return &s.Detections[i], true
		}
	}
	return nil, false
}

// SessionUpdate is the full write set of one orchestrator operation.
// It is applied in a single transaction guarded by ExpectedVersion.
type SessionUpdate struct {
	Session         SearchSession
	Create          bool  // insert the session row instead of updating it
	ExpectedVersion int64 // version read before the operation began
	Image           *UploadedImage
	Detections      []Detection
	Results         []SearchResult
	Transitions     []StageTransition
}
