package domain

import "time"

// SearchSession is the persistent, stage-tracked unit of one browser's
// upload-to-results workflow. Only the orchestrator mutates it.
type SearchSession struct {
	ID    string `gorm:"type:text;primaryKey" json:"id"`
	Stage Stage  `gorm:"type:text;not null;index:idx_search_sessions_stage" json:"stage"`
	// Pass increments every time a new workflow pass starts on the session.
	Pass    int   `gorm:"not null;default:0" json:"pass"`
	Version int64 `gorm:"not null;default:0" json:"-"`

	ImageID             *string   `gorm:"type:text" json:"image_id,omitempty"`
	SelectedDetectionID *string   `gorm:"type:text" json:"selected_detection_id,omitempty"`
	SelectedCategory    *Category `gorm:"type:text" json:"selected_category,omitempty"`
	SelectedWholeImage  bool      `gorm:"default:false" json:"selected_whole_image"`

	FailureReason Reason `gorm:"type:text" json:"failure_reason,omitempty"`
	FailureDetail string `gorm:"type:text" json:"failure_detail,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `gorm:"index:idx_search_sessions_activity" json:"last_activity_at"`
}

// TableName returns the database table name for SearchSession.
func (SearchSession) TableName() string {
	return "search_sessions"
}

// Expired reports whether the session has been idle longer than ttl.
// A non-positive ttl disables expiry.
func (s *SearchSession) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActivityAt) > ttl
}

// ClearSelection drops any selection recorded for the current pass.
func (s *SearchSession) ClearSelection() {
	s.SelectedDetectionID = nil
	s.SelectedCategory = nil
	s.SelectedWholeImage = false
}

// HasSelection reports whether a query image has been resolved for the pass.
func (s *SearchSession) HasSelection() bool {
	return s.SelectedDetectionID != nil || s.SelectedWholeImage
}

// StageTransition is one append-only entry of a session's stage history.
type StageTransition struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:text;not null;index:idx_stage_transitions_session" json:"session_id"`
	Pass      int       `gorm:"not null" json:"pass"`
	From      Stage     `gorm:"column:from_stage;type:text" json:"from"`
	To        Stage     `gorm:"column:to_stage;type:text;not null" json:"to"`
	Reason    Reason    `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for StageTransition.
func (StageTransition) TableName() string {
	return "stage_transitions"
}
