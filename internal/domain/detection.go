package domain

import "time"

// Category is the coarse garment class derived from a detection label.
type Category string

const (
	CategoryTop     Category = "top"
	CategoryBottom  Category = "bottom"
	CategoryUnknown Category = "unknown"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryTop, CategoryBottom, CategoryUnknown}

// IsValid reports whether c is one of the closed set of categories.
func (c Category) IsValid() bool {
	return c == CategoryTop || c == CategoryBottom || c == CategoryUnknown
}

// BoundingBox is a region in source-image pixel space.
type BoundingBox struct {
	X      int `gorm:"column:box_x" json:"x"`
	Y      int `gorm:"column:box_y" json:"y"`
	Width  int `gorm:"column:box_w" json:"w"`
	Height int `gorm:"column:box_h" json:"h"`
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Detection is one object-detector finding for an uploaded image.
type Detection struct {
	ID        string `gorm:"type:text;primaryKey" json:"id"`
	SessionID string `gorm:"type:text;not null;index:idx_detections_session_image" json:"session_id"`
	ImageID   string `gorm:"type:text;not null;index:idx_detections_session_image" json:"image_id"`
	// Ordinal is the position in the detector's response.
	Ordinal    int         `gorm:"not null" json:"ordinal"`
	Box        BoundingBox `gorm:"embedded" json:"box"`
	Label      string      `gorm:"type:text" json:"label"`
	Confidence float64     `json:"confidence"`
	Category   Category    `gorm:"type:text;not null;default:unknown" json:"category"`
	CropKey    *string     `gorm:"type:text" json:"crop_key,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TableName returns the database table name for Detection.
func (Detection) TableName() string {
	return "detections"
}
