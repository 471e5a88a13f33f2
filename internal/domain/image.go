package domain

import "time"

// UploadedImage is the immutable record of one user-submitted photo.
type UploadedImage struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	SessionID   string    `gorm:"type:text;not null;index:idx_uploaded_images_session" json:"session_id"`
	StorageKey  string    `gorm:"type:text;not null" json:"storage_key"`
	ContentType string    `gorm:"type:text" json:"content_type"`
	FileSize    int64     `json:"file_size"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// TableName returns the database table name for UploadedImage.
func (UploadedImage) TableName() string {
	return "uploaded_images"
}
