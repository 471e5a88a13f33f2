package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Metadata stores free-form upstream fields as JSON in the database.
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Metadata")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// SearchResult is one ranked candidate product of a similarity query.
// Rank is unique within (SessionID, Pass).
type SearchResult struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	SessionID   string    `gorm:"type:text;not null;uniqueIndex:idx_search_results_rank" json:"session_id"`
	Pass        int       `gorm:"not null;uniqueIndex:idx_search_results_rank" json:"pass"`
	Rank        int       `gorm:"not null;uniqueIndex:idx_search_results_rank" json:"rank"`
	DetectionID *string   `gorm:"type:text" json:"detection_id,omitempty"`
	ProductID   string    `gorm:"type:text;not null;index:idx_search_results_product" json:"product_id"`
	Score       float64   `json:"score"`
	ImageKey    string    `gorm:"type:text" json:"image_key,omitempty"`
	Metadata    Metadata  `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for SearchResult.
func (SearchResult) TableName() string {
	return "search_results"
}
