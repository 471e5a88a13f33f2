package domain

import "time"

// Product is a catalog item that visual search can return.
type Product struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	ProductCode string    `gorm:"type:text;not null;uniqueIndex:idx_products_code" json:"product_code"`
	Name        string    `gorm:"type:text;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Category    string    `gorm:"type:text;index:idx_products_category" json:"category,omitempty"`
	StorageKey  string    `gorm:"type:text" json:"storage_key"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string {
	return "products"
}
