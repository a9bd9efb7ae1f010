package models

import (
	"time"
)

// Product is a catalog entry, deduplicated by URL
type Product struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string     `gorm:"column:name;not null" json:"name"`
	URL          string     `gorm:"column:url;uniqueIndex;not null" json:"url"`
	Platform     string     `gorm:"column:platform;index;not null" json:"platform"`
	Category     string     `gorm:"column:category" json:"category,omitempty"`
	CurrentPrice *float64   `gorm:"column:current_price" json:"current_price,omitempty"`
	LastUpdated  *time.Time `gorm:"column:last_updated" json:"last_updated,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	History []PriceHistory `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName overrides the table name used by Product to `products`
func (Product) TableName() string {
	return "products"
}

// PriceHistory is one accepted price observation. Rows are append-only.
type PriceHistory struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID uint      `gorm:"column:product_id;not null;index:idx_price_history_product_time" json:"product_id"`
	Price     float64   `gorm:"column:price;not null" json:"price"`
	Timestamp time.Time `gorm:"column:timestamp;index:idx_price_history_product_time" json:"timestamp"`
}

// TableName overrides the table name used by PriceHistory to `price_history`
func (PriceHistory) TableName() string {
	return "price_history"
}

// ProductUpdate carries the mutable product fields; nil fields are left alone
type ProductUpdate struct {
	Name         *string
	CurrentPrice *float64
	LastUpdated  *time.Time
}

// Empty reports whether the update would change nothing
func (u ProductUpdate) Empty() bool {
	return u.Name == nil && u.CurrentPrice == nil && u.LastUpdated == nil
}

// Columns returns the update as a column map for the store
func (u ProductUpdate) Columns() map[string]interface{} {
	columns := make(map[string]interface{}, 3)
	if u.Name != nil {
		columns["name"] = *u.Name
	}
	if u.CurrentPrice != nil {
		columns["current_price"] = *u.CurrentPrice
	}
	if u.LastUpdated != nil {
		columns["last_updated"] = *u.LastUpdated
	}
	return columns
}

// Apply copies the update onto an in-memory product
func (u ProductUpdate) Apply(p *Product) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.CurrentPrice != nil {
		price := *u.CurrentPrice
		p.CurrentPrice = &price
	}
	if u.LastUpdated != nil {
		ts := *u.LastUpdated
		p.LastUpdated = &ts
	}
}
