package model

import (
	"github.com/shopspring/decimal"
)

func init() {
	// prices are rendered as JSON numbers, not strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Product catalog product model
type Product struct {
	ID          string          `gorm:"primaryKey;type:varchar(36);comment:product ID" json:"id"`
	Name        string          `gorm:"type:varchar(200);not null;comment:product name" json:"name"`
	Description string          `gorm:"type:text;comment:product description" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(18,2);not null;comment:unit price" json:"price"`
	Category    string          `gorm:"type:varchar(64);index;comment:category" json:"category"`
	Stock       int             `gorm:"type:int;not null;default:0;comment:units on hand" json:"stock"`
}

// TableName set name
func (Product) TableName() string {
	return "products"
}

// Product categories used by the demo seed
const (
	CategoryMen   = "Men"
	CategoryWomen = "Women"
)

// HasStock reports whether at least quantity units can be taken
func (p *Product) HasStock(quantity int) bool {
	return p.Stock >= quantity
}
