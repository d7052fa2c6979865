package schema

import "time"

// ProductTranslation represents the product_translations table - the
// per-language text of a product. Exactly one row per (product, language).
type ProductTranslation struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID int64  `gorm:"column:product_id;not null;uniqueIndex:idx_product_translations_product_language,priority:1"`
	Language  string `gorm:"column:language;not null;type:text;uniqueIndex:idx_product_translations_product_language,priority:2"`

	Name           string `gorm:"column:name;not null;type:text"`
	Description    string `gorm:"column:description;type:text"`
	TechnicalSheet string `gorm:"column:technical_sheet;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the ProductTranslation model
func (ProductTranslation) TableName() string {
	return "product_translations"
}
