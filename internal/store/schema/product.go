package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/equimed/catalog-importer/internal/domain"
)

// Product represents the products table - one catalog record per supplier reference
type Product struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`

	// ExternalReference is the supplier's own product code. Its uniqueness
	// constraint is the arbiter of import idempotence.
	ExternalReference string `gorm:"column:external_reference;not null;type:text;uniqueIndex:idx_products_external_reference"`
	// Slug is the generated URL-safe identifier
	Slug string `gorm:"column:slug;not null;type:text;uniqueIndex:idx_products_slug"`

	Manufacturer string               `gorm:"column:manufacturer;type:text"`
	Category     string               `gorm:"column:category;type:text;index:idx_products_category"`
	Status       domain.ProductStatus `gorm:"column:status;not null;type:text;default:active"`
	Featured     bool                 `gorm:"column:featured;not null;default:false"`

	// Attributes keeps unrecognized supplier columns as JSON so no source
	// data is lost between import cycles
	Attributes datatypes.JSON `gorm:"column:attributes;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	Translations []ProductTranslation `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	Media        []ProductMedia       `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Product model
func (Product) TableName() string {
	return "products"
}
