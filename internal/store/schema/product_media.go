package schema

import (
	"time"

	"github.com/equimed/catalog-importer/internal/domain"
)

// ProductMedia represents the product_media table - materialized assets
// attached to a product. At most one primary image per product (enforced by
// the importer, which builds each product's media set as a unit).
type ProductMedia struct {
	ID        int64 `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID int64 `gorm:"column:product_id;not null;index:idx_product_media_product;uniqueIndex:idx_product_media_product_path,priority:1"`

	Kind domain.AssetKind `gorm:"column:kind;not null;type:text"`
	Role domain.AssetRole `gorm:"column:role;not null;type:text"`
	// Path is relative to the assets root
	Path string `gorm:"column:path;not null;type:text;uniqueIndex:idx_product_media_product_path,priority:2"`

	MimeType      *string `gorm:"column:mime_type;type:text"`
	FileSizeBytes *int64  `gorm:"column:file_size_bytes"`

	IsPrimary bool `gorm:"column:is_primary;not null;default:false"`
	SortOrder int  `gorm:"column:sort_order;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the ProductMedia model
func (ProductMedia) TableName() string {
	return "product_media"
}
