package store

import (
	"context"

	"github.com/equimed/catalog-importer/internal/store/schema"
)

// Store defines the interface for database operations
type Store interface {
	// GetProductByReference retrieves a product by its supplier reference,
	// with translations and media preloaded
	GetProductByReference(ctx context.Context, externalReference string) (*schema.Product, error)
	// ProductSlugExists reports whether a slug is already taken
	ProductSlugExists(ctx context.Context, slug string) (bool, error)
	// CreateProductWithChildren creates a product plus its translations and
	// media atomically. A unique violation on the external reference maps
	// to domain.ErrDuplicateReference.
	CreateProductWithChildren(ctx context.Context, product *schema.Product) error
	// ReplaceProductChildren swaps a product's translations and media for
	// the given sets atomically
	ReplaceProductChildren(ctx context.Context, productID int64, translations []schema.ProductTranslation, media []schema.ProductMedia) error
	// MergeProductChildren inserts only the translations and media the
	// product does not have yet
	MergeProductChildren(ctx context.Context, productID int64, translations []schema.ProductTranslation, media []schema.ProductMedia) error

	// CreateImportJob records a newly submitted import run
	CreateImportJob(ctx context.Context, job *schema.ImportJob) error
	// FinishImportJob writes a job's terminal state and counts
	FinishImportJob(ctx context.Context, job *schema.ImportJob) error
	// GetImportJob retrieves a job by ID
	GetImportJob(ctx context.Context, id string) (*schema.ImportJob, error)
}
