package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/equimed/catalog-importer/internal/domain"
	"github.com/equimed/catalog-importer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance. The gorm connection
// must be opened with TranslateError enabled so unique violations surface as
// gorm.ErrDuplicatedKey.
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Migrate creates or updates the catalog tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Product{},
		&schema.ProductTranslation{},
		&schema.ProductMedia{},
		&schema.ImportJob{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values select defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 10
	}
	if maxIdleConns == 0 {
		maxIdleConns = 2
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = time.Hour
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// GetProductByReference retrieves a product by its supplier reference
func (s *pgStore) GetProductByReference(ctx context.Context, externalReference string) (*schema.Product, error) {
	var product schema.Product
	err := s.db.WithContext(ctx).
		Preload("Translations").
		Preload("Media").
		Where("external_reference = ?", externalReference).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product by reference: %w", err)
	}
	return &product, nil
}

// ProductSlugExists reports whether a slug is already taken
func (s *pgStore) ProductSlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.Product{}).
		Where("slug = ?", slug).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

// CreateProductWithChildren creates a product plus its translations and media
// atomically. The uniqueness constraint on external_reference is the true
// arbiter of "already imported": a concurrent run's violation is reported as
// domain.ErrDuplicateReference, not a crash.
func (s *pgStore) CreateProductWithChildren(ctx context.Context, product *schema.Product) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(product).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// ReplaceProductChildren swaps a product's translations and media atomically
func (s *pgStore) ReplaceProductChildren(ctx context.Context, productID int64, translations []schema.ProductTranslation, media []schema.ProductMedia) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&schema.ProductTranslation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", productID).Delete(&schema.ProductMedia{}).Error; err != nil {
			return err
		}
		if len(translations) > 0 {
			for i := range translations {
				translations[i].ProductID = productID
			}
			if err := tx.Create(&translations).Error; err != nil {
				return err
			}
		}
		if len(media) > 0 {
			for i := range media {
				media[i].ProductID = productID
			}
			if err := tx.Create(&media).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace product children: %w", err)
	}
	return nil
}

// MergeProductChildren inserts only the translations and media the product
// does not have yet, keyed by (product, language) and (product, path)
func (s *pgStore) MergeProductChildren(ctx context.Context, productID int64, translations []schema.ProductTranslation, media []schema.ProductMedia) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(translations) > 0 {
			for i := range translations {
				translations[i].ProductID = productID
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "product_id"}, {Name: "language"}},
				DoNothing: true,
			}).Create(&translations).Error; err != nil {
				return err
			}
		}
		if len(media) > 0 {
			for i := range media {
				media[i].ProductID = productID
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "product_id"}, {Name: "path"}},
				DoNothing: true,
			}).Create(&media).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge product children: %w", err)
	}
	return nil
}

// CreateImportJob records a newly submitted import run
func (s *pgStore) CreateImportJob(ctx context.Context, job *schema.ImportJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// FinishImportJob writes a job's terminal state and counts
func (s *pgStore) FinishImportJob(ctx context.Context, job *schema.ImportJob) error {
	if job.FinishedAt == nil {
		now := time.Now().UTC()
		job.FinishedAt = &now
	}
	err := s.db.WithContext(ctx).
		Model(&schema.ImportJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":            job.Status,
			"processed":         job.Processed,
			"imported":          job.Imported,
			"already_exists":    job.AlreadyExists,
			"errored":           job.Errored,
			"downloaded":        job.Downloaded,
			"bytes_transferred": job.BytesTransferred,
			"report":            job.Report,
			"finished_at":       job.FinishedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	return nil
}

// GetImportJob retrieves a job by ID
func (s *pgStore) GetImportJob(ctx context.Context, id string) (*schema.ImportJob, error) {
	var job schema.ImportJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return &job, nil
}
