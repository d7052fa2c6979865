package schema

import (
	"time"

	"gorm.io/datatypes"
)

// ImportJobStatus represents the lifecycle state of an import job.
// Transitions are strictly forward: processing → completed | failed.
type ImportJobStatus string

const (
	ImportJobProcessing ImportJobStatus = "processing"
	ImportJobCompleted  ImportJobStatus = "completed"
	ImportJobFailed     ImportJobStatus = "failed"
)

// ImportJob represents the import_jobs table - one row per submitted import
// run, kept after completion so past runs stay queryable.
type ImportJob struct {
	// ID is the ULID assigned at submission
	ID string `gorm:"column:id;primaryKey;type:text"`

	Status ImportJobStatus `gorm:"column:status;not null;type:text;index:idx_import_jobs_status"`
	// Source describes where the CSV came from (path, URL or upload name)
	Source string `gorm:"column:source;type:text"`
	// Category is the asset subdirectory the run imported into
	Category string `gorm:"column:category;type:text"`
	// Policy is the conflict policy the run was submitted with
	Policy string `gorm:"column:policy;not null;type:text;default:skip"`

	Processed        int   `gorm:"column:processed;not null;default:0"`
	Imported         int   `gorm:"column:imported;not null;default:0"`
	AlreadyExists    int   `gorm:"column:already_exists;not null;default:0"`
	Errored          int   `gorm:"column:errored;not null;default:0"`
	Downloaded       int   `gorm:"column:downloaded;not null;default:0"`
	BytesTransferred int64 `gorm:"column:bytes_transferred;not null;default:0"`

	// Report is the full JSON summary written at the end of the run
	Report datatypes.JSON `gorm:"column:report;type:jsonb"`

	CreatedAt  time.Time  `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	FinishedAt *time.Time `gorm:"column:finished_at;type:timestamptz"`
}

// TableName specifies the table name for the ImportJob model
func (ImportJob) TableName() string {
	return "import_jobs"
}
