// Package progress holds the externally visible state of running import
// jobs. The store is injected rather than a process-wide map so progress
// survives restarts when backed by Redis and stays safe under concurrent
// jobs.
package progress

import (
	"context"
	"time"
)

// Status is the lifecycle state of an import job. Transitions are strictly
// forward: processing → completed | failed. A failed job is never resumed.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AssetProgress is the resolution of one remote asset within a job
type AssetProgress struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	// Deduped is true when the asset was already materialized locally
	Deduped bool   `json:"deduped"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is the pollable state of one import job
type Snapshot struct {
	Status Status `json:"status"`
	// Progress is a percentage in [0,100]
	Progress       int             `json:"progress"`
	CurrentStep    string          `json:"current_step,omitempty"`
	TotalItems     int             `json:"total_items"`
	ProcessedItems int             `json:"processed_items"`
	AssetProgress  []AssetProgress `json:"asset_progress,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Store persists job progress snapshots keyed by job ID. Implementations
// must be safe for concurrent use. Forward-only status transitions are the
// writer's responsibility, not the store's.
type Store interface {
	// Put writes the snapshot for a job, replacing any previous one
	Put(ctx context.Context, jobID string, snap Snapshot) error
	// Get retrieves the snapshot for a job. Returns domain.ErrJobNotFound
	// when the job is unknown or its snapshot has expired.
	Get(ctx context.Context, jobID string) (*Snapshot, error)
}
