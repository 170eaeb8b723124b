package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ErrorClass is the coarse failure tag supplied by the content collaborator.
// The pipeline records it but does not interpret it further.
type ErrorClass string

const (
	ErrorClassFetch      ErrorClass = "fetch"
	ErrorClassProcessing ErrorClass = "processing"
)

// Job is one durable unit of ingestion work. ProcessedAt is set on the
// transition into processing and again on the terminal transition; a requeued
// or recovered job has it reset to nil so it is indistinguishable from a
// freshly enqueued one.
type Job struct {
	ID          int64      `json:"id"`
	BatchID     uuid.UUID  `json:"batch_id"`
	LibraryID   string     `json:"library_id"`
	Source      string     `json:"source"`
	SourceType  string     `json:"source_type"`
	OriginURL   string     `json:"origin_url,omitempty"`
	Status      JobStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	ErrorClass  *string    `json:"error_class,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// JobInput is the payload for one job at enqueue time. Source and SourceType
// are opaque to the pipeline.
type JobInput struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	OriginURL  string `json:"origin_url,omitempty"`
}

// BatchSummary is computed fresh from the jobs table, never cached.
type BatchSummary struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}
