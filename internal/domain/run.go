package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

func ValidRunStatus(s string) bool {
	switch RunStatus(s) {
	case RunPending, RunProcessing, RunCompleted, RunFailed:
		return true
	}
	return false
}

// AnalysisRun is one NLP pass over one piece of content, deduplicated by
// (source_ref, content_hash). A run stuck in processing past the staleness
// window is reclaimed as pending so the ingest can be retried.
type AnalysisRun struct {
	ID          uuid.UUID `json:"id"`
	SourceRef   string    `json:"source_ref"`
	ContentHash string    `json:"content_hash"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
