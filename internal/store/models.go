package store

import "time"

// Document is the registry row for an editable document.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SaveRecord journals one executed persistence attempt so retry behavior
// and failure causes stay auditable after the fact. ID is unique per
// attempt; TaskID groups the attempts of one scheduled save, so a
// retried task contributes several rows sharing a TaskID.
type SaveRecord struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"taskId"`
	DocumentID string    `json:"documentId"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	RetryCount int       `json:"retryCount"`
	DurationMS int64     `json:"durationMs"`
	CommitHash string    `json:"commitHash,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
)
