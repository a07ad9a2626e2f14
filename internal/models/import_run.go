package models

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys for the single-record sync bookkeeping
const (
	MetaKeyDataImport = "dataImport" // written by every successful import
	MetaKeyDataSync   = "data_sync"  // written when a login triggers an import
)

// Trigger types recorded on each import run
const (
	TriggerTypeLogin     = "login"
	TriggerTypeAdmin     = "admin"
	TriggerTypeScheduled = "scheduled"
	TriggerTypeManual    = "manual"
)

// Import run status values
const (
	ImportStatusCompleted = "completed"
	ImportStatusFailed    = "failed"
)

// SyncMetadata is a single overwrite-in-place record holding a sync timestamp
type SyncMetadata struct {
	PK string `json:"-" dynamodbav:"PK"` // META#{key}
	SK string `json:"-" dynamodbav:"SK"` // METADATA

	EntityType string `json:"-" dynamodbav:"entity_type"`

	Key            string    `json:"key" dynamodbav:"key"`
	LastImportedAt time.Time `json:"lastImportedAt" dynamodbav:"last_imported_at"`
	UpdatedAt      time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// ImportSummary describes the outcome of a single import run
type ImportSummary struct {
	RunID       string    `json:"runId"`
	TriggerType string    `json:"triggerType"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Duration    int64     `json:"durationMs"`

	// Feed contents after normalization
	FeedVenues int `json:"feedVenues"`
	FeedEvents int `json:"feedEvents"`

	// Selection
	CandidateVenues int `json:"candidateVenues"`
	SelectedVenues  int `json:"selectedVenues"`
	SelectedEvents  int `json:"selectedEvents"`

	// Reconciliation
	VenuesWritten int `json:"venuesWritten"`
	EventsWritten int `json:"eventsWritten"`
	EventsSkipped int `json:"eventsSkipped"`

	ArchivedFiles []string `json:"archivedFiles,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// ImportInvocation is the payload accepted by the import Lambda
type ImportInvocation struct {
	Source      string `json:"source,omitempty"`
	DetailType  string `json:"detail-type,omitempty"`
	TriggerType string `json:"trigger-type,omitempty"`
}

// ImportResult is the response returned by the import Lambda
type ImportResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Summary *ImportSummary `json:"summary,omitempty"`
}

// DataSyncStatus is reported to the client after login
type DataSyncStatus struct {
	DidImport   bool      `json:"didImport"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// GenerateImportRunID creates a unique ID for an import run
func GenerateImportRunID(timestamp time.Time) string {
	return "run_" + timestamp.UTC().Format("20060102T150405") + "_" + uuid.NewString()[:8]
}

// ImportLease is the lock record held while an import runs
type ImportLease struct {
	PK string `json:"-" dynamodbav:"PK"` // LOCK#{name}
	SK string `json:"-" dynamodbav:"SK"` // METADATA

	EntityType string `json:"-" dynamodbav:"entity_type"`

	Owner      string    `json:"owner" dynamodbav:"owner"`
	AcquiredAt time.Time `json:"acquiredAt" dynamodbav:"acquired_at"`
	ExpiresAt  int64     `json:"expiresAt" dynamodbav:"expires_at"` // unix seconds, compared in conditions
	TTL        int64     `json:"-" dynamodbav:"ttl"`
}
