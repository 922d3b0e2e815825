package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/bom-generator/internal/types"
)

// Run status values
const (
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusIncomplete = "incomplete"
)

// Run represents a generation run record
type Run struct {
	ID           uuid.UUID  `json:"id"`
	Industry     string     `json:"industry"`
	ProductType  string     `json:"product_type"`
	PartCount    int        `json:"part_count"`
	NestingDepth int        `json:"nesting_depth"`
	Status       string     `json:"status"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Calls        int        `json:"calls"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Usage returns the run's recorded token usage.
func (r Run) Usage() types.UsageSummary {
	return types.UsageSummary{InputTokens: r.InputTokens, OutputTokens: r.OutputTokens, Calls: r.Calls}
}

// Document represents a stored document record
type Document struct {
	ID        int64     `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	Stage     string    `json:"stage"`
	Filename  string    `json:"filename"`
	Content   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Named converts the record back into a NamedDocument.
func (d Document) Named() types.NamedDocument {
	return types.NamedDocument{Filename: d.Filename, Bytes: d.Content}
}

// NamedDocuments converts records in order.
func NamedDocuments(docs []Document) []types.NamedDocument {
	named := make([]types.NamedDocument, 0, len(docs))
	for _, d := range docs {
		named = append(named, d.Named())
	}
	return named
}
