// Package runs is the ledger of processing runs.
package runs

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run records the outcome of one pipeline invocation.
type Run struct {
	ID                   string     `db:"id" json:"id"`
	DocumentID           string     `db:"document_id" json:"document_id"`
	Status               Status     `db:"status" json:"status"`
	DocumentType         *string    `db:"document_type" json:"document_type,omitempty"`
	Confidence           *float64   `db:"confidence" json:"confidence,omitempty"`
	PatientMatched       bool       `db:"patient_matched" json:"patient_matched"`
	ReviewerAutoAssigned bool       `db:"reviewer_auto_assigned" json:"reviewer_auto_assigned"`
	TemplatesPrefilled   int        `db:"templates_prefilled" json:"templates_prefilled"`
	EffectCount          int        `db:"effect_count" json:"effect_count"`
	Error                string     `db:"error" json:"error,omitempty"`
	StartedAt            time.Time  `db:"started_at" json:"started_at"`
	FinishedAt           *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID so runs sort by creation time.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Start opens a run for documentID.
func Start(documentID string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:         NewID(now),
		DocumentID: documentID,
		StartedAt:  now,
	}
}

// Finish closes the run, marking it failed when errText is set.
func (r *Run) Finish(errText string) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Error = errText
	r.Status = StatusCompleted
	if errText != "" {
		r.Status = StatusFailed
	}
}

// Duration is zero for unfinished runs.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
