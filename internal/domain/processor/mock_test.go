package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/docproc/internal/domain/categorize"
	"github.com/ehr/docproc/internal/domain/documents"
	"github.com/ehr/docproc/internal/domain/effects"
	"github.com/ehr/docproc/internal/domain/extraction"
	"github.com/ehr/docproc/internal/domain/identity"
	"github.com/ehr/docproc/internal/domain/templates"
	"github.com/ehr/docproc/internal/platform/webhook"
)

type mockCategorizer struct {
	result   *categorize.Result
	calls    int
	gotTypes []documents.Type
	gotURL   string
}

func (m *mockCategorizer) Categorize(_ context.Context, fileURL string, types []documents.Type) *categorize.Result {
	m.calls++
	m.gotURL = fileURL
	m.gotTypes = types
	return m.result
}

type mockMatcher struct {
	patient  identity.PatientMatch
	reviewer identity.ReviewerMatch
	err      error
}

func (m *mockMatcher) Match(context.Context, *extraction.DocumentExtraction) (identity.PatientMatch, identity.ReviewerMatch, error) {
	return m.patient, m.reviewer, m.err
}

type mockPrefiller struct {
	out     *effects.PrefillDocumentFields
	err     error
	calls   int
	gotKind templates.Kind
}

func (m *mockPrefiller) Prefill(_ context.Context, documentID, _ string, kind templates.Kind, _ *extraction.DocumentExtraction, _ *float64) (*effects.PrefillDocumentFields, error) {
	m.calls++
	m.gotKind = kind
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

type mockNotifier struct {
	events []webhook.Event
	err    error
}

func (m *mockNotifier) Deliver(_ context.Context, event webhook.Event) (*webhook.DeliveryAttempt, error) {
	m.events = append(m.events, event)
	if m.err != nil {
		return nil, m.err
	}
	return &webhook.DeliveryAttempt{EventID: event.ID, Status: "success"}, nil
}

type recordingRecorder struct {
	runs      map[string]int
	effects   map[string]int
	matches   []string
	prefilled int
	callbacks map[bool]int
}

func newRecorder() *recordingRecorder {
	return &recordingRecorder{runs: map[string]int{}, effects: map[string]int{}, callbacks: map[bool]int{}}
}

func (r *recordingRecorder) RunFinished(status string, _ time.Duration) { r.runs[status]++ }
func (r *recordingRecorder) EffectEmitted(t string)                     { r.effects[t]++ }
func (r *recordingRecorder) MatchOutcome(subject, tier, status string) {
	r.matches = append(r.matches, subject+"/"+tier+"/"+status)
}
func (r *recordingRecorder) TemplatesPrefilled(n int)  { r.prefilled += n }
func (r *recordingRecorder) CallbackDelivered(ok bool) { r.callbacks[ok]++ }

var errStore = errors.New("connection refused")

func ptr(f float64) *float64 { return &f }

var labType = documents.Type{Key: "lab", Name: "Lab Report", ReportType: "LAB", TemplateType: "LabReportTemplate"}

func foundPatient() identity.PatientMatch {
	return identity.PatientMatch{
		Status:  identity.MatchFound,
		Patient: &identity.Patient{ID: uuid.New(), MRN: "MRN-1", FirstName: "Ada", LastName: "Lovelace"},
		Tier:    identity.TierMRN,
	}
}

func autoReviewer() identity.ReviewerMatch {
	return identity.ReviewerMatch{
		Status:       identity.MatchFound,
		Reviewer:     &identity.Staff{ID: uuid.New(), FirstName: "Canvas", LastName: "Bot", Active: true},
		AutoAssigned: true,
		Tier:         identity.TierAutoAssign,
	}
}

func prefillEffect(docID string) *effects.PrefillDocumentFields {
	return &effects.PrefillDocumentFields{
		DocumentID: docID,
		Templates: []effects.PrefillTemplate{{
			TemplateID:   uuid.New(),
			TemplateName: "CBC",
			Fields:       map[string]effects.PrefillField{"718-7": {Value: "13.2", Unit: "g/dL"}},
		}},
		Annotations: []effects.Annotation{},
	}
}
