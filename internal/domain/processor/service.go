// Package processor drives one inbound document through categorization,
// identity matching and template prefill, and returns the resulting effects.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/domain/categorize"
	"github.com/ehr/docproc/internal/domain/documents"
	"github.com/ehr/docproc/internal/domain/effects"
	"github.com/ehr/docproc/internal/domain/extraction"
	"github.com/ehr/docproc/internal/domain/identity"
	"github.com/ehr/docproc/internal/domain/runs"
	"github.com/ehr/docproc/internal/domain/templates"
	"github.com/ehr/docproc/internal/platform/webhook"
)

var (
	ErrMissingDocument    = errors.New("missing document id or url")
	ErrMissingCredentials = errors.New("missing Extend.ai credentials")
	ErrCategorization     = errors.New("categorization failed")
)

type Categorizer interface {
	Categorize(ctx context.Context, fileURL string, types []documents.Type) *categorize.Result
}

type Matcher interface {
	Match(ctx context.Context, e *extraction.DocumentExtraction) (identity.PatientMatch, identity.ReviewerMatch, error)
}

type Prefiller interface {
	Prefill(ctx context.Context, documentID, fileURL string, kind templates.Kind, e *extraction.DocumentExtraction, confidence *float64) (*effects.PrefillDocumentFields, error)
}

// Notifier delivers the effect batch of a run to an external receiver.
type Notifier interface {
	Deliver(ctx context.Context, event webhook.Event) (*webhook.DeliveryAttempt, error)
}

// Recorder receives pipeline metrics.
type Recorder interface {
	RunFinished(status string, d time.Duration)
	EffectEmitted(effectType string)
	MatchOutcome(subject, tier, status string)
	TemplatesPrefilled(n int)
	CallbackDelivered(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, time.Duration)   {}
func (nopRecorder) EffectEmitted(string)                {}
func (nopRecorder) MatchOutcome(string, string, string) {}
func (nopRecorder) TemplatesPrefilled(int)              {}
func (nopRecorder) CallbackDelivered(bool)              {}

// Result is the outcome of one run. Effects is empty when Run failed.
type Result struct {
	Run     *runs.Run
	Effects []effects.Effect
}

func (r *Result) Envelopes() []effects.Envelope {
	return effects.Wrap(r.Effects)
}

type Option func(*Service)

// WithDefaultTypes sets the document types offered to the classifier when a
// document carries none.
func WithDefaultTypes(types []documents.Type) Option {
	return func(s *Service) { s.defaultTypes = types }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

type Service struct {
	categorizer  Categorizer
	matcher      Matcher
	prefiller    Prefiller
	runs         runs.Repository
	notifier     Notifier
	metrics      Recorder
	defaultTypes []documents.Type
	logger       zerolog.Logger
}

// NewService builds the pipeline. A nil categorizer means the extraction API
// credentials are not configured; every run then fails with
// ErrMissingCredentials.
func NewService(categorizer Categorizer, matcher Matcher, prefiller Prefiller, ledger runs.Repository, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		categorizer: categorizer,
		matcher:     matcher,
		prefiller:   prefiller,
		runs:        ledger,
		metrics:     nopRecorder{},
		logger:      logger.With().Str("component", "processor").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process runs the pipeline for doc. The returned Result is never nil and
// its run is recorded in the ledger whether or not the pipeline succeeded.
func (s *Service) Process(ctx context.Context, doc documents.Document) (*Result, error) {
	run := runs.Start(doc.ID)
	res := &Result{Run: run}
	log := s.logger.With().Str("document_id", doc.ID).Str("run_id", run.ID).Logger()

	list, err := s.process(ctx, doc, run, log)
	if err != nil {
		log.Error().Err(err).Msg("document processing failed")
		s.finish(ctx, run, nil, err.Error(), log)
		return res, err
	}

	res.Effects = list
	s.finish(ctx, run, list, "", log)
	s.notify(ctx, res, log)
	log.Info().Int("effects", len(list)).Msg("document processed")
	return res, nil
}

func (s *Service) process(ctx context.Context, doc documents.Document, run *runs.Run, log zerolog.Logger) ([]effects.Effect, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingDocument, err)
	}
	if s.categorizer == nil {
		return nil, ErrMissingCredentials
	}

	types := doc.AvailableTypes
	if len(types) == 0 {
		types = s.defaultTypes
	}

	cat := s.categorizer.Categorize(ctx, doc.ContentURL, types)
	if !cat.OK() {
		return nil, fmt.Errorf("%w: %s", ErrCategorization, cat.Err)
	}
	run.Confidence = cat.Confidence
	if cat.DocumentType != nil {
		key := cat.DocumentType.Key
		run.DocumentType = &key
	}

	pm, rm := s.match(ctx, cat.Extraction, log)
	if pm.Err != "" {
		log.Warn().Str("reason", pm.Err).Msg("patient match ambiguous")
	}
	run.PatientMatched = pm.Found()
	run.ReviewerAutoAssigned = rm.Found() && rm.AutoAssigned

	var list []effects.Effect
	if cat.DocumentType != nil {
		list = appendEffect(list, log, func() (effects.Effect, error) {
			return effects.NewCategorizeDocument(doc.ID, *cat.DocumentType, cat.Confidence, pm.Err)
		})
		if cat.DocumentType.TemplateType != "" {
			if prefill := s.prefill(ctx, doc, cat, log); prefill != nil {
				run.TemplatesPrefilled = len(prefill.Templates)
				list = append(list, prefill)
			}
		}
	}
	if pm.Found() {
		list = appendEffect(list, log, func() (effects.Effect, error) {
			return effects.NewLinkDocumentToPatient(doc.ID, pm.Patient.ID, cat.Confidence)
		})
	}
	if rm.Found() {
		list = appendEffect(list, log, func() (effects.Effect, error) {
			return effects.NewAssignDocumentReviewer(doc.ID, rm.Reviewer.ID, rm.AutoAssigned, cat.Confidence, pm.Err)
		})
	}
	return list, nil
}

// match resolves identities. A store failure on one side degrades that side
// to "not found"; whatever the other side resolved is kept.
func (s *Service) match(ctx context.Context, e *extraction.DocumentExtraction, log zerolog.Logger) (identity.PatientMatch, identity.ReviewerMatch) {
	pm, rm, err := s.matcher.Match(ctx, e)
	if err != nil {
		log.Error().Err(err).
			Bool("patient_found", pm.Found()).
			Bool("reviewer_found", rm.Found()).
			Msg("identity lookup failed")
	}
	s.metrics.MatchOutcome("patient", pm.Tier, pm.Status.String())
	s.metrics.MatchOutcome("reviewer", rm.Tier, rm.Status.String())
	return pm, rm
}

func (s *Service) prefill(ctx context.Context, doc documents.Document, cat *categorize.Result, log zerolog.Logger) *effects.PrefillDocumentFields {
	if s.prefiller == nil {
		return nil
	}
	kind, err := templates.ParseKind(cat.DocumentType.TemplateType)
	if err != nil {
		log.Warn().Err(err).Msg("skipping prefill")
		return nil
	}
	out, err := s.prefiller.Prefill(ctx, doc.ID, doc.ContentURL, kind, cat.Extraction, cat.Confidence)
	if err != nil {
		log.Error().Err(err).Msg("prefill failed")
		return nil
	}
	return out
}

func appendEffect(list []effects.Effect, log zerolog.Logger, build func() (effects.Effect, error)) []effects.Effect {
	e, err := build()
	if err != nil {
		log.Warn().Err(err).Msg("dropping effect")
		return list
	}
	return append(list, e)
}

func (s *Service) finish(ctx context.Context, run *runs.Run, list []effects.Effect, errText string, log zerolog.Logger) {
	run.EffectCount = len(list)
	run.Finish(errText)

	for _, e := range list {
		s.metrics.EffectEmitted(e.EffectType())
	}
	s.metrics.TemplatesPrefilled(run.TemplatesPrefilled)
	s.metrics.RunFinished(string(run.Status), run.Duration())

	if s.runs == nil {
		return
	}
	if err := s.runs.Create(ctx, run); err != nil {
		log.Error().Err(err).Msg("failed to record processing run")
	}
}

func (s *Service) notify(ctx context.Context, res *Result, log zerolog.Logger) {
	if s.notifier == nil || len(res.Effects) == 0 {
		return
	}
	event, err := webhook.NewEvent(res.Run.DocumentID, res.Run.ID, res.Envelopes())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode effects callback")
		s.metrics.CallbackDelivered(false)
		return
	}
	if _, err := s.notifier.Deliver(ctx, event); err != nil {
		log.Warn().Err(err).Msg("effects callback failed")
		s.metrics.CallbackDelivered(false)
		return
	}
	s.metrics.CallbackDelivered(true)
}

// Run returns one recorded run.
func (s *Service) Run(ctx context.Context, id string) (*runs.Run, error) {
	return s.runs.GetByID(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]*runs.Run, int, error) {
	return s.runs.List(ctx, limit, offset)
}

func (s *Service) RunsForDocument(ctx context.Context, documentID string) ([]*runs.Run, error) {
	return s.runs.ListByDocument(ctx, documentID)
}
