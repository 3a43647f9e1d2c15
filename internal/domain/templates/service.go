package templates

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/domain/effects"
	"github.com/ehr/docproc/internal/domain/extraction"
)

type Service struct {
	repo         Repository
	scorer       *Scorer
	orchestrator *Orchestrator
	logger       zerolog.Logger
}

func NewService(repo Repository, extractor Extractor, cfg Config, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "prefill").Logger()
	return &Service{
		repo:         repo,
		scorer:       NewScorer(repo, cfg, logger),
		orchestrator: NewOrchestrator(repo, extractor, cfg, logger),
		logger:       logger,
	}
}

// Prefill matches report templates of the given kind against the extraction
// and extracts their fields. It returns nil when the extraction has no codes
// or no template could be filled.
func (s *Service) Prefill(ctx context.Context, documentID, fileURL string, kind Kind, e *extraction.DocumentExtraction, confidence *float64) (*effects.PrefillDocumentFields, error) {
	log := s.logger.With().Str("document_id", documentID).Stringer("kind", kind).Logger()

	codes := ExtractCodes(kind, e)
	if len(codes) == 0 {
		log.Info().Msg("no codes to match")
		return nil, nil
	}
	var keywords []string
	if e != nil {
		keywords = e.Keywords()
	}

	candidates, err := s.scorer.Score(ctx, kind, codes, keywords)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		log.Info().Strs("codes", codes.Sorted()).Msg("no matching templates")
		return nil, nil
	}
	log.Info().
		Int("candidates", len(candidates)).
		Str("top", candidates[0].Name).
		Float64("score", candidates[0].Score).
		Msg("scored templates")

	filled, err := s.orchestrator.ExtractFields(ctx, fileURL, candidates, codes, confidence)
	if err != nil {
		return nil, err
	}
	if len(filled) == 0 {
		return nil, nil
	}
	return effects.NewPrefillDocumentFields(documentID, filled)
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, []*Field, error) {
	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	fields, err := s.repo.FieldsForTemplate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, fields, nil
}

func (s *Service) ListTemplates(ctx context.Context, kind Kind) ([]*Template, error) {
	return s.repo.ListTemplates(ctx, kind)
}

// CreateTemplate stores a template and its fields.
func (s *Service) CreateTemplate(ctx context.Context, t *Template, fields []*Field) error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if _, ok := kindNames[t.Kind]; !ok {
		return fmt.Errorf("template kind is required")
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return err
	}
	for _, f := range fields {
		f.TemplateID = t.ID
		if err := s.repo.AddField(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
