package templates

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/ehr/docproc/internal/domain/extraction"
)

// Config holds the matching heuristics. The defaults are tuned values, not
// invariants.
type Config struct {
	ScoreThreshold   float64
	GapFillThreshold float64
	KeywordBonus     float64
	MaxFields        int
	FallbackScore    float64
	FallbackLimit    int
}

func DefaultConfig() Config {
	return Config{
		ScoreThreshold:   0.3,
		GapFillThreshold: 0.05,
		KeywordBonus:     0.05,
		MaxFields:        120,
		FallbackScore:    0.1,
		FallbackLimit:    3,
	}
}

// ExtractCodes returns the valid codes of the extraction matched by kind:
// LOINC for lab templates, SNOMED otherwise.
func ExtractCodes(kind Kind, e *extraction.DocumentExtraction) extraction.CodeSet {
	if e == nil {
		return extraction.CodeSet{}
	}
	return e.Codes(kind.CodeSystem())
}

// Scorer ranks report templates by inverse-frequency weighted code overlap.
type Scorer struct {
	repo   Repository
	cfg    Config
	logger zerolog.Logger
}

func NewScorer(repo Repository, cfg Config, logger zerolog.Logger) *Scorer {
	return &Scorer{repo: repo, cfg: cfg, logger: logger}
}

// Score ranks templates of the given kind against codes. Each code weighs
// 1/n where n is the number of templates carrying it; a template scores the
// share of the total weight it matches plus a bonus per keyword found in its
// name or search keywords, capped at 1. When no field matches any code the
// keyword search fallback is used instead.
func (s *Scorer) Score(ctx context.Context, kind Kind, codes extraction.CodeSet, keywords []string) ([]Candidate, error) {
	fields, err := s.repo.FieldsByCodes(ctx, kind, codes.Sorted())
	if err != nil {
		return nil, fmt.Errorf("score templates: %w", err)
	}
	if len(fields) == 0 {
		return s.keywordFallback(ctx, kind, keywords)
	}

	codeTemplates := make(map[string]map[uuid.UUID]struct{})
	for _, f := range fields {
		if !extraction.IsValidCode(f.Code) {
			continue
		}
		set, ok := codeTemplates[f.Code]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			codeTemplates[f.Code] = set
		}
		set[f.TemplateID] = struct{}{}
	}
	if len(codeTemplates) == 0 {
		return nil, nil
	}

	weights := make(map[string]float64, len(codeTemplates))
	var total float64
	for code, tids := range codeTemplates {
		w := 1.0 / float64(len(tids))
		weights[code] = w
		total += w
	}

	var order []uuid.UUID
	scores := make(map[uuid.UUID]float64)
	matched := make(map[uuid.UUID]extraction.CodeSet)
	refs := make(map[uuid.UUID]*Template)
	for _, f := range fields {
		w, ok := weights[f.Code]
		if !ok {
			continue
		}
		tid := f.TemplateID
		if _, seen := scores[tid]; !seen {
			order = append(order, tid)
			matched[tid] = extraction.CodeSet{}
		}
		// A code counts once per template however many fields carry it.
		if !matched[tid].Has(f.Code) {
			scores[tid] += w
			matched[tid].Add(f.Code)
		}
		if _, ok := refs[tid]; !ok && f.Template != nil {
			refs[tid] = f.Template
		}
	}

	results := make([]Candidate, 0, len(order))
	for _, tid := range order {
		t := refs[tid]
		if t == nil {
			continue
		}
		score := scores[tid]/total + s.keywordBonus(t, keywords)
		if score > 1 {
			score = 1
		}
		results = append(results, Candidate{
			TemplateID: tid,
			Name:       t.Name,
			Score:      score,
			Codes:      matched[tid].Sorted(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return len(results[i].Codes) > len(results[j].Codes)
	})
	return results, nil
}

func (s *Scorer) keywordBonus(t *Template, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	fold := cases.Fold()
	haystack := fold.String(t.Name + " " + t.SearchKeywords)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, fold.String(kw)) {
			hits++
		}
	}
	return s.cfg.KeywordBonus * float64(hits)
}

func (s *Scorer) keywordFallback(ctx context.Context, kind Kind, keywords []string) ([]Candidate, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	found, err := s.repo.SearchTemplates(ctx, kind, keywords, s.cfg.FallbackLimit)
	if err != nil {
		return nil, fmt.Errorf("keyword fallback: %w", err)
	}
	s.logger.Debug().Int("hits", len(found)).Strs("keywords", keywords).Msg("no code matches, using keyword search")
	if len(found) > s.cfg.FallbackLimit {
		found = found[:s.cfg.FallbackLimit]
	}
	out := make([]Candidate, 0, len(found))
	for _, t := range found {
		out = append(out, Candidate{
			TemplateID: t.ID,
			Name:       t.Name,
			Score:      s.cfg.FallbackScore,
			Codes:      []string{},
		})
	}
	return out, nil
}
