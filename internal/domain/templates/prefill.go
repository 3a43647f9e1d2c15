package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/domain/effects"
	"github.com/ehr/docproc/internal/domain/extraction"
	"github.com/ehr/docproc/internal/platform/extend"
)

// Extractor runs a schema-driven extraction over a document.
type Extractor interface {
	Extract(ctx context.Context, fileURL string, cfg *extend.ExtractConfig) (*extend.Output, error)
}

// Orchestrator walks ranked candidates and extracts template fields until
// every target code is covered.
type Orchestrator struct {
	repo      Repository
	extractor Extractor
	cfg       Config
	logger    zerolog.Logger
}

func NewOrchestrator(repo Repository, extractor Extractor, cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{repo: repo, extractor: extractor, cfg: cfg, logger: logger}
}

// ExtractFields greedily accepts candidates. The first accepted candidate
// must clear ScoreThreshold, later ones GapFillThreshold. Candidates that add
// no uncovered code are skipped, and the walk stops once target is covered.
// A failed field load or extraction skips that template only.
func (o *Orchestrator) ExtractFields(ctx context.Context, fileURL string, candidates []Candidate, target extraction.CodeSet, fallbackConfidence *float64) ([]effects.PrefillTemplate, error) {
	matched := extraction.CodeSet{}
	var out []effects.PrefillTemplate

	for _, cand := range candidates {
		gapFill := len(out) > 0
		threshold := o.cfg.ScoreThreshold
		if gapFill {
			threshold = o.cfg.GapFillThreshold
		}
		if cand.Score < threshold {
			if !gapFill {
				break
			}
			continue
		}
		if len(matched.Missing(cand.Codes)) == 0 {
			continue
		}

		fields, err := o.repo.FieldsForTemplate(ctx, cand.TemplateID)
		if err != nil {
			o.logger.Warn().Err(err).Str("template", cand.Name).Msg("loading template fields failed")
			continue
		}
		if len(fields) == 0 {
			continue
		}

		props, keyMap := buildSchema(fields, target, o.cfg.MaxFields)
		if len(props) == 0 {
			continue
		}

		result, err := o.extractor.Extract(ctx, fileURL, extend.NewExtractConfig(props))
		if err != nil {
			o.logger.Warn().Err(err).Str("template", cand.Name).Msg("field extraction failed")
			continue
		}

		prefill := buildPrefillFields(result.Value, result.Metadata, keyMap, fallbackConfidence)
		if len(prefill) == 0 {
			continue
		}

		out = append(out, effects.PrefillTemplate{
			TemplateID:   cand.TemplateID,
			TemplateName: cand.Name,
			Fields:       prefill,
		})
		matched.AddAll(cand.Codes)

		o.logger.Info().
			Str("template", cand.Name).
			Float64("score", cand.Score).
			Int("matched", len(matched)).
			Int("target", len(target)).
			Msg("template prefilled")

		if matched.Covers(target) {
			break
		}
	}
	return out, nil
}

// buildSchema prefers fields whose code is in preferred, then template order,
// and keeps at most maxFields before dropping duplicate keys.
func buildSchema(fields []*Field, preferred extraction.CodeSet, maxFields int) (map[string]extend.Property, map[string]*Field) {
	sorted := make([]*Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := preferred.Has(sorted[i].Code), preferred.Has(sorted[j].Code)
		if pi != pj {
			return pi
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})
	if maxFields > 0 && len(sorted) > maxFields {
		sorted = sorted[:maxFields]
	}

	props := make(map[string]extend.Property)
	keyMap := make(map[string]*Field)
	for _, f := range sorted {
		key := fieldKey(f)
		if key == "" {
			continue
		}
		if _, dup := props[key]; dup {
			continue
		}
		props[key] = extend.Property{Type: extend.NullableString, Description: fieldDescription(f, key)}
		keyMap[key] = f
	}
	return props, keyMap
}

// fieldKey is the field's code when valid, else its label.
func fieldKey(f *Field) string {
	if extraction.IsValidCode(f.Code) {
		return strings.TrimSpace(f.Code)
	}
	return strings.TrimSpace(f.Label)
}

func fieldDescription(f *Field, key string) string {
	label := f.Label
	if label == "" {
		label = key
	}
	var parts []string
	if f.Code != "" {
		parts = append(parts, "code="+f.Code)
	}
	if f.Units != "" {
		parts = append(parts, "units="+f.Units)
	}
	if len(parts) == 0 {
		return label
	}
	return label + " (" + strings.Join(parts, "; ") + ")"
}

func buildPrefillFields(value, metadata map[string]any, keyMap map[string]*Field, fallback *float64) map[string]effects.PrefillField {
	out := make(map[string]effects.PrefillField)
	for key, raw := range value {
		v := normalizeValue(raw)
		if v == "" {
			continue
		}
		pf := effects.PrefillField{Value: v}
		if f, ok := keyMap[key]; ok && f.Units != "" {
			pf.Unit = f.Units
		}
		conf := fallback
		if c, ok := fieldConfidence(metadata, key); ok {
			conf = &c
		}
		if conf != nil {
			if a, ok := effects.ConfidenceAnnotation(*conf); ok {
				pf.Annotations = []effects.Annotation{a}
			}
		}
		out[key] = pf
	}
	return out
}

func fieldConfidence(metadata map[string]any, key string) (float64, bool) {
	entry, ok := metadata[key].(map[string]any)
	if !ok {
		return 0, false
	}
	c, ok := entry["ocrConfidence"].(float64)
	return c, ok
}

// normalizeValue flattens an extracted value into a display string. Lists
// are joined with ", ", {"value": x} wrappers are unwrapped and blank results
// become "".
func normalizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		var parts []string
		for _, item := range val {
			if s := normalizeValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		if inner, ok := val["value"]; ok {
			return normalizeValue(inner)
		}
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
