package extraction

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var listSeparators = regexp.MustCompile(`[,;\n]+`)

var placeholderCodes = map[string]struct{}{
	"N/A":  {},
	"NA":   {},
	"NONE": {},
}

// ToList flattens a loosely typed value into trimmed, non-empty tokens.
// Strings split on commas, semicolons and newlines; lists are flattened
// recursively; any other scalar is stringified.
func ToList(value any) []string {
	var out []string
	appendTokens(&out, value)
	return out
}

func appendTokens(out *[]string, value any) {
	switch v := value.(type) {
	case nil:
	case string:
		for _, part := range listSeparators.Split(v, -1) {
			if p := strings.TrimSpace(part); p != "" {
				*out = append(*out, p)
			}
		}
	case []string:
		for _, item := range v {
			appendTokens(out, item)
		}
	case []any:
		for _, item := range v {
			appendTokens(out, item)
		}
	case float64:
		*out = append(*out, strconv.FormatFloat(v, 'f', -1, 64))
	default:
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			*out = append(*out, s)
		}
	}
}

// IsValidCode rejects blank codes and the usual "not applicable" placeholders.
func IsValidCode(code string) bool {
	stripped := strings.ToUpper(strings.TrimSpace(code))
	if stripped == "" {
		return false
	}
	_, placeholder := placeholderCodes[stripped]
	return !placeholder
}

// CodeSystem selects which code list of an extraction is used for matching.
type CodeSystem int

const (
	LOINC CodeSystem = iota
	SNOMED
)

func (s CodeSystem) String() string {
	if s == LOINC {
		return "loinc"
	}
	return "snomed"
}

// Codes returns the valid codes of the given system as a set.
func (e *DocumentExtraction) Codes(system CodeSystem) CodeSet {
	raw := e.SNOMEDCodes
	if system == LOINC {
		raw = e.LOINCCodes
	}
	codes := CodeSet{}
	for _, c := range ToList(raw) {
		if IsValidCode(c) {
			codes.Add(c)
		}
	}
	return codes
}

// Keywords returns test names, study names, modality and body part in that
// order. Duplicates are kept.
func (e *DocumentExtraction) Keywords() []string {
	var keywords []string
	for _, v := range []any{e.TestNames, e.StudyNames, e.Modality, e.BodyPart} {
		keywords = append(keywords, ToList(v)...)
	}
	return keywords
}

// CodeSet is an unordered set of medical codes.
type CodeSet map[string]struct{}

func NewCodeSet(codes ...string) CodeSet {
	s := make(CodeSet, len(codes))
	for _, c := range codes {
		s.Add(c)
	}
	return s
}

func (s CodeSet) Add(code string) {
	s[strings.TrimSpace(code)] = struct{}{}
}

func (s CodeSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// AddAll inserts every code in codes.
func (s CodeSet) AddAll(codes []string) {
	for _, c := range codes {
		s.Add(c)
	}
}

// Covers reports whether s is a superset of other.
func (s CodeSet) Covers(other CodeSet) bool {
	for c := range other {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Missing returns the codes from codes that are not in s.
func (s CodeSet) Missing(codes []string) []string {
	var out []string
	for _, c := range codes {
		if !s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Sorted returns the codes in ascending order.
func (s CodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
