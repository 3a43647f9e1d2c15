package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/ehr/docproc/internal/domain/extraction"
)

// MatchStatus is the outcome of an identity lookup.
type MatchStatus int

const (
	MatchNotFound MatchStatus = iota
	MatchFound
	MatchAmbiguous
)

func (s MatchStatus) String() string {
	switch s {
	case MatchFound:
		return "found"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// PatientMatch is the result of FindPatient. Patient is set only when
// Status is MatchFound and Err only when Status is MatchAmbiguous.
type PatientMatch struct {
	Status  MatchStatus
	Patient *Patient
	Err     string
	Tier    string
}

func (m PatientMatch) Found() bool { return m.Status == MatchFound }

// ReviewerMatch is the result of FindReviewer.
type ReviewerMatch struct {
	Status       MatchStatus
	Reviewer     *Staff
	AutoAssigned bool
	Tier         string
}

func (m ReviewerMatch) Found() bool { return m.Status == MatchFound }

const (
	TierMRN        = "mrn"
	TierNameDOB    = "name_dob"
	TierName       = "name"
	TierNPI        = "npi"
	TierAutoAssign = "auto_assign"
)

var dobLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", time.RFC3339}

// MatcherConfig names the staff member auto-assigned when no reviewer can be
// identified from the document.
type MatcherConfig struct {
	FallbackFirstName string
	FallbackLastName  string
}

type Matcher struct {
	patients PatientRepository
	staff    StaffRepository
	cfg      MatcherConfig
	logger   zerolog.Logger
}

func NewMatcher(patients PatientRepository, staff StaffRepository, cfg MatcherConfig, logger zerolog.Logger) *Matcher {
	return &Matcher{
		patients: patients,
		staff:    staff,
		cfg:      cfg,
		logger:   logger.With().Str("component", "match").Logger(),
	}
}

// FindPatient looks the patient up by MRN, then by name and date of birth,
// then by name alone. The first tier with a single hit wins. More than one
// hit in a tier is reported as ambiguous and ends the search.
func (m *Matcher) FindPatient(ctx context.Context, e *extraction.DocumentExtraction) (PatientMatch, error) {
	if e == nil {
		return PatientMatch{}, nil
	}
	if mrn := strings.TrimSpace(e.PatientID); mrn != "" {
		found, err := m.patients.FindByMRN(ctx, mrn)
		if err != nil {
			return PatientMatch{}, err
		}
		if res, done := patientTier(found, TierMRN, "Multiple patients match MRN"); done {
			m.logPatient(res)
			return res, nil
		}
	}

	first, last := parseFullName(e.PatientFirstName, e.PatientLastName, e.PatientName)
	if first == "" || last == "" {
		return PatientMatch{}, nil
	}

	if raw := strings.TrimSpace(e.DateOfBirth); raw != "" {
		dob, ok := parseDate(raw)
		if !ok {
			m.logger.Warn().Str("date_of_birth", raw).Msg("unparseable date of birth, skipping name + DOB lookup")
		} else {
			found, err := m.patients.FindByName(ctx, first, last, &dob)
			if err != nil {
				return PatientMatch{}, err
			}
			if res, done := patientTier(found, TierNameDOB, "Multiple patients match name + DOB"); done {
				m.logPatient(res)
				return res, nil
			}
		}
	}

	found, err := m.patients.FindByName(ctx, first, last, nil)
	if err != nil {
		return PatientMatch{}, err
	}
	if res, done := patientTier(found, TierName, "Multiple patients match name"); done {
		m.logPatient(res)
		return res, nil
	}
	return PatientMatch{}, nil
}

func patientTier(found []*Patient, tier, ambiguous string) (PatientMatch, bool) {
	switch {
	case len(found) == 1:
		return PatientMatch{Status: MatchFound, Patient: found[0], Tier: tier}, true
	case len(found) > 1:
		return PatientMatch{Status: MatchAmbiguous, Err: ambiguous, Tier: tier}, true
	}
	return PatientMatch{}, false
}

func (m *Matcher) logPatient(res PatientMatch) {
	m.logger.Info().Str("tier", res.Tier).Stringer("status", res.Status).Msg("patient lookup")
}

// FindReviewer looks the reviewer up by NPI, then by name. A tier only
// matches on a single hit. When neither tier matches the configured fallback
// staff member, or else the first staff member, is auto-assigned.
func (m *Matcher) FindReviewer(ctx context.Context, e *extraction.DocumentExtraction) (ReviewerMatch, error) {
	if e == nil {
		e = &extraction.DocumentExtraction{}
	}
	if npi := strings.TrimSpace(e.PractitionerNPI); npi != "" {
		found, err := m.staff.FindByNPI(ctx, npi)
		if err != nil {
			return ReviewerMatch{}, err
		}
		if len(found) == 1 {
			m.logger.Info().Str("tier", TierNPI).Msg("reviewer matched")
			return ReviewerMatch{Status: MatchFound, Reviewer: found[0], Tier: TierNPI}, nil
		}
	}

	if first, last := parseFullName(e.PractitionerFirstName, e.PractitionerLastName, e.PractitionerName); first != "" && last != "" {
		found, err := m.staff.FindByName(ctx, first, last)
		if err != nil {
			return ReviewerMatch{}, err
		}
		if len(found) == 1 {
			m.logger.Info().Str("tier", TierName).Msg("reviewer matched")
			return ReviewerMatch{Status: MatchFound, Reviewer: found[0], Tier: TierName}, nil
		}
	}

	fallback, err := m.fallbackReviewer(ctx)
	if err != nil {
		return ReviewerMatch{}, err
	}
	if fallback == nil {
		return ReviewerMatch{}, nil
	}
	m.logger.Info().Str("reviewer", fallback.FullName()).Msg("reviewer auto-assigned")
	return ReviewerMatch{Status: MatchFound, Reviewer: fallback, AutoAssigned: true, Tier: TierAutoAssign}, nil
}

func (m *Matcher) fallbackReviewer(ctx context.Context) (*Staff, error) {
	if m.cfg.FallbackFirstName != "" && m.cfg.FallbackLastName != "" {
		found, err := m.staff.FindByName(ctx, m.cfg.FallbackFirstName, m.cfg.FallbackLastName)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	first, err := m.staff.First(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return first, err
}

// parseFullName resolves first and last name from explicit fields, falling
// back to the first and last tokens of full. Explicit fields always win.
func parseFullName(first, last, full string) (string, string) {
	first, last = normalizeName(first), normalizeName(last)
	if first != "" && last != "" {
		return first, last
	}
	parts := strings.Fields(normalizeName(full))
	switch {
	case len(parts) >= 2:
		if first == "" {
			first = parts[0]
		}
		if last == "" {
			last = parts[len(parts)-1]
		}
	case len(parts) == 1:
		if first == "" {
			first = parts[0]
		}
	}
	return first, last
}

// normalizeName folds compatibility characters (full-width letters,
// ligatures) so OCR output compares equal to stored names.
func normalizeName(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, mo, d := t.Date()
			return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
