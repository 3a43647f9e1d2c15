package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/docproc/internal/domain/extraction"
)

type Service struct {
	patients PatientRepository
	staff    StaffRepository
	matcher  *Matcher
}

func NewService(patients PatientRepository, staff StaffRepository, matcher *Matcher) *Service {
	return &Service{patients: patients, staff: staff, matcher: matcher}
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if strings.TrimSpace(p.MRN) == "" {
		return fmt.Errorf("mrn is required")
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// -- Staff --

func (s *Service) CreateStaff(ctx context.Context, st *Staff) error {
	if strings.TrimSpace(st.FirstName) == "" || strings.TrimSpace(st.LastName) == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if st.NPI != nil && strings.TrimSpace(*st.NPI) == "" {
		st.NPI = nil
	}
	st.Active = true
	return s.staff.Create(ctx, st)
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.staff.GetByID(ctx, id)
}

// -- Matching --

// Match resolves the patient and reviewer an extraction refers to. Each side
// is looked up on its own; a failed lookup leaves that side empty and is
// reported in the joined error while the other side's match is still returned.
func (s *Service) Match(ctx context.Context, e *extraction.DocumentExtraction) (PatientMatch, ReviewerMatch, error) {
	var errs []error
	pm, err := s.matcher.FindPatient(ctx, e)
	if err != nil {
		pm = PatientMatch{}
		errs = append(errs, fmt.Errorf("find patient: %w", err))
	}
	rm, err := s.matcher.FindReviewer(ctx, e)
	if err != nil {
		rm = ReviewerMatch{}
		errs = append(errs, fmt.Errorf("find reviewer: %w", err))
	}
	return pm, rm, errors.Join(errs...)
}
