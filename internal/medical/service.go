package medical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/logging"
	"github.com/mediloan/mediloan/internal/metrics"
)

const (
	CategoryMedicaments   = "medicaments"
	CategoryPrescriptions = "prescriptions"
)

var (
	// ErrNoInput is returned when neither medicament pictures nor prescriptions were sent.
	ErrNoInput = errors.New("no medicament pictures or prescriptions")
	// ErrBothInputs is returned when both modes were sent at once.
	ErrBothInputs = errors.New("both medicament pictures and prescriptions")
	// ErrUnsupportedType is returned for files outside the mode's accepted types.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrAnalysisFailed is matched by every AnalysisError.
	ErrAnalysisFailed = errors.New("medical analysis failed")
)

// AnalysisError reports a failed batch together with the mode it ran in.
type AnalysisError struct {
	Category string
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Category, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAnalysisFailed) hold for either mode.
func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisFailed }

// Assessment holds the results of one mode; the other list is empty.
type Assessment struct {
	MedicamentResults   []analysis.Result `json:"medicamentResults"`
	PrescriptionResults []analysis.Result `json:"prescriptionResults"`
}

// Service runs medical needs assessments.
type Service struct {
	analyzer analysis.Analyzer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService constructs a medical assessment service.
func NewService(analyzer analysis.Analyzer, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{analyzer: analyzer, metrics: m, logger: logger}
}

func checkTypes(files []analysis.File, accept func(analysis.File) bool) error {
	for _, f := range files {
		if !accept(f) {
			return fmt.Errorf("%w: %s", ErrUnsupportedType, f.Name)
		}
	}
	return nil
}

// Assess analyses either medicament pictures or prescriptions. Exactly one
// of the lists must be non-empty. Results are all-or-nothing.
func (s *Service) Assess(ctx context.Context, userID string, medicaments, prescriptions []analysis.File) (Assessment, error) {
	switch {
	case len(medicaments) == 0 && len(prescriptions) == 0:
		return Assessment{}, ErrNoInput
	case len(medicaments) > 0 && len(prescriptions) > 0:
		return Assessment{}, ErrBothInputs
	}

	out := Assessment{MedicamentResults: []analysis.Result{}, PrescriptionResults: []analysis.Result{}}
	var (
		category string
		results  []analysis.Result
		err      error
	)
	start := time.Now()
	if len(medicaments) > 0 {
		category = CategoryMedicaments
		if err := checkTypes(medicaments, analysis.IsImage); err != nil {
			return Assessment{}, err
		}
		results, err = analysis.Batch(ctx, medicaments, func(ctx context.Context, _ int, f analysis.File) (analysis.Result, error) {
			return s.analyzer.AnalyzeMedicalNeeds(ctx, f, userID)
		})
		if err == nil {
			out.MedicamentResults = results
		}
	} else {
		category = CategoryPrescriptions
		if err := checkTypes(prescriptions, analysis.IsDocument); err != nil {
			return Assessment{}, err
		}
		results, err = analysis.Batch(ctx, prescriptions, func(ctx context.Context, _ int, f analysis.File) (analysis.Result, error) {
			return s.analyzer.AnalyzePrescription(ctx, f, userID)
		})
		if err == nil {
			out.PrescriptionResults = results
		}
	}

	logger := s.logger.With(slog.String(logging.KeyUserID, userID), slog.String(logging.KeyCategory, category))
	if err != nil {
		s.metrics.ObserveBatch(category, metrics.OutcomeFailure, time.Since(start))
		logger.Error("medical assessment failed", slog.Any("error", err))
		return Assessment{}, &AnalysisError{Category: category, Err: err}
	}
	s.metrics.ObserveBatch(category, metrics.OutcomeSuccess, time.Since(start))
	logger.Info("medical assessment completed", slog.Int("files", len(results)))
	return out, nil
}
