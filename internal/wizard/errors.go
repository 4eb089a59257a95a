package wizard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input rejected before any external call.
	ErrValidation = errors.New("validation failed")
	// ErrAnalysisFailed marks a failed analysis batch.
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrSubmissionFailed marks a failed create call.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrBusy is returned while the requested action is already in flight.
	ErrBusy = errors.New("draft is processing")
	// ErrWrongStep is returned for actions that do not belong to the current step.
	ErrWrongStep = errors.New("action not available on the current step")
	// ErrClosed is returned once a draft was submitted or discarded.
	ErrClosed = errors.New("draft is closed")
	// ErrNotFound is returned for unknown, expired or foreign drafts and previews.
	ErrNotFound = errors.New("draft not found")
	// ErrUnsupportedType is returned when an upload fails the category's type filter.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// ValidationError lists every problem found by one validation pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}

// AnalysisError reports which stage and category failed. Its message is the
// retry prompt shown to the applicant.
type AnalysisError struct {
	Stage    string
	Category Category
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("Error processing %s. Please try again.", e.Stage)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisFailed }

// SubmissionError carries the raw persistence error message.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return e.Err.Error() }

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmissionFailed }
