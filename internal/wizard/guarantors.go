package wizard

import (
	"context"
	"fmt"
	"strings"

	"github.com/mediloan/mediloan/internal/analysis"
)

// GuarantorCount is fixed; every application carries two guarantors.
const GuarantorCount = 2

// Guarantor is a third party vouching for the applicant.
type Guarantor struct {
	FullName    string `json:"fullName"`
	Nationality string `json:"nationality"`
	IDNumber    string `json:"idNumber"`
	Contact     string `json:"contact"`
}

func (g Guarantor) normalized() Guarantor {
	return Guarantor{
		FullName:    strings.TrimSpace(g.FullName),
		Nationality: strings.TrimSpace(g.Nationality),
		IDNumber:    strings.TrimSpace(g.IDNumber),
		Contact:     strings.TrimSpace(g.Contact),
	}
}

func (g Guarantor) problems(position int) []string {
	var out []string
	check := func(value, field string) {
		if value == "" {
			out = append(out, fmt.Sprintf("guarantor %d %s is required", position, field))
		}
	}
	check(g.FullName, "full name")
	check(g.Nationality, "nationality")
	check(g.IDNumber, "ID number")
	check(g.Contact, "contact")
	return out
}

func checkPosition(position int) error {
	if position < 1 || position > GuarantorCount {
		return invalid(fmt.Sprintf("guarantor position must be between 1 and %d", GuarantorCount))
	}
	return nil
}

// SetGuarantor records the details of the guarantor at position 1 or 2.
func (w *Wizard) SetGuarantor(position int, g Guarantor) (Snapshot, error) {
	if err := checkPosition(position); err != nil {
		return Snapshot{}, err
	}
	if err := w.lockOpen(); err != nil {
		return Snapshot{}, err
	}
	defer w.mu.Unlock()
	w.guarantors[position-1] = g.normalized()
	return w.snapshotLocked(), nil
}

// ProcessGuarantors analyses both guarantor ID scans concurrently. On
// success the scans and the results are stored separately; on failure
// nothing is stored and submission stays blocked.
func (w *Wizard) ProcessGuarantors(ctx context.Context, ids []analysis.File) (Snapshot, error) {
	if len(ids) != GuarantorCount {
		return Snapshot{}, invalid(fmt.Sprintf("exactly %d guarantor ID scans are required", GuarantorCount))
	}
	if err := checkTypes(CategoryGuarantorIDs, ids); err != nil {
		return Snapshot{}, err
	}
	if err := w.lockOpen(); err != nil {
		return Snapshot{}, err
	}
	if w.step != StepLoanDetails {
		w.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: guarantors are processed on the %s step", ErrWrongStep, StepLoanDetails.Label())
	}
	w.guarantorsProcessing = true
	w.mu.Unlock()

	results, err := w.runBatch(ctx, CategoryGuarantorIDs, ids, func(ctx context.Context, _ int, f analysis.File) (analysis.Result, error) {
		return w.analyzer.AnalyzeIDDocument(ctx, f)
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	w.guarantorsProcessing = false
	if w.closed {
		return Snapshot{}, ErrClosed
	}
	if err != nil {
		return Snapshot{}, &AnalysisError{Stage: "guarantor IDs", Category: CategoryGuarantorIDs, Err: err}
	}
	w.docs.clear(CategoryGuarantorIDs)
	w.docs.add(CategoryGuarantorIDs, ids)
	w.results.Guarantors = results
	w.guarantorsResolved = true
	return w.snapshotLocked(), nil
}
