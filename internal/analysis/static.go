package analysis

import (
	"context"
	"fmt"
)

// StaticAnalyzer is a stub used in development when no analysis service is
// configured. It answers every call with a deterministic result.
type StaticAnalyzer struct {
	Score float64
}

// NewStaticAnalyzer builds a stub analyzer that reports the given score.
func NewStaticAnalyzer(score float64) *StaticAnalyzer {
	return &StaticAnalyzer{Score: score}
}

func (a *StaticAnalyzer) result(kind string, file File, loanID string) Result {
	res := Result{
		"kind":   kind,
		"file":   file.Name,
		"bytes":  file.Size(),
		"score":  a.Score,
		"status": "analyzed",
	}
	if loanID != "" {
		res["loan_id"] = loanID
	}
	return res
}

func (a *StaticAnalyzer) check(ctx context.Context, file File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if file.Size() == 0 {
		return fmt.Errorf("%w: empty file %q", ErrUpstream, file.Name)
	}
	return nil
}

func (a *StaticAnalyzer) AnalyzeAsset(ctx context.Context, file File, _, loanID string) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	res := a.result("asset", file, loanID)
	res["estimated_value"] = a.Score * 100
	return res, nil
}

func (a *StaticAnalyzer) AnalyzeIDDocument(ctx context.Context, file File) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	res := a.result("id_document", file, "")
	res["valid"] = true
	return res, nil
}

func (a *StaticAnalyzer) SubmitBankStatement(ctx context.Context, file File, _, loanID, _ string) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	return a.result("bank_statement", file, loanID), nil
}

func (a *StaticAnalyzer) SubmitPayslip(ctx context.Context, file File, _, loanID, _ string) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	return a.result("payslip", file, loanID), nil
}

func (a *StaticAnalyzer) AnalyzeCallLogs(ctx context.Context, file File, _, loanID string) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	return a.result("call_logs", file, loanID), nil
}

func (a *StaticAnalyzer) AnalyzeMpesaStatement(ctx context.Context, file File, _, _, loanID string) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	return a.result("mpesa_statement", file, loanID), nil
}

func (a *StaticAnalyzer) AnalyzeMedicalNeeds(ctx context.Context, file File, _ string) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	return a.result("medical_needs", file, ""), nil
}

func (a *StaticAnalyzer) AnalyzePrescription(ctx context.Context, file File, _ string) (Result, error) {
	if err := a.check(ctx, file); err != nil {
		return nil, err
	}
	return a.result("prescription", file, ""), nil
}
