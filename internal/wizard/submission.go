package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/metrics"
)

// MinAmount is the smallest loan amount accepted.
const MinAmount = 100

// HomeRoute is where the applicant is sent after a successful submission.
const HomeRoute = "/"

// Submission is the assembled payload of one application.
type Submission struct {
	LoanID          string
	UserID          string
	Sector          Sector
	AmountRequested float64
	RepaymentDate   time.Time

	HasBankAccount             bool
	HasRetailBusiness          bool
	BusinessRegistrationNumber string
	BusinessLocation           string

	Assets         []analysis.File
	HomeFloorPhoto analysis.File
	// ShopPicture is only set for a retail business.
	ShopPicture *analysis.File

	// BankStatements and their password are only set when the applicant
	// holds a bank account.
	BankStatements        []analysis.File
	BankStatementPassword string
	SalaryPayslips        []analysis.File
	PayslipPasswords      []string
	MpesaStatements       []analysis.File
	// MpesaStatementPassword is only set when M-Pesa statements exist.
	MpesaStatementPassword string
	CallLogs               []analysis.File

	Guarantors     [GuarantorCount]Guarantor
	GuarantorFiles []analysis.File

	Results Results
}

// Submitter persists a submission and returns the record id.
type Submitter interface {
	Create(ctx context.Context, sub Submission) (string, error)
}

// SubmitResult is returned after a submission landed.
type SubmitResult struct {
	RecordID string `json:"id"`
	LoanID   string `json:"loanId"`
	Redirect string `json:"redirect"`
}

func (w *Wizard) submitProblemsLocked() []string {
	var problems []string
	if w.fields.AmountRequested < MinAmount {
		problems = append(problems, fmt.Sprintf("Minimum loan amount is %d", MinAmount))
	}
	if p := w.repaymentProblemLocked(); p != "" {
		problems = append(problems, p)
	}
	for i, g := range w.guarantors {
		problems = append(problems, g.problems(i+1)...)
	}
	if !w.guarantorsResolved {
		problems = append(problems, "both guarantor IDs must be processed before submitting")
	}
	problems = append(problems, w.businessProblemsLocked(true)...)
	return problems
}

func (w *Wizard) repaymentProblemLocked() string {
	if w.fields.RepaymentDate == "" {
		return "repaymentDate is required"
	}
	today := w.today()
	date, err := time.ParseInLocation(dateLayout, w.fields.RepaymentDate, today.Location())
	if err != nil {
		return "repaymentDate must be formatted as YYYY-MM-DD"
	}
	if w.profile.SameDayRepayment {
		if date.Before(today) {
			return "Repayment date must be today or in the future"
		}
		return ""
	}
	if !date.After(today) {
		return "Repayment date must be in the future"
	}
	return ""
}

func (w *Wizard) assembleLocked() Submission {
	f := w.fields
	today := w.today()
	date, _ := time.ParseInLocation(dateLayout, f.RepaymentDate, today.Location())
	home, _ := w.docs.first(CategoryHomePhoto)

	sub := Submission{
		LoanID:            w.loanID,
		UserID:            w.userID,
		Sector:            w.profile.Sector,
		AmountRequested:   f.AmountRequested,
		RepaymentDate:     date,
		HasBankAccount:    f.HasBankAccount,
		HasRetailBusiness: f.HasRetailBusiness,
		Assets:            w.docs.files(CategoryAssets),
		HomeFloorPhoto:    home,
		MpesaStatements:   w.docs.files(CategoryMpesa),
		CallLogs:          w.docs.files(CategoryCallLogs),
		Guarantors:        w.guarantors,
		GuarantorFiles:    w.docs.files(CategoryGuarantorIDs),
		Results:           w.results.clone(),
	}
	if f.HasRetailBusiness {
		sub.BusinessRegistrationNumber = f.BusinessRegistrationNumber
		sub.BusinessLocation = f.BusinessLocation
		if shop, ok := w.docs.first(CategoryShopPhoto); ok {
			sub.ShopPicture = &shop
		}
	}
	if f.HasBankAccount {
		sub.BankStatements = w.docs.files(CategoryBankStatements)
		if len(sub.BankStatements) > 0 {
			sub.BankStatementPassword = f.BankStatementPassword
		}
	}
	if w.profile.AcceptsPayslips {
		sub.SalaryPayslips = w.docs.files(CategoryPayslips)
		sub.PayslipPasswords = alignPasswords(f.PayslipPasswords, len(sub.SalaryPayslips))
	}
	if len(sub.MpesaStatements) > 0 {
		sub.MpesaStatementPassword = f.MpesaStatementPassword
	}
	if sub.Results.Bank == nil {
		sub.Results.Bank = []analysis.Result{}
	}
	return sub
}

// Submit validates the final step and performs exactly one create call.
// On failure the raw error is returned and every result stays in memory so
// that a retry only repeats the create call.
func (w *Wizard) Submit(ctx context.Context) (SubmitResult, error) {
	if err := w.lockOpen(); err != nil {
		return SubmitResult{}, err
	}
	if w.step != StepLoanDetails {
		w.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("%w: submission happens on the %s step", ErrWrongStep, StepLoanDetails.Label())
	}
	if problems := w.submitProblemsLocked(); len(problems) > 0 {
		w.mu.Unlock()
		w.logger.Warn("submission rejected", slog.Any("problems", problems))
		return SubmitResult{}, invalid(problems...)
	}
	sub := w.assembleLocked()
	w.submitting = true
	w.mu.Unlock()

	id, err := w.submitter.Create(ctx, sub)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	if err != nil {
		w.metrics.Submission(metrics.OutcomeFailure)
		w.logger.Error("submission failed", slog.Any("error", err))
		return SubmitResult{}, &SubmissionError{Err: err}
	}
	w.metrics.Submission(metrics.OutcomeSuccess)
	w.logger.Info("application submitted", slog.String("record_id", id))
	w.closeLocked()
	return SubmitResult{RecordID: id, LoanID: w.loanID, Redirect: HomeRoute}, nil
}
