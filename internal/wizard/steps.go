package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/logging"
	"github.com/mediloan/mediloan/internal/metrics"
)

// MinAssets is the number of asset photos the assets step requires.
const MinAssets = 3

// Continue validates the current step, runs its analysis batches and
// advances on success. Validation failures issue no external call and leave
// the draft unchanged; analysis failures keep the draft on its step and
// commit none of the batch results.
func (w *Wizard) Continue(ctx context.Context) (Snapshot, error) {
	if err := w.lockOpen(); err != nil {
		return Snapshot{}, err
	}
	switch w.step {
	case StepAssets:
		return w.continueAssets(ctx)
	case StepDocuments:
		return w.continueDocuments(ctx)
	default:
		w.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: submit the application from the %s step", ErrWrongStep, StepLoanDetails.Label())
	}
}

func (w *Wizard) businessProblemsLocked(requireShop bool) []string {
	if !w.fields.HasRetailBusiness {
		return nil
	}
	var problems []string
	if w.fields.BusinessRegistrationNumber == "" {
		problems = append(problems, "businessRegistrationNumber is required for a retail business")
	}
	if w.fields.BusinessLocation == "" {
		problems = append(problems, "businessLocation is required for a retail business")
	}
	if requireShop && w.docs.count(CategoryShopPhoto) == 0 {
		problems = append(problems, "a shop photo is required for a retail business")
	}
	return problems
}

// continueAssets is entered with the mutex held.
func (w *Wizard) continueAssets(ctx context.Context) (Snapshot, error) {
	var problems []string
	if n := w.docs.count(CategoryAssets); n < MinAssets {
		problems = append(problems, fmt.Sprintf("Please upload at least %d asset pictures", MinAssets))
	}
	if w.docs.count(CategoryHomePhoto) != 1 {
		problems = append(problems, "Please upload a photo of your home")
	}
	problems = append(problems, w.businessProblemsLocked(true)...)
	if len(problems) > 0 {
		w.mu.Unlock()
		w.logger.Warn("assets step incomplete", slog.Any("problems", problems))
		return Snapshot{}, invalid(problems...)
	}

	assets := w.docs.files(CategoryAssets)
	shop, hasShop := w.docs.first(CategoryShopPhoto)
	hasShop = hasShop && w.fields.HasRetailBusiness
	w.processing[StepAssets] = true
	w.mu.Unlock()

	items, err := w.runBatch(ctx, CategoryAssets, assets, w.assetCall)
	var shopResults []analysis.Result
	if err == nil && hasShop {
		shopResults, err = w.runBatch(ctx, CategoryShopPhoto, []analysis.File{shop}, w.assetCall)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.processing[StepAssets] = false
	if w.closed {
		return Snapshot{}, ErrClosed
	}
	if err != nil {
		return Snapshot{}, &AnalysisError{Stage: "assets", Category: failedCategory(err, CategoryAssets), Err: err}
	}
	w.results.Assets = AssetResults{Items: items, ShopAnalysis: shopResults}
	w.step = StepDocuments
	return w.snapshotLocked(), nil
}

func (w *Wizard) assetCall(ctx context.Context, _ int, f analysis.File) (analysis.Result, error) {
	return w.analyzer.AnalyzeAsset(ctx, f, w.userID, w.loanID)
}

type documentsJob struct {
	analyzeBank bool
	bank        []analysis.File
	bankPass    string
	payslips    []analysis.File
	payslipPass []string
	callLogs    []analysis.File
	mpesa       []analysis.File
	mpesaPass   string
}

// continueDocuments is entered with the mutex held.
func (w *Wizard) continueDocuments(ctx context.Context) (Snapshot, error) {
	bankCounted := w.fields.HasBankAccount && w.docs.count(CategoryBankStatements) > 0
	var problems []string
	if w.profile.RequiresPayslips && w.docs.count(CategoryPayslips) == 0 {
		problems = append(problems, "Please upload salary payslips")
	}
	if w.profile.RequiresIncomeEvidence && !bankCounted &&
		w.docs.count(CategoryMpesa) == 0 && w.docs.count(CategoryCallLogs) == 0 {
		problems = append(problems, "Please upload at least bank statements, M-Pesa statements, or call logs")
	}
	if len(problems) > 0 {
		w.mu.Unlock()
		w.logger.Warn("documents step incomplete", slog.Any("problems", problems))
		return Snapshot{}, invalid(problems...)
	}

	job := documentsJob{
		analyzeBank: w.profile.AnalyzeBankStatements && bankCounted,
		bankPass:    w.fields.BankStatementPassword,
		payslips:    w.docs.files(CategoryPayslips),
		payslipPass: alignPasswords(w.fields.PayslipPasswords, w.docs.count(CategoryPayslips)),
		callLogs:    w.docs.files(CategoryCallLogs),
		mpesa:       w.docs.files(CategoryMpesa),
		mpesaPass:   w.fields.MpesaStatementPassword,
	}
	if bankCounted {
		job.bank = w.docs.files(CategoryBankStatements)
	}
	w.processing[StepDocuments] = true
	w.mu.Unlock()

	out, err := w.runDocuments(ctx, job)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.processing[StepDocuments] = false
	if w.closed {
		return Snapshot{}, ErrClosed
	}
	if err != nil {
		return Snapshot{}, &AnalysisError{Stage: "documents", Category: failedCategory(err, CategoryPayslips), Err: err}
	}
	w.results.Bank = out.Bank
	w.results.Payslips = out.Payslips
	w.results.CallLogs = out.CallLogs
	w.results.Mpesa = out.Mpesa
	w.step = StepLoanDetails
	return w.snapshotLocked(), nil
}

// runDocuments analyses the document categories concurrently. M-Pesa never
// fails the group.
func (w *Wizard) runDocuments(ctx context.Context, job documentsJob) (Results, error) {
	out := Results{
		Bank:     []analysis.Result{},
		Payslips: []analysis.Result{},
		CallLogs: []analysis.Result{},
		Mpesa:    []analysis.Result{},
	}
	g, gctx := errgroup.WithContext(ctx)

	if len(job.bank) > 0 && !job.analyzeBank {
		w.metrics.ObserveBatch(string(CategoryBankStatements), metrics.OutcomeSkipped, 0)
		w.logger.Info("bank statement analysis switched off for sector",
			slog.String(logging.KeyCategory, string(CategoryBankStatements)),
			slog.String("sector", string(w.profile.Sector)))
	}
	if job.analyzeBank {
		g.Go(func() error {
			res, err := w.runBatch(gctx, CategoryBankStatements, job.bank, func(ctx context.Context, _ int, f analysis.File) (analysis.Result, error) {
				return w.analyzer.SubmitBankStatement(ctx, f, w.userID, w.loanID, job.bankPass)
			})
			out.Bank = res
			return err
		})
	}
	if len(job.payslips) > 0 {
		g.Go(func() error {
			res, err := w.runBatch(gctx, CategoryPayslips, job.payslips, func(ctx context.Context, i int, f analysis.File) (analysis.Result, error) {
				return w.analyzer.SubmitPayslip(ctx, f, w.userID, w.loanID, job.payslipPass[i])
			})
			out.Payslips = res
			return err
		})
	}
	if len(job.callLogs) > 0 {
		g.Go(func() error {
			res, err := w.runBatch(gctx, CategoryCallLogs, job.callLogs, func(ctx context.Context, _ int, f analysis.File) (analysis.Result, error) {
				return w.analyzer.AnalyzeCallLogs(ctx, f, w.userID, w.loanID)
			})
			out.CallLogs = res
			return err
		})
	}
	if len(job.mpesa) > 0 {
		g.Go(func() error {
			out.Mpesa = w.runMpesa(gctx, job.mpesa, job.mpesaPass)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Results{}, err
	}
	return out, nil
}

type batchOutcome struct {
	results []analysis.Result
	err     error
}

// runMpesa bounds the M-Pesa batch by the configured timeout and degrades
// to an empty result on timeout or failure. The deadline is enforced here,
// not by the analyzer: a call that ignores its context is abandoned and
// finishes in the background.
func (w *Wizard) runMpesa(ctx context.Context, files []analysis.File, password string) []analysis.Result {
	ctx, cancel := context.WithTimeout(ctx, w.mpesaTTL)
	defer cancel()

	done := make(chan batchOutcome, 1)
	go func() {
		res, err := w.runBatch(ctx, CategoryMpesa, files, func(ctx context.Context, _ int, f analysis.File) (analysis.Result, error) {
			return w.analyzer.AnalyzeMpesaStatement(ctx, f, password, w.userID, w.loanID)
		})
		done <- batchOutcome{results: res, err: err}
	}()

	var out batchOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	res, err := out.results, out.err
	if err != nil {
		w.metrics.MpesaFallback()
		w.logger.Warn("M-Pesa analysis degraded to empty result",
			slog.String(logging.KeyCategory, string(CategoryMpesa)),
			slog.Duration("timeout", w.mpesaTTL),
			slog.Any("error", err))
		return []analysis.Result{}
	}
	return res
}

// batchError tags a batch failure with its category.
type batchError struct {
	category Category
	err      error
}

func (e *batchError) Error() string { return fmt.Sprintf("%s: %v", e.category, e.err) }
func (e *batchError) Unwrap() error { return e.err }

func failedCategory(err error, fallback Category) Category {
	var be *batchError
	if errors.As(err, &be) {
		return be.category
	}
	return fallback
}

// runBatch wraps analysis.Batch with logging and metrics.
func (w *Wizard) runBatch(ctx context.Context, c Category, files []analysis.File, call analysis.Call[analysis.File]) ([]analysis.Result, error) {
	start := time.Now()
	res, err := analysis.Batch(ctx, files, call)
	elapsed := time.Since(start)

	attrs := []any{
		slog.String(logging.KeyCategory, string(c)),
		slog.String(logging.KeyUserID, w.userID),
		slog.Int("files", len(files)),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		w.metrics.ObserveBatch(string(c), metrics.OutcomeFailure, elapsed)
		w.logger.Error("analysis batch failed", append(attrs, slog.Any("error", err))...)
		return nil, &batchError{category: c, err: err}
	}
	w.metrics.ObserveBatch(string(c), metrics.OutcomeSuccess, elapsed)
	w.logger.Info("analysis batch completed", attrs...)
	return res, nil
}
