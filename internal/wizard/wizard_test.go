package wizard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediloan/mediloan/internal/analysis"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fakeAnalyzer struct {
	assets   atomic.Int32
	ids      atomic.Int32
	bank     atomic.Int32
	payslips atomic.Int32
	callLogs atomic.Int32
	mpesa    atomic.Int32

	failAsset   error
	failID      error
	failPayslip error
	failMpesa   error
	// blockMpesa makes M-Pesa calls wait for their context.
	blockMpesa bool
	// stuckMpesa, when set, holds M-Pesa calls until it is closed and
	// ignores cancellation.
	stuckMpesa chan struct{}
	// gate, when set, holds asset calls until it is closed.
	gate chan struct{}

	mu               sync.Mutex
	payslipPasswords map[string]string
	loanIDs          map[string]bool
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{payslipPasswords: map[string]string{}, loanIDs: map[string]bool{}}
}

func (a *fakeAnalyzer) seen(loanID string) {
	a.mu.Lock()
	a.loanIDs[loanID] = true
	a.mu.Unlock()
}

func (a *fakeAnalyzer) AnalyzeAsset(ctx context.Context, f analysis.File, _, loanID string) (analysis.Result, error) {
	a.assets.Add(1)
	a.seen(loanID)
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.failAsset != nil {
		return nil, a.failAsset
	}
	return analysis.Result{"file": f.Name, "value": 10}, nil
}

func (a *fakeAnalyzer) AnalyzeIDDocument(_ context.Context, f analysis.File) (analysis.Result, error) {
	a.ids.Add(1)
	if a.failID != nil {
		return nil, a.failID
	}
	return analysis.Result{"file": f.Name, "valid": true}, nil
}

func (a *fakeAnalyzer) SubmitBankStatement(_ context.Context, f analysis.File, _, loanID, _ string) (analysis.Result, error) {
	a.bank.Add(1)
	a.seen(loanID)
	return analysis.Result{"file": f.Name}, nil
}

func (a *fakeAnalyzer) SubmitPayslip(_ context.Context, f analysis.File, _, loanID, password string) (analysis.Result, error) {
	a.payslips.Add(1)
	a.seen(loanID)
	a.mu.Lock()
	a.payslipPasswords[f.Name] = password
	a.mu.Unlock()
	if a.failPayslip != nil {
		return nil, a.failPayslip
	}
	return analysis.Result{"file": f.Name}, nil
}

func (a *fakeAnalyzer) AnalyzeCallLogs(_ context.Context, f analysis.File, _, loanID string) (analysis.Result, error) {
	a.callLogs.Add(1)
	a.seen(loanID)
	return analysis.Result{"file": f.Name}, nil
}

func (a *fakeAnalyzer) AnalyzeMpesaStatement(ctx context.Context, f analysis.File, _, _, loanID string) (analysis.Result, error) {
	a.mpesa.Add(1)
	a.seen(loanID)
	if a.blockMpesa {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.stuckMpesa != nil {
		<-a.stuckMpesa
	}
	if a.failMpesa != nil {
		return nil, a.failMpesa
	}
	return analysis.Result{"file": f.Name}, nil
}

func (a *fakeAnalyzer) AnalyzeMedicalNeeds(context.Context, analysis.File, string) (analysis.Result, error) {
	return analysis.Result{}, nil
}

func (a *fakeAnalyzer) AnalyzePrescription(context.Context, analysis.File, string) (analysis.Result, error) {
	return analysis.Result{}, nil
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	subs  []Submission
	err   error
}

func (s *fakeSubmitter) Create(_ context.Context, sub Submission) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	s.subs = append(s.subs, sub)
	return sub.LoanID, nil
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func image(name string) analysis.File {
	return analysis.File{Name: name + ".jpg", ContentType: "image/jpeg", Data: []byte("jpeg:" + name)}
}

func pdf(name string) analysis.File {
	return analysis.File{Name: name + ".pdf", ContentType: "application/pdf", Data: []byte("pdf:" + name)}
}

func csv(name string) analysis.File {
	return analysis.File{Name: name + ".csv", ContentType: "text/csv", Data: []byte("number,duration\n")}
}

func newTestWizard(t *testing.T, profile Profile, a *fakeAnalyzer, s *fakeSubmitter) *Wizard {
	t.Helper()
	return New("draft-1", "user-1", Options{
		Profile:      profile,
		Analyzer:     a,
		Submitter:    s,
		Clock:        func() time.Time { return testNow },
		MpesaTimeout: 50 * time.Millisecond,
	})
}

func addAssets(t *testing.T, w *Wizard, n int) {
	t.Helper()
	files := make([]analysis.File, n)
	for i := range files {
		files[i] = image("asset" + string(rune('a'+i)))
	}
	_, err := w.AddFiles(CategoryAssets, files)
	require.NoError(t, err)
	_, err = w.AddFiles(CategoryHomePhoto, []analysis.File{image("home")})
	require.NoError(t, err)
}

func toDocuments(t *testing.T, w *Wizard) {
	t.Helper()
	addAssets(t, w, MinAssets)
	snap, err := w.Continue(context.Background())
	require.NoError(t, err)
	require.Equal(t, StepDocuments, snap.Step)
}

func toLoanDetails(t *testing.T, w *Wizard) {
	t.Helper()
	toDocuments(t, w)
	if w.profile.AcceptsPayslips {
		_, err := w.AddFiles(CategoryPayslips, []analysis.File{pdf("march")})
		require.NoError(t, err)
	} else {
		_, err := w.AddFiles(CategoryCallLogs, []analysis.File{csv("calls")})
		require.NoError(t, err)
	}
	snap, err := w.Continue(context.Background())
	require.NoError(t, err)
	require.Equal(t, StepLoanDetails, snap.Step)
}

func completeLoanDetails(t *testing.T, w *Wizard, amount float64, date string) {
	t.Helper()
	_, err := w.UpdateFields(FieldsPatch{AmountRequested: &amount, RepaymentDate: &date})
	require.NoError(t, err)
	for pos := 1; pos <= GuarantorCount; pos++ {
		_, err := w.SetGuarantor(pos, Guarantor{FullName: "Guarantor", Nationality: "Kenyan", IDNumber: "1234", Contact: "0700000000"})
		require.NoError(t, err)
	}
	_, err = w.ProcessGuarantors(context.Background(), []analysis.File{image("id1"), image("id2")})
	require.NoError(t, err)
}

func TestAssetsStepRequiresThreePhotos(t *testing.T) {
	a := newFakeAnalyzer()
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	addAssets(t, w, 2)

	_, err := w.Continue(context.Background())
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "Please upload at least 3 asset pictures")
	require.Zero(t, a.assets.Load())
	require.Equal(t, StepAssets, w.Snapshot().Step)
}

func TestAssetsStepRequiresHomePhoto(t *testing.T) {
	a := newFakeAnalyzer()
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	_, err := w.AddFiles(CategoryAssets, []analysis.File{image("a"), image("b"), image("c")})
	require.NoError(t, err)

	_, err = w.Continue(context.Background())
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "Please upload a photo of your home")
	require.Zero(t, a.assets.Load())
}

func TestAssetsStepAnalysesEachPhotoOnce(t *testing.T) {
	a := newFakeAnalyzer()
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	toDocuments(t, w)

	require.EqualValues(t, MinAssets, a.assets.Load())
	snap := w.Snapshot()
	require.Len(t, snap.Results.Assets.Items, MinAssets)
	require.Equal(t, "asseta.jpg", snap.Results.Assets.Items[0]["file"])
	require.Equal(t, map[string]bool{w.LoanID(): true}, a.loanIDs)
}

func TestAssetFailureKeepsStepAndDropsResults(t *testing.T) {
	a := newFakeAnalyzer()
	a.failAsset = errors.New("upstream 500")
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	addAssets(t, w, 4)

	_, err := w.Continue(context.Background())
	require.ErrorIs(t, err, ErrAnalysisFailed)
	require.Equal(t, "Error processing assets. Please try again.", err.Error())

	snap := w.Snapshot()
	require.Equal(t, StepAssets, snap.Step)
	require.False(t, snap.Processing)
	require.Empty(t, snap.Results.Assets.Items)

	a.failAsset = nil
	snap, err = w.Continue(context.Background())
	require.NoError(t, err)
	require.Equal(t, StepDocuments, snap.Step)
}

func TestContinueOnLoanDetailsIsWrongStep(t *testing.T) {
	w := newTestWizard(t, FormalProfile(), newFakeAnalyzer(), &fakeSubmitter{})
	toLoanDetails(t, w)
	_, err := w.Continue(context.Background())
	require.ErrorIs(t, err, ErrWrongStep)
}

func TestDocumentsStepRequirements(t *testing.T) {
	t.Run("formal requires payslips", func(t *testing.T) {
		a := newFakeAnalyzer()
		w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
		toDocuments(t, w)
		_, err := w.AddFiles(CategoryCallLogs, []analysis.File{csv("calls")})
		require.NoError(t, err)

		_, err = w.Continue(context.Background())
		require.ErrorIs(t, err, ErrValidation)
		require.Contains(t, err.Error(), "Please upload salary payslips")
		require.Zero(t, a.callLogs.Load())
	})

	t.Run("informal requires income evidence", func(t *testing.T) {
		w := newTestWizard(t, InformalProfile(), newFakeAnalyzer(), &fakeSubmitter{})
		toDocuments(t, w)
		_, err := w.Continue(context.Background())
		require.ErrorIs(t, err, ErrValidation)
		require.Contains(t, err.Error(), "Please upload at least bank statements, M-Pesa statements, or call logs")
	})

	t.Run("bank statements without an account do not count", func(t *testing.T) {
		a := newFakeAnalyzer()
		w := newTestWizard(t, InformalProfile(), a, &fakeSubmitter{})
		toDocuments(t, w)
		_, err := w.AddFiles(CategoryBankStatements, []analysis.File{pdf("bank")})
		require.NoError(t, err)

		_, err = w.Continue(context.Background())
		require.ErrorIs(t, err, ErrValidation)

		yes := true
		_, err = w.UpdateFields(FieldsPatch{HasBankAccount: &yes})
		require.NoError(t, err)
		snap, err := w.Continue(context.Background())
		require.NoError(t, err)
		require.Equal(t, StepLoanDetails, snap.Step)
		require.EqualValues(t, 1, a.bank.Load())
		require.Len(t, snap.Results.Bank, 1)
	})
}

func TestMpesaDegradesToEmptyResult(t *testing.T) {
	cases := map[string]func(a *fakeAnalyzer){
		"rejection": func(a *fakeAnalyzer) { a.failMpesa = errors.New("bad password") },
		"timeout":   func(a *fakeAnalyzer) { a.blockMpesa = true },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			a := newFakeAnalyzer()
			setup(a)
			w := newTestWizard(t, InformalProfile(), a, &fakeSubmitter{})
			toDocuments(t, w)
			_, err := w.AddFiles(CategoryMpesa, []analysis.File{pdf("mpesa")})
			require.NoError(t, err)
			_, err = w.AddFiles(CategoryCallLogs, []analysis.File{csv("calls")})
			require.NoError(t, err)

			snap, err := w.Continue(context.Background())
			require.NoError(t, err)
			require.Equal(t, StepLoanDetails, snap.Step)
			require.NotNil(t, snap.Results.Mpesa)
			require.Empty(t, snap.Results.Mpesa)
			require.Len(t, snap.Results.CallLogs, 1)
			require.EqualValues(t, 1, a.mpesa.Load())
		})
	}
}

func TestMpesaTimeoutDoesNotWaitForAnalyzer(t *testing.T) {
	a := newFakeAnalyzer()
	a.stuckMpesa = make(chan struct{})
	defer close(a.stuckMpesa)
	w := newTestWizard(t, InformalProfile(), a, &fakeSubmitter{})
	toDocuments(t, w)
	_, err := w.AddFiles(CategoryMpesa, []analysis.File{pdf("mpesa")})
	require.NoError(t, err)
	_, err = w.AddFiles(CategoryCallLogs, []analysis.File{csv("calls")})
	require.NoError(t, err)

	type outcome struct {
		snap Snapshot
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		snap, err := w.Continue(context.Background())
		done <- outcome{snap: snap, err: err}
	}()

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Equal(t, StepLoanDetails, got.snap.Step)
		require.NotNil(t, got.snap.Results.Mpesa)
		require.Empty(t, got.snap.Results.Mpesa)
		require.Len(t, got.snap.Results.CallLogs, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("documents step waited for an M-Pesa call that ignores its context")
	}
}

func TestPayslipFailureBlocksDocumentsStep(t *testing.T) {
	a := newFakeAnalyzer()
	a.failPayslip = errors.New("unreadable")
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	toDocuments(t, w)
	_, err := w.AddFiles(CategoryPayslips, []analysis.File{pdf("march")})
	require.NoError(t, err)
	_, err = w.AddFiles(CategoryMpesa, []analysis.File{pdf("mpesa")})
	require.NoError(t, err)

	_, err = w.Continue(context.Background())
	require.ErrorIs(t, err, ErrAnalysisFailed)
	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, CategoryPayslips, ae.Category)

	snap := w.Snapshot()
	require.Equal(t, StepDocuments, snap.Step)
	require.Nil(t, snap.Results.Payslips)
	require.Nil(t, snap.Results.Mpesa)
}

func TestFormalBankStatementsAreNotAnalysed(t *testing.T) {
	a := newFakeAnalyzer()
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	toDocuments(t, w)
	_, err := w.AddFiles(CategoryBankStatements, []analysis.File{pdf("bank")})
	require.NoError(t, err)
	_, err = w.AddFiles(CategoryPayslips, []analysis.File{pdf("march")})
	require.NoError(t, err)

	snap, err := w.Continue(context.Background())
	require.NoError(t, err)
	require.Zero(t, a.bank.Load())
	require.NotNil(t, snap.Results.Bank)
	require.Empty(t, snap.Results.Bank)
}

func TestPayslipPasswordsStayAligned(t *testing.T) {
	a := newFakeAnalyzer()
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	toDocuments(t, w)

	_, err := w.AddFiles(CategoryPayslips, []analysis.File{pdf("jan"), pdf("feb")})
	require.NoError(t, err)
	snap, err := w.UpdateFields(FieldsPatch{PayslipPasswords: []string{"secret"}})
	require.NoError(t, err)
	require.Equal(t, []string{"secret", ""}, snap.Fields.PayslipPasswords)

	snap, err = w.AddFiles(CategoryPayslips, []analysis.File{pdf("mar")})
	require.NoError(t, err)
	require.Equal(t, []string{"secret", "", ""}, snap.Fields.PayslipPasswords)

	snap, err = w.RemoveFile(CategoryPayslips, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"", ""}, snap.Fields.PayslipPasswords)

	_, err = w.UpdateFields(FieldsPatch{PayslipPasswords: []string{"p-feb", "p-mar"}})
	require.NoError(t, err)
	_, err = w.Continue(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"feb.pdf": "p-feb", "mar.pdf": "p-mar"}, a.payslipPasswords)
}

func TestUploadFilters(t *testing.T) {
	w := newTestWizard(t, InformalProfile(), newFakeAnalyzer(), &fakeSubmitter{})

	_, err := w.AddFiles(CategoryAssets, []analysis.File{pdf("not-a-photo")})
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = w.AddFiles(CategoryHomePhoto, []analysis.File{image("a"), image("b")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = w.AddFiles(CategoryCallLogs, []analysis.File{csv("calls")})
	require.ErrorIs(t, err, ErrWrongStep)

	toDocuments(t, w)
	_, err = w.AddFiles(CategoryCallLogs, []analysis.File{pdf("calls")})
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = w.AddFiles(CategoryPayslips, []analysis.File{pdf("slip")})
	require.ErrorIs(t, err, ErrValidation)
	_, err = w.AddFiles(CategoryAssets, []analysis.File{image("late")})
	require.ErrorIs(t, err, ErrWrongStep)
}

func TestSingleFileCategoryReplaces(t *testing.T) {
	w := newTestWizard(t, FormalProfile(), newFakeAnalyzer(), &fakeSubmitter{})
	snap, err := w.AddFiles(CategoryHomePhoto, []analysis.File{image("old")})
	require.NoError(t, err)
	oldToken := snap.Documents[CategoryHomePhoto][0].Preview

	snap, err = w.AddFiles(CategoryHomePhoto, []analysis.File{image("new")})
	require.NoError(t, err)
	require.Len(t, snap.Documents[CategoryHomePhoto], 1)
	require.Equal(t, "new.jpg", snap.Documents[CategoryHomePhoto][0].Name)

	_, err = w.Preview(oldToken)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPreviewRevokedOnRemoveAndDiscard(t *testing.T) {
	w := newTestWizard(t, FormalProfile(), newFakeAnalyzer(), &fakeSubmitter{})
	snap, err := w.AddFiles(CategoryAssets, []analysis.File{image("sofa"), image("tv")})
	require.NoError(t, err)
	views := snap.Documents[CategoryAssets]
	require.Equal(t, "sofa", views[0].DisplayName)

	f, err := w.Preview(views[0].Preview)
	require.NoError(t, err)
	require.Equal(t, "sofa.jpg", f.Name)

	_, err = w.RemoveFile(CategoryAssets, 0)
	require.NoError(t, err)
	_, err = w.Preview(views[0].Preview)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = w.Preview(views[1].Preview)
	require.NoError(t, err)
	w.Discard()
	_, err = w.Preview(views[1].Preview)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = w.Back()
	require.ErrorIs(t, err, ErrClosed)
}

func TestBackKeepsDataAndIsRejectedWhileBusy(t *testing.T) {
	a := newFakeAnalyzer()
	a.gate = make(chan struct{})
	w := newTestWizard(t, FormalProfile(), a, &fakeSubmitter{})
	addAssets(t, w, MinAssets)

	done := make(chan error, 1)
	go func() {
		_, err := w.Continue(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return w.Snapshot().Processing }, time.Second, 5*time.Millisecond)

	_, err := w.Back()
	require.ErrorIs(t, err, ErrBusy)
	_, err = w.Continue(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	_, err = w.AddFiles(CategoryAssets, []analysis.File{image("extra")})
	require.ErrorIs(t, err, ErrBusy)

	close(a.gate)
	require.NoError(t, <-done)

	snap, err := w.Back()
	require.NoError(t, err)
	require.Equal(t, StepAssets, snap.Step)
	require.Len(t, snap.Documents[CategoryAssets], MinAssets)
	require.Len(t, snap.Results.Assets.Items, MinAssets)
}

func TestRepaymentDateRule(t *testing.T) {
	cases := []struct {
		name    string
		profile Profile
		date    string
		ok      bool
	}{
		{"formal today", FormalProfile(), "2026-03-10", true},
		{"formal tomorrow", FormalProfile(), "2026-03-11", true},
		{"formal yesterday", FormalProfile(), "2026-03-09", false},
		{"informal today", InformalProfile(), "2026-03-10", false},
		{"informal tomorrow", InformalProfile(), "2026-03-11", true},
		{"missing", InformalProfile(), "", false},
		{"malformed", FormalProfile(), "10/03/2026", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newTestWizard(t, tc.profile, newFakeAnalyzer(), &fakeSubmitter{})
			w.fields.RepaymentDate = tc.date
			problem := w.repaymentProblemLocked()
			if tc.ok {
				require.Empty(t, problem)
			} else {
				require.NotEmpty(t, problem)
			}
		})
	}
}

func TestMinimumAmountRejectedBeforeCreate(t *testing.T) {
	s := &fakeSubmitter{}
	w := newTestWizard(t, FormalProfile(), newFakeAnalyzer(), s)
	toLoanDetails(t, w)
	completeLoanDetails(t, w, 99, "2026-03-20")

	_, err := w.Submit(context.Background())
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "Minimum loan amount is 100")
	require.Zero(t, s.count())
	require.False(t, w.Closed())
}

func TestSubmitRequiresResolvedGuarantors(t *testing.T) {
	a := newFakeAnalyzer()
	a.failID = errors.New("blurry")
	s := &fakeSubmitter{}
	w := newTestWizard(t, FormalProfile(), a, s)
	toLoanDetails(t, w)

	amount, date := 500.0, "2026-03-20"
	_, err := w.UpdateFields(FieldsPatch{AmountRequested: &amount, RepaymentDate: &date})
	require.NoError(t, err)
	_, err = w.SetGuarantor(1, Guarantor{FullName: "A", Nationality: "Kenyan", IDNumber: "1", Contact: "07"})
	require.NoError(t, err)
	_, err = w.SetGuarantor(3, Guarantor{})
	require.ErrorIs(t, err, ErrValidation)

	_, err = w.ProcessGuarantors(context.Background(), []analysis.File{image("id1"), image("id2")})
	require.ErrorIs(t, err, ErrAnalysisFailed)
	require.Equal(t, "Error processing guarantor IDs. Please try again.", err.Error())

	_, err = w.Submit(context.Background())
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "guarantor 2 full name is required")
	require.Contains(t, err.Error(), "both guarantor IDs must be processed before submitting")
	require.Zero(t, s.count())
}

func TestFormalApplicationEndToEnd(t *testing.T) {
	a := newFakeAnalyzer()
	s := &fakeSubmitter{}
	w := newTestWizard(t, FormalProfile(), a, s)
	toDocuments(t, w)
	_, err := w.AddFiles(CategoryBankStatements, []analysis.File{pdf("bank")})
	require.NoError(t, err)
	_, err = w.AddFiles(CategoryPayslips, []analysis.File{pdf("march")})
	require.NoError(t, err)
	_, err = w.AddFiles(CategoryCallLogs, []analysis.File{csv("calls")})
	require.NoError(t, err)
	_, err = w.AddFiles(CategoryMpesa, []analysis.File{pdf("mpesa")})
	require.NoError(t, err)
	_, err = w.Continue(context.Background())
	require.NoError(t, err)
	completeLoanDetails(t, w, 2500, "2026-03-10")

	res, err := w.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, s.count())
	require.Equal(t, w.LoanID(), res.RecordID)
	require.Equal(t, w.LoanID(), res.LoanID)
	require.Equal(t, HomeRoute, res.Redirect)

	sub := s.subs[0]
	require.Equal(t, SectorFormal, sub.Sector)
	require.Equal(t, "user-1", sub.UserID)
	require.Equal(t, 2500.0, sub.AmountRequested)
	require.True(t, sub.HasBankAccount)
	require.Len(t, sub.Assets, MinAssets)
	require.Equal(t, "home.jpg", sub.HomeFloorPhoto.Name)
	require.Len(t, sub.BankStatements, 1)
	require.Len(t, sub.SalaryPayslips, 1)
	require.Len(t, sub.GuarantorFiles, GuarantorCount)
	require.NotNil(t, sub.Results.Bank)
	require.Empty(t, sub.Results.Bank)
	require.Len(t, sub.Results.Assets.Items, MinAssets)
	require.Len(t, sub.Results.Payslips, 1)
	require.Len(t, sub.Results.CallLogs, 1)
	require.Len(t, sub.Results.Mpesa, 1)
	require.Len(t, sub.Results.Guarantors, GuarantorCount)
	require.Nil(t, sub.ShopPicture)
	require.Empty(t, sub.BusinessLocation)

	require.True(t, w.Closed())
	_, err = w.Submit(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, 1, s.count())
}

func TestSubmissionFailureKeepsResultsForRetry(t *testing.T) {
	a := newFakeAnalyzer()
	s := &fakeSubmitter{err: errors.New(`duplicate key value violates unique constraint "loan_applications_pkey"`)}
	w := newTestWizard(t, InformalProfile(), a, s)
	toLoanDetails(t, w)
	completeLoanDetails(t, w, 800, "2026-03-11")

	_, err := w.Submit(context.Background())
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Equal(t, `duplicate key value violates unique constraint "loan_applications_pkey"`, err.Error())
	require.False(t, w.Closed())
	require.Len(t, w.Snapshot().Results.Assets.Items, MinAssets)

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	_, err = w.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, s.count())
	require.EqualValues(t, MinAssets, a.assets.Load())
	require.EqualValues(t, GuarantorCount, a.ids.Load())
}

func TestInformalPayloadOmitsConditionalItems(t *testing.T) {
	s := &fakeSubmitter{}
	w := newTestWizard(t, InformalProfile(), newFakeAnalyzer(), s)
	pw := "hunter2"
	_, err := w.UpdateFields(FieldsPatch{BankStatementPassword: &pw, MpesaStatementPassword: &pw})
	require.NoError(t, err)
	toLoanDetails(t, w)
	completeLoanDetails(t, w, 800, "2026-03-11")

	_, err = w.Submit(context.Background())
	require.NoError(t, err)
	sub := s.subs[0]
	require.False(t, sub.HasBankAccount)
	require.Nil(t, sub.BankStatements)
	require.Empty(t, sub.BankStatementPassword)
	require.Empty(t, sub.MpesaStatementPassword)
	require.Nil(t, sub.SalaryPayslips)
	require.Len(t, sub.CallLogs, 1)
}

func TestRetailBusinessToggle(t *testing.T) {
	t.Run("on", func(t *testing.T) {
		a := newFakeAnalyzer()
		s := &fakeSubmitter{}
		w := newTestWizard(t, InformalProfile(), a, s)
		yes := true
		_, err := w.UpdateFields(FieldsPatch{HasRetailBusiness: &yes})
		require.NoError(t, err)
		addAssets(t, w, MinAssets)

		_, err = w.Continue(context.Background())
		require.ErrorIs(t, err, ErrValidation)
		require.Contains(t, err.Error(), "businessRegistrationNumber is required")
		require.Contains(t, err.Error(), "a shop photo is required")
		require.Zero(t, a.assets.Load())

		reg, loc := " BRN-42 ", "Gikomba market"
		_, err = w.UpdateFields(FieldsPatch{BusinessRegistrationNumber: &reg, BusinessLocation: &loc})
		require.NoError(t, err)
		_, err = w.AddFiles(CategoryShopPhoto, []analysis.File{image("shop")})
		require.NoError(t, err)

		snap, err := w.Continue(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, MinAssets+1, a.assets.Load())
		require.Len(t, snap.Results.Assets.Items, MinAssets)
		require.Len(t, snap.Results.Assets.ShopAnalysis, 1)

		_, err = w.AddFiles(CategoryCallLogs, []analysis.File{csv("calls")})
		require.NoError(t, err)
		_, err = w.Continue(context.Background())
		require.NoError(t, err)
		completeLoanDetails(t, w, 800, "2026-03-11")
		_, err = w.Submit(context.Background())
		require.NoError(t, err)

		sub := s.subs[0]
		require.True(t, sub.HasRetailBusiness)
		require.Equal(t, "BRN-42", sub.BusinessRegistrationNumber)
		require.Equal(t, "Gikomba market", sub.BusinessLocation)
		require.NotNil(t, sub.ShopPicture)
		require.Equal(t, "shop.jpg", sub.ShopPicture.Name)
	})

	t.Run("off", func(t *testing.T) {
		a := newFakeAnalyzer()
		s := &fakeSubmitter{}
		w := newTestWizard(t, InformalProfile(), a, s)
		reg := "BRN-42"
		_, err := w.UpdateFields(FieldsPatch{BusinessRegistrationNumber: &reg})
		require.NoError(t, err)
		_, err = w.AddFiles(CategoryShopPhoto, []analysis.File{image("shop")})
		require.NoError(t, err)
		toLoanDetails(t, w)
		require.EqualValues(t, MinAssets, a.assets.Load())

		completeLoanDetails(t, w, 800, "2026-03-11")
		_, err = w.Submit(context.Background())
		require.NoError(t, err)
		sub := s.subs[0]
		require.Nil(t, sub.ShopPicture)
		require.Empty(t, sub.BusinessRegistrationNumber)
	})
}

func TestUpdateFieldsIsAtomic(t *testing.T) {
	w := newTestWizard(t, FormalProfile(), newFakeAnalyzer(), &fakeSubmitter{})
	amount, bad, no := 500.0, "tomorrow", false
	_, err := w.UpdateFields(FieldsPatch{AmountRequested: &amount, RepaymentDate: &bad, HasBankAccount: &no})
	require.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Problems, 2)
	snap := w.Snapshot()
	require.Zero(t, snap.Fields.AmountRequested)
	require.True(t, snap.Fields.HasBankAccount)
}
