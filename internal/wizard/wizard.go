package wizard

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/logging"
	"github.com/mediloan/mediloan/internal/metrics"
)

// Step is a wizard state.
type Step int

const (
	StepAssets Step = iota
	StepDocuments
	StepLoanDetails
)

var stepLabels = [...]string{"Assets", "Documents", "Loan Details"}

// Label returns the title shown for the step.
func (s Step) Label() string {
	if s < StepAssets || s > StepLoanDetails {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepLabels[s]
}

const dateLayout = "2006-01-02"

// Fields are the form values of a draft.
type Fields struct {
	AmountRequested            float64  `json:"amountRequested"`
	RepaymentDate              string   `json:"repaymentDate"`
	HasBankAccount             bool     `json:"hasBankAccount"`
	HasRetailBusiness          bool     `json:"hasRetailBusiness"`
	BusinessRegistrationNumber string   `json:"businessRegistrationNumber"`
	BusinessLocation           string   `json:"businessLocation"`
	BankStatementPassword      string   `json:"-"`
	MpesaStatementPassword     string   `json:"-"`
	PayslipPasswords           []string `json:"-"`
}

// FieldsPatch updates the fields that are set.
type FieldsPatch struct {
	AmountRequested            *float64 `json:"amountRequested"`
	RepaymentDate              *string  `json:"repaymentDate"`
	HasBankAccount             *bool    `json:"hasBankAccount"`
	HasRetailBusiness          *bool    `json:"hasRetailBusiness"`
	BusinessRegistrationNumber *string  `json:"businessRegistrationNumber"`
	BusinessLocation           *string  `json:"businessLocation"`
	BankStatementPassword      *string  `json:"bankStatementPassword"`
	MpesaStatementPassword     *string  `json:"mpesaStatementPassword"`
	PayslipPasswords           []string `json:"payslipPasswords"`
}

// AssetResults holds the asset batch plus the separate shop photo analysis.
type AssetResults struct {
	Items        []analysis.Result `json:"items"`
	ShopAnalysis []analysis.Result `json:"shopAnalysis,omitempty"`
}

// Results are the committed analysis results of a draft.
type Results struct {
	Assets     AssetResults      `json:"assetAnalysisResults"`
	Bank       []analysis.Result `json:"bankAnalysisResults"`
	Payslips   []analysis.Result `json:"payslipAnalysisResults"`
	CallLogs   []analysis.Result `json:"callLogsAnalysisResults"`
	Mpesa      []analysis.Result `json:"mpesaAnalysisResults"`
	Guarantors []analysis.Result `json:"guarantorAnalysisResults"`
}

func (r Results) clone() Results {
	cp := func(in []analysis.Result) []analysis.Result {
		if in == nil {
			return nil
		}
		return append([]analysis.Result{}, in...)
	}
	return Results{
		Assets:     AssetResults{Items: cp(r.Assets.Items), ShopAnalysis: cp(r.Assets.ShopAnalysis)},
		Bank:       cp(r.Bank),
		Payslips:   cp(r.Payslips),
		CallLogs:   cp(r.CallLogs),
		Mpesa:      cp(r.Mpesa),
		Guarantors: cp(r.Guarantors),
	}
}

// Clock returns the current time.
type Clock func() time.Time

// Options are the collaborators of a wizard.
type Options struct {
	Profile      Profile
	Analyzer     analysis.Analyzer
	Submitter    Submitter
	Clock        Clock
	MpesaTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Wizard is one in-memory loan application draft owned by a single user.
// The mutex is never held across an external call; the processing flags
// guard re-entry instead.
type Wizard struct {
	id        string
	loanID    string
	userID    string
	profile   Profile
	analyzer  analysis.Analyzer
	submitter Submitter
	clock     Clock
	mpesaTTL  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu                   sync.Mutex
	step                 Step
	processing           [StepLoanDetails + 1]bool
	guarantorsProcessing bool
	submitting           bool
	closed               bool
	fields               Fields
	docs                 *documents
	guarantors           [GuarantorCount]Guarantor
	guarantorsResolved   bool
	results              Results
	lastActive           time.Time
}

// New mounts a draft for userID. The loan correlation identifier is
// generated once here.
func New(id, userID string, opts Options) *Wizard {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	mpesaTTL := opts.MpesaTimeout
	if mpesaTTL <= 0 {
		mpesaTTL = 15 * time.Second
	}
	if id == "" {
		id = uuid.NewString()
	}
	w := &Wizard{
		id:        id,
		loanID:    uuid.NewString(),
		userID:    userID,
		profile:   opts.Profile,
		analyzer:  opts.Analyzer,
		submitter: opts.Submitter,
		clock:     clock,
		mpesaTTL:  mpesaTTL,
		metrics:   opts.Metrics,
		docs:      newDocuments(),
	}
	w.logger = logger.With(slog.String(logging.KeyDraftID, w.id), slog.String(logging.KeyLoanID, w.loanID))
	w.lastActive = clock()
	// Formal applicants are assumed to hold a bank account.
	w.fields.HasBankAccount = !opts.Profile.BankAccountToggle
	return w
}

// ID returns the draft identifier.
func (w *Wizard) ID() string { return w.id }

// LoanID returns the loan correlation identifier.
func (w *Wizard) LoanID() string { return w.loanID }

// UserID returns the owner.
func (w *Wizard) UserID() string { return w.userID }

// Sector returns the sector the draft was mounted for.
func (w *Wizard) Sector() Sector { return w.profile.Sector }

// Closed reports whether the draft was submitted or discarded.
func (w *Wizard) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// LastActive returns the time of the last interaction.
func (w *Wizard) LastActive() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

func (w *Wizard) busyLocked() bool {
	return w.processing[w.step] || w.guarantorsProcessing || w.submitting
}

// lockOpen takes the mutex for a mutation and fails when the draft is
// closed or an external call is in flight. The caller must unlock.
func (w *Wizard) lockOpen() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.busyLocked() {
		w.mu.Unlock()
		return ErrBusy
	}
	w.lastActive = w.clock()
	return nil
}

// UpdateFields applies patch. The patch is validated as a whole and nothing
// is changed when any field is rejected.
func (w *Wizard) UpdateFields(patch FieldsPatch) (Snapshot, error) {
	if err := w.lockOpen(); err != nil {
		return Snapshot{}, err
	}
	defer w.mu.Unlock()

	var problems []string
	if patch.AmountRequested != nil && *patch.AmountRequested < 0 {
		problems = append(problems, "amountRequested must not be negative")
	}
	if patch.RepaymentDate != nil && *patch.RepaymentDate != "" {
		if _, err := time.Parse(dateLayout, *patch.RepaymentDate); err != nil {
			problems = append(problems, "repaymentDate must be formatted as YYYY-MM-DD")
		}
	}
	if patch.HasBankAccount != nil && !w.profile.BankAccountToggle && !*patch.HasBankAccount {
		problems = append(problems, fmt.Sprintf("hasBankAccount is fixed for the %s sector", w.profile.Sector))
	}
	if patch.PayslipPasswords != nil && !w.profile.AcceptsPayslips {
		problems = append(problems, fmt.Sprintf("payslips are not collected for the %s sector", w.profile.Sector))
	}
	if len(problems) > 0 {
		return Snapshot{}, invalid(problems...)
	}

	f := &w.fields
	if patch.AmountRequested != nil {
		f.AmountRequested = *patch.AmountRequested
	}
	if patch.RepaymentDate != nil {
		f.RepaymentDate = *patch.RepaymentDate
	}
	if patch.HasBankAccount != nil {
		f.HasBankAccount = *patch.HasBankAccount
	}
	if patch.HasRetailBusiness != nil {
		f.HasRetailBusiness = *patch.HasRetailBusiness
	}
	if patch.BusinessRegistrationNumber != nil {
		f.BusinessRegistrationNumber = strings.TrimSpace(*patch.BusinessRegistrationNumber)
	}
	if patch.BusinessLocation != nil {
		f.BusinessLocation = strings.TrimSpace(*patch.BusinessLocation)
	}
	if patch.BankStatementPassword != nil {
		f.BankStatementPassword = *patch.BankStatementPassword
	}
	if patch.MpesaStatementPassword != nil {
		f.MpesaStatementPassword = *patch.MpesaStatementPassword
	}
	if patch.PayslipPasswords != nil {
		f.PayslipPasswords = alignPasswords(patch.PayslipPasswords, w.docs.count(CategoryPayslips))
	}
	return w.snapshotLocked(), nil
}

// AddFiles selects files for a category on the current step.
func (w *Wizard) AddFiles(c Category, files []analysis.File) (Snapshot, error) {
	if len(files) == 0 {
		return Snapshot{}, invalid(fmt.Sprintf("no files selected for %s", c))
	}
	if err := w.lockOpen(); err != nil {
		return Snapshot{}, err
	}
	defer w.mu.Unlock()

	if err := w.checkCategoryLocked(c); err != nil {
		return Snapshot{}, err
	}
	if err := checkTypes(c, files); err != nil {
		return Snapshot{}, err
	}
	w.docs.add(c, files)
	if c == CategoryPayslips {
		w.fields.PayslipPasswords = alignPasswords(w.fields.PayslipPasswords, w.docs.count(CategoryPayslips))
	}
	return w.snapshotLocked(), nil
}

// RemoveFile drops the file at index and revokes its preview.
func (w *Wizard) RemoveFile(c Category, index int) (Snapshot, error) {
	if err := w.lockOpen(); err != nil {
		return Snapshot{}, err
	}
	defer w.mu.Unlock()

	if err := w.checkCategoryLocked(c); err != nil {
		return Snapshot{}, err
	}
	if err := w.docs.remove(c, index); err != nil {
		return Snapshot{}, err
	}
	if c == CategoryPayslips && index < len(w.fields.PayslipPasswords) {
		pw := w.fields.PayslipPasswords
		w.fields.PayslipPasswords = append(pw[:index:index], pw[index+1:]...)
	}
	return w.snapshotLocked(), nil
}

func (w *Wizard) checkCategoryLocked(c Category) error {
	rule, ok := categories[c]
	if !ok || rule.internal {
		return invalid(fmt.Sprintf("unknown document category %q", c))
	}
	if c == CategoryPayslips && !w.profile.AcceptsPayslips {
		return invalid(fmt.Sprintf("payslips are not collected for the %s sector", w.profile.Sector))
	}
	if rule.step != w.step {
		return fmt.Errorf("%w: %s belongs to the %s step", ErrWrongStep, c, rule.step.Label())
	}
	return nil
}

// Preview returns the file behind a live preview token.
func (w *Wizard) Preview(token string) (analysis.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return analysis.File{}, ErrNotFound
	}
	f, ok := w.docs.preview(token)
	if !ok {
		return analysis.File{}, ErrNotFound
	}
	return f, nil
}

// Back moves to the previous step without validation or data loss.
func (w *Wizard) Back() (Snapshot, error) {
	if err := w.lockOpen(); err != nil {
		return Snapshot{}, err
	}
	defer w.mu.Unlock()
	if w.step > StepAssets {
		w.step--
	}
	return w.snapshotLocked(), nil
}

// Discard closes the draft and revokes every preview.
func (w *Wizard) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *Wizard) closeLocked() {
	w.closed = true
	w.docs.revokeAll()
}

// Snapshot returns the current state.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Wizard) today() time.Time {
	now := w.clock()
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
