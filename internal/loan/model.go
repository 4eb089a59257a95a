package loan

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the review state of an application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

var (
	// ErrNotFound is returned for unknown or foreign applications.
	ErrNotFound = errors.New("loan application not found")
	// ErrDuplicate is returned when an application id already exists.
	ErrDuplicate = errors.New("loan application already exists")
	// ErrInvalidStatus is returned for status values staff may not set.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidID is returned for malformed application ids.
	ErrInvalidID = errors.New("invalid loan application id")
	// ErrInvalidTransition is returned when the current status forbids the change.
	ErrInvalidTransition = errors.New("status change not allowed")
	// ErrInvalidAmount is returned for negative or non-finite payments.
	ErrInvalidAmount = errors.New("payment amount must not be negative")
	// ErrInvalidQuery is returned for unsupported dashboard sort options.
	ErrInvalidQuery = errors.New("invalid listing query")
)

// ParseReviewStatus validates a status set by a reviewer.
func ParseReviewStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusApproved, StatusRejected:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q (expected pending, approved or rejected)", ErrInvalidStatus, raw)
}

// Scores are written by the external scoring services. Nil means not scored yet.
type Scores struct {
	BankStatement *float64 `json:"bank_statement_score"`
	Mpesa         *float64 `json:"mpesa_score"`
	GPS           *float64 `json:"gps_score"`
	Assets        *float64 `json:"assets_score"`
	CallLogs      *float64 `json:"call_logs_score"`
	Payslips      *float64 `json:"payslips_score"`
	Total         *float64 `json:"total_credit_score"`
}

// Application is one row of loan_applications. Photo fields hold storage
// object paths; public URLs are resolved when a reviewer opens the record.
type Application struct {
	ID                         string    `json:"id"`
	UserID                     string    `json:"user_id"`
	Sector                     string    `json:"sector"`
	AmountRequested            float64   `json:"amount_requested"`
	RepaymentDate              time.Time `json:"repayment_date"`
	Status                     Status    `json:"status"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
	HasBankAccount             bool      `json:"has_bank_account"`
	HasRetailBusiness          bool      `json:"has_retail_business"`
	BusinessRegistrationNumber string    `json:"business_registration_number,omitempty"`
	BusinessLocation           string    `json:"business_location,omitempty"`
	HomePhotoPath              string    `json:"home_photo_url"`
	ShopPhotoPath              string    `json:"shop_photo_url,omitempty"`
	AssetPaths                 []string  `json:"assets_urls"`
	Scores
}

// Guarantor is one guarantors row.
type Guarantor struct {
	LoanID         string         `json:"loan_id"`
	Position       int            `json:"position"`
	FullName       string         `json:"full_name"`
	Nationality    string         `json:"nationality"`
	IDNumber       string         `json:"id_number"`
	Contact        string         `json:"contact"`
	IDDocumentPath string         `json:"id_document_url"`
	Analysis       map[string]any `json:"analysis"`
}

// Analysis categories stored in analysis_results.
const (
	CategoryAssets   = "assets"
	CategoryShop     = "shop"
	CategoryBank     = "bank"
	CategoryPayslip  = "payslip"
	CategoryCallLogs = "callLogs"
	CategoryMpesa    = "mpesa"
)

// AnalysisRow is one analysis result of an application.
type AnalysisRow struct {
	LoanID   string         `json:"loan_id"`
	Category string         `json:"category"`
	Position int            `json:"position"`
	Payload  map[string]any `json:"payload"`
}

// Record is an application with its companion rows.
type Record struct {
	Application
	Guarantors []Guarantor
	Analyses   []AnalysisRow
}

// Payment is one loan_payments row.
type Payment struct {
	ID     string    `json:"id"`
	LoanID string    `json:"loan_id"`
	Amount float64   `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
}

// Stats are the dashboard counters.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// SortColumns maps dashboard sort keys to columns.
var SortColumns = map[string]string{
	"created_at":       "created_at",
	"amount_requested": "amount_requested",
	"repayment_date":   "repayment_date",
	"status":           "status",
	"sector":           "sector",
}

// ListQuery orders a dashboard listing.
type ListQuery struct {
	Sort       string
	Descending bool
}

// NormalizeListQuery applies the allow-list and defaults to newest first.
func NormalizeListQuery(sort, order string) (ListQuery, error) {
	q := ListQuery{Sort: "created_at", Descending: true}
	if sort != "" {
		if _, ok := SortColumns[sort]; !ok {
			return ListQuery{}, fmt.Errorf("%w: unsupported sort column %q", ErrInvalidQuery, sort)
		}
		q.Sort = sort
	}
	switch strings.ToLower(order) {
	case "", "desc":
	case "asc":
		q.Descending = false
	default:
		return ListQuery{}, fmt.Errorf("%w: unsupported sort order %q", ErrInvalidQuery, order)
	}
	return q, nil
}
