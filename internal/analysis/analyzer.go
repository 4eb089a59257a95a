package analysis

import (
	"context"
	"errors"
)

// File is an uploaded document held in memory until it is analysed and
// persisted.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (f File) Size() int { return len(f.Data) }

// Result is the opaque JSON document returned by an analysis service.
type Result map[string]any

// Analyzer is the contract of the external document-analysis services.
// Every call that belongs to a loan application carries the loan
// correlation identifier so that the services can key their own records.
type Analyzer interface {
	AnalyzeAsset(ctx context.Context, file File, userID, loanID string) (Result, error)
	AnalyzeIDDocument(ctx context.Context, file File) (Result, error)
	SubmitBankStatement(ctx context.Context, file File, userID, loanID, password string) (Result, error)
	SubmitPayslip(ctx context.Context, file File, userID, loanID, password string) (Result, error)
	AnalyzeCallLogs(ctx context.Context, file File, userID, loanID string) (Result, error)
	AnalyzeMpesaStatement(ctx context.Context, file File, password, userID, loanID string) (Result, error)
	AnalyzeMedicalNeeds(ctx context.Context, file File, userID string) (Result, error)
	AnalyzePrescription(ctx context.Context, file File, userID string) (Result, error)
}

// ErrUpstream is returned when an analysis service answers with a non-2xx
// status or an undecodable body.
var ErrUpstream = errors.New("analysis service error")
