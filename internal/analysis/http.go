package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Endpoints maps each analysis operation to a path under the base URL.
type Endpoints struct {
	Asset          string
	IDDocument     string
	BankStatement  string
	Payslip        string
	CallLogs       string
	MpesaStatement string
	MedicalNeeds   string
	Prescription   string
}

// DefaultEndpoints returns the paths exposed by the analysis gateway.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Asset:          "/assets/analyze",
		IDDocument:     "/id-documents/analyze",
		BankStatement:  "/bank-statements/submit",
		Payslip:        "/payslips/submit",
		CallLogs:       "/call-logs/analyze",
		MpesaStatement: "/mpesa/analyze",
		MedicalNeeds:   "/medical/analyze",
		Prescription:   "/prescriptions/analyze",
	}
}

// HTTPAnalyzer posts each document as a multipart form to the analysis
// gateway and decodes the JSON answer.
type HTTPAnalyzer struct {
	baseURL   string
	endpoints Endpoints
	client    *http.Client
}

// NewHTTPAnalyzer builds an analyzer bound to baseURL. The timeout applies
// to every call.
func NewHTTPAnalyzer(baseURL string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: DefaultEndpoints(),
		client:    &http.Client{Timeout: timeout},
	}
}

// WithEndpoints overrides the default paths.
func (a *HTTPAnalyzer) WithEndpoints(e Endpoints) *HTTPAnalyzer {
	a.endpoints = e
	return a
}

func (a *HTTPAnalyzer) AnalyzeAsset(ctx context.Context, file File, userID, loanID string) (Result, error) {
	return a.post(ctx, a.endpoints.Asset, file, map[string]string{"user_id": userID, "loan_id": loanID})
}

func (a *HTTPAnalyzer) AnalyzeIDDocument(ctx context.Context, file File) (Result, error) {
	return a.post(ctx, a.endpoints.IDDocument, file, nil)
}

func (a *HTTPAnalyzer) SubmitBankStatement(ctx context.Context, file File, userID, loanID, password string) (Result, error) {
	return a.post(ctx, a.endpoints.BankStatement, file, map[string]string{"user_id": userID, "loan_id": loanID, "password": password})
}

func (a *HTTPAnalyzer) SubmitPayslip(ctx context.Context, file File, userID, loanID, password string) (Result, error) {
	return a.post(ctx, a.endpoints.Payslip, file, map[string]string{"user_id": userID, "loan_id": loanID, "password": password})
}

func (a *HTTPAnalyzer) AnalyzeCallLogs(ctx context.Context, file File, userID, loanID string) (Result, error) {
	return a.post(ctx, a.endpoints.CallLogs, file, map[string]string{"user_id": userID, "loan_id": loanID})
}

func (a *HTTPAnalyzer) AnalyzeMpesaStatement(ctx context.Context, file File, password, userID, loanID string) (Result, error) {
	return a.post(ctx, a.endpoints.MpesaStatement, file, map[string]string{"user_id": userID, "loan_id": loanID, "password": password})
}

func (a *HTTPAnalyzer) AnalyzeMedicalNeeds(ctx context.Context, file File, userID string) (Result, error) {
	return a.post(ctx, a.endpoints.MedicalNeeds, file, map[string]string{"user_id": userID})
}

func (a *HTTPAnalyzer) AnalyzePrescription(ctx context.Context, file File, userID string) (Result, error) {
	return a.post(ctx, a.endpoints.Prescription, file, map[string]string{"user_id": userID})
}

func (a *HTTPAnalyzer) post(ctx context.Context, path string, file File, fields map[string]string) (Result, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", key, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrUpstream, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	result := Result{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrUpstream, path, err)
	}
	return result, nil
}
