package loan

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	records  map[string]Record
	payments []Payment
}

// NewMemoryRepository constructs an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{records: make(map[string]Record)}
}

func copyApplication(a Application) Application {
	a.AssetPaths = append([]string(nil), a.AssetPaths...)
	return a
}

func (r *memoryRepository) Insert(_ context.Context, rec Record) error {
	if _, err := parseID(rec.ID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	}
	rec.Application = copyApplication(rec.Application)
	rec.UpdatedAt = rec.CreatedAt
	rec.Guarantors = append([]Guarantor(nil), rec.Guarantors...)
	rec.Analyses = append([]AnalysisRow(nil), rec.Analyses...)
	r.records[rec.ID] = rec
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Application, error) {
	if _, err := parseID(id); err != nil {
		return Application{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return copyApplication(rec.Application), nil
}

func (r *memoryRepository) Detail(_ context.Context, id string) (Record, error) {
	if _, err := parseID(id); err != nil {
		return Record{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	out := Record{
		Application: copyApplication(rec.Application),
		Guarantors:  append([]Guarantor{}, rec.Guarantors...),
		Analyses:    append([]AnalysisRow{}, rec.Analyses...),
	}
	sort.SliceStable(out.Guarantors, func(i, j int) bool { return out.Guarantors[i].Position < out.Guarantors[j].Position })
	sort.SliceStable(out.Analyses, func(i, j int) bool {
		if out.Analyses[i].Category != out.Analyses[j].Category {
			return out.Analyses[i].Category < out.Analyses[j].Category
		}
		return out.Analyses[i].Position < out.Analyses[j].Position
	})
	return out, nil
}

func compareApplications(a, b Application, column string) int {
	switch column {
	case "amount_requested":
		switch {
		case a.AmountRequested < b.AmountRequested:
			return -1
		case a.AmountRequested > b.AmountRequested:
			return 1
		}
		return 0
	case "repayment_date":
		return a.RepaymentDate.Compare(b.RepaymentDate)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "sector":
		return strings.Compare(a.Sector, b.Sector)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (r *memoryRepository) snapshot(keep func(Application) bool) []Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Application{}
	for _, rec := range r.records {
		if keep == nil || keep(rec.Application) {
			out = append(out, copyApplication(rec.Application))
		}
	}
	return out
}

func (r *memoryRepository) List(_ context.Context, q ListQuery) ([]Application, error) {
	out := r.snapshot(nil)
	sort.Slice(out, func(i, j int) bool {
		c := compareApplications(out[i], out[j], q.Sort)
		if c == 0 {
			return out[i].ID < out[j].ID
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string, status Status) ([]Application, error) {
	out := r.snapshot(func(a Application) bool {
		return a.UserID == userID && (status == "" || a.Status == status)
	})
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].CreatedAt.Compare(out[j].CreatedAt); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryRepository) Stats(_ context.Context) (Stats, error) {
	var s Stats
	for _, a := range r.snapshot(nil) {
		s.Total++
		switch a.Status {
		case StatusPending:
			s.Pending++
		case StatusApproved:
			s.Approved++
		case StatusRejected:
			s.Rejected++
		}
	}
	return s, nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id string, status Status) (Application, error) {
	if _, err := parseID(id); err != nil {
		return Application{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	if rec.Status == StatusCompleted {
		return Application{}, fmt.Errorf("%w: loan is already completed", ErrInvalidTransition)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	r.records[rec.ID] = rec
	return copyApplication(rec.Application), nil
}

func (r *memoryRepository) RecordPayment(_ context.Context, p Payment) (Application, error) {
	if _, err := parseID(p.LoanID); err != nil {
		return Application{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[p.LoanID]
	if !ok {
		return Application{}, ErrNotFound
	}
	if rec.Status != StatusApproved {
		return Application{}, fmt.Errorf("%w: only approved loans can be paid (status %s)", ErrInvalidTransition, rec.Status)
	}
	r.payments = append(r.payments, p)
	rec.Status = StatusCompleted
	rec.UpdatedAt = p.PaidAt.UTC()
	r.records[rec.ID] = rec
	return copyApplication(rec.Application), nil
}
