package loan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mediloan/mediloan/internal/logging"
	"github.com/mediloan/mediloan/internal/notification"
)

// ActiveLoan is an approved loan awaiting repayment.
type ActiveLoan struct {
	Application
	DaysUntilDue int `json:"days_until_due"`
}

// PaymentReceipt is returned after a repayment.
type PaymentReceipt struct {
	Payment     Payment     `json:"payment"`
	Application Application `json:"application"`
}

// DaysUntil returns the whole days from now to due, rounded up. Overdue
// loans yield zero or a negative count.
func DaysUntil(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

// ActiveLoans returns the user's approved loans newest first.
func (s *Service) ActiveLoans(ctx context.Context, userID string) ([]ActiveLoan, error) {
	apps, err := s.repo.ListByUser(ctx, userID, StatusApproved)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := make([]ActiveLoan, 0, len(apps))
	for _, a := range apps {
		out = append(out, ActiveLoan{Application: a, DaysUntilDue: DaysUntil(a.RepaymentDate, now)})
	}
	return out, nil
}

// Pay records a repayment by the owner and completes the loan. A zero
// amount pays the requested amount.
func (s *Service) Pay(ctx context.Context, userID, loanID string, amount float64) (PaymentReceipt, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return PaymentReceipt{}, ErrInvalidAmount
	}
	app, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return PaymentReceipt{}, err
	}
	if app.UserID != userID {
		return PaymentReceipt{}, ErrNotFound
	}
	if amount == 0 {
		amount = app.AmountRequested
	}

	p := Payment{ID: uuid.NewString(), LoanID: app.ID, Amount: amount, PaidAt: s.clock().UTC()}
	updated, err := s.repo.RecordPayment(ctx, p)
	if err != nil {
		return PaymentReceipt{}, err
	}
	s.logger.Info("loan repaid",
		slog.String(logging.KeyLoanID, app.ID),
		slog.String(logging.KeyUserID, userID),
		slog.Float64("amount", amount))
	s.publish(ctx, notification.OpUpdate, updated)
	s.notify(ctx, notification.KindLoanRepaid, userID, fmt.Sprintf("Payment of %.2f received for loan %s", amount, app.ID))
	return PaymentReceipt{Payment: p, Application: updated}, nil
}
