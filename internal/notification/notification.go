package notification

import (
	"context"
	"log/slog"
)

const (
	// KindApplicationReceived confirms a submitted loan application.
	KindApplicationReceived = "application_received"
	// KindStatusChanged tells the applicant a reviewer decided.
	KindStatusChanged = "application_status_changed"
	// KindLoanRepaid confirms a repayment.
	KindLoanRepaid = "loan_repaid"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body))
	return nil
}
