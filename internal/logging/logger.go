package logging

import (
	"io"
	"log/slog"
	"os"
)

// Attribute keys shared by the wizard, loan and middleware packages so that
// one application can be followed across log lines.
const (
	KeyDraftID   = "draft_id"
	KeyLoanID    = "loan_id"
	KeyUserID    = "user_id"
	KeyCategory  = "category"
	KeyRequestID = "request_id"
)

// New creates a JSON slog logger on stdout configured at the provided level.
// If the level string is invalid it defaults to info.
func New(level, appName string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, appName)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, appName string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	if appName != "" {
		logger = logger.With(slog.String("service", appName))
	}
	return logger
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
