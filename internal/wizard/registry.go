package wizard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediloan/mediloan/internal/logging"
)

// RegistryConfig configures the draft registry.
type RegistryConfig struct {
	// Template supplies the collaborators of every new draft. Its Profile is
	// replaced by the sector profile.
	Template Options
	// FormalBankStatementAnalysis re-enables bank statement analysis for
	// formal drafts.
	FormalBankStatementAnalysis bool
	// TTL is the idle time after which a draft is dropped.
	TTL time.Duration
}

// Registry holds the live drafts of the process. Drafts are never persisted;
// a draft that idles past the TTL is lost like a closed browser tab.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu     sync.RWMutex
	drafts map[string]*Wizard
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if cfg.Template.Clock == nil {
		cfg.Template.Clock = time.Now
	}
	logger := cfg.Template.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{cfg: cfg, logger: logger, drafts: make(map[string]*Wizard)}
}

// Create mounts a new draft for userID.
func (r *Registry) Create(userID string, sector Sector) (*Wizard, error) {
	profile, err := ProfileFor(sector, r.cfg.FormalBankStatementAnalysis)
	if err != nil {
		return nil, err
	}
	opts := r.cfg.Template
	opts.Profile = profile
	w := New(uuid.NewString(), userID, opts)

	r.mu.Lock()
	r.drafts[w.ID()] = w
	n := len(r.drafts)
	r.mu.Unlock()

	r.cfg.Template.Metrics.SetActiveDrafts(n)
	r.logger.Info("draft created",
		slog.String(logging.KeyDraftID, w.ID()),
		slog.String(logging.KeyLoanID, w.LoanID()),
		slog.String(logging.KeyUserID, userID),
		slog.String("sector", string(sector)))
	return w, nil
}

// Get returns the open draft id owned by userID. Foreign, closed and
// expired drafts are reported as not found.
func (r *Registry) Get(id, userID string) (*Wizard, error) {
	r.mu.RLock()
	w, ok := r.drafts[id]
	r.mu.RUnlock()
	if !ok || w.UserID() != userID {
		return nil, ErrNotFound
	}
	if w.Closed() || r.expired(w) {
		r.remove(id)
		return nil, ErrNotFound
	}
	return w, nil
}

// Discard closes and drops the draft.
func (r *Registry) Discard(id, userID string) error {
	if _, err := r.Get(id, userID); err != nil {
		return err
	}
	r.remove(id)
	return nil
}

// Len returns the number of drafts held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drafts)
}

func (r *Registry) expired(w *Wizard) bool {
	return r.cfg.Template.Clock().Sub(w.LastActive()) > r.cfg.TTL
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	w, ok := r.drafts[id]
	delete(r.drafts, id)
	n := len(r.drafts)
	r.mu.Unlock()
	if ok {
		w.Discard()
	}
	r.cfg.Template.Metrics.SetActiveDrafts(n)
}

// Sweep drops closed and expired drafts and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	var stale []string
	for id, w := range r.drafts {
		if w.Closed() || r.expired(w) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range stale {
		r.remove(id)
	}
	if len(stale) > 0 {
		r.logger.Info("expired drafts dropped", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps the registry every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
