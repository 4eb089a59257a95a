package routes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/auth"
	"github.com/mediloan/mediloan/internal/config"
	"github.com/mediloan/mediloan/internal/loan"
	"github.com/mediloan/mediloan/internal/medical"
	"github.com/mediloan/mediloan/internal/metrics"
	"github.com/mediloan/mediloan/internal/middleware"
	"github.com/mediloan/mediloan/internal/notification"
	"github.com/mediloan/mediloan/internal/storage"
	"github.com/mediloan/mediloan/internal/wizard"
)

const (
	devAnalysisScore   = 70
	devSessionTTL      = time.Hour
	draftSweepInterval = time.Minute
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. The returned
// func stops the background workers started here.
func Setup(app *fiber.App, d Deps) (func(), error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	secret := []byte(d.Cfg.JWTSecret)
	if len(secret) == 0 {
		secret = []byte(uuid.NewString())
		d.Logger.Warn("JWT_SECRET not set, using an ephemeral development secret")
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Health
	RegisterHealthRoutes(app, d, reg)

	// Backends
	var (
		profiles auth.ProfileRepository
		loanRepo loan.Repository
	)
	if d.DB != nil {
		profiles = auth.NewPostgresProfileRepository(d.DB)
		loanRepo = loan.NewPostgresRepository(d.DB)
	} else {
		profiles = auth.NewMemoryProfileRepository()
		loanRepo = loan.NewMemoryRepository()
	}

	var (
		provider auth.Provider
		revoked  func(string) bool
	)
	if d.Cfg.SupabaseURL != "" {
		provider = auth.NewGoTrueProvider(d.Cfg.SupabaseURL, d.Cfg.SupabaseAnonKey)
	} else {
		mem := auth.NewMemoryProvider(secret, devSessionTTL)
		provider, revoked = mem, mem.Revoked
	}

	var store storage.Store
	if d.Cfg.SupabaseURL != "" && d.Cfg.SupabaseServiceKey != "" {
		store = storage.NewSupabaseStore(d.Cfg.SupabaseURL, d.Cfg.SupabaseServiceKey, d.Cfg.AnalysisTimeout)
	} else {
		store = storage.NewMemoryStore()
	}

	var feed notification.Feed
	if d.Cache != nil {
		feed = notification.NewRedisFeed(d.Cache, notification.DefaultChannel, d.Logger)
	} else {
		feed = notification.NewBroker()
	}

	var analyzer analysis.Analyzer
	if d.Cfg.AnalysisBaseURL != "" {
		analyzer = analysis.NewHTTPAnalyzer(d.Cfg.AnalysisBaseURL, d.Cfg.AnalysisTimeout)
	} else {
		d.Logger.Warn("ANALYSIS_BASE_URL not set, using static analysis results")
		analyzer = analysis.NewStaticAnalyzer(devAnalysisScore)
	}

	// Services and handlers
	notifier := notification.NewLoggerNotifier(d.Logger)
	authSvc := auth.NewService(provider, profiles, d.Cfg.IsAdmin, d.Logger)
	loanSvc := loan.NewService(loan.ServiceDeps{
		Repo:     loanRepo,
		Profiles: profiles,
		Store:    store,
		Feed:     feed,
		Notifier: notifier,
		Logger:   d.Logger,
	})
	registry := wizard.NewRegistry(wizard.RegistryConfig{
		Template: wizard.Options{
			Analyzer:     analyzer,
			Submitter:    loanSvc,
			MpesaTimeout: d.Cfg.MpesaTimeout,
			Logger:       d.Logger,
			Metrics:      m,
		},
		FormalBankStatementAnalysis: d.Cfg.FormalBankStatementAnalysis,
		TTL:                         d.Cfg.DraftTTL,
	})
	medicalSvc := medical.NewService(analyzer, m, d.Logger)

	authHandler := auth.NewHandler(authSvc)
	wizardHandler := wizard.NewHandler(registry)
	loanHandler := loan.NewHandler(loanSvc)
	medicalHandler := medical.NewHandler(medicalSvc)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go registry.Run(janitorCtx, draftSweepInterval)

	// API routes
	api := app.Group("/api/v1")

	// Public routes
	rateLimiter := middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute, d.Logger)
	RegisterAuthRoutes(api, authHandler, rateLimiter)

	// Protected routes
	protected := api.Group("", auth.Authenticate(secret, d.Cfg.IsAdmin, revoked))
	RegisterSessionRoutes(protected, authHandler)

	// Role guards are mounted on their own prefixes only, so unknown paths
	// fall through to 404 whatever the registration order.
	admin := protected.Group("/admin", auth.RequireAdmin())
	RegisterAdminRoutes(admin, loanHandler)

	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger, middleware.IdempotencyOptions{Optional: true})
	applicantOnly := auth.RequireApplicant()
	RegisterWizardRoutes(protected, wizardHandler, applicantOnly, idem)
	RegisterLoanRoutes(protected, loanHandler, applicantOnly, idem)
	RegisterMedicalRoutes(protected, medicalHandler, applicantOnly)

	return stopJanitor, nil
}
