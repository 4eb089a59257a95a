package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/auth"
	"github.com/mediloan/mediloan/internal/logging"
	"github.com/mediloan/mediloan/internal/notification"
	"github.com/mediloan/mediloan/internal/storage"
	"github.com/mediloan/mediloan/internal/wizard"
)

// uploadConcurrency bounds parallel uploads per submission.
const uploadConcurrency = 4

// ServiceDeps are the collaborators of the loan service.
type ServiceDeps struct {
	Repo     Repository
	Profiles auth.ProfileRepository
	Store    storage.Store
	Feed     notification.Feed
	Notifier notification.Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Service persists submitted applications and serves the review surfaces.
type Service struct {
	repo     Repository
	profiles auth.ProfileRepository
	store    storage.Store
	feed     notification.Feed
	notifier notification.Notifier
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService constructs a loan service.
func NewService(d ServiceDeps) *Service {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Feed == nil {
		d.Feed = notification.NewBroker()
	}
	return &Service{
		repo:     d.Repo,
		profiles: d.Profiles,
		store:    d.Store,
		feed:     d.Feed,
		notifier: d.Notifier,
		logger:   d.Logger,
		clock:    d.Clock,
	}
}

type upload struct {
	obj  storage.Object
	dest *string
}

func newUpload(bucket, loanID, prefix string, index int, f analysis.File, dest *string) upload {
	path := storage.ObjectPath(loanID, prefix, index, f.Name)
	return upload{
		obj:  storage.Object{Bucket: bucket, Path: path, ContentType: f.MediaType(), Data: f.Data},
		dest: dest,
	}
}

func (s *Service) uploadAll(ctx context.Context, uploads []upload) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, u := range uploads {
		g.Go(func() error {
			if err := s.store.Upload(gctx, u.obj); err != nil {
				return err
			}
			*u.dest = u.obj.Path
			return nil
		})
	}
	return g.Wait()
}

// discardUploads deletes the objects uploadAll managed to store. Only call
// it after uploadAll has returned.
func (s *Service) discardUploads(ctx context.Context, logger *slog.Logger, uploads []upload) {
	byBucket := make(map[string][]string)
	for _, u := range uploads {
		if *u.dest != "" {
			byBucket[u.obj.Bucket] = append(byBucket[u.obj.Bucket], u.obj.Path)
		}
	}
	ctx = context.WithoutCancel(ctx)
	for bucket, paths := range byBucket {
		if err := s.store.Delete(ctx, bucket, paths); err != nil {
			logger.Warn("orphaned uploads left in storage", slog.String("bucket", bucket), slog.Int("objects", len(paths)), slog.Any("error", err))
		}
	}
}

func analysisRows(loanID, category string, results []analysis.Result) []AnalysisRow {
	rows := make([]AnalysisRow, 0, len(results))
	for i, res := range results {
		rows = append(rows, AnalysisRow{LoanID: loanID, Category: category, Position: i, Payload: res})
	}
	return rows
}

// Create uploads the application photos and ID scans, then stores the
// record with its guarantors and analysis results under the draft's loan
// id. It implements wizard.Submitter.
func (s *Service) Create(ctx context.Context, sub wizard.Submission) (string, error) {
	logger := s.logger.With(slog.String(logging.KeyLoanID, sub.LoanID), slog.String(logging.KeyUserID, sub.UserID))

	// Object paths derive from the loan id, so a resubmission must not reach
	// storage where it would overwrite or discard the stored application's files.
	if _, err := s.repo.Get(ctx, sub.LoanID); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, sub.LoanID)
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	app := Application{
		ID:                         sub.LoanID,
		UserID:                     sub.UserID,
		Sector:                     string(sub.Sector),
		AmountRequested:            sub.AmountRequested,
		RepaymentDate:              sub.RepaymentDate,
		Status:                     StatusPending,
		CreatedAt:                  s.clock().UTC(),
		HasBankAccount:             sub.HasBankAccount,
		HasRetailBusiness:          sub.HasRetailBusiness,
		BusinessRegistrationNumber: sub.BusinessRegistrationNumber,
		BusinessLocation:           sub.BusinessLocation,
		AssetPaths:                 make([]string, len(sub.Assets)),
	}
	guarantorPaths := make([]string, len(sub.GuarantorFiles))

	uploads := []upload{newUpload(storage.BucketAssets, sub.LoanID, "home", 0, sub.HomeFloorPhoto, &app.HomePhotoPath)}
	if sub.ShopPicture != nil {
		uploads = append(uploads, newUpload(storage.BucketAssets, sub.LoanID, "shop", 0, *sub.ShopPicture, &app.ShopPhotoPath))
	}
	for i, f := range sub.Assets {
		uploads = append(uploads, newUpload(storage.BucketAssets, sub.LoanID, "asset", i, f, &app.AssetPaths[i]))
	}
	for i, f := range sub.GuarantorFiles {
		uploads = append(uploads, newUpload(storage.BucketDocuments, sub.LoanID, "guarantor_id", i+1, f, &guarantorPaths[i]))
	}
	if err := s.uploadAll(ctx, uploads); err != nil {
		logger.Error("application upload failed", slog.Any("error", err))
		s.discardUploads(ctx, logger, uploads)
		return "", err
	}

	rec := Record{Application: app}
	for i, g := range sub.Guarantors {
		row := Guarantor{
			LoanID:      sub.LoanID,
			Position:    i + 1,
			FullName:    g.FullName,
			Nationality: g.Nationality,
			IDNumber:    g.IDNumber,
			Contact:     g.Contact,
		}
		if i < len(guarantorPaths) {
			row.IDDocumentPath = guarantorPaths[i]
		}
		if i < len(sub.Results.Guarantors) {
			row.Analysis = sub.Results.Guarantors[i]
		}
		rec.Guarantors = append(rec.Guarantors, row)
	}
	r := sub.Results
	rec.Analyses = append(rec.Analyses, analysisRows(sub.LoanID, CategoryAssets, r.Assets.Items)...)
	rec.Analyses = append(rec.Analyses, analysisRows(sub.LoanID, CategoryShop, r.Assets.ShopAnalysis)...)
	rec.Analyses = append(rec.Analyses, analysisRows(sub.LoanID, CategoryBank, r.Bank)...)
	rec.Analyses = append(rec.Analyses, analysisRows(sub.LoanID, CategoryPayslip, r.Payslips)...)
	rec.Analyses = append(rec.Analyses, analysisRows(sub.LoanID, CategoryCallLogs, r.CallLogs)...)
	rec.Analyses = append(rec.Analyses, analysisRows(sub.LoanID, CategoryMpesa, r.Mpesa)...)

	if err := s.repo.Insert(ctx, rec); err != nil {
		logger.Error("application insert failed", slog.Any("error", err))
		if !errors.Is(err, ErrDuplicate) {
			s.discardUploads(ctx, logger, uploads)
		}
		return "", err
	}
	logger.Info("application stored",
		slog.String("sector", app.Sector),
		slog.Int("uploads", len(uploads)),
		slog.Int("analysis_rows", len(rec.Analyses)))

	s.publish(ctx, notification.OpInsert, app)
	s.notify(ctx, notification.KindApplicationReceived, app.UserID,
		fmt.Sprintf("We received your loan application %s for %.2f", app.ID, app.AmountRequested))
	return app.ID, nil
}

func (s *Service) publish(ctx context.Context, op string, app Application) {
	change := notification.Change{
		Op:       op,
		Table:    notification.TableLoanApplications,
		RecordID: app.ID,
		UserID:   app.UserID,
		Status:   string(app.Status),
		At:       s.clock().UTC(),
	}
	if err := s.feed.Publish(ctx, change); err != nil {
		s.logger.Warn("change publish failed", slog.String(logging.KeyLoanID, app.ID), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body})
}

// Subscribe follows application changes until ctx is done.
func (s *Service) Subscribe(ctx context.Context) (<-chan notification.Change, error) {
	return s.feed.Subscribe(ctx)
}

// UpdateStatus lets staff set pending, approved or rejected.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (Application, error) {
	st, err := ParseReviewStatus(status)
	if err != nil {
		return Application{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Application{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	app, err := s.repo.UpdateStatus(ctx, id, st)
	if err != nil {
		return Application{}, err
	}
	s.logger.Info("application status updated", slog.String(logging.KeyLoanID, id), slog.String("status", string(st)))
	s.publish(ctx, notification.OpUpdate, app)
	s.notify(ctx, notification.KindStatusChanged, app.UserID,
		fmt.Sprintf("Your loan application %s is now %s", app.ID, app.Status))
	return app, nil
}

// PastLoans returns the user's applications newest first.
func (s *Service) PastLoans(ctx context.Context, userID string) ([]Application, error) {
	return s.repo.ListByUser(ctx, userID, "")
}
