package loan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/auth"
	"github.com/mediloan/mediloan/internal/notification"
	"github.com/mediloan/mediloan/internal/storage"
	"github.com/mediloan/mediloan/internal/wizard"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     Repository
	store    *storage.MemoryStore
	profiles auth.ProfileRepository
	broker   *notification.Broker
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMemoryRepository(),
		store:    storage.NewMemoryStore(),
		profiles: auth.NewMemoryProfileRepository(),
		broker:   notification.NewBroker(),
		now:      testNow,
	}
	f.svc = NewService(ServiceDeps{
		Repo:     f.repo,
		Profiles: f.profiles,
		Store:    f.store,
		Feed:     f.broker,
		Clock:    func() time.Time { return f.now },
	})
	return f
}

func setScores(t *testing.T, repo Repository, id string, s Scores) {
	t.Helper()
	mem := repo.(*memoryRepository)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	rec, ok := mem.records[id]
	require.True(t, ok, "unknown record %s", id)
	rec.Scores = s
	mem.records[id] = rec
}

func file(name, mediaType string) analysis.File {
	return analysis.File{Name: name, ContentType: mediaType, Data: []byte("data of " + name)}
}

func submission(userID string) wizard.Submission {
	shop := file("shop.jpg", "image/jpeg")
	return wizard.Submission{
		LoanID:            uuid.NewString(),
		UserID:            userID,
		Sector:            wizard.SectorInformal,
		AmountRequested:   2500,
		RepaymentDate:     testNow.AddDate(0, 1, 0),
		HasRetailBusiness: true,
		BusinessLocation:  "Gikomba",
		Assets: []analysis.File{
			file("fridge.jpg", "image/jpeg"),
			file("tv.png", "image/png"),
			file("my sofa.jpg", "image/jpeg"),
		},
		HomeFloorPhoto: file("home.jpg", "image/jpeg"),
		ShopPicture:    &shop,
		Guarantors: [wizard.GuarantorCount]wizard.Guarantor{
			{FullName: "Jane Doe", Nationality: "Kenyan", IDNumber: "12345678", Contact: "0712345678"},
			{FullName: "John Roe", Nationality: "Kenyan", IDNumber: "87654321", Contact: "0787654321"},
		},
		GuarantorFiles: []analysis.File{file("id1.jpg", "image/jpeg"), file("id2.jpg", "image/jpeg")},
		Results: wizard.Results{
			Assets: wizard.AssetResults{
				Items:        []analysis.Result{{"item": "fridge"}, {"item": "tv"}, {"item": "sofa"}},
				ShopAnalysis: []analysis.Result{{"stock": "high"}},
			},
			CallLogs:   []analysis.Result{{"calls": 120}},
			Mpesa:      []analysis.Result{},
			Guarantors: []analysis.Result{{"match": true}, {"match": false}},
		},
	}
}

func mustCreate(t *testing.T, f *fixture, sub wizard.Submission) string {
	t.Helper()
	id, err := f.svc.Create(context.Background(), sub)
	require.NoError(t, err)
	return id
}

func receive(t *testing.T, ch <-chan notification.Change) notification.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
	return notification.Change{}
}

func TestCreateUploadsAndStoresRecord(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := f.svc.Subscribe(ctx)
	require.NoError(t, err)

	sub := submission("user-1")
	id := mustCreate(t, f, sub)
	require.Equal(t, sub.LoanID, id)
	require.Equal(t, 7, f.store.Len())

	rec, err := f.repo.Detail(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, id+"/home_0_home.jpg", rec.HomePhotoPath)
	require.Equal(t, id+"/shop_0_shop.jpg", rec.ShopPhotoPath)
	require.Equal(t, []string{id + "/asset_0_fridge.jpg", id + "/asset_1_tv.png", id + "/asset_2_my_sofa.jpg"}, rec.AssetPaths)

	obj, err := f.store.Get(storage.BucketDocuments, id+"/guarantor_id_2_id2.jpg")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", obj.ContentType)

	require.Len(t, rec.Guarantors, 2)
	require.Equal(t, 1, rec.Guarantors[0].Position)
	require.Equal(t, "Jane Doe", rec.Guarantors[0].FullName)
	require.Equal(t, id+"/guarantor_id_1_id1.jpg", rec.Guarantors[0].IDDocumentPath)
	require.Equal(t, false, rec.Guarantors[1].Analysis["match"])
	require.Len(t, rec.Analyses, 5)

	c := receive(t, changes)
	require.Equal(t, notification.OpInsert, c.Op)
	require.Equal(t, id, c.RecordID)
	require.Equal(t, string(StatusPending), c.Status)
}

func TestCreateRejectsDuplicateLoanID(t *testing.T) {
	f := newFixture(t)
	sub := submission("user-1")
	mustCreate(t, f, sub)

	stored := f.store.Len()

	_, err := f.svc.Create(context.Background(), sub)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, stored, f.store.Len())
	_, err = f.store.Get(storage.BucketAssets, storage.ObjectPath(sub.LoanID, "home", 0, sub.HomeFloorPhoto.Name))
	require.NoError(t, err)
}

func TestCreateUploadFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.store.FailBucket = storage.BucketDocuments
	sub := submission("user-1")

	_, err := f.svc.Create(context.Background(), sub)
	require.ErrorIs(t, err, storage.ErrUpload)

	_, err = f.repo.Get(context.Background(), sub.LoanID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, f.store.Len(), "photos uploaded before the failure must be removed")
}

func TestDashboardSortsSearchesAndMergesProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.profiles.Upsert(ctx, auth.Profile{ID: "user-1", Email: "amina@example.com", FullName: "Amina Wanjiru"}))

	small := submission("user-1")
	small.AmountRequested = 500
	mustCreate(t, f, small)

	f.now = testNow.Add(time.Hour)
	big := submission("user-2")
	big.AmountRequested = 9000
	big.Sector = wizard.SectorFormal
	mustCreate(t, f, big)

	entries, err := f.svc.Dashboard(ctx, "", "", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, big.LoanID, entries[0].ID, "newest first by default")
	require.Equal(t, UnknownProfile, entries[0].UserEmail)
	require.Equal(t, UnknownProfile, entries[0].UserName)
	require.Equal(t, "Amina Wanjiru", entries[1].UserName)

	entries, err = f.svc.Dashboard(ctx, "amount_requested", "asc", "")
	require.NoError(t, err)
	require.Equal(t, small.LoanID, entries[0].ID)

	entries, err = f.svc.Dashboard(ctx, "", "", "AMINA")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, small.LoanID, entries[0].ID)

	entries, err = f.svc.Dashboard(ctx, "", "", "formal")
	require.NoError(t, err)
	require.Len(t, entries, 2, "formal is a substring of informal")

	_, err = f.svc.Dashboard(ctx, "user_id; drop table", "", "")
	require.ErrorIs(t, err, ErrInvalidQuery)
	_, err = f.svc.Dashboard(ctx, "status", "sideways", "")
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestUpdateStatusValidatesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id := mustCreate(t, f, submission("user-1"))
	changes, err := f.svc.Subscribe(ctx)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, id, "completed")
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.svc.UpdateStatus(ctx, "not-a-uuid", "approved")
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = f.svc.UpdateStatus(ctx, uuid.NewString(), "approved")
	require.ErrorIs(t, err, ErrNotFound)

	app, err := f.svc.UpdateStatus(ctx, id, " Approved ")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, app.Status)

	c := receive(t, changes)
	require.Equal(t, notification.OpUpdate, c.Op)
	require.Equal(t, string(StatusApproved), c.Status)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 1, Approved: 1}, stats)
}

func TestPayCompletesApprovedLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustCreate(t, f, submission("user-1"))

	_, err := f.svc.Pay(ctx, "user-1", id, 0)
	require.ErrorIs(t, err, ErrInvalidTransition, "pending loans cannot be paid")

	_, err = f.svc.UpdateStatus(ctx, id, "approved")
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, "user-2", id, 0)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Pay(ctx, "user-1", id, -5)
	require.ErrorIs(t, err, ErrInvalidAmount)

	receipt, err := f.svc.Pay(ctx, "user-1", id, 0)
	require.NoError(t, err)
	require.Equal(t, 2500.0, receipt.Payment.Amount)
	require.Equal(t, StatusCompleted, receipt.Application.Status)

	_, err = f.svc.Pay(ctx, "user-1", id, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, id, "pending")
	require.ErrorIs(t, err, ErrInvalidTransition)

	past, err := f.svc.PastLoans(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, past, 1)
	require.Equal(t, StatusCompleted, past[0].Status)
}

func TestActiveLoansCountsDaysUntilDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	approved := submission("user-1")
	approved.RepaymentDate = testNow.Add(36 * time.Hour)
	mustCreate(t, f, approved)
	mustCreate(t, f, submission("user-1"))
	_, err := f.svc.UpdateStatus(ctx, approved.LoanID, "approved")
	require.NoError(t, err)

	loans, err := f.svc.ActiveLoans(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.Equal(t, approved.LoanID, loans[0].ID)
	require.Equal(t, 2, loans[0].DaysUntilDue)

	loans, err = f.svc.ActiveLoans(ctx, "user-2")
	require.NoError(t, err)
	require.Empty(t, loans)
}

func TestDaysUntil(t *testing.T) {
	cases := []struct {
		name string
		due  time.Time
		want int
	}{
		{"same instant", testNow, 0},
		{"one hour", testNow.Add(time.Hour), 1},
		{"exactly a day", testNow.Add(24 * time.Hour), 1},
		{"ten days", testNow.AddDate(0, 0, 10), 10},
		{"overdue", testNow.Add(-49 * time.Hour), -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DaysUntil(tc.due, testNow))
		})
	}
}

func TestReviewGroupsAnalysisAndRatesScores(t *testing.T) {
	f := newFixture(t)
	id := mustCreate(t, f, submission("user-1"))
	mpesa, total := 85.0, 45.0
	setScores(t, f.repo, id, Scores{Mpesa: &mpesa, Total: &total})

	r, err := f.svc.Review(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, r.Analysis[CategoryAssets], 3)
	require.Len(t, r.Analysis[CategoryShop], 1)
	require.Len(t, r.Analysis[CategoryCallLogs], 1)
	require.NotNil(t, r.Analysis[CategoryBank])
	require.Empty(t, r.Analysis[CategoryBank])
	require.Empty(t, r.Analysis[CategoryMpesa])

	require.Equal(t, "memory://assets/"+id+"/home_0_home.jpg", r.Images.Home)
	require.Len(t, r.Images.Assets, 3)
	require.Equal(t, "memory://documents/"+id+"/guarantor_id_1_id1.jpg", r.Guarantors[0].IDDocumentURL)

	byKey := map[string]ScoreView{}
	for _, s := range r.Scores {
		byKey[s.Key] = s
	}
	require.Equal(t, "Excellent", byKey["mpesa_score"].Rating)
	require.True(t, byKey["mpesa_score"].Scored)
	require.Equal(t, "Poor", byKey["gps_score"].Rating)
	require.False(t, byKey["gps_score"].Scored)
	require.Equal(t, 45.0, r.Total.Score)
	require.Equal(t, "Fair", r.Total.Rating)

	_, err = f.svc.Review(context.Background(), uuid.NewString())
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestRating(t *testing.T) {
	for score, want := range map[float64]string{100: "Excellent", 80: "Excellent", 79.9: "Good", 60: "Good", 40: "Fair", 39: "Poor", 0: "Poor"} {
		require.Equal(t, want, Rating(score), "score %v", score)
	}
}
