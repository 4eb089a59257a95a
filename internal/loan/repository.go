package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists loan applications.
type Repository interface {
	// Insert stores rec with its guarantors and analyses atomically.
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Application, error)
	Detail(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, q ListQuery) ([]Application, error)
	// ListByUser returns the user's applications newest first, optionally
	// filtered by status.
	ListByUser(ctx context.Context, userID string, status Status) ([]Application, error)
	Stats(ctx context.Context) (Stats, error)
	// UpdateStatus sets a reviewer status. Completed loans are final.
	UpdateStatus(ctx context.Context, id string, status Status) (Application, error)
	// RecordPayment stores p and completes the approved loan it pays.
	RecordPayment(ctx context.Context, p Payment) (Application, error)
}

// PostgresRepository stores applications in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const applicationColumns = `id, user_id, sector, amount_requested, repayment_date, status, created_at, updated_at,
        has_bank_account, has_retail_business, COALESCE(business_registration_number, ''), COALESCE(business_location, ''),
        COALESCE(home_photo_url, ''), COALESCE(shop_photo_url, ''), COALESCE(assets_urls, '{}'),
        bank_statement_score, mpesa_score, gps_score, assets_score, call_logs_score, payslips_score, total_credit_score`

func scanApplication(row pgx.Row) (Application, error) {
	var a Application
	var id, userID uuid.UUID
	var status string
	err := row.Scan(&id, &userID, &a.Sector, &a.AmountRequested, &a.RepaymentDate, &status, &a.CreatedAt, &a.UpdatedAt,
		&a.HasBankAccount, &a.HasRetailBusiness, &a.BusinessRegistrationNumber, &a.BusinessLocation,
		&a.HomePhotoPath, &a.ShopPhotoPath, &a.AssetPaths,
		&a.BankStatement, &a.Mpesa, &a.GPS, &a.Assets, &a.CallLogs, &a.Payslips, &a.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, err
	}
	a.ID = id.String()
	a.UserID = userID.String()
	a.Status = Status(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func collectApplications(rows pgx.Rows) ([]Application, error) {
	defer rows.Close()
	out := []Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return parsed, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Insert writes the application, both guarantors and every analysis row in
// one transaction.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	id, err := parseID(rec.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(rec.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", rec.UserID, err)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	a := rec.Application
	_, err = tx.Exec(ctx, `INSERT INTO loan_applications (id, user_id, sector, amount_requested, repayment_date, status,
        created_at, updated_at, has_bank_account, has_retail_business, business_registration_number, business_location,
        home_photo_url, shop_photo_url, assets_urls)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, userID, a.Sector, a.AmountRequested, a.RepaymentDate, string(a.Status), a.CreatedAt.UTC(),
		a.HasBankAccount, a.HasRetailBusiness, nullable(a.BusinessRegistrationNumber), nullable(a.BusinessLocation),
		nullable(a.HomePhotoPath), nullable(a.ShopPhotoPath), a.AssetPaths)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Message)
		}
		return err
	}

	for _, g := range rec.Guarantors {
		if _, err := tx.Exec(ctx, `INSERT INTO guarantors (loan_id, position, full_name, nationality, id_number, contact,
            id_document_url, analysis) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, g.Position, g.FullName, g.Nationality, g.IDNumber, g.Contact, nullable(g.IDDocumentPath), g.Analysis); err != nil {
			return fmt.Errorf("insert guarantor %d: %w", g.Position, err)
		}
	}

	batch := &pgx.Batch{}
	for _, row := range rec.Analyses {
		batch.Queue(`INSERT INTO analysis_results (loan_id, category, position, payload) VALUES ($1, $2, $3, $4)`,
			id, row.Category, row.Position, row.Payload)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert analysis results: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Get fetches one application.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Application, error) {
	parsed, err := parseID(id)
	if err != nil {
		return Application{}, err
	}
	return scanApplication(r.db.QueryRow(ctx, `SELECT `+applicationColumns+` FROM loan_applications WHERE id = $1`, parsed))
}

// Detail fetches an application with its guarantors and analyses.
func (r *PostgresRepository) Detail(ctx context.Context, id string) (Record, error) {
	app, err := r.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Application: app, Guarantors: []Guarantor{}, Analyses: []AnalysisRow{}}

	rows, err := r.db.Query(ctx, `SELECT position, full_name, nationality, id_number, contact,
        COALESCE(id_document_url, ''), analysis FROM guarantors WHERE loan_id = $1 ORDER BY position`, app.ID)
	if err != nil {
		return Record{}, err
	}
	for rows.Next() {
		g := Guarantor{LoanID: app.ID}
		if err := rows.Scan(&g.Position, &g.FullName, &g.Nationality, &g.IDNumber, &g.Contact, &g.IDDocumentPath, &g.Analysis); err != nil {
			rows.Close()
			return Record{}, err
		}
		rec.Guarantors = append(rec.Guarantors, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, err
	}

	rows, err = r.db.Query(ctx, `SELECT category, position, payload FROM analysis_results
        WHERE loan_id = $1 ORDER BY category, position`, app.ID)
	if err != nil {
		return Record{}, err
	}
	defer rows.Close()
	for rows.Next() {
		row := AnalysisRow{LoanID: app.ID}
		if err := rows.Scan(&row.Category, &row.Position, &row.Payload); err != nil {
			return Record{}, err
		}
		rec.Analyses = append(rec.Analyses, row)
	}
	return rec, rows.Err()
}

// List returns every application in the requested order. The sort key is
// resolved through SortColumns before it reaches the query text.
func (r *PostgresRepository) List(ctx context.Context, q ListQuery) ([]Application, error) {
	column, ok := SortColumns[q.Sort]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM loan_applications ORDER BY %s %s, id`, applicationColumns, column, direction))
	if err != nil {
		return nil, err
	}
	return collectApplications(rows)
}

// ListByUser returns the user's applications newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, status Status) ([]Application, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return []Application{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+applicationColumns+` FROM loan_applications
        WHERE user_id = $1 AND ($2 = '' OR status = $2) ORDER BY created_at DESC, id`, uid, string(status))
	if err != nil {
		return nil, err
	}
	return collectApplications(rows)
}

// Stats counts applications per status.
func (r *PostgresRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx, `SELECT COUNT(*),
        COUNT(*) FILTER (WHERE status = 'pending'),
        COUNT(*) FILTER (WHERE status = 'approved'),
        COUNT(*) FILTER (WHERE status = 'rejected')
        FROM loan_applications`).Scan(&s.Total, &s.Pending, &s.Approved, &s.Rejected)
	return s, err
}

func lockStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Status, error) {
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM loan_applications WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return Status(status), nil
}

// UpdateStatus sets status unless the loan is completed.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status Status) (Application, error) {
	parsed, err := parseID(id)
	if err != nil {
		return Application{}, err
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Application{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockStatus(ctx, tx, parsed)
	if err != nil {
		return Application{}, err
	}
	if current == StatusCompleted {
		return Application{}, fmt.Errorf("%w: loan is already completed", ErrInvalidTransition)
	}
	app, err := scanApplication(tx.QueryRow(ctx, `UPDATE loan_applications SET status = $2, updated_at = $3
        WHERE id = $1 RETURNING `+applicationColumns, parsed, string(status), time.Now().UTC()))
	if err != nil {
		return Application{}, err
	}
	return app, tx.Commit(ctx)
}

// RecordPayment inserts the payment and completes the loan.
func (r *PostgresRepository) RecordPayment(ctx context.Context, p Payment) (Application, error) {
	loanID, err := parseID(p.LoanID)
	if err != nil {
		return Application{}, err
	}
	paymentID, err := uuid.Parse(p.ID)
	if err != nil {
		return Application{}, fmt.Errorf("invalid payment id %q: %w", p.ID, err)
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Application{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockStatus(ctx, tx, loanID)
	if err != nil {
		return Application{}, err
	}
	if current != StatusApproved {
		return Application{}, fmt.Errorf("%w: only approved loans can be paid (status %s)", ErrInvalidTransition, current)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO loan_payments (id, loan_id, amount, paid_at) VALUES ($1, $2, $3, $4)`,
		paymentID, loanID, p.Amount, p.PaidAt.UTC()); err != nil {
		return Application{}, err
	}
	app, err := scanApplication(tx.QueryRow(ctx, `UPDATE loan_applications SET status = $2, updated_at = $3
        WHERE id = $1 RETURNING `+applicationColumns, loanID, string(StatusCompleted), p.PaidAt.UTC()))
	if err != nil {
		return Application{}, err
	}
	return app, tx.Commit(ctx)
}
