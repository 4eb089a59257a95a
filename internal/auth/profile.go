package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound is returned for unknown profile ids.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is the public record of an account.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileRepository persists profiles.
type ProfileRepository interface {
	Upsert(ctx context.Context, p Profile) error
	Get(ctx context.Context, id string) (Profile, error)
	Lookup(ctx context.Context, ids []string) (map[string]Profile, error)
}

// PostgresProfileRepository stores profiles in the profiles table.
type PostgresProfileRepository struct {
	db *pgxpool.Pool
}

// NewPostgresProfileRepository builds a repository backed by PostgreSQL.
func NewPostgresProfileRepository(db *pgxpool.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

func (r *PostgresProfileRepository) Upsert(ctx context.Context, p Profile) error {
	_, err := r.db.Exec(ctx, `INSERT INTO profiles (id, email, full_name, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, full_name = EXCLUDED.full_name`,
		p.ID, p.Email, p.FullName, p.CreatedAt.UTC())
	return err
}

func (r *PostgresProfileRepository) Get(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := r.db.QueryRow(ctx, `SELECT id::text, email, full_name, created_at FROM profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.Email, &p.FullName, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (r *PostgresProfileRepository) Lookup(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id::text, email, full_name, created_at FROM profiles WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.FullName, &p.CreatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

type memoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryProfileRepository constructs an in-memory profile store.
func NewMemoryProfileRepository() ProfileRepository {
	return &memoryProfiles{profiles: make(map[string]Profile)}
}

func (r *memoryProfiles) Upsert(_ context.Context, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	return nil
}

func (r *memoryProfiles) Get(_ context.Context, id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (r *memoryProfiles) Lookup(_ context.Context, ids []string) (map[string]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
