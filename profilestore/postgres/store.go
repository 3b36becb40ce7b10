package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/avilainc/arkana"
)

// Pool is the slice of pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store implements [arkana.ProfileStore].
type Store struct {
	pool Pool
	now  func() time.Time
}

var _ arkana.ProfileStore = (*Store)(nil)

// New wraps an existing pool.
func New(pool Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Open connects a pgx pool for dsn and returns the store with the pool so
// the caller controls its lifetime.
func Open(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, oops.Code("PROFILE_STORE_CONNECT").Wrap(err)
	}
	return New(pool), pool, nil
}

const selectProfile = `SELECT id, email, full_name, password_hash, email_verified, active, created_at FROM profiles`

func (s *Store) FindByEmail(ctx context.Context, email string) (arkana.ProfileRecord, error) {
	row := s.pool.QueryRow(ctx, selectProfile+` WHERE lower(email) = lower($1)`, email)
	p, err := scanProfile(row)
	if err != nil {
		return arkana.ProfileRecord{}, lookupError(err, "PROFILE_FIND_BY_EMAIL", "email_domain", emailDomain(email))
	}
	return p, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (arkana.ProfileRecord, error) {
	row := s.pool.QueryRow(ctx, selectProfile+` WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		return arkana.ProfileRecord{}, lookupError(err, "PROFILE_FIND_BY_ID", "profile_id", id)
	}
	return p, nil
}

func (s *Store) Create(ctx context.Context, in arkana.NewProfile) (arkana.ProfileRecord, error) {
	p := arkana.ProfileRecord{
		ID:           ulid.Make().String(),
		Email:        strings.ToLower(in.Email),
		FullName:     in.FullName,
		PasswordHash: in.PasswordHash,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, email, full_name, password_hash, email_verified, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		p.ID, p.Email, p.FullName, p.PasswordHash, p.EmailVerified, p.Active, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return arkana.ProfileRecord{}, oops.Code("PROFILE_DUPLICATE_EMAIL").
				With("email_domain", emailDomain(p.Email)).
				Wrap(arkana.ErrDuplicateEmail)
		}
		return arkana.ProfileRecord{}, oops.Code("PROFILE_CREATE_FAILED").
			With("email_domain", emailDomain(p.Email)).
			Wrap(err)
	}
	return p, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, "PROFILE_UPDATE_HASH", id,
		`UPDATE profiles SET password_hash = $2, updated_at = $3 WHERE id = $1`, hash)
}

func (s *Store) SetEmailVerified(ctx context.Context, id string) error {
	return s.update(ctx, "PROFILE_SET_VERIFIED", id,
		`UPDATE profiles SET email_verified = TRUE, updated_at = $2 WHERE id = $1`)
}

// SetActive enables or disables a profile. Disabled profiles fail login
// and refresh.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, "PROFILE_SET_ACTIVE", id,
		`UPDATE profiles SET active = $2, updated_at = $3 WHERE id = $1`, active)
}

// Ping checks connectivity; the engine's readiness probe calls it.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("PROFILE_STORE_PING").Wrap(err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, code, id, sql string, args ...any) error {
	all := append([]any{id}, args...)
	all = append(all, s.now().UTC())
	tag, err := s.pool.Exec(ctx, sql, all...)
	if err != nil {
		return oops.Code(code).With("profile_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return arkana.ErrProfileNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (arkana.ProfileRecord, error) {
	var p arkana.ProfileRecord
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.PasswordHash, &p.EmailVerified, &p.Active, &p.CreatedAt)
	return p, err
}

func lookupError(err error, code, key string, value any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return arkana.ErrProfileNotFound
	}
	return oops.Code(code).With(key, value).Wrap(err)
}

func emailDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}
