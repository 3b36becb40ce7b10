package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avilainc/arkana"
	"github.com/avilainc/arkana/internal/errutil"
)

var profileColumns = []string{"id", "email", "full_name", "password_hash", "email_verified", "active", "created_at"}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)

	store := New(mock)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestStoreFindByEmail(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      arkana.ProfileRecord
		wantErr   error
		wantCode  string
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM profiles WHERE lower\(email\) = lower\(\$1\)`).
					WithArgs("Ana@Example.com").
					WillReturnRows(pgxmock.NewRows(profileColumns).
						AddRow("01HZX", "ana@example.com", "Ana Ávila", "$argon2id$hash", true, true, created))
			},
			want: arkana.ProfileRecord{
				ID:            "01HZX",
				Email:         "ana@example.com",
				FullName:      "Ana Ávila",
				PasswordHash:  "$argon2id$hash",
				EmailVerified: true,
				Active:        true,
				CreatedAt:     created,
			},
		},
		{
			name: "no rows",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM profiles WHERE lower\(email\)`).
					WithArgs("Ana@Example.com").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: arkana.ErrProfileNotFound,
		},
		{
			name: "connection failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM profiles WHERE lower\(email\)`).
					WithArgs("Ana@Example.com").
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "PROFILE_FIND_BY_EMAIL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := store.FindByEmail(context.Background(), "Ana@Example.com")
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantCode != "":
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				errutil.AssertErrorContext(t, err, "email_domain", "example.com")
				assert.NotErrorIs(t, err, arkana.ErrProfileNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestStoreFindByID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM profiles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, arkana.ErrProfileNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCreate(t *testing.T) {
	tests := []struct {
		name     string
		execErr  error
		wantErr  error
		wantCode string
	}{
		{name: "inserted"},
		{
			name:     "duplicate email",
			execErr:  &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "profiles_email_key"},
			wantErr:  arkana.ErrDuplicateEmail,
			wantCode: "PROFILE_DUPLICATE_EMAIL",
		},
		{
			name:     "other failure",
			execErr:  errors.New("connection reset"),
			wantCode: "PROFILE_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			exec := mock.ExpectExec(`INSERT INTO profiles`).
				WithArgs(pgxmock.AnyArg(), "ana@example.com", "Ana", "hash", false, true, store.now().UTC())
			if tt.execErr != nil {
				exec.WillReturnError(tt.execErr)
			} else {
				exec.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			got, err := store.Create(context.Background(), arkana.NewProfile{
				Email:        "Ana@Example.com",
				FullName:     "Ana",
				PasswordHash: "hash",
			})
			if tt.execErr == nil {
				require.NoError(t, err)
				assert.Len(t, got.ID, 26)
				assert.Equal(t, "ana@example.com", got.Email)
				assert.True(t, got.Active)
				assert.False(t, got.EmailVerified)
			} else {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStoreUpdates(t *testing.T) {
	store, mock := newMockStore(t)
	now := store.now().UTC()

	mock.ExpectExec(`UPDATE profiles SET password_hash = \$2`).
		WithArgs("p1", "new-hash", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE profiles SET email_verified = TRUE`).
		WithArgs("p1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE profiles SET active = \$2`).
		WithArgs("gone", false, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`UPDATE profiles SET email_verified = TRUE`).
		WithArgs("p1", now).
		WillReturnError(errors.New("timeout"))

	ctx := context.Background()
	require.NoError(t, store.UpdatePasswordHash(ctx, "p1", "new-hash"))
	require.NoError(t, store.SetEmailVerified(ctx, "p1"))
	require.ErrorIs(t, store.SetActive(ctx, "gone", false), arkana.ErrProfileNotFound)

	err := store.SetEmailVerified(ctx, "p1")
	errutil.AssertErrorCode(t, err, "PROFILE_SET_VERIFIED")
	errutil.AssertErrorContext(t, err, "profile_id", "p1")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePing(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()
	store := New(mock)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, store.Ping(context.Background()))
	errutil.AssertErrorCode(t, store.Ping(context.Background()), "PROFILE_STORE_PING")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "example.com", emailDomain("a@Example.COM"))
	assert.Equal(t, "", emailDomain("no-at-sign"))
}
