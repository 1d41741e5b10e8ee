package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"social-login-service/internal/db"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore keeps accounts in the users and identities tables.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByProviderUserID(
	ctx context.Context,
	provider string,
	providerUserID string,
) (*Account, error) {

	var (
		a       Account
		expires sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, COALESCE(u.email, ''), u.first_name, u.last_name,
		       i.provider, i.provider_user_id, COALESCE(i.token, ''), i.token_expires_at,
		       u.created_at, u.updated_at
		FROM public.identities i
		JOIN public.users u ON u.id = i.user_id
		WHERE i.provider = $1
		  AND i.provider_user_id = $2
	`,
		provider,
		providerUserID,
	).Scan(
		&a.ID, &a.Email, &a.FirstName, &a.LastName,
		&a.Provider, &a.ProviderUserID, &a.ProviderToken, &expires,
		&a.CreatedAt, &a.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account: find by provider user id: %w", err)
	}

	if expires.Valid {
		a.ProviderTokenExpires = expires.Time
	}
	return &a, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, ErrNotFound
	}

	var a Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM public.users
		WHERE LOWER(email) = LOWER($1)
	`,
		email,
	).Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.CreatedAt, &a.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account: find by email: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Account, error) {
	var (
		a        Account
		provider sql.NullString
		puid     sql.NullString
		token    sql.NullString
		expires  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, COALESCE(u.email, ''), u.first_name, u.last_name,
		       i.provider, i.provider_user_id, i.token, i.token_expires_at,
		       u.created_at, u.updated_at
		FROM public.users u
		LEFT JOIN LATERAL (
			SELECT provider, provider_user_id, token, token_expires_at
			FROM public.identities
			WHERE user_id = u.id
			ORDER BY updated_at DESC, provider
			LIMIT 1
		) i ON TRUE
		WHERE u.id = $1
	`,
		id,
	).Scan(
		&a.ID, &a.Email, &a.FirstName, &a.LastName,
		&provider, &puid, &token, &expires,
		&a.CreatedAt, &a.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account: find by id: %w", err)
	}

	a.Provider = provider.String
	a.ProviderUserID = puid.String
	a.ProviderToken = token.String
	if expires.Valid {
		a.ProviderTokenExpires = expires.Time
	}
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO public.users (email, first_name, last_name)
			VALUES (NULLIF($1, ''), $2, $3)
			RETURNING id, created_at, updated_at
		`,
			a.Email,
			a.FirstName,
			a.LastName,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return err
		}

		if !a.Linked() {
			return nil
		}
		return upsertIdentity(ctx, tx, a)
	})
}

func (s *PostgresStore) Save(ctx context.Context, a *Account) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE public.users
			SET email = NULLIF($2, ''),
			    first_name = $3,
			    last_name = $4,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`,
			a.ID,
			a.Email,
			a.FirstName,
			a.LastName,
		).Scan(&a.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if !a.Linked() {
			return nil
		}
		return upsertIdentity(ctx, tx, a)
	})
}

func upsertIdentity(ctx context.Context, tx *sql.Tx, a *Account) error {
	var expires sql.NullTime
	if !a.ProviderTokenExpires.IsZero() {
		expires = sql.NullTime{Time: a.ProviderTokenExpires, Valid: true}
	}

	var linked string
	err := tx.QueryRowContext(ctx, `
		SELECT provider_user_id
		FROM public.identities
		WHERE user_id = $1
		  AND provider = $2
		FOR UPDATE
	`,
		a.ID,
		a.Provider,
	).Scan(&linked)
	switch {
	case err == nil && linked != a.ProviderUserID:
		return ErrAlreadyLinked
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO public.identities (user_id, provider, provider_user_id, token, token_expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET token = EXCLUDED.token,
		    token_expires_at = EXCLUDED.token_expires_at,
		    updated_at = NOW()
	`,
		a.ID,
		a.Provider,
		a.ProviderUserID,
		a.ProviderToken,
		expires,
	)
	return err
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("account: begin: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return translate(err)
	}

	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

// translate maps unique violations onto ErrConflict.
func translate(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyLinked) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return fmt.Errorf("account: write: %w", err)
}

