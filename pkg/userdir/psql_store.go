package userdir

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS mfa_profile (
	subject_id    TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL DEFAULT '',
	totp_secret   TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	methods       TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS mfa_profile_wallet (
	subject_id TEXT NOT NULL REFERENCES mfa_profile (subject_id) ON DELETE CASCADE,
	wallet     TEXT NOT NULL,
	PRIMARY KEY (subject_id, wallet)
);

CREATE TABLE IF NOT EXISTS mfa_profile_oauth (
	subject_id       TEXT NOT NULL REFERENCES mfa_profile (subject_id) ON DELETE CASCADE,
	provider         TEXT NOT NULL,
	provider_subject TEXT NOT NULL,
	PRIMARY KEY (provider, provider_subject)
);
`

// PostgresStore implements ProfileStore using PostgreSQL
type PostgresStore struct {
	db mfa.DBTX
}

func NewPostgresStore(db mfa.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create profile tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, subjectID string) (Profile, error) {
	p := Profile{SubjectID: subjectID}
	var methods []string
	err := s.db.QueryRow(ctx, `
		SELECT password_hash, totp_secret, email, phone, methods
		FROM mfa_profile
		WHERE subject_id = $1
	`, subjectID).Scan(&p.PasswordHash, &p.TOTPSecret, &p.Email, &p.Phone, &methods)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, mfa.ErrNotFound
		}
		return Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	for _, m := range methods {
		p.Methods = append(p.Methods, mfa.MethodID(m))
	}

	rows, err := s.db.Query(ctx, `SELECT wallet FROM mfa_profile_wallet WHERE subject_id = $1 ORDER BY wallet`, subjectID)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to get wallets: %w", err)
	}
	p.Wallets, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Profile{}, fmt.Errorf("failed to scan wallets: %w", err)
	}

	rows, err = s.db.Query(ctx, `
		SELECT provider, provider_subject
		FROM mfa_profile_oauth
		WHERE subject_id = $1
		ORDER BY provider, provider_subject
	`, subjectID)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to get oauth identities: %w", err)
	}
	p.OAuthIdentities, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (OAuthIdentity, error) {
		var id OAuthIdentity
		err := row.Scan(&id.Provider, &id.ProviderSubject)
		return id, err
	})
	if err != nil {
		return Profile{}, fmt.Errorf("failed to scan oauth identities: %w", err)
	}
	return p, nil
}

// SaveProfile replaces the profile and its wallets and identities. db should
// be a transaction when callers need the three writes to be atomic.
func (s *PostgresStore) SaveProfile(ctx context.Context, p Profile) error {
	methods := make([]string, 0, len(p.Methods))
	for _, m := range p.Methods {
		methods = append(methods, string(m))
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO mfa_profile (subject_id, password_hash, totp_secret, email, phone, methods)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_id) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			totp_secret = EXCLUDED.totp_secret,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			methods = EXCLUDED.methods
	`, p.SubjectID, p.PasswordHash, p.TOTPSecret, p.Email, p.Phone, methods)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM mfa_profile_wallet WHERE subject_id = $1`, p.SubjectID); err != nil {
		return fmt.Errorf("failed to reset wallets: %w", err)
	}
	for _, w := range p.Wallets {
		_, err := s.db.Exec(ctx, `
			INSERT INTO mfa_profile_wallet (subject_id, wallet) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, p.SubjectID, mfa.NormalizeWallet(w))
		if err != nil {
			return fmt.Errorf("failed to save wallet: %w", err)
		}
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM mfa_profile_oauth WHERE subject_id = $1`, p.SubjectID); err != nil {
		return fmt.Errorf("failed to reset oauth identities: %w", err)
	}
	for _, id := range p.OAuthIdentities {
		_, err := s.db.Exec(ctx, `
			INSERT INTO mfa_profile_oauth (subject_id, provider, provider_subject) VALUES ($1, $2, $3)
		`, p.SubjectID, id.Provider, id.ProviderSubject)
		if err != nil {
			return fmt.Errorf("failed to save oauth identity: %w", err)
		}
	}
	return nil
}
