package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Schema creates the tables used by PostgresRepository.
const Schema = `
CREATE TABLE IF NOT EXISTS mfa_challenge (
	token           TEXT PRIMARY KEY,
	subject_id      TEXT NOT NULL UNIQUE,
	action          TEXT NOT NULL,
	steps_required  TEXT[] NOT NULL,
	steps_validated TEXT[] NOT NULL DEFAULT '{}',
	expires_at      TIMESTAMPTZ NOT NULL,
	consumed        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	version         BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mfa_nonce (
	subject_id TEXT NOT NULL,
	wallet     TEXT NOT NULL,
	value      TEXT NOT NULL,
	validated  BOOLEAN NOT NULL DEFAULT FALSE,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_id, wallet)
);

CREATE TABLE IF NOT EXISTS mfa_passcode (
	subject_id TEXT NOT NULL,
	method     TEXT NOT NULL,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_id, method)
);
`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{
		db:  db,
		now: time.Now,
	}
}

// Migrate creates the repository tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create mfa tables: %w", err)
	}
	return nil
}

// ReplaceActive upserts on the unique subject_id, so the previous challenge is
// replaced in a single statement.
func (r *PostgresRepository) ReplaceActive(ctx context.Context, ch *Challenge) error {
	query := `
		INSERT INTO mfa_challenge (
			token, subject_id, action, steps_required, steps_validated, expires_at, consumed, created_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (subject_id) DO UPDATE SET
			token = EXCLUDED.token,
			action = EXCLUDED.action,
			steps_required = EXCLUDED.steps_required,
			steps_validated = EXCLUDED.steps_validated,
			expires_at = EXCLUDED.expires_at,
			consumed = EXCLUDED.consumed,
			created_at = EXCLUDED.created_at,
			version = EXCLUDED.version
	`
	_, err := r.db.Exec(ctx, query,
		ch.Token,
		ch.SubjectID,
		string(ch.Action),
		methodsToStrings(ch.StepsRequired),
		methodsToStrings(ch.StepsValidated),
		ch.ExpiresAt.UTC(),
		ch.Consumed,
		ch.CreatedAt.UTC(),
		ch.Version,
	)
	if err != nil {
		slog.Error("Failed to replace mfa challenge", "subject", ch.SubjectID, "err", err)
		return fmt.Errorf("failed to replace challenge: %w", err)
	}
	return nil
}

const selectChallenge = `
	SELECT token, subject_id, action, steps_required, steps_validated, expires_at, consumed, created_at, version
	FROM mfa_challenge
`

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Challenge, error) {
	return r.scanChallenge(r.db.QueryRow(ctx, selectChallenge+" WHERE token = $1", token))
}

func (r *PostgresRepository) GetBySubject(ctx context.Context, subjectID string) (*Challenge, error) {
	return r.scanChallenge(r.db.QueryRow(ctx, selectChallenge+" WHERE subject_id = $1", subjectID))
}

func (r *PostgresRepository) scanChallenge(row pgx.Row) (*Challenge, error) {
	var (
		ch        Challenge
		action    string
		required  []string
		validated []string
	)
	err := row.Scan(
		&ch.Token,
		&ch.SubjectID,
		&action,
		&required,
		&validated,
		&ch.ExpiresAt,
		&ch.Consumed,
		&ch.CreatedAt,
		&ch.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	ch.Action = Action(action)
	ch.StepsRequired = stringsToMethods(required)
	ch.StepsValidated = stringsToMethods(validated)
	return &ch, nil
}

func (r *PostgresRepository) Update(ctx context.Context, ch *Challenge) error {
	query := `
		UPDATE mfa_challenge
		SET steps_validated = $1, consumed = $2, version = version + 1
		WHERE token = $3 AND version = $4
	`
	tag, err := r.db.Exec(ctx, query,
		methodsToStrings(ch.StepsValidated),
		ch.Consumed,
		ch.Token,
		ch.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByToken(ctx, ch.Token); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	ch.Version++
	return nil
}

func (r *PostgresRepository) DeleteBySubject(ctx context.Context, subjectID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM mfa_challenge WHERE subject_id = $1`, subjectID)
	if err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM mfa_challenge WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) PutNonce(ctx context.Context, n Nonce) error {
	query := `
		INSERT INTO mfa_nonce (subject_id, wallet, value, validated, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id, wallet) DO UPDATE SET
			value = EXCLUDED.value,
			validated = EXCLUDED.validated,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.Exec(ctx, query, n.SubjectID, NormalizeWallet(n.Wallet), n.Value, n.Validated, n.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put nonce: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetNonce(ctx context.Context, subjectID, wallet string) (*Nonce, error) {
	query := `
		SELECT subject_id, wallet, value, validated, expires_at
		FROM mfa_nonce
		WHERE subject_id = $1 AND wallet = $2 AND expires_at > $3
	`
	var n Nonce
	err := r.db.QueryRow(ctx, query, subjectID, NormalizeWallet(wallet), r.now().UTC()).
		Scan(&n.SubjectID, &n.Wallet, &n.Value, &n.Validated, &n.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	return &n, nil
}

func (r *PostgresRepository) MarkNonceValidated(ctx context.Context, subjectID, wallet, value string) error {
	query := `
		UPDATE mfa_nonce SET validated = TRUE
		WHERE subject_id = $1 AND wallet = $2 AND value = $3 AND expires_at > $4
	`
	tag, err := r.db.Exec(ctx, query, subjectID, NormalizeWallet(wallet), value, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark nonce validated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ConsumeNonce(ctx context.Context, subjectID, wallet, value string) (bool, error) {
	query := `
		DELETE FROM mfa_nonce
		WHERE subject_id = $1 AND wallet = $2 AND value = $3 AND validated AND expires_at > $4
	`
	tag, err := r.db.Exec(ctx, query, subjectID, NormalizeWallet(wallet), value, r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) DeleteExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM mfa_nonce WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired nonces: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) PutPasscode(ctx context.Context, p Passcode) error {
	query := `
		INSERT INTO mfa_passcode (subject_id, method, value, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id, method) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.Exec(ctx, query, p.SubjectID, string(p.Method), p.Value, p.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put passcode: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPasscode(ctx context.Context, subjectID string, method MethodID) (*Passcode, error) {
	query := `
		SELECT subject_id, method, value, expires_at
		FROM mfa_passcode
		WHERE subject_id = $1 AND method = $2 AND expires_at > $3
	`
	var (
		p   Passcode
		mtd string
	)
	err := r.db.QueryRow(ctx, query, subjectID, string(method), r.now().UTC()).
		Scan(&p.SubjectID, &mtd, &p.Value, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get passcode: %w", err)
	}
	p.Method = MethodID(mtd)
	return &p, nil
}

func (r *PostgresRepository) ConsumePasscode(ctx context.Context, subjectID string, method MethodID, value string) (bool, error) {
	query := `
		DELETE FROM mfa_passcode
		WHERE subject_id = $1 AND method = $2 AND value = $3 AND expires_at > $4
	`
	tag, err := r.db.Exec(ctx, query, subjectID, string(method), value, r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to consume passcode: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) DeleteExpiredPasscodes(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM mfa_passcode WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired passcodes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func methodsToStrings(ids []MethodID) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, string(id))
	}
	return res
}

func stringsToMethods(values []string) []MethodID {
	res := make([]MethodID, 0, len(values))
	for _, v := range values {
		res = append(res, MethodID(v))
	}
	return res
}
