package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"satsync/internal/domain"
	"satsync/pkg/platform/sentinel"
)

// PostgresStore persists sealed credentials, one row per account.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, accountID domain.AccountID) (*SealedCredential, error) {
	query := `
		SELECT cert_der, key_ciphertext, key_nonce, key_salt, serial, not_after
		FROM credentials
		WHERE account_id = $1
	`
	var sealed SealedCredential
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(accountID)).Scan(
		&sealed.CertDER,
		&sealed.KeyCiphertext,
		&sealed.KeyNonce,
		&sealed.KeySalt,
		&sealed.Serial,
		&sealed.NotAfter,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return &sealed, nil
}

func (s *PostgresStore) Put(ctx context.Context, accountID domain.AccountID, sealed *SealedCredential) error {
	query := `
		INSERT INTO credentials (account_id, cert_der, key_ciphertext, key_nonce, key_salt, serial, not_after, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (account_id)
		DO UPDATE SET cert_der = EXCLUDED.cert_der, key_ciphertext = EXCLUDED.key_ciphertext,
		              key_nonce = EXCLUDED.key_nonce, key_salt = EXCLUDED.key_salt,
		              serial = EXCLUDED.serial, not_after = EXCLUDED.not_after, updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(accountID),
		sealed.CertDER,
		sealed.KeyCiphertext,
		sealed.KeyNonce,
		sealed.KeySalt,
		sealed.Serial,
		sealed.NotAfter,
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}
