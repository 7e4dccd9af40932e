// Package vault stores account signing credentials encrypted at rest and
// hands out decrypted material scoped to a single synchronization run.
package vault

import (
	"context"
	"time"

	"satsync/internal/domain"
)

// SealedCredential is the at-rest form of a signing credential: the
// certificate in the clear (it is public material) and the private key sealed
// with AES-256-GCM under a key derived from the account passphrase.
type SealedCredential struct {
	CertDER       []byte
	KeyCiphertext []byte
	KeyNonce      []byte
	KeySalt       []byte
	Serial        string
	NotAfter      time.Time
}

// Store persists sealed credentials, one per account.
type Store interface {
	Get(ctx context.Context, accountID domain.AccountID) (*SealedCredential, error)
	Put(ctx context.Context, accountID domain.AccountID, sealed *SealedCredential) error
}
