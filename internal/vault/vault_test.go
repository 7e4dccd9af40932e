package vault

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satsync/internal/domain"
	"satsync/internal/platform/logger"
	derrors "satsync/pkg/domain-errors"
	"satsync/pkg/testutil"
)

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	account := domain.AccountID(uuid.New())
	passphrase := []byte("correct horse battery staple")

	newSealed := func(t *testing.T, notAfter time.Time) (*Service, *testutil.TestCredential) {
		svc := New(NewMemoryStore(), logger.Discard())
		tc := testutil.NewTestCredential(t, notAfter)
		require.NoError(t, svc.Seal(ctx, account, tc.CertDER, tc.KeyDER, passphrase))
		return svc, tc
	}

	t.Run("round trip", func(t *testing.T) {
		svc, tc := newSealed(t, time.Now().Add(24*time.Hour))

		cred, err := svc.Unlock(ctx, account, passphrase)
		require.NoError(t, err)
		defer cred.Close()

		assert.Equal(t, tc.Cert.SerialNumber, cred.Certificate.SerialNumber)
		require.NotNil(t, cred.Key())
		assert.True(t, cred.Key().PublicKey.Equal(&tc.Key.PublicKey))
	})

	t.Run("missing credential", func(t *testing.T) {
		svc := New(NewMemoryStore(), logger.Discard())
		_, err := svc.Unlock(ctx, account, passphrase)
		require.Error(t, err)
		assert.True(t, derrors.HasCode(err, derrors.CodeCredentialMissing))
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		svc, _ := newSealed(t, time.Now().Add(24*time.Hour))
		_, err := svc.Unlock(ctx, account, []byte("wrong"))
		require.Error(t, err)
		assert.True(t, derrors.HasCode(err, derrors.CodeCredentialInvalid))
	})

	t.Run("expired certificate checked against local clock", func(t *testing.T) {
		svc, _ := newSealed(t, time.Now().Add(24*time.Hour))
		// Move the vault clock past expiry; the stored NotAfter is unchanged.
		svc.now = func() time.Time { return time.Now().AddDate(10, 0, 0) }

		_, err := svc.Unlock(ctx, account, passphrase)
		require.Error(t, err)
		assert.True(t, derrors.HasCode(err, derrors.CodeCredentialExpired))
	})
}

func TestCredentialClose(t *testing.T) {
	ctx := context.Background()
	account := domain.AccountID(uuid.New())
	passphrase := []byte("pw")

	svc := New(NewMemoryStore(), logger.Discard())
	tc := testutil.NewTestCredential(t, time.Now().Add(time.Hour))
	require.NoError(t, svc.Seal(ctx, account, tc.CertDER, tc.KeyDER, passphrase))

	cred, err := svc.Unlock(ctx, account, passphrase)
	require.NoError(t, err)

	keyDER := cred.keyDER
	require.NotEmpty(t, keyDER)

	cred.Close()
	assert.Nil(t, cred.Key(), "key unusable after close")
	assert.True(t, bytes.Equal(make([]byte, len(keyDER)), keyDER), "decrypted key bytes zeroed")

	cred.Close() // idempotent
}

func TestSealRejectsMismatchedPair(t *testing.T) {
	ctx := context.Background()
	svc := New(NewMemoryStore(), logger.Discard())

	a := testutil.NewTestCredential(t, time.Now().Add(time.Hour))
	b := testutil.NewTestCredential(t, time.Now().Add(time.Hour))

	err := svc.Seal(ctx, domain.AccountID(uuid.New()), a.CertDER, b.KeyDER, []byte("pw"))
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeCredentialInvalid))
}
