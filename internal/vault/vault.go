package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/argon2"

	"satsync/internal/domain"
	derrors "satsync/pkg/domain-errors"
	"satsync/pkg/platform/sentinel"
)

// Credential is decrypted signing material. It is read-only for the duration
// of one synchronization run and must not be shared across jobs for different
// accounts. Callers must Close it on every exit path; Close zeroes the
// decrypted key bytes.
type Credential struct {
	Certificate *x509.Certificate
	key         *rsa.PrivateKey
	keyDER      []byte
	closed      bool
}

// Key returns the private key, or nil after Close.
func (c *Credential) Key() *rsa.PrivateKey {
	if c.closed {
		return nil
	}
	return c.key
}

// HolderRFC extracts the taxpayer identifier from the certificate subject.
// Issued certificates carry it in the subject serial number; test and legacy
// certificates put it in the common name.
func (c *Credential) HolderRFC() string {
	if c.Certificate == nil {
		return ""
	}
	if c.Certificate.Subject.SerialNumber != "" {
		return c.Certificate.Subject.SerialNumber
	}
	return c.Certificate.Subject.CommonName
}

// Close zeroes the decrypted key material. Safe to call more than once.
// Only the DER buffer can be scrubbed: the parsed rsa.PrivateKey holds its
// factors in big.Int words with no zeroing API, so dropping the pointer and
// leaving the rest to the garbage collector is the best available.
func (c *Credential) Close() {
	if c.closed {
		return
	}
	for i := range c.keyDER {
		c.keyDER[i] = 0
	}
	c.keyDER = nil
	c.key = nil
	c.closed = true
}

// Service decrypts and seals credentials. The clock is injectable so expiry
// checks are testable.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Unlock fetches and decrypts the account credential. Expiry is checked
// against the local clock, never trusted from the remote service.
func (s *Service) Unlock(ctx context.Context, accountID domain.AccountID, passphrase []byte) (*Credential, error) {
	sealed, err := s.store.Get(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, derrors.New(derrors.CodeCredentialMissing, "no signing credential on file")
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "load credential")
	}

	if s.now().After(sealed.NotAfter) {
		return nil, derrors.Newf(derrors.CodeCredentialExpired,
			"certificate %s expired %s", sealed.Serial, sealed.NotAfter.Format(time.RFC3339))
	}

	keyDER, err := open(sealed.KeyCiphertext, sealed.KeyNonce, sealed.KeySalt, passphrase)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeCredentialInvalid, "passphrase does not decrypt key material")
	}

	cred, err := assemble(sealed.CertDER, keyDER)
	if err != nil {
		zero(keyDER)
		return nil, derrors.Wrap(err, derrors.CodeCredentialInvalid, "decrypted key material is not usable")
	}

	s.logger.DebugContext(ctx, "credential unlocked", "account_id", accountID, "serial", sealed.Serial)
	return cred, nil
}

// Seal encrypts and stores a credential. The private key must match the
// certificate public key; a mismatched pair is rejected here rather than
// failing later at signing time. The caller's keyDER buffer is zeroed before
// return.
func (s *Service) Seal(ctx context.Context, accountID domain.AccountID, certDER, keyDER, passphrase []byte) error {
	cred, err := assemble(certDER, keyDER)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeCredentialInvalid, "certificate/key pair rejected")
	}
	defer cred.Close()

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "generate salt")
	}
	ciphertext, nonce, err := seal(keyDER, salt, passphrase)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "seal key material")
	}

	sealed := &SealedCredential{
		CertDER:       certDER,
		KeyCiphertext: ciphertext,
		KeyNonce:      nonce,
		KeySalt:       salt,
		Serial:        cred.Certificate.SerialNumber.String(),
		NotAfter:      cred.Certificate.NotAfter,
	}
	if err := s.store.Put(ctx, accountID, sealed); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "store credential")
	}
	return nil
}

// deriveKey stretches the passphrase into an AES-256 key.
func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

func seal(plaintext, salt, passphrase []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func open(ciphertext, nonce, salt, passphrase []byte) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

// assemble parses the pair and verifies the key belongs to the certificate.
func assemble(certDER, keyDER []byte) (*Credential, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !key.PublicKey.Equal(pub) {
		return nil, fmt.Errorf("private key does not match certificate public key")
	}
	return &Credential{Certificate: cert, key: key, keyDER: keyDER}, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
