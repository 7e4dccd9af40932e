package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCredential is a freshly generated self-signed certificate/key pair for
// vault and signer tests.
type TestCredential struct {
	CertDER []byte
	KeyDER  []byte
	Key     *rsa.PrivateKey
	Cert    *x509.Certificate
}

// NewTestCredential generates an RSA credential valid until notAfter.
func NewTestCredential(t *testing.T, notAfter time.Time) *TestCredential {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "XAXX010101000",
			Organization: []string{"Test Holder"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return &TestCredential{CertDER: certDER, KeyDER: keyDER, Key: key, Cert: cert}
}
