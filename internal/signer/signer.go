// Package signer builds and signs extraction requests for the remote
// document-retrieval service. Signing is deterministic given identical inputs;
// the only caller-supplied variability is the request timestamp, which must
// fall inside the service's accepted clock-skew window.
package signer

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"satsync/internal/domain"
	"satsync/internal/vault"
	derrors "satsync/pkg/domain-errors"
)

// Request is the payload template for one extraction request.
type Request struct {
	HolderRFC string
	Range     domain.DateRange
	Direction domain.Direction
	Timestamp time.Time
}

// SignedRequest carries everything the wire envelope needs: the canonical
// payload, its digest, the RSA signature over the digest, and the signing
// certificate.
type SignedRequest struct {
	Payload        string
	Digest         string
	Signature      string
	CertificateB64 string
	SerialNumber   string
	Timestamp      time.Time
}

// Signer signs requests with an unlocked credential.
type Signer struct {
	clockSkew time.Duration
	now       func() time.Time
}

type Option func(*Signer)

// WithClock injects the reference clock for skew validation.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func New(clockSkew time.Duration, opts ...Option) *Signer {
	s := &Signer{clockSkew: clockSkew, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign produces a signed request. Fails with CodeSigning when the credential
// is unusable or the key does not match the certificate.
func (s *Signer) Sign(req Request, cred *vault.Credential) (*SignedRequest, error) {
	if req.HolderRFC == "" {
		return nil, derrors.New(derrors.CodeBadRequest, "holder RFC is required")
	}
	if skew := s.now().Sub(req.Timestamp); skew > s.clockSkew || skew < -s.clockSkew {
		return nil, derrors.Newf(derrors.CodeBadRequest,
			"request timestamp outside accepted clock-skew window of %s", s.clockSkew)
	}

	key := cred.Key()
	if key == nil {
		return nil, derrors.New(derrors.CodeSigning, "credential is closed")
	}
	pub, ok := cred.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok || !key.PublicKey.Equal(pub) {
		return nil, derrors.New(derrors.CodeSigning, "private key does not match signing certificate")
	}

	payload := canonicalPayload(req)
	digest := sha256.Sum256([]byte(payload))
	signature, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeSigning, "sign request digest")
	}

	return &SignedRequest{
		Payload:        payload,
		Digest:         base64.StdEncoding.EncodeToString(digest[:]),
		Signature:      base64.StdEncoding.EncodeToString(signature),
		CertificateB64: base64.StdEncoding.EncodeToString(cred.Certificate.Raw),
		SerialNumber:   cred.Certificate.SerialNumber.String(),
		Timestamp:      req.Timestamp.UTC(),
	}, nil
}

// Verify checks a signature against a certificate. Used by tests and by the
// transport layer when echoing request provenance.
func Verify(signed *SignedRequest) error {
	certDER, err := base64.StdEncoding.DecodeString(signed.CertificateB64)
	if err != nil {
		return fmt.Errorf("decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate key is %T, want RSA", cert.PublicKey)
	}
	signature, err := base64.StdEncoding.DecodeString(signed.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(signed.Payload))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature)
}

// canonicalPayload renders the request as the pipe-delimited canonical string
// the service signs over. Field order is part of the wire contract.
func canonicalPayload(req Request) string {
	return strings.Join([]string{
		req.HolderRFC,
		req.Range.Start.Format(time.DateOnly),
		req.Range.End.Format(time.DateOnly),
		string(req.Direction),
		req.Timestamp.UTC().Format(time.RFC3339),
	}, "|")
}
