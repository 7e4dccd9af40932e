// Package satclient speaks the remote document-retrieval protocol: submit a
// signed extraction request, poll its status, download result packages. The
// client maps transport conditions onto the engine error taxonomy and leaves
// retry policy to its callers.
package satclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"time"

	"satsync/internal/signer"
	derrors "satsync/pkg/domain-errors"
)

// RequestStatus is the remote service's view of an extraction request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusReady      RequestStatus = "ready"
	StatusExpired    RequestStatus = "expired"
	StatusRejected   RequestStatus = "rejected"
	StatusTooLarge   RequestStatus = "too_large"
	StatusAccepted   RequestStatus = "accepted"
)

// SubmitResult is the immediate answer to a submission: either an accepted
// request id, or a terminal rejection/too-large verdict.
type SubmitResult struct {
	RequestID string
	Status    RequestStatus
	Message   string
}

// StatusResult is one poll answer. PackageIDs is populated only on ready.
type StatusResult struct {
	Status     RequestStatus
	Message    string
	PackageIDs []string
}

// Client is the engine's view of the remote service.
type Client interface {
	Submit(ctx context.Context, req signer.Request, signed *signer.SignedRequest) (*SubmitResult, error)
	Status(ctx context.Context, requestID, holderRFC string) (*StatusResult, error)
	Download(ctx context.Context, packageID, holderRFC string) ([]byte, error)
}

// HTTPClient implements Client over HTTP+XML. A circuit breaker guards the
// remote service: after several consecutive transport failures calls fail
// fast until a probe succeeds.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker
}

const (
	breakerFailureThreshold = 5
	breakerProbeAfter       = 30 * time.Second
)

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: newBreaker(breakerFailureThreshold, breakerProbeAfter, nil),
	}
}

func (c *HTTPClient) Submit(ctx context.Context, req signer.Request, signed *signer.SignedRequest) (*SubmitResult, error) {
	payload := solicitudEnvelope{
		RFC:            req.HolderRFC,
		FechaInicial:   req.Range.Start.Format(time.DateOnly),
		FechaFinal:     req.Range.End.Format(time.DateOnly),
		Tipo:           string(req.Direction),
		FechaSolicitud: signed.Timestamp.Format(time.RFC3339),
		Sello:          signed.Signature,
		Certificado:    signed.CertificateB64,
	}

	var resp respuestaSolicitud
	if err := c.exchange(ctx, "/solicita", payload, &resp); err != nil {
		return nil, err
	}
	status := RequestStatus(resp.Estado)
	switch status {
	case StatusAccepted, StatusRejected, StatusTooLarge:
	default:
		return nil, derrors.Newf(derrors.CodeProtocol, "unexpected submission state %q", resp.Estado)
	}
	if status == StatusAccepted && resp.IDSolicitud == "" {
		return nil, derrors.New(derrors.CodeProtocol, "accepted submission missing request id")
	}
	return &SubmitResult{RequestID: resp.IDSolicitud, Status: status, Message: resp.Mensaje}, nil
}

func (c *HTTPClient) Status(ctx context.Context, requestID, holderRFC string) (*StatusResult, error) {
	var resp respuestaVerifica
	if err := c.exchange(ctx, "/verifica", verificaEnvelope{IDSolicitud: requestID, RFC: holderRFC}, &resp); err != nil {
		return nil, err
	}
	status := RequestStatus(resp.Estado)
	switch status {
	case StatusPending, StatusInProgress, StatusReady, StatusExpired, StatusRejected, StatusTooLarge:
	default:
		return nil, derrors.Newf(derrors.CodeProtocol, "unexpected request state %q", resp.Estado)
	}
	if status == StatusReady && len(resp.Paquetes) == 0 {
		return nil, derrors.New(derrors.CodeProtocol, "ready request carries no packages")
	}
	return &StatusResult{Status: status, Message: resp.Mensaje, PackageIDs: resp.Paquetes}, nil
}

func (c *HTTPClient) Download(ctx context.Context, packageID, holderRFC string) ([]byte, error) {
	var resp respuestaDescarga
	if err := c.exchange(ctx, "/descarga", descargaEnvelope{IDPaquete: packageID, RFC: holderRFC}, &resp); err != nil {
		return nil, err
	}
	archive, err := base64.StdEncoding.DecodeString(resp.Paquete)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeProtocol, "package payload is not valid base64")
	}
	return archive, nil
}

// exchange posts an XML envelope and decodes the XML answer, translating HTTP
// conditions into the engine error taxonomy.
func (c *HTTPClient) exchange(ctx context.Context, path string, payload, result any) error {
	body, err := xml.Marshal(payload)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "marshal request envelope")
	}

	if !c.breaker.Allow() {
		return derrors.New(derrors.CodeTransient, "remote service circuit open")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return derrors.Wrap(err, derrors.CodeTransient, "remote service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return derrors.Newf(derrors.CodeTransient, "remote service error: %s", resp.Status)
	}
	// Any answer below 500 proves the service is reachable.
	c.breaker.RecordSuccess()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return derrors.Newf(derrors.CodeUnauthorized, "remote service refused request: %s", resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		return derrors.Wrap(
			&RateLimitError{RetryAfter: retryAfter(resp)},
			derrors.CodeRateLimited, "remote service throttling")
	case resp.StatusCode != http.StatusOK:
		return derrors.Newf(derrors.CodeProtocol, "unexpected response status: %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return derrors.Wrap(err, derrors.CodeTransient, "read response body")
	}
	if err := xml.Unmarshal(raw, result); err != nil {
		return derrors.Wrap(err, derrors.CodeProtocol, "malformed response envelope")
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

var _ Client = (*HTTPClient)(nil)
