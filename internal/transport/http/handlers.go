// Package httptransport is the thin HTTP layer over the synchronization
// engine. Handlers delegate to domain services and translate their errors;
// business logic stays out of this package.
package httptransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"satsync/internal/audit"
	"satsync/internal/coordinator"
	"satsync/internal/domain"
	"satsync/internal/store"
	derrors "satsync/pkg/domain-errors"
)

// SyncService is the coordinator surface the handlers need.
type SyncService interface {
	StartSync(ctx context.Context, accountID domain.AccountID, rng domain.DateRange, direction domain.Direction, passphrase []byte) (*domain.SyncJob, error)
	GetStatus(ctx context.Context, accountID domain.AccountID, jobID domain.SyncJobID) (*coordinator.View, error)
	Cancel(ctx context.Context, accountID domain.AccountID, jobID domain.SyncJobID) error
}

// CredentialVault seals uploaded signing credentials.
type CredentialVault interface {
	Seal(ctx context.Context, accountID domain.AccountID, certDER, keyDER, passphrase []byte) error
}

type Handler struct {
	sync      SyncService
	vault     CredentialVault
	docs      store.DocumentStore
	publisher *audit.Publisher
	logger    *slog.Logger
}

type Option func(*Handler)

// WithAudit records credential lifecycle events on the audit pipeline.
func WithAudit(p *audit.Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

func New(sync SyncService, vault CredentialVault, docs store.DocumentStore, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{sync: sync, vault: vault, docs: docs, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type startSyncRequest struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	Direction  string `json:"direction"`
	Passphrase string `json:"passphrase"`
}

type jobResponse struct {
	ID              string  `json:"id"`
	State           string  `json:"state"`
	Start           string  `json:"start"`
	End             string  `json:"end"`
	Direction       string  `json:"direction"`
	FailureReason   string  `json:"failure_reason,omitempty"`
	AttemptCount    int     `json:"attempt_count"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	LastPolledAt    *string `json:"last_polled_at,omitempty"`
	RemoteRequestID string  `json:"remote_request_id,omitempty"`
}

type statusResponse struct {
	jobResponse
	Children []jobResponse `json:"children,omitempty"`
}

func toJobResponse(job *domain.SyncJob) jobResponse {
	resp := jobResponse{
		ID:              job.ID.String(),
		State:           string(job.State),
		Start:           job.Range.Start.Format(time.DateOnly),
		End:             job.Range.End.Format(time.DateOnly),
		Direction:       string(job.Direction),
		FailureReason:   job.FailureReason,
		AttemptCount:    job.AttemptCount,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
		RemoteRequestID: job.RemoteRequestID,
	}
	if job.LastPolledAt != nil {
		polled := job.LastPolledAt.Format(time.RFC3339)
		resp.LastPolledAt = &polled
	}
	return resp
}

func (h *Handler) handleStartSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := AccountFromContext(ctx)

	var req startSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "invalid request body"))
		return
	}
	start, err := time.Parse(time.DateOnly, req.Start)
	if err != nil {
		WriteError(w, derrors.Newf(derrors.CodeBadRequest, "invalid start date %q", req.Start))
		return
	}
	end, err := time.Parse(time.DateOnly, req.End)
	if err != nil {
		WriteError(w, derrors.Newf(derrors.CodeBadRequest, "invalid end date %q", req.End))
		return
	}
	rng, err := domain.NewDateRange(start, end)
	if err != nil {
		WriteError(w, err)
		return
	}
	direction, ok := domain.ParseDirection(req.Direction)
	if !ok {
		WriteError(w, derrors.Newf(derrors.CodeBadRequest, "invalid direction %q", req.Direction))
		return
	}
	if req.Passphrase == "" {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "passphrase is required"))
		return
	}

	job, err := h.sync.StartSync(ctx, accountID, rng, direction, []byte(req.Passphrase))
	if err != nil {
		h.logger.WarnContext(ctx, "start sync refused",
			slog.String("account_id", accountID.String()),
			slog.String("error", err.Error()))
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (h *Handler) handleGetSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := AccountFromContext(ctx)

	jobID, err := domain.ParseSyncJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "invalid job id"))
		return
	}

	view, err := h.sync.GetStatus(ctx, accountID, jobID)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := statusResponse{jobResponse: toJobResponse(view.Job)}
	for _, child := range view.Children {
		resp.Children = append(resp.Children, toJobResponse(child))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := AccountFromContext(ctx)

	jobID, err := domain.ParseSyncJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "invalid job id"))
		return
	}
	if err := h.sync.Cancel(ctx, accountID, jobID); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sealCredentialRequest struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
	Passphrase  string `json:"passphrase"`
}

func (h *Handler) handleSealCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := AccountFromContext(ctx)

	var req sealCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "invalid request body"))
		return
	}
	certDER, err := base64.StdEncoding.DecodeString(req.Certificate)
	if err != nil {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "certificate is not valid base64"))
		return
	}
	keyDER, err := base64.StdEncoding.DecodeString(req.PrivateKey)
	if err != nil {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "private key is not valid base64"))
		return
	}
	if req.Passphrase == "" {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "passphrase is required"))
		return
	}

	if err := h.vault.Seal(ctx, accountID, certDER, keyDER, []byte(req.Passphrase)); err != nil {
		WriteError(w, err)
		return
	}
	if h.publisher != nil {
		h.publisher.Emit(accountID, "", audit.ActionCredentialSealed, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

type documentResponse struct {
	UUID          string `json:"uuid"`
	IssuerRFC     string `json:"issuer_rfc"`
	IssuerName    string `json:"issuer_name,omitempty"`
	ReceiverRFC   string `json:"receiver_rfc"`
	Kind          string `json:"kind"`
	SchemaVersion string `json:"schema_version"`
	IssueDate     string `json:"issue_date"`
	Currency      string `json:"currency"`
	Subtotal      string `json:"subtotal"`
	Total         string `json:"total"`
	UsageCode     string `json:"usage_code,omitempty"`
	Deductible    bool   `json:"deductible"`
	Cancelled     bool   `json:"cancelled"`
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := AccountFromContext(ctx)

	filter, err := parseDocumentFilter(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	docs, err := h.docs.List(ctx, accountID, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "list documents", slog.String("error", err.Error()))
		WriteError(w, derrors.New(derrors.CodeInternal, "list documents"))
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, documentResponse{
			UUID:          doc.UUID,
			IssuerRFC:     doc.IssuerRFC,
			IssuerName:    doc.IssuerName,
			ReceiverRFC:   doc.ReceiverRFC,
			Kind:          string(doc.Kind),
			SchemaVersion: string(doc.SchemaVersion),
			IssueDate:     doc.IssueDate.Format(time.RFC3339),
			Currency:      doc.Currency,
			Subtotal:      doc.Subtotal,
			Total:         doc.Total,
			UsageCode:     doc.UsageCode,
			Deductible:    doc.Deductible,
			Cancelled:     doc.Cancelled,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": resp})
}

func (h *Handler) handleDocumentSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := AccountFromContext(ctx)

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 2000 {
		WriteError(w, derrors.New(derrors.CodeBadRequest, "a valid year is required"))
		return
	}

	summary, err := h.docs.Summary(ctx, accountID, year)
	if err != nil {
		h.logger.ErrorContext(ctx, "document summary", slog.String("error", err.Error()))
		WriteError(w, derrors.New(derrors.CodeInternal, "document summary"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"year":             year,
		"total_documents":  summary.TotalDocuments,
		"income_total":     summary.IncomeTotal,
		"expense_total":    summary.ExpenseTotal,
		"payroll_count":    summary.PayrollCount,
		"deductible_count": summary.DeductibleCount,
	})
}

func parseDocumentFilter(r *http.Request) (store.DocumentFilter, error) {
	var filter store.DocumentFilter
	q := r.URL.Query()

	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return filter, derrors.Newf(derrors.CodeBadRequest, "invalid year %q", v)
		}
		filter.Year = year
	}
	if v := q.Get("month"); v != "" {
		month, err := strconv.Atoi(v)
		if err != nil || month < 1 || month > 12 {
			return filter, derrors.Newf(derrors.CodeBadRequest, "invalid month %q", v)
		}
		filter.Month = time.Month(month)
	}
	if v := q.Get("kind"); v != "" {
		switch kind := domain.DocumentKind(v); kind {
		case domain.KindIncome, domain.KindExpense, domain.KindPayroll, domain.KindPayment:
			filter.Kind = kind
		default:
			return filter, derrors.Newf(derrors.CodeBadRequest, "invalid kind %q", v)
		}
	}
	if v := q.Get("deductible"); v != "" {
		deductible, err := strconv.ParseBool(v)
		if err != nil {
			return filter, derrors.Newf(derrors.CodeBadRequest, "invalid deductible flag %q", v)
		}
		filter.DeductibleOnly = deductible
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			return filter, derrors.Newf(derrors.CodeBadRequest, "invalid limit %q", v)
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, derrors.Newf(derrors.CodeBadRequest, "invalid offset %q", v)
		}
		filter.Offset = offset
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
