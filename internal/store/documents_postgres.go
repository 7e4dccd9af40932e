package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"satsync/internal/domain"
	"satsync/pkg/platform/sentinel"
)

// PostgresDocumentStore persists fiscal documents. Inserts are idempotent on
// (account_id, uuid) via ON CONFLICT DO NOTHING, which doubles as the
// per-account write serialization required by the uniqueness invariant.
type PostgresDocumentStore struct {
	db *sql.DB
}

func NewPostgresDocumentStore(db *sql.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

func (s *PostgresDocumentStore) Upsert(ctx context.Context, doc *domain.FiscalDocument) (UpsertResult, error) {
	query := `
		INSERT INTO fiscal_documents (
			account_id, uuid, issuer_rfc, issuer_name, receiver_rfc, receiver_name,
			receiver_domicile, receiver_regime,
			kind, schema_version, issue_date, currency, subtotal, discount, total,
			tax_transferred, tax_withheld, usage_code, deductible, cancelled,
			seal_uuid, seal_stamped_at, seal_provider, seal_cfd, seal_sat, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (account_id, uuid) DO NOTHING
	`
	var stampedAt *time.Time
	if !doc.Seal.StampedAt.IsZero() {
		stampedAt = &doc.Seal.StampedAt
	}
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(doc.AccountID),
		doc.UUID,
		doc.IssuerRFC,
		doc.IssuerName,
		doc.ReceiverRFC,
		doc.ReceiverName,
		doc.ReceiverDomicile,
		doc.ReceiverRegime,
		string(doc.Kind),
		string(doc.SchemaVersion),
		doc.IssueDate,
		doc.Currency,
		nullableDecimal(doc.Subtotal),
		nullableDecimal(doc.Discount),
		nullableDecimal(doc.Total),
		nullableDecimal(doc.TaxTransferred),
		nullableDecimal(doc.TaxWithheld),
		doc.UsageCode,
		doc.Deductible,
		doc.Cancelled,
		doc.Seal.UUID,
		stampedAt,
		doc.Seal.ProviderRFC,
		doc.Seal.SealCFD,
		doc.Seal.SealSAT,
		doc.RawPayload,
	)
	if err != nil {
		return UpsertDuplicate, fmt.Errorf("insert fiscal document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertDuplicate, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return UpsertDuplicate, nil
	}
	return UpsertInserted, nil
}

func (s *PostgresDocumentStore) MarkCancelled(ctx context.Context, accountID domain.AccountID, docUUID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fiscal_documents SET cancelled = TRUE WHERE account_id = $1 AND uuid = $2`,
		uuid.UUID(accountID), docUUID,
	)
	if err != nil {
		return fmt.Errorf("mark document cancelled: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresDocumentStore) List(ctx context.Context, accountID domain.AccountID, filter DocumentFilter) ([]*domain.FiscalDocument, error) {
	query := `
		SELECT uuid, issuer_rfc, issuer_name, receiver_rfc, receiver_name,
		       receiver_domicile, receiver_regime,
		       kind, schema_version, issue_date, currency,
		       subtotal::text, discount::text, total::text,
		       tax_transferred::text, tax_withheld::text,
		       usage_code, deductible, cancelled
		FROM fiscal_documents
		WHERE account_id = $1
	`
	args := []any{uuid.UUID(accountID)}

	if filter.Year != 0 {
		args = append(args, filter.Year)
		query += fmt.Sprintf(" AND EXTRACT(YEAR FROM issue_date) = $%d", len(args))
	}
	if filter.Month != 0 {
		args = append(args, int(filter.Month))
		query += fmt.Sprintf(" AND EXTRACT(MONTH FROM issue_date) = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.DeductibleOnly {
		query += " AND deductible = TRUE"
	}

	query += " ORDER BY issue_date DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fiscal documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.FiscalDocument
	for rows.Next() {
		var (
			doc     domain.FiscalDocument
			kind    string
			version string
		)
		err := rows.Scan(
			&doc.UUID, &doc.IssuerRFC, &doc.IssuerName, &doc.ReceiverRFC, &doc.ReceiverName,
			&doc.ReceiverDomicile, &doc.ReceiverRegime,
			&kind, &version, &doc.IssueDate, &doc.Currency,
			&doc.Subtotal, &doc.Discount, &doc.Total,
			&doc.TaxTransferred, &doc.TaxWithheld,
			&doc.UsageCode, &doc.Deductible, &doc.Cancelled,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fiscal document: %w", err)
		}
		doc.AccountID = accountID
		doc.Kind = domain.DocumentKind(kind)
		doc.SchemaVersion = domain.SchemaVersion(version)
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fiscal documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresDocumentStore) Summary(ctx context.Context, accountID domain.AccountID, year int) (*DocumentSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(total) FILTER (WHERE kind = 'I'), 0)::text,
		       COALESCE(SUM(total) FILTER (WHERE kind = 'E'), 0)::text,
		       COUNT(*) FILTER (WHERE kind = 'N'),
		       COUNT(*) FILTER (WHERE deductible)
		FROM fiscal_documents
		WHERE account_id = $1 AND ($2 = 0 OR EXTRACT(YEAR FROM issue_date) = $2)
	`
	var summary DocumentSummary
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(accountID), year).Scan(
		&summary.TotalDocuments,
		&summary.IncomeTotal,
		&summary.ExpenseTotal,
		&summary.PayrollCount,
		&summary.DeductibleCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &DocumentSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document summary: %w", err)
	}
	return &summary, nil
}

// nullableDecimal maps empty amount strings to SQL zero so NUMERIC columns
// never receive ''.
func nullableDecimal(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
