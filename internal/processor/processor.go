// Package processor unpacks downloaded archives and turns their entries into
// stored fiscal documents. One bad entry never aborts the archive: entries are
// isolated, rejections counted by reason, and replays are absorbed by the
// store's idempotent insert.
package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"satsync/internal/domain"
	"satsync/internal/platform/metrics"
	"satsync/internal/store"
	derrors "satsync/pkg/domain-errors"
)

// maxEntrySize caps one decompressed archive entry. A fiscal document is a few
// kilobytes; anything near this limit is garbage or an attack.
const maxEntrySize = 8 << 20

// ProcessResult tallies one archive.
type ProcessResult struct {
	Stored     int
	Duplicates int
	Rejected   map[string]int
}

func (r *ProcessResult) rejectedTotal() int {
	var n int
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

type Processor struct {
	docs    store.DocumentStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Processor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func New(docs store.DocumentStore, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{docs: docs, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process walks the archive and stores every parseable entry for the account.
// Returns an error only when the archive itself is unreadable or the store
// fails; per-entry problems are reported through the result.
func (p *Processor) Process(ctx context.Context, accountID domain.AccountID, archive []byte) (*ProcessResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeProtocol, "open package archive")
	}

	result := &ProcessResult{Rejected: make(map[string]int)}
	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if entry.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name), ".xml") {
			continue
		}
		if err := p.processEntry(ctx, accountID, entry, result); err != nil {
			return result, err
		}
	}

	if p.metrics != nil {
		p.metrics.DocumentsStored.Add(float64(result.Stored))
		p.metrics.DocumentsDuplicate.Add(float64(result.Duplicates))
	}
	p.logger.Info("archive processed",
		slog.String("account_id", accountID.String()),
		slog.Int("stored", result.Stored),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("rejected", result.rejectedTotal()))
	return result, nil
}

func (p *Processor) processEntry(ctx context.Context, accountID domain.AccountID, entry *zip.File, result *ProcessResult) error {
	raw, err := readEntry(entry)
	if err != nil {
		p.rejectEntry(result, entry.Name, &RejectError{Reason: ReasonMalformedXML, Detail: err.Error()})
		return nil
	}

	doc, err := ParseDocument(accountID, raw)
	if err != nil {
		var re *RejectError
		if errors.As(err, &re) {
			p.rejectEntry(result, entry.Name, re)
			return nil
		}
		return err
	}

	outcome, err := p.docs.Upsert(ctx, doc)
	if err != nil {
		return derrors.Wrapf(err, derrors.CodeInternal, "store document %s", doc.UUID)
	}
	switch outcome {
	case store.UpsertInserted:
		result.Stored++
	case store.UpsertDuplicate:
		result.Duplicates++
	}
	return nil
}

func (p *Processor) rejectEntry(result *ProcessResult, name string, re *RejectError) {
	result.Rejected[re.Reason]++
	if p.metrics != nil {
		p.metrics.DocumentsRejected.WithLabelValues(re.Reason).Inc()
	}
	p.logger.Warn("archive entry rejected",
		slog.String("entry", name),
		slog.String("reason", re.Reason),
		slog.String("detail", re.Detail))
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntrySize))
}
