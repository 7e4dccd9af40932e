package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"satsync/internal/domain"
	"satsync/pkg/platform/sentinel"
)

type docKey struct {
	account domain.AccountID
	uuid    string
}

// MemoryDocumentStore is the in-memory DocumentStore used by tests.
type MemoryDocumentStore struct {
	mu   sync.Mutex
	docs map[docKey]*domain.FiscalDocument
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[docKey]*domain.FiscalDocument)}
}

func (s *MemoryDocumentStore) Upsert(_ context.Context, doc *domain.FiscalDocument) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey{account: doc.AccountID, uuid: doc.UUID}
	if _, ok := s.docs[key]; ok {
		return UpsertDuplicate, nil
	}
	copied := *doc
	s.docs[key] = &copied
	return UpsertInserted, nil
}

func (s *MemoryDocumentStore) MarkCancelled(_ context.Context, accountID domain.AccountID, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docKey{account: accountID, uuid: uuid}]
	if !ok {
		return sentinel.ErrNotFound
	}
	doc.Cancelled = true
	return nil
}

func (s *MemoryDocumentStore) List(_ context.Context, accountID domain.AccountID, filter DocumentFilter) ([]*domain.FiscalDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []*domain.FiscalDocument
	for key, doc := range s.docs {
		if key.account != accountID {
			continue
		}
		if filter.Year != 0 && doc.IssueDate.Year() != filter.Year {
			continue
		}
		if filter.Month != 0 && doc.IssueDate.Month() != filter.Month {
			continue
		}
		if filter.Kind != "" && doc.Kind != filter.Kind {
			continue
		}
		if filter.DeductibleOnly && !doc.Deductible {
			continue
		}
		copied := *doc
		docs = append(docs, &copied)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].IssueDate.After(docs[j].IssueDate) })

	if filter.Offset > 0 {
		if filter.Offset >= len(docs) {
			return nil, nil
		}
		docs = docs[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *MemoryDocumentStore) Summary(_ context.Context, accountID domain.AccountID, year int) (*DocumentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summary DocumentSummary
	var income, expense float64
	for key, doc := range s.docs {
		if key.account != accountID {
			continue
		}
		if year != 0 && doc.IssueDate.Year() != year {
			continue
		}
		summary.TotalDocuments++
		total, _ := strconv.ParseFloat(doc.Total, 64)
		switch doc.Kind {
		case domain.KindIncome:
			income += total
		case domain.KindExpense:
			expense += total
		case domain.KindPayroll:
			summary.PayrollCount++
		}
		if doc.Deductible {
			summary.DeductibleCount++
		}
	}
	summary.IncomeTotal = strconv.FormatFloat(income, 'f', 2, 64)
	summary.ExpenseTotal = strconv.FormatFloat(expense, 'f', 2, 64)
	return &summary, nil
}
