package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"satsync/internal/domain"
	"satsync/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	jobs *MemoryJobStore
	docs *MemoryDocumentStore
	ctx  context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.jobs = NewMemoryJobStore()
	s.docs = NewMemoryDocumentStore()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) newJob(account domain.AccountID, state domain.JobState) *domain.SyncJob {
	now := time.Now()
	return &domain.SyncJob{
		ID:        domain.NewSyncJobID(),
		AccountID: account,
		Range:     domain.DateRange{Start: now.AddDate(0, -1, 0), End: now},
		Direction: domain.DirectionReceived,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *MemoryStoreSuite) TestSingleFlight() {
	account := domain.AccountID(uuid.New())

	s.Run("second active job for account conflicts", func() {
		first := s.newJob(account, domain.StateSubmitted)
		s.Require().NoError(s.jobs.CreateJob(s.ctx, first))

		second := s.newJob(account, domain.StateDraft)
		err := s.jobs.CreateJob(s.ctx, second)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("terminal job does not block a new one", func() {
		first, err := s.jobs.GetJob(s.ctx, s.mustActiveJob(account).ID)
		s.Require().NoError(err)
		first.State = domain.StateCompleted
		s.Require().NoError(s.jobs.UpdateJob(s.ctx, first))

		s.Require().NoError(s.jobs.CreateJob(s.ctx, s.newJob(account, domain.StateDraft)))
	})

	s.Run("child jobs are exempt", func() {
		parent := s.mustActiveJob(account)
		child := s.newJob(account, domain.StateDraft)
		child.ParentID = &parent.ID
		s.Require().NoError(s.jobs.CreateJob(s.ctx, child))

		sibling := s.newJob(account, domain.StateDraft)
		sibling.ParentID = &parent.ID
		s.Require().NoError(s.jobs.CreateJob(s.ctx, sibling))

		children, err := s.jobs.ListChildren(s.ctx, parent.ID)
		s.Require().NoError(err)
		s.Len(children, 2)
	})
}

// mustActiveJob returns the account's current non-terminal top-level job.
func (s *MemoryStoreSuite) mustActiveJob(account domain.AccountID) *domain.SyncJob {
	s.T().Helper()
	for _, job := range s.jobs.jobs {
		if job.AccountID == account && job.ParentID == nil && !job.State.Terminal() {
			return job
		}
	}
	s.FailNow("no active job for account")
	return nil
}

func (s *MemoryStoreSuite) TestPackages() {
	job := s.newJob(domain.AccountID(uuid.New()), domain.StateReady)
	s.Require().NoError(s.jobs.CreateJob(s.ctx, job))

	ref := &domain.PackageRef{SyncJobID: job.ID, PackageID: "PKG-1", State: domain.PackagePending, UpdatedAt: time.Now()}
	s.Require().NoError(s.jobs.UpsertPackage(s.ctx, ref))

	ref.State = domain.PackageDownloaded
	s.Require().NoError(s.jobs.UpsertPackage(s.ctx, ref))

	refs, err := s.jobs.ListPackages(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Require().Len(refs, 1)
	s.Equal(domain.PackageDownloaded, refs[0].State)
}

func (s *MemoryStoreSuite) sampleDoc(account domain.AccountID, docUUID string, kind domain.DocumentKind) *domain.FiscalDocument {
	return &domain.FiscalDocument{
		UUID:      docUUID,
		AccountID: account,
		IssuerRFC: "AAA010101AAA",
		Kind:      kind,
		IssueDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Total:     "1160.00",
	}
}

func (s *MemoryStoreSuite) TestDocumentIdempotence() {
	account := domain.AccountID(uuid.New())
	doc := s.sampleDoc(account, "11111111-2222-3333-4444-555555555555", domain.KindIncome)

	res, err := s.docs.Upsert(s.ctx, doc)
	s.Require().NoError(err)
	s.Equal(UpsertInserted, res)

	res, err = s.docs.Upsert(s.ctx, doc)
	s.Require().NoError(err)
	s.Equal(UpsertDuplicate, res)

	// Same uuid under a different account is a distinct document.
	other := s.sampleDoc(domain.AccountID(uuid.New()), doc.UUID, domain.KindIncome)
	res, err = s.docs.Upsert(s.ctx, other)
	s.Require().NoError(err)
	s.Equal(UpsertInserted, res)
}

func (s *MemoryStoreSuite) TestDocumentFiltersAndSummary() {
	account := domain.AccountID(uuid.New())

	income := s.sampleDoc(account, "doc-income", domain.KindIncome)
	expense := s.sampleDoc(account, "doc-expense", domain.KindExpense)
	expense.Deductible = true
	expense.Total = "500.00"
	payroll := s.sampleDoc(account, "doc-payroll", domain.KindPayroll)
	payroll.IssueDate = time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	for _, doc := range []*domain.FiscalDocument{income, expense, payroll} {
		_, err := s.docs.Upsert(s.ctx, doc)
		s.Require().NoError(err)
	}

	s.Run("filter by year", func() {
		docs, err := s.docs.List(s.ctx, account, DocumentFilter{Year: 2024})
		s.Require().NoError(err)
		s.Len(docs, 2)
	})

	s.Run("deductible only", func() {
		docs, err := s.docs.List(s.ctx, account, DocumentFilter{DeductibleOnly: true})
		s.Require().NoError(err)
		s.Require().Len(docs, 1)
		s.Equal("doc-expense", docs[0].UUID)
	})

	s.Run("summary aggregates by kind", func() {
		summary, err := s.docs.Summary(s.ctx, account, 0)
		s.Require().NoError(err)
		s.Equal(3, summary.TotalDocuments)
		s.Equal("1160.00", summary.IncomeTotal)
		s.Equal("500.00", summary.ExpenseTotal)
		s.Equal(1, summary.PayrollCount)
		s.Equal(1, summary.DeductibleCount)
	})
}

func (s *MemoryStoreSuite) TestMarkCancelled() {
	account := domain.AccountID(uuid.New())
	doc := s.sampleDoc(account, "doc-1", domain.KindIncome)
	_, err := s.docs.Upsert(s.ctx, doc)
	s.Require().NoError(err)

	s.Require().NoError(s.docs.MarkCancelled(s.ctx, account, "doc-1"))
	docs, err := s.docs.List(s.ctx, account, DocumentFilter{})
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.True(docs[0].Cancelled)

	err = s.docs.MarkCancelled(s.ctx, account, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
