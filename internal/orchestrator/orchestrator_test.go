package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satsync/internal/domain"
	"satsync/internal/platform/logger"
	"satsync/internal/satclient"
	"satsync/internal/signer"
	"satsync/internal/store"
	"satsync/internal/vault"
	derrors "satsync/pkg/domain-errors"
	"satsync/pkg/testutil"
)

type statusAnswer struct {
	result *satclient.StatusResult
	err    error
}

// fakeClient scripts one Submit answer and a sequence of Status answers; the
// last status answer repeats.
type fakeClient struct {
	mu          sync.Mutex
	submit      *satclient.SubmitResult
	submitErr   error
	statuses    []statusAnswer
	statusCalls int
}

func (c *fakeClient) Submit(context.Context, signer.Request, *signer.SignedRequest) (*satclient.SubmitResult, error) {
	return c.submit, c.submitErr
}

func (c *fakeClient) Status(context.Context, string, string) (*satclient.StatusResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCalls++
	i := c.statusCalls - 1
	if i >= len(c.statuses) {
		i = len(c.statuses) - 1
	}
	return c.statuses[i].result, c.statuses[i].err
}

func (c *fakeClient) Download(context.Context, string, string) ([]byte, error) {
	panic("not used")
}

func accepted(id string) *satclient.SubmitResult {
	return &satclient.SubmitResult{RequestID: id, Status: satclient.StatusAccepted}
}

func status(s satclient.RequestStatus, packages ...string) statusAnswer {
	return statusAnswer{result: &satclient.StatusResult{Status: s, PackageIDs: packages}}
}

type harness struct {
	orch *Orchestrator
	jobs *store.MemoryJobStore
	cred *vault.Credential
	job  *domain.SyncJob
}

func newHarness(t *testing.T, client satclient.Client, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	account := domain.AccountID(uuid.New())
	vsvc := vault.New(vault.NewMemoryStore(), logger.Discard())
	tc := testutil.NewTestCredential(t, time.Now().Add(time.Hour))
	require.NoError(t, vsvc.Seal(ctx, account, tc.CertDER, tc.KeyDER, []byte("pw")))
	cred, err := vsvc.Unlock(ctx, account, []byte("pw"))
	require.NoError(t, err)
	t.Cleanup(cred.Close)

	jobs := store.NewMemoryJobStore()
	job := &domain.SyncJob{
		ID:        domain.SyncJobID(uuid.New()),
		AccountID: account,
		Range: domain.DateRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		Direction: domain.DirectionReceived,
		State:     domain.StateDraft,
	}
	require.NoError(t, jobs.CreateJob(ctx, job))

	base := []Option{WithPolling(time.Millisecond, 4*time.Millisecond, 250*time.Millisecond, 20)}
	orch := New(client, jobs, signer.New(time.Hour), logger.Discard(), append(base, opts...)...)
	return &harness{orch: orch, jobs: jobs, cred: cred, job: job}
}

func (h *harness) reload(t *testing.T) *domain.SyncJob {
	t.Helper()
	job, err := h.jobs.GetJob(context.Background(), h.job.ID)
	require.NoError(t, err)
	return job
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path reaches ready", func(t *testing.T) {
		client := &fakeClient{
			submit: accepted("req-1"),
			statuses: []statusAnswer{
				status(satclient.StatusPending),
				status(satclient.StatusInProgress),
				status(satclient.StatusReady, "pkg-1", "pkg-2"),
			},
		}
		h := newHarness(t, client)

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeReady, res.Outcome)
		assert.Equal(t, []string{"pkg-1", "pkg-2"}, res.PackageIDs)

		job := h.reload(t)
		assert.Equal(t, domain.StateReady, job.State)
		assert.Equal(t, "req-1", job.RemoteRequestID)
		assert.Equal(t, 0, job.AttemptCount, "healthy polls do not consume the attempt budget")
		assert.NotNil(t, job.LastPolledAt)
	})

	t.Run("rejected at submission", func(t *testing.T) {
		client := &fakeClient{
			submit: &satclient.SubmitResult{Status: satclient.StatusRejected, Message: "invalid range"},
		}
		h := newHarness(t, client)

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)

		job := h.reload(t)
		assert.Equal(t, domain.StateRejected, job.State)
		assert.Equal(t, domain.ReasonRejectedByService, job.FailureReason)
	})

	t.Run("too large at submission is not terminal", func(t *testing.T) {
		client := &fakeClient{
			submit: &satclient.SubmitResult{Status: satclient.StatusTooLarge},
		}
		h := newHarness(t, client)

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeTooLarge, res.Outcome)

		// The coordinator owns the bisected transition.
		assert.Equal(t, domain.StateSubmitted, h.reload(t).State)
	})

	t.Run("too large during polling", func(t *testing.T) {
		client := &fakeClient{
			submit:   accepted("req-1"),
			statuses: []statusAnswer{status(satclient.StatusTooLarge)},
		}
		h := newHarness(t, client)

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeTooLarge, res.Outcome)
	})

	t.Run("expired by the service", func(t *testing.T) {
		client := &fakeClient{
			submit:   accepted("req-1"),
			statuses: []statusAnswer{status(satclient.StatusExpired)},
		}
		h := newHarness(t, client)

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, domain.StateExpired, h.reload(t).State)
	})

	t.Run("transient poll errors are retried", func(t *testing.T) {
		client := &fakeClient{
			submit: accepted("req-1"),
			statuses: []statusAnswer{
				{err: derrors.New(derrors.CodeTransient, "connection reset")},
				{err: derrors.New(derrors.CodeTransient, "connection reset")},
				status(satclient.StatusReady, "pkg-1"),
			},
		}
		h := newHarness(t, client)

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeReady, res.Outcome)
		assert.Equal(t, 3, client.statusCalls)
	})

	t.Run("auth failure during polling fails the job", func(t *testing.T) {
		client := &fakeClient{
			submit:   accepted("req-1"),
			statuses: []statusAnswer{{err: derrors.New(derrors.CodeUnauthorized, "session revoked")}},
		}
		h := newHarness(t, client)

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)

		job := h.reload(t)
		assert.Equal(t, domain.StateFailed, job.State)
		assert.Equal(t, domain.ReasonCredential, job.FailureReason)
	})

	t.Run("attempt budget exhaustion fails the job", func(t *testing.T) {
		client := &fakeClient{
			submit:   accepted("req-1"),
			statuses: []statusAnswer{{err: derrors.New(derrors.CodeTransient, "connection reset")}},
		}
		h := newHarness(t, client, WithPolling(time.Millisecond, time.Millisecond, time.Minute, 3))

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, 3, client.statusCalls)

		job := h.reload(t)
		assert.Equal(t, domain.StateFailed, job.State)
		assert.Equal(t, domain.ReasonAttemptsExceeded, job.FailureReason)
		assert.Equal(t, 3, job.AttemptCount)
	})

	t.Run("slow but healthy request outlasts the attempt budget", func(t *testing.T) {
		pending := make([]statusAnswer, 0, 8)
		for i := 0; i < 8; i++ {
			pending = append(pending, status(satclient.StatusPending))
		}
		client := &fakeClient{
			submit:   accepted("req-1"),
			statuses: append(pending, status(satclient.StatusReady, "pkg-1")),
		}
		h := newHarness(t, client, WithPolling(time.Millisecond, time.Millisecond, time.Minute, 3))

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeReady, res.Outcome)
		assert.Equal(t, 9, client.statusCalls)
		assert.Equal(t, 0, h.reload(t).AttemptCount)
	})

	t.Run("poll deadline expires the job", func(t *testing.T) {
		client := &fakeClient{
			submit:   accepted("req-1"),
			statuses: []statusAnswer{status(satclient.StatusPending)},
		}
		h := newHarness(t, client, WithPolling(5*time.Millisecond, 5*time.Millisecond, time.Millisecond, 100))

		res, err := h.orch.Run(ctx, h.job, h.cred, "XAXX010101000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)

		job := h.reload(t)
		assert.Equal(t, domain.StateExpired, job.State)
		assert.Equal(t, domain.ReasonPollDeadline, job.FailureReason)
	})

	t.Run("cancellation interrupts polling", func(t *testing.T) {
		client := &fakeClient{
			submit:   accepted("req-1"),
			statuses: []statusAnswer{status(satclient.StatusPending)},
		}
		h := newHarness(t, client, WithPolling(time.Hour, time.Hour, 2*time.Hour, 100))

		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := h.orch.Run(runCtx, h.job, h.cred, "XAXX010101000")
		require.ErrorIs(t, err, context.Canceled)

		job := h.reload(t)
		assert.Equal(t, domain.StateFailed, job.State)
		assert.Equal(t, domain.ReasonCancelled, job.FailureReason)
	})
}
