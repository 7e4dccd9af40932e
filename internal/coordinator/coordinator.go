// Package coordinator owns the lifecycle of synchronizations: it admits new
// jobs under the one-active-sync-per-account rule, runs them end to end
// (submit, poll, fetch, process), bisects date ranges the service refuses as
// too large, and answers status and cancellation requests.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"satsync/internal/audit"
	"satsync/internal/domain"
	"satsync/internal/fetcher"
	"satsync/internal/orchestrator"
	"satsync/internal/platform/metrics"
	"satsync/internal/processor"
	"satsync/internal/ratelimit"
	"satsync/internal/satclient"
	"satsync/internal/store"
	"satsync/internal/vault"
	derrors "satsync/pkg/domain-errors"
	"satsync/pkg/platform/sentinel"
)

// Stats tallies one finished synchronization, children included.
type Stats struct {
	Stored     int
	Duplicates int
	Rejected   int
}

// View is a job with its bisection children, for status reporting.
type View struct {
	Job      *domain.SyncJob
	Children []*domain.SyncJob
}

type Coordinator struct {
	jobs      store.JobStore
	vault     *vault.Service
	orch      *orchestrator.Orchestrator
	fetch     *fetcher.Fetcher
	proc      *processor.Processor
	cooldowns ratelimit.CooldownStore
	publisher *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	cooldownDefault time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[domain.SyncJobID]context.CancelFunc
}

type Option func(*Coordinator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithCooldownDefault(d time.Duration) Option {
	return func(c *Coordinator) { c.cooldownDefault = d }
}

func New(
	jobs store.JobStore,
	vsvc *vault.Service,
	orch *orchestrator.Orchestrator,
	fetch *fetcher.Fetcher,
	proc *processor.Processor,
	cooldowns ratelimit.CooldownStore,
	publisher *audit.Publisher,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	baseCtx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		jobs:            jobs,
		vault:           vsvc,
		orch:            orch,
		fetch:           fetch,
		proc:            proc,
		cooldowns:       cooldowns,
		publisher:       publisher,
		logger:          logger,
		cooldownDefault: time.Minute,
		baseCtx:         baseCtx,
		stop:            stop,
		running:         make(map[domain.SyncJobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close cancels every in-flight run and waits for them to settle.
func (c *Coordinator) Close() {
	c.stop()
	c.wg.Wait()
}

// StartSync admits and launches a synchronization. The credential is unlocked
// synchronously so a wrong passphrase fails the request, not the background
// run. Returns CodeAlreadyRunning while the account has a live sync and
// CodeRateLimited while the account is cooling down.
func (c *Coordinator) StartSync(ctx context.Context, accountID domain.AccountID, rng domain.DateRange, direction domain.Direction, passphrase []byte) (*domain.SyncJob, error) {
	remaining, err := c.cooldowns.Remaining(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("check cooldown: %w", err)
	}
	if remaining > 0 {
		return nil, derrors.Newf(derrors.CodeRateLimited,
			"account is cooling down for another %s", remaining.Round(time.Second))
	}

	cred, err := c.vault.Unlock(ctx, accountID, passphrase)
	if err != nil {
		c.publisher.Emit(accountID, "", audit.ActionCredentialDenied, string(derrors.CodeOf(err)))
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.SyncJob{
		ID:        domain.SyncJobID(uuid.New()),
		AccountID: accountID,
		Range:     rng,
		Direction: direction,
		State:     domain.StateDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		cred.Close()
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, derrors.New(derrors.CodeAlreadyRunning,
				"a synchronization is already running for this account")
		}
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.SyncsStarted.Inc()
	}
	c.publisher.Emit(accountID, job.ID.String(), audit.ActionSyncStarted, rng.String())

	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.mu.Lock()
	c.running[job.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cred.Close()
		defer cancel()
		defer func() {
			c.mu.Lock()
			delete(c.running, job.ID)
			c.mu.Unlock()
		}()
		c.execute(runCtx, job, cred)
	}()

	return job, nil
}

// GetStatus returns the job and, when it was bisected, its children. Jobs are
// scoped to the requesting account.
func (c *Coordinator) GetStatus(ctx context.Context, accountID domain.AccountID, jobID domain.SyncJobID) (*View, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, sentinel.ErrNotFound
	}
	children, err := c.jobs.ListChildren(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &View{Job: job, Children: children}, nil
}

// Cancel stops a running synchronization. A job that already settled is a
// conflict; a job belonging to another account is not found.
func (c *Coordinator) Cancel(ctx context.Context, accountID domain.AccountID, jobID domain.SyncJobID) error {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.AccountID != accountID || job.ParentID != nil {
		return sentinel.ErrNotFound
	}
	if job.State.Terminal() {
		return derrors.New(derrors.CodeConflict, "synchronization has already settled")
	}

	c.mu.Lock()
	cancel, ok := c.running[jobID]
	c.mu.Unlock()
	if ok {
		cancel()
	} else {
		// Not running in this instance (crashed run or draft leftover);
		// settle the record directly.
		job.FailureReason = domain.ReasonCancelled
		if terr := job.Transition(domain.StateFailed, time.Now().UTC()); terr != nil {
			return terr
		}
		if err := c.jobs.UpdateJob(ctx, job); err != nil {
			return err
		}
	}
	c.publisher.Emit(accountID, jobID.String(), audit.ActionSyncCancelled, "")
	return nil
}

// execute drives one top-level job to a terminal state, bisecting as needed.
func (c *Coordinator) execute(ctx context.Context, job *domain.SyncJob, cred *vault.Credential) {
	stats := &Stats{}
	err := c.runJob(ctx, job, cred, stats)
	switch {
	case err == nil:
		c.publisher.Emit(job.AccountID, job.ID.String(), audit.ActionSyncCompleted,
			fmt.Sprintf("%d stored, %d duplicates, %d rejected", stats.Stored, stats.Duplicates, stats.Rejected))
		if c.metrics != nil {
			c.metrics.SyncsCompleted.Inc()
		}
	case errors.Is(err, context.Canceled):
		// Already audited by Cancel.
	default:
		c.publisher.Emit(job.AccountID, job.ID.String(), audit.ActionSyncFailed, err.Error())
		c.logger.Error("synchronization failed",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}

// runJob runs one job (top-level or bisection child) and folds its document
// counts into stats. A non-nil error means the job settled without finishing
// its range.
func (c *Coordinator) runJob(ctx context.Context, job *domain.SyncJob, cred *vault.Credential, stats *Stats) error {
	holderRFC := cred.HolderRFC()

	result, err := c.orch.Run(ctx, job, cred, holderRFC)
	if err != nil {
		if rl, ok := satclient.AsRateLimit(err); ok {
			c.applyCooldown(job.AccountID, rl.RetryAfter)
		} else if derrors.HasCode(err, derrors.CodeRateLimited) {
			c.applyCooldown(job.AccountID, 0)
		}
		c.settleJob(ctx, job, "", err)
		return err
	}

	switch result.Outcome {
	case orchestrator.OutcomeReady:
		return c.harvest(ctx, job, cred, holderRFC, result.PackageIDs, stats)
	case orchestrator.OutcomeTooLarge:
		return c.bisect(ctx, job, cred, stats)
	default:
		return fmt.Errorf("job %s settled as %s (%s)", job.ID, job.State, job.FailureReason)
	}
}

// harvest downloads and processes the packages of a ready job, then completes
// it.
func (c *Coordinator) harvest(ctx context.Context, job *domain.SyncJob, cred *vault.Credential, holderRFC string, packageIDs []string, stats *Stats) error {
	// A partial fetch failure still yields the packages that did download.
	// Their documents are stored before the job settles: processing is
	// idempotent, so a later resync fills only the gap.
	packages, fetchErr := c.fetch.FetchAll(ctx, job, packageIDs, holderRFC)

	for _, pkg := range packages {
		result, err := c.proc.Process(ctx, job.AccountID, pkg.Archive)
		if err != nil {
			c.settleJob(ctx, job, "", err)
			return err
		}
		stats.Stored += result.Stored
		stats.Duplicates += result.Duplicates
		for _, n := range result.Rejected {
			stats.Rejected += n
		}
		ref := &domain.PackageRef{SyncJobID: job.ID, PackageID: pkg.ID, State: domain.PackageProcessed}
		if err := c.jobs.UpsertPackage(ctx, ref); err != nil {
			return err
		}
	}

	if fetchErr != nil {
		c.settleJob(ctx, job, "", fetchErr)
		return fetchErr
	}

	if err := job.Transition(domain.StateCompleted, time.Now().UTC()); err != nil {
		return err
	}
	return c.jobs.UpdateJob(ctx, job)
}

// bisect splits the job's range in half and runs both halves as child jobs.
// The parent becomes a tracking shell: completed when both halves complete,
// failed otherwise. A range that can no longer be split fails the job.
func (c *Coordinator) bisect(ctx context.Context, job *domain.SyncJob, cred *vault.Credential, stats *Stats) error {
	left, right, err := job.Range.Bisect()
	if err != nil {
		c.settleJob(ctx, job, domain.ReasonRangeTooDense, err)
		return err
	}

	if terr := job.Transition(domain.StateBisected, time.Now().UTC()); terr != nil {
		return terr
	}
	if err := c.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.SyncsBisected.Inc()
	}
	c.publisher.Emit(job.AccountID, job.ID.String(), audit.ActionSyncBisected,
		fmt.Sprintf("%s -> %s + %s", job.Range, left, right))

	var firstErr error
	for _, half := range []domain.DateRange{left, right} {
		child := &domain.SyncJob{
			ID:        domain.SyncJobID(uuid.New()),
			AccountID: job.AccountID,
			ParentID:  &job.ID,
			Range:     half,
			Direction: job.Direction,
			State:     domain.StateDraft,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := c.jobs.CreateJob(ctx, child); err != nil {
			firstErr = err
			break
		}
		if err := c.runJob(ctx, child, cred, stats); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}
	}

	now := time.Now().UTC()
	if firstErr != nil {
		job.FailureReason = failureReason(firstErr)
		if terr := job.Transition(domain.StateFailed, now); terr == nil {
			if uerr := c.jobs.UpdateJob(detached(ctx), job); uerr != nil {
				c.logger.Error("settle bisected parent", slog.String("error", uerr.Error()))
			}
		}
		return firstErr
	}
	if terr := job.Transition(domain.StateCompleted, now); terr != nil {
		return terr
	}
	return c.jobs.UpdateJob(ctx, job)
}

// settleJob marks a job failed when it is still on a live state. Jobs the
// orchestrator already settled are left alone.
func (c *Coordinator) settleJob(ctx context.Context, job *domain.SyncJob, reason string, cause error) {
	if job.State.Terminal() {
		return
	}
	if reason == "" {
		reason = failureReason(cause)
	}
	job.FailureReason = reason
	if err := job.Transition(domain.StateFailed, time.Now().UTC()); err != nil {
		return
	}
	if err := c.jobs.UpdateJob(detached(ctx), job); err != nil {
		c.logger.Error("settle job", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
	}
	if c.metrics != nil {
		c.metrics.SyncsFailed.WithLabelValues(reason).Inc()
	}
}

func (c *Coordinator) applyCooldown(accountID domain.AccountID, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = c.cooldownDefault
	}
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := c.cooldowns.SetCooldown(ctx, accountID, retryAfter); err != nil {
		c.logger.Error("set cooldown", slog.String("error", err.Error()))
	}
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return domain.ReasonCancelled
	case derrors.HasCode(err, derrors.CodeRateLimited):
		return "rate_limited"
	case derrors.HasCode(err, derrors.CodeRangeTooDense):
		return domain.ReasonRangeTooDense
	default:
		return "error"
	}
}

// detached keeps settlement writes alive past run cancellation.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
