// Package orchestrator drives a single sync job through the remote protocol
// state machine: sign and submit the extraction request, then poll until the
// service produces packages or a terminal verdict. Every state change is
// persisted before the orchestrator moves on, so a crashed run can be
// inspected and accounted for.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"satsync/internal/domain"
	"satsync/internal/platform/metrics"
	"satsync/internal/satclient"
	"satsync/internal/signer"
	"satsync/internal/store"
	"satsync/internal/vault"
	derrors "satsync/pkg/domain-errors"
)

// Outcome classifies how a run ended. OutcomeTooLarge is not a failure: it is
// the signal for the coordinator to bisect the date range and try again with
// two narrower jobs.
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeTooLarge
	OutcomeFailed
)

// RunResult reports a finished run. PackageIDs is populated only for
// OutcomeReady.
type RunResult struct {
	Outcome    Outcome
	PackageIDs []string
}

type Orchestrator struct {
	client  satclient.Client
	jobs    store.JobStore
	signer  *signer.Signer
	logger  *slog.Logger
	metrics *metrics.Metrics

	pollFloor       time.Duration
	pollCap         time.Duration
	maxPollDuration time.Duration
	maxAttempts     int
	now             func() time.Time
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithPolling(floor, cap, max time.Duration, attempts int) Option {
	return func(o *Orchestrator) {
		o.pollFloor, o.pollCap, o.maxPollDuration, o.maxAttempts = floor, cap, max, attempts
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(client satclient.Client, jobs store.JobStore, sig *signer.Signer, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:          client,
		jobs:            jobs,
		signer:          sig,
		logger:          logger,
		pollFloor:       30 * time.Second,
		pollCap:         5 * time.Minute,
		maxPollDuration: 2 * time.Hour,
		maxAttempts:     60,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run takes a draft job to a settled outcome. The credential must remain open
// for the duration of the call. Returns an error only for infrastructure
// failures (store writes, signing); remote-service verdicts are reported
// through the job state and the RunResult.
func (o *Orchestrator) Run(ctx context.Context, job *domain.SyncJob, cred *vault.Credential, holderRFC string) (*RunResult, error) {
	if err := o.transition(ctx, job, domain.StateSubmitted); err != nil {
		return nil, err
	}

	req := signer.Request{
		HolderRFC: holderRFC,
		Range:     job.Range,
		Direction: job.Direction,
		Timestamp: o.now(),
	}
	signed, err := o.signer.Sign(req, cred)
	if err != nil {
		return o.fail(ctx, job, domain.ReasonCredential, err)
	}

	submit, err := o.client.Submit(ctx, req, signed)
	if err != nil {
		if satclient.IsAuth(err) {
			return o.fail(ctx, job, domain.ReasonCredential, err)
		}
		return nil, err
	}

	switch submit.Status {
	case satclient.StatusAccepted:
		job.RemoteRequestID = submit.RequestID
		if err := o.transition(ctx, job, domain.StateAccepted); err != nil {
			return nil, err
		}
	case satclient.StatusRejected:
		return o.reject(ctx, job, submit.Message)
	case satclient.StatusTooLarge:
		return &RunResult{Outcome: OutcomeTooLarge}, nil
	}

	return o.poll(ctx, job, holderRFC)
}

// poll cycles status checks with backoff between the floor and the cap until
// the request settles, the poll deadline passes, or the attempt budget runs
// out. Cancellation is honored at every suspension point.
func (o *Orchestrator) poll(ctx context.Context, job *domain.SyncJob, holderRFC string) (*RunResult, error) {
	deadline := o.now().Add(o.maxPollDuration)
	delay := o.pollFloor

	for {
		select {
		case <-ctx.Done():
			return o.cancel(job, ctx.Err())
		case <-time.After(delay):
		}

		if o.now().After(deadline) {
			return o.expire(ctx, job, domain.ReasonPollDeadline)
		}

		status, err := o.client.Status(ctx, job.RemoteRequestID, holderRFC)
		if o.metrics != nil {
			o.metrics.PollCycles.Inc()
		}
		now := o.now()
		job.LastPolledAt = &now

		if err != nil {
			// Only failed polls count against the attempt budget. A healthy
			// request that is merely slow keeps polling toward the deadline.
			job.AttemptCount++
			switch {
			case ctx.Err() != nil:
				return o.cancel(job, ctx.Err())
			case satclient.IsAuth(err):
				return o.fail(ctx, job, domain.ReasonCredential, err)
			case satclient.IsTransient(err) || satclient.IsProtocol(err):
				if job.AttemptCount >= o.maxAttempts {
					return o.fail(ctx, job, domain.ReasonAttemptsExceeded, err)
				}
				o.logger.Warn("status poll failed",
					slog.String("job_id", job.ID.String()),
					slog.String("error", err.Error()))
				if uerr := o.jobs.UpdateJob(ctx, job); uerr != nil {
					return nil, uerr
				}
				delay = o.nextDelay(delay)
				continue
			default:
				if rl, ok := satclient.AsRateLimit(err); ok {
					if job.AttemptCount >= o.maxAttempts {
						return o.fail(ctx, job, domain.ReasonAttemptsExceeded, err)
					}
					if uerr := o.jobs.UpdateJob(ctx, job); uerr != nil {
						return nil, uerr
					}
					delay = o.nextDelay(delay)
					if rl.RetryAfter > delay {
						delay = rl.RetryAfter
					}
					continue
				}
				return nil, err
			}
		}

		switch status.Status {
		case satclient.StatusPending:
			if err := o.jobs.UpdateJob(ctx, job); err != nil {
				return nil, err
			}
		case satclient.StatusInProgress:
			if err := o.transition(ctx, job, domain.StateInProgress); err != nil {
				return nil, err
			}
		case satclient.StatusReady:
			if err := o.transition(ctx, job, domain.StateReady); err != nil {
				return nil, err
			}
			return &RunResult{Outcome: OutcomeReady, PackageIDs: status.PackageIDs}, nil
		case satclient.StatusExpired:
			return o.expire(ctx, job, "expired_by_service")
		case satclient.StatusRejected:
			return o.reject(ctx, job, status.Message)
		case satclient.StatusTooLarge:
			return &RunResult{Outcome: OutcomeTooLarge}, nil
		}

		delay = o.nextDelay(delay)
	}
}

func (o *Orchestrator) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > o.pollCap {
		delay = o.pollCap
	}
	return delay
}

func (o *Orchestrator) transition(ctx context.Context, job *domain.SyncJob, to domain.JobState) error {
	if err := job.Transition(to, o.now()); err != nil {
		return err
	}
	return o.jobs.UpdateJob(ctx, job)
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.SyncJob, reason string, cause error) (*RunResult, error) {
	return o.settle(ctx, job, domain.StateFailed, reason, cause)
}

func (o *Orchestrator) reject(ctx context.Context, job *domain.SyncJob, message string) (*RunResult, error) {
	var cause error
	if message != "" {
		cause = derrors.New(derrors.CodeBadRequest, message)
	}
	return o.settle(ctx, job, domain.StateRejected, domain.ReasonRejectedByService, cause)
}

func (o *Orchestrator) expire(ctx context.Context, job *domain.SyncJob, reason string) (*RunResult, error) {
	return o.settle(ctx, job, domain.StateExpired, reason, nil)
}

func (o *Orchestrator) settle(ctx context.Context, job *domain.SyncJob, state domain.JobState, reason string, cause error) (*RunResult, error) {
	job.FailureReason = reason
	if err := o.transition(ctx, job, state); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.SyncsFailed.WithLabelValues(reason).Inc()
	}
	attrs := []any{
		slog.String("job_id", job.ID.String()),
		slog.String("state", string(state)),
		slog.String("reason", reason),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	o.logger.Warn("sync job settled without results", attrs...)
	return &RunResult{Outcome: OutcomeFailed}, nil
}

// cancel records cancellation on a best-effort basis: the run context is
// already dead, so the write uses a short detached context.
func (o *Orchestrator) cancel(job *domain.SyncJob, cause error) (*RunResult, error) {
	wctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	job.FailureReason = domain.ReasonCancelled
	if err := job.Transition(domain.StateFailed, o.now()); err == nil {
		if uerr := o.jobs.UpdateJob(wctx, job); uerr != nil {
			o.logger.Error("record cancellation", slog.String("error", uerr.Error()))
		}
	}
	if o.metrics != nil {
		o.metrics.SyncsFailed.WithLabelValues(domain.ReasonCancelled).Inc()
	}
	return nil, cause
}
