// Package fetcher downloads result packages once a sync job reaches ready.
// Downloads are retried with capped exponential backoff; auth failures are
// surfaced immediately because retrying a revoked session cannot succeed.
package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"satsync/internal/domain"
	"satsync/internal/platform/metrics"
	"satsync/internal/satclient"
	"satsync/internal/store"
	derrors "satsync/pkg/domain-errors"
)

// Package is one downloaded, integrity-checked archive.
type Package struct {
	ID      string
	Archive []byte
}

type Fetcher struct {
	client      satclient.Client
	jobs        store.JobStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	retries     uint64
	backoffBase time.Duration
	backoffCap  time.Duration
	concurrency int
}

type Option func(*Fetcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

func WithRetries(n int) Option {
	return func(f *Fetcher) { f.retries = uint64(n) }
}

func WithBackoff(base, cap time.Duration) Option {
	return func(f *Fetcher) { f.backoffBase, f.backoffCap = base, cap }
}

func WithConcurrency(n int) Option {
	return func(f *Fetcher) { f.concurrency = n }
}

func New(client satclient.Client, jobs store.JobStore, logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      client,
		jobs:        jobs,
		logger:      logger,
		retries:     3,
		backoffBase: time.Second,
		backoffCap:  30 * time.Second,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll downloads every package of a ready job with bounded concurrency.
// Each package's lifecycle is recorded through the job store so a crashed run
// leaves an inspectable trail. Returns the successfully downloaded packages;
// the error is non-nil if any package exhausted its retries.
func (f *Fetcher) FetchAll(ctx context.Context, job *domain.SyncJob, packageIDs []string, holderRFC string) ([]Package, error) {
	results := make([]Package, len(packageIDs))
	failed := make([]bool, len(packageIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, id := range packageIDs {
		g.Go(func() error {
			pkg, err := f.fetchOne(gctx, job.ID, id, holderRFC)
			if err != nil {
				failed[i] = true
				if satclient.IsAuth(err) {
					// Cancels the group: sibling downloads share the session.
					return err
				}
				f.logger.Error("package download failed",
					slog.String("job_id", job.ID.String()),
					slog.String("package_id", id),
					slog.String("error", err.Error()))
				return nil
			}
			results[i] = pkg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Package
	var anyFailed bool
	for i := range results {
		if failed[i] {
			anyFailed = true
			continue
		}
		out = append(out, results[i])
	}
	if anyFailed {
		return out, derrors.New(derrors.CodeTransient, "one or more packages failed to download")
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, jobID domain.SyncJobID, packageID, holderRFC string) (Package, error) {
	ref := &domain.PackageRef{SyncJobID: jobID, PackageID: packageID, State: domain.PackagePending}
	if err := f.jobs.UpsertPackage(ctx, ref); err != nil {
		return Package{}, err
	}

	backoff := retry.WithMaxRetries(f.retries,
		retry.WithCappedDuration(f.backoffCap, retry.NewExponential(f.backoffBase)))

	var archive []byte
	var corrupt int
	start := time.Now()
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		data, err := f.client.Download(ctx, packageID, holderRFC)
		if err != nil {
			if satclient.IsAuth(err) {
				return err
			}
			// Throttling carries a service-dictated pause; wait it out here
			// instead of retrying on the exponential schedule.
			if rl, ok := satclient.AsRateLimit(err); ok && rl.RetryAfter > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(rl.RetryAfter):
				}
			}
			return retry.RetryableError(err)
		}
		// A truncated archive is treated like a failed transfer and downloaded
		// once more; a second corrupt copy is a terminal failure.
		if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
			corrupt++
			werr := derrors.Wrap(err, derrors.CodeProtocol, "package archive is not a valid zip")
			if corrupt > 1 {
				return werr
			}
			return retry.RetryableError(werr)
		}
		archive = data
		return nil
	})
	if err != nil {
		ref.State = domain.PackageFailed
		ref.Error = err.Error()
		if uerr := f.jobs.UpsertPackage(ctx, ref); uerr != nil {
			f.logger.Error("record package failure", slog.String("error", uerr.Error()))
		}
		if f.metrics != nil {
			f.metrics.PackagesFailed.Inc()
		}
		return Package{}, err
	}

	ref.State = domain.PackageDownloaded
	if err := f.jobs.UpsertPackage(ctx, ref); err != nil {
		return Package{}, err
	}
	if f.metrics != nil {
		f.metrics.PackagesFetched.Inc()
		f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}
	return Package{ID: packageID, Archive: archive}, nil
}
