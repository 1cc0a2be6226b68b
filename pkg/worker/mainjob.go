package worker

import (
	"context"
	"fmt"

	"github.com/deptex/watchtower/pkg/analysis"
	"github.com/deptex/watchtower/pkg/queue"
	"github.com/deptex/watchtower/pkg/storage"
)

// handleWatchtowerJob runs the full-package lifecycle: analyze, persist the
// verdict and profiling output, re-analyze the project's pinned version when
// it lags the latest, and enqueue previous versions for backfill. Any
// failure marks the watched package errored; the temp trees are removed on
// every path.
func (d *Dispatcher) handleWatchtowerJob(ctx context.Context, job *queue.WatchtowerJob) {
	if err := d.store.UpdateWatchedPackageStatus(ctx, job.WatchedPackageID, storage.StatusAnalyzing, ""); err != nil {
		log.Warnf("failed to mark %s analyzing: %v", job.WatchedPackageID, err)
	}

	result := d.analyzer.AnalyzePackage(ctx, job.PackageName)
	defer analysis.CleanupTempDir(result.TmpDir)

	if !result.Success {
		d.failWatchedPackage(ctx, job.WatchedPackageID, result.Error)
		return
	}

	if err := d.store.UpdateWatchedPackageResults(ctx, job.WatchedPackageID, result.LatestVersion, result.Data); err != nil {
		d.failWatchedPackage(ctx, job.WatchedPackageID, fmt.Sprintf("failed to persist results: %v", err))
		return
	}

	if err := d.persistProfiling(ctx, job.WatchedPackageID, result); err != nil {
		d.failWatchedPackage(ctx, job.WatchedPackageID, err.Error())
		return
	}

	if job.CurrentVersion != "" && job.CurrentVersion != result.LatestVersion {
		if err := d.analyzeCurrentVersion(ctx, job); err != nil {
			d.failWatchedPackage(ctx, job.WatchedPackageID, err.Error())
			return
		}
	}

	if err := d.enqueuePreviousVersions(ctx, job, result.LatestVersion); err != nil {
		d.failWatchedPackage(ctx, job.WatchedPackageID, err.Error())
		return
	}

	log.Printf("Completed full analysis of %s (latest %s)", job.PackageName, result.LatestVersion)
}

// failWatchedPackage records a terminal job failure on the watched package
func (d *Dispatcher) failWatchedPackage(ctx context.Context, watchedID, message string) {
	log.Errorf("watched package %s failed: %s", watchedID, message)
	if err := d.store.UpdateWatchedPackageStatus(ctx, watchedID, storage.StatusError, message); err != nil {
		log.Warnf("failed to record error status for %s: %v", watchedID, err)
	}
}

// persistProfiling stores commits, contributor profiles, and anomalies.
// Anomalies are joined through the stored email-to-id map; entries without a
// stored contributor are dropped by the gateway.
func (d *Dispatcher) persistProfiling(ctx context.Context, watchedID string, result *analysis.PackageResult) error {
	if err := d.store.StorePackageCommits(ctx, watchedID, result.Commits); err != nil {
		return fmt.Errorf("failed to store commits: %w", err)
	}

	contributorIDs, err := d.store.StoreContributorProfiles(ctx, watchedID, result.Contributors)
	if err != nil {
		return fmt.Errorf("failed to store contributor profiles: %w", err)
	}

	if err := d.store.StoreAnomalies(ctx, watchedID, result.Anomalies, contributorIDs); err != nil {
		return fmt.Errorf("failed to store anomalies: %w", err)
	}
	return nil
}

// analyzeCurrentVersion runs the second, version-scoped analysis for the
// project's pinned version and links the project dependency to the resulting
// row
func (d *Dispatcher) analyzeCurrentVersion(ctx context.Context, job *queue.WatchtowerJob) error {
	result := d.analyzer.AnalyzePackageVersion(ctx, job.PackageName, job.CurrentVersion)
	defer analysis.CleanupTempDir(result.TmpDir)

	depID, err := d.store.GetDependencyIDForWatchedPackage(ctx, job.WatchedPackageID)
	if err != nil {
		return fmt.Errorf("failed to resolve dependency: %w", err)
	}

	if !result.Success {
		if err := d.store.SetDependencyVersionError(ctx, depID, job.CurrentVersion, result.Error); err != nil {
			log.Warnf("failed to record version error for %s@%s: %v", job.PackageName, job.CurrentVersion, err)
		}
		// The latest-version analysis already succeeded; a failed
		// current-version pass is recorded on its row without failing the
		// package.
		return nil
	}

	if err := d.store.UpsertDependencyVersionAnalysis(ctx, depID, job.CurrentVersion, result.Data); err != nil {
		return fmt.Errorf("failed to persist current version analysis: %w", err)
	}

	rowID, err := d.store.GetDependencyVersionRowID(ctx, depID, job.CurrentVersion)
	if err != nil {
		return fmt.Errorf("failed to resolve version row: %w", err)
	}
	if err := d.store.SetProjectDependencyVersionID(ctx, job.ProjectDependencyID, rowID); err != nil {
		return fmt.Errorf("failed to link project dependency: %w", err)
	}
	return nil
}

// enqueuePreviousVersions selects up to the backfill cap of earlier releases
// and enqueues a single batch job for them
func (d *Dispatcher) enqueuePreviousVersions(ctx context.Context, job *queue.WatchtowerJob, latestVersion string) error {
	depID, err := d.store.GetDependencyIDForWatchedPackage(ctx, job.WatchedPackageID)
	if err != nil {
		return fmt.Errorf("failed to resolve dependency: %w", err)
	}

	doc, err := d.packuments.Packument(ctx, job.PackageName)
	if err != nil {
		return fmt.Errorf("failed to fetch version history: %w", err)
	}

	versions := selectPreviousVersions(doc, latestVersion, job.CurrentVersion)
	if len(versions) == 0 {
		log.Printf("No previous versions to backfill for %s", job.PackageName)
		return nil
	}

	batch := &queue.BatchVersionAnalysisJob{
		Type:         queue.TypeBatchVersionAnalysis,
		DependencyID: depID,
		PackageName:  job.PackageName,
		Versions:     versions,
	}
	if err := d.queues.Push(ctx, d.cfg.BatchQueueName, batch); err != nil {
		return fmt.Errorf("failed to enqueue batch job: %w", err)
	}
	log.Printf("Enqueued %d previous versions of %s for backfill", len(versions), job.PackageName)
	return nil
}
