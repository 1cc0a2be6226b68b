package worker

import (
	"context"

	"github.com/deptex/watchtower/pkg/analysis"
	"github.com/deptex/watchtower/pkg/queue"
)

// handleBatchJob backfills analysis for a version list, skipping versions
// whose rows are already complete. Per-version failures are recorded and do
// not abort the batch.
func (d *Dispatcher) handleBatchJob(ctx context.Context, job *queue.BatchVersionAnalysisJob) {
	existing, err := d.store.GetVersionsWithExistingAnalysis(ctx, job.DependencyID, job.Versions)
	if err != nil {
		log.Warnf("failed to query existing analyses for %s: %v", job.PackageName, err)
		existing = map[string]bool{}
	}

	analyzed := 0
	for _, version := range job.Versions {
		if existing[version] {
			log.Printf("Skipping %s@%s: already analyzed", job.PackageName, version)
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Warnf("batch for %s interrupted: %v", job.PackageName, err)
			return
		}

		d.analyzeBatchVersion(ctx, job, version)
		analyzed++
	}
	log.Printf("Batch for %s done: %d analyzed, %d skipped", job.PackageName, analyzed, len(job.Versions)-analyzed)
}

// analyzeBatchVersion runs one version's pipeline with scoped temp cleanup
func (d *Dispatcher) analyzeBatchVersion(ctx context.Context, job *queue.BatchVersionAnalysisJob, version string) {
	result := d.analyzer.AnalyzePackageVersion(ctx, job.PackageName, version)
	defer analysis.CleanupTempDir(result.TmpDir)

	if !result.Success {
		log.Warnf("batch analysis of %s@%s failed: %s", job.PackageName, version, result.Error)
		if err := d.store.SetDependencyVersionError(ctx, job.DependencyID, version, result.Error); err != nil {
			log.Warnf("failed to record version error for %s@%s: %v", job.PackageName, version, err)
		}
		return
	}

	if err := d.store.UpsertDependencyVersionAnalysis(ctx, job.DependencyID, version, result.Data); err != nil {
		log.Warnf("failed to persist batch analysis for %s@%s: %v", job.PackageName, version, err)
	}
}
