// Package worker runs the Watchtower dispatcher: a single cooperative loop
// that polls three queues in strict priority order and drives the analysis,
// profiling, and auto-bump pipelines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/deptex/watchtower/pkg/analysis"
	"github.com/deptex/watchtower/pkg/autobump"
	"github.com/deptex/watchtower/pkg/config"
	"github.com/deptex/watchtower/pkg/console"
	"github.com/deptex/watchtower/pkg/constants"
	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/queue"
	"github.com/deptex/watchtower/pkg/registry"
	"github.com/deptex/watchtower/pkg/storage"
)

var log = logger.New("watchtower:worker")

// Queue is the transport slice the dispatcher needs
type Queue interface {
	Pop(ctx context.Context, name string) (payload string, ok bool, err error)
	Push(ctx context.Context, name string, job any) error
}

// Analyzer is the analysis slice the dispatcher needs
type Analyzer interface {
	AnalyzePackage(ctx context.Context, name string) *analysis.PackageResult
	AnalyzePackageVersion(ctx context.Context, name, version string) *analysis.VersionResult
}

// NewVersionProcessor handles new_version and quarantine_expired jobs
type NewVersionProcessor interface {
	ProcessNewVersionJob(ctx context.Context, job *queue.NewVersionJob) autobump.Result
}

// PackumentFetcher resolves a package's version history for backfill
// selection
type PackumentFetcher interface {
	Packument(ctx context.Context, name string) (*registry.Packument, error)
}

// Dispatcher is the job loop. One job is decoded and executed at a time; at
// most one analysis temp tree is alive per in-flight job.
type Dispatcher struct {
	cfg          *config.Config
	queues       Queue
	store        storage.Store
	analyzer     Analyzer
	orchestrator NewVersionProcessor
	packuments   PackumentFetcher

	// sleep is injectable for tests
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Dispatcher
func New(cfg *config.Config, queues Queue, store storage.Store, analyzer Analyzer, orchestrator NewVersionProcessor, packuments PackumentFetcher) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		queues:       queues,
		store:        store,
		analyzer:     analyzer,
		orchestrator: orchestrator,
		packuments:   packuments,
		sleep:        sleepCtx,
	}
}

// sleepCtx sleeps for d or until the context ends
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Run polls until the context ends. The in-flight job always completes; a
// termination signal only stops new pops.
func (d *Dispatcher) Run(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, console.FormatInfoMessage(fmt.Sprintf(
		"Watchtower worker polling %s > %s > %s",
		d.cfg.NewVersionQueueName, d.cfg.QueueName, d.cfg.BatchQueueName)))

	for {
		if err := ctx.Err(); err != nil {
			log.Print("Dispatcher stopping: context done")
			return nil
		}

		processed, err := d.pollOnce(ctx)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			fmt.Fprintln(os.Stderr, console.FormatWarningMessage(fmt.Sprintf("queue transport error: %v", err)))
			d.sleep(ctx, constants.TransportBackoff)
		case !processed:
			d.sleep(ctx, constants.IdlePollInterval)
		}
	}
}

// pollOnce inspects the queues in priority order and processes at most one
// job. It reports whether a job was popped.
func (d *Dispatcher) pollOnce(ctx context.Context) (bool, error) {
	// Highest priority first; the next iteration re-checks from the top, so
	// lower-priority backlog never starves a fresh new-version event longer
	// than one job.
	for _, queueName := range []string{d.cfg.NewVersionQueueName, d.cfg.QueueName, d.cfg.BatchQueueName} {
		payload, ok, err := d.queues.Pop(ctx, queueName)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}

		// The job runs detached from cancellation so a termination signal
		// lets it finish; only the next pop observes the cancelled context.
		d.dispatch(context.WithoutCancel(ctx), queueName, payload)
		return true, nil
	}
	return false, nil
}

// dispatch decodes a payload and routes it to its handler. Decode failures
// are terminal for the job and never crash the loop.
func (d *Dispatcher) dispatch(ctx context.Context, queueName, payload string) {
	job, err := queue.Decode(payload)
	if err != nil {
		log.Errorf("dropping undecodable job from %s: %v", queueName, err)
		return
	}

	log.Printf("Dispatching %s job from %s", job.Kind(), queueName)
	switch j := job.(type) {
	case *queue.NewVersionJob:
		result := d.orchestrator.ProcessNewVersionJob(ctx, j)
		if !result.Success {
			log.Warnf("new-version job for %s failed: %s", j.Name, result.Error)
		}
	case *queue.WatchtowerJob:
		d.handleWatchtowerJob(ctx, j)
	case *queue.BatchVersionAnalysisJob:
		d.handleBatchJob(ctx, j)
	}
}
