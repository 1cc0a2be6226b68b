package autobump

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deptex/watchtower/pkg/analysis"
	"github.com/deptex/watchtower/pkg/constants"
	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/queue"
	"github.com/deptex/watchtower/pkg/storage"
)

var log = logger.New("watchtower:autobump")

// knownPRServiceErrors are error strings the PR service returns for
// conditions that are expected and permanent for a given project
var knownPRServiceErrors = []string{
	"no GitHub App",
	"no GitHub repository",
	"dependency is transitive",
}

// VersionAnalyzer is the slice of the analysis pipeline the orchestrator
// needs
type VersionAnalyzer interface {
	AnalyzePackageVersion(ctx context.Context, name, version string) *analysis.VersionResult
}

// Result is the outcome of processing one new-version job
type Result struct {
	Success bool
	Error   string
}

// Orchestrator runs the auto-bump flow for new releases and expired
// quarantines
type Orchestrator struct {
	store    storage.Store
	analyzer VersionAnalyzer
	prs      PRClient

	// now and sleep are injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates an Orchestrator
func New(store storage.Store, analyzer VersionAnalyzer, prs PRClient) *Orchestrator {
	return &Orchestrator{
		store:    store,
		analyzer: analyzer,
		prs:      prs,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// sleepCtx sleeps for d or until the context ends
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// ProcessNewVersionJob handles a new_version or quarantine_expired job: gate
// the release through the three checks (new versions only), veto vulnerable
// targets, then run the watchlist state machine and PR dispatch.
func (o *Orchestrator) ProcessNewVersionJob(ctx context.Context, job *queue.NewVersionJob) Result {
	var (
		targetVersion     string
		latestReleaseDate *time.Time
	)

	switch job.Type {
	case queue.TypeNewVersion:
		if job.NewVersion == "" {
			return Result{Error: "Missing new_version"}
		}

		result := o.analyzer.AnalyzePackageVersion(ctx, job.Name, job.NewVersion)
		defer analysis.CleanupTempDir(result.TmpDir)

		if !result.Success {
			if err := o.store.SetDependencyVersionError(ctx, job.DependencyID, job.NewVersion, result.Error); err != nil {
				log.Warnf("failed to record analysis error for %s@%s: %v", job.Name, job.NewVersion, err)
			}
			return Result{Error: result.Error}
		}

		if result.Data.HasFailure() {
			msg := fmt.Sprintf("Checks failed: registry=%s scripts=%s entropy=%s",
				result.Data.RegistryIntegrity.Status,
				result.Data.InstallScripts.Status,
				result.Data.Entropy.Status)
			if err := o.store.SetDependencyVersionError(ctx, job.DependencyID, job.NewVersion, msg); err != nil {
				log.Warnf("failed to record check failure for %s@%s: %v", job.Name, job.NewVersion, err)
			}
			return Result{Error: msg}
		}

		if err := o.store.UpdateDependencyVersionAnalysis(ctx, job.DependencyID, job.NewVersion, result.Data); err != nil {
			return Result{Error: fmt.Sprintf("failed to persist analysis: %v", err)}
		}

		targetVersion = job.NewVersion
		if job.LatestReleaseDate != "" {
			if parsed, err := time.Parse(time.RFC3339, job.LatestReleaseDate); err == nil {
				latestReleaseDate = &parsed
			} else {
				log.Warnf("unparsable latest_release_date %q on %s", job.LatestReleaseDate, job.Name)
			}
		}

	case queue.TypeQuarantineExpired:
		latest, err := o.store.GetDependencyLatestVersion(ctx, job.DependencyID)
		if err != nil {
			return Result{Error: fmt.Sprintf("failed to read latest version: %v", err)}
		}
		if latest == "" {
			return Result{Error: "No latest_version"}
		}
		// The release was analyzed when it arrived; expiry only reopens the
		// bump window.
		targetVersion = latest
		released, err := o.store.GetDependencyLatestReleaseDate(ctx, job.DependencyID)
		if err != nil {
			log.Warnf("failed to read latest release date for %s: %v", job.Name, err)
		} else {
			latestReleaseDate = released
		}

	default:
		return Result{Error: fmt.Sprintf("unsupported job type %q", job.Type)}
	}

	vulnerable, err := o.isTargetVersionVulnerable(ctx, job.DependencyID, targetVersion)
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to check vulnerabilities: %v", err)}
	}
	if vulnerable {
		log.Warnf("skipping auto-bump for %s@%s: target version is vulnerable", job.Name, targetVersion)
		return Result{Success: true}
	}

	o.runAutoBumpPRLogic(ctx, job.DependencyID, job.Name, targetVersion, latestReleaseDate)
	return Result{Success: true}
}

// isTargetVersionVulnerable reports whether any advisory affects the target
// version without a fixed version at or below it
func (o *Orchestrator) isTargetVersionVulnerable(ctx context.Context, depID, targetVersion string) (bool, error) {
	vulns, err := o.store.GetDependencyVulnerabilities(ctx, depID)
	if err != nil {
		return false, err
	}
	for _, vuln := range vulns {
		if storage.IsVersionAffected(targetVersion, vuln.Affected) && !storage.IsVersionFixed(targetVersion, vuln.FixedVersions) {
			log.Printf("Target %s@%s matches advisory %s", depID, targetVersion, vuln.OSVID)
			return true, nil
		}
	}
	return false, nil
}

// runAutoBumpPRLogic walks every candidate project through the watchlist
// state machine and dispatches PRs. Candidates are isolated: one project's
// failure never affects another's.
func (o *Orchestrator) runAutoBumpPRLogic(ctx context.Context, depID, name, targetVersion string, latestReleaseDate *time.Time) {
	candidates, err := o.store.GetCandidateProjectsForAutoBump(ctx, depID, name)
	if err != nil {
		log.Warnf("failed to enumerate candidates for %s: %v", name, err)
		return
	}
	if len(candidates) == 0 {
		log.Printf("No auto-bump candidates for %s@%s", name, targetVersion)
		return
	}
	log.Printf("Processing %d auto-bump candidate(s) for %s@%s", len(candidates), name, targetVersion)

	for i, candidate := range candidates {
		o.processCandidate(ctx, candidate, depID, name, targetVersion, latestReleaseDate)
		if i < len(candidates)-1 {
			o.sleep(ctx, constants.CandidateDispatchDelay)
		}
	}
}

// processCandidate applies the state machine and dispatches at most one PR
// for one project
func (o *Orchestrator) processCandidate(ctx context.Context, candidate storage.CandidateProject, depID, name, targetVersion string, latestReleaseDate *time.Time) {
	watchlist, err := o.store.GetWatchlistRow(ctx, candidate.OrganizationID, depID)
	if err != nil {
		log.Warnf("failed to read watchlist for project %s: %v", candidate.ProjectID, err)
		return
	}

	now := o.now()
	quarantineUntil := now.Add(constants.QuarantineWindow)
	if latestReleaseDate != nil {
		quarantineUntil = latestReleaseDate.Add(constants.QuarantineWindow)
	}

	decision := DecideWatchlist(EvaluateWatchlist(watchlist, now))
	log.Printf("Project %s watchlist state %s: mutation=%d dispatch=%v",
		candidate.ProjectID, decision.State, decision.Mutation, decision.DispatchPR)

	switch decision.Mutation {
	case MutationQuarantineNextRelease:
		err = o.store.UpdateWatchlistQuarantineNextRelease(ctx, watchlist.ID, quarantineUntil)
	case MutationClearQuarantineAndSetLatest:
		err = o.store.UpdateWatchlistClearQuarantineAndSetLatest(ctx, watchlist.ID, targetVersion)
	case MutationSetLatestAllowed:
		err = o.store.UpdateWatchlistSetLatestAllowed(ctx, watchlist.ID, targetVersion)
	}
	if err != nil {
		log.Warnf("watchlist update failed for project %s: %v", candidate.ProjectID, err)
		return
	}

	if !decision.DispatchPR {
		return
	}

	result, err := o.prs.CreateBumpPR(ctx, candidate.OrganizationID, candidate.ProjectID, name, targetVersion, candidate.CurrentVersion)
	switch {
	case err != nil:
		log.Warnf("PR dispatch failed for project %s: %v", candidate.ProjectID, err)
	case result.Error != "":
		if isKnownPRServiceError(result.Error) {
			log.Warnf("PR skipped for project %s: %s", candidate.ProjectID, result.Error)
		} else {
			log.Warnf("PR service error for project %s: %s", candidate.ProjectID, result.Error)
		}
	case result.AlreadyExists:
		log.Printf("Bump PR already exists for project %s: %s", candidate.ProjectID, result.PRURL)
	default:
		log.Printf("Created bump PR #%d for project %s: %s", result.PRNumber, candidate.ProjectID, result.PRURL)
	}
}

// isKnownPRServiceError matches the service's expected permanent-condition
// error strings
func isKnownPRServiceError(message string) bool {
	for _, known := range knownPRServiceErrors {
		if strings.Contains(message, known) {
			return true
		}
	}
	return false
}
