package storage

import (
	"context"
	"fmt"
	"time"
)

// Store is the narrow gateway to persistent state. Every operation is total:
// it returns a typed result or an error, and never panics across the
// boundary. Implementations must make the version upserts idempotent by
// (dependency_id, version).
type Store interface {
	// UpdateWatchedPackageStatus transitions a watched package's lifecycle
	// state; errMsg is recorded for StatusError and cleared otherwise
	UpdateWatchedPackageStatus(ctx context.Context, watchedID string, status WatchedPackageStatus, errMsg string) error

	// UpdateWatchedPackageResults upserts the latest-version dependency
	// version row for the watched package and sets its status to ready
	UpdateWatchedPackageResults(ctx context.Context, watchedID, latestVersion string, results *AnalysisResults) error

	// UpsertDependencyVersionAnalysis persists a per-version verdict,
	// idempotent by (dependency_id, version)
	UpsertDependencyVersionAnalysis(ctx context.Context, depID, version string, results *AnalysisResults) error

	// UpdateDependencyVersionAnalysis is the auto-bump path's name for the
	// same upsert
	UpdateDependencyVersionAnalysis(ctx context.Context, depID, version string, results *AnalysisResults) error

	// SetDependencyVersionError marks a version as failed without clobbering
	// prior check results
	SetDependencyVersionError(ctx context.Context, depID, version, message string) error

	// GetVersionsWithExistingAnalysis returns the subset of versions whose
	// rows already have all three status fields
	GetVersionsWithExistingAnalysis(ctx context.Context, depID string, versions []string) (map[string]bool, error)

	// GetDependencyIDForWatchedPackage resolves the dependency a watched
	// package points at
	GetDependencyIDForWatchedPackage(ctx context.Context, watchedID string) (string, error)

	// GetDependencyVersionRowID resolves the row id of a version record
	GetDependencyVersionRowID(ctx context.Context, depID, version string) (string, error)

	// SetProjectDependencyVersionID links a project dependency to a resolved
	// version row
	SetProjectDependencyVersionID(ctx context.Context, projectDepID, versionRowID string) error

	// StorePackageCommits replaces the commit set of a watched package and
	// records the newest commit sha as last_known_commit_sha
	StorePackageCommits(ctx context.Context, watchedID string, commits []Commit) error

	// StoreContributorProfiles replaces the contributor profiles and returns
	// the email-to-id map of the stored rows
	StoreContributorProfiles(ctx context.Context, watchedID string, profiles []ContributorProfile) (map[string]string, error)

	// StoreAnomalies persists anomalies, dropping entries whose contributor
	// id is missing from the map
	StoreAnomalies(ctx context.Context, watchedID string, anomalies []Anomaly, contributorIDs map[string]string) error

	// GetCandidateProjectsForAutoBump enumerates downstream projects eligible
	// for a bump PR: direct, prod/dev sourced, non-zombie, auto-bump not
	// opted out, no open removal PR. Falls back to name-based linkage when
	// the dependency id matches nothing.
	GetCandidateProjectsForAutoBump(ctx context.Context, depID, name string) ([]CandidateProject, error)

	// GetDependencyLatestVersion returns the recorded latest version, empty
	// when unknown
	GetDependencyLatestVersion(ctx context.Context, depID string) (string, error)

	// GetDependencyLatestReleaseDate returns the recorded latest release
	// date, nil when unknown
	GetDependencyLatestReleaseDate(ctx context.Context, depID string) (*time.Time, error)

	// GetWatchlistRow returns the watchlist row for (org, dependency), nil
	// when the org has no watchlist entry for it
	GetWatchlistRow(ctx context.Context, orgID, depID string) (*WatchlistRow, error)

	// UpdateWatchlistQuarantineNextRelease consumes the one-shot flag:
	// quarantine_next_release becomes false, the current version is marked
	// quarantined until the given time
	UpdateWatchlistQuarantineNextRelease(ctx context.Context, watchlistID string, quarantineUntil time.Time) error

	// UpdateWatchlistClearQuarantineAndSetLatest lifts an expired quarantine
	// and records the newly allowed version
	UpdateWatchlistClearQuarantineAndSetLatest(ctx context.Context, watchlistID, version string) error

	// UpdateWatchlistSetLatestAllowed records the newly allowed version on an
	// unquarantined row
	UpdateWatchlistSetLatestAllowed(ctx context.Context, watchlistID, version string) error

	// GetDependencyVulnerabilities returns the advisory rows for a dependency
	GetDependencyVulnerabilities(ctx context.Context, depID string) ([]Vulnerability, error)
}

// deriveReason fills a single-sentence reason for a non-pass check that
// arrived without one
func deriveReason(check string, result CheckResult) string {
	if result.Status == CheckPass || result.Reason != "" {
		return result.Reason
	}
	return fmt.Sprintf("%s check reported %s", check, result.Status)
}

// withDerivedReasons returns a copy of results with reason strings filled for
// every non-pass status
func withDerivedReasons(results *AnalysisResults) *AnalysisResults {
	filled := *results
	filled.RegistryIntegrity.Reason = deriveReason("registry integrity", results.RegistryIntegrity)
	filled.InstallScripts.Reason = deriveReason("install scripts", results.InstallScripts)
	filled.Entropy.Reason = deriveReason("entropy analysis", results.Entropy)
	return &filled
}
