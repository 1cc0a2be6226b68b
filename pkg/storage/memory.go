package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and local one-shot runs.
// It records the named operations it serves so tests can assert on the exact
// sequence of gateway calls.
type MemoryStore struct {
	mu sync.Mutex

	// Calls records "operation(arg, ...)" strings in invocation order
	Calls []string

	WatchedStatuses  map[string]WatchedPackageStatus
	WatchedErrors    map[string]string
	WatchedDeps      map[string]string // watched package id -> dependency id
	Versions         map[string]*AnalysisResults
	VersionErrors    map[string]string
	VersionRowIDs    map[string]string
	ProjectDepLinks  map[string]string
	Commits          map[string][]Commit
	Profiles         map[string][]ContributorProfile
	Anomalies        map[string][]Anomaly
	Candidates       map[string][]CandidateProject // keyed by dependency id
	CandidatesByName map[string][]CandidateProject
	LatestVersions   map[string]string
	LatestReleases   map[string]time.Time
	Watchlists       map[string]*WatchlistRow // keyed by org|dep
	Vulnerabilities  map[string][]Vulnerability
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		WatchedStatuses:  make(map[string]WatchedPackageStatus),
		WatchedErrors:    make(map[string]string),
		WatchedDeps:      make(map[string]string),
		Versions:         make(map[string]*AnalysisResults),
		VersionErrors:    make(map[string]string),
		VersionRowIDs:    make(map[string]string),
		ProjectDepLinks:  make(map[string]string),
		Commits:          make(map[string][]Commit),
		Profiles:         make(map[string][]ContributorProfile),
		Anomalies:        make(map[string][]Anomaly),
		Candidates:       make(map[string][]CandidateProject),
		CandidatesByName: make(map[string][]CandidateProject),
		LatestVersions:   make(map[string]string),
		LatestReleases:   make(map[string]time.Time),
		Watchlists:       make(map[string]*WatchlistRow),
		Vulnerabilities:  make(map[string][]Vulnerability),
	}
}

func versionKey(depID, version string) string {
	return depID + "@" + version
}

func watchlistKey(orgID, depID string) string {
	return orgID + "|" + depID
}

func (m *MemoryStore) record(format string, args ...any) {
	m.Calls = append(m.Calls, fmt.Sprintf(format, args...))
}

// CallsMatching returns the recorded calls that start with prefix
func (m *MemoryStore) CallsMatching(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []string
	for _, call := range m.Calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			matched = append(matched, call)
		}
	}
	return matched
}

// UpdateWatchedPackageStatus implements Store
func (m *MemoryStore) UpdateWatchedPackageStatus(ctx context.Context, watchedID string, status WatchedPackageStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateWatchedPackageStatus(%s, %s)", watchedID, status)
	m.WatchedStatuses[watchedID] = status
	m.WatchedErrors[watchedID] = errMsg
	return nil
}

// UpdateWatchedPackageResults implements Store
func (m *MemoryStore) UpdateWatchedPackageResults(ctx context.Context, watchedID, latestVersion string, results *AnalysisResults) error {
	m.mu.Lock()
	depID := m.WatchedDeps[watchedID]
	m.record("UpdateWatchedPackageResults(%s, %s)", watchedID, latestVersion)
	filled := withDerivedReasons(results)
	m.Versions[versionKey(depID, latestVersion)] = filled
	m.WatchedStatuses[watchedID] = StatusReady
	m.WatchedErrors[watchedID] = ""
	m.mu.Unlock()
	return nil
}

// UpsertDependencyVersionAnalysis implements Store
func (m *MemoryStore) UpsertDependencyVersionAnalysis(ctx context.Context, depID, version string, results *AnalysisResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpsertDependencyVersionAnalysis(%s, %s)", depID, version)
	m.Versions[versionKey(depID, version)] = withDerivedReasons(results)
	delete(m.VersionErrors, versionKey(depID, version))
	return nil
}

// UpdateDependencyVersionAnalysis implements Store
func (m *MemoryStore) UpdateDependencyVersionAnalysis(ctx context.Context, depID, version string, results *AnalysisResults) error {
	m.mu.Lock()
	m.record("UpdateDependencyVersionAnalysis(%s, %s)", depID, version)
	m.mu.Unlock()
	return m.UpsertDependencyVersionAnalysis(ctx, depID, version, results)
}

// SetDependencyVersionError implements Store
func (m *MemoryStore) SetDependencyVersionError(ctx context.Context, depID, version, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetDependencyVersionError(%s, %s, %s)", depID, version, message)
	m.VersionErrors[versionKey(depID, version)] = message
	return nil
}

// GetVersionsWithExistingAnalysis implements Store
func (m *MemoryStore) GetVersionsWithExistingAnalysis(ctx context.Context, depID string, versions []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetVersionsWithExistingAnalysis(%s)", depID)
	existing := make(map[string]bool)
	for _, v := range versions {
		if results, ok := m.Versions[versionKey(depID, v)]; ok && results.Complete() {
			existing[v] = true
		}
	}
	return existing, nil
}

// GetDependencyIDForWatchedPackage implements Store
func (m *MemoryStore) GetDependencyIDForWatchedPackage(ctx context.Context, watchedID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	depID, ok := m.WatchedDeps[watchedID]
	if !ok {
		return "", fmt.Errorf("unknown watched package %s", watchedID)
	}
	return depID, nil
}

// GetDependencyVersionRowID implements Store
func (m *MemoryStore) GetDependencyVersionRowID(ctx context.Context, depID, version string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.VersionRowIDs[versionKey(depID, version)]; ok {
		return id, nil
	}
	if _, ok := m.Versions[versionKey(depID, version)]; ok {
		id := "dv-" + versionKey(depID, version)
		m.VersionRowIDs[versionKey(depID, version)] = id
		return id, nil
	}
	return "", fmt.Errorf("no version row for %s@%s", depID, version)
}

// SetProjectDependencyVersionID implements Store
func (m *MemoryStore) SetProjectDependencyVersionID(ctx context.Context, projectDepID, versionRowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetProjectDependencyVersionID(%s, %s)", projectDepID, versionRowID)
	m.ProjectDepLinks[projectDepID] = versionRowID
	return nil
}

// StorePackageCommits implements Store
func (m *MemoryStore) StorePackageCommits(ctx context.Context, watchedID string, commits []Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("StorePackageCommits(%s, %d)", watchedID, len(commits))
	m.Commits[watchedID] = append([]Commit(nil), commits...)
	return nil
}

// StoreContributorProfiles implements Store
func (m *MemoryStore) StoreContributorProfiles(ctx context.Context, watchedID string, profiles []ContributorProfile) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("StoreContributorProfiles(%s, %d)", watchedID, len(profiles))
	m.Profiles[watchedID] = append([]ContributorProfile(nil), profiles...)
	ids := make(map[string]string, len(profiles))
	for _, p := range profiles {
		ids[p.AuthorEmail] = "contributor-" + p.AuthorEmail
	}
	return ids, nil
}

// StoreAnomalies implements Store
func (m *MemoryStore) StoreAnomalies(ctx context.Context, watchedID string, anomalies []Anomaly, contributorIDs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("StoreAnomalies(%s, %d)", watchedID, len(anomalies))
	var kept []Anomaly
	for _, a := range anomalies {
		if _, ok := contributorIDs[a.AuthorEmail]; ok {
			kept = append(kept, a)
		}
	}
	m.Anomalies[watchedID] = kept
	return nil
}

// GetCandidateProjectsForAutoBump implements Store
func (m *MemoryStore) GetCandidateProjectsForAutoBump(ctx context.Context, depID, name string) ([]CandidateProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetCandidateProjectsForAutoBump(%s, %s)", depID, name)
	if candidates, ok := m.Candidates[depID]; ok && len(candidates) > 0 {
		return append([]CandidateProject(nil), candidates...), nil
	}
	return append([]CandidateProject(nil), m.CandidatesByName[name]...), nil
}

// GetDependencyLatestVersion implements Store
func (m *MemoryStore) GetDependencyLatestVersion(ctx context.Context, depID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetDependencyLatestVersion(%s)", depID)
	return m.LatestVersions[depID], nil
}

// GetDependencyLatestReleaseDate implements Store
func (m *MemoryStore) GetDependencyLatestReleaseDate(ctx context.Context, depID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.LatestReleases[depID]; ok {
		return &t, nil
	}
	return nil, nil
}

// GetWatchlistRow implements Store
func (m *MemoryStore) GetWatchlistRow(ctx context.Context, orgID, depID string) (*WatchlistRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetWatchlistRow(%s, %s)", orgID, depID)
	row, ok := m.Watchlists[watchlistKey(orgID, depID)]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

// UpdateWatchlistQuarantineNextRelease implements Store
func (m *MemoryStore) UpdateWatchlistQuarantineNextRelease(ctx context.Context, watchlistID string, quarantineUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateWatchlistQuarantineNextRelease(%s, %s)", watchlistID, quarantineUntil.UTC().Format(time.RFC3339))
	for _, row := range m.Watchlists {
		if row.ID == watchlistID {
			row.QuarantineNextRelease = false
			row.IsCurrentVersionQuarantined = true
			t := quarantineUntil
			row.QuarantineUntil = &t
		}
	}
	return nil
}

// UpdateWatchlistClearQuarantineAndSetLatest implements Store
func (m *MemoryStore) UpdateWatchlistClearQuarantineAndSetLatest(ctx context.Context, watchlistID, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateWatchlistClearQuarantineAndSetLatest(%s, %s)", watchlistID, version)
	for _, row := range m.Watchlists {
		if row.ID == watchlistID {
			row.IsCurrentVersionQuarantined = false
			row.QuarantineUntil = nil
			row.LatestAllowedVersion = version
		}
	}
	return nil
}

// UpdateWatchlistSetLatestAllowed implements Store
func (m *MemoryStore) UpdateWatchlistSetLatestAllowed(ctx context.Context, watchlistID, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateWatchlistSetLatestAllowed(%s, %s)", watchlistID, version)
	for _, row := range m.Watchlists {
		if row.ID == watchlistID {
			row.LatestAllowedVersion = version
		}
	}
	return nil
}

// GetDependencyVulnerabilities implements Store
func (m *MemoryStore) GetDependencyVulnerabilities(ctx context.Context, depID string) ([]Vulnerability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetDependencyVulnerabilities(%s)", depID)
	return append([]Vulnerability(nil), m.Vulnerabilities[depID]...), nil
}

// SortedVersionKeys returns the stored version keys in order, for tests
func (m *MemoryStore) SortedVersionKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.Versions))
	for k := range m.Versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
