// Package storage defines the Watchtower data model and the narrow gateway
// interface the worker uses to reach persistent state. Concrete backends
// (Postgres, the in-memory fake) live alongside the interface.
package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// WatchedPackageStatus is the lifecycle state of a watched package
type WatchedPackageStatus string

// Watched package lifecycle states, owned exclusively by the dispatcher
const (
	StatusPending   WatchedPackageStatus = "pending"
	StatusAnalyzing WatchedPackageStatus = "analyzing"
	StatusReady     WatchedPackageStatus = "ready"
	StatusError     WatchedPackageStatus = "error"
)

// CheckStatus is the verdict of a single per-version check
type CheckStatus string

// Per-check verdicts
const (
	CheckPass    CheckStatus = "pass"
	CheckWarning CheckStatus = "warning"
	CheckFail    CheckStatus = "fail"
)

// CheckResult pairs a verdict with its human-readable reason. The reason is
// advisory; no consumer parses it.
type CheckResult struct {
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// AnalysisResults is the verdict of the three per-version checks plus the
// structured detail blob persisted as analysis_data
type AnalysisResults struct {
	RegistryIntegrity CheckResult   `json:"registry_integrity"`
	InstallScripts    CheckResult   `json:"install_scripts"`
	Entropy           CheckResult   `json:"entropy_analysis"`
	Data              *AnalysisData `json:"analysis_data,omitempty"`
}

// HasFailure reports whether any of the three checks failed
func (r *AnalysisResults) HasFailure() bool {
	return r.RegistryIntegrity.Status == CheckFail ||
		r.InstallScripts.Status == CheckFail ||
		r.Entropy.Status == CheckFail
}

// Complete reports whether all three status fields are set. A dependency
// version row is complete iff this holds.
func (r *AnalysisResults) Complete() bool {
	return r.RegistryIntegrity.Status != "" &&
		r.InstallScripts.Status != "" &&
		r.Entropy.Status != ""
}

// AnalysisData is the structured per-version detail blob
type AnalysisData struct {
	Integrity *IntegrityDetails `json:"integrity,omitempty"`
	Scripts   *ScriptDetails    `json:"install_scripts,omitempty"`
	Entropy   *EntropyDetails   `json:"entropy,omitempty"`
}

// IntegrityDetails records the registry-vs-source comparison
type IntegrityDetails struct {
	SourceURL          string   `json:"source_url,omitempty"`
	ComparedTag        string   `json:"compared_tag,omitempty"`
	SuspiciousFiles    []string `json:"suspicious_files,omitempty"`
	BuildArtifactFiles []string `json:"build_artifact_files,omitempty"`
	ModifiedFiles      []string `json:"modified_files,omitempty"`
}

// ScriptDetails records the install-script capability scan
type ScriptDetails struct {
	Hooks             map[string]string `json:"hooks,omitempty"`
	NetworkPatterns   []string          `json:"network_patterns,omitempty"`
	ShellPatterns     []string          `json:"shell_patterns,omitempty"`
	DangerousPatterns []string          `json:"dangerous_patterns,omitempty"`
}

// EntropyDetails records the Shannon-entropy scan
type EntropyDetails struct {
	MaxEntropy       float64            `json:"max_entropy"`
	AvgEntropy       float64            `json:"avg_entropy"`
	FilesScanned     int                `json:"files_scanned"`
	HighEntropyFiles map[string]float64 `json:"high_entropy_files,omitempty"`
}

// Commit is one upstream commit of a watched package. AuthorEmail is
// normalized to lowercase. A zero Timestamp is the invalid-date sentinel;
// profiling skips it.
type Commit struct {
	SHA               string    `json:"sha"`
	AuthorName        string    `json:"author_name"`
	AuthorEmail       string    `json:"author_email"`
	Timestamp         time.Time `json:"timestamp"`
	Message           string    `json:"message"`
	LinesAdded        int       `json:"lines_added"`
	LinesDeleted      int       `json:"lines_deleted"`
	FilesChangedCount int       `json:"files_changed_count"`
	DiffData          DiffData  `json:"diff_data"`
}

// DiffData is the structured diff summary stored with each commit
type DiffData struct {
	FilesChanged []string `json:"filesChanged"`
}

// ContributorProfile is the per-contributor statistical baseline
type ContributorProfile struct {
	AuthorEmail         string         `json:"author_email"`
	CommitCount         int            `json:"commit_count"`
	AvgLinesAdded       float64        `json:"avg_lines_added"`
	StdDevLinesAdded    float64        `json:"stddev_lines_added"`
	AvgLinesDeleted     float64        `json:"avg_lines_deleted"`
	StdDevLinesDeleted  float64        `json:"stddev_lines_deleted"`
	AvgFilesChanged     float64        `json:"avg_files_changed"`
	StdDevFilesChanged  float64        `json:"stddev_files_changed"`
	AvgMessageLength    float64        `json:"avg_message_length"`
	StdDevMessageLength float64        `json:"stddev_message_length"`
	InsertToDeleteRatio float64        `json:"insert_to_delete_ratio"`
	CommitTimeHistogram map[string]int `json:"commit_time_histogram"`
	TypicalDaysActive   map[string]int `json:"typical_days_active"`
	CommitTimeHeatmap   [7][24]int     `json:"commit_time_heatmap"`
	FilesWorkedOn       map[string]int `json:"files_worked_on"`
	FirstCommitAt       time.Time      `json:"first_commit_at"`
	LastCommitAt        time.Time      `json:"last_commit_at"`
}

// AnomalyFactor is one contribution to a commit's anomaly score
type AnomalyFactor struct {
	Factor string `json:"factor"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// Anomaly is a commit flagged as deviating from its author's baseline.
// AuthorEmail is joined to a contributor id at persist time.
type Anomaly struct {
	CommitSHA   string          `json:"commit_sha"`
	AuthorEmail string          `json:"author_email"`
	Score       int             `json:"anomaly_score"`
	Factors     []AnomalyFactor `json:"factors"`
}

// WatchlistRow is the per-(organization, dependency) quarantine policy record
type WatchlistRow struct {
	ID                          string     `db:"id"`
	OrganizationID              string     `db:"organization_id"`
	DependencyID                string     `db:"dependency_id"`
	QuarantineNextRelease       bool       `db:"quarantine_next_release"`
	IsCurrentVersionQuarantined bool       `db:"is_current_version_quarantined"`
	QuarantineUntil             *time.Time `db:"quarantine_until"`
	LatestAllowedVersion        string     `db:"latest_allowed_version"`
}

// CandidateProject is a downstream project eligible for an auto-bump PR
type CandidateProject struct {
	ProjectID      string `db:"project_id"`
	OrganizationID string `db:"organization_id"`
	CurrentVersion string `db:"current_version"`
}

// Vulnerability is one advisory row for a dependency
type Vulnerability struct {
	OSVID         string
	Affected      *AffectedVersions
	FixedVersions []string
}

// AffectedVersions is the OSV-shaped affected set. A nil *AffectedVersions
// means universally affected.
type AffectedVersions struct {
	Entries []AffectedEntry
}

// AffectedEntry matches either an explicit version list or event ranges
type AffectedEntry struct {
	Versions []string       `json:"versions,omitempty"`
	Ranges   []VersionRange `json:"ranges,omitempty"`
}

// VersionRange is a sequence of introduced/fixed events
type VersionRange struct {
	Events []RangeEvent `json:"events"`
}

// RangeEvent is a single introduced or fixed marker
type RangeEvent struct {
	Introduced string `json:"introduced,omitempty"`
	Fixed      string `json:"fixed,omitempty"`
}

// UnmarshalJSON accepts the three stored shapes: null, a list of entries, or
// a single bare entry object.
func (a *AffectedVersions) UnmarshalJSON(data []byte) error {
	trimmed := string(data)
	if trimmed == "null" {
		a.Entries = nil
		return nil
	}

	var list []AffectedEntry
	if err := json.Unmarshal(data, &list); err == nil {
		a.Entries = list
		return nil
	}

	var single AffectedEntry
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("unrecognized affected_versions shape: %w", err)
	}
	a.Entries = []AffectedEntry{single}
	return nil
}

// MarshalJSON round-trips the list shape
func (a *AffectedVersions) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Entries)
}
