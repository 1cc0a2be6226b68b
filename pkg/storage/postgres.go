package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"

	"github.com/deptex/watchtower/pkg/logger"
)

var pgLog = logger.New("watchtower:storage")

// CacheInvalidator is the best-effort hook fired after a version upsert so a
// web tier can drop cached package views. Failures are logged, never
// surfaced.
type CacheInvalidator func(ctx context.Context, depID string) error

// Postgres is the sqlx-backed Store implementation
type Postgres struct {
	db         *sqlx.DB
	invalidate CacheInvalidator
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens the database and verifies connectivity
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing connection (used by tests)
func NewPostgresFromDB(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// SetCacheInvalidator installs the post-upsert hook
func (s *Postgres) SetCacheInvalidator(fn CacheInvalidator) {
	s.invalidate = fn
}

// Close releases the database handle
func (s *Postgres) Close() error {
	return s.db.Close()
}

// withRetry retries a write on transient connection failures
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether an error looks like a recoverable
// connection-level failure rather than a logic error
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// UpdateWatchedPackageStatus implements Store
func (s *Postgres) UpdateWatchedPackageStatus(ctx context.Context, watchedID string, status WatchedPackageStatus, errMsg string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE watched_packages
			SET status = $2, error_message = NULLIF($3, ''), updated_at = NOW()
			WHERE id = $1`,
			watchedID, string(status), errMsg)
		if err != nil {
			return fmt.Errorf("failed to update watched package %s status: %w", watchedID, err)
		}
		return nil
	})
}

// UpdateWatchedPackageResults implements Store
func (s *Postgres) UpdateWatchedPackageResults(ctx context.Context, watchedID, latestVersion string, results *AnalysisResults) error {
	depID, err := s.GetDependencyIDForWatchedPackage(ctx, watchedID)
	if err != nil {
		return err
	}
	if err := s.UpsertDependencyVersionAnalysis(ctx, depID, latestVersion, results); err != nil {
		return err
	}
	return s.UpdateWatchedPackageStatus(ctx, watchedID, StatusReady, "")
}

// UpsertDependencyVersionAnalysis implements Store
func (s *Postgres) UpsertDependencyVersionAnalysis(ctx context.Context, depID, version string, results *AnalysisResults) error {
	filled := withDerivedReasons(results)

	var data []byte
	if filled.Data != nil {
		data, _ = json.Marshal(filled.Data)
	}

	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO dependency_versions (
				id, dependency_id, version,
				registry_integrity_status, registry_integrity_reason,
				install_scripts_status, install_scripts_reason,
				entropy_analysis_status, entropy_analysis_reason,
				analysis_data, analyzed_at, error_message
			) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, NOW(), NULL)
			ON CONFLICT (dependency_id, version) DO UPDATE SET
				registry_integrity_status = EXCLUDED.registry_integrity_status,
				registry_integrity_reason = EXCLUDED.registry_integrity_reason,
				install_scripts_status = EXCLUDED.install_scripts_status,
				install_scripts_reason = EXCLUDED.install_scripts_reason,
				entropy_analysis_status = EXCLUDED.entropy_analysis_status,
				entropy_analysis_reason = EXCLUDED.entropy_analysis_reason,
				analysis_data = EXCLUDED.analysis_data,
				analyzed_at = NOW(),
				error_message = NULL,
				updated_at = NOW()`,
			uuid.NewString(), depID, version,
			string(filled.RegistryIntegrity.Status), filled.RegistryIntegrity.Reason,
			string(filled.InstallScripts.Status), filled.InstallScripts.Reason,
			string(filled.Entropy.Status), filled.Entropy.Reason,
			data)
		if err != nil {
			return fmt.Errorf("failed to upsert analysis for %s@%s: %w", depID, version, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.invalidate != nil {
		if err := s.invalidate(ctx, depID); err != nil {
			pgLog.Warnf("cache invalidation failed for %s: %v", depID, err)
		}
	}
	return nil
}

// UpdateDependencyVersionAnalysis implements Store
func (s *Postgres) UpdateDependencyVersionAnalysis(ctx context.Context, depID, version string, results *AnalysisResults) error {
	return s.UpsertDependencyVersionAnalysis(ctx, depID, version, results)
}

// SetDependencyVersionError implements Store
func (s *Postgres) SetDependencyVersionError(ctx context.Context, depID, version, message string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO dependency_versions (id, dependency_id, version, error_message, analyzed_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (dependency_id, version) DO UPDATE SET
				error_message = EXCLUDED.error_message,
				updated_at = NOW()`,
			uuid.NewString(), depID, version, message)
		if err != nil {
			return fmt.Errorf("failed to record analysis error for %s@%s: %w", depID, version, err)
		}
		return nil
	})
}

// GetVersionsWithExistingAnalysis implements Store
func (s *Postgres) GetVersionsWithExistingAnalysis(ctx context.Context, depID string, versions []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(versions) == 0 {
		return existing, nil
	}

	query, args, err := sqlx.In(`
		SELECT version FROM dependency_versions
		WHERE dependency_id = ? AND version IN (?)
		  AND registry_integrity_status IS NOT NULL
		  AND install_scripts_status IS NOT NULL
		  AND entropy_analysis_status IS NOT NULL`,
		depID, versions)
	if err != nil {
		return nil, fmt.Errorf("failed to build version query: %w", err)
	}

	var found []string
	if err := s.db.SelectContext(ctx, &found, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query analyzed versions for %s: %w", depID, err)
	}
	for _, v := range found {
		existing[v] = true
	}
	return existing, nil
}

// GetDependencyIDForWatchedPackage implements Store
func (s *Postgres) GetDependencyIDForWatchedPackage(ctx context.Context, watchedID string) (string, error) {
	var depID string
	err := s.db.GetContext(ctx, &depID, `SELECT dependency_id FROM watched_packages WHERE id = $1`, watchedID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve dependency for watched package %s: %w", watchedID, err)
	}
	return depID, nil
}

// GetDependencyVersionRowID implements Store
func (s *Postgres) GetDependencyVersionRowID(ctx context.Context, depID, version string) (string, error) {
	var rowID string
	err := s.db.GetContext(ctx, &rowID, `SELECT id FROM dependency_versions WHERE dependency_id = $1 AND version = $2`, depID, version)
	if err != nil {
		return "", fmt.Errorf("failed to resolve version row %s@%s: %w", depID, version, err)
	}
	return rowID, nil
}

// SetProjectDependencyVersionID implements Store
func (s *Postgres) SetProjectDependencyVersionID(ctx context.Context, projectDepID, versionRowID string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE project_dependencies SET dependency_version_id = $2, updated_at = NOW() WHERE id = $1`,
			projectDepID, versionRowID)
		if err != nil {
			return fmt.Errorf("failed to link project dependency %s: %w", projectDepID, err)
		}
		return nil
	})
}

// StorePackageCommits implements Store
func (s *Postgres) StorePackageCommits(ctx context.Context, watchedID string, commits []Commit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM package_commits WHERE watched_package_id = $1`, watchedID); err != nil {
		return fmt.Errorf("failed to clear commits for %s: %w", watchedID, err)
	}

	var newest *Commit
	for i := range commits {
		c := &commits[i]
		diffData, _ := json.Marshal(c.DiffData)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO package_commits (
				id, watched_package_id, sha, author_name, author_email,
				committed_at, message, lines_added, lines_deleted,
				files_changed_count, diff_data
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			uuid.NewString(), watchedID, c.SHA, c.AuthorName, c.AuthorEmail,
			c.Timestamp, c.Message, c.LinesAdded, c.LinesDeleted,
			c.FilesChangedCount, diffData); err != nil {
			return fmt.Errorf("failed to insert commit %s: %w", c.SHA, err)
		}
		if newest == nil || c.Timestamp.After(newest.Timestamp) {
			newest = c
		}
	}

	if newest != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE watched_packages SET last_known_commit_sha = $2, updated_at = NOW() WHERE id = $1`,
			watchedID, newest.SHA); err != nil {
			return fmt.Errorf("failed to record last known commit for %s: %w", watchedID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit commit batch for %s: %w", watchedID, err)
	}
	return nil
}

// StoreContributorProfiles implements Store
func (s *Postgres) StoreContributorProfiles(ctx context.Context, watchedID string, profiles []ContributorProfile) (map[string]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin profile transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contributor_profiles WHERE watched_package_id = $1`, watchedID); err != nil {
		return nil, fmt.Errorf("failed to clear profiles for %s: %w", watchedID, err)
	}

	ids := make(map[string]string, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		id := uuid.NewString()

		histogram, _ := json.Marshal(p.CommitTimeHistogram)
		days, _ := json.Marshal(p.TypicalDaysActive)
		heatmap, _ := json.Marshal(p.CommitTimeHeatmap)
		files, _ := json.Marshal(p.FilesWorkedOn)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contributor_profiles (
				id, watched_package_id, author_email, commit_count,
				avg_lines_added, stddev_lines_added,
				avg_lines_deleted, stddev_lines_deleted,
				avg_files_changed, stddev_files_changed,
				avg_message_length, stddev_message_length,
				insert_to_delete_ratio,
				commit_time_histogram, typical_days_active, commit_time_heatmap,
				files_worked_on, first_commit_at, last_commit_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			id, watchedID, p.AuthorEmail, p.CommitCount,
			p.AvgLinesAdded, p.StdDevLinesAdded,
			p.AvgLinesDeleted, p.StdDevLinesDeleted,
			p.AvgFilesChanged, p.StdDevFilesChanged,
			p.AvgMessageLength, p.StdDevMessageLength,
			p.InsertToDeleteRatio,
			histogram, days, heatmap,
			files, p.FirstCommitAt, p.LastCommitAt); err != nil {
			return nil, fmt.Errorf("failed to insert profile for %s: %w", p.AuthorEmail, err)
		}
		ids[p.AuthorEmail] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit profiles for %s: %w", watchedID, err)
	}
	return ids, nil
}

// StoreAnomalies implements Store
func (s *Postgres) StoreAnomalies(ctx context.Context, watchedID string, anomalies []Anomaly, contributorIDs map[string]string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin anomaly transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range anomalies {
		a := &anomalies[i]
		contributorID, ok := contributorIDs[a.AuthorEmail]
		if !ok {
			pgLog.Warnf("dropping anomaly for %s on commit %s: no stored contributor", a.AuthorEmail, a.CommitSHA)
			continue
		}

		factors, _ := json.Marshal(a.Factors)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO anomalies (
				id, watched_package_id, commit_sha, contributor_id,
				anomaly_score, factors
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), watchedID, a.CommitSHA, contributorID, a.Score, factors); err != nil {
			return fmt.Errorf("failed to insert anomaly for commit %s: %w", a.CommitSHA, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit anomalies for %s: %w", watchedID, err)
	}
	return nil
}

const candidateSelect = `
	SELECT pd.project_id, p.organization_id, pd.version AS current_version
	FROM project_dependencies pd
	JOIN projects p ON p.id = pd.project_id
	WHERE %s
	  AND pd.is_direct = TRUE
	  AND pd.source IN ('dependencies', 'devDependencies')
	  AND pd.files_importing_count > 0
	  AND (p.auto_bump IS NULL OR p.auto_bump = TRUE)
	  AND NOT EXISTS (
		SELECT 1 FROM dependency_prs pr
		WHERE pr.project_id = pd.project_id
		  AND pr.dependency_id = pd.dependency_id
		  AND pr.pr_type = 'remove'
		  AND pr.status = 'open'
	  )`

// GetCandidateProjectsForAutoBump implements Store
func (s *Postgres) GetCandidateProjectsForAutoBump(ctx context.Context, depID, name string) ([]CandidateProject, error) {
	var candidates []CandidateProject
	query := fmt.Sprintf(candidateSelect, "pd.dependency_id = $1")
	if err := s.db.SelectContext(ctx, &candidates, query, depID); err != nil {
		return nil, fmt.Errorf("failed to enumerate candidates for %s: %w", depID, err)
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	// Legacy rows predate dependency_id linkage and only carry the package
	// name.
	query = fmt.Sprintf(candidateSelect, "pd.name = $1")
	if err := s.db.SelectContext(ctx, &candidates, query, name); err != nil {
		return nil, fmt.Errorf("failed to enumerate candidates by name %s: %w", name, err)
	}
	return candidates, nil
}

// GetDependencyLatestVersion implements Store
func (s *Postgres) GetDependencyLatestVersion(ctx context.Context, depID string) (string, error) {
	var latest sql.NullString
	err := s.db.GetContext(ctx, &latest, `SELECT latest_version FROM dependencies WHERE id = $1`, depID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest version for %s: %w", depID, err)
	}
	return latest.String, nil
}

// GetDependencyLatestReleaseDate implements Store
func (s *Postgres) GetDependencyLatestReleaseDate(ctx context.Context, depID string) (*time.Time, error) {
	var released sql.NullTime
	err := s.db.GetContext(ctx, &released, `SELECT latest_release_date FROM dependencies WHERE id = $1`, depID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest release date for %s: %w", depID, err)
	}
	if !released.Valid {
		return nil, nil
	}
	return &released.Time, nil
}

// GetWatchlistRow implements Store
func (s *Postgres) GetWatchlistRow(ctx context.Context, orgID, depID string) (*WatchlistRow, error) {
	var row struct {
		ID                          string         `db:"id"`
		OrganizationID              string         `db:"organization_id"`
		DependencyID                string         `db:"dependency_id"`
		QuarantineNextRelease       bool           `db:"quarantine_next_release"`
		IsCurrentVersionQuarantined bool           `db:"is_current_version_quarantined"`
		QuarantineUntil             sql.NullTime   `db:"quarantine_until"`
		LatestAllowedVersion        sql.NullString `db:"latest_allowed_version"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, organization_id, dependency_id, quarantine_next_release,
		       is_current_version_quarantined, quarantine_until, latest_allowed_version
		FROM organization_watchlists
		WHERE organization_id = $1 AND dependency_id = $2`,
		orgID, depID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist row (%s, %s): %w", orgID, depID, err)
	}

	result := &WatchlistRow{
		ID:                          row.ID,
		OrganizationID:              row.OrganizationID,
		DependencyID:                row.DependencyID,
		QuarantineNextRelease:       row.QuarantineNextRelease,
		IsCurrentVersionQuarantined: row.IsCurrentVersionQuarantined,
		LatestAllowedVersion:        row.LatestAllowedVersion.String,
	}
	if row.QuarantineUntil.Valid {
		t := row.QuarantineUntil.Time
		result.QuarantineUntil = &t
	}
	return result, nil
}

// UpdateWatchlistQuarantineNextRelease implements Store
func (s *Postgres) UpdateWatchlistQuarantineNextRelease(ctx context.Context, watchlistID string, quarantineUntil time.Time) error {
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE organization_watchlists
			SET quarantine_next_release = FALSE,
			    is_current_version_quarantined = TRUE,
			    quarantine_until = $2,
			    updated_at = NOW()
			WHERE id = $1`,
			watchlistID, quarantineUntil)
		if err != nil {
			return fmt.Errorf("failed to quarantine next release on watchlist %s: %w", watchlistID, err)
		}
		return nil
	})
}

// UpdateWatchlistClearQuarantineAndSetLatest implements Store
func (s *Postgres) UpdateWatchlistClearQuarantineAndSetLatest(ctx context.Context, watchlistID, version string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE organization_watchlists
			SET is_current_version_quarantined = FALSE,
			    quarantine_until = NULL,
			    latest_allowed_version = $2,
			    updated_at = NOW()
			WHERE id = $1`,
			watchlistID, version)
		if err != nil {
			return fmt.Errorf("failed to clear quarantine on watchlist %s: %w", watchlistID, err)
		}
		return nil
	})
}

// UpdateWatchlistSetLatestAllowed implements Store
func (s *Postgres) UpdateWatchlistSetLatestAllowed(ctx context.Context, watchlistID, version string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE organization_watchlists
			SET latest_allowed_version = $2, updated_at = NOW()
			WHERE id = $1`,
			watchlistID, version)
		if err != nil {
			return fmt.Errorf("failed to set latest allowed on watchlist %s: %w", watchlistID, err)
		}
		return nil
	})
}

// GetDependencyVulnerabilities implements Store
func (s *Postgres) GetDependencyVulnerabilities(ctx context.Context, depID string) ([]Vulnerability, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT osv_id, affected_versions, fixed_versions
		FROM vulnerabilities
		WHERE dependency_id = $1`,
		depID)
	if err != nil {
		return nil, fmt.Errorf("failed to read vulnerabilities for %s: %w", depID, err)
	}
	defer rows.Close()

	var vulns []Vulnerability
	for rows.Next() {
		var (
			osvID       string
			affectedRaw []byte
			fixedRaw    []byte
		)
		if err := rows.Scan(&osvID, &affectedRaw, &fixedRaw); err != nil {
			return nil, fmt.Errorf("failed to scan vulnerability row: %w", err)
		}

		vuln := Vulnerability{OSVID: osvID}
		if len(affectedRaw) > 0 && string(affectedRaw) != "null" {
			var affected AffectedVersions
			if err := json.Unmarshal(affectedRaw, &affected); err != nil {
				pgLog.Warnf("unreadable affected_versions on %s: %v", osvID, err)
			} else {
				vuln.Affected = &affected
			}
		}
		if len(fixedRaw) > 0 {
			if err := json.Unmarshal(fixedRaw, &vuln.FixedVersions); err != nil {
				pgLog.Warnf("unreadable fixed_versions on %s: %v", osvID, err)
			}
		}
		vulns = append(vulns, vuln)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vulnerabilities for %s: %w", depID, err)
	}
	return vulns, nil
}
