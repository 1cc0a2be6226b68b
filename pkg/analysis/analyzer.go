// Package analysis runs the per-version and full-package pipelines: registry
// integrity, install-script capabilities, and entropy scanning, plus commit
// extraction for contributor profiling.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deptex/watchtower/pkg/constants"
	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/profile"
	"github.com/deptex/watchtower/pkg/registry"
	"github.com/deptex/watchtower/pkg/storage"
)

var log = logger.New("watchtower:analysis")

// VersionResult is the outcome of a single-version analysis. TmpDir is set on
// every path, including failures, so the caller can always clean up; the
// analyzer never removes its own temp directory.
type VersionResult struct {
	Success bool
	Data    *storage.AnalysisResults
	Error   string
	TmpDir  string
}

// PackageResult is the outcome of a full-package analysis: the latest
// version's checks plus commit history, contributor baselines, and anomalies
type PackageResult struct {
	Success       bool
	Data          *storage.AnalysisResults
	Error         string
	LatestVersion string
	Commits       []storage.Commit
	Contributors  []storage.ContributorProfile
	Anomalies     []storage.Anomaly
	TmpDir        string
}

// Analyzer runs the analysis pipelines against one npm registry
type Analyzer struct {
	registry *registry.Client
}

// New creates an Analyzer over the given registry client
func New(registryClient *registry.Client) *Analyzer {
	return &Analyzer{registry: registryClient}
}

// CleanupTempDir removes an analysis temp directory. It is idempotent and
// safe on an empty path.
func CleanupTempDir(tmpDir string) {
	if tmpDir == "" {
		return
	}
	if err := os.RemoveAll(tmpDir); err != nil {
		log.Warnf("failed to remove temp dir %s: %v", tmpDir, err)
	}
}

// AnalyzePackageVersion runs the three per-version checks against one
// published version
func (a *Analyzer) AnalyzePackageVersion(ctx context.Context, name, version string) *VersionResult {
	tmpDir, err := os.MkdirTemp("", "watchtower-analysis-")
	if err != nil {
		return &VersionResult{Error: fmt.Sprintf("failed to create temp dir: %v", err)}
	}

	result := &VersionResult{TmpDir: tmpDir}

	meta, err := a.registry.VersionMeta(ctx, name, version)
	if err != nil {
		result.Error = fmt.Sprintf("failed to fetch %s@%s metadata: %v", name, version, err)
		return result
	}
	if meta.Dist.Tarball == "" {
		result.Error = fmt.Sprintf("no published artifact for %s@%s", name, version)
		return result
	}

	npmDir := filepath.Join(tmpDir, "npm")
	if err := a.registry.DownloadTarball(ctx, meta.Dist.Tarball, npmDir); err != nil {
		result.Error = fmt.Sprintf("failed to download %s@%s: %v", name, version, err)
		return result
	}

	result.Data = a.runChecks(ctx, tmpDir, npmDir, version, meta)
	result.Success = true
	return result
}

// runChecks executes the three sub-checks over an extracted artifact
func (a *Analyzer) runChecks(ctx context.Context, tmpDir, npmDir, version string, meta *registry.VersionMeta) *storage.AnalysisResults {
	integrity, integrityDetails := checkRegistryIntegrity(ctx, tmpDir, npmDir, version, meta)

	scripts := meta.Scripts
	if packaged := readPackageScripts(npmDir); packaged != nil {
		// The artifact's own package.json is authoritative; registry
		// metadata can lag what was actually published.
		scripts = packaged
	}
	installScripts, scriptDetails := checkInstallScripts(scripts)

	entropy, entropyDetails := checkEntropy(npmDir)

	log.Printf("Checks for %s@%s: integrity=%s scripts=%s entropy=%s",
		meta.Name, version, integrity.Status, installScripts.Status, entropy.Status)

	return &storage.AnalysisResults{
		RegistryIntegrity: integrity,
		InstallScripts:    installScripts,
		Entropy:           entropy,
		Data: &storage.AnalysisData{
			Integrity: integrityDetails,
			Scripts:   scriptDetails,
			Entropy:   entropyDetails,
		},
	}
}

// AnalyzePackage runs the full pipeline for the latest version of a package:
// the three checks plus deep history extraction, contributor profiling, and
// anomaly scoring
func (a *Analyzer) AnalyzePackage(ctx context.Context, name string) *PackageResult {
	tmpDir, err := os.MkdirTemp("", "watchtower-analysis-")
	if err != nil {
		return &PackageResult{Error: fmt.Sprintf("failed to create temp dir: %v", err)}
	}

	result := &PackageResult{TmpDir: tmpDir}

	doc, err := a.registry.Packument(ctx, name)
	if err != nil {
		result.Error = fmt.Sprintf("failed to fetch packument for %s: %v", name, err)
		return result
	}

	latest := doc.DistTags["latest"]
	if latest == "" {
		result.Error = fmt.Sprintf("no latest dist-tag for %s", name)
		return result
	}
	result.LatestVersion = latest

	meta, ok := doc.Versions[latest]
	if !ok {
		result.Error = fmt.Sprintf("packument for %s missing latest version %s", name, latest)
		return result
	}
	if meta.Dist.Tarball == "" {
		result.Error = fmt.Sprintf("no published artifact for %s@%s", name, latest)
		return result
	}

	npmDir := filepath.Join(tmpDir, "npm")
	if err := a.registry.DownloadTarball(ctx, meta.Dist.Tarball, npmDir); err != nil {
		result.Error = fmt.Sprintf("failed to download %s@%s: %v", name, latest, err)
		return result
	}

	result.Data = a.runChecks(ctx, tmpDir, npmDir, latest, &meta)

	// Deep history for profiling. A package without a resolvable source
	// repository still gets its three checks; profiling is simply skipped.
	if meta.Repository.URL != "" {
		if sourceURL, err := CanonicalSourceURL(meta.Repository.URL); err == nil {
			historyDir := filepath.Join(tmpDir, "history")
			if err := cloneWithHistory(ctx, sourceURL, historyDir, constants.MaxCommitsExtracted); err != nil {
				log.Warnf("history clone failed for %s: %v", name, err)
			} else if commits, err := extractCommits(ctx, historyDir, constants.MaxCommitsExtracted); err != nil {
				log.Warnf("commit extraction failed for %s: %v", name, err)
			} else {
				result.Commits = commits
				result.Contributors = profile.BuildProfiles(commits)
				result.Anomalies = profile.ScoreCommits(commits, result.Contributors)
			}
		}
	}

	result.Success = true
	return result
}

// readPackageScripts reads the scripts block from an extracted artifact's
// package.json; nil when unavailable
func readPackageScripts(npmDir string) map[string]string {
	data, err := os.ReadFile(filepath.Join(npmDir, "package.json"))
	if err != nil {
		return nil
	}
	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	return manifest.Scripts
}
