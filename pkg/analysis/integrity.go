package analysis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/registry"
	"github.com/deptex/watchtower/pkg/storage"
)

var integrityLog = logger.New("watchtower:analysis:integrity")

// ignoredDiffNames are packaging and housekeeping entries excluded from the
// registry-vs-source comparison
var ignoredDiffNames = map[string]bool{
	".git":                true,
	".gitignore":          true,
	".gitattributes":      true,
	".npmignore":          true,
	".github":             true,
	".travis.yml":         true,
	".circleci":           true,
	"appveyor.yml":        true,
	"azure-pipelines.yml": true,
	"node_modules":        true,
	"package-lock.json":   true,
	"npm-shrinkwrap.json": true,
	"yarn.lock":           true,
	"pnpm-lock.yaml":      true,
}

// buildOutputPrefixes mark published-only paths that are expected bundler
// output rather than injected code
var buildOutputPrefixes = []string{"cjs/", "umd/", "esm/", "es/", "amd/"}

// buildOutputSuffixes mark published-only basenames that are expected
// compiled variants
var buildOutputSuffixes = []string{
	".development.js", ".production.js", ".production.min.js", ".profiling.js",
	".profiling.min.js", ".min.js", ".min.mjs", ".min.cjs", ".min.css",
	".js.map", ".min.js.map", ".d.ts", ".d.mts", ".d.cts",
}

// rootFileAllowlist are single-segment published-only files that bundlers and
// publishers legitimately synthesize
var rootFileAllowlist = map[string]bool{
	"index.js":           true,
	"index.mjs":          true,
	"index.cjs":          true,
	"jsx-runtime.js":     true,
	"jsx-dev-runtime.js": true,
	"LICENSE":            true,
	"LICENSE.md":         true,
	"LICENSE.txt":        true,
	"LICENCE":            true,
	"NOTICE":             true,
	"README":             true,
	"README.md":          true,
	"CHANGELOG.md":       true,
	"HISTORY.md":         true,
	"SECURITY.md":        true,
	"package.json":       true,
}

// checkRegistryIntegrity compares the published artifact against the tagged
// source tree. npmDir holds the extracted artifact; tmpDir hosts the clone.
func checkRegistryIntegrity(ctx context.Context, tmpDir, npmDir, version string, meta *registry.VersionMeta) (storage.CheckResult, *storage.IntegrityDetails) {
	if meta.Repository.URL == "" {
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: "no source repository URL in package metadata",
		}, nil
	}

	sourceURL, err := CanonicalSourceURL(meta.Repository.URL)
	if err != nil {
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: fmt.Sprintf("unresolvable repository URL %q", meta.Repository.URL),
		}, nil
	}

	details := &storage.IntegrityDetails{SourceURL: sourceURL}

	cloneDir := filepath.Join(tmpDir, "source")
	cloned := false
	for _, tag := range tagCandidates(version) {
		if err := cloneTag(ctx, sourceURL, tag, cloneDir); err != nil {
			integrityLog.Printf("Tag %s not cloneable from %s: %v", tag, sourceURL, err)
			continue
		}
		details.ComparedTag = tag
		cloned = true
		break
	}
	if !cloned {
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: fmt.Sprintf("no matching release tag for %s in %s", version, sourceURL),
		}, details
	}

	// Monorepos publish from a subdirectory
	compareDir := cloneDir
	usedDirectory := false
	if meta.Repository.Directory != "" {
		candidate := filepath.Join(cloneDir, filepath.FromSlash(meta.Repository.Directory))
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			compareDir = candidate
			usedDirectory = true
		}
	}

	diff, err := diffDirs(npmDir, compareDir, usedDirectory)
	if err != nil {
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: fmt.Sprintf("source comparison failed: %v", err),
		}, details
	}

	for _, path := range diff.onlyInPublished {
		if isBuildOutput(path) {
			details.BuildArtifactFiles = append(details.BuildArtifactFiles, path)
		} else {
			details.SuspiciousFiles = append(details.SuspiciousFiles, path)
		}
	}
	details.ModifiedFiles = diff.modified

	switch {
	case len(details.SuspiciousFiles) > 0:
		return storage.CheckResult{
			Status: storage.CheckFail,
			Reason: fmt.Sprintf("published artifact contains %d file(s) absent from source, e.g. %s",
				len(details.SuspiciousFiles), details.SuspiciousFiles[0]),
		}, details
	case len(details.BuildArtifactFiles) > 0 || len(details.ModifiedFiles) > 0:
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: fmt.Sprintf("published artifact diverges from source (%d build artifact(s), %d modified file(s))",
				len(details.BuildArtifactFiles), len(details.ModifiedFiles)),
		}, details
	default:
		return storage.CheckResult{Status: storage.CheckPass}, details
	}
}

// dirDiff is the comparison outcome between artifact and source trees
type dirDiff struct {
	onlyInPublished []string
	modified        []string
}

// diffDirs compares the two trees by relative path, ignoring packaging and
// housekeeping entries. Files only in the source are legitimate subset
// publishing and not reported. dist and build are only compared when the
// source tree was resolved through repository.directory.
func diffDirs(publishedDir, sourceDir string, resolvedViaDirectory bool) (*dirDiff, error) {
	published, err := listFiles(publishedDir, resolvedViaDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to walk published artifact: %w", err)
	}
	source, err := listFiles(sourceDir, resolvedViaDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to walk source tree: %w", err)
	}

	diff := &dirDiff{}
	for rel := range published {
		if _, ok := source[rel]; !ok {
			diff.onlyInPublished = append(diff.onlyInPublished, rel)
			continue
		}
		same, err := filesEqual(filepath.Join(publishedDir, rel), filepath.Join(sourceDir, rel))
		if err != nil {
			return nil, err
		}
		if !same {
			diff.modified = append(diff.modified, rel)
		}
	}
	sort.Strings(diff.onlyInPublished)
	sort.Strings(diff.modified)
	return diff, nil
}

// listFiles maps slash-separated relative paths to presence, skipping ignored
// entries
func listFiles(root string, includeBuildDirs bool) (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		base := filepath.Base(path)

		if skipDiffEntry(rel, base, d.IsDir(), includeBuildDirs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// skipDiffEntry decides whether a tree entry is excluded from comparison
func skipDiffEntry(rel, base string, isDir bool, includeBuildDirs bool) bool {
	if ignoredDiffNames[base] {
		return true
	}
	if strings.HasPrefix(base, "CHANGELOG") || strings.HasPrefix(base, "HISTORY") {
		return true
	}
	if isDir && !includeBuildDirs && (rel == "dist" || rel == "build") {
		return true
	}
	return false
}

// filesEqual compares two files by content
func filesEqual(a, b string) (bool, error) {
	aData, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bData, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aData, bData), nil
}

// isBuildOutput reports whether a published-only path looks like expected
// bundler output rather than injected code
func isBuildOutput(path string) bool {
	for _, prefix := range buildOutputPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	base := filepath.Base(path)
	for _, suffix := range buildOutputSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	if !strings.Contains(path, "/") && rootFileAllowlist[base] {
		return true
	}
	return false
}
