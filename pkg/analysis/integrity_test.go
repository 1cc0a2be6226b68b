package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestDiffDirsIdenticalTrees(t *testing.T) {
	published := t.TempDir()
	source := t.TempDir()
	files := map[string]string{
		"package.json": `{"name":"demo"}`,
		"src/index.js": "module.exports = 1",
	}
	writeTree(t, published, files)
	writeTree(t, source, files)

	diff, err := diffDirs(published, source, false)
	require.NoError(t, err)
	assert.Empty(t, diff.onlyInPublished)
	assert.Empty(t, diff.modified)
}

func TestDiffDirsOnlyInPublished(t *testing.T) {
	published := t.TempDir()
	source := t.TempDir()
	writeTree(t, published, map[string]string{
		"src/index.js":   "module.exports = 1",
		"src/stealer.js": "exfiltrate()",
	})
	writeTree(t, source, map[string]string{
		"src/index.js": "module.exports = 1",
	})

	diff, err := diffDirs(published, source, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/stealer.js"}, diff.onlyInPublished)
}

func TestDiffDirsModifiedContent(t *testing.T) {
	published := t.TempDir()
	source := t.TempDir()
	writeTree(t, published, map[string]string{"src/index.js": "module.exports = 1; doEvil()"})
	writeTree(t, source, map[string]string{"src/index.js": "module.exports = 1"})

	diff, err := diffDirs(published, source, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/index.js"}, diff.modified)
}

func TestDiffDirsOnlyInSourceIgnored(t *testing.T) {
	published := t.TempDir()
	source := t.TempDir()
	writeTree(t, published, map[string]string{"src/index.js": "module.exports = 1"})
	writeTree(t, source, map[string]string{
		"src/index.js":    "module.exports = 1",
		"src/internal.js": "helpers",
		"docs/guide.md":   "docs",
	})

	diff, err := diffDirs(published, source, false)
	require.NoError(t, err)
	assert.Empty(t, diff.onlyInPublished, "subset publishing is legitimate")
	assert.Empty(t, diff.modified)
}

func TestDiffDirsIgnoresHousekeeping(t *testing.T) {
	published := t.TempDir()
	source := t.TempDir()
	writeTree(t, published, map[string]string{
		"src/index.js":      "module.exports = 1",
		"package-lock.json": "{}",
		"CHANGELOG.md":      "published changelog",
		".npmignore":        "src",
	})
	writeTree(t, source, map[string]string{
		"src/index.js":             "module.exports = 1",
		".github/workflows/ci.yml": "jobs",
		"CHANGELOG.md":             "different changelog",
		"node_modules/x/i.js":      "dep",
	})

	diff, err := diffDirs(published, source, false)
	require.NoError(t, err)
	assert.Empty(t, diff.onlyInPublished)
	assert.Empty(t, diff.modified)
}

func TestDiffDirsSkipsBuildDirsOutsideMonorepoMode(t *testing.T) {
	published := t.TempDir()
	source := t.TempDir()
	writeTree(t, published, map[string]string{
		"src/index.js":   "module.exports = 1",
		"dist/bundle.js": "minified",
	})
	writeTree(t, source, map[string]string{"src/index.js": "module.exports = 1"})

	diff, err := diffDirs(published, source, false)
	require.NoError(t, err)
	assert.Empty(t, diff.onlyInPublished, "dist is excluded when the subpath was not resolved via repository.directory")

	diffMono, err := diffDirs(published, source, true)
	require.NoError(t, err)
	assert.NotEmpty(t, diffMono.onlyInPublished, "dist is compared in monorepo mode")
}

func TestIsBuildOutput(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "cjs/react.development.js", want: true},
		{path: "umd/react.production.min.js", want: true},
		{path: "esm/index.js", want: true},
		{path: "es/index.js", want: true},
		{path: "amd/bundle.js", want: true},
		{path: "lib/core.min.js", want: true},
		{path: "lib/core.profiling.js", want: true},
		{path: "index.js", want: true},
		{path: "jsx-runtime.js", want: true},
		{path: "LICENSE", want: true},
		{path: "README.md", want: true},
		{path: "types/index.d.ts", want: true},
		{path: "src/stealer.js", want: false},
		{path: "scripts/hook.js", want: false},
		{path: "deep/nested/payload.js", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isBuildOutput(tt.path))
		})
	}
}
