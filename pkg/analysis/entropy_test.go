package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptex/watchtower/pkg/storage"
)

// lowEntropyJS is ordinary readable source, well under the warning threshold
const lowEntropyJS = `function add(a, b) {
	return a + b;
}

module.exports = { add: add };
`

// highEntropyContent builds a byte stream using the full byte alphabet,
// pushing entropy near 8 bits per byte
func highEntropyContent(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		// 131 is invertible mod the prime 257, so the sequence walks the
		// whole byte alphabet near-uniformly
		v := (i*131 + 89) % 257
		data[i] = byte(v % 256)
	}
	return data
}

func writeFile(t *testing.T, dir, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, shannonEntropy(nil))
	assert.Zero(t, shannonEntropy([]byte("aaaa")), "uniform content has zero entropy")

	// Two symbols, evenly distributed: exactly 1 bit
	assert.InDelta(t, 1.0, shannonEntropy([]byte("abababab")), 1e-9)

	// 256 distinct bytes evenly distributed: exactly 8 bits
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	assert.InDelta(t, 8.0, shannonEntropy(all), 1e-9)
}

func TestShannonEntropyBoundaryNotFlagged(t *testing.T) {
	// A synthetic alphabet of 45 evenly-distributed symbols has entropy
	// log2(45) = 5.49, just under the threshold
	var builder strings.Builder
	for round := 0; round < 10; round++ {
		for c := byte('0'); c < '0'+45; c++ {
			builder.WriteByte(c)
		}
	}
	entropy := shannonEntropy([]byte(builder.String()))
	require.Less(t, entropy, 5.5)
	require.Greater(t, entropy, 5.4)

	dir := t.TempDir()
	writeFile(t, dir, "src/data.js", []byte(builder.String()))

	result, _ := checkEntropy(dir)
	assert.Equal(t, storage.CheckPass, result.Status, "entropy at or below 5.5 is not flagged")
}

func TestCheckEntropyCleanTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/index.js", []byte(lowEntropyJS))
	writeFile(t, dir, "src/util.ts", []byte(lowEntropyJS))

	result, details := checkEntropy(dir)
	assert.Equal(t, storage.CheckPass, result.Status)
	assert.Equal(t, 2, details.FilesScanned)
	assert.Empty(t, details.HighEntropyFiles)
}

func TestCheckEntropyFailOutsideExpectedDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/payload.js", highEntropyContent(4096))

	result, details := checkEntropy(dir)
	assert.Equal(t, storage.CheckFail, result.Status)
	assert.Greater(t, details.MaxEntropy, 6.0)
	assert.NotEmpty(t, details.HighEntropyFiles)
}

func TestCheckEntropyExpectedDirOnlyWarns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dist/bundle.min.js", highEntropyContent(4096))

	result, _ := checkEntropy(dir)
	assert.Equal(t, storage.CheckWarning, result.Status)
}

func TestCheckEntropyNestedExpectedDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "packages/core/dist/out.js", highEntropyContent(4096))

	result, _ := checkEntropy(dir)
	assert.Equal(t, storage.CheckWarning, result.Status, "any path segment counts as expected")
}

func TestCheckEntropySkipsNonCodeAndNodeModules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "node_modules/dep/index.js", highEntropyContent(4096))
	writeFile(t, dir, "assets/blob.bin", highEntropyContent(4096))
	writeFile(t, dir, "src/empty.js", nil)
	writeFile(t, dir, "src/fine.js", []byte(lowEntropyJS))

	result, details := checkEntropy(dir)
	assert.Equal(t, storage.CheckPass, result.Status)
	assert.Equal(t, 1, details.FilesScanned)
}

func TestInExpectedDir(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "dist/bundle.js", want: true},
		{path: "lib/vendor/jquery.js", want: true},
		{path: "deep/build/out.js", want: true},
		{path: "src/index.js", want: false},
		{path: "distribution/x.js", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, inExpectedDir(tt.path))
		})
	}
}

func TestSortedHighEntropyPaths(t *testing.T) {
	paths := sortedHighEntropyPaths(map[string]float64{"b.js": 6, "a.js": 7})
	assert.Equal(t, []string{"a.js", "b.js"}, paths)
}
