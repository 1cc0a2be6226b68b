package analysis

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deptex/watchtower/pkg/constants"
	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/storage"
)

var entropyLog = logger.New("watchtower:analysis:entropy")

// codeExtensions are the file types included in the entropy scan
var codeExtensions = map[string]bool{
	".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

// expectedHighEntropyDirs are path segments where minified or bundled output
// legitimately lives
var expectedHighEntropyDirs = map[string]bool{
	"dist": true, "build": true, "bundle": true, "min": true, "minified": true, "vendor": true,
}

// entropyScan is the raw outcome of scanning one tree
type entropyScan struct {
	maxEntropy   float64
	avgEntropy   float64
	filesScanned int
	// high maps relative path to entropy for every file above the warning
	// threshold
	high map[string]float64
}

// checkEntropy scans code files under dir for high Shannon entropy, the proxy
// for obfuscated or packed payloads
func checkEntropy(dir string) (storage.CheckResult, *storage.EntropyDetails) {
	scan, err := scanEntropy(dir)
	if err != nil {
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: fmt.Sprintf("entropy scan incomplete: %v", err),
		}, nil
	}

	details := &storage.EntropyDetails{
		MaxEntropy:       scan.maxEntropy,
		AvgEntropy:       scan.avgEntropy,
		FilesScanned:     scan.filesScanned,
		HighEntropyFiles: scan.high,
	}

	var worstUnexpected float64
	unexpectedCount := 0
	for path, entropy := range scan.high {
		if !inExpectedDir(path) {
			unexpectedCount++
			if entropy > worstUnexpected {
				worstUnexpected = entropy
			}
		}
	}

	switch {
	case worstUnexpected > constants.EntropyFailThreshold:
		return storage.CheckResult{
			Status: storage.CheckFail,
			Reason: fmt.Sprintf("entropy %.2f outside expected build directories", worstUnexpected),
		}, details
	case unexpectedCount > 0:
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: fmt.Sprintf("%d high-entropy file(s) outside expected build directories", unexpectedCount),
		}, details
	case len(scan.high) > 0:
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: fmt.Sprintf("%d high-entropy file(s) in expected build directories", len(scan.high)),
		}, details
	default:
		return storage.CheckResult{Status: storage.CheckPass}, details
	}
}

// scanEntropy walks the tree computing per-file Shannon entropy
func scanEntropy(dir string) (*entropyScan, error) {
	scan := &entropyScan{high: make(map[string]float64)}
	var total float64

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !codeExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.Size() > constants.MaxEntropyFileSize {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			entropyLog.Warnf("unreadable file during entropy scan: %s: %v", path, err)
			return nil
		}

		entropy := shannonEntropy(data)
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		scan.filesScanned++
		total += entropy
		if entropy > scan.maxEntropy {
			scan.maxEntropy = entropy
		}
		if entropy > constants.EntropyWarningThreshold {
			scan.high[rel] = entropy
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if scan.filesScanned > 0 {
		scan.avgEntropy = total / float64(scan.filesScanned)
	}
	return scan, nil
}

// shannonEntropy computes H = -sum(p_i * log2(p_i)) over the byte frequency
// table
func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	size := float64(len(data))
	var entropy float64
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / size
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// inExpectedDir reports whether any path segment is an expected high-entropy
// directory
func inExpectedDir(path string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if expectedHighEntropyDirs[strings.ToLower(segment)] {
			return true
		}
	}
	return false
}

// sortedHighEntropyPaths returns flagged paths in stable order, for reasons
// and tests
func sortedHighEntropyPaths(high map[string]float64) []string {
	paths := make([]string, 0, len(high))
	for p := range high {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
