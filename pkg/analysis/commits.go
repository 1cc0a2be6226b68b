package analysis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/storage"
)

var commitsLog = logger.New("watchtower:analysis:commits")

// commitMarker separates commit header records in git log output
const commitMarker = "\x1e"

// fieldSeparator separates fields within a commit header
const fieldSeparator = "\x1f"

// extractCommits reads up to max commits with per-file change stats from a
// cloned repository. Author emails are normalized to lowercase; unparsable
// timestamps become the zero-time sentinel that profiling skips.
func extractCommits(ctx context.Context, repoDir string, max int) ([]storage.Commit, error) {
	format := commitMarker + "%H" + fieldSeparator + "%an" + fieldSeparator + "%ae" + fieldSeparator + "%aI" + fieldSeparator + "%s"
	out, err := runGit(ctx, repoDir, "log", "-n", strconv.Itoa(max), "--numstat", "--no-merges", "--pretty=format:"+format)
	if err != nil {
		return nil, err
	}

	var commits []storage.Commit
	for _, record := range strings.Split(out, commitMarker) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], fieldSeparator)
		if len(fields) < 5 {
			commitsLog.Warnf("skipping malformed log record: %q", truncate(lines[0], 80))
			continue
		}

		commit := storage.Commit{
			SHA:         fields[0],
			AuthorName:  fields[1],
			AuthorEmail: strings.ToLower(strings.TrimSpace(fields[2])),
			Message:     fields[4],
		}
		if ts, err := time.Parse(time.RFC3339, fields[3]); err == nil {
			commit.Timestamp = ts
		}

		for _, line := range lines[1:] {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, "\t", 3)
			if len(parts) != 3 {
				continue
			}
			// Binary files report "-" for both counters
			if added, err := strconv.Atoi(parts[0]); err == nil {
				commit.LinesAdded += added
			}
			if deleted, err := strconv.Atoi(parts[1]); err == nil {
				commit.LinesDeleted += deleted
			}
			commit.DiffData.FilesChanged = append(commit.DiffData.FilesChanged, normalizeNumstatPath(parts[2]))
		}
		commit.FilesChangedCount = len(commit.DiffData.FilesChanged)
		commits = append(commits, commit)
	}

	commitsLog.Printf("Extracted %d commits from %s", len(commits), repoDir)
	return commits, nil
}

// normalizeNumstatPath unwraps rename records like "old => new" and
// "dir/{old => new}/file" down to the new path
func normalizeNumstatPath(path string) string {
	if !strings.Contains(path, "=>") {
		return path
	}
	if open := strings.Index(path, "{"); open >= 0 {
		if end := strings.Index(path[open:], "}"); end >= 0 {
			inner := path[open+1 : open+end]
			_, after, _ := strings.Cut(inner, "=>")
			replaced := path[:open] + strings.TrimSpace(after) + path[open+end+1:]
			return strings.ReplaceAll(replaced, "//", "/")
		}
	}
	_, after, found := strings.Cut(path, "=>")
	if found {
		return strings.TrimSpace(after)
	}
	return path
}
