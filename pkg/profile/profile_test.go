package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptex/watchtower/pkg/storage"
)

func commitAt(sha, email string, ts time.Time, added, deleted int, files ...string) storage.Commit {
	return storage.Commit{
		SHA:               sha,
		AuthorEmail:       email,
		Timestamp:         ts,
		Message:           "update " + sha,
		LinesAdded:        added,
		LinesDeleted:      deleted,
		FilesChangedCount: len(files),
		DiffData:          storage.DiffData{FilesChanged: files},
	}
}

func TestBuildProfilesGroupsByLowercasedEmail(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	commits := []storage.Commit{
		commitAt("a1", "Alice@Example.com", base, 10, 5, "src/a.js"),
		commitAt("a2", "alice@example.com", base.Add(time.Hour), 20, 10, "src/b.js"),
		commitAt("b1", "bob@example.com", base, 3, 1, "src/c.js"),
	}

	profiles := BuildProfiles(commits)
	require.Len(t, profiles, 2)

	assert.Equal(t, "alice@example.com", profiles[0].AuthorEmail)
	assert.Equal(t, 2, profiles[0].CommitCount)
	assert.Equal(t, "bob@example.com", profiles[1].AuthorEmail)
}

func TestBuildProfilesStatistics(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	commits := []storage.Commit{
		commitAt("a1", "dev@example.com", base, 10, 4, "a.js"),
		commitAt("a2", "dev@example.com", base.Add(time.Hour), 20, 6, "b.js"),
	}

	profiles := BuildProfiles(commits)
	require.Len(t, profiles, 1)
	p := profiles[0]

	assert.InDelta(t, 15.0, p.AvgLinesAdded, 1e-9)
	// Population stddev of {10, 20} is 5
	assert.InDelta(t, 5.0, p.StdDevLinesAdded, 1e-9)
	assert.InDelta(t, 5.0, p.AvgLinesDeleted, 1e-9)
	// Sum(added)/Sum(deleted) = 30/10
	assert.InDelta(t, 3.0, p.InsertToDeleteRatio, 1e-9)
}

func TestBuildProfilesInsertDeleteSentinel(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	commits := []storage.Commit{
		commitAt("a1", "dev@example.com", base, 10, 0, "a.js"),
	}

	profiles := BuildProfiles(commits)
	require.Len(t, profiles, 1)
	assert.Equal(t, float64(insertDeleteSentinel), profiles[0].InsertToDeleteRatio)
}

func TestBuildProfilesHistograms(t *testing.T) {
	// Monday 14:00 and Monday 15:00 UTC
	monday := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	commits := []storage.Commit{
		commitAt("a1", "dev@example.com", monday, 1, 1, "a.js"),
		commitAt("a2", "dev@example.com", monday.Add(time.Hour), 1, 1, "a.js"),
	}

	profiles := BuildProfiles(commits)
	require.Len(t, profiles, 1)
	p := profiles[0]

	assert.Equal(t, 1, p.CommitTimeHistogram["14:00"])
	assert.Equal(t, 1, p.CommitTimeHistogram["15:00"])
	assert.Equal(t, 0, p.CommitTimeHistogram["3:00"])
	assert.Len(t, p.CommitTimeHistogram, 24)

	assert.Equal(t, 2, p.TypicalDaysActive["Monday"])
	assert.Len(t, p.TypicalDaysActive, 7)

	assert.Equal(t, 1, p.CommitTimeHeatmap[1][14])
	assert.Equal(t, 1, p.CommitTimeHeatmap[1][15])

	assert.Equal(t, 2, p.FilesWorkedOn["a.js"])
}

func TestBuildProfilesSkipsInvalidTimestamps(t *testing.T) {
	valid := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	commits := []storage.Commit{
		commitAt("a1", "dev@example.com", valid, 5, 2, "a.js"),
		commitAt("a2", "dev@example.com", time.Time{}, 7, 3, "b.js"),
	}

	profiles := BuildProfiles(commits)
	require.Len(t, profiles, 1)
	p := profiles[0]

	// Numeric stats cover both commits; time histograms only the valid one
	assert.Equal(t, 2, p.CommitCount)
	total := 0
	for _, count := range p.CommitTimeHistogram {
		total += count
	}
	assert.Equal(t, 1, total)
	assert.True(t, p.FirstCommitAt.Equal(valid))
	assert.True(t, p.LastCommitAt.Equal(valid))
}

func TestBuildProfilesDropsAllInvalidContributor(t *testing.T) {
	commits := []storage.Commit{
		commitAt("a1", "ghost@example.com", time.Time{}, 5, 2, "a.js"),
		commitAt("b1", "real@example.com", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), 1, 1, "b.js"),
	}

	profiles := BuildProfiles(commits)
	require.Len(t, profiles, 1)
	assert.Equal(t, "real@example.com", profiles[0].AuthorEmail)
}

func TestMeanAndStdDev(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		wantMean   float64
		wantStdDev float64
	}{
		{name: "empty", values: nil, wantMean: 0, wantStdDev: 0},
		{name: "single value", values: []float64{4}, wantMean: 4, wantStdDev: 0},
		{name: "uniform", values: []float64{3, 3, 3}, wantMean: 3, wantStdDev: 0},
		{name: "spread", values: []float64{2, 4, 4, 4, 5, 5, 7, 9}, wantMean: 5, wantStdDev: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, stdDev := meanAndStdDev(tt.values)
			assert.InDelta(t, tt.wantMean, mean, 1e-9)
			assert.InDelta(t, tt.wantStdDev, stdDev, 1e-9)
		})
	}
}
