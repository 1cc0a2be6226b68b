package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptex/watchtower/pkg/storage"
)

// steadyProfile is a baseline with enough history for every factor
func steadyProfile() storage.ContributorProfile {
	histogram := make(map[string]int, 24)
	for hour := 0; hour < 24; hour++ {
		histogram[hourKey(hour)] = 0
	}
	histogram["10:00"] = 50
	histogram["11:00"] = 50

	days := map[string]int{
		"Sunday": 0, "Monday": 60, "Tuesday": 40, "Wednesday": 0,
		"Thursday": 0, "Friday": 0, "Saturday": 0,
	}

	return storage.ContributorProfile{
		AuthorEmail:         "dev@example.com",
		CommitCount:         100,
		AvgLinesAdded:       10,
		StdDevLinesAdded:    3,
		AvgLinesDeleted:     5,
		StdDevLinesDeleted:  4,
		AvgFilesChanged:     4,
		StdDevFilesChanged:  2,
		AvgMessageLength:    20,
		StdDevMessageLength: 5,
		InsertToDeleteRatio: 2.0,
		CommitTimeHistogram: histogram,
		TypicalDaysActive:   days,
		FilesWorkedOn:       map[string]int{"src/core.js": 40, "src/util.js": 25},
	}
}

// quietCommit matches the baseline on every factor
func quietCommit() storage.Commit {
	// Monday 10:00 UTC
	return storage.Commit{
		SHA:               "quiet",
		AuthorEmail:       "dev@example.com",
		Timestamp:         time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		Message:           "fix utility rounding",
		LinesAdded:        10,
		LinesDeleted:      5,
		FilesChangedCount: 4,
		DiffData:          storage.DiffData{FilesChanged: []string{"src/core.js", "src/util.js"}},
	}
}

func scoreOne(t *testing.T, commit storage.Commit) []storage.Anomaly {
	t.Helper()
	return ScoreCommits([]storage.Commit{commit}, []storage.ContributorProfile{steadyProfile()})
}

func factorPoints(anomalies []storage.Anomaly, factor string) int {
	for _, a := range anomalies {
		for _, f := range a.Factors {
			if f.Factor == factor {
				return f.Points
			}
		}
	}
	return 0
}

func TestQuietCommitProducesNoAnomaly(t *testing.T) {
	assert.Empty(t, scoreOne(t, quietCommit()))
}

func TestFilesChangedTiers(t *testing.T) {
	strong := quietCommit()
	strong.FilesChangedCount = 12 // z = 4
	assert.Equal(t, 15, factorPoints(scoreOne(t, strong), "files_changed"))

	mild := quietCommit()
	mild.FilesChangedCount = 8 // z = 2
	assert.Equal(t, 10, factorPoints(scoreOne(t, mild), "files_changed"))

	below := quietCommit()
	below.FilesChangedCount = 7 // z = 1.5
	assert.Equal(t, 0, factorPoints(scoreOne(t, below), "files_changed"))
}

func TestLinesChangedCombinedDeviation(t *testing.T) {
	// Combined mean 15, combined stddev sqrt(9+16) = 5
	commit := quietCommit()
	commit.LinesAdded = 20
	commit.LinesDeleted = 10 // combined 30, z = 3
	assert.Equal(t, 15, factorPoints(scoreOne(t, commit), "lines_changed"))
}

func TestMessageLengthBothDirections(t *testing.T) {
	long := quietCommit()
	long.Message = "this is a very detailed commit message body" // 43 chars, z > 2
	assert.Equal(t, 5, factorPoints(scoreOne(t, long), "message_length"))

	short := quietCommit()
	short.Message = "wip" // 3 chars, z > 2 below the mean
	assert.Equal(t, 5, factorPoints(scoreOne(t, short), "message_length"))
}

func TestInsertDeleteRatioDivergence(t *testing.T) {
	diverged := quietCommit()
	diverged.LinesAdded = 10
	diverged.LinesDeleted = 2 // ratio 5 vs baseline 2: 150% divergence
	assert.Equal(t, 5, factorPoints(scoreOne(t, diverged), "insert_delete_ratio"))

	noDeletes := quietCommit()
	noDeletes.LinesAdded = 50
	noDeletes.LinesDeleted = 0
	assert.Equal(t, 0, factorPoints(scoreOne(t, noDeletes), "insert_delete_ratio"))
}

func TestInsertDeleteRatioSentinelSkipped(t *testing.T) {
	profile := steadyProfile()
	profile.InsertToDeleteRatio = insertDeleteSentinel

	commit := quietCommit()
	commit.LinesAdded = 100
	commit.LinesDeleted = 1

	anomalies := ScoreCommits([]storage.Commit{commit}, []storage.ContributorProfile{profile})
	assert.Equal(t, 0, factorPoints(anomalies, "insert_delete_ratio"))
}

func TestAbnormalTimeAndDay(t *testing.T) {
	// Sunday 03:00 UTC: hour holds 0% of activity, Sunday holds 0%
	commit := quietCommit()
	commit.Timestamp = time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC)

	anomalies := scoreOne(t, commit)
	assert.Equal(t, 5, factorPoints(anomalies, "abnormal_time"))
	assert.Equal(t, 5, factorPoints(anomalies, "abnormal_day"))
}

func TestAbnormalFactorsSkipInvalidTimestamp(t *testing.T) {
	commit := quietCommit()
	commit.Timestamp = time.Time{}

	anomalies := scoreOne(t, commit)
	assert.Equal(t, 0, factorPoints(anomalies, "abnormal_time"))
	assert.Equal(t, 0, factorPoints(anomalies, "abnormal_day"))
}

func TestNewFilesCapped(t *testing.T) {
	commit := quietCommit()
	commit.DiffData.FilesChanged = []string{"a.js", "b.js", "c.js", "d.js"}
	commit.FilesChangedCount = 4

	assert.Equal(t, 30, factorPoints(scoreOne(t, commit), "new_files"))
}

func TestNewFilesBelowCap(t *testing.T) {
	commit := quietCommit()
	commit.DiffData.FilesChanged = []string{"src/core.js", "fresh.js"}

	assert.Equal(t, 10, factorPoints(scoreOne(t, commit), "new_files"))
}

func TestDegenerateBaselineScoresNothing(t *testing.T) {
	profile := storage.ContributorProfile{
		AuthorEmail: "dev@example.com",
		// All stddevs zero, histograms empty
	}
	commit := quietCommit()
	commit.FilesChangedCount = 100
	commit.LinesAdded = 10000

	anomalies := ScoreCommits([]storage.Commit{commit}, []storage.ContributorProfile{profile})
	assert.Empty(t, anomalies)
}

func TestUnknownAuthorSkipped(t *testing.T) {
	commit := quietCommit()
	commit.AuthorEmail = "stranger@example.com"
	commit.FilesChangedCount = 100

	assert.Empty(t, scoreOne(t, commit))
}

func TestAnomalyTotalsAndReasons(t *testing.T) {
	commit := quietCommit()
	commit.FilesChangedCount = 12                                  // 15
	commit.LinesAdded = 25                                         //
	commit.LinesDeleted = 10                                       // combined 35, z = 4: 15
	commit.Timestamp = time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC) // +5 +5

	anomalies := scoreOne(t, commit)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, "quiet", a.CommitSHA)
	assert.Equal(t, "dev@example.com", a.AuthorEmail)

	total := 0
	for _, f := range a.Factors {
		assert.NotEmpty(t, f.Reason)
		total += f.Points
	}
	assert.Equal(t, total, a.Score)
	assert.GreaterOrEqual(t, a.Score, 40)
}
