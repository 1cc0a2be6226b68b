package profile

import (
	"fmt"
	"math"
	"strings"

	"github.com/deptex/watchtower/pkg/storage"
)

// Scoring weights per factor
const (
	pointsDeviationStrong = 15
	pointsDeviationMild   = 10
	pointsMessageLength   = 5
	pointsInsertDelete    = 5
	pointsAbnormalTime    = 5
	pointsAbnormalDay     = 5
	pointsPerNewFile      = 10
	maxNewFilesCounted    = 3
)

// Thresholds per factor
const (
	strongDeviationSigma  = 3.0
	mildDeviationSigma    = 2.0
	messageLengthSigma    = 2.0
	insertDeleteTolerance = 0.5
	rareHourFraction      = 0.05
	rareDayFraction       = 0.10
)

// ScoreCommits scores each commit against its author's baseline. Commits
// whose author has no profile are skipped with a warning; only commits with a
// positive score are returned.
func ScoreCommits(commits []storage.Commit, profiles []storage.ContributorProfile) []storage.Anomaly {
	byEmail := make(map[string]*storage.ContributorProfile, len(profiles))
	for i := range profiles {
		byEmail[profiles[i].AuthorEmail] = &profiles[i]
	}

	var anomalies []storage.Anomaly
	for _, commit := range commits {
		email := strings.ToLower(strings.TrimSpace(commit.AuthorEmail))
		profile, ok := byEmail[email]
		if !ok {
			log.Warnf("skipping anomaly scoring for commit %s: no profile for %s", commit.SHA, email)
			continue
		}

		factors := scoreCommit(commit, profile)
		if len(factors) == 0 {
			continue
		}

		total := 0
		for _, f := range factors {
			total += f.Points
		}
		anomalies = append(anomalies, storage.Anomaly{
			CommitSHA:   commit.SHA,
			AuthorEmail: email,
			Score:       total,
			Factors:     factors,
		})
	}
	return anomalies
}

// scoreCommit evaluates every factor for one commit. Factors with a
// degenerate baseline (zero stddev, empty histogram) contribute nothing.
func scoreCommit(commit storage.Commit, profile *storage.ContributorProfile) []storage.AnomalyFactor {
	var factors []storage.AnomalyFactor

	if f, ok := deviationFactor("files_changed", float64(commit.FilesChangedCount),
		profile.AvgFilesChanged, profile.StdDevFilesChanged); ok {
		factors = append(factors, f)
	}

	combinedLines := float64(commit.LinesAdded + commit.LinesDeleted)
	combinedMean := profile.AvgLinesAdded + profile.AvgLinesDeleted
	combinedStdDev := math.Sqrt(profile.StdDevLinesAdded*profile.StdDevLinesAdded +
		profile.StdDevLinesDeleted*profile.StdDevLinesDeleted)
	if f, ok := deviationFactor("lines_changed", combinedLines, combinedMean, combinedStdDev); ok {
		factors = append(factors, f)
	}

	if f, ok := messageLengthFactor(commit, profile); ok {
		factors = append(factors, f)
	}
	if f, ok := insertDeleteFactor(commit, profile); ok {
		factors = append(factors, f)
	}
	if f, ok := abnormalTimeFactor(commit, profile); ok {
		factors = append(factors, f)
	}
	if f, ok := abnormalDayFactor(commit, profile); ok {
		factors = append(factors, f)
	}
	if f, ok := newFilesFactor(commit, profile); ok {
		factors = append(factors, f)
	}

	return factors
}

// deviationFactor applies the tiered upward-deviation scoring shared by the
// files-changed and lines-changed factors
func deviationFactor(name string, observed, mean, stdDev float64) (storage.AnomalyFactor, bool) {
	if stdDev <= 0 {
		return storage.AnomalyFactor{}, false
	}

	z := (observed - mean) / stdDev
	points := 0
	switch {
	case z >= strongDeviationSigma:
		points = pointsDeviationStrong
	case z >= mildDeviationSigma:
		points = pointsDeviationMild
	default:
		return storage.AnomalyFactor{}, false
	}

	return storage.AnomalyFactor{
		Factor: name,
		Points: points,
		Reason: fmt.Sprintf("%s %.0f is %.1f standard deviations above the mean %.1f (stddev %.1f)",
			name, observed, z, mean, stdDev),
	}, true
}

// messageLengthFactor flags messages unusually long or short for the author
func messageLengthFactor(commit storage.Commit, profile *storage.ContributorProfile) (storage.AnomalyFactor, bool) {
	if profile.StdDevMessageLength <= 0 {
		return storage.AnomalyFactor{}, false
	}

	observed := float64(len(commit.Message))
	z := math.Abs(observed-profile.AvgMessageLength) / profile.StdDevMessageLength
	if z < messageLengthSigma {
		return storage.AnomalyFactor{}, false
	}

	return storage.AnomalyFactor{
		Factor: "message_length",
		Points: pointsMessageLength,
		Reason: fmt.Sprintf("message length %.0f deviates %.1f standard deviations from the mean %.1f (stddev %.1f)",
			observed, z, profile.AvgMessageLength, profile.StdDevMessageLength),
	}, true
}

// insertDeleteFactor flags commits whose insert-to-delete ratio diverges more
// than 50% from the author's baseline. Commits without deletions and
// baselines carrying the sentinel are skipped.
func insertDeleteFactor(commit storage.Commit, profile *storage.ContributorProfile) (storage.AnomalyFactor, bool) {
	if commit.LinesDeleted == 0 || profile.InsertToDeleteRatio == insertDeleteSentinel || profile.InsertToDeleteRatio <= 0 {
		return storage.AnomalyFactor{}, false
	}

	commitRatio := float64(commit.LinesAdded) / float64(commit.LinesDeleted)
	divergence := math.Abs(commitRatio-profile.InsertToDeleteRatio) / profile.InsertToDeleteRatio
	if divergence <= insertDeleteTolerance {
		return storage.AnomalyFactor{}, false
	}

	return storage.AnomalyFactor{
		Factor: "insert_delete_ratio",
		Points: pointsInsertDelete,
		Reason: fmt.Sprintf("insert/delete ratio %.2f diverges %.0f%% from baseline %.2f",
			commitRatio, divergence*100, profile.InsertToDeleteRatio),
	}, true
}

// abnormalTimeFactor flags commits at an hour holding under 5% of the
// author's activity
func abnormalTimeFactor(commit storage.Commit, profile *storage.ContributorProfile) (storage.AnomalyFactor, bool) {
	if commit.Timestamp.IsZero() || len(profile.CommitTimeHistogram) == 0 {
		return storage.AnomalyFactor{}, false
	}

	total := 0
	for _, count := range profile.CommitTimeHistogram {
		total += count
	}
	if total == 0 {
		return storage.AnomalyFactor{}, false
	}

	hour := commit.Timestamp.UTC().Hour()
	fraction := float64(profile.CommitTimeHistogram[hourKey(hour)]) / float64(total)
	if fraction >= rareHourFraction {
		return storage.AnomalyFactor{}, false
	}

	return storage.AnomalyFactor{
		Factor: "abnormal_time",
		Points: pointsAbnormalTime,
		Reason: fmt.Sprintf("only %.1f%% of this author's commits land at hour %d", fraction*100, hour),
	}, true
}

// abnormalDayFactor flags commits on a weekday holding under 10% of the
// author's activity
func abnormalDayFactor(commit storage.Commit, profile *storage.ContributorProfile) (storage.AnomalyFactor, bool) {
	if commit.Timestamp.IsZero() || len(profile.TypicalDaysActive) == 0 {
		return storage.AnomalyFactor{}, false
	}

	total := 0
	for _, count := range profile.TypicalDaysActive {
		total += count
	}
	if total == 0 {
		return storage.AnomalyFactor{}, false
	}

	day := dayNames[int(commit.Timestamp.UTC().Weekday())]
	fraction := float64(profile.TypicalDaysActive[day]) / float64(total)
	if fraction >= rareDayFraction {
		return storage.AnomalyFactor{}, false
	}

	return storage.AnomalyFactor{
		Factor: "abnormal_day",
		Points: pointsAbnormalDay,
		Reason: fmt.Sprintf("only %.1f%% of this author's commits land on %s", fraction*100, day),
	}, true
}

// newFilesFactor flags commits touching files the author has never worked
// on, capped at three files
func newFilesFactor(commit storage.Commit, profile *storage.ContributorProfile) (storage.AnomalyFactor, bool) {
	if len(profile.FilesWorkedOn) == 0 {
		return storage.AnomalyFactor{}, false
	}

	var newFiles []string
	for _, path := range commit.DiffData.FilesChanged {
		// The baseline multiset includes the scored commit itself, so a
		// count of one means no other commit ever touched the file.
		if profile.FilesWorkedOn[path] <= 1 {
			newFiles = append(newFiles, path)
		}
	}
	if len(newFiles) == 0 {
		return storage.AnomalyFactor{}, false
	}

	counted := len(newFiles)
	if counted > maxNewFilesCounted {
		counted = maxNewFilesCounted
	}

	return storage.AnomalyFactor{
		Factor: "new_files",
		Points: pointsPerNewFile * counted,
		Reason: fmt.Sprintf("%d file(s) outside this author's history, e.g. %s", len(newFiles), newFiles[0]),
	}, true
}
