// Package profile builds per-contributor statistical baselines from commit
// history and scores commits against them for behavioral anomalies.
package profile

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/storage"
)

var log = logger.New("watchtower:profile")

// insertDeleteSentinel is recorded when a contributor never deleted a line,
// where the real ratio is undefined
const insertDeleteSentinel = 999

// dayNames indexes time.Weekday into the stored histogram keys
var dayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// BuildProfiles groups commits by lowercased author email and computes each
// contributor's baseline. Contributors whose every commit carries the
// invalid-timestamp sentinel are dropped. Construction is data-parallel:
// each profile's inputs and outputs are independent.
func BuildProfiles(commits []storage.Commit) []storage.ContributorProfile {
	groups := make(map[string][]storage.Commit)
	for _, c := range commits {
		email := strings.ToLower(strings.TrimSpace(c.AuthorEmail))
		if email == "" {
			continue
		}
		groups[email] = append(groups[email], c)
	}

	emails := make([]string, 0, len(groups))
	for email := range groups {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	var mu sync.Mutex
	var profiles []storage.ContributorProfile

	p := pool.New().WithMaxGoroutines(8)
	for _, email := range emails {
		p.Go(func() {
			profile, ok := buildProfile(email, groups[email])
			if !ok {
				log.Printf("Dropping contributor %s: no valid commit timestamps", email)
				return
			}
			mu.Lock()
			profiles = append(profiles, profile)
			mu.Unlock()
		})
	}
	p.Wait()

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].AuthorEmail < profiles[j].AuthorEmail
	})
	return profiles
}

// buildProfile computes one contributor's baseline. ok is false when every
// timestamp is invalid.
func buildProfile(email string, commits []storage.Commit) (storage.ContributorProfile, bool) {
	anyValidTime := false
	for _, c := range commits {
		if !c.Timestamp.IsZero() {
			anyValidTime = true
			break
		}
	}
	if !anyValidTime {
		return storage.ContributorProfile{}, false
	}

	profile := storage.ContributorProfile{
		AuthorEmail:         email,
		CommitCount:         len(commits),
		CommitTimeHistogram: make(map[string]int, 24),
		TypicalDaysActive:   make(map[string]int, 7),
		FilesWorkedOn:       make(map[string]int),
	}
	for hour := 0; hour < 24; hour++ {
		profile.CommitTimeHistogram[hourKey(hour)] = 0
	}
	for _, day := range dayNames {
		profile.TypicalDaysActive[day] = 0
	}

	added := make([]float64, 0, len(commits))
	deleted := make([]float64, 0, len(commits))
	filesChanged := make([]float64, 0, len(commits))
	messageLengths := make([]float64, 0, len(commits))

	var totalAdded, totalDeleted float64
	var first, last time.Time

	for _, c := range commits {
		added = append(added, float64(c.LinesAdded))
		deleted = append(deleted, float64(c.LinesDeleted))
		filesChanged = append(filesChanged, float64(c.FilesChangedCount))
		messageLengths = append(messageLengths, float64(len(c.Message)))
		totalAdded += float64(c.LinesAdded)
		totalDeleted += float64(c.LinesDeleted)

		for _, path := range c.DiffData.FilesChanged {
			profile.FilesWorkedOn[path]++
		}

		if c.Timestamp.IsZero() {
			continue
		}
		ts := c.Timestamp.UTC()
		profile.CommitTimeHistogram[hourKey(ts.Hour())]++
		profile.TypicalDaysActive[dayNames[int(ts.Weekday())]]++
		profile.CommitTimeHeatmap[int(ts.Weekday())][ts.Hour()]++

		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if last.IsZero() || ts.After(last) {
			last = ts
		}
	}

	profile.AvgLinesAdded, profile.StdDevLinesAdded = meanAndStdDev(added)
	profile.AvgLinesDeleted, profile.StdDevLinesDeleted = meanAndStdDev(deleted)
	profile.AvgFilesChanged, profile.StdDevFilesChanged = meanAndStdDev(filesChanged)
	profile.AvgMessageLength, profile.StdDevMessageLength = meanAndStdDev(messageLengths)

	if totalDeleted == 0 {
		profile.InsertToDeleteRatio = insertDeleteSentinel
	} else {
		profile.InsertToDeleteRatio = totalAdded / totalDeleted
	}

	profile.FirstCommitAt = first
	profile.LastCommitAt = last
	return profile, true
}

// hourKey renders an hour as the stored histogram key ("0:00".."23:00")
func hourKey(hour int) string {
	return fmt.Sprintf("%d:00", hour)
}

// meanAndStdDev computes the mean and population standard deviation
func meanAndStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sqDiff float64
	for _, v := range values {
		diff := v - mean
		sqDiff += diff * diff
	}
	stdDev = math.Sqrt(sqDiff / float64(len(values)))
	return mean, stdDev
}
