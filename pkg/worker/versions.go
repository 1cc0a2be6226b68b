package worker

import (
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/deptex/watchtower/pkg/constants"
	"github.com/deptex/watchtower/pkg/registry"
)

// packumentTimeMetaKeys are entries of the packument time map that are not
// versions
var packumentTimeMetaKeys = map[string]bool{"created": true, "modified": true}

// selectPreviousVersions picks up to the backfill cap of earlier releases,
// newest first, preferring stable releases and topping up with prereleases
// only when fewer stable ones exist. The latest and current versions are
// excluded.
func selectPreviousVersions(doc *registry.Packument, latestVersion, currentVersion string) []string {
	type release struct {
		version  string
		released time.Time
		stable   bool
	}

	var releases []release
	for version, timestamp := range doc.Time {
		if packumentTimeMetaKeys[version] {
			continue
		}
		if version == latestVersion || version == currentVersion {
			continue
		}
		if _, published := doc.Versions[version]; !published {
			// Unpublished versions keep their time entry but have no
			// artifact to analyze
			continue
		}

		released, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			continue
		}
		releases = append(releases, release{
			version:  version,
			released: released,
			stable:   isStableVersion(version),
		})
	}

	sort.Slice(releases, func(i, j int) bool {
		return releases[i].released.After(releases[j].released)
	})

	var selected []string
	for _, r := range releases {
		if r.stable {
			selected = append(selected, r.version)
			if len(selected) == constants.MaxPreviousVersions {
				return selected
			}
		}
	}
	for _, r := range releases {
		if !r.stable {
			selected = append(selected, r.version)
			if len(selected) == constants.MaxPreviousVersions {
				break
			}
		}
	}
	return selected
}

// isStableVersion reports whether a version parses as semver without a
// prerelease tag
func isStableVersion(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return v.Prerelease() == ""
}
