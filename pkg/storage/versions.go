package storage

import (
	"github.com/Masterminds/semver/v3"
)

// IsVersionAffected reports whether version falls inside the advisory's
// affected set. A nil affected set means universally affected. An entry
// matches when the version appears in its explicit list, or when an event
// range matches: events are scanned left to right latching the most recent
// introduced and fixed markers, and the range matches iff
// version >= introduced and (fixed absent or version < fixed).
func IsVersionAffected(version string, affected *AffectedVersions) bool {
	if affected == nil {
		return true
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		// Without a parsable version no range comparison is possible; only
		// an exact listing can match.
		v = nil
	}

	for _, entry := range affected.Entries {
		for _, listed := range entry.Versions {
			if listed == version {
				return true
			}
			if v != nil {
				if lv, err := semver.NewVersion(listed); err == nil && lv.Equal(v) {
					return true
				}
			}
		}

		if v == nil {
			continue
		}
		for _, r := range entry.Ranges {
			if rangeMatches(v, r) {
				return true
			}
		}
	}
	return false
}

// rangeMatches evaluates one event range against a version
func rangeMatches(v *semver.Version, r VersionRange) bool {
	var introduced, fixed *semver.Version
	for _, event := range r.Events {
		if event.Introduced != "" {
			if iv, err := semver.NewVersion(normalizeRangeBound(event.Introduced)); err == nil {
				introduced = iv
			}
		}
		if event.Fixed != "" {
			if fv, err := semver.NewVersion(event.Fixed); err == nil {
				fixed = fv
			}
		}
	}

	if introduced == nil {
		return false
	}
	if v.Compare(introduced) < 0 {
		return false
	}
	return fixed == nil || v.Compare(fixed) < 0
}

// normalizeRangeBound maps the OSV "0" introduced marker onto a comparable
// version
func normalizeRangeBound(bound string) string {
	if bound == "0" {
		return "0.0.0"
	}
	return bound
}

// IsVersionFixed reports whether version is at or past any of the advisory's
// fixed versions
func IsVersionFixed(version string, fixedVersions []string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	for _, fixed := range fixedVersions {
		if fv, err := semver.NewVersion(fixed); err == nil && v.Compare(fv) >= 0 {
			return true
		}
	}
	return false
}
