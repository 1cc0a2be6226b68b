package worker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deptex/watchtower/pkg/registry"
)

// packumentWith builds a packument whose versions were released a day apart,
// in the order given (earliest first)
func packumentWith(versions ...string) *registry.Packument {
	doc := &registry.Packument{
		Versions: map[string]registry.VersionMeta{},
		Time:     map[string]string{"created": timeEntry(1)},
	}
	for i, v := range versions {
		doc.Versions[v] = registry.VersionMeta{Version: v}
		doc.Time[v] = timeEntry(i + 2)
	}
	return doc
}

func TestSelectPreviousVersionsExcludesLatestAndCurrent(t *testing.T) {
	doc := packumentWith("1.0.0", "1.1.0", "1.2.0")

	selected := selectPreviousVersions(doc, "1.2.0", "1.1.0")
	assert.Equal(t, []string{"1.0.0"}, selected)
}

func TestSelectPreviousVersionsNewestFirst(t *testing.T) {
	doc := packumentWith("1.0.0", "1.1.0", "1.2.0", "1.3.0")

	selected := selectPreviousVersions(doc, "1.3.0", "")
	assert.Equal(t, []string{"1.2.0", "1.1.0", "1.0.0"}, selected)
}

func TestSelectPreviousVersionsPrefersStable(t *testing.T) {
	doc := packumentWith("1.0.0", "1.1.0-beta.1", "1.1.0", "1.2.0-rc.1", "1.2.0")

	selected := selectPreviousVersions(doc, "1.2.0", "")
	// Stable releases first (newest to oldest), prereleases fill the tail
	assert.Equal(t, []string{"1.1.0", "1.0.0", "1.2.0-rc.1", "1.1.0-beta.1"}, selected)
}

func TestSelectPreviousVersionsCap(t *testing.T) {
	versions := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		versions = append(versions, fmt.Sprintf("1.%d.0", i))
	}
	doc := packumentWith(versions...)

	selected := selectPreviousVersions(doc, "9.9.9", "")
	assert.Len(t, selected, 20)
	// Newest stable release leads
	assert.Equal(t, "1.29.0", selected[0])
}

func TestSelectPreviousVersionsSkipsUnpublished(t *testing.T) {
	doc := packumentWith("1.0.0", "1.1.0")
	doc.Time["1.0.1"] = timeEntry(10) // time entry without a published version

	selected := selectPreviousVersions(doc, "1.1.0", "")
	assert.Equal(t, []string{"1.0.0"}, selected)
}

func TestIsStableVersion(t *testing.T) {
	tests := []struct {
		version string
		stable  bool
	}{
		{version: "1.2.3", stable: true},
		{version: "1.2.3-rc.1", stable: false},
		{version: "1.2.3-beta", stable: false},
		{version: "not-a-version", stable: false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.stable, isStableVersion(tt.version))
		})
	}
}
