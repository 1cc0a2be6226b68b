package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

// knownHosts are the source-hosting domains an integrity comparison can clone
// from. Anything else is rejected rather than guessed at.
var knownHosts = []string{"github.com", "gitlab.com", "bitbucket.org"}

var shorthandPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// CanonicalSourceURL normalizes a package.json repository reference into a
// single cloneable HTTPS URL. Accepted inputs: git+https://, git://, https://,
// http://, github:owner/repo shorthand, and bare owner/repo shorthand.
func CanonicalSourceURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty repository URL")
	}

	// Shorthands resolve to GitHub
	if rest, ok := strings.CutPrefix(trimmed, "github:"); ok {
		trimmed = "https://github.com/" + rest
	} else if shorthandPattern.MatchString(trimmed) {
		trimmed = "https://github.com/" + trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "git+")
	if rest, ok := strings.CutPrefix(trimmed, "git://"); ok {
		trimmed = "https://" + rest
	}
	if rest, ok := strings.CutPrefix(trimmed, "http://"); ok {
		trimmed = "https://" + rest
	}
	if rest, ok := strings.CutPrefix(trimmed, "ssh://git@"); ok {
		trimmed = "https://" + rest
	}

	if !strings.HasPrefix(trimmed, "https://") {
		return "", fmt.Errorf("unsupported repository URL: %s", raw)
	}

	withoutScheme := strings.TrimPrefix(trimmed, "https://")
	host, _, found := strings.Cut(withoutScheme, "/")
	if !found {
		return "", fmt.Errorf("repository URL has no path: %s", raw)
	}

	hostKnown := false
	for _, known := range knownHosts {
		if host == known || strings.HasSuffix(host, "."+known) {
			hostKnown = true
			break
		}
	}
	if !hostKnown {
		return "", fmt.Errorf("repository host %s is not a known source host", host)
	}

	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	return trimmed, nil
}

// tagCandidates returns the clone tags to try for a version, in order
func tagCandidates(version string) []string {
	return []string{"v" + version, version}
}
