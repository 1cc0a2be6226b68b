package analysis

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/deptex/watchtower/pkg/ratelimit"
)

// cloneTimeout bounds a single git clone so a stalled remote cannot wedge a
// job forever
const cloneTimeout = 5 * time.Minute

// runGit executes a git command with output capture
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	// Never prompt for credentials; public repos only
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, truncate(string(out), 300))
	}
	return string(out), nil
}

// cloneTag shallow-clones a single tag into dest. On failure the partial
// clone is removed so the next candidate starts clean.
func cloneTag(ctx context.Context, repoURL, tag, dest string) error {
	if err := ratelimit.Wait(ctx, ratelimit.OperationGitClone); err != nil {
		return err
	}

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	_, err := runGit(cloneCtx, "", "clone", "--depth", "1", "--branch", tag, "--single-branch", repoURL, dest)
	if err != nil {
		os.RemoveAll(dest)
		return err
	}
	return nil
}

// cloneWithHistory clones with enough history for commit extraction
func cloneWithHistory(ctx context.Context, repoURL, dest string, depth int) error {
	if err := ratelimit.Wait(ctx, ratelimit.OperationGitClone); err != nil {
		return err
	}

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	_, err := runGit(cloneCtx, "", "clone", "--depth", fmt.Sprint(depth), repoURL, dest)
	if err != nil {
		os.RemoveAll(dest)
		return err
	}
	return nil
}

// truncate limits a string for inclusion in error messages
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
