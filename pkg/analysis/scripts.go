package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/deptex/watchtower/pkg/storage"
)

// lifecycleHooks are the npm scripts that run automatically on install
var lifecycleHooks = []string{"preinstall", "install", "postinstall"}

// scannedScripts additionally includes prepare: it is not an install hook but
// its commands still execute on the consumer's machine in git installs
var scannedScripts = []string{"preinstall", "install", "postinstall", "prepare"}

// networkPatterns indicate a script reaching the network
var networkPatterns = []string{
	"curl", "wget", "fetch", "http://", "https://",
	"axios", "request", "node-fetch", "socket", "net.", "dns.",
}

// shellPatterns indicate dynamic shell execution
var shellPatterns = []string{
	"sh -c", "bash -c", "exec", "spawn", "child_process", "eval", "`", "$(",
}

// dangerousPatterns indicate behavior with no place in an install script
var dangerousPatterns = []string{
	"rm -rf", "rm -fr", "chmod 777", "sudo",
	"/etc/passwd", "/etc/shadow",
	"process.env", "printenv", "env |",
	"base64 -d", "base64 --decode",
	"powershell", "cmd /c",
	"eval(", "Function(",
	"\\x", "\\u00",
}

// safeBuilders are commands routinely run by legitimate build tooling. A hook
// made up entirely of these downgrades fail to warning.
var safeBuilders = []string{
	"node", "npm run", "tsc", "babel", "webpack", "rollup", "esbuild",
	"husky", "patch-package", "ngcc", "prisma generate",
	"node-gyp", "node-pre-gyp", "prebuild-install", "cmake-js",
}

var commandSplitter = regexp.MustCompile(`&&|\|\||;`)

// checkInstallScripts classifies the package's install-time scripts.
// Evaluation order: dangerous patterns or combined network+shell capability
// fail outright; no hooks pass; hooks built purely from known build tooling
// warn; everything else fails.
func checkInstallScripts(scripts map[string]string) (storage.CheckResult, *storage.ScriptDetails) {
	details := &storage.ScriptDetails{Hooks: make(map[string]string)}

	var scannedCommands []string
	for _, name := range scannedScripts {
		if cmd, ok := scripts[name]; ok && strings.TrimSpace(cmd) != "" {
			scannedCommands = append(scannedCommands, cmd)
		}
	}

	var hookCommands []string
	for _, name := range lifecycleHooks {
		if cmd, ok := scripts[name]; ok && strings.TrimSpace(cmd) != "" {
			details.Hooks[name] = cmd
			hookCommands = append(hookCommands, cmd)
		}
	}

	for _, cmd := range scannedCommands {
		details.NetworkPatterns = append(details.NetworkPatterns, matchPatterns(cmd, networkPatterns)...)
		details.ShellPatterns = append(details.ShellPatterns, matchPatterns(cmd, shellPatterns)...)
		details.DangerousPatterns = append(details.DangerousPatterns, matchPatterns(cmd, dangerousPatterns)...)
	}
	details.NetworkPatterns = dedupe(details.NetworkPatterns)
	details.ShellPatterns = dedupe(details.ShellPatterns)
	details.DangerousPatterns = dedupe(details.DangerousPatterns)

	hasNetwork := len(details.NetworkPatterns) > 0
	hasShell := len(details.ShellPatterns) > 0
	hasDangerous := len(details.DangerousPatterns) > 0

	switch {
	case hasDangerous:
		return storage.CheckResult{
			Status: storage.CheckFail,
			Reason: fmt.Sprintf("install scripts use dangerous patterns: %s", strings.Join(details.DangerousPatterns, ", ")),
		}, details

	case hasNetwork && hasShell:
		return storage.CheckResult{
			Status: storage.CheckFail,
			Reason: "install scripts combine network access with shell execution",
		}, details

	case len(hookCommands) == 0:
		return storage.CheckResult{Status: storage.CheckPass}, details

	case allSafeBuilders(hookCommands):
		return storage.CheckResult{
			Status: storage.CheckWarning,
			Reason: "install hooks present but limited to known build tooling",
		}, details

	default:
		return storage.CheckResult{
			Status: storage.CheckFail,
			Reason: "install hooks run commands outside the known build tooling set",
		}, details
	}
}

// matchPatterns returns the patterns found in a command string
func matchPatterns(command string, patterns []string) []string {
	lowered := strings.ToLower(command)
	var found []string
	for _, pattern := range patterns {
		if strings.Contains(lowered, strings.ToLower(pattern)) {
			found = append(found, pattern)
		}
	}
	return found
}

// allSafeBuilders reports whether every hook command consists solely of
// safe-builder invocations
func allSafeBuilders(commands []string) bool {
	for _, command := range commands {
		for _, segment := range commandSplitter.Split(command, -1) {
			if !isSafeBuilderSegment(strings.TrimSpace(segment)) {
				return false
			}
		}
	}
	return true
}

// isSafeBuilderSegment matches one shell segment against the allowlist
func isSafeBuilderSegment(segment string) bool {
	if segment == "" {
		return true
	}
	for _, builder := range safeBuilders {
		if segment == builder || strings.HasPrefix(segment, builder+" ") {
			return true
		}
	}
	return false
}

// dedupe removes duplicates while keeping output ordering stable
func dedupe(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]bool, len(values))
	var result []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	sort.Strings(result)
	return result
}
