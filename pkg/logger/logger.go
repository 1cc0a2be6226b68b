// Package logger provides namespace-scoped debug logging for the Watchtower
// worker, following the DEBUG environment variable conventions of the npm
// debug package. Debug output is opt-in per namespace; warnings and errors
// are always emitted.
package logger

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Logger emits messages for a single namespace
type Logger struct {
	namespace string
	enabled   bool
	color     string
	mu        sync.Mutex
	lastLog   time.Time
}

var (
	debugEnv    = os.Getenv("DEBUG")
	debugColors = os.Getenv("DEBUG_COLORS") != "0"
	stderrIsTTY = isatty.IsTerminal(os.Stderr.Fd())

	// ANSI 256-color codes, readable on light and dark backgrounds
	palette = []string{
		"\033[38;5;33m",  // blue
		"\033[38;5;35m",  // green
		"\033[38;5;166m", // orange
		"\033[38;5;125m", // purple
		"\033[38;5;37m",  // cyan
		"\033[38;5;161m", // magenta
		"\033[38;5;136m", // yellow
		"\033[38;5;124m", // red
	}

	colorReset = "\033[0m"
)

// New creates a Logger for the given namespace. The enabled state is fixed at
// construction from the DEBUG environment variable:
//
//	DEBUG=*                    - all namespaces
//	DEBUG=watchtower:*         - a namespace subtree
//	DEBUG=ns1,ns2              - specific namespaces
//	DEBUG=watchtower:*,-watchtower:queue - subtree minus exclusions
func New(namespace string) *Logger {
	return &Logger{
		namespace: namespace,
		enabled:   namespaceEnabled(namespace, debugEnv),
		color:     pickColor(namespace),
		lastLog:   time.Now(),
	}
}

// Enabled reports whether debug output for this namespace is on
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Printf emits a formatted debug message if the namespace is enabled
func (l *Logger) Printf(format string, args ...any) {
	if !l.enabled {
		return
	}
	l.emit("", fmt.Sprintf(format, args...))
}

// Print emits a debug message if the namespace is enabled
func (l *Logger) Print(args ...any) {
	if !l.enabled {
		return
	}
	l.emit("", fmt.Sprint(args...))
}

// Warnf emits a warning regardless of the DEBUG setting
func (l *Logger) Warnf(format string, args ...any) {
	l.emit("warning: ", fmt.Sprintf(format, args...))
}

// Errorf emits an error regardless of the DEBUG setting
func (l *Logger) Errorf(format string, args ...any) {
	l.emit("error: ", fmt.Sprintf(format, args...))
}

// emit writes a single line with the namespace prefix and the elapsed time
// since this logger last wrote anything
func (l *Logger) emit(level, message string) {
	l.mu.Lock()
	now := time.Now()
	diff := now.Sub(l.lastLog)
	l.lastLog = now
	l.mu.Unlock()

	prefix := l.namespace
	if l.color != "" {
		prefix = l.color + l.namespace + colorReset
	}
	fmt.Fprintf(os.Stderr, "%s %s%s +%s\n", prefix, level, message, formatElapsed(diff))
}

// pickColor deterministically assigns a palette color to a namespace
func pickColor(namespace string) string {
	if !debugColors || !stderrIsTTY {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(namespace))
	return palette[h.Sum32()%uint32(len(palette))]
}

// formatElapsed renders a duration the way the npm debug package does
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// namespaceEnabled evaluates the DEBUG pattern list for a namespace.
// Exclusion patterns (leading -) take precedence over matches.
func namespaceEnabled(namespace, patterns string) bool {
	enabled := false
	for _, pattern := range strings.Split(patterns, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if excluded, ok := strings.CutPrefix(pattern, "-"); ok {
			if matchPattern(namespace, excluded) {
				return false
			}
			continue
		}
		if matchPattern(namespace, pattern) {
			enabled = true
		}
	}
	return enabled
}

// matchPattern matches a namespace against a pattern with a single optional
// wildcard at the start, end, or middle
func matchPattern(namespace, pattern string) bool {
	if pattern == "*" || pattern == namespace {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && !strings.Contains(prefix, "*") {
		return strings.HasPrefix(namespace, prefix)
	}
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok && !strings.Contains(suffix, "*") {
		return strings.HasSuffix(namespace, suffix)
	}
	parts := strings.SplitN(pattern, "*", 2)
	return strings.HasPrefix(namespace, parts[0]) && strings.HasSuffix(namespace, parts[1])
}
