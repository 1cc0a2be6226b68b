// Package autobump orchestrates dependency-bump pull requests across
// downstream projects: candidate enumeration, the per-organization watchlist
// state machine, vulnerability veto, and PR dispatch.
package autobump

import (
	"time"

	"github.com/deptex/watchtower/pkg/storage"
)

// WatchlistState classifies a watchlist row at decision time
type WatchlistState int

// The five watchlist states
const (
	// NoWatchlist: the org has no row for this dependency; bump transparently
	NoWatchlist WatchlistState = iota
	// QuarantineNextPending: the one-shot quarantine-next-release flag is set
	QuarantineNextPending
	// CurrentQuarantinedActive: the current version is quarantined and the
	// window has not elapsed
	CurrentQuarantinedActive
	// CurrentQuarantinedExpired: the current version is quarantined but the
	// window has elapsed
	CurrentQuarantinedExpired
	// Normal: a watchlist row exists with no active quarantine
	Normal
)

// String renders a state for logging
func (s WatchlistState) String() string {
	switch s {
	case NoWatchlist:
		return "no-watchlist"
	case QuarantineNextPending:
		return "quarantine-next-pending"
	case CurrentQuarantinedActive:
		return "current-quarantined-active"
	case CurrentQuarantinedExpired:
		return "current-quarantined-expired"
	default:
		return "normal"
	}
}

// WatchlistMutation names the single store write a decision may require
type WatchlistMutation int

// Possible mutations; at most one applies per candidate
const (
	MutationNone WatchlistMutation = iota
	MutationQuarantineNextRelease
	MutationClearQuarantineAndSetLatest
	MutationSetLatestAllowed
)

// Decision is the outcome of the watchlist state machine for one candidate
type Decision struct {
	State      WatchlistState
	Mutation   WatchlistMutation
	DispatchPR bool
}

// EvaluateWatchlist classifies a row. A quarantine_until at or before now is
// expired: ties count as expired.
func EvaluateWatchlist(row *storage.WatchlistRow, now time.Time) WatchlistState {
	switch {
	case row == nil:
		return NoWatchlist
	case row.QuarantineNextRelease:
		return QuarantineNextPending
	case row.IsCurrentVersionQuarantined:
		if row.QuarantineUntil != nil && row.QuarantineUntil.After(now) {
			return CurrentQuarantinedActive
		}
		return CurrentQuarantinedExpired
	default:
		return Normal
	}
}

// DecideWatchlist maps a state onto its mutation and whether a PR should be
// dispatched
func DecideWatchlist(state WatchlistState) Decision {
	switch state {
	case NoWatchlist:
		return Decision{State: state, Mutation: MutationNone, DispatchPR: true}
	case QuarantineNextPending:
		return Decision{State: state, Mutation: MutationQuarantineNextRelease, DispatchPR: false}
	case CurrentQuarantinedActive:
		return Decision{State: state, Mutation: MutationNone, DispatchPR: false}
	case CurrentQuarantinedExpired:
		return Decision{State: state, Mutation: MutationClearQuarantineAndSetLatest, DispatchPR: true}
	default:
		return Decision{State: state, Mutation: MutationSetLatestAllowed, DispatchPR: true}
	}
}
