package autobump

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deptex/watchtower/pkg/storage"
)

func TestEvaluateWatchlist(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name string
		row  *storage.WatchlistRow
		want WatchlistState
	}{
		{
			name: "nil row",
			row:  nil,
			want: NoWatchlist,
		},
		{
			name: "quarantine next release pending",
			row:  &storage.WatchlistRow{QuarantineNextRelease: true},
			want: QuarantineNextPending,
		},
		{
			name: "quarantine next release wins over current quarantine",
			row:  &storage.WatchlistRow{QuarantineNextRelease: true, IsCurrentVersionQuarantined: true},
			want: QuarantineNextPending,
		},
		{
			name: "current quarantine active",
			row:  &storage.WatchlistRow{IsCurrentVersionQuarantined: true, QuarantineUntil: &future},
			want: CurrentQuarantinedActive,
		},
		{
			name: "current quarantine expired",
			row:  &storage.WatchlistRow{IsCurrentVersionQuarantined: true, QuarantineUntil: &past},
			want: CurrentQuarantinedExpired,
		},
		{
			name: "quarantine until equal to now is expired",
			row:  &storage.WatchlistRow{IsCurrentVersionQuarantined: true, QuarantineUntil: &now},
			want: CurrentQuarantinedExpired,
		},
		{
			name: "quarantined without until is expired",
			row:  &storage.WatchlistRow{IsCurrentVersionQuarantined: true},
			want: CurrentQuarantinedExpired,
		},
		{
			name: "plain row",
			row:  &storage.WatchlistRow{},
			want: Normal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateWatchlist(tt.row, now))
		})
	}
}

func TestDecideWatchlist(t *testing.T) {
	tests := []struct {
		state      WatchlistState
		mutation   WatchlistMutation
		dispatchPR bool
	}{
		{state: NoWatchlist, mutation: MutationNone, dispatchPR: true},
		{state: QuarantineNextPending, mutation: MutationQuarantineNextRelease, dispatchPR: false},
		{state: CurrentQuarantinedActive, mutation: MutationNone, dispatchPR: false},
		{state: CurrentQuarantinedExpired, mutation: MutationClearQuarantineAndSetLatest, dispatchPR: true},
		{state: Normal, mutation: MutationSetLatestAllowed, dispatchPR: true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			decision := DecideWatchlist(tt.state)
			assert.Equal(t, tt.mutation, decision.Mutation)
			assert.Equal(t, tt.dispatchPR, decision.DispatchPR)
		})
	}
}
