package payout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/bank-interest/payout"
)

func TestTracker_OnlineUntilExpiry(t *testing.T) {
	tracker := payout.NewTracker(50 * time.Millisecond)
	go tracker.Start()
	defer tracker.Stop()

	assert.False(t, tracker.IsOnline("alice"))

	tracker.MarkOnline("alice")
	assert.True(t, tracker.IsOnline("alice"))
	assert.ElementsMatch(t, []string{"alice"}, toStrings(tracker.Online()))

	_, seen := tracker.LastSeen("alice")
	assert.True(t, seen)

	assert.Eventually(t, func() bool { return !tracker.IsOnline("alice") },
		time.Second, 10*time.Millisecond)
}

func TestTracker_MarkOffline(t *testing.T) {
	tracker := payout.NewTracker(time.Hour)

	tracker.MarkOnline("bob")
	tracker.MarkOffline("bob")

	assert.False(t, tracker.IsOnline("bob"))
	_, seen := tracker.LastSeen("bob")
	assert.False(t, seen)
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
