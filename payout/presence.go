package payout

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/samber/lo"
	"github.com/warp/bank-interest/generic"
)

// PresenceOracle tells whether an account owner is currently online.
type PresenceOracle interface {
	IsOnline(owner generic.OwnerID) bool
}

// Tracker is a PresenceOracle fed by heartbeats. An owner stays online for
// ttl after the last MarkOnline.
type Tracker struct {
	cache *ttlcache.Cache[generic.OwnerID, time.Time]
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		cache: ttlcache.New[generic.OwnerID, time.Time](
			ttlcache.WithTTL[generic.OwnerID, time.Time](ttl),
			ttlcache.WithDisableTouchOnHit[generic.OwnerID, time.Time](),
		),
	}
}

// Start runs the expiry loop until Stop is called. It blocks.
func (t *Tracker) Start() { t.cache.Start() }

func (t *Tracker) Stop() { t.cache.Stop() }

func (t *Tracker) MarkOnline(owner generic.OwnerID) {
	t.cache.Set(owner, time.Now(), ttlcache.DefaultTTL)
}

func (t *Tracker) MarkOffline(owner generic.OwnerID) {
	t.cache.Delete(owner)
}

func (t *Tracker) IsOnline(owner generic.OwnerID) bool {
	return t.cache.Get(owner) != nil
}

// LastSeen returns the last heartbeat of an online owner.
func (t *Tracker) LastSeen(owner generic.OwnerID) (time.Time, bool) {
	item := t.cache.Get(owner)
	if item == nil {
		return time.Time{}, false
	}
	return item.Value(), true
}

// Online lists every owner currently online.
func (t *Tracker) Online() []generic.OwnerID {
	return lo.Filter(t.cache.Keys(), func(owner generic.OwnerID, _ int) bool {
		return t.IsOnline(owner)
	})
}

// StaticPresence is a fixed PresenceOracle, useful in tests and simulations.
type StaticPresence map[generic.OwnerID]bool

func (s StaticPresence) IsOnline(owner generic.OwnerID) bool { return s[owner] }
