// Package likes keeps the in-memory like sets of every known message.
package likes

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

type bucket struct {
	users     map[string]struct{}
	createdAt time.Time
}

// Aggregator maps message ids to the set of users who currently like them.
// In-memory state is authoritative once a bucket exists.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: make(map[string]*bucket),
	}
}

// Toggle adds user to the likers of messageID, or removes them if already present,
// and returns the resulting likers sorted by name. A bucket created here for an
// unseen id is stamped with at.
func (a *Aggregator) Toggle(messageID, user string, at time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.bucketLocked(messageID, nil, at)
	if _, ok := b.users[user]; ok {
		delete(b.users, user)
	} else {
		b.users[user] = struct{}{}
	}
	return sortedUsers(b)
}

// Ensure seeds a bucket for messageID the first time it is observed. Existing
// buckets are left untouched so stale persisted likes never overwrite live state.
func (a *Aggregator) Ensure(messageID string, initial []string, createdAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bucketLocked(messageID, initial, createdAt)
}

// Snapshot returns the sorted likers of messageID, empty when unknown.
func (a *Aggregator) Snapshot(messageID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[messageID]
	if !ok {
		return []string{}
	}
	return sortedUsers(b)
}

// EvictBefore drops buckets whose message was created strictly before cutoff
// and returns how many were removed.
func (a *Aggregator) EvictBefore(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, b := range a.buckets {
		if b.createdAt.Before(cutoff) {
			delete(a.buckets, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked buckets.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

func (a *Aggregator) bucketLocked(messageID string, initial []string, createdAt time.Time) *bucket {
	if b, ok := a.buckets[messageID]; ok {
		return b
	}
	b := &bucket{
		users:     make(map[string]struct{}, len(initial)),
		createdAt: createdAt,
	}
	for _, user := range initial {
		if user != "" {
			b.users[user] = struct{}{}
		}
	}
	a.buckets[messageID] = b
	return b
}

func sortedUsers(b *bucket) []string {
	users := lo.Keys(b.users)
	sort.Strings(users)
	return users
}
