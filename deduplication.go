package tangguh

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"sync"
	"time"
)

// DeduplicationEntry is one in-flight read shared between callers. The first
// caller (owner) executes the real call; waiters block on done and receive
// the same settled result.
type DeduplicationEntry struct {
	result    Result
	done      chan struct{}
	createdAt time.Time
}

// Wait blocks until the owning call settles or ctx is cancelled.
func (e *DeduplicationEntry) Wait(ctx context.Context) Result {
	select {
	case <-e.done:
		return e.result
	case <-ctx.Done():
		return failure(&CallError{
			Code:    CodeTimeout,
			Message: "cancelled while waiting on a coalesced call",
			Cause:   ctx.Err(),
		})
	}
}

// DeduplicationTracker coalesces identical concurrent read calls. Entries are
// memory-only, removed when the call settles, and guarded by a TTL so a stuck
// owner cannot block a key forever.
type DeduplicationTracker struct {
	mu      sync.Mutex
	entries map[string]*DeduplicationEntry
	ttl     time.Duration
	now     func() time.Time
}

// DefaultDeduplicationTTL bounds how long waiters may pile onto one entry.
const DefaultDeduplicationTTL = 30 * time.Second

// NewDeduplicationTracker returns an in-memory tracker. ttl <= 0 uses
// DefaultDeduplicationTTL.
func NewDeduplicationTracker(ttl time.Duration) *DeduplicationTracker {
	if ttl <= 0 {
		ttl = DefaultDeduplicationTTL
	}
	return &DeduplicationTracker{
		entries: make(map[string]*DeduplicationEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetOrCreateEntry returns the live entry for key (owner=false), or installs
// a fresh one owned by the caller (owner=true). An entry past its TTL is
// replaced instead of joined.
func (dt *DeduplicationTracker) GetOrCreateEntry(key string) (*DeduplicationEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, ok := dt.entries[key]; ok && dt.now().Sub(entry.createdAt) < dt.ttl {
		return entry, false
	}

	entry := &DeduplicationEntry{
		done:      make(chan struct{}),
		createdAt: dt.now(),
	}
	dt.entries[key] = entry
	return entry, true
}

// Complete settles entry and releases its waiters. The map slot is removed
// immediately so failures are never served to callers that arrive after
// settlement; a slot already taken over by a fresh owner (TTL replacement)
// is left alone.
func (dt *DeduplicationTracker) Complete(key string, entry *DeduplicationEntry, res Result) {
	dt.mu.Lock()
	if dt.entries[key] == entry {
		delete(dt.entries, key)
	}
	dt.mu.Unlock()

	entry.result = res
	close(entry.done)
}

// Len reports the number of in-flight entries.
func (dt *DeduplicationTracker) Len() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return len(dt.entries)
}

// DeduplicationKeyFunc builds the coalescing key for a read call.
type DeduplicationKeyFunc func(method, endpoint string, query url.Values) string

// DefaultDeduplicationKeyFunc hashes method, endpoint and the sorted query.
func DefaultDeduplicationKeyFunc(method, endpoint string, query url.Values) string {
	h := fnv.New64a()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte{0})
			h.Write([]byte(k))
			for _, v := range query[k] {
				h.Write([]byte{'='})
				h.Write([]byte(v))
			}
		}
	}
	return fmt.Sprintf("%x", h.Sum64())
}
