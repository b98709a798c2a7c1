package lanes

import (
	"context"
	"sync"
	"time"
)

// dedupEntry records an accepted request
type dedupEntry struct {
	taskID    string
	timestamp time.Time
}

// dedupCache remembers accepted request IDs for a bounded time
type dedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// newDedupCache creates a new deduplication cache
func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

func (dc *dedupCache) Stop() {
	if dc.cancel != nil {
		dc.cancel()
	}
}

// Claim reserves requestID. It returns false when the ID is already held and not expired.
func (dc *dedupCache) Claim(requestID string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if entry, exists := dc.entries[requestID]; exists && time.Since(entry.timestamp) <= dc.ttl {
		return false
	}

	dc.entries[requestID] = &dedupEntry{timestamp: time.Now()}
	return true
}

// Release drops a claim whose submission did not go through.
func (dc *dedupCache) Release(requestID string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	delete(dc.entries, requestID)
}

// Set records the task accepted for requestID
func (dc *dedupCache) Set(requestID, taskID string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.entries[requestID] = &dedupEntry{
		taskID:    taskID,
		timestamp: time.Now(),
	}
}

// Get returns the task accepted for requestID, if it has not expired
func (dc *dedupCache) Get(requestID string) (string, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, exists := dc.entries[requestID]
	if !exists || time.Since(entry.timestamp) > dc.ttl {
		return "", false
	}
	return entry.taskID, true
}

// cleanup periodically removes expired entries
func (dc *dedupCache) cleanup() {
	defer close(dc.done)

	interval := time.Minute
	if dc.ttl < interval {
		interval = dc.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-dc.ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for requestID, entry := range dc.entries {
				if now.Sub(entry.timestamp) > dc.ttl {
					delete(dc.entries, requestID)
				}
			}
			dc.mu.Unlock()
		}
	}
}

// Clear removes all entries from the cache
func (dc *dedupCache) Clear() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries = make(map[string]*dedupEntry)
}
