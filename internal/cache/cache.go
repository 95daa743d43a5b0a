// Package cache implements propd's TTL-evicting request cache: a
// read-write-locked map with a dedicated cleaner goroutine, lazy
// expiry-on-read, and coalesced periodic sweeps. Grounded on
// original_source/lib/cache.c, generalized from teacher's
// (armandParser-gofast-server) ticker-driven ttlIndex sweep in
// server.go:cleanupExpiredKeys.
package cache

import (
	"sync"
	"time"

	"propd/internal/durationx"
	"propd/internal/value"

	"github.com/sirupsen/logrus"
)

// Inf re-exports the shared never-expires sentinel for callers that only
// import the cache package.
const Inf = durationx.Inf

type item struct {
	value    value.Value
	modified time.Time
	duration time.Duration
}

func (it item) live(now time.Time) bool {
	return it.duration == Inf || it.modified.Add(it.duration).After(now)
}

func (it item) remaining(now time.Time) time.Duration {
	if it.duration == Inf {
		return Inf
	}
	rem := it.duration - now.Sub(it.modified)
	if rem < 0 {
		return 0
	}
	return rem
}

// Params bundles the cache's construction-time tuning knobs (spec §4.3).
type Params struct {
	MinInterval     time.Duration
	MaxInterval     time.Duration
	DefaultDuration time.Duration
	MinDuration     time.Duration
}

// Cache is a TTL map of recent values with background eviction.
type Cache struct {
	params Params
	log    *logrus.Entry

	mu    sync.RWMutex
	items map[string]item

	notice   chan struct{}
	lastSwep time.Time
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time // overridable for tests
}

// New creates a cache and starts its cleaner goroutine.
func New(params Params, log *logrus.Entry) *Cache {
	if log == nil {
		log = logrus.WithField("component", "cache")
	}
	c := &Cache{
		params: params,
		log:    log,
		items:  make(map[string]item),
		notice: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go c.cleanerLoop()
	return c
}

func (c *Cache) poke() {
	select {
	case c.notice <- struct{}{}:
	default:
	}
}

func (c *Cache) cleanerLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.params.MaxInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.notice:
			now := c.now()
			if !c.lastSwep.IsZero() && now.Sub(c.lastSwep) < c.params.MinInterval {
				continue
			}
			c.sweep(now)
		case <-ticker.C:
			c.sweep(c.now())
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSwep = now
	var removed int
	for k, it := range c.items {
		if !it.live(now) {
			delete(c.items, k)
			removed++
		}
	}
	if removed > 0 {
		c.log.WithField("removed", removed).Debug("cache sweep evicted expired entries")
	}
}

// Get returns a copy of the cached value and its remaining TTL clamped to
// at least MinDuration, or ok=false if absent or expired. An expired read
// pokes the cleaner to sweep eagerly.
func (c *Cache) Get(key string) (v value.Value, remaining time.Duration, ok bool) {
	now := c.now()

	c.mu.RLock()
	it, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return value.Value{}, 0, false
	}
	if !it.live(now) {
		c.poke()
		return value.Value{}, 0, false
	}

	rem := it.remaining(now)
	if rem != Inf && rem < c.params.MinDuration {
		rem = c.params.MinDuration
	}
	return it.value.Dup(), rem, true
}

// Set inserts or overwrites key. duration==0 substitutes DefaultDuration;
// otherwise the value is floored at MinDuration unless it is the Inf
// sentinel.
func (c *Cache) Set(key string, v value.Value, duration time.Duration) {
	duration = c.substitute(duration)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: v.Dup(), modified: c.now(), duration: duration}
}

func (c *Cache) substitute(duration time.Duration) time.Duration {
	if duration == 0 {
		return c.params.DefaultDuration
	}
	if duration != Inf && duration < c.params.MinDuration {
		return c.params.MinDuration
	}
	return duration
}

// Del removes key, reporting whether it was present.
func (c *Cache) Del(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	return true
}

// Entry describes one live cache entry in a Snapshot.
type Entry struct {
	Key       string        `yaml:"key"`
	Value     string        `yaml:"value"`
	Remaining time.Duration `yaml:"remaining"`
}

// Snapshot returns a point-in-time copy of all live entries, for
// dump_db_cache. Entries come in map iteration order, which is not
// defined.
func (c *Cache) Snapshot() []Entry {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.items))
	for k, it := range c.items {
		if !it.live(now) {
			continue
		}
		out = append(out, Entry{Key: k, Value: value.Format(it.value, true), Remaining: it.remaining(now)})
	}
	return out
}

// Close stops the cleaner goroutine and waits for it to exit.
func (c *Cache) Close() {
	close(c.stop)
	<-c.done
}
