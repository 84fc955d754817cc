package memtable

import (
	"sync"
	"sync/atomic"
)

// searchKeyPool recycles the VersionKey values used only for seeking, so the
// read path does not allocate one per lookup. Keys stored in the skip list are
// never taken from this pool.
type searchKeyPool struct {
	sp     sync.Pool
	hits   atomic.Uint64
	misses atomic.Uint64
}

func newSearchKeyPool() *searchKeyPool {
	return &searchKeyPool{}
}

// Get returns a zeroed VersionKey.
func (p *searchKeyPool) Get() *VersionKey {
	if v := p.sp.Get(); v != nil {
		p.hits.Add(1)
		return v.(*VersionKey)
	}
	p.misses.Add(1)
	return &VersionKey{}
}

// Put resets k and returns it to the pool.
func (p *searchKeyPool) Put(k *VersionKey) {
	k.Key = nil
	k.Timestamp = 0
	p.sp.Put(k)
}

// Metrics returns the pool hit and miss counters.
func (p *searchKeyPool) Metrics() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}

var searchKeys = newSearchKeyPool()

// SearchKeyPoolMetrics returns how often read-path search keys were reused
// from the pool (hits) or freshly allocated (misses) in this process.
func SearchKeyPoolMetrics() (hits, misses uint64) {
	return searchKeys.Metrics()
}
