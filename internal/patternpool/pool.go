// Package patternpool provides the shared compiled-regex pool used by every
// medlex component that matches text. Patterns are keyed by (source, flags,
// category) so a given expression is compiled exactly once, reuse updates
// usage/recency bookkeeping, and the pool is bounded: when the cap is
// exceeded the least-used, least-recently-used fifth of the pool is evicted.
//
// No other package in the engine constructs its own uncached regular
// expressions; everything goes through [Pool.Compile].
package patternpool

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openclinika/medlex/pkg/clinical"
)

// ErrPatternTimeout is returned by [Pool.Compile] when compilation does not
// finish within the configured budget. Callers should treat the pattern as
// non-matching rather than failing their own operation.
var ErrPatternTimeout = errors.New("patternpool: compile exceeded timeout budget")

const (
	defaultMaxSize        = 500
	defaultCompileTimeout = 50 * time.Millisecond

	// evictFraction is the share of the pool removed by one eviction pass.
	evictFraction = 0.2

	// Memory estimate heuristic: fixed overhead per compiled program plus a
	// multiplier on the source length. An estimate only, surfaced in stats.
	entryBaseBytes      = 2048
	entryPerSourceBytes = 64
)

// Option is a functional option for configuring a [Pool].
type Option func(*Pool)

// WithMaxSize sets the hard cap on pooled patterns. Default: 500.
func WithMaxSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

// WithCompileTimeout sets the compilation budget. Default: 50ms.
func WithCompileTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.compileTimeout = d
		}
	}
}

// entry is one pooled compiled pattern with its bookkeeping.
type entry struct {
	key      uint64
	re       *regexp.Regexp
	source   string
	flags    string
	category clinical.Category
	domain   clinical.Domain

	// usage and lastUsed are updated atomically on the read path so cache
	// hits never take the pool write lock.
	usage    atomic.Int64
	lastUsed atomic.Int64 // unix nanos

	compileTime time.Duration
	createdAt   time.Time
}

// Pool is the shared pattern pool. All methods are safe for concurrent use:
// writes (compile, evict, invalidate) are serialised by a mutex; hits on
// already-compiled entries only touch atomic counters.
type Pool struct {
	mu             sync.RWMutex
	entries        map[uint64]*entry
	byCat          map[clinical.Category]map[uint64]struct{}
	byDomain       map[clinical.Domain]map[uint64]struct{}
	maxSize        int
	compileTimeout time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	totalCompile time.Duration // guarded by mu
	compileCount int64         // guarded by mu

	now func() time.Time
}

// New creates a Pool with the supplied options.
func New(opts ...Option) *Pool {
	p := &Pool{
		entries:        make(map[uint64]*entry),
		byCat:          make(map[clinical.Category]map[uint64]struct{}),
		byDomain:       make(map[clinical.Domain]map[uint64]struct{}),
		maxSize:        defaultMaxSize,
		compileTimeout: defaultCompileTimeout,
		now:            time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Compile returns the compiled pattern for (source, flags, category),
// compiling and pooling it on first request. flags is a subset of "ims"
// applied as an inline group prefix. domain may be empty for patterns that
// are not specialty-specific.
//
// On a pool hit the compiled regexp is returned immediately with usage and
// recency updated; no recompilation occurs. On a miss the pattern is
// compiled under the write lock with the pool's timeout budget; a pattern
// that cannot be compiled in time fails with [ErrPatternTimeout] and the
// pool is left unchanged.
func (p *Pool) Compile(source, flags string, category clinical.Category, domain clinical.Domain) (*regexp.Regexp, error) {
	if source == "" {
		return nil, errors.New("patternpool: empty pattern source")
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("patternpool: unknown category %q", category)
	}

	key := patternKey(source, flags, category)

	p.mu.RLock()
	e, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		p.hits.Add(1)
		e.usage.Add(1)
		e.lastUsed.Store(p.now().UnixNano())
		return e.re, nil
	}

	p.misses.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check: a concurrent caller may have compiled it while we waited
	// for the lock. The second caller must not pay the compile cost.
	if e, ok := p.entries[key]; ok {
		e.usage.Add(1)
		e.lastUsed.Store(p.now().UnixNano())
		return e.re, nil
	}

	start := p.now()
	re, err := compileWithTimeout(applyFlags(source, flags), p.compileTimeout)
	if err != nil {
		return nil, err
	}
	elapsed := p.now().Sub(start)

	e = &entry{
		key:         key,
		re:          re,
		source:      source,
		flags:       flags,
		category:    category,
		domain:      domain,
		compileTime: elapsed,
		createdAt:   p.now(),
	}
	e.usage.Store(1)
	e.lastUsed.Store(p.now().UnixNano())

	p.entries[key] = e
	p.indexLocked(e)
	p.totalCompile += elapsed
	p.compileCount++

	if len(p.entries) > p.maxSize {
		p.evictLocked()
	}

	return re, nil
}

// Invalidate removes the pooled entry for (source, flags, category).
// Invalidating an absent pattern is a no-op.
func (p *Pool) Invalidate(source, flags string, category clinical.Category) {
	key := patternKey(source, flags, category)

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return
	}
	p.removeLocked(e)
}

// CategorySize returns the number of pooled patterns tagged with category.
func (p *Pool) CategorySize(category clinical.Category) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byCat[category])
}

// DomainSize returns the number of pooled patterns tagged with domain.
func (p *Pool) DomainSize(domain clinical.Domain) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byDomain[domain])
}

// Stats is a point-in-time snapshot of pool health.
type Stats struct {
	Size             int
	MaxSize          int
	EstimatedBytes   int64
	HitRate          float64
	Evictions        int64
	MeanCompileTime  time.Duration
	DominantCategory clinical.Category
}

// Stats returns a snapshot of the pool's size, estimated memory footprint,
// hit rate, mean compile time, and dominant category.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var estimated int64
	for _, e := range p.entries {
		estimated += entryBaseBytes + int64(len(e.source))*entryPerSourceBytes
	}

	var dominant clinical.Category
	best := 0
	for _, c := range clinical.Categories {
		if n := len(p.byCat[c]); n > best {
			dominant, best = c, n
		}
	}

	hits := p.hits.Load()
	misses := p.misses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	var meanCompile time.Duration
	if p.compileCount > 0 {
		meanCompile = p.totalCompile / time.Duration(p.compileCount)
	}

	return Stats{
		Size:             len(p.entries),
		MaxSize:          p.maxSize,
		EstimatedBytes:   estimated,
		HitRate:          hitRate,
		Evictions:        p.evictions.Load(),
		MeanCompileTime:  meanCompile,
		DominantCategory: dominant,
	}
}

// Size returns the current number of pooled patterns.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

// indexLocked adds e to the category and domain indexes. Caller holds mu.
func (p *Pool) indexLocked(e *entry) {
	if p.byCat[e.category] == nil {
		p.byCat[e.category] = make(map[uint64]struct{})
	}
	p.byCat[e.category][e.key] = struct{}{}

	if e.domain != "" {
		if p.byDomain[e.domain] == nil {
			p.byDomain[e.domain] = make(map[uint64]struct{})
		}
		p.byDomain[e.domain][e.key] = struct{}{}
	}
}

// removeLocked deletes e from the pool and both indexes. Caller holds mu.
func (p *Pool) removeLocked(e *entry) {
	delete(p.entries, e.key)
	if idx := p.byCat[e.category]; idx != nil {
		delete(idx, e.key)
	}
	if e.domain != "" {
		if idx := p.byDomain[e.domain]; idx != nil {
			delete(idx, e.key)
		}
	}
}

// evictLocked removes the bottom fifth of entries ranked by (usage ascending,
// recency ascending). Caller holds mu.
func (p *Pool) evictLocked() {
	victims := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		ui, uj := victims[i].usage.Load(), victims[j].usage.Load()
		if ui != uj {
			return ui < uj
		}
		return victims[i].lastUsed.Load() < victims[j].lastUsed.Load()
	})

	n := int(float64(p.maxSize) * evictFraction)
	if n < 1 {
		n = 1
	}
	if n > len(victims) {
		n = len(victims)
	}
	for _, e := range victims[:n] {
		p.removeLocked(e)
		p.evictions.Add(1)
	}
}

// patternKey hashes (source, flags, category) into the stable 64-bit pool key.
func patternKey(source, flags string, category clinical.Category) uint64 {
	h := fnv.New64a()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(flags))
	h.Write([]byte{0})
	h.Write([]byte(category))
	return h.Sum64()
}

// applyFlags translates the flag string ("i", "m", "s" in any combination)
// into an inline group prefix understood by regexp.
func applyFlags(source, flags string) string {
	if flags == "" {
		return source
	}
	return "(?" + flags + ")" + source
}

// compileWithTimeout compiles expr in a separate goroutine and abandons the
// result if the budget elapses first. The abandoned goroutine finishes on
// its own; regexp compilation holds no external resources.
func compileWithTimeout(expr string, budget time.Duration) (*regexp.Regexp, error) {
	type result struct {
		re  *regexp.Regexp
		err error
	}
	ch := make(chan result, 1)
	go func() {
		re, err := regexp.Compile(expr)
		ch <- result{re: re, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("patternpool: compile %q: %w", expr, r.err)
		}
		return r.re, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %q", ErrPatternTimeout, expr)
	}
}
