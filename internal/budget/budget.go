// Package budget bounds concurrent work with named, independently sized
// semaphore domains drawn from one global budget, so no single subsystem
// can oversubscribe the host's I/O capacity.
package budget

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Standard domain names. Domains are created lazily, so callers may also
// use ad-hoc names; unregistered domains get a small default capacity.
const (
	DomainDiscovery = "discovery" // directory reads and stat calls
	DomainMatch     = "match"     // pattern evaluation
	DomainTransform = "transform" // downstream content processing
)

// Default fractions of the global budget given to the standard domains.
const (
	discoveryShare = 0.4
	matchShare     = 0.3
	transformShare = 0.3
)

// defaultDomainCapacity is handed to domains nobody registered explicitly.
const defaultDomainCapacity = 2

// idlePollInterval paces WaitIdle. The underlying semaphore exposes no
// idle-notification channel, so idleness is observed by polling counts.
const idlePollInterval = 5 * time.Millisecond

// Domain is one named concurrency budget. Counts are diagnostics, not a
// synchronization surface.
type Domain struct {
	name     string
	capacity atomic.Int64
	active   atomic.Int64
	pending  atomic.Int64

	mu   sync.Mutex
	sem  *semaphore.Weighted
	held map[*semaphore.Weighted]int64 // outstanding slots per semaphore
}

// Acquire blocks until a slot is free or ctx is done.
func (d *Domain) Acquire(ctx context.Context) error {
	d.mu.Lock()
	sem := d.sem
	d.mu.Unlock()

	d.pending.Add(1)
	err := sem.Acquire(ctx, 1)
	d.pending.Add(-1)
	if err != nil {
		return err
	}
	d.admit(sem)
	return nil
}

// TryAcquire takes a slot without blocking, reporting whether it got one.
func (d *Domain) TryAcquire() bool {
	d.mu.Lock()
	sem := d.sem
	d.mu.Unlock()
	if !sem.TryAcquire(1) {
		return false
	}
	d.admit(sem)
	return true
}

func (d *Domain) admit(sem *semaphore.Weighted) {
	d.mu.Lock()
	d.held[sem]++
	d.mu.Unlock()
	d.active.Add(1)
}

// Release returns a slot to the semaphore it was drawn from. Work admitted
// before a SetBudget resize drains the retired semaphore; it must never be
// credited to the replacement, which would over-release it.
func (d *Domain) Release() {
	d.mu.Lock()
	target := d.sem
	if d.held[target] == 0 {
		target = nil
		for sem, n := range d.held {
			if n > 0 {
				target = sem
				break
			}
		}
	}
	if target != nil {
		d.held[target]--
		if d.held[target] == 0 && target != d.sem {
			delete(d.held, target)
		}
	}
	d.mu.Unlock()
	d.active.Add(-1)
	if target != nil {
		target.Release(1)
	}
}

// Name returns the domain's name.
func (d *Domain) Name() string { return d.name }

// Capacity returns the domain's slot count.
func (d *Domain) Capacity() int64 { return d.capacity.Load() }

// Active returns how many slots are currently held.
func (d *Domain) Active() int64 { return d.active.Load() }

// Pending returns how many acquirers are queued.
func (d *Domain) Pending() int64 { return d.pending.Load() }

// Usage is a point-in-time view of one domain.
type Usage struct {
	Capacity int64
	Active   int64
	Pending  int64
}

// Manager owns the global budget and its domains.
type Manager struct {
	total int64

	mu      sync.Mutex
	domains map[string]*Domain
}

// NewManager creates a manager with the given global budget, splitting it
// across the standard domains. A non-positive total defaults to four slots
// per CPU.
func NewManager(total int64) *Manager {
	if total <= 0 {
		total = int64(runtime.NumCPU() * 4)
	}
	m := &Manager{total: total, domains: make(map[string]*Domain)}
	m.register(DomainDiscovery, share(total, discoveryShare))
	m.register(DomainMatch, share(total, matchShare))
	m.register(DomainTransform, share(total, transformShare))
	return m
}

func share(total int64, frac float64) int64 {
	n := int64(float64(total) * frac)
	if n < 1 {
		n = 1
	}
	return n
}

func (m *Manager) register(name string, capacity int64) *Domain {
	d := &Domain{
		name: name,
		sem:  semaphore.NewWeighted(capacity),
		held: make(map[*semaphore.Weighted]int64),
	}
	d.capacity.Store(capacity)
	m.domains[name] = d
	return d
}

// Total returns the global budget the standard domains were carved from.
func (m *Manager) Total() int64 { return m.total }

// For returns the named domain, creating it with defaultCapacity (or a
// small default when non-positive) on first use.
func (m *Manager) For(name string, defaultCapacity int64) *Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.domains[name]; ok {
		return d
	}
	if defaultCapacity < 1 {
		defaultCapacity = defaultDomainCapacity
	}
	return m.register(name, defaultCapacity)
}

// SetBudget resizes a domain by replacing its semaphore outright. Work
// already admitted under the old semaphore runs to completion and still
// counts as active; its slots drain the retired semaphore on release, so
// the domain can briefly exceed the new capacity until stragglers finish.
func (m *Manager) SetBudget(name string, capacity int64) {
	if capacity < 1 {
		capacity = 1
	}
	m.mu.Lock()
	d, ok := m.domains[name]
	if !ok {
		m.register(name, capacity)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	d.mu.Lock()
	d.sem = semaphore.NewWeighted(capacity)
	d.mu.Unlock()
	d.capacity.Store(capacity)
}

// InFlight returns the total slots held across all domains.
func (m *Manager) InFlight() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.domains {
		n += d.Active()
	}
	return n
}

// Snapshot returns per-domain usage for diagnostics.
func (m *Manager) Snapshot() map[string]Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Usage, len(m.domains))
	for name, d := range m.domains {
		out[name] = Usage{Capacity: d.Capacity(), Active: d.Active(), Pending: d.Pending()}
	}
	return out
}

// WaitIdle blocks until the named domain has no active or pending work, or
// ctx is done. Best effort: it observes counters on a short fixed interval.
func (m *Manager) WaitIdle(ctx context.Context, name string) error {
	d := m.For(name, 0)
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if d.Active() == 0 && d.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
