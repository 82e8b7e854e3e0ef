// Package eviction implements generic TTL+capacity eviction over keyed
// filesystem paths, used independently for prepared images and submission
// working directories.
package eviction

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// timeHeap is a min-heap of visit timestamps, in UnixNano form so it can
// be persisted directly.
type timeHeap []int64

func (h timeHeap) Len() int            { return len(h) }
func (h timeHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h timeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *timeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Manager evicts paths that have gone untouched past a TTL, or beyond a
// capacity ceiling, whichever comes first — unless the path is currently
// pinned via VisitEnter/VisitLeave.
type Manager struct {
	name     string
	root     string
	interval time.Duration
	ttl      time.Duration
	capacity int
	store    *Store

	mu            sync.Mutex
	items         timeHeap
	timeToPaths   map[int64][]string
	preservePaths map[string]struct{}
}

// New constructs a manager and, if store is non-nil, loads any persisted
// state for name.
func New(name, root string, interval, ttl time.Duration, capacity int, store *Store) (*Manager, error) {
	m := &Manager{
		name:          name,
		root:          root,
		interval:      interval,
		ttl:           ttl,
		capacity:      capacity,
		store:         store,
		timeToPaths:   make(map[int64][]string),
		preservePaths: make(map[string]struct{}),
	}

	if store != nil {
		items, timeToPaths, err := store.Load(name)
		if err != nil {
			return nil, fmt.Errorf("eviction: loading state for %q: %w", name, err)
		}
		m.items = items
		if timeToPaths != nil {
			m.timeToPaths = timeToPaths
		}
		heap.Init(&m.items)
	}

	return m, nil
}

// VisitOnce records a bare visit to path, with no pin.
func (m *Manager) VisitOnce(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doVisit(path)
}

// VisitEnter records a visit and pins path against eviction until a
// matching VisitLeave.
func (m *Manager) VisitEnter(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preservePaths[path] = struct{}{}
	m.doVisit(path)
}

// VisitLeave releases a pin previously established by VisitEnter. The
// path remains eligible for normal TTL/capacity eviction afterward.
func (m *Manager) VisitLeave(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.preservePaths, path)
}

func (m *Manager) doVisit(path string) {
	now := time.Now().UnixNano()
	heap.Push(&m.items, now)
	m.timeToPaths[now] = append(m.timeToPaths[now], path)
}

// RunLoop runs clean on every interval tick until ctx is cancelled.
func (m *Manager) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.clean(ctx); err != nil {
				slog.Error("eviction cleanup failed", "manager", m.name, "error", err)
			}
		}
	}
}

func (m *Manager) clean(ctx context.Context) error {
	now := time.Now()

	m.mu.Lock()
	var evictedPaths []string
	var preservedTimes []int64

	for len(m.items) > 0 {
		oldest := m.items[0]
		age := now.Sub(time.Unix(0, oldest))
		withinTTL := age < m.ttl
		notOverflowing := len(m.items) <= m.capacity
		if withinTTL && notOverflowing {
			break
		}

		heap.Pop(&m.items)
		paths, ok := m.timeToPaths[oldest]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("eviction: missing time-to-paths record for %d", oldest)
		}
		delete(m.timeToPaths, oldest)

		var preserved []string
		for _, p := range paths {
			if _, pinned := m.preservePaths[p]; pinned {
				preserved = append(preserved, p)
			} else {
				evictedPaths = append(evictedPaths, p)
			}
		}
		if len(preserved) > 0 {
			m.timeToPaths[oldest] = preserved
			preservedTimes = append(preservedTimes, oldest)
		}
	}
	for _, t := range preservedTimes {
		heap.Push(&m.items, t)
	}

	if m.store != nil {
		if err := m.store.Save(m.name, m.items, m.timeToPaths); err != nil {
			slog.Error("eviction: persisting state failed", "manager", m.name, "error", err)
		}
	}
	m.mu.Unlock()

	if len(evictedPaths) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range evictedPaths {
		p := p
		g.Go(func() error {
			return quarantineAndDelete(gctx, m.root, p)
		})
	}
	return g.Wait()
}

func quarantineAndDelete(_ context.Context, root, path string) error {
	full := filepath.Join(root, path)
	name := filepath.Base(full)

	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Errorf("eviction: generating quarantine suffix: %w", err)
	}
	target := filepath.Join(root, "evicted", hex.EncodeToString(buf[:])+"-"+name)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("eviction: preparing quarantine dir: %w", err)
	}
	if err := os.Rename(full, target); err != nil {
		return fmt.Errorf("eviction: quarantining %s: %w", full, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("eviction: deleting quarantined %s: %w", target, err)
	}
	return nil
}
