package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"order-metrics/models"
	"order-metrics/pkg/exception"
)

type rankEntry struct {
	name  string
	score int64
	seq   uint64 // last update order, higher is more recent
}

// Leaderboard ranks product names by order count and keeps at most `size` of them.
type Leaderboard struct {
	m       sync.Mutex
	size    int
	entries map[string]*rankEntry
	seq     uint64
	closed  atomic.Bool
}

func NewLeaderboard(size int) (*Leaderboard, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: leaderboard size must be positive, got %d", exception.ErrInvalidArgument, size)
	}
	return &Leaderboard{
		size:    size,
		entries: make(map[string]*rankEntry, size+1),
	}, nil
}

// RecordProduct increments name's score by one, then trims the board back to its size.
// Both steps happen under one lock, so concurrent callers never lose an update and never
// observe more than `size` entries.
func (l *Leaderboard) RecordProduct(name string) error {
	if l.closed.Load() {
		return fmt.Errorf("%w: leaderboard closed", exception.ErrCacheUnavailable)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty product name", exception.ErrInvalidArgument)
	}

	l.m.Lock()
	defer l.m.Unlock()

	l.seq++
	entry, ok := l.entries[name]
	if !ok {
		entry = &rankEntry{name: name}
		l.entries[name] = entry
	}
	entry.score++
	entry.seq = l.seq

	if len(l.entries) > l.size {
		l.trim()
	}
	return nil
}

// trim evicts the lowest scores first, the least recently updated among equal scores.
func (l *Leaderboard) trim() {
	ranked := l.ranked()
	for _, e := range ranked[l.size:] {
		delete(l.entries, e.name)
	}
}

// ranked returns entries best first. Callers hold l.m.
func (l *Leaderboard) ranked() []*rankEntry {
	ranked := make([]*rankEntry, 0, len(l.entries))
	for _, e := range l.entries {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].seq > ranked[j].seq
	})
	return ranked
}

// TopN returns up to n entries by descending score, most recently updated first on ties.
func (l *Leaderboard) TopN(n int) ([]models.ProductRank, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("%w: leaderboard closed", exception.ErrCacheUnavailable)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative n %d", exception.ErrInvalidArgument, n)
	}

	l.m.Lock()
	defer l.m.Unlock()

	ranked := l.ranked()
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	top := make([]models.ProductRank, 0, len(ranked))
	for _, e := range ranked {
		top = append(top, models.ProductRank{Name: e.name, Orders: e.score})
	}
	return top, nil
}

func (l *Leaderboard) Len() int {
	l.m.Lock()
	defer l.m.Unlock()
	return len(l.entries)
}

func (l *Leaderboard) close() {
	l.closed.Store(true)
}
