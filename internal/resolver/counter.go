package resolver

import (
	"cmp"
	"slices"
	"sync"

	"github.com/MimeLyc/iwbot/internal/identity"
)

// Counter tallies how often each source page was requested for translation.
type Counter struct {
	mu     sync.Mutex
	counts map[identity.Key]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[identity.Key]int)}
}

func (c *Counter) Record(lang, title string) {
	c.mu.Lock()
	c.counts[identity.Key{Lang: lang, Title: title}]++
	c.mu.Unlock()
}

// Add records one request per non-zero key.
func (c *Counter) Add(keys ...identity.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if k.Title != "" {
			c.counts[k]++
		}
	}
}

// Count is one counter row.
type Count struct {
	Lang  string `json:"lang"`
	Title string `json:"title"`
	N     int    `json:"n"`
}

// Snapshot returns all rows ordered by count, then language, then title.
func (c *Counter) Snapshot() []Count {
	c.mu.Lock()
	ret := make([]Count, 0, len(c.counts))
	for k, n := range c.counts {
		ret = append(ret, Count{Lang: k.Lang, Title: k.Title, N: n})
	}
	c.mu.Unlock()

	slices.SortFunc(ret, func(a, b Count) int {
		if a.N != b.N {
			return cmp.Compare(b.N, a.N)
		}
		if a.Lang != b.Lang {
			return cmp.Compare(a.Lang, b.Lang)
		}
		return cmp.Compare(a.Title, b.Title)
	})
	return ret
}

// Top returns at most n rows of Snapshot. n <= 0 returns everything.
func (c *Counter) Top(n int) []Count {
	rows := c.Snapshot()
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Restore replaces the counter contents, e.g. from a persisted backlog.
func (c *Counter) Restore(rows []Count) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[identity.Key]int, len(rows))
	for _, r := range rows {
		c.counts[identity.Key{Lang: r.Lang, Title: r.Title}] += r.N
	}
}

func (c *Counter) Reset() {
	c.Restore(nil)
}

func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
