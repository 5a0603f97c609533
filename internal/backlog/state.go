package backlog

import (
	"context"
	"slices"
	"time"

	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/resolver"
)

// Pass kinds. The bulk pass walks the whole backlog; the recheck pass
// revisits pages with recorded problems.
const (
	PassBulk    = "bulk"
	PassRecheck = "recheck"
)

// State is a resumable position in a backlog. Titles never change during
// a pass.
type State struct {
	Pass      string           `json:"pass"`
	Titles    []string         `json:"titles"`
	Cursor    int              `json:"cursor"`
	Frequency []resolver.Count `json:"frequency"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewState starts a pass over titles, deduplicated and sorted.
func NewState(pass string, titles []string) State {
	sorted := slices.Clone(titles)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	filtered := sorted[:0]
	for _, t := range sorted {
		if t != "" {
			filtered = append(filtered, t)
		}
	}
	return State{Pass: pass, Titles: filtered, Frequency: []resolver.Count{}}
}

func (s State) Done() bool {
	return s.Cursor >= len(s.Titles)
}

// Current returns the title under the cursor.
func (s State) Current() (string, bool) {
	if s.Done() || s.Cursor < 0 {
		return "", false
	}
	return s.Titles[s.Cursor], true
}

func (s State) Remaining() int {
	if s.Done() {
		return 0
	}
	return len(s.Titles) - s.Cursor
}

// PassStatus is the driver state of a pass.
type PassStatus string

const (
	StatusIdle        PassStatus = "idle"
	StatusRunning     PassStatus = "running"
	StatusInterrupted PassStatus = "interrupted"
	StatusCompleted   PassStatus = "completed"
)

// PassRecord summarizes one pass for history.
type PassRecord struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     PassStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Pages      int        `json:"pages"`
	Changed    int        `json:"changed"`
	Skipped    int        `json:"skipped"`
	Problems   int        `json:"problems"`
}

// Store persists backlog positions, the problem ledger and pass history.
type Store interface {
	SaveBacklog(ctx context.Context, state State) error
	LoadBacklog(ctx context.Context, pass string) (State, bool, error)
	ReplaceProblems(ctx context.Context, entries []ledger.Entry) error
	LoadProblems(ctx context.Context) ([]ledger.Entry, error)
	RecordPass(ctx context.Context, rec PassRecord) error
	ListPasses(ctx context.Context, limit int) ([]PassRecord, error)
}
