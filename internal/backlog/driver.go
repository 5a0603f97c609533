// Package backlog walks candidate pages, resolves the markers on each and
// writes the results back, keeping a resumable position.
package backlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/iwbot/internal/identity"
	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/metrics"
	"github.com/MimeLyc/iwbot/internal/resolver"
	"github.com/MimeLyc/iwbot/internal/wiki"
	"github.com/MimeLyc/iwbot/pkg/log"
)

// Pages reads and writes wiki pages.
type Pages interface {
	FetchPage(ctx context.Context, lang, title string) (wiki.Page, error)
	SavePage(ctx context.Context, lang, title, text, summary string) error
}

// Lister enumerates candidate pages.
type Lister interface {
	Search(ctx context.Context, lang, query string, namespaces []int) ([]string, error)
	CategoryMembers(ctx context.Context, lang, category string) ([]string, error)
	Backlinks(ctx context.Context, lang, template string) ([]string, error)
}

// Cache is the part of the identity cache the driver manages.
type Cache interface {
	Prefetch(ctx context.Context, keys []identity.Key) error
	Clear(ctx context.Context) error
}

// Resolver decides the fate of one occurrence.
type Resolver interface {
	Resolve(ctx context.Context, occ marker.Occurrence) (resolver.Outcome, error)
	Counter() *resolver.Counter
}

// Saver persists side state at flush time, e.g. the turk file.
type Saver interface {
	Save() error
}

type Options struct {
	Lang                string
	Searches            []string
	Namespaces          []int
	Categories          []string
	Templates           []string
	SkipPrefixes        []string
	ManualEditTemplates []string
	ReportPage          string
	StatsPage           string
	StatsTop            int
	// FlushEvery persists state after that many pages; 0 flushes only at
	// pass boundaries.
	FlushEvery int
	// MaxPages stops a pass early after that many pages; 0 is unlimited.
	MaxPages int
	DryRun   bool
	Annotate bool
	Loop     bool
	Now      func() time.Time
}

type Driver struct {
	pages    Pages
	lister   Lister
	cache    Cache
	resolver Resolver
	ledger   *ledger.Ledger
	store    Store
	turk     Saver
	opts     Options

	// one pass at a time
	runMu sync.Mutex

	mu     sync.RWMutex
	status PassStatus
	state  State
	record PassRecord
}

func NewDriver(pages Pages, lister Lister, cache Cache, res Resolver, l *ledger.Ledger, store Store, opts Options) *Driver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Lang == "" {
		opts.Lang = "uk"
	}
	return &Driver{
		pages:    pages,
		lister:   lister,
		cache:    cache,
		resolver: res,
		ledger:   l,
		store:    store,
		opts:     opts,
		status:   StatusIdle,
	}
}

// WithTurk makes flushes save the adjudication file too.
func (d *Driver) WithTurk(t Saver) *Driver {
	d.turk = t
	return d
}

// Snapshot is the driver status as seen from outside.
type Snapshot struct {
	Status  PassStatus `json:"status"`
	Pass    string     `json:"pass,omitempty"`
	Cursor  int        `json:"cursor"`
	Total   int        `json:"total"`
	Current string     `json:"current,omitempty"`
	Record  PassRecord `json:"record"`
}

func (d *Driver) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cur, _ := d.state.Current()
	return Snapshot{
		Status:  d.status,
		Pass:    d.state.Pass,
		Cursor:  d.state.Cursor,
		Total:   len(d.state.Titles),
		Current: cur,
		Record:  d.record,
	}
}

func (d *Driver) Ledger() *ledger.Ledger {
	return d.ledger
}

// Restore loads the stored ledger and frequency counter.
func (d *Driver) Restore(ctx context.Context) error {
	entries, err := d.store.LoadProblems(ctx)
	if err != nil {
		return fmt.Errorf("load problems: %w", err)
	}
	d.ledger.Restore(entries)
	metrics.ProblemPages.Set(float64(d.ledger.Len()))

	state, ok, err := d.store.LoadBacklog(ctx, PassBulk)
	if err != nil {
		return fmt.Errorf("load backlog: %w", err)
	}
	if ok {
		d.resolver.Counter().Restore(state.Frequency)
	}
	return nil
}

// Run performs the bulk pass, resuming a stored position when there is one.
// With Loop set, a finished pass is followed by a new one until ctx is done.
// It returns ctx.Err() when interrupted.
func (d *Driver) Run(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	for {
		state, ok, err := d.store.LoadBacklog(ctx, PassBulk)
		if err != nil {
			return fmt.Errorf("load backlog: %w", err)
		}
		if !ok || len(state.Titles) == 0 {
			if state, err = d.freshBacklog(ctx); err != nil {
				return err
			}
		}
		d.resolver.Counter().Restore(state.Frequency)

		done, err := d.runPass(ctx, state)
		if err != nil || !done {
			return err
		}

		if err := d.PublishStats(ctx); err != nil {
			log.Error("publish stats: %v", err)
		}
		next, err := d.freshBacklog(ctx)
		if err != nil {
			return err
		}
		d.resolver.Counter().Reset()
		if err := d.store.SaveBacklog(ctx, next); err != nil {
			return fmt.Errorf("save backlog: %w", err)
		}
		if !d.opts.Loop || ctx.Err() != nil {
			return nil
		}
	}
}

// Recheck re-resolves every page currently in the ledger against a wiped
// identity cache, so fixes made since the last check are picked up.
func (d *Driver) Recheck(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	counter := d.resolver.Counter()
	saved := counter.Snapshot()
	defer counter.Restore(saved)

	state, ok, err := d.store.LoadBacklog(ctx, PassRecheck)
	if err != nil {
		return fmt.Errorf("load recheck backlog: %w", err)
	}
	if !ok || state.Done() {
		if err := d.cache.Clear(ctx); err != nil {
			return fmt.Errorf("clear identity cache: %w", err)
		}
		state = NewState(PassRecheck, d.ledger.Pages())
		log.Info("recheck of %d problem pages", len(state.Titles))
	}
	_, err = d.runPass(ctx, state)
	return err
}

func (d *Driver) freshBacklog(ctx context.Context) (State, error) {
	titles, err := d.BuildBacklog(ctx)
	if err != nil {
		return State{}, err
	}
	state := NewState(PassBulk, titles)
	log.Info("backlog of %d pages", len(state.Titles))
	return state, nil
}

// BuildBacklog collects candidates from searches, categories and backlinks.
func (d *Driver) BuildBacklog(ctx context.Context) ([]string, error) {
	titles := make([]string, 0)
	for _, q := range d.opts.Searches {
		found, err := d.lister.Search(ctx, d.opts.Lang, q, d.opts.Namespaces)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", q, err)
		}
		titles = append(titles, found...)
	}
	for _, c := range d.opts.Categories {
		found, err := d.lister.CategoryMembers(ctx, d.opts.Lang, c)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c, err)
		}
		titles = append(titles, found...)
	}
	for _, t := range d.opts.Templates {
		found, err := d.lister.Backlinks(ctx, d.opts.Lang, t)
		if err != nil {
			return nil, fmt.Errorf("backlinks of %q: %w", t, err)
		}
		titles = append(titles, found...)
	}
	return titles, nil
}

// runPass walks state from its cursor. It reports whether the pass
// completed; an interrupted pass returns ctx.Err() after persisting.
func (d *Driver) runPass(ctx context.Context, state State) (bool, error) {
	rec := PassRecord{
		ID:        uuid.NewString(),
		Kind:      state.Pass,
		Status:    StatusRunning,
		StartedAt: d.opts.Now(),
	}
	d.setRunning(state, rec)
	if err := d.store.RecordPass(ctx, rec); err != nil {
		log.Warn("record pass: %v", err)
	}
	metrics.BacklogSize.WithLabelValues(state.Pass).Set(float64(len(state.Titles)))

	processed := 0
	for !state.Done() {
		if ctx.Err() != nil {
			return false, d.interrupt(state, ctx.Err())
		}
		if d.opts.MaxPages > 0 && processed >= d.opts.MaxPages {
			log.Info("stopping after %d pages", processed)
			return false, d.interrupt(state, nil)
		}

		title, _ := state.Current()
		result, err := d.ProcessPage(ctx, title)
		if err != nil {
			// the page was not finished, it is retried on resume
			return false, d.interrupt(state, err)
		}
		processed++
		d.count(result)

		state.Cursor++
		d.setState(state)
		metrics.BacklogCursor.WithLabelValues(state.Pass).Set(float64(state.Cursor))
		if d.opts.FlushEvery > 0 && processed%d.opts.FlushEvery == 0 {
			if err := d.flush(ctx, state); err != nil {
				log.Error("flush: %v", err)
			}
		}
	}

	if err := d.flush(ctx, state); err != nil {
		log.Error("flush: %v", err)
	}
	if err := d.PublishReports(ctx); err != nil {
		log.Error("publish reports: %v", err)
	}
	d.finish(StatusCompleted)
	snap := d.Snapshot()
	log.Info("%s pass finished: %d pages, %d changed, %d skipped, %d problems",
		state.Pass, snap.Record.Pages, snap.Record.Changed, snap.Record.Skipped, snap.Record.Problems)
	return true, nil
}

// interrupt persists state with a fresh context, since ctx may be the one
// that was cancelled.
func (d *Driver) interrupt(state State, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.flush(ctx, state); err != nil {
		log.Error("flush on interrupt: %v", err)
	}
	d.finish(StatusInterrupted)
	log.Info("%s pass interrupted at %d/%d", state.Pass, state.Cursor, len(state.Titles))
	return cause
}

func (d *Driver) flush(ctx context.Context, state State) error {
	state.UpdatedAt = d.opts.Now()
	if state.Pass == PassBulk {
		state.Frequency = d.resolver.Counter().Snapshot()
	}
	var errs []error
	if err := d.store.SaveBacklog(ctx, state); err != nil {
		errs = append(errs, fmt.Errorf("save backlog: %w", err))
	}
	if err := d.store.ReplaceProblems(ctx, d.ledger.Entries("")); err != nil {
		errs = append(errs, fmt.Errorf("save problems: %w", err))
	}
	if d.turk != nil {
		if err := d.turk.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save turk: %w", err))
		}
	}
	metrics.ProblemPages.Set(float64(d.ledger.Len()))
	return errors.Join(errs...)
}

func (d *Driver) setRunning(state State, rec PassRecord) {
	d.mu.Lock()
	d.status = StatusRunning
	d.state = state
	d.record = rec
	d.mu.Unlock()
}

func (d *Driver) setState(state State) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

func (d *Driver) count(r PageResult) {
	d.mu.Lock()
	d.record.Pages++
	switch {
	case r.Skipped:
		d.record.Skipped++
	case r.Saved:
		d.record.Changed++
	}
	d.record.Problems += len(r.Problems)
	d.mu.Unlock()

	label := "unchanged"
	switch {
	case r.Skipped:
		label = "skipped"
	case r.Saved:
		label = "changed"
	case len(r.Problems) > 0:
		label = "problems"
	}
	metrics.PagesProcessed.WithLabelValues(d.Snapshot().Pass, label).Inc()
}

func (d *Driver) finish(status PassStatus) {
	d.mu.Lock()
	d.status = status
	d.record.Status = status
	d.record.FinishedAt = d.opts.Now()
	rec := d.record
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.store.RecordPass(ctx, rec); err != nil {
		log.Warn("record pass: %v", err)
	}
}
