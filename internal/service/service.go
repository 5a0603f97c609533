// Package service schedules backlog passes with cron.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/iwbot/internal/backlog"
	"github.com/MimeLyc/iwbot/internal/config"
	"github.com/MimeLyc/iwbot/pkg/icron"
	"github.com/MimeLyc/iwbot/pkg/log"
)

// Runner executes passes; *backlog.Driver is one.
type Runner interface {
	Run(ctx context.Context) error
	Recheck(ctx context.Context) error
}

type passHistory interface {
	ListPasses(ctx context.Context, limit int) ([]backlog.PassRecord, error)
}

type PassService struct {
	runner  Runner
	history passHistory
	cron    *cron.Cron
	now     func() time.Time

	mu        sync.Mutex
	settings  config.RuntimeSettings
	entries   []cron.EntryID
	ctx       context.Context
	scheduled bool

	group singleflight.Group
	busy  atomic.Bool
}

func NewPassService(runner Runner, history passHistory, c *cron.Cron, settings config.RuntimeSettings) *PassService {
	return &PassService{
		runner:   runner,
		history:  history,
		cron:     c,
		now:      time.Now,
		settings: settings,
	}
}

// Schedule registers the pass and recheck jobs. They run with ctx, so
// cancelling it interrupts a running pass at the next page boundary.
func (s *PassService) Schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.scheduled = true
	return s.addEntriesLocked()
}

// ApplyRuntimeSettings swaps the cron entries for new schedules.
func (s *PassService) ApplyRuntimeSettings(next config.RuntimeSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.settings
	s.settings = next
	if !s.scheduled {
		return nil
	}
	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = nil
	if err := s.addEntriesLocked(); err != nil {
		s.settings = prev
		if rerr := s.addEntriesLocked(); rerr != nil {
			log.Error("restore previous schedule: %v", rerr)
		}
		return err
	}
	log.Info("Rescheduled passes: pass=%q recheck=%q", next.PassCron, next.RecheckCron)
	return nil
}

func (s *PassService) addEntriesLocked() error {
	ctx := s.ctx
	id, err := s.cron.AddFunc(s.settings.PassCron, func() { s.runLogged(ctx, backlog.PassBulk) })
	if err != nil {
		return fmt.Errorf("schedule pass: %w", err)
	}
	s.entries = append(s.entries, id)

	if s.settings.RecheckCron == "" {
		return nil
	}
	id, err = s.cron.AddFunc(s.settings.RecheckCron, func() { s.runLogged(ctx, backlog.PassRecheck) })
	if err != nil {
		s.cron.Remove(s.entries[len(s.entries)-1])
		s.entries = s.entries[:len(s.entries)-1]
		return fmt.Errorf("schedule recheck: %w", err)
	}
	s.entries = append(s.entries, id)
	return nil
}

// RunPass runs one pass of kind. Concurrent calls share the running pass
// instead of queueing a second one.
func (s *PassService) RunPass(ctx context.Context, kind string) error {
	_, err, shared := s.group.Do("pass", func() (any, error) {
		s.busy.Store(true)
		defer s.busy.Store(false)
		switch kind {
		case backlog.PassRecheck:
			return nil, s.runner.Recheck(ctx)
		default:
			return nil, s.runner.Run(ctx)
		}
	})
	if shared {
		log.Debug("%s pass joined a running one", kind)
	}
	return err
}

// Trigger starts a pass in the background unless one is running.
func (s *PassService) Trigger(kind string) bool {
	if s.busy.Load() {
		return false
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go s.runLogged(ctx, kind)
	return true
}

func (s *PassService) Busy() bool {
	return s.busy.Load()
}

func (s *PassService) runLogged(ctx context.Context, kind string) {
	log.Info("Starting %s pass", kind)
	err := s.RunPass(ctx, kind)
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("%s pass interrupted", kind)
	case err != nil:
		log.Error("%s pass failed: %v", kind, err)
	}
}

// RecheckDue reports whether a scheduled recheck was missed since the
// last completed one, e.g. while the service was down.
func (s *PassService) RecheckDue(ctx context.Context) (bool, error) {
	s.mu.Lock()
	expr := s.settings.RecheckCron
	s.mu.Unlock()
	if expr == "" || s.history == nil {
		return false, nil
	}
	passes, err := s.history.ListPasses(ctx, 50)
	if err != nil {
		return false, fmt.Errorf("list passes: %w", err)
	}
	var last time.Time
	for _, p := range passes {
		if p.Kind == backlog.PassRecheck && p.Status == backlog.StatusCompleted && p.FinishedAt.After(last) {
			last = p.FinishedAt
		}
	}
	return icron.Due(expr, last, s.now())
}

// CatchUp runs a missed recheck right away.
func (s *PassService) CatchUp(ctx context.Context) error {
	due, err := s.RecheckDue(ctx)
	if err != nil || !due {
		return err
	}
	log.Info("Recheck is overdue, running it now")
	return s.RunPass(ctx, backlog.PassRecheck)
}
