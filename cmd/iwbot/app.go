package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/iwbot/internal/backlog"
	"github.com/MimeLyc/iwbot/internal/config"
	"github.com/MimeLyc/iwbot/internal/identity"
	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/persistence"
	"github.com/MimeLyc/iwbot/internal/resolver"
	"github.com/MimeLyc/iwbot/internal/turk"
	"github.com/MimeLyc/iwbot/internal/wiki"
	"github.com/MimeLyc/iwbot/pkg/log"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	client   *wiki.Client
	store    *persistence.SQLiteStore
	cache    *identity.Cache
	resolver *resolver.Resolver
	turk     *turk.Turk
	driver   *backlog.Driver

	closers []func() error
}

func setupLogging(cfg *config.Config) (func() error, error) {
	level := log.ParseLevel(cfg.System.LogLevel)
	if cfg.System.LogFile == "" {
		log.InitLogger(level)
		return log.GetLogger().Close, nil
	}
	logger, err := log.NewFileLogger(cfg.System.LogFile, level)
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)
	return logger.Close, nil
}

func identityBackend(ctx context.Context, cfg *config.Config, store *persistence.SQLiteStore) (identity.Backend, func() error, error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		rc, err := persistence.NewRedisIdentityCache(persistence.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   "iwbot:" + cfg.Wiki.Lang + ":",
		})
		if err != nil {
			return nil, nil, err
		}
		return rc, rc.Close, nil
	case config.CacheMemory:
		return nil, nil, nil
	default:
		n, err := store.DeleteExpiredIdentities(ctx, time.Now())
		if err != nil {
			log.Warn("Failed to purge expired identities: %v", err)
		} else if n > 0 {
			log.Info("Purged %d expired identity rows", n)
		}
		return store, nil, nil
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	client, err := wiki.NewClient(wiki.Config{
		APIURL:      cfg.Wiki.APIURL,
		WikidataURL: cfg.Wiki.WikidataURL,
		UserAgent:   cfg.Wiki.UserAgent,
		Token:       cfg.Wiki.Token,
		Timeout:     cfg.Wiki.Timeout,
		MaxRetries:  cfg.Wiki.MaxRetries,
		MaxLag:      5,
	})
	if err != nil {
		return nil, fmt.Errorf("create wiki client: %w", err)
	}
	a.client = client

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	backend, closeBackend, err := identityBackend(ctx, cfg, store)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open identity cache backend: %w", err)
	}
	if closeBackend != nil {
		a.closers = append(a.closers, closeBackend)
	}

	a.cache = identity.NewCache(
		identity.NewFetcher(client, client, cfg.Wiki.Lang),
		backend,
		identity.Options{
			PositiveTTL: cfg.Cache.PositiveTTL,
			NegativeTTL: cfg.Cache.NegativeTTL,
			Concurrency: cfg.Cache.Concurrency,
		},
	)

	a.turk, err = turk.Open(cfg.TurkPath())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open turk file: %w", err)
	}

	policy, err := resolver.ParseLinkPolicy(cfg.Backlog.LinkPolicy)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.resolver = resolver.New(a.cache, resolver.Options{
		LocalLang:   cfg.Wiki.Lang,
		Policy:      policy,
		Adjudicator: a.turk,
	})

	projects, err := config.LoadProjects(cfg.Reports.ProjectsFile)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.driver = backlog.NewDriver(client, client, a.cache, a.resolver, ledger.New(projects), store, backlog.Options{
		Lang:                cfg.Wiki.Lang,
		Searches:            cfg.Backlog.Searches,
		Namespaces:          cfg.Backlog.Namespaces,
		Categories:          cfg.Backlog.Categories,
		Templates:           cfg.Backlog.Templates,
		SkipPrefixes:        cfg.Backlog.SkipPrefixes,
		ManualEditTemplates: cfg.Backlog.ManualEditTemplates,
		ReportPage:          cfg.Reports.ReportPage,
		StatsPage:           cfg.Reports.StatsPage,
		StatsTop:            cfg.Reports.StatsTop,
		FlushEvery:          cfg.Backlog.FlushEvery,
		MaxPages:            cfg.Backlog.MaxPages,
		DryRun:              cfg.Backlog.DryRun,
		Annotate:            cfg.Backlog.Annotate,
		Loop:                cfg.Backlog.Loop,
	}).WithTurk(a.turk)

	if err := a.driver.Restore(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("restore state: %w", err)
	}
	return a, nil
}

// watchTurk reloads answers edited by hand while a pass runs.
func (a *app) watchTurk(ctx context.Context) {
	go func() {
		if err := a.turk.Watch(ctx); err != nil {
			log.Warn("turk watch stopped: %v", err)
		}
	}()
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
