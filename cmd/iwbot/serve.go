package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/iwbot/internal/config"
	"github.com/MimeLyc/iwbot/internal/httpapi"
	"github.com/MimeLyc/iwbot/internal/service"
	"github.com/MimeLyc/iwbot/pkg/log"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

const shutdownTimeout = 30 * time.Second

// runWithComponents schedules passes, serves the status API and blocks
// until ctx is done or the server fails. A running pass is given
// shutdownTimeout to persist its position.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, srv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	engine.Start()
	log.Info("Scheduler started")

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.System.HTTPAddr)
		if err := srv.ListenAndServe(cfg.System.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	select {
	case <-engine.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("Timed out waiting for the running pass")
	}
	return runErr
}

// runtimeSettings prefers schedules saved through the API over the environment.
func runtimeSettings(cfg *config.Config) config.RuntimeSettings {
	settings := cfg.RuntimeSettings()
	saved, err := config.LoadRuntimeSettingsFile(cfg.RuntimeSettingsPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		log.Warn("Ignoring runtime settings: %v", err)
	case saved.Validate() != nil:
		log.Warn("Ignoring invalid runtime settings in %s", cfg.RuntimeSettingsPath())
	default:
		settings = saved
	}
	return settings
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run passes on a schedule and serve the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				ctx := cmd.Context()
				settings := runtimeSettings(a.cfg)
				store, err := config.NewRuntimeSettingsStore(a.cfg.RuntimeSettingsPath(), settings)
				if err != nil {
					return err
				}

				engine := cron.New()
				svc := service.NewPassService(a.driver, a.store, engine, settings)
				srv := httpapi.NewServer(a.driver,
					httpapi.WithHistory(a.store),
					httpapi.WithStats(a.resolver.Counter()),
					httpapi.WithTrigger(svc.Trigger),
					httpapi.WithRuntimeSettingsStore(store),
					httpapi.WithRuntimeSettingsApplier(svc.ApplyRuntimeSettings),
				)

				a.watchTurk(ctx)
				catchUp := make(chan struct{})
				go func() {
					defer close(catchUp)
					if err := svc.CatchUp(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Error("Catch-up recheck failed: %v", err)
					}
				}()
				err = runWithComponents(ctx, a.cfg, svc, engine, srv)
				<-catchUp
				return err
			})
		},
	}
}
