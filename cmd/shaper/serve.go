package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/prioritize"
	"github.com/mapache-ai/shaper/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: groupService,
	Short:   "Run the webhook receiver and scheduled sweeps",
	Long: `Serve keeps shaper running as a service: tracker webhooks trigger
single-ticket triage, a cron schedule sweeps the whole backlog, and the
priority rule table reloads live when its file changes on disk.

Endpoints: POST /webhooks/tracker (signed tracker events) and
GET /healthz (collaborator health). Shut down with SIGINT or SIGTERM;
in-flight triage runs finish before the process exits.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if err := runServe(addr); err != nil {
			fail(err)
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(addr string) error {
	rt, err := buildRuntime(rootCtx)
	if err != nil {
		return err
	}
	defer rt.close()

	if addr == "" {
		addr = rt.cfg.Webhook.Addr
	}
	logger := slog.Default()

	srv := webhook.NewServer(webhook.Options{
		Engine: rt.eng,
		Secret: rt.cfg.Webhook.Secret,
		Logger: logger,
	})

	var sweeper *cron.Cron
	if expr := rt.cfg.Sweep.Schedule; expr != "" {
		sweeper = cron.New()
		_, err := sweeper.AddFunc(expr, func() {
			results, err := rt.eng.Triage(rootCtx, "")
			if err != nil {
				logger.Error("scheduled sweep failed", "error", err)
				return
			}
			logger.Info("scheduled sweep complete", "tickets", len(results))
		})
		if err != nil {
			return fmt.Errorf("sweep.schedule: %w", err)
		}
		sweeper.Start()
		logger.Info("sweep scheduled", "cron", expr)
	}

	stopWatch, err := watchRules(rt, logger)
	if err != nil {
		logger.Warn("rules file watch disabled", "error", err)
	} else {
		defer stopWatch()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("webhook receiver listening", "addr", addr)

	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	if sweeper != nil {
		// Stop returns a context that closes once running jobs finish
		<-sweeper.Stop().Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return serveErr
}

// watchRules reloads the priority rule table when the rules file changes.
// The parent directory is watched because editors replace files on save,
// which drops a watch placed on the file itself.
func watchRules(rt *appRuntime, logger *slog.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(rt.rules)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	base := filepath.Base(rt.rules)

	go func() {
		var reload *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				// Debounce: editors fire several events per save
				if reload != nil {
					reload.Stop()
				}
				reload = time.AfterFunc(500*time.Millisecond, func() {
					rules, err := prioritize.LoadRules(rt.rules)
					if err != nil {
						logger.Error("rules reload failed, keeping previous table", "error", err)
						return
					}
					if err := rt.eng.ReloadRules(rules); err != nil {
						logger.Error("rules reload failed, keeping previous table", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rules watcher", "error", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}
