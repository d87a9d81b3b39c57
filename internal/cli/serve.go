package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vigil-watch/vigil/internal/command"
	"github.com/vigil-watch/vigil/internal/config"
	"github.com/vigil-watch/vigil/internal/root"
	"github.com/vigil-watch/vigil/internal/server"
	"github.com/vigil-watch/vigil/internal/state"
	"github.com/vigil-watch/vigil/internal/trigger"
	"github.com/vigil-watch/vigil/internal/watcher"
)

// NewServeCommand creates the daemon entry point.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watching daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *RootOptions) error {
	cfg := config.DefaultDaemon()
	if opts.Config != "" {
		var err error
		if cfg, err = config.LoadDaemon(opts.Config); err != nil {
			return err
		}
	}
	if opts.SockName != "" {
		cfg.SockName = opts.SockName
	}

	log := newLogger(cfg.LogLevel, opts.Verbose)

	roots := root.NewRegistry(
		func(path string, log *slog.Logger) (watcher.Watcher, error) {
			return watcher.NewFSNotify(path, log)
		},
		root.Options{
			Settle:             cfg.Settle(),
			DefaultSyncTimeout: cfg.SyncTimeout(),
			Log:                log,
		},
	)
	defer roots.StopAll()

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		return err
	}
	defer store.Close()

	triggerOpts := trigger.Options{
		SockName: cfg.SockName,
		Log:      log,
	}

	if err := restoreState(store, roots, triggerOpts, log); err != nil {
		log.Error("failed to restore saved state", "error", err)
	}

	command.SetStateSaver(func() {
		if err := store.Save(snapshotOf(roots)); err != nil {
			log.Error("failed to save state", "error", err)
		}
	})

	srv := server.New(cfg.SockName, roots, triggerOpts, log)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("unable to listen on %s: %w", cfg.SockName, err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		srv.Stop()
	}()

	log.Info("listening", "sock", cfg.SockName)
	return srv.Serve()
}

// restoreState re-watches saved roots and re-arms their triggers.
func restoreState(store *state.Store, roots *root.Registry, triggerOpts trigger.Options, log *slog.Logger) error {
	snap, err := store.Load()
	if err != nil {
		return err
	}
	for _, saved := range snap.Roots {
		r, err := roots.Watch(saved.Path)
		if err != nil {
			log.Error("failed to re-watch saved root", "root", saved.Path, "error", err)
			continue
		}
		for _, def := range saved.Triggers {
			cmd, err := trigger.New(r, def, triggerOpts)
			if err != nil {
				log.Error("failed to restore trigger", "root", saved.Path, "error", err)
				continue
			}
			cmd.Start()
			if prev := r.SetTrigger(cmd.Name(), cmd); prev != nil {
				prev.Stop()
			}
		}
	}
	return nil
}

func snapshotOf(roots *root.Registry) state.Snapshot {
	var snap state.Snapshot
	for _, path := range roots.Paths() {
		r, err := roots.Get(path)
		if err != nil {
			continue
		}
		snap.Roots = append(snap.Roots, state.RootState{
			Path:     path,
			Triggers: r.TriggerDefinitions(),
		})
	}
	return snap
}

func newLogger(level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
