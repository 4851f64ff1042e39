// Command demo drives the offload engine through its full lifecycle: start
// the pool, submit single and streamed work, flip the go/no-go flag, send a
// custom control notification, and shut down gracefully on signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brindlewood/offloadengine/internal/config"
	"github.com/brindlewood/offloadengine/internal/metrics"
	"github.com/brindlewood/offloadengine/internal/request"
	"github.com/brindlewood/offloadengine/pkg/engine"
)

var configFile string

func main() {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "offloadengine-demo",
		Short:   "Drives the offload engine through a scripted demo run",
		Version: "1.0.0",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (defaults built in if omitted)")
	root.AddCommand(buildRunCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pool and run the scripted demo workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(workers)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count override (0 = size from CPUs)")
	return cmd
}

func runDemo(workers int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if workers > 0 {
		cfg.Pool.Workers = workers
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	collector := metrics.NewCollector()

	if cfg.Metrics.Enabled {
		go func() {
			if err := collector.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics server listening", "port", cfg.Metrics.Port)
	}

	e := engine.New(engine.Options{Config: cfg, Log: log, Metrics: collector})
	e.RegisterNotification("reload", func(member int) {
		log.Info("received reload notification", "member", member)
	})

	e.Start()

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.HandshakeTimeout*time.Duration(cfg.Pool.HandshakeRetries)+time.Second)
	defer cancel()
	if !e.WaitForProcessStart(startCtx) {
		return fmt.Errorf("pool failed to start")
	}
	log.Info("pool started", "workers", e.CurrentProcessCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runWorkload(e, log)
	}()

	select {
	case <-sigCh:
		log.Info("received shutdown signal, stopping gracefully")
	case <-done:
		log.Info("demo workload finished, stopping")
	}

	e.Stop(false)
	log.Info("pool stopped")
	return nil
}

func runWorkload(e *engine.Engine, log *slog.Logger) {
	future, err := e.Submit(func() (any, error) {
		return 21 * 2, nil
	})
	if err != nil {
		log.Error("submit failed", "error", err)
	} else if result, err := future.Wait(context.Background()); err != nil {
		log.Error("request failed", "error", err)
	} else {
		log.Info("single request completed", "result", result)
	}

	streamFuture, err := e.SubmitStream(func() request.Iterator {
		return request.NewSliceIterator([]any{"alpha", "beta", "gamma"})
	})
	if err != nil {
		log.Error("stream submit failed", "error", err)
	} else if result, err := streamFuture.Wait(context.Background()); err != nil {
		log.Error("stream request failed", "error", err)
	} else {
		log.Info("streamed request completed", "result", result)
	}

	e.EnqueueNotification("reload", 7)
	time.Sleep(50 * time.Millisecond)

	log.Info("toggling pool to no-go")
	e.UpdateStateValue(false)
	if _, err := e.Submit(func() (any, error) {
		log.Warn("this callable should never run while the pool is no-go")
		return nil, nil
	}); err != nil {
		log.Info("submit rejected while no-go", "error", err)
	}
	time.Sleep(50 * time.Millisecond)

	log.Info("toggling pool back to go")
	e.UpdateStateValue(true)

	state := e.CurrentState()
	log.Info("current pool state", "go", state.Go, "offload_enabled", state.OffloadEnabled, "workers", state.WorkerCount)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
