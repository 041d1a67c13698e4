package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/openbms-io/supervisor-sub001/pkg/config"
	"github.com/openbms-io/supervisor-sub001/pkg/device"
	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/metrics"
	"github.com/openbms-io/supervisor-sub001/pkg/nodes"
	"github.com/openbms-io/supervisor-sub001/pkg/output"
	"github.com/openbms-io/supervisor-sub001/pkg/pubsub"
	"github.com/openbms-io/supervisor-sub001/pkg/sandbox"
	"github.com/openbms-io/supervisor-sub001/pkg/session"
	"github.com/openbms-io/supervisor-sub001/pkg/watcher"
	"github.com/openbms-io/supervisor-sub001/pkg/web"
)

const (
	watchQuietPeriod = 200 * time.Millisecond
	watchMaxWait     = 2 * time.Second
	statusHistory    = 20
)

func main() {
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	level, err := cfg.LogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := logging.Configure(os.Stderr, cfg.Log.Format, level); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("supervisor failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	points, err := cfg.SeedPoints()
	if err != nil {
		return err
	}
	bus := device.NewBus()
	for ref, v := range points {
		bus.Set(ref, v)
	}

	factory := nodes.NewFactory(nodes.Deps{
		Telemetry:       bus,
		Commander:       device.NewBreakerCommander(bus, cfg.Command.Timeout, cfg.BreakerSettings()),
		Evaluator:       sandbox.New(cfg.Function.MaxTimeout),
		Clock:           time.Now,
		CommandTimeout:  cfg.Command.Timeout,
		FunctionTimeout: cfg.Function.Timeout,
	})

	publisher := pubsub.NewSSEPublisher()
	publisher.ConfigureDefaults(statusHistory)
	defer publisher.Close()

	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	sess := session.New(factory, session.WithPublisher(publisher), session.WithObserver(collector))

	if cfg.Workflow != "" {
		res, _, err := sess.LoadFile(cfg.Workflow, session.ReasonLoad)
		if err != nil {
			return err
		}
		logging.Info("workflow loaded", "path", cfg.Workflow, "nodes", res.Nodes, "edges", res.Edges, "rejected", len(res.Rejected))
	}

	if cfg.Once {
		return runOnce(ctx, sess, cfg.Workflow)
	}

	if cfg.Workflow != "" {
		if _, err := sess.Execute(ctx); err != nil && !errors.Is(err, graph.ErrCycleDetected) {
			return err
		}
	}

	if cfg.Watch {
		if err := startWatcher(ctx, sess, cfg.Workflow); err != nil {
			return err
		}
	}

	if cfg.WebMode {
		server := web.NewServer(sess, publisher,
			web.WithMetrics(collector.Handler()),
			web.WithAllowedOrigins(cfg.CORS.Origins...),
		)
		return server.Start(ctx, cfg.Port)
	}

	if !cfg.Watch {
		return nil
	}
	<-ctx.Done()
	logging.Info("shutting down")
	return nil
}

func runOnce(ctx context.Context, sess *session.Session, path string) error {
	report, err := sess.Execute(ctx)
	if report != nil {
		output.PrintPassReport(os.Stdout, filepath.Base(path), report)
	}
	if err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d node failure(s)", len(report.Failures))
	}
	return nil
}

func startWatcher(ctx context.Context, sess *session.Session, path string) error {
	fw, err := watcher.NewFileWatcher(path)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	debouncer := watcher.NewDebouncer(fw.Events(), watchQuietPeriod, watchMaxWait)
	debouncer.Start(ctx)
	go watcher.Run(ctx, debouncer.Output(), sess, session.ReasonReload)
	return nil
}
