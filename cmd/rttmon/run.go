package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ethpandaops/rttmon/pkg/api/indexstore"
	"github.com/ethpandaops/rttmon/pkg/bridge"
	"github.com/ethpandaops/rttmon/pkg/config"
	"github.com/ethpandaops/rttmon/pkg/evaluator"
	"github.com/ethpandaops/rttmon/pkg/fsutil"
	"github.com/ethpandaops/rttmon/pkg/metrics"
	"github.com/ethpandaops/rttmon/pkg/monitor"
	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/ethpandaops/rttmon/pkg/sink"
	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/ethpandaops/rttmon/pkg/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [device] [interface] [speed] [timeout-seconds]",
	Short: "Monitor one firmware test run",
	Long: `Start the RTT bridge for the given target, follow the firmware's test
markers until the run succeeds, the bridge exits or the timeout elapses, and
write a report. Positional arguments override the config file. The command
exits non-zero unless the run succeeded.`,
	Args: cobra.MaximumNArgs(4),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := applyConfigLogLevel(cmd, cfg.Global.LogLevel); err != nil {
		return err
	}

	if err := applyRunArgs(cfg, args); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	rules, err := buildRules(&cfg.Monitor.Rules)
	if err != nil {
		return fmt.Errorf("building success rules: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	out, closeSinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	b, err := bridge.New(log, &cfg.Bridge)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	log.WithFields(logrus.Fields{
		"device":    cfg.Bridge.Device,
		"interface": cfg.Bridge.Interface,
		"speed":     cfg.Bridge.Speed,
		"timeout":   cfg.Monitor.Timeout,
		"runtime":   cfg.Bridge.Runtime,
	}).Info("Starting test monitor")

	mon := monitor.NewMonitor(log, &monitor.Config{
		Timeout:              cfg.Monitor.Timeout,
		SuccessGrace:         cfg.Monitor.SuccessGrace,
		DiagnosticsPerSecond: cfg.Monitor.DiagnosticsPerSecond,
	}, b, evaluator.NewEvaluator(log, rules...), metrics.New(prometheus.DefaultRegisterer))

	res, runErr := mon.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("Monitoring ended with an error")
	}

	rep := report.Build(res, report.Meta{
		Device:    cfg.Bridge.Device,
		Interface: cfg.Bridge.Interface,
		Speed:     cfg.Bridge.Speed,
	})

	report.WriteTable(os.Stdout, rep)

	// Persist even when interrupted.
	writeCtx, writeCancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer writeCancel()

	if err := out.Write(writeCtx, rep, sink.FileName(res.StartedAt)); err != nil {
		log.WithError(err).Error("Failed to persist report")
	}

	if !res.Succeeded() {
		return fmt.Errorf("run %s finished with outcome %s", res.RunID, res.Outcome)
	}

	return nil
}

// sinkWriteTimeout bounds persisting a report after the run ended.
const sinkWriteTimeout = 2 * time.Minute

// applyRunArgs overrides the bridge target and timeout from the positional
// arguments device, interface, speed and timeout-seconds.
func applyRunArgs(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		cfg.Bridge.Device = args[0]
	}

	if len(args) > 1 {
		cfg.Bridge.Interface = args[1]
	}

	if len(args) > 2 {
		speed, err := strconv.Atoi(args[2])
		if err != nil || speed <= 0 {
			return fmt.Errorf("invalid speed %q: must be a positive integer (kHz)", args[2])
		}

		cfg.Bridge.Speed = speed
	}

	if len(args) > 3 {
		seconds, err := strconv.Atoi(args[3])
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid timeout %q: must be a positive number of seconds", args[3])
		}

		cfg.Monitor.Timeout = time.Duration(seconds) * time.Second
	}

	return nil
}

// buildRules turns the rules config into evaluator rules, in the order
// terminal status, all pass, expressions.
func buildRules(cfg *config.RulesConfig) ([]evaluator.Rule, error) {
	rules := make([]evaluator.Rule, 0, 2+len(cfg.Expressions))

	if cfg.TerminalStatus != "" && cfg.TerminalStatus != config.TerminalStatusNone {
		status, err := testrun.ParseTestStatus(cfg.TerminalStatus)
		if err != nil {
			return nil, fmt.Errorf("terminal_status: %w", err)
		}

		rules = append(rules, evaluator.TerminalStatus(status))
	}

	if cfg.AllPass {
		rules = append(rules, evaluator.AllPass())
	}

	for _, source := range cfg.Expressions {
		rule, err := evaluator.Expression(source)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		return nil, fmt.Errorf("no success rule enabled")
	}

	return rules, nil
}

// buildSinks assembles the enabled result sinks. The returned function
// releases resources held by the sinks.
func buildSinks(ctx context.Context, cfg *config.Config) (sink.Sink, func(), error) {
	owner, err := fsutil.ParseOwner(cfg.Results.Owner)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing results owner: %w", err)
	}

	fileSink := sink.NewFileSink(log, sink.FileConfig{
		Dir:      cfg.Results.Dir,
		Markdown: cfg.Results.Markdown,
		Owner:    owner,
	})

	sinks := []sink.Sink{fileSink}
	closers := make([]func(), 0, 1)

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	location := func(name string) string {
		return filepath.Join(cfg.Results.Dir, name)
	}

	if cfg.Results.S3.Enabled {
		uploader, err := upload.NewS3Uploader(log, &cfg.Results.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return nil, nil, fmt.Errorf("s3 preflight check: %w", err)
		}

		sinks = append(sinks, sink.NewS3Sink(log, uploader))
	}

	if cfg.Results.Index.Enabled {
		store := indexstore.NewStore(log, &cfg.Results.Index.Database)
		if err := store.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("starting index store: %w", err)
		}

		closers = append(closers, func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to close index store")
			}
		})

		sinks = append(sinks, sink.NewIndexSink(log, store, location))
	}

	return sink.NewMulti(log, sinks...), closeAll, nil
}
