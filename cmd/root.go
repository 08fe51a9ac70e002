package cmd

import (
	"context"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockstep-sim/lockstep-sim/orch"
	"github.com/lockstep-sim/lockstep-sim/orch/units"
)

var (
	// CLI flags for the orchestrator run
	scenarioPath   string        // Scenario file (JSON or YAML)
	runTicks       uint64        // Number of ticks to run before a normal stop
	fastAsPossible bool          // Ignore the scenario's pacing flag and free-run
	barrierTimeout time.Duration // Bound on each barrier wait
	logLevel       string        // Log verbosity level
	metricsAddr    string        // Address for the Prometheus scrape endpoint, empty disables it
	natsURL        string        // NATS broker URL, empty means the in-process bus
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "lockstep-sim",
	Short: "Lock-step co-simulation orchestrator for distributed flight simulation",
}

// runCmd executes a scenario until its tick budget, a fatal failure, or
// an interrupt.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		sc, err := orch.LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("Scenario rejected: %v", err)
		}
		if fastAsPossible {
			sc.Clock.Pace1xScale = false
		}

		registry := orch.NewRegistry()
		units.Register(registry)

		var collector *orch.Collector
		if metricsAddr != "" {
			collector, err = orch.NewCollector(prometheus.NewRegistry())
			if err != nil {
				logrus.Fatalf("Registering metrics: %v", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					logrus.Errorf("Metrics endpoint: %v", err)
				}
			}()
			logrus.Infof("Serving metrics on %s/metrics", metricsAddr)
		}
		metrics := orch.NewMetrics(collector)

		var bus orch.Bus
		if natsURL != "" {
			conn, err := nats.Connect(natsURL)
			if err != nil {
				logrus.Fatalf("Connecting to NATS at %s: %v", natsURL, err)
			}
			defer conn.Close()
			nb, err := orch.NewNATSBus(conn, sc.Topics())
			if err != nil {
				logrus.Fatalf("Subscribing bus adapter: %v", err)
			}
			defer nb.Close()
			bus = nb
		}

		o, err := orch.New(sc, orch.Options{
			Ticks:          runTicks,
			BarrierTimeout: barrierTimeout,
			Bus:            bus,
			Registry:       registry,
			Metrics:        metrics,
		})
		if err != nil {
			logrus.Fatalf("Scenario rejected: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		start := time.Now()
		runErr := o.Run(ctx)
		metrics.Print(time.Since(start))

		switch o.State() {
		case orch.RunStopped:
			logrus.Info("Run stopped.")
		case orch.RunFailed:
			logrus.Errorf("Run failed: %v", runErr)
			os.Exit(1)
		}
	},
}

// validateCmd runs load-time validation only, for CI checks on scenario
// files.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a scenario file without running it",
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := orch.LoadScenario(scenarioPath); err != nil {
			logrus.Fatalf("Scenario rejected: %v", err)
		}
		logrus.Infof("Scenario %s is valid.", scenarioPath)
	},
}

// reportCmd prints a human-readable digest of a scenario's components
// and topic wiring.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a scenario's components, topics, and sync barriers",
	Run: func(cmd *cobra.Command, args []string) {
		sc, err := orch.LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("Scenario rejected: %v", err)
		}
		cmd.Print(sc.Summary())
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario file (JSON or YAML)")
	runCmd.Flags().Uint64Var(&runTicks, "ticks", math.MaxUint64, "Number of ticks to run (default: until interrupted)")
	runCmd.Flags().BoolVar(&fastAsPossible, "fast", false, "Run as fast as possible regardless of the scenario's pacing flag")
	runCmd.Flags().DurationVar(&barrierTimeout, "barrier-timeout", orch.DefaultBarrierTimeout, "Bound on each sync barrier wait")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for the Prometheus /metrics endpoint")
	runCmd.Flags().StringVar(&natsURL, "nats", "", "NATS broker URL (default: in-process bus)")
	_ = runCmd.MarkFlagRequired("scenario")

	validateCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario file (JSON or YAML)")
	_ = validateCmd.MarkFlagRequired("scenario")

	reportCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario file (JSON or YAML)")
	_ = reportCmd.MarkFlagRequired("scenario")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(reportCmd)
}
