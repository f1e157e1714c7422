// Command housingsim runs the agent-based housing market simulation.
//
// Usage:
//
//	housingsim run --config model.yaml
//	housingsim config show
//
// Every configuration key can also be set from the environment, e.g.
// HOUSING_SIMULATION_SEED=7 or HOUSING_OUTPUT_API_PORT=8080.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/api"
	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/engine"
	"github.com/talgya/housing-market/internal/logging"
	"github.com/talgya/housing-market/internal/metrics"
	"github.com/talgya/housing-market/internal/persistence"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "housingsim",
		Short: "Agent-based housing market simulation.",
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "model configuration file (yaml)")
	load := func() (*config.Config, error) { return config.Load(cfgPath) }

	root.AddCommand(runCmd(load), configCmd(load))
	return root
}

func runCmd(load func() (*config.Config, error)) *cobra.Command {
	var seed int64
	var months, sims int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured simulations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("seed") {
				cfg.Simulation.Seed = seed
			}
			if flags.Changed("months") {
				cfg.Simulation.NSteps = months
			}
			if flags.Changed("sims") {
				cfg.Simulation.NSims = sims
			}
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "invalid config")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&seed, "seed", 0, "seed of the first run (overrides simulation.seed)")
	flags.IntVar(&months, "months", 0, "months per run (overrides simulation.n_steps)")
	flags.IntVar(&sims, "sims", 0, "number of runs (overrides simulation.n_sims)")
	return cmd
}

func configCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the model configuration.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as yaml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	flush, err := logging.Install(cfg.Output.LogLevel, cfg.Output.LogFormat)
	if err != nil {
		return err
	}
	defer flush()
	log := zap.S()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}

	runner := &engine.Runner{
		Cfg:      cfg,
		Interval: time.Duration(cfg.Output.MonthDelayMs) * time.Millisecond,
	}
	var started []func(*engine.Simulation, *engine.Engine) error
	observers := []func(*engine.Simulation) error{collector.Observe}

	var db *persistence.DB
	if cfg.Output.DBPath != "" {
		db, err = persistence.Open(cfg.Output.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		rec := persistence.NewRecorder(db, cfg.Output)
		started = append(started, func(sim *engine.Simulation, _ *engine.Engine) error { return rec.Start(sim) })
		observers = append(observers, rec.Observe)
		runner.Finished = rec.Finish
		log.Infow("recording to database", "path", cfg.Output.DBPath)
	}

	if cfg.Output.APIPort > 0 {
		srv := &api.Server{
			DB:       db,
			Gatherer: reg,
			Port:     cfg.Output.APIPort,
			AdminKey: cfg.Output.AdminKey,
		}
		started = append(started, srv.Register)
		apiCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Start(apiCtx); err != nil {
				log.Errorw("HTTP API stopped", "error", err)
			}
		}()
	}

	runner.Started = func(sim *engine.Simulation, eng *engine.Engine) error {
		for _, f := range started {
			if err := f(sim, eng); err != nil {
				return err
			}
		}
		return nil
	}
	runner.Observe = func(sim *engine.Simulation) error {
		for _, f := range observers {
			if err := f(sim); err != nil {
				return err
			}
		}
		return nil
	}

	log.Infow("starting simulations",
		"runs", cfg.Simulation.NSims,
		"months", cfg.Simulation.NSteps,
		"population", humanize.Comma(int64(cfg.Simulation.TargetPopulation)),
		"seed", cfg.Simulation.Seed,
	)
	begin := time.Now()
	results, err := runner.RunAll(ctx)
	for _, r := range results {
		log.Infow("run finished",
			"run", r.RunID,
			"seed", r.Seed,
			"months", r.Months,
			"population", humanize.Comma(int64(r.Final.Population)),
			"births", humanize.Comma(int64(r.Stats.Births)),
			"deaths", humanize.Comma(int64(r.Stats.Deaths)),
			"hpi", fmt.Sprintf("%.3f", r.Final.HPI),
			"mortgage_debt", humanize.Commaf(r.Final.TotalDebt),
		)
	}
	if errors.Is(err, context.Canceled) {
		log.Infow("interrupted", "elapsed", time.Since(begin).Round(time.Millisecond))
		return nil
	}
	if err != nil {
		return err
	}
	log.Infow("all runs complete", "runs", len(results), "elapsed", time.Since(begin).Round(time.Millisecond))
	return nil
}
