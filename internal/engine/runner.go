package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/credit"
	"github.com/talgya/housing-market/internal/demographics"
	"github.com/talgya/housing-market/internal/stats"
)

// Result is the outcome of one run.
type Result struct {
	RunID  uuid.UUID
	Seed   int64
	Months int
	Final  stats.CoreIndicators
	Stats  SimStats
}

// Runner runs independent simulations in parallel. Run i uses seed
// Simulation.Seed + i and its own random stream; nothing is shared
// between runs except the configuration and the pure demographic
// provider.
type Runner struct {
	Cfg      *config.Config
	Provider demographics.Provider
	Rules    []credit.Rule
	Interval time.Duration

	// Started is called once per run before its first month.
	Started func(sim *Simulation, eng *Engine) error
	// Finished is called once per run after its last month, also when
	// the run failed or was cancelled.
	Finished func(sim *Simulation) error
	// Observe is called after every month of every run, from that run's
	// goroutine.
	Observe func(sim *Simulation) error
}

// RunAll runs Cfg.Simulation.NSims simulations of NSteps months each and
// returns their results in seed order. The first failure cancels the
// other runs.
func (r *Runner) RunAll(ctx context.Context) ([]Result, error) {
	n := max(1, r.Cfg.Simulation.NSims)
	results := make([]Result, n)
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i := range n {
		seed := r.Cfg.Simulation.Seed + int64(i)
		p.Go(func(ctx context.Context) error {
			res, err := r.run(ctx, seed)
			if err != nil {
				return errors.Wrapf(err, "run with seed %d", seed)
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) run(ctx context.Context, seed int64) (Result, error) {
	sim, err := New(r.Cfg, seed, Options{Provider: r.Provider, Rules: r.Rules})
	if err != nil {
		return Result{}, err
	}
	eng := NewEngine(r.Interval)
	eng.OnMonth = func(int) error {
		if err := sim.Step(); err != nil {
			return err
		}
		if r.Observe != nil {
			return r.Observe(sim)
		}
		return nil
	}
	eng.OnYear = func(month int) {
		ind := sim.Indicators()
		zap.S().Infow("year completed",
			"run", sim.RunID.String(),
			"seed", seed,
			"year", (month+1)/config.MonthsInYear,
			"population", ind.Population,
			"hpi", ind.HPI)
	}
	if r.Started != nil {
		if err := r.Started(sim, eng); err != nil {
			return Result{}, err
		}
	}
	runErr := eng.Run(ctx, r.Cfg.Simulation.NSteps)
	if r.Finished != nil {
		if err := r.Finished(sim); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return Result{}, runErr
	}
	return Result{
		RunID:  sim.RunID,
		Seed:   seed,
		Months: sim.Month(),
		Final:  sim.Indicators(),
		Stats:  sim.Flows(),
	}, nil
}
