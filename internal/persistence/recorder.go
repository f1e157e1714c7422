package persistence

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/engine"
)

// Recorder writes simulation output to a DB as runs progress. It plugs
// into engine.Runner: Start as the Started hook, Observe as the Observe
// hook, Finish once the run returns.
type Recorder struct {
	db  *DB
	cfg config.Output
	now func() time.Time
}

// NewRecorder records into db according to the output settings.
func NewRecorder(db *DB, cfg config.Output) *Recorder {
	return &Recorder{db: db, cfg: cfg, now: time.Now}
}

// Start registers the run with its full configuration.
func (r *Recorder) Start(sim *engine.Simulation) error {
	cfg, err := yaml.Marshal(sim.Cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	run := Run{
		ID:      sim.RunID.String(),
		Seed:    sim.Seed,
		Started: r.now().UTC(),
		Config:  string(cfg),
	}
	if err := r.db.SaveRun(run); err != nil {
		return err
	}
	zap.S().Infow("recording run", "run", run.ID, "seed", run.Seed)
	return nil
}

// Observe stores the month just completed. Nothing is written before
// StartRecord; indicators are kept every RecordEvery months and
// transactions every month when RecordSales is set.
func (r *Recorder) Observe(sim *engine.Simulation) error {
	month := sim.Month() - 1
	if month < r.cfg.StartRecord {
		return nil
	}
	runID := sim.RunID.String()
	every := max(1, r.cfg.RecordEvery)
	if (month-r.cfg.StartRecord)%every == 0 {
		if err := r.db.SaveIndicators(runID, sim.Indicators()); err != nil {
			return err
		}
	}
	n := 0
	if r.cfg.RecordSales {
		txs := sim.Transactions()
		if err := r.db.SaveTransactions(runID, txs); err != nil {
			return err
		}
		n = len(txs)
	}
	logSaved(runID, month, n)
	return nil
}

// Finish marks the run complete.
func (r *Recorder) Finish(sim *engine.Simulation) error {
	return r.db.FinishRun(sim.RunID.String(), sim.Month())
}
