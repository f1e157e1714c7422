// Simulation ties together all model components and runs them each month.
package engine

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/agents"
	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/construction"
	"github.com/talgya/housing-market/internal/credit"
	"github.com/talgya/housing-market/internal/demographics"
	"github.com/talgya/housing-market/internal/entropy"
	"github.com/talgya/housing-market/internal/government"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/market"
	"github.com/talgya/housing-market/internal/stats"
)

// Simulation holds the complete state of one run.
type Simulation struct {
	RunID uuid.UUID
	Seed  int64
	Cfg   *config.Config

	Env          *agents.Env
	Spawner      *agents.Spawner
	Provider     demographics.Provider
	Construction *construction.Sector
	CentralBank  *credit.CentralBank

	// Statistics accumulated over the run.
	Stats SimStats

	mu           sync.RWMutex
	month        int // next month to run
	indicators   stats.CoreIndicators
	transactions []Transaction // completed during the last month
}

// SimStats counts population flows over the whole run.
type SimStats struct {
	Births int `json:"births"`
	Deaths int `json:"deaths"`
}

// Options override the default collaborators of a simulation.
type Options struct {
	Provider demographics.Provider // default: demographics.NewParametric
	Rules    []credit.Rule         // central bank policy rules
	Source   entropy.Source        // default: a PCG stream seeded with the run seed
}

// New builds a simulation at month 0. There are no households or houses
// yet; the first month's births and construction create them.
func New(cfg *config.Config, seed int64, opts Options) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	rng := opts.Source
	if rng == nil {
		rng = entropy.NewSeeded(seed)
	}
	provider := opts.Provider
	if provider == nil {
		provider = demographics.NewParametric(cfg)
	}

	saleStats := stats.NewMarketStats(cfg, stats.ReferencePrices(cfg.Market.NQuality, cfg.Market.HPIMedian, cfg.Market.HPIShape))
	rentalStats := stats.NewRentalStats(cfg, saleStats)
	cb := credit.NewCentralBank(cfg.CentralBank, cfg.Bank.InitialBaseRate, opts.Rules...)

	s := &Simulation{
		RunID:       uuid.New(),
		Seed:        seed,
		Cfg:         cfg,
		Provider:    provider,
		CentralBank: cb,
	}
	env := &agents.Env{
		Cfg:         cfg,
		Derived:     cfg.Derive(),
		Rand:        rng,
		Stock:       housing.NewStock(),
		SaleStats:   saleStats,
		RentalStats: rentalStats,
		Bank:        credit.NewBank(cfg, cb, rentalStats),
		Gov:         government.New(cfg.Government),
		Income:      provider,
		Households:  agents.NewPopulation(),
	}
	env.Sale = market.New(market.Sale, cfg, env.Stock, &salePolicy{sim: s})
	env.Rental = market.New(market.Rental, cfg, env.Stock, &rentalPolicy{sim: s})
	s.Construction = construction.New(cfg, env.Stock, env.Sale, saleStats, rng)
	env.Builder = s.Construction
	s.Env = env
	s.Spawner = agents.NewSpawner(env)
	return s, nil
}

// Month is the number of months completed.
func (s *Simulation) Month() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.month
}

// Step runs one month. Agents decide on the statistics published at the
// end of the previous month; the central bank reacts to this month's
// indicators, which take effect next month.
func (s *Simulation) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.Env
	month := s.month
	env.Month = month
	s.transactions = s.transactions[:0]

	env.Bank.BeginMonth()

	births, deaths, err := s.processDemographics()
	if err != nil {
		return errors.Wrap(err, "demographics")
	}
	s.Stats.Births += births
	s.Stats.Deaths += deaths

	if err := s.Construction.Step(env.Households.Len(), month); err != nil {
		return errors.Wrap(err, "construction")
	}

	for _, id := range env.Households.IDs() {
		if err := env.Households.Get(id).Step(); err != nil {
			return errors.Wrapf(err, "household %d", id)
		}
	}

	env.SaleStats.PreClear(env.Sale.Totals())
	if err := env.Sale.Clear(month); err != nil {
		return errors.Wrap(err, "sale market")
	}
	env.RentalStats.PreClear(env.Rental.Totals())
	if err := env.Rental.Clear(month); err != nil {
		return errors.Wrap(err, "rental market")
	}

	env.SaleStats.PostClear()
	env.RentalStats.PostClear()

	env.Bank.Step(env.Households.Len())

	s.indicators = s.collectIndicators(month)
	s.CentralBank.Step(s.indicators)
	env.Bank.SetBaseRate(s.CentralBank.BaseRate)

	if every := s.Cfg.Simulation.ReportEvery; every > 0 && (month+1)%every == 0 {
		s.report(births, deaths)
	}
	s.month++
	return nil
}

// Flows returns the births and deaths so far.
func (s *Simulation) Flows() SimStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// Indicators returns the indicators published at the end of the last
// completed month.
func (s *Simulation) Indicators() stats.CoreIndicators {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indicators
}

// Transactions returns the transactions completed during the last month.
func (s *Simulation) Transactions() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Transaction(nil), s.transactions...)
}

// MarketSnapshot captures the order book of one market.
func (s *Simulation) MarketSnapshot(kind market.Kind) market.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if kind == market.Sale {
		return s.Env.Sale.Snapshot()
	}
	return s.Env.Rental.Snapshot()
}

// report logs the monthly summary.
func (s *Simulation) report(births, deaths int) {
	ind := s.indicators
	zap.S().Infow("monthly report",
		"run", s.RunID.String(),
		"time", SimTime(ind.Month),
		"population", humanize.Comma(int64(ind.Population)),
		"houses", humanize.Comma(int64(ind.HousingStock)),
		"births", births,
		"deaths", deaths,
		"hpi", humanize.FtoaWithDigits(ind.HPI, 3),
		"av_sale_price", humanize.Commaf(float64(int64(ind.AvSalePrice))),
		"sales", ind.Sales,
		"lets", ind.Lets,
		"interest_rate", humanize.FtoaWithDigits(ind.InterestRate*100, 2)+"%",
		"total_debt", humanize.Commaf(float64(int64(ind.TotalDebt))),
	)
}
