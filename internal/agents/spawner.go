// Household spawning: draws the income percentile and behavioural traits
// of every new household.
package agents

import (
	"math"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/mortgage"
)

// Spawner creates households with monotonic ids.
type Spawner struct {
	env    *Env
	nextID housing.HouseholdID
}

// NewSpawner creates a spawner issuing ids from 1.
func NewSpawner(env *Env) *Spawner {
	return &Spawner{env: env, nextID: 1}
}

// SetNextID sets the next household id to be issued.
func (s *Spawner) SetNextID(id housing.HouseholdID) {
	s.nextID = id
}

// Spawn creates a household of the given age, adds it to the population
// and returns it. It starts in social housing with its desired balance.
func (s *Spawner) Spawn(age float64) *Household {
	id := s.nextID
	s.nextID++

	env := s.env
	cfg := env.Cfg.Household
	h := &Household{
		ID:             id,
		env:            env,
		payments:       make(map[housing.ID]mortgage.Agreement),
		firstTimeBuyer: true,
	}
	h.Age = age
	h.Percentile = env.Rand.Float64()

	h.PropensityToSave = cfg.DesiredBalanceEpsilon * env.Rand.NormFloat64()
	if cfg.BTLEnabled && h.Percentile > cfg.MinInvestorPercentile &&
		env.Rand.Float64() < cfg.PInvestor/cfg.MinInvestorPercentile {
		h.Investor = true
		if env.Rand.Float64() < cfg.PFundamentalist {
			h.CapGainCoeff = cfg.FundamentalistCapGain
		} else {
			h.CapGainCoeff = cfg.TrendCapGain
		}
	}

	h.updateIncome()
	h.DesiredBalance = h.desiredBankBalance()
	h.balance = h.DesiredBalance
	env.Households.Add(h)
	return h
}

// desiredBankBalance is the log-linear target on annual income. Low
// earners who are not investors target a nominal balance.
func (h *Household) desiredBankBalance() float64 {
	cfg := h.env.Cfg.Household
	if h.Percentile < cfg.LowIncomePercentile && !h.Investor {
		return 1.0
	}
	annual := config.MonthsInYear * h.MonthlyPreTaxIncome()
	return math.Exp(cfg.DesiredBalanceAlpha + cfg.DesiredBalanceBeta*math.Log(annual) + h.PropensityToSave)
}
