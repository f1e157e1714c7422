// Package agents provides the household agents: their lifecycle, their
// behavioural rules and their side of every market transaction.
package agents

import (
	"slices"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/credit"
	"github.com/talgya/housing-market/internal/demographics"
	"github.com/talgya/housing-market/internal/entropy"
	"github.com/talgya/housing-market/internal/government"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/market"
	"github.com/talgya/housing-market/internal/mortgage"
	"github.com/talgya/housing-market/internal/simerr"
	"github.com/talgya/housing-market/internal/stats"
)

// HouseOwner is anything that can own a house: a household or the
// construction sector. The markets call these when a listing completes.
type HouseOwner interface {
	CompleteHouseSale(o *market.Offer) error
	CompleteHouseLet(o *market.Offer) error
	EndOfLettingAgreement(house housing.ID, rent mortgage.Agreement) error
}

// Env is everything a household reads or acts on. One Env is shared by
// all households of a run.
type Env struct {
	Cfg     *config.Config
	Derived config.Derived
	Rand    entropy.Source
	Month   int

	Stock       *housing.Stock
	Sale        *market.Market
	Rental      *market.Market
	SaleStats   *stats.MarketStats
	RentalStats *stats.RentalStats
	Bank        *credit.Bank
	Gov         *government.Government
	Income      demographics.Provider
	Households  *Population
	Builder     HouseOwner
}

// Owner resolves the owner reference of a house.
func (e *Env) Owner(h *housing.House) (HouseOwner, error) {
	switch h.Owner.Kind {
	case housing.OwnerHousehold:
		if hh := e.Households.Get(h.Owner.Household); hh != nil {
			return hh, nil
		}
		return nil, simerr.Invariant("house", uint64(h.ID), "resolve owner", "owner household %d does not exist", h.Owner.Household)
	case housing.OwnerConstruction:
		return e.Builder, nil
	}
	return nil, simerr.Invariant("house", uint64(h.ID), "resolve owner", "house has no owner")
}

// HPAExpectation is the house price appreciation households extrapolate.
func (e *Env) HPAExpectation() float64 {
	return e.SaleStats.LongTermHPA() * e.Cfg.Household.HPAExpectationFactor
}

// Population is the table of living households.
type Population struct {
	byID map[housing.HouseholdID]*Household
	ids  []housing.HouseholdID // sorted
}

// NewPopulation creates an empty table.
func NewPopulation() *Population {
	return &Population{byID: make(map[housing.HouseholdID]*Household)}
}

// Add inserts h. Ids are issued in increasing order, so the append keeps
// ids sorted.
func (p *Population) Add(h *Household) {
	p.byID[h.ID] = h
	if n := len(p.ids); n > 0 && p.ids[n-1] > h.ID {
		i, _ := slices.BinarySearch(p.ids, h.ID)
		p.ids = slices.Insert(p.ids, i, h.ID)
		return
	}
	p.ids = append(p.ids, h.ID)
}

// Remove deletes household id.
func (p *Population) Remove(id housing.HouseholdID) {
	if _, ok := p.byID[id]; !ok {
		return
	}
	delete(p.byID, id)
	i, _ := slices.BinarySearch(p.ids, id)
	p.ids = slices.Delete(p.ids, i, i+1)
}

// Get returns household id, or nil.
func (p *Population) Get(id housing.HouseholdID) *Household { return p.byID[id] }

func (p *Population) Len() int { return len(p.ids) }

// IDs returns a copy of the ids in increasing order.
func (p *Population) IDs() []housing.HouseholdID { return slices.Clone(p.ids) }

// At returns the i-th household in id order.
func (p *Population) At(i int) *Household { return p.byID[p.ids[i]] }

// Lifecycle is a household's age and its fixed place in the income
// distribution.
type Lifecycle struct {
	Age        float64 // years
	Percentile float64
}

// Behaviour holds the household's fixed behavioural traits.
type Behaviour struct {
	Investor         bool
	CapGainCoeff     float64 // 0 cares only about rental yield, 1 only about capital gain
	PropensityToSave float64
	DesiredBalance   float64
}

// Household is one agent.
type Household struct {
	ID housing.HouseholdID
	Lifecycle
	Behaviour

	MonthlyEmploymentIncome float64
	MonthlyPropertyIncome   float64
	DesiredQuality          int
	Bankrupt                bool

	env            *Env
	balance        float64
	home           housing.ID
	payments       map[housing.ID]mortgage.Agreement
	firstTimeBuyer bool
}
