// Package construction is the house-building sector. It keeps the housing
// stock in proportion to the population, sells every new build on the sale
// market, and never lets.
package construction

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/entropy"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/market"
	"github.com/talgya/housing-market/internal/mortgage"
	"github.com/talgya/housing-market/internal/simerr"
)

// PriceSource gives the list price of a new build of quality q.
type PriceSource interface {
	ReferencePrice(q int) float64
}

// Sector is the single construction firm.
type Sector struct {
	cfg    *config.Config
	stock  *housing.Stock
	sale   *market.Market
	prices PriceSource
	rng    entropy.Source

	built    int
	onMarket map[housing.ID]struct{}
}

// New creates a sector that has built nothing yet.
func New(cfg *config.Config, stock *housing.Stock, sale *market.Market, prices PriceSource, rng entropy.Source) *Sector {
	return &Sector{
		cfg:      cfg,
		stock:    stock,
		sale:     sale,
		prices:   prices,
		rng:      rng,
		onMarket: make(map[housing.ID]struct{}),
	}
}

// TargetStock is the number of houses the sector aims to have built for
// a population of the given size.
func (s *Sector) TargetStock(population int) int {
	n := min(population, s.cfg.Simulation.TargetPopulation)
	return int(float64(n) * s.cfg.Construction.HousesPerHousehold)
}

// Step cuts the price of every unsold new build, then builds and lists
// enough new houses to close the gap to the target stock.
func (s *Sector) Step(population, month int) error {
	for _, id := range slices.Sorted(maps.Keys(s.onMarket)) {
		h, err := s.stock.Must(id, "reprice new build")
		if err != nil {
			return err
		}
		o, ok := s.sale.Get(h.SaleOffer)
		if !ok {
			return simerr.Invariant("house", uint64(id), "reprice new build", "new build is not on the sale market")
		}
		if err := s.sale.UpdateOffer(o.ID, o.Price*s.cfg.Construction.UnsoldPriceDecay); err != nil {
			return err
		}
	}

	shortfall := s.TargetStock(population) - s.built
	for i := 0; i < shortfall; i++ {
		q := s.rng.IntN(s.cfg.Market.NQuality)
		h := s.stock.Build(q, housing.Construction)
		s.built++
		if _, err := s.sale.Offer(h.ID, s.prices.ReferencePrice(q), false, month); err != nil {
			return err
		}
		s.onMarket[h.ID] = struct{}{}
	}
	if shortfall > 0 {
		zap.S().Debugw("new houses built",
			"month", month,
			"count", shortfall,
			"stock", s.built,
			"unsold", len(s.onMarket))
	}
	return nil
}

// CompleteHouseSale forgets a sold new build.
func (s *Sector) CompleteHouseSale(o *market.Offer) error {
	if _, ok := s.onMarket[o.House]; !ok {
		return simerr.Invariant("house", uint64(o.House), "construction sale", "not an unsold new build")
	}
	delete(s.onMarket, o.House)
	return nil
}

// CompleteHouseLet is never valid: the sector does not let houses.
func (s *Sector) CompleteHouseLet(o *market.Offer) error {
	return simerr.Invariant("house", uint64(o.House), "construction let", "construction sector cannot let houses")
}

// EndOfLettingAgreement is never valid: the sector has no tenants.
func (s *Sector) EndOfLettingAgreement(id housing.ID, _ mortgage.Agreement) error {
	return simerr.Invariant("house", uint64(id), "construction end of letting", "construction sector has no tenants")
}

// Built is the number of houses built so far.
func (s *Sector) Built() int { return s.built }

// Unsold is the number of new builds still on the market.
func (s *Sector) Unsold() int { return len(s.onMarket) }

// UnsoldValue is the total asking price of unsold new builds.
func (s *Sector) UnsoldValue() float64 {
	v := 0.0
	for _, id := range slices.Sorted(maps.Keys(s.onMarket)) {
		if o, ok := s.sale.Get(s.stock.Get(id).SaleOffer); ok {
			v += o.Price
		}
	}
	return v
}
