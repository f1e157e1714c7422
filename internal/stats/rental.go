package stats

import (
	"github.com/talgya/housing-market/internal/config"
)

// RentalStats extends MarketStats with the yield figures buy-to-let
// investors price against.
type RentalStats struct {
	*MarketStats

	sale *MarketStats
	k    float64
	kl   float64

	tenancy             float64
	expAvMonthsOnMarket []float64
	avOccupancy         []float64
	avFlowYieldQ        []float64
	avFlowYield         float64
	expAvFlowYield      float64
	longTermFlowYield   float64
}

// NewRentalStats creates rental statistics. Reference rents are the sale
// reference prices at the configured gross yield.
func NewRentalStats(cfg *config.Config, sale *MarketStats) *RentalStats {
	n := cfg.Market.NQuality
	ref := make([]float64, n)
	for q := range ref {
		ref[q] = sale.ReferencePrice(q) * cfg.Market.RentGrossYield / config.MonthsInYear
	}
	d := cfg.Derive()
	r := &RentalStats{
		MarketStats:         NewMarketStats(cfg, ref),
		sale:                sale,
		k:                   d.K,
		kl:                  d.KL,
		tenancy:             float64(cfg.Market.TenancyLengthAverage),
		expAvMonthsOnMarket: make([]float64, n),
		avOccupancy:         make([]float64, n),
		avFlowYieldQ:        make([]float64, n),
		avFlowYield:         cfg.Market.RentGrossYield,
		expAvFlowYield:      cfg.Market.RentGrossYield,
		longTermFlowYield:   cfg.Market.RentGrossYield,
	}
	for q := 0; q < n; q++ {
		r.expAvMonthsOnMarket[q] = 1.0
		r.avOccupancy[q] = 1.0
		r.avFlowYieldQ[q] = cfg.Market.RentGrossYield
	}
	return r
}

// PostClear publishes rents, then the flow yields derived from them and
// from the sale market's published prices.
func (r *RentalStats) PostClear() {
	r.MarketStats.PostClear()
	c := r.last
	weighted := 0.0
	for q := range r.avFlowYieldQ {
		if c.nQ[q] > 0 {
			r.expAvMonthsOnMarket[q] = r.e*r.expAvMonthsOnMarket[q] + (1.0-r.e)*c.sumMonthsQ[q]/float64(c.nQ[q])
		}
		r.avOccupancy[q] = r.tenancy / (r.tenancy + r.expAvMonthsOnMarket[q])
		if salePrice := r.sale.ExpAvPrice(q); salePrice > 0 {
			r.avFlowYieldQ[q] = r.ExpAvPrice(q) * config.MonthsInYear * r.avOccupancy[q] / salePrice
		}
		weighted += r.avFlowYieldQ[q] * float64(c.nQ[q])
	}
	if c.sales > 0 {
		r.avFlowYield = weighted / float64(c.sales)
	}
	r.expAvFlowYield = r.k*r.expAvFlowYield + (1.0-r.k)*r.avFlowYield
	r.longTermFlowYield = r.kl*r.longTermFlowYield + (1.0-r.kl)*r.avFlowYield
}

// AvFlowYieldForQuality is the gross annual rental yield of quality q,
// adjusted for expected vacancy.
func (r *RentalStats) AvFlowYieldForQuality(q int) float64 { return r.avFlowYieldQ[q] }

// AvFlowYield is last month's transaction-weighted flow yield.
func (r *RentalStats) AvFlowYield() float64 { return r.avFlowYield }

// ExpAvFlowYield is the fast moving average of the flow yield.
func (r *RentalStats) ExpAvFlowYield() float64 { return r.expAvFlowYield }

// LongTermFlowYield is the slow moving average of the flow yield.
func (r *RentalStats) LongTermFlowYield() float64 { return r.longTermFlowYield }

// OccupancyForQuality is the expected fraction of time a let house of
// quality q is occupied.
func (r *RentalStats) OccupancyForQuality(q int) float64 { return r.avOccupancy[q] }
