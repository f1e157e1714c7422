// Package stats computes the public market statistics agents act on:
// exponentially-decayed average prices per quality, days on market, the
// house price index and its appreciation, and rental yields.
//
// Transactions are recorded during clearing; PostClear folds them into the
// published averages. Agents read the published values, so everything they
// see during month t was computed at the end of month t-1.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/housing-market/internal/config"
)

// minAveragePrice keeps average prices strictly positive.
const minAveragePrice = 0.01

// ReferencePrices returns the price of each quality band under a log-normal
// price distribution with the given median and shape: band q sits at the
// (q+0.5)/n quantile.
func ReferencePrices(n int, median, shape float64) []float64 {
	dist := distuv.LogNormal{Mu: math.Log(median), Sigma: shape}
	out := make([]float64, n)
	for q := range out {
		out[q] = dist.Quantile((float64(q) + 0.5) / float64(n))
	}
	return out
}

// counts accumulate during one clearing.
type counts struct {
	sales, ftbSales, btlSales int
	sumRefPrice               float64
	sumPrice                  float64
	sumDays                   float64
	sumPriceQ                 []float64
	sumMonthsQ                []float64
	nQ                        []int
}

func newCounts(n int) counts {
	return counts{
		sumPriceQ:  make([]float64, n),
		sumMonthsQ: make([]float64, n),
		nQ:         make([]int, n),
	}
}

// bookSnapshot describes the order book just before clearing.
type bookSnapshot struct {
	bids, offers       int
	sumBids, sumOffers float64
}

// MarketStats are the statistics of one market (sale or rental).
type MarketStats struct {
	nQuality   int
	e, g       float64
	decay      float64
	hpaYears   int
	ref        []float64
	record     []float64 // HPI history, oldest first
	current    counts
	last       counts
	book       bookSnapshot

	expAvDaysOnMarket float64
	expAvPrice        []float64
	hpi               float64
	annualHPA         float64
	longTermHPA       float64
}

// NewMarketStats creates statistics for a market whose reference price per
// quality is ref.
func NewMarketStats(cfg *config.Config, ref []float64) *MarketStats {
	d := cfg.Derive()
	n := cfg.Market.NQuality
	s := &MarketStats{
		nQuality: n,
		e:        d.E,
		g:        d.G,
		decay:    cfg.Market.AveragePriceDecay,
		hpaYears: cfg.Household.HPAYearsToCheck,
		ref:      append([]float64(nil), ref...),
		record:   make([]float64, d.HPIRecordLength),
		current:  newCounts(n),
		last:     newCounts(n),

		expAvDaysOnMarket: config.DaysInMonth,
		expAvPrice:        append([]float64(nil), ref...),
		hpi:               1.0,
	}
	for i := range s.record {
		s.record[i] = 1.0
	}
	s.annualHPA = s.HousePriceAppreciation(1)
	s.longTermHPA = s.HousePriceAppreciation(s.hpaYears)
	return s
}

// PreClear records the order book as it stands before clearing and resets
// the transaction counters.
func (s *MarketStats) PreClear(nBids, nOffers int, sumBids, sumOffers float64) {
	s.current = newCounts(s.nQuality)
	s.book.bids = nBids
	s.book.offers = nOffers
	s.book.sumBids = sumBids
	s.book.sumOffers = sumOffers
}

// RecordTransaction counts one completed transaction of a house of quality q
// at price, listed in month listed and completed in month now.
func (s *MarketStats) RecordTransaction(q int, price float64, listed, now int) {
	months := float64(now - listed)
	s.current.sales++
	s.current.sumDays += config.DaysInMonth * months
	s.current.sumMonthsQ[q] += months
	s.current.sumPriceQ[q] += price
	s.current.nQ[q]++
	s.current.sumRefPrice += s.ref[q]
	s.current.sumPrice += price
}

// RecordBuyer classifies the buyer of the last recorded sale.
func (s *MarketStats) RecordBuyer(firstTimeBuyer, buyToLet bool) {
	switch {
	case firstTimeBuyer:
		s.current.ftbSales++
	case buyToLet:
		s.current.btlSales++
	}
}

// PostClear publishes this month's averages.
func (s *MarketStats) PostClear() {
	s.last = s.current
	c := s.last
	if c.sales > 0 {
		s.expAvDaysOnMarket = s.e*s.expAvDaysOnMarket + (1.0-s.e)*c.sumDays/float64(c.sales)
		s.hpi = c.sumPrice / c.sumRefPrice
	}
	for q := 0; q < s.nQuality; q++ {
		if c.nQ[q] > 0 {
			s.expAvPrice[q] = s.g*s.expAvPrice[q] + (1.0-s.g)*c.sumPriceQ[q]/float64(c.nQ[q])
		}
	}
	copy(s.record, s.record[1:])
	s.record[len(s.record)-1] = s.hpi
	s.annualHPA = s.HousePriceAppreciation(1)
	s.longTermHPA = s.HousePriceAppreciation(s.hpaYears)
	for q := 0; q < s.nQuality; q++ {
		s.expAvPrice[q] = s.decay*s.expAvPrice[q] + (1.0-s.decay)*s.hpi*s.ref[q]
	}
}

// HousePriceAppreciation is the annualised HPI growth over nYears, comparing
// the latest quarter with the same quarter nYears earlier.
func (s *MarketStats) HousePriceAppreciation(nYears int) float64 {
	n := len(s.record)
	back := nYears * config.MonthsInYear
	if back+3 > n {
		back = n - 3
	}
	now := s.record[n-1] + s.record[n-2] + s.record[n-3]
	old := s.record[n-back-1] + s.record[n-back-2] + s.record[n-back-3]
	return math.Pow(now/old, 1.0/float64(nYears)) - 1.0
}

// QoQGrowth is the percentage change of the latest quarter's HPI over the
// previous quarter's.
func (s *MarketStats) QoQGrowth() float64 {
	n := len(s.record)
	now := s.record[n-1] + s.record[n-2] + s.record[n-3]
	old := s.record[n-4] + s.record[n-5] + s.record[n-6]
	return 100.0 * (now - old) / old
}

// ExpAvPrice is the published average price for quality q.
func (s *MarketStats) ExpAvPrice(q int) float64 {
	return math.Max(s.expAvPrice[q], minAveragePrice)
}

// ExpAvPrices returns a copy of the published averages.
func (s *MarketStats) ExpAvPrices() []float64 {
	return append([]float64(nil), s.expAvPrice...)
}

// MeanExpAvPrice averages the published price over all qualities.
func (s *MarketStats) MeanExpAvPrice() float64 {
	sum := 0.0
	for _, p := range s.expAvPrice {
		sum += p
	}
	return sum / float64(len(s.expAvPrice))
}

// MaxQualityGivenPrice is the highest quality whose average price does not
// exceed price, or -1 when price buys nothing.
func (s *MarketStats) MaxQualityGivenPrice(price float64) int {
	q := s.nQuality - 1
	for q >= 0 && s.expAvPrice[q] > price {
		q--
	}
	return q
}

// ReferencePrice is the calibration price for quality q.
func (s *MarketStats) ReferencePrice(q int) float64 { return s.ref[q] }

func (s *MarketStats) HPI() float64               { return s.hpi }
func (s *MarketStats) AnnualHPA() float64         { return s.annualHPA }
func (s *MarketStats) LongTermHPA() float64       { return s.longTermHPA }
func (s *MarketStats) ExpAvDaysOnMarket() float64 { return s.expAvDaysOnMarket }
func (s *MarketStats) Sales() int                 { return s.last.sales }
func (s *MarketStats) FTBSales() int              { return s.last.ftbSales }
func (s *MarketStats) BTLSales() int              { return s.last.btlSales }
func (s *MarketStats) SalesForQuality(q int) int  { return s.last.nQ[q] }
func (s *MarketStats) NumBidsPreClear() int       { return s.book.bids }
func (s *MarketStats) NumOffersPreClear() int     { return s.book.offers }

// AvSoldPrice is the mean price of last month's transactions, 0 if none.
func (s *MarketStats) AvSoldPrice() float64 {
	if s.last.sales == 0 {
		return 0
	}
	return s.last.sumPrice / float64(s.last.sales)
}

// AvBidPrice is the mean bid before last clearing, 0 if none.
func (s *MarketStats) AvBidPrice() float64 {
	if s.book.bids == 0 {
		return 0
	}
	return s.book.sumBids / float64(s.book.bids)
}

// AvOfferPrice is the mean ask before last clearing, 0 if none.
func (s *MarketStats) AvOfferPrice() float64 {
	if s.book.offers == 0 {
		return 0
	}
	return s.book.sumOffers / float64(s.book.offers)
}
