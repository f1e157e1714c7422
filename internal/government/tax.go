// Package government computes income tax and national insurance due on
// annual gross employment income, and provides the income support floor.
package government

import (
	"math"

	"github.com/talgya/housing-market/internal/config"
)

// Government holds the static band tables. It has no other state.
type Government struct {
	cfg config.Government
}

// New creates the tax schedule from cfg.
func New(cfg config.Government) *Government {
	return &Government{cfg: cfg}
}

// IncomeTaxDue is the annual income tax on grossIncome. Above the allowance
// limit the personal allowance (the first band) is withdrawn at the taper
// rate, and the withdrawn allowance is taxed at the basic rate.
func (g *Government) IncomeTaxDue(grossIncome float64) float64 {
	tax := BandedPercentage(grossIncome, g.cfg.TaxBands, g.cfg.TaxRates)
	if grossIncome > g.cfg.PersonalAllowanceLimit {
		allowance := math.Max(g.cfg.TaxBands[0]-(grossIncome-g.cfg.PersonalAllowanceLimit)*g.cfg.AllowanceTaperRate, 0)
		tax += (g.cfg.TaxBands[0] - allowance) * g.cfg.TaxRates[0]
	}
	return tax
}

// NICsDue is the annual class 1 national insurance on grossIncome.
func (g *Government) NICsDue(grossIncome float64) float64 {
	return BandedPercentage(grossIncome, g.cfg.NIBands, g.cfg.NIRates)
}

// MonthlyIncomeSupport is the state benefit paid to households without
// enough employment income.
func (g *Government) MonthlyIncomeSupport() float64 {
	return g.cfg.IncomeSupport
}

// BandedPercentage applies a piecewise-linear marginal schedule: income
// above bands[i] is taxed at rates[i]. Bands must be ascending.
func BandedPercentage(income float64, bands, rates []float64) float64 {
	tax, lastRate := 0.0, 0.0
	for i := 0; i < len(bands) && income > bands[i]; i++ {
		tax += (income - bands[i]) * (rates[i] - lastRate)
		lastRate = rates[i]
	}
	return tax
}
