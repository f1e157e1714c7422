package credit

import (
	"math"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/stats"
)

// Rule is a macroprudential policy run by the central bank once a month
// against the latest core indicators. It may adjust the regulator limits.
type Rule func(cb *CentralBank, ind stats.CoreIndicators)

// CentralBank holds the regulator limits the private bank lends within.
type CentralBank struct {
	LTIFirstTimeBuyer  float64
	LTIOwnerOccupier   float64
	FractionOverMaxLTI float64
	Affordability      float64
	StressedRate       float64
	MaxICR             float64
	BaseRate           float64

	rules []Rule
}

// NewCentralBank creates a regulator with the configured limits.
func NewCentralBank(cfg config.CentralBank, baseRate float64, rules ...Rule) *CentralBank {
	return &CentralBank{
		LTIFirstTimeBuyer:  cfg.LTIFirstTimeBuyer,
		LTIOwnerOccupier:   cfg.LTIOwnerOccupier,
		FractionOverMaxLTI: cfg.FractionOverMaxLTI,
		Affordability:      cfg.AffordabilityCoeff,
		StressedRate:       cfg.BTLStressedInterestRate,
		MaxICR:             cfg.MaxICR,
		BaseRate:           baseRate,
		rules:              rules,
	}
}

// LTI is the regulator's loan-to-income cap.
func (cb *CentralBank) LTI(firstTimeBuyer bool) float64 {
	if firstTimeBuyer {
		return cb.LTIFirstTimeBuyer
	}
	return cb.LTIOwnerOccupier
}

// LTILimit applies the soft cap: the bank may exceed the regulator's LTI
// on at most FractionOverMaxLTI of its owner-occupier loans this month.
// n and nOver are the month's loans so far; the +1 counts the loan being
// considered.
func (cb *CentralBank) LTILimit(firstTimeBuyer bool, bankHard float64, n, nOver int) float64 {
	if (float64(nOver)+1.0)/(float64(n)+1.0) > cb.FractionOverMaxLTI {
		return math.Min(bankHard, cb.LTI(firstTimeBuyer))
	}
	return bankHard
}

// Step runs the policy rules.
func (cb *CentralBank) Step(ind stats.CoreIndicators) {
	for _, rule := range cb.rules {
		rule(cb, ind)
	}
}
