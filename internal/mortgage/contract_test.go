package mortgage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnuityFactor(t *testing.T) {
	r, n := 0.003, 300
	want := r / (1 - math.Pow(1+r, -float64(n)))
	assert.InDelta(t, want, AnnuityFactor(r, n), 1e-15)
	assert.InDelta(t, 1.0/300, AnnuityFactor(0, n), 1e-15)
}

func TestInterestOnlyFactorIsRate(t *testing.T) {
	assert.Equal(t, 0.003, InterestOnlyFactor(0.003))
}

func TestAmortizingContractRepaysInFull(t *testing.T) {
	r, n := 0.003, 300
	c := &Contract{Principal: 100000, MonthlyInterestRate: r, NPayments: n}
	c.MonthlyPayment = c.Principal * AnnuityFactor(r, n)

	settled := 0
	c.Activate(func(*Contract) { settled++ })

	total := 0.0
	for i := 0; i < n; i++ {
		total += c.MakeMonthlyPayment()
	}
	assert.InDelta(t, 0, c.Principal, 1e-6)
	assert.Equal(t, 0, c.Remaining())

	// final month settles the rounding residue and deactivates
	total += c.MakeMonthlyPayment()
	assert.False(t, c.Active())
	assert.Equal(t, 1, settled)
	assert.InDelta(t, float64(n)*100000*AnnuityFactor(r, n), total, 1e-3)
	assert.Equal(t, 0.0, c.MakeMonthlyPayment())
}

func TestInterestOnlyKeepsPrincipal(t *testing.T) {
	c := &Contract{Principal: 50000, MonthlyInterestRate: 0.004, NPayments: 12, BuyToLet: true}
	c.MonthlyPayment = c.Principal * InterestOnlyFactor(c.MonthlyInterestRate)
	c.Activate(nil)

	for i := 0; i < 12; i++ {
		assert.InDelta(t, 200, c.MakeMonthlyPayment(), 1e-9)
	}
	assert.InDelta(t, 50000, c.Principal, 1e-6)
	// balloon repayment once the term ends
	assert.InDelta(t, 50000, c.MakeMonthlyPayment(), 1e-6)
	assert.False(t, c.Active())
}

func TestPartialPayoffScalesPayment(t *testing.T) {
	c := &Contract{Principal: 1000, MonthlyPayment: 100, NPayments: 10}
	c.Activate(nil)

	paid := c.Payoff(250)
	assert.Equal(t, 250.0, paid)
	assert.InDelta(t, 750, c.Principal, 1e-9)
	assert.InDelta(t, 75, c.MonthlyPayment, 1e-9)
	assert.True(t, c.Active())

	paid = c.Payoff(5000)
	assert.InDelta(t, 750, paid, 1e-9)
	assert.Equal(t, 0.0, c.Principal)
	assert.Equal(t, 0, c.NPayments)
	assert.False(t, c.Active())
}

func TestSettleCallbackRunsOnce(t *testing.T) {
	calls := 0
	c := &Contract{Principal: 10, NPayments: 1, MonthlyPayment: 10}
	c.Activate(func(got *Contract) {
		calls++
		require.Same(t, c, got)
	})
	c.PayoffAll()
	c.PayoffAll()
	assert.Equal(t, 1, calls)
}

func TestRental(t *testing.T) {
	r := &Rental{MonthlyPayment: 800, NPayments: 2}
	assert.Equal(t, 800.0, r.NextPayment())
	assert.Equal(t, 800.0, r.MakeMonthlyPayment())
	assert.Equal(t, 800.0, r.MakeMonthlyPayment())
	assert.Equal(t, 0, r.Remaining())
	assert.Equal(t, 0.0, r.MakeMonthlyPayment())
	assert.Equal(t, 0.0, r.NextPayment())
}

func TestWrittenOffIsEmpty(t *testing.T) {
	w := WrittenOff()
	assert.Equal(t, 0.0, w.MakeMonthlyPayment())
	assert.Equal(t, 0, w.Remaining())
	assert.False(t, w.Active())
}
