// Package mortgage holds the payment agreements a household can carry on a
// house: mortgages (amortizing or interest-only) and rental agreements.
package mortgage

import "math"

// ID identifies a mortgage contract. Zero means "not registered".
type ID uint64

// Agreement is a stream of monthly payments on one house.
type Agreement interface {
	// MakeMonthlyPayment advances the agreement by one month and returns
	// the amount paid.
	MakeMonthlyPayment() float64
	// NextPayment is the amount due next month without advancing.
	NextPayment() float64
	// Remaining is the number of monthly payments still due.
	Remaining() int
	// Monthly is the current monthly payment.
	Monthly() float64
}

// Rental is a tenancy: a fixed rent for a fixed number of months.
type Rental struct {
	MonthlyPayment float64
	NPayments      int
}

func (r *Rental) MakeMonthlyPayment() float64 {
	if r.NPayments == 0 {
		return 0
	}
	r.NPayments--
	return r.MonthlyPayment
}

func (r *Rental) NextPayment() float64 {
	if r.NPayments == 0 {
		return 0
	}
	return r.MonthlyPayment
}

func (r *Rental) Remaining() int   { return r.NPayments }
func (r *Rental) Monthly() float64 { return r.MonthlyPayment }

// Contract is a mortgage on one house, owned by exactly one household.
type Contract struct {
	ID                  ID
	Principal           float64 // outstanding
	DownPayment         float64
	PurchasePrice       float64
	MonthlyPayment      float64
	MonthlyInterestRate float64
	NPayments           int
	BuyToLet            bool // interest-only
	FirstTimeBuyer      bool

	active   bool
	onSettle func(*Contract)
}

// Activate marks the contract live. settle, if non-nil, is called exactly
// once when the principal is fully repaid.
func (c *Contract) Activate(settle func(*Contract)) {
	c.active = true
	c.onSettle = settle
}

// Active reports whether the contract is live with the lender.
func (c *Contract) Active() bool { return c.active }

// MakeMonthlyPayment pays one month. When no payments remain, any residual
// principal is settled in one final payment.
func (c *Contract) MakeMonthlyPayment() float64 {
	if c.NPayments == 0 {
		if !c.active {
			return 0
		}
		return c.Payoff(c.Principal)
	}
	c.NPayments--
	c.Principal = c.Principal*(1.0+c.MonthlyInterestRate) - c.MonthlyPayment
	return c.MonthlyPayment
}

// NextPayment is the payment due next month.
func (c *Contract) NextPayment() float64 {
	if c.NPayments == 0 {
		return 0
	}
	return c.MonthlyPayment
}

func (c *Contract) Remaining() int   { return c.NPayments }
func (c *Contract) Monthly() float64 { return c.MonthlyPayment }

// Payoff repays up to amount of principal and returns what was actually
// repaid. A partial payoff scales the monthly payment pro rata; a full one
// ends the contract.
func (c *Contract) Payoff(amount float64) float64 {
	if amount >= c.Principal {
		amount = c.Principal
		c.Principal = 0
		c.MonthlyPayment = 0
		c.NPayments = 0
		c.settle()
		return amount
	}
	if amount <= 0 {
		return 0
	}
	c.MonthlyPayment *= (c.Principal - amount) / c.Principal
	c.Principal -= amount
	return amount
}

// PayoffAll repays the whole outstanding principal.
func (c *Contract) PayoffAll() float64 {
	return c.Payoff(c.Principal)
}

func (c *Contract) settle() {
	if !c.active {
		return
	}
	c.active = false
	if c.onSettle != nil {
		c.onSettle(c)
	}
}

// WrittenOff returns a zero-principal placeholder used when a house changes hands
// outside the market (inheritance).
func WrittenOff() *Contract {
	return &Contract{}
}

// AnnuityFactor is the monthly payment per unit of principal of an
// amortizing loan at monthly rate r over n payments.
func AnnuityFactor(r float64, n int) float64 {
	if r == 0 {
		return 1.0 / float64(n)
	}
	return r / (1.0 - math.Pow(1.0+r, -float64(n)))
}

// InterestOnlyFactor is the monthly payment per unit of principal of an
// interest-only loan at monthly rate r.
func InterestOnlyFactor(r float64) float64 {
	return r
}
