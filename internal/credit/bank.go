// Package credit is the mortgage lender and its regulator. The bank
// approves and issues mortgages within loan-to-value, loan-to-income,
// affordability and interest-cover limits, and moves its mortgage rate each
// month so that credit supply tracks a target.
package credit

import (
	"maps"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/mortgage"
	"github.com/talgya/housing-market/internal/simerr"
)

// Borrower is what the bank needs to know about an applicant.
type Borrower interface {
	BankBalance() float64
	AnnualEmploymentIncome() float64
	MonthlyPostTaxIncome() float64
	FirstTimeBuyer() bool
	HomeEquity() float64
}

// YieldSource publishes the average gross rental yield used in the
// interest-cover test for buy-to-let loans.
type YieldSource interface {
	ExpAvFlowYield() float64
}

// State of a mortgage approval.
type State int

const (
	Requested State = iota
	Evaluated
	Approved
	Declined
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Evaluated:
		return "evaluated"
	case Approved:
		return "approved"
	case Declined:
		return "declined"
	}
	return "unknown"
}

// Constraint names the limit that set the principal.
type Constraint string

const (
	ConstraintNone          Constraint = ""
	ConstraintLTV           Constraint = "ltv"
	ConstraintAffordability Constraint = "affordability"
	ConstraintLTI           Constraint = "lti"
	ConstraintICR           Constraint = "icr"
	ConstraintDownPayment   Constraint = "down_payment"
)

// Approval is the bank's answer to a mortgage request. Terms holds the
// contract the bank would issue; it is not registered until RequestLoan.
type Approval struct {
	State   State
	Binding Constraint
	Terms   mortgage.Contract
}

// Stats is a snapshot of the bank's lending for reporting.
type Stats struct {
	InterestRate  float64
	CreditSupply  float64 // principal lent this month
	Loans         int
	OOLoans       int
	OverLTI       int
	OverLTV       int
	Approvals     int // loans issued, cash purchases included
	Declines      int
	TotalDebt     float64
	OpenContracts int
}

// Bank is the single mortgage lender.
type Bank struct {
	cfg       config.Bank
	cb        *CentralBank
	yields    YieldSource
	nPayments int

	rate     float64
	baseRate float64
	k        float64 // annuity factor at the current rate

	supply    float64
	loans     int
	ooLoans   int
	overLTI   int
	overLTV   int
	approvals int
	declines  int

	nextID    mortgage.ID
	mortgages map[mortgage.ID]*mortgage.Contract
}

// NewBank creates a bank at its initial rate.
func NewBank(cfg *config.Config, cb *CentralBank, yields YieldSource) *Bank {
	b := &Bank{
		cfg:       cfg.Bank,
		cb:        cb,
		yields:    yields,
		nPayments: cfg.Derive().NPayments,
		baseRate:  cfg.Bank.InitialBaseRate,
		mortgages: make(map[mortgage.ID]*mortgage.Contract),
	}
	b.setRate(math.Max(cfg.Bank.InitialRate, b.baseRate))
	return b
}

func (b *Bank) setRate(rate float64) {
	b.rate = rate
	b.k = mortgage.AnnuityFactor(rate/config.MonthsInYear, b.nPayments)
}

// InterestRate is the current annual mortgage rate.
func (b *Bank) InterestRate() float64 { return b.rate }

// BaseRate is the floor under the mortgage rate.
func (b *Bank) BaseRate() float64 { return b.baseRate }

// PaymentFactor is the monthly payment per unit of principal: amortizing
// for a home, interest-only for buy-to-let.
func (b *Bank) PaymentFactor(isHome bool) float64 {
	if isHome {
		return b.k
	}
	return mortgage.InterestOnlyFactor(b.rate / config.MonthsInYear)
}

// LTVLimit is the maximum loan-to-value ratio for the borrower type.
func (b *Bank) LTVLimit(firstTimeBuyer, isHome bool) float64 {
	switch {
	case !isHome:
		return b.cfg.LTVBuyToLet
	case firstTimeBuyer:
		return b.cfg.LTVFirstTimeBuyer
	default:
		return b.cfg.LTVOwnerOccupier
	}
}

// LTILimit is the loan-to-income cap for the next owner-occupier loan. The
// bank's own limit applies until the month's share of loans over the
// regulator's limit would exceed the regulator's allowance.
func (b *Bank) LTILimit(firstTimeBuyer bool) float64 {
	hard := b.cfg.LTIOwnerOccupier
	if firstTimeBuyer {
		hard = b.cfg.LTIFirstTimeBuyer
	}
	return b.cb.LTILimit(firstTimeBuyer, hard, b.ooLoans, b.overLTI)
}

// ICRLimit is the minimum interest cover on buy-to-let loans.
func (b *Bank) ICRLimit() float64 { return b.cb.MaxICR }

func (b *Bank) liquidWealth(h Borrower, isHome bool) float64 {
	w := h.BankBalance()
	if isHome {
		w += h.HomeEquity()
	}
	return w
}

// RequestApproval evaluates a mortgage for a house at price without
// committing to it. The approval is Declined when the binding limits leave
// a down payment larger than the borrower's liquid wealth.
func (b *Bank) RequestApproval(h Borrower, price, desiredDownPayment float64, isHome bool) (*Approval, error) {
	if !(price > 0) {
		return nil, simerr.Invariant("bank", 0, "request approval", "non-positive house price %v", price)
	}
	a := &Approval{State: Requested}
	ftb := h.FirstTimeBuyer()
	liquid := b.liquidWealth(h, isHome)
	factor := b.PaymentFactor(isHome)

	principal := price * b.LTVLimit(ftb, isHome)
	a.Binding = ConstraintLTV
	bind := func(limit float64, c Constraint) {
		if limit < principal {
			principal = limit
			a.Binding = c
		}
	}
	if isHome {
		afford := math.Max(0, b.cb.Affordability*h.MonthlyPostTaxIncome()) / factor
		bind(afford, ConstraintAffordability)
		bind(h.AnnualEmploymentIncome()*b.LTILimit(ftb), ConstraintLTI)
	} else {
		yield := b.yields.ExpAvFlowYield()
		bind(yield*price/(b.ICRLimit()*b.cb.StressedRate), ConstraintICR)
	}
	principal = math.Max(0, principal)
	a.State = Evaluated

	down := price - principal
	if down > liquid {
		a.State = Declined
		return a, nil
	}
	desired := math.Min(math.Max(0, desiredDownPayment), math.Min(liquid, price))
	if desired > down {
		down = desired
		principal = price - desired
		a.Binding = ConstraintDownPayment
	}

	a.Terms = mortgage.Contract{
		Principal:           principal,
		DownPayment:         down,
		PurchasePrice:       principal + down,
		MonthlyPayment:      principal * factor,
		MonthlyInterestRate: b.rate / config.MonthsInYear,
		NPayments:           b.nPayments,
		BuyToLet:            !isHome,
		FirstTimeBuyer:      ftb,
	}
	a.State = Approved
	return a, nil
}

// RequestLoan approves and issues a mortgage. It returns nil without an
// error when the bank declines. A zero-principal (cash) contract is
// returned but not registered.
func (b *Bank) RequestLoan(h Borrower, price, desiredDownPayment float64, isHome bool) (*mortgage.Contract, error) {
	a, err := b.RequestApproval(h, price, desiredDownPayment, isHome)
	if err != nil {
		return nil, err
	}
	if a.State != Approved {
		b.declines++
		return nil, nil
	}
	b.approvals++
	c := a.Terms
	b.supply += c.Principal
	if c.Principal > 0 {
		b.nextID++
		c.ID = b.nextID
		b.mortgages[c.ID] = &c
		c.Activate(b.settle)
		b.loans++
	}
	if isHome {
		b.ooLoans++
		if c.Principal/h.AnnualEmploymentIncome() > b.cb.LTI(c.FirstTimeBuyer) {
			b.overLTI++
		}
		if c.Principal/c.PurchasePrice > b.LTVLimit(c.FirstTimeBuyer, true) {
			b.overLTV++
		}
	}
	return &c, nil
}

func (b *Bank) settle(c *mortgage.Contract) {
	delete(b.mortgages, c.ID)
}

// MaxMortgage is the largest purchase price the bank would finance for h,
// i.e. principal plus all the liquid wealth the borrower could put down,
// rounded down to the penny.
func (b *Bank) MaxMortgage(h Borrower, isHome bool) float64 {
	ftb := h.FirstTimeBuyer()
	liquid := b.liquidWealth(h, isHome)
	limit := liquid / (1.0 - b.LTVLimit(ftb, isHome))
	if isHome {
		afford := liquid + math.Max(0, b.cb.Affordability*h.MonthlyPostTaxIncome())/b.PaymentFactor(true)
		lti := h.AnnualEmploymentIncome()*b.LTILimit(ftb) + liquid
		limit = math.Min(limit, math.Min(afford, lti))
	} else {
		icr := b.yields.ExpAvFlowYield() / (b.ICRLimit() * b.cb.StressedRate)
		if icr < 1.0 {
			limit = math.Min(limit, liquid/(1.0-icr))
		}
	}
	return math.Floor(limit*100.0) / 100.0
}

// BeginMonth resets the monthly lending counters.
func (b *Bank) BeginMonth() {
	b.supply = 0
	b.loans = 0
	b.ooLoans = 0
	b.overLTI = 0
	b.overLTV = 0
	b.approvals = 0
	b.declines = 0
}

// Step moves the mortgage rate toward the level at which this month's
// lending matches the target for population households.
func (b *Bank) Step(population int) {
	target := b.cfg.CreditSupplyTarget * float64(population)
	rate := b.rate + 0.5*(b.supply-target)/b.cfg.DemandSensitivity
	rate = math.Max(rate, b.baseRate)
	if rate != b.rate {
		zap.S().Debugw("mortgage rate moved",
			"from", b.rate,
			"to", rate,
			"supply", b.supply,
			"target", target)
	}
	b.setRate(rate)
}

// SetBaseRate moves the floor; the mortgage rate follows if below it.
func (b *Bank) SetBaseRate(rate float64) {
	b.baseRate = rate
	if b.rate < rate {
		b.setRate(rate)
	}
}

// Contract returns a live mortgage by id.
func (b *Bank) Contract(id mortgage.ID) (*mortgage.Contract, bool) {
	c, ok := b.mortgages[id]
	return c, ok
}

// Stats reports the month's lending and the outstanding book.
func (b *Bank) Stats() Stats {
	debt := 0.0
	for _, id := range slices.Sorted(maps.Keys(b.mortgages)) {
		debt += b.mortgages[id].Principal
	}
	return Stats{
		InterestRate:  b.rate,
		CreditSupply:  b.supply,
		Loans:         b.loans,
		OOLoans:       b.ooLoans,
		OverLTI:       b.overLTI,
		OverLTV:       b.overLTV,
		Approvals:     b.approvals,
		Declines:      b.declines,
		TotalDebt:     debt,
		OpenContracts: len(b.mortgages),
	}
}
