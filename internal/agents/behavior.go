// Behavioural rules: the pricing and yes/no decisions a household makes.
// Every stochastic rule draws from the run's single random stream.
package agents

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/credit"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/mortgage"
)

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// desiredConsumption is the discretionary spend out of savings above the
// desired balance.
func (h *Household) desiredConsumption() float64 {
	return h.env.Cfg.Household.ConsumptionFraction * math.Max(h.balance-h.DesiredBalance, 0)
}

// desiredPurchasePrice scales employment income by a noisy multiple,
// inflated when prices are expected to rise.
func (h *Household) desiredPurchasePrice() float64 {
	cfg := h.env.Cfg.Household
	return cfg.BuyScale * config.MonthsInYear * h.MonthlyEmploymentIncome *
		math.Exp(cfg.BuyEpsilon*h.env.Rand.NormFloat64()) /
		(1.0 - cfg.BuyWeightHPA*h.env.HPAExpectation())
}

func (h *Household) desiredRent() float64 {
	return h.MonthlyEmploymentIncome * h.env.Cfg.Household.DesiredRentIncomeFraction
}

// downPayment is how much cash the household wants to put into a house at
// price. Rich households pay cash; the rest follow calibrated lognormal
// quantiles for their income percentile, capped by their balance.
func (h *Household) downPayment(price float64) float64 {
	cfg := h.env.Cfg.Household
	if h.balance > price*cfg.BankBalanceForCashDown {
		return price
	}
	p := math.Max(0, (h.Percentile-cfg.DownpaymentMinInc)/(1-cfg.DownpaymentMinInc))
	var dp float64
	switch {
	case h.firstTimeBuyer:
		dp = h.env.SaleStats.HPI() * distuv.LogNormal{Mu: cfg.DownpaymentFTBScale, Sigma: cfg.DownpaymentFTBShape}.Quantile(p)
	case h.Investor:
		dp = price * math.Max(0, cfg.DownpaymentBTLMean+cfg.DownpaymentBTLEps*h.env.Rand.NormFloat64())
	default:
		dp = h.env.SaleStats.HPI() * distuv.LogNormal{Mu: cfg.DownpaymentOOScale, Sigma: cfg.DownpaymentOOShape}.Quantile(p)
	}
	return math.Min(dp, h.balance)
}

// rentOrPurchase decides between the sale and the rental market for a
// household looking for a home: a logistic choice on the annual cost of
// owning against the cost of renting the same quality.
func (h *Household) rentOrPurchase(desired, maxMortgage float64) (bool, error) {
	if h.Investor {
		return true, nil
	}
	cfg := h.env.Cfg.Household
	price := math.Min(desired, maxMortgage)
	if price <= 0 {
		return false, nil
	}
	q := h.env.SaleStats.MaxQualityGivenPrice(price)
	if q < 0 {
		return false, nil
	}
	a, err := h.env.Bank.RequestApproval(h, price, h.downPayment(price), true)
	if err != nil {
		return false, err
	}
	if a.State != credit.Approved {
		return false, nil
	}
	costHouse := a.Terms.MonthlyPayment*config.MonthsInYear - price*h.env.HPAExpectation()
	costRent := h.env.RentalStats.ExpAvPrice(q) * config.MonthsInYear
	p := sigmoid(cfg.SensitivityRentOrPurchase * (costRent*(1.0+cfg.PsychologicalCostRenting) - costHouse))
	return h.env.Rand.Float64() < p, nil
}

// initialSalePrice marks up the average price of the quality, discounted
// when houses are slow to sell, and never below the outstanding principal.
func (h *Household) initialSalePrice(avgPrice, daysOnMarket, principal float64) float64 {
	cfg := h.env.Cfg.Household
	exponent := cfg.SaleMarkup + math.Log(avgPrice) -
		cfg.SaleWeightDays*math.Log((daysOnMarket+1.0)/(config.DaysInMonth+1.0)) +
		cfg.SaleEpsilon*h.env.Rand.NormFloat64()
	return math.Max(math.Exp(exponent), principal)
}

// rethinkSalePrice occasionally cuts the asking price of an unsold house
// by a lognormally distributed percentage.
func (h *Household) rethinkSalePrice(price float64) float64 {
	cfg := h.env.Cfg.Household
	if h.env.Rand.Float64() < cfg.PSalePriceReduce {
		cut := math.Exp(cfg.ReductionMu + h.env.Rand.NormFloat64()*cfg.ReductionSigma)
		return price * (1.0 - cut/100.0)
	}
	return price
}

func (h *Household) rethinkRent(rent float64) float64 {
	return (1.0 - h.env.Cfg.Household.RentReduction) * rent
}

// buyToLetRent prices a vacant investment property off the average rent of
// its quality. The rent never falls below the level that would amortize
// the house price over RentMaxAmortPeriod years.
func (h *Household) buyToLetRent(house *housing.House) float64 {
	cfg := h.env.Cfg.Household
	rs := h.env.RentalStats
	beta := cfg.RentMarkup / math.Log(cfg.RentEqMonths)
	exponent := cfg.RentMarkup + math.Log(rs.ExpAvPrice(house.Quality)) -
		beta*math.Log((rs.ExpAvDaysOnMarket()+1.0)/(config.DaysInMonth+1.0)) +
		cfg.RentEpsilon*h.env.Rand.NormFloat64()
	floor := h.env.SaleStats.ExpAvPrice(house.Quality) / (cfg.RentMaxAmortPeriod * config.MonthsInYear)
	return math.Max(math.Exp(exponent), floor)
}

// decideToSellHome is the monthly hazard of putting the home up for sale.
// Investors never sell their home.
func (h *Household) decideToSellHome() bool {
	if h.Investor {
		return false
	}
	cfg := h.env.Cfg.Household
	perCapita := float64(h.env.Sale.NumOffers()) / float64(max(1, h.env.Households.Len()))
	p := h.env.Derived.MonthlyPSell*(1.0+cfg.SellAlpha*(cfg.SellHPC-perCapita)) +
		cfg.SellBeta*(cfg.SellInterest-h.env.Bank.InterestRate())
	return h.env.Rand.Float64() < p
}

// effectiveYield is the leveraged expected return on equity of an
// investment property, net of the mortgage cost.
func (h *Household) effectiveYield(leverage, rentalYield, mortgageRate float64) float64 {
	c := h.CapGainCoeff
	hpa := h.env.HPAExpectation()
	if h.env.Cfg.Household.BTLYieldScaling {
		return leverage*((1.0-c)*rentalYield+c*(h.env.RentalStats.LongTermFlowYield()+hpa)) - mortgageRate
	}
	return leverage*(rentalYield+c*hpa) - mortgageRate
}

// keepProbability is the monthly probability of holding (or wanting) an
// investment with the given effective yield.
func (h *Household) keepProbability(yield float64) float64 {
	return math.Pow(sigmoid(h.env.Cfg.Household.BTLChoiceIntensity*yield), 1.0/config.MonthsInYear)
}

// decideToSellInvestmentProperty applies only to a vacant investment
// property of an investor holding at least two.
func (h *Household) decideToSellInvestmentProperty(house *housing.House) bool {
	if h.NInvestmentProperties() < 2 || !house.OnRentalMarket() {
		return false
	}
	o, ok := h.env.Rental.Get(house.RentalOffer)
	if !ok {
		return false
	}
	var principal, next float64
	if c := h.contract(house.ID); c != nil {
		principal, next = c.Principal, c.NextPayment()
	}
	marketPrice := h.env.SaleStats.ExpAvPrice(house.Quality)
	equity := math.Max(0.01, marketPrice-principal)
	leverage := marketPrice / equity
	rentalYield := o.Price * config.MonthsInYear / marketPrice
	mortgageRate := next * config.MonthsInYear / equity
	return h.env.Rand.Float64() < 1.0-h.keepProbability(h.effectiveYield(leverage, rentalYield, mortgageRate))
}

// decideToBuyBTL is the investor's monthly decision to bid for another
// investment property. Only investors bid, and an investor without one
// always does.
func (h *Household) decideToBuyBTL() (bool, error) {
	if !h.Investor {
		return false, nil
	}
	if h.NInvestmentProperties() < 1 {
		return true, nil
	}
	if h.balance < h.DesiredBalance*h.env.Cfg.Household.BTLChoiceMinBankBalance {
		return false, nil
	}
	maxPrice := h.env.Bank.MaxMortgage(h, false)
	if maxPrice <= 0 || maxPrice < h.env.SaleStats.ExpAvPrice(0) {
		return false, nil
	}
	a, err := h.env.Bank.RequestApproval(h, maxPrice, 0, false)
	if err != nil {
		return false, err
	}
	if a.State != credit.Approved || a.Terms.DownPayment <= 0 {
		return false, nil
	}
	t := a.Terms
	leverage := t.PurchasePrice / t.DownPayment
	mortgageRate := t.MonthlyPayment * config.MonthsInYear / t.DownPayment
	yield := h.effectiveYield(leverage, h.env.RentalStats.AvFlowYield(), mortgageRate)
	return h.env.Rand.Float64() < h.keepProbability(yield), nil
}

// btlBidPrice caps the investor's bid at a multiple of the top-quality
// average price.
func (h *Household) btlBidPrice() float64 {
	top := h.env.SaleStats.ExpAvPrice(h.env.Cfg.Market.NQuality - 1)
	return math.Min(h.env.Bank.MaxMortgage(h, false), h.env.Cfg.Household.BTLBidTopQualityMultiple*top)
}

// contract returns the mortgage on house, or nil if the household pays
// none (a tenancy or no agreement).
func (h *Household) contract(id housing.ID) *mortgage.Contract {
	c, _ := h.payments[id].(*mortgage.Contract)
	return c
}
