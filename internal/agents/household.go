package agents

import (
	"maps"
	"math"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/market"
	"github.com/talgya/housing-market/internal/mortgage"
	"github.com/talgya/housing-market/internal/simerr"
)

// Step runs one month for the household: age and income, payments and
// consumption, the bankruptcy check, management of owned houses, and
// finally the tenure decision, which may place one bid.
func (h *Household) Step() error {
	h.Age += 1.0 / config.MonthsInYear
	h.updateIncome()

	cfg := h.env.Cfg.Household
	disposable := h.MonthlyPostTaxIncome() - cfg.EssentialConsumptionFraction*h.env.Gov.MonthlyIncomeSupport()
	for _, id := range h.PaymentHouses() {
		disposable -= h.payments[id].MakeMonthlyPayment()
	}
	h.balance += disposable
	if h.firstTimeBuyer || !h.InSocialHousing() {
		h.balance -= h.desiredConsumption()
	}

	if h.balance < 0 {
		if !h.Bankrupt {
			zap.S().Debugw("household bankrupt", "household", h.ID, "month", h.env.Month, "shortfall", -h.balance)
		}
		h.balance = cfg.BankruptcyCashInjection
		h.Bankrupt = true
	} else {
		h.Bankrupt = false
	}

	for _, id := range h.PaymentHouses() {
		house, err := h.env.Stock.Must(id, "manage house")
		if err != nil {
			return err
		}
		switch {
		case house.Owner.IsHousehold(h.ID):
			if err := h.manageHouse(house); err != nil {
				return errors.Wrapf(err, "household %d", h.ID)
			}
		case id != h.home && h.payments[id].Remaining() == 0:
			delete(h.payments, id)
		}
	}

	switch {
	case h.InSocialHousing():
		return h.bidForAHome()
	case h.IsRenting():
		if h.payments[h.home].Remaining() == 0 {
			if err := h.endTenancy(); err != nil {
				return err
			}
			return h.bidForAHome()
		}
	case h.Investor && cfg.BTLEnabled:
		buy, err := h.decideToBuyBTL()
		if err != nil || !buy {
			return err
		}
		if price := h.btlBidPrice(); price > 0 {
			return h.env.Sale.BTLBid(h.ID, price)
		}
	}
	return nil
}

// updateIncome looks up the employment income for the current age. Income
// never falls below the state income support.
func (h *Household) updateIncome() {
	annual := h.env.Income.AnnualIncome(h.Age, h.Percentile)
	annual = math.Max(annual, config.MonthsInYear*h.env.Gov.MonthlyIncomeSupport())
	h.MonthlyEmploymentIncome = annual / config.MonthsInYear
}

// manageHouse reprices or withdraws an existing listing, or decides
// whether to list the house for sale; then cuts the rent of a vacant
// rental listing.
func (h *Household) manageHouse(house *housing.House) error {
	env := h.env
	if house.OnSaleMarket() {
		o, ok := env.Sale.Get(house.SaleOffer)
		if !ok {
			return simerr.Invariant("house", uint64(house.ID), "manage house", "sale offer %d is not active", house.SaleOffer)
		}
		price := h.rethinkSalePrice(o.Price)
		switch {
		case price > h.principal(house.ID):
			if price != o.Price {
				if err := env.Sale.UpdateOffer(o.ID, price); err != nil {
					return err
				}
			}
		default:
			if err := env.Sale.RemoveOffer(o.ID); err != nil {
				return err
			}
			if house.ID != h.home && house.Resident == 0 {
				if _, err := env.Rental.Offer(house.ID, h.buyToLetRent(house), false, env.Month); err != nil {
					return err
				}
			}
		}
	} else if h.decideToSell(house) {
		if house.OnRentalMarket() {
			if err := env.Rental.RemoveOffer(house.RentalOffer); err != nil {
				return err
			}
		}
		if err := h.putHouseForSale(house); err != nil {
			return err
		}
	}

	if house.OnRentalMarket() {
		o, ok := env.Rental.Get(house.RentalOffer)
		if !ok {
			return simerr.Invariant("house", uint64(house.ID), "manage house", "rental offer %d is not active", house.RentalOffer)
		}
		return env.Rental.UpdateOffer(o.ID, h.rethinkRent(o.Price))
	}
	return nil
}

func (h *Household) decideToSell(house *housing.House) bool {
	if house.ID == h.home {
		return h.decideToSellHome()
	}
	if h.env.Cfg.Household.BTLEnabled {
		return h.decideToSellInvestmentProperty(house)
	}
	return false
}

func (h *Household) putHouseForSale(house *housing.House) error {
	st := h.env.SaleStats
	price := h.initialSalePrice(st.ExpAvPrice(house.Quality), st.ExpAvDaysOnMarket(), h.principal(house.ID))
	_, err := h.env.Sale.Offer(house.ID, price, house.ID != h.home, h.env.Month)
	return err
}

// bidForAHome places one bid on the sale or the rental market. A purchase
// bid is always kept below the bank's maximum so the loan can be granted
// when the bid is matched.
func (h *Household) bidForAHome() error {
	env := h.env
	maxMortgage := env.Bank.MaxMortgage(h, true)
	price := h.desiredPurchasePrice()
	buy, err := h.rentOrPurchase(price, maxMortgage)
	if err != nil {
		return err
	}
	if buy {
		price = math.Min(price, maxMortgage-1.0)
		if price > 0 {
			q := env.SaleStats.MaxQualityGivenPrice(price)
			return env.Sale.Bid(h.ID, price, env.Sale.MinQuality(q))
		}
	}
	rent := h.desiredRent()
	q := env.RentalStats.MaxQualityGivenPrice(rent)
	return env.Rental.Bid(h.ID, rent, env.Rental.MinQuality(q))
}

// CompleteHousePurchase takes out the mortgage on a house just bought and
// moves in, or lets it out if it is an investment. The bid was capped at
// the bank's maximum, so a declined loan here is an invariant violation.
func (h *Household) CompleteHousePurchase(o *market.Offer) error {
	house, err := h.env.Stock.Must(o.House, "complete purchase")
	if err != nil {
		return err
	}
	if h.IsRenting() {
		if h.home == house.ID {
			return simerr.Invariant("household", uint64(h.ID), "complete purchase", "bought the house it rents")
		}
		if err := h.endTenancy(); err != nil {
			return err
		}
	}
	isHome := h.home == 0
	c, err := h.env.Bank.RequestLoan(h, o.Price, h.downPayment(o.Price), isHome)
	if err != nil {
		return err
	}
	if c == nil {
		return simerr.Invariant("household", uint64(h.ID), "complete purchase",
			"mortgage declined for house %d at %.2f with balance %.2f", house.ID, o.Price, h.balance)
	}
	h.balance -= c.DownPayment
	h.payments[house.ID] = c
	switch {
	case isHome:
		h.home = house.ID
		house.Resident = h.ID
		h.DesiredQuality = house.Quality
	case house.Resident == 0:
		if _, err := h.env.Rental.Offer(house.ID, h.buyToLetRent(house), false, h.env.Month); err != nil {
			return err
		}
	}
	h.firstTimeBuyer = false
	return nil
}

// CompleteHouseSale banks the sale price, pays down the mortgage and
// vacates the house: the household moves out if it was its home,
// otherwise the tenant is evicted.
func (h *Household) CompleteHouseSale(o *market.Offer) error {
	house, err := h.env.Stock.Must(o.House, "complete sale")
	if err != nil {
		return err
	}
	c := h.contract(house.ID)
	if c == nil {
		return simerr.Invariant("household", uint64(h.ID), "complete sale", "no mortgage on sold house %d", house.ID)
	}
	h.balance += o.Price
	h.balance -= c.Payoff(h.balance)
	if house.OnRentalMarket() {
		if err := h.env.Rental.RemoveOffer(house.RentalOffer); err != nil {
			return err
		}
	}
	if c.Remaining() == 0 {
		delete(h.payments, house.ID)
	}
	if house.ID == h.home {
		house.Resident = 0
		h.home = 0
		return nil
	}
	if house.Resident != 0 {
		tenant := h.env.Households.Get(house.Resident)
		if tenant == nil {
			return simerr.Invariant("house", uint64(house.ID), "complete sale", "resident %d does not exist", house.Resident)
		}
		if rent, ok := tenant.payments[house.ID]; ok {
			h.MonthlyPropertyIncome -= rent.Monthly()
		}
		return tenant.getEvicted()
	}
	return nil
}

// CompleteHouseLet records the rent of a newly let investment property.
func (h *Household) CompleteHouseLet(o *market.Offer) error {
	house, err := h.env.Stock.Must(o.House, "complete let")
	if err != nil {
		return err
	}
	if house.OnSaleMarket() {
		if err := h.env.Sale.RemoveOffer(house.SaleOffer); err != nil {
			return err
		}
	}
	h.MonthlyPropertyIncome += o.Price
	return nil
}

// CompleteHouseRental moves the household into a rented house under a
// tenancy of random length.
func (h *Household) CompleteHouseRental(o *market.Offer) error {
	house, err := h.env.Stock.Must(o.House, "complete rental")
	if err != nil {
		return err
	}
	if h.home != 0 {
		return simerr.Invariant("household", uint64(h.ID), "complete rental", "renting house %d while housed in %d", house.ID, h.home)
	}
	if house.Resident != 0 {
		return simerr.Invariant("house", uint64(house.ID), "complete rental", "already occupied by %d", house.Resident)
	}
	if !house.Owner.IsHousehold(h.ID) {
		m := h.env.Cfg.Market
		h.payments[house.ID] = &mortgage.Rental{
			MonthlyPayment: o.Price,
			NPayments:      m.TenancyLengthAverage + h.env.Rand.IntN(2*m.TenancyLengthEpsilon+1) - m.TenancyLengthEpsilon,
		}
	}
	h.home = house.ID
	house.Resident = h.ID
	h.DesiredQuality = house.Quality
	return nil
}

// EndOfLettingAgreement is the landlord's side of a tenant leaving: the
// rent stops and the house goes back on the rental market.
func (h *Household) EndOfLettingAgreement(id housing.ID, rent mortgage.Agreement) error {
	house, err := h.env.Stock.Must(id, "end of letting")
	if err != nil {
		return err
	}
	h.MonthlyPropertyIncome -= rent.Monthly()
	if _, ok := h.payments[id]; !ok {
		return simerr.Invariant("household", uint64(h.ID), "end of letting", "does not hold house %d", id)
	}
	if house.OnRentalMarket() {
		return simerr.Invariant("house", uint64(id), "end of letting", "let house is on the rental market")
	}
	if house.OnSaleMarket() {
		return nil
	}
	_, err = h.env.Rental.Offer(id, h.buyToLetRent(house), false, h.env.Month)
	return err
}

// endTenancy moves the household out of its rented home and tells the
// landlord.
func (h *Household) endTenancy() error {
	house, err := h.env.Stock.Must(h.home, "end tenancy")
	if err != nil {
		return err
	}
	rent := h.payments[house.ID]
	delete(h.payments, house.ID)
	house.Resident = 0
	h.home = 0
	landlord, err := h.env.Owner(house)
	if err != nil {
		return err
	}
	return landlord.EndOfLettingAgreement(house.ID, rent)
}

// getEvicted leaves the rented home without notifying the landlord.
func (h *Household) getEvicted() error {
	house := h.env.Stock.Get(h.home)
	if house == nil {
		return simerr.Invariant("household", uint64(h.ID), "evict", "evicted while in social housing")
	}
	if house.Owner.IsHousehold(h.ID) {
		return simerr.Invariant("household", uint64(h.ID), "evict", "evicted from its own house %d", house.ID)
	}
	delete(h.payments, house.ID)
	house.Resident = 0
	h.home = 0
	return nil
}

// TransferAllWealthTo hands everything to heir on death. Owned houses are
// delisted, emptied and inherited; tenancies end; every mortgage is paid
// off from the estate, and any positive balance left goes to heir.
func (h *Household) TransferAllWealthTo(heir *Household) error {
	if heir == h {
		return simerr.Invariant("household", uint64(h.ID), "transfer wealth", "household is its own heir")
	}
	env := h.env
	for _, id := range h.PaymentHouses() {
		house, err := env.Stock.Must(id, "transfer wealth")
		if err != nil {
			return err
		}
		payment := h.payments[id]
		wasHome := id == h.home
		if wasHome {
			house.Resident = 0
			h.home = 0
		}
		switch {
		case house.Owner.IsHousehold(h.ID):
			if house.OnRentalMarket() {
				if err := env.Rental.RemoveOffer(house.RentalOffer); err != nil {
					return err
				}
			}
			if house.OnSaleMarket() {
				if err := env.Sale.RemoveOffer(house.SaleOffer); err != nil {
					return err
				}
			}
			if house.Resident != 0 {
				tenant := env.Households.Get(house.Resident)
				if tenant == nil {
					return simerr.Invariant("house", uint64(id), "transfer wealth", "resident %d does not exist", house.Resident)
				}
				if err := tenant.getEvicted(); err != nil {
					return err
				}
			}
			if err := heir.InheritHouse(id, wasHome); err != nil {
				return err
			}
		case wasHome:
			landlord, err := env.Owner(house)
			if err != nil {
				return err
			}
			if err := landlord.EndOfLettingAgreement(id, payment); err != nil {
				return err
			}
		}
		if c, ok := payment.(*mortgage.Contract); ok {
			h.balance -= c.PayoffAll()
		}
		delete(h.payments, id)
	}
	heir.balance += math.Max(0, h.balance)
	h.balance = 0
	return nil
}

// Die leaves the estate to a household drawn uniformly among the others,
// then removes h from the population. h stays in the table until the
// estate is settled: the heir may be its tenant, and ending that tenancy
// notifies the landlord.
func (h *Household) Die() error {
	pop := h.env.Households
	ids := pop.IDs()
	self, found := slices.BinarySearch(ids, h.ID)
	if !found || len(ids) < 2 {
		return simerr.Invariant("household", uint64(h.ID), "die", "no heir among %d households", len(ids))
	}
	i := h.env.Rand.IntN(len(ids) - 1)
	if i >= self {
		i++
	}
	if err := h.TransferAllWealthTo(pop.Get(ids[i])); err != nil {
		return err
	}
	pop.Remove(h.ID)
	return nil
}

// InheritHouse takes ownership of a house free of debt. A household
// without a home of its own moves in; otherwise the house is sold or let
// depending on whether the heir invests.
func (h *Household) InheritHouse(id housing.ID, wasHome bool) error {
	house, err := h.env.Stock.Must(id, "inherit house")
	if err != nil {
		return err
	}
	if house.Resident != 0 {
		return simerr.Invariant("house", uint64(id), "inherit house", "inherited with resident %d", house.Resident)
	}
	h.payments[id] = mortgage.WrittenOff()
	house.Owner = housing.OwnedBy(h.ID)

	letOut := func() error {
		_, err := h.env.Rental.Offer(id, h.buyToLetRent(house), false, h.env.Month)
		return err
	}
	btl := h.env.Cfg.Household.BTLEnabled
	switch {
	case !h.IsHomeowner():
		if h.IsRenting() {
			if err := h.endTenancy(); err != nil {
				return err
			}
		}
		h.home = id
		house.Resident = h.ID
		h.DesiredQuality = house.Quality
		return nil
	case h.Investor && btl:
		if h.decideToSell(house) {
			return h.putHouseForSale(house)
		}
		return letOut()
	case btl || wasHome:
		return h.putHouseForSale(house)
	case h.Investor:
		return letOut()
	default:
		h.Investor = true
		return letOut()
	}
}

// PaymentHouses returns the houses the household pays on, in id order.
func (h *Household) PaymentHouses() []housing.ID {
	return slices.Sorted(maps.Keys(h.payments))
}

// Payment returns the agreement on house id, if any.
func (h *Household) Payment(id housing.ID) (mortgage.Agreement, bool) {
	p, ok := h.payments[id]
	return p, ok
}

func (h *Household) principal(id housing.ID) float64 {
	if c := h.contract(id); c != nil {
		return c.Principal
	}
	return 0
}

// Debt is the outstanding mortgage principal across all houses.
func (h *Household) Debt() float64 {
	debt := 0.0
	for _, id := range h.PaymentHouses() {
		debt += h.principal(id)
	}
	return debt
}

// NInvestmentProperties counts owned houses other than the home.
func (h *Household) NInvestmentProperties() int {
	n := 0
	for id := range h.payments {
		if id == h.home {
			continue
		}
		if house := h.env.Stock.Get(id); house != nil && house.Owner.IsHousehold(h.ID) {
			n++
		}
	}
	return n
}

func (h *Household) Home() housing.ID      { return h.home }
func (h *Household) InSocialHousing() bool { return h.home == 0 }

// IsHomeowner reports whether the household lives in a house it owns.
func (h *Household) IsHomeowner() bool {
	house := h.env.Stock.Get(h.home)
	return house != nil && house.Owner.IsHousehold(h.ID)
}

// IsRenting reports whether the household lives in someone else's house.
func (h *Household) IsRenting() bool {
	house := h.env.Stock.Get(h.home)
	return house != nil && !house.Owner.IsHousehold(h.ID)
}

func (h *Household) BankBalance() float64 { return h.balance }
func (h *Household) FirstTimeBuyer() bool { return h.firstTimeBuyer }

func (h *Household) AnnualEmploymentIncome() float64 {
	return h.MonthlyEmploymentIncome * config.MonthsInYear
}

// MonthlyPreTaxIncome is employment, rental and interest income.
func (h *Household) MonthlyPreTaxIncome() float64 {
	return h.MonthlyEmploymentIncome + h.MonthlyPropertyIncome +
		h.balance*h.env.Cfg.Household.ReturnOnFinancialWealth
}

// MonthlyPostTaxIncome deducts income tax and national insurance, both
// assessed on employment income only.
func (h *Household) MonthlyPostTaxIncome() float64 {
	annual := h.AnnualEmploymentIncome()
	return h.MonthlyPreTaxIncome() - (h.env.Gov.IncomeTaxDue(annual)+h.env.Gov.NICsDue(annual))/config.MonthsInYear
}

// HomeEquity is the market value of an owned home less its mortgage.
func (h *Household) HomeEquity() float64 {
	if !h.IsHomeowner() {
		return 0
	}
	house := h.env.Stock.Get(h.home)
	return h.env.SaleStats.ExpAvPrice(house.Quality) - h.principal(h.home)
}
