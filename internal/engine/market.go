// Transaction settlement for the sale and rental markets.
package engine

import (
	"github.com/pkg/errors"

	"github.com/talgya/housing-market/internal/agents"
	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/credit"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/market"
	"github.com/talgya/housing-market/internal/simerr"
)

// Transaction is one completed sale or letting.
type Transaction struct {
	Month          int     `json:"month" db:"month"`
	Market         string  `json:"market" db:"market"`
	House          uint64  `json:"house" db:"house"`
	Quality        int     `json:"quality" db:"quality"`
	Price          float64 `json:"price" db:"price"`
	InitialPrice   float64 `json:"initial_price" db:"initial_price"`
	Listed         int     `json:"listed" db:"listed"`
	Buyer          uint64  `json:"buyer" db:"buyer"`
	Seller         uint64  `json:"seller" db:"seller"` // 0 for the construction sector
	BTL            bool    `json:"btl" db:"btl"`
	FirstTimeBuyer bool    `json:"first_time_buyer" db:"first_time_buyer"`
}

// settle resolves the parties of a matched offer.
func (s *Simulation) settle(bid market.Bid, o *market.Offer, op string) (*housing.House, agents.HouseOwner, *agents.Household, error) {
	env := s.Env
	house, err := env.Stock.Must(o.House, op)
	if err != nil {
		return nil, nil, nil, err
	}
	owner, err := env.Owner(house)
	if err != nil {
		return nil, nil, nil, err
	}
	buyer := env.Households.Get(bid.Household)
	if buyer == nil {
		return nil, nil, nil, simerr.Invariant("household", uint64(bid.Household), op, "bidder is not alive")
	}
	return house, owner, buyer, nil
}

func (s *Simulation) record(kind market.Kind, house *housing.House, o *market.Offer, buyer *agents.Household, btl, ftb bool, month int) {
	t := Transaction{
		Month:          month,
		Market:         kind.String(),
		House:          uint64(house.ID),
		Quality:        o.Quality,
		Price:          o.Price,
		InitialPrice:   o.InitialPrice,
		Listed:         o.Listed,
		Buyer:          uint64(buyer.ID),
		BTL:            btl,
		FirstTimeBuyer: ftb,
	}
	if house.Owner.Kind == housing.OwnerHousehold {
		t.Seller = uint64(house.Owner.Household)
	}
	s.transactions = append(s.transactions, t)
}

// salePolicy transfers ownership: the seller is paid, the house changes
// hands, then the buyer takes out the mortgage.
type salePolicy struct{ sim *Simulation }

func (p *salePolicy) BTLAware() bool { return true }

// Yield is the gross rental yield the house would earn at the average rent
// for its quality, given its asking price.
func (p *salePolicy) Yield(q int, price float64) float64 {
	if price <= 0 {
		return 0
	}
	env := p.sim.Env
	return env.RentalStats.AvFlowYieldForQuality(q) * env.SaleStats.ExpAvPrice(q) / price
}

// AffordsBTL checks the bidder can cover the minimum down payment the
// interest-cover test would leave on the offer.
func (p *salePolicy) AffordsBTL(bid market.Bid, o *market.Offer) bool {
	env := p.sim.Env
	h := env.Households.Get(bid.Household)
	if h == nil {
		return false
	}
	cb := p.sim.CentralBank
	minDown := o.Price * (1.0 - env.RentalStats.ExpAvFlowYield()/(cb.MaxICR*cb.StressedRate))
	return h.BankBalance() >= minDown
}

func (p *salePolicy) Complete(bid market.Bid, o *market.Offer, month int) error {
	sim := p.sim
	house, seller, buyer, err := sim.settle(bid, o, "sale")
	if err != nil {
		return err
	}
	ftb := buyer.FirstTimeBuyer()
	sim.record(market.Sale, house, o, buyer, bid.BTL, ftb, month)

	if err := seller.CompleteHouseSale(o); err != nil {
		return errors.Wrapf(err, "house %d seller", house.ID)
	}
	house.Owner = housing.OwnedBy(buyer.ID)
	if err := buyer.CompleteHousePurchase(o); err != nil {
		return errors.Wrapf(err, "house %d buyer", house.ID)
	}
	sim.Env.SaleStats.RecordTransaction(o.Quality, o.Price, o.Listed, month)
	sim.Env.SaleStats.RecordBuyer(ftb, bid.BTL)
	return nil
}

// rentalPolicy starts a tenancy. Rental bids are never buy-to-let.
type rentalPolicy struct{ sim *Simulation }

func (p *rentalPolicy) BTLAware() bool { return false }

// Yield on the rental market is the annual rent over the expected sale
// price of the quality.
func (p *rentalPolicy) Yield(q int, rent float64) float64 {
	price := p.sim.Env.SaleStats.ExpAvPrice(q)
	if price <= 0 {
		return 0
	}
	return rent * config.MonthsInYear / price
}

func (p *rentalPolicy) AffordsBTL(market.Bid, *market.Offer) bool { return false }

func (p *rentalPolicy) Complete(bid market.Bid, o *market.Offer, month int) error {
	sim := p.sim
	house, landlord, tenant, err := sim.settle(bid, o, "let")
	if err != nil {
		return err
	}
	sim.record(market.Rental, house, o, tenant, false, false, month)

	if err := landlord.CompleteHouseLet(o); err != nil {
		return errors.Wrapf(err, "house %d landlord", house.ID)
	}
	if err := tenant.CompleteHouseRental(o); err != nil {
		return errors.Wrapf(err, "house %d tenant", house.ID)
	}
	sim.Env.RentalStats.RecordTransaction(o.Quality, o.Price, o.Listed, month)
	return nil
}

var (
	_ market.Policy   = (*salePolicy)(nil)
	_ market.Policy   = (*rentalPolicy)(nil)
	_ credit.Borrower = (*agents.Household)(nil)
)
