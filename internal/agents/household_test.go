package agents

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/credit"
	"github.com/talgya/housing-market/internal/entropy"
	"github.com/talgya/housing-market/internal/government"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/market"
	"github.com/talgya/housing-market/internal/mortgage"
	"github.com/talgya/housing-market/internal/simerr"
	"github.com/talgya/housing-market/internal/stats"
)

// fixedIncome pays everyone the same annual income.
type fixedIncome float64

func (f fixedIncome) AnnualIncome(float64, float64) float64 { return float64(f) }
func (fixedIncome) AgeBands() (float64, float64, int)       { return 16, 1, 84 }
func (fixedIncome) ExpectedHouseholds(int) int              { return 0 }

// salePolicy settles in the production order: seller, ownership, buyer.
type salePolicy struct{ env *Env }

func (salePolicy) BTLAware() bool                            { return true }
func (salePolicy) Yield(int, float64) float64                { return 0 }
func (salePolicy) AffordsBTL(market.Bid, *market.Offer) bool { return true }

func (p salePolicy) Complete(bid market.Bid, o *market.Offer, _ int) error {
	house := p.env.Stock.Get(o.House)
	seller, err := p.env.Owner(house)
	if err != nil {
		return err
	}
	if err := seller.CompleteHouseSale(o); err != nil {
		return err
	}
	house.Owner = housing.OwnedBy(bid.Household)
	return p.env.Households.Get(bid.Household).CompleteHousePurchase(o)
}

type rentalPolicy struct{ env *Env }

func (rentalPolicy) BTLAware() bool                            { return false }
func (rentalPolicy) Yield(int, float64) float64                { return 0 }
func (rentalPolicy) AffordsBTL(market.Bid, *market.Offer) bool { return false }

func (p rentalPolicy) Complete(bid market.Bid, o *market.Offer, _ int) error {
	landlord, err := p.env.Owner(p.env.Stock.Get(o.House))
	if err != nil {
		return err
	}
	if err := landlord.CompleteHouseLet(o); err != nil {
		return err
	}
	return p.env.Households.Get(bid.Household).CompleteHouseRental(o)
}

func newTestEnv(t *testing.T) (*Env, *Spawner) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Simulation.TargetPopulation = 1000
	cfg.Household.BTLEnabled = false
	require.NoError(t, cfg.Validate())

	ref := stats.ReferencePrices(cfg.Market.NQuality, cfg.Market.HPIMedian, cfg.Market.HPIShape)
	saleStats := stats.NewMarketStats(cfg, ref)
	rentalStats := stats.NewRentalStats(cfg, saleStats)
	cb := credit.NewCentralBank(cfg.CentralBank, cfg.Bank.InitialBaseRate)
	env := &Env{
		Cfg:         cfg,
		Derived:     cfg.Derive(),
		Rand:        &entropy.Sequence{},
		Stock:       housing.NewStock(),
		SaleStats:   saleStats,
		RentalStats: rentalStats,
		Bank:        credit.NewBank(cfg, cb, rentalStats),
		Gov:         government.New(cfg.Government),
		Income:      fixedIncome(60000),
		Households:  NewPopulation(),
	}
	env.Sale = market.New(market.Sale, cfg, env.Stock, salePolicy{env})
	env.Rental = market.New(market.Rental, cfg, env.Stock, rentalPolicy{env})
	return env, NewSpawner(env)
}

// own gives h a debt-free house of quality q.
func own(env *Env, h *Household, q int) *housing.House {
	house := env.Stock.Build(q, housing.OwnedBy(h.ID))
	h.payments[house.ID] = mortgage.WrittenOff()
	return house
}

func moveIn(h *Household, house *housing.House) {
	h.home = house.ID
	house.Resident = h.ID
}

func TestSpawnInvestor(t *testing.T) {
	env, sp := newTestEnv(t)
	env.Cfg.Household.BTLEnabled = true
	env.Rand = &entropy.Sequence{Uniform: []float64{0.8, 0.1, 0.3}}

	h := sp.Spawn(30)
	assert.Equal(t, housing.HouseholdID(1), h.ID)
	assert.True(t, h.Investor)
	assert.Equal(t, env.Cfg.Household.FundamentalistCapGain, h.CapGainCoeff)
	assert.True(t, h.InSocialHousing())
	assert.True(t, h.FirstTimeBuyer())
	assert.InDelta(t, 5000.0, h.MonthlyEmploymentIncome, 1e-9)

	want := math.Exp(env.Cfg.Household.DesiredBalanceAlpha + env.Cfg.Household.DesiredBalanceBeta*math.Log(60000))
	assert.InDelta(t, want, h.DesiredBalance, want*1e-9)
	assert.Equal(t, h.DesiredBalance, h.BankBalance())
	assert.Same(t, h, env.Households.Get(1))
}

func TestSpawnLowIncomeTargetsNominalBalance(t *testing.T) {
	_, sp := newTestEnv(t)
	h := sp.Spawn(30)
	assert.False(t, h.Investor)
	assert.Equal(t, 1.0, h.DesiredBalance)
}

func TestIncomeFloorIsIncomeSupport(t *testing.T) {
	env, sp := newTestEnv(t)
	env.Income = fixedIncome(100)
	h := sp.Spawn(30)
	assert.InDelta(t, env.Gov.MonthlyIncomeSupport(), h.MonthlyEmploymentIncome, 1e-9)
}

func TestZeroWealthFallsBackToRenting(t *testing.T) {
	env, sp := newTestEnv(t)
	h := sp.Spawn(30)
	h.balance = 0

	require.Equal(t, 0.0, env.Bank.MaxMortgage(h, true))
	require.NoError(t, h.bidForAHome())
	assert.Equal(t, 0, env.Sale.NumBids())
	assert.Equal(t, 1, env.Rental.NumBids())
}

func TestPurchaseBidIsAlwaysFinanced(t *testing.T) {
	env, sp := newTestEnv(t)
	seller := sp.Spawn(50)
	buyer := sp.Spawn(30)
	buyer.balance = 10000
	house := own(env, seller, env.Cfg.Market.NQuality-1)
	_, err := env.Sale.Offer(house.ID, 150000, true, 0)
	require.NoError(t, err)

	maxMortgage := env.Bank.MaxMortgage(buyer, true)
	require.NoError(t, buyer.bidForAHome())
	n, _, sumBids, _ := env.Sale.Totals()
	require.Equal(t, 1, n)
	assert.LessOrEqual(t, sumBids, maxMortgage-1)

	sellerBefore := seller.BankBalance()
	require.NoError(t, env.Sale.Clear(0))

	p, ok := buyer.Payment(house.ID)
	require.True(t, ok)
	c, ok := p.(*mortgage.Contract)
	require.True(t, ok)
	assert.InDelta(t, sumBids, c.PurchasePrice, 1e-6, "winning bid clears the bid-up threshold")
	assert.InDelta(t, c.PurchasePrice, c.Principal+c.DownPayment, 1e-6)
	assert.InDelta(t, 10000-c.DownPayment, buyer.BankBalance(), 1e-6)
	assert.InDelta(t, sellerBefore+c.PurchasePrice, seller.BankBalance(), 1e-6)

	assert.Equal(t, housing.OwnedBy(buyer.ID), house.Owner)
	assert.Equal(t, buyer.ID, house.Resident)
	assert.Equal(t, house.ID, buyer.Home())
	assert.True(t, buyer.IsHomeowner())
	assert.False(t, buyer.FirstTimeBuyer())
	_, ok = seller.Payment(house.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, env.Bank.Stats().OpenContracts)
}

func TestBankruptcyLastsOneMonth(t *testing.T) {
	env, sp := newTestEnv(t)
	landlord := sp.Spawn(50)
	tenant := sp.Spawn(30)
	house := own(env, landlord, 3)
	moveIn(tenant, house)
	tenant.payments[house.ID] = &mortgage.Rental{MonthlyPayment: 10000, NPayments: 5}
	tenant.balance = 0

	require.NoError(t, tenant.Step())
	assert.True(t, tenant.Bankrupt)
	assert.Equal(t, env.Cfg.Household.BankruptcyCashInjection, tenant.BankBalance())
	assert.InDelta(t, 30+1.0/12, tenant.Age, 1e-12)

	tenant.balance = 1e6
	require.NoError(t, tenant.Step())
	assert.False(t, tenant.Bankrupt)
	assert.Equal(t, 3, tenant.payments[house.ID].Remaining())
}

func TestTenancyEndRelistsAndRebids(t *testing.T) {
	env, sp := newTestEnv(t)
	landlord := sp.Spawn(50)
	tenant := sp.Spawn(30)
	house := own(env, landlord, 3)
	moveIn(tenant, house)
	tenant.payments[house.ID] = &mortgage.Rental{MonthlyPayment: 500, NPayments: 1}
	landlord.MonthlyPropertyIncome = 500

	require.NoError(t, tenant.Step())
	assert.True(t, tenant.InSocialHousing())
	assert.Zero(t, house.Resident)
	assert.True(t, house.OnRentalMarket())
	assert.Zero(t, landlord.MonthlyPropertyIncome)
	assert.Equal(t, 1, env.Sale.NumBids()+env.Rental.NumBids())
}

func TestRentalClearingStartsTenancy(t *testing.T) {
	env, sp := newTestEnv(t)
	landlord := sp.Spawn(50)
	tenant := sp.Spawn(30)
	house := own(env, landlord, 0)
	_, err := env.Rental.Offer(house.ID, 400, false, 0)
	require.NoError(t, err)
	require.NoError(t, env.Rental.Bid(tenant.ID, 500, 0))

	env.Rand = &entropy.Sequence{Uniform: []float64{0.5}}
	require.NoError(t, env.Rental.Clear(0))

	assert.Equal(t, house.ID, tenant.Home())
	assert.True(t, tenant.IsRenting())
	assert.Equal(t, landlord.ID, house.Owner.Household)
	p, ok := tenant.Payment(house.ID)
	require.True(t, ok)
	assert.Equal(t, env.Cfg.Market.TenancyLengthAverage, p.Remaining())
	assert.InDelta(t, p.Monthly(), landlord.MonthlyPropertyIncome, 1e-9)
}

func TestSaleOfLetHouseEvictsTenant(t *testing.T) {
	env, sp := newTestEnv(t)
	landlord := sp.Spawn(50)
	tenant := sp.Spawn(30)
	house := env.Stock.Build(4, housing.OwnedBy(landlord.ID))
	landlord.payments[house.ID] = &mortgage.Contract{Principal: 50000, MonthlyPayment: 300, NPayments: 200}
	landlord.balance = 0
	landlord.MonthlyPropertyIncome = 800
	moveIn(tenant, house)
	tenant.payments[house.ID] = &mortgage.Rental{MonthlyPayment: 800, NPayments: 10}

	require.NoError(t, landlord.CompleteHouseSale(&market.Offer{House: house.ID, Price: 120000}))
	assert.InDelta(t, 70000.0, landlord.BankBalance(), 1e-9)
	assert.Zero(t, landlord.MonthlyPropertyIncome)
	_, ok := landlord.Payment(house.ID)
	assert.False(t, ok, "repaid mortgage is dropped")
	assert.True(t, tenant.InSocialHousing())
	assert.Zero(t, house.Resident)
}

func TestUnderwaterRepriceSwitchesToRental(t *testing.T) {
	env, sp := newTestEnv(t)
	owner := sp.Spawn(50)
	house := env.Stock.Build(10, housing.OwnedBy(owner.ID))
	owner.payments[house.ID] = &mortgage.Contract{Principal: 99000, MonthlyPayment: 500, NPayments: 100}
	_, err := env.Sale.Offer(house.ID, 100000, true, 0)
	require.NoError(t, err)

	env.Rand = &entropy.Sequence{Uniform: []float64{0.01}}
	require.NoError(t, owner.manageHouse(house))
	assert.False(t, house.OnSaleMarket())
	assert.True(t, house.OnRentalMarket())
}

func TestRepriceCut(t *testing.T) {
	env, sp := newTestEnv(t)
	h := sp.Spawn(40)

	env.Rand = &entropy.Sequence{Uniform: []float64{0.01}}
	cut := math.Exp(env.Cfg.Household.ReductionMu) / 100
	assert.InDelta(t, 1000*(1-cut), h.rethinkSalePrice(1000), 1e-9)

	env.Rand = &entropy.Sequence{Uniform: []float64{0.9}}
	assert.Equal(t, 1000.0, h.rethinkSalePrice(1000))
}

func TestDownPayment(t *testing.T) {
	_, sp := newTestEnv(t)
	h := sp.Spawn(40)

	h.balance = 500000
	assert.Equal(t, 200000.0, h.downPayment(200000), "cash purchase")

	h.balance = 100
	assert.LessOrEqual(t, h.downPayment(200000), 100.0)
}

func TestInvestorsNeverSellHome(t *testing.T) {
	env, sp := newTestEnv(t)
	h := sp.Spawn(40)
	h.Investor = true
	env.Rand = &entropy.Sequence{Uniform: []float64{0}}
	assert.False(t, h.decideToSellHome())
}

func TestOnlyInvestorsBuyToLet(t *testing.T) {
	env, sp := newTestEnv(t)
	h := sp.Spawn(40)
	moveIn(h, own(env, h, 4))
	require.Zero(t, h.NInvestmentProperties())

	buy, err := h.decideToBuyBTL()
	require.NoError(t, err)
	assert.False(t, buy)

	h.Investor = true
	buy, err = h.decideToBuyBTL()
	require.NoError(t, err)
	assert.True(t, buy, "first investment property")
}

func TestInheritanceMovesHeirIn(t *testing.T) {
	env, sp := newTestEnv(t)
	dead := sp.Spawn(90)
	heir := sp.Spawn(30)
	home := env.Stock.Build(5, housing.OwnedBy(dead.ID))
	moveIn(dead, home)
	dead.payments[home.ID] = &mortgage.Contract{Principal: 50000, MonthlyPayment: 300, NPayments: 200}
	dead.balance = 80000
	heir.balance = 1000

	require.NoError(t, dead.TransferAllWealthTo(heir))
	assert.InDelta(t, 31000.0, heir.BankBalance(), 1e-9)
	assert.Equal(t, home.ID, heir.Home())
	assert.Equal(t, heir.ID, home.Resident)
	assert.Equal(t, housing.OwnedBy(heir.ID), home.Owner)
	assert.Equal(t, 0.0, heir.principal(home.ID))
	assert.Empty(t, dead.PaymentHouses())
}

func TestInheritedLetHouseMakesHomeownerInvestor(t *testing.T) {
	env, sp := newTestEnv(t)
	dead := sp.Spawn(90)
	heir := sp.Spawn(40)
	tenant := sp.Spawn(25)
	moveIn(heir, own(env, heir, 2))
	let := own(env, dead, 7)
	moveIn(tenant, let)
	tenant.payments[let.ID] = &mortgage.Rental{MonthlyPayment: 800, NPayments: 10}

	require.NoError(t, dead.TransferAllWealthTo(heir))
	assert.True(t, tenant.InSocialHousing())
	assert.True(t, heir.Investor)
	assert.Equal(t, housing.OwnedBy(heir.ID), let.Owner)
	assert.True(t, let.OnRentalMarket())
	assert.Equal(t, 1, heir.NInvestmentProperties())
}

func TestDeathSettlesEstateOfHeirsLandlord(t *testing.T) {
	// The heir rents one of the deceased's two houses.
	for _, tc := range []struct {
		name     string
		letFirst bool
	}{
		{"let house first", true},
		{"let house last", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env, sp := newTestEnv(t)
			dead := sp.Spawn(90)
			heir := sp.Spawn(30)
			var let, spare *housing.House
			if tc.letFirst {
				let = own(env, dead, 7)
				spare = own(env, dead, 3)
			} else {
				spare = own(env, dead, 3)
				let = own(env, dead, 7)
			}
			moveIn(heir, let)
			heir.payments[let.ID] = &mortgage.Rental{MonthlyPayment: 800, NPayments: 10}
			dead.MonthlyPropertyIncome = 800

			require.NoError(t, dead.Die())
			assert.Nil(t, env.Households.Get(dead.ID))
			assert.Equal(t, []housing.HouseholdID{heir.ID}, env.Households.IDs())

			home, other := let, spare
			if !tc.letFirst {
				home, other = spare, let
			}
			assert.Equal(t, home.ID, heir.Home())
			assert.Equal(t, heir.ID, home.Resident)
			assert.Zero(t, other.Resident)
			assert.True(t, other.OnRentalMarket())
			assert.Equal(t, 1, env.Rental.NumOffers())
			for _, house := range []*housing.House{let, spare} {
				assert.Equal(t, housing.OwnedBy(heir.ID), house.Owner)
				p, ok := heir.Payment(house.ID)
				require.True(t, ok)
				assert.Zero(t, p.Monthly())
			}
			assert.Equal(t, 1, heir.NInvestmentProperties())
		})
	}
}

func TestDeathPicksHeirAmongOthers(t *testing.T) {
	for _, tc := range []struct {
		draw float64
		heir int
	}{
		{0, 0},
		{0.5, 2},
		{0.99, 2},
	} {
		env, sp := newTestEnv(t)
		hs := []*Household{sp.Spawn(40), sp.Spawn(90), sp.Spawn(50)}
		dead := hs[1]
		dead.balance = 1000
		before := hs[tc.heir].BankBalance()
		env.Rand = &entropy.Sequence{Uniform: []float64{tc.draw}}

		require.NoError(t, dead.Die())
		assert.InDelta(t, before+1000, hs[tc.heir].BankBalance(), 1e-9, "draw %v", tc.draw)
		assert.Equal(t, []housing.HouseholdID{hs[0].ID, hs[2].ID}, env.Households.IDs())
	}
}

func TestLastHouseholdCannotDie(t *testing.T) {
	env, sp := newTestEnv(t)
	h := sp.Spawn(90)
	assert.True(t, simerr.IsInvariant(h.Die()))
	assert.Equal(t, 1, env.Households.Len())
}

func TestPopulationOrder(t *testing.T) {
	p := NewPopulation()
	for _, id := range []housing.HouseholdID{3, 1, 2} {
		p.Add(&Household{ID: id})
	}
	assert.Equal(t, []housing.HouseholdID{1, 2, 3}, p.IDs())
	p.Remove(2)
	p.Remove(9)
	assert.Equal(t, []housing.HouseholdID{1, 3}, p.IDs())
	assert.Equal(t, housing.HouseholdID(3), p.At(1).ID)
	assert.Nil(t, p.Get(2))
}
