package market

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/simerr"
)

type deal struct {
	bid   Bid
	house housing.ID
	price float64
}

type fakePolicy struct {
	btl    bool
	afford bool
	fail   error
	deals  []deal
}

func (p *fakePolicy) BTLAware() bool                     { return p.btl }
func (p *fakePolicy) Yield(q int, price float64) float64 { return 1000.0 / price }
func (p *fakePolicy) AffordsBTL(Bid, *Offer) bool        { return p.afford }

func (p *fakePolicy) Complete(bid Bid, o *Offer, month int) error {
	if p.fail != nil {
		return p.fail
	}
	p.deals = append(p.deals, deal{bid: bid, house: o.House, price: o.Price})
	return nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Market.NQuality = 4
	return cfg
}

func newSale(t *testing.T, cfg *config.Config) (*Market, *housing.Stock, *fakePolicy) {
	t.Helper()
	stock := housing.NewStock()
	p := &fakePolicy{btl: true, afford: true}
	return New(Sale, cfg, stock, p), stock, p
}

func list(t *testing.T, m *Market, stock *housing.Stock, q int, price float64) *Offer {
	t.Helper()
	h := stock.Build(q, housing.Construction)
	o, err := m.Offer(h.ID, price, false, 0)
	require.NoError(t, err)
	return o
}

func TestBestOfferFallsThroughQualities(t *testing.T) {
	m, stock, _ := newSale(t, testConfig())
	q0 := list(t, m, stock, 0, 100)
	q1 := list(t, m, stock, 1, 90)
	list(t, m, stock, 2, 80)

	got := m.BestOffer(Bid{Household: 1, Price: 95})
	require.NotNil(t, got)
	assert.Equal(t, q1.ID, got.ID)

	got = m.BestOffer(Bid{Household: 1, Price: 100})
	require.NotNil(t, got)
	assert.Equal(t, q0.ID, got.ID)

	assert.Nil(t, m.BestOffer(Bid{Household: 1, Price: 79}))
}

func TestBestOfferRespectsMinQuality(t *testing.T) {
	m, stock, _ := newSale(t, testConfig())
	list(t, m, stock, 0, 50)
	q2 := list(t, m, stock, 2, 80)

	got := m.BestOffer(Bid{Household: 1, Price: 95, MinQuality: 1})
	require.NotNil(t, got)
	assert.Equal(t, q2.ID, got.ID)
}

func TestBestOfferTieBreaksOnHouseID(t *testing.T) {
	m, stock, _ := newSale(t, testConfig())
	first := stock.Build(1, housing.Construction)
	second := stock.Build(1, housing.Construction)

	// list the higher id first; ordering must not depend on arrival
	_, err := m.Offer(second.ID, 90, false, 0)
	require.NoError(t, err)
	_, err = m.Offer(first.ID, 90, false, 0)
	require.NoError(t, err)

	got := m.BestOffer(Bid{Household: 1, Price: 95})
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.House)
}

func TestBestOfferSkipsOwnHouse(t *testing.T) {
	m, stock, _ := newSale(t, testConfig())
	h := stock.Build(0, housing.OwnedBy(7))
	_, err := m.Offer(h.ID, 50, false, 0)
	require.NoError(t, err)

	assert.Nil(t, m.BestOffer(Bid{Household: 7, Price: 100}))
	assert.NotNil(t, m.BestOffer(Bid{Household: 8, Price: 100}))
}

func TestGazumpHighestBidderPaysBidPrice(t *testing.T) {
	m, stock, p := newSale(t, testConfig())
	o := list(t, m, stock, 0, 95)

	require.NoError(t, m.Bid(1, 100, 0))
	require.NoError(t, m.Bid(2, 110, 0))
	require.NoError(t, m.Clear(3))

	require.Len(t, p.deals, 1)
	assert.Equal(t, housing.HouseholdID(2), p.deals[0].bid.Household)
	assert.Equal(t, o.House, p.deals[0].house)
	assert.Equal(t, 110.0, p.deals[0].price)

	assert.Equal(t, 0, m.NumOffers())
	assert.Equal(t, 0, m.NumBids())
	assert.Equal(t, housing.OfferID(0), stock.Get(o.House).SaleOffer)
}

func TestBidBelowBidupPaysAsk(t *testing.T) {
	m, stock, p := newSale(t, testConfig())
	list(t, m, stock, 0, 95)

	require.NoError(t, m.Bid(1, 95.5, 0))
	require.NoError(t, m.Clear(0))

	require.Len(t, p.deals, 1)
	assert.Equal(t, 95.0, p.deals[0].price)
}

func TestEqualBidsGoToLowerHousehold(t *testing.T) {
	m, stock, p := newSale(t, testConfig())
	list(t, m, stock, 0, 90)

	require.NoError(t, m.Bid(9, 100, 0))
	require.NoError(t, m.Bid(4, 100, 0))
	require.NoError(t, m.Clear(0))

	require.Len(t, p.deals, 1)
	assert.Equal(t, housing.HouseholdID(4), p.deals[0].bid.Household)
}

func TestLosingBidsRetryInLaterRounds(t *testing.T) {
	cfg := testConfig()
	cfg.Market.ClearingBookUnit = 1
	m, stock, p := newSale(t, cfg)
	cheap := list(t, m, stock, 0, 90)
	dear := list(t, m, stock, 0, 95)

	require.NoError(t, m.Bid(1, 100, 0))
	require.NoError(t, m.Bid(2, 100, 0))
	assert.Greater(t, m.Rounds(), 1)
	require.NoError(t, m.Clear(0))

	require.Len(t, p.deals, 2)
	assert.Equal(t, housing.HouseholdID(1), p.deals[0].bid.Household)
	assert.Equal(t, cheap.House, p.deals[0].house)
	assert.Equal(t, housing.HouseholdID(2), p.deals[1].bid.Household)
	assert.Equal(t, dear.House, p.deals[1].house)

	rounds, matches, unmatched := m.LastClearing()
	assert.Greater(t, rounds, 1)
	assert.Equal(t, 2, matches)
	assert.Equal(t, 0, unmatched)
}

func TestSingleRoundLeavesLosersUnmatched(t *testing.T) {
	m, stock, p := newSale(t, testConfig())
	list(t, m, stock, 0, 90)
	list(t, m, stock, 0, 95)

	require.NoError(t, m.Bid(1, 100, 0))
	require.NoError(t, m.Bid(2, 100, 0))
	assert.Equal(t, 1, m.Rounds())
	require.NoError(t, m.Clear(0))

	assert.Len(t, p.deals, 1)
	assert.Equal(t, 1, m.NumOffers())
	assert.Equal(t, 0, m.NumBids())
	_, matches, unmatched := m.LastClearing()
	assert.Equal(t, 1, matches)
	assert.Equal(t, 1, unmatched)
}

func TestBidsWithoutOfferCountAsUnmatched(t *testing.T) {
	cfg := testConfig()
	cfg.Market.ClearingBookUnit = 1
	m, stock, p := newSale(t, cfg)
	list(t, m, stock, 0, 100)

	require.NoError(t, m.Bid(1, 50, 0))
	require.NoError(t, m.Bid(2, 120, 0))
	require.NoError(t, m.Bid(3, 60, 0))
	assert.Greater(t, m.Rounds(), 1)
	require.NoError(t, m.Clear(0))

	require.Len(t, p.deals, 1)
	assert.Equal(t, housing.HouseholdID(2), p.deals[0].bid.Household)
	_, matches, unmatched := m.LastClearing()
	assert.Equal(t, 1, matches)
	assert.Equal(t, 2, unmatched)
}

func TestBuyToLetBidTakesHighestYield(t *testing.T) {
	m, stock, p := newSale(t, testConfig())
	list(t, m, stock, 3, 200)
	cheap := list(t, m, stock, 3, 120)

	got := m.BestOffer(Bid{Household: 1, Price: 150, BTL: true})
	require.NotNil(t, got)
	assert.Equal(t, cheap.ID, got.ID)

	p.afford = false
	assert.Nil(t, m.BestOffer(Bid{Household: 1, Price: 150, BTL: true}))

	// no gazump for buy-to-let bids
	p.afford = true
	require.NoError(t, m.BTLBid(1, 150))
	require.NoError(t, m.Clear(0))
	require.Len(t, p.deals, 1)
	assert.Equal(t, 120.0, p.deals[0].price)
}

func TestUpdateOfferReordersYieldQueue(t *testing.T) {
	m, stock, _ := newSale(t, testConfig())
	a := list(t, m, stock, 1, 100)
	b := list(t, m, stock, 1, 110)

	require.NoError(t, m.UpdateOffer(b.ID, 80))
	snap := m.Snapshot()
	require.Len(t, snap.Yield, 2)
	assert.Equal(t, b.House, snap.Yield[0].House)
	assert.Equal(t, b.House, snap.Quality[0].House)
	assert.Equal(t, a.House, snap.Quality[1].House)
	assert.InDelta(t, 1000.0/80, b.Yield, 1e-12)
}

func TestRentalMarketHasNoYieldQueue(t *testing.T) {
	stock := housing.NewStock()
	m := New(Rental, testConfig(), stock, &fakePolicy{})
	h := stock.Build(0, housing.Construction)
	o, err := m.Offer(h.ID, 500, false, 0)
	require.NoError(t, err)

	assert.Equal(t, o.ID, h.RentalOffer)
	assert.Equal(t, housing.OfferID(0), h.SaleOffer)
	assert.Empty(t, m.Snapshot().Yield)

	err = m.BTLBid(1, 600)
	assert.True(t, simerr.IsInvariant(err))
}

func TestInvariantViolations(t *testing.T) {
	m, stock, _ := newSale(t, testConfig())
	o := list(t, m, stock, 0, 100)

	_, err := m.Offer(o.House, 120, false, 0)
	assert.True(t, simerr.IsInvariant(err), "duplicate listing")

	_, err = m.Offer(999, 120, false, 0)
	assert.True(t, simerr.IsInvariant(err), "house not in stock")

	require.NoError(t, m.RemoveOffer(o.ID))
	assert.True(t, simerr.IsInvariant(m.RemoveOffer(o.ID)), "remove inactive")
	assert.True(t, simerr.IsInvariant(m.UpdateOffer(o.ID, 90)), "update inactive")

	require.NoError(t, m.Bid(3, 100, 0))
	assert.True(t, simerr.IsInvariant(m.Bid(3, 90, 0)), "second bid")

	o = list(t, m, stock, 0, 100)
	stock.Get(o.House).SaleOffer = 0
	err = m.RemoveOffer(o.ID)
	ie, ok := simerr.AsInvariant(err)
	require.True(t, ok, "stale back reference")
	assert.Equal(t, "offer", ie.Entity)
	assert.Equal(t, uint64(o.ID), ie.ID)
}

func TestCompletionErrorHaltsClearing(t *testing.T) {
	m, stock, p := newSale(t, testConfig())
	list(t, m, stock, 0, 90)
	p.fail = simerr.Invariant("household", 1, "complete purchase", "loan declined")

	require.NoError(t, m.Bid(1, 100, 0))
	err := m.Clear(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, simerr.ErrInvariant))
	assert.Equal(t, 0, m.NumBids())
}

func TestTotals(t *testing.T) {
	m, stock, _ := newSale(t, testConfig())
	list(t, m, stock, 0, 90)
	list(t, m, stock, 1, 110)
	require.NoError(t, m.Bid(1, 100, 0))

	nBids, nOffers, sumBids, sumOffers := m.Totals()
	assert.Equal(t, 1, nBids)
	assert.Equal(t, 2, nOffers)
	assert.Equal(t, 100.0, sumBids)
	assert.Equal(t, 200.0, sumOffers)
}

func TestRemoveThenReofferRestoresBook(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := testConfig()
		stock := housing.NewStock()
		m := New(Sale, cfg, stock, &fakePolicy{btl: true})

		n := rapid.IntRange(1, 30).Draw(rt, "n")
		var offers []*Offer
		for i := 0; i < n; i++ {
			q := rapid.IntRange(0, cfg.Market.NQuality-1).Draw(rt, "quality")
			price := float64(rapid.IntRange(1, 20).Draw(rt, "price")) * 10
			h := stock.Build(q, housing.Construction)
			o, err := m.Offer(h.ID, price, false, 0)
			if err != nil {
				rt.Fatalf("offer: %v", err)
			}
			offers = append(offers, o)
		}
		before := m.Snapshot()

		victim := offers[rapid.IntRange(0, n-1).Draw(rt, "victim")]
		if err := m.RemoveOffer(victim.ID); err != nil {
			rt.Fatalf("remove: %v", err)
		}
		if _, err := m.Offer(victim.House, victim.Price, false, 0); err != nil {
			rt.Fatalf("re-offer: %v", err)
		}

		assert.Equal(rt, before, m.Snapshot())
	})
}
