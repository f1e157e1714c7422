// Package market is the double-sided housing market. One Market type
// serves both the sale and the rental side; what happens when a bid meets
// an offer is supplied by a Policy.
//
// Offers sit in per-quality buckets ordered by price and, on the sale
// side, also in a yield queue for buy-to-let bidders. Bids live for one
// clearing only.
package market

import (
	"cmp"
	"slices"

	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/housing"
	"github.com/talgya/housing-market/internal/simerr"
)

// Kind selects which listing slot of a House a market uses.
type Kind int

const (
	Sale Kind = iota
	Rental
)

func (k Kind) String() string {
	if k == Sale {
		return "sale"
	}
	return "rental"
}

// Bid is a household's intent to buy or rent this month.
type Bid struct {
	Household  housing.HouseholdID
	Price      float64
	BTL        bool
	MinQuality int
}

// Policy is the market-specific behaviour.
type Policy interface {
	// BTLAware reports whether the market keeps a yield queue and accepts
	// buy-to-let bids.
	BTLAware() bool
	// Yield is the expected yield of a house of quality q listed at price.
	Yield(q int, price float64) float64
	// AffordsBTL reports whether the bidder can cover the minimum down
	// payment on offer under interest-cover rules.
	AffordsBTL(bid Bid, offer *Offer) bool
	// Complete settles a matched transaction. The offer has already left
	// the market and offer.Price is the agreed price.
	Complete(bid Bid, offer *Offer, month int) error
}

// Market is one side of the housing market.
type Market struct {
	kind   Kind
	stock  *housing.Stock
	policy Policy

	nQuality      int
	bidup         float64
	window        int
	maxRounds     int
	bookUnit      int
	nextID        housing.OfferID
	offers        map[housing.OfferID]*Offer
	book          *book
	bids          map[housing.HouseholdID]Bid
	lastRounds    int
	lastMatches   int
	lastUnmatched int
}

// New creates an empty market of the given kind over stock.
func New(kind Kind, cfg *config.Config, stock *housing.Stock, policy Policy) *Market {
	return &Market{
		kind:      kind,
		stock:     stock,
		policy:    policy,
		nQuality:  cfg.Market.NQuality,
		bidup:     cfg.Market.Bidup,
		window:    cfg.Market.BidQualityWindow,
		maxRounds: cfg.Simulation.TargetPopulation / cfg.Market.ClearingPopulationUnit,
		bookUnit:  cfg.Market.ClearingBookUnit,
		offers:    make(map[housing.OfferID]*Offer),
		book:      newBook(cfg.Market.NQuality, policy.BTLAware()),
		bids:      make(map[housing.HouseholdID]Bid),
	}
}

func (m *Market) Kind() Kind { return m.kind }

// slot is the house's back reference for this market.
func (m *Market) slot(h *housing.House) *housing.OfferID {
	if m.kind == Sale {
		return &h.SaleOffer
	}
	return &h.RentalOffer
}

// MinQuality is the lowest band searched by a bid whose price affords
// maxQuality on average.
func (m *Market) MinQuality(maxQuality int) int {
	return max(0, maxQuality-m.window)
}

// Offer lists house at price. Listing a house already on this market is an
// invariant violation.
func (m *Market) Offer(id housing.ID, price float64, btl bool, month int) (*Offer, error) {
	h, err := m.stock.Must(id, m.kind.String()+" offer")
	if err != nil {
		return nil, err
	}
	if ref := m.slot(h); *ref != 0 {
		return nil, simerr.Invariant("house", uint64(id), m.kind.String()+" offer", "already listed as offer %d", *ref)
	}
	if !(price > 0) {
		return nil, simerr.Invariant("house", uint64(id), m.kind.String()+" offer", "non-positive price %v", price)
	}
	m.nextID++
	o := &Offer{
		ID:           m.nextID,
		House:        id,
		Quality:      h.Quality,
		Price:        price,
		InitialPrice: price,
		Listed:       month,
		BTL:          btl,
		Yield:        m.policy.Yield(h.Quality, price),
	}
	m.offers[o.ID] = o
	m.book.insert(o)
	*m.slot(h) = o.ID
	return o, nil
}

// active returns the live offer id together with its house, checking the
// back reference.
func (m *Market) active(id housing.OfferID, op string) (*Offer, *housing.House, error) {
	o, ok := m.offers[id]
	if !ok {
		return nil, nil, simerr.Invariant("offer", uint64(id), m.kind.String()+" "+op, "offer is not active")
	}
	h, err := m.stock.Must(o.House, m.kind.String()+" "+op)
	if err != nil {
		return nil, nil, err
	}
	if *m.slot(h) != id {
		return nil, nil, simerr.Invariant("offer", uint64(id), m.kind.String()+" "+op,
			"house %d references offer %d", h.ID, *m.slot(h))
	}
	return o, h, nil
}

func (m *Market) unlist(o *Offer, h *housing.House, op string) error {
	if !m.book.remove(o) {
		return simerr.Invariant("offer", uint64(o.ID), m.kind.String()+" "+op, "offer missing from order book")
	}
	delete(m.offers, o.ID)
	*m.slot(h) = 0
	return nil
}

// RemoveOffer withdraws an active listing.
func (m *Market) RemoveOffer(id housing.OfferID) error {
	o, h, err := m.active(id, "remove offer")
	if err != nil {
		return err
	}
	return m.unlist(o, h, "remove offer")
}

// UpdateOffer re-prices an active listing. The offer is taken out of the
// order structures before the price changes and put back after, since its
// yield moves with the price.
func (m *Market) UpdateOffer(id housing.OfferID, price float64) error {
	o, _, err := m.active(id, "update offer")
	if err != nil {
		return err
	}
	if !(price > 0) {
		return simerr.Invariant("offer", uint64(id), m.kind.String()+" update offer", "non-positive price %v", price)
	}
	if !m.book.remove(o) {
		return simerr.Invariant("offer", uint64(id), m.kind.String()+" update offer", "offer missing from order book")
	}
	o.Price = price
	o.Yield = m.policy.Yield(o.Quality, price)
	m.book.insert(o)
	return nil
}

// Get returns an active offer.
func (m *Market) Get(id housing.OfferID) (*Offer, bool) {
	o, ok := m.offers[id]
	return o, ok
}

// Bid records a household's intent for this month. minQuality is the
// lowest band it will consider.
func (m *Market) Bid(h housing.HouseholdID, price float64, minQuality int) error {
	return m.addBid(Bid{Household: h, Price: price, MinQuality: min(max(0, minQuality), m.nQuality-1)})
}

// BTLBid records a buy-to-let investor's bid.
func (m *Market) BTLBid(h housing.HouseholdID, price float64) error {
	if !m.policy.BTLAware() {
		return simerr.Invariant("household", uint64(h), m.kind.String()+" btl bid", "market takes no buy-to-let bids")
	}
	return m.addBid(Bid{Household: h, Price: price, BTL: true})
}

func (m *Market) addBid(b Bid) error {
	if _, dup := m.bids[b.Household]; dup {
		return simerr.Invariant("household", uint64(b.Household), m.kind.String()+" bid", "second bid this month")
	}
	m.bids[b.Household] = b
	return nil
}

// BestOffer finds the offer bid would take, or nil. Offers on houses the
// bidder owns are skipped.
func (m *Market) BestOffer(bid Bid) *Offer {
	if bid.BTL {
		return m.bestYield(bid)
	}
	for q := bid.MinQuality; q < m.nQuality; q++ {
		for _, o := range m.book.buckets[q].items {
			if o.Price > bid.Price {
				break
			}
			if !m.ownedBy(o, bid.Household) {
				return o
			}
		}
	}
	return nil
}

// bestYield returns the highest-yield affordable offer, provided the bidder
// can fund its down payment.
func (m *Market) bestYield(bid Bid) *Offer {
	if m.book.yield == nil {
		return nil
	}
	for _, o := range m.book.yield.items {
		if o.Price > bid.Price || m.ownedBy(o, bid.Household) {
			continue
		}
		if m.policy.AffordsBTL(bid, o) {
			return o
		}
		return nil
	}
	return nil
}

func (m *Market) ownedBy(o *Offer, hh housing.HouseholdID) bool {
	h := m.stock.Get(o.House)
	return h != nil && h.Owner.IsHousehold(hh)
}

// Rounds is the number of matching rounds a clearing runs.
func (m *Market) Rounds() int {
	return max(1, min(m.maxRounds, 1+(len(m.offers)+len(m.bids))/m.bookUnit))
}

// Clear matches this month's bids against the offers. Each round, bids in
// household-id order attach to their best offer; then offers in quality
// order go to their highest bidder, at the bid price if it clears the ask
// by the bid-up factor and otherwise at the ask. Losing bids try again in
// the next round. Whatever remains afterwards lapses.
func (m *Market) Clear(month int) error {
	defer clear(m.bids)
	bids := m.pending()

	rounds := m.Rounds()
	m.lastRounds, m.lastMatches = rounds, 0
	stranded := 0 // bids with no offer left in reach
	for r := 0; r < rounds && len(bids) > 0; r++ {
		matched := make(map[housing.OfferID][]Bid)
		for _, b := range bids {
			if o := m.BestOffer(b); o != nil {
				matched[o.ID] = append(matched[o.ID], b)
			} else {
				stranded++
			}
		}
		var next []Bid
		err := m.book.each(func(o *Offer) error {
			cands := matched[o.ID]
			if len(cands) == 0 {
				return nil
			}
			if cur, ok := m.offers[o.ID]; !ok || cur != o {
				next = append(next, cands...)
				return nil
			}
			w := winner(cands)
			price := o.Price
			if !cands[w].BTL && cands[w].Price >= o.Price*m.bidup {
				price = cands[w].Price
			}
			h, err := m.stock.Must(o.House, m.kind.String()+" clear")
			if err != nil {
				return err
			}
			if err := m.unlist(o, h, "clear"); err != nil {
				return err
			}
			o.Price = price
			if err := m.policy.Complete(cands[w], o, month); err != nil {
				return err
			}
			m.lastMatches++
			next = append(next, cands[:w]...)
			next = append(next, cands[w+1:]...)
			return nil
		})
		if err != nil {
			return err
		}
		slices.SortFunc(next, byHousehold)
		bids = next
	}
	m.lastUnmatched = len(bids) + stranded
	zap.S().Debugw("market cleared",
		"market", m.kind.String(),
		"month", month,
		"rounds", rounds,
		"matches", m.lastMatches,
		"offers_left", len(m.offers))
	return nil
}

// pending returns this month's bids in household-id order.
func (m *Market) pending() []Bid {
	bids := make([]Bid, 0, len(m.bids))
	for _, b := range m.bids {
		bids = append(bids, b)
	}
	slices.SortFunc(bids, byHousehold)
	return bids
}

func byHousehold(a, b Bid) int { return cmp.Compare(a.Household, b.Household) }

// winner is the index of the highest bid, ties to the lower household id.
func winner(bids []Bid) int {
	w := 0
	for i, b := range bids[1:] {
		best := bids[w]
		if b.Price > best.Price || (b.Price == best.Price && b.Household < best.Household) {
			w = i + 1
		}
	}
	return w
}

// Totals summarises the book before clearing.
func (m *Market) Totals() (nBids, nOffers int, sumBids, sumOffers float64) {
	for _, b := range m.pending() {
		sumBids += b.Price
	}
	_ = m.book.each(func(o *Offer) error {
		sumOffers += o.Price
		return nil
	})
	return len(m.bids), len(m.offers), sumBids, sumOffers
}

func (m *Market) NumOffers() int { return len(m.offers) }
func (m *Market) NumBids() int   { return len(m.bids) }

// LastClearing reports the rounds run, matches made and bids left over by
// the most recent Clear. Left over bids include those outbid in the last
// round and those that found no offer they could take.
func (m *Market) LastClearing() (rounds, matches, unmatched int) {
	return m.lastRounds, m.lastMatches, m.lastUnmatched
}

// Offers returns the active offers in quality-priority order.
func (m *Market) Offers() []*Offer {
	out := make([]*Offer, 0, len(m.offers))
	_ = m.book.each(func(o *Offer) error {
		out = append(out, o)
		return nil
	})
	return out
}

// Entry is an order-book position without the offer id.
type Entry struct {
	House   housing.ID `json:"house"`
	Quality int        `json:"quality"`
	Price   float64    `json:"price"`
	Yield   float64    `json:"yield"`
}

// Snapshot is the order of the book under both comparators.
type Snapshot struct {
	Quality []Entry `json:"by_price"`
	Yield   []Entry `json:"by_yield"`
}

// Snapshot captures the current ordering of the book.
func (m *Market) Snapshot() Snapshot {
	entry := func(o *Offer) Entry {
		return Entry{House: o.House, Quality: o.Quality, Price: o.Price, Yield: o.Yield}
	}
	var s Snapshot
	for _, o := range m.Offers() {
		s.Quality = append(s.Quality, entry(o))
	}
	if m.book.yield != nil {
		for _, o := range m.book.yield.items {
			s.Yield = append(s.Yield, entry(o))
		}
	}
	return s
}
