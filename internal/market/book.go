package market

import (
	"cmp"
	"slices"

	"github.com/talgya/housing-market/internal/housing"
)

// Offer is one listing of a house on one market.
type Offer struct {
	ID           housing.OfferID
	House        housing.ID
	Quality      int
	Price        float64
	InitialPrice float64
	Listed       int  // month of first listing
	BTL          bool // an investor selling an investment property
	Yield        float64
}

// byPrice orders offers within one quality band.
func byPrice(a, b *Offer) int {
	if c := cmp.Compare(a.Price, b.Price); c != 0 {
		return c
	}
	return cmp.Compare(a.House, b.House)
}

// byYield orders the yield queue: highest yield first, then cheapest.
func byYield(a, b *Offer) int {
	if c := cmp.Compare(b.Yield, a.Yield); c != 0 {
		return c
	}
	return byPrice(a, b)
}

// sortedOffers is a slice kept ordered by cmp.
type sortedOffers struct {
	cmp   func(a, b *Offer) int
	items []*Offer
}

func (s *sortedOffers) insert(o *Offer) {
	i, _ := slices.BinarySearchFunc(s.items, o, s.cmp)
	s.items = slices.Insert(s.items, i, o)
}

// remove deletes o, located by its current ordering key. It reports false
// when o is not present under that key.
func (s *sortedOffers) remove(o *Offer) bool {
	i, found := slices.BinarySearchFunc(s.items, o, s.cmp)
	if !found || s.items[i] != o {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

// book holds the quality-priority buckets and, on a yield-aware market,
// the yield-priority queue.
type book struct {
	buckets []sortedOffers
	yield   *sortedOffers
	size    int
}

func newBook(nQuality int, yieldAware bool) *book {
	b := &book{buckets: make([]sortedOffers, nQuality)}
	for q := range b.buckets {
		b.buckets[q].cmp = byPrice
	}
	if yieldAware {
		b.yield = &sortedOffers{cmp: byYield}
	}
	return b
}

func (b *book) insert(o *Offer) {
	b.buckets[o.Quality].insert(o)
	if b.yield != nil {
		b.yield.insert(o)
	}
	b.size++
}

func (b *book) remove(o *Offer) bool {
	if !b.buckets[o.Quality].remove(o) {
		return false
	}
	if b.yield != nil && !b.yield.remove(o) {
		return false
	}
	b.size--
	return true
}

// each visits offers in quality-priority order over a copy, so fn may
// mutate the book.
func (b *book) each(fn func(o *Offer) error) error {
	all := make([]*Offer, 0, b.size)
	for q := range b.buckets {
		all = append(all, b.buckets[q].items...)
	}
	for _, o := range all {
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}
