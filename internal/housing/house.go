// Package housing holds the housing stock: every House ever built, indexed
// by a monotonic id. Houses are never destroyed during a run. Cross
// references (owner, resident, listings) are ids into the owning tables.
package housing

import "github.com/talgya/housing-market/internal/simerr"

// ID identifies a house. Zero means "no house".
type ID uint64

// HouseholdID identifies a household. Zero means "nobody".
type HouseholdID uint64

// OfferID identifies a market listing. Zero means "not listed".
type OfferID uint64

// OwnerKind distinguishes the two kinds of house owner.
type OwnerKind uint8

const (
	OwnerNone OwnerKind = iota
	OwnerHousehold
	OwnerConstruction
)

// Owner references the current owner of a house.
type Owner struct {
	Kind      OwnerKind
	Household HouseholdID // set when Kind == OwnerHousehold
}

// Construction is the owner value of unsold new builds.
var Construction = Owner{Kind: OwnerConstruction}

// OwnedBy returns the owner value for household id.
func OwnedBy(id HouseholdID) Owner {
	return Owner{Kind: OwnerHousehold, Household: id}
}

// IsHousehold reports whether o is household id.
func (o Owner) IsHousehold(id HouseholdID) bool {
	return o.Kind == OwnerHousehold && o.Household == id
}

// House is one dwelling.
type House struct {
	ID       ID
	Quality  int
	Owner    Owner
	Resident HouseholdID

	SaleOffer   OfferID
	RentalOffer OfferID
}

func (h *House) OnSaleMarket() bool   { return h.SaleOffer != 0 }
func (h *House) OnRentalMarket() bool { return h.RentalOffer != 0 }

// Stock is the arena of all houses.
type Stock struct {
	houses []*House // houses[i].ID == i+1
}

// NewStock creates an empty stock.
func NewStock() *Stock {
	return &Stock{}
}

// Build adds a new house with the next id.
func (s *Stock) Build(quality int, owner Owner) *House {
	h := &House{
		ID:      ID(len(s.houses) + 1),
		Quality: quality,
		Owner:   owner,
	}
	s.houses = append(s.houses, h)
	return h
}

// Get returns the house with id, or nil.
func (s *Stock) Get(id ID) *House {
	if id == 0 || int(id) > len(s.houses) {
		return nil
	}
	return s.houses[id-1]
}

// Must returns the house with id, or an invariant error naming op.
func (s *Stock) Must(id ID, op string) (*House, error) {
	h := s.Get(id)
	if h == nil {
		return nil, simerr.Invariant("house", uint64(id), op, "house not in stock")
	}
	if h.Owner.Kind == OwnerNone {
		return nil, simerr.Invariant("house", uint64(id), op, "house has no owner")
	}
	return h, nil
}

// Len is the number of houses ever built.
func (s *Stock) Len() int { return len(s.houses) }

// All returns the houses in id order. The slice must not be modified.
func (s *Stock) All() []*House { return s.houses }
