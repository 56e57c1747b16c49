package lending

import (
	"fmt"
	"math/big"
)

// ListingStatus identifies the index bucket a live listing belongs to.
type ListingStatus uint8

const (
	// StatusListed holds open, unmatched listings.
	StatusListed ListingStatus = iota + 1
	// StatusAgreed holds matched, active loans.
	StatusAgreed
)

// Valid reports whether the status value names a known index bucket.
func (s ListingStatus) Valid() bool {
	return s == StatusListed || s == StatusAgreed
}

func (s ListingStatus) String() string {
	switch s {
	case StatusListed:
		return "listed"
	case StatusAgreed:
		return "agreed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

const (
	// MaxPeriod caps the loan duration at thirty days. The cap is also
	// applied when evaluating a lender-initiated end against a stored
	// period, so oversized legacy values cannot extend the window.
	MaxPeriod uint32 = 2_592_000

	// MaxRevenueTokens bounds the token set so a claim never degenerates
	// into an unbounded loop.
	MaxRevenueTokens = 10

	splitTotal = 100
)

// RevenueSplit carries the three-way percentage distribution applied to each
// escrowed revenue token at claim time. The shares must sum to exactly 100.
type RevenueSplit struct {
	Owner      uint8
	Borrower   uint8
	ThirdParty uint8
}

// Sum returns the total of the three shares.
func (s RevenueSplit) Sum() int {
	return int(s.Owner) + int(s.Borrower) + int(s.ThirdParty)
}

// Validate checks the split against the listing's third-party configuration.
func (s RevenueSplit) Validate(hasThirdParty bool) error {
	if s.Sum() != splitTotal {
		return ErrSplitSum
	}
	if !hasThirdParty && s.ThirdParty != 0 {
		return ErrSplitThirdParty
	}
	return nil
}

// Listing is the canonical record for a lending offer or active agreement.
// Terminal listings are never deleted; they simply become unreachable from
// the live indexes.
type Listing struct {
	ID              uint64
	AssetID         uint64
	Lender          [20]byte
	Borrower        [20]byte
	OriginalOwner   [20]byte
	ThirdParty      [20]byte
	InitialCost     *big.Int
	Period          uint32
	Split           RevenueSplit
	WhitelistID     uint32
	RevenueTokens   [][20]byte
	TimeCreated     int64
	TimeAgreed      int64
	TimeLastClaimed int64
	Canceled        bool
	Completed       bool
}

// Exists reports whether the record has ever been written. TimeCreated is
// nonzero for every persisted listing.
func (l *Listing) Exists() bool {
	return l != nil && l.TimeCreated != 0
}

// Open reports whether the listing can still be matched.
func (l *Listing) Open() bool {
	return l.Exists() && !l.Canceled && !l.Completed && l.TimeAgreed == 0
}

// Active reports whether the listing represents a matched loan that has not
// yet been returned.
func (l *Listing) Active() bool {
	return l.Exists() && l.TimeAgreed != 0 && !l.Completed
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.InitialCost != nil {
		clone.InitialCost = new(big.Int).Set(l.InitialCost)
	} else {
		clone.InitialCost = big.NewInt(0)
	}
	if l.RevenueTokens != nil {
		clone.RevenueTokens = make([][20]byte, len(l.RevenueTokens))
		copy(clone.RevenueTokens, l.RevenueTokens)
	}
	return &clone
}

// SanitizeListing validates structural invariants and returns a cloned
// instance with a non-nil cost field. The original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.InitialCost.Sign() < 0 {
		return nil, fmt.Errorf("listing cost must be non-negative")
	}
	if len(clone.RevenueTokens) > MaxRevenueTokens {
		return nil, fmt.Errorf("listing revenue tokens exceed cap: %d", len(clone.RevenueTokens))
	}
	if clone.Canceled && clone.Completed {
		return nil, fmt.Errorf("listing cannot be both canceled and completed")
	}
	return clone, nil
}

// ListNode is the intrusive link stored once per listing per status bucket.
// Parent points toward the head (newer entries), Child toward the tail
// (older entries); walking Child pointers from the head visits listings in
// LIFO order. A node whose ListingID is zero is unlinked.
type ListNode struct {
	ListingID uint64
	Parent    uint64
	Child     uint64
}

// Linked reports whether the node currently participates in a chain.
func (n *ListNode) Linked() bool {
	return n != nil && n.ListingID != 0
}

// AssetStatus mirrors the asset registry's lifecycle kind for an asset.
type AssetStatus uint8

const (
	// AssetStatusUnknown marks unregistered assets.
	AssetStatusUnknown AssetStatus = iota
	// AssetStatusPending marks assets not yet eligible for lending.
	AssetStatusPending
	// AssetStatusReady marks assets that may be listed.
	AssetStatusReady
)
