package state

import (
	"fmt"
	"math/big"

	"lendchain/native/lending"
)

// storedListing is the RLP codec form of a listing. RLP has no signed
// integer support, so the timestamps are persisted as uint64.
type storedListing struct {
	ID              uint64
	AssetID         uint64
	Lender          [20]byte
	Borrower        [20]byte
	OriginalOwner   [20]byte
	ThirdParty      [20]byte
	InitialCost     *big.Int
	Period          uint32
	SplitOwner      uint8
	SplitBorrower   uint8
	SplitThirdParty uint8
	WhitelistID     uint32
	RevenueTokens   [][20]byte
	TimeCreated     uint64
	TimeAgreed      uint64
	TimeLastClaimed uint64
	Canceled        bool
	Completed       bool
}

func toStoredListing(l *lending.Listing) *storedListing {
	return &storedListing{
		ID:              l.ID,
		AssetID:         l.AssetID,
		Lender:          l.Lender,
		Borrower:        l.Borrower,
		OriginalOwner:   l.OriginalOwner,
		ThirdParty:      l.ThirdParty,
		InitialCost:     l.InitialCost,
		Period:          l.Period,
		SplitOwner:      l.Split.Owner,
		SplitBorrower:   l.Split.Borrower,
		SplitThirdParty: l.Split.ThirdParty,
		WhitelistID:     l.WhitelistID,
		RevenueTokens:   l.RevenueTokens,
		TimeCreated:     uint64(l.TimeCreated),
		TimeAgreed:      uint64(l.TimeAgreed),
		TimeLastClaimed: uint64(l.TimeLastClaimed),
		Canceled:        l.Canceled,
		Completed:       l.Completed,
	}
}

func (s *storedListing) toListing() *lending.Listing {
	return &lending.Listing{
		ID:            s.ID,
		AssetID:       s.AssetID,
		Lender:        s.Lender,
		Borrower:      s.Borrower,
		OriginalOwner: s.OriginalOwner,
		ThirdParty:    s.ThirdParty,
		InitialCost:   s.InitialCost,
		Period:        s.Period,
		Split: lending.RevenueSplit{
			Owner:      s.SplitOwner,
			Borrower:   s.SplitBorrower,
			ThirdParty: s.SplitThirdParty,
		},
		WhitelistID:     s.WhitelistID,
		RevenueTokens:   s.RevenueTokens,
		TimeCreated:     int64(s.TimeCreated),
		TimeAgreed:      int64(s.TimeAgreed),
		TimeLastClaimed: int64(s.TimeLastClaimed),
		Canceled:        s.Canceled,
		Completed:       s.Completed,
	}
}

type storedNode struct {
	ListingID uint64
	Parent    uint64
	Child     uint64
}

type storedBorrowerSlot struct {
	AssetID uint64
}

// ListingPut sanitizes and persists the listing record.
func (m *Manager) ListingPut(l *lending.Listing) error {
	sanitized, err := lending.SanitizeListing(l)
	if err != nil {
		return err
	}
	return m.putRLP(listingKey(sanitized.ID), toStoredListing(sanitized))
}

// ListingGet loads a listing by identifier.
func (m *Manager) ListingGet(id uint64) (*lending.Listing, bool, error) {
	var stored storedListing
	ok, err := m.getRLP(listingKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toListing(), true, nil
}

// NextListingID allocates the next monotonic listing identifier. Identifiers
// start at one; zero is the absent sentinel throughout the index.
func (m *Manager) NextListingID() (uint64, error) {
	current, _, err := m.getUint64(listingSeqKey())
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.putUint64(listingSeqKey(), next); err != nil {
		return 0, err
	}
	return next, nil
}

// AssetListingGet resolves the asset's active listing identifier.
func (m *Manager) AssetListingGet(assetID uint64) (uint64, bool, error) {
	return m.getUint64(assetListingKey(assetID))
}

// AssetListingSet points the asset at its active listing.
func (m *Manager) AssetListingSet(assetID, listingID uint64) error {
	return m.putUint64(assetListingKey(assetID), listingID)
}

// AssetListingClear removes the asset's active listing pointer.
func (m *Manager) AssetListingClear(assetID uint64) error {
	return m.db.Delete(assetListingKey(assetID))
}

// HeadGet returns the global chain head for a status bucket.
func (m *Manager) HeadGet(status lending.ListingStatus) (uint64, error) {
	head, _, err := m.getUint64(headKey(uint8(status)))
	return head, err
}

// HeadSet updates the global chain head for a status bucket.
func (m *Manager) HeadSet(status lending.ListingStatus, listingID uint64) error {
	return m.putUint64(headKey(uint8(status)), listingID)
}

// OwnerHeadGet returns the owner's chain head for a status bucket.
func (m *Manager) OwnerHeadGet(owner [20]byte, status lending.ListingStatus) (uint64, error) {
	head, _, err := m.getUint64(ownerHeadKey(owner, uint8(status)))
	return head, err
}

// OwnerHeadSet updates the owner's chain head for a status bucket.
func (m *Manager) OwnerHeadSet(owner [20]byte, status lending.ListingStatus, listingID uint64) error {
	return m.putUint64(ownerHeadKey(owner, uint8(status)), listingID)
}

func (m *Manager) nodeGet(key []byte) (*lending.ListNode, error) {
	var stored storedNode
	ok, err := m.getRLP(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &lending.ListNode{}, nil
	}
	return &lending.ListNode{ListingID: stored.ListingID, Parent: stored.Parent, Child: stored.Child}, nil
}

func (m *Manager) nodePut(key []byte, node *lending.ListNode) error {
	if node == nil || node.ListingID == 0 {
		// Unlinked nodes are dropped rather than stored as zero records.
		return m.db.Delete(key)
	}
	return m.putRLP(key, &storedNode{ListingID: node.ListingID, Parent: node.Parent, Child: node.Child})
}

// NodeGet loads a global chain node; absent nodes come back unlinked.
func (m *Manager) NodeGet(status lending.ListingStatus, listingID uint64) (*lending.ListNode, error) {
	return m.nodeGet(nodeKey(uint8(status), listingID))
}

// NodePut stores a global chain node.
func (m *Manager) NodePut(status lending.ListingStatus, listingID uint64, node *lending.ListNode) error {
	return m.nodePut(nodeKey(uint8(status), listingID), node)
}

// OwnerNodeGet loads an owner chain node; absent nodes come back unlinked.
func (m *Manager) OwnerNodeGet(status lending.ListingStatus, listingID uint64) (*lending.ListNode, error) {
	return m.nodeGet(ownerNodeKey(uint8(status), listingID))
}

// OwnerNodePut stores an owner chain node.
func (m *Manager) OwnerNodePut(status lending.ListingStatus, listingID uint64, node *lending.ListNode) error {
	return m.nodePut(ownerNodeKey(uint8(status), listingID), node)
}

// BorrowerSlotGet reads the borrower's loan slot.
func (m *Manager) BorrowerSlotGet(borrower [20]byte) (uint64, bool, error) {
	var stored storedBorrowerSlot
	ok, err := m.getRLP(borrowerSlotKey(borrower), &stored)
	if err != nil || !ok {
		return 0, false, err
	}
	return stored.AssetID, true, nil
}

// BorrowerSlotSet records the borrower's single active loan.
func (m *Manager) BorrowerSlotSet(borrower [20]byte, assetID uint64) error {
	return m.putRLP(borrowerSlotKey(borrower), &storedBorrowerSlot{AssetID: assetID})
}

// BorrowerSlotClear releases the borrower's loan slot.
func (m *Manager) BorrowerSlotClear(borrower [20]byte) error {
	return m.db.Delete(borrowerSlotKey(borrower))
}

// LentAssetAdd records the asset in the lender's currently-lent set.
func (m *Manager) LentAssetAdd(lender [20]byte, assetID uint64) error {
	exists, err := m.hasMarker(lentAssetKey(lender, assetID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("state: asset %d already lent by owner", assetID)
	}
	if err := m.putMarker(lentAssetKey(lender, assetID)); err != nil {
		return err
	}
	count, _, err := m.getUint64(lentCountKey(lender))
	if err != nil {
		return err
	}
	return m.putUint64(lentCountKey(lender), count+1)
}

// LentAssetRemove drops the asset from the lender's currently-lent set.
func (m *Manager) LentAssetRemove(lender [20]byte, assetID uint64) error {
	exists, err := m.hasMarker(lentAssetKey(lender, assetID))
	if err != nil || !exists {
		return err
	}
	if err := m.db.Delete(lentAssetKey(lender, assetID)); err != nil {
		return err
	}
	count, _, err := m.getUint64(lentCountKey(lender))
	if err != nil {
		return err
	}
	if count > 0 {
		count--
	}
	return m.putUint64(lentCountKey(lender), count)
}

// LentAssetCount returns how many assets the lender currently has out.
func (m *Manager) LentAssetCount(lender [20]byte) (uint64, error) {
	count, _, err := m.getUint64(lentCountKey(lender))
	return count, err
}

// RevenueTokenAllow adds a token to the revenue allow-list.
func (m *Manager) RevenueTokenAllow(token [20]byte) error {
	return m.putMarker(revenueTokenKey(token))
}

// RevenueTokenAllowed reports allow-list membership for a revenue token.
func (m *Manager) RevenueTokenAllowed(token [20]byte) (bool, error) {
	return m.hasMarker(revenueTokenKey(token))
}

// AccessRightGet reads the (asset, action) permission bitmask.
func (m *Manager) AccessRightGet(assetID uint64, action uint16) (uint32, error) {
	var v uint32
	_, err := m.getRLP(accessRightKey(assetID, action), &v)
	return v, err
}

// AccessRightSet writes the (asset, action) permission bitmask.
func (m *Manager) AccessRightSet(assetID uint64, action uint16, value uint32) error {
	return m.putRLP(accessRightKey(assetID, action), value)
}
