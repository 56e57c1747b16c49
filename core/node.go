package core

import (
	"math/big"
	"sync"

	"lendchain/core/events"
	"lendchain/core/state"
	"lendchain/core/types"
	"lendchain/native/lending"
)

const eventBufferSize = 512

// Node glues the state manager and the lending engine together and
// serialises every state transition behind one mutex, giving each operation
// the single-threaded, no-interleaving execution the engine assumes. It also
// retains a bounded buffer of emitted events for the RPC layer.
type Node struct {
	mu     sync.Mutex
	state  *state.Manager
	engine *lending.Engine

	eventMu  sync.Mutex
	events   []types.Event
	eventSeq uint64
}

// NewNode wires a node around the provided state manager.
func NewNode(manager *state.Manager, moduleAddr, feeToken [20]byte) *Node {
	engine := lending.NewEngine()
	engine.SetState(manager)
	engine.SetCollaborators(manager, manager, manager, manager)
	engine.SetModuleAddress(moduleAddr)
	engine.SetFeeToken(feeToken)
	engine.SetPauses(manager)
	manager.SetModuleSpender(moduleAddr)

	n := &Node{state: manager, engine: engine}
	engine.SetEmitter(n)
	return n
}

// Engine exposes the underlying lending engine for tests and tooling.
func (n *Node) Engine() *lending.Engine { return n.engine }

// State exposes the underlying state manager for tests and tooling.
func (n *Node) State() *state.Manager { return n.state }

// Emit implements events.Emitter, retaining the most recent events.
func (n *Node) Emit(ev events.Event) {
	payload, ok := ev.(interface{ Event() *types.Event })
	if !ok || payload.Event() == nil {
		return
	}
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.events = append(n.events, *payload.Event())
	n.eventSeq++
	if len(n.events) > eventBufferSize {
		n.events = n.events[len(n.events)-eventBufferSize:]
	}
}

func (n *Node) eventMark() uint64 {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	return n.eventSeq
}

// rewindEvents drops the events emitted since mark. Used when a staged
// operation rolls back, so observers never see events for discarded state.
func (n *Node) rewindEvents(mark uint64) {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	drop := int(n.eventSeq - mark)
	if drop > len(n.events) {
		drop = len(n.events)
	}
	n.events = n.events[:len(n.events)-drop]
	n.eventSeq = mark
}

// Events returns a copy of the retained event buffer, newest last.
func (n *Node) Events() []types.Event {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

// --- Lifecycle operations ---

// runStaged executes fn against an overlay of the state manager, committing
// only if fn succeeds. A failure discards every staged write and rewinds the
// events fn emitted, so single operations and batches alike either apply
// fully or leave no trace. Callers hold n.mu.
func (n *Node) runStaged(fn func() error) error {
	mark := n.eventMark()
	n.state.Begin()
	if err := fn(); err != nil {
		n.state.Rollback()
		n.rewindEvents(mark)
		return err
	}
	return n.state.Commit()
}

func (n *Node) CreateListing(caller [20]byte, p lending.CreateListingParams) (*lending.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var listing *lending.Listing
	err := n.runStaged(func() error {
		var err error
		listing, err = n.engine.CreateListing(caller, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (n *Node) BatchCreateListings(caller [20]byte, params []lending.CreateListingParams) ([]*lending.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var listings []*lending.Listing
	err := n.runStaged(func() error {
		var err error
		listings, err = n.engine.BatchCreateListings(caller, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listings, nil
}

func (n *Node) AgreeListing(caller [20]byte, p lending.AgreeListingParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.AgreeListing(caller, p) })
}

func (n *Node) BatchAgreeListings(caller [20]byte, params []lending.AgreeListingParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.BatchAgreeListings(caller, params) })
}

func (n *Node) CancelListing(caller [20]byte, listingID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.CancelListing(caller, listingID) })
}

func (n *Node) CancelListingByAsset(caller [20]byte, assetID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.CancelListingByAsset(caller, assetID) })
}

func (n *Node) BatchCancelListings(caller [20]byte, listingIDs []uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.BatchCancelListings(caller, listingIDs) })
}

func (n *Node) ClaimRevenue(caller [20]byte, listingID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.ClaimRevenue(caller, listingID) })
}

func (n *Node) BatchClaimRevenue(caller [20]byte, listingIDs []uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.BatchClaimRevenue(caller, listingIDs) })
}

func (n *Node) EndListing(caller [20]byte, listingID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.EndListing(caller, listingID) })
}

func (n *Node) ClaimAndEndListing(caller [20]byte, listingID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.ClaimAndEndListing(caller, listingID) })
}

func (n *Node) BatchClaimAndEnd(caller [20]byte, listingIDs []uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.BatchClaimAndEnd(caller, listingIDs) })
}

func (n *Node) ClaimAndRelistListing(caller [20]byte, listingID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.ClaimAndRelistListing(caller, listingID) })
}

func (n *Node) ClaimAndRenewListing(caller [20]byte, listingID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runStaged(func() error { return n.engine.ClaimAndRenewListing(caller, listingID) })
}

// --- Queries ---

func (n *Node) GetListing(listingID uint64) (*lending.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetListing(listingID)
}

func (n *Node) GetListingByAsset(assetID uint64) (*lending.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetListingByAsset(assetID)
}

func (n *Node) IsListed(assetID uint64) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.IsListed(assetID)
}

func (n *Node) IsActivelyLent(assetID uint64) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.IsActivelyLent(assetID)
}

func (n *Node) GetAccessRight(assetID uint64, action uint16) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetAccessRight(assetID, action)
}

func (n *Node) SetAccessRight(caller [20]byte, assetID uint64, action uint16, value uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SetAccessRight(caller, assetID, action, value)
}

// --- Administrative surface ---

func (n *Node) RegisterAsset(a *state.Asset) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.AssetPut(a)
}

func (n *Node) MintToken(token, addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.TokenMint(token, addr, amount)
}

func (n *Node) ApproveToken(token, owner, spender [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.TokenApprove(token, owner, spender, amount)
}

func (n *Node) TokenBalance(token, addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.TokenBalance(token, addr)
}

func (n *Node) EscrowCredit(assetID uint64, token [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.EscrowCredit(assetID, token, amount)
}

func (n *Node) AllowRevenueToken(token [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.RevenueTokenAllow(token)
}

func (n *Node) CreateWhitelist(listID uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.WhitelistCreate(listID)
}

func (n *Node) AddWhitelistMember(listID uint32, addr [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.WhitelistAdd(listID, addr)
}

func (n *Node) SetPaused(module string, paused bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.SetPaused(module, paused)
}
