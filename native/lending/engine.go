package lending

import (
	"fmt"
	"math/big"
	"time"

	"lendchain/core/events"
	nativecommon "lendchain/native/common"
)

const moduleName = "lending"

type engineState interface {
	// Listing table and asset index.
	ListingGet(id uint64) (*Listing, bool, error)
	ListingPut(*Listing) error
	NextListingID() (uint64, error)
	AssetListingGet(assetID uint64) (uint64, bool, error)
	AssetListingSet(assetID, listingID uint64) error
	AssetListingClear(assetID uint64) error

	// Intrusive index storage: global and per-owner chains per bucket.
	HeadGet(status ListingStatus) (uint64, error)
	HeadSet(status ListingStatus, listingID uint64) error
	OwnerHeadGet(owner [20]byte, status ListingStatus) (uint64, error)
	OwnerHeadSet(owner [20]byte, status ListingStatus, listingID uint64) error
	NodeGet(status ListingStatus, listingID uint64) (*ListNode, error)
	NodePut(status ListingStatus, listingID uint64, node *ListNode) error
	OwnerNodeGet(status ListingStatus, listingID uint64) (*ListNode, error)
	OwnerNodePut(status ListingStatus, listingID uint64, node *ListNode) error

	// Borrower loan slots and lender bookkeeping.
	BorrowerSlotGet(borrower [20]byte) (uint64, bool, error)
	BorrowerSlotSet(borrower [20]byte, assetID uint64) error
	BorrowerSlotClear(borrower [20]byte) error
	LentAssetAdd(lender [20]byte, assetID uint64) error
	LentAssetRemove(lender [20]byte, assetID uint64) error

	// Revenue token allow-list and the access-rights side table.
	RevenueTokenAllowed(token [20]byte) (bool, error)
	AccessRightGet(assetID uint64, action uint16) (uint32, error)
	AccessRightSet(assetID uint64, action uint16, value uint32) error
}

// Engine owns the listing lifecycle: creation, matching, cancellation,
// revenue claims and termination. Asset custody, token movement, escrow and
// whitelist lookups are delegated to external collaborators; the engine owns
// every legality check and the bookkeeping order around those calls.
type Engine struct {
	state         engineState
	assets        AssetRegistry
	tokens        TokenMover
	escrow        EscrowVault
	whitelists    WhitelistView
	emitter       events.Emitter
	moduleAddress [20]byte
	feeToken      [20]byte
	pauses        nativecommon.PauseView
	nowFn         func() int64
}

// NewEngine creates a lending engine with a no-op event emitter. Collaborators
// are wired through the Set* helpers before first use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the persistence backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCollaborators wires the external asset, token, escrow and whitelist
// collaborators in one call.
func (e *Engine) SetCollaborators(assets AssetRegistry, tokens TokenMover, escrow EscrowVault, whitelists WhitelistView) {
	e.assets = assets
	e.tokens = tokens
	e.escrow = escrow
	e.whitelists = whitelists
}

// SetModuleAddress records the address the escrow grants transfer allowances
// to when revenue is distributed.
func (e *Engine) SetModuleAddress(addr [20]byte) { e.moduleAddress = addr }

// SetFeeToken configures the fungible token the upfront listing fee is
// denominated in.
func (e *Engine) SetFeeToken(token [20]byte) { e.feeToken = token }

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(ev events.Event) {
	if e == nil || e.emitter == nil || ev == nil {
		return
	}
	e.emitter.Emit(ev)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.assets == nil || e.tokens == nil || e.escrow == nil || e.whitelists == nil {
		return fmt.Errorf("lending engine: collaborators not configured")
	}
	return nil
}

func (e *Engine) loadListing(id uint64) (*Listing, error) {
	listing, ok, err := e.state.ListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.Exists() {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
	}
	return listing, nil
}

// CreateListingParams carries the caller-supplied fields of a new listing.
type CreateListingParams struct {
	AssetID       uint64
	InitialCost   *big.Int
	Period        uint32
	Split         RevenueSplit
	OriginalOwner [20]byte
	ThirdParty    [20]byte
	WhitelistID   uint32
	RevenueTokens [][20]byte
}

func (e *Engine) validateCreateParams(p CreateListingParams) error {
	if p.InitialCost == nil {
		return ErrZeroInitialCostArgs
	}
	if p.InitialCost.Sign() < 0 {
		return fmt.Errorf("%w: negative initial cost", ErrInvalidParameters)
	}
	if p.Period == 0 || p.Period > MaxPeriod {
		return ErrPeriodOutOfRange
	}
	if p.OriginalOwner == ([20]byte{}) {
		return ErrZeroOriginalOwner
	}
	if err := p.Split.Validate(p.ThirdParty != ([20]byte{})); err != nil {
		return err
	}
	if len(p.RevenueTokens) > MaxRevenueTokens {
		return ErrTooManyTokens
	}
	for _, token := range p.RevenueTokens {
		allowed, err := e.state.RevenueTokenAllowed(token)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrTokenNotAllowed
		}
	}
	if p.WhitelistID != 0 {
		exists, err := e.whitelists.Exists(p.WhitelistID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrWhitelistNotFound
		}
	}
	return nil
}

// CreateListing validates the parameters, retires any unmatched prior listing
// for the asset, writes the open record, publishes it under the "listed"
// bucket of both indexes and locks the asset with the registry.
func (e *Engine) CreateListing(caller [20]byte, p CreateListingParams) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.validateCreateParams(p); err != nil {
		return nil, err
	}

	owner, err := e.assets.OwnerOf(p.AssetID)
	if err != nil {
		return nil, fmt.Errorf("%w: asset %d", ErrNotFound, p.AssetID)
	}
	if owner != caller {
		return nil, ErrNotOwner
	}
	status, err := e.assets.StatusOf(p.AssetID)
	if err != nil {
		return nil, err
	}
	if status != AssetStatusReady {
		return nil, ErrAssetNotLendable
	}

	// An asset can only have one active listing. A prior unmatched listing
	// is retired in place; a matched one blocks the create outright.
	if priorID, ok, err := e.state.AssetListingGet(p.AssetID); err != nil {
		return nil, err
	} else if ok {
		prior, err := e.loadListing(priorID)
		if err != nil {
			return nil, err
		}
		if prior.TimeAgreed != 0 && !prior.Completed {
			return nil, ErrAlreadyMatched
		}
		if !prior.Canceled && !prior.Completed {
			if err := e.cancelListing(prior); err != nil {
				return nil, err
			}
		}
	}

	locked, err := e.assets.IsLocked(p.AssetID)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrAssetLocked
	}
	// Lock before the state writes so a registry rejection leaves no
	// orphaned listing behind.
	if err := e.assets.SetLocked(p.AssetID, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}

	id, err := e.state.NextListingID()
	if err != nil {
		return nil, err
	}
	listing := &Listing{
		ID:            id,
		AssetID:       p.AssetID,
		Lender:        caller,
		OriginalOwner: p.OriginalOwner,
		ThirdParty:    p.ThirdParty,
		InitialCost:   new(big.Int).Set(p.InitialCost),
		Period:        p.Period,
		Split:         p.Split,
		WhitelistID:   p.WhitelistID,
		RevenueTokens: append([][20]byte(nil), p.RevenueTokens...),
		TimeCreated:   e.now(),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.state.AssetListingSet(p.AssetID, id); err != nil {
		return nil, err
	}
	if err := e.insertListNode(caller, id, StatusListed); err != nil {
		return nil, err
	}
	e.emit(listingEvent{evt: NewCreatedEvent(listing)})
	return listing.Clone(), nil
}

// AgreeListingParams echoes the stored listing terms. Matching fails unless
// every field equals the stored value, protecting the borrower against the
// listing drifting between the offer they saw and the match they sign.
type AgreeListingParams struct {
	ListingID   uint64
	AssetID     uint64
	InitialCost *big.Int
	Period      uint32
	Split       RevenueSplit
}

// AgreeListing matches an open listing to a borrower: the upfront fee moves
// to the lender, the listing shifts from the "listed" to the "agreed" bucket
// and the asset is handed to the borrower with the lender retained as an
// authorized operator.
func (e *Engine) AgreeListing(caller [20]byte, p AgreeListingParams) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(p.ListingID)
	if err != nil {
		return err
	}
	if listing.Canceled {
		return ErrCanceled
	}
	if listing.TimeAgreed != 0 {
		return ErrAlreadyMatched
	}
	echoCost := p.InitialCost
	if echoCost == nil {
		echoCost = big.NewInt(0)
	}
	if p.AssetID != listing.AssetID ||
		echoCost.Cmp(listing.InitialCost) != 0 ||
		p.Period != listing.Period ||
		p.Split != listing.Split {
		return ErrParameterMismatch
	}
	if caller == listing.Lender {
		return ErrSelfMatch
	}
	if listing.WhitelistID != 0 {
		rank, err := e.whitelists.IsMember(listing.WhitelistID, caller)
		if err != nil {
			return err
		}
		if rank == 0 {
			return ErrNotWhitelisted
		}
	}
	if borrowing, err := e.isBorrowing(caller); err != nil {
		return err
	} else if borrowing {
		return ErrAlreadyBorrowing
	}

	// Every collaborator call settles before the first state write, so a
	// rejected transfer leaves the listing, the indexes and the borrower
	// slot untouched.
	if listing.InitialCost.Sign() > 0 {
		if err := e.tokens.TransferFrom(e.feeToken, caller, listing.Lender, listing.InitialCost); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailure, err)
		}
	}
	if err := e.assets.Transfer(listing.Lender, caller, listing.AssetID); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	if err := e.assets.SetOperator(caller, listing.Lender, true); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}

	if err := e.addBorrowerSlot(caller, listing.AssetID); err != nil {
		return err
	}
	listing.Borrower = caller
	listing.TimeAgreed = e.now()
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.removeListNode(listing.Lender, listing.ID, StatusListed); err != nil {
		return err
	}
	if err := e.insertListNode(listing.Lender, listing.ID, StatusAgreed); err != nil {
		return err
	}
	if err := e.state.LentAssetAdd(listing.Lender, listing.AssetID); err != nil {
		return err
	}
	e.emit(listingEvent{evt: NewAgreedEvent(listing)})
	return nil
}

// CancelListing retires an open listing. Canceling twice is a no-op; a
// matched listing cannot be canceled and must run through EndListing.
func (e *Engine) CancelListing(caller [20]byte, listingID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if listing.Canceled {
		return nil
	}
	if caller != listing.Lender {
		return ErrNotOwner
	}
	if listing.TimeAgreed != 0 {
		return ErrAlreadyMatched
	}
	return e.cancelListing(listing)
}

// CancelListingByAsset resolves the asset's active listing and cancels it.
func (e *Engine) CancelListingByAsset(caller [20]byte, assetID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	id, ok, err := e.state.AssetListingGet(assetID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no active listing for asset %d", ErrNotFound, assetID)
	}
	return e.CancelListing(caller, id)
}

func (e *Engine) cancelListing(listing *Listing) error {
	// Unlock before the state writes so a registry rejection leaves the
	// listing live instead of canceled-but-locked.
	if err := e.assets.SetLocked(listing.AssetID, false); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	listing.Canceled = true
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.removeListNode(listing.Lender, listing.ID, StatusListed); err != nil {
		return err
	}
	if err := e.state.AssetListingClear(listing.AssetID); err != nil {
		return err
	}
	e.emit(listingEvent{evt: NewCanceledEvent(listing)})
	return nil
}

// ClaimRevenue distributes the escrowed revenue of a matched listing to the
// configured recipients. It never changes lifecycle state and may be called
// repeatedly; a claim against a drained escrow simply moves nothing.
func (e *Engine) ClaimRevenue(caller [20]byte, listingID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if listing.TimeAgreed == 0 {
		return ErrNotMatched
	}
	if listing.Completed {
		return ErrCompleted
	}
	if caller != listing.Lender && caller != listing.Borrower {
		return ErrNotParty
	}
	if err := e.distributeRevenue(listing); err != nil {
		return err
	}
	listing.TimeLastClaimed = e.now()
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(listingEvent{evt: NewClaimedEvent(listing)})
	return nil
}

// EndListing returns the asset to the lender and completes the loan. The
// borrower may end at any time; the lender must wait out the full period,
// capped at MaxPeriod regardless of the stored value.
func (e *Engine) EndListing(caller [20]byte, listingID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if err := e.validateEnd(caller, listing); err != nil {
		return err
	}
	return e.finishEnd(listing)
}

// ClaimAndEndListing distributes outstanding revenue and then completes the
// loan in one operation, under EndListing's caller and timing preconditions.
func (e *Engine) ClaimAndEndListing(caller [20]byte, listingID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if err := e.validateEnd(caller, listing); err != nil {
		return err
	}
	if err := e.distributeRevenue(listing); err != nil {
		return err
	}
	listing.TimeLastClaimed = e.now()
	e.emit(listingEvent{evt: NewClaimedEvent(listing)})
	return e.finishEnd(listing)
}

func (e *Engine) validateEnd(caller [20]byte, listing *Listing) error {
	if listing.TimeAgreed == 0 {
		return ErrNotMatched
	}
	if listing.Completed {
		return ErrCompleted
	}
	if caller != listing.Lender && caller != listing.Borrower {
		return ErrNotParty
	}
	if caller != listing.Borrower {
		period := listing.Period
		if period > MaxPeriod {
			period = MaxPeriod
		}
		if e.now() < listing.TimeAgreed+int64(period) {
			return ErrPeriodNotElapsed
		}
	}
	return nil
}

func (e *Engine) finishEnd(listing *Listing) error {
	if err := e.assets.SetLocked(listing.AssetID, false); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	if err := e.assets.Transfer(listing.Borrower, listing.Lender, listing.AssetID); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	if err := e.assets.SetOperator(listing.Borrower, listing.Lender, false); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	listing.Completed = true
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.state.AssetListingClear(listing.AssetID); err != nil {
		return err
	}
	if err := e.removeListNode(listing.Lender, listing.ID, StatusAgreed); err != nil {
		return err
	}
	if err := e.state.LentAssetRemove(listing.Lender, listing.AssetID); err != nil {
		return err
	}
	if err := e.releaseBorrowerSlot(listing.Borrower, listing.AssetID); err != nil {
		return err
	}
	e.emit(listingEvent{evt: NewEndedEvent(listing)})
	return nil
}

// ClaimAndRelistListing is reserved for a future release.
func (e *Engine) ClaimAndRelistListing(caller [20]byte, listingID uint64) error {
	return fmt.Errorf("%w: claim-and-relist", ErrNotImplemented)
}

// ClaimAndRenewListing is reserved for a future release.
func (e *Engine) ClaimAndRenewListing(caller [20]byte, listingID uint64) error {
	return fmt.Errorf("%w: claim-and-renew", ErrNotImplemented)
}

// GetListing returns a copy of the listing record.
func (e *Engine) GetListing(listingID uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// GetListingByAsset resolves the asset's current active listing.
func (e *Engine) GetListingByAsset(assetID uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	id, ok, err := e.state.AssetListingGet(assetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no active listing for asset %d", ErrNotFound, assetID)
	}
	return e.GetListing(id)
}

// IsListed reports whether the asset currently has an open or matched
// listing reachable through the asset index.
func (e *Engine) IsListed(assetID uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	_, ok, err := e.state.AssetListingGet(assetID)
	return ok, err
}

// IsActivelyLent reports whether the asset is currently out on a matched,
// unfinished loan.
func (e *Engine) IsActivelyLent(assetID uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	id, ok, err := e.state.AssetListingGet(assetID)
	if err != nil || !ok {
		return false, err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return false, err
	}
	return listing.Active(), nil
}

// GetAccessRight reads the per-asset permission bitmask for an action code.
func (e *Engine) GetAccessRight(assetID uint64, action uint16) (uint32, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	return e.state.AccessRightGet(assetID, action)
}

// SetAccessRight writes the per-asset permission bitmask. Only the asset's
// recorded owner may change it.
func (e *Engine) SetAccessRight(caller [20]byte, assetID uint64, action uint16, value uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	owner, err := e.assets.OwnerOf(assetID)
	if err != nil {
		return fmt.Errorf("%w: asset %d", ErrNotFound, assetID)
	}
	if owner != caller {
		return ErrNotOwner
	}
	return e.state.AccessRightSet(assetID, action, value)
}

// BatchCreateListings applies CreateListing to each parameter set in order.
// The first failure aborts the batch.
func (e *Engine) BatchCreateListings(caller [20]byte, params []CreateListingParams) ([]*Listing, error) {
	listings := make([]*Listing, 0, len(params))
	for i, p := range params {
		listing, err := e.CreateListing(caller, p)
		if err != nil {
			return nil, fmt.Errorf("batch create item %d: %w", i, err)
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// BatchAgreeListings applies AgreeListing to each parameter set in order.
func (e *Engine) BatchAgreeListings(caller [20]byte, params []AgreeListingParams) error {
	for i, p := range params {
		if err := e.AgreeListing(caller, p); err != nil {
			return fmt.Errorf("batch agree item %d: %w", i, err)
		}
	}
	return nil
}

// BatchCancelListings cancels each listing in order.
func (e *Engine) BatchCancelListings(caller [20]byte, listingIDs []uint64) error {
	for i, id := range listingIDs {
		if err := e.CancelListing(caller, id); err != nil {
			return fmt.Errorf("batch cancel item %d: %w", i, err)
		}
	}
	return nil
}

// BatchClaimRevenue claims revenue for each listing in order.
func (e *Engine) BatchClaimRevenue(caller [20]byte, listingIDs []uint64) error {
	for i, id := range listingIDs {
		if err := e.ClaimRevenue(caller, id); err != nil {
			return fmt.Errorf("batch claim item %d: %w", i, err)
		}
	}
	return nil
}

// BatchClaimAndEnd claims and ends each listing in order.
func (e *Engine) BatchClaimAndEnd(caller [20]byte, listingIDs []uint64) error {
	for i, id := range listingIDs {
		if err := e.ClaimAndEndListing(caller, id); err != nil {
			return fmt.Errorf("batch claim-and-end item %d: %w", i, err)
		}
	}
	return nil
}
