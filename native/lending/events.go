package lending

import (
	"encoding/hex"
	"strconv"

	"lendchain/core/types"
)

const (
	EventTypeListingCreated  = "lending.created"
	EventTypeListingAgreed   = "lending.agreed"
	EventTypeListingCanceled = "lending.canceled"
	EventTypeListingClaimed  = "lending.claimed"
	EventTypeListingEnded    = "lending.ended"
)

type listingEvent struct {
	evt *types.Event
}

func (e listingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e listingEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical payload for a freshly opened listing.
func NewCreatedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingCreated, l) }

// NewAgreedEvent returns the payload emitted when a borrower matches a
// listing.
func NewAgreedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingAgreed, l) }

// NewCanceledEvent returns the payload emitted when an open listing is
// retired.
func NewCanceledEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingCanceled, l) }

// NewClaimedEvent returns the payload emitted after a revenue distribution.
func NewClaimedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingClaimed, l) }

// NewEndedEvent returns the payload emitted when a loan completes.
func NewEndedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingEnded, l) }

func newListingEvent(eventType string, l *Listing) *types.Event {
	if l == nil {
		return &types.Event{Type: eventType, Attributes: map[string]string{}}
	}
	attrs := map[string]string{
		"listingId": strconv.FormatUint(l.ID, 10),
		"assetId":   strconv.FormatUint(l.AssetID, 10),
		"lender":    hex.EncodeToString(l.Lender[:]),
	}
	if l.Borrower != ([20]byte{}) {
		attrs["borrower"] = hex.EncodeToString(l.Borrower[:])
	}
	if l.InitialCost != nil {
		attrs["initialCost"] = l.InitialCost.String()
	}
	if l.TimeAgreed != 0 {
		attrs["timeAgreed"] = strconv.FormatInt(l.TimeAgreed, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
