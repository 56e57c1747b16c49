package lending

// A borrower may hold at most one active loan. The slot is an explicit
// occupancy record rather than the historical assetId+1 sentinel, so
// "no loan" and "loan of asset id zero" stay distinguishable without
// magic-number arithmetic.

func (e *Engine) isBorrowing(borrower [20]byte) (bool, error) {
	_, occupied, err := e.state.BorrowerSlotGet(borrower)
	return occupied, err
}

func (e *Engine) addBorrowerSlot(borrower [20]byte, assetID uint64) error {
	if _, occupied, err := e.state.BorrowerSlotGet(borrower); err != nil {
		return err
	} else if occupied {
		return ErrAlreadyBorrowing
	}
	return e.state.BorrowerSlotSet(borrower, assetID)
}

// releaseBorrowerSlot clears the slot only when it is attributed to the
// given asset. Loans that predate the tracker never wrote a slot, so a
// mismatched or missing record is left untouched instead of clearing some
// other loan's claim.
func (e *Engine) releaseBorrowerSlot(borrower [20]byte, assetID uint64) error {
	stored, occupied, err := e.state.BorrowerSlotGet(borrower)
	if err != nil {
		return err
	}
	if !occupied || stored != assetID {
		return nil
	}
	return e.state.BorrowerSlotClear(borrower)
}

// IsBorrowing reports whether the address currently holds a loan slot.
func (e *Engine) IsBorrowing(borrower [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.isBorrowing(borrower)
}
