package lending

import (
	"fmt"
	"math/big"
)

var splitDenominator = big.NewInt(splitTotal)

// splitShare computes floor(balance * pct / 100). Truncation remainders stay
// in escrow and accumulate toward the next claim.
func splitShare(balance *big.Int, pct uint8) *big.Int {
	share := new(big.Int).Mul(balance, big.NewInt(int64(pct)))
	return share.Quo(share, splitDenominator)
}

// distributeRevenue walks the listing's revenue tokens and pays out each
// escrowed balance according to the stored split. The asset's collateral
// token is excluded: it represents backing value, not yield. Zero-amount
// transfers are skipped entirely.
func (e *Engine) distributeRevenue(listing *Listing) error {
	collateral, err := e.escrow.CollateralToken(listing.AssetID)
	if err != nil {
		return err
	}
	vault, err := e.escrow.Address(listing.AssetID)
	if err != nil {
		return err
	}
	ownerRecipient := listing.OriginalOwner
	if ownerRecipient == ([20]byte{}) {
		ownerRecipient = listing.Lender
	}
	for _, token := range listing.RevenueTokens {
		if token == collateral {
			continue
		}
		balance, err := e.escrow.BalanceOf(listing.AssetID, token)
		if err != nil {
			return err
		}
		if balance == nil || balance.Sign() == 0 {
			continue
		}
		ownerAmt := splitShare(balance, listing.Split.Owner)
		borrowerAmt := splitShare(balance, listing.Split.Borrower)
		thirdAmt := big.NewInt(0)
		if listing.ThirdParty != ([20]byte{}) {
			thirdAmt = splitShare(balance, listing.Split.ThirdParty)
		}
		total := new(big.Int).Add(ownerAmt, borrowerAmt)
		total.Add(total, thirdAmt)
		if total.Sign() == 0 {
			continue
		}
		if err := e.ensureEscrowAllowance(listing.AssetID, token, total); err != nil {
			return err
		}
		payouts := []struct {
			to     [20]byte
			amount *big.Int
		}{
			{ownerRecipient, ownerAmt},
			{listing.Borrower, borrowerAmt},
			{listing.ThirdParty, thirdAmt},
		}
		for _, p := range payouts {
			if p.amount.Sign() == 0 {
				continue
			}
			if err := e.tokens.TransferFrom(token, vault, p.to, p.amount); err != nil {
				return fmt.Errorf("%w: %v", ErrTransferFailure, err)
			}
		}
	}
	return nil
}

// ensureEscrowAllowance tops up the vault's transfer allowance toward the
// module when the current grant cannot cover the pending distribution.
func (e *Engine) ensureEscrowAllowance(assetID uint64, token [20]byte, needed *big.Int) error {
	current, err := e.escrow.Allowance(assetID, token, e.moduleAddress)
	if err != nil {
		return err
	}
	if current != nil && current.Cmp(needed) >= 0 {
		return nil
	}
	return e.escrow.Approve(assetID, token, e.moduleAddress, needed)
}
