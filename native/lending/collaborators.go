package lending

import "math/big"

// AssetRegistry abstracts the external registry that custodies the unique
// assets being lent. Transfers and lock toggles revert by returning an error;
// the engine aborts the surrounding operation when they do.
type AssetRegistry interface {
	OwnerOf(assetID uint64) ([20]byte, error)
	StatusOf(assetID uint64) (AssetStatus, error)
	IsLocked(assetID uint64) (bool, error)
	SetLocked(assetID uint64, locked bool) error
	Transfer(from, to [20]byte, assetID uint64) error
	SetOperator(owner, operator [20]byte, approved bool) error
}

// TokenMover moves fungible tokens between accounts on behalf of the lending
// module. Implementations must reject transfers exceeding the sender balance
// or the allowance granted to the module.
type TokenMover interface {
	TransferFrom(token [20]byte, from, to [20]byte, amount *big.Int) error
}

// EscrowVault exposes the per-asset custodial account that accumulates
// revenue while an asset is on loan. Address returns the ledger address the
// vault's balances live under so distributions can be routed through the
// TokenMover.
type EscrowVault interface {
	Address(assetID uint64) ([20]byte, error)
	BalanceOf(assetID uint64, token [20]byte) (*big.Int, error)
	Allowance(assetID uint64, token [20]byte, spender [20]byte) (*big.Int, error)
	Approve(assetID uint64, token [20]byte, spender [20]byte, amount *big.Int) error
	CollateralToken(assetID uint64) ([20]byte, error)
}

// WhitelistView resolves listing allow-lists. IsMember returns the member's
// rank, with zero meaning "not a member".
type WhitelistView interface {
	Exists(listID uint32) (bool, error)
	IsMember(listID uint32, addr [20]byte) (uint32, error)
}
