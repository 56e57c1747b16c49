package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendchain/native/lending"
)

// The lending engine treats asset custody, token movement, escrow accounts
// and whitelists as external collaborators. This file provides the
// ledger-backed reference implementations living in the same state store.

// Asset is the registry record for a unique asset.
type Asset struct {
	ID         uint64
	Owner      [20]byte
	Status     lending.AssetStatus
	Locked     bool
	Collateral [20]byte
}

type storedAsset struct {
	ID         uint64
	Owner      [20]byte
	Status     uint8
	Locked     bool
	Collateral [20]byte
}

// AssetPut registers or replaces an asset record.
func (m *Manager) AssetPut(a *Asset) error {
	if a == nil {
		return fmt.Errorf("state: nil asset")
	}
	return m.putRLP(assetKey(a.ID), &storedAsset{
		ID:         a.ID,
		Owner:      a.Owner,
		Status:     uint8(a.Status),
		Locked:     a.Locked,
		Collateral: a.Collateral,
	})
}

// AssetGet loads an asset record.
func (m *Manager) AssetGet(assetID uint64) (*Asset, bool, error) {
	var stored storedAsset
	ok, err := m.getRLP(assetKey(assetID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Asset{
		ID:         stored.ID,
		Owner:      stored.Owner,
		Status:     lending.AssetStatus(stored.Status),
		Locked:     stored.Locked,
		Collateral: stored.Collateral,
	}, true, nil
}

func (m *Manager) loadAsset(assetID uint64) (*Asset, error) {
	asset, ok, err := m.AssetGet(assetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("state: asset %d not registered", assetID)
	}
	return asset, nil
}

// OwnerOf implements lending.AssetRegistry.
func (m *Manager) OwnerOf(assetID uint64) ([20]byte, error) {
	asset, err := m.loadAsset(assetID)
	if err != nil {
		return [20]byte{}, err
	}
	return asset.Owner, nil
}

// StatusOf implements lending.AssetRegistry.
func (m *Manager) StatusOf(assetID uint64) (lending.AssetStatus, error) {
	asset, err := m.loadAsset(assetID)
	if err != nil {
		return lending.AssetStatusUnknown, err
	}
	return asset.Status, nil
}

// IsLocked implements lending.AssetRegistry.
func (m *Manager) IsLocked(assetID uint64) (bool, error) {
	asset, err := m.loadAsset(assetID)
	if err != nil {
		return false, err
	}
	return asset.Locked, nil
}

// SetLocked implements lending.AssetRegistry. The lock only guards
// caller-facing surfaces; module-internal transfers are not blocked by it.
func (m *Manager) SetLocked(assetID uint64, locked bool) error {
	asset, err := m.loadAsset(assetID)
	if err != nil {
		return err
	}
	asset.Locked = locked
	return m.AssetPut(asset)
}

// Transfer implements lending.AssetRegistry.
func (m *Manager) Transfer(from, to [20]byte, assetID uint64) error {
	asset, err := m.loadAsset(assetID)
	if err != nil {
		return err
	}
	if asset.Owner != from {
		return fmt.Errorf("state: asset %d not owned by sender", assetID)
	}
	asset.Owner = to
	return m.AssetPut(asset)
}

// SetOperator implements lending.AssetRegistry.
func (m *Manager) SetOperator(owner, operator [20]byte, approved bool) error {
	if approved {
		return m.putMarker(operatorKey(owner, operator))
	}
	return m.db.Delete(operatorKey(owner, operator))
}

// IsOperator reports whether the operator is approved for the owner.
func (m *Manager) IsOperator(owner, operator [20]byte) (bool, error) {
	return m.hasMarker(operatorKey(owner, operator))
}

// TokenBalance reads an account's balance of a fungible token.
func (m *Manager) TokenBalance(token, addr [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.getRLP(balanceKey(token, addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (m *Manager) setTokenBalance(token, addr [20]byte, amount *big.Int) error {
	return m.putRLP(balanceKey(token, addr), amount)
}

// TokenMint credits freshly issued tokens to an account. It backs genesis
// seeding and the test fixtures.
func (m *Manager) TokenMint(token, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: mint amount must be non-negative")
	}
	balance, err := m.TokenBalance(token, addr)
	if err != nil {
		return err
	}
	return m.setTokenBalance(token, addr, new(big.Int).Add(balance, amount))
}

// TokenApprove grants the spender a transfer allowance over the owner's
// balance of the token.
func (m *Manager) TokenApprove(token, owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: allowance must be non-negative")
	}
	return m.putRLP(allowanceKey(token, owner, spender), amount)
}

// TokenAllowance reads the spender's remaining allowance.
func (m *Manager) TokenAllowance(token, owner, spender [20]byte) (*big.Int, error) {
	allowance := new(big.Int)
	ok, err := m.getRLP(allowanceKey(token, owner, spender), allowance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// TransferFrom implements lending.TokenMover. Pulls from any account other
// than the module itself consume the allowance granted to the module, and
// the transfer is rejected outright when balance or allowance fall short.
func (m *Manager) TransferFrom(token [20]byte, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := m.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("state: insufficient token balance")
	}
	if from != m.module {
		allowance, err := m.TokenAllowance(token, from, m.module)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("state: insufficient token allowance")
		}
		if err := m.TokenApprove(token, from, m.module, new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
	}
	toBal, err := m.TokenBalance(token, to)
	if err != nil {
		return err
	}
	if err := m.setTokenBalance(token, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.setTokenBalance(token, to, new(big.Int).Add(toBal, amount))
}

var escrowVaultSeed = []byte("lendchain/escrow/vault")

// EscrowAddress derives the deterministic ledger address of an asset's
// escrow vault.
func EscrowAddress(assetID uint64) [20]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], assetID)
	digest := ethcrypto.Keccak256(escrowVaultSeed, buf[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// Address implements lending.EscrowVault.
func (m *Manager) Address(assetID uint64) ([20]byte, error) {
	return EscrowAddress(assetID), nil
}

// BalanceOf implements lending.EscrowVault.
func (m *Manager) BalanceOf(assetID uint64, token [20]byte) (*big.Int, error) {
	return m.TokenBalance(token, EscrowAddress(assetID))
}

// Allowance implements lending.EscrowVault.
func (m *Manager) Allowance(assetID uint64, token [20]byte, spender [20]byte) (*big.Int, error) {
	return m.TokenAllowance(token, EscrowAddress(assetID), spender)
}

// Approve implements lending.EscrowVault.
func (m *Manager) Approve(assetID uint64, token [20]byte, spender [20]byte, amount *big.Int) error {
	return m.TokenApprove(token, EscrowAddress(assetID), spender, amount)
}

// CollateralToken implements lending.EscrowVault.
func (m *Manager) CollateralToken(assetID uint64) ([20]byte, error) {
	asset, err := m.loadAsset(assetID)
	if err != nil {
		return [20]byte{}, err
	}
	return asset.Collateral, nil
}

// EscrowCredit deposits revenue into an asset's escrow vault.
func (m *Manager) EscrowCredit(assetID uint64, token [20]byte, amount *big.Int) error {
	return m.TokenMint(token, EscrowAddress(assetID), amount)
}

type storedWhitelist struct {
	ID       uint32
	NextRank uint32
}

// WhitelistCreate registers an empty whitelist under the identifier.
// Creating an existing list is an error; identifier zero means "open to
// anyone" and cannot be created.
func (m *Manager) WhitelistCreate(listID uint32) error {
	if listID == 0 {
		return fmt.Errorf("state: whitelist id must be nonzero")
	}
	exists, err := m.hasMarker(whitelistKey(listID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("state: whitelist %d already exists", listID)
	}
	return m.putRLP(whitelistKey(listID), &storedWhitelist{ID: listID, NextRank: 1})
}

// WhitelistAdd appends a member, assigning the next rank. Re-adding a member
// keeps the original rank.
func (m *Manager) WhitelistAdd(listID uint32, addr [20]byte) error {
	var list storedWhitelist
	ok, err := m.getRLP(whitelistKey(listID), &list)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("state: whitelist %d does not exist", listID)
	}
	var rank uint32
	if ok, err := m.getRLP(whitelistMemberKey(listID, addr), &rank); err != nil {
		return err
	} else if ok && rank != 0 {
		return nil
	}
	if err := m.putRLP(whitelistMemberKey(listID, addr), list.NextRank); err != nil {
		return err
	}
	list.NextRank++
	return m.putRLP(whitelistKey(listID), &list)
}

// Exists implements lending.WhitelistView.
func (m *Manager) Exists(listID uint32) (bool, error) {
	return m.hasMarker(whitelistKey(listID))
}

// IsMember implements lending.WhitelistView. The returned rank is zero for
// non-members.
func (m *Manager) IsMember(listID uint32, addr [20]byte) (uint32, error) {
	var rank uint32
	ok, err := m.getRLP(whitelistMemberKey(listID, addr), &rank)
	if err != nil || !ok {
		return 0, err
	}
	return rank, nil
}
