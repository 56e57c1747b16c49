package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"lendchain/core/state"
	"lendchain/crypto"
	nativecommon "lendchain/native/common"
	"lendchain/native/lending"
)

const (
	codeLendingInvalidParams = -32021
	codeLendingNotFound      = -32022
	codeLendingForbidden     = -32023
	codeLendingConflict      = -32024
	codeLendingInternal      = -32025
	codeLendingUnimplemented = -32026
)

type splitParam struct {
	Owner      uint8 `json:"owner"`
	Borrower   uint8 `json:"borrower"`
	ThirdParty uint8 `json:"thirdParty"`
}

type createListingParams struct {
	Caller        string     `json:"caller"`
	AssetID       uint64     `json:"assetId"`
	InitialCost   string     `json:"initialCost"`
	Period        uint32     `json:"period"`
	Split         splitParam `json:"split"`
	OriginalOwner string     `json:"originalOwner"`
	ThirdParty    string     `json:"thirdParty,omitempty"`
	WhitelistID   uint32     `json:"whitelistId,omitempty"`
	RevenueTokens []string   `json:"revenueTokens,omitempty"`
}

type agreeListingParams struct {
	Caller      string     `json:"caller"`
	ListingID   uint64     `json:"listingId"`
	AssetID     uint64     `json:"assetId"`
	InitialCost string     `json:"initialCost"`
	Period      uint32     `json:"period"`
	Split       splitParam `json:"split"`
}

type listingIDParams struct {
	Caller    string `json:"caller"`
	ListingID uint64 `json:"listingId"`
}

type listingIDsParams struct {
	Caller     string   `json:"caller"`
	ListingIDs []uint64 `json:"listingIds"`
}

type assetIDParams struct {
	Caller  string `json:"caller,omitempty"`
	AssetID uint64 `json:"assetId"`
}

type accessRightParams struct {
	Caller  string `json:"caller,omitempty"`
	AssetID uint64 `json:"assetId"`
	Action  uint16 `json:"action"`
	Value   uint32 `json:"value,omitempty"`
}

type registerAssetParams struct {
	AssetID    uint64 `json:"assetId"`
	Owner      string `json:"owner"`
	Status     uint8  `json:"status"`
	Collateral string `json:"collateral,omitempty"`
}

type tokenTransferParams struct {
	Token  string `json:"token"`
	To     string `json:"to,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Amount string `json:"amount"`
}

type escrowCreditParams struct {
	AssetID uint64 `json:"assetId"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type whitelistParams struct {
	ListID uint32 `json:"listId"`
	Member string `json:"member,omitempty"`
}

type listingJSON struct {
	ListingID       uint64     `json:"listingId"`
	AssetID         uint64     `json:"assetId"`
	Lender          string     `json:"lender"`
	Borrower        string     `json:"borrower,omitempty"`
	OriginalOwner   string     `json:"originalOwner"`
	ThirdParty      string     `json:"thirdParty,omitempty"`
	InitialCost     string     `json:"initialCost"`
	Period          uint32     `json:"period"`
	Split           splitParam `json:"split"`
	WhitelistID     uint32     `json:"whitelistId,omitempty"`
	RevenueTokens   []string   `json:"revenueTokens,omitempty"`
	TimeCreated     int64      `json:"timeCreated"`
	TimeAgreed      int64      `json:"timeAgreed,omitempty"`
	TimeLastClaimed int64      `json:"timeLastClaimed,omitempty"`
	Canceled        bool       `json:"canceled"`
	Completed       bool       `json:"completed"`
}

func listingToJSON(l *lending.Listing) *listingJSON {
	out := &listingJSON{
		ListingID:     l.ID,
		AssetID:       l.AssetID,
		Lender:        crypto.MustEncode(l.Lender),
		OriginalOwner: crypto.MustEncode(l.OriginalOwner),
		InitialCost:   l.InitialCost.String(),
		Period:        l.Period,
		Split: splitParam{
			Owner:      l.Split.Owner,
			Borrower:   l.Split.Borrower,
			ThirdParty: l.Split.ThirdParty,
		},
		WhitelistID:     l.WhitelistID,
		TimeCreated:     l.TimeCreated,
		TimeAgreed:      l.TimeAgreed,
		TimeLastClaimed: l.TimeLastClaimed,
		Canceled:        l.Canceled,
		Completed:       l.Completed,
	}
	if l.Borrower != ([20]byte{}) {
		out.Borrower = crypto.MustEncode(l.Borrower)
	}
	if l.ThirdParty != ([20]byte{}) {
		out.ThirdParty = crypto.MustEncode(l.ThirdParty)
	}
	for _, token := range l.RevenueTokens {
		out.RevenueTokens = append(out.RevenueTokens, crypto.MustEncode(token))
	}
	return out
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

// parseOptionalAddress accepts an empty string as the zero address.
func parseOptionalAddress(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, nil
	}
	return parseAddress(value)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, data interface{}) {
	writeError(w, http.StatusBadRequest, id, codeLendingInvalidParams, "invalid_params", data)
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, lending.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeLendingNotFound, "not_found", err.Error())
	case errors.Is(err, lending.ErrInvalidParameters):
		writeError(w, http.StatusBadRequest, id, codeLendingInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, lending.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, id, codeLendingForbidden, "forbidden", err.Error())
	case errors.Is(err, lending.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, id, codeLendingUnimplemented, "not_implemented", err.Error())
	case errors.Is(err, lending.ErrAlreadyMatched),
		errors.Is(err, lending.ErrCanceled),
		errors.Is(err, lending.ErrCompleted),
		errors.Is(err, lending.ErrNotMatched),
		errors.Is(err, lending.ErrPeriodNotElapsed),
		errors.Is(err, lending.ErrAssetLocked),
		errors.Is(err, lending.ErrAlreadyBorrowing),
		errors.Is(err, lending.ErrTransferFailure),
		errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusConflict, id, codeLendingConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeLendingInternal, "internal_error", err.Error())
	}
}

func buildCreateParams(p createListingParams) (caller [20]byte, out lending.CreateListingParams, err error) {
	caller, err = parseAddress(p.Caller)
	if err != nil {
		return caller, out, err
	}
	originalOwner, err := parseOptionalAddress(p.OriginalOwner)
	if err != nil {
		return caller, out, err
	}
	thirdParty, err := parseOptionalAddress(p.ThirdParty)
	if err != nil {
		return caller, out, err
	}
	cost, err := parseAmount(p.InitialCost)
	if err != nil {
		return caller, out, err
	}
	tokens := make([][20]byte, 0, len(p.RevenueTokens))
	for _, raw := range p.RevenueTokens {
		token, err := parseAddress(raw)
		if err != nil {
			return caller, out, err
		}
		tokens = append(tokens, token)
	}
	out = lending.CreateListingParams{
		AssetID:       p.AssetID,
		InitialCost:   cost,
		Period:        p.Period,
		Split:         lending.RevenueSplit{Owner: p.Split.Owner, Borrower: p.Split.Borrower, ThirdParty: p.Split.ThirdParty},
		OriginalOwner: originalOwner,
		ThirdParty:    thirdParty,
		WhitelistID:   p.WhitelistID,
		RevenueTokens: tokens,
	}
	return caller, out, nil
}

func (s *Server) handleCreateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createListingParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, engineParams, err := buildCreateParams(params)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	listing, err := s.node.CreateListing(caller, engineParams)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleBatchCreateListings(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Caller   string                `json:"caller"`
		Listings []createListingParams `json:"listings"`
	}
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	engineParams := make([]lending.CreateListingParams, 0, len(params.Listings))
	for _, item := range params.Listings {
		item.Caller = params.Caller
		_, p, err := buildCreateParams(item)
		if err != nil {
			writeInvalidParams(w, req.ID, err.Error())
			return
		}
		engineParams = append(engineParams, p)
	}
	listings, err := s.node.BatchCreateListings(caller, engineParams)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	out := make([]*listingJSON, 0, len(listings))
	for _, listing := range listings {
		out = append(out, listingToJSON(listing))
	}
	writeResult(w, req.ID, out)
}

func buildAgreeParams(p agreeListingParams) (caller [20]byte, out lending.AgreeListingParams, err error) {
	caller, err = parseAddress(p.Caller)
	if err != nil {
		return caller, out, err
	}
	cost, err := parseAmount(p.InitialCost)
	if err != nil {
		return caller, out, err
	}
	out = lending.AgreeListingParams{
		ListingID:   p.ListingID,
		AssetID:     p.AssetID,
		InitialCost: cost,
		Period:      p.Period,
		Split:       lending.RevenueSplit{Owner: p.Split.Owner, Borrower: p.Split.Borrower, ThirdParty: p.Split.ThirdParty},
	}
	return caller, out, nil
}

func (s *Server) handleAgreeListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params agreeListingParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, engineParams, err := buildAgreeParams(params)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.AgreeListing(caller, engineParams); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"agreed": true})
}

func (s *Server) handleBatchAgreeListings(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Caller     string               `json:"caller"`
		Agreements []agreeListingParams `json:"agreements"`
	}
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	engineParams := make([]lending.AgreeListingParams, 0, len(params.Agreements))
	for _, item := range params.Agreements {
		item.Caller = params.Caller
		_, p, err := buildAgreeParams(item)
		if err != nil {
			writeInvalidParams(w, req.ID, err.Error())
			return
		}
		engineParams = append(engineParams, p)
	}
	if err := s.node.BatchAgreeListings(caller, engineParams); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"agreed": true})
}

func (s *Server) callerListingOp(w http.ResponseWriter, req *RPCRequest, op func([20]byte, uint64) error, resultKey string) {
	var params listingIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := op(caller, params.ListingID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{resultKey: true})
}

func (s *Server) callerBatchOp(w http.ResponseWriter, req *RPCRequest, op func([20]byte, []uint64) error, resultKey string) {
	var params listingIDsParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := op(caller, params.ListingIDs); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{resultKey: true})
}

func (s *Server) handleCancelListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerListingOp(w, req, s.node.CancelListing, "canceled")
}

func (s *Server) handleCancelListingByAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params assetIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.CancelListingByAsset(caller, params.AssetID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"canceled": true})
}

func (s *Server) handleBatchCancelListings(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerBatchOp(w, req, s.node.BatchCancelListings, "canceled")
}

func (s *Server) handleClaimRevenue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerListingOp(w, req, s.node.ClaimRevenue, "claimed")
}

func (s *Server) handleBatchClaimRevenue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerBatchOp(w, req, s.node.BatchClaimRevenue, "claimed")
}

func (s *Server) handleEndListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerListingOp(w, req, s.node.EndListing, "ended")
}

func (s *Server) handleClaimAndEndListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerListingOp(w, req, s.node.ClaimAndEndListing, "ended")
}

func (s *Server) handleBatchClaimAndEnd(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerBatchOp(w, req, s.node.BatchClaimAndEnd, "ended")
}

func (s *Server) handleClaimAndRelist(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerListingOp(w, req, s.node.ClaimAndRelistListing, "relisted")
}

func (s *Server) handleClaimAndRenew(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.callerListingOp(w, req, s.node.ClaimAndRenewListing, "renewed")
}

func (s *Server) handleGetListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listingIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	listing, err := s.node.GetListing(params.ListingID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleGetListingByAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params assetIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	listing, err := s.node.GetListingByAsset(params.AssetID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleIsListed(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params assetIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	listed, err := s.node.IsListed(params.AssetID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"listed": listed})
}

func (s *Server) handleIsActivelyLent(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params assetIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	lent, err := s.node.IsActivelyLent(params.AssetID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"activelyLent": lent})
}

func (s *Server) handleGetAccessRight(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accessRightParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	value, err := s.node.GetAccessRight(params.AssetID, params.Action)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint32{"value": value})
}

func (s *Server) handleSetAccessRight(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accessRightParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.SetAccessRight(caller, params.AssetID, params.Action, params.Value); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"set": true})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Events())
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registerAssetParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	collateral, err := parseOptionalAddress(params.Collateral)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	asset := &state.Asset{
		ID:         params.AssetID,
		Owner:      owner,
		Status:     lending.AssetStatus(params.Status),
		Collateral: collateral,
	}
	if err := s.node.RegisterAsset(asset); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"registered": true})
}

func (s *Server) handleMintToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenTransferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.MintToken(token, to, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"minted": true})
}

func (s *Server) handleApproveToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenTransferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	// Approvals always target the lending module spender.
	if err := s.node.ApproveToken(token, owner, s.node.State().ModuleSpender(), amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"approved": true})
}

func (s *Server) handleEscrowCredit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowCreditParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.EscrowCredit(params.AssetID, token, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"credited": true})
}

func (s *Server) handleAllowRevenueToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenTransferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.AllowRevenueToken(token); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"allowed": true})
}

func (s *Server) handleCreateWhitelist(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params whitelistParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.CreateWhitelist(params.ListID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"created": true})
}

func (s *Server) handleAddWhitelistMember(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params whitelistParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	member, err := parseAddress(params.Member)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.AddWhitelistMember(params.ListID, member); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"added": true})
}
