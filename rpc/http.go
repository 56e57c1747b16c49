package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"lendchain/core"
	"lendchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the lending node over JSON-RPC 2.0.
type Server struct {
	node      *core.Node
	authToken string
}

// NewServer constructs a server around the node. Mutating methods require a
// bearer token when one is configured (flag value or LENDCHAIN_RPC_TOKEN).
func NewServer(node *core.Node, authToken string) *Server {
	if strings.TrimSpace(authToken) == "" {
		authToken = strings.TrimSpace(os.Getenv("LENDCHAIN_RPC_TOKEN"))
	}
	return &Server{node: node, authToken: authToken}
}

// Start serves JSON-RPC requests on addr until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler returns the HTTP handler for embedding in custom servers and tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

type rpcHandler struct {
	fn        func(http.ResponseWriter, *http.Request, *RPCRequest)
	protected bool
}

func (s *Server) methods() map[string]rpcHandler {
	return map[string]rpcHandler{
		"lending_createListing":        {fn: s.handleCreateListing, protected: true},
		"lending_batchCreateListings":  {fn: s.handleBatchCreateListings, protected: true},
		"lending_agreeListing":         {fn: s.handleAgreeListing, protected: true},
		"lending_batchAgreeListings":   {fn: s.handleBatchAgreeListings, protected: true},
		"lending_cancelListing":        {fn: s.handleCancelListing, protected: true},
		"lending_cancelListingByAsset": {fn: s.handleCancelListingByAsset, protected: true},
		"lending_batchCancelListings":  {fn: s.handleBatchCancelListings, protected: true},
		"lending_claimRevenue":         {fn: s.handleClaimRevenue, protected: true},
		"lending_batchClaimRevenue":    {fn: s.handleBatchClaimRevenue, protected: true},
		"lending_endListing":           {fn: s.handleEndListing, protected: true},
		"lending_claimAndEndListing":   {fn: s.handleClaimAndEndListing, protected: true},
		"lending_batchClaimAndEnd":     {fn: s.handleBatchClaimAndEnd, protected: true},
		"lending_claimAndRelist":       {fn: s.handleClaimAndRelist, protected: true},
		"lending_claimAndRenew":        {fn: s.handleClaimAndRenew, protected: true},
		"lending_getListing":           {fn: s.handleGetListing},
		"lending_getListingByAsset":    {fn: s.handleGetListingByAsset},
		"lending_isListed":             {fn: s.handleIsListed},
		"lending_isActivelyLent":       {fn: s.handleIsActivelyLent},
		"lending_getAccessRight":       {fn: s.handleGetAccessRight},
		"lending_setAccessRight":       {fn: s.handleSetAccessRight, protected: true},
		"lending_events":               {fn: s.handleEvents},
		"lending_registerAsset":        {fn: s.handleRegisterAsset, protected: true},
		"lending_mintToken":            {fn: s.handleMintToken, protected: true},
		"lending_approveToken":         {fn: s.handleApproveToken, protected: true},
		"lending_escrowCredit":         {fn: s.handleEscrowCredit, protected: true},
		"lending_allowRevenueToken":    {fn: s.handleAllowRevenueToken, protected: true},
		"lending_createWhitelist":      {fn: s.handleCreateWhitelist, protected: true},
		"lending_addWhitelistMember":   {fn: s.handleAddWhitelistMember, protected: true},
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if handler.protected {
		if authErr := s.requireAuth(r); authErr != nil {
			observability.ModuleMetrics().ObserveError(req.Method, strconv.Itoa(authErr.Code))
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	start := time.Now()
	handler.fn(&statusRecorder{ResponseWriter: w, method: req.Method, start: start}, r, req)
}

// statusRecorder feeds handler outcomes into the module metrics.
type statusRecorder struct {
	http.ResponseWriter
	method   string
	start    time.Time
	recorded bool
}

func (sr *statusRecorder) WriteHeader(status int) {
	if !sr.recorded {
		sr.recorded = true
		outcome := "ok"
		if status >= 400 {
			outcome = "error"
		}
		observability.ModuleMetrics().ObserveRequest(sr.method, outcome, sr.start)
	}
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.recorded {
		sr.recorded = true
		observability.ModuleMetrics().ObserveRequest(sr.method, "ok", sr.start)
	}
	return sr.ResponseWriter.Write(b)
}
