package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/nondejus/lbrycrd/core/claimquery"
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
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
	codeDeprecated     = -32030
)

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

// errorCode maps a query failure to the wire code space. Parameter
// problems and deprecation gates get their own codes; everything else is
// a server error whose message carries the detail.
func errorCode(err error) int {
	switch claimquery.KindOf(err) {
	case claimquery.InvalidArgument:
		return codeInvalidParams
	case claimquery.Deprecated:
		return codeDeprecated
	default:
		return codeServerError
	}
}

func errorResponse(id interface{}, code int, message string, data interface{}) *RPCResponse {
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	return &RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
}

func resultResponse(id interface{}, result interface{}) *RPCResponse {
	return &RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
}

func writeResponse(w http.ResponseWriter, status int, resp *RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
