package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// Protocol-level codes.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeTooManyRequests = -32005
)

// Domain codes. One registry for every method so clients can branch on the
// code alone.
const (
	CodeUserNotFound        = 1000
	CodeTapsRejected        = 1001
	CodeUsersAroundFailed   = 1002
	CodeProfileUpdateFailed = 1006
	CodeTopReferralsFailed  = 1010
	CodeTopUsersFailed      = 1011
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Notification is a server-initiated frame without a correlation id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Success(id *int64, result any) Response {
	return Response{JSONRPC: Version, ID: id, Result: result}
}

func Failure(id *int64, err *Error) Response {
	return Response{JSONRPC: Version, ID: id, Error: err}
}
