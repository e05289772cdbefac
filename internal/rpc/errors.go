package rpc

import (
	"context"
	"errors"
	"strings"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/protocol"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
)

const internalMessage = "Internal error"

// MapError turns any handler failure into a protocol error. Protocol and
// domain errors pass through, procedure replies keep only their message and
// any other failure becomes a bare internal error.
func MapError(err error) *protocol.Error {
	if err == nil {
		return protocol.NewError(protocol.CodeInternalError, "Unknown error")
	}
	var rpcErr *protocol.Error
	if errors.As(err, &rpcErr) && rpcErr != nil {
		return rpcErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewError(protocol.CodeInternalError, "Request timeout")
	}
	var procErr *store.ProcError
	if errors.As(err, &procErr) {
		return protocol.NewError(protocol.CodeInternalError, scrub(procErr.Error()))
	}
	return protocol.NewError(protocol.CodeInternalError, internalMessage)
}

// scrub drops the "StoreError: <proc>:<code>:" header of a store reply error.
func scrub(msg string) string {
	i := strings.Index(msg, store.ProcErrorPrefix)
	if i < 0 {
		return msg
	}
	parts := strings.Split(msg[i:], ":")
	if len(parts) <= 3 {
		return internalMessage
	}
	rest := strings.TrimPrefix(strings.Join(parts[3:], ":"), " ")
	if rest == "" {
		return internalMessage
	}
	return rest
}
