// Package rpc routes JSON-RPC request frames to the gateway operations.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/observe"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/protocol"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
)

type Method string

const (
	MethodPing            Method = "ping"
	MethodGetUser         Method = "getUser"
	MethodSendTaps        Method = "sendTaps"
	MethodUpdateProfile   Method = "updateProfile"
	MethodGetTopUsers     Method = "getTopUsers"
	MethodGetTopReferrals Method = "getTopReferrals"
	MethodGetUsersAround  Method = "getUsersAround"
)

const DefaultTimeout = 5 * time.Second

// maxExactID is the largest integer a float64 id can carry without rounding.
const maxExactID = 1 << 53

type invocation func(ctx context.Context, identity string) (any, error)

// entry validates params and binds them to a handler.
type entry struct {
	bind func(raw json.RawMessage) (invocation, error)
}

func route[P any](decode func(json.RawMessage) (P, error), handle func(context.Context, string, P) (any, error)) entry {
	return entry{bind: func(raw json.RawMessage) (invocation, error) {
		p, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, identity string) (any, error) {
			return handle(ctx, identity, p)
		}, nil
	}}
}

type Options struct {
	// Timeout bounds one handler call. Zero uses DefaultTimeout.
	Timeout time.Duration
	// SuppressNotificationErrors drops error frames for requests without id.
	SuppressNotificationErrors bool
}

type Dispatcher struct {
	table map[Method]entry
	opts  Options
}

func NewDispatcher(st store.Store, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	h := &handlers{store: st}
	return &Dispatcher{
		opts: opts,
		table: map[Method]entry{
			MethodPing:            route(anyParams, h.ping),
			MethodGetUser:         route(noParams, h.getUser),
			MethodSendTaps:        route(tapsParams, h.sendTaps),
			MethodUpdateProfile:   route(profilePatch, h.updateProfile),
			MethodGetTopUsers:     route(limitParam, h.getTopUsers),
			MethodGetTopReferrals: route(limitParam, h.getTopReferrals),
			MethodGetUsersAround:  route(limitParam, h.getUsersAround),
		},
	}
}

// Outcome is the result of one dispatched frame.
type Outcome struct {
	Method   string
	Response protocol.Response
	// Reply is false when no frame should be written back.
	Reply bool
}

// Dispatch processes one inbound frame on behalf of identity.
func (d *Dispatcher) Dispatch(ctx context.Context, identity string, frame []byte) Outcome {
	start := time.Now()
	req, perr := decodeRequest(frame)
	if perr != nil {
		observe.RecordRPC("", "parse_error", time.Since(start))
		return d.outcome(req, protocol.Failure(req.ID, perr))
	}

	e, ok := d.table[Method(req.Method)]
	if !ok {
		observe.RecordRPC("unknown", "method_not_found", time.Since(start))
		return d.outcome(req, protocol.Failure(req.ID, protocol.NewError(protocol.CodeMethodNotFound, "Method "+req.Method+" not found")))
	}

	call, err := e.bind(req.Params)
	if err != nil {
		observe.RecordRPC(req.Method, "invalid_params", time.Since(start))
		return d.outcome(req, protocol.Failure(req.ID, protocol.NewError(protocol.CodeInvalidParams, "Invalid params: "+err.Error())))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	result, err := call(callCtx, identity)
	if err != nil {
		rpcErr := MapError(err)
		if rpcErr.Code == protocol.CodeInternalError {
			log.Warn().Err(err).Str("method", req.Method).Str("user_id", identity).Msg("rpc_call_failed")
		}
		observe.RecordRPC(req.Method, "error", time.Since(start))
		return d.outcome(req, protocol.Failure(req.ID, rpcErr))
	}
	observe.RecordRPC(req.Method, "ok", time.Since(start))
	return d.outcome(req, protocol.Success(req.ID, result))
}

func (d *Dispatcher) outcome(req protocol.Request, resp protocol.Response) Outcome {
	reply := true
	if req.ID == nil {
		reply = resp.Error != nil && !d.opts.SuppressNotificationErrors
	}
	return Outcome{Method: req.Method, Response: resp, Reply: reply}
}

// wireRequest keeps the id raw so that any integral JSON number is accepted.
type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func decodeRequest(frame []byte) (protocol.Request, *protocol.Error) {
	var wire wireRequest
	if err := json.Unmarshal(frame, &wire); err != nil {
		return protocol.Request{ID: PeekID(frame)}, protocol.NewError(protocol.CodeParseError, "Parse error")
	}
	id, err := parseID(wire.ID)
	if err != nil {
		return protocol.Request{}, protocol.NewError(protocol.CodeParseError, "Parse error")
	}
	req := protocol.Request{JSONRPC: wire.JSONRPC, ID: id, Method: wire.Method, Params: wire.Params}
	if req.JSONRPC != protocol.Version || req.Method == "" {
		return req, protocol.NewError(protocol.CodeInvalidRequest, "Parse error")
	}
	return req, nil
}

// PeekID extracts the correlation id from a frame that may not decode as a
// full request.
func PeekID(frame []byte) *int64 {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.NewDecoder(bytes.NewReader(frame)).Decode(&probe); err != nil {
		return nil
	}
	id, err := parseID(probe.ID)
	if err != nil {
		return nil
	}
	return id
}

// parseID accepts null, an absent id or any JSON number with an integral
// value such as 7, 7.0 or 7e0.
func parseID(raw json.RawMessage) (*int64, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil || bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		return nil, errors.New("id must be a number")
	}
	if n, err := num.Int64(); err == nil {
		return &n, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactID {
		return nil, errors.New("id must be an integer")
	}
	n := int64(f)
	return &n, nil
}
