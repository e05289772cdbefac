package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/protocol"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
)

// recordingStore counts profile updates so tests can assert that
// validation stops a call before it reaches the store.
type recordingStore struct {
	store.Store
	updates int
}

func (r *recordingStore) UpdateProfile(ctx context.Context, userID string, patch store.ProfilePatch) (store.Profile, error) {
	r.updates++
	return r.Store.UpdateProfile(ctx, userID, patch)
}

// slowStore blocks GetUserInfo until the context ends.
type slowStore struct {
	store.Store
}

func (slowStore) GetUserInfo(ctx context.Context, _ string) (store.Profile, error) {
	<-ctx.Done()
	return store.Profile{}, ctx.Err()
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) GetTopUsers(context.Context, int) ([]store.Profile, error) {
	return nil, f.err
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingStore, string) {
	t.Helper()
	st := &recordingStore{Store: store.NewMemoryStore()}
	p, err := st.CreateAnonymousUser(context.Background(), "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return NewDispatcher(st, Options{}), st, p.UserID
}

func decodeResult(t *testing.T, resp protocol.Response, out any) {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

func TestDispatchPing(t *testing.T) {
	d, _, id := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":7,"method":"ping","params":{"anything":[1]}}`))
	if !out.Reply {
		t.Fatalf("expected reply")
	}
	if out.Response.ID == nil || *out.Response.ID != 7 {
		t.Fatalf("expected id 7, got %v", out.Response.ID)
	}
	if out.Response.Result != "pong" || out.Response.Error != nil {
		t.Fatalf("unexpected response %+v", out.Response)
	}
}

func TestDispatchProtocolErrors(t *testing.T) {
	d, _, id := newTestDispatcher(t)
	tests := []struct {
		name     string
		frame    string
		wantCode int
		wantID   *int64
	}{
		{name: "malformed json", frame: `{"jsonrpc":`, wantCode: protocol.CodeParseError},
		{name: "missing version", frame: `{"id":1,"method":"ping"}`, wantCode: protocol.CodeInvalidRequest, wantID: ptr(1)},
		{name: "wrong version", frame: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantCode: protocol.CodeInvalidRequest, wantID: ptr(1)},
		{name: "missing method", frame: `{"jsonrpc":"2.0","id":2}`, wantCode: protocol.CodeInvalidRequest, wantID: ptr(2)},
		{name: "unknown method", frame: `{"jsonrpc":"2.0","id":3,"method":"dropTables"}`, wantCode: protocol.CodeMethodNotFound, wantID: ptr(3)},
		{name: "unknown method with params", frame: `{"jsonrpc":"2.0","id":4,"method":"subscribe","params":[{"x":1,"y":1}]}`, wantCode: protocol.CodeMethodNotFound, wantID: ptr(4)},
		{name: "invalid params", frame: `{"jsonrpc":"2.0","id":5,"method":"getTopUsers","params":{"limit":0}}`, wantCode: protocol.CodeInvalidParams, wantID: ptr(5)},
		{name: "fractional id", frame: `{"jsonrpc":"2.0","id":7.5,"method":"ping"}`, wantCode: protocol.CodeParseError},
		{name: "string id", frame: `{"jsonrpc":"2.0","id":"7","method":"ping"}`, wantCode: protocol.CodeParseError},
		{name: "getUser with params", frame: `{"jsonrpc":"2.0","id":6,"method":"getUser","params":{"id":"someone-else"}}`, wantCode: protocol.CodeInvalidParams, wantID: ptr(6)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := d.Dispatch(context.Background(), id, []byte(tc.frame))
			if !out.Reply {
				t.Fatalf("expected error frame to be sent")
			}
			if out.Response.Error == nil || out.Response.Error.Code != tc.wantCode {
				t.Fatalf("expected code %d, got %+v", tc.wantCode, out.Response.Error)
			}
			if out.Response.Result != nil {
				t.Fatalf("error response carries a result")
			}
			if !sameID(out.Response.ID, tc.wantID) {
				t.Fatalf("expected id %v, got %v", tc.wantID, out.Response.ID)
			}
		})
	}
}

func TestDispatchSendTaps(t *testing.T) {
	d, st, id := newTestDispatcher(t)
	before, _ := st.GetUserInfo(context.Background(), id)

	out := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":1,"method":"sendTaps","params":[{"x":10,"y":10}]}`))
	if out.Response.Error != nil {
		t.Fatalf("unexpected error %+v", out.Response.Error)
	}
	var res store.TapResult
	decodeResult(t, out.Response, &res)
	if res.UserInfo.UserID != id {
		t.Fatalf("result for wrong identity %q", res.UserInfo.UserID)
	}
	if res.UserInfo.Taps < before.Taps {
		t.Fatalf("tap count decreased from %d to %d", before.Taps, res.UserInfo.Taps)
	}
}

func TestDispatchGetUser(t *testing.T) {
	d, _, id := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":1,"method":"getUser"}`))
	var p store.Profile
	decodeResult(t, out.Response, &p)
	if p.UserID != id {
		t.Fatalf("expected caller profile, got %+v", p)
	}

	missing := d.Dispatch(context.Background(), "ghost", []byte(`{"jsonrpc":"2.0","id":2,"method":"getUser"}`))
	if missing.Response.Error == nil || missing.Response.Error.Code != protocol.CodeUserNotFound {
		t.Fatalf("expected user-not-found domain error, got %+v", missing.Response)
	}
}

func TestDispatchUpdateProfileValidation(t *testing.T) {
	d, st, id := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":1,"method":"updateProfile","params":{"wallet":"not-a-valid-pattern"}}`))
	if out.Response.Error == nil || out.Response.Error.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", out.Response)
	}
	if st.updates != 0 {
		t.Fatalf("store reached despite invalid params")
	}

	ok := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":2,"method":"updateProfile","params":{"nickname":"kraken"}}`))
	var p store.Profile
	decodeResult(t, ok.Response, &p)
	if p.Nickname != "kraken" || st.updates != 1 {
		t.Fatalf("unexpected update result %+v (updates=%d)", p, st.updates)
	}
}

func TestDispatchRankings(t *testing.T) {
	d, _, id := newTestDispatcher(t)

	top := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":1,"method":"getTopUsers","params":{"limit":5}}`))
	var list []store.Profile
	decodeResult(t, top.Response, &list)
	if len(list) != 1 {
		t.Fatalf("expected one ranked user, got %d", len(list))
	}

	refs := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":2,"method":"getTopReferrals","params":{"limit":5}}`))
	raw, _ := json.Marshal(refs.Response.Result)
	if string(raw) != "[]" {
		t.Fatalf("expected empty list, got %s", raw)
	}

	around := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":3,"method":"getUsersAround","params":{"limit":5}}`))
	raw, _ = json.Marshal(around.Response.Result)
	if string(raw) != `{"above":[],"below":[]}` {
		t.Fatalf("unexpected around result %s", raw)
	}
}

func TestDispatchNotificationPolicy(t *testing.T) {
	_, _, id := newTestDispatcher(t)
	st := store.NewMemoryStore()

	tests := []struct {
		name      string
		suppress  bool
		frame     string
		wantReply bool
	}{
		{name: "success without id is suppressed", frame: `{"jsonrpc":"2.0","method":"ping"}`},
		{name: "error without id is emitted", frame: `{"jsonrpc":"2.0","method":"nope"}`, wantReply: true},
		{name: "error without id suppressed when configured", suppress: true, frame: `{"jsonrpc":"2.0","method":"nope"}`},
		{name: "success with id always replies", suppress: true, frame: `{"jsonrpc":"2.0","id":7,"method":"ping"}`, wantReply: true},
		{name: "error with id always replies", suppress: true, frame: `{"jsonrpc":"2.0","id":7,"method":"nope"}`, wantReply: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDispatcher(st, Options{SuppressNotificationErrors: tc.suppress})
			out := d.Dispatch(context.Background(), id, []byte(tc.frame))
			if out.Reply != tc.wantReply {
				t.Fatalf("expected reply=%v, got %v", tc.wantReply, out.Reply)
			}
		})
	}
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(slowStore{Store: store.NewMemoryStore()}, Options{Timeout: 20 * time.Millisecond})
	out := d.Dispatch(context.Background(), "u1", []byte(`{"jsonrpc":"2.0","id":1,"method":"getUser"}`))
	if out.Response.Error == nil || out.Response.Error.Code != protocol.CodeInternalError || out.Response.Error.Message != "Request timeout" {
		t.Fatalf("expected timeout internal error, got %+v", out.Response.Error)
	}
}

func TestDispatchScrubsStoreErrors(t *testing.T) {
	st := failingStore{Store: store.NewMemoryStore(), err: &store.ProcError{Proc: "get_top_users", Code: "ERR", Message: "leaderboard offline"}}
	d := NewDispatcher(st, Options{})
	out := d.Dispatch(context.Background(), "u1", []byte(`{"jsonrpc":"2.0","id":1,"method":"getTopUsers","params":{"limit":3}}`))
	if out.Response.Error == nil || out.Response.Error.Message != "leaderboard offline" {
		t.Fatalf("expected scrubbed message, got %+v", out.Response.Error)
	}

	d = NewDispatcher(failingStore{Store: store.NewMemoryStore(), err: errors.New("dial tcp 10.0.0.1:6379: refused")}, Options{})
	out = d.Dispatch(context.Background(), "u1", []byte(`{"jsonrpc":"2.0","id":1,"method":"getTopUsers","params":{"limit":3}}`))
	if out.Response.Error == nil || out.Response.Error.Code != protocol.CodeInternalError || out.Response.Error.Message != "Internal error" {
		t.Fatalf("expected bare internal error, got %+v", out.Response.Error)
	}
}

func TestDispatchUnreachableRedisHidesDetails(t *testing.T) {
	rs := store.NewRedisStore(store.RedisOptions{Addr: "127.0.0.1:1"})
	defer rs.Close()
	d := NewDispatcher(rs, Options{Timeout: time.Second})

	out := d.Dispatch(context.Background(), "u1", []byte(`{"jsonrpc":"2.0","id":3,"method":"getUser"}`))
	if out.Response.Error == nil || out.Response.Error.Code != protocol.CodeInternalError {
		t.Fatalf("expected internal error, got %+v", out.Response.Error)
	}
	msg := out.Response.Error.Message
	for _, leaked := range []string{"get_user_info", "127.0.0.1", "dial"} {
		if strings.Contains(msg, leaked) {
			t.Fatalf("error message %q exposes %q", msg, leaked)
		}
	}
	if !sameID(out.Response.ID, ptr(3)) {
		t.Fatalf("expected id 3, got %v", out.Response.ID)
	}
}

func TestDispatchIntegralFloatID(t *testing.T) {
	d, _, id := newTestDispatcher(t)
	for _, raw := range []string{"7.0", "7e0", "70e-1"} {
		t.Run(raw, func(t *testing.T) {
			out := d.Dispatch(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":`+raw+`,"method":"ping"}`))
			if out.Response.Error != nil || !sameID(out.Response.ID, ptr(7)) || out.Response.Result != "pong" {
				t.Fatalf("expected pong for id 7, got %+v", out.Response)
			}
		})
	}
}

func TestPeekID(t *testing.T) {
	if id := PeekID([]byte(`{"id":9,"method":1}`)); id == nil || *id != 9 {
		t.Fatalf("expected id 9, got %v", id)
	}
	if id := PeekID([]byte(`{"id":9.0}`)); id == nil || *id != 9 {
		t.Fatalf("expected id 9 from float, got %v", id)
	}
	if id := PeekID([]byte(`{"id":"9"}`)); id != nil {
		t.Fatalf("expected string id ignored, got %v", *id)
	}
	if id := PeekID([]byte(`garbage`)); id != nil {
		t.Fatalf("expected nil id, got %v", *id)
	}
}

func ptr(v int64) *int64 { return &v }

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
