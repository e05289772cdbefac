package subscriber

import (
	"context"
	"testing"
	"time"
)

type recordingPusher struct {
	identity string
	method   string
	params   any
	calls    int
}

func (p *recordingPusher) Push(identity, method string, params any) int {
	p.identity, p.method, p.params = identity, method, params
	p.calls++
	return 1
}

func TestDecode(t *testing.T) {
	identity, params, err := Decode("user:abc-123", `{"user_id":"abc-123","session_taps_left":7,"level":{"max_energy":10}}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if identity != "abc-123" {
		t.Fatalf("unexpected identity %q", identity)
	}
	m := params.(map[string]any)
	if m["userId"] != "abc-123" || m["sessionTapsLeft"] != float64(7) {
		t.Fatalf("expected camelCase keys, got %v", m)
	}
	if lvl := m["level"].(map[string]any); lvl["maxEnergy"] != float64(10) {
		t.Fatalf("expected nested keys renamed, got %v", lvl)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		payload string
	}{
		{name: "no separator", channel: "user", payload: `{}`},
		{name: "empty identity", channel: "user:", payload: `{}`},
		{name: "bad json", channel: "user:1", payload: `{`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Decode(tc.channel, tc.payload); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRelay(t *testing.T) {
	p := &recordingPusher{}
	s, err := New(Options{URL: "redis://localhost:6379/0"}, p)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.client.Close()

	s.relay("user:u1", `{"taps":3}`)
	if p.calls != 1 || p.identity != "u1" || p.method != UpdateMethod {
		t.Fatalf("unexpected push %+v", p)
	}

	s.relay("user:u1", `not json`)
	if p.calls != 1 {
		t.Fatalf("bad message must not be pushed")
	}
}

func TestNewDefaults(t *testing.T) {
	s, err := New(Options{URL: "redis://localhost:6379"}, &recordingPusher{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.client.Close()
	if s.opts.Pattern != DefaultPattern || s.opts.RetryDelay != time.Second {
		t.Fatalf("unexpected defaults %+v", s.opts)
	}

	if _, err := New(Options{URL: "http://nope"}, &recordingPusher{}); err == nil {
		t.Fatalf("expected url error")
	}
}

func TestRunRetriesUntilContextEnds(t *testing.T) {
	p := &recordingPusher{}
	s, err := New(Options{URL: "redis://127.0.0.1:1/0", RetryDelay: 20 * time.Millisecond}, p)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on context end, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after the context ended")
	}

	if n := s.Reconnects(); n < 3 {
		t.Fatalf("expected repeated fixed-delay retries, got %d", n)
	}
	if p.calls != 0 {
		t.Fatalf("nothing should be pushed without a subscription")
	}
}
