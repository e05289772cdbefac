// Package subscriber relays out-of-band profile updates published by the
// backing store to the open channels of the affected identity.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/observe"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
)

const (
	DefaultPattern    = "user:*"
	DefaultRetryDelay = time.Second
	UpdateMethod      = "userUpdated"
)

// Pusher delivers a notification to every channel of identity.
type Pusher interface {
	Push(identity, method string, params any) int
}

type Options struct {
	URL        string
	Pattern    string
	RetryDelay time.Duration
}

type Subscriber struct {
	opts       Options
	pusher     Pusher
	client     *redis.Client
	reconnects atomic.Int64
}

func New(opts Options, pusher Pusher) (*Subscriber, error) {
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse subscriber url: %w", err)
	}
	return &Subscriber{opts: opts, pusher: pusher, client: redis.NewClient(ropts)}, nil
}

// Run subscribes and relays messages until ctx ends. A failed subscribe is
// retried after a fixed delay with no attempt limit. Once subscribed, go-redis
// restores a dropped connection and its patterns by itself, so this loop only
// runs again when subscribing fails or the message channel closes.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.client.Close()
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.reconnects.Add(1)
		observe.IncSubscriberReconnect()
		log.Warn().Err(err).Dur("retry_in", s.opts.RetryDelay).Str("pattern", s.opts.Pattern).Msg("subscriber_disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.RetryDelay):
		}
	}
}

// Reconnects reports how many times Run has retried the subscription.
func (s *Subscriber) Reconnects() int64 {
	return s.reconnects.Load()
}

func (s *Subscriber) consume(ctx context.Context) error {
	ps := s.client.PSubscribe(ctx, s.opts.Pattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.opts.Pattern, err)
	}
	log.Info().Str("pattern", s.opts.Pattern).Msg("subscriber_connected")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			s.relay(msg.Channel, msg.Payload)
		}
	}
}

func (s *Subscriber) relay(channel, payload string) {
	identity, params, err := Decode(channel, payload)
	if err != nil {
		log.Warn().Str("channel", channel).Err(err).Msg("subscriber_bad_message")
		return
	}
	n := s.pusher.Push(identity, UpdateMethod, params)
	log.Debug().Str("user_id", identity).Int("delivered", n).Msg("subscriber_relayed")
}

// Decode extracts the identity from a "<prefix>:<identity>" channel name and
// turns the snake_case payload into the camelCase notification params.
func Decode(channel, payload string) (string, any, error) {
	idx := strings.LastIndex(channel, ":")
	if idx < 0 || idx == len(channel)-1 {
		return "", nil, fmt.Errorf("channel %q carries no identity", channel)
	}
	var tree any
	if err := json.Unmarshal([]byte(payload), &tree); err != nil {
		return "", nil, fmt.Errorf("decode payload: %w", err)
	}
	return channel[idx+1:], store.Camel(tree), nil
}
