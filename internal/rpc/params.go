package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
)

const (
	MaxCoordinate = 10000
	MinTaps       = 1
	MaxTaps       = 500
	MaxListLimit  = 100
)

var (
	nicknamePattern = regexp.MustCompile(`^[\p{L}\p{N}_. -]{1,32}$`)
	walletPattern   = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

type tapParam struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

type limitParams struct {
	Limit *int `json:"limit"`
}

type profileParams struct {
	Nickname *string `json:"nickname"`
	Wallet   *string `json:"wallet"`
}

// decodeStrict decodes raw into v, rejecting unknown fields and trailing data.
func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after params")
	}
	return nil
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func anyParams(json.RawMessage) (struct{}, error) {
	return struct{}{}, nil
}

func noParams(raw json.RawMessage) (struct{}, error) {
	if isEmpty(raw) {
		return struct{}{}, nil
	}
	var empty struct{}
	if err := decodeStrict(raw, &empty); err != nil {
		return struct{}{}, errors.New("method takes no params")
	}
	return struct{}{}, nil
}

func tapsParams(raw json.RawMessage) ([]store.Tap, error) {
	if isEmpty(raw) {
		return nil, errors.New("taps are required")
	}
	var in []tapParam
	if err := decodeStrict(raw, &in); err != nil {
		return nil, err
	}
	if len(in) < MinTaps || len(in) > MaxTaps {
		return nil, fmt.Errorf("taps length must be between %d and %d", MinTaps, MaxTaps)
	}
	taps := make([]store.Tap, len(in))
	for i, tp := range in {
		if tp.X == nil || tp.Y == nil {
			return nil, fmt.Errorf("tap %d: x and y are required", i)
		}
		if !inRange(*tp.X) || !inRange(*tp.Y) {
			return nil, fmt.Errorf("tap %d: coordinates must be between 0 and %d", i, MaxCoordinate)
		}
		taps[i] = store.Tap{X: *tp.X, Y: *tp.Y}
	}
	return taps, nil
}

func inRange(v int) bool {
	return v >= 0 && v <= MaxCoordinate
}

func limitParam(raw json.RawMessage) (int, error) {
	if isEmpty(raw) {
		return 0, errors.New("limit is required")
	}
	var in limitParams
	if err := decodeStrict(raw, &in); err != nil {
		return 0, err
	}
	if in.Limit == nil {
		return 0, errors.New("limit is required")
	}
	if *in.Limit < 1 || *in.Limit > MaxListLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", MaxListLimit)
	}
	return *in.Limit, nil
}

func profilePatch(raw json.RawMessage) (store.ProfilePatch, error) {
	if isEmpty(raw) {
		return store.ProfilePatch{}, errors.New("nickname or wallet is required")
	}
	var in profileParams
	if err := decodeStrict(raw, &in); err != nil {
		return store.ProfilePatch{}, err
	}
	if in.Nickname == nil && in.Wallet == nil {
		return store.ProfilePatch{}, errors.New("nickname or wallet is required")
	}
	if in.Nickname != nil && !nicknamePattern.MatchString(*in.Nickname) {
		return store.ProfilePatch{}, errors.New("nickname has invalid format")
	}
	if in.Wallet != nil && !walletPattern.MatchString(*in.Wallet) {
		return store.ProfilePatch{}, errors.New("wallet has invalid format")
	}
	return store.ProfilePatch{Nickname: in.Nickname, Wallet: in.Wallet}, nil
}
