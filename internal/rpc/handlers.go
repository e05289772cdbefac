package rpc

import (
	"context"
	"errors"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/protocol"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
)

const pong = "pong"

type handlers struct {
	store store.Store
}

func (h *handlers) ping(context.Context, string, struct{}) (any, error) {
	return pong, nil
}

func (h *handlers) getUser(ctx context.Context, identity string, _ struct{}) (any, error) {
	p, err := h.store.GetUserInfo(ctx, identity)
	if err != nil {
		return nil, domainError(err, protocol.CodeUserNotFound)
	}
	return p, nil
}

func (h *handlers) sendTaps(ctx context.Context, identity string, taps []store.Tap) (any, error) {
	res, err := h.store.RegisterTaps(ctx, []store.TapBatch{{UserID: identity, Taps: taps}})
	if err != nil {
		return nil, domainError(err, protocol.CodeTapsRejected)
	}
	if len(res) == 0 {
		return nil, protocol.NewError(protocol.CodeTapsRejected, "Taps were not registered")
	}
	return res[0], nil
}

func (h *handlers) updateProfile(ctx context.Context, identity string, patch store.ProfilePatch) (any, error) {
	p, err := h.store.UpdateProfile(ctx, identity, patch)
	if err != nil {
		return nil, domainError(err, protocol.CodeProfileUpdateFailed)
	}
	return p, nil
}

func (h *handlers) getTopUsers(ctx context.Context, _ string, limit int) (any, error) {
	list, err := h.store.GetTopUsers(ctx, limit)
	if err != nil {
		return nil, domainError(err, protocol.CodeTopUsersFailed)
	}
	return nonNil(list), nil
}

func (h *handlers) getTopReferrals(ctx context.Context, identity string, limit int) (any, error) {
	list, err := h.store.GetTopReferrals(ctx, identity, limit)
	if err != nil {
		return nil, domainError(err, protocol.CodeTopReferralsFailed)
	}
	return nonNil(list), nil
}

func (h *handlers) getUsersAround(ctx context.Context, identity string, limit int) (any, error) {
	around, err := h.store.GetUsersAround(ctx, identity, limit)
	if err != nil {
		return nil, domainError(err, protocol.CodeUsersAroundFailed)
	}
	around.Above = nonNil(around.Above)
	around.Below = nonNil(around.Below)
	return around, nil
}

// domainError gives a missing caller identity the method's domain code and
// leaves every other failure for MapError.
func domainError(err error, code int) error {
	if errors.Is(err, store.ErrNotFound) {
		return protocol.NewError(code, "User not found")
	}
	return err
}

func nonNil(list []store.Profile) []store.Profile {
	if list == nil {
		return []store.Profile{}
	}
	return list
}
