package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Remote procedure names, loaded into Redis as a function library.
const (
	procCreateAnonymousUser = "create_anonymous_user"
	procGetOrCreateFromTg   = "get_or_create_user_from_tg"
	procGetUserInfo         = "get_user_info"
	procGetTopUsers         = "get_top_users"
	procGetTopReferrals     = "get_top_referrals"
	procGetUsersAround      = "get_users_around"
	procRegisterTaps        = "register_taps"
	procUpdateUser          = "update_user"
)

const ProcErrorPrefix = "StoreError:"

// ProcError is a reply error raised by a remote procedure.
type ProcError struct {
	Proc    string
	Code    string
	Message string
}

func (e *ProcError) Error() string {
	return fmt.Sprintf("%s %s:%s: %s", ProcErrorPrefix, e.Proc, e.Code, e.Message)
}

type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisStore calls procedures with FCALL. Arguments go out snake_cased and
// JSON encoded; replies are JSON documents that come back camelCased.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Username: opts.Username,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) CreateAnonymousUser(ctx context.Context, referrerID string) (Profile, error) {
	var p Profile
	err := r.call(ctx, &p, procCreateAnonymousUser, referrerID)
	return p, err
}

func (r *RedisStore) GetOrCreateTelegramUser(ctx context.Context, tgID, username, referrerID string) (Profile, error) {
	var p Profile
	err := r.call(ctx, &p, procGetOrCreateFromTg, tgID, username, referrerID)
	return p, err
}

func (r *RedisStore) GetUserInfo(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := r.call(ctx, &p, procGetUserInfo, userID)
	return p, err
}

func (r *RedisStore) GetTopUsers(ctx context.Context, limit int) ([]Profile, error) {
	out := []Profile{}
	err := r.call(ctx, &out, procGetTopUsers, limit)
	return out, err
}

func (r *RedisStore) GetTopReferrals(ctx context.Context, userID string, limit int) ([]Profile, error) {
	out := []Profile{}
	err := r.call(ctx, &out, procGetTopReferrals, userID, limit)
	return out, err
}

func (r *RedisStore) GetUsersAround(ctx context.Context, userID string, limit int) (Around, error) {
	out := Around{Above: []Profile{}, Below: []Profile{}}
	err := r.call(ctx, &out, procGetUsersAround, userID, limit)
	return out, err
}

func (r *RedisStore) RegisterTaps(ctx context.Context, batches []TapBatch) ([]TapResult, error) {
	out := []TapResult{}
	err := r.call(ctx, &out, procRegisterTaps, batches)
	return out, err
}

func (r *RedisStore) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (Profile, error) {
	var p Profile
	err := r.call(ctx, &p, procUpdateUser, userID, patch)
	return p, err
}

func (r *RedisStore) call(ctx context.Context, out any, proc string, args ...any) error {
	encoded := make([]any, 0, len(args))
	for _, arg := range args {
		s, err := encodeArg(arg)
		if err != nil {
			return fmt.Errorf("encode %s args: %w", proc, err)
		}
		encoded = append(encoded, s)
	}

	reply, err := r.client.FCall(ctx, proc, nil, encoded...).Result()
	if err != nil {
		return procError(proc, err)
	}
	return decodeReply(reply, out)
}

func encodeArg(arg any) (string, error) {
	switch v := arg.(type) {
	case string:
		return v, nil
	case int:
		return fmt.Sprint(v), nil
	}
	tree, err := toTree(arg)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(Snake(tree))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeReply(reply any, out any) error {
	s, ok := reply.(string)
	if !ok {
		return fmt.Errorf("unexpected reply type %T", reply)
	}
	var tree any
	if err := json.Unmarshal([]byte(s), &tree); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if tree == nil {
		return ErrNotFound
	}
	return fromTree(Camel(tree), out)
}

func procError(proc string, err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return fmt.Errorf("call %s: %w", proc, err)
	}
	code, msg, found := strings.Cut(rerr.Error(), " ")
	if !found || code != strings.ToUpper(code) {
		code, msg = "ERR", rerr.Error()
	}
	return &ProcError{Proc: proc, Code: code, Message: msg}
}
