package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("store: user not found")
	ErrBlocked  = errors.New("store: user is blocked")
)

// Store executes the backing-store procedures. Implementations must be safe
// for concurrent use by every open channel.
type Store interface {
	CreateAnonymousUser(ctx context.Context, referrerID string) (Profile, error)
	GetOrCreateTelegramUser(ctx context.Context, tgID, username, referrerID string) (Profile, error)
	GetUserInfo(ctx context.Context, userID string) (Profile, error)
	GetTopUsers(ctx context.Context, limit int) ([]Profile, error)
	GetTopReferrals(ctx context.Context, userID string, limit int) ([]Profile, error)
	GetUsersAround(ctx context.Context, userID string, limit int) (Around, error)
	RegisterTaps(ctx context.Context, batches []TapBatch) ([]TapResult, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (Profile, error)
}

type Level struct {
	ID          string `json:"id"`
	QuotaPeriod int64  `json:"quotaPeriod"`
	QuotaAmount int64  `json:"quotaAmount"`
	CalmPeriod  int64  `json:"calmPeriod"`
}

type Profile struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	TgID            string `json:"tgId,omitempty"`
	ReferrerID      string `json:"referrerId,omitempty"`
	IsBlocked       bool   `json:"isBlocked"`
	Level           *Level `json:"level,omitempty"`
	Nickname        string `json:"nickname,omitempty"`
	Wallet          string `json:"wallet,omitempty"`
	SessionStart    int64  `json:"sessionStart"`
	SessionLeft     int64  `json:"sessionLeft"`
	SessionUntil    int64  `json:"sessionUntil"`
	SessionTaps     int64  `json:"sessionTaps"`
	SessionTapsLeft int64  `json:"sessionTapsLeft"`
	Taps            int64  `json:"taps"`
	CalmUntil       int64  `json:"calmUntil"`
}

type Tap struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type TapBatch struct {
	UserID string `json:"userId"`
	Taps   []Tap  `json:"taps"`
}

type TapResult struct {
	UserInfo Profile `json:"userInfo"`
	Error    string  `json:"error,omitempty"`
}

type Around struct {
	Above []Profile `json:"above"`
	Below []Profile `json:"below"`
}

type ProfilePatch struct {
	Nickname *string `json:"nickname,omitempty"`
	Wallet   *string `json:"wallet,omitempty"`
}

// MemoryStore keeps users in process. It implements the procedures with
// plain bookkeeping and no quota rules.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*Profile
	byTg  map[string]string
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*Profile),
		byTg:  make(map[string]string),
		now:   time.Now,
	}
}

func (m *MemoryStore) CreateAnonymousUser(_ context.Context, referrerID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.create("", "", referrerID), nil
}

func (m *MemoryStore) GetOrCreateTelegramUser(_ context.Context, tgID, username, referrerID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byTg[tgID]; ok {
		return *m.users[id], nil
	}
	p := m.create(tgID, username, referrerID)
	m.byTg[tgID] = p.UserID
	return *p, nil
}

func (m *MemoryStore) create(tgID, nickname, referrerID string) *Profile {
	if _, ok := m.users[referrerID]; !ok {
		referrerID = ""
	}
	id := uuid.NewString()
	p := &Profile{
		ID:           id,
		UserID:       id,
		TgID:         tgID,
		ReferrerID:   referrerID,
		Nickname:     nickname,
		SessionStart: m.now().UnixMilli(),
	}
	m.users[id] = p
	return p
}

func (m *MemoryStore) GetUserInfo(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.users[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return *p, nil
}

func (m *MemoryStore) GetTopUsers(_ context.Context, limit int) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranked := m.ranked(nil)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (m *MemoryStore) GetTopReferrals(_ context.Context, userID string, limit int) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, ErrNotFound
	}
	ranked := m.ranked(func(p *Profile) bool { return p.ReferrerID == userID })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (m *MemoryStore) GetUsersAround(_ context.Context, userID string, limit int) (Around, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranked := m.ranked(nil)
	pos := -1
	for i, p := range ranked {
		if p.UserID == userID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return Around{}, ErrNotFound
	}
	start := pos - limit
	if start < 0 {
		start = 0
	}
	end := pos + 1 + limit
	if end > len(ranked) {
		end = len(ranked)
	}
	return Around{
		Above: append([]Profile{}, ranked[start:pos]...),
		Below: append([]Profile{}, ranked[pos+1:end]...),
	}, nil
}

func (m *MemoryStore) RegisterTaps(_ context.Context, batches []TapBatch) ([]TapResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]TapResult, 0, len(batches))
	for _, b := range batches {
		p, ok := m.users[b.UserID]
		if !ok {
			return nil, ErrNotFound
		}
		if p.IsBlocked {
			results = append(results, TapResult{UserInfo: *p, Error: ErrBlocked.Error()})
			continue
		}
		p.Taps += int64(len(b.Taps))
		p.SessionTaps += int64(len(b.Taps))
		results = append(results, TapResult{UserInfo: *p})
	}
	return results, nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, userID string, patch ProfilePatch) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	if patch.Nickname != nil {
		p.Nickname = *patch.Nickname
	}
	if patch.Wallet != nil {
		p.Wallet = *patch.Wallet
	}
	return *p, nil
}

// ranked returns copies of the matching users ordered by taps, best first.
// Caller holds the lock.
func (m *MemoryStore) ranked(keep func(*Profile) bool) []Profile {
	out := make([]Profile, 0, len(m.users))
	for _, p := range m.users {
		if keep == nil || keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Taps != out[j].Taps {
			return out[i].Taps > out[j].Taps
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
