// Package session issues and verifies the signed credentials that bind a
// client to one identity.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/initdata"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
)

var (
	ErrInvalidToken    = errors.New("session: invalid token")
	ErrInvalidReferrer = errors.New("session: invalid referrer id")
	ErrNoIdentity      = errors.New("session: store returned no identity")
)

var referrerPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{1,64}$`)

type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Signer signs and verifies HS256 credentials. A zero TTL issues tokens
// without expiry.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewSigner(key string, ttl time.Duration) *Signer {
	return &Signer{key: []byte(key), ttl: ttl, now: time.Now}
}

func (s *Signer) Sign(identity string) (string, error) {
	claims := Claims{UserID: identity}
	if s.ttl > 0 {
		now := s.now()
		claims.IssuedAt = jwt.NewNumericDate(now)
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify returns the identity bound by token.
func (s *Signer) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// Issuer exchanges anonymous requests and verified init data for credentials.
type Issuer struct {
	store  store.Store
	signer *Signer
	secret []byte
}

func NewIssuer(st store.Store, signer *Signer, botToken string) *Issuer {
	return &Issuer{store: st, signer: signer, secret: initdata.WebAppSecret(botToken)}
}

func (i *Issuer) Anonymous(ctx context.Context, referrerID string) (string, error) {
	if err := validateReferrer(referrerID); err != nil {
		return "", err
	}
	user, err := i.store.CreateAnonymousUser(ctx, referrerID)
	if err != nil {
		return "", fmt.Errorf("create anonymous user: %w", err)
	}
	if user.UserID == "" {
		return "", ErrNoIdentity
	}
	log.Info().Str("user_id", user.UserID).Str("referrer_id", referrerID).Msg("anonymous_session_issued")
	return i.signer.Sign(user.UserID)
}

func (i *Issuer) Telegram(ctx context.Context, raw, referrerID string) (string, error) {
	if !initdata.Verify(raw, i.secret) {
		return "", initdata.ErrInvalidInitData
	}
	data, err := initdata.Decode(raw)
	if err != nil {
		return "", err
	}
	if data.User == nil || data.User.ID == 0 {
		return "", initdata.ErrMissingUser
	}
	if err := validateReferrer(referrerID); err != nil {
		return "", err
	}

	tgID := strconv.FormatInt(data.User.ID, 10)
	user, err := i.store.GetOrCreateTelegramUser(ctx, tgID, data.User.Username, referrerID)
	if err != nil {
		return "", fmt.Errorf("get or create telegram user: %w", err)
	}
	if user.UserID == "" {
		return "", ErrNoIdentity
	}
	log.Info().Str("user_id", user.UserID).Str("tg_id", tgID).Msg("telegram_session_issued")
	return i.signer.Sign(user.UserID)
}

func validateReferrer(id string) error {
	if id == "" || referrerPattern.MatchString(id) {
		return nil
	}
	return ErrInvalidReferrer
}
