// Package initdata verifies and decodes Telegram web-app init data.
//
// Verification follows the web-app scheme: the secret is
// HMAC-SHA256("WebAppData", botToken) and the payload hash is the hex
// HMAC-SHA256 of the sorted "key=value" lines of every field except hash.
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const secretKey = "WebAppData"

var (
	ErrInvalidInitData = errors.New("initdata: invalid init data")
	ErrMissingUser     = errors.New("initdata: missing user")
)

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

type InitData struct {
	QueryID      string
	User         *User
	UserRaw      string
	AuthDate     int64
	StartParam   string
	ChatInstance string
	ChatType     string
	Hash         string
}

// WebAppSecret derives the per-application verification key from the bot token.
func WebAppSecret(token string) []byte {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// Verify reports whether raw carries a hash produced with secret.
func Verify(raw string, secret []byte) bool {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return false
	}
	expected := values.Get("hash")
	if expected == "" {
		return false
	}
	got := Sign(values, secret)
	return hmac.Equal([]byte(got), []byte(expected))
}

// Sign returns the hex hash for values, ignoring any hash field already present.
func Sign(values url.Values, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(checkString(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

func checkString(values url.Values) string {
	lines := make([]string, 0, len(values))
	for k, vs := range values {
		if k == "hash" {
			continue
		}
		for _, v := range vs {
			lines = append(lines, k+"="+v)
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Decode extracts the known fields. It does not verify the hash.
func Decode(raw string) (InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return InitData{}, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	data := InitData{
		QueryID:      values.Get("query_id"),
		UserRaw:      values.Get("user"),
		StartParam:   values.Get("start_param"),
		ChatInstance: values.Get("chat_instance"),
		ChatType:     values.Get("chat_type"),
		Hash:         values.Get("hash"),
	}
	if s := values.Get("auth_date"); s != "" {
		if data.AuthDate, err = strconv.ParseInt(s, 10, 64); err != nil {
			return InitData{}, fmt.Errorf("%w: auth_date: %v", ErrInvalidInitData, err)
		}
	}
	if data.UserRaw != "" {
		var u User
		if err := json.Unmarshal([]byte(data.UserRaw), &u); err != nil {
			return InitData{}, fmt.Errorf("%w: user: %v", ErrInvalidInitData, err)
		}
		data.User = &u
	}
	return data, nil
}
