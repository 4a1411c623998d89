package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// InitDataUser is the "user" object embedded in Mini App initData.
type InitDataUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

var (
	ErrInitDataMalformed = errors.New("telegram: malformed init data")
	ErrInitDataSignature = errors.New("telegram: init data signature mismatch")
	ErrInitDataExpired   = errors.New("telegram: init data expired")
)

// ValidateInitData checks the Mini App initData signature against the bot
// token and returns the embedded user. maxAge <= 0 disables the auth_date check.
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (*InitDataUser, error) {
	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, ErrInitDataMalformed
	}
	hash := params.Get("hash")
	if hash == "" {
		return nil, ErrInitDataMalformed
	}

	expected := signInitData(params, botToken)
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return nil, ErrInitDataSignature
	}

	if maxAge > 0 {
		ts, err := strconv.ParseInt(params.Get("auth_date"), 10, 64)
		if err != nil {
			return nil, ErrInitDataMalformed
		}
		if now.Sub(time.Unix(ts, 0)) > maxAge {
			return nil, ErrInitDataExpired
		}
	}

	var user InitDataUser
	if err := json.Unmarshal([]byte(params.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, ErrInitDataMalformed
	}
	return &user, nil
}

// SignInitData returns params encoded with a valid hash. Used by tests and
// local tooling to mint initData for a known bot token.
func SignInitData(params url.Values, botToken string) string {
	out := url.Values{}
	for k, v := range params {
		if k != "hash" {
			out[k] = v
		}
	}
	out.Set("hash", signInitData(out, botToken))
	return out.Encode()
}

// data-check-string: sorted key=value lines without hash, signed with
// HMAC-SHA256 keyed by HMAC-SHA256("WebAppData", token).
func signInitData(params url.Values, botToken string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+params.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
