package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidLogin is returned when a terminal query string fails verification.
var ErrInvalidLogin = errors.New("invalid login")

const maxClockSkew = time.Minute

// TerminalIdentity is the verified content of a terminal login.
type TerminalIdentity struct {
	ExternalID  string
	DisplayName *string
	AuthDate    time.Time
}

// TerminalVerifier checks query strings signed by the terminal login provider.
// The signature is hex(HMAC-SHA256(secret, data)) where data is every
// parameter except hash, formatted as key=value, sorted by key and joined
// with newlines.
type TerminalVerifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewTerminalVerifier creates a verifier. A zero maxAge disables the age check.
func NewTerminalVerifier(secret string, maxAge time.Duration) *TerminalVerifier {
	return &TerminalVerifier{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

// Verify parses and authenticates queryString.
func (v *TerminalVerifier) Verify(queryString string) (*TerminalIdentity, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(queryString), "?"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse query string: %v", ErrInvalidLogin, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrInvalidLogin)
	}
	got, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed hash", ErrInvalidLogin)
	}
	if !hmac.Equal(got, v.mac(values)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidLogin)
	}

	id := values.Get("id")
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidLogin)
	}

	identity := &TerminalIdentity{ExternalID: id}
	if name := strings.TrimSpace(values.Get("name")); name != "" {
		identity.DisplayName = &name
	}

	if raw := values.Get("auth_date"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed auth_date", ErrInvalidLogin)
		}
		identity.AuthDate = time.Unix(sec, 0)
	}
	if v.maxAge > 0 {
		if identity.AuthDate.IsZero() {
			return nil, fmt.Errorf("%w: missing auth_date", ErrInvalidLogin)
		}
		age := v.now().Sub(identity.AuthDate)
		if age > v.maxAge || age < -maxClockSkew {
			return nil, fmt.Errorf("%w: login expired", ErrInvalidLogin)
		}
	}
	return identity, nil
}

// Sign returns values encoded as a query string with its hash appended.
func (v *TerminalVerifier) Sign(values url.Values) string {
	signed := url.Values{}
	for k, vs := range values {
		if k != "hash" {
			signed[k] = vs
		}
	}
	signed.Set("hash", hex.EncodeToString(v.mac(signed)))
	return signed.Encode()
}

func (v *TerminalVerifier) mac(values url.Values) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}

	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(strings.Join(lines, "\n")))
	return m.Sum(nil)
}
