package uploads

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer mints and verifies short-lived signed URLs for internal storage
// keys. The signature binds key, owner id and expiry; absolute URLs pass
// through unsigned.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer with the given secret and URL lifetime.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) sign(key string, ownerID, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d|%d", key, ownerID, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL returns a time-limited URL for an internal storage key.
// Absolute URLs and empty keys are returned unchanged.
func (s *Signer) SignedURL(key string, ownerID int64) string {
	if key == "" || strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	exp := s.now().UTC().Add(s.ttl).Unix()
	q := url.Values{}
	q.Set("owner", strconv.FormatInt(ownerID, 10))
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.sign(key, ownerID, exp))
	return "/uploads/file/" + key + "?" + q.Encode()
}

// Verify checks a signature produced by SignedURL. The requester must
// present the owner id the signature was bound to, independent of any DB
// row, and the URL must not be expired.
func (s *Signer) Verify(key string, ownerID, exp int64, sig string) bool {
	if exp < s.now().UTC().Unix() {
		return false
	}
	want := s.sign(key, ownerID, exp)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}
