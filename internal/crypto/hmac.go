// Package crypto signs outbound requests to collaborator services and
// webhook receivers.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by signed requests.
const (
	HeaderKeyID     = "X-Bidengine-Key"
	HeaderTimestamp = "X-Bidengine-Timestamp"
	HeaderSignature = "X-Bidengine-Signature"
)

// HMACAuth holds the shared credentials for HMAC-signed requests. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body), base64
// encoded.
type HMACAuth struct {
	KeyID  string
	Secret string
	// MaxSkew bounds how old a timestamp Verify accepts. Zero means five
	// minutes.
	MaxSkew time.Duration
}

// Headers returns the signing headers for a request sent now.
func (h *HMACAuth) Headers(method, path string, body []byte) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with an explicit Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKeyID:     h.KeyID,
		HeaderTimestamp: ts,
		HeaderSignature: h.sign(ts, method, path, body),
	}
}

// Verify checks a signature produced by Headers against the request parts.
func (h *HMACAuth) Verify(method, path string, body []byte, ts, signature string, now time.Time) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: bad timestamp %q", ts)
	}
	skew := h.MaxSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return fmt.Errorf("crypto: timestamp outside %s window", skew)
	}
	want := h.sign(ts, method, path, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

func (h *HMACAuth) sign(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", h.KeyID, redact(h.Secret))
}
