package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACAuthRoundTrip(t *testing.T) {
	auth := &HMACAuth{KeyID: "bidengine", Secret: "s3cret-value"}
	now := time.Unix(1_780_000_000, 0)
	body := []byte(`{"auctionId":"a1"}`)

	h := auth.HeadersAt("POST", "/orders", body, now.Unix())
	assert.Equal(t, "bidengine", h[HeaderKeyID])
	require.NoError(t, auth.Verify("POST", "/orders", body, h[HeaderTimestamp], h[HeaderSignature], now))

	assert.Error(t, auth.Verify("POST", "/orders", []byte(`{}`), h[HeaderTimestamp], h[HeaderSignature], now))
	assert.Error(t, auth.Verify("POST", "/orders", body, h[HeaderTimestamp], h[HeaderSignature], now.Add(time.Hour)))
	assert.Error(t, auth.Verify("POST", "/orders", body, "yesterday", h[HeaderSignature], now))
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{KeyID: "k", Secret: "s3cret-value"}
	assert.NotContains(t, auth.String(), "s3cret-value")
}
