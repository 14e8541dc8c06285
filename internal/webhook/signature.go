package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// replayWindow bounds the skew tolerated between the signed timestamp and
// the verifier's clock, in either direction.
const replayWindow = 300 * time.Second

var (
	ErrMalformedHeader   = errors.New("webhook: malformed signature header")
	ErrStaleTimestamp    = errors.New("webhook: signature timestamp outside replay window")
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
)

// VerifySignature checks the `t=<unix>,v1=<hex>` header against
// HMAC-SHA256(secret, "<t>.<payload>"). Pair order in the header is not
// guaranteed. The comparison is constant time.
func VerifySignature(secret, header string, payload []byte, now time.Time) error {
	var t, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			t = v
		case "v1":
			v1 = v
		}
	}
	if t == "" || v1 == "" {
		return ErrMalformedHeader
	}

	ts, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return ErrMalformedHeader
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(replayWindow.Seconds()) {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return ErrSignatureMismatch
	}
	return nil
}
