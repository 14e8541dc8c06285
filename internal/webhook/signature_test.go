package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func sign(secret string, t int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", t)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureValid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"id":"evt_1"}`)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign("whsec", now.Unix(), payload))

	if err := VerifySignature("whsec", header, payload, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifySignatureOrderIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte("{}")
	header := fmt.Sprintf("v1=%s, t=%d", sign("whsec", now.Unix(), payload), now.Unix())

	if err := VerifySignature("whsec", header, payload, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte("{}")
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign("other", now.Unix(), payload))

	err := VerifySignature("whsec", header, payload, now)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifySignatureTamperedPayload(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign("whsec", now.Unix(), []byte("{}")))

	err := VerifySignature("whsec", header, []byte(`{"amount":9999}`), now)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifySignatureMissingFields(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte("{}")

	for _, header := range []string{
		"",
		"t=1700000000",
		"v1=deadbeef",
		"t=notanumber,v1=deadbeef",
	} {
		err := VerifySignature("whsec", header, payload, now)
		if !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("header %q: expected ErrMalformedHeader, got %v", header, err)
		}
	}
}

func TestVerifySignatureReplayWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte("{}")

	stale := now.Add(-301 * time.Second).Unix()
	header := fmt.Sprintf("t=%d,v1=%s", stale, sign("whsec", stale, payload))
	if err := VerifySignature("whsec", header, payload, now); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp for old event, got %v", err)
	}

	future := now.Add(301 * time.Second).Unix()
	header = fmt.Sprintf("t=%d,v1=%s", future, sign("whsec", future, payload))
	if err := VerifySignature("whsec", header, payload, now); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp for future event, got %v", err)
	}

	edge := now.Add(-300 * time.Second).Unix()
	header = fmt.Sprintf("t=%d,v1=%s", edge, sign("whsec", edge, payload))
	if err := VerifySignature("whsec", header, payload, now); err != nil {
		t.Fatalf("300s skew is inside the window, got %v", err)
	}
}
