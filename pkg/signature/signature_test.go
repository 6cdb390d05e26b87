package signature

import (
	"errors"
	"testing"
	"time"
)

const secret = "whsec_test"

func TestVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Now()

	header := Sign(secret, payload, now)
	if err := verifyAt(secret, payload, header, 5*time.Minute, now); err != nil {
		t.Fatalf("expected valid signature, got: %v", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	now := time.Now()
	header := Sign(secret, []byte(`{"amount":100}`), now)

	err := verifyAt(secret, []byte(`{"amount":999}`), header, 5*time.Minute, now)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got: %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()
	header := Sign("whsec_other", payload, now)

	if err := verifyAt(secret, payload, header, 5*time.Minute, now); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got: %v", err)
	}
}

func TestVerifyStaleTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()
	header := Sign(secret, payload, now.Add(-10*time.Minute))

	if err := verifyAt(secret, payload, header, 5*time.Minute, now); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got: %v", err)
	}
}

func TestVerifyRotatedSecrets(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()
	// Header carrying an old signature plus a fresh one.
	fresh := Sign(secret, payload, now)
	_, v1, err := parseHeader(fresh)
	if err != nil {
		t.Fatal(err)
	}
	header := Sign("whsec_retired", payload, now) + ",v1=" + v1[0]

	if err := verifyAt(secret, payload, header, 5*time.Minute, now); err != nil {
		t.Fatalf("expected one of the v1 entries to match, got: %v", err)
	}
}

func TestVerifyMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "t=abc,v1=00", "v1=00", "t=123", "junk"} {
		err := verifyAt(secret, []byte(`{}`), header, time.Minute, time.Now())
		if !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("header %q: expected ErrMalformedHeader, got: %v", header, err)
		}
	}
}
