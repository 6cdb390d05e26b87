// Package signature implements the HMAC scheme used by the payment
// provider to sign webhook deliveries. The signature header has the form
//
//	t=<unix seconds>,v1=<hex hmac-sha256(secret, "<t>.<payload>")>
//
// Verification must happen on the raw request body, before any JSON
// parsing, and rejects stale timestamps to limit replay windows.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedHeader = errors.New("signature: malformed header")
	ErrNoMatch         = errors.New("signature: no matching v1 signature")
	ErrStaleTimestamp  = errors.New("signature: timestamp outside tolerance")
)

// Sign produces a header value for payload at the given timestamp.
func Sign(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, hexDigest(secret, ts, payload))
}

// Verify checks header against payload. A header may carry several v1
// entries (secret rotation); any one matching is accepted.
func Verify(secret string, payload []byte, header string, tolerance time.Duration) error {
	return verifyAt(secret, payload, header, tolerance, time.Now())
}

func verifyAt(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	ts, candidates, err := parseHeader(header)
	if err != nil {
		return err
	}

	signedAt := time.Unix(ts, 0)
	if tolerance > 0 {
		age := now.Sub(signedAt)
		if age > tolerance || age < -tolerance {
			return ErrStaleTimestamp
		}
	}

	expected := hexDigest(secret, strconv.FormatInt(ts, 10), payload)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrNoMatch
}

func parseHeader(header string) (ts int64, v1 []string, err error) {
	seenTS := false
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, ErrMalformedHeader
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedHeader
			}
			seenTS = true
		case "v1":
			v1 = append(v1, v)
		}
	}
	if !seenTS || len(v1) == 0 {
		return 0, nil, ErrMalformedHeader
	}
	return ts, v1, nil
}

func hexDigest(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
