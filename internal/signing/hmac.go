// Package signing authenticates calls to the batch trigger endpoint with an
// HMAC-SHA256 over "timestamp.body".
package signing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderTimestamp = "X-Reclaim-Timestamp"
	HeaderSignature = "X-Reclaim-Signature"
)

var (
	ErrMissingSignature = errors.New("signing: missing signature headers")
	ErrInvalidSignature = errors.New("signing: signature mismatch")
	ErrStaleTimestamp   = errors.New("signing: timestamp outside tolerance")
)

func Sign(secret string, payload []byte, at time.Time) (signature string, timestamp int64) {
	timestamp = at.Unix()
	return compute(secret, payload, timestamp), timestamp
}

func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	expected := compute(secret, payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func compute(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("v1=%s", hex.EncodeToString(mac.Sum(nil)))
}

// VerifyHeaders checks the signature headers of a request body. A zero
// tolerance skips the timestamp age check.
func VerifyHeaders(secret string, payload []byte, h http.Header, tolerance time.Duration, now time.Time) error {
	rawTS, sig := h.Get(HeaderTimestamp), h.Get(HeaderSignature)
	if rawTS == "" || sig == "" {
		return ErrMissingSignature
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, rawTS)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleTimestamp
		}
	}
	if !Verify(secret, payload, ts, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// NewRequest builds a signed POST request.
func NewRequest(ctx context.Context, url, secret string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	sig, ts := Sign(secret, payload, time.Now())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Reclaim/1.0")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)
	return req, nil
}
