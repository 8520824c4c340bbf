package signing

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	at := time.Unix(1767225600, 0)
	sig, ts := Sign("secret", []byte(`{}`), at)

	assert.Equal(t, at.Unix(), ts)
	assert.Regexp(t, `^v1=[0-9a-f]{64}$`, sig)
	assert.True(t, Verify("secret", []byte(`{}`), ts, sig))
	assert.False(t, Verify("other", []byte(`{}`), ts, sig))
	assert.False(t, Verify("secret", []byte(`{"x":1}`), ts, sig))
	assert.False(t, Verify("secret", []byte(`{}`), ts+1, sig))
}

func TestVerifyHeaders(t *testing.T) {
	now := time.Unix(1767225600, 0)
	body := []byte(`{}`)
	sig, ts := Sign("secret", body, now.Add(-time.Minute))

	h := http.Header{}
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, sig)

	assert.NoError(t, VerifyHeaders("secret", body, h, 5*time.Minute, now))
	assert.ErrorIs(t, VerifyHeaders("secret", body, h, 30*time.Second, now), ErrStaleTimestamp)
	assert.NoError(t, VerifyHeaders("secret", body, h, 0, now.Add(time.Hour)))
	assert.ErrorIs(t, VerifyHeaders("wrong", body, h, 0, now), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyHeaders("secret", body, http.Header{}, 0, now), ErrMissingSignature)

	h.Set(HeaderTimestamp, "yesterday")
	assert.ErrorIs(t, VerifyHeaders("secret", body, h, 0, now), ErrInvalidSignature)
}

func TestNewRequest(t *testing.T) {
	body := []byte(`{"source":"cron"}`)
	req, err := NewRequest(context.Background(), "http://localhost:8080/internal/process", "secret", body)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	got, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.NoError(t, VerifyHeaders("secret", got, req.Header, time.Minute, time.Now()))
}
