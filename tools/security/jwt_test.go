package security

import (
	"testing"
	"time"

	"PPSignal/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions(secret)
	tok, exp, err := Generate(opts, 42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, time.Minute)

	uid, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions(secret)
	tok, _, err := Generate(opts, 7)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("other")), tok)
	assert.True(t, errs.ErrAuthFailure.Is(err))

	_, err = Verify(opts, "")
	assert.True(t, errs.ErrAuthFailure.Is(err))

	expired := Options{Secret: secret, TTL: time.Nanosecond}
	tok, _, err = Generate(expired, 7)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = Verify(opts, tok)
	assert.True(t, errs.ErrAuthFailure.Is(err))
}

func TestVerifySubjectFallback(t *testing.T) {
	claims := jwtlib.MapClaims{"sub": "99", "exp": time.Now().Add(time.Hour).Unix()}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	uid, err := Verify(DefaultOptions(secret), tok)
	require.NoError(t, err)
	assert.Equal(t, int64(99), uid)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: secret, Alg: "RS256"}, 1)
	assert.Error(t, err)
}
