package otp

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := Generate()
		require.NoError(t, err)
		require.Len(t, code, Length)
		assert.True(t, ValidFormat(code))

		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
		assert.NotEqual(t, byte('0'), code[0])
	}
}

func TestHashDeterministic(t *testing.T) {
	h := NewHasher("pepper")

	assert.Equal(t, h.Hash("123456"), h.Hash("123456"))
	assert.Len(t, h.Hash("123456"), 64)
	assert.NotEqual(t, h.Hash("123456"), NewHasher("other-pepper").Hash("123456"))
	assert.NotContains(t, h.Hash("123456"), "123456")
}

func TestVerifyRoundTrip(t *testing.T) {
	h := NewHasher("pepper")

	for i := 0; i < 200; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.True(t, h.Verify(code, h.Hash(code)))
	}
}

func TestVerifyRejectsDifferentCodes(t *testing.T) {
	h := NewHasher("pepper")

	collisions := 0
	for i := 0; i < 10000; i++ {
		code := strconv.Itoa(100000 + i*89)
		other := strconv.Itoa(100000 + (i*89+1)%900000)
		if h.Verify(other, h.Hash(code)) {
			collisions++
		}
	}
	assert.Zero(t, collisions)
}

func TestVerifyDigestLengthMismatch(t *testing.T) {
	h := NewHasher("pepper")
	digest := h.Hash("123456")

	assert.False(t, h.Verify("123456", ""))
	assert.False(t, h.Verify("123456", "abc"))
	assert.False(t, h.Verify("123456", digest[:len(digest)-1]))
	assert.False(t, h.Verify("123456", digest+"0"))
}

func TestVerifyWrongPepper(t *testing.T) {
	digest := NewHasher("a").Hash("654321")
	assert.False(t, NewHasher("b").Verify("654321", digest))
}

func TestExpiryFromNow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(60*time.Minute), ExpiryFromNow(now, DefaultWindow))
	assert.Equal(t, now.Add(10*time.Minute), ExpiryFromNow(now, 10*time.Minute))
	assert.Equal(t, now.Add(DefaultWindow), ExpiryFromNow(now, 0))
}

func TestLast4(t *testing.T) {
	assert.Equal(t, "3456", Last4("123456"))
	assert.Equal(t, "12", Last4("12"))
}

func TestValidFormat(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{"", false},
		{"１２３４５６", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidFormat(tt.in), tt.in)
	}
}
