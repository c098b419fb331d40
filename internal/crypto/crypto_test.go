package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway development key; never funded.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "correct horse battery staple")
	require.NoError(t, err)

	out, err := DecryptKey(blob, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, testKey, out)
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKey, "right")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKey_RawTakesPrecedence(t *testing.T) {
	out, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, testKey, out)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)

	// Truncated keys are rejected before they reach the signer.
	_, err = LoadKey(KeyConfig{RawPrivateKey: "0xabc1"})
	assert.Error(t, err)
}

func TestNewSigner_DerivesAddress(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	_, err = NewSigner("not-hex", 137)
	assert.Error(t, err)
}

func TestSignOrder_ProducesRecoverableSignature(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	sig, err := s.SignOrder(OrderPayload{
		Salt:          "12345",
		Maker:         s.Address().Hex(),
		Signer:        s.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "23100000",
		TakerAmount:   "55000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+130, "65 bytes hex encoded")

	// Signing is deterministic for a fixed payload and key.
	again, err := s.SignOrder(OrderPayload{
		Salt:          "12345",
		Maker:         s.Address().Hex(),
		Signer:        s.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "23100000",
		TakerAmount:   "55000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestSignOrder_RejectsMalformedNumbers(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	_, err = s.SignOrder(OrderPayload{Salt: "xyz"})
	assert.Error(t, err)
}

func TestL2HeadersAt_Deterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "c2VjcmV0LWJ5dGVzLWhlcmU=", Passphrase: "pass"}

	a := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1765548000)
	b := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1765548000)
	assert.Equal(t, a, b)
	assert.Equal(t, "key", a["POLY_API_KEY"])
	assert.Equal(t, "1765548000", a["POLY_TIMESTAMP"])
	assert.NotEmpty(t, a["POLY_SIGNATURE"])

	// A different path must change the signature.
	c := auth.L2HeadersAt("0xabc", "POST", "/cancel", `{"x":1}`, 1765548000)
	assert.NotEqual(t, a["POLY_SIGNATURE"], c["POLY_SIGNATURE"])
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-abcdef"}
	out := auth.String()
	assert.NotContains(t, out, "123456")
	assert.NotContains(t, out, "abcdef")
}
