package secret

import (
	"strings"
	"testing"

	"github.com/engels74/comradarr-sub004/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestRoundTrip(t *testing.T) {
	store, err := NewStore(testKeyHex)
	require.NoError(t, err)

	for _, m := range []string{"", "hello", "a very secret api key with spaces and symbols !@#$"} {
		enc, err := store.Encrypt(m)
		require.NoError(t, err)
		dec, err := store.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, m, dec)
	}
}

func TestEncryptedFormat(t *testing.T) {
	store, err := NewStore(testKeyHex)
	require.NoError(t, err)

	enc, err := store.Encrypt("secret-value")
	require.NoError(t, err)
	parts := strings.Split(enc, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], ivBytes*2)
	assert.Len(t, parts[1], tagBytes*2)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	store, err := NewStore(testKeyHex)
	require.NoError(t, err)

	enc, err := store.Encrypt("message")
	require.NoError(t, err)

	parts := strings.Split(enc, ":")
	// Flip a hex nibble in the ciphertext.
	tamperedCipher := []byte(parts[2])
	if tamperedCipher[0] == '0' {
		tamperedCipher[0] = '1'
	} else {
		tamperedCipher[0] = '0'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(tamperedCipher)

	_, err = store.Decrypt(tampered)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindDecryption, e.Kind)
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := NewStore("too-short")
	require.Error(t, err)
}
