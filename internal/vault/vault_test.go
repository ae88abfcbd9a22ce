package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVault_RoundTrip(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "token-like string", plaintext: "ya29.a0AfH6SMBx-long-opaque-access-token"},
		{name: "empty string", plaintext: ""},
		{name: "unicode", plaintext: "pässwörd-ключ-鍵"},
		{name: "binary-ish", plaintext: string([]byte{0x00, 0xff, 0x10, 0x7f})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := v.EncryptString(tc.plaintext)
			require.NoError(t, err)

			got, err := v.DecryptString(blob)
			require.NoError(t, err)
			require.Equal(t, tc.plaintext, got)
		})
	}
}

func TestVault_EncryptIsNonDeterministic(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	a, err := v.EncryptString("same plaintext")
	require.NoError(t, err)
	b, err := v.EncryptString("same plaintext")
	require.NoError(t, err)

	// Fresh salt and nonce per call means identical plaintexts never share a blob.
	require.NotEqual(t, a, b)
}

func TestVault_DecryptFailsClosed(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	blob, err := v.EncryptString("refresh-token-value")
	require.NoError(t, err)

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		tampered := append([]byte(nil), blob...)
		tampered[len(tampered)-20] ^= 0x01
		_, err := v.Decrypt(tampered)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("flipped tag byte", func(t *testing.T) {
		tampered := append([]byte(nil), blob...)
		tampered[len(tampered)-1] ^= 0x01
		_, err := v.Decrypt(tampered)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("flipped salt byte", func(t *testing.T) {
		tampered := append([]byte(nil), blob...)
		tampered[0] ^= 0x01
		_, err := v.Decrypt(tampered)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated blob", func(t *testing.T) {
		_, err := v.Decrypt(blob[:saltSize+nonceSize-1])
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("empty blob", func(t *testing.T) {
		_, err := v.Decrypt(nil)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := New("different-secret")
		require.NoError(t, err)
		_, err = other.Decrypt(blob)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
