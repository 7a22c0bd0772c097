package cipherutils

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionDecryptionForEverySuite(t *testing.T) {
	plaintext := []byte("ZGlkOnJlcToxCg==:eyJzZXNzaW9uIjp7fX0")

	for _, name := range SuiteNames() {
		t.Run(name, func(t *testing.T) {
			suite, err := GetSuite(name)
			require.NoError(t, err)

			key, err := RandomKey(suite.KeySize())
			require.NoError(t, err)

			blob, err := suite.Encrypt(plaintext, key)
			require.NoError(t, err)
			assert.Equal(t, suite.ID(), blob[0])
			assert.NotContains(t, string(blob), string(plaintext))

			decrypted, err := suite.Decrypt(blob, key)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)

			// The suite is recoverable from the blob alone
			decrypted, err = DecryptAny(blob, key)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	suite, err := GetSuite(SuiteAES256GCM)
	require.NoError(t, err)

	key, err := RandomKey(suite.KeySize())
	require.NoError(t, err)
	otherKey, err := RandomKey(suite.KeySize())
	require.NoError(t, err)

	blob, err := suite.Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	_, err = DecryptAny(blob, otherKey)
	assert.Equal(t, ErrorOpen, errors.Cause(err))

	// Key of the wrong size for the suite
	_, err = DecryptAny(blob, key[:16])
	assert.Equal(t, ErrorOpen, errors.Cause(err))
}

func TestDecryptCorruptedBlob(t *testing.T) {
	suite, err := GetSuite(SuiteSM4GCM)
	require.NoError(t, err)

	key, err := RandomKey(suite.KeySize())
	require.NoError(t, err)

	blob, err := suite.Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	flipped := append([]byte{}, blob...)
	flipped[len(flipped)-1] ^= 0x01
	_, err = DecryptAny(flipped, key)
	assert.Equal(t, ErrorOpen, errors.Cause(err))

	_, err = DecryptAny(blob[:5], key)
	assert.Equal(t, ErrorOpen, errors.Cause(err))

	_, err = DecryptAny([]byte{0x7f, 0x00}, key)
	assert.Equal(t, ErrorOpen, errors.Cause(err))

	_, err = DecryptAny(nil, key)
	assert.Equal(t, ErrorOpen, errors.Cause(err))
}

func TestGetSuite(t *testing.T) {
	suite, err := GetSuite(" XChaCha20-Poly1305 ")
	require.NoError(t, err)
	assert.Equal(t, SuiteXChaCha20Poly1305, suite.Name())
	assert.Equal(t, 32, suite.KeySize())

	_, err = GetSuite("rot13")
	assert.Error(t, err)
}

func TestEncryptRejectsWrongKeySize(t *testing.T) {
	suite, err := GetSuite(SuiteSM4GCM)
	require.NoError(t, err)

	_, err = suite.Encrypt([]byte("secret"), make([]byte, 32))
	assert.Error(t, err)
}
