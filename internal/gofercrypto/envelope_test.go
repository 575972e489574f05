package gofercrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	masterKey := DeriveMasterKey("correct horse battery staple", "ns-1")
	subject := []byte("ns-1/pipeline-1/db-password")

	ciphertext, err := EncryptEnvelope(masterKey, subject, "secret_store", []byte("hunter2"))
	require.NoError(t, err)
	assert.Contains(t, string(ciphertext), "v1:")

	plaintext, err := DecryptEnvelope(masterKey, subject, "secret_store", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestDecryptWrongSubjectFails(t *testing.T) {
	masterKey := DeriveMasterKey("pass", "ns-1")
	ciphertext, err := EncryptEnvelope(masterKey, []byte("subject-a"), "secret_store", []byte("value"))
	require.NoError(t, err)

	_, err = DecryptEnvelope(masterKey, []byte("subject-b"), "secret_store", ciphertext)
	assert.Error(t, err)
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	masterKey := DeriveMasterKey("pass", "ns-1")
	ciphertext, err := EncryptEnvelope(masterKey, []byte("subject"), "secret_store", nil)
	require.NoError(t, err)
	assert.Nil(t, ciphertext)
}
