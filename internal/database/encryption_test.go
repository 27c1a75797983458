package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"meshbridge/internal/constants"
	"meshbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-test-secret-of-sufficient-length"

func TestNewEncryptor_DisabledByDefault(t *testing.T) {
	t.Setenv(constants.EncryptionEnableEnv, "")
	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.False(t, enc.enabled())

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestNewEncryptor_RequiresSecret(t *testing.T) {
	t.Setenv(constants.EncryptionEnableEnv, "true")
	t.Setenv(constants.EncryptionSecretEnv, "")
	_, err := NewEncryptor()
	assert.ErrorContains(t, err, constants.EncryptionSecretEnv)

	t.Setenv(constants.EncryptionSecretEnv, "short")
	_, err = NewEncryptor()
	assert.ErrorContains(t, err, "at least 32 characters")
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)

	a, err := enc.Encrypt("hello world")
	require.NoError(t, err)
	b, err := enc.Encrypt("hello world")
	require.NoError(t, err)
	assert.NotEqual(t, "hello world", a)
	assert.NotEqual(t, a, b, "nonces must differ")

	plain, err := enc.Decrypt(a)
	require.NoError(t, err)
	assert.Equal(t, "hello world", plain)

	empty, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEncryptor_DecryptErrors(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)

	_, err = enc.Decrypt("%%%not-base64")
	assert.ErrorContains(t, err, "base64")

	_, err = enc.Decrypt("YWJj")
	assert.ErrorContains(t, err, "too short")

	other, err := newEncryptorWithSecret(strings.Repeat("z", 40))
	require.NoError(t, err)
	sealed, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	assert.ErrorContains(t, err, "failed to decrypt")
}

func TestDatabase_EncryptsContentAtRest(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)
	db, err := open(filepath.Join(t.TempDir(), "enc.db"), enc)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertDirectMessage(ctx, models.DirectMessageRecord{SenderID: "U1", RecipientID: "U2", Content: "private words", MessageType: "text"}))

	var raw string
	require.NoError(t, db.db.QueryRowContext(ctx, "SELECT content FROM direct_messages").Scan(&raw))
	assert.NotContains(t, raw, "private words")

	got, err := db.DirectMessagesFor(ctx, "U2", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "private words", got[0].Content)
}
