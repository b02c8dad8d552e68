package encryption_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tokenrelay/token-relay/internal/cache/encryption"
)

func writeKeyset(t *testing.T) string {
	t.Helper()

	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keyset.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	err = insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f))
	require.NoError(t, err)

	return path
}

func TestNewAEADFromFile(t *testing.T) {
	path := writeKeyset(t)

	primitive, err := encryption.NewAEADFromFile(path)
	require.NoError(t, err)

	ciphertext, err := primitive.Encrypt([]byte("eyJhbGciOi..."), []byte("auth0-client-1-abc"))
	require.NoError(t, err)

	plaintext, err := primitive.Decrypt(ciphertext, []byte("auth0-client-1-abc"))
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi...", string(plaintext))

	_, err = primitive.Decrypt(ciphertext, []byte("auth0-client-2-abc"))
	assert.Error(t, err, "associated data must bind ciphertext to its key")
}

func TestNewAEADFromFile_Missing(t *testing.T) {
	_, err := encryption.NewAEADFromFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "opening keyset file")
}

func TestNewAEADFromFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyset.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"a keyset"}`), 0o600))

	_, err := encryption.NewAEADFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	primitive, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	assert.NoError(t, encryption.Validate(primitive))
}
