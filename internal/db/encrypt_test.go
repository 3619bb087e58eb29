package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := New(Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "settings.db"), Logger: zap.NewNop()})
	require.NoError(t, err)
	return gdb
}

func TestInitEncryptionFromPassphraseDerivesUsableKey(t *testing.T) {
	require.NoError(t, InitEncryptionFromPassphrase("correct horse battery staple", "fixed-app-salt"))

	val := EncryptedString("sk-super-secret-api-key")
	stored, err := val.Value()
	require.NoError(t, err)

	var roundtripped EncryptedString
	require.NoError(t, roundtripped.Scan(stored))
	assert.Equal(t, val, roundtripped)
}

func TestInitEncryptionFromPassphraseRejectsEmptyInputs(t *testing.T) {
	assert.Error(t, InitEncryptionFromPassphrase("", "salt"))
	assert.Error(t, InitEncryptionFromPassphrase("passphrase", ""))
}

func TestInitEncryptionFromPassphraseIsDeterministicAcrossCalls(t *testing.T) {
	require.NoError(t, InitEncryptionFromPassphrase("another passphrase", "another-salt"))
	val := EncryptedString("plain text value")
	first, err := val.Value()
	require.NoError(t, err)

	// Re-deriving the key from the same passphrase/salt must decrypt data
	// sealed under the first derivation.
	require.NoError(t, InitEncryptionFromPassphrase("another passphrase", "another-salt"))
	var roundtripped EncryptedString
	require.NoError(t, roundtripped.Scan(first))
	assert.Equal(t, val, roundtripped)
}

func TestGetSettingReturnsEmptyForMissingKey(t *testing.T) {
	gdb := openTestDB(t)
	got, err := GetSetting(context.Background(), gdb, "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestSetSettingThenGetSettingRoundtrips(t *testing.T) {
	require.NoError(t, InitEncryptionFromPassphrase("settings test passphrase", "settings-test-salt"))
	gdb := openTestDB(t)

	require.NoError(t, SetSetting(context.Background(), gdb, "llm_api_key", "sk-rotated-key"))
	got, err := GetSetting(context.Background(), gdb, "llm_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-rotated-key", got)
}

func TestSetSettingOverwritesExistingValue(t *testing.T) {
	require.NoError(t, InitEncryptionFromPassphrase("settings test passphrase", "settings-test-salt"))
	gdb := openTestDB(t)

	require.NoError(t, SetSetting(context.Background(), gdb, "llm_api_key", "sk-first"))
	require.NoError(t, SetSetting(context.Background(), gdb, "llm_api_key", "sk-second"))

	got, err := GetSetting(context.Background(), gdb, "llm_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-second", got)
}
