package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/permitflow/internal/testutil"
)

const appAddress = "0x2222222222222222222222222222222222222222"

func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, env := range privateKeyEnvs {
		testutil.UnsetEnv(t, env)
	}
}

func TestDetectStatus(t *testing.T) {
	t.Run("returns empty status for fresh directory", func(t *testing.T) {
		clearKeyEnv(t)
		dir := testutil.TempDir(t)

		status, err := DetectStatus(dir, "")
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, ConfigFile), status.ConfigPath)
		assert.False(t, status.HasConfig)
		assert.False(t, status.HasWallet)
		assert.Empty(t, status.AppAddress)
		assert.Empty(t, status.EnvKeyVar)
		assert.False(t, status.Complete())
	})

	t.Run("reads the app address from the config file", func(t *testing.T) {
		clearKeyEnv(t)
		dir := testutil.TempDir(t)
		path := filepath.Join(dir, ConfigFile)
		require.NoError(t, os.WriteFile(path, []byte("app_address: \""+appAddress+"\"\n"), 0600))

		status, err := DetectStatus(dir, "")
		require.NoError(t, err)

		assert.True(t, status.HasConfig)
		assert.Equal(t, appAddress, status.AppAddress)
		assert.False(t, status.Complete())
	})

	t.Run("ignores a malformed app address", func(t *testing.T) {
		clearKeyEnv(t)
		dir := testutil.TempDir(t)
		path := filepath.Join(dir, "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("app_address: nope\n"), 0600))

		status, err := DetectStatus(dir, path)
		require.NoError(t, err)
		assert.Empty(t, status.AppAddress)
	})

	t.Run("detects a private key in the environment", func(t *testing.T) {
		clearKeyEnv(t)
		testutil.SetEnv(t, "PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
		dir := testutil.TempDir(t)
		require.NoError(t, WriteConfig(filepath.Join(dir, ConfigFile), map[string]string{"app_address": appAddress}))

		status, err := DetectStatus(dir, "")
		require.NoError(t, err)

		assert.Equal(t, "PRIVATE_KEY", status.EnvKeyVar)
		assert.True(t, status.HasSigner())
		assert.True(t, status.Complete())
	})

	t.Run("detects wallet from keystore", func(t *testing.T) {
		clearKeyEnv(t)
		dir := testutil.TempDir(t)

		keystoreDir := filepath.Join(dir, "keystore")
		require.NoError(t, os.MkdirAll(keystoreDir, 0700))
		fakeKeyFile := filepath.Join(keystoreDir, "UTC--2024-01-01T00-00-00.000000000Z--0x1234567890123456789012345678901234567890")
		require.NoError(t, os.WriteFile(fakeKeyFile, []byte("{}"), 0600))

		status, err := DetectStatus(dir, "")
		require.NoError(t, err)

		assert.True(t, status.HasWallet)
		assert.True(t, status.HasSigner())
	})

	t.Run("ignores hidden files and directories in keystore", func(t *testing.T) {
		clearKeyEnv(t)
		dir := testutil.TempDir(t)

		keystoreDir := filepath.Join(dir, "keystore")
		require.NoError(t, os.MkdirAll(filepath.Join(keystoreDir, "subdir"), 0700))
		require.NoError(t, os.WriteFile(filepath.Join(keystoreDir, ".DS_Store"), []byte(""), 0600))

		status, err := DetectStatus(dir, "")
		require.NoError(t, err)

		assert.False(t, status.HasWallet)
	})
}

func TestWriteConfig(t *testing.T) {
	t.Run("creates the file with owner-only permissions", func(t *testing.T) {
		dir := testutil.TempDir(t)
		path := filepath.Join(dir, "nested", ConfigFile)

		require.NoError(t, WriteConfig(path, map[string]string{"app_address": appAddress}))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("merges into existing settings", func(t *testing.T) {
		dir := testutil.TempDir(t)
		path := filepath.Join(dir, ConfigFile)
		require.NoError(t, os.WriteFile(path, []byte("network: sepolia\nlog:\n  level: debug\n"), 0600))

		require.NoError(t, WriteConfig(path, map[string]string{
			"app_address": appAddress,
			"account":     "",
		}))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "network: sepolia")
		assert.Contains(t, string(raw), "level: debug")
		assert.Contains(t, string(raw), appAddress)
		assert.NotContains(t, string(raw), "account")
	})
}
