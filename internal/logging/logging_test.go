package logging

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Options{Level: "warn", Console: &buf})
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })

		l.Info("hidden")
		l.Warn("shown", zap.String("flow", "signatureTransfer"))

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
		assert.Contains(t, buf.String(), "signatureTransfer")
		assert.Contains(t, buf.String(), l.RunID)
		assert.Empty(t, l.Path)
	})

	t.Run("writes run transcript", func(t *testing.T) {
		dir := t.TempDir()
		var buf bytes.Buffer
		l, err := New(Options{Level: "error", DataDir: dir, RunID: "run-1", Console: &buf})
		require.NoError(t, err)

		l.Debug("signing permit", zap.Uint64("nonce", 3))
		require.NoError(t, l.Close())

		path := filepath.Join(dir, "runs", "run-1.jsonl")
		assert.Equal(t, path, l.Path)

		st, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"msg":"signing permit"`)
		assert.Contains(t, string(b), `"run_id":"run-1"`)
		assert.Empty(t, buf.String())
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Options{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("generates run ids", func(t *testing.T) {
		assert.NotEqual(t, NewRunID(), NewRunID())
	})

	t.Run("masks project keys in every sink", func(t *testing.T) {
		const key = "SECRETPROJECTKEY"
		url := "https://sepolia.infura.io/v3/" + key
		dir := t.TempDir()
		var buf bytes.Buffer
		l, err := New(Options{Level: "debug", DataDir: dir, RunID: "run-2", Console: &buf})
		require.NoError(t, err)

		rpcErr := fmt.Errorf(`Post "%s": dial tcp 127.0.0.1:1: connect: connection refused`, url)
		l.With(zap.String("rpc_url", url)).Error("failed to read chain id from "+url,
			zap.String("flow", "signatureTransfer"),
			zap.Error(rpcErr),
		)
		require.NoError(t, l.Close())

		b, err := os.ReadFile(l.Path)
		require.NoError(t, err)
		for name, out := range map[string]string{"console": buf.String(), "transcript": string(b)} {
			assert.NotContains(t, out, key, name)
			assert.Contains(t, out, "/v3/"+Redacted, name)
			assert.Contains(t, out, "connection refused", name)
		}
	})

	t.Run("nil close", func(t *testing.T) {
		var l *Logger
		assert.NoError(t, l.Close())
	})
}

func TestRedactSettings_Lists(t *testing.T) {
	out := RedactSettings(map[string]any{
		"signers": []any{map[string]any{"private_key": "0xabc", "keep": 1}},
	})
	list, ok := out["signers"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, map[string]any{"private_key": Redacted, "keep": 1}, list[0])
}

func TestRedactSettings(t *testing.T) {
	in := map[string]any{
		"network":     "sepolia",
		"private_key": "0xabc",
		"password":    "",
		"rpc_url":     "https://sepolia.infura.io/v3/abcdef",
		"redis":       map[string]any{"addr": "localhost:6379", "password": "pw"},
	}
	out := RedactSettings(in)

	assert.Equal(t, "sepolia", out["network"])
	assert.Equal(t, Redacted, out["private_key"])
	assert.Equal(t, "", out["password"])
	assert.Equal(t, "https://sepolia.infura.io/v3/"+Redacted, out["rpc_url"])
	assert.Equal(t, Redacted, out["redis"].(map[string]any)["password"])
	assert.Equal(t, "0xabc", in["private_key"])
}

func TestRedactText(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: `Post "https://sepolia.infura.io/v3/abc123": EOF`, want: `Post "https://sepolia.infura.io/v3/` + Redacted + `": EOF`},
		{in: "wss://eth-sepolia.g.alchemy.com/v2/k-ey_1/ws", want: "wss://eth-sepolia.g.alchemy.com/v2/" + Redacted + "/ws"},
		{in: "dial tcp 127.0.0.1:8545: connect: connection refused", want: "dial tcp 127.0.0.1:8545: connect: connection refused"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RedactText(tc.in), tc.in)
	}
}

func TestRedactError(t *testing.T) {
	assert.NoError(t, RedactError(nil))

	plain := errors.New("execution reverted")
	assert.Same(t, plain, RedactError(plain))

	cause := errors.New("connection refused")
	err := RedactError(fmt.Errorf(`Post "https://sepolia.infura.io/v3/abc123": %w`, cause))
	assert.NotContains(t, err.Error(), "abc123")
	assert.ErrorIs(t, err, cause)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8545", RedactURL("http://localhost:8545"))
	assert.Equal(t, "https://x.infura.io/v3/", RedactURL("https://x.infura.io/v3/"))
}
