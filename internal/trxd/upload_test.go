package trxd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t,
		`mkdir -p '/tmp/trx d' && cat > '/tmp/trx d/lms.ini'`,
		uploadCommand("/tmp/trx d", "/tmp/trx d/lms.ini"))
}

func TestNewSSHUploaderDefaults(t *testing.T) {
	_, err := NewSSHUploader(SSHConfig{})
	require.Error(t, err, "host is required")

	u, err := NewSSHUploader(SSHConfig{Host: "lime.local"})
	require.NoError(t, err)
	assert.Equal(t, "root", u.cfg.User)
	assert.Equal(t, 22, u.cfg.Port)
	assert.Equal(t, "/tmp/trxd/lms.ini", u.RemotePath("/home/op/cfg/lms.ini"))
}

func TestUploadFailsWithoutCredentials(t *testing.T) {
	local := filepath.Join(t.TempDir(), "missing.ini")
	u, err := NewSSHUploader(SSHConfig{Host: "127.0.0.1"})
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), local)
	assert.Error(t, err, "missing local file")
	_, err = authMethods(u.cfg)
	assert.Error(t, err, "neither password nor key")
}
