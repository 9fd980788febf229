package cmd

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteScanSecret(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader(bytes.Repeat([]byte{0x0a}, 32))

	require.NoError(t, writeScanSecret(buf, reader, 32))
	assert.Equal(t, "SCAN_SIGNING_SECRET="+strings.Repeat("0a", 32)+"\n", buf.String())
}

func TestWriteScanSecret_Rejects(t *testing.T) {
	assert.Error(t, writeScanSecret(&bytes.Buffer{}, bytes.NewReader(nil), 16))
	assert.Error(t, writeScanSecret(nil, bytes.NewReader(nil), 32))

	err := writeScanSecret(&bytes.Buffer{}, bytes.NewReader([]byte{0x01}), 32)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate random bytes")
}

func TestScanSecretCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	command := newScanSecretCommand(buf)
	command.SetArgs([]string{"--bytes", "48"})

	require.NoError(t, command.Execute())

	line := strings.TrimSpace(buf.String())
	require.True(t, strings.HasPrefix(line, "SCAN_SIGNING_SECRET="))

	secret, err := hex.DecodeString(strings.TrimPrefix(line, "SCAN_SIGNING_SECRET="))
	require.NoError(t, err)
	assert.Len(t, secret, 48)
}

func TestScanSecretCommand_RejectsArgs(t *testing.T) {
	command := newScanSecretCommand(&bytes.Buffer{})
	command.SetArgs([]string{"extra"})
	command.SetErr(&bytes.Buffer{})

	assert.Error(t, command.Execute())
}
