package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/efivar/pkg/firmware"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "efivar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
backend: edk2
edk2:
  path: /var/lib/libvirt/qemu/nvram/vm_VARS.fd
default_mode: "0600"
log_level: debug
log_format: text
`)

	conf, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, firmware.BackendEdk2, conf.Backend)
	assert.Equal(t, "/sys/firmware/efi/efivars", conf.Efivarfs.Path)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, "text", conf.LogFormat)

	mode, err := conf.Mode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), mode)

	opts := conf.FirmwareOptions()
	assert.Equal(t, firmware.Options{
		Backend:      firmware.BackendEdk2,
		EfivarfsPath: "/sys/firmware/efi/efivars",
		Edk2Path:     "/var/lib/libvirt/qemu/nvram/vm_VARS.fd",
	}, opts)
}

func TestNewConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "backend: edk2\n")
	t.Setenv("EFIVAR_BACKEND", "json")
	t.Setenv("EFIVAR_JSON_PATH", "/tmp/vars.json")

	conf, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, firmware.BackendJSON, conf.Backend)
	assert.Equal(t, "/tmp/vars.json", conf.JSON.Path)
}

func TestNewConfigErrors(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = NewConfig(writeConfig(t, "backend: nvram\n"))
	assert.ErrorContains(t, err, "unknown backend")

	_, err = NewConfig(writeConfig(t, "log_format: xml\n"))
	assert.ErrorContains(t, err, "unknown log_format")
}

func TestConfigMode(t *testing.T) {
	testCases := []struct {
		in      string
		want    os.FileMode
		wantErr bool
	}{
		{"0644", 0o644, false},
		{"600", 0o600, false},
		{"0o640", 0o640, false},
		{"0999", 0, true},
		{"01777", 0, true},
		{"", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			c := &Config{DefaultMode: tc.in}
			mode, err := c.Mode()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, mode)
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	assert.True(t, defaultLogger("debug", "json").V(1).Enabled())
	assert.False(t, defaultLogger("info", "json").V(1).Enabled())
	assert.NotNil(t, defaultLogger("info", "text").GetSink())
}
