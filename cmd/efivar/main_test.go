package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

type harness struct {
	t      *testing.T
	config string
	store  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	color.NoColor = true

	dir := t.TempDir()
	h := &harness{
		t:      t,
		config: filepath.Join(dir, "efivar.yaml"),
		store:  filepath.Join(dir, "vars.json"),
	}
	body := fmt.Sprintf("backend: json\njson:\n  path: %q\nlog_level: info\n", h.store)
	require.NoError(t, os.WriteFile(h.config, []byte(body), 0o600))
	return h
}

func (h *harness) run(stdin string, args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config", h.config}, args...)
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestWriteAndPrint(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run("\x00\x00\x01\x00", "write", "--name", "BootOrder", "--datafile=-")
	require.Equal(t, 0, code, stderr)

	code, out, stderr := h.run("", "print", "--name", "BootOrder", "--raw")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "\x00\x00\x01\x00", out)

	code, out, _ = h.run("", "print", "--name", "BootOrder")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "GUID: {global}")
	assert.Contains(t, out, "Name: BootOrder")
	assert.Contains(t, out, "Non-Volatile")
	assert.Contains(t, out, "Runtime Service Access")
	assert.Contains(t, out, "00 00 01 00")
}

func TestWriteFromFile(t *testing.T) {
	h := newHarness(t)
	data := filepath.Join(t.TempDir(), "timeout.bin")
	require.NoError(t, os.WriteFile(data, []byte{5, 0}, 0o600))

	code, _, stderr := h.run("", "write", "--guid", "8be4df61-93ca-11d2-aa0d-00e098032b8c",
		"--name", "Timeout", "--attributes", "0x7", "--datafile", data)
	require.Equal(t, 0, code, stderr)

	code, out, _ := h.run("", "list")
	require.Equal(t, 0, code)
	assert.Equal(t, "8be4df61-93ca-11d2-aa0d-00e098032b8c-Timeout\n", out)
}

func TestAppend(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.run("ab", "write", "--name", "Log", "--datafile=-")
	require.Equal(t, 0, code)
	code, _, stderr := h.run("cd", "append", "--name", "Log", "--datafile=-")
	require.Equal(t, 0, code, stderr)

	_, out, _ := h.run("", "print", "--name", "Log", "--raw")
	assert.Equal(t, "abcd", out)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.run("x", "write", "--name", "Scratch", "--datafile=-")
	require.Equal(t, 0, code)
	code, _, _ = h.run("", "delete", "--name", "Scratch")
	require.Equal(t, 0, code)

	code, _, stderr := h.run("", "print", "--name", "Scratch")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "not found")

	code, _, _ = h.run("", "delete", "--name", "Scratch")
	assert.Equal(t, 2, code)
}

func TestInvalidInput(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown guid symbol", []string{"print", "--guid", "no_such_vendor", "--name", "X"}},
		{"bad attributes", []string{"write", "--name", "X", "--attributes", "NV|XX", "--datafile=-"}},
		{"bad mode", []string{"write", "--name", "X", "--mode", "999", "--datafile=-"}},
		{"runtime without boot service", []string{"write", "--name", "X", "--attributes", "NV|RT", "--datafile=-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := h.run("", tt.args...)
			assert.Equal(t, 22, code)
		})
	}
}

func TestGuids(t *testing.T) {
	h := newHarness(t)

	code, out, _ := h.run("", "guids")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "8be4df61-93ca-11d2-aa0d-00e098032b8c")
	assert.Contains(t, out, "{global}")
}

func TestExportImport(t *testing.T) {
	src := newHarness(t)
	code, _, _ := src.run("\x01\x02", "write", "--name", "BootNext", "--datafile=-")
	require.Equal(t, 0, code)

	code, doc, stderr := src.run("", "export", "--format", "yaml")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, doc, "name: BootNext")
	assert.Contains(t, doc, "0102")

	file := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o600))
	dst := newHarness(t)
	code, _, stderr = dst.run("", "import", file)
	require.Equal(t, 0, code, stderr)

	code, out, _ := dst.run("", "export")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"version": 2`)
	assert.Contains(t, out, `"name": "BootNext"`)
	assert.Contains(t, out, `"data": "0102"`)
}

func TestBackendOverride(t *testing.T) {
	h := newHarness(t)

	code, out, stderr := h.run("", "--backend", "memory", "list")
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, out)

	code, _, _ = h.run("", "--backend", "floppy", "list")
	assert.Equal(t, 1, code)
}

func TestExitCode(t *testing.T) {
	id := efi.VariableID{GUID: efi.GlobalVariable(), Name: "X"}
	tests := []struct {
		err  error
		want int
	}{
		{efi.NewError(efi.KindNotFound, "read", &id, nil), 2},
		{efi.NewError(efi.KindPermissionDenied, "write", &id, nil), 13},
		{efi.NewError(efi.KindInvalidArgument, "write", &id, nil), 22},
		{fmt.Errorf("wrapped: %w", efi.NewError(efi.KindInvalidAttributes, "write", &id, nil)), 22},
		{efi.NewError(efi.KindIO, "read", &id, nil), 1},
		{errors.New("plain"), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}

func TestBoot(t *testing.T) {
	h := newHarness(t)

	file, err := efi.FilePathNode(`\EFI\BOOT\BOOTX64.EFI`)
	require.NoError(t, err)
	opt := &efi.LoadOption{
		Attributes:  efi.LoadOptionActive,
		Description: "UEFI Misc Device",
		FilePath:    efi.DevicePath{efi.PCIRootNode(0), efi.PCINode(2, 0), file},
	}
	raw, err := opt.Bytes()
	require.NoError(t, err)

	code, _, stderr := h.run(string(raw), "write", "--name", "Boot0003", "--datafile=-")
	require.Equal(t, 0, code, stderr)

	code, out, stderr := h.run("", "boot", "--order", "0003", "--next", "3", "--verbose-paths")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "BootNext: 0003\nBootOrder: 0003\n"+
		"Boot0003* UEFI Misc Device\tPciRoot(0x0)/Pci(0x2,0x0)/\\EFI\\BOOT\\BOOTX64.EFI\n", out)

	code, _, _ = h.run("", "boot", "--order", "zz")
	assert.Equal(t, 22, code)
}

func TestUsageErrorsHaveTheirOwnStatus(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"list", "--bogus"}},
		{"missing required flag", []string{"print"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := h.run("", tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}

	code, _, _ := h.run("", "print", "--name", "Missing")
	assert.Equal(t, 2, code)
}
