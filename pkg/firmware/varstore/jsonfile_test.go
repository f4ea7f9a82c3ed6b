package varstore_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/varstore"
)

const testJSONPath = "/var/lib/efivar/vars.json"

func TestJSONFileCreatesOnWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	j, err := varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	require.NoError(t, err)
	assert.True(t, j.Supported())

	exists, err := afero.Exists(fs, testJSONPath)
	require.NoError(t, err)
	assert.False(t, exists)

	id := efi.VariableID{GUID: efi.ShimLock(), Name: "MokSBState"}
	require.NoError(t, j.Write(id, []byte{1}, efi.NonVolatile|efi.BootserviceAccess, 0o644))

	raw, err := afero.ReadFile(fs, testJSONPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2,"variables":[
		{"name":"MokSBState","guid":"605dab50-e046-4300-abb6-3dd810dd8b23","attr":3,"data":"01"}]}`, string(raw))
}

func TestJSONFileReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	j, err := varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	require.NoError(t, err)

	ids := []efi.VariableID{
		{GUID: efi.GlobalVariable(), Name: "Timeout"},
		{GUID: efi.GlobalVariable(), Name: "BootOrder"},
		{GUID: efi.ShimLock(), Name: "MokList"},
	}
	for i, id := range ids {
		require.NoError(t, j.Write(id, []byte{byte(i)}, efi.DefaultAttributes, 0o644))
	}
	require.NoError(t, j.Remove(ids[0]))

	again, err := varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	require.NoError(t, err)
	if diff := cmp.Diff(j.Variables(), again.Variables()); diff != "" {
		t.Errorf("reloaded store differs (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, again.Len())
}

func TestJSONFileInvalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testJSONPath, []byte(`{"version":9,"variables":[]}`), 0o644))

	_, err := varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	assert.ErrorIs(t, err, efi.ErrInvalidFormat)

	require.NoError(t, afero.WriteFile(fs, testJSONPath, []byte(`not json`), 0o644))
	_, err = varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	var syntax *json.SyntaxError
	assert.ErrorAs(t, err, &syntax)
}

// tornWriteFs fails every write after storing half of the buffer.
type tornWriteFs struct {
	afero.Fs
	armed bool
}

type tornFile struct {
	afero.File
}

func (f tornFile) Write(p []byte) (int, error) {
	n, _ := f.File.Write(p[:len(p)/2])
	return n, errors.New("device full")
}

func (fs *tornWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := fs.Fs.OpenFile(name, flag, perm)
	if err != nil || !fs.armed {
		return f, err
	}
	return tornFile{f}, nil
}

func TestJSONFileFailedSaveKeepsDocument(t *testing.T) {
	fs := &tornWriteFs{Fs: afero.NewMemMapFs()}
	j, err := varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	require.NoError(t, err)

	kept := efi.VariableID{GUID: efi.GlobalVariable(), Name: "Timeout"}
	require.NoError(t, j.Write(kept, []byte{5, 0}, efi.DefaultAttributes, 0o644))
	before, err := afero.ReadFile(fs, testJSONPath)
	require.NoError(t, err)

	fs.armed = true
	lost := efi.VariableID{GUID: efi.GlobalVariable(), Name: "BootNext"}
	err = j.Write(lost, []byte{1, 0}, efi.DefaultAttributes, 0o644)
	assert.ErrorIs(t, err, efi.ErrIO)
	fs.armed = false

	after, err := afero.ReadFile(fs, testJSONPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	entries, err := afero.ReadDir(fs, filepath.Dir(testJSONPath))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(testJSONPath), entries[0].Name())

	_, err = j.Stat(lost)
	assert.ErrorIs(t, err, efi.ErrNotFound)

	reopened, err := varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
}

func TestJSONFileKeepsFileMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testJSONPath, []byte(`{"version":2,"variables":[]}`), 0o600))
	j, err := varstore.NewJSONFile(fs, testJSONPath, logr.Discard())
	require.NoError(t, err)

	id := efi.VariableID{GUID: efi.GlobalVariable(), Name: "Timeout"}
	require.NoError(t, j.Write(id, []byte{5, 0}, efi.DefaultAttributes, 0o644))

	fi, err := fs.Stat(testJSONPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}
