package varstore_test

import (
	"os"
	"testing"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/varstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomID(t *testing.T, name string) efi.VariableID {
	t.Helper()
	u, err := uuid.NewRandom()
	require.NoError(t, err)
	return efi.VariableID{GUID: efi.FromUUID(u), Name: name}
}

func TestMemoryWriteRead(t *testing.T) {
	m := varstore.NewMemory()
	id := randomID(t, "TestVar")

	require.NoError(t, m.Write(id, []byte{1, 2, 3}, efi.DefaultAttributes, 0o644))

	data, attrs, err := m.Read(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, efi.DefaultAttributes, attrs)

	info, err := m.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, varstore.Info{Size: 3, Attributes: efi.DefaultAttributes, Mode: 0o644}, info)

	// callers own the returned slice
	data[0] = 0xff
	again, _, err := m.Read(id)
	require.NoError(t, err)
	assert.Equal(t, byte(1), again[0])
}

func TestMemoryAttributeRules(t *testing.T) {
	m := varstore.NewMemory()
	id := randomID(t, "Rules")

	err := m.Write(id, []byte{0}, efi.NonVolatile|efi.RuntimeAccess, 0o644)
	assert.ErrorIs(t, err, efi.ErrInvalidAttributes)

	require.NoError(t, m.Write(id, []byte{0}, efi.DefaultAttributes, 0o644))
	err = m.Write(id, []byte{1}, efi.NonVolatile|efi.BootserviceAccess, 0o644)
	assert.ErrorIs(t, err, efi.ErrInvalidAttributes)

	// unknown bits are carried, not masked
	other := randomID(t, "Reserved")
	require.NoError(t, m.Write(other, nil, efi.BootserviceAccess|0x1000, 0o644))
	_, attrs, err := m.Read(other)
	require.NoError(t, err)
	assert.Equal(t, efi.BootserviceAccess|0x1000, attrs)
}

func TestMemoryAppend(t *testing.T) {
	m := varstore.NewMemory()
	id := randomID(t, "Log")

	require.NoError(t, m.Write(id, []byte("ab"), efi.DefaultAttributes|efi.AppendWrite, 0o600))
	require.NoError(t, m.Write(id, []byte("cd"), efi.DefaultAttributes|efi.AppendWrite, 0o644))

	data, attrs, err := m.Read(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)
	assert.Equal(t, efi.DefaultAttributes, attrs, "append bit is not stored")

	info, err := m.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, varstore.Info{Size: 4, Attributes: efi.DefaultAttributes, Mode: 0o600}, info, "mode only applies at creation")
}

func TestMemoryPermissions(t *testing.T) {
	m := varstore.NewMemory()
	id := randomID(t, "Locked")
	require.NoError(t, m.Write(id, []byte{1}, efi.DefaultAttributes, 0o444))

	assert.ErrorIs(t, m.Write(id, []byte{2}, efi.DefaultAttributes, 0o644), efi.ErrPermissionDenied)
	assert.ErrorIs(t, m.Remove(id), efi.ErrPermissionDenied)

	require.NoError(t, m.Chmod(id, 0o200))
	_, _, err := m.Read(id)
	assert.ErrorIs(t, err, efi.ErrPermissionDenied)

	require.NoError(t, m.Chmod(id, 0o644))
	require.NoError(t, m.Remove(id))
	assert.ErrorIs(t, m.Remove(id), efi.ErrNotFound)
	assert.ErrorIs(t, m.Chmod(id, 0o644), efi.ErrNotFound)
}

func TestMemoryNext(t *testing.T) {
	a := efi.MustParseGUID("11111111-1111-1111-1111-111111111111")
	b := efi.MustParseGUID("22222222-2222-2222-2222-222222222222")
	m := varstore.NewMemory(
		&efi.Variable{VariableID: efi.VariableID{GUID: b, Name: "A"}},
		&efi.Variable{VariableID: efi.VariableID{GUID: a, Name: "B"}},
		&efi.Variable{VariableID: efi.VariableID{GUID: a, Name: "A"}},
	)

	var got []efi.VariableID
	var cursor *efi.VariableID
	for {
		next, err := m.Next(cursor)
		require.NoError(t, err)
		if next == nil {
			break
		}
		got = append(got, *next)
		cursor = next
	}
	assert.Equal(t, []efi.VariableID{{GUID: a, Name: "A"}, {GUID: a, Name: "B"}, {GUID: b, Name: "A"}}, got)

	gone := efi.VariableID{GUID: a, Name: "Gone"}
	_, err := m.Next(&gone)
	assert.ErrorIs(t, err, efi.ErrIO)
}

func TestMemoryUnsupported(t *testing.T) {
	m := varstore.NewMemory()
	m.SetSupported(false)
	id := randomID(t, "Any")

	assert.False(t, m.Supported())
	_, err := m.Stat(id)
	assert.ErrorIs(t, err, efi.ErrUnavailable)
	assert.ErrorIs(t, m.Write(id, nil, efi.DefaultAttributes, 0o644), efi.ErrUnavailable)
	// availability is reported before attribute rules
	assert.ErrorIs(t, m.Write(id, nil, efi.RuntimeAccess, 0o644), efi.ErrUnavailable)
	_, err = m.Next(nil)
	assert.ErrorIs(t, err, efi.ErrUnavailable)
}

func TestMemorySnapshotLoad(t *testing.T) {
	m := varstore.NewMemory()
	id := randomID(t, "Snap")
	require.NoError(t, m.Write(id, []byte{7}, efi.DefaultAttributes, 0o600))

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Data[0] = 9

	data, _, err := m.Read(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, data)

	other := varstore.NewMemory()
	require.NoError(t, other.Load(m.Snapshot()))
	assert.Equal(t, 1, other.Len())
	info, err := other.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode)

	err = other.Load(efi.VariableList{{VariableID: id}, {VariableID: id}})
	assert.ErrorIs(t, err, efi.ErrAmbiguous)
}
