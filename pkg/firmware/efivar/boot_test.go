package efivar_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/efivar"
	"github.com/bmcpi/efivar/pkg/firmware/varstore"
)

func bootOption(t *testing.T, desc, path string) *efi.LoadOption {
	t.Helper()
	file, err := efi.FilePathNode(path)
	require.NoError(t, err)
	return &efi.LoadOption{
		Attributes:  efi.LoadOptionActive,
		Description: desc,
		FilePath:    efi.DevicePath{efi.PCIRootNode(0), efi.PCINode(3, 0), file},
	}
}

func TestBootOptionRoundTrip(t *testing.T) {
	c := efivar.New(varstore.NewMemory())
	opt := bootOption(t, "debian", `\EFI\debian\shimx64.efi`)

	require.NoError(t, c.SetBootOption(4, opt))

	data, attrs, err := c.Get(efi.GlobalVariable(), "Boot0004")
	require.NoError(t, err)
	assert.Equal(t, efi.DefaultAttributes, attrs)
	assert.NotEmpty(t, data)

	got, err := c.BootOption(4)
	require.NoError(t, err)
	assert.Equal(t, "debian", got.Description)
	assert.Equal(t, `PciRoot(0x0)/Pci(0x3,0x0)/\EFI\debian\shimx64.efi`, got.FilePath.String())

	_, err = c.BootOption(5)
	assert.ErrorIs(t, err, efi.ErrNotFound)
}

func TestBootConfig(t *testing.T) {
	c := efivar.New(varstore.NewMemory())

	require.NoError(t, c.SetBootOption(0, bootOption(t, "UEFI Shell", `\shell.efi`)))
	require.NoError(t, c.SetBootOption(1, bootOption(t, "debian", `\EFI\debian\grubx64.efi`)))
	hidden := bootOption(t, "Recovery", `\EFI\recovery.efi`)
	hidden.SetActive(false)
	require.NoError(t, c.SetBootOption(0x10, hidden))
	// BootOrder lists an option that no longer exists
	require.NoError(t, c.SetBootOrder([]uint16{1, 7, 0}))
	require.NoError(t, c.SetBootNext(0))
	require.NoError(t, c.Set(efi.GlobalVariable(), efi.TimeoutName, []byte{5, 0}, efi.DefaultAttributes))
	// same name in another namespace is not a boot option
	require.NoError(t, c.Set(efi.ShimLock(), "Boot0002", []byte{1}, efi.DefaultAttributes))

	cfg, err := c.BootConfig()
	require.NoError(t, err)

	assert.Nil(t, cfg.Current)
	require.NotNil(t, cfg.Next)
	assert.Equal(t, uint16(0), *cfg.Next)
	require.NotNil(t, cfg.Timeout)
	assert.Equal(t, uint16(5), *cfg.Timeout)
	assert.Equal(t, []uint16{1, 7, 0}, cfg.Order)

	numbers := make([]uint16, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		numbers = append(numbers, e.Number)
	}
	assert.Equal(t, []uint16{1, 0, 0x10}, numbers)
	assert.False(t, cfg.Entries[2].Option.Active())
}

func TestBootConfigEmpty(t *testing.T) {
	c := efivar.New(varstore.NewMemory())

	cfg, err := c.BootConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg.Next)
	assert.Empty(t, cfg.Order)
	assert.Empty(t, cfg.Entries)
}

func TestBootConfigBadTimeout(t *testing.T) {
	c := efivar.New(varstore.NewMemory())
	require.NoError(t, c.Set(efi.GlobalVariable(), efi.TimeoutName, []byte{5}, efi.DefaultAttributes))

	_, err := c.BootConfig()
	assert.ErrorIs(t, err, efi.ErrInvalidFormat)
}
