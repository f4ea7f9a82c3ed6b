package efivar

import (
	"os"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/varstore"
)

// DefaultMode is used by Set when no mode is given.
const DefaultMode = varstore.DefaultMode

// Set creates or replaces a variable. At most one mode may be given; it
// defaults to DefaultMode.
func (c *Client) Set(guid efi.GUID, name string, data []byte, attrs efi.Attributes, mode ...os.FileMode) error {
	switch len(mode) {
	case 0:
		return c.SetMode(guid, name, data, attrs, DefaultMode)
	case 1:
		return c.SetMode(guid, name, data, attrs, mode[0])
	default:
		return efi.Errorf(efi.KindInvalidArgument, "set", "at most one mode allowed, got %d", len(mode))
	}
}
