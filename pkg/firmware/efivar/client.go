// Package efivar reads and writes UEFI variables through a storage backend.
package efivar

import (
	"os"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/varstore"
)

// Client is the variable store access API. It holds no state besides its
// backend and is safe for concurrent use when the backend is.
type Client struct {
	backend varstore.Backend
}

// New returns a client over backend.
func New(backend varstore.Backend) *Client {
	return &Client{backend: backend}
}

// Backend returns the store the client drives.
func (c *Client) Backend() varstore.Backend {
	return c.backend
}

// VariablesSupported reports whether the platform exposes variables.
func (c *Client) VariablesSupported() bool {
	return c.backend.Supported()
}

func identity(guid efi.GUID, name string) (efi.VariableID, error) {
	return efi.NewVariableID(guid, name)
}

// GetSize returns the size of the variable's data in bytes.
func (c *Client) GetSize(guid efi.GUID, name string) (int, error) {
	id, err := identity(guid, name)
	if err != nil {
		return 0, err
	}
	info, err := c.backend.Stat(id)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// GetAttributes returns the variable's attribute bitmask.
func (c *Client) GetAttributes(guid efi.GUID, name string) (efi.Attributes, error) {
	id, err := identity(guid, name)
	if err != nil {
		return 0, err
	}
	info, err := c.backend.Stat(id)
	if err != nil {
		return 0, err
	}
	return info.Attributes, nil
}

// Get returns a copy of the variable's data and its attributes.
func (c *Client) Get(guid efi.GUID, name string) ([]byte, efi.Attributes, error) {
	id, err := identity(guid, name)
	if err != nil {
		return nil, 0, err
	}
	data, attrs, err := c.backend.Read(id)
	if err != nil {
		return nil, 0, err
	}
	return append([]byte{}, data...), attrs, nil
}

// Read returns the variable as a record, mode included.
func (c *Client) Read(id efi.VariableID) (*efi.Variable, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	info, err := c.backend.Stat(id)
	if err != nil {
		return nil, err
	}
	data, attrs, err := c.backend.Read(id)
	if err != nil {
		return nil, err
	}
	if len(data) < info.Size {
		return nil, efi.Truncated("read", &id, nil)
	}
	return &efi.Variable{VariableID: id, Attributes: attrs, Data: data, Mode: info.Mode}, nil
}

// Delete removes the variable. Deleting a variable that does not exist
// fails with ErrNotFound.
func (c *Client) Delete(guid efi.GUID, name string) error {
	id, err := identity(guid, name)
	if err != nil {
		return err
	}
	return c.backend.Remove(id)
}

// SetMode creates or replaces the variable. mode is the permission given
// to the persisted object when the variable is created.
func (c *Client) SetMode(guid efi.GUID, name string, data []byte, attrs efi.Attributes, mode os.FileMode) error {
	id, err := identity(guid, name)
	if err != nil {
		return err
	}
	return c.backend.Write(id, data, attrs, mode)
}

// Append adds data to the end of the variable. Whether appending to a
// missing variable creates it is up to the backend.
func (c *Client) Append(guid efi.GUID, name string, data []byte, attrs efi.Attributes) error {
	return c.SetMode(guid, name, data, attrs|efi.AppendWrite, DefaultMode)
}

// Chmod changes the permission of the persisted variable.
func (c *Client) Chmod(guid efi.GUID, name string, mode os.FileMode) error {
	id, err := identity(guid, name)
	if err != nil {
		return err
	}
	return c.backend.Chmod(id, mode)
}

// Next returns the identity following cursor. A nil cursor starts the
// enumeration and a nil result ends it. If the variable under the cursor
// was removed meanwhile the backend fails with ErrIO.
func (c *Client) Next(cursor *efi.VariableID) (*efi.VariableID, error) {
	return c.backend.Next(cursor)
}
