package efivar

import (
	"encoding/binary"
	"errors"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

// BootEntry is a decoded Boot#### variable.
type BootEntry struct {
	Number uint16
	Option *efi.LoadOption
}

// BootConfig is the boot manager state kept in the global namespace.
// Missing variables leave the pointer fields nil.
type BootConfig struct {
	Current *uint16
	Next    *uint16
	Timeout *uint16
	Order   []uint16
	Entries []BootEntry
}

// BootOrder returns the decoded BootOrder variable.
func (c *Client) BootOrder() ([]uint16, error) {
	data, _, err := c.Get(efi.GlobalVariable(), efi.BootOrderName)
	if err != nil {
		return nil, err
	}
	return efi.ParseBootOrder(data)
}

// SetBootOrder replaces BootOrder.
func (c *Client) SetBootOrder(order []uint16) error {
	return c.Set(efi.GlobalVariable(), efi.BootOrderName, efi.BootOrderBytes(order), efi.DefaultAttributes)
}

// SetBootNext selects the option used on the next boot only.
func (c *Client) SetBootNext(n uint16) error {
	return c.Set(efi.GlobalVariable(), efi.BootNextName, efi.BootOrderBytes([]uint16{n}), efi.DefaultAttributes)
}

// BootOption reads and decodes Boot####.
func (c *Client) BootOption(n uint16) (*efi.LoadOption, error) {
	data, _, err := c.Get(efi.GlobalVariable(), efi.BootOptionName(n))
	if err != nil {
		return nil, err
	}
	return efi.ParseLoadOption(data)
}

// SetBootOption encodes opt into Boot####.
func (c *Client) SetBootOption(n uint16, opt *efi.LoadOption) error {
	data, err := opt.Bytes()
	if err != nil {
		return err
	}
	return c.Set(efi.GlobalVariable(), efi.BootOptionName(n), data, efi.DefaultAttributes)
}

// BootConfig collects the boot manager variables. Entries are listed in
// BootOrder first, then any Boot#### not referenced by it in name order.
func (c *Client) BootConfig() (*BootConfig, error) {
	cfg := &BootConfig{}
	var err error
	if cfg.Current, err = c.optionalUint16(efi.BootCurrentName); err != nil {
		return nil, err
	}
	if cfg.Next, err = c.optionalUint16(efi.BootNextName); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = c.optionalUint16(efi.TimeoutName); err != nil {
		return nil, err
	}
	cfg.Order, err = c.BootOrder()
	if err != nil && !errors.Is(err, efi.ErrNotFound) {
		return nil, err
	}

	numbers := append([]uint16{}, cfg.Order...)
	listed := make(map[uint16]bool, len(numbers))
	for _, n := range numbers {
		listed[n] = true
	}
	for id, err := range c.Variables() {
		if err != nil {
			return nil, err
		}
		if id.GUID != efi.GlobalVariable() {
			continue
		}
		if n, ok := efi.ParseBootOptionName(id.Name); ok && !listed[n] {
			listed[n] = true
			numbers = append(numbers, n)
		}
	}

	for _, n := range numbers {
		opt, err := c.BootOption(n)
		if errors.Is(err, efi.ErrNotFound) {
			// BootOrder may name options that were since deleted
			continue
		}
		if err != nil {
			return nil, err
		}
		cfg.Entries = append(cfg.Entries, BootEntry{Number: n, Option: opt})
	}
	return cfg, nil
}

func (c *Client) optionalUint16(name string) (*uint16, error) {
	data, _, err := c.Get(efi.GlobalVariable(), name)
	if errors.Is(err, efi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) != 2 {
		return nil, efi.Errorf(efi.KindParse, "parse "+name, "want 2 bytes, got %d", len(data))
	}
	v := binary.LittleEndian.Uint16(data)
	return &v, nil
}
