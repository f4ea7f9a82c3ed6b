package efivar

import (
	"iter"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

// Variables yields every variable identity once. Iteration stops after the
// first error, which is yielded with a zero identity.
func (c *Client) Variables() iter.Seq2[efi.VariableID, error] {
	return func(yield func(efi.VariableID, error) bool) {
		var cursor *efi.VariableID
		for {
			next, err := c.backend.Next(cursor)
			if err != nil {
				yield(efi.VariableID{}, err)
				return
			}
			if next == nil {
				return
			}
			if !yield(*next, nil) {
				return
			}
			cursor = next
		}
	}
}

// List reads every variable into a list sorted by identity.
func (c *Client) List() (efi.VariableList, error) {
	var list efi.VariableList
	for id, err := range c.Variables() {
		if err != nil {
			return nil, err
		}
		v, err := c.Read(id)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	list.Sort()
	return list, nil
}
