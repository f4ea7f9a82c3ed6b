package efi_test

import (
	"testing"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUCS16(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		encoded []byte
	}{
		{"ascii", "Boot", []byte{'B', 0, 'o', 0, 'o', 0, 't', 0, 0, 0}},
		{"single", "X", []byte{'X', 0, 0, 0}},
		{"non-ascii", "Zürich", []byte{'Z', 0, 0xfc, 0, 'r', 0, 'i', 0, 'c', 0, 'h', 0, 0, 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := efi.UTF8ToUCS16(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.encoded, b)

			// Trailing bytes after the terminator are not consumed.
			s, n, err := efi.UCS16ToUTF8(append(b, 0xff, 0xff))
			require.NoError(t, err)
			assert.Equal(t, tc.input, s)
			assert.Equal(t, len(tc.encoded), n)
		})
	}
}

func TestUCS16MissingTerminator(t *testing.T) {
	_, _, err := efi.UCS16ToUTF8([]byte{'A', 0, 'B', 0})
	assert.ErrorIs(t, err, efi.ErrInvalidFormat)

	_, _, err = efi.UCS16ToUTF8([]byte{'A'})
	assert.ErrorIs(t, err, efi.ErrInvalidFormat)
}
