package efi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GUID is an EFI GUID in its firmware byte image: the first three fields
// little endian, the fourth big endian, the last six bytes as written.
// Two GUIDs are equal iff their byte images are identical, so == is the
// comparison.
type GUID [16]byte

// GUIDTextLen is the length of the canonical text form.
const GUIDTextLen = 36

// NewGUID builds a GUID from the field values as they appear in source, e.g.
// NewGUID(0x8be4df61, 0x93ca, 0x11d2, 0xaa0d, 0x00, 0xe0, 0x98, 0x03, 0x2b, 0x8c).
// d is stored byte-swapped relative to a, b and c.
func NewGUID(a uint32, b, c, d uint16, e0, e1, e2, e3, e4, e5 byte) GUID {
	var g GUID
	binary.LittleEndian.PutUint32(g[0:4], a)
	binary.LittleEndian.PutUint16(g[4:6], b)
	binary.LittleEndian.PutUint16(g[6:8], c)
	binary.BigEndian.PutUint16(g[8:10], d)
	g[10], g[11], g[12], g[13], g[14], g[15] = e0, e1, e2, e3, e4, e5
	return g
}

func (g GUID) A() uint32 { return binary.LittleEndian.Uint32(g[0:4]) }
func (g GUID) B() uint16 { return binary.LittleEndian.Uint16(g[4:6]) }
func (g GUID) C() uint16 { return binary.LittleEndian.Uint16(g[6:8]) }
func (g GUID) D() uint16 { return binary.BigEndian.Uint16(g[8:10]) }

func (g GUID) E() [6]byte {
	var e [6]byte
	copy(e[:], g[10:])
	return e
}

// Equal reports whether g and other have identical byte images.
func (g GUID) Equal(other GUID) bool {
	return g == other
}

// IsZero reports whether g is the all-zero GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// IsEmpty is another name for IsZero.
func (g GUID) IsEmpty() bool {
	return g.IsZero()
}

// Bytes returns a copy of the firmware byte image.
func (g GUID) Bytes() []byte {
	b := make([]byte, len(g))
	copy(b, g[:])
	return b
}

// String returns the lowercase canonical form
// xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func (g GUID) String() string {
	e := g.E()
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%s", g.A(), g.B(), g.C(), g.D(), hex.EncodeToString(e[:]))
}

// MarshalText implements encoding.TextMarshaler.
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GUID) UnmarshalText(text []byte) error {
	parsed, err := ParseGUID(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// ParseGUID parses the canonical 8-4-4-4-12 text form. Hex digits may be
// in either case; nothing else (braces, urn prefix, missing hyphens) is
// accepted.
func ParseGUID(s string) (GUID, error) {
	if len(s) != GUIDTextLen {
		return GUID{}, Errorf(KindParse, "parse guid", "%q: want %d characters, got %d", s, GUIDTextLen, len(s))
	}
	for _, i := range [...]int{8, 13, 18, 23} {
		if s[i] != '-' {
			return GUID{}, Errorf(KindParse, "parse guid", "%q: missing '-' at offset %d", s, i)
		}
	}

	var raw [16]byte
	j := 0
	for i := 0; i < len(s); {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			i++
			continue
		}
		hi, ok1 := fromHexChar(s[i])
		lo, ok2 := fromHexChar(s[i+1])
		if !ok1 || !ok2 {
			return GUID{}, Errorf(KindParse, "parse guid", "%q: invalid hex digit at offset %d", s, i)
		}
		raw[j] = hi<<4 | lo
		j++
		i += 2
	}

	// raw holds the text digits in reading order; the first three groups
	// are stored little endian.
	return NewGUID(
		binary.BigEndian.Uint32(raw[0:4]),
		binary.BigEndian.Uint16(raw[4:6]),
		binary.BigEndian.Uint16(raw[6:8]),
		binary.BigEndian.Uint16(raw[8:10]),
		raw[10], raw[11], raw[12], raw[13], raw[14], raw[15],
	), nil
}

// MustParseGUID is like ParseGUID but panics on error.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// GUIDFromBytes reads a GUID from its 16-byte firmware image.
func GUIDFromBytes(b []byte) (GUID, error) {
	var g GUID
	if len(b) != len(g) {
		return g, Errorf(KindParse, "guid from bytes", "want %d bytes, got %d", len(g), len(b))
	}
	copy(g[:], b)
	return g, nil
}

// ParseBinGUID reads the GUID image starting at data[offset].
func ParseBinGUID(data []byte, offset int) (GUID, error) {
	if offset < 0 || offset+16 > len(data) {
		return GUID{}, Errorf(KindParse, "guid from bytes", "offset 0x%x out of range", offset)
	}
	return GUIDFromBytes(data[offset : offset+16])
}

// FromUUID converts an RFC 4122 UUID (big endian fields) to a GUID.
func FromUUID(u uuid.UUID) GUID {
	g := GUID(u)
	g[0], g[1], g[2], g[3] = g[3], g[2], g[1], g[0]
	g[4], g[5] = g[5], g[4]
	g[6], g[7] = g[7], g[6]
	return g
}

// UUID converts g to an RFC 4122 UUID with the same text form.
func (g GUID) UUID() uuid.UUID {
	u := [16]byte(g)
	u[0], u[1], u[2], u[3] = u[3], u[2], u[1], u[0]
	u[4], u[5] = u[5], u[4]
	u[6], u[7] = u[7], u[6]
	return uuid.UUID(u)
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Well-known GUIDs. They are functions so the values cannot be reassigned.

// GlobalVariable is EFI_GLOBAL_VARIABLE, the namespace of the
// architecturally defined variables (BootOrder, SecureBoot, ...).
func GlobalVariable() GUID {
	return NewGUID(0x8be4df61, 0x93ca, 0x11d2, 0xaa0d, 0x00, 0xe0, 0x98, 0x03, 0x2b, 0x8c)
}

// ImageSecurityDatabase scopes db, dbx and dbt.
func ImageSecurityDatabase() GUID {
	return NewGUID(0xd719b2cb, 0x3d3a, 0x4596, 0xa3bc, 0xda, 0xd0, 0x0e, 0x67, 0x65, 0x6f)
}

// ShimLock scopes the MokList family of variables.
func ShimLock() GUID {
	return NewGUID(0x605dab50, 0xe046, 0x4300, 0xabb6, 0x3d, 0xd8, 0x10, 0xdd, 0x8b, 0x23)
}

// LoaderInterface scopes the systemd boot loader interface variables.
func LoaderInterface() GUID {
	return NewGUID(0x4a67b082, 0x0a4c, 0x41cf, 0xb6c7, 0x44, 0x0b, 0x29, 0xbb, 0x8c, 0x4f)
}

// NvDataFV is the file system GUID of the EDK2 NV variable firmware volume.
func NvDataFV() GUID {
	return NewGUID(0xfff12b8d, 0x7696, 0x4c8b, 0xa985, 0x27, 0x47, 0x07, 0x5b, 0x4f, 0x50)
}

// FFS2 is the file system GUID of an FFSv2 firmware volume.
func FFS2() GUID {
	return NewGUID(0x8c8ce578, 0x8a3d, 0x4f1c, 0x9935, 0x89, 0x61, 0x85, 0xc3, 0x2d, 0xd3)
}

// AuthVars is the signature of an authenticated variable store.
func AuthVars() GUID {
	return NewGUID(0xaaf32c78, 0x947b, 0x439a, 0xa180, 0x2e, 0x14, 0x4e, 0xc3, 0x77, 0x92)
}
