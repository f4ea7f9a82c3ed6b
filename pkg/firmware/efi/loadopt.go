package efi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ccoveille/go-safecast"
)

// Load option attribute bits.
const (
	LoadOptionActive         uint32 = 0x00000001
	LoadOptionForceReconnect uint32 = 0x00000002
	LoadOptionHidden         uint32 = 0x00000008
	LoadOptionCategory       uint32 = 0x00001f00

	LoadOptionCategoryBoot uint32 = 0x00000000
	LoadOptionCategoryApp  uint32 = 0x00000100
)

const loadOptionHeaderLen = 6

// Names of the boot manager variables in the global namespace.
const (
	BootOrderName   = "BootOrder"
	BootNextName    = "BootNext"
	BootCurrentName = "BootCurrent"
	TimeoutName     = "Timeout"
)

// LoadOption is the payload of a Boot#### (or Driver####, SysPrep####)
// variable.
type LoadOption struct {
	Attributes   uint32
	Description  string
	FilePath     DevicePath
	OptionalData []byte
}

// ParseLoadOption decodes a packed EFI_LOAD_OPTION.
func ParseLoadOption(data []byte) (*LoadOption, error) {
	if len(data) < loadOptionHeaderLen {
		return nil, Errorf(KindParse, "parse load option", "%d bytes is too short", len(data))
	}
	opt := &LoadOption{Attributes: binary.LittleEndian.Uint32(data[0:4])}
	pathLen := int(binary.LittleEndian.Uint16(data[4:6]))

	desc, n, err := UCS16ToUTF8(data[loadOptionHeaderLen:])
	if err != nil {
		return nil, err
	}
	opt.Description = desc

	pathStart := loadOptionHeaderLen + n
	if pathStart+pathLen > len(data) {
		return nil, Errorf(KindParse, "parse load option", "device path overruns the option")
	}
	if opt.FilePath, err = ParseDevicePath(data[pathStart : pathStart+pathLen]); err != nil {
		return nil, err
	}
	if rest := data[pathStart+pathLen:]; len(rest) > 0 {
		opt.OptionalData = append([]byte{}, rest...)
	}
	return opt, nil
}

// Bytes packs the option.
func (o *LoadOption) Bytes() ([]byte, error) {
	path, err := o.FilePath.Bytes()
	if err != nil {
		return nil, err
	}
	pathLen, err := safecast.ToUint16(len(path))
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Op: "encode load option", Msg: "device path too long", Err: err}
	}
	desc, err := UTF8ToUCS16(o.Description)
	if err != nil {
		return nil, err
	}

	out := make([]byte, loadOptionHeaderLen, loadOptionHeaderLen+len(desc)+len(path)+len(o.OptionalData))
	binary.LittleEndian.PutUint32(out[0:4], o.Attributes)
	binary.LittleEndian.PutUint16(out[4:6], pathLen)
	out = append(out, desc...)
	out = append(out, path...)
	return append(out, o.OptionalData...), nil
}

func (o *LoadOption) Active() bool { return o.Attributes&LoadOptionActive != 0 }

func (o *LoadOption) Hidden() bool { return o.Attributes&LoadOptionHidden != 0 }

func (o *LoadOption) Category() uint32 { return o.Attributes & LoadOptionCategory }

// SetActive sets or clears LOAD_OPTION_ACTIVE.
func (o *LoadOption) SetActive(active bool) {
	if active {
		o.Attributes |= LoadOptionActive
	} else {
		o.Attributes &^= LoadOptionActive
	}
}

// String renders the option the way efibootmgr -v does:
// description, a tab, the device path and any optional data in hex.
func (o *LoadOption) String() string {
	s := o.Description + "\t" + o.FilePath.String()
	if len(o.OptionalData) > 0 {
		s += " " + hex.EncodeToString(o.OptionalData)
	}
	return s
}

// BootOptionName returns the variable name for boot option n, e.g. Boot000A.
func BootOptionName(n uint16) string {
	return fmt.Sprintf("Boot%04X", n)
}

// ParseBootOptionName extracts the option number from a Boot#### name.
func ParseBootOptionName(name string) (uint16, bool) {
	hexPart, ok := strings.CutPrefix(name, "Boot")
	if !ok || len(hexPart) != 4 {
		return 0, false
	}
	n, err := strconv.ParseUint(hexPart, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// ParseBootOrder decodes a BootOrder value, a packed array of uint16.
func ParseBootOrder(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, Errorf(KindParse, "parse boot order", "odd length %d", len(data))
	}
	order := make([]uint16, 0, len(data)/2)
	for i := 0; i < len(data); i += 2 {
		order = append(order, binary.LittleEndian.Uint16(data[i:]))
	}
	return order, nil
}

// BootOrderBytes packs order as a BootOrder value.
func BootOrderBytes(order []uint16) []byte {
	out := make([]byte, 2*len(order))
	for i, n := range order {
		binary.LittleEndian.PutUint16(out[2*i:], n)
	}
	return out
}
