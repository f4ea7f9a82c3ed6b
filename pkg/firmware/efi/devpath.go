package efi

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ccoveille/go-safecast"
)

// Device path node types.
const (
	DevTypeHardware uint8 = 0x01
	DevTypeACPI     uint8 = 0x02
	DevTypeMessage  uint8 = 0x03
	DevTypeMedia    uint8 = 0x04
	DevTypeBBS      uint8 = 0x05
	DevTypeEnd      uint8 = 0x7f
)

// Device path node subtypes, grouped by type.
const (
	DevSubTypePCI      uint8 = 0x01
	DevSubTypeVendorHW uint8 = 0x04

	DevSubTypeACPI uint8 = 0x01

	DevSubTypeSCSI uint8 = 0x02
	DevSubTypeUSB  uint8 = 0x05
	DevSubTypeMAC  uint8 = 0x0b
	DevSubTypeIPv4 uint8 = 0x0c
	DevSubTypeIPv6 uint8 = 0x0d
	DevSubTypeSATA uint8 = 0x12
	DevSubTypeURI  uint8 = 0x18

	DevSubTypeHardDrive  uint8 = 0x01
	DevSubTypeFilePath   uint8 = 0x04
	DevSubTypeFVFilename uint8 = 0x06
	DevSubTypeFVName     uint8 = 0x07

	DevSubTypeEndEntire uint8 = 0xff
)

const (
	devNodeHeaderLen = 4
	pnpPCIRoot       = 0x0a0341d0
	pnpPCIeRoot      = 0x0a0841d0
)

// DevicePathNode is one element of a device path.
type DevicePathNode struct {
	Type    uint8
	SubType uint8
	Data    []byte
}

// DevicePath is a sequence of nodes. The End Entire node is implied and
// never stored.
type DevicePath []DevicePathNode

// ParseDevicePath decodes a packed device path. Decoding stops at the End
// Entire node; a path without one is rejected.
func ParseDevicePath(data []byte) (DevicePath, error) {
	var dp DevicePath
	pos := 0
	for pos+devNodeHeaderLen <= len(data) {
		typ, sub := data[pos], data[pos+1]
		size := int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
		if size < devNodeHeaderLen || pos+size > len(data) {
			return nil, Errorf(KindParse, "parse device path", "node at %d has bad length %d", pos, size)
		}
		if typ == DevTypeEnd && sub == DevSubTypeEndEntire {
			return dp, nil
		}
		dp = append(dp, DevicePathNode{
			Type:    typ,
			SubType: sub,
			Data:    append([]byte{}, data[pos+devNodeHeaderLen:pos+size]...),
		})
		pos += size
	}
	return nil, Errorf(KindParse, "parse device path", "missing end node")
}

// Bytes packs the path and appends the End Entire node.
func (dp DevicePath) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	for _, n := range dp {
		size, err := safecast.ToUint16(devNodeHeaderLen + len(n.Data))
		if err != nil {
			return nil, &Error{Kind: KindInvalidArgument, Op: "encode device path", Msg: "node too large", Err: err}
		}
		buf.WriteByte(n.Type)
		buf.WriteByte(n.SubType)
		_ = binary.Write(&buf, binary.LittleEndian, size)
		buf.Write(n.Data)
	}
	buf.Write([]byte{DevTypeEnd, DevSubTypeEndEntire, devNodeHeaderLen, 0})
	return buf.Bytes(), nil
}

func (dp DevicePath) String() string {
	parts := make([]string, 0, len(dp))
	for _, n := range dp {
		parts = append(parts, n.String())
	}
	return strings.Join(parts, "/")
}

// Equal compares paths node by node. File path nodes compare case
// insensitively, as firmware does.
func (dp DevicePath) Equal(other DevicePath) bool {
	if len(dp) != len(other) {
		return false
	}
	for i := range dp {
		if !dp[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

func (n DevicePathNode) Equal(other DevicePathNode) bool {
	if n.Type != other.Type || n.SubType != other.SubType {
		return false
	}
	if n.Type == DevTypeMedia && n.SubType == DevSubTypeFilePath {
		a, _, errA := UCS16ToUTF8(n.Data)
		b, _, errB := UCS16ToUTF8(other.Data)
		if errA == nil && errB == nil {
			return strings.EqualFold(a, b)
		}
	}
	return bytes.Equal(n.Data, other.Data)
}

// String renders the node in the UEFI text form, e.g. Pci(0x2,0x0) or
// HD(1,GPT,<guid>,0x800,0x100000). Unknown nodes render as
// Path(type,subtype,hexdata).
func (n DevicePathNode) String() string {
	if s, ok := n.format(); ok {
		return s
	}
	return fmt.Sprintf("Path(%d,%d,%s)", n.Type, n.SubType, hex.EncodeToString(n.Data))
}

func (n DevicePathNode) format() (string, bool) {
	d := n.Data
	switch n.Type {
	case DevTypeHardware:
		switch {
		case n.SubType == DevSubTypePCI && len(d) == 2:
			return fmt.Sprintf("Pci(0x%x,0x%x)", d[1], d[0]), true
		case n.SubType == DevSubTypeVendorHW && len(d) >= 16:
			g, _ := GUIDFromBytes(d[:16])
			return fmt.Sprintf("VenHw(%s)", g), true
		}
	case DevTypeACPI:
		if n.SubType == DevSubTypeACPI && len(d) == 8 {
			hid := binary.LittleEndian.Uint32(d[0:4])
			uid := binary.LittleEndian.Uint32(d[4:8])
			switch hid {
			case pnpPCIRoot:
				return fmt.Sprintf("PciRoot(0x%x)", uid), true
			case pnpPCIeRoot:
				return fmt.Sprintf("PcieRoot(0x%x)", uid), true
			}
			return fmt.Sprintf("Acpi(0x%x,0x%x)", hid, uid), true
		}
	case DevTypeMessage:
		return n.formatMessage()
	case DevTypeMedia:
		return n.formatMedia()
	}
	return "", false
}

func (n DevicePathNode) formatMessage() (string, bool) {
	d := n.Data
	switch n.SubType {
	case DevSubTypeSCSI:
		if len(d) == 4 {
			return fmt.Sprintf("Scsi(0x%x,0x%x)",
				binary.LittleEndian.Uint16(d[0:2]), binary.LittleEndian.Uint16(d[2:4])), true
		}
	case DevSubTypeUSB:
		if len(d) == 2 {
			return fmt.Sprintf("USB(0x%x,0x%x)", d[0], d[1]), true
		}
	case DevSubTypeSATA:
		if len(d) == 6 {
			return fmt.Sprintf("Sata(0x%x,0x%x,0x%x)",
				binary.LittleEndian.Uint16(d[0:2]),
				binary.LittleEndian.Uint16(d[2:4]),
				binary.LittleEndian.Uint16(d[4:6])), true
		}
	case DevSubTypeMAC:
		// 32 byte address field, of which ethernet uses 6, then the
		// interface type
		if len(d) == 33 {
			return fmt.Sprintf("MAC(%s,0x%x)", hex.EncodeToString(d[:6]), d[32]), true
		}
	case DevSubTypeIPv4:
		return "IPv4()", true
	case DevSubTypeIPv6:
		return "IPv6()", true
	case DevSubTypeURI:
		return fmt.Sprintf("Uri(%s)", string(d)), true
	}
	return "", false
}

func (n DevicePathNode) formatMedia() (string, bool) {
	d := n.Data
	switch n.SubType {
	case DevSubTypeHardDrive:
		if len(d) == 38 {
			part := binary.LittleEndian.Uint32(d[0:4])
			start := binary.LittleEndian.Uint64(d[4:12])
			size := binary.LittleEndian.Uint64(d[12:20])
			switch d[37] {
			case 2:
				g, _ := GUIDFromBytes(d[20:36])
				return fmt.Sprintf("HD(%d,GPT,%s,0x%x,0x%x)", part, g, start, size), true
			case 1:
				return fmt.Sprintf("HD(%d,MBR,0x%08x,0x%x,0x%x)",
					part, binary.LittleEndian.Uint32(d[20:24]), start, size), true
			}
		}
	case DevSubTypeFilePath:
		if s, _, err := UCS16ToUTF8(d); err == nil {
			return s, true
		}
	case DevSubTypeFVFilename:
		if len(d) == 16 {
			g, _ := GUIDFromBytes(d)
			return fmt.Sprintf("FvFile(%s)", g), true
		}
	case DevSubTypeFVName:
		if len(d) == 16 {
			g, _ := GUIDFromBytes(d)
			return fmt.Sprintf("FvVol(%s)", g), true
		}
	}
	return "", false
}

// FilePathNode returns a media file path node for path, e.g.
// \EFI\BOOT\BOOTX64.EFI.
func FilePathNode(path string) (DevicePathNode, error) {
	data, err := UTF8ToUCS16(path)
	if err != nil {
		return DevicePathNode{}, err
	}
	return DevicePathNode{Type: DevTypeMedia, SubType: DevSubTypeFilePath, Data: data}, nil
}

// URINode returns a messaging URI node, as used for HTTP boot.
func URINode(uri string) DevicePathNode {
	return DevicePathNode{Type: DevTypeMessage, SubType: DevSubTypeURI, Data: []byte(uri)}
}

// FvNameNode returns a firmware volume node.
func FvNameNode(g GUID) DevicePathNode {
	return DevicePathNode{Type: DevTypeMedia, SubType: DevSubTypeFVName, Data: g.Bytes()}
}

// FvFileNode returns a firmware file node, the form OVMF uses for its
// built-in applications such as the UEFI shell.
func FvFileNode(g GUID) DevicePathNode {
	return DevicePathNode{Type: DevTypeMedia, SubType: DevSubTypeFVFilename, Data: g.Bytes()}
}

// PCIRootNode returns an ACPI PciRoot(uid) node.
func PCIRootNode(uid uint32) DevicePathNode {
	d := make([]byte, 8)
	binary.LittleEndian.PutUint32(d[0:4], pnpPCIRoot)
	binary.LittleEndian.PutUint32(d[4:8], uid)
	return DevicePathNode{Type: DevTypeACPI, SubType: DevSubTypeACPI, Data: d}
}

// PCINode returns a Pci(device,function) node.
func PCINode(device, function uint8) DevicePathNode {
	return DevicePathNode{Type: DevTypeHardware, SubType: DevSubTypePCI, Data: []byte{function, device}}
}
