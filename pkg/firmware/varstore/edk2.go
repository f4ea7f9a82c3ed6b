package varstore

import (
	"encoding/binary"
	"os"

	"github.com/ccoveille/go-safecast"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

const (
	fvHeaderLen       = 64
	fvSignature       = 0x4856465f // "_FVH"
	varStoreHeaderLen = 28
	varStoreFormatted = 0x5a
	varStoreHealthy   = 0xfe
	varStartID        = 0x55aa
	varAdded          = 0x3f
	authVarHeaderLen  = 60
	nvDataScanStep    = 1024
)

// Edk2 edits the authenticated variable store inside an EDK2 firmware
// image (OVMF_VARS.fd and friends). The image is parsed once; every
// mutation rewrites the store region and replaces the file.
type Edk2 struct {
	*fileStore

	fs       afero.Fs
	path     string
	log      logr.Logger
	filedata []byte
	fileMode os.FileMode
	start    int
	end      int
}

var _ Backend = (*Edk2)(nil)

// NewEdk2 loads the variable store from the image at path.
func NewEdk2(fs afero.Fs, path string, logger logr.Logger) (*Edk2, error) {
	e := &Edk2{
		fs:   fs,
		path: path,
		log:  logger.WithName("edk2"),
	}

	e.log.V(1).Info("reading raw edk2 varstore", "path", path)
	fi, err := fs.Stat(path)
	if err != nil {
		return nil, MapFSError("open image", nil, err)
	}
	e.fileMode = fi.Mode().Perm()
	if e.filedata, err = afero.ReadFile(fs, path); err != nil {
		return nil, MapFSError("open image", nil, err)
	}

	if err := e.parseVolume(); err != nil {
		return nil, err
	}
	list, err := e.parseVariables()
	if err != nil {
		return nil, err
	}
	if e.fileStore, err = newFileStore(list, e.save); err != nil {
		return nil, err
	}
	return e, nil
}

// Write refuses attribute bits the variable header cannot hold.
func (e *Edk2) Write(id efi.VariableID, data []byte, attrs efi.Attributes, mode os.FileMode) error {
	if err := checkAttributes32("write", id, attrs); err != nil {
		return err
	}
	return e.fileStore.Write(id, data, attrs, mode)
}

func (e *Edk2) parseError(format string, args ...any) error {
	return efi.Errorf(efi.KindParse, "parse image", "%s: "+format, append([]any{e.path}, args...)...)
}

func findNvData(data []byte) int {
	offset := 0
	for offset+fvHeaderLen < len(data) {
		guid, err := efi.ParseBinGUID(data, offset+16)
		if err != nil {
			return -1
		}
		switch guid {
		case efi.NvDataFV():
			return offset
		case efi.FFS2():
			tlen := binary.LittleEndian.Uint64(data[offset+32 : offset+40])
			if tlen >= fvHeaderLen && tlen <= uint64(len(data)-offset) {
				offset += int(tlen)
				continue
			}
		}
		offset += nvDataScanStep
	}
	return -1
}

func (e *Edk2) parseVolume() error {
	offset := findNvData(e.filedata)
	if offset < 0 {
		return e.parseError("varstore not found")
	}
	data := e.filedata[offset:]

	vlen := binary.LittleEndian.Uint64(data[32:40])
	sig := binary.LittleEndian.Uint32(data[40:44])
	hlen := binary.LittleEndian.Uint16(data[48:50])
	rev := data[55]
	blocks := binary.LittleEndian.Uint32(data[56:60])
	blksize := binary.LittleEndian.Uint32(data[60:64])

	e.log.V(1).Info("firmware volume",
		"vol", efi.GuidName(efi.NvDataFV()), "vlen", vlen, "rev", rev,
		"blocks", blocks, "blksize", blksize, "size", uint64(blocks)*uint64(blksize))

	if sig != fvSignature {
		return e.parseError("not a firmware volume")
	}
	return e.parseVarstore(offset + int(hlen))
}

func (e *Edk2) parseVarstore(start int) error {
	if start+varStoreHeaderLen > len(e.filedata) {
		return e.parseError("varstore header out of range")
	}
	guid, err := efi.ParseBinGUID(e.filedata, start)
	if err != nil {
		return err
	}
	size := binary.LittleEndian.Uint32(e.filedata[start+16 : start+20])
	storefmt := e.filedata[start+20]
	state := e.filedata[start+21]

	e.log.V(1).Info("varstore", "guid", efi.GuidName(guid), "size", size,
		"format", storefmt, "state", state)

	if guid != efi.AuthVars() {
		return e.parseError("unknown varstore guid %s", guid)
	}
	if storefmt != varStoreFormatted {
		return e.parseError("unknown varstore format 0x%x", storefmt)
	}
	if state != varStoreHealthy {
		return e.parseError("unknown varstore state 0x%x", state)
	}

	e.start = start + varStoreHeaderLen
	e.end = start + int(size)
	if e.end > len(e.filedata) || e.end < e.start {
		return e.parseError("varstore size 0x%x out of range", size)
	}
	e.log.V(1).Info("var store range", "start", e.start, "end", e.end)
	return nil
}

func (e *Edk2) parseVariables() (efi.VariableList, error) {
	found := make(map[efi.VariableID]*efi.Variable)
	order := make([]efi.VariableID, 0)

	pos := e.start
	for pos+authVarHeaderLen <= e.end {
		hdr := e.filedata[pos:]
		if binary.LittleEndian.Uint16(hdr[0:2]) != varStartID {
			break
		}
		state := hdr[2]
		nsize := int(binary.LittleEndian.Uint32(hdr[36:40]))
		dsize := int(binary.LittleEndian.Uint32(hdr[40:44]))
		next := pos + authVarHeaderLen + nsize + dsize
		if nsize < 0 || dsize < 0 || next > e.end {
			return nil, e.parseError("variable at 0x%x overruns the store", pos)
		}

		if state == varAdded {
			v, err := decodeVariable(hdr[:authVarHeaderLen+nsize+dsize], nsize)
			if err != nil {
				return nil, err
			}
			if _, seen := found[v.VariableID]; !seen {
				order = append(order, v.VariableID)
			}
			found[v.VariableID] = v
		}

		pos = (next + 3) &^ 3
	}

	list := make(efi.VariableList, 0, len(order))
	for _, id := range order {
		list = append(list, found[id])
	}
	e.log.V(1).Info("loaded variables", "count", len(list))
	return list, nil
}

func decodeVariable(raw []byte, nsize int) (*efi.Variable, error) {
	guid, err := efi.ParseBinGUID(raw, 44)
	if err != nil {
		return nil, err
	}
	name, _, err := efi.UCS16ToUTF8(raw[authVarHeaderLen : authVarHeaderLen+nsize])
	if err != nil {
		return nil, err
	}
	id, err := efi.NewVariableID(guid, name)
	if err != nil {
		return nil, err
	}

	v := &efi.Variable{
		VariableID:     id,
		Attributes:     efi.Attributes(binary.LittleEndian.Uint32(raw[4:8])),
		MonotonicCount: binary.LittleEndian.Uint64(raw[8:16]),
		PubKeyIndex:    binary.LittleEndian.Uint32(raw[32:36]),
		Data:           append([]byte{}, raw[authVarHeaderLen+nsize:]...),
		Mode:           DefaultMode,
	}
	copy(v.Timestamp[:], raw[16:32])
	return v, nil
}

// encodeVariable renders v as it sits at absolute offset pos, padded with
// 0xff to the next 4-byte boundary.
func encodeVariable(v *efi.Variable, pos int) ([]byte, error) {
	name, err := efi.UTF8ToUCS16(v.Name)
	if err != nil {
		return nil, err
	}
	nsize, err := safecast.ToUint32(len(name))
	if err != nil {
		return nil, efi.NewError(efi.KindInvalidArgument, "encode variable", &v.VariableID, err)
	}
	dsize, err := safecast.ToUint32(len(v.Data))
	if err != nil {
		return nil, efi.NewError(efi.KindInvalidArgument, "encode variable", &v.VariableID, err)
	}
	attrs, err := safecast.ToUint32(uint64(v.Attributes))
	if err != nil {
		return nil, efi.NewError(efi.KindInvalidAttributes, "encode variable", &v.VariableID, err)
	}

	blob := make([]byte, authVarHeaderLen, authVarHeaderLen+len(name)+len(v.Data)+3)
	binary.LittleEndian.PutUint16(blob[0:], varStartID)
	blob[2] = varAdded
	binary.LittleEndian.PutUint32(blob[4:], attrs)
	binary.LittleEndian.PutUint64(blob[8:], v.MonotonicCount)
	copy(blob[16:32], v.Timestamp[:])
	binary.LittleEndian.PutUint32(blob[32:], v.PubKeyIndex)
	binary.LittleEndian.PutUint32(blob[36:], nsize)
	binary.LittleEndian.PutUint32(blob[40:], dsize)
	copy(blob[44:60], v.GUID[:])
	blob = append(blob, name...)
	blob = append(blob, v.Data...)
	for (pos+len(blob))%4 != 0 {
		blob = append(blob, 0xff)
	}
	return blob, nil
}

func (e *Edk2) encodeStore(list efi.VariableList) ([]byte, error) {
	blob := make([]byte, 0, len(e.filedata))
	blob = append(blob, e.filedata[:e.start]...)
	for _, v := range list {
		b, err := encodeVariable(v, len(blob))
		if err != nil {
			return nil, err
		}
		blob = append(blob, b...)
	}
	if len(blob) > e.end {
		return nil, efi.Errorf(efi.KindIO, "write image", "varstore is too small")
	}
	for len(blob) < e.end {
		blob = append(blob, 0xff)
	}
	return append(blob, e.filedata[e.end:]...), nil
}

// save re-encodes the store and replaces the image.
func (e *Edk2) save(list efi.VariableList) error {
	blob, err := e.encodeStore(list)
	if err != nil {
		return err
	}

	e.log.V(1).Info("writing raw edk2 varstore", "path", e.path, "variables", len(list))
	if err := replaceFile(e.fs, e.path, blob, e.fileMode); err != nil {
		return err
	}
	e.filedata = blob
	return nil
}
