package varstore

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

// DefaultEfivarfsPath is where the kernel mounts efivarfs.
const DefaultEfivarfsPath = "/sys/firmware/efi/efivars"

const attrHeaderLen = 4

// Efivarfs stores variables as files named Name-GUID whose content is the
// 32-bit little endian attribute word followed by the data.
//
// On a real efivarfs mount the kernel interprets every write: the attribute
// word is repeated on each write and AppendWrite selects append. On any
// other filesystem (a copied tree, afero.MemMapFs) those rules are
// emulated so the on-disk layout stays the same.
type Efivarfs struct {
	fs     afero.Fs
	root   string
	log    logr.Logger
	kernel bool
}

var _ Backend = (*Efivarfs)(nil)

// NewEfivarfs returns a backend rooted at root on fs.
func NewEfivarfs(fs afero.Fs, root string, logger logr.Logger) *Efivarfs {
	e := &Efivarfs{
		fs:   fs,
		root: root,
		log:  logger.WithName("efivarfs"),
	}
	if _, ok := fs.(*afero.OsFs); ok {
		e.kernel = isEfivarfsMount(root)
	}
	e.log.V(1).Info("opened variable directory", "path", root, "kernel", e.kernel)
	return e
}

// path maps id to its file under root. Names that would resolve to
// another directory are refused.
func (e *Efivarfs) path(op string, id efi.VariableID) (string, error) {
	file := id.String()
	if strings.Contains(id.Name, "/") || filepath.Base(file) != file {
		return "", &efi.Error{Kind: efi.KindInvalidArgument, Op: op, ID: &id, Msg: "name contains a path separator"}
	}
	return filepath.Join(e.root, file), nil
}

func (e *Efivarfs) Supported() bool {
	fi, err := e.fs.Stat(e.root)
	return err == nil && fi.IsDir()
}

func (e *Efivarfs) available(op string, id *efi.VariableID) error {
	if !e.Supported() {
		return efi.NewError(efi.KindUnavailable, op, id, nil)
	}
	return nil
}

func (e *Efivarfs) Stat(id efi.VariableID) (Info, error) {
	if err := e.available("stat", &id); err != nil {
		return Info{}, err
	}
	p, err := e.path("stat", id)
	if err != nil {
		return Info{}, err
	}
	fi, err := e.fs.Stat(p)
	if err != nil {
		return Info{}, MapFSError("stat", &id, err)
	}
	attrs, err := e.readAttributes(id)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Size:       int(fi.Size()) - attrHeaderLen,
		Attributes: attrs,
		Mode:       fi.Mode().Perm(),
	}, nil
}

func (e *Efivarfs) readAttributes(id efi.VariableID) (attrs efi.Attributes, err error) {
	p, err := e.path("stat", id)
	if err != nil {
		return 0, err
	}
	f, err := e.fs.Open(p)
	if err != nil {
		return 0, MapFSError("stat", &id, err)
	}
	defer func() {
		err = multierr.Append(err, MapFSError("stat", &id, f.Close()))
	}()

	var hdr [attrHeaderLen]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, efi.Truncated("stat", &id, err)
		}
		return 0, MapFSError("stat", &id, err)
	}
	return efi.Attributes(binary.LittleEndian.Uint32(hdr[:])), nil
}

func (e *Efivarfs) Read(id efi.VariableID) ([]byte, efi.Attributes, error) {
	if err := e.available("read", &id); err != nil {
		return nil, 0, err
	}
	p, err := e.path("read", id)
	if err != nil {
		return nil, 0, err
	}
	// efivarfs needs the whole variable in a single read
	raw, err := afero.ReadFile(e.fs, p)
	if err != nil {
		return nil, 0, MapFSError("read", &id, err)
	}
	if len(raw) < attrHeaderLen {
		return nil, 0, efi.Truncated("read", &id, nil)
	}
	attrs := efi.Attributes(binary.LittleEndian.Uint32(raw[:attrHeaderLen]))
	return append([]byte{}, raw[attrHeaderLen:]...), attrs, nil
}

func (e *Efivarfs) Write(id efi.VariableID, data []byte, attrs efi.Attributes, mode os.FileMode) (err error) {
	if err := e.available("write", &id); err != nil {
		return err
	}
	if err := checkAttributes32("write", id, attrs); err != nil {
		return err
	}
	p, err := e.path("write", id)
	if err != nil {
		return err
	}

	g, err := openSafeguard(e.fs, p)
	if err != nil {
		return MapFSError("write", &id, err)
	}
	defer func() { err = multierr.Append(err, MapFSError("write", &id, g.close())) }()

	wasProtected, err := g.disable()
	if err != nil {
		return MapFSError("write", &id, err)
	}
	if wasProtected {
		defer func() { err = multierr.Append(err, MapFSError("write", &id, g.enable())) }()
	}

	if e.kernel {
		return e.writeKernel(id, data, attrs, mode)
	}
	return e.writeEmulated(id, data, attrs, mode)
}

func (e *Efivarfs) writeKernel(id efi.VariableID, data []byte, attrs efi.Attributes, mode os.FileMode) error {
	flags := os.O_WRONLY | os.O_CREATE
	if attrs.Has(efi.AppendWrite) {
		flags |= os.O_APPEND
	}
	err := e.writeFile(id, flags, mode, encodeAttributes(attrs), data)
	if errors.Is(err, syscall.EINVAL) {
		return &efi.Error{Kind: efi.KindInvalidAttributes, Op: "write", ID: &id, Err: err}
	}
	return err
}

func (e *Efivarfs) writeEmulated(id efi.VariableID, data []byte, attrs efi.Attributes, mode os.FileMode) error {
	stored := attrs &^ efi.AppendWrite

	cur, err := e.readAttributes(id)
	switch {
	case errors.Is(err, efi.ErrNotFound):
		return e.writeFile(id, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode, encodeAttributes(stored), data)
	case err != nil:
		return err
	case cur != stored:
		return &efi.Error{Kind: efi.KindInvalidAttributes, Op: "write", ID: &id, Msg: "attributes differ from stored variable"}
	case attrs.Has(efi.AppendWrite):
		return e.writeFile(id, os.O_WRONLY|os.O_APPEND, mode, nil, data)
	default:
		return e.writeFile(id, os.O_WRONLY|os.O_TRUNC, mode, encodeAttributes(stored), data)
	}
}

// writeFile issues exactly one Write of hdr followed by data.
func (e *Efivarfs) writeFile(id efi.VariableID, flags int, mode os.FileMode, hdr, data []byte) (err error) {
	p, err := e.path("write", id)
	if err != nil {
		return err
	}
	f, err := e.fs.OpenFile(p, flags, mode.Perm())
	if err != nil {
		return MapFSError("write", &id, err)
	}
	defer func() { err = multierr.Append(err, MapFSError("write", &id, f.Close())) }()

	buf := make([]byte, 0, len(hdr)+len(data))
	buf = append(buf, hdr...)
	buf = append(buf, data...)
	n, err := f.Write(buf)
	if err != nil {
		return MapFSError("write", &id, err)
	}
	if n != len(buf) {
		return efi.NewError(efi.KindIO, "write", &id, io.ErrShortWrite)
	}
	return nil
}

func (e *Efivarfs) Remove(id efi.VariableID) (err error) {
	if err := e.available("remove", &id); err != nil {
		return err
	}
	p, err := e.path("remove", id)
	if err != nil {
		return err
	}

	g, err := openSafeguard(e.fs, p)
	if err != nil {
		return MapFSError("remove", &id, err)
	}
	if g == nil {
		// nothing to unprotect, or the filesystem has no inode flags
		if _, err := e.fs.Stat(p); err != nil {
			return MapFSError("remove", &id, err)
		}
	}
	defer func() { err = multierr.Append(err, MapFSError("remove", &id, g.close())) }()

	if _, err := g.disable(); err != nil {
		return MapFSError("remove", &id, err)
	}
	return MapFSError("remove", &id, e.fs.Remove(p))
}

func (e *Efivarfs) Chmod(id efi.VariableID, mode os.FileMode) error {
	if err := e.available("chmod", &id); err != nil {
		return err
	}
	p, err := e.path("chmod", id)
	if err != nil {
		return err
	}
	return MapFSError("chmod", &id, e.fs.Chmod(p, mode.Perm()))
}

// Next walks the directory in file name order. Entries that are not of the
// form Name-GUID are skipped.
func (e *Efivarfs) Next(cursor *efi.VariableID) (*efi.VariableID, error) {
	if err := e.available("next", cursor); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(e.fs, e.root)
	if err != nil {
		return nil, MapFSError("next", cursor, err)
	}

	ids := make([]efi.VariableID, 0, len(entries))
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		id, err := efi.ParseVariableID(fi.Name())
		if err != nil {
			e.log.V(1).Info("skipping entry", "name", fi.Name(), "reason", err.Error())
			continue
		}
		ids = append(ids, id)
	}
	return nextID("next", ids, cursor)
}

func encodeAttributes(attrs efi.Attributes) []byte {
	var hdr [attrHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(attrs))
	return hdr[:]
}
