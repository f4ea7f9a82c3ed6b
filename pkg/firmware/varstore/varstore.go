// Package varstore holds the storage backends behind the variable client:
// the kernel efivarfs mount, EDK2 firmware images, virt-fw-vars JSON files
// and an in-process map.
package varstore

import (
	"errors"
	"io/fs"
	"os"
	"syscall"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

// DefaultMode is the permission given to variables created without an
// explicit mode.
const DefaultMode os.FileMode = 0o644

// Info describes a stored variable without its data.
type Info struct {
	Size       int
	Attributes efi.Attributes
	Mode       os.FileMode
}

// Backend is the storage contract the client drives. Implementations
// return *efi.Error values so callers can match kinds with errors.Is.
type Backend interface {
	// Supported reports whether the variable interface is usable.
	Supported() bool
	Stat(id efi.VariableID) (Info, error)
	// Read returns a copy of the stored data.
	Read(id efi.VariableID) ([]byte, efi.Attributes, error)
	// Write creates or replaces a variable. When attrs carries
	// AppendWrite the data is appended instead. mode is only applied when
	// the variable is created.
	Write(id efi.VariableID, data []byte, attrs efi.Attributes, mode os.FileMode) error
	Remove(id efi.VariableID) error
	Chmod(id efi.VariableID, mode os.FileMode) error
	// Next returns the identity after cursor, the first one for a nil
	// cursor, and nil once the store is exhausted.
	Next(cursor *efi.VariableID) (*efi.VariableID, error)
}

// maxAttributes32 is the widest attribute value a 32-bit store can hold.
const maxAttributes32 = efi.Attributes(^uint32(0))

// MapFSError converts a filesystem error into an *efi.Error of the matching
// kind. Errors that already carry a kind are returned unchanged.
func MapFSError(op string, id *efi.VariableID, err error) error {
	if err == nil {
		return nil
	}
	var ee *efi.Error
	if errors.As(err, &ee) {
		return err
	}

	kind := efi.KindIO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = efi.KindNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		kind = efi.KindPermissionDenied
	case errors.Is(err, syscall.EINVAL):
		kind = efi.KindInvalidArgument
	case errors.Is(err, syscall.ENOTSUP), errors.Is(err, syscall.ENOSYS):
		kind = efi.KindUnavailable
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EIO):
		kind = efi.KindIO
	}
	return efi.NewError(kind, op, id, err)
}

func checkAttributes32(op string, id efi.VariableID, attrs efi.Attributes) error {
	if attrs > maxAttributes32 {
		return &efi.Error{Kind: efi.KindInvalidAttributes, Op: op, ID: &id, Msg: "attributes wider than 32 bits"}
	}
	return nil
}

// nextID returns the entry after cursor in the sorted ids.
func nextID(op string, ids []efi.VariableID, cursor *efi.VariableID) (*efi.VariableID, error) {
	if cursor == nil {
		if len(ids) == 0 {
			return nil, nil
		}
		first := ids[0]
		return &first, nil
	}
	for i, id := range ids {
		if id != *cursor {
			continue
		}
		if i+1 == len(ids) {
			return nil, nil
		}
		next := ids[i+1]
		return &next, nil
	}
	c := *cursor
	return nil, &efi.Error{Kind: efi.KindIO, Op: op, ID: &c, Msg: "enumeration cursor no longer exists"}
}
