package varstore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

// saveFunc writes the complete variable list back to its file.
type saveFunc func(list efi.VariableList) error

// fileStore serves reads from memory and writes every mutation through to
// a file. A failed save rolls the in-memory state back.
type fileStore struct {
	*Memory
	save saveFunc

	// serializes mutations so a rollback never discards another writer
	writeMu sync.Mutex
}

func newFileStore(list efi.VariableList, save saveFunc) (*fileStore, error) {
	mem := NewMemory()
	if err := mem.Load(list); err != nil {
		return nil, err
	}
	return &fileStore{Memory: mem, save: save}, nil
}

func (s *fileStore) Write(id efi.VariableID, data []byte, attrs efi.Attributes, mode os.FileMode) error {
	return s.mutate("write", id, func() error {
		return s.Memory.Write(id, data, attrs, mode)
	})
}

func (s *fileStore) Remove(id efi.VariableID) error {
	return s.mutate("remove", id, func() error {
		return s.Memory.Remove(id)
	})
}

// Chmod changes the mode in memory only. Neither image format records it.
func (s *fileStore) Chmod(id efi.VariableID, mode os.FileMode) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Memory.Chmod(id, mode)
}

// Variables returns a sorted copy of the store contents.
func (s *fileStore) Variables() efi.VariableList {
	return s.Snapshot()
}

func (s *fileStore) mutate(op string, id efi.VariableID, apply func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	before := s.Snapshot()
	if err := apply(); err != nil {
		return err
	}
	if err := s.save(s.Snapshot()); err != nil {
		if rerr := s.Load(before); rerr != nil {
			return MapFSError(op, &id, rerr)
		}
		return MapFSError(op, &id, err)
	}
	return nil
}

// replaceFile writes data to a temporary file next to path and renames it
// over path, so readers see either the old or the new content.
func replaceFile(fs afero.Fs, path string, data []byte, mode os.FileMode) (err error) {
	tmp, err := afero.TempFile(fs, filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			err = multierr.Append(err, fs.Remove(tmpName))
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fs.Chmod(tmpName, mode); err != nil {
		return err
	}
	return fs.Rename(tmpName, path)
}
