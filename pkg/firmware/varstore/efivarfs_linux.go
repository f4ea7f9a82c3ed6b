//go:build linux

package varstore

import (
	"errors"
	"os"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// FS_IMMUTABLE_FL as reported by FS_IOC_GETFLAGS. The kernel marks most
// efivarfs files immutable so a stray write cannot brick the machine.
const fsImmutableFl = 0x00000010

var unixStatfs = unix.Statfs

func isEfivarfsMount(path string) bool {
	var st unix.Statfs_t
	if err := unixStatfs(path, &st); err != nil {
		return false
	}
	return uint32(st.Type) == unix.EFIVARFS_MAGIC
}

type inodeFlags uint32

func (a inodeFlags) IsSet(attrs inodeFlags) bool       { return a&attrs != 0 }
func (a inodeFlags) Clear(attrs inodeFlags) inodeFlags { return a &^ attrs }
func (a inodeFlags) Set(attrs inodeFlags) inodeFlags   { return a | attrs }

func getFlags(fd uintptr) (inodeFlags, error) {
	attrs, err := unix.IoctlGetInt(int(fd), unix.FS_IOC_GETFLAGS)
	return inodeFlags(attrs), err
}

func setFlags(fd uintptr, attr inodeFlags) error {
	return unix.IoctlSetPointerInt(int(fd), unix.FS_IOC_SETFLAGS, int(attr))
}

func resolveOsFile(f afero.File) (*os.File, bool) {
	for {
		if baseFile, ok := f.(*afero.BasePathFile); ok {
			f = baseFile.File
			continue
		}
		break
	}
	o, ok := f.(*os.File)
	return o, ok
}

func withInnerFileDescriptor(f *os.File, cb func(fd uintptr) error) (err error) {
	rawConn, err := f.SyscallConn()
	if err != nil {
		return err
	}

	err2 := rawConn.Control(func(fd uintptr) {
		cbErr := cb(fd)
		// filesystems without inode flags answer ENOTTY
		if !errors.Is(cbErr, syscall.ENOTTY) {
			err = multierr.Append(err, cbErr)
		}
	})
	return multierr.Append(err, err2)
}

// safeguard holds a variable file open to toggle its immutable flag.
type safeguard struct {
	*os.File
	fl inodeFlags
}

// openSafeguard returns nil when the file does not exist or fs is not
// backed by the operating system.
func openSafeguard(fs afero.Fs, fpath string) (*safeguard, error) {
	f, err := fs.OpenFile(fpath, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) || errors.Is(err, syscall.ENOENT) {
			return nil, nil
		}
		return nil, err
	}

	osFile, ok := resolveOsFile(f)
	if !ok {
		return nil, f.Close()
	}

	g := &safeguard{File: osFile}
	err = withInnerFileDescriptor(osFile, func(fd uintptr) (err error) {
		g.fl, err = getFlags(fd)
		return
	})
	if err != nil {
		return nil, multierr.Append(err, osFile.Close())
	}
	return g, nil
}

func (g *safeguard) disable() (wasProtected bool, err error) {
	if g == nil {
		return false, nil
	}
	err = withInnerFileDescriptor(g.File, func(fd uintptr) error {
		wasProtected = g.fl.IsSet(fsImmutableFl)
		if !wasProtected {
			return nil
		}
		g.fl = g.fl.Clear(fsImmutableFl)
		return setFlags(fd, g.fl)
	})
	return wasProtected, err
}

func (g *safeguard) enable() error {
	if g == nil {
		return nil
	}
	return withInnerFileDescriptor(g.File, func(fd uintptr) error {
		g.fl = g.fl.Set(fsImmutableFl)
		return setFlags(fd, g.fl)
	})
}

func (g *safeguard) close() error {
	if g == nil {
		return nil
	}
	return g.File.Close()
}
