// Package firmware selects and opens a variable store.
package firmware

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/efivar"
	"github.com/bmcpi/efivar/pkg/firmware/varstore"
)

// Backend names accepted by NewBackend.
const (
	BackendEfivarfs = "efivarfs"
	BackendEdk2     = "edk2"
	BackendJSON     = "json"
	BackendMemory   = "memory"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendEfivarfs, BackendEdk2, BackendJSON, BackendMemory}

// Options selects a backend and where it keeps its data.
type Options struct {
	Backend      string
	EfivarfsPath string
	Edk2Path     string
	JSONPath     string

	// Fs defaults to the operating system filesystem.
	Fs afero.Fs
}

// NewBackend opens the backend named in opts.
func NewBackend(opts Options, logger logr.Logger) (varstore.Backend, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	switch opts.Backend {
	case BackendEfivarfs, "":
		path := opts.EfivarfsPath
		if path == "" {
			path = varstore.DefaultEfivarfsPath
		}
		return varstore.NewEfivarfs(fs, path, logger), nil
	case BackendEdk2:
		if opts.Edk2Path == "" {
			return nil, efi.Errorf(efi.KindInvalidArgument, "open backend", "edk2 backend needs an image path")
		}
		store, err := varstore.NewEdk2(fs, opts.Edk2Path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendJSON:
		if opts.JSONPath == "" {
			return nil, efi.Errorf(efi.KindInvalidArgument, "open backend", "json backend needs a file path")
		}
		store, err := varstore.NewJSONFile(fs, opts.JSONPath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return varstore.NewMemory(), nil
	default:
		return nil, efi.Errorf(efi.KindInvalidArgument, "open backend", "unknown backend %q, want one of %v", opts.Backend, Backends)
	}
}

// NewClient opens the backend named in opts and wraps it in a client.
func NewClient(opts Options, logger logr.Logger) (*efivar.Client, error) {
	backend, err := NewBackend(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s variable store: %w", opts.Backend, err)
	}
	return efivar.New(backend), nil
}
