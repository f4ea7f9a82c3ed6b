//go:build !linux

package varstore

import "github.com/spf13/afero"

func isEfivarfsMount(string) bool { return false }

// safeguard is a no-op where inode flags are not available.
type safeguard struct{}

func openSafeguard(afero.Fs, string) (*safeguard, error) { return nil, nil }

func (g *safeguard) disable() (bool, error) { return false, nil }
func (g *safeguard) enable() error          { return nil }
func (g *safeguard) close() error           { return nil }
