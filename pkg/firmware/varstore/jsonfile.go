package varstore

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

// JSONFile keeps variables in a virt-fw-vars JSON document. A missing file
// is treated as an empty store and created on the first write.
type JSONFile struct {
	*fileStore

	fs   afero.Fs
	path string
	log  logr.Logger
}

var _ Backend = (*JSONFile)(nil)

// NewJSONFile loads the document at path.
func NewJSONFile(fs afero.Fs, path string, logger logr.Logger) (*JSONFile, error) {
	j := &JSONFile{
		fs:   fs,
		path: path,
		log:  logger.WithName("json"),
	}

	var list efi.VariableList
	raw, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		j.log.V(1).Info("starting empty variable list", "path", path)
	case err != nil:
		return nil, MapFSError("open json", nil, err)
	default:
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		j.log.V(1).Info("loaded variable list", "path", path, "count", len(list))
	}
	for _, v := range list {
		if v.Mode == 0 {
			v.Mode = DefaultMode
		}
	}

	if j.fileStore, err = newFileStore(list, j.save); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *JSONFile) save(list efi.VariableList) error {
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if fi, err := j.fs.Stat(j.path); err == nil {
		mode = fi.Mode().Perm()
	}
	return replaceFile(j.fs, j.path, append(raw, '\n'), mode)
}
