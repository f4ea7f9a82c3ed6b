package varstore

import (
	"os"
	"sort"
	"sync"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
)

const (
	ownerRead  os.FileMode = 0o400
	ownerWrite os.FileMode = 0o200
)

// Memory is an in-process store that applies the rules firmware applies to
// SetVariable. It backs tests and the image-based stores.
type Memory struct {
	mu          sync.RWMutex
	vars        map[efi.VariableID]*efi.Variable
	unsupported bool
}

var _ Backend = (*Memory)(nil)

// NewMemory returns a store holding copies of vars. Variables without a
// mode get DefaultMode.
func NewMemory(vars ...*efi.Variable) *Memory {
	m := &Memory{vars: make(map[efi.VariableID]*efi.Variable, len(vars))}
	for _, v := range vars {
		m.vars[v.VariableID] = withMode(v.Clone())
	}
	return m
}

// SetSupported toggles whether the store reports the variable interface
// as present. An unsupported store fails every call with ErrUnavailable.
func (m *Memory) SetSupported(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsupported = !ok
}

func (m *Memory) Supported() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.unsupported
}

func (m *Memory) Stat(id efi.VariableID) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.lookup("stat", id)
	if err != nil {
		return Info{}, err
	}
	return Info{Size: len(v.Data), Attributes: v.Attributes, Mode: v.Mode}, nil
}

func (m *Memory) Read(id efi.VariableID) ([]byte, efi.Attributes, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.lookup("read", id)
	if err != nil {
		return nil, 0, err
	}
	if v.Mode&ownerRead == 0 {
		return nil, 0, efi.NewError(efi.KindPermissionDenied, "read", &id, nil)
	}
	return append([]byte{}, v.Data...), v.Attributes, nil
}

// Get returns a copy of the full record, authenticated header fields
// included.
func (m *Memory) Get(id efi.VariableID) (*efi.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.lookup("get", id)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

func (m *Memory) Write(id efi.VariableID, data []byte, attrs efi.Attributes, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsupported {
		return efi.NewError(efi.KindUnavailable, "write", &id, nil)
	}
	if attrs.Has(efi.RuntimeAccess) && !attrs.Has(efi.BootserviceAccess) {
		return &efi.Error{Kind: efi.KindInvalidAttributes, Op: "write", ID: &id, Msg: "runtime access requires boot service access"}
	}

	appending := attrs.Has(efi.AppendWrite)
	stored := attrs &^ efi.AppendWrite

	cur, ok := m.vars[id]
	if !ok {
		m.vars[id] = &efi.Variable{
			VariableID: id,
			Attributes: stored,
			Data:       append([]byte{}, data...),
			Mode:       mode.Perm(),
		}
		return nil
	}

	if cur.Mode&ownerWrite == 0 {
		return efi.NewError(efi.KindPermissionDenied, "write", &id, nil)
	}
	if cur.Attributes != stored {
		return &efi.Error{Kind: efi.KindInvalidAttributes, Op: "write", ID: &id, Msg: "attributes differ from stored variable"}
	}
	if appending {
		cur.Data = append(cur.Data, data...)
	} else {
		cur.Data = append([]byte{}, data...)
	}
	return nil
}

func (m *Memory) Remove(id efi.VariableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.lookup("remove", id)
	if err != nil {
		return err
	}
	if v.Mode&ownerWrite == 0 {
		return efi.NewError(efi.KindPermissionDenied, "remove", &id, nil)
	}
	delete(m.vars, id)
	return nil
}

func (m *Memory) Chmod(id efi.VariableID, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.lookup("chmod", id)
	if err != nil {
		return err
	}
	v.Mode = mode.Perm()
	return nil
}

func (m *Memory) Next(cursor *efi.VariableID) (*efi.VariableID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unsupported {
		return nil, efi.NewError(efi.KindUnavailable, "next", cursor, nil)
	}
	return nextID("next", m.sortedIDs(), cursor)
}

// Snapshot returns copies of all variables sorted by identity.
func (m *Memory) Snapshot() efi.VariableList {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make(efi.VariableList, 0, len(m.vars))
	for _, id := range m.sortedIDs() {
		list = append(list, m.vars[id].Clone())
	}
	return list
}

// Load replaces the contents of the store with copies of list. Modes are
// taken as given.
func (m *Memory) Load(list efi.VariableList) error {
	vars := make(map[efi.VariableID]*efi.Variable, len(list))
	for _, v := range list {
		if err := v.Validate(); err != nil {
			return err
		}
		if _, dup := vars[v.VariableID]; dup {
			id := v.VariableID
			return &efi.Error{Kind: efi.KindAmbiguous, Op: "load", ID: &id, Msg: "listed twice"}
		}
		vars[v.VariableID] = v.Clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars = vars
	return nil
}

// Len returns the number of stored variables.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vars)
}

// lookup expects m.mu to be held.
func (m *Memory) lookup(op string, id efi.VariableID) (*efi.Variable, error) {
	if m.unsupported {
		return nil, efi.NewError(efi.KindUnavailable, op, &id, nil)
	}
	v, ok := m.vars[id]
	if !ok {
		return nil, efi.NewError(efi.KindNotFound, op, &id, nil)
	}
	return v, nil
}

func (m *Memory) sortedIDs() []efi.VariableID {
	ids := make([]efi.VariableID, 0, len(m.vars))
	for id := range m.vars {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

func withMode(v *efi.Variable) *efi.Variable {
	if v.Mode == 0 {
		v.Mode = DefaultMode
	}
	return v
}
