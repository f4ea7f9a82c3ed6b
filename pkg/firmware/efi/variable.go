package efi

import (
	"os"
	"strings"
)

// VariableID is the key of a variable: its vendor GUID and name. Names are
// case-sensitive and otherwise opaque.
type VariableID struct {
	GUID GUID
	Name string
}

// NewVariableID returns a validated identity.
func NewVariableID(guid GUID, name string) (VariableID, error) {
	id := VariableID{GUID: guid, Name: name}
	return id, id.Validate()
}

// Validate rejects empty names and names containing NUL.
func (id VariableID) Validate() error {
	if id.Name == "" {
		return &Error{Kind: KindInvalidArgument, Op: "validate", Msg: "empty variable name"}
	}
	if strings.IndexByte(id.Name, 0) >= 0 {
		return &Error{Kind: KindInvalidArgument, Op: "validate", Msg: "variable name contains NUL"}
	}
	return nil
}

// String returns "Name-guid", the form efivarfs uses for file names.
func (id VariableID) String() string {
	return id.Name + "-" + id.GUID.String()
}

// Less orders identities by GUID text, then name.
func (id VariableID) Less(other VariableID) bool {
	if id.GUID != other.GUID {
		return id.GUID.String() < other.GUID.String()
	}
	return id.Name < other.Name
}

// ParseVariableID splits "Name-guid" as produced by String.
func ParseVariableID(s string) (VariableID, error) {
	if len(s) < GUIDTextLen+2 || s[len(s)-GUIDTextLen-1] != '-' {
		return VariableID{}, Errorf(KindParse, "parse variable", "%q is not of the form Name-GUID", s)
	}
	guid, err := ParseGUID(s[len(s)-GUIDTextLen:])
	if err != nil {
		return VariableID{}, err
	}
	return NewVariableID(guid, s[:len(s)-GUIDTextLen-1])
}

// Variable is a variable record as observed from a backend.
type Variable struct {
	VariableID
	Attributes Attributes
	Data       []byte
	Mode       os.FileMode

	// Authenticated variable header fields, only kept by image backends.
	MonotonicCount uint64
	Timestamp      [16]byte
	PubKeyIndex    uint32
}

// Clone returns a deep copy of v.
func (v *Variable) Clone() *Variable {
	c := *v
	if v.Data != nil {
		c.Data = append([]byte(nil), v.Data...)
	}
	return &c
}

// HasTimestamp reports whether the authenticated header timestamp is set.
func (v *Variable) HasTimestamp() bool {
	return v.Timestamp != [16]byte{}
}
