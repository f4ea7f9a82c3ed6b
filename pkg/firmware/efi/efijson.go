package efi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ghodss/yaml"
)

// VarListVersion is the virt-fw-vars JSON document version.
const VarListVersion = 2

// VariableList is an ordered set of variable records.
type VariableList []*Variable

// EfiVarJSON represents the JSON structure for an EFI variable
type EfiVarJSON struct {
	Name string `json:"name"`
	GUID string `json:"guid"`
	Attr uint64 `json:"attr"`
	Data string `json:"data"`           // hex encoded
	Time string `json:"time,omitempty"` // hex encoded
}

// EfiVarListJSON represents the JSON structure for a list of EFI variables
type EfiVarListJSON struct {
	Version   int          `json:"version"`
	Variables []EfiVarJSON `json:"variables"`
}

// MarshalEfiVar converts a Variable to its JSON representation
func MarshalEfiVar(v *Variable) EfiVarJSON {
	result := EfiVarJSON{
		Name: v.Name,
		GUID: v.GUID.String(),
		Attr: uint64(v.Attributes),
		Data: hex.EncodeToString(v.Data),
	}
	if v.HasTimestamp() {
		result.Time = hex.EncodeToString(v.Timestamp[:])
	}
	return result
}

// UnmarshalEfiVar converts the JSON representation back to a Variable.
func UnmarshalEfiVar(j EfiVarJSON) (*Variable, error) {
	guid, err := ParseGUID(j.GUID)
	if err != nil {
		return nil, err
	}
	id, err := NewVariableID(guid, j.Name)
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(j.Data)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: "decode variable", ID: &id, Msg: "data is not hex", Err: err}
	}
	v := &Variable{VariableID: id, Attributes: Attributes(j.Attr), Data: data}
	if j.Time != "" {
		ts, err := hex.DecodeString(j.Time)
		if err != nil || len(ts) != len(v.Timestamp) {
			return nil, &Error{Kind: KindParse, Op: "decode variable", ID: &id, Msg: "bad timestamp", Err: err}
		}
		copy(v.Timestamp[:], ts)
	}
	return v, nil
}

// MarshalJSON implements the json.Marshaler interface for Variable
func (v *Variable) MarshalJSON() ([]byte, error) {
	return json.Marshal(MarshalEfiVar(v))
}

// UnmarshalJSON implements the json.Unmarshaler interface for Variable
func (v *Variable) UnmarshalJSON(data []byte) error {
	var j EfiVarJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	parsed, err := UnmarshalEfiVar(j)
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

// MarshalJSON implements the json.Marshaler interface for VariableList
func (list VariableList) MarshalJSON() ([]byte, error) {
	variables := make([]EfiVarJSON, 0, len(list))
	for _, item := range list {
		variables = append(variables, MarshalEfiVar(item))
	}
	return json.Marshal(EfiVarListJSON{
		Version:   VarListVersion,
		Variables: variables,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface for VariableList
func (list *VariableList) UnmarshalJSON(data []byte) error {
	var doc EfiVarListJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Version != VarListVersion {
		return Errorf(KindParse, "decode variable list", "unsupported version: %d", doc.Version)
	}

	out := make(VariableList, 0, len(doc.Variables))
	seen := make(map[VariableID]bool, len(doc.Variables))
	for _, j := range doc.Variables {
		v, err := UnmarshalEfiVar(j)
		if err != nil {
			return err
		}
		if seen[v.VariableID] {
			return &Error{Kind: KindAmbiguous, Op: "decode variable list", ID: &v.VariableID, Msg: "listed twice"}
		}
		seen[v.VariableID] = true
		out = append(out, v)
	}
	*list = out
	return nil
}

// ToYAML renders the list as the YAML equivalent of its JSON form.
func (list VariableList) ToYAML() ([]byte, error) {
	j, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return yaml.JSONToYAML(j)
}

// UnmarshalVariableListYAML parses a YAML (or JSON) variable list.
func UnmarshalVariableListYAML(data []byte) (VariableList, error) {
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: "decode variable list", Err: err}
	}
	var list VariableList
	if err := json.Unmarshal(j, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Sort orders the list by GUID text, then name.
func (list VariableList) Sort() {
	sort.Slice(list, func(i, j int) bool {
		return list[i].VariableID.Less(list[j].VariableID)
	})
}

// Find returns the variable with the given identity, or nil.
func (list VariableList) Find(id VariableID) *Variable {
	for _, v := range list {
		if v.VariableID == id {
			return v
		}
	}
	return nil
}

// FindFirst returns the first variable called name in any namespace.
func (list VariableList) FindFirst(name string) *Variable {
	for _, v := range list {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (list VariableList) String() string {
	return fmt.Sprintf("%d variables", len(list))
}
