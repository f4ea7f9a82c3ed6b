package efi

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// SymbolPrefix is prepended to table symbols by GUIDToSymbol.
const SymbolPrefix = "efi_guid_"

//go:embed guids.yaml
var guidsYAML []byte

// Entry is one row of the name registry.
type Entry struct {
	GUID   GUID
	Symbol string
	Name   string
}

type yamlEntry struct {
	GUID   string `yaml:"guid"`
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

// Registry maps GUIDs to symbols and display names. It is immutable once
// built and safe for concurrent use.
type Registry struct {
	entries  []Entry
	byGUID   map[GUID]Entry
	bySymbol map[string][]GUID
	byName   map[string][]GUID
}

// NewRegistry builds a registry from entries. A GUID may appear only once;
// duplicate symbols or names are accepted here and reported as ErrAmbiguous
// by the reverse lookups.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{
		entries:  make([]Entry, 0, len(entries)),
		byGUID:   make(map[GUID]Entry, len(entries)),
		bySymbol: make(map[string][]GUID),
		byName:   make(map[string][]GUID),
	}
	for _, e := range entries {
		if _, dup := r.byGUID[e.GUID]; dup {
			return nil, Errorf(KindAmbiguous, "registry", "guid %s listed twice", e.GUID)
		}
		e.Symbol = strings.TrimPrefix(e.Symbol, SymbolPrefix)
		r.byGUID[e.GUID] = e
		r.entries = append(r.entries, e)
		if e.Symbol != "" {
			r.bySymbol[e.Symbol] = append(r.bySymbol[e.Symbol], e.GUID)
		}
		if e.Name != "" {
			r.byName[e.Name] = append(r.byName[e.Name], e.GUID)
		}
	}
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].GUID.String() < r.entries[j].GUID.String()
	})
	return r, nil
}

// ParseRegistry reads a YAML list of {guid, symbol, name} entries.
func ParseRegistry(data []byte) (*Registry, error) {
	var rows []yamlEntry
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, &Error{Kind: KindParse, Op: "registry", Err: err}
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		g, err := ParseGUID(row.GUID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{GUID: g, Symbol: row.Symbol, Name: row.Name})
	}
	return NewRegistry(entries)
}

// GUIDToSymbol returns efi_guid_<symbol> for g.
func (r *Registry) GUIDToSymbol(g GUID) (string, error) {
	e, ok := r.byGUID[g]
	if !ok || e.Symbol == "" {
		return "", Errorf(KindNotFound, "guid to symbol", "no symbol for %s", g)
	}
	return SymbolPrefix + e.Symbol, nil
}

// GUIDToName returns the display name registered for g.
func (r *Registry) GUIDToName(g GUID) (string, error) {
	e, ok := r.byGUID[g]
	if !ok || e.Name == "" {
		return "", Errorf(KindNotFound, "guid to name", "no name for %s", g)
	}
	return e.Name, nil
}

// NameToGUID looks up a GUID by display name.
func (r *Registry) NameToGUID(name string) (GUID, error) {
	return unique("name to guid", name, r.byName[name])
}

// SymbolToGUID looks up a GUID by symbol, with or without the efi_guid_
// prefix.
func (r *Registry) SymbolToGUID(symbol string) (GUID, error) {
	return unique("symbol to guid", symbol, r.bySymbol[strings.TrimPrefix(symbol, SymbolPrefix)])
}

// GUIDToIDGUID returns "{symbol}" for registered GUIDs and "{guid}"
// otherwise.
func (r *Registry) GUIDToIDGUID(g GUID) string {
	if e, ok := r.byGUID[g]; ok && e.Symbol != "" {
		return "{" + e.Symbol + "}"
	}
	return "{" + g.String() + "}"
}

// Describe returns the display name for g, falling back to its text form.
func (r *Registry) Describe(g GUID) string {
	if name, err := r.GUIDToName(g); err == nil {
		return name
	}
	return g.String()
}

// Entries returns the table sorted by GUID text.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

func unique(op, key string, guids []GUID) (GUID, error) {
	switch len(guids) {
	case 0:
		return GUID{}, Errorf(KindNotFound, op, "%q is not registered", key)
	case 1:
		return guids[0], nil
	default:
		return GUID{}, Errorf(KindAmbiguous, op, "%q maps to %d guids", key, len(guids))
	}
}

var defaultRegistry = mustParseRegistry(guidsYAML)

func mustParseRegistry(data []byte) *Registry {
	r, err := ParseRegistry(data)
	if err != nil {
		panic(fmt.Sprintf("efi: embedded guid table: %v", err))
	}
	return r
}

// DefaultRegistry returns the registry built from the embedded table.
func DefaultRegistry() *Registry { return defaultRegistry }

// GUIDToSymbol looks g up in the default registry.
func GUIDToSymbol(g GUID) (string, error) { return defaultRegistry.GUIDToSymbol(g) }

// GUIDToName looks g up in the default registry.
func GUIDToName(g GUID) (string, error) { return defaultRegistry.GUIDToName(g) }

// NameToGUID looks name up in the default registry.
func NameToGUID(name string) (GUID, error) { return defaultRegistry.NameToGUID(name) }

// SymbolToGUID looks symbol up in the default registry.
func SymbolToGUID(symbol string) (GUID, error) { return defaultRegistry.SymbolToGUID(symbol) }

// GUIDToIDGUID formats g as {symbol} or {guid} using the default registry.
func GUIDToIDGUID(g GUID) string { return defaultRegistry.GUIDToIDGUID(g) }

// GuidName returns a display name for g, or its text form if unregistered.
func GuidName(g GUID) string { return defaultRegistry.Describe(g) }
