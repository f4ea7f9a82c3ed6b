package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/efivar"
)

// variableFlags selects one variable. The GUID may be given in text form,
// as a registry symbol (global, efi_guid_shim) or as a display name.
type variableFlags struct {
	GUID string `name:"guid" short:"g" default:"global" help:"Vendor GUID, symbol or name"`
	Name string `name:"name" short:"n" required:"" help:"Variable name"`
}

func (f variableFlags) identity() (efi.VariableID, error) {
	guid, err := resolveGUID(f.GUID)
	if err != nil {
		return efi.VariableID{}, err
	}
	return efi.NewVariableID(guid, f.Name)
}

func resolveGUID(s string) (efi.GUID, error) {
	s = strings.Trim(s, "{}")
	if g, err := efi.ParseGUID(s); err == nil {
		return g, nil
	}
	if g, err := efi.SymbolToGUID(s); err == nil {
		return g, nil
	}
	if g, err := efi.NameToGUID(s); err == nil {
		return g, nil
	}
	return efi.GUID{}, efi.Errorf(efi.KindInvalidArgument, "resolve guid", "%q is neither a GUID nor a known symbol", s)
}

func parseMode(s string) (os.FileMode, error) {
	m, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil || m > 0o777 {
		return 0, efi.Errorf(efi.KindInvalidArgument, "parse mode", "invalid mode %q", s)
	}
	return os.FileMode(m), nil
}

func readData(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

type listCmd struct{}

func (l *listCmd) Run(g *globals) error {
	for id, err := range g.Client.Variables() {
		if err != nil {
			return err
		}
		printListEntry(g.Out, id)
	}
	return nil
}

type printCmd struct {
	variableFlags
	Raw bool `help:"Write the raw value instead of a hex dump"`
}

func (p *printCmd) Run(g *globals) error {
	id, err := p.identity()
	if err != nil {
		return err
	}
	v, err := g.Client.Read(id)
	if err != nil {
		return err
	}
	if p.Raw {
		_, err := g.Out.Write(v.Data)
		return err
	}
	printVariable(g.Out, v)
	return nil
}

type writeCmd struct {
	variableFlags
	Attributes string `name:"attributes" short:"A" default:"NV|BS|RT" help:"Attribute flags, e.g. NV|BS|RT or 0x7"`
	Datafile   string `name:"datafile" short:"f" required:"" help:"File holding the new value, - for stdin"`
	Mode       string `name:"mode" short:"m" help:"Permissions for a newly created variable (octal)"`
}

func (w *writeCmd) Run(g *globals) error {
	id, err := w.identity()
	if err != nil {
		return err
	}
	attrs, err := efi.ParseAttributes(w.Attributes)
	if err != nil {
		return err
	}
	data, err := readData(w.Datafile, g.In)
	if err != nil {
		return err
	}

	var modes []os.FileMode
	switch {
	case w.Mode != "":
		m, err := parseMode(w.Mode)
		if err != nil {
			return err
		}
		modes = append(modes, m)
	case g.DefaultMode != 0 && g.DefaultMode != efivar.DefaultMode:
		modes = append(modes, g.DefaultMode)
	}

	g.Log.V(1).Info("writing variable", "variable", id.String(), "attributes", attrs.String(), "size", len(data))
	return g.Client.Set(id.GUID, id.Name, data, attrs, modes...)
}

type appendCmd struct {
	variableFlags
	Attributes string `name:"attributes" short:"A" default:"NV|BS|RT" help:"Attribute flags of the existing variable"`
	Datafile   string `name:"datafile" short:"f" required:"" help:"File holding the data to append, - for stdin"`
}

func (a *appendCmd) Run(g *globals) error {
	id, err := a.identity()
	if err != nil {
		return err
	}
	attrs, err := efi.ParseAttributes(a.Attributes)
	if err != nil {
		return err
	}
	data, err := readData(a.Datafile, g.In)
	if err != nil {
		return err
	}
	g.Log.V(1).Info("appending to variable", "variable", id.String(), "size", len(data))
	return g.Client.Append(id.GUID, id.Name, data, attrs)
}

type deleteCmd struct {
	variableFlags
}

func (d *deleteCmd) Run(g *globals) error {
	id, err := d.identity()
	if err != nil {
		return err
	}
	g.Log.V(1).Info("deleting variable", "variable", id.String())
	return g.Client.Delete(id.GUID, id.Name)
}

type chmodCmd struct {
	variableFlags
	Mode string `name:"mode" short:"m" required:"" help:"New permissions (octal)"`
}

func (c *chmodCmd) Run(g *globals) error {
	id, err := c.identity()
	if err != nil {
		return err
	}
	mode, err := parseMode(c.Mode)
	if err != nil {
		return err
	}
	return g.Client.Chmod(id.GUID, id.Name, mode)
}

type guidsCmd struct{}

func (c *guidsCmd) Run(g *globals) error {
	printRegistry(g.Out, efi.DefaultRegistry().Entries())
	return nil
}

type exportCmd struct {
	Format string `name:"format" enum:"json,yaml" default:"json" help:"Output format (json, yaml)"`
}

func (e *exportCmd) Run(g *globals) error {
	list, err := g.Client.List()
	if err != nil {
		return err
	}

	var out []byte
	switch e.Format {
	case "yaml":
		out, err = list.ToYAML()
	default:
		out, err = json.MarshalIndent(list, "", "  ")
		out = append(out, '\n')
	}
	if err != nil {
		return err
	}
	_, err = g.Out.Write(out)
	return err
}

type importCmd struct {
	File string `arg:"" name:"file" help:"virt-fw-vars JSON or YAML document, - for stdin"`
}

func (i *importCmd) Run(g *globals) error {
	raw, err := readData(i.File, g.In)
	if err != nil {
		return err
	}
	list, err := efi.UnmarshalVariableListYAML(raw)
	if err != nil {
		return err
	}
	for _, v := range list {
		if err := g.Client.Set(v.GUID, v.Name, v.Data, v.Attributes, g.DefaultMode); err != nil {
			return fmt.Errorf("import %s: %w", v.VariableID, err)
		}
	}
	g.Log.Info("imported variables", "count", len(list))
	return nil
}

type bootCmd struct {
	Next    int      `name:"next" default:"-1" help:"Set BootNext to this option number"`
	Order   []string `name:"order" help:"Replace BootOrder, e.g. --order 0001,0000"`
	Verbose bool     `name:"verbose-paths" short:"v" help:"Show device paths and optional data"`
}

func (b *bootCmd) Run(g *globals) error {
	if b.Next >= 0 {
		if b.Next > 0xffff {
			return efi.Errorf(efi.KindInvalidArgument, "boot", "option %d out of range", b.Next)
		}
		if err := g.Client.SetBootNext(uint16(b.Next)); err != nil {
			return err
		}
	}
	if len(b.Order) > 0 {
		order := make([]uint16, 0, len(b.Order))
		for _, s := range b.Order {
			n, err := strconv.ParseUint(s, 16, 16)
			if err != nil {
				return efi.Errorf(efi.KindInvalidArgument, "boot", "bad option number %q", s)
			}
			order = append(order, uint16(n))
		}
		if err := g.Client.SetBootOrder(order); err != nil {
			return err
		}
	}

	cfg, err := g.Client.BootConfig()
	if err != nil {
		return err
	}
	printBootConfig(g.Out, cfg, b.Verbose)
	return nil
}
