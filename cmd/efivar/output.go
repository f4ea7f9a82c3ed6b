package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/efivar"
)

var (
	guidStyle  = color.New(color.FgCyan).SprintFunc()
	nameStyle  = color.New(color.Bold).SprintFunc()
	labelStyle = color.New(color.FgYellow).SprintFunc()
)

func printListEntry(w io.Writer, id efi.VariableID) {
	fmt.Fprintf(w, "%s-%s\n", guidStyle(id.GUID.String()), nameStyle(id.Name))
}

func printVariable(w io.Writer, v *efi.Variable) {
	fmt.Fprintf(w, "%s %s\n", labelStyle("GUID:"), guidStyle(efi.GUIDToIDGUID(v.GUID)))
	fmt.Fprintf(w, "%s %s\n", labelStyle("Name:"), nameStyle(v.Name))
	fmt.Fprintf(w, "%s\n", labelStyle("Attributes:"))
	for _, name := range v.Attributes.Names() {
		fmt.Fprintf(w, "\t%s\n", name)
	}
	fmt.Fprintf(w, "%s\n", labelStyle("Value:"))
	fmt.Fprint(w, hex.Dump(v.Data))
}

func printRegistry(w io.Writer, entries []efi.Entry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"GUID", "Symbol", "Name"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, e := range entries {
		symbol := ""
		if e.Symbol != "" {
			symbol = "{" + strings.TrimPrefix(e.Symbol, efi.SymbolPrefix) + "}"
		}
		table.Append([]string{e.GUID.String(), symbol, e.Name})
	}
	table.Render()
}

func printBootConfig(w io.Writer, cfg *efivar.BootConfig, verbose bool) {
	if cfg.Next != nil {
		fmt.Fprintf(w, "BootNext: %04X\n", *cfg.Next)
	}
	if cfg.Current != nil {
		fmt.Fprintf(w, "BootCurrent: %04X\n", *cfg.Current)
	}
	if cfg.Timeout != nil {
		fmt.Fprintf(w, "Timeout: %d seconds\n", *cfg.Timeout)
	}
	if len(cfg.Order) > 0 {
		order := make([]string, 0, len(cfg.Order))
		for _, n := range cfg.Order {
			order = append(order, fmt.Sprintf("%04X", n))
		}
		fmt.Fprintf(w, "BootOrder: %s\n", strings.Join(order, ","))
	}
	for _, e := range cfg.Entries {
		mark := " "
		if e.Option.Active() {
			mark = "*"
		}
		line := e.Option.Description
		if verbose {
			line = e.Option.String()
		}
		fmt.Fprintf(w, "%s%s %s\n", nameStyle(efi.BootOptionName(e.Number)), mark, line)
	}
}
