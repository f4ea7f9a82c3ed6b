package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/go-logr/logr"

	"github.com/bmcpi/efivar/internal/config"
	"github.com/bmcpi/efivar/pkg/firmware"
	"github.com/bmcpi/efivar/pkg/firmware/efi"
	"github.com/bmcpi/efivar/pkg/firmware/efivar"
)

const (
	programName = "efivar"
	programDesc = "Inspect and modify UEFI variables"

	// EX_USAGE from sysexits.h, kept apart from the errno-style statuses
	exitUsage = 64
)

// set by --verbose before the config is loaded
var logLevelOverride string

type verboseFlag bool

func (v verboseFlag) BeforeApply() error {
	logLevelOverride = "debug"
	return nil
}

type rootCmd struct {
	// Global options
	Config  string      `name:"config" help:"Configuration file (default: efivar.yaml in /etc/efivar, ~/.config/efivar or .)" type:"path"`
	Backend string      `name:"backend" help:"Variable store: efivarfs, edk2, json or memory (overrides config)"`
	Verbose verboseFlag `help:"Enable debug logging"`

	// Subcommands
	List   listCmd   `cmd:"" help:"List variable names"`
	Print  printCmd  `cmd:"" help:"Print a variable"`
	Write  writeCmd  `cmd:"" help:"Create or replace a variable"`
	Append appendCmd `cmd:"" help:"Append data to a variable"`
	Delete deleteCmd `cmd:"" help:"Delete a variable"`
	Chmod  chmodCmd  `cmd:"" help:"Change the permissions of a variable"`
	Boot   bootCmd   `cmd:"" help:"Show boot manager entries"`
	Guids  guidsCmd  `cmd:"" help:"List well-known vendor GUIDs"`
	Export exportCmd `cmd:"" help:"Dump all variables as virt-fw-vars JSON or YAML"`
	Import importCmd `cmd:"" help:"Load variables from a virt-fw-vars JSON or YAML file"`
}

// globals is bound into every command's Run method.
type globals struct {
	Client      *efivar.Client
	Log         logr.Logger
	Out         io.Writer
	In          io.Reader
	DefaultMode os.FileMode
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logLevelOverride = ""

	var cli rootCmd
	parser, err := kong.New(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		return 1
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		return exitUsage
	}

	conf, err := config.NewConfig(cli.Config)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		return 1
	}
	if logLevelOverride != "" {
		conf.SetLogLevel(logLevelOverride)
	}
	opts := conf.FirmwareOptions()
	if cli.Backend != "" {
		opts.Backend = cli.Backend
	}
	mode, err := conf.Mode()
	if err != nil {
		conf.Log.Error(err, "bad configuration")
		return 1
	}

	client, err := firmware.NewClient(opts, conf.Log)
	if err != nil {
		conf.Log.Error(err, "unable to open variable store", "backend", opts.Backend)
		return 1
	}
	conf.Log.V(1).Info("opened variable store", "backend", opts.Backend)

	err = ctx.Run(&globals{
		Client:      client,
		Log:         conf.Log,
		Out:         stdout,
		In:          stdin,
		DefaultMode: mode,
	})
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps error kinds to errno-style exit statuses.
func exitCode(err error) int {
	switch {
	case errors.Is(err, efi.ErrNotFound):
		return 2
	case errors.Is(err, efi.ErrPermissionDenied):
		return 13
	case errors.Is(err, efi.ErrInvalidArgument), errors.Is(err, efi.ErrInvalidAttributes):
		return 22
	default:
		return 1
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
