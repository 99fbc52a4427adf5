package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"cancelobject/pkg/config"
	"cancelobject/pkg/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cancelobject",
		Short: "Cancel individual objects during a multi-object print",
		Long: `cancelobject rewrites slicer object comments into canonical tags, keeps a
registry of the objects in the selected print and suppresses the commands of
objects an operator cancels while the print runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "YAML settings file (defaults plus CANCELOBJECT_* environment when empty)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewNormalizeCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewFilterCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.Load(o.Config)
}

// logger builds the process logger and installs it as the default.
func (o *RootOptions) logger(w io.Writer) *log.Logger {
	l := log.New("cancelobject")
	l.SetWriter(w)
	log.ConfigureFromEnv(l)
	if o.Verbose {
		l.SetLevel(log.DEBUG)
	}
	log.SetDefaultLogger(l)
	return l
}

// emit writes data as indented JSON, or calls text for the text format.
func (o *RootOptions) emit(w io.Writer, data any, text func(io.Writer) error) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return text(w)
}
