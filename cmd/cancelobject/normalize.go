package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cancelobject/pkg/gcode"
)

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Rewrite slicer object comments into canonical tags",
		Long: `Rewrite every line matching the configured object regex into the canonical
tag form, the same rewrite applied to uploads. Output goes to stdout unless
-o is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			n, err := gcode.NewNormalizer(cfg.Plugin.ObjectRegex, cfg.Plugin.RepTag)
			if err != nil {
				return err
			}
			return runNormalize(n, args[0], output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func runNormalize(n *gcode.Normalizer, input, output string, stdout io.Writer) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	if output == "" {
		_, err = io.Copy(stdout, n.Reader(in))
		return err
	}
	if output == input {
		return fmt.Errorf("output %q would overwrite the input", output)
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, n.Reader(in)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
