package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cancelobject/pkg/gcode"
	"cancelobject/pkg/objects"
)

// ScanResult is the scan command output.
type ScanResult struct {
	File       string           `json:"file"`
	Objects    []objects.Record `json:"objects"`
	Lines      int              `json:"lines"`
	Duplicates int              `json:"duplicates"`
	Failed     int              `json:"failed"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "List the objects tagged in a print file",
		Long: `List the objects a print file announces, in first-appearance order, the
same way the host does when a file is selected. Use --raw for files that
have not been normalized yet.`,
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
			logger := rootOpts.logger(cmd.ErrOrStderr())
			res, err := runScan(cmd.Context(), objects.NewRegistry(logger.WithPrefix("objects")), n, args[0], raw)
			if err != nil {
				return err
			}
			return rootOpts.emit(cmd.OutOrStdout(), res, func(w io.Writer) error {
				for _, rec := range res.Objects {
					fmt.Fprintf(w, "%d\t%s\n", rec.ID, rec.Name)
				}
				fmt.Fprintf(w, "%d objects in %d lines (%d duplicate tags, %d failed)\n",
					len(res.Objects), res.Lines, res.Duplicates, res.Failed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "normalize the file before scanning")
	return cmd
}

func runScan(ctx context.Context, reg *objects.Registry, n *gcode.Normalizer, path string, raw bool) (ScanResult, error) {
	var (
		sum objects.ScanSummary
		err error
	)
	if raw {
		sum, err = scanNormalized(ctx, reg, n, path)
	} else {
		sum, err = reg.ScanFile(ctx, path, n.Tag())
	}
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{
		File:       path,
		Objects:    reg.Snapshot(),
		Lines:      sum.Lines,
		Duplicates: sum.Duplicates,
		Failed:     sum.Failed,
	}, nil
}

func scanNormalized(ctx context.Context, reg *objects.Registry, n *gcode.Normalizer, path string) (objects.ScanSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return objects.ScanSummary{}, err
	}
	defer f.Close()
	return reg.Scan(ctx, n.Reader(f), n.Tag())
}
