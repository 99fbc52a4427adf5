package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/config"
	"cancelobject/pkg/log"
	"cancelobject/pkg/notify"
	"cancelobject/pkg/objects"
	"cancelobject/pkg/plugin"
	"cancelobject/pkg/printer"
)

// cliCaller is the identity offline cancels are recorded under.
var cliCaller = auth.Caller{Subject: "cli"}

// FilterResult is the filter command summary.
type FilterResult struct {
	File      string           `json:"file"`
	Cancelled []string         `json:"cancelled"`
	Objects   []objects.Record `json:"objects"`
	Stats     printer.Stats    `json:"stats"`
}

// NewFilterCommand creates the filter command.
func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		cancel []string
		output string
	)

	cmd := &cobra.Command{
		Use:   "filter <file>",
		Short: "Dry-run a print with some objects cancelled",
		Long: `Stream a normalized print file through the command-queue filter with the
given objects cancelled from the start, writing the commands that would reach
the machine. The summary goes to stderr, or to stdout when -o is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			logger := rootOpts.logger(cmd.ErrOrStderr())

			out := cmd.OutOrStdout()
			if output != "" {
				f, closeOut, err := openMachineOutput(output, nil)
				if err != nil {
					return err
				}
				defer closeOut()
				out = f
			}

			res, err := runFilter(cmd.Context(), cfg.Plugin, logger, args[0], cancel, out)
			if err != nil {
				return err
			}
			return rootOpts.emit(summaryWriter(cmd, output), res, func(w io.Writer) error {
				fmt.Fprintf(w, "%d lines, %d sent, %d suppressed\n", res.Stats.Lines, res.Stats.Sent, res.Stats.Suppressed)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&cancel, "cancel", nil, "objects to cancel (comma separated or repeated)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write forwarded commands to a file (default stdout)")
	return cmd
}

// summaryWriter keeps the summary off the command stream.
func summaryWriter(cmd *cobra.Command, output string) io.Writer {
	if output == "" {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// runFilter drives a plugin through one print of path, cancelling names once
// the file's objects are loaded.
func runFilter(ctx context.Context, settings config.Settings, logger *log.Logger, path string, cancel []string, out io.Writer) (FilterResult, error) {
	p, err := plugin.New(plugin.Config{
		Settings: settings,
		Sink:     notify.Discard,
		Logger:   logger.WithPrefix(plugin.Identifier),
	})
	if err != nil {
		return FilterResult{}, err
	}

	if err := p.OnEvent(ctx, plugin.Event{Type: plugin.PrintStarted, File: path}); err != nil {
		return FilterResult{}, err
	}
	for _, name := range cancel {
		if err := p.Cancel(ctx, cliCaller, name); err != nil {
			return FilterResult{}, err
		}
	}
	known, cancelled := p.Objects(), p.Cancelled()

	stats, runErr := printer.NewRunner(p, out, logger.WithPrefix("printer")).RunFile(ctx, path)
	ev := plugin.PrintDone
	if runErr != nil {
		ev = plugin.PrintFailed
	}
	if err := p.OnEvent(ctx, plugin.Event{Type: ev}); err != nil {
		return FilterResult{}, err
	}
	if runErr != nil {
		return FilterResult{}, runErr
	}

	return FilterResult{
		File:      path,
		Cancelled: cancelled,
		Objects:   known,
		Stats:     stats,
	}, nil
}
