// Print runner
//
// Streams a stored G-code file through the command-queue hook and writes
// every forwarded command to the machine.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package printer

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"cancelobject/pkg/errors"
	"cancelobject/pkg/filter"
	"cancelobject/pkg/gcode"
	"cancelobject/pkg/log"
)

// Queue is the command-queue hook.
type Queue interface {
	QueueCommand(cmd filter.Command) filter.Decision
}

// Tagged is implemented by queues that recognise object tags. Their marker
// lines reach the queue whole, since object names may contain ';'.
type Tagged interface {
	Tag() *gcode.Tag
}

// Stats counts what one run did.
type Stats struct {
	Lines      int `json:"lines"`
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"`
}

// Runner feeds file lines to a Queue and writes the results to the machine.
type Runner struct {
	queue Queue
	tag   *gcode.Tag
	out   io.Writer
	log   *log.Logger
}

// NewRunner creates a runner writing forwarded commands to out.
func NewRunner(queue Queue, out io.Writer, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.GetLogger("printer")
	}
	r := &Runner{queue: queue, out: out, log: logger}
	if t, ok := queue.(Tagged); ok {
		r.tag = t.Tag()
	}
	return r
}

// RunFile opens path and runs it.
func (r *Runner) RunFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, errors.Wrap(err, errors.ErrIO, "open print file").SetContext("path", path)
	}
	defer f.Close()
	return r.Run(ctx, f)
}

// Run streams src line by line until EOF, a write error or ctx is done.
func (r *Runner) Run(ctx context.Context, src io.Reader) (Stats, error) {
	var stats Stats
	br := bufio.NewReader(src)
	w := bufio.NewWriter(r.out)
	defer w.Flush()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line, readErr := br.ReadString('\n')
		if line != "" {
			stats.Lines++
			if err := r.processLine(w, line, &stats); err != nil {
				return stats, errors.Wrap(err, errors.ErrIO, "write to machine").SetLine(stats.Lines)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return stats, errors.Wrap(readErr, errors.ErrIO, "read print file").SetLine(stats.Lines)
		}
	}
	if err := w.Flush(); err != nil {
		return stats, errors.Wrap(err, errors.ErrIO, "write to machine")
	}
	return stats, nil
}

// processLine strips comments and whitespace, then queues what is left.
// Tag lines keep everything after the tag.
func (r *Runner) processLine(w *bufio.Writer, line string, stats *Stats) error {
	line = r.clean(line)
	if line == "" {
		return nil
	}

	d := r.queue.QueueCommand(filter.Command{
		Text:  line,
		Phase: "queuing",
		GCode: mnemonic(line),
	})
	if !d.Send {
		stats.Suppressed++
		return nil
	}
	stats.Sent++
	if _, err := w.WriteString(d.Text); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	// Flush per command so the machine sees moves as they are decided.
	return w.Flush()
}

func (r *Runner) clean(line string) string {
	if r.tag != nil {
		if s, ok := r.tag.Marker(line); ok {
			return s
		}
	}
	line = strings.TrimRight(line, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// mnemonic returns the command word of a G-code line (e.g. "G1", "M104"),
// or "" when the line does not start with a letter followed by a number.
func mnemonic(line string) string {
	word, _, _ := strings.Cut(line, " ")
	if len(word) < 2 {
		return ""
	}
	c := word[0] &^ 0x20
	if c < 'A' || c > 'Z' {
		return ""
	}
	for i := 1; i < len(word); i++ {
		if (word[i] < '0' || word[i] > '9') && word[i] != '.' {
			return ""
		}
	}
	return string(c) + word[1:]
}
