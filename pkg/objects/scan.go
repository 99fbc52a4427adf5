// Registry scan
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package objects

import (
	"bufio"
	"context"
	"io"
	"os"

	"cancelobject/pkg/errors"
	"cancelobject/pkg/gcode"
	"cancelobject/pkg/log"
)

// Outcome classifies what a scanned line did to the registry.
type Outcome int

const (
	// OutcomeIgnored is a line that is not a tag line.
	OutcomeIgnored Outcome = iota
	// OutcomeAdded is a tag line naming a new object.
	OutcomeAdded
	// OutcomeDuplicate is a tag line naming an object already seen.
	OutcomeDuplicate
	// OutcomeFailed is a line that could not be processed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAdded:
		return "added"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LineResult is the per-line result of a scan.
type LineResult struct {
	Outcome Outcome
	Record  Record
	Err     error
}

// ScanSummary counts the outcomes of one scan.
type ScanSummary struct {
	Lines      int
	Added      int
	Duplicates int
	Failed     int
}

// ScanFile opens path read-only and scans it.
func (r *Registry) ScanFile(ctx context.Context, path string, tag *gcode.Tag) (ScanSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return ScanSummary{}, errors.Wrap(err, errors.ErrIO, "open print file").SetContext("path", path)
	}
	defer f.Close()
	return r.Scan(ctx, f, tag)
}

// Scan reads src to the end and appends every newly seen object. A line that
// fails is logged and skipped; only read errors and ctx cancellation stop the
// scan.
func (r *Registry) Scan(ctx context.Context, src io.Reader, tag *gcode.Tag) (ScanSummary, error) {
	var sum ScanSummary
	br := bufio.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		line, readErr := br.ReadString('\n')
		if line != "" {
			sum.Lines++
			res := r.scanLine(sum.Lines, line, tag)
			switch res.Outcome {
			case OutcomeAdded:
				sum.Added++
			case OutcomeDuplicate:
				sum.Duplicates++
			case OutcomeFailed:
				sum.Failed++
				r.log.WithError(res.Err).WithField("line", sum.Lines).Warn("skipping line during object scan")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return sum, errors.Wrap(readErr, errors.ErrIO, "read print file").SetLine(sum.Lines)
		}
	}
	r.log.WithFields(log.Fields{
		"lines":      sum.Lines,
		"objects":    sum.Added,
		"duplicates": sum.Duplicates,
		"failed":     sum.Failed,
	}).Info("object scan complete")
	return sum, nil
}

// scanLine handles a single line. It never panics.
func (r *Registry) scanLine(lineNo int, line string, tag *gcode.Tag) (res LineResult) {
	defer func() {
		if p := recover(); p != nil {
			res = LineResult{
				Outcome: OutcomeFailed,
				Err:     errors.LineProcessingError(lineNo, errors.RecoverPanic(p).Error()),
			}
		}
	}()

	if _, marker := tag.Marker(line); !marker {
		return LineResult{Outcome: OutcomeIgnored}
	}
	name, ok := tag.Match(line)
	if !ok {
		return LineResult{Outcome: OutcomeIgnored}
	}
	rec, added := r.add(name)
	if !added {
		return LineResult{Outcome: OutcomeDuplicate, Record: rec}
	}
	return LineResult{Outcome: OutcomeAdded, Record: rec}
}
