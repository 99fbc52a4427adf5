// Object comment normalization
//
// Slicers announce the start of each object with their own comment flavour
// ("; process Part_1", "; printing object Part_1", ...). Comments are
// stripped before commands reach the machine queue, so the Normalizer
// rewrites those comments into a canonical tag line that survives until the
// queue filter sees it.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"regexp"
	"strings"

	"cancelobject/pkg/errors"
)

// Normalizer rewrites object-start comments into canonical tag lines.
type Normalizer struct {
	pattern *regexp.Regexp
	tag     *Tag
}

// NewNormalizer compiles pattern, which must contain exactly one capture
// group holding the object name. The pattern is anchored at the start of the
// line.
func NewNormalizer(pattern, tag string) (*Normalizer, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, fmt.Sprintf("object_regex %q does not compile", pattern))
	}
	if n := re.NumSubexp(); n != 1 {
		return nil, errors.ConfigError("object_regex", fmt.Sprintf("%q must have exactly one capture group, found %d", pattern, n))
	}
	t, err := NewTag(tag)
	if err != nil {
		return nil, err
	}
	return &Normalizer{pattern: re, tag: t}, nil
}

// Tag returns the canonical tag the normalizer writes.
func (n *Normalizer) Tag() *Tag {
	return n.tag
}

// ProcessLine rewrites a single line. keep is false when the line must be
// dropped from the output.
func (n *Normalizer) ProcessLine(line string) (out string, keep bool) {
	if strings.HasPrefix(line, ";") {
		line = n.matchComment(line)
	}
	if line == "" {
		return "", false
	}
	return line, true
}

func (n *Normalizer) matchComment(line string) string {
	m := n.pattern.FindStringSubmatchIndex(trimEOL(line))
	// m[2] < 0: the group did not take part in the match
	if m == nil || m[2] < 0 {
		return line
	}
	return n.tag.Format(line[m[2]:m[3]])
}

// Lines returns the normalized lines of r. The sequence reads r lazily and
// can only be consumed once. A read error is yielded once and ends the
// sequence.
func (n *Normalizer) Lines(r io.Reader) iter.Seq2[string, error] {
	br := bufio.NewReader(r)
	return func(yield func(string, error) bool) {
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				if out, keep := n.ProcessLine(line); keep {
					if !yield(out, nil) {
						return
					}
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", errors.Wrap(err, errors.ErrIO, "read gcode"))
				return
			}
		}
	}
}

// Reader wraps r so that reads return the normalized byte stream.
func (n *Normalizer) Reader(r io.Reader) io.Reader {
	return &lineReader{src: bufio.NewReader(r), n: n}
}

// ProcessFile is the upload preprocessing hook. Files that are not G-code are
// returned untouched.
func (n *Normalizer) ProcessFile(name string, r io.Reader) io.Reader {
	if !IsGCodeFile(name) {
		return r
	}
	return n.Reader(r)
}

// IsGCodeFile reports whether name carries a G-code extension.
func IsGCodeFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gcode", ".gco", ".g":
		return true
	}
	return false
}

// lineReader is a pull-based io.Reader over normalized lines.
type lineReader struct {
	src *bufio.Reader
	n   *Normalizer
	buf bytes.Buffer
	err error
}

func (lr *lineReader) Read(p []byte) (int, error) {
	for lr.buf.Len() == 0 && lr.err == nil {
		line, err := lr.src.ReadString('\n')
		if line != "" {
			if out, keep := lr.n.ProcessLine(line); keep {
				lr.buf.WriteString(out)
			}
		}
		lr.err = err
	}
	if lr.buf.Len() > 0 {
		return lr.buf.Read(p)
	}
	return 0, lr.err
}
