// Canonical object tag
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"regexp"
	"strings"

	"cancelobject/pkg/errors"
)

// Tag is the canonical object-start marker written by the Normalizer and
// recognised by the registry scan and the queue filter.
type Tag struct {
	text string
	lead byte
	re   *regexp.Regexp
}

// NewTag compiles the canonical tag. The first byte of the tag is the
// fast-path check for every line; the name is everything after "<tag> ".
func NewTag(tag string) (*Tag, error) {
	if tag == "" {
		return nil, errors.ConfigError("reptag", "must not be empty")
	}
	re, err := regexp.Compile("^" + regexp.QuoteMeta(tag) + " (.*)")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "reptag does not form a valid pattern")
	}
	return &Tag{text: tag, lead: tag[0], re: re}, nil
}

// String returns the tag text.
func (t *Tag) String() string {
	return t.text
}

// Lead returns the first byte of the tag.
func (t *Tag) Lead() byte {
	return t.lead
}

// HasLead reports whether line starts with the tag's lead byte.
func (t *Tag) HasLead(line string) bool {
	return len(line) > 0 && line[0] == t.lead
}

// Marker trims surrounding whitespace and the line terminator from line and
// reports whether what is left is a marker line. Every consumer of tag lines
// goes through here so that the registry scan and the queue filter agree on
// object names.
func (t *Tag) Marker(line string) (string, bool) {
	s := strings.TrimSpace(line)
	return s, t.HasLead(s)
}

// Match extracts the object name from a tag line. The name is trimmed of
// surrounding whitespace and otherwise kept byte for byte, so it may hold
// ';' or bytes that are not valid UTF-8. An empty name is not a match.
func (t *Tag) Match(line string) (string, bool) {
	s, ok := t.Marker(line)
	if !ok {
		return "", false
	}
	m := t.re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return "", false
	}
	return name, true
}

// Format renders the tag line for an object, newline terminated.
func (t *Tag) Format(name string) string {
	return t.text + " " + name + "\n"
}

// trimEOL strips a single "\n" or "\r\n" terminator.
func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
