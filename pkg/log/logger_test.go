// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(prefix string, format OutputFormat) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(prefix)
	logger.SetWriter(&buf)
	logger.SetLevel(DEBUG)
	logger.SetColorize(false)
	logger.SetFormat(format)
	return logger, &buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newTestLogger("scan", FormatText)

	logger.Info("found %d objects", 3)

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "scan:") {
		t.Errorf("expected prefix 'scan:', got: %s", output)
	}
	if !strings.Contains(output, "found 3 objects") {
		t.Errorf("expected formatted message, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger("filter", FormatText)
	logger.SetLevel(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG and INFO to be filtered, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("expected WARN to pass, got: %s", buf.String())
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected ERROR to pass, got: %s", buf.String())
	}
}

func TestLoggerJSON(t *testing.T) {
	logger, buf := newTestLogger("registry", FormatJSON)

	logger.WithFields(Fields{"object": "part_1", "id": 0}).Info("object added")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v, output: %s", err, buf.String())
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got: %s", entry.Level)
	}
	if entry.Logger != "registry" {
		t.Errorf("expected logger 'registry', got: %s", entry.Logger)
	}
	if entry.Fields["object"] != "part_1" {
		t.Errorf("expected object=part_1, got: %v", entry.Fields["object"])
	}
}

func TestLoggerWithFieldText(t *testing.T) {
	logger, buf := newTestLogger("test", FormatText)

	logger.WithField("line", 42).WithError(errors.New("bad name")).Warn("line skipped")

	output := buf.String()
	if !strings.Contains(output, "{error=bad name, line=42}") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLoggerWithPrefixSharesSink(t *testing.T) {
	parent, buf := newTestLogger("parent", FormatText)

	child := parent.WithPrefix("child")
	parent.SetLevel(ERROR)
	child.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected child to follow parent level, got: %s", buf.String())
	}

	child.Error("child message")
	if !strings.Contains(buf.String(), "child:") {
		t.Errorf("expected prefix 'child:', got: %s", buf.String())
	}
}

func TestLoggerCaller(t *testing.T) {
	logger, buf := newTestLogger("test", FormatText)
	logger.SetCaller(true)

	logger.Info("caller test")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info 'logger_test.go:', got: %s", buf.String())
	}

	buf.Reset()
	logger.WithField("k", "v").Info("entry caller test")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info for entry, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing")
	if logger.GetLevel() <= ERROR {
		t.Errorf("expected discard logger above ERROR, got %v", logger.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"WARNING", WARN},
		{"error", ERROR},
		{"invalid", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if result := ParseLevel(tt.input); result != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, result, tt.expected)
		}
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("CANCELOBJECT_LOG_LEVEL", "error")
	t.Setenv("CANCELOBJECT_LOG_FORMAT", "json")

	logger, buf := newTestLogger("env", FormatText)
	ConfigureFromEnv(logger)

	if logger.GetLevel() != ERROR {
		t.Errorf("expected ERROR level from env, got %v", logger.GetLevel())
	}
	logger.Error("as json")
	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output from env, got: %s", buf.String())
	}
}
