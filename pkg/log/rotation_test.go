// Log rotation tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func newTestWriter(t *testing.T, cfg RotationConfig) *RotatingFileWriter {
	t.Helper()
	w, err := NewRotatingFileWriter(cfg)
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	w.now = func() time.Time { return time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC) }
	return w
}

func backups(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.Name() != "cancelobject.log" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestRotatingFileWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "cancelobject.log")
	w := newTestWriter(t, RotationConfig{Filename: logFile, MaxSize: 1, MaxBackups: 3})

	msg := "test log message\n"
	n, err := w.Write([]byte(msg))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}
	if w.CurrentSize() != int64(len(msg)) {
		t.Errorf("expected size %d, got %d", len(msg), w.CurrentSize())
	}
	if _, err := os.Stat(logFile); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestRotatingFileWriterRotatesAtLimit(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "cancelobject.log")
	w := newTestWriter(t, RotationConfig{Filename: logFile, MaxSize: 1, MaxBackups: 3})

	if _, err := w.Write([]byte("before rotation\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Force the next write over the limit.
	w.mu.Lock()
	w.currentSize = w.maxSize
	w.mu.Unlock()

	if _, err := w.Write([]byte("after rotation\n")); err != nil {
		t.Fatalf("write after rotation failed: %v", err)
	}

	got := backups(t, dir)
	if len(got) != 1 || got[0] != "cancelobject.20261019-101500.log" {
		t.Fatalf("backups = %v", got)
	}
	old, _ := os.ReadFile(filepath.Join(dir, got[0]))
	if string(old) != "before rotation\n" {
		t.Errorf("backup content = %q", old)
	}
	cur, _ := os.ReadFile(logFile)
	if string(cur) != "after rotation\n" {
		t.Errorf("active content = %q", cur)
	}
}

func TestRotationKeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, RotationConfig{Filename: filepath.Join(dir, "cancelobject.log"), MaxBackups: 2})

	for i := 0; i < 4; i++ {
		if _, err := w.Write([]byte("line\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Rotate(); err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
	}

	// Same timestamp every time, so later backups take sequence suffixes.
	want := []string{"cancelobject.20261019-101500-2.log", "cancelobject.20261019-101500-3.log"}
	got := backups(t, dir)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("backups = %v, want %v", got, want)
	}
}

func TestRotationCompresses(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, RotationConfig{Filename: filepath.Join(dir, "cancelobject.log"), Compress: true})

	if _, err := w.Write([]byte("compress me\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	got := backups(t, dir)
	if len(got) != 1 || got[0] != "cancelobject.20261019-101500.log.gz" {
		t.Fatalf("backups = %v", got)
	}
	f, err := os.Open(filepath.Join(dir, got[0]))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "compress me\n" {
		t.Errorf("decompressed = %q", data)
	}
}

func TestParseRotatedName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		seq  int
	}{
		{"cancelobject.20260121-153000.log", true, 0},
		{"cancelobject.20260121-153000.log.gz", true, 0},
		{"cancelobject.20260121-153000-4.log", true, 4},
		{"cancelobject.log", false, 0},
		{"cancelobject.backup.log", false, 0},
		{"cancelobject.20261341-153000.log", false, 0},
		{"cancelobject.20260121-153000-x.log", false, 0},
		{"other.20260121-153000.log", false, 0},
	}
	for _, tt := range tests {
		_, seq, ok := parseRotatedName(tt.name, "cancelobject", ".log")
		if ok != tt.ok || seq != tt.seq {
			t.Errorf("parseRotatedName(%q) = %d, %v, expected %d, %v", tt.name, seq, ok, tt.seq, tt.ok)
		}
	}
}

func TestRotationConfigDefaults(t *testing.T) {
	w := newTestWriter(t, RotationConfig{Filename: filepath.Join(t.TempDir(), "cancelobject.log")})
	if w.maxSize != 10*1024*1024 {
		t.Errorf("expected maxSize 10MB, got %d", w.maxSize)
	}
	if w.maxBackups != 5 {
		t.Errorf("expected maxBackups 5, got %d", w.maxBackups)
	}
}

func TestRotationConfigEmptyFilename(t *testing.T) {
	if _, err := NewRotatingFileWriter(RotationConfig{}); err == nil {
		t.Error("expected error for empty filename")
	}
}

func TestWriteAfterClose(t *testing.T) {
	w := newTestWriter(t, RotationConfig{Filename: filepath.Join(t.TempDir(), "cancelobject.log")})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("expected error writing to a closed writer")
	}
}

func TestLoggerWritesThroughRotation(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cancelobject.log")
	w := newTestWriter(t, RotationConfig{Filename: logFile})

	l := New("test")
	l.SetWriter(w)
	l.SetColorize(false)
	l.Info("print started")

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "print started") {
		t.Errorf("log file missing expected content: %s", content)
	}
}
