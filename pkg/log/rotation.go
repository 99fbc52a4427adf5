// Log file rotation for the serve daemon
//
// Rotates the log file once it grows past a size limit, keeping a bounded
// number of timestamped backups, optionally gzipped.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rotationStamp = "20060102-150405"

// RotatingFileWriter implements io.Writer with size-based rotation.
type RotatingFileWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64 // bytes before rotation
	maxBackups  int
	compress    bool
	currentSize int64
	file        *os.File
	now         func() time.Time

	lastStamp string
	seq       int
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the size in megabytes that triggers rotation. Default 10.
	MaxSize int

	// MaxBackups is the number of rotated files kept. Default 5.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// NewRotatingFileWriter opens (or creates) the log file for appending.
func NewRotatingFileWriter(config RotationConfig) (*RotatingFileWriter, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	maxSize := config.MaxSize
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := config.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}

	w := &RotatingFileWriter{
		filename:   config.Filename,
		maxSize:    int64(maxSize) * 1024 * 1024,
		maxBackups: maxBackups,
		compress:   config.Compress,
		now:        time.Now,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) openFile() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.currentSize = info.Size()
	return nil
}

// Write implements io.Writer. A write that would cross the size limit
// rotates first, unless the file is still empty.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.currentSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Rotate forces a rotation.
func (w *RotatingFileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	return w.rotate()
}

// rotate moves the current file aside and reopens. Caller holds w.mu.
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}
	w.file = nil

	rotated := w.backupName(w.now())
	if err := os.Rename(w.filename, rotated); err != nil {
		if oerr := w.openFile(); oerr != nil {
			return fmt.Errorf("rename log file: %w (reopen: %v)", err, oerr)
		}
		return fmt.Errorf("rename log file: %w", err)
	}
	if w.compress {
		if err := compressFile(rotated); err != nil {
			// The plain backup stays in place.
			fmt.Fprintf(os.Stderr, "log rotation: compress %s: %v\n", rotated, err)
		}
	}
	w.cleanOldBackups()
	return w.openFile()
}

// backupName returns base.STAMP.ext for the first rotation within a second
// and base.STAMP-N.ext, N increasing, for later ones. Caller holds w.mu.
func (w *RotatingFileWriter) backupName(t time.Time) string {
	ext := filepath.Ext(w.filename)
	base := strings.TrimSuffix(w.filename, ext)
	stamp := t.Format(rotationStamp)
	if stamp != w.lastStamp {
		w.lastStamp, w.seq = stamp, 0
	} else {
		w.seq++
	}
	for {
		name := fmt.Sprintf("%s.%s%s", base, stamp, ext)
		if w.seq > 0 {
			name = fmt.Sprintf("%s.%s-%d%s", base, stamp, w.seq, ext)
		}
		if !exists(name) && !exists(name+".gz") {
			return name
		}
		w.seq++
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	_, err = io.Copy(gz, src)
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filename + ".gz")
		return err
	}
	return os.Remove(filename)
}

// cleanOldBackups removes the oldest backups beyond maxBackups.
func (w *RotatingFileWriter) cleanOldBackups() {
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type backup struct {
		path  string
		stamp string
		seq   int
	}
	var backups []backup
	for _, entry := range entries {
		if stamp, seq, ok := parseRotatedName(entry.Name(), prefix, ext); ok {
			backups = append(backups, backup{filepath.Join(dir, entry.Name()), stamp, seq})
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].stamp != backups[j].stamp {
			return backups[i].stamp < backups[j].stamp
		}
		return backups[i].seq < backups[j].seq
	})
	for len(backups) > w.maxBackups {
		os.Remove(backups[0].path)
		backups = backups[1:]
	}
}

// parseRotatedName matches prefix.STAMP[-N].ext[.gz].
func parseRotatedName(name, prefix, ext string) (stamp string, seq int, ok bool) {
	if !strings.HasPrefix(name, prefix+".") {
		return "", 0, false
	}
	name = strings.TrimSuffix(name, ".gz")
	if !strings.HasSuffix(name, ext) {
		return "", 0, false
	}
	name = strings.TrimSuffix(strings.TrimPrefix(name, prefix+"."), ext)

	if len(name) < len(rotationStamp) {
		return "", 0, false
	}
	stamp, rest := name[:len(rotationStamp)], name[len(rotationStamp):]
	if _, err := time.Parse(rotationStamp, stamp); err != nil {
		return "", 0, false
	}
	if rest == "" {
		return stamp, 0, true
	}
	if rest[0] != '-' {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[1:])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return stamp, n, true
}

// Close closes the log file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Sync flushes the log file to disk.
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// CurrentSize returns the size of the active log file.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSize
}

// Filename returns the active log file path.
func (w *RotatingFileWriter) Filename() string {
	return w.filename
}
