// Package storage keeps uploaded print files under a single gcodes root.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cancelobject/pkg/errors"
	"cancelobject/pkg/log"
)

const lockName = ".upload.lock"

// FileInfo describes a stored file in a listing.
type FileInfo struct {
	Path        string  `json:"path"`
	Modified    float64 `json:"modified"`
	Size        int64   `json:"size"`
	Permissions string  `json:"permissions"`
}

// FileManager manages the gcodes root.
type FileManager struct {
	root string
	log  *log.Logger
}

// NewFileManager creates root if needed.
func NewFileManager(root string, logger *log.Logger) (*FileManager, error) {
	if logger == nil {
		logger = log.GetLogger("storage")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "resolve gcodes root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, fmt.Sprintf("failed to create directory %s", abs))
	}
	return &FileManager{root: abs, log: logger}, nil
}

// Root returns the absolute gcodes root.
func (fm *FileManager) Root() string {
	return fm.root
}

// Resolve maps a relative file name to an absolute path inside the root.
func (fm *FileManager) Resolve(name string) (string, error) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	if name == "" {
		return "", invalidName(errors.New(errors.ErrStorage, "empty file name"))
	}
	full := filepath.Join(fm.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(fm.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalidName(errors.New(errors.ErrStorage, "path traversal detected").SetContext("path", name))
	}
	if filepath.Base(full) == lockName {
		return "", invalidName(errors.New(errors.ErrStorage, "reserved file name").SetContext("path", name))
	}
	return full, nil
}

func invalidName(err *errors.HostError) *errors.HostError {
	return err.SetContext("invalid_name", true)
}

// IsInvalidName reports whether err rejects a caller-supplied file name.
func IsInvalidName(err error) bool {
	var hostErr *errors.HostError
	if !errors.As(err, &hostErr) {
		return false
	}
	v, _ := hostErr.Context["invalid_name"].(bool)
	return v
}

// Path returns the absolute path of an existing stored file.
func (fm *FileManager) Path(name string) (string, error) {
	full, err := fm.Resolve(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.ErrNotFound, fmt.Sprintf("file '%s' not found", name))
		}
		return "", errors.Wrap(err, errors.ErrStorage, "stat file")
	}
	if info.IsDir() {
		return "", errors.New(errors.ErrStorage, fmt.Sprintf("'%s' is a directory", name))
	}
	return full, nil
}

// Save writes data to name. The content lands in a temporary file next to
// the target and is renamed into place while the root upload lock is held,
// so a concurrent reader sees either the old file or the complete new one.
func (fm *FileManager) Save(name string, data io.Reader) (*FileInfo, error) {
	full, err := fm.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "create parent directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "create temporary file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	written, err := io.Copy(tmp, data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "write upload").SetContext("path", name)
	}

	unlock, err := lockPath(filepath.Join(fm.root, lockName))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "lock gcodes root")
	}
	defer unlock()

	if err := os.Rename(tmpName, full); err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "move upload into place")
	}
	fm.log.WithFields(log.Fields{"path": name, "size": written}).Info("file stored")
	return fm.stat(name, full)
}

// Open opens a stored file for reading.
func (fm *FileManager) Open(name string) (*os.File, error) {
	full, err := fm.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "open file")
	}
	return f, nil
}

// Delete removes a stored file.
func (fm *FileManager) Delete(name string) error {
	full, err := fm.Path(name)
	if err != nil {
		return err
	}
	unlock, err := lockPath(filepath.Join(fm.root, lockName))
	if err != nil {
		return errors.Wrap(err, errors.ErrStorage, "lock gcodes root")
	}
	defer unlock()
	if err := os.Remove(full); err != nil {
		return errors.Wrap(err, errors.ErrStorage, "delete file")
	}
	return nil
}

// List returns every stored file, sorted by path.
func (fm *FileManager) List() ([]FileInfo, error) {
	files := []FileInfo{}
	err := filepath.WalkDir(fm.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(fm.root, path)
		if err != nil {
			return err
		}
		info, err := fm.stat(filepath.ToSlash(rel), path)
		if err != nil {
			return err
		}
		files = append(files, *info)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "list files")
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func (fm *FileManager) stat(name, full string) (*FileInfo, error) {
	info, err := os.Stat(full)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "stat file")
	}
	return &FileInfo{
		Path:        name,
		Modified:    float64(info.ModTime().UnixNano()) / float64(time.Second),
		Size:        info.Size(),
		Permissions: "rw",
	}, nil
}
