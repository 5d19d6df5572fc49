// Package media manages uploaded video files and proxies remote video
// streams through the server so overlay pages never talk to the upstream
// host directly.
package media

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"studiorelay/pkg/logx"
)

var (
	// ErrBadName rejects file names that could escape the upload directory.
	ErrBadName = errors.New("media: invalid file name")
	// ErrNotFound reports a missing upload.
	ErrNotFound = errors.New("media: file not found")
)

// File describes one stored upload.
type File struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Uploads stores video files under a single flat directory.
type Uploads struct {
	dir string
	log logx.Logger
}

func NewUploads(dir string, log logx.Logger) (*Uploads, error) {
	if dir == "" {
		return nil, errors.New("media: upload dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create upload dir: %w", err)
	}
	return &Uploads{dir: dir, log: log}, nil
}

// cleanName strips any path component from the client-supplied name and
// rejects anything that still looks like traversal.
func cleanName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return "", ErrBadName
	}
	return name, nil
}

// Save writes one multipart part to disk via a temp file and rename.
func (u *Uploads) Save(name string, src multipart.File) (File, error) {
	name, err := cleanName(name)
	if err != nil {
		return File{}, err
	}
	dst := filepath.Join(u.dir, name)

	tmp, err := os.CreateTemp(u.dir, ".upload-*")
	if err != nil {
		return File{}, fmt.Errorf("media: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return File{}, fmt.Errorf("media: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return File{}, fmt.Errorf("media: store %s: %w", name, err)
	}

	u.log.Info("upload stored", logx.String("file", name), logx.Int64("bytes", size))
	return File{Name: name, Size: size, ModTime: time.Now()}, nil
}

// List returns stored uploads sorted newest first. Temp files left over
// from interrupted writes are skipped.
func (u *Uploads) List() ([]File, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return nil, fmt.Errorf("media: list uploads: %w", err)
	}
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, File{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// Delete removes one upload by name.
func (u *Uploads) Delete(name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(u.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("media: delete %s: %w", name, err)
	}
	u.log.Info("upload removed", logx.String("file", name))
	return nil
}

// Open returns a reader for a stored upload, for serving it back.
func (u *Uploads) Open(name string) (*os.File, File, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, File{}, err
	}
	f, err := os.Open(filepath.Join(u.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, File{}, ErrNotFound
	}
	if err != nil {
		return nil, File{}, fmt.Errorf("media: open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, File{}, fmt.Errorf("media: stat %s: %w", name, err)
	}
	return f, File{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}
