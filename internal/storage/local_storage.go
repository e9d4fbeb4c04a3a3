package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Stage copies r into a uniquely named file. The returned handle records the
// number of bytes actually written, which wins over info.Size.
func (ls *LocalStorage) Stage(r io.Reader, info FileInfo) (*Handle, error) {
	ext := filepath.Ext(info.Filename)
	if ext == "" {
		ext = ".mp4"
	}

	name := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	fullPath := filepath.Join(ls.basePath, name)

	dst, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, r)
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	info.Size = n
	return &Handle{Name: name, FileInfo: info}, nil
}

func (ls *LocalStorage) Open(h *Handle) (io.ReadSeekCloser, error) {
	fullPath, err := ls.resolve(h)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Release deletes the staged file. Releasing a nil handle or one that is
// already gone is not an error.
func (ls *LocalStorage) Release(h *Handle) error {
	if h == nil {
		return nil
	}

	fullPath, err := ls.resolve(h)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func (ls *LocalStorage) resolve(h *Handle) (string, error) {
	if h == nil {
		return "", fmt.Errorf("invalid path")
	}
	cleanPath := filepath.Clean(h.Name)
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("invalid path")
	}
	return filepath.Join(ls.basePath, cleanPath), nil
}
