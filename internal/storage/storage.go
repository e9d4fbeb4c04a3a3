package storage

import (
	"io"
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Handle refers to one staged copy of the user's raw media. Name is the
// storage key; FileInfo is what the user originally selected.
type Handle struct {
	Name string
	FileInfo
}

type Storage interface {
	Stage(r io.Reader, info FileInfo) (*Handle, error)
	Open(h *Handle) (io.ReadSeekCloser, error)
	Release(h *Handle) error
}
