package loader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// File persists a document to a single file on disk.
//
// File remembers a digest of the bytes it last read or wrote so that a
// watcher can tell its own writes apart from external edits.
type File struct {
	mu     sync.Mutex
	fs     FileSystem
	path   string
	codec  Codec
	perm   fs.FileMode
	digest [sha256.Size]byte
	synced bool
}

// FileOption configures a File.
type FileOption func(*File)

// WithFS sets the file system used for reads and writes.
func WithFS(fsys FileSystem) FileOption {
	return func(f *File) {
		if fsys != nil {
			f.fs = fsys
		}
	}
}

// WithCodec overrides the codec picked from the file extension.
func WithCodec(c Codec) FileOption {
	return func(f *File) {
		if c != nil {
			f.codec = c
		}
	}
}

// NewFile creates file storage for path.
func NewFile(path string, opts ...FileOption) *File {
	f := &File{
		fs:    DefaultFS(),
		path:  path,
		codec: CodecFor(path),
		perm:  0o600,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Codec returns the codec used for the file.
func (f *File) Codec() Codec {
	return f.codec
}

// Load reads and decodes the file.
// Returns nil, nil if the file doesn't exist or is empty.
func (f *File) Load(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := f.fs.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", f.path, err)
	}

	f.remember(data)

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	doc, err := f.codec.Decode(data)
	if err != nil {
		return nil, &ParseError{
			Path:    f.path,
			Format:  f.codec.Name(),
			Message: err.Error(),
			Err:     err,
		}
	}
	return doc, nil
}

// Save encodes doc and replaces the file with it.
func (f *File) Save(ctx context.Context, doc map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := f.codec.Encode(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.codec.Name(), err)
	}

	if err := f.fs.WriteFile(f.path, data, f.perm); err != nil {
		return fmt.Errorf("writing config file %s: %w", f.path, err)
	}

	f.remember(data)
	return nil
}

// Changed reports whether the file on disk differs from what this File
// last read or wrote. A missing file counts as changed only if it was
// previously seen.
func (f *File) Changed() (bool, error) {
	data, err := f.fs.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.synced, nil
		}
		return false, err
	}

	sum := sha256.Sum256(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.synced || sum != f.digest, nil
}

func (f *File) remember(data []byte) {
	sum := sha256.Sum256(data)
	f.mu.Lock()
	f.digest = sum
	f.synced = true
	f.mu.Unlock()
}
