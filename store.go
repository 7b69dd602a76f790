package fscrypt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// Store sentinel errors
var (
	// ErrNoContext is returned by GetContext when the object has no record
	ErrNoContext = errors.New("no encryption context")

	// ErrContextRange is returned by GetContext when the record does not fit
	// in the supplied buffer
	ErrContextRange = errors.New("encryption context larger than buffer")
)

// ContextStore persists the binary context record of each object.
//
// A record is either fully absent or fully present: implementations must
// never expose a partially written record.
type ContextStore interface {
	// GetContext copies the record for key into buf and returns its length.
	GetContext(key string, buf []byte) (int, error)

	// SetContext stores a new record. fsData is passed through from the
	// caller untouched. Existing records are never replaced.
	SetContext(key string, data []byte, fsData any) error

	// RemoveContext drops the record of a removed object.
	RemoveContext(key string) error
}

// MetadataDir is the directory FileStore keeps its records in
const MetadataDir = ".fscrypt"

// FileStore keeps one record file per object on an absfs filesystem
type FileStore struct {
	fs  absfs.FileSystem
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at /.fscrypt on fs
func NewFileStore(fs absfs.FileSystem) (*FileStore, error) {
	if fs == nil {
		return nil, ErrNilFS
	}
	dir := "/" + MetadataDir
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, NewIOError("init", dir, err)
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

// recordPath maps an object key to its record file
func (s *FileStore) recordPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return s.dir + "/" + hex.EncodeToString(sum[:])
}

// GetContext reads the record for key
func (s *FileStore) GetContext(key string, buf []byte) (int, error) {
	file, err := s.fs.Open(s.recordPath(key))
	if err != nil {
		if isNotExist(err) {
			return 0, ErrNoContext
		}
		return 0, NewIOError("get_context", key, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return 0, NewIOError("get_context", key, err)
	}
	if len(data) > len(buf) {
		return 0, ErrContextRange
	}
	return copy(buf, data), nil
}

// SetContext writes the record to a temporary file and renames it into
// place, so readers see either no record or the whole record.
func (s *FileStore) SetContext(key string, data []byte, fsData any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.recordPath(key)
	if _, err := s.fs.Stat(final); err == nil {
		return NewIOError("set_context", key, ErrAlreadyExists)
	} else if !isNotExist(err) {
		return NewIOError("set_context", key, err)
	}

	tmp := fmt.Sprintf("%s.tmp-%s", final, uuid.NewString())
	file, err := s.fs.Create(tmp)
	if err != nil {
		return NewIOError("set_context", key, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		s.fs.Remove(tmp)
		return NewIOError("set_context", key, err)
	}
	if err := file.Close(); err != nil {
		s.fs.Remove(tmp)
		return NewIOError("set_context", key, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		s.fs.Remove(tmp)
		return NewIOError("set_context", key, err)
	}
	return nil
}

// RemoveContext deletes the record for key; a missing record is not an error
func (s *FileStore) RemoveContext(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.recordPath(key)); err != nil && !isNotExist(err) {
		return NewIOError("remove_context", key, err)
	}
	return nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, fs.ErrNotExist)
}
