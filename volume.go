package fscrypt

import (
	"errors"
	"io"
	"log"
	"os"
	"path"
	"sync"
	"sync/atomic"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// Volume manages encryption policies for the objects of a base filesystem
type Volume struct {
	base        absfs.FileSystem
	store       ContextStore
	keys        KeySource
	id          uuid.UUID
	hwCapable   bool
	forceLblk32 bool
	authorize   func(n *Node) bool
	cache       *InfoCache
	locks       lockTable
	guard       writeGuard
	log         *log.Logger
	debug       bool
	parallel    ParallelConfig

	mu      sync.Mutex
	nodes   map[string]*Node
	nextIno uint64
}

// New creates a volume over the base filesystem
func New(base absfs.FileSystem, config *Config) (*Volume, error) {
	if base == nil {
		return nil, ErrNilFS
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	id := config.VolumeID
	if id == uuid.Nil {
		id = uuid.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	v := &Volume{
		base:        base,
		store:       config.Store,
		keys:        config.Keys,
		id:          id,
		hwCapable:   config.HardwareOffload,
		forceLblk32: config.Storage.ForceIVInoLblk32(),
		authorize:   config.Authorize,
		cache:       NewInfoCache(),
		log:         logger,
		debug:       config.Debug,
		parallel:    config.Parallel,
		nodes:       make(map[string]*Node),
		nextIno:     1,
	}
	v.guard.readOnly = config.ReadOnly
	return v, nil
}

// ID returns the volume identity
func (v *Volume) ID() uuid.UUID {
	return v.id
}

// HardwareOffload reports whether the controller encrypts ModePrivate inline
func (v *Volume) HardwareOffload() bool {
	return v.hwCapable
}

// Cache returns the resolved crypto info cache
func (v *Volume) Cache() *InfoCache {
	return v.cache
}

// SetReadOnly switches the volume between read-only and read-write
func (v *Volume) SetReadOnly(ro bool) error {
	return v.guard.setReadOnly(ro)
}

// Node is the in-memory handle of a filesystem object
type Node struct {
	path      string
	ino       uint64
	mode      os.FileMode
	encrypted atomic.Bool
	dead      atomic.Bool
}

// Path returns the object path
func (n *Node) Path() string { return n.path }

// Ino returns the inode number assigned by the volume
func (n *Node) Ino() uint64 { return n.ino }

// Mode returns the file mode
func (n *Node) Mode() os.FileMode { return n.mode }

// IsDir reports whether the object is a directory
func (n *Node) IsDir() bool { return n.mode.IsDir() }

// IsRegular reports whether the object is a regular file
func (n *Node) IsRegular() bool { return n.mode.IsRegular() }

// IsSymlink reports whether the object is a symbolic link
func (n *Node) IsSymlink() bool { return n.mode&os.ModeSymlink != 0 }

// Encrypted reports whether the object carries an encryption context
func (n *Node) Encrypted() bool { return n.encrypted.Load() }

// Dead reports whether the object has been removed
func (n *Node) Dead() bool { return n.dead.Load() }

// encryptable reports whether objects of this type are ever encrypted
func (n *Node) encryptable() bool {
	return n.IsRegular() || n.IsDir() || n.IsSymlink()
}

// Lookup returns the node for name, creating the in-memory handle on first
// use. The encryption marker is set when a record exists for the object.
func (v *Volume) Lookup(name string) (*Node, error) {
	name = cleanPath(name)
	info, err := v.base.Stat(name)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	n, ok := v.nodes[name]
	if !ok || n.mode.Type() != info.Mode().Type() {
		n = &Node{path: name, ino: v.nextIno, mode: info.Mode()}
		v.nextIno++
		v.nodes[name] = n
	}
	v.mu.Unlock()

	if !n.Encrypted() {
		buf := make([]byte, ContextSize)
		_, err := v.store.GetContext(name, buf)
		switch {
		case err == nil, errors.Is(err, ErrContextRange):
			n.encrypted.Store(true)
		case errors.Is(err, ErrNoContext):
		default:
			return nil, err
		}
	}
	return n, nil
}

// Open looks name up and checks that its policy is permitted within its
// parent directory
func (v *Volume) Open(name string) (*Node, error) {
	child, err := v.Lookup(name)
	if err != nil {
		return nil, err
	}
	if child.path == "/" {
		return child, nil
	}
	parent, err := v.Lookup(path.Dir(child.path))
	if err != nil {
		return nil, err
	}
	if !v.Permitted(parent, child) {
		return nil, NewAuthenticationError(child.path, ErrPermissionDenied)
	}
	return child, nil
}

// Create creates a regular file. It fails with os.ErrExist when name already
// exists. Inside an encrypted directory the file inherits the directory's
// policy and its crypto info is preloaded.
func (v *Volume) Create(name string) (*Node, error) {
	return v.create(name, func(p string) error {
		f, err := v.base.Create(p)
		if err != nil {
			return err
		}
		return f.Close()
	}, true)
}

// Mkdir creates a directory. Inside an encrypted directory the new
// directory inherits the parent's policy.
func (v *Volume) Mkdir(name string, perm os.FileMode) (*Node, error) {
	return v.create(name, func(p string) error {
		return v.base.Mkdir(p, perm)
	}, false)
}

func (v *Volume) create(name string, mk func(string) error, preload bool) (*Node, error) {
	name = cleanPath(name)
	parent, err := v.Lookup(path.Dir(name))
	if err != nil {
		return nil, err
	}
	if parent.Encrypted() {
		ci, err := v.CryptInfo(parent)
		if err != nil {
			return nil, err
		}
		if ci == nil {
			return nil, NewPolicyError("create", name, ErrNoKey)
		}
	}

	release, err := v.guard.acquire()
	if err != nil {
		return nil, NewPolicyError("create", name, err)
	}
	defer release()

	unlock := v.locks.lock(name)
	defer unlock()

	// Creation is exclusive: an existing object keeps its data and record.
	if _, err := v.base.Stat(name); err == nil {
		return nil, &os.PathError{Op: "create", Path: name, Err: os.ErrExist}
	} else if !isNotExist(err) {
		return nil, err
	}

	if err := mk(name); err != nil {
		return nil, err
	}
	child, err := v.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !parent.Encrypted() {
		return child, nil
	}

	if err := v.InheritContext(parent, child, nil, preload); err != nil {
		v.discard(child)
		return nil, err
	}
	return child, nil
}

// discard rolls back an object this volume just created whose context could
// not be set up
func (v *Volume) discard(n *Node) {
	v.cache.Evict(n.ino)
	if err := v.store.RemoveContext(n.path); err != nil {
		v.log.Printf("fscrypt: rollback %s: %v", n.path, err)
	}
	if err := v.base.Remove(n.path); err != nil {
		v.log.Printf("fscrypt: rollback %s: %v", n.path, err)
	}
	v.forget(n)
}

// Remove removes an object together with its context record and cached
// crypto info. Handles still held by callers are marked dead.
func (v *Volume) Remove(name string) error {
	n, err := v.Lookup(name)
	if err != nil {
		return err
	}

	release, err := v.guard.acquire()
	if err != nil {
		return NewPolicyError("remove", n.path, err)
	}
	defer release()

	unlock := v.locks.lock(n.path)
	defer unlock()

	if err := v.base.Remove(n.path); err != nil {
		return err
	}
	if n.Encrypted() {
		if err := v.store.RemoveContext(n.path); err != nil {
			return err
		}
	}
	v.cache.Evict(n.ino)
	v.forget(n)
	return nil
}

func (v *Volume) forget(n *Node) {
	n.dead.Store(true)
	v.mu.Lock()
	if v.nodes[n.path] == n {
		delete(v.nodes, n.path)
	}
	v.mu.Unlock()
}

// isEmptyDir reports whether a directory has no entries. The record
// directory of a FileStore sharing the base filesystem is not an entry.
func (v *Volume) isEmptyDir(n *Node) (bool, error) {
	dir, err := v.base.Open(n.path)
	if err != nil {
		return false, err
	}
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		if n.path == "/" && name == MetadataDir && v.sharesRecordDir() {
			continue
		}
		return false, nil
	}
	return true, nil
}

// sharesRecordDir reports whether the store keeps its records on the base
// filesystem
func (v *Volume) sharesRecordDir() bool {
	fs, ok := v.store.(*FileStore)
	return ok && fs.fs == v.base
}

func cleanPath(name string) string {
	return path.Clean("/" + name)
}
