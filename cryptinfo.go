package fscrypt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// CryptInfo is the resolved, key-bearing state of an encrypted object.
// It is read-only once cached.
type CryptInfo struct {
	Descriptor    KeyDescriptor
	ContentsMode  EncryptionMode // translated for the volume's controller
	FilenamesMode EncryptionMode
	Flags         PolicyFlags
	Nonce         [NonceSize]byte

	// RawKey is the per-file contents key
	RawKey []byte

	// HashedKey identifies RawKey to the inline encryption engine without
	// exposing it
	HashedKey []byte
}

// Identity returns the tree identity of the resolved object
func (ci *CryptInfo) Identity() Identity {
	return Identity{
		Descriptor:    ci.Descriptor,
		ContentsMode:  ci.ContentsMode,
		FilenamesMode: ci.FilenamesMode,
		Flags:         ci.Flags,
	}
}

// InfoCache holds resolved crypto info by inode number. Entries are shared
// read-mostly; concurrent resolution of the same object keeps the first
// stored entry.
type InfoCache struct {
	mu      sync.RWMutex
	entries map[uint64]*CryptInfo
}

// NewInfoCache creates an empty cache
func NewInfoCache() *InfoCache {
	return &InfoCache{entries: make(map[uint64]*CryptInfo)}
}

// Get returns the cached info for ino, or nil
func (c *InfoCache) Get(ino uint64) *CryptInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[ino]
}

// LoadOrStore caches ci unless an entry already exists, and returns the
// cached entry
func (c *InfoCache) LoadOrStore(ino uint64, ci *CryptInfo) *CryptInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[ino]; ok {
		return existing
	}
	c.entries[ino] = ci
	return ci
}

// Evict drops the entry for ino
func (c *InfoCache) Evict(ino uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ino)
}

// Len returns the number of cached entries
func (c *InfoCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CryptInfo resolves the crypto info of n. It returns nil without error when
// n is not encrypted or its master key is not available.
func (v *Volume) CryptInfo(n *Node) (*CryptInfo, error) {
	if n == nil {
		return nil, NewValidationError("node", nil, "node cannot be nil")
	}
	if ci := v.cache.Get(n.ino); ci != nil {
		return ci, nil
	}
	if !n.Encrypted() {
		return nil, nil
	}

	ctx, err := v.readContext(n)
	if err != nil {
		return nil, err
	}
	if !ValidModes(ctx.ContentsMode, ctx.FilenamesMode) {
		return nil, NewCorruptionError(n.path, fmt.Sprintf("unsupported modes %s/%s", ctx.ContentsMode, ctx.FilenamesMode))
	}

	master, err := v.keys.MasterKey(ctx.Descriptor)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	mode := v.dataMode(ctx.ContentsMode)
	raw, err := deriveFileKey(master, ctx, mode)
	if err != nil {
		return nil, err
	}
	hashed := sha3.Sum256(raw)

	ci := &CryptInfo{
		Descriptor:    ctx.Descriptor,
		ContentsMode:  mode,
		FilenamesMode: ctx.FilenamesMode,
		Flags:         ctx.Flags,
		Nonce:         ctx.Nonce,
		RawKey:        raw,
		HashedKey:     hashed[:],
	}
	return v.cache.LoadOrStore(n.ino, ci), nil
}

// deriveFileKey derives the contents key of an object from its master key.
// DIRECT_KEY and the IV_INO_LBLK schemes share one key per mode across all
// objects; otherwise the context nonce salts the derivation.
func deriveFileKey(master []byte, ctx *Context, mode EncryptionMode) ([]byte, error) {
	size := mode.KeySize()
	if size == 0 {
		return nil, NewValidationError("contents_mode", mode, "mode carries no key")
	}
	if len(master) < size {
		return nil, NewValidationError("key", len(master), fmt.Sprintf("master key shorter than %d bytes", size))
	}

	var salt []byte
	if ctx.Flags&(FlagDirectKey|FlagIVInoLblk64|FlagIVInoLblk32) == 0 {
		salt = ctx.Nonce[:]
	}
	info := []byte("fscrypt contents " + mode.String())

	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// readContext reads and decodes the record of n
func (v *Volume) readContext(n *Node) (*Context, error) {
	buf := make([]byte, ContextSize)
	size, err := v.store.GetContext(n.path, buf)
	switch {
	case errors.Is(err, ErrContextRange):
		return nil, NewCorruptionError(n.path, "context larger than expected")
	case errors.Is(err, ErrNoContext):
		return nil, NewPolicyError("get_context", n.path, ErrNotEncrypted)
	case err != nil:
		return nil, err
	}

	var ctx Context
	if err := ctx.UnmarshalBinary(buf[:size]); err != nil {
		var ce *CorruptionError
		if errors.As(err, &ce) {
			ce.Path = n.path
		}
		return nil, err
	}
	return &ctx, nil
}
