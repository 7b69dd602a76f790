package fscrypt

import (
	"weak"

	"github.com/google/uuid"
)

// DataPath is the route an object's contents take through encryption
type DataPath uint8

const (
	// PathNone means the data is not encrypted by this layer
	PathNone DataPath = iota
	// PathHardware means the storage controller encrypts inline
	PathHardware
	// PathSoftware means the data is encrypted by a software cipher
	PathSoftware
)

// String returns the string representation of the data path
func (p DataPath) String() string {
	switch p {
	case PathNone:
		return "none"
	case PathHardware:
		return "hardware"
	case PathSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// Classify returns the data path of n from its cached crypto info. It never
// resolves keys: an object whose info is not cached classifies as PathNone.
func (v *Volume) Classify(n *Node) DataPath {
	if n == nil || !n.IsRegular() {
		return PathNone
	}
	ci := v.cache.Get(n.ino)
	if ci == nil {
		return PathNone
	}
	switch ci.ContentsMode {
	case ModePrivate:
		return PathHardware
	case ModeInvalid:
		return PathNone
	default:
		return PathSoftware
	}
}

// IsHardwareEncrypted reports whether n's contents use the inline engine
func (v *Volume) IsHardwareEncrypted(n *Node) bool {
	return v.Classify(n) == PathHardware
}

// IsSoftwareEncrypted reports whether n's contents use a software cipher
func (v *Volume) IsSoftwareEncrypted(n *Node) bool {
	return v.Classify(n) == PathSoftware
}

// CryptFlags describe the crypto request attached to a block request
type CryptFlags uint32

const (
	// CryptEnabled marks a request for inline encryption
	CryptEnabled CryptFlags = 1 << iota
	// CryptAES256XTS selects AES-256-XTS, the only inline cipher
	CryptAES256XTS
)

// KeyHandle refers to the crypto info backing a request without keeping
// it alive
type KeyHandle struct {
	p weak.Pointer[CryptInfo]
}

// Info returns the crypto info, or nil once it has been dropped
func (h KeyHandle) Info() *CryptInfo {
	return h.p.Value()
}

// CryptDescriptor is the crypto context of a block request
type CryptDescriptor struct {
	Flags     CryptFlags
	KeySize   int
	Ino       uint64
	Volume    uuid.UUID
	Key       KeyHandle
	HashedKey []byte
}

// KeyMaterial returns the raw key for the inline engine and its size
func (d *CryptDescriptor) KeyMaterial() (int, []byte, error) {
	if d == nil {
		return 0, nil, ErrNoKey
	}
	ci := d.Key.Info()
	if ci == nil {
		return 0, nil, ErrNoKey
	}
	return d.KeySize, ci.RawKey, nil
}

// BlockRequest is a block I/O request submitted for an object
type BlockRequest struct {
	Sector uint64
	Data   []byte
	Crypt  CryptDescriptor
}

// PrepareIO fills in req's crypto descriptor when n uses the hardware path.
// Otherwise it clears the descriptor and returns ErrNotApplicable, which
// tells the caller to encrypt in software.
func (v *Volume) PrepareIO(n *Node, req *BlockRequest) error {
	if req == nil {
		return ErrNotApplicable
	}
	if v.Classify(n) != PathHardware {
		req.Crypt = CryptDescriptor{}
		return ErrNotApplicable
	}

	ci := v.cache.Get(n.ino)
	if ci == nil {
		req.Crypt = CryptDescriptor{}
		return ErrNotApplicable
	}
	req.Crypt = CryptDescriptor{
		Flags:     CryptEnabled | CryptAES256XTS,
		KeySize:   ModeAES256XTS.KeySize(),
		Ino:       n.ino,
		Volume:    v.id,
		Key:       KeyHandle{p: weak.Make(ci)},
		HashedKey: ci.HashedKey,
	}
	if v.debug {
		v.log.Printf("fscrypt: hw crypt: ino %d sector %d volume %s", n.ino, req.Sector, v.id)
	}
	return nil
}
