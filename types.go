package fscrypt

import (
	"encoding/hex"
	"log"

	"github.com/google/uuid"
)

const (
	// KeyDescriptorSize is the size of a master key descriptor in bytes
	KeyDescriptorSize = 8

	// NonceSize is the size of the per-context key derivation nonce
	NonceSize = 16

	// MaxKeySize is the size of a master key in bytes
	MaxKeySize = 64

	// PolicyVersion is the only supported policy version
	PolicyVersion = uint8(0)
)

// EncryptionMode selects the cipher for file contents or filenames
type EncryptionMode uint8

const (
	ModeInvalid   EncryptionMode = 0
	ModeAES256XTS EncryptionMode = 1
	ModeAES256GCM EncryptionMode = 2
	ModeAES256CBC EncryptionMode = 3
	ModeAES256CTS EncryptionMode = 4
	ModeAES128CBC EncryptionMode = 5
	ModeAES128CTS EncryptionMode = 6
	ModeAdiantum  EncryptionMode = 9

	// ModePrivate marks contents handled by the storage controller's inline
	// encryption engine.
	ModePrivate EncryptionMode = 127

	// ModeDefault is the software equivalent of ModePrivate and the mode
	// reported for encrypted directories.
	ModeDefault = ModeAES256XTS
)

// String returns the string representation of the mode
func (m EncryptionMode) String() string {
	switch m {
	case ModeInvalid:
		return "invalid"
	case ModeAES256XTS:
		return "aes-256-xts"
	case ModeAES256GCM:
		return "aes-256-gcm"
	case ModeAES256CBC:
		return "aes-256-cbc"
	case ModeAES256CTS:
		return "aes-256-cts"
	case ModeAES128CBC:
		return "aes-128-cbc"
	case ModeAES128CTS:
		return "aes-128-cts"
	case ModeAdiantum:
		return "adiantum"
	case ModePrivate:
		return "private"
	default:
		return "unknown"
	}
}

// KeySize returns the size of the per-file key used by the mode, or 0 for
// modes that carry no key.
func (m EncryptionMode) KeySize() int {
	switch m {
	case ModeAES256XTS, ModePrivate:
		return 64
	case ModeAES256GCM, ModeAES256CBC, ModeAES256CTS, ModeAdiantum:
		return 32
	case ModeAES128CBC, ModeAES128CTS:
		return 16
	default:
		return 0
	}
}

// PolicyFlags is the policy flag bitmask
type PolicyFlags uint8

const (
	FlagPad4        PolicyFlags = 0x00
	FlagPad8        PolicyFlags = 0x01
	FlagPad16       PolicyFlags = 0x02
	FlagPad32       PolicyFlags = 0x03
	FlagPadMask     PolicyFlags = 0x03
	FlagDirectKey   PolicyFlags = 0x04
	FlagIVInoLblk64 PolicyFlags = 0x08
	FlagIVInoLblk32 PolicyFlags = 0x10

	// FlagsValid is the union of every defined flag bit
	FlagsValid = FlagPadMask | FlagDirectKey | FlagIVInoLblk64 | FlagIVInoLblk32

	// MigrationFlag distinguishes the legacy and updated per-object IV
	// schemes under hardware offload. It is ignored when comparing the
	// policies of a directory and its entries.
	MigrationFlag = FlagIVInoLblk32
)

// KeyDescriptor names a master key without revealing it
type KeyDescriptor [KeyDescriptorSize]byte

// String returns the descriptor as lowercase hex
func (d KeyDescriptor) String() string {
	return hex.EncodeToString(d[:])
}

// ParseKeyDescriptor parses a hex encoded descriptor
func ParseKeyDescriptor(s string) (KeyDescriptor, error) {
	var d KeyDescriptor
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, NewValidationError("descriptor", s, "descriptor must be hex encoded")
	}
	if len(b) != KeyDescriptorSize {
		return d, NewValidationError("descriptor", len(b), "descriptor must be 8 bytes")
	}
	copy(d[:], b)
	return d, nil
}

// Policy is the caller-facing description of how an object is encrypted.
// It is never stored directly; see Context.
type Policy struct {
	Version       uint8
	ContentsMode  EncryptionMode
	FilenamesMode EncryptionMode
	Flags         PolicyFlags
	Descriptor    KeyDescriptor
}

// Identity returns the fields shared by every object of an encrypted tree
func (p *Policy) Identity() Identity {
	return Identity{
		Descriptor:    p.Descriptor,
		ContentsMode:  p.ContentsMode,
		FilenamesMode: p.FilenamesMode,
		Flags:         p.Flags,
	}
}

// Identity is the encryption identity compared across a directory tree
type Identity struct {
	Descriptor    KeyDescriptor
	ContentsMode  EncryptionMode
	FilenamesMode EncryptionMode
	Flags         PolicyFlags
}

// Equal reports whether two identities match once the flag bits in ignore
// are cleared on both sides.
func (id Identity) Equal(other Identity, ignore PolicyFlags) bool {
	return id.Descriptor == other.Descriptor &&
		id.ContentsMode == other.ContentsMode &&
		id.FilenamesMode == other.FilenamesMode &&
		id.Flags&^ignore == other.Flags&^ignore
}

// BootDevice is the type of device the system booted from
type BootDevice uint8

const (
	BootDeviceUnknown BootDevice = iota
	BootDeviceSDMMC
	BootDeviceUFS
)

// String returns the string representation of the boot device
func (b BootDevice) String() string {
	switch b {
	case BootDeviceUnknown:
		return "unknown"
	case BootDeviceSDMMC:
		return "sdmmc"
	case BootDeviceUFS:
		return "ufs"
	default:
		return "invalid"
	}
}

// StorageProfile describes the storage controller beneath the volume
type StorageProfile struct {
	BootDevice BootDevice // Device the system booted from
	HardwareCQ bool       // eMMC hardware command queue enabled
}

// ForceIVInoLblk32 reports whether new objects under hardware encrypted
// directories must use the IV_INO_LBLK_32 scheme.
func (s StorageProfile) ForceIVInoLblk32() bool {
	return s.HardwareCQ && s.BootDevice == BootDeviceSDMMC
}

// Config contains configuration for a Volume
type Config struct {
	// Store persists encryption context records
	Store ContextStore

	// Keys supplies master keys by descriptor
	Keys KeySource

	// HardwareOffload is set when the storage controller can encrypt
	// ModePrivate contents inline
	HardwareOffload bool

	// Storage describes the boot device, resolved once by New
	Storage StorageProfile

	// VolumeID identifies the volume to the hardware path; random if zero
	VolumeID uuid.UUID

	// ReadOnly mounts the volume read-only
	ReadOnly bool

	// Authorize decides whether the caller may set a policy on a node.
	// A nil Authorize allows every caller.
	Authorize func(n *Node) bool

	// Logger receives diagnostic output; nil discards it
	Logger *log.Logger

	// Debug logs every hardware path request
	Debug bool

	// Parallel controls multi-unit requests on the software path
	Parallel ParallelConfig
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.Store == nil {
		return ErrNilStore
	}
	if c.Keys == nil {
		return ErrNilKeySource
	}
	if c.Storage.BootDevice > BootDeviceUFS {
		return NewValidationError("storage.boot_device", c.Storage.BootDevice, "unsupported boot device")
	}
	if err := c.Parallel.Validate(); err != nil {
		return &ValidationError{Field: "parallel", Value: c.Parallel, Message: err.Error(), Err: err}
	}
	return nil
}
