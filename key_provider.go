package fscrypt

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// ErrKeyNotFound is returned by a KeySource that does not hold the key.
// Resolution treats it as "key not available", not as a failure.
var ErrKeyNotFound = errors.New("master key not found")

// KeySource looks up master keys by descriptor
type KeySource interface {
	// MasterKey returns the master key named by descriptor
	MasterKey(descriptor KeyDescriptor) ([]byte, error)
}

// ComputeDescriptor returns the v1 descriptor of a master key: the first
// 8 bytes of SHA-512(SHA-512(key)).
func ComputeDescriptor(key []byte) KeyDescriptor {
	first := sha512.Sum512(key)
	second := sha512.Sum512(first[:])
	var d KeyDescriptor
	copy(d[:], second[:KeyDescriptorSize])
	return d
}

// StaticKeySource holds master keys in memory
type StaticKeySource struct {
	mu   sync.RWMutex
	keys map[KeyDescriptor][]byte
}

// NewStaticKeySource creates an empty in-memory key source
func NewStaticKeySource() *StaticKeySource {
	return &StaticKeySource{keys: make(map[KeyDescriptor][]byte)}
}

// Add stores a master key and returns its descriptor
func (s *StaticKeySource) Add(key []byte) (KeyDescriptor, error) {
	if err := ValidateKey(key, MaxKeySize); err != nil {
		return KeyDescriptor{}, err
	}
	d := ComputeDescriptor(key)
	s.AddWithDescriptor(d, key)
	return d, nil
}

// AddWithDescriptor stores a master key under an explicit descriptor
func (s *StaticKeySource) AddWithDescriptor(d KeyDescriptor, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[d] = append([]byte(nil), key...)
}

// Remove forgets a master key
func (s *StaticKeySource) Remove(d KeyDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, d)
}

// MasterKey returns a copy of the stored key
func (s *StaticKeySource) MasterKey(d KeyDescriptor) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[d]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), key...), nil
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// PBKDF2Params contains parameters for PBKDF2 key derivation
type PBKDF2Params struct {
	Iterations int      // Number of iterations (minimum 100,000 recommended)
	HashFunc   HashFunc // Hash function to use
}

// Argon2idParams contains parameters for Argon2id key derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
}

// PassphraseKeySource derives a single master key from a passphrase and
// serves it under the key's own descriptor
type PassphraseKeySource struct {
	key        []byte
	descriptor KeyDescriptor
}

// NewPassphraseKeySource derives a master key with Argon2id (recommended)
func NewPassphraseKeySource(passphrase, salt []byte, params Argon2idParams) (*PassphraseKeySource, error) {
	if err := validatePassphrase(passphrase, salt); err != nil {
		return nil, err
	}

	// Set defaults
	if params.Memory == 0 {
		params.Memory = 64 * 1024 // 64 MB
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}

	key := argon2.IDKey(passphrase, salt, params.Iterations, params.Memory, params.Parallelism, MaxKeySize)
	return newPassphraseKeySource(key), nil
}

// NewPassphraseKeySourcePBKDF2 derives a master key with PBKDF2
func NewPassphraseKeySourcePBKDF2(passphrase, salt []byte, params PBKDF2Params) (*PassphraseKeySource, error) {
	if err := validatePassphrase(passphrase, salt); err != nil {
		return nil, err
	}
	if params.Iterations == 0 {
		params.Iterations = 100000
	}

	var hashFunc func() hash.Hash
	switch params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, NewValidationError("hash_func", params.HashFunc, "unsupported hash function")
	}

	key := pbkdf2.Key(passphrase, salt, params.Iterations, MaxKeySize, hashFunc)
	return newPassphraseKeySource(key), nil
}

func newPassphraseKeySource(key []byte) *PassphraseKeySource {
	return &PassphraseKeySource{key: key, descriptor: ComputeDescriptor(key)}
}

func validatePassphrase(passphrase, salt []byte) error {
	if len(passphrase) == 0 {
		return NewValidationError("passphrase", nil, "passphrase cannot be empty")
	}
	if len(salt) == 0 {
		return NewValidationError("salt", nil, "salt cannot be empty")
	}
	return nil
}

// Descriptor returns the descriptor of the derived key
func (p *PassphraseKeySource) Descriptor() KeyDescriptor {
	return p.descriptor
}

// MasterKey returns the derived key when d names it
func (p *PassphraseKeySource) MasterKey(d KeyDescriptor) ([]byte, error) {
	if d != p.descriptor {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), p.key...), nil
}

// SystemKeyService is the OS keyring service master keys are stored under
const SystemKeyService = "fscrypt"

// SystemKeySource looks master keys up in the OS keyring. Keys are stored
// hex encoded, one entry per descriptor.
type SystemKeySource struct {
	service string
}

// NewSystemKeySource creates a key source for the given keyring service.
// An empty service uses SystemKeyService.
func NewSystemKeySource(service string) *SystemKeySource {
	if service == "" {
		service = SystemKeyService
	}
	return &SystemKeySource{service: service}
}

// Store saves a master key in the keyring and returns its descriptor
func (s *SystemKeySource) Store(key []byte) (KeyDescriptor, error) {
	if err := ValidateKey(key, MaxKeySize); err != nil {
		return KeyDescriptor{}, err
	}
	d := ComputeDescriptor(key)
	if err := keyring.Set(s.service, d.String(), hex.EncodeToString(key)); err != nil {
		return KeyDescriptor{}, fmt.Errorf("failed to store key %s: %w", d, err)
	}
	return d, nil
}

// MasterKey reads the key for d from the keyring
func (s *SystemKeySource) MasterKey(d KeyDescriptor) ([]byte, error) {
	secret, err := keyring.Get(s.service, d.String())
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read key %s: %w", d, err)
	}
	key, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", d, err)
	}
	if ComputeDescriptor(key) != d {
		return nil, fmt.Errorf("key stored for %s has a different descriptor", d)
	}
	return key, nil
}

// MultiKeySource tries multiple key sources in order.
// This is useful while a tree is migrated between keyrings.
type MultiKeySource struct {
	sources []KeySource
}

// NewMultiKeySource creates a new multi-key source
func NewMultiKeySource(sources ...KeySource) (*MultiKeySource, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one key source required")
	}
	return &MultiKeySource{sources: sources}, nil
}

// MasterKey returns the first key found. ErrKeyNotFound is returned only
// when every source reports it; any other failure is returned as is.
func (m *MultiKeySource) MasterKey(d KeyDescriptor) ([]byte, error) {
	var lastErr error
	for _, source := range m.sources {
		key, err := source.MasterKey(d)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all key sources failed: %w", lastErr)
	}
	return nil, ErrKeyNotFound
}
