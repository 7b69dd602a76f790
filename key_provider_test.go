package fscrypt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestComputeDescriptor(t *testing.T) {
	a := ComputeDescriptor(testMasterKey())
	b := ComputeDescriptor(testMasterKey())
	if a != b {
		t.Error("descriptor should be deterministic")
	}
	if a == ComputeDescriptor(bytes.Repeat([]byte{0x43}, MaxKeySize)) {
		t.Error("different keys should have different descriptors")
	}

	parsed, err := ParseKeyDescriptor(a.String())
	if err != nil {
		t.Fatalf("ParseKeyDescriptor failed: %v", err)
	}
	if parsed != a {
		t.Errorf("ParseKeyDescriptor(%s) = %s", a, parsed)
	}
	if _, err := ParseKeyDescriptor("zz"); !IsValidationError(err) {
		t.Errorf("ParseKeyDescriptor(bad hex) error = %v, want ValidationError", err)
	}
	if _, err := ParseKeyDescriptor("aabb"); !IsValidationError(err) {
		t.Errorf("ParseKeyDescriptor(short) error = %v, want ValidationError", err)
	}
}

func TestStaticKeySource(t *testing.T) {
	s := NewStaticKeySource()

	if _, err := s.Add(make([]byte, 32)); !IsValidationError(err) {
		t.Errorf("Add(short key) error = %v, want ValidationError", err)
	}

	d, err := s.Add(testMasterKey())
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if d != ComputeDescriptor(testMasterKey()) {
		t.Errorf("Add() descriptor = %s", d)
	}

	key, err := s.MasterKey(d)
	if err != nil {
		t.Fatalf("MasterKey failed: %v", err)
	}
	if !bytes.Equal(key, testMasterKey()) {
		t.Error("MasterKey returned the wrong key")
	}

	// Callers get a copy.
	key[0] ^= 0xFF
	again, _ := s.MasterKey(d)
	if !bytes.Equal(again, testMasterKey()) {
		t.Error("modifying a returned key must not change the stored key")
	}

	s.Remove(d)
	if _, err := s.MasterKey(d); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("MasterKey(removed) error = %v, want ErrKeyNotFound", err)
	}
}

func TestPassphraseKeySource(t *testing.T) {
	params := Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1}

	a, err := NewPassphraseKeySource([]byte("correct horse"), []byte("salt"), params)
	if err != nil {
		t.Fatalf("NewPassphraseKeySource failed: %v", err)
	}
	b, err := NewPassphraseKeySource([]byte("correct horse"), []byte("salt"), params)
	if err != nil {
		t.Fatalf("NewPassphraseKeySource failed: %v", err)
	}
	if a.Descriptor() != b.Descriptor() {
		t.Error("same passphrase and salt should derive the same key")
	}

	c, err := NewPassphraseKeySource([]byte("correct horse"), []byte("pepper"), params)
	if err != nil {
		t.Fatalf("NewPassphraseKeySource failed: %v", err)
	}
	if a.Descriptor() == c.Descriptor() {
		t.Error("different salts should derive different keys")
	}

	key, err := a.MasterKey(a.Descriptor())
	if err != nil {
		t.Fatalf("MasterKey failed: %v", err)
	}
	if len(key) != MaxKeySize || ComputeDescriptor(key) != a.Descriptor() {
		t.Error("derived key does not match its descriptor")
	}
	if _, err := a.MasterKey(c.Descriptor()); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("MasterKey(other) error = %v, want ErrKeyNotFound", err)
	}

	if _, err := NewPassphraseKeySource(nil, []byte("salt"), params); !IsValidationError(err) {
		t.Errorf("empty passphrase error = %v, want ValidationError", err)
	}
	if _, err := NewPassphraseKeySource([]byte("pw"), nil, params); !IsValidationError(err) {
		t.Errorf("empty salt error = %v, want ValidationError", err)
	}
}

func TestPassphraseKeySourcePBKDF2(t *testing.T) {
	for _, h := range []HashFunc{SHA256, SHA512} {
		s, err := NewPassphraseKeySourcePBKDF2([]byte("pw"), []byte("salt"), PBKDF2Params{Iterations: 1000, HashFunc: h})
		if err != nil {
			t.Fatalf("NewPassphraseKeySourcePBKDF2(%d) failed: %v", h, err)
		}
		key, err := s.MasterKey(s.Descriptor())
		if err != nil || len(key) != MaxKeySize {
			t.Errorf("MasterKey() = %d bytes, %v", len(key), err)
		}
	}

	_, err := NewPassphraseKeySourcePBKDF2([]byte("pw"), []byte("salt"), PBKDF2Params{Iterations: 1000, HashFunc: 99})
	if !IsValidationError(err) {
		t.Errorf("unsupported hash error = %v, want ValidationError", err)
	}
}

func TestSystemKeySource(t *testing.T) {
	keyring.MockInit()
	s := NewSystemKeySource("")

	if _, err := s.MasterKey(testDescriptor); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("MasterKey(missing) error = %v, want ErrKeyNotFound", err)
	}

	d, err := s.Store(testMasterKey())
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	key, err := s.MasterKey(d)
	if err != nil {
		t.Fatalf("MasterKey failed: %v", err)
	}
	if !bytes.Equal(key, testMasterKey()) {
		t.Error("MasterKey returned the wrong key")
	}

	// An entry whose key does not hash to its name is rejected.
	if err := keyring.Set(SystemKeyService, testDescriptor.String(), "00"); err != nil {
		t.Fatalf("keyring.Set failed: %v", err)
	}
	if _, err := s.MasterKey(testDescriptor); err == nil || errors.Is(err, ErrKeyNotFound) {
		t.Errorf("MasterKey(mismatched) error = %v, want a failure", err)
	}

	if err := keyring.Set(SystemKeyService, "ffffffffffffffff", "not hex"); err != nil {
		t.Fatalf("keyring.Set failed: %v", err)
	}
	bad := KeyDescriptor{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if _, err := s.MasterKey(bad); err == nil {
		t.Error("MasterKey(undecodable) should fail")
	}
}

func TestSystemKeySource_Volume(t *testing.T) {
	keyring.MockInit()
	keys := NewSystemKeySource("fscrypt-test")
	d, err := keys.Store(testMasterKey())
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if d != ComputeDescriptor(testMasterKey()) {
		t.Fatalf("Store() descriptor = %s", d)
	}

	env := setupTestVolume(t, func(c *Config) { c.Keys = keys })
	p := testPolicy()
	p.Descriptor = d
	env.encryptedDir(t, "/d", p)

	file, err := env.vol.Create("/d/f")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if env.vol.Cache().Get(file.Ino()) == nil {
		t.Error("key from the keyring should resolve")
	}
}

func TestMultiKeySource(t *testing.T) {
	if _, err := NewMultiKeySource(); err == nil {
		t.Error("NewMultiKeySource() with no sources should fail")
	}

	first := NewStaticKeySource()
	second := NewStaticKeySource()
	d, err := second.Add(testMasterKey())
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	m, err := NewMultiKeySource(first, second)
	if err != nil {
		t.Fatalf("NewMultiKeySource failed: %v", err)
	}
	key, err := m.MasterKey(d)
	if err != nil {
		t.Fatalf("MasterKey failed: %v", err)
	}
	if !bytes.Equal(key, testMasterKey()) {
		t.Error("MasterKey returned the wrong key")
	}

	if _, err := m.MasterKey(testDescriptor); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("MasterKey(unknown) error = %v, want ErrKeyNotFound", err)
	}

	failure := errors.New("keyring locked")
	broken, _ := NewMultiKeySource(failingKeySource{err: failure}, first)
	_, err = broken.MasterKey(d)
	if !errors.Is(err, failure) || errors.Is(err, ErrKeyNotFound) {
		t.Errorf("MasterKey error = %v, want the source failure", err)
	}

	// A later source still serves the key when an earlier one fails.
	recovering, _ := NewMultiKeySource(failingKeySource{err: failure}, second)
	if _, err := recovering.MasterKey(d); err != nil {
		t.Errorf("MasterKey failed: %v", err)
	}
}
