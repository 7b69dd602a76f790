package fscrypt

import (
	"crypto/aes"
	"fmt"

	"golang.org/x/crypto/xts"
)

// SoftwareCipher encrypts the contents of one object, one logical block at
// a time, when the inline engine is not used
type SoftwareCipher struct {
	xts      *xts.Cipher
	ino      uint64
	flags    PolicyFlags
	path     string
	parallel ParallelConfig
}

// NewSoftwareCipher creates a contents cipher from resolved crypto info.
// Only AES-256-XTS is supported in software.
func NewSoftwareCipher(ci *CryptInfo, ino uint64) (*SoftwareCipher, error) {
	if ci == nil {
		return nil, ErrNoKey
	}
	if ci.ContentsMode != ModeAES256XTS {
		return nil, NewValidationError("contents_mode", ci.ContentsMode,
			fmt.Sprintf("no software cipher for %s", ci.ContentsMode))
	}
	if err := ValidateKey(ci.RawKey, ModeAES256XTS.KeySize()); err != nil {
		return nil, err
	}

	c, err := xts.NewCipher(aes.NewCipher, ci.RawKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create XTS cipher: %w", err)
	}
	return &SoftwareCipher{xts: c, ino: ino, flags: ci.Flags}, nil
}

// ContentCipher returns the software cipher of n. Objects that are not on
// the software path yield ErrNotApplicable.
func (v *Volume) ContentCipher(n *Node) (*SoftwareCipher, error) {
	if v.Classify(n) != PathSoftware {
		return nil, ErrNotApplicable
	}
	c, err := NewSoftwareCipher(v.cache.Get(n.ino), n.ino)
	if err != nil {
		return nil, err
	}
	c.path = n.path
	c.parallel = v.parallel
	return c, nil
}

// tweak returns the XTS sector number for a logical block
func (c *SoftwareCipher) tweak(lblk uint64) uint64 {
	switch {
	case c.flags&FlagIVInoLblk64 != 0:
		return c.ino<<32 | lblk&0xffffffff
	case c.flags&FlagIVInoLblk32 != 0:
		return uint64(uint32(c.ino) + uint32(lblk))
	default:
		return lblk
	}
}

// EncryptBlock encrypts src into dst. Both must have the same length, a
// positive multiple of the AES block size.
func (c *SoftwareCipher) EncryptBlock(dst, src []byte, lblk uint64) error {
	if err := c.check(dst, src); err != nil {
		return NewEncryptionError("encrypt", c.path, lblk, err)
	}
	c.xts.Encrypt(dst, src, c.tweak(lblk))
	return nil
}

// DecryptBlock decrypts src into dst
func (c *SoftwareCipher) DecryptBlock(dst, src []byte, lblk uint64) error {
	if err := c.check(dst, src); err != nil {
		return NewEncryptionError("decrypt", c.path, lblk, err)
	}
	c.xts.Decrypt(dst, src, c.tweak(lblk))
	return nil
}

func (c *SoftwareCipher) check(dst, src []byte) error {
	if err := ValidateBlock(src, aes.BlockSize); err != nil {
		return err
	}
	if len(dst) < len(src) {
		return NewValidationError("dst", len(dst), "destination shorter than source")
	}
	return nil
}
