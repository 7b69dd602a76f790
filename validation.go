package fscrypt

import (
	"fmt"
)

// Policy validation

// validModePairs lists the permitted (contents, filenames) mode combinations
var validModePairs = map[[2]EncryptionMode]bool{
	{ModeAES128CBC, ModeAES128CTS}: true,
	{ModeAES256XTS, ModeAES256CTS}: true,
	{ModePrivate, ModeAES256CTS}:   true,
	{ModeAdiantum, ModeAdiantum}:   true,
}

// ValidModes reports whether contents and filenames form a supported pair
func ValidModes(contents, filenames EncryptionMode) bool {
	return validModePairs[[2]EncryptionMode{contents, filenames}]
}

// ValidatePolicy checks a caller supplied policy for internal consistency.
// It has no side effects.
func ValidatePolicy(p *Policy) error {
	if p == nil {
		return &ValidationError{
			Field:   "policy",
			Message: "policy cannot be nil",
		}
	}
	if p.Version != PolicyVersion {
		return &ValidationError{
			Field:   "version",
			Value:   p.Version,
			Message: fmt.Sprintf("unsupported version %d", p.Version),
			Err:     ErrInvalidVersion,
		}
	}
	if !ValidModes(p.ContentsMode, p.FilenamesMode) {
		return &ValidationError{
			Field:   "modes",
			Value:   [2]EncryptionMode{p.ContentsMode, p.FilenamesMode},
			Message: fmt.Sprintf("unsupported combination: contents %s, filenames %s", p.ContentsMode, p.FilenamesMode),
			Err:     ErrInvalidModes,
		}
	}
	if p.Flags&^FlagsValid != 0 {
		return &ValidationError{
			Field:   "flags",
			Value:   p.Flags,
			Message: fmt.Sprintf("unknown flag bits %#x", uint8(p.Flags&^FlagsValid)),
			Err:     ErrInvalidFlags,
		}
	}
	if p.Flags&MigrationFlag != 0 && p.ContentsMode != ModePrivate {
		return &ValidationError{
			Field:   "flags",
			Value:   p.Flags,
			Message: fmt.Sprintf("iv_ino_lblk_32 requires contents mode %s, got %s", ModePrivate, p.ContentsMode),
			Err:     ErrIncompatibleFlagMode,
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
		}
	}

	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
		}
	}

	return nil
}

// ValidateBlock checks that a data block can be handed to a block cipher
func ValidateBlock(buf []byte, blockSize int) error {
	if buf == nil {
		return &ValidationError{
			Field:   "block",
			Message: "buffer cannot be nil",
		}
	}
	if len(buf) == 0 || len(buf)%blockSize != 0 {
		return &ValidationError{
			Field:   "block",
			Value:   len(buf),
			Message: fmt.Sprintf("block length %d is not a positive multiple of %d", len(buf), blockSize),
		}
	}
	return nil
}
