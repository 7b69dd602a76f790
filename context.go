package fscrypt

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// ContextFormatV1 is the format tag of a version 1 context record
	ContextFormatV1 = uint8(1)

	// ContextSize is the fixed size of a persisted context record:
	// 1 byte (format) + 8 bytes (descriptor) + 1 byte (contents mode) +
	// 1 byte (filenames mode) + 1 byte (flags) + 16 bytes (nonce) = 28 bytes
	ContextSize = 1 + KeyDescriptorSize + 3 + NonceSize
)

// Context is the record persisted for every encrypted object.
// It is created once and never rewritten.
//
// Layout:
//
//	┌────────┬────────────┬──────────┬───────────┬───────┬────────────┐
//	│ format │ descriptor │ contents │ filenames │ flags │ nonce      │
//	│ 1 byte │ 8 bytes    │ 1 byte   │ 1 byte    │ 1 byte│ 16 bytes   │
//	└────────┴────────────┴──────────┴───────────┴───────┴────────────┘
type Context struct {
	Format        uint8
	Descriptor    KeyDescriptor
	ContentsMode  EncryptionMode
	FilenamesMode EncryptionMode
	Flags         PolicyFlags
	Nonce         [NonceSize]byte
}

// Identity returns the tree identity recorded in the context
func (c *Context) Identity() Identity {
	return Identity{
		Descriptor:    c.Descriptor,
		ContentsMode:  c.ContentsMode,
		FilenamesMode: c.FilenamesMode,
		Flags:         c.Flags,
	}
}

// MarshalBinary encodes the context in its fixed on-disk layout
func (c *Context) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, ContextSize))
	if _, err := c.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the context to the given writer
func (c *Context) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, c.Format); err != nil {
		return 0, fmt.Errorf("failed to write format: %w", err)
	}
	if _, err := buf.Write(c.Descriptor[:]); err != nil {
		return 0, fmt.Errorf("failed to write descriptor: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, [3]uint8{
		uint8(c.ContentsMode), uint8(c.FilenamesMode), uint8(c.Flags),
	}); err != nil {
		return 0, fmt.Errorf("failed to write modes: %w", err)
	}
	if _, err := buf.Write(c.Nonce[:]); err != nil {
		return 0, fmt.Errorf("failed to write nonce: %w", err)
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// UnmarshalBinary decodes a record. Any length other than ContextSize or an
// unknown format tag is reported as corruption.
func (c *Context) UnmarshalBinary(data []byte) error {
	if len(data) != ContextSize {
		return NewCorruptionError("", fmt.Sprintf("context is %d bytes, expected %d", len(data), ContextSize))
	}
	c.decode(data)
	if c.Format != ContextFormatV1 {
		return NewCorruptionError("", fmt.Sprintf("unknown context format %d", c.Format))
	}
	return nil
}

// decode copies the fields of a ContextSize record without checking them
func (c *Context) decode(data []byte) {
	c.Format = data[0]
	copy(c.Descriptor[:], data[1:1+KeyDescriptorSize])
	off := 1 + KeyDescriptorSize
	c.ContentsMode = EncryptionMode(data[off])
	c.FilenamesMode = EncryptionMode(data[off+1])
	c.Flags = PolicyFlags(data[off+2])
	copy(c.Nonce[:], data[off+3:])
}

// newNonce fills a fresh key derivation nonce from crypto/rand
func newNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// dataMode translates a contents mode for this volume's controller: without
// inline encryption support, ModePrivate falls back to its software
// equivalent. Every comparison of a stored mode goes through it.
func (v *Volume) dataMode(mode EncryptionMode) EncryptionMode {
	if mode == ModePrivate && !v.hwCapable {
		return ModeDefault
	}
	return mode
}

// buildContext turns a validated policy into a new context for this volume
func (v *Volume) buildContext(p *Policy) (*Context, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return &Context{
		Format:        ContextFormatV1,
		Descriptor:    p.Descriptor,
		ContentsMode:  v.dataMode(p.ContentsMode),
		FilenamesMode: p.FilenamesMode,
		Flags:         p.Flags,
		Nonce:         nonce,
	}, nil
}
