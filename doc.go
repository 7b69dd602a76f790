// Package fscrypt manages per-object encryption policies on top of the AbsFs
// filesystem abstraction.
//
// # Overview
//
// A Volume wraps an absfs.FileSystem and decides which encryption policy
// each object gets, keeps every encrypted directory tree on a single
// policy, and routes the contents of encrypted files either to an inline
// (hardware) encryption engine or to a software cipher.
//
// # Policies and Contexts
//
// A Policy is what callers ask for: a key descriptor, a contents mode, a
// filenames mode and flags. What is stored for every encrypted object is a
// Context: the same fields plus a random nonce, in a fixed 28 byte record.
// A context is written once and never changed.
//
//	vol, _ := fscrypt.New(base, &fscrypt.Config{Store: store, Keys: keys})
//	dir, _ := vol.Mkdir("/private", 0700)
//	err := vol.SetPolicy(dir, &fscrypt.Policy{
//	    ContentsMode:  fscrypt.ModeAES256XTS,
//	    FilenamesMode: fscrypt.ModeAES256CTS,
//	    Descriptor:    descriptor,
//	})
//
// Only empty directories accept a policy. Everything created below them
// inherits it:
//
//	file, _ := vol.Create("/private/notes.txt")
//	vol.Permitted(dir, file) // true
//
// # Tree Consistency
//
// Permitted must be consulted before granting access to an object found in
// an encrypted directory and before linking an object into one. Records can
// be modified offline, so the check compares the resolved crypto info of
// both objects when keys are available and the stored records otherwise.
// It fails closed.
//
// # Hardware Offload
//
// ModePrivate hands contents encryption to the storage controller. On a
// volume without HardwareOffload the mode is translated to ModeAES256XTS when
// records are created and whenever stored modes are compared, so a tree
// created on capable hardware still reads as consistent elsewhere.
// PrepareIO attaches the key handle for the inline engine to a block
// request, or returns ErrNotApplicable to route the request to
// ContentCipher.
//
// # Storage
//
// Records are kept by a ContextStore: FileStore keeps them as files on an
// absfs filesystem, BoltStore in a bbolt database. Master keys come from a
// KeySource: in memory, derived from a passphrase, or the OS keyring.
package fscrypt
