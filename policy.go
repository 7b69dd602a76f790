package fscrypt

import (
	"errors"
	"fmt"
)

// SetPolicy assigns p to n. Only an empty, live directory without a policy
// can receive one; re-asserting the policy it already has succeeds without
// writing anything, and asserting any other policy fails with
// ErrAlreadyExists.
//
// The caller must be authorized, the volume must be writable, and n is
// locked exclusively for the duration of the call.
func (v *Volume) SetPolicy(n *Node, p *Policy) error {
	if n == nil {
		return NewValidationError("node", nil, "node cannot be nil")
	}
	if v.authorize != nil && !v.authorize(n) {
		return NewAuthenticationError(n.path, ErrPermissionDenied)
	}
	if p != nil && p.Version != PolicyVersion {
		return ValidatePolicy(p)
	}

	release, err := v.guard.acquire()
	if err != nil {
		return NewPolicyError("set_policy", n.path, err)
	}
	defer release()

	unlock := v.locks.lock(n.path)
	defer unlock()

	return v.setPolicyLocked(n, p)
}

func (v *Volume) setPolicyLocked(n *Node, p *Policy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}

	buf := make([]byte, ContextSize)
	size, err := v.store.GetContext(n.path, buf)
	switch {
	case errors.Is(err, ErrNoContext):
		return v.createContext(n, p)
	case err == nil && size == ContextSize && v.consistentWithPolicy(buf, p):
		// The object already uses the same policy.
		return nil
	case err == nil || errors.Is(err, ErrContextRange):
		return NewPolicyError("set_policy", n.path, ErrAlreadyExists)
	default:
		return err
	}
}

// createContext persists a new context built from p on an empty directory
func (v *Volume) createContext(n *Node, p *Policy) error {
	if !n.IsDir() {
		return NewPolicyError("set_policy", n.path, ErrNotDirectory)
	}
	if n.Dead() {
		return NewPolicyError("set_policy", n.path, ErrDeletedDirectory)
	}
	empty, err := v.isEmptyDir(n)
	if err != nil {
		return err
	}
	if !empty {
		return NewPolicyError("set_policy", n.path, ErrDirectoryNotEmpty)
	}

	ctx, err := v.buildContext(p)
	if err != nil {
		return err
	}
	data, err := ctx.MarshalBinary()
	if err != nil {
		return err
	}
	if err := v.store.SetContext(n.path, data, nil); err != nil {
		return err
	}
	n.encrypted.Store(true)
	return nil
}

// consistentWithPolicy compares a stored record with a policy, both contents
// modes translated for this volume's controller
func (v *Volume) consistentWithPolicy(record []byte, p *Policy) bool {
	var ctx Context
	ctx.decode(record)
	stored := ctx.Identity()
	stored.ContentsMode = v.dataMode(stored.ContentsMode)
	wanted := p.Identity()
	wanted.ContentsMode = v.dataMode(wanted.ContentsMode)
	return stored.Equal(wanted, 0)
}

// GetPolicy returns the policy view of n's context. Directories report
// ModeDefault as their contents mode unless the stored mode is
// ModeInvalid; the stored record is not altered.
func (v *Volume) GetPolicy(n *Node) (*Policy, error) {
	if n == nil {
		return nil, NewValidationError("node", nil, "node cannot be nil")
	}
	if !n.Encrypted() {
		return nil, NewPolicyError("get_policy", n.path, ErrNotEncrypted)
	}

	buf := make([]byte, ContextSize)
	size, err := v.store.GetContext(n.path, buf)
	switch {
	case errors.Is(err, ErrNoContext):
		return nil, NewPolicyError("get_policy", n.path, ErrNotEncrypted)
	case errors.Is(err, ErrContextRange):
		return nil, NewCorruptionError(n.path, "context larger than expected")
	case err != nil:
		return nil, err
	}
	if size != ContextSize {
		return nil, NewCorruptionError(n.path, fmt.Sprintf("context is %d bytes, expected %d", size, ContextSize))
	}

	var ctx Context
	ctx.decode(buf)
	if ctx.Format != ContextFormatV1 {
		return nil, NewCorruptionError(n.path, fmt.Sprintf("unknown context format %d", ctx.Format))
	}

	policy := &Policy{
		Version:       PolicyVersion,
		ContentsMode:  ctx.ContentsMode,
		FilenamesMode: ctx.FilenamesMode,
		Flags:         ctx.Flags,
		Descriptor:    ctx.Descriptor,
	}
	if n.IsDir() && policy.ContentsMode != ModeInvalid {
		policy.ContentsMode = ModeDefault
	}
	return policy, nil
}
