package fscrypt

// InheritContext gives child a new context copied from parent's resolved
// policy with a fresh nonce. fsData is handed to the store untouched. With
// preload set, the child's crypto info is resolved and cached right away.
//
// When the parent is hardware encrypted and the storage profile forces the
// IV_INO_LBLK_32 scheme, the child gets MigrationFlag even if the parent
// lacks it.
//
// The caller holds the child's object lock.
func (v *Volume) InheritContext(parent, child *Node, fsData any, preload bool) error {
	if parent == nil || child == nil {
		return NewValidationError("node", nil, "node cannot be nil")
	}

	ci, err := v.CryptInfo(parent)
	if err != nil {
		return err
	}
	if ci == nil {
		return NewPolicyError("inherit", parent.path, ErrNoKey)
	}

	nonce, err := newNonce()
	if err != nil {
		return err
	}
	ctx := &Context{
		Format:        ContextFormatV1,
		Descriptor:    ci.Descriptor,
		ContentsMode:  ci.ContentsMode,
		FilenamesMode: ci.FilenamesMode,
		Flags:         ci.Flags,
		Nonce:         nonce,
	}
	if ctx.ContentsMode == ModePrivate && v.forceLblk32 {
		ctx.Flags |= MigrationFlag
	}

	data, err := ctx.MarshalBinary()
	if err != nil {
		return err
	}
	if err := v.store.SetContext(child.path, data, fsData); err != nil {
		return err
	}
	child.encrypted.Store(true)

	if !preload {
		return nil
	}
	_, err = v.CryptInfo(child)
	return err
}
