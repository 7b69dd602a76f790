package fscrypt

// Permitted reports whether child may live in parent as far as encryption
// is concerned. Within an encrypted tree every object must share the
// directory's descriptor, modes and flags (MigrationFlag aside).
//
// It must be called before granting access to an object found in an
// encrypted directory and before linking an object into one: records can be
// changed offline, so creation-time inheritance alone is not enough.
// Every failure, including a panic in a collaborator, yields false.
func (v *Volume) Permitted(parent, child *Node) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Printf("fscrypt: consistency check panicked: %v", r)
			ok = false
		}
	}()

	if parent == nil || child == nil {
		return false
	}

	// No restrictions on file types which are never encrypted
	if !child.encryptable() {
		return true
	}
	// No restrictions if the parent directory is unencrypted
	if !parent.Encrypted() {
		return true
	}
	// Encrypted directories must not contain unencrypted files
	if !child.Encrypted() {
		return false
	}

	parentInfo, err := v.CryptInfo(parent)
	if err != nil {
		v.log.Printf("fscrypt: %s: resolve failed, denying %s: %v", parent.path, child.path, err)
		return false
	}
	childInfo, err := v.CryptInfo(child)
	if err != nil {
		v.log.Printf("fscrypt: %s: resolve failed, denying: %v", child.path, err)
		return false
	}

	if parentInfo != nil && childInfo != nil {
		return parentInfo.Identity().Equal(childInfo.Identity(), MigrationFlag)
	}

	// Without keys, compare the stored records.
	parentID, ok := v.storedIdentity(parent)
	if !ok {
		return false
	}
	childID, ok := v.storedIdentity(child)
	if !ok {
		return false
	}
	return parentID.Equal(childID, MigrationFlag)
}

// storedIdentity reads the record of n and returns its identity with the
// contents mode translated for this volume
func (v *Volume) storedIdentity(n *Node) (Identity, bool) {
	buf := make([]byte, ContextSize)
	size, err := v.store.GetContext(n.path, buf)
	if err != nil || size != ContextSize {
		return Identity{}, false
	}
	var ctx Context
	ctx.decode(buf)
	id := ctx.Identity()
	id.ContentsMode = v.dataMode(id.ContentsMode)
	return id, true
}
