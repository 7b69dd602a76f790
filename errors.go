package fscrypt

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ValidationError represents a policy or configuration validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PolicyError represents a policy operation refused because of the state of
// the target object
type PolicyError struct {
	Op   string // "set_policy", "get_policy", "inherit", ...
	Path string // Object path
	Err  error  // Underlying sentinel
}

func (e *PolicyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// EncryptionError represents a software cipher failure
type EncryptionError struct {
	Operation string // "encrypt" or "decrypt"
	Path      string // File path, if applicable
	Block     uint64 // Logical block, if applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *EncryptionError) Error() string {
	if e.Path != "" && e.Block > 0 {
		return fmt.Sprintf("%s error: %s (block %d): %s", e.Operation, e.Path, e.Block, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Operation, e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// IOError represents a failure of the record store
type IOError struct {
	Operation string // "get_context", "set_context", "remove_context", ...
	Key       string // Record key
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Key, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CorruptionError represents a persisted record that cannot be trusted
type CorruptionError struct {
	Path    string // Object path
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *CorruptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents an authorization failure
type AuthenticationError struct {
	Path    string // Object path
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *AuthenticationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("authentication error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Policy sentinel errors
var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInvalidVersion       = errors.New("unsupported policy version")
	ErrInvalidModes         = errors.New("invalid encryption mode combination")
	ErrInvalidFlags         = errors.New("invalid policy flags")
	ErrIncompatibleFlagMode = errors.New("policy flags incompatible with contents mode")
	ErrNotDirectory         = errors.New("not a directory")
	ErrDeletedDirectory     = errors.New("directory has been deleted")
	ErrDirectoryNotEmpty    = errors.New("directory not empty")
	ErrAlreadyExists        = errors.New("a different encryption policy already exists")
	ErrNotEncrypted         = errors.New("object is not encrypted")
	ErrCorrupt              = errors.New("encryption context is corrupt")
	ErrNoKey                = errors.New("required key not available")
	ErrNotApplicable        = errors.New("hardware encryption not applicable")
	ErrReadOnly             = errors.New("volume is read-only")
	ErrBusy                 = errors.New("volume is busy")
)

// Configuration sentinel errors
var (
	ErrNilConfig    = errors.New("config cannot be nil")
	ErrNilStore     = errors.New("context store cannot be nil")
	ErrNilKeySource = errors.New("key source cannot be nil")
	ErrNilFS        = errors.New("base filesystem cannot be nil")
)

// Helper functions for creating structured errors

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewPolicyError creates a new policy error
func NewPolicyError(op, path string, err error) error {
	return &PolicyError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// NewEncryptionError creates a new encryption error for a logical block
func NewEncryptionError(operation, path string, block uint64, err error) error {
	return &EncryptionError{
		Operation: operation,
		Path:      path,
		Block:     block,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, key string, err error) error {
	return &IOError{
		Operation: operation,
		Key:       key,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewCorruptionError creates a new corruption error wrapping ErrCorrupt
func NewCorruptionError(path string, message string) error {
	return &CorruptionError{
		Path:    path,
		Message: message,
		Err:     ErrCorrupt,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(path string, err error) error {
	return &AuthenticationError{
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPolicyError checks if an error is a policy error
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// IsEncryptionError checks if an error is an encryption error
func IsEncryptionError(err error) bool {
	var ee *EncryptionError
	return errors.As(err, &ee)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
