package vfs

import "errors"

// Sentinel error kinds for the filesystem layer, one per failure kind in
// spec.md's external interface table. Callers use errors.Is against these.
var (
	ErrInvalidPath        = errors.New("vfs: invalid path")
	ErrNotFound           = errors.New("vfs: path not found")
	ErrAlreadyExists      = errors.New("vfs: path already exists")
	ErrNotEmpty           = errors.New("vfs: directory not empty")
	ErrWrongKind          = errors.New("vfs: operation not valid for this kind of entry")
	ErrNoSpace            = errors.New("vfs: no free block or inode available")
	ErrConflictingState   = errors.New("vfs: conflicting open-file state")
	ErrOutOfRange         = errors.New("vfs: offset or size out of range")
	ErrIO                 = errors.New("vfs: backing file I/O failure")
	ErrInvariantViolation = errors.New("vfs: on-disk state violates an invariant")
)
