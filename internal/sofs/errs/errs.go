// Package errs defines the flat, negative-integer error taxonomy shared by
// every layer of the SOFS14 metadata engine.
package errs

import "fmt"

// Status is a core operation result: zero is success, negative is failure.
// Modelled on hanwen-go-fuse's fuse.Status -- a small comparable type that
// doubles as an error, rather than a tree of sentinel error values.
type Status int32

// OK is the zero-value success status.
const OK Status = 0

const (
	InvalidArgument Status = -(iota + 1)
	NoSpace
	NoEntry
	Exists
	NotADirectory
	IsADirectory
	NotEmpty
	NameTooLong
	TooManySymlinks
	TooManyLinks
	MaxFileSizeExceeded
	NoAccess
	PermissionDenied
	DeviceNotOpen
	IOFailure
	InternalInconsistency
	InodeInUseInconsistent
	FreeInodeDirtyInconsistent
	ClusterHeaderInconsistent
	ReferenceListInconsistent
	AlreadyInList
	NotInList
	WrongOwnerInode
)

var names = map[Status]string{
	OK:                         "ok",
	InvalidArgument:            "invalid-argument",
	NoSpace:                    "no-space",
	NoEntry:                    "no-entry",
	Exists:                     "exists",
	NotADirectory:              "not-a-directory",
	IsADirectory:               "is-a-directory",
	NotEmpty:                   "not-empty",
	NameTooLong:                "name-too-long",
	TooManySymlinks:            "too-many-symlinks",
	TooManyLinks:               "too-many-links",
	MaxFileSizeExceeded:        "max-file-size-exceeded",
	NoAccess:                   "no-access",
	PermissionDenied:           "permission-denied",
	DeviceNotOpen:              "device-not-open",
	IOFailure:                  "io-failure",
	InternalInconsistency:      "internal-inconsistency",
	InodeInUseInconsistent:     "inode-in-use-inconsistent",
	FreeInodeDirtyInconsistent: "free-inode-dirty-inconsistent",
	ClusterHeaderInconsistent:  "cluster-header-inconsistent",
	ReferenceListInconsistent:  "reference-list-inconsistent",
	AlreadyInList:              "already-in-list",
	NotInList:                  "not-in-list",
	WrongOwnerInode:            "wrong-owner-inode",
}

// String renders the status the way fuse.Status.String renders syscall
// errnos: a short symbolic name, falling back to the raw code.
func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Error implements the error interface so a Status can be returned and
// compared directly wherever Go idiom expects an error.
func (s Status) Error() string {
	return s.String()
}

// Ok reports whether the status represents success.
func (s Status) Ok() bool {
	return s == OK
}

// Wrap annotates a status with additional call-site context without losing
// the underlying code: errors.Is(wrapped, errs.NoSpace) still succeeds.
func (s Status) Wrap(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), s)
}
