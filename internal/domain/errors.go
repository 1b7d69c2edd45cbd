package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

type RejectionCode string

const (
	CodeParentNotShared     RejectionCode = "ParentNotShared"
	CodeUserNotAllowed      RejectionCode = "UserNotAllowed"
	CodeInvalidFields       RejectionCode = "InvalidFields"
	CodeInvalidFilename     RejectionCode = "InvalidFilename"
	CodeFilenameConflict    RejectionCode = "FilenameConflict"
	CodeDuplicateParentLink RejectionCode = "DuplicateParentLink"
	CodeInvalidParent       RejectionCode = "InvalidParent"
	CodePermissionDenied    RejectionCode = "PermissionDenied"
	CodeInvalidUID          RejectionCode = "InvalidUID"
	CodeUIDConflict         RejectionCode = "UIDConflict"
	CodeInvalidContent      RejectionCode = "InvalidContent"
	CodeInvalidUser         RejectionCode = "InvalidUser"
)

// Request attributes a rejection is reported under.
const (
	AttrParent   = "parent"
	AttrFields   = "fields"
	AttrFilename = "filename"
	AttrUID      = "uid"
	AttrContent  = "content"
	AttrUser     = "user"
)

// RejectionError is a validation failure meant to be surfaced to the caller as-is.
// Values carries the offending input (field names, the colliding filename, ...).
type RejectionError struct {
	Code   RejectionCode
	Field  string
	Values []string
}

func (e RejectionError) Error() string {
	return e.Reason()
}

// Reason is the human readable explanation attached to Field.
func (e RejectionError) Reason() string {
	switch e.Code {
	case CodeParentNotShared:
		return "parent data sharing is not enabled"
	case CodeUserNotAllowed:
		return "requester is not allowed to pair data with this parent"
	case CodeInvalidFields:
		return fmt.Sprintf("some fields are not shared by the parent: %s", strings.Join(e.Values, ", "))
	case CodeInvalidFilename:
		if len(e.Values) > 0 && e.Values[0] != "" {
			return fmt.Sprintf("`%s` is not a valid filename", e.Values[0])
		}
		return "filename must not be empty"
	case CodeFilenameConflict:
		return fmt.Sprintf("`%s` is already used. filename must be unique", strings.Join(e.Values, ", "))
	case CodeDuplicateParentLink:
		return "data is already paired with this parent"
	case CodeInvalidParent:
		return "an asset cannot be paired with itself"
	case CodePermissionDenied:
		return "permission denied"
	case CodeInvalidUID:
		return fmt.Sprintf("`%s` is not a valid asset uid", strings.Join(e.Values, ", "))
	case CodeUIDConflict:
		return fmt.Sprintf("`%s` is already used. uid must be unique", strings.Join(e.Values, ", "))
	case CodeInvalidContent:
		return "content must be a survey definition"
	case CodeInvalidUser:
		return "user must not be empty"
	default:
		return string(e.Code)
	}
}

// Is matches any RejectionError carrying the same code. A target without code matches every rejection.
func (e RejectionError) Is(target error) bool {
	switch t := target.(type) {
	case RejectionError:
		return t.Code == "" || t.Code == e.Code
	case *RejectionError:
		return t != nil && (t.Code == "" || t.Code == e.Code)
	}
	return false
}

var (
	ErrRejected            = RejectionError{}
	ErrParentNotShared     = RejectionError{Code: CodeParentNotShared}
	ErrUserNotAllowed      = RejectionError{Code: CodeUserNotAllowed}
	ErrInvalidFields       = RejectionError{Code: CodeInvalidFields}
	ErrInvalidFilename     = RejectionError{Code: CodeInvalidFilename}
	ErrFilenameConflict    = RejectionError{Code: CodeFilenameConflict}
	ErrDuplicateParentLink = RejectionError{Code: CodeDuplicateParentLink}
	ErrInvalidParent       = RejectionError{Code: CodeInvalidParent}
	ErrPermissionDenied    = RejectionError{Code: CodePermissionDenied}
	ErrInvalidUID          = RejectionError{Code: CodeInvalidUID}
	ErrUIDConflict         = RejectionError{Code: CodeUIDConflict}
	ErrInvalidContent      = RejectionError{Code: CodeInvalidContent}
	ErrInvalidUser         = RejectionError{Code: CodeInvalidUser}
)

// PersistenceError wraps an unexpected failure of the owning resource's storage.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error {
	return e.Err
}

func (e PersistenceError) Is(target error) bool {
	_, ok := target.(PersistenceError)
	if ok {
		return true
	}
	_, ok = target.(*PersistenceError)
	return ok
}

var ErrPersistence = PersistenceError{}

// ErrMissingIdentifier reports a stored pairing without identifier.
var ErrMissingIdentifier = errors.New("paired data record is missing its identifier")
