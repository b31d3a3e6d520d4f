package app

import (
	"errors"
	"strings"
)

// The taxonomy the HTTP layer maps onto statuses. Validation and
// business-rule violations are expected outcomes and always carry enough
// detail to act on; only anchoring failures are recovered locally.
var (
	ErrHashMismatch      = errors.New("file hash does not match the declared hash")
	ErrDuplicateDocument = errors.New("a document with this file hash already exists")
	ErrMissingSigningKey = errors.New("no signing key registered for this user")
	ErrInvalidSignature  = errors.New("the signature does not verify against the canonical payload")
	ErrNotFound          = errors.New("document not found")
	ErrNotPending        = errors.New("document is not pending")
	ErrNotAParticipant   = errors.New("user is not a participant of this document")
	ErrAlreadyDecided    = errors.New("participant already made a decision")
	ErrForbidden         = errors.New("not allowed to access this document")
	ErrFileUnavailable   = errors.New("document file is not available")
	ErrNotSigned         = errors.New("document is not fully signed")
	ErrAlreadyAnchored   = errors.New("document is already anchored")
	ErrAnchoringDisabled = errors.New("anchoring backend is not configured")
)

// UnknownParticipantsError lists the usernames that did not resolve to
// registered users, so the caller can fix the exact names.
type UnknownParticipantsError struct {
	Usernames []string
}

func (e UnknownParticipantsError) Error() string {
	return "unknown participants: " + strings.Join(e.Usernames, ", ")
}
