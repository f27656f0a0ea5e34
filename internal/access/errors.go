package access

import "errors"

var (
	ErrNotFound     = errors.New("access: not found")
	ErrConflict     = errors.New("access: resource conflict")
	ErrInvalidInput = errors.New("access: invalid input")
	ErrUnauthorized = errors.New("access: unauthorized")

	// ErrSharedCentre rejects any permission mutation on the shared demo
	// centre, whose grants are immutable.
	ErrSharedCentre = errors.New("access: permissions on the shared centre cannot be changed")

	// ErrAlreadyGranted and ErrLevelDiffers are deliberately distinct so
	// callers can tell "nothing to do" from "use update instead".
	ErrAlreadyGranted = errors.New("access: principal already has access at this level")
	ErrLevelDiffers   = errors.New("access: principal already has access at a different level; update the existing grant instead")

	// ErrOwnerGrant protects the grant record of the centre owner from
	// modification through the ordinary update/revoke path.
	ErrOwnerGrant = errors.New("access: the centre owner's access cannot be modified")

	// ErrLastOwner rejects a change that would leave the centre without
	// any owner-level principal.
	ErrLastOwner = errors.New("access: centre must keep at least one owner; grant another user owner access first")

	// ErrNoReplacementOwner rejects relinquishment when no other
	// owner-level principal exists to take over.
	ErrNoReplacementOwner = errors.New("access: no other owner-level principal exists; grant owner access to another user first")
)
