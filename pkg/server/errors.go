package server

import "errors"

// User errors are reported back to the originating session as informational
// chat messages and never cross the dispatch boundary.
var (
	ErrInvalidState  = errors.New("session is not in a valid state for this operation")
	ErrAlreadyMember = errors.New("session is already a member of this room")
	ErrDuplicateRoom = errors.New("a room with this name already exists")
	ErrInvalidSpec   = errors.New("roll spec must be NdM or a single upper bound")
)
