package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrStoreUnavailable    = errors.New("record store unavailable")
	ErrNodeFetchFailed     = errors.New("node fetch failed")
	ErrInvalidEdge         = errors.New("invalid ownership edge")
	ErrSessionNotFound     = errors.New("traversal session not found")
	ErrSessionLimitReached = errors.New("traversal session limit reached")
)
