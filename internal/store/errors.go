package store

import "errors"

// ErrNotFound indicates a missing or unauthorized resource lookup.
var ErrNotFound = errors.New("record not found")

// ErrETagMismatch indicates a conditional update found a different etag
// than the caller supplied. The row is left untouched.
var ErrETagMismatch = errors.New("etag mismatch")
