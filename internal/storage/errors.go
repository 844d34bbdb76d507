package storage

import "errors"

// ErrSnapshotNotFound is returned by Load when nothing has been saved yet.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("snapshot store is closed")
