package recstore

import "errors"

var (
	// ErrPathNotFound is returned when a configured directory does not exist
	ErrPathNotFound = errors.New("path not found")
	// ErrStoreNotFound is returned when opening a store whose files are absent
	ErrStoreNotFound = errors.New("store not found")
	// ErrStoreExists is returned when creating a store whose files already exist
	ErrStoreExists = errors.New("store already exists")
	// ErrInvalidHandle is returned for handles outside [1, Len()]
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrCorruptStore is returned when the files on disk are inconsistent
	ErrCorruptStore = errors.New("corrupt store")
	// ErrStorePoisoned is returned by Put after an I/O failure; reopen to recover
	ErrStorePoisoned = errors.New("store is poisoned by an earlier i/o failure")
	// ErrStoreClosed is returned when operating on a closed store
	ErrStoreClosed = errors.New("store is closed")
)
