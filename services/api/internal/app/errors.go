package app

import "errors"

var (
	ErrNoFiles       = errors.New("at least one file is required")
	ErrBatchTooLarge = errors.New("too many files in one batch")

	// ErrFileTooLarge and ErrUnsupportedFormat are per-file validation
	// failures. The batch keeps going; these end up in the failed list.
	ErrFileTooLarge      = errors.New("file exceeds the maximum allowed size")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrEmptyFile         = errors.New("file is empty")

	ErrPhotoNotFound    = errors.New("photo not found")
	ErrNotInTrash       = errors.New("photo is not in trash")
	ErrInvalidStatus    = errors.New("invalid status value")
	ErrFilenameRequired = errors.New("filename required")

	// ErrStorageFailure wraps object store errors so the transport
	// layer can map them to a storage error code.
	ErrStorageFailure = errors.New("object storage failure")
)
