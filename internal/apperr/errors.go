// Package apperr holds the sentinel errors shared across the sync engine.
package apperr

import "errors"

// Malformed input. Fatal for a single cell only.
var (
	ErrMalformedMetadata     = errors.New("malformed metadata")
	ErrMissingHead           = errors.New("missing head")
	ErrAttachmentResolution  = errors.New("attachment resolution failed")
	ErrInvalidAttachmentName = errors.New("invalid attachment name")
)

// Remote store failures (protocol, transport, setup).
var (
	ErrRemoteStore   = errors.New("remote store error")
	ErrDeckNotFound  = errors.New("deck not found")
	ErrModelMismatch = errors.New("note model mismatch")
)

// Precondition violations. These indicate a collaborator contract breach.
var (
	ErrDuplicateRemoteID = errors.New("duplicate remote note id")
	ErrUnknownOperation  = errors.New("unknown operation kind")
)

// Orchestration.
var (
	ErrAborted      = errors.New("aborted by operator")
	ErrSkippedCells = errors.New("some cells could not be extracted")
)
