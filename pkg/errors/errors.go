package errors

import (
	"errors"
	"io"
)

// Crypto errors.
var (
	// ErrAuthentication means a MAC did not verify: wrong key, wrong nonce or
	// tampered ciphertext.
	ErrAuthentication = errors.New("authentication failed")
)

// Retrieval errors.
var (
	// ErrFragmentMissing means fewer fragments than the codec needs were
	// retrievable.
	ErrFragmentMissing = errors.New("not enough fragments to recombine chunk")

	// ErrEndOfStream terminates a chunk chain. It is io.EOF so that readers
	// built on the chain compose with the io package.
	ErrEndOfStream = io.EOF
)

// Encoding errors.
var (
	// ErrMalformedData means serialized bytes are structurally invalid.
	ErrMalformedData = errors.New("malformed data")
)

// Store and session errors.
var (
	// ErrNotFound means the blob store holds nothing under the requested key.
	ErrNotFound = errors.New("not found")

	// ErrBadSignature means a write was not signed by the writer key.
	ErrBadSignature = errors.New("invalid writer signature")

	// ErrNotWritable means a mutation was attempted through a read-only pointer.
	ErrNotWritable = errors.New("pointer is not writable")

	// ErrNotDirectory means a directory operation targeted a file node.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory means a file operation targeted a directory node.
	ErrIsDirectory = errors.New("is a directory")

	// ErrAlreadyExists means a directory already has an entry of that name.
	ErrAlreadyExists = errors.New("entry already exists")
)
