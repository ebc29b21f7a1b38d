// Package errors holds the sentinel errors shared by the cryptree packages.
//
// Callers match them with errors.Is; producers wrap them with context:
//
//	return nil, fmt.Errorf("cryptree: read properties: %w", errors.ErrAuthentication)
//
// # Error groups
//
//   - Crypto: ErrAuthentication. Wrong key and tampered data are deliberately
//     indistinguishable.
//   - Retrieval: ErrFragmentMissing, ErrEndOfStream. ErrEndOfStream is io.EOF
//     and marks the normal end of a chunk chain.
//   - Encoding: ErrMalformedData for structurally invalid serialized bytes.
//   - Store and session: ErrNotFound, ErrBadSignature, ErrNotWritable,
//     ErrNotDirectory, ErrIsDirectory, ErrAlreadyExists.
package errors
