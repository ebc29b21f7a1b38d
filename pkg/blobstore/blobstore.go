// Package blobstore is the put/get contract between the cryptree and the
// storage holding its ciphertext: signed metadata blobs addressed by
// (owner, writer, mapKey) and fragments addressed by their SHA-256.
package blobstore

import (
	"context"

	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
)

// Store is safe for concurrent use.
type Store interface {
	// PutMetadata stores blob after checking signature, the writer's
	// signature over mapKey ‖ blob.
	PutMetadata(ctx context.Context, owner, writer identity.PublicKey, mapKey, blob, signature []byte) error
	GetMetadata(ctx context.Context, owner, writer identity.PublicKey, mapKey []byte) ([]byte, error)
	// RemoveMetadata deletes a blob; signature covers mapKey alone.
	RemoveMetadata(ctx context.Context, owner, writer identity.PublicKey, mapKey, signature []byte) error
	// PutFragment rejects data whose SHA-256 is not hash.
	PutFragment(ctx context.Context, hash, data []byte) error
	GetFragment(ctx context.Context, hash []byte) ([]byte, error)
}

// MetadataPayload is the message signed for PutMetadata.
func MetadataPayload(mapKey, blob []byte) []byte {
	out := make([]byte, 0, len(mapKey)+len(blob))
	out = append(out, mapKey...)
	return append(out, blob...)
}

// SignMetadata signs a blob for PutMetadata.
func SignMetadata(writer *identity.User, mapKey, blob []byte) []byte {
	return writer.Sign(MetadataPayload(mapKey, blob))
}

// SignRemoval signs a RemoveMetadata request.
func SignRemoval(writer *identity.User, mapKey []byte) []byte {
	return writer.Sign(mapKey)
}
