package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/ouroboros-cryptree/internal/chunker"
	"github.com/i5heu/ouroboros-cryptree/pkg/chunk"
	"github.com/i5heu/ouroboros-cryptree/pkg/cryptree"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/retrieval"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	"github.com/klauspost/compress/zstd"
)

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// compressed streams r through a zstd encoder.
func compressed(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		enc, err := zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(enc, r); err != nil {
			enc.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(enc.Close())
	}()
	return pr
}

// UploadFile stores r as a chain of encrypted chunks and links the file
// into parent under name.
func (uc *UserContext) UploadFile( // A
	ctx context.Context,
	parent FilePointer,
	name string,
	r io.Reader,
) (FilePointer, error) {
	if err := requireWritable(parent); err != nil {
		return FilePointer{}, err
	}
	if err := validName(name); err != nil {
		return FilePointer{}, err
	}
	dir, err := uc.getDir(ctx, parent)
	if err != nil {
		return FilePointer{}, err
	}
	if err := uc.ensureFree(ctx, parent, dir, name, nil); err != nil {
		return FilePointer{}, err
	}
	start := time.Now()

	counter := &countingReader{r: r}
	var src io.Reader = counter
	var attr byte
	if uc.compress {
		zr := compressed(counter)
		defer zr.Close()
		src = zr
		attr |= cryptree.AttrCompressed
	}

	fileKey := symmetric.Random()
	first, loc, chunks, err := uc.uploadChunks(ctx, parent, fileKey, src)
	if err != nil {
		return FilePointer{}, err
	}

	props := cryptree.NewFileProperties(name, counter.n)
	props.Attr = attr
	file := cryptree.NewFileAccess(fileKey, props, first)
	if err := uc.UploadNode(ctx, parent.signer, loc, cryptree.FileNode(file)); err != nil {
		return FilePointer{}, err
	}

	if err := uc.link(ctx, parent, name, loc, fileKey); err != nil {
		return FilePointer{}, err
	}

	uc.log.Info("file uploaded",
		"name", name,
		"size", humanize.Bytes(uint64(counter.n)),
		"chunks", chunks,
		"took", time.Since(start),
	)
	return parent.child(loc, fileKey), nil
}

// uploadChunks stores every chunk's fragments and the metadata of all
// chunks after the first. It returns the first chunk's retriever and the
// location reserved for the file's own metadata.
func (uc *UserContext) uploadChunks( // A
	ctx context.Context,
	parent FilePointer,
	fileKey symmetric.Key,
	src io.Reader,
) (*cryptree.EncryptedChunkRetriever, cryptree.Location, int, error) {
	la := chunker.NewLookahead(chunker.NewFixedChunker(src, chunk.MaxSize))

	data, more, err := la.Next()
	if err != nil {
		return nil, cryptree.Location{}, 0, fmt.Errorf("session: read content: %w", err)
	}
	cur, err := chunk.New(data, fileKey)
	if err != nil {
		return nil, cryptree.Location{}, 0, err
	}
	fileLoc := cryptree.Location{Owner: parent.Owner, Writer: parent.Writer, MapKey: cur.MapKey}
	curLoc := fileLoc

	var first *cryptree.EncryptedChunkRetriever
	count := 0
	for cur != nil {
		var next *chunk.Chunk
		var nextLoc *cryptree.Location
		if more {
			if data, more, err = la.Next(); err != nil {
				return nil, cryptree.Location{}, 0, fmt.Errorf("session: read content: %w", err)
			}
			if next, err = chunk.New(data, fileKey); err != nil {
				return nil, cryptree.Location{}, 0, err
			}
			nextLoc = &cryptree.Location{Owner: parent.Owner, Writer: parent.Writer, MapKey: next.MapKey}
		}

		enc := cur.Encrypt()
		frags, err := enc.GenerateFragments(uc.codec)
		if err != nil {
			return nil, cryptree.Location{}, 0, err
		}
		retriever := &cryptree.EncryptedChunkRetriever{
			ChunkNonce:     cur.Nonce,
			ChunkAuth:      enc.Auth(),
			FragmentHashes: chunk.Hashes(frags),
			NextChunk:      nextLoc,
		}

		if count == 0 {
			first = retriever
			if err := uc.putFragments(ctx, frags); err != nil {
				return nil, cryptree.Location{}, 0, err
			}
		} else {
			meta := cryptree.NewFileAccess(fileKey, cryptree.FileProperties{Size: int64(len(cur.Data))}, retriever)
			if err := uc.UploadNode(ctx, parent.signer, curLoc, cryptree.FileNode(meta), frags...); err != nil {
				return nil, cryptree.Location{}, 0, err
			}
		}

		count++
		cur = next
		if nextLoc != nil {
			curLoc = *nextLoc
		}
	}
	return first, fileLoc, count, nil
}

// link adds a file entry to parent.
func (uc *UserContext) link( // A
	ctx context.Context,
	parent FilePointer,
	name string,
	loc cryptree.Location,
	fileKey symmetric.Key,
) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	dir, err := uc.getDir(ctx, parent)
	if err != nil {
		return err
	}
	if err := uc.ensureFree(ctx, parent, dir, name, &loc); err != nil {
		return err
	}
	if err := dir.AddFile(loc, parent.BaseKey, fileKey); err != nil {
		return fmt.Errorf("session: link file: %w", err)
	}
	return uc.UploadNode(ctx, parent.signer, parent.Location(), cryptree.DirNode(dir))
}

// OpenFile returns a lazy reader over the file's content.
func (uc *UserContext) OpenFile( // A
	ctx context.Context,
	p FilePointer,
) (io.ReadCloser, cryptree.FileProperties, error) {
	entry, err := uc.Stat(ctx, p)
	if err != nil {
		return nil, cryptree.FileProperties{}, err
	}
	if entry.IsDir() {
		return nil, cryptree.FileProperties{}, fmt.Errorf("session: open %q: %w", entry.Name(), cerrors.ErrIsDirectory)
	}

	combiner := retrieval.NewCombiner(ctx, uc.fetcher, entry.Node.File.Retriever, p.BaseKey)
	if !entry.Properties.Compressed() {
		return io.NopCloser(combiner), entry.Properties, nil
	}
	dec, err := zstd.NewReader(combiner)
	if err != nil {
		return nil, cryptree.FileProperties{}, fmt.Errorf("session: open %q: %w", entry.Name(), err)
	}
	return dec.IOReadCloser(), entry.Properties, nil
}

// ReadFile reads the whole file into memory.
func (uc *UserContext) ReadFile(ctx context.Context, p FilePointer) ([]byte, cryptree.FileProperties, error) { // A
	rc, props, err := uc.OpenFile(ctx, p)
	if err != nil {
		return nil, props, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, props, fmt.Errorf("session: read %q: %w", props.Name, err)
	}
	return data, props, nil
}
