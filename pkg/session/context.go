package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/i5heu/ouroboros-cryptree/pkg/blobstore"
	"github.com/i5heu/ouroboros-cryptree/pkg/chunk"
	"github.com/i5heu/ouroboros-cryptree/pkg/cryptree"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/logging"
	"github.com/i5heu/ouroboros-cryptree/pkg/retrieval"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	workerpool "github.com/i5heu/ouroboros-cryptree/pkg/workerPool"
)

// Options configures a UserContext. Zero values select defaults.
type Options struct {
	// Codec defaults to Reed-Solomon with chunk.ErasureOriginal data and
	// chunk.ErasureAllowedFailures parity fragments.
	Codec erasure.Codec
	// Pool is shared when set; otherwise the context owns a pool.
	Pool   *workerpool.WorkerPool
	Logger *slog.Logger
	// CompressUploads stores new file content zstd compressed.
	CompressUploads bool
}

// UserContext is one user's session over a blob store. Directory
// read-modify-write cycles are serialized by the context.
type UserContext struct {
	user     *identity.User
	store    blobstore.Store
	codec    erasure.Codec
	pool     *workerpool.WorkerPool
	ownsPool bool
	fetcher  *retrieval.Fetcher
	log      *slog.Logger
	compress bool

	mu sync.Mutex
}

func NewUserContext(user *identity.User, store blobstore.Store, opts Options) (*UserContext, error) { // A
	if user == nil {
		return nil, errors.New("session: user is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger
	}
	if opts.Codec == nil {
		codec, err := chunk.DefaultCodec()
		if err != nil {
			return nil, fmt.Errorf("session: codec: %w", err)
		}
		opts.Codec = codec
	}
	ownsPool := false
	if opts.Pool == nil {
		opts.Pool = workerpool.NewWorkerPool(workerpool.Config{})
		ownsPool = true
	}

	return &UserContext{
		user:     user,
		store:    store,
		codec:    opts.Codec,
		pool:     opts.Pool,
		ownsPool: ownsPool,
		fetcher:  retrieval.NewFetcher(store, opts.Codec, opts.Pool, opts.Logger),
		log:      opts.Logger,
		compress: opts.CompressUploads,
	}, nil
}

// Close releases the worker pool if the context created it.
func (uc *UserContext) Close() {
	if uc.ownsPool {
		uc.pool.Close()
	}
}

func (uc *UserContext) User() *identity.User { return uc.user }

// Entry is a resolved node below a directory.
type Entry struct {
	Pointer    FilePointer
	Node       cryptree.Node
	Properties cryptree.FileProperties
}

func (e Entry) IsDir() bool { return e.Node.IsDir() }

func (e Entry) Name() string { return e.Properties.Name }

// CreateRoot uploads an empty directory owned and written by the user.
func (uc *UserContext) CreateRoot(ctx context.Context, name string) (FilePointer, error) { // A
	base := symmetric.Random()
	loc := cryptree.NewLocation(uc.user.Public(), uc.user.Public())
	dir := cryptree.NewDirAccess(uc.user.Public(), base, cryptree.NewFileProperties(name, 0))

	if err := uc.UploadNode(ctx, uc.user, loc, cryptree.DirNode(dir)); err != nil {
		return FilePointer{}, err
	}
	uc.log.Info("root directory created", "name", name, "location", loc.String())
	return NewWritablePointer(loc, base, uc.user)
}

// UploadNode stores fragments first, then the signed metadata blob.
func (uc *UserContext) UploadNode( // A
	ctx context.Context,
	writer *identity.User,
	loc cryptree.Location,
	node cryptree.Node,
	fragments ...chunk.Fragment,
) error {
	if err := uc.putFragments(ctx, fragments); err != nil {
		return err
	}
	blob := node.Serialize()
	sig := blobstore.SignMetadata(writer, loc.MapKey, blob)
	if err := uc.store.PutMetadata(ctx, loc.Owner, loc.Writer, loc.MapKey, blob, sig); err != nil {
		return fmt.Errorf("session: upload node: %w", err)
	}
	return nil
}

func (uc *UserContext) putFragments(ctx context.Context, fragments []chunk.Fragment) error { // A
	if len(fragments) == 0 {
		return nil
	}
	room := uc.pool.CreateRoom(ctx, len(fragments))
	for _, f := range fragments {
		f := f
		err := room.NewTaskWaitForFreeSlot(func(ctx context.Context) interface{} {
			return uc.store.PutFragment(ctx, f.Hash, f.Data)
		})
		if err != nil {
			room.Cancel()
			return fmt.Errorf("session: queue fragment upload: %w", err)
		}
	}

	var errs []error
	results := room.Collect()
	for _, r := range results {
		if err, ok := r.(error); ok && err != nil {
			errs = append(errs, err)
		}
	}
	if len(results) != len(fragments) && ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: upload fragments: %w", err)
	}
	return nil
}

// GetNode fetches and parses the metadata at loc.
func (uc *UserContext) GetNode(ctx context.Context, loc cryptree.Location) (cryptree.Node, error) { // A
	blob, err := uc.store.GetMetadata(ctx, loc.Owner, loc.Writer, loc.MapKey)
	if err != nil {
		return cryptree.Node{}, fmt.Errorf("session: get node: %w", err)
	}
	return cryptree.DeserializeNode(blob)
}

// Stat resolves the node p points at.
func (uc *UserContext) Stat(ctx context.Context, p FilePointer) (Entry, error) { // A
	node, err := uc.GetNode(ctx, p.Location())
	if err != nil {
		return Entry{}, err
	}
	props, err := node.Properties(p.BaseKey)
	if err != nil {
		return Entry{}, fmt.Errorf("session: stat: %w", err)
	}
	return Entry{Pointer: p, Node: node, Properties: props}, nil
}

func (uc *UserContext) getDir(ctx context.Context, p FilePointer) (*cryptree.DirAccess, error) {
	node, err := uc.GetNode(ctx, p.Location())
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, fmt.Errorf("session: %s: %w", p.Location().String(), cerrors.ErrNotDirectory)
	}
	return node.Dir, nil
}

type retrieved struct {
	index int
	entry Entry
	err   error
}

// RetrieveAll resolves links with key and fetches every child node
// concurrently. The result keeps the order of links.
func (uc *UserContext) RetrieveAll( // A
	ctx context.Context,
	parent FilePointer,
	links []cryptree.LocationLink,
	key symmetric.Key,
) ([]Entry, error) {
	if len(links) == 0 {
		return nil, nil
	}
	room := uc.pool.CreateRoom(ctx, len(links))
	for i, l := range links {
		i, l := i, l
		err := room.NewTaskWaitForFreeSlot(func(ctx context.Context) interface{} {
			childKey, loc, err := l.Resolve(key)
			if err != nil {
				return retrieved{index: i, err: err}
			}
			p := parent.child(loc, childKey)
			e, err := uc.Stat(ctx, p)
			return retrieved{index: i, entry: e, err: err}
		})
		if err != nil {
			room.Cancel()
			return nil, fmt.Errorf("session: queue retrieval: %w", err)
		}
	}

	entries := make([]Entry, len(links))
	got := 0
	var errs []error
	for _, r := range room.Collect() {
		res := r.(retrieved)
		if res.err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", res.index, res.err))
			continue
		}
		entries[res.index] = res.entry
		got++
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: retrieve entries: %w", err)
	}
	if got != len(links) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("session: retrieved %d of %d entries", got, len(links))
	}
	return entries, nil
}

// List returns a directory's entries, directories first, each group sorted
// by name.
func (uc *UserContext) List(ctx context.Context, dirPtr FilePointer) ([]Entry, error) { // A
	dir, err := uc.getDir(ctx, dirPtr)
	if err != nil {
		return nil, err
	}
	return uc.list(ctx, dirPtr, dir)
}

func (uc *UserContext) list(ctx context.Context, dirPtr FilePointer, dir *cryptree.DirAccess) ([]Entry, error) {
	filesKey, err := dir.FilesKey(dirPtr.BaseKey)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	subdirs, err := uc.RetrieveAll(ctx, dirPtr, dir.Subfolders, dirPtr.BaseKey)
	if err != nil {
		return nil, err
	}
	files, err := uc.RetrieveAll(ctx, dirPtr, dir.Files, filesKey)
	if err != nil {
		return nil, err
	}

	entries := append(subdirs, files...)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// Visible drops entries marked hidden, keeping order.
func Visible(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Properties.Hidden() {
			out = append(out, e)
		}
	}
	return out
}

// Lookup finds the entry called name in a directory.
func (uc *UserContext) Lookup(ctx context.Context, dirPtr FilePointer, name string) (Entry, error) { // A
	entries, err := uc.List(ctx, dirPtr)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Name() == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("session: %q: %w", name, cerrors.ErrNotFound)
}

// Resolve walks a slash separated path from root. The empty path and "/"
// resolve to root itself.
func (uc *UserContext) Resolve(ctx context.Context, root FilePointer, path string) (Entry, error) { // A
	cur, err := uc.Stat(ctx, root)
	if err != nil {
		return Entry{}, err
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		if !cur.IsDir() {
			return Entry{}, fmt.Errorf("session: %q: %w", cur.Name(), cerrors.ErrNotDirectory)
		}
		if cur, err = uc.Lookup(ctx, cur.Pointer, part); err != nil {
			return Entry{}, err
		}
	}
	return cur, nil
}

func requireWritable(p FilePointer) error {
	if !p.IsWritable() {
		return fmt.Errorf("session: %s: %w", p.Location().String(), cerrors.ErrNotWritable)
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("session: invalid name %q: %w", name, cerrors.ErrMalformedData)
	}
	return nil
}

// ensureFree fails with ErrAlreadyExists when dir holds an entry called
// name other than except.
func (uc *UserContext) ensureFree( // A
	ctx context.Context,
	dirPtr FilePointer,
	dir *cryptree.DirAccess,
	name string,
	except *cryptree.Location,
) error {
	entries, err := uc.list(ctx, dirPtr, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() != name {
			continue
		}
		if except != nil && e.Pointer.Location().Equal(*except) {
			continue
		}
		return fmt.Errorf("session: %q: %w", name, cerrors.ErrAlreadyExists)
	}
	return nil
}

// Mkdir creates an empty directory below parent.
func (uc *UserContext) Mkdir(ctx context.Context, parent FilePointer, name string) (FilePointer, error) { // A
	if err := requireWritable(parent); err != nil {
		return FilePointer{}, err
	}
	if err := validName(name); err != nil {
		return FilePointer{}, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	dir, err := uc.getDir(ctx, parent)
	if err != nil {
		return FilePointer{}, err
	}
	if err := uc.ensureFree(ctx, parent, dir, name, nil); err != nil {
		return FilePointer{}, err
	}

	childBase := symmetric.Random()
	childLoc := cryptree.NewLocation(parent.Owner, parent.Writer)
	child := cryptree.NewDirAccess(parent.Owner, childBase, cryptree.NewFileProperties(name, 0))
	if err := uc.UploadNode(ctx, parent.signer, childLoc, cryptree.DirNode(child)); err != nil {
		return FilePointer{}, err
	}

	dir.AddSubdir(childLoc, parent.BaseKey, childBase)
	if err := uc.UploadNode(ctx, parent.signer, parent.Location(), cryptree.DirNode(dir)); err != nil {
		return FilePointer{}, err
	}

	uc.log.Debug("directory created", "name", name, "location", childLoc.String())
	return parent.child(childLoc, childBase), nil
}

// Rename changes the name of child, an entry of parent.
func (uc *UserContext) Rename( // A
	ctx context.Context,
	parent, child FilePointer,
	newName string,
) error {
	if err := requireWritable(child); err != nil {
		return err
	}
	if err := validName(newName); err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	dir, err := uc.getDir(ctx, parent)
	if err != nil {
		return err
	}
	childLoc := child.Location()
	if err := uc.ensureFree(ctx, parent, dir, newName, &childLoc); err != nil {
		return err
	}

	entry, err := uc.Stat(ctx, child)
	if err != nil {
		return err
	}
	props := entry.Properties
	props.Name = newName
	renamed, err := entry.Node.WithProperties(child.BaseKey, props)
	if err != nil {
		return fmt.Errorf("session: rename: %w", err)
	}
	return uc.UploadNode(ctx, child.signer, childLoc, renamed)
}

// Remove unlinks child from parent and deletes its metadata, recursively for
// directories. Fragments are content addressed and left in the store.
func (uc *UserContext) Remove(ctx context.Context, parent, child FilePointer) error { // A
	if err := requireWritable(parent); err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	dir, err := uc.getDir(ctx, parent)
	if err != nil {
		return err
	}
	removed, err := dir.RemoveChild(child.Location(), parent.BaseKey)
	if err != nil {
		return fmt.Errorf("session: remove: %w", err)
	}
	if !removed {
		return fmt.Errorf("session: remove %s: %w", child.Location().String(), cerrors.ErrNotFound)
	}
	if err := uc.UploadNode(ctx, parent.signer, parent.Location(), cryptree.DirNode(dir)); err != nil {
		return err
	}
	return uc.removeTree(ctx, child)
}

func (uc *UserContext) removeTree(ctx context.Context, p FilePointer) error { // A
	if !p.IsWritable() {
		uc.log.Warn("skipping entry written by another key", "location", p.Location().String())
		return nil
	}
	node, err := uc.GetNode(ctx, p.Location())
	if err != nil {
		return err
	}

	var errs []error
	if node.IsDir() {
		children, err := node.Dir.Children(p.BaseKey)
		if err != nil {
			return fmt.Errorf("session: remove: %w", err)
		}
		for _, c := range children {
			if err := uc.removeTree(ctx, p.child(c.Location, c.Key)); err != nil {
				errs = append(errs, err)
			}
		}
	} else {
		r := node.File.Retriever
		for r != nil && r.HasNext() {
			next := *r.NextChunk
			if r, err = uc.fetcher.NextRetriever(ctx, next); err != nil {
				errs = append(errs, err)
				break
			}
			if err := uc.removeMetadata(ctx, p.signer, next); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := uc.removeMetadata(ctx, p.signer, p.Location()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (uc *UserContext) removeMetadata(ctx context.Context, writer *identity.User, loc cryptree.Location) error {
	sig := blobstore.SignRemoval(writer, loc.MapKey)
	if err := uc.store.RemoveMetadata(ctx, loc.Owner, loc.Writer, loc.MapKey, sig); err != nil {
		return fmt.Errorf("session: remove metadata: %w", err)
	}
	return nil
}

// Share seals a read-only pointer for recipient.
func (uc *UserContext) Share(p FilePointer, ownerName string, recipient identity.PublicKey) []byte {
	ep := EntryPoint{Pointer: p.ReadOnly(), OwnerName: ownerName}
	return ep.SealFor(uc.user, recipient)
}

// OpenShared opens an entry point sealed for the user by sender.
func (uc *UserContext) OpenShared(sender identity.PublicKey, sealed []byte) (EntryPoint, error) {
	return OpenEntryPoint(uc.user, sender, sealed)
}
