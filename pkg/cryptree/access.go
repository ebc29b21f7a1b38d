package cryptree

import (
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
)

// Kind is the wire type tag of a Node.
type Kind byte

const (
	KindFile Kind = 0
	KindDir  Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Access holds the fields shared by files and directories. SealedProperties is
// nonce ‖ ciphertext under the meta key reachable through Parent2Meta.
type Access struct {
	Parent2Meta      symmetric.Link
	SealedProperties []byte
	Retriever        *EncryptedChunkRetriever
}

func sealProperties(metaKey symmetric.Key, props FileProperties) []byte {
	nonce := metaKey.CreateNonce()
	ct := metaKey.Encrypt(props.Serialize(), nonce)
	out := make([]byte, 0, symmetric.NonceSize+len(ct))
	out = append(out, nonce[:]...)
	return append(out, ct...)
}

// MetaKey follows Parent2Meta from parentKey.
func (a *Access) MetaKey(parentKey symmetric.Key) (symmetric.Key, error) { // A
	k, err := a.Parent2Meta.Target(parentKey)
	if err != nil {
		return symmetric.Key{}, fmt.Errorf("cryptree: meta key: %w", err)
	}
	return k, nil
}

// FileProperties decrypts the properties. A wrong parentKey fails with
// errors.ErrAuthentication.
func (a *Access) FileProperties(parentKey symmetric.Key) (FileProperties, error) { // A
	metaKey, err := a.MetaKey(parentKey)
	if err != nil {
		return FileProperties{}, err
	}
	if len(a.SealedProperties) < symmetric.NonceSize {
		return FileProperties{}, fmt.Errorf("cryptree: properties too short: %w", cerrors.ErrMalformedData)
	}
	nonce, err := symmetric.NonceFromBytes(a.SealedProperties[:symmetric.NonceSize])
	if err != nil {
		return FileProperties{}, err
	}
	plain, err := metaKey.Decrypt(a.SealedProperties[symmetric.NonceSize:], nonce)
	if err != nil {
		return FileProperties{}, fmt.Errorf("cryptree: properties: %w", err)
	}
	return DeserializeFileProperties(plain)
}

func (a *Access) withProperties(parentKey symmetric.Key, props FileProperties) (Access, error) { // A
	metaKey, err := a.MetaKey(parentKey)
	if err != nil {
		return Access{}, err
	}
	return Access{
		Parent2Meta:      a.Parent2Meta,
		SealedProperties: sealProperties(metaKey, props),
		Retriever:        a.Retriever,
	}, nil
}

// FileAccess is the metadata of a file or of one chunk in a file's chain.
type FileAccess struct {
	Access
}

// NewFileAccess seals props under a fresh meta key linked from parentKey.
func NewFileAccess( // A
	parentKey symmetric.Key,
	props FileProperties,
	retriever *EncryptedChunkRetriever,
) *FileAccess {
	metaKey := symmetric.Random()
	return &FileAccess{Access: Access{
		Parent2Meta:      symmetric.NewLink(parentKey, metaKey),
		SealedProperties: sealProperties(metaKey, props),
		Retriever:        retriever,
	}}
}

// DirAccess is directory metadata. Its base capability is the subfolders
// key, from which the parent and files keys are derived.
//
// AddFile, AddSubdir and RemoveChild mutate in place; callers serialize
// access to one instance.
type DirAccess struct {
	Access
	Subfolders2Files  symmetric.Link
	Subfolders2Parent symmetric.Link
	Subfolders        []LocationLink
	Files             []LocationLink
}

// NewDirAccess creates an empty directory reachable from subfoldersKey. The
// owner is not recorded in the metadata.
func NewDirAccess( // A
	_ identity.PublicKey,
	subfoldersKey symmetric.Key,
	props FileProperties,
) *DirAccess {
	metaKey := symmetric.Random()
	parentKey := symmetric.Random()
	filesKey := symmetric.Random()

	return &DirAccess{
		Access: Access{
			Parent2Meta:      symmetric.NewLink(parentKey, metaKey),
			SealedProperties: sealProperties(metaKey, props),
		},
		Subfolders2Files:  symmetric.NewLink(subfoldersKey, filesKey),
		Subfolders2Parent: symmetric.NewLink(subfoldersKey, parentKey),
	}
}

func (d *DirAccess) ParentKey(subfoldersKey symmetric.Key) (symmetric.Key, error) { // A
	k, err := d.Subfolders2Parent.Target(subfoldersKey)
	if err != nil {
		return symmetric.Key{}, fmt.Errorf("cryptree: dir parent key: %w", err)
	}
	return k, nil
}

func (d *DirAccess) FilesKey(subfoldersKey symmetric.Key) (symmetric.Key, error) { // A
	k, err := d.Subfolders2Files.Target(subfoldersKey)
	if err != nil {
		return symmetric.Key{}, fmt.Errorf("cryptree: dir files key: %w", err)
	}
	return k, nil
}

// Properties decrypts the directory's own properties from its base key.
func (d *DirAccess) Properties(subfoldersKey symmetric.Key) (FileProperties, error) { // A
	parentKey, err := d.ParentKey(subfoldersKey)
	if err != nil {
		return FileProperties{}, err
	}
	return d.FileProperties(parentKey)
}

// AddFile links a file under the directory's files key.
func (d *DirAccess) AddFile( // A
	location Location,
	ourSubfoldersKey symmetric.Key,
	targetFileKey symmetric.Key,
) error {
	filesKey, err := d.FilesKey(ourSubfoldersKey)
	if err != nil {
		return err
	}
	d.Files = append(d.Files, NewLocationLink(filesKey, targetFileKey, location))
	return nil
}

// AddSubdir links a child directory's base key under our subfolders key.
func (d *DirAccess) AddSubdir( // A
	location Location,
	ourSubfoldersKey symmetric.Key,
	targetBaseKey symmetric.Key,
) {
	d.Subfolders = append(d.Subfolders, NewLocationLink(ourSubfoldersKey, targetBaseKey, location))
}

// Child is a resolved directory entry.
type Child struct {
	Key      symmetric.Key
	Location Location
	IsDir    bool
}

// Children resolves every entry, subfolders first.
func (d *DirAccess) Children(subfoldersKey symmetric.Key) ([]Child, error) { // A
	filesKey, err := d.FilesKey(subfoldersKey)
	if err != nil {
		return nil, err
	}

	out := make([]Child, 0, len(d.Subfolders)+len(d.Files))
	for i, l := range d.Subfolders {
		k, loc, err := l.Resolve(subfoldersKey)
		if err != nil {
			return nil, fmt.Errorf("cryptree: subfolder %d: %w", i, err)
		}
		out = append(out, Child{Key: k, Location: loc, IsDir: true})
	}
	for i, l := range d.Files {
		k, loc, err := l.Resolve(filesKey)
		if err != nil {
			return nil, fmt.Errorf("cryptree: file %d: %w", i, err)
		}
		out = append(out, Child{Key: k, Location: loc})
	}
	return out, nil
}

// RemoveChild drops every entry pointing at location and reports whether
// one was found.
func (d *DirAccess) RemoveChild(location Location, subfoldersKey symmetric.Key) (bool, error) { // A
	filesKey, err := d.FilesKey(subfoldersKey)
	if err != nil {
		return false, err
	}

	subfolders, removedDirs, err := without(d.Subfolders, location, subfoldersKey)
	if err != nil {
		return false, err
	}
	files, removedFiles, err := without(d.Files, location, filesKey)
	if err != nil {
		return false, err
	}
	d.Subfolders = subfolders
	d.Files = files
	return removedDirs || removedFiles, nil
}

func without(links []LocationLink, location Location, key symmetric.Key) ([]LocationLink, bool, error) {
	kept := make([]LocationLink, 0, len(links))
	removed := false
	for _, l := range links {
		loc, err := l.TargetLocation(key)
		if err != nil {
			return nil, false, err
		}
		if loc.Equal(location) {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	return kept, removed, nil
}

// Node is the tagged variant stored in a metadata blob. Exactly one of File
// and Dir is set, matching Kind.
type Node struct {
	Kind Kind
	File *FileAccess
	Dir  *DirAccess
}

func FileNode(f *FileAccess) Node { return Node{Kind: KindFile, File: f} }
func DirNode(d *DirAccess) Node   { return Node{Kind: KindDir, Dir: d} }

func (n Node) IsDir() bool { return n.Kind == KindDir }

// Access returns the shared fields of either variant.
func (n Node) Access() *Access {
	if n.Kind == KindDir {
		return &n.Dir.Access
	}
	return &n.File.Access
}

// Properties decrypts the node's properties from its base key: the file key
// for files, the subfolders key for directories.
func (n Node) Properties(baseKey symmetric.Key) (FileProperties, error) { // A
	if n.Kind == KindDir {
		return n.Dir.Properties(baseKey)
	}
	return n.File.FileProperties(baseKey)
}

// WithProperties returns a copy with props re-encrypted under the existing
// meta key.
func (n Node) WithProperties(baseKey symmetric.Key, props FileProperties) (Node, error) { // A
	switch n.Kind {
	case KindFile:
		a, err := n.File.withProperties(baseKey, props)
		if err != nil {
			return Node{}, err
		}
		return FileNode(&FileAccess{Access: a}), nil
	case KindDir:
		parentKey, err := n.Dir.ParentKey(baseKey)
		if err != nil {
			return Node{}, err
		}
		a, err := n.Dir.withProperties(parentKey, props)
		if err != nil {
			return Node{}, err
		}
		d := *n.Dir
		d.Access = a
		return DirNode(&d), nil
	default:
		return Node{}, fmt.Errorf("cryptree: node kind %d: %w", byte(n.Kind), cerrors.ErrMalformedData)
	}
}

// Serialize writes the metadata blob:
//
//	[parent2meta][properties][hasRetriever][retriever?][type]
//
// and for directories additionally
//
//	[subfolders2parent][subfolders2files][u32 0][u32 n][subfolder...][u32 n][file...]
func (n Node) Serialize() []byte { // A
	a := n.Access()
	w := wire.NewWriter()
	w.WriteArray(a.Parent2Meta.Serialize())
	w.WriteArray(a.SealedProperties)
	if a.Retriever != nil {
		_ = w.WriteByte(1)
		a.Retriever.writeTo(w)
	} else {
		_ = w.WriteByte(0)
	}
	_ = w.WriteByte(byte(n.Kind))

	if n.Kind != KindDir {
		return w.Bytes()
	}

	d := n.Dir
	w.WriteArray(d.Subfolders2Parent.Serialize())
	w.WriteArray(d.Subfolders2Files.Serialize())
	w.WriteUint32(0)
	writeLinks(w, d.Subfolders)
	writeLinks(w, d.Files)
	return w.Bytes()
}

func writeLinks(w *wire.Writer, links []LocationLink) {
	w.WriteUint32(uint32(len(links)))
	for _, l := range links {
		w.WriteArray(l.Serialize())
	}
}

// DeserializeNode parses a metadata blob. Unknown type tags fail with
// errors.ErrMalformedData.
func DeserializeNode(data []byte) (Node, error) { // A
	r := wire.NewReader(data)
	var a Access

	rawLink, err := r.ReadArray()
	if err != nil {
		return Node{}, fmt.Errorf("cryptree: node parent2meta: %w", err)
	}
	if a.Parent2Meta, err = symmetric.DeserializeLink(rawLink); err != nil {
		return Node{}, fmt.Errorf("cryptree: node parent2meta: %w", err)
	}
	if a.SealedProperties, err = r.ReadArray(); err != nil {
		return Node{}, fmt.Errorf("cryptree: node properties: %w", err)
	}

	hasRetriever, err := r.ReadByte()
	if err != nil {
		return Node{}, fmt.Errorf("cryptree: node retriever flag: %w", err)
	}
	switch hasRetriever {
	case 0:
	case 1:
		if a.Retriever, err = readRetriever(r); err != nil {
			return Node{}, err
		}
	default:
		return Node{}, fmt.Errorf("cryptree: node retriever flag %d: %w", hasRetriever, cerrors.ErrMalformedData)
	}

	tag, err := r.ReadByte()
	if err != nil {
		return Node{}, fmt.Errorf("cryptree: node type: %w", err)
	}

	var n Node
	switch Kind(tag) {
	case KindFile:
		n = FileNode(&FileAccess{Access: a})
	case KindDir:
		d, err := readDirFields(r, a)
		if err != nil {
			return Node{}, err
		}
		n = DirNode(d)
	default:
		return Node{}, fmt.Errorf("cryptree: node type %d: %w", tag, cerrors.ErrMalformedData)
	}

	if err := r.ExpectEnd(); err != nil {
		return Node{}, fmt.Errorf("cryptree: node: %w", err)
	}
	return n, nil
}

func readDirFields(r *wire.Reader, a Access) (*DirAccess, error) { // A
	d := &DirAccess{Access: a}

	rawLink, err := r.ReadArray()
	if err != nil {
		return nil, fmt.Errorf("cryptree: dir subfolders2parent: %w", err)
	}
	if d.Subfolders2Parent, err = symmetric.DeserializeLink(rawLink); err != nil {
		return nil, fmt.Errorf("cryptree: dir subfolders2parent: %w", err)
	}
	if rawLink, err = r.ReadArray(); err != nil {
		return nil, fmt.Errorf("cryptree: dir subfolders2files: %w", err)
	}
	if d.Subfolders2Files, err = symmetric.DeserializeLink(rawLink); err != nil {
		return nil, fmt.Errorf("cryptree: dir subfolders2files: %w", err)
	}

	// reserved
	if _, err := r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("cryptree: dir reserved field: %w", err)
	}

	if d.Subfolders, err = readLinks(r); err != nil {
		return nil, fmt.Errorf("cryptree: dir subfolders: %w", err)
	}
	if d.Files, err = readLinks(r); err != nil {
		return nil, fmt.Errorf("cryptree: dir files: %w", err)
	}
	return d, nil
}

func readLinks(r *wire.Reader) ([]LocationLink, error) { // A
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	// each entry is at least a 4-byte length prefix
	if int64(n)*4 > int64(r.Remaining()) {
		return nil, fmt.Errorf("%d entries exceed remaining input: %w", n, cerrors.ErrMalformedData)
	}
	links := make([]LocationLink, 0, n)
	for i := uint32(0); i < n; i++ {
		raw, err := r.ReadArray()
		if err != nil {
			return nil, err
		}
		l, err := DeserializeLocationLink(raw)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}
