package cryptree

import (
	"testing"
	"time"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genPublicKey(t *rapid.T, label string) identity.PublicKey {
	raw := rapid.SliceOfN(rapid.Byte(), identity.PublicKeySize, identity.PublicKeySize).Draw(t, label)
	pk, err := identity.PublicKeyFromBytes(raw)
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	return pk
}

func genLocation(t *rapid.T) Location {
	return Location{
		Owner:  genPublicKey(t, "owner"),
		Writer: genPublicKey(t, "writer"),
		MapKey: rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "mapKey"),
	}
}

func testLocation(t *testing.T) Location {
	t.Helper()
	owner, err := identity.Random()
	require.NoError(t, err)
	writer, err := identity.Random()
	require.NoError(t, err)
	return NewLocation(owner.Public(), writer.Public())
}

func testRetriever(next *Location) *EncryptedChunkRetriever {
	hashes := make([][]byte, 50)
	for i := range hashes {
		hashes[i] = erasure.HashFragment([]byte{byte(i)})
	}
	return &EncryptedChunkRetriever{
		ChunkNonce:     symmetric.RandomNonce(),
		ChunkAuth:      symmetric.RandomBytes(symmetric.Overhead),
		FragmentHashes: hashes,
		NextChunk:      next,
	}
}

func TestLocationRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		loc := genLocation(t)
		got, err := DeserializeLocation(loc.Serialize())
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if !got.Equal(loc) {
			t.Fatalf("location changed across round trip")
		}
	})
}

func TestLocationRejectsMalformed(t *testing.T) {
	loc := testLocation(t)
	data := loc.Serialize()

	_, err := DeserializeLocation(data[:len(data)-1])
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)

	_, err = DeserializeLocation(append(data, 0))
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)

	w := wire.NewWriter()
	w.WriteArray([]byte("short owner"))
	w.WriteArray(loc.Writer.Bytes())
	w.WriteArray(loc.MapKey)
	_, err = DeserializeLocation(w.Bytes())
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)
}

func TestDirAccessEmptyMapKeyKeepsSiblings(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)
	base := symmetric.Random()
	dir := NewDirAccess(owner.Public(), base, NewFileProperties("d", 0))

	empty := testLocation(t)
	empty.MapKey = nil
	sibling := testLocation(t)
	subdir := testLocation(t)
	require.NoError(t, dir.AddFile(empty, base, symmetric.Random()))
	require.NoError(t, dir.AddFile(sibling, base, symmetric.Random()))
	dir.AddSubdir(subdir, base, symmetric.Random())

	decoded, err := DeserializeLocation(empty.Serialize())
	require.NoError(t, err)
	assert.Empty(t, decoded.MapKey)
	assert.True(t, decoded.Equal(empty))

	node, err := DeserializeNode(DirNode(dir).Serialize())
	require.NoError(t, err)
	children, err := node.Dir.Children(base)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.True(t, children[0].Location.Equal(subdir))
	assert.True(t, children[1].Location.Equal(empty))
	assert.True(t, children[2].Location.Equal(sibling))
}

func TestLocationLinkRecoversKeyAndLocation(t *testing.T) {
	from := symmetric.Random()
	to := symmetric.Random()
	loc := testLocation(t)

	link := NewLocationLink(from, to, loc)
	decoded, err := DeserializeLocationLink(link.Serialize())
	require.NoError(t, err)
	assert.True(t, decoded.Equal(link))

	k, gotLoc, err := decoded.Resolve(from)
	require.NoError(t, err)
	assert.True(t, k.Equal(to))
	assert.True(t, gotLoc.Equal(loc))
}

func TestTargetLocationUsesSourceKey(t *testing.T) {
	from := symmetric.Random()
	to := symmetric.Random()
	loc := testLocation(t)
	link := NewLocationLink(from, to, loc)

	_, err := link.TargetLocation(to)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)

	got, err := link.TargetLocation(from)
	require.NoError(t, err)
	assert.True(t, got.Equal(loc))
}

// The key link and the location share key and nonce, so their keystreams
// coincide. Knowing the location is enough to recover the target key.
func TestLocationLinkKeystreamReuse(t *testing.T) {
	to := symmetric.Random()
	loc := testLocation(t)
	link := NewLocationLink(symmetric.Random(), to, loc)

	keyCT := link.link.Ciphertext[symmetric.Overhead:]
	locCT := link.loc[symmetric.Overhead:]
	known := loc.Serialize()
	require.GreaterOrEqual(t, len(known), symmetric.KeySize)

	recovered := make([]byte, symmetric.KeySize)
	for i := range recovered {
		recovered[i] = keyCT[i] ^ locCT[i] ^ known[i]
	}
	assert.Equal(t, to.Raw(), recovered)
}

func TestLocationLinkWrongKey(t *testing.T) {
	link := NewLocationLink(symmetric.Random(), symmetric.Random(), testLocation(t))
	wrong := symmetric.Random()

	_, err := link.Target(wrong)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
	_, err = link.TargetLocation(wrong)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
}

func TestFilePropertiesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := FileProperties{
			Name:     rapid.String().Draw(t, "name"),
			Size:     rapid.Int64().Draw(t, "size"),
			Modified: time.UnixMilli(rapid.Int64Range(0, 1<<42).Draw(t, "modified")),
			Attr:     rapid.Byte().Draw(t, "attr"),
		}
		got, err := DeserializeFileProperties(p.Serialize())
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if !got.Equal(p) {
			t.Fatalf("got %+v, want %+v", got, p)
		}
	})
}

func TestFilePropertiesIgnoresAppendedFields(t *testing.T) {
	p := NewFileProperties("notes.txt", 42)
	p.Attr = AttrCompressed

	w := wire.NewWriter()
	w.WriteArray([]byte("mime=text/plain"))
	w.WriteInt64(7)
	data := append(p.Serialize(), w.Bytes()...)

	got, err := DeserializeFileProperties(data)
	require.NoError(t, err)
	assert.True(t, got.Equal(p))

	_, err = DeserializeFileProperties(p.Serialize()[:len(p.Serialize())-1])
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)
}

func TestFileAccessProperties(t *testing.T) {
	fileKey := symmetric.Random()
	props := NewFileProperties("notes.txt", 42)
	props.Attr = AttrHidden

	node := FileNode(NewFileAccess(fileKey, props, testRetriever(nil)))
	decoded, err := DeserializeNode(node.Serialize())
	require.NoError(t, err)
	require.Equal(t, KindFile, decoded.Kind)
	assert.True(t, decoded.File.Retriever.Equal(node.File.Retriever))

	got, err := decoded.Properties(fileKey)
	require.NoError(t, err)
	assert.True(t, got.Equal(props))
	assert.True(t, got.Hidden())

	_, err = decoded.Properties(symmetric.Random())
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
}

func TestDirAccessRoundTrip(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		base := symmetric.Random()
		dir := NewDirAccess(owner.Public(), base, NewFileProperties("dir", 0))

		nSub := rapid.IntRange(0, 6).Draw(rt, "subfolders")
		nFiles := rapid.IntRange(0, 6).Draw(rt, "files")
		for i := 0; i < nSub; i++ {
			dir.AddSubdir(genLocation(rt), base, symmetric.Random())
		}
		for i := 0; i < nFiles; i++ {
			if err := dir.AddFile(genLocation(rt), base, symmetric.Random()); err != nil {
				rt.Fatalf("add file: %v", err)
			}
		}

		data := DirNode(dir).Serialize()
		decoded, err := DeserializeNode(data)
		if err != nil {
			rt.Fatalf("deserialize: %v", err)
		}
		if decoded.Kind != KindDir {
			rt.Fatalf("kind %v", decoded.Kind)
		}
		got := decoded.Dir
		if !got.Parent2Meta.Equal(dir.Parent2Meta) || string(got.SealedProperties) != string(dir.SealedProperties) {
			rt.Fatalf("shared fields changed")
		}
		if !got.Subfolders2Files.Equal(dir.Subfolders2Files) || !got.Subfolders2Parent.Equal(dir.Subfolders2Parent) {
			rt.Fatalf("dir links changed")
		}
		assertLinksEqual(rt, dir.Subfolders, got.Subfolders)
		assertLinksEqual(rt, dir.Files, got.Files)
		if string(decoded.Serialize()) != string(data) {
			rt.Fatalf("re-serialization differs")
		}
	})
}

func assertLinksEqual(t *rapid.T, want, got []LocationLink) {
	if len(want) != len(got) {
		t.Fatalf("got %d links, want %d", len(got), len(want))
	}
	for i := range want {
		if !want[i].Equal(got[i]) {
			t.Fatalf("link %d differs", i)
		}
	}
}

func TestDirAccessAddFileRecoversKeyAndLocation(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	k := symmetric.Random()
	fk := symmetric.Random()
	loc := testLocation(t)

	dir := NewDirAccess(owner.Public(), k, NewFileProperties("root", 0))
	require.NoError(t, dir.AddFile(loc, k, fk))

	decoded, err := DeserializeNode(DirNode(dir).Serialize())
	require.NoError(t, err)
	require.Len(t, decoded.Dir.Files, 1)

	filesKey, err := decoded.Dir.FilesKey(k)
	require.NoError(t, err)
	gotKey, gotLoc, err := decoded.Dir.Files[0].Resolve(filesKey)
	require.NoError(t, err)
	assert.True(t, gotKey.Equal(fk))
	assert.True(t, gotLoc.Equal(loc))

	children, err := decoded.Dir.Children(k)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.False(t, children[0].IsDir)
	assert.True(t, children[0].Key.Equal(fk))
	assert.True(t, children[0].Location.Equal(loc))
}

func TestDirAccessKeySeparation(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	base := symmetric.Random()
	dir := NewDirAccess(owner.Public(), base, NewFileProperties("d", 0))
	dir.AddSubdir(testLocation(t), base, symmetric.Random())
	require.NoError(t, dir.AddFile(testLocation(t), base, symmetric.Random()))

	filesKey, err := dir.FilesKey(base)
	require.NoError(t, err)
	parentKey, err := dir.ParentKey(base)
	require.NoError(t, err)

	_, err = dir.Subfolders[0].Target(filesKey)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
	_, err = dir.Files[0].Target(parentKey)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
	_, err = dir.FileProperties(filesKey)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)

	props, err := dir.Properties(base)
	require.NoError(t, err)
	assert.Equal(t, "d", props.Name)
}

func TestDirAccessWrongBaseKey(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	base := symmetric.Random()
	dir := NewDirAccess(owner.Public(), base, NewFileProperties("d", 0))
	wrong := symmetric.Random()

	_, err = dir.Properties(wrong)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
	_, err = dir.Children(wrong)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
	assert.ErrorIs(t, dir.AddFile(testLocation(t), wrong, symmetric.Random()), cerrors.ErrAuthentication)
}

func TestDirAccessRemoveChild(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	base := symmetric.Random()
	dir := NewDirAccess(owner.Public(), base, NewFileProperties("d", 0))
	sub := testLocation(t)
	file := testLocation(t)
	other := testLocation(t)
	dir.AddSubdir(sub, base, symmetric.Random())
	require.NoError(t, dir.AddFile(file, base, symmetric.Random()))
	require.NoError(t, dir.AddFile(other, base, symmetric.Random()))

	removed, err := dir.RemoveChild(file, base)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = dir.RemoveChild(file, base)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = dir.RemoveChild(sub, base)
	require.NoError(t, err)
	assert.True(t, removed)

	children, err := dir.Children(base)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.True(t, children[0].Location.Equal(other))
}

func TestWithPropertiesRenames(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	fileKey := symmetric.Random()
	file := FileNode(NewFileAccess(fileKey, NewFileProperties("a.txt", 3), testRetriever(nil)))
	renamed, err := file.WithProperties(fileKey, NewFileProperties("b.txt", 3))
	require.NoError(t, err)
	props, err := renamed.Properties(fileKey)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", props.Name)
	assert.True(t, renamed.File.Parent2Meta.Equal(file.File.Parent2Meta))
	assert.True(t, renamed.File.Retriever.Equal(file.File.Retriever))

	base := symmetric.Random()
	dirAccess := NewDirAccess(owner.Public(), base, NewFileProperties("old", 0))
	require.NoError(t, dirAccess.AddFile(testLocation(t), base, symmetric.Random()))
	dir := DirNode(dirAccess)
	renamedDir, err := dir.WithProperties(base, NewFileProperties("new", 0))
	require.NoError(t, err)
	props, err = renamedDir.Properties(base)
	require.NoError(t, err)
	assert.Equal(t, "new", props.Name)
	assert.Len(t, renamedDir.Dir.Files, 1)

	oldProps, err := dir.Properties(base)
	require.NoError(t, err)
	assert.Equal(t, "old", oldProps.Name)

	_, err = dir.WithProperties(symmetric.Random(), NewFileProperties("x", 0))
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
}

func TestRetrieverRoundTrip(t *testing.T) {
	next := testLocation(t)
	for _, r := range []*EncryptedChunkRetriever{testRetriever(nil), testRetriever(&next)} {
		got, err := DeserializeRetriever(r.Serialize())
		require.NoError(t, err)
		assert.True(t, got.Equal(r))
		assert.Equal(t, r.HasNext(), got.HasNext())
	}
}

func TestRetrieverRejectsMalformed(t *testing.T) {
	r := testRetriever(nil)

	data := r.Serialize()
	data[0] = 0
	_, err := DeserializeRetriever(data)
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)

	data[0] = 9
	_, err = DeserializeRetriever(data)
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)

	w := wire.NewWriter()
	_ = w.WriteByte(1)
	w.WriteArray(r.ChunkNonce[:])
	w.WriteArray(r.ChunkAuth)
	w.WriteArray(make([]byte, erasure.HashSize+1))
	_ = w.WriteByte(0)
	_, err = DeserializeRetriever(w.Bytes())
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)
}

func TestDeserializeNodeRejectsUnknownType(t *testing.T) {
	data := FileNode(NewFileAccess(symmetric.Random(), NewFileProperties("f", 0), nil)).Serialize()
	data[len(data)-1] = 7
	_, err := DeserializeNode(data)
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)

	_, err = DeserializeNode(data[:len(data)-1])
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)
}

func TestDeserializeNodeSkipsReservedField(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	base := symmetric.Random()
	data := DirNode(NewDirAccess(owner.Public(), base, NewFileProperties("d", 0))).Serialize()
	// empty dir ends with reserved u32, subfolder count, file count
	data[len(data)-12+3] = 7

	decoded, err := DeserializeNode(data)
	require.NoError(t, err)
	props, err := decoded.Properties(base)
	require.NoError(t, err)
	assert.Equal(t, "d", props.Name)
}

func TestDeserializeNodeRejectsHugeEntryCount(t *testing.T) {
	owner, err := identity.Random()
	require.NoError(t, err)

	data := DirNode(NewDirAccess(owner.Public(), symmetric.Random(), NewFileProperties("d", 0))).Serialize()
	data[len(data)-8] = 0xff
	_, err = DeserializeNode(data)
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)
}
