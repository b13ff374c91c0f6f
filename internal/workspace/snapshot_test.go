package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestTakeMissingRootIsEmpty(t *testing.T) {
	snap, err := Take(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestTakeSkipsDotfilesAndDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", "print('hi')")
	writeFile(t, root, "pkg/util.py", "x = 1")
	writeFile(t, root, ".env", "SECRET=1")
	writeFile(t, root, ".git/config", "[core]")

	snap, err := Take(root)
	require.NoError(t, err)

	assert.Len(t, snap, 2)
	assert.Contains(t, snap, "main.py")
	assert.Contains(t, snap, "pkg/util.py")
	assert.NotContains(t, snap, ".env")
}

func TestTakeDoesNotFollowSymlinks(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", "outside content")

	root := t.TempDir()
	writeFile(t, root, "real.txt", "inside")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linkdir")))

	snap, err := Take(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"real.txt"}, keys(snap))
}

func keys(s Snapshot) []string {
	var out []string
	for k := range s {
		out = append(out, k)
	}
	return out
}

func TestDiffReportsNewAndChangedOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "kept.txt", "unchanged")
	writeFile(t, root, "edited.txt", "before")
	writeFile(t, root, "removed.txt", "going away")

	before, err := Take(root)
	require.NoError(t, err)

	writeFile(t, root, "edited.txt", "after")
	writeFile(t, root, "created.txt", "brand new")
	require.NoError(t, os.Remove(filepath.Join(root, "removed.txt")))

	diff, err := Diff(root, before)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"edited.txt":  "after",
		"created.txt": "brand new",
	}, diff)
}

func TestDiffIdenticalRewriteNotReported(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "same.txt", "content")

	before, err := Take(root)
	require.NoError(t, err)

	// Rewrite with byte-identical content.
	writeFile(t, root, "same.txt", "content")

	diff, err := Diff(root, before)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestDiffSkipsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	before, err := Take(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x80}, 0644))

	diff, err := Diff(root, before)
	require.NoError(t, err)
	assert.NotContains(t, diff, "blob.bin")
}

func TestMaterialize(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	written, err := Materialize(root, map[string]string{
		"seed.py":      "x = 1",
		"sub/notes.md": "hello",
	})
	require.NoError(t, err)
	assert.Len(t, written, 2)

	data, err := os.ReadFile(filepath.Join(root, "sub", "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMaterializeBlocksTraversal(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "ws")

	written, err := Materialize(root, map[string]string{
		"../escape.txt": "nope",
		"ok.txt":        "fine",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok.txt"}, written)
	_, statErr := os.Stat(filepath.Join(parent, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMaterializeEmptySetIsNoop(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	written, err := Materialize(root, nil)
	require.NoError(t, err)
	assert.Empty(t, written)
	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}
