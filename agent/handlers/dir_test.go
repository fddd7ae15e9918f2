package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrel-run/kestrel/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDirListNonRecursiveHidesDotfilesByDefault(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "visible.txt"), "a")
	mustWriteFile(t, filepath.Join(dir, ".hidden"), "b")

	req := protocol.NewDirListRequest(protocol.DirListRequest{Path: dir})
	resp, err := DirList{}.Handle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.DirListing)

	names := entryNames(resp.DirListing.Entries)
	assert.ElementsMatch(t, []string{"visible.txt"}, names)
}

func TestDirListIncludeHiddenShowsDotfiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "visible.txt"), "a")
	mustWriteFile(t, filepath.Join(dir, ".hidden"), "b")

	req := protocol.NewDirListRequest(protocol.DirListRequest{Path: dir, IncludeHidden: true})
	resp, err := DirList{}.Handle(context.Background(), req)
	require.NoError(t, err)

	names := entryNames(resp.DirListing.Entries)
	assert.ElementsMatch(t, []string{"visible.txt", ".hidden"}, names)
}

func TestDirListRecursiveWalksNestedDirectoriesOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	mustWriteFile(t, filepath.Join(dir, "top.txt"), "1")
	mustWriteFile(t, filepath.Join(dir, "a", "mid.txt"), "2")
	mustWriteFile(t, filepath.Join(dir, "a", "b", "deep.txt"), "3")

	req := protocol.NewDirListRequest(protocol.DirListRequest{Path: dir, Recursive: true})
	resp, err := DirList{}.Handle(context.Background(), req)
	require.NoError(t, err)

	names := entryNames(resp.DirListing.Entries)
	assert.ElementsMatch(t, []string{"top.txt", "a", "mid.txt", "b", "deep.txt"}, names)
}

func TestDirListNonexistentRootIsFatal(t *testing.T) {
	req := protocol.NewDirListRequest(protocol.DirListRequest{Path: "/nonexistent/dir", Recursive: true})
	resp, err := DirList{}.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.IsError())
}

func TestDirListRecursiveSkipsUnreadableSubdirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "locked")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	mustWriteFile(t, filepath.Join(dir, "top.txt"), "1")
	require.NoError(t, os.Chmod(sub, 0o000))
	t.Cleanup(func() { _ = os.Chmod(sub, 0o755) })

	req := protocol.NewDirListRequest(protocol.DirListRequest{Path: dir, Recursive: true})
	resp, err := DirList{}.Handle(context.Background(), req)
	require.NoError(t, err)

	require.False(t, resp.IsError())
	names := entryNames(resp.DirListing.Entries)
	assert.Contains(t, names, "top.txt")
	assert.Contains(t, names, "locked")
}

func entryNames(entries []protocol.DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
