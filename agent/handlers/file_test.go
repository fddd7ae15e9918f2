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

func TestFilePutThenFileGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "round-trip.txt")

	putReq := protocol.NewFilePutRequest(protocol.FilePutRequest{
		Path:    path,
		Content: []byte("hello world"),
	})
	putResp, err := FilePut{}.Handle(context.Background(), putReq)
	require.NoError(t, err)
	require.NotNil(t, putResp.FilePutResult)
	assert.Equal(t, uint64(11), putResp.FilePutResult.BytesWritten)

	getReq := protocol.NewFileGetRequest(protocol.FileGetRequest{Path: path})
	getResp, err := FileGet{}.Handle(context.Background(), getReq)
	require.NoError(t, err)
	require.NotNil(t, getResp.FileContent)
	assert.Equal(t, "hello world", string(getResp.FileContent.Content))
	assert.Equal(t, uint64(11), getResp.FileContent.Metadata.Size)
}

func TestFilePutCreatesParentDirsWhenRequested(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "file.txt")

	req := protocol.NewFilePutRequest(protocol.FilePutRequest{
		Path:       path,
		Content:    []byte("x"),
		CreateDirs: true,
	})
	resp, err := FilePut{}.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.IsError())

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestFilePutWithoutCreateDirsFailsOnMissingParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "file.txt")

	req := protocol.NewFilePutRequest(protocol.FilePutRequest{Path: path, Content: []byte("x")})
	resp, err := FilePut{}.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.IsError())
}

func TestFilePutAppliesMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mode.txt")
	mode := uint32(0o600)

	req := protocol.NewFilePutRequest(protocol.FilePutRequest{Path: path, Content: []byte("x"), Mode: &mode})
	resp, err := FilePut{}.Handle(context.Background(), req)
	require.NoError(t, err)
	require.False(t, resp.IsError())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileGetNonexistentFileIsFileNotFound(t *testing.T) {
	req := protocol.NewFileGetRequest(protocol.FileGetRequest{Path: "/nonexistent/path/file.txt"})
	resp, err := FileGet{}.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.IsError())
	assert.Equal(t, protocol.ErrorCodeFileNotFound, resp.Error.Code)
}

func TestFileGetDirectoryIsInternalError(t *testing.T) {
	dir := t.TempDir()

	req := protocol.NewFileGetRequest(protocol.FileGetRequest{Path: dir})
	resp, err := FileGet{}.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.IsError())
	assert.Equal(t, protocol.ErrorCodeInternalError, resp.Error.Code)
}

func TestFileGetByteRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "range.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	req := protocol.NewFileGetRequest(protocol.FileGetRequest{
		Path:  path,
		Range: &protocol.ByteRange{Start: 2, End: 5},
	})
	resp, err := FileGet{}.Handle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.FileContent)
	assert.Equal(t, "234", string(resp.FileContent.Content))
}

func TestFileGetByteRangeClampsToFileSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "range.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	req := protocol.NewFileGetRequest(protocol.FileGetRequest{
		Path:  path,
		Range: &protocol.ByteRange{Start: 8, End: 1000},
	})
	resp, err := FileGet{}.Handle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.FileContent)
	assert.Equal(t, "89", string(resp.FileContent.Content))
}

func TestFileGetByteRangeEmptyWhenStartPastEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "range.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	req := protocol.NewFileGetRequest(protocol.FileGetRequest{
		Path:  path,
		Range: &protocol.ByteRange{Start: 9, End: 3},
	})
	resp, err := FileGet{}.Handle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.FileContent)
	assert.Empty(t, resp.FileContent.Content)
}
