package handlers

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kestrel-run/kestrel/protocol"
)

// FileGet reads file content, optionally a byte range, per spec.md §6.
type FileGet struct{}

// Handle implements agent.Handler.
func (FileGet) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := req.FileGet

	info, err := os.Stat(p.Path)
	if err != nil {
		return errResponse(req.ID, fileErrorCode(err), "stat: "+err.Error()), nil
	}
	if info.IsDir() {
		return errResponse(req.ID, protocol.ErrorCodeInternalError, "path is a directory, not a file"), nil
	}

	meta := fileMetadataOf(info)

	var content []byte
	if p.Range != nil {
		content, err = readRange(p.Path, p.Range.Start, p.Range.End, uint64(info.Size()))
	} else {
		content, err = os.ReadFile(p.Path)
	}
	if err != nil {
		return errResponse(req.ID, fileErrorCode(err), "read: "+err.Error()), nil
	}

	return protocol.Response{
		RequestID:   req.ID,
		Kind:        protocol.RespFileContent,
		FileContent: &protocol.FileContent{Content: content, Metadata: meta},
	}, nil
}

func readRange(path string, start, end, size uint64) ([]byte, error) {
	if start > size {
		start = size
	}
	if end > size {
		end = size
	}
	if start >= end {
		return []byte{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, end-start)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}

// FilePut writes file content, optionally creating parent directories and
// setting the file mode.
type FilePut struct{}

// Handle implements agent.Handler.
func (FilePut) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := req.FilePut

	if p.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
			return errResponse(req.ID, protocol.ErrorCodeInternalError, "create parent directories: "+err.Error()), nil
		}
	}

	mode := fs.FileMode(0o644)
	if p.Mode != nil {
		mode = fs.FileMode(*p.Mode)
	}
	if err := os.WriteFile(p.Path, p.Content, mode); err != nil {
		return errResponse(req.ID, fileErrorCode(err), "write: "+err.Error()), nil
	}

	return protocol.Response{
		RequestID:     req.ID,
		Kind:          protocol.RespFilePutResult,
		FilePutResult: &protocol.FilePutResult{BytesWritten: uint64(len(p.Content))},
	}, nil
}

func fileMetadataOf(info fs.FileInfo) protocol.FileMetadata {
	return protocol.FileMetadata{
		Size:      uint64(info.Size()),
		Mode:      uint32(info.Mode().Perm()),
		Modified:  info.ModTime(),
		IsDir:     info.IsDir(),
		IsSymlink: info.Mode()&fs.ModeSymlink != 0,
	}
}

func fileErrorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return protocol.ErrorCodeFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return protocol.ErrorCodePermissionDenied
	default:
		return protocol.ErrorCodeInternalError
	}
}
