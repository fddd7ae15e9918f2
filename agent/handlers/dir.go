package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrel-run/kestrel/protocol"
)

// DirList lists directory entries, optionally recursively.
//
// The recursive walk uses an explicit FIFO work-queue of directories
// still to visit, rather than re-scanning the accumulated result vector
// on every call (the original implementation's recursive helper derives
// its next-directories-to-visit list from the full, ever-growing output
// vector, which reprocesses directories already visited by earlier
// recursive calls). A dedicated queue visits each directory exactly once.
type DirList struct{}

// Handle implements agent.Handler.
func (DirList) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := req.DirList

	var entries []protocol.DirEntry
	var err error
	if p.Recursive {
		entries, err = listRecursive(p.Path, p.IncludeHidden)
	} else {
		entries, err = listOne(p.Path, p.IncludeHidden)
	}
	if err != nil {
		return errResponse(req.ID, fileErrorCode(err), "list: "+err.Error()), nil
	}

	return protocol.Response{
		RequestID:  req.ID,
		Kind:       protocol.RespDirListing,
		DirListing: &protocol.DirListing{Entries: entries},
	}, nil
}

func listOne(dir string, includeHidden bool) ([]protocol.DirEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]protocol.DirEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, protocol.DirEntry{
			Name:     name,
			Path:     filepath.Join(dir, name),
			Metadata: fileMetadataOf(info),
		})
	}
	return entries, nil
}

func listRecursive(root string, includeHidden bool) ([]protocol.DirEntry, error) {
	var all []protocol.DirEntry
	queue := []string{root}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := listOne(dir, includeHidden)
		if err != nil {
			if dir == root {
				return nil, err
			}
			continue // best-effort: unreadable subdirectories are skipped, not fatal
		}
		all = append(all, entries...)
		for _, e := range entries {
			if e.Metadata.IsDir {
				queue = append(queue, e.Path)
			}
		}
	}
	return all, nil
}
