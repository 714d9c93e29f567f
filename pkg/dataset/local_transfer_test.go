package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
)

// localTransfer mimics rsync between directories on the local filesystem,
// and records the requests it receives.
type localTransfer struct {
	lock sync.Mutex

	lists  []string
	pulls  []transfer.PullRequest
	pushes []string

	// Requests for which these return true fail.
	failList func(location string) bool
	failPull func(req transfer.PullRequest) bool
	failPush bool
}

func (lt *localTransfer) List(_ context.Context, location string) (string, error) {
	lt.lock.Lock()
	lt.lists = append(lt.lists, location)
	lt.lock.Unlock()

	if lt.failList != nil && lt.failList(location) {
		return "", &errors.TransferError{Op: "list", Location: location,
			Output: "rsync: change_dir failed: Permission denied (13)"}
	}

	dir := strings.TrimSuffix(location, "/")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &errors.TransferError{Op: "list", Location: location, Output: err.Error()}
	}

	var listing strings.Builder
	fmt.Fprintf(&listing, "drwxr-xr-x          4,096 2015/01/01 10:00:00 .\n")
	for _, e := range entries {
		kind := "-rw-r--r--"
		if e.IsDir() {
			kind = "drwxr-xr-x"
		}
		fmt.Fprintf(&listing, "%s             42 2015/01/01 10:00:00 %s\n", kind, e.Name())
	}
	return listing.String(), nil
}

func (lt *localTransfer) Pull(_ context.Context, req transfer.PullRequest) error {
	lt.lock.Lock()
	lt.pulls = append(lt.pulls, req)
	lt.lock.Unlock()

	if lt.failPull != nil && lt.failPull(req) {
		return &errors.TransferError{Op: "pull", Location: req.Source,
			Output: "rsync error: some files could not be transferred (code 23)"}
	}

	src := req.Source
	switch {
	case req.Include != "":
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if ok, _ := filepath.Match(req.Include, e.Name()); ok && !e.IsDir() {
				if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(req.Destination, e.Name())); err != nil {
					return err
				}
			}
		}
		return nil
	case strings.HasSuffix(src, "/"):
		return copyTree(src, req.Destination, req.Recursive)
	default:
		return copyFile(src, filepath.Join(req.Destination, filepath.Base(src)))
	}
}

func (lt *localTransfer) Push(_ context.Context, localPath, location string) error {
	lt.lock.Lock()
	lt.pushes = append(lt.pushes, localPath)
	lt.lock.Unlock()

	if lt.failPush {
		return &errors.TransferError{Op: "push", Location: location,
			Output: "rsync: connection unexpectedly closed"}
	}
	return copyTree(localPath, location, true)
}

func copyTree(src, dst string, recursive bool) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if fi.IsDir() {
			if rel != "." && !recursive {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0755)
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// listingTransfer returns a fixed listing for every location.
type listingTransfer struct {
	listing   string
	locations []string
}

func (lt *listingTransfer) List(_ context.Context, location string) (string, error) {
	lt.locations = append(lt.locations, location)
	return lt.listing, nil
}

func (lt *listingTransfer) Pull(context.Context, transfer.PullRequest) error {
	return nil
}

func (lt *listingTransfer) Push(context.Context, string, string) error {
	return nil
}
