package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
)

// MakeLocalCopy pulls the dataset into a new temporary directory on the
// workspace node, and returns the directory.
//
// If `extensions` are given, only the files directly in the dataset with
// those extensions are copied, with one pull per extension. Otherwise, if
// subdirsAsDatasets is set, only the files directly in the dataset are
// copied, since the subdirectories are datasets of their own. Otherwise the
// whole tree is copied.
//
// A failed pull aborts the copy. Files that were already copied are left in
// place.
func (d *Dataset) MakeLocalCopy(ctx context.Context, extensions ...string) (string, error) {
	if d.node == nil {
		node, err := newWorkspace(d.config)
		if err != nil {
			return "", errors.WithContext(err, "create workspace node")
		}
		d.node = node
	}

	dir, err := d.node.CreateTempDirectory(d.Name())
	if err != nil {
		return "", errors.WithContext(err, "create temp directory")
	}

	logger := log.WithFields(log.Fields{
		"location": d.sourceLocation,
		"dir":      dir,
	})

	// The copy is incomplete until every pull succeeds, but the directory
	// is remembered so that it can be inspected or wiped.
	d.localDir = dir
	d.hasLocalCopy = false

	for _, req := range d.pullRequests(dir, extensions) {
		logger.WithField("source", req.Source).Debug("Pulling")
		if err := d.transfer.Pull(ctx, req); err != nil {
			return "", errors.WithContext(err, fmt.Sprintf("pull %s", req.Source))
		}
	}

	d.hasLocalCopy = true
	logger.Info("Made local copy")
	return dir, nil
}

func (d *Dataset) pullRequests(dir string, extensions []string) (reqs []transfer.PullRequest) {
	switch {
	case len(extensions) != 0:
		for _, ext := range extensions {
			reqs = append(reqs, transfer.PullRequest{
				Source:      d.sourceLocation,
				Destination: dir,
				Include:     "*." + strings.TrimPrefix(ext, "."),
			})
		}
	case d.config.SubdirsAsDatasets:
		for _, f := range d.allFiles {
			reqs = append(reqs, transfer.PullRequest{
				Source:      d.sourceLocation + f,
				Destination: dir,
			})
		}
	default:
		reqs = append(reqs, transfer.PullRequest{
			Source:      d.sourceLocation,
			Destination: dir,
			Recursive:   true,
		})
	}
	return reqs
}

// HasLocalCopy returns whether MakeLocalCopy completed successfully.
func (d *Dataset) HasLocalCopy() bool {
	return d.hasLocalCopy
}

// LocalDir returns the directory of the local copy. It's set as soon as a
// copy is started, even if the copy later fails.
func (d *Dataset) LocalDir() string {
	return d.localDir
}

// UseLocalDir points the dataset at a directory that was populated without
// MakeLocalCopy. The dataset doesn't consider it a complete local copy.
func (d *Dataset) UseLocalDir(dir string) {
	d.localDir = dir
	d.hasLocalCopy = false
}

// ResyncToSource pushes the local copy back to the data store. If `cleanup`
// is set, the temporary directory is wiped once the push succeeds. A failed
// push leaves the local copy untouched.
func (d *Dataset) ResyncToSource(ctx context.Context, cleanup bool) error {
	if d.localDir == "" {
		return errors.New("no local copy to resync")
	}

	if err := d.transfer.Push(ctx, d.localDir, d.sourceLocation); err != nil {
		return errors.WithContext(err, "push")
	}

	logger := log.WithFields(log.Fields{
		"location": d.sourceLocation,
		"dir":      d.localDir,
	})
	logger.Info("Resynced local copy to source")

	if !cleanup {
		return nil
	}

	// A shared node only remembers the latest temp directory, which might
	// belong to another dataset.
	if d.node == nil || !isWithin(d.localDir, d.node.CurrentDirectory()) {
		logger.Warn("Local copy isn't the node's current temp directory, so it wasn't wiped")
		return nil
	}

	if err := d.node.WipeTempDirectory(); err != nil {
		return errors.WithContext(err, "wipe temp directory")
	}
	d.localDir = ""
	d.hasLocalCopy = false
	return nil
}

// isWithin returns whether `path` is `dir` or inside it.
func isWithin(path, dir string) bool {
	if dir == "" {
		return false
	}
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
