// Package transfer defines the boundary between datasets and the tool that
// moves files between the data store and the local node.
//
// Locations are strings of the form `[store:]path/`. Implementations report
// every failure, including any diagnostic output from the underlying tool,
// as an *errors.TransferError. Any error output at all is treated as a
// failure, since acting on a partial listing or copy is unsafe.
package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/fpbattaglia/datasets/pkg/config"
)

// Transfer lists, pulls and pushes dataset contents. Implementations aren't
// required to be safe for concurrent use unless they say so.
type Transfer interface {
	// List returns the raw listing of the entries directly under
	// `location`. Each line has the form `<kind> ... <name>`, where a kind
	// starting with `d` denotes a directory.
	List(ctx context.Context, location string) (string, error)

	// Pull copies from the data store to the local filesystem.
	Pull(ctx context.Context, req PullRequest) error

	// Push copies the contents of `localPath` to `location`.
	Push(ctx context.Context, localPath, location string) error
}

// PullRequest describes a single pull.
type PullRequest struct {
	// Source is the location to copy from. If it ends with a separator,
	// its contents are copied rather than the directory itself.
	Source string

	// Destination is the local directory to copy into.
	Destination string

	// Recursive copies subdirectories as well.
	Recursive bool

	// Include restricts the copy to entries directly under Source whose
	// names match the glob pattern. Empty means everything.
	Include string
}

// SplitLocation splits a location into its store and path. The store is
// empty for local locations.
func SplitLocation(location string) (store, path string) {
	// Only treat the prefix as a store if the colon comes before the first
	// slash, so that local paths containing colons stay local.
	colon := strings.Index(location, ":")
	if colon > 0 && !strings.Contains(location[:colon], "/") {
		return location[:colon], location[colon+1:]
	}
	return "", location
}

// WithTimeout derives a context bounded by `timeout`. A zero timeout leaves
// the context unbounded.
func WithTimeout(ctx context.Context, timeout config.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(timeout))
}
