package dataset

import (
	"context"
	"fmt"
	"path"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
	"github.com/fpbattaglia/datasets/pkg/workspace"
)

// Mocked out for unit testing.
var (
	fs           = afero.NewOsFs()
	newWorkspace = workspace.New
)

// Dataset is a directory of experiment files on the data store, and
// optionally a local copy of it.
type Dataset struct {
	sourcePath     string
	sourceLocation string

	allFiles         []string
	filesByExtension map[string][]string
	dirs             []string
	children         []*Dataset

	config   config.Config
	transfer transfer.Transfer

	node         *workspace.Node
	localDir     string
	hasLocalCopy bool
	hashes       map[string]string
}

// New resolves `datasetPath` against the data root, lists it through `tr`,
// and classifies its entries. If cfg.SubdirsAsDatasets is set, child
// datasets are built for every subdirectory, recursively. Listings of
// different children run concurrently, with at most cfg.ListWorkers
// listings in flight, so `tr` must be safe for concurrent use in that case.
func New(ctx context.Context, datasetPath string, cfg config.Config,
	tr transfer.Transfer) (*Dataset, error) {

	workers := cfg.ListWorkers
	if workers < 1 {
		workers = 1
	}
	b := builder{
		transfer: tr,
		slots:    semaphore.NewWeighted(int64(workers)),
	}
	return b.build(ctx, datasetPath, cfg)
}

// ResolvePath returns the absolute source path of `datasetPath`.
func ResolvePath(datasetPath string, cfg config.Config) (string, error) {
	if !path.IsAbs(datasetPath) && cfg.DataRoot != "" {
		datasetPath = path.Join(cfg.DataRoot, datasetPath)
	}

	if !path.IsAbs(datasetPath) {
		return "", errors.ConfigurationError{
			Reason: fmt.Sprintf("dataset %q is a relative path, "+
				"and no absolute dataRoot is set", datasetPath),
		}
	}
	return path.Clean(datasetPath), nil
}

type builder struct {
	transfer transfer.Transfer

	// slots bounds the number of concurrent listings across the whole tree
	// of datasets. It's only held for the duration of a listing so that
	// parents waiting on their children never starve them.
	slots *semaphore.Weighted
}

func (b builder) build(ctx context.Context, datasetPath string, cfg config.Config) (*Dataset, error) {
	sourcePath, err := ResolvePath(datasetPath, cfg)
	if err != nil {
		return nil, err
	}

	d := &Dataset{
		sourcePath:     sourcePath,
		sourceLocation: cfg.Location(sourcePath),
		config:         cfg,
		transfer:       b.transfer,
	}

	listing, err := b.list(ctx, d.sourceLocation)
	if err != nil {
		return nil, errors.WithContext(err, "list")
	}

	d.allFiles, d.dirs = classify(parseListing(listing))
	d.filesByExtension = groupByExtension(d.allFiles)
	log.WithFields(log.Fields{
		"location": d.sourceLocation,
		"files":    len(d.allFiles),
		"dirs":     len(d.dirs),
	}).Debug("Listed dataset")

	if cfg.SubdirsAsDatasets {
		if err := b.buildChildren(ctx, d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (b builder) list(ctx context.Context, location string) (string, error) {
	if err := b.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.slots.Release(1)
	return b.transfer.List(ctx, location)
}

func (b builder) buildChildren(ctx context.Context, parent *Dataset) error {
	// Each child writes to its own index, so the order of the children
	// matches the order of the directories.
	parent.children = make([]*Dataset, len(parent.dirs))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, dir := range parent.dirs {
		i, dir := i, dir
		group.Go(func() error {
			child, err := b.build(groupCtx, path.Join(parent.sourcePath, dir), parent.config)
			if err != nil {
				return errors.WithContext(err, fmt.Sprintf("child dataset %q", dir))
			}
			parent.children[i] = child
			return nil
		})
	}
	return group.Wait()
}

// SourcePath returns the absolute path of the dataset on the data store.
func (d *Dataset) SourcePath() string {
	return d.sourcePath
}

// SourceLocation returns the address of the dataset, including the data
// store. It always ends with a slash.
func (d *Dataset) SourceLocation() string {
	return d.sourceLocation
}

// Name returns the last element of the source path.
func (d *Dataset) Name() string {
	return path.Base(d.sourcePath)
}

// Config returns the configuration the dataset was built with.
func (d *Dataset) Config() config.Config {
	return d.config
}

// AllFiles returns the visible files directly in the dataset, grouped by
// extension and in natural order within each group.
func (d *Dataset) AllFiles() []string {
	return append([]string(nil), d.allFiles...)
}

// FilesByExtension returns the files keyed by their extension, including
// the dot. Files without an extension are keyed by the empty string.
func (d *Dataset) FilesByExtension() map[string][]string {
	groups := make(map[string][]string, len(d.filesByExtension))
	for ext, files := range d.filesByExtension {
		groups[ext] = append([]string(nil), files...)
	}
	return groups
}

// Dirs returns the visible subdirectories of the dataset.
func (d *Dataset) Dirs() []string {
	return append([]string(nil), d.dirs...)
}

// Children returns the child datasets. It's empty unless subdirsAsDatasets
// is set.
func (d *Dataset) Children() []*Dataset {
	return append([]*Dataset(nil), d.children...)
}

// Node returns the workspace node holding the local copy, if any.
func (d *Dataset) Node() *workspace.Node {
	return d.node
}

// UseNode makes the dataset create its local copies on `node`. Several
// datasets may share a node.
func (d *Dataset) UseNode(node *workspace.Node) {
	d.node = node
}
