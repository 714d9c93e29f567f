// Package workspace manages the scratch storage of a compute node. Each
// local copy of a dataset lives in its own uniquely named temporary
// directory below the node's base directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
)

// ErrNoTempDirectory is returned when wiping a node that has no current
// temporary directory.
var ErrNoTempDirectory = errors.New("no temporary directory to wipe")

// Mocked out for unit testing.
var (
	fs          = afero.NewOsFs()
	getHostname = os.Hostname
	newID       = uuid.NewString
)

// tempDirPrefix is the prefix of every temporary directory name.
const tempDirPrefix = "datasets-"

// Node is the local scratch area of one compute node.
type Node struct {
	// Identity is the host name of the node.
	Identity string

	// BaseDirectory is the directory that temporary directories are
	// created in.
	BaseDirectory string

	currentDirectory string
}

// New resolves the base directory of the local node. LocalDir takes
// precedence over DirPattern.
func New(cfg config.Config) (*Node, error) {
	host, err := getHostname()
	if err != nil {
		return nil, errors.WithContext(err, "get hostname")
	}

	var base string
	switch {
	case cfg.LocalDir != "":
		base = cfg.LocalDir
	case cfg.DirPattern != "":
		base = strings.Replace(cfg.DirPattern, config.HostPlaceholder, host, -1)
	default:
		return nil, errors.ConfigurationError{
			Reason: "neither localDir nor dirPattern is set, so the " +
				"workspace directory can't be resolved",
		}
	}

	return &Node{Identity: host, BaseDirectory: filepath.Clean(base)}, nil
}

// CreateTempDirectory creates a new, uniquely named directory below the
// base directory. If `dataset` is set, a directory with that name is
// created inside the temporary directory and returned instead, so that
// datasets sharing a node never collide. The returned path always ends with
// a separator.
func (n *Node) CreateTempDirectory(dataset string) (string, error) {
	if err := fs.MkdirAll(n.BaseDirectory, 0755); err != nil {
		return "", errors.WithContext(err, "create base directory")
	}

	// Mkdir fails if the directory already exists, so a successful call
	// always creates a fresh directory.
	tempDir := filepath.Join(n.BaseDirectory, tempDirPrefix+newID())
	if err := fs.Mkdir(tempDir, 0700); err != nil {
		return "", errors.WithContext(err, "create temp directory")
	}

	if n.currentDirectory != "" {
		log.WithFields(log.Fields{
			"previous": n.currentDirectory,
			"current":  tempDir,
		}).Debug("Replacing current temp directory without wiping it")
	}
	n.currentDirectory = tempDir

	dir := tempDir
	if dataset != "" {
		dir = filepath.Join(tempDir, dataset)
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return "", errors.WithContext(err, fmt.Sprintf("create %q", dir))
		}
	}
	return dir + string(filepath.Separator), nil
}

// CurrentDirectory returns the most recently created temp directory, or an
// empty string if it has been wiped.
func (n *Node) CurrentDirectory() string {
	return n.currentDirectory
}

// WipeTempDirectory recursively removes the current temp directory. It
// returns ErrNoTempDirectory if there's nothing to remove.
func (n *Node) WipeTempDirectory() error {
	if n.currentDirectory == "" {
		return ErrNoTempDirectory
	}

	if err := fs.RemoveAll(n.currentDirectory); err != nil {
		return errors.WithContext(err, fmt.Sprintf("remove %q", n.currentDirectory))
	}

	log.WithField("dir", n.currentDirectory).Debug("Wiped temp directory")
	n.currentDirectory = ""
	return nil
}
