package util

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
	"github.com/fpbattaglia/datasets/pkg/transfer/rsync"
	"github.com/fpbattaglia/datasets/pkg/transfer/sftp"
)

// Mocked out for unit testing.
var (
	fs               = afero.NewOsFs()
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// HandleFatalError prints `err` and exits. Friendly errors are printed
// verbatim, and anything else is printed with its full context.
func HandleFatalError(err error) {
	if friendly, ok := errors.GetFriendlyError(err); ok {
		log.WithError(err).Debug("Fatal error")
		fmt.Fprintln(stderr, friendly.FriendlyMessage())
	} else {
		fmt.Fprintf(stderr, "Error: %s\n", err)
	}
	exit(1)
}

// HandlePanic reports a panic in the same format as a fatal error. It must
// be deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Debug("Panic")
		HandleFatalError(errors.New("unexpected panic: %v", r))
	}
}

// ConfigFlags are the command line flags that override the configuration
// files.
type ConfigFlags struct {
	cmd *cobra.Command

	dataRoot          string
	dataStore         string
	transport         string
	localDir          string
	dirPattern        string
	hashAlgorithm     string
	subdirsAsDatasets bool
	listWorkers       int
	transferTimeout   time.Duration
}

// AddConfigFlags registers the configuration flags on `cmd`.
func AddConfigFlags(cmd *cobra.Command) *ConfigFlags {
	f := &ConfigFlags{cmd: cmd}
	flags := cmd.Flags()
	flags.StringVar(&f.dataRoot, "data-root", "",
		"Base directory for relative dataset paths")
	flags.StringVar(&f.dataStore, "data-store", "",
		"Remote host holding the data root. Empty means the local filesystem")
	flags.StringVar(&f.transport, "transport", "",
		"Transfer tool to use, either `rsync` or `sftp`")
	flags.StringVar(&f.localDir, "local-dir", "",
		"Directory for temporary local copies")
	flags.StringVar(&f.dirPattern, "dir-pattern", "",
		"Pattern for the local copy directory. "+config.HostPlaceholder+
			" is replaced with the host name")
	flags.StringVar(&f.hashAlgorithm, "hash", "",
		"Hash algorithm used to verify local copies")
	flags.BoolVar(&f.subdirsAsDatasets, "subdirs-as-datasets", false,
		"Treat every subdirectory as a dataset of its own")
	flags.IntVar(&f.listWorkers, "list-workers", 0,
		"Maximum number of concurrent listings")
	flags.DurationVar(&f.transferTimeout, "timeout", 0,
		"Timeout for each transfer. Zero means no timeout")
	return f
}

// Overrides returns the flags that were explicitly set.
func (f *ConfigFlags) Overrides() config.Overrides {
	var o config.Overrides
	changed := f.cmd.Flags().Changed
	if changed("data-root") {
		o.DataRoot = config.String(f.dataRoot)
	}
	if changed("data-store") {
		o.DataStore = config.String(f.dataStore)
	}
	if changed("transport") {
		o.Transport = config.String(f.transport)
	}
	if changed("local-dir") {
		o.LocalDir = config.String(f.localDir)
	}
	if changed("dir-pattern") {
		o.DirPattern = config.String(f.dirPattern)
	}
	if changed("hash") {
		o.HashAlgorithm = config.String(f.hashAlgorithm)
	}
	if changed("subdirs-as-datasets") {
		o.SubdirsAsDatasets = config.Bool(f.subdirsAsDatasets)
	}
	if changed("list-workers") {
		o.ListWorkers = config.Int(f.listWorkers)
	}
	if changed("timeout") {
		timeout := config.Duration(f.transferTimeout)
		o.TransferTimeout = &timeout
	}
	return o
}

// Load resolves the configuration with the flags applied last.
func (f *ConfigFlags) Load() (config.Config, error) {
	cfg, err := config.Load(f.Overrides())
	if err != nil {
		return config.Config{}, errors.WithContext(err, "load config")
	}
	return cfg, nil
}

// NewTransfer creates the transfer selected by cfg.Transport. The returned
// function releases any connections it holds.
func NewTransfer(cfg config.Config) (transfer.Transfer, func()) {
	if cfg.Transport == config.TransportSFTP {
		tr := sftp.New(cfg)
		return tr, func() {
			if err := tr.Close(); err != nil {
				log.WithError(err).Warn("Failed to close sftp connection")
			}
		}
	}
	return rsync.New(cfg), func() {}
}

// SignalContext returns a context that's cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// DirSize returns the total size of the regular files under `dir`.
func DirSize(dir string) (size uint64, files int, err error) {
	err = afero.Walk(fs, dir, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			size += uint64(fi.Size())
			files++
		}
		return nil
	})
	return size, files, err
}

// DescribeDir returns `dir` along with the number and total size of the
// files in it.
func DescribeDir(dir string) string {
	size, files, err := DirSize(dir)
	if err != nil {
		log.WithError(err).WithField("dir", dir).Debug("Failed to get directory size")
		return dir
	}
	return fmt.Sprintf("%s (%d files, %s)", dir, files, humanize.Bytes(size))
}
