package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/dataset"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
	"github.com/fpbattaglia/datasets/pkg/transfer/rsync"
	"github.com/fpbattaglia/datasets/pkg/version"
)

const archiveRoot = "datasets-bug-info"

// Mocked out for unit testing.
var (
	fs                     = afero.NewOsFs()
	stdout       io.Writer = os.Stdout
	rsyncVersion           = getRsyncVersion
)

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var flags *util.ConfigFlags
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool [dataset...]",
		Short: "Generate an archive for debugging",
		Long: "Generate an archive with the datasets version, the effective\n" +
			"configuration, and the raw listings of the given datasets.",
		Run: func(_ *cobra.Command, args []string) {
			if err := run(flags, out, args); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	flags = util.AddConfigFlags(cmd)
	return cmd
}

func run(flags *util.ConfigFlags, out string, datasetPaths []string) error {
	tmpdir, err := afero.TempDir(fs, "", "datasets-bug-tool")
	if err != nil {
		return errors.NewFriendlyError("Failed to create out directory:\n%s", err)
	}
	defer func() {
		if err := fs.RemoveAll(tmpdir); err != nil {
			log.WithError(err).WithField("dir", tmpdir).Warn("Failed to remove temporary directory")
		}
	}()

	ctx, cancel := util.SignalContext()
	defer cancel()

	cfg, err := flags.Load()
	if err != nil {
		log.WithError(err).Error("Failed to load config. Using the defaults")
		cfg = flags.Overrides().Apply(config.Defaults())
	}

	tr, closeTransfer := util.NewTransfer(cfg)
	defer closeTransfer()
	setupInfo(ctx, tmpdir, cfg, tr, datasetPaths)

	if out == "" {
		out = fmt.Sprintf("datasets-bug-info-%s.tar.gz",
			time.Now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		return errors.NewFriendlyError("Failed to tar:\n%s", err)
	}

	msg := `Created bug information archive at '%s'.
You may want to edit the archive if your dataset paths are sensitive.
The archive contains:
 * The version of datasets and of the transfer tool.
 * The effective configuration, with passwords removed.
 * The raw listing of every dataset given on the command line.
 * How each of those datasets was classified.
`
	fmt.Fprintf(stdout, msg, out)
	return nil
}

// setupInfo writes everything that can be collected into `root`. Failures
// are logged so that a partial archive is still produced.
func setupInfo(ctx context.Context, root string, cfg config.Config,
	tr transfer.Transfer, datasetPaths []string) {

	if err := setupVersion(ctx, root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	if err := setupConfig(root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup config")
	}

	for i, datasetPath := range datasetPaths {
		outdir := filepath.Join(root, "datasets", fmt.Sprintf("%d-%s", i, sanitize(datasetPath)))
		if err := setupDataset(ctx, outdir, datasetPath, cfg, tr); err != nil {
			log.WithError(err).WithField("dataset", datasetPath).Warn("Failed to setup dataset info")
		}
	}
}

func setupVersion(ctx context.Context, root string, cfg config.Config) error {
	outdir := filepath.Join(root, "version")
	if err := fs.MkdirAll(outdir, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	localVersion := fmt.Sprintf("datasets version: %s\n", version.Version)
	if err := afero.WriteFile(fs, filepath.Join(outdir, "local"), []byte(localVersion), 0644); err != nil {
		return errors.WithContext(err, "write")
	}

	if cfg.Transport != config.TransportRsync {
		return nil
	}

	v, err := rsyncVersion(ctx, cfg)
	if err != nil {
		return errors.WithContext(err, "get rsync version")
	}
	rsyncOut := fmt.Sprintf("rsync version: %s\n", v)
	if err := afero.WriteFile(fs, filepath.Join(outdir, "rsync"), []byte(rsyncOut), 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func getRsyncVersion(ctx context.Context, cfg config.Config) (*goversion.Version, error) {
	return rsync.New(cfg).Version(ctx)
}

func setupConfig(root string, cfg config.Config) error {
	cfgBytes, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		log.WithError(err).Warn("Failed to marshal config")
		cfgBytes = []byte(fmt.Sprintf("%+v\n", cfg.Redacted()))
	}

	if err := afero.WriteFile(fs, filepath.Join(root, "config.yaml"), cfgBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// datasetSummary is how a dataset was classified.
type datasetSummary struct {
	Location         string              `json:"location"`
	FilesByExtension map[string][]string `json:"filesByExtension,omitempty"`
	Dirs             []string            `json:"dirs,omitempty"`
	Children         []string            `json:"children,omitempty"`
}

func setupDataset(ctx context.Context, outdir, datasetPath string,
	cfg config.Config, tr transfer.Transfer) error {

	if err := fs.MkdirAll(outdir, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	resolved, err := dataset.ResolvePath(datasetPath, cfg)
	if err != nil {
		return errors.WithContext(err, "resolve path")
	}

	// Save the raw listing first, since it's the most useful thing to have
	// when the dataset can't be built.
	listing, listErr := tr.List(ctx, cfg.Location(resolved))
	var transferErr *errors.TransferError
	if errors.As(listErr, &transferErr) {
		listing = transferErr.Output
	}
	if err := afero.WriteFile(fs, filepath.Join(outdir, "listing"), []byte(listing), 0644); err != nil {
		return errors.WithContext(err, "write listing")
	}
	if listErr != nil {
		return errors.WithContext(listErr, "list")
	}

	d, err := dataset.New(ctx, datasetPath, cfg, tr)
	if err != nil {
		return errors.WithContext(err, "build dataset")
	}

	summary := datasetSummary{
		Location:         d.SourceLocation(),
		FilesByExtension: d.FilesByExtension(),
		Dirs:             d.Dirs(),
	}
	for _, child := range d.Children() {
		summary.Children = append(summary.Children, child.Name())
	}

	summaryBytes, err := yaml.Marshal(summary)
	if err != nil {
		return errors.WithContext(err, "marshal summary")
	}
	if err := afero.WriteFile(fs, filepath.Join(outdir, "summary.yaml"), summaryBytes, 0644); err != nil {
		return errors.WithContext(err, "write summary")
	}
	return nil
}

// sanitize turns a dataset path into a single file name.
func sanitize(datasetPath string) string {
	name := strings.Trim(datasetPath, "/")
	if name == "" {
		return "root"
	}
	return strings.NewReplacer("/", "_", ":", "_").Replace(name)
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.Join(archiveRoot, relPath)
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
