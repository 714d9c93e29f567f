package version

import (
	"context"
	"fmt"
	"io"
	"os"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer/rsync"
	"github.com/fpbattaglia/datasets/pkg/version"
)

// Mocked for unit testing.
var (
	stdout       io.Writer = os.Stdout
	loadConfig             = config.Load
	rsyncVersion           = getRsyncVersion
)

// New creates a new `version` command.
func New() *cobra.Command {
	var flags *util.ConfigFlags
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of datasets and of the transfer tool",
		Long: "Print the version of datasets. When the rsync transport is used,\n" +
			"the version of the rsync binary is printed and checked as well.",
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(context.Background(), flags.Overrides()); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	flags = util.AddConfigFlags(cmd)
	return cmd
}

func run(ctx context.Context, overrides config.Overrides) error {
	fmt.Fprintf(stdout, "datasets version: %s\n", version.Version)

	cfg, err := loadConfig(overrides)
	if err != nil {
		log.WithError(err).Debug("Failed to load config. Using the defaults")
		cfg = overrides.Apply(config.Defaults())
	}

	if cfg.Transport != config.TransportRsync {
		fmt.Fprintf(stdout, "transport:        %s\n", cfg.Transport)
		return nil
	}

	v, err := rsyncVersion(ctx, cfg)
	if err != nil {
		return errors.WithContext(err, "get rsync version")
	}
	fmt.Fprintf(stdout, "rsync version:    %s\n", v)
	return rsync.CheckVersion(v)
}

func getRsyncVersion(ctx context.Context, cfg config.Config) (*goversion.Version, error) {
	return rsync.New(cfg).Version(ctx)
}
