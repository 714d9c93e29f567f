package pull

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/dataset"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
)

var stdout io.Writer = os.Stdout

// New creates a new `pull` command.
func New() *cobra.Command {
	var flags *util.ConfigFlags
	var extensions []string
	cmd := &cobra.Command{
		Use:   "pull <dataset>",
		Short: "Copy a dataset into a new temporary directory",
		Long: "Copy a dataset into a new temporary directory under the configured\n" +
			"localDir or dirPattern, and print the directory.",
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := run(flags, args[0], extensions); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringSliceVar(&extensions, "ext", nil,
		"Only copy the files directly in the dataset with these extensions")
	flags = util.AddConfigFlags(cmd)
	return cmd
}

func run(flags *util.ConfigFlags, datasetPath string, extensions []string) error {
	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	tr, closeTransfer := util.NewTransfer(cfg)
	defer closeTransfer()

	ctx, cancel := util.SignalContext()
	defer cancel()

	return pull(ctx, cfg, tr, datasetPath, extensions)
}

func pull(ctx context.Context, cfg config.Config, tr transfer.Transfer,
	datasetPath string, extensions []string) error {

	d, err := dataset.New(ctx, datasetPath, cfg, tr)
	if err != nil {
		return errors.WithContext(err, "list dataset")
	}

	dir, err := d.MakeLocalCopy(ctx, extensions...)
	if err != nil {
		return errors.WithContext(err, "copy dataset")
	}

	fmt.Fprintln(stdout, util.DescribeDir(dir))
	return nil
}
