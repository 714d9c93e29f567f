package watch

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/pkg/dataset"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/fswatch"
)

var stdout io.Writer = os.Stdout

// New creates a new `watch` command.
func New() *cobra.Command {
	var flags *util.ConfigFlags
	var extensions []string
	var resync bool
	cmd := &cobra.Command{
		Use:   "watch <dataset>",
		Short: "Copy a dataset and report whenever the local copy changes",
		Long: "Copy a dataset to the local node and record the hash of every file.\n" +
			"Then, until interrupted, recheck the hashes whenever something in the\n" +
			"local copy changes. With --resync, the local copy is pushed back to\n" +
			"the data store and removed on exit.",
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := run(flags, args[0], extensions, resync); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringSliceVar(&extensions, "ext", nil,
		"Only copy the files directly in the dataset with these extensions")
	cmd.Flags().BoolVar(&resync, "resync", false,
		"Sync the local copy back to the data store on exit")
	flags = util.AddConfigFlags(cmd)
	return cmd
}

func run(flags *util.ConfigFlags, datasetPath string, extensions []string, resync bool) error {
	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	tr, closeTransfer := util.NewTransfer(cfg)
	defer closeTransfer()

	ctx, cancel := util.SignalContext()
	defer cancel()

	d, err := dataset.New(ctx, datasetPath, cfg, tr)
	if err != nil {
		return errors.WithContext(err, "list dataset")
	}

	dir, err := d.MakeLocalCopy(ctx, extensions...)
	if err != nil {
		return errors.WithContext(err, "copy dataset")
	}
	fmt.Fprintf(stdout, "Pulled %s\n", util.DescribeDir(dir))

	if _, err := d.CreateFileHashes(); err != nil {
		return errors.WithContext(err, "hash local copy")
	}

	watcher, err := fswatch.Watch(dir)
	if err != nil {
		return errors.WithContext(err, "watch local copy")
	}
	defer watcher.Close()

	fmt.Fprintf(stdout, "Watching %s. Press Ctrl-C to stop.\n", dir)
	if err := watchLoop(ctx, d, watcher.Events()); err != nil {
		return err
	}

	if !resync {
		fmt.Fprintf(stdout, "Local copy left at %s\n", dir)
		return nil
	}

	// The watch context is already cancelled by the interrupt.
	if err := d.ResyncToSource(context.Background(), true); err != nil {
		return errors.WithContext(err, "resync")
	}
	fmt.Fprintf(stdout, "Synced back to %s\n", d.SourceLocation())
	return nil
}

// watchLoop rechecks the hashes of `d` after every change until `ctx` is
// done.
func watchLoop(ctx context.Context, d *dataset.Dataset, events <-chan struct{}) error {
	c := checker{dataset: d, last: dataset.Verification{Status: dataset.StatusOK}}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
		}

		if err := c.check(); err != nil {
			return err
		}
	}
}

// checker prints the verification outcome whenever it differs from the
// previous one.
type checker struct {
	dataset *dataset.Dataset
	last    dataset.Verification
}

func (c *checker) check() error {
	result, err := c.dataset.CheckFileHashes()
	if err != nil {
		return errors.WithContext(err, "check local copy")
	}
	log.WithField("result", result).Debug("Rechecked local copy")

	if result == c.last {
		return nil
	}
	c.last = result

	if result.OK() {
		fmt.Fprintln(stdout, "Local copy matches its hashes again")
	} else {
		fmt.Fprintf(stdout, "Local copy changed (%s)\n", result)
	}
	return nil
}
