package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/pkg/dataset"
	"github.com/fpbattaglia/datasets/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout     io.Writer = os.Stdout
	runCommand           = runCommandImpl
)

type options struct {
	extensions []string
	keep       bool
	command    []string
}

// New creates a new `session` command.
func New() *cobra.Command {
	var flags *util.ConfigFlags
	var opts options
	cmd := &cobra.Command{
		Use:   "session <dataset> [-- command [args...]]",
		Short: "Work on a local copy of a dataset, then sync it back",
		Long: "Copy a dataset to the local node and record the hash of every file.\n" +
			"If a command is given, it's run inside the local copy. Afterwards the\n" +
			"hashes are checked, any changes are reported, and the local copy is\n" +
			"pushed back to the data store. The local copy is removed unless --keep\n" +
			"is set.\n\n" +
			"If the command fails, nothing is pushed and the local copy is kept.",
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			datasetPath, command, err := splitArgs(args, cmd.ArgsLenAtDash())
			if err != nil {
				util.HandleFatalError(err)
			}
			opts.command = command

			if err := run(flags, datasetPath, opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringSliceVar(&opts.extensions, "ext", nil,
		"Only copy the files directly in the dataset with these extensions")
	cmd.Flags().BoolVar(&opts.keep, "keep", false,
		"Keep the local copy after syncing it back")
	flags = util.AddConfigFlags(cmd)
	return cmd
}

func splitArgs(args []string, dash int) (datasetPath string, command []string, err error) {
	if dash < 0 {
		dash = len(args)
	}
	if dash != 1 {
		return "", nil, errors.NewFriendlyError(
			"Expected exactly one dataset before `--`, got %d.", dash)
	}
	return args[0], args[dash:], nil
}

func run(flags *util.ConfigFlags, datasetPath string, opts options) error {
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
	return runSession(ctx, d, opts)
}

func runSession(ctx context.Context, d *dataset.Dataset, opts options) error {
	dir, err := d.MakeLocalCopy(ctx, opts.extensions...)
	if err != nil {
		return errors.WithContext(err, "copy dataset")
	}
	fmt.Fprintf(stdout, "Pulled %s\n", util.DescribeDir(dir))

	created, err := d.CreateFileHashes()
	if err != nil {
		return errors.WithContext(err, "hash local copy")
	}
	if !created.OK() {
		fmt.Fprintf(stdout, "Warning: %s\n", created)
	}

	if len(opts.command) != 0 {
		log.WithField("command", opts.command).Debug("Running command in local copy")
		if err := runCommand(ctx, dir, opts.command); err != nil {
			return errors.NewFriendlyError("`%s` failed: %s\n"+
				"Nothing was synced back. The local copy is at %s.",
				strings.Join(opts.command, " "), err, dir)
		}
	}

	result, err := d.CheckFileHashes()
	if err != nil {
		return errors.WithContext(err, "check local copy")
	}
	if result.OK() {
		fmt.Fprintln(stdout, "Local copy is unchanged")
	} else {
		fmt.Fprintf(stdout, "Local copy changed since it was pulled (%s)\n", result)
	}

	if err := d.ResyncToSource(ctx, !opts.keep); err != nil {
		return errors.NewFriendlyError("Failed to sync back to %s: %s\n"+
			"The local copy is at %s.", d.SourceLocation(), err, dir)
	}
	fmt.Fprintf(stdout, "Synced back to %s\n", d.SourceLocation())
	if opts.keep {
		fmt.Fprintf(stdout, "Kept local copy at %s\n", dir)
	}
	return nil
}

func runCommandImpl(ctx context.Context, dir string, command []string) error {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
