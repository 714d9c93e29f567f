package list

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/pkg/dataset"
	"github.com/fpbattaglia/datasets/pkg/errors"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `list` command.
func New() *cobra.Command {
	var flags *util.ConfigFlags
	cmd := &cobra.Command{
		Use:   "list <dataset>",
		Short: "List the files in a dataset, grouped by extension",
		Long: "List the files in a dataset, grouped by extension.\n" +
			"With --subdirs-as-datasets, every subdirectory is listed as a\n" +
			"dataset of its own.",
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := run(flags, args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	flags = util.AddConfigFlags(cmd)
	return cmd
}

func run(flags *util.ConfigFlags, datasetPath string) error {
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

	printDataset(stdout, d)
	return nil
}

const dirsRow = "<dirs>"

func printDataset(out io.Writer, d *dataset.Dataset) {
	table := tablewriter.NewWriter(out)
	table.Header("Dataset", "Extension", "Files")
	appendRows(table, d)
	table.Render()
}

func appendRows(table *tablewriter.Table, d *dataset.Dataset) {
	groups := d.FilesByExtension()
	var exts []string
	for ext := range groups {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	for _, ext := range exts {
		label := ext
		if label == "" {
			label = "<none>"
		}
		table.Append([]string{d.SourceLocation(), label, strings.Join(groups[ext], " ")})
	}

	// Children are listed on their own rows instead.
	if dirs := d.Dirs(); len(dirs) != 0 && len(d.Children()) == 0 {
		table.Append([]string{d.SourceLocation(), dirsRow, strings.Join(dirs, " ")})
	}

	if len(exts) == 0 && len(d.Dirs()) == 0 {
		table.Append([]string{d.SourceLocation(), "", ""})
	}

	for _, child := range d.Children() {
		appendRows(table, child)
	}
}
