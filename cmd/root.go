package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/bugtool"
	configCmd "github.com/fpbattaglia/datasets/cmd/config"
	"github.com/fpbattaglia/datasets/cmd/list"
	"github.com/fpbattaglia/datasets/cmd/pull"
	"github.com/fpbattaglia/datasets/cmd/session"
	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/cmd/version"
	"github.com/fpbattaglia/datasets/cmd/watch"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "DATASETS_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "datasets",
		Short:        "Work on verified local copies of datasets",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		bugtool.New(),
		configCmd.New(),
		list.New(),
		pull.New(),
		session.New(),
		version.New(),
		watch.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
