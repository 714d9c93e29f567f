package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fpbattaglia/datasets/cmd/util"
	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout            io.Writer = os.Stdout
	stdin             io.Reader = os.Stdin
	loadConfig                  = config.Load
	writeUser                   = config.WriteUser
	getUserConfigPath           = config.GetUserConfigPath
	getTempDir                  = os.TempDir
)

// New creates a new `config` command.
func New() *cobra.Command {
	var flags *util.ConfigFlags
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: "Print the configuration that results from the defaults, ./datasets.yaml,\n" +
			config.UserConfigPath + ", and the given flags.",
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := flags.Load()
			if err != nil {
				util.HandleFatalError(err)
			}

			if err := printConfig(stdout, cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	flags = util.AddConfigFlags(cmd)

	cmd.AddCommand(newInitCommand())
	return cmd
}

func newInitCommand() *cobra.Command {
	var flags *util.ConfigFlags
	var noPrompt bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the user configuration",
		Long: "Write the user configuration to " + config.UserConfigPath + ".\n" +
			"Options that aren't set by flags are prompted for, unless --no-prompt\n" +
			"is set.",
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := initConfig(flags.Overrides(), !noPrompt); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	flags = util.AddConfigFlags(cmd)
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false,
		"Only write the options that are set by flags")
	return cmd
}

func printConfig(out io.Writer, cfg config.Config) error {
	yamlBytes, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	_, err = out.Write(yamlBytes)
	return err
}

func initConfig(layer config.Overrides, interactive bool) error {
	if interactive {
		var err error
		layer, err = promptMissing(layer)
		if err != nil {
			return errors.WithContext(err, "prompt")
		}
	}

	if err := writeUser(layer); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := getUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         **string
}

// promptMissing asks the user for the main options that `layer` doesn't
// set. The current configuration is offered as an alternative to the
// default answer.
func promptMissing(layer config.Overrides) (config.Overrides, error) {
	curr, err := loadConfig(config.Overrides{})
	if err != nil {
		log.WithError(err).Debug("Failed to read current config")
		curr = config.Defaults()
	}

	var prompts []prompt
	if layer.DataRoot == nil {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory that relative dataset paths are resolved against.\n" +
				"It must be an absolute path on the data store.",
			prompt:     "Data root",
			currAnswer: curr.DataRoot,
			field:      &layer.DataRoot,
		})
	}

	if layer.DataStore == nil {
		prompts = append(prompts, prompt{
			helpString: "Enter the host that holds the data root, in the form rsync or ssh accept.\n" +
				"Leave it empty if the data root is on a local or mounted filesystem.",
			prompt:     "Data store",
			currAnswer: curr.DataStore,
			field:      &layer.DataStore,
		})
	}

	if layer.LocalDir == nil && layer.DirPattern == nil {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory for temporary local copies.\n" +
				"It should be on a fast disk with enough space for your largest dataset.",
			prompt:        "Local directory",
			defaultAnswer: getTempDir(),
			currAnswer:    curr.LocalDir,
			field:         &layer.LocalDir,
		})
	}

	reader := bufio.NewReader(stdin)
	for _, p := range prompts {
		resp, err := promptUser(reader, p.helpString, p.prompt, p.defaultAnswer, p.currAnswer)
		if err != nil {
			return config.Overrides{}, errors.WithContext(err, "read response")
		}
		*p.field = config.String(resp)
	}
	return layer, nil
}

// promptUser offers the default and current answers as numbered choices,
// along with manual entry. An empty choice picks the first option.
func promptUser(reader *bufio.Reader, helpString, prompt, defaultAnswer,
	currAnswer string) (string, error) {

	// Separate the fields with an empty line.
	defer fmt.Fprintln(stdout)

	var options []string
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	manual := len(options) + 1

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	if len(options) != 0 {
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option += " (recommended)"
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintf(stdout, "\t%d. (Enter manually)\n\n", manual)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", manual)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", err
			}

			line = strings.TrimSpace(line)
			if line == "" {
				return options[0], nil
			}

			choice, err := strconv.Atoi(line)
			if err != nil || choice < 1 || choice > manual {
				continue
			}
			if choice != manual {
				return options[choice-1], nil
			}
			break
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}
