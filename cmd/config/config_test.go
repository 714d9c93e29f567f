package config

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
)

func TestPromptUser(t *testing.T) {
	tests := []struct {
		name                                                 string
		helpString, prompt, defaultAnswer, currAnswer, stdin string
		expPrompt, expResult                                 string
	}{
		{
			name:       "No default or current answer",
			helpString: "explanation",
			prompt:     "prompt",
			stdin:      "/data/user input\n",
			expPrompt: "explanation\n" +
				"prompt:\n" +
				"Please enter manually: \n",
			expResult: "/data/user input",
		},
		{
			name:       "Current answer only, chose current answer",
			helpString: "different explanation",
			prompt:     "different prompt",
			currAnswer: "/data/current",
			stdin:      "1\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. /data/current (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expResult: "/data/current",
		},
		{
			name:       "Current answer only, enter manually",
			helpString: "different explanation",
			prompt:     "different prompt",
			currAnswer: "/data/current",
			stdin: "2\n" +
				"/data/manual\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. /data/current (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: " +
				"Please enter manually: \n",
			expResult: "/data/manual",
		},
		{
			name:          "Default and current answer, invalid choices are retried",
			helpString:    "explanation",
			prompt:        "prompt",
			defaultAnswer: "/tmp",
			currAnswer:    "/scratch",
			stdin:         "4\nabc\n2\n",
			expPrompt: "explanation\n" +
				"prompt:\n" +
				"\n" +
				"\t1. /tmp (recommended)\n" +
				"\t2. /scratch\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: " +
				"Please choose one [1-3]: " +
				"Please choose one [1-3]: \n",
			expResult: "/scratch",
		},
		{
			name:          "Empty choice picks the recommended answer",
			helpString:    "explanation",
			prompt:        "prompt",
			defaultAnswer: "/tmp",
			currAnswer:    "/tmp",
			stdin:         "\n",
			expPrompt: "explanation\n" +
				"prompt:\n" +
				"\n" +
				"\t1. /tmp (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expResult: "/tmp",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			stdout = &out
			reader := bufio.NewReader(strings.NewReader(test.stdin))

			result, err := promptUser(reader, test.helpString, test.prompt,
				test.defaultAnswer, test.currAnswer)
			require.NoError(t, err)
			assert.Equal(t, test.expPrompt, out.String())
			assert.Equal(t, test.expResult, result)
		})
	}
}

func TestPromptUserEOF(t *testing.T) {
	stdout = &bytes.Buffer{}
	_, err := promptUser(bufio.NewReader(strings.NewReader("")), "help", "prompt", "", "")
	assert.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	var out bytes.Buffer
	stdout = &out
	getTempDir = func() string { return "/tmp" }
	getUserConfigPath = func() (string, error) {
		return "/home/user/.datasets/datasets.yaml", nil
	}
	loadConfig = func(config.Overrides) (config.Config, error) {
		cfg := config.Defaults()
		cfg.DataStore = "cluster"
		return cfg, nil
	}

	var written config.Overrides
	writeUser = func(layer config.Overrides) error {
		written = layer
		return nil
	}

	// The data root is set by a flag, so only the data store and local
	// directory are prompted for.
	stdin = strings.NewReader("1\n\n")
	err := initConfig(config.Overrides{DataRoot: config.String("/data")}, true)
	require.NoError(t, err)
	assert.Equal(t, config.Overrides{
		DataRoot:  config.String("/data"),
		DataStore: config.String("cluster"),
		LocalDir:  config.String("/tmp"),
	}, written)
	assert.NotContains(t, out.String(), "Data root:")
	assert.Contains(t, out.String(), "Wrote config to /home/user/.datasets/datasets.yaml")

	// Nothing is prompted for without interaction.
	stdin = strings.NewReader("")
	require.NoError(t, initConfig(config.Overrides{}, false))
	assert.Equal(t, config.Overrides{}, written)

	writeUser = func(config.Overrides) error {
		return errors.New("permission denied")
	}
	assert.Error(t, initConfig(config.Overrides{}, false))
}

func TestPrintConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataRoot = "/data"
	cfg.SFTP.Password = "hunter2"

	var out bytes.Buffer
	require.NoError(t, printConfig(&out, cfg))
	assert.Contains(t, out.String(), "dataRoot: /data\n")
	assert.Contains(t, out.String(), "rsyncCmd: rsync\n")
	assert.Contains(t, out.String(), config.RedactedValue)
	assert.NotContains(t, out.String(), "hunter2")

	// The caller's config isn't modified.
	assert.Equal(t, "hunter2", cfg.SFTP.Password)
}
