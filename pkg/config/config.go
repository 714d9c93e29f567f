package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/fpbattaglia/datasets/pkg/digest"
	"github.com/fpbattaglia/datasets/pkg/errors"
)

// parseConfigErrTemplate is a template for when the CLI fails to parse yaml
// configuration files. The yaml library constructs errors in a way that
// loses context, and so we can only pass the error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

const (
	// InitialConfigVersion is assumed for config files that don't specify a
	// version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version understood by this
	// binary.
	SupportedConfigVersion = "v1alpha1"

	// HostPlaceholder is replaced with the local host name in DirPattern.
	HostPlaceholder = "%HOST"
)

// Supported transports.
const (
	TransportRsync = "rsync"
	TransportSFTP  = "sftp"
)

// Config is the fully resolved configuration for a dataset and everything
// it creates. It is passed by value; children of a dataset receive a copy.
type Config struct {
	// DataRoot is the base directory for relative dataset paths.
	DataRoot string `json:"dataRoot,omitempty"`

	// DataStore is the remote host or alias that the dataset lives on.
	// Empty means that the data root is on the local filesystem.
	DataStore string `json:"dataStore,omitempty"`

	Transport     string   `json:"transport,omitempty"`
	RsyncCmd      string   `json:"rsyncCmd,omitempty"`
	RsyncListOpts []string `json:"rsyncListOpts,omitempty"`
	RsyncSyncOpts []string `json:"rsyncSyncOpts,omitempty"`

	// SubdirsAsDatasets makes every subdirectory a child dataset of its
	// own. Local copies then only contain the direct files.
	SubdirsAsDatasets bool `json:"subdirsAsDatasets,omitempty"`

	// DirPattern is the template for the workspace base directory. The
	// %HOST placeholder is replaced with the host name.
	DirPattern string `json:"dirPattern,omitempty"`

	// LocalDir overrides DirPattern.
	LocalDir string `json:"localDir,omitempty"`

	HashAlgorithm string `json:"hashAlgorithm,omitempty"`

	// TransferTimeout bounds each individual list, pull or push. Zero means
	// no timeout.
	TransferTimeout Duration `json:"transferTimeout,omitempty"`

	// ListWorkers bounds how many child datasets are listed concurrently.
	ListWorkers int `json:"listWorkers,omitempty"`

	SFTP SFTP `json:"sftp,omitempty"`
}

// SFTP contains the connection settings for the sftp transport. The host is
// taken from DataStore.
type SFTP struct {
	User                  string `json:"user,omitempty"`
	Port                  int    `json:"port,omitempty"`
	IdentityFile          string `json:"identityFile,omitempty"`
	Password              string `json:"password,omitempty"`
	KnownHostsFile        string `json:"knownHostsFile,omitempty"`
	InsecureIgnoreHostKey bool   `json:"insecureIgnoreHostKey,omitempty"`
}

// Duration is a time.Duration that is written as a string such as "30s" in
// config files.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("duration must be a string such as \"30s\"")
	}
	parsed, err := time.ParseDuration(str)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Transport:     TransportRsync,
		RsyncCmd:      "rsync",
		RsyncListOpts: []string{"--list-only"},
		RsyncSyncOpts: []string{"-avz"},
		HashAlgorithm: digest.MD5,
		ListWorkers:   4,
		SFTP:          SFTP{Port: 22},
	}
}

// Location returns the address of `path` on the data store. The result
// always ends with exactly one slash.
func (c Config) Location(path string) string {
	location := strings.TrimRight(path, "/")
	if c.DataStore != "" {
		location = c.DataStore + ":" + location
	}
	return location + "/"
}

// RedactedValue replaces secrets in configs that are shown to the user.
const RedactedValue = "********"

// Redacted returns a copy of `c` that's safe to print.
func (c Config) Redacted() Config {
	if c.SFTP.Password != "" {
		c.SFTP.Password = RedactedValue
	}
	return c
}

// Validate checks that the enumerated fields hold known values.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportRsync, TransportSFTP:
	default:
		return errors.NewFriendlyError("Unknown transport %q. "+
			"Supported transports are %q and %q.",
			c.Transport, TransportRsync, TransportSFTP)
	}

	if !digest.Supported(c.HashAlgorithm) {
		return errors.NewFriendlyError("Unknown hash algorithm %q. "+
			"Supported algorithms are: %s.",
			c.HashAlgorithm, strings.Join(digest.Algorithms(), ", "))
	}

	if c.Transport == TransportRsync && c.RsyncCmd == "" {
		return errors.MissingFieldError{Field: "rsyncCmd"}
	}

	if c.TransferTimeout < 0 {
		return errors.New("transferTimeout must not be negative")
	}
	return nil
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of datasets.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// parseLayer reads a single config file.
func parseLayer(path string) (Overrides, error) {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, errors.FileNotFound{Path: path}
		}
		return Overrides{}, errors.WithContext(err, "read file")
	}

	layer := Overrides{Version: InitialConfigVersion}
	if err := yaml.Unmarshal(configBytes, &layer); err != nil {
		return Overrides{}, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if layer.Version != SupportedConfigVersion {
		return Overrides{}, incompatibleVersionError{path, SupportedConfigVersion, layer.Version}
	}

	// Do a strict unmarshal to check for any extra fields. We do a non-strict
	// unmarshal first so that we can catch version errors before erroring on
	// extra fields.
	err = yaml.UnmarshalStrict(configBytes, &layer, yaml.DisallowUnknownFields)
	if err != nil {
		return Overrides{}, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return layer, nil
}

// expandPaths resolves ~ in every path-like field.
func (c Config) expandPaths() (Config, error) {
	for _, field := range []*string{&c.DataRoot, &c.LocalDir, &c.DirPattern,
		&c.SFTP.IdentityFile, &c.SFTP.KnownHostsFile} {
		expanded, err := homedirExpand(*field)
		if err != nil {
			return Config{}, errors.WithContext(err, fmt.Sprintf("expand %q", *field))
		}
		*field = expanded
	}
	return c, nil
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand
