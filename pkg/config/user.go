package config

import (
	"path/filepath"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fpbattaglia/datasets/pkg/errors"
)

const (
	// ProjectConfigPath is the config file read from the working directory.
	ProjectConfigPath = "datasets.yaml"

	// UserConfigPath is the default path to the user's config.
	UserConfigPath = "~/.datasets/datasets.yaml"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Load resolves the configuration by layering, from lowest to highest
// precedence: the built-in defaults, the project config file, the user
// config file, and `overrides`. Missing config files are skipped.
func Load(overrides Overrides) (Config, error) {
	userPath, err := GetUserConfigPath()
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	cfg := Defaults()
	for _, path := range []string{ProjectConfigPath, userPath} {
		layer, err := parseLayer(path)
		if err != nil {
			if _, ok := err.(errors.FileNotFound); ok {
				log.WithField("path", path).Debug("No config file")
				continue
			}
			return Config{}, errors.WithContext(err, "parse")
		}

		log.WithField("path", path).Debug("Applying config file")
		cfg = layer.Apply(cfg)
	}

	cfg, err = overrides.Apply(cfg).expandPaths()
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.WithContext(err, "validate")
	}
	return cfg, nil
}

// WriteUser writes the given layer to the user config path, creating the
// parent directory if necessary.
func WriteUser(layer Overrides) error {
	layer.Version = SupportedConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(layer)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create config directory")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetUserConfigPath returns the path to the user's datasets configuration.
// This path is expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
