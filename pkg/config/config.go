package config

import (
	"fmt"

	"github.com/ghodss/yaml"
	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/sidkik/syncwatch/pkg/errors"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// parseConfigErrTemplate is a template for when sync-watch fails to parse
// yaml configuration files. This can happen for a multitude of reasons,
// including extraneous fields and incorrect field types. However, the yaml
// library constructs errors in a way that loses context, and so we can only
// pass the error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

type configInterface interface {
	getVersion() string
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of sync-watch.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// parseConfig reads the config at `path` into `config`. The version declared
// by the file must satisfy `supported`.
func parseConfig(path string, config configInterface, supported string) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if isNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	err = yaml.Unmarshal(configBytes, config)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if !versionSatisfies(config.getVersion(), supported) {
		return incompatibleVersionError{path, supported, config.getVersion()}
	}

	// Do a strict unmarshal to check for any extra fields. We do a non-strict
	// unmarshal first so that we can catch version errors before erroring on
	// extra fields.
	err = yaml.UnmarshalStrict(configBytes, config, yaml.DisallowUnknownFields)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}

func versionSatisfies(version, constraint string) bool {
	v, err := goversion.NewVersion(version)
	if err != nil {
		return false
	}

	c, err := goversion.NewConstraint(constraint)
	if err != nil {
		// The constraints are compiled in, so this is a programming error.
		panic(fmt.Sprintf("bad version constraint %q: %s", constraint, err))
	}
	return c.Check(v)
}
