package config

import (
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/syncwatch/pkg/errors"
)

// AppConfigFileName is the name of the process-wide configuration file. It's
// looked up next to the sync-watch executable.
const AppConfigFileName = "app-settings.yaml"

// App contains process-wide configuration that isn't specific to any
// connection.
type App struct {
	// ErrorReportingEndpoint is the URL that unexpected errors are reported
	// to. Error reporting is disabled when it's empty.
	ErrorReportingEndpoint string `json:"errorReportingEndpoint,omitempty"`
}

// Mocked for unit testing.
var executablePath = os.Executable

// GetAppConfigPath returns the path to the app config next to the running
// executable.
func GetAppConfigPath() (string, error) {
	exe, err := executablePath()
	if err != nil {
		return "", errors.WithContext(err, "get executable path")
	}
	return filepath.Join(filepath.Dir(exe), AppConfigFileName), nil
}

// ParseApp parses the app config at `path`. The app config is optional, so
// a missing file results in the zero config.
func ParseApp(path string) (App, error) {
	appBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if isNotExist(err) {
			return App{}, nil
		}
		return App{}, errors.WithContext(err, "read file")
	}

	var app App
	if err := yaml.UnmarshalStrict(appBytes, &app, yaml.DisallowUnknownFields); err != nil {
		return App{}, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return app, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(errors.RootCause(err))
}
