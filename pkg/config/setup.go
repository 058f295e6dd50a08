package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/syncwatch/pkg/errors"
)

// ConnectionEntry is a single row of the setup list used in multi-session
// mode.
type ConnectionEntry struct {
	// Path is the directory containing the connection's settings file.
	// Relative paths are resolved against the setup file's directory.
	Path string `json:"path"`

	IsEnabled bool `json:"isEnabled"`

	// RunOnStartup controls whether the connection is started when
	// sync-watch is launched when the machine boots.
	RunOnStartup bool `json:"runOnStartup"`

	// LogFilePath optionally names a file within the logs directory that the
	// connection's session logs to.
	LogFilePath string `json:"logFilePath,omitempty"`
}

// setupFile is the object form of the setup list. Both a bare list and this
// form are accepted.
type setupFile struct {
	Connections []ConnectionEntry `json:"connections"`
}

// ParseSetup parses the connection list at `path`.
func ParseSetup(path string) ([]ConnectionEntry, error) {
	setupBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if isNotExist(err) {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "read file")
	}

	var entries []ConnectionEntry
	if err := yaml.UnmarshalStrict(setupBytes, &entries, yaml.DisallowUnknownFields); err != nil {
		var obj setupFile
		if objErr := yaml.UnmarshalStrict(setupBytes, &obj, yaml.DisallowUnknownFields); objErr != nil {
			return nil, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
		}
		entries = obj.Connections
	}

	setupDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.WithContext(err, "resolve setup directory")
	}

	for i, entry := range entries {
		if strings.TrimSpace(entry.Path) == "" {
			return nil, errors.WithContext(errors.MissingFieldError{Field: "path"},
				fmt.Sprintf("connection %d", i))
		}

		entryPath, err := resolvePath(entry.Path, setupDir)
		if err != nil {
			return nil, errors.WithContext(err, "expand connection path")
		}
		entries[i].Path = entryPath
	}
	return entries, nil
}

// Eligible returns the entries that should be started. Disabled entries are
// always skipped. When `startup` is set, sync-watch was launched as the
// machine booted, and entries that opted out of running on startup are
// skipped as well.
func Eligible(entries []ConnectionEntry, startup bool) (eligible []ConnectionEntry) {
	for _, entry := range entries {
		if !entry.IsEnabled {
			continue
		}
		if startup && !entry.RunOnStartup {
			continue
		}
		eligible = append(eligible, entry)
	}
	return eligible
}
