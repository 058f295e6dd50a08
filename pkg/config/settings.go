package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/syncwatch/pkg/errors"
)

const (
	// SettingsFileName is the name of the file, within a connection
	// directory, that holds the connection's sync settings.
	SettingsFileName = "sync-settings.yaml"

	// HostKeyFingerprintPlaceholder is written into new settings files. It
	// means that no fingerprint was configured, and is treated the same as
	// an empty fingerprint. The text must stay stable so that existing
	// settings files keep being recognized.
	HostKeyFingerprintPlaceholder = "Put your the host key fingerprint here " +
		"or leave this empty (except any key - unsecure)"

	// InitialSettingsVersion is assumed for settings files that don't
	// declare a version.
	InitialSettingsVersion = "1.0"

	// SupportedSettingsVersions is the range of settings file versions
	// understood by this binary.
	SupportedSettingsVersions = ">= 1.0, < 2.0"
)

// SyncSettings is the configuration for a single connection: which local
// directory is mirrored, and where to.
type SyncSettings struct {
	Version               string `json:"version,omitempty"`
	HostName              string `json:"hostName"`
	Port                  int    `json:"port,omitempty"`
	UserName              string `json:"userName"`
	RemotePath            string `json:"remotePath"`
	LocalPath             string `json:"localPath"`
	FileMask              string `json:"fileMask,omitempty"`
	SSHHostKeyFingerprint string `json:"sshHostKeyFingerprint,omitempty"`
	PrivateKeyPath        string `json:"privateKeyPath,omitempty"`

	// Only populated and consumed by sync-watch. Never set by user.
	path string
}

// GetPath returns the path that the settings were parsed from.
func (s SyncSettings) GetPath() string {
	return s.path
}

func (s SyncSettings) getVersion() string {
	return s.Version
}

// AcceptAnyHostKey returns whether the remote host's identity should be
// trusted without verification. This is the case whenever no fingerprint is
// configured, and is an explicit downgrade in security.
func (s SyncSettings) AcceptAnyHostKey() bool {
	return s.SSHHostKeyFingerprint == ""
}

// String identifies the connection in log messages.
func (s SyncSettings) String() string {
	return fmt.Sprintf("%s:%s", s.HostName, s.RemotePath)
}

// SettingsNotFoundError is returned when a connection directory doesn't
// contain a settings file.
type SettingsNotFoundError struct {
	Path string
}

func (err SettingsNotFoundError) Error() string {
	return fmt.Sprintf("settings file %q does not exist", err.Path)
}

// FriendlyMessage tells the user how to create the missing file.
func (err SettingsNotFoundError) FriendlyMessage() string {
	return fmt.Sprintf("Cannot find file %q.\n"+
		"Run `sync-watch -c` in %q to create a new one.",
		err.Path, filepath.Dir(err.Path))
}

// homedirExpand will be overridden in mock tests.
var homedirExpand = homedir.Expand

// ResolveSettings parses the settings at `path`, and resolves the paths it
// contains relative to `basePath`. The resolved local path is guaranteed to
// be absolute.
func ResolveSettings(path, basePath string) (SyncSettings, error) {
	settings := SyncSettings{
		path:    path,
		Version: InitialSettingsVersion,
	}
	if err := parseConfig(path, &settings, SupportedSettingsVersions); err != nil {
		if _, ok := errors.RootCause(err).(errors.FileNotFound); ok {
			return SyncSettings{}, SettingsNotFoundError{Path: path}
		}
		return SyncSettings{}, errors.WithContext(err, "parse")
	}

	required := []struct {
		name, value string
	}{
		{"hostName", settings.HostName},
		{"userName", settings.UserName},
		{"remotePath", settings.RemotePath},
		{"localPath", settings.LocalPath},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return SyncSettings{}, errors.MissingFieldError{Field: field.name}
		}
	}

	localPath, err := resolvePath(settings.LocalPath, basePath)
	if err != nil {
		return SyncSettings{}, errors.WithContext(err, "expand local path")
	}

	// Watching the local tree requires an absolute path, so there's no point
	// in continuing if the base path was relative too.
	if !filepath.IsAbs(localPath) {
		return SyncSettings{}, errors.InvalidPath{
			Path:   localPath,
			Reason: "local path must resolve to an absolute path",
		}
	}
	settings.LocalPath = localPath

	if settings.PrivateKeyPath != "" {
		settings.PrivateKeyPath, err = resolvePath(settings.PrivateKeyPath, basePath)
		if err != nil {
			return SyncSettings{}, errors.WithContext(err, "expand private key path")
		}
	}

	settings.SSHHostKeyFingerprint = normalizeFingerprint(settings.SSHHostKeyFingerprint)
	return settings, nil
}

func resolvePath(path, basePath string) (string, error) {
	expanded, err := homedirExpand(path)
	if err != nil {
		return "", err
	}

	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(basePath, expanded)
	}
	return filepath.Clean(expanded), nil
}

// normalizeFingerprint collapses all the ways of saying "no fingerprint" to
// the empty string.
func normalizeFingerprint(fingerprint string) string {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == HostKeyFingerprintPlaceholder {
		return ""
	}
	return fingerprint
}

// WriteSettingsTemplate writes a settings file with placeholder values into
// `dir`, and returns the path to the file. Existing files are never
// overwritten.
func WriteSettingsTemplate(dir string) (string, error) {
	path := filepath.Join(dir, SettingsFileName)
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return "", errors.WithContext(err, "stat")
	}
	if exists {
		return "", errors.NewFriendlyError("Settings file %q already exists. "+
			"Remove it first if you want to start over.", path)
	}

	template := SyncSettings{
		Version:               InitialSettingsVersion,
		HostName:              "example.com",
		UserName:              "root",
		RemotePath:            "/srv/app",
		LocalPath:             ".",
		FileMask:              "| .git/; node_modules/; .sync-watch.lock",
		SSHHostKeyFingerprint: HostKeyFingerprintPlaceholder,
	}
	yamlBytes, err := yaml.Marshal(template)
	if err != nil {
		return "", errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return "", errors.WithContext(err, "write")
	}
	return path, nil
}
