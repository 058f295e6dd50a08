package transfer

//go:generate mockery -name Provider
//go:generate mockery -name Connection

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultReconnectInterval is how long a connection waits before re-dialing
// a channel that was lost.
const DefaultReconnectInterval = time.Second

// DefaultFilePermissions are applied to every uploaded file.
const DefaultFilePermissions os.FileMode = 0777

// Options describes how to open a connection.
type Options struct {
	HostName string
	Port     int
	UserName string

	// HostKeyFingerprint is the expected fingerprint of the remote host's
	// key. When empty, any host key is accepted.
	HostKeyFingerprint string

	// PrivateKeyPath optionally names a key used for authentication in
	// addition to the SSH agent and the user's default keys.
	PrivateKeyPath string

	// ReconnectInterval is a hint for how long to wait before re-dialing a
	// lost channel.
	ReconnectInterval time.Duration
}

// Request describes a single synchronization pass.
type Request struct {
	LocalPath  string
	RemotePath string

	// FileMask selects the paths that participate in the pass. See
	// ParseMask for the syntax.
	FileMask string

	// Exclude lists patterns that never participate, whatever the mask.
	Exclude []string
}

// Provider opens connections to remote hosts.
type Provider interface {
	Open(context.Context, Options) (Connection, error)
}

// Connection is an open channel to a remote host. A Connection is not safe
// for concurrent use.
type Connection interface {
	// EnsureRemoteDir creates the remote directory and any missing parents.
	EnsureRemoteDir(ctx context.Context, path string) error

	// Synchronize mirrors the local directory to the remote directory.
	// Failures that only affect individual files are returned in the
	// Result. The error is reserved for failures that prevented the pass
	// from running at all.
	Synchronize(context.Context, Request) (Result, error)

	Close() error
}

// Result is the outcome of a synchronization pass.
type Result struct {
	Outcomes []Outcome
	Failures []error
}

// Outcome describes how a single file was handled during a pass. Each step
// is nil if it didn't apply to the file.
type Outcome struct {
	// FileName is the local path of the file.
	FileName string

	// Destination is the remote path of the file.
	Destination string

	Upload  *UploadResult
	Chmod   *ChmodResult
	Touch   *TouchResult
	Removal *RemovalResult
}

// UploadResult is the outcome of copying the file's contents.
type UploadResult struct {
	Size  int64
	Error error
}

// ChmodResult is the outcome of setting the remote file's permissions.
type ChmodResult struct {
	FileName    string
	Permissions os.FileMode
	Error       error
}

// TouchResult is the outcome of setting the remote file's modification
// time.
type TouchResult struct {
	FileName      string
	LastWriteTime time.Time
	Error         error
}

// RemovalResult is the outcome of deleting a remote file that no longer
// exists locally.
type RemovalResult struct {
	FileName string
	Error    error
}

// FileError is a failure that only affected a single file.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (err FileError) Error() string {
	return fmt.Sprintf("%s %s: %s", err.Op, err.Path, err.Err)
}

func (err FileError) Unwrap() error {
	return err.Err
}
