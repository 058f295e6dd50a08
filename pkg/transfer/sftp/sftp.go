// Package sftp implements the transfer provider over SFTP.
package sftp

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	goSftp "github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"github.com/sidkik/syncwatch/pkg/errors"
	"github.com/sidkik/syncwatch/pkg/transfer"
)

const (
	defaultPort = 22
	dialTimeout = 30 * time.Second
)

// Provider opens SFTP connections.
type Provider struct {
	fs    afero.Fs
	clock clockwork.Clock
}

// NewProvider returns a provider that reads local files from the OS
// filesystem.
func NewProvider() *Provider {
	return &Provider{
		fs:    afero.NewOsFs(),
		clock: clockwork.NewRealClock(),
	}
}

type connection struct {
	opts  transfer.Options
	fs    afero.Fs
	clock clockwork.Clock
	dial  func(context.Context, transfer.Options) (*ssh.Client, *goSftp.Client, error)

	ssh    *ssh.Client
	client *goSftp.Client

	// lost is set when the channel broke during an operation. The next pass
	// re-dials before doing anything else.
	lost bool
}

// Open dials the remote host and starts an SFTP session.
func (p *Provider) Open(ctx context.Context, opts transfer.Options) (transfer.Connection, error) {
	c := &connection{
		opts:  opts,
		fs:    p.fs,
		clock: p.clock,
		dial:  p.dial,
	}

	var err error
	c.ssh, c.client, err = c.dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Provider) dial(ctx context.Context, opts transfer.Options) (*ssh.Client, *goSftp.Client, error) {
	auth, closeAgent, err := authMethods(p.fs, opts.PrivateKeyPath)
	if err != nil {
		return nil, nil, errors.WithContext(err, "load credentials")
	}
	// The agent is only consulted during the handshake.
	defer closeAgent()

	if opts.HostKeyFingerprint == "" {
		log.WithField("host", opts.HostName).Warn(
			"No host key fingerprint configured. Any host key will be accepted.")
	}

	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(opts.HostName, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            opts.UserName,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback(opts.HostKeyFingerprint),
		Timeout:         dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, errors.WithContext(err, "dial")
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, nil, errors.WithContext(err, "ssh handshake")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := goSftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, errors.WithContext(err, "start sftp subsystem")
	}
	return sshClient, sftpClient, nil
}

func (c *connection) EnsureRemoteDir(ctx context.Context, path string) error {
	if err := c.ensureConnected(ctx); err != nil {
		return errors.WithContext(err, "reconnect")
	}

	if err := c.client.MkdirAll(path); err != nil {
		c.checkLost(err)
		return errors.WithContext(err, "mkdir")
	}
	return nil
}

func (c *connection) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.ssh != nil {
		if sshErr := c.ssh.Close(); err == nil {
			err = sshErr
		}
		c.ssh = nil
	}
	return err
}

// ensureConnected re-dials the remote host if the previous operation lost
// the channel. It waits for the reconnect interval first so that a host
// that's restarting isn't hammered.
func (c *connection) ensureConnected(ctx context.Context) error {
	if !c.lost && c.client != nil {
		return nil
	}

	interval := c.opts.ReconnectInterval
	if interval <= 0 {
		interval = transfer.DefaultReconnectInterval
	}

	log.WithField("host", c.opts.HostName).Infof(
		"Connection lost. Reconnecting in %s.", interval)
	select {
	case <-c.clock.After(interval):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.Close(); err != nil {
		log.WithError(err).Debug("Failed to close lost connection")
	}

	sshClient, sftpClient, err := c.dial(ctx, c.opts)
	if err != nil {
		return err
	}
	c.ssh, c.client, c.lost = sshClient, sftpClient, false
	return nil
}

func (c *connection) checkLost(err error) {
	if isConnectionLost(err) {
		c.lost = true
	}
}

func isConnectionLost(err error) bool {
	return errors.Is(err, goSftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
