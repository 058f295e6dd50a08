package sftp

import (
	"crypto/ed25519"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestHostKeyCallback(t *testing.T) {
	key := newPublicKey(t)
	other := newPublicKey(t)

	sha := ssh.FingerprintSHA256(key)
	md5Sum := md5.Sum(key.Marshal())
	legacy := ssh.FingerprintLegacyMD5(key)

	tests := []struct {
		name        string
		fingerprint string
		key         ssh.PublicKey
		expError    bool
	}{
		{
			name:        "Empty accepts anything",
			fingerprint: "",
			key:         other,
		},
		{
			name:        "SHA256 with prefix",
			fingerprint: sha,
			key:         key,
		},
		{
			name:        "SHA256 without prefix",
			fingerprint: strings.TrimPrefix(sha, "SHA256:"),
			key:         key,
		},
		{
			name:        "SHA256 with padding",
			fingerprint: sha + "=",
			key:         key,
		},
		{
			name:        "ssh-keygen output",
			fingerprint: "ssh-ed25519 255 " + sha,
			key:         key,
		},
		{
			name:        "Legacy MD5",
			fingerprint: "ssh-ed25519 255 " + strings.ToUpper(legacy),
			key:         key,
		},
		{
			name:        "MD5 with prefix",
			fingerprint: "MD5:" + legacy,
			key:         key,
		},
		{
			name:        "Wrong key",
			fingerprint: sha,
			key:         other,
			expError:    true,
		},
		{
			name:        "Wrong MD5",
			fingerprint: "MD5:" + hex.EncodeToString(make([]byte, len(md5Sum))),
			key:         key,
			expError:    true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			err := hostKeyCallback(test.fingerprint)("example.com:22", nil, test.key)
			if test.expError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthMethods(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	oldHomedirDir := homedirDir
	homedirDir = func() (string, error) { return "/home/user", nil }
	defer func() { homedirDir = oldHomedirDir }()

	keyPEM := newPrivateKeyPEM(t)

	// No credentials at all.
	fs := afero.NewMemMapFs()
	_, _, err := authMethods(fs, "")
	assert.Error(t, err)

	// Default key.
	require.NoError(t, afero.WriteFile(fs, "/home/user/.ssh/id_ed25519", keyPEM, 0600))
	methods, _, err := authMethods(fs, "")
	assert.NoError(t, err)
	assert.Len(t, methods, 1)

	// An unparseable default key is skipped.
	require.NoError(t, afero.WriteFile(fs, "/home/user/.ssh/id_rsa", []byte("garbage"), 0600))
	methods, _, err = authMethods(fs, "")
	assert.NoError(t, err)
	assert.Len(t, methods, 1)

	// A configured key must exist.
	_, _, err = authMethods(fs, "/keys/deploy")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/keys/deploy", keyPEM, 0600))
	methods, _, err = authMethods(fs, "/keys/deploy")
	assert.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestAuthMethodsClosesAgent(t *testing.T) {
	oldHomedirDir := homedirDir
	homedirDir = func() (string, error) { return "/home/user", nil }
	defer func() { homedirDir = oldHomedirDir }()

	sock := filepath.Join(t.TempDir(), "agent.sock")
	listener, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer listener.Close()
	t.Setenv("SSH_AUTH_SOCK", sock)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	methods, closeAgent, err := authMethods(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	assert.Len(t, methods, 1)

	var agentConn net.Conn
	select {
	case agentConn = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("the agent was never dialed")
	}
	defer agentConn.Close()

	closeAgent()

	require.NoError(t, agentConn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = agentConn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
}

func newPublicKey(t *testing.T) ssh.PublicKey {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func newPrivateKeyPEM(t *testing.T) []byte {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}
