package sftp

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/sidkik/syncwatch/pkg/errors"
)

var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Mocked out for unit testing.
var homedirDir = homedir.Dir

// authMethods collects the credentials available to the current user: the
// ssh-agent (if running), the configured private key, and the default keys
// in ~/.ssh. The returned func closes the agent socket, and must be called
// once the handshake is complete.
func authMethods(fs afero.Fs, privateKeyPath string) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err != nil {
			log.WithError(err).Debug("Failed to connect to ssh-agent")
		} else {
			closeAgent = func() { conn.Close() }
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	var signers []ssh.Signer
	if privateKeyPath != "" {
		signer, err := readSigner(fs, privateKeyPath)
		if err != nil {
			closeAgent()
			return nil, nil, errors.WithContext(err, "read private key")
		}
		signers = append(signers, signer)
	}

	if home, err := homedirDir(); err == nil {
		for _, name := range defaultKeyNames {
			path := filepath.Join(home, ".ssh", name)
			if path == privateKeyPath {
				continue
			}

			signer, err := readSigner(fs, path)
			if err != nil {
				if !os.IsNotExist(errors.RootCause(err)) {
					log.WithError(err).WithField("path", path).Debug("Skipping private key")
				}
				continue
			}
			signers = append(signers, signer)
		}
	}

	if len(signers) != 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, nil, errors.NewFriendlyError("No SSH credentials found.\n" +
			"Start ssh-agent, set `privateKeyPath`, or add a key to ~/.ssh.")
	}
	return methods, closeAgent, nil
}

func readSigner(fs afero.Fs, path string) (ssh.Signer, error) {
	pem, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, errors.WithContext(err, "parse")
	}
	return signer, nil
}

// hostKeyCallback verifies the server's key against the configured
// fingerprint. An empty fingerprint accepts any key.
func hostKeyCallback(fingerprint string) ssh.HostKeyCallback {
	if fingerprint == "" {
		return ssh.InsecureIgnoreHostKey()
	}

	expected := parseFingerprint(fingerprint)
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		if expected.matches(key) {
			return nil
		}
		return errors.NewFriendlyError(
			"Host key verification failed for %s.\n"+
				"Expected fingerprint %q, but the server presented %s.",
			hostname, fingerprint, ssh.FingerprintSHA256(key))
	}
}

type fingerprint struct {
	sha256 string
	md5    string
}

// parseFingerprint accepts the formats printed by ssh-keygen and common
// clients, e.g. "ssh-ed25519 255 SHA256:abc=", "SHA256:abc", or the legacy
// colon-separated MD5 form.
func parseFingerprint(s string) fingerprint {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return fingerprint{}
	}
	last := fields[len(fields)-1]

	switch {
	case strings.HasPrefix(last, "MD5:"):
		return fingerprint{md5: normalizeMD5(strings.TrimPrefix(last, "MD5:"))}
	case strings.HasPrefix(last, "SHA256:"):
		return fingerprint{sha256: strings.TrimRight(strings.TrimPrefix(last, "SHA256:"), "=")}
	case strings.Count(last, ":") == md5.Size-1:
		return fingerprint{md5: normalizeMD5(last)}
	default:
		return fingerprint{sha256: strings.TrimRight(last, "=")}
	}
}

func (fp fingerprint) matches(key ssh.PublicKey) bool {
	if fp.sha256 != "" {
		sum := sha256.Sum256(key.Marshal())
		return fp.sha256 == base64.RawStdEncoding.EncodeToString(sum[:])
	}
	if fp.md5 != "" {
		sum := md5.Sum(key.Marshal())
		return fp.md5 == hex.EncodeToString(sum[:])
	}
	return false
}

func normalizeMD5(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, ":", ""))
}
