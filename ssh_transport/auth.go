/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package ssh_transport

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// knownHostsMu serialises appends to known_hosts from concurrent connects
var knownHostsMu sync.Mutex

// buildAuthMethods assembles the auth methods for an endpoint in the order
// key, agent, password. The returned cleanup releases the agent connection
// and must be called once the handshake is done.
func buildAuthMethods(ctx context.Context, ep Endpoint) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	var lastErr error
	cleanup := func() {}

	if ep.KeyPath != "" {
		auth, err := buildPublicKeyAuth(ep.KeyPath, ep.KeyPassphrase)
		if err != nil {
			log.Warnf("Failed to build public key auth for %s: %v", ep.Address(), err)
			lastErr = err
		} else {
			methods = append(methods, auth)
		}
	}

	if ep.UseAgent {
		auth, conn, err := buildAgentAuth(ctx)
		if err != nil {
			log.Warnf("Failed to build SSH agent auth for %s: %v", ep.Address(), err)
			lastErr = err
		} else {
			methods = append(methods, auth)
			cleanup = func() { conn.Close() }
		}
	}

	if ep.Password != "" {
		methods = append(methods, ssh.Password(ep.Password))
		// Servers that only offer keyboard-interactive still get the password
		methods = append(methods, ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = ep.Password
			}
			return answers, nil
		}))
	}

	if len(methods) == 0 {
		if lastErr != nil {
			return nil, cleanup, errors.Wrap(lastErr, ErrNoAuthMethod.Error())
		}
		return nil, cleanup, ErrNoAuthMethod
	}
	return methods, cleanup, nil
}

// buildPublicKeyAuth reads a private key, decrypting it when a passphrase is given
func buildPublicKeyAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(expandHome(keyPath))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read private key file")
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key with passphrase")
		}
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
		if err != nil {
			if _, ok := err.(*ssh.PassphraseMissingError); ok {
				return nil, errors.New("private key is encrypted but no passphrase configured")
			}
			return nil, errors.Wrap(err, "failed to parse private key")
		}
	}
	return ssh.PublicKeys(signer), nil
}

// getAgentSocket returns the SSH agent socket from SSH_AUTH_SOCK; OpenSSH has no default path.
func getAgentSocket() (string, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return "", errors.New("SSH_AUTH_SOCK environment variable not set")
	}
	return socket, nil
}

func buildAgentAuth(ctx context.Context) (ssh.AuthMethod, net.Conn, error) {
	socket, err := getAgentSocket()
	if err != nil {
		return nil, nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to SSH agent")
	}

	agentClient := agent.NewClient(conn)
	keys, err := agentClient.List()
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "failed to list SSH agent keys")
	}
	log.Debugf("SSH agent at %s has %d key(s) available", socket, len(keys))

	return ssh.PublicKeysCallback(agentClient.Signers), conn, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// knownHostsPath returns the configured known_hosts file or ~/.ssh/known_hosts
func (o Options) knownHostsPath() (string, error) {
	if o.KnownHostsFile != "" {
		return expandHome(o.KnownHostsFile), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(homeDir, ".ssh", "known_hosts"), nil
}

// hostKeyAlgorithms returns the key types known_hosts already has for
// host:port so the server is asked for a key we can verify. The knownhosts
// package cannot answer this, hence the manual scan.
func (o Options) hostKeyAlgorithms(addr string) []string {
	path, err := o.knownHostsPath()
	if err != nil {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	want := knownhosts.Normalize(addr)
	var algorithms []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "@") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		for _, pattern := range strings.Split(fields[0], ",") {
			// Hashed entries cannot be matched without the salt dance
			if strings.HasPrefix(pattern, "|1|") {
				continue
			}
			if knownhosts.Normalize(pattern) == want && !seen[fields[1]] {
				seen[fields[1]] = true
				algorithms = append(algorithms, fields[1])
			}
		}
	}
	return algorithms
}

// hostKeyCallback verifies server keys against known_hosts. Unknown hosts
// are appended when AutoAddHostKey is set; a changed key is always fatal.
func (o Options) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if o.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path, err := o.knownHostsPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Warnf("Known hosts file %s does not exist; creating empty file", path)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.Wrap(err, "failed to create known_hosts directory")
		}
		if err := os.WriteFile(path, []byte{}, 0600); err != nil {
			return nil, errors.Wrap(err, "failed to create known_hosts file")
		}
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse known_hosts file")
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			log.Errorf("SSH host key mismatch for %s: server offered %s %s", hostname, key.Type(), ssh.FingerprintSHA256(key))
			for i, want := range keyErr.Want {
				log.Errorf("  known_hosts entry #%d: %s:%d type=%s fingerprint=%s",
					i+1, want.Filename, want.Line, want.Key.Type(), ssh.FingerprintSHA256(want.Key))
			}
			return errors.Wrapf(err, "host key verification failed for %s: host key has changed", hostname)
		}
		if !o.AutoAddHostKey {
			log.Errorf("SSH host %s is not in %s (fingerprint %s); add it with: ssh-keyscan -H %s >> %s",
				hostname, path, ssh.FingerprintSHA256(key), hostname, path)
			return errors.Wrapf(err, "host %s is not in known_hosts file", hostname)
		}

		log.Warnf("Adding unknown host %s to %s (fingerprint %s)", hostname, path, ssh.FingerprintSHA256(key))
		if err := appendKnownHost(path, hostname, key); err != nil {
			return err
		}
		return nil
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrap(err, "failed to open known_hosts file")
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return errors.Wrap(err, "failed to write to known_hosts file")
	}
	return nil
}
