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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/hoptree/hoptree/test_utils"
)

func serverEndpoint(s *test_utils.SSHServer) Endpoint {
	return Endpoint{Host: "127.0.0.1", Port: s.Port, Username: "testuser"}
}

func runEcho(t *testing.T, client Client, msg string) string {
	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()
	out, err := session.Output("echo " + msg)
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}

func TestDialAuthMethods(t *testing.T) {
	t.Cleanup(test_utils.SetupTestLogging(t))

	plainKey, plainPub := test_utils.WriteClientKey(t, "")
	encKey, encPub := test_utils.WriteClientKey(t, "open sesame")

	tests := []struct {
		name      string
		server    test_utils.SSHServerConfig
		endpoint  func(ep Endpoint) Endpoint
		expectErr string
	}{
		{
			name:   "password",
			server: test_utils.SSHServerConfig{Password: "hunter2"},
			endpoint: func(ep Endpoint) Endpoint {
				ep.Password = "hunter2"
				return ep
			},
		},
		{
			name:   "private-key",
			server: test_utils.SSHServerConfig{PublicKey: plainPub},
			endpoint: func(ep Endpoint) Endpoint {
				ep.KeyPath = plainKey
				return ep
			},
		},
		{
			name:   "encrypted-key-with-passphrase",
			server: test_utils.SSHServerConfig{PublicKey: encPub},
			endpoint: func(ep Endpoint) Endpoint {
				ep.KeyPath = encKey
				ep.KeyPassphrase = "open sesame"
				return ep
			},
		},
		{
			name:   "key-preferred-over-password",
			server: test_utils.SSHServerConfig{PublicKey: plainPub},
			endpoint: func(ep Endpoint) Endpoint {
				ep.KeyPath = plainKey
				ep.Password = "not-used"
				return ep
			},
		},
		{
			name:   "wrong-password",
			server: test_utils.SSHServerConfig{Password: "hunter2"},
			endpoint: func(ep Endpoint) Endpoint {
				ep.Password = "hunter3"
				return ep
			},
			expectErr: "unable to authenticate",
		},
		{
			name:   "encrypted-key-without-passphrase",
			server: test_utils.SSHServerConfig{PublicKey: encPub},
			endpoint: func(ep Endpoint) Endpoint {
				ep.KeyPath = encKey
				return ep
			},
			expectErr: "no passphrase configured",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := test_utils.StartSSHServer(t, tc.server)
			dialer := NewDialer(Options{KnownHostsFile: server.KnownHosts, ConnectTimeout: 5 * time.Second})

			client, err := dialer.Dial(context.Background(), "tcp", server.Addr(), tc.endpoint(serverEndpoint(server)))
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			defer client.Close()
			assert.Equal(t, "hello", runEcho(t, client, "hello"))
			assert.Equal(t, []string{"testuser"}, server.Logins())
		})
	}
}

func TestDialNoAuthMethod(t *testing.T) {
	server := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{Password: "hunter2"})
	dialer := NewDialer(Options{KnownHostsFile: server.KnownHosts})

	_, err := dialer.Dial(context.Background(), "tcp", server.Addr(), serverEndpoint(server))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoAuthMethod))
	assert.Empty(t, server.Logins())
}

func TestDialAgentWithoutSocket(t *testing.T) {
	server := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{Password: "hunter2"})
	dialer := NewDialer(Options{KnownHostsFile: server.KnownHosts})
	t.Setenv("SSH_AUTH_SOCK", "")

	ep := serverEndpoint(server)
	ep.UseAgent = true
	_, err := dialer.Dial(context.Background(), "tcp", server.Addr(), ep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNoAuthMethod.Error())
	assert.Contains(t, err.Error(), "SSH_AUTH_SOCK")
}

func TestDialHostKeyVerification(t *testing.T) {
	t.Cleanup(test_utils.SetupTestLogging(t))
	server := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{Password: "hunter2"})
	ep := serverEndpoint(server)
	ep.Password = "hunter2"

	t.Run("unknown-host-rejected", func(t *testing.T) {
		emptyKnownHosts := filepath.Join(t.TempDir(), "known_hosts")
		dialer := NewDialer(Options{KnownHostsFile: emptyKnownHosts})
		_, err := dialer.Dial(context.Background(), "tcp", server.Addr(), ep)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in known_hosts")

		// The file is created but nothing is added to it
		content, err := os.ReadFile(emptyKnownHosts)
		require.NoError(t, err)
		assert.Empty(t, content)
	})

	t.Run("unknown-host-auto-added", func(t *testing.T) {
		knownHosts := filepath.Join(t.TempDir(), "ssh", "known_hosts")
		dialer := NewDialer(Options{KnownHostsFile: knownHosts, AutoAddHostKey: true})
		client, err := dialer.Dial(context.Background(), "tcp", server.Addr(), ep)
		require.NoError(t, err)
		client.Close()

		content, err := os.ReadFile(knownHosts)
		require.NoError(t, err)
		assert.Contains(t, string(content), "[127.0.0.1]:")

		// Second connect verifies against the recorded key without auto-add
		strict := NewDialer(Options{KnownHostsFile: knownHosts})
		client, err = strict.Dial(context.Background(), "tcp", server.Addr(), ep)
		require.NoError(t, err)
		client.Close()
	})

	t.Run("changed-key-is-fatal", func(t *testing.T) {
		other := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{})
		// Claim the other server's key belongs to our server
		otherKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(other.HostKey.PublicKey())))
		line := fmt.Sprintf("[127.0.0.1]:%d %s", server.Port, otherKey)
		knownHosts := filepath.Join(t.TempDir(), "known_hosts")
		require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0600))

		dialer := NewDialer(Options{KnownHostsFile: knownHosts, AutoAddHostKey: true})
		_, err := dialer.Dial(context.Background(), "tcp", server.Addr(), ep)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host key has changed")
	})
}

func TestDialCancelledContext(t *testing.T) {
	server := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{Password: "hunter2"})
	dialer := NewDialer(Options{KnownHostsFile: server.KnownHosts})
	ep := serverEndpoint(server)
	ep.Password = "hunter2"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dialer.Dial(ctx, "tcp", server.Addr(), ep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancel")
}

func TestHostKeyAlgorithms(t *testing.T) {
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	content := `# comment
[10.0.0.5]:2222 ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIEXAMPLE
[10.0.0.5]:2222 ecdsa-sha2-nistp256 AAAAE2VjZHNhLXNoYTItbmlzdHAyNTYAAAAIbmlzdHAyNTYAAABBBEXAMPLE
10.0.0.5 ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQEXAMPLE
bastion.example.org,10.0.0.9 ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIEXAMPLE2
|1|hashedsalt=|hashedhost= ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQEXAMPLE3
`
	require.NoError(t, os.WriteFile(knownHosts, []byte(content), 0600))
	opts := Options{KnownHostsFile: knownHosts}

	assert.Equal(t, []string{"ssh-ed25519", "ecdsa-sha2-nistp256"}, opts.hostKeyAlgorithms("10.0.0.5:2222"))
	assert.Equal(t, []string{"ssh-rsa"}, opts.hostKeyAlgorithms("10.0.0.5:22"))
	assert.Equal(t, []string{"ssh-ed25519"}, opts.hostKeyAlgorithms("bastion.example.org:22"))
	assert.Nil(t, opts.hostKeyAlgorithms("unknown.example.org:22"))
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), expandHome("~/.ssh/id_ed25519"))
	assert.Equal(t, "/etc/ssh/key", expandHome("/etc/ssh/key"))
	assert.Equal(t, "relative/key", expandHome("relative/key"))
}
