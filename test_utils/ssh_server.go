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

package test_utils

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type (
	// SSHServerConfig holds the configuration for a test SSH server
	SSHServerConfig struct {
		// User is the only account accepted; defaults to "testuser"
		User string

		// Password is accepted for password auth when set
		Password string

		// PublicKey is the authorized public key for publickey auth
		PublicKey ssh.PublicKey

		// HostKey is the server's host key; generated when nil
		HostKey ssh.Signer
	}

	// SSHServer is an in-process SSH server supporting shells that echo their
	// input, exec of echo commands, direct-tcpip forwarding and the sftp
	// subsystem. It records who logged in and where forwards went.
	SSHServer struct {
		Port       int
		HostKey    ssh.Signer
		KnownHosts string

		listener net.Listener
		config   *ssh.ServerConfig
		cfg      SSHServerConfig
		stopCh   chan struct{}
		stopOnce sync.Once
		wg       sync.WaitGroup

		mu             sync.Mutex
		conns          []net.Conn
		logins         []string
		forwardTargets []string
		windowChanges  [][2]uint32
	}

	// directTCPIPPayload is the extra data of a direct-tcpip channel open (RFC 4254 7.2)
	directTCPIPPayload struct {
		Host       string
		Port       uint32
		OriginAddr string
		OriginPort uint32
	}
)

// StartSSHServer starts a test SSH server on 127.0.0.1 and writes a
// known_hosts file for it into a temporary directory. The server is stopped
// when the test ends.
func StartSSHServer(t *testing.T, cfg SSHServerConfig) *SSHServer {
	t.Helper()
	if cfg.User == "" {
		cfg.User = "testuser"
	}
	if cfg.HostKey == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		signer, err := ssh.NewSignerFromKey(priv)
		require.NoError(t, err)
		cfg.HostKey = signer
	}

	serverConfig := &ssh.ServerConfig{}
	if cfg.Password != "" {
		serverConfig.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == cfg.User && string(pass) == cfg.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	if cfg.PublicKey != nil {
		serverConfig.PublicKeyCallback = func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == cfg.User && bytes.Equal(pubKey.Marshal(), cfg.PublicKey.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		}
	}
	serverConfig.AddHostKey(cfg.HostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &SSHServer{
		Port:     listener.Addr().(*net.TCPAddr).Port,
		HostKey:  cfg.HostKey,
		listener: listener,
		config:   serverConfig,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}

	server.KnownHosts = filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(server.KnownHosts, []byte(server.KnownHostsLine()+"\n"), 0644))

	server.wg.Add(1)
	go server.acceptConnections()
	t.Cleanup(server.Stop)
	return server
}

// Addr is host:port of the listener
func (s *SSHServer) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port))
}

// KnownHostsLine is the known_hosts entry for this server.
// Format: [host]:port key-type base64-key
func (s *SSHServer) KnownHostsLine() string {
	authorizedKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(s.HostKey.PublicKey())))
	return fmt.Sprintf("[127.0.0.1]:%d %s", s.Port, authorizedKey)
}

// Logins returns the users that authenticated, in order
func (s *SSHServer) Logins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logins...)
}

// ForwardTargets returns the host:port of every direct-tcpip channel opened
func (s *SSHServer) ForwardTargets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.forwardTargets...)
}

// WindowChanges returns the (cols, rows) of every window-change request
func (s *SSHServer) WindowChanges() [][2]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint32(nil), s.windowChanges...)
}

// DropConnections closes every accepted connection without stopping the
// listener, as a server restart would.
func (s *SSHServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func (s *SSHServer) acceptConnections() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		// Set a deadline so we can check stopCh periodically
		_ = s.listener.(*net.TCPListener).SetDeadline(time.Now().Add(100 * time.Millisecond))
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *SSHServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		// Auth failures are expected in some tests
		return
	}
	defer sshConn.Close()

	s.mu.Lock()
	s.logins = append(s.logins, sshConn.User())
	s.mu.Unlock()

	go s.handleGlobalRequests(reqs)

	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			channel, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			go s.handleSession(channel, requests)
		case "direct-tcpip":
			go s.handleDirectTCPIP(newChannel)
		default:
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

// handleGlobalRequests answers keepalives the way OpenSSH does
func (s *SSHServer) handleGlobalRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

func (s *SSHServer) handleDirectTCPIP(newChannel ssh.NewChannel) {
	var payload directTCPIPPayload
	if err := ssh.Unmarshal(newChannel.ExtraData(), &payload); err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload")
		return
	}
	target := net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port)))

	s.mu.Lock()
	s.forwardTargets = append(s.forwardTargets, target)
	s.mu.Unlock()

	upstream, err := net.DialTimeout("tcp", target, 5*time.Second)
	if err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	channel, requests, err := newChannel.Accept()
	if err != nil {
		upstream.Close()
		return
	}
	go ssh.DiscardRequests(requests)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(upstream, channel)
		if tc, ok := upstream.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(channel, upstream)
		_ = channel.CloseWrite()
	}()
	wg.Wait()
	channel.Close()
	upstream.Close()
}

func (s *SSHServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			_ = req.Reply(true, nil)
		case "window-change":
			if len(req.Payload) >= 8 {
				cols := binary.BigEndian.Uint32(req.Payload[0:4])
				rows := binary.BigEndian.Uint32(req.Payload[4:8])
				s.mu.Lock()
				s.windowChanges = append(s.windowChanges, [2]uint32{cols, rows})
				s.mu.Unlock()
			}
		case "shell":
			_ = req.Reply(true, nil)
			go func() {
				echoShell(ch)
				_, _ = ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
				ch.Close()
			}()
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)
			if strings.HasPrefix(payload.Command, "echo ") {
				_, _ = ch.Write([]byte(payload.Command[5:] + "\n"))
			} else {
				_, _ = ch.Write([]byte("unknown command\n"))
			}
			_, _ = ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			return
		case "subsystem":
			var payload struct{ Name string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			go func() {
				_ = server.Serve()
				server.Close()
				ch.Close()
			}()
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// echoShell writes back whatever it reads until it sees "exit" on a line
func echoShell(ch ssh.Channel) {
	buf := make([]byte, 4096)
	var line bytes.Buffer
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := ch.Write(buf[:n]); werr != nil {
				return
			}
			line.Write(buf[:n])
			if bytes.Contains(line.Bytes(), []byte("exit\n")) || bytes.Contains(line.Bytes(), []byte("exit\r")) {
				return
			}
			if idx := bytes.LastIndexAny(line.Bytes(), "\r\n"); idx >= 0 {
				rest := append([]byte(nil), line.Bytes()[idx+1:]...)
				line.Reset()
				line.Write(rest)
			}
		}
		if err != nil {
			return
		}
	}
}

// Stop closes the listener and every live connection, then waits for the
// handlers to exit.
func (s *SSHServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.listener.Close()
		s.DropConnections()
		s.wg.Wait()
	})
}

// WriteKnownHosts concatenates the known_hosts lines of several servers into
// one file, as needed when a chain crosses them all.
func WriteKnownHosts(t *testing.T, servers ...*SSHServer) string {
	t.Helper()
	var lines []string
	for _, s := range servers {
		lines = append(lines, s.KnownHostsLine())
	}
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))
	return path
}

// WriteClientKey generates an ed25519 key pair, writes the private half in
// OpenSSH format (encrypted when passphrase is set) and returns its path and
// the public key.
func WriteClientKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "")
	}
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path, signer.PublicKey()
}
