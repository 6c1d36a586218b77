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
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// SSHDialer is the Dialer backed by golang.org/x/crypto/ssh
type SSHDialer struct {
	Options Options
}

// NewDialer returns a Dialer using opts for timeouts and host key checks
func NewDialer(opts Options) *SSHDialer {
	return &SSHDialer{Options: opts}
}

// Dial connects to addr and authenticates as ep. The handshake runs in a
// goroutine so that cancelling ctx aborts it by closing the socket.
func (d *SSHDialer) Dial(ctx context.Context, network, addr string, ep Endpoint) (Client, error) {
	methods, cleanup, err := buildAuthMethods(ctx, ep)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := d.Options.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	// Host keys are checked against where the user meant to go, not the
	// local forward that may be carrying the connection.
	hostAddr := ep.Address()
	config := &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.Options.connectTimeout(),
	}
	if !d.Options.InsecureIgnoreHostKey {
		if algorithms := d.Options.hostKeyAlgorithms(hostAddr); len(algorithms) > 0 {
			config.HostKeyAlgorithms = algorithms
		}
	}

	log.Debugf("Dialing %s (%s) as %q", addr, hostAddr, ep.Username)
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}

	sshConn, chans, reqs, err := newClientConnWithContext(ctx, conn, hostAddr, config)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "SSH handshake with %s failed", hostAddr)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// newClientConnWithContext wraps ssh.NewClientConn, aborting the handshake
// by closing conn when ctx is done.
func newClientConnWithContext(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		sshConn ssh.Conn
		chans   <-chan ssh.NewChannel
		reqs    <-chan *ssh.Request
		err     error
	}

	done := make(chan result, 1)
	go func() {
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{sshConn, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		// Drain so the goroutine does not outlive us holding a half-open conn
		if r := <-done; r.sshConn != nil {
			r.sshConn.Close()
		}
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.sshConn, r.chans, r.reqs, r.err
	}
}
