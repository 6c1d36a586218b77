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
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LocalForward listens on an ephemeral loopback port and carries every
// accepted connection to a remote address through an SSH client.
type LocalForward struct {
	client   Client
	remote   string
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	stopOnce   sync.Once
	acceptDone chan struct{}
}

// StartLocalForward binds 127.0.0.1:0 and starts accepting. The forward runs
// until Stop is called or the carrying client goes away.
func StartLocalForward(client Client, remote string) (*LocalForward, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open local forward listener")
	}
	f := &LocalForward{
		client:   client,
		remote:   remote,
		listener: listener,
		conns:      make(map[net.Conn]struct{}),
		acceptDone: make(chan struct{}),
	}
	go f.acceptLoop()
	log.Debugf("Forwarding 127.0.0.1:%d to %s", f.Port(), remote)
	return f, nil
}

// Port is the bound local port
func (f *LocalForward) Port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

// Addr is the bound local address
func (f *LocalForward) Addr() string {
	return f.listener.Addr().String()
}

// Remote is the address the forward leads to
func (f *LocalForward) Remote() string {
	return f.remote
}

func (f *LocalForward) acceptLoop() {
	defer close(f.acceptDone)
	for {
		local, err := f.listener.Accept()
		if err != nil {
			return
		}
		if !f.track(local) {
			local.Close()
			return
		}
		go f.pipe(local)
	}
}

// pipe is not waited on by Stop. A channel open can sit in client.Dial until
// the carrying client is closed, which only happens after the forward stops.
func (f *LocalForward) pipe(local net.Conn) {
	defer f.untrack(local)
	defer local.Close()

	remote, err := f.client.Dial("tcp", f.remote)
	if err != nil {
		log.Warnf("Local forward to %s failed: %v", f.remote, err)
		return
	}
	if !f.track(remote) {
		remote.Close()
		return
	}
	defer f.untrack(remote)
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(remote, local)
		closeWrite(remote)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(local, remote)
		closeWrite(local)
	}()
	wg.Wait()
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

// track registers a live conn; false once the forward is stopped
func (f *LocalForward) track(conn net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns == nil {
		return false
	}
	f.conns[conn] = struct{}{}
	return true
}

func (f *LocalForward) untrack(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns != nil {
		delete(f.conns, conn)
	}
}

// Stop closes the listener and every live pipe, then waits for the accept
// loop to exit. A pipe still opening its remote channel is abandoned; its
// conn is closed as soon as the dial returns. Calling Stop again is a no-op.
func (f *LocalForward) Stop() error {
	var err error
	f.stopOnce.Do(func() {
		err = f.listener.Close()
		f.mu.Lock()
		conns := f.conns
		f.conns = nil
		f.mu.Unlock()
		for conn := range conns {
			conn.Close()
		}
		<-f.acceptDone
	})
	return err
}

// Close is Stop, so a forward can sit in a list of io.Closers
func (f *LocalForward) Close() error {
	return f.Stop()
}
