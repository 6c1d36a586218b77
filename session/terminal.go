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

package session

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/hoptree/hoptree/ssh_transport"
)

type (
	// remoteTerminal is an interactive shell channel on the final client
	// of a chain
	remoteTerminal struct {
		chain   *ssh_transport.Chain
		session *ssh.Session
		stdin   io.WriteCloser
		output  *io.PipeReader
	}

	// localTerminal is a shell process on a pty
	localTerminal struct {
		cmd    *exec.Cmd
		ptmx   *os.File
		exited chan struct{}

		closeOnce sync.Once
		closeErr  error
	}
)

var terminalModes = ssh.TerminalModes{
	ssh.ECHO:          1,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
}

// openRemoteTerminal requests a pty and a shell on the chain's final client.
// stdout and stderr are merged into one stream that ends when the shell
// exits or the connection drops.
func openRemoteTerminal(chain *ssh_transport.Chain, termType string) (*remoteTerminal, error) {
	sess, err := chain.Client().NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open session channel")
	}
	if err := sess.RequestPty(termType, DefaultRows, DefaultCols, terminalModes); err != nil {
		sess.Close()
		return nil, errors.Wrap(err, "failed to request PTY")
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}
	pr, pw := io.Pipe()
	sess.Stdout = pw
	sess.Stderr = pw
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, errors.Wrap(err, "failed to start shell")
	}
	go func() {
		err := sess.Wait()
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
	}()
	return &remoteTerminal{chain: chain, session: sess, stdin: stdin, output: pr}, nil
}

func (t *remoteTerminal) Read(p []byte) (int, error) {
	return t.output.Read(p)
}

func (t *remoteTerminal) Write(p []byte) (int, error) {
	return t.stdin.Write(p)
}

func (t *remoteTerminal) Resize(rows, cols int) error {
	return t.session.WindowChange(rows, cols)
}

// Close shuts the shell channel first, then the chain, which releases the
// final client and every forward and hop in reverse.
func (t *remoteTerminal) Close() error {
	if err := t.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		log.Debugf("Closing shell channel: %v", err)
	}
	t.output.Close()
	return t.chain.Close()
}

func startLocalTerminal(shell, termType string) (*localTerminal, error) {
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM="+termType)
	if home, err := os.UserHomeDir(); err == nil {
		cmd.Dir = home
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", shell)
	}
	t := &localTerminal{cmd: cmd, ptmx: ptmx, exited: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(t.exited)
	}()
	return t, nil
}

// Read returns io.EOF once the shell has exited; Linux reports EIO on the
// pty master instead.
func (t *localTerminal) Read(p []byte) (int, error) {
	n, err := t.ptmx.Read(p)
	if err != nil && (errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO)) {
		return n, io.EOF
	}
	return n, err
}

func (t *localTerminal) Write(p []byte) (int, error) {
	return t.ptmx.Write(p)
}

func (t *localTerminal) Resize(rows, cols int) error {
	return pty.Setsize(t.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close closes the pty, then kills the shell if it is still running and
// reaps it.
func (t *localTerminal) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.ptmx.Close()
		select {
		case <-t.exited:
		default:
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-t.exited
		}
	})
	return t.closeErr
}
