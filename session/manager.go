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
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hoptree/hoptree/metrics"
	"github.com/hoptree/hoptree/param"
	"github.com/hoptree/hoptree/resolver"
	"github.com/hoptree/hoptree/ssh_transport"
)

const readBufferSize = 32 * 1024

// Manager owns every live session. Sessions are created synchronously on
// the caller's goroutine; each then runs one read loop of its own.
type Manager struct {
	dialer ssh_transport.Dialer
	opts   ssh_transport.Options
	events Events

	mu       sync.RWMutex
	sessions map[string]*Session
	// pending holds ids whose creation is in flight
	pending map[string]struct{}
}

func NewManager(dialer ssh_transport.Dialer, opts ssh_transport.Options, events Events) *Manager {
	return &Manager{
		dialer:   dialer,
		opts:     opts,
		events:   events,
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
	}
}

// reserve claims id for a session being created
func (m *Manager) reserve(id string) error {
	if id == "" {
		return errors.New("session id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return errors.Wrapf(ErrSessionExists, "session %s", id)
	}
	if _, ok := m.pending[id]; ok {
		return errors.Wrapf(ErrSessionExists, "session %s", id)
	}
	m.pending[id] = struct{}{}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}

// fail reports a creation failure through OnError and returns err
func (m *Manager) fail(id string, kind Kind, err error) error {
	m.release(id)
	metrics.SessionsFailedTotal.WithLabelValues(string(kind)).Inc()
	log.Warningf("Failed to open %s session %s: %v", kind, id, err)
	m.events.error(id, err.Error())
	return err
}

// CreateSession connects to a resolved SSH target, through its jump chain
// when it has one, and opens an interactive shell. On failure OnError is
// called, nothing is registered and every hop already opened is released.
func (m *Manager) CreateSession(ctx context.Context, id string, params *resolver.SshParams) error {
	if err := m.reserve(id); err != nil {
		return err
	}
	if params == nil {
		return m.fail(id, KindRemote, errors.New("no connection parameters"))
	}

	final := ssh_transport.EndpointFromParams(params)
	chain, err := ssh_transport.BuildChain(ctx, m.dialer, params.JumpChain, final, m.opts)
	if err != nil {
		return m.fail(id, KindRemote, err)
	}

	termType := param.Session_Term.GetString()
	if termType == "" {
		termType = DefaultTerm
	}
	term, err := openRemoteTerminal(chain, termType)
	if err != nil {
		if closeErr := chain.Close(); closeErr != nil {
			log.Debugf("Error releasing chain for session %s: %v", id, closeErr)
		}
		return m.fail(id, KindRemote, err)
	}

	target := final.Address()
	if n := len(params.JumpChain); n > 0 {
		target = fmt.Sprintf("%s via %d jump host(s)", target, n)
	}
	keepaliveCtx, cancel := context.WithCancel(context.Background())
	s := m.register(id, KindRemote, target, term, cancel)
	go ssh_transport.Keepalive(keepaliveCtx, chain.Client(), m.opts.KeepaliveInterval, func(err error) {
		log.Warningf("Session %s lost its connection: %v", id, err)
		m.closeSession(s)
	})

	log.Infof("Opened remote session %s to %s", id, target)
	m.events.connected(id)
	go m.readLoop(s)
	return nil
}

// CreateLocalSession starts shell on a pty. An empty shell falls back to
// Session.LocalShell, then $SHELL, then /bin/sh.
func (m *Manager) CreateLocalSession(ctx context.Context, id, shell string) error {
	if err := m.reserve(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return m.fail(id, KindLocal, err)
	}

	shell = localShell(shell)
	termType := param.Session_Term.GetString()
	if termType == "" {
		termType = DefaultTerm
	}
	term, err := startLocalTerminal(shell, termType)
	if err != nil {
		return m.fail(id, KindLocal, err)
	}

	s := m.register(id, KindLocal, shell, term, nil)
	log.Infof("Opened local session %s running %s", id, shell)
	go m.readLoop(s)
	return nil
}

func localShell(shell string) string {
	if shell != "" {
		return shell
	}
	if configured := param.Session_LocalShell.GetString(); configured != "" {
		return configured
	}
	if env := os.Getenv("SHELL"); env != "" {
		return env
	}
	return "/bin/sh"
}

// register publishes a session; stop, if set, runs when the session closes.
func (m *Manager) register(id string, kind Kind, target string, term terminal, stop func()) *Session {
	s := &Session{
		info:   Info{ID: id, Kind: kind, Target: target, Started: time.Now()},
		term:   term,
		closed: make(chan struct{}),
		stop:   stop,
	}
	m.mu.Lock()
	delete(m.pending, id)
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsOpenedTotal.WithLabelValues(string(kind)).Inc()
	metrics.SessionsActive.WithLabelValues(string(kind)).Inc()
	metrics.SetComponentHealthStatus(metrics.Hoptree_SessionManager, metrics.StatusOK, fmt.Sprintf("%d session(s) open", count))
	return s
}

// readLoop blocks on the terminal and republishes what it reads until the
// stream ends, then tears the session down.
func (m *Manager) readLoop(s *Session) {
	kind := string(s.info.Kind)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.term.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			metrics.SessionBytesReceived.WithLabelValues(kind).Add(float64(n))
			m.events.data(s.info.ID, data)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				select {
				case <-s.closed:
				default:
					log.Debugf("Read from session %s ended: %v", s.info.ID, err)
				}
			}
			break
		}
	}
	m.closeSession(s)
}

// closeSession is the only teardown path: remote EOF, process exit, failed
// keepalive and Close all end here, and OnClosed fires once.
func (m *Manager) closeSession(s *Session) {
	s.closeOnce.Do(func() {
		m.mu.Lock()
		if current, ok := m.sessions[s.info.ID]; ok && current == s {
			delete(m.sessions, s.info.ID)
		}
		count := len(m.sessions)
		m.mu.Unlock()

		if s.stop != nil {
			s.stop()
		}
		close(s.closed)
		if err := s.term.Close(); err != nil {
			log.Debugf("Error tearing down session %s: %v", s.info.ID, err)
		}

		metrics.SessionsActive.WithLabelValues(string(s.info.Kind)).Dec()
		metrics.SetComponentHealthStatus(metrics.Hoptree_SessionManager, metrics.StatusOK, fmt.Sprintf("%d session(s) open", count))
		log.Infof("Closed %s session %s", s.info.Kind, s.info.ID)
		m.events.closed(s.info.ID)
	})
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	return s, nil
}

// Write sends data to the session's input. Concurrent writers are
// serialised so their frames never interleave.
func (m *Manager) Write(id string, data []byte) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return errors.Wrapf(ErrSessionNotFound, "session %s", id)
	default:
	}
	n, err := s.term.Write(data)
	metrics.SessionBytesSent.WithLabelValues(string(s.info.Kind)).Add(float64(n))
	if err != nil {
		return errors.Wrapf(err, "failed to write to session %s", id)
	}
	return nil
}

func (m *Manager) Resize(id string, rows, cols int) error {
	if rows <= 0 || cols <= 0 || rows > 0xffff || cols > 0xffff {
		return errors.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if err := s.term.Resize(rows, cols); err != nil {
		return errors.Wrapf(err, "failed to resize session %s", id)
	}
	return nil
}

// Close tears a session down. Closing an unknown or already closed
// session is a no-op.
func (m *Manager) Close(id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	m.closeSession(s)
	return nil
}

func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Get returns the registered session with id
func (m *Manager) Get(id string) (*Session, bool) {
	s, err := m.get(id)
	return s, err == nil
}

// List returns the open sessions ordered by id
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info)
	}
	m.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every open session
func (m *Manager) CloseAll() {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()
	for _, s := range all {
		m.closeSession(s)
	}
}
