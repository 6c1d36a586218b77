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

// Package session keeps the registry of interactive terminals: local shells
// on a pty and remote shells reached over an SSH jump chain.
package session

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type (
	Kind string

	// Events are the callbacks a Manager reports through. Nil callbacks
	// are skipped. They run on the session's read loop or on the caller's
	// goroutine and must not block for long.
	Events struct {
		OnData      func(id string, data []byte)
		OnConnected func(id string)
		OnClosed    func(id string)
		OnError     func(id, msg string)
	}

	// Info describes a registered session
	Info struct {
		ID      string    `json:"id"`
		Kind    Kind      `json:"kind"`
		Target  string    `json:"target"`
		Started time.Time `json:"started"`
	}

	// terminal is the I/O surface of one session variant
	terminal interface {
		io.ReadWriter
		Resize(rows, cols int) error
		// Close tears the terminal down in reverse order of creation
		Close() error
	}

	// Session is a registered handle
	Session struct {
		info Info
		term terminal

		writeMu   sync.Mutex
		closeOnce sync.Once
		closed    chan struct{}
		// stop ends helpers such as keepalive
		stop func()
	}
)

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"

	DefaultRows = 24
	DefaultCols = 80
	DefaultTerm = "xterm-256color"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

func (e Events) data(id string, b []byte) {
	if e.OnData != nil {
		e.OnData(id, b)
	}
}

func (e Events) connected(id string) {
	if e.OnConnected != nil {
		e.OnConnected(id)
	}
}

func (e Events) closed(id string) {
	if e.OnClosed != nil {
		e.OnClosed(id)
	}
}

func (e Events) error(id, msg string) {
	if e.OnError != nil {
		e.OnError(id, msg)
	}
}

func (s *Session) Info() Info {
	return s.info
}

// Done is closed when the session starts tearing down
func (s *Session) Done() <-chan struct{} {
	return s.closed
}
