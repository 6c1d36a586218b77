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

package main

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/resolver"
	"github.com/hoptree/hoptree/session"
	"github.com/hoptree/hoptree/ssh_transport"
)

var (
	connectCmd = &cobra.Command{
		Use:   "connect [node-id]",
		Short: "Open an interactive shell on a node or locally",
		Long: `Open an interactive shell on an SSH node, hopping through its jump chain
when it has one. With --local, start a shell on this machine instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConnect,
	}

	connectLocal bool
	connectShell string
)

func init() {
	connectCmd.Flags().BoolVar(&connectLocal, "local", false, "Start a local shell instead of connecting to a node")
	connectCmd.Flags().StringVar(&connectShell, "shell", "", "Shell for --local (default is Session.LocalShell, then $SHELL)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	if connectLocal == (len(args) == 1) {
		return errors.New("give either a node id or --local")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var params *resolver.SshParams
	if !connectLocal {
		inv, err := loadInventory()
		if err != nil {
			return err
		}
		node, err := inv.Node(args[0])
		if err != nil {
			return err
		}
		if node.Type != inventory.NodeTypeSSH {
			return errors.Errorf("node %s is a %s node; only ssh nodes have shells", node.ID, node.Type)
		}
		if params, err = resolver.ResolveSsh(node, inv.Nodes, inv.Credentials, inv.Tunnels); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	done := make(chan struct{})
	var closeOnce sync.Once
	events := session.Events{
		OnData: func(_ string, data []byte) {
			_, _ = out.Write(data)
		},
		OnClosed: func(string) {
			closeOnce.Do(func() { close(done) })
		},
		OnError: func(id, msg string) {
			log.Debugf("Session %s failed: %s", id, msg)
		},
	}

	opts := ssh_transport.OptionsFromConfig()
	manager := session.NewManager(ssh_transport.NewDialer(opts), opts, events)
	defer manager.CloseAll()

	id := uuid.NewString()
	var err error
	if connectLocal {
		err = manager.CreateLocalSession(ctx, id, connectShell)
	} else {
		err = manager.CreateSession(ctx, id, params)
	}
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return errors.Wrap(err, "failed to put the terminal into raw mode")
		}
		defer func() {
			if err := term.Restore(fd, state); err != nil {
				log.Warningf("Failed to restore the terminal: %v", err)
			}
		}()
		syncSize(manager, id, fd)
		stopResize := watchResize(manager, id, fd)
		defer stopResize()
	}

	go pumpInput(manager, id, os.Stdin)

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

// syncSize copies the local terminal size to the session
func syncSize(manager *session.Manager, id string, fd int) {
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		log.Debugf("Cannot read terminal size: %v", err)
		return
	}
	if err := manager.Resize(id, rows, cols); err != nil {
		log.Debugf("Cannot resize session %s: %v", id, err)
	}
}

// pumpInput copies stdin into the session until either side ends
func pumpInput(manager *session.Manager, id string, in *os.File) {
	buf := make([]byte, 1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if werr := manager.Write(id, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			_ = manager.Close(id)
			return
		}
	}
}
