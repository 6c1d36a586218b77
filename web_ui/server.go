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

package web_ui

import (
	"net/http"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/resolver"
	"github.com/hoptree/hoptree/session"
	"github.com/hoptree/hoptree/sftp_pool"
	"github.com/hoptree/hoptree/ssh_transport"
)

type (
	// Server bridges HTTP and websocket clients to the inventory, the
	// session manager and the SFTP pool.
	Server struct {
		inv     *inventory.Inventory
		pool    *sftp_pool.Pool
		manager *session.Manager

		// terminals maps a session id to the websocket carrying it
		mu        sync.Mutex
		terminals map[string]*terminalConn
	}

	// NodeSummary is one entry of the node listing
	NodeSummary struct {
		ID       string             `json:"id"`
		ParentID string             `json:"parent_id,omitempty"`
		Type     inventory.NodeType `json:"type"`
		Name     string             `json:"name"`
	}

	// ResolveResponse carries exactly one of the resolved parameter sets.
	// Secrets never leave the process.
	ResolveResponse struct {
		NodeID string              `json:"node_id"`
		Type   inventory.NodeType  `json:"type"`
		Ssh    *resolver.SshParams `json:"ssh,omitempty"`
		Rdp    *resolver.RdpParams `json:"rdp,omitempty"`
	}

	// FileEntry is one entry of a remote directory listing
	FileEntry struct {
		Name    string    `json:"name"`
		Size    int64     `json:"size"`
		Mode    string    `json:"mode"`
		ModTime time.Time `json:"mod_time"`
		IsDir   bool      `json:"is_dir"`
	}
)

// NewServer creates a Server whose session manager reports to the
// websockets attached to it.
func NewServer(inv *inventory.Inventory, dialer ssh_transport.Dialer, opts ssh_transport.Options, pool *sftp_pool.Pool) *Server {
	if inv == nil {
		inv = &inventory.Inventory{}
	}
	s := &Server{
		inv:       inv,
		pool:      pool,
		terminals: make(map[string]*terminalConn),
	}
	s.manager = session.NewManager(dialer, opts, session.Events{
		OnData:      s.onData,
		OnConnected: s.onConnected,
		OnClosed:    s.onClosed,
		OnError:     s.onError,
	})
	return s
}

// Manager is the session manager behind the terminal endpoint
func (s *Server) Manager() *session.Manager {
	return s.manager
}

// RegisterRoutes installs the API on engine
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	api := engine.Group("/api/v1.0")
	api.GET("/nodes", s.handleListNodes)
	api.GET("/nodes/:id/resolve", s.handleResolve)
	api.GET("/nodes/:id/sftp", s.handleSftpList)
	api.GET("/nodes/:id/sftp/file", s.handleSftpDownload)
	api.DELETE("/nodes/:id/sftp", s.handleSftpClear)
	api.GET("/sessions", s.handleListSessions)
	api.DELETE("/sessions/:id", s.handleCloseSession)
	api.GET("/terminal", s.handleTerminal)
	api.GET("/logging/level", HandleGetLogLevel)
	api.PUT("/logging/level", HandleSetLogLevel)
}

// errorStatus maps resolution and transport failures onto HTTP status codes
func errorStatus(err error) int {
	var cfgErr *inventory.ConfigurationError
	switch {
	case errors.As(err, &cfgErr) && cfgErr.Kind == inventory.ErrKindNodeNotFound:
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, sftp_pool.ErrPoolShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, os.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleListNodes(ctx *gin.Context) {
	parent := ctx.Query("parent")
	nodes := make([]NodeSummary, 0, len(s.inv.Nodes))
	for _, node := range s.inv.Nodes {
		if parent != "" && node.ParentID != parent {
			continue
		}
		nodes = append(nodes, NodeSummary{ID: node.ID, ParentID: node.ParentID, Type: node.Type, Name: node.Name})
	}
	ctx.JSON(http.StatusOK, nodes)
}

func (s *Server) handleResolve(ctx *gin.Context) {
	node, err := s.inv.Node(ctx.Param("id"))
	if err != nil {
		ctx.JSON(errorStatus(err), failed(err.Error()))
		return
	}

	resp := ResolveResponse{NodeID: node.ID, Type: node.Type}
	switch node.Type {
	case inventory.NodeTypeSSH:
		resp.Ssh, err = resolver.ResolveSsh(node, s.inv.Nodes, s.inv.Credentials, s.inv.Tunnels)
	case inventory.NodeTypeRDP:
		resp.Rdp, err = resolver.ResolveRdp(node, s.inv.Nodes, s.inv.Credentials)
	default:
		ctx.JSON(http.StatusBadRequest, failed("node type "+string(node.Type)+" has no connection parameters"))
		return
	}
	if err != nil {
		ctx.JSON(errorStatus(err), failed(err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// remotePath cleans the path query parameter; empty means the login directory
func remotePath(ctx *gin.Context) string {
	p := ctx.Query("path")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

func (s *Server) handleSftpList(ctx *gin.Context) {
	nodeID := ctx.Param("id")
	dir := remotePath(ctx)
	entries, err := sftp_pool.Execute(ctx.Request.Context(), s.pool, nodeID, nil, s.inv, func(client *sftp.Client) ([]FileEntry, error) {
		infos, err := client.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		entries := make([]FileEntry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, FileEntry{
				Name:    info.Name(),
				Size:    info.Size(),
				Mode:    info.Mode().String(),
				ModTime: info.ModTime(),
				IsDir:   info.IsDir(),
			})
		}
		return entries, nil
	})
	if err != nil {
		log.Debugf("Listing %s on %s failed: %v", dir, nodeID, err)
		ctx.JSON(errorStatus(err), failed(err.Error()))
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	ctx.JSON(http.StatusOK, entries)
}

func (s *Server) handleSftpDownload(ctx *gin.Context) {
	nodeID := ctx.Param("id")
	file := ctx.Query("path")
	if file == "" {
		ctx.JSON(http.StatusBadRequest, failed("path is required"))
		return
	}

	started := false
	err := s.pool.ExecuteWithSftp(ctx.Request.Context(), nodeID, nil, s.inv, func(client *sftp.Client) error {
		src, err := client.Open(path.Clean(file))
		if err != nil {
			return err
		}
		defer src.Close()
		info, err := src.Stat()
		if err != nil {
			return err
		}
		if info.IsDir() {
			return errors.Errorf("%s is a directory", file)
		}
		started = true
		ctx.Header("Content-Disposition", "attachment; filename=\""+path.Base(file)+"\"")
		ctx.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", src, nil)
		return nil
	})
	if err != nil && !started {
		ctx.JSON(errorStatus(err), failed(err.Error()))
	}
}

func (s *Server) handleSftpClear(ctx *gin.Context) {
	s.pool.ClearSession(ctx.Param("id"))
	ctx.JSON(http.StatusOK, SimpleApiResp{Status: RespOK})
}

func (s *Server) handleListSessions(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.manager.List())
}

func (s *Server) handleCloseSession(ctx *gin.Context) {
	id := ctx.Param("id")
	if !s.manager.Has(id) {
		ctx.JSON(http.StatusNotFound, failed("session not found"))
		return
	}
	if err := s.manager.Close(id); err != nil {
		ctx.JSON(http.StatusInternalServerError, failed(err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, SimpleApiResp{Status: RespOK})
}

// Shutdown closes every session started through the server
func (s *Server) Shutdown() {
	s.manager.CloseAll()
}
