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

// Package sftp_pool keeps at most one live SFTP connection per node so
// repeated file operations on the same host skip the connect.
package sftp_pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/metrics"
	"github.com/hoptree/hoptree/param"
	"github.com/hoptree/hoptree/resolver"
	"github.com/hoptree/hoptree/ssh_transport"
)

type (
	// Conn is a pooled SFTP connection and the chain carrying it
	Conn struct {
		nodeID  string
		chain   *ssh_transport.Chain
		session *ssh.Session
		client  *sftp.Client
		created time.Time

		// ioMu serialises operations on the connection
		ioMu      sync.Mutex
		closeOnce sync.Once
		closed    atomic.Bool

		// refs counts the cache's reference plus one per running operation.
		// The connection closes when the last one is released.
		refs atomic.Int32
	}

	// Pool is the SFTP connection pool. The zero value is not usable; use
	// NewPool.
	Pool struct {
		dialer      ssh_transport.Dialer
		opts        ssh_transport.Options
		idleTimeout time.Duration
		maxPacket   int

		// mu guards the cache for get, evict and insert
		mu       sync.Mutex
		cache    *ttlcache.Cache[string, *Conn]
		connects singleflight.Group
		started  atomic.Bool
		shutdown atomic.Bool
	}

	Option func(*Pool)
)

const defaultMaxPacket = 32768

var ErrPoolShutdown = errors.New("sftp pool is shut down")

// WithIdleTimeout evicts connections unused for d; zero keeps them until
// they fail or are cleared.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithMaxPacket sets the SFTP packet size used for new connections
func WithMaxPacket(size int) Option {
	return func(p *Pool) { p.maxPacket = size }
}

// NewPool builds a pool. Idle timeout and packet size default to
// Sftp.IdleTimeout and Sftp.MaxPacketSize.
func NewPool(dialer ssh_transport.Dialer, opts ssh_transport.Options, options ...Option) *Pool {
	p := &Pool{
		dialer:      dialer,
		opts:        opts,
		idleTimeout: param.Sftp_IdleTimeout.GetDuration(),
		maxPacket:   param.Sftp_MaxPacketSize.GetInt(),
	}
	for _, option := range options {
		option(p)
	}
	if p.maxPacket <= 0 {
		p.maxPacket = defaultMaxPacket
	}
	if p.idleTimeout < 0 {
		p.idleTimeout = 0
	}

	p.cache = ttlcache.New[string, *Conn](
		ttlcache.WithTTL[string, *Conn](p.idleTimeout),
	)
	// Eviction drops the cache's reference only; an operation still running
	// on the connection keeps it open until it finishes.
	p.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Conn]) {
		metrics.SftpPoolSize.Dec()
		conn := item.Value()
		if reason == ttlcache.EvictionReasonExpired {
			metrics.SftpPoolEvictionsTotal.WithLabelValues(metrics.EvictionExpired).Inc()
			log.Debugf("Releasing SFTP connection to %s after %s idle", conn.nodeID, p.idleTimeout)
		}
		conn.release()
	})
	return p
}

// Start runs the idle expiry loop in egrp until ctx is done, then shuts
// the pool down.
func (p *Pool) Start(ctx context.Context, egrp *errgroup.Group) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	egrp.Go(func() error {
		p.cache.Start()
		return nil
	})
	egrp.Go(func() error {
		<-ctx.Done()
		p.Shutdown()
		return nil
	})
	metrics.SetComponentHealthStatus(metrics.Hoptree_SftpPool, metrics.StatusOK, "started")
}

// Shutdown closes every pooled connection. Later calls to GetOrCreate fail.
func (p *Pool) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	items := p.cache.Items()
	if p.started.Load() {
		p.cache.Stop()
	}
	p.cache.DeleteAll()
	p.mu.Unlock()

	for _, item := range items {
		metrics.SftpPoolEvictionsTotal.WithLabelValues(metrics.EvictionShutdown).Inc()
		if err := item.Value().Close(); err != nil {
			log.Debugf("Error closing SFTP connection to %s: %v", item.Key(), err)
		}
	}
	log.Debugf("SFTP pool shut down, %d connection(s) closed", len(items))
}

// lookup returns the live pooled connection for nodeID with a reference
// held for the caller. A dead one is evicted and nil returned.
func (p *Pool) lookup(nodeID string) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	item := p.cache.Get(nodeID)
	if item == nil {
		return nil
	}
	conn := item.Value()
	if conn.IsConnected() && conn.acquire() {
		return conn
	}
	p.cache.Delete(nodeID)
	metrics.SftpPoolEvictionsTotal.WithLabelValues(metrics.EvictionStale).Inc()
	log.Debugf("Evicting stale SFTP connection to %s", nodeID)
	return nil
}

// evict drops conn if it is still the pooled connection for nodeID. The
// connection closes once the caller releases its own reference.
func (p *Pool) evict(nodeID string, conn *Conn, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item := p.cache.Get(nodeID)
	if item != nil && item.Value() == conn {
		p.cache.Delete(nodeID)
		metrics.SftpPoolEvictionsTotal.WithLabelValues(reason).Inc()
	}
}

// GetOrCreate returns the live pooled connection for nodeID, connecting
// when there is none. node may be nil, in which case it is looked up in
// inv. Concurrent callers for the same node share one connect.
//
// The pool may close the returned connection once it is evicted; use
// ExecuteWithSftp to keep it open for the length of an operation.
func (p *Pool) GetOrCreate(ctx context.Context, nodeID string, node *inventory.Node, inv *inventory.Inventory) (*Conn, error) {
	conn, err := p.checkout(ctx, nodeID, node, inv)
	if err != nil {
		return nil, err
	}
	conn.release()
	return conn, nil
}

// checkout is GetOrCreate with a reference held; the caller must release it
func (p *Pool) checkout(ctx context.Context, nodeID string, node *inventory.Node, inv *inventory.Inventory) (*Conn, error) {
	for {
		if p.shutdown.Load() {
			return nil, ErrPoolShutdown
		}
		if conn := p.lookup(nodeID); conn != nil {
			metrics.SftpPoolHitsTotal.Inc()
			return conn, nil
		}
		conn, err := p.connectShared(ctx, nodeID, node, inv)
		if err != nil {
			return nil, err
		}
		if conn.acquire() {
			return conn, nil
		}
		// Evicted before this caller got hold of it
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// connectShared connects and pools a connection for nodeID. Concurrent
// callers for the same node share the one connect.
func (p *Pool) connectShared(ctx context.Context, nodeID string, node *inventory.Node, inv *inventory.Inventory) (*Conn, error) {
	result, err, _ := p.connects.Do(nodeID, func() (interface{}, error) {
		if conn := p.lookup(nodeID); conn != nil {
			conn.release()
			return conn, nil
		}
		metrics.SftpPoolMissesTotal.Inc()
		conn, err := p.connect(ctx, nodeID, node, inv)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.shutdown.Load() {
			go conn.Close()
			return nil, ErrPoolShutdown
		}
		p.cache.Set(nodeID, conn, ttlcache.DefaultTTL)
		metrics.SftpPoolSize.Inc()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Conn), nil
}

func (p *Pool) connect(ctx context.Context, nodeID string, node *inventory.Node, inv *inventory.Inventory) (*Conn, error) {
	if inv == nil {
		inv = &inventory.Inventory{}
	}
	if node == nil {
		var err error
		if node, err = inv.Node(nodeID); err != nil {
			return nil, err
		}
	}
	params, err := resolver.ResolveSsh(node, inv.Nodes, inv.Credentials, inv.Tunnels)
	if err != nil {
		return nil, err
	}

	chain, err := ssh_transport.BuildChain(ctx, p.dialer, params.JumpChain, ssh_transport.EndpointFromParams(params), p.opts)
	if err != nil {
		return nil, err
	}
	session, client, err := openSftp(chain.Client(), p.maxPacket)
	if err != nil {
		if closeErr := chain.Close(); closeErr != nil {
			log.Debugf("Error releasing chain to %s: %v", nodeID, closeErr)
		}
		return nil, errors.Wrapf(err, "failed to start SFTP on %s", nodeID)
	}
	log.Debugf("Opened SFTP connection to %s (%s:%d)", nodeID, params.Host, params.Port)
	conn := &Conn{nodeID: nodeID, chain: chain, session: session, client: client, created: time.Now()}
	conn.refs.Store(1)
	return conn, nil
}

// openSftp starts the sftp subsystem on a session channel of client
func openSftp(client ssh_transport.Client, maxPacket int) (*ssh.Session, *sftp.Client, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open session channel")
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	if err := session.RequestSubsystem("sftp"); err != nil {
		session.Close()
		return nil, nil, errors.Wrap(err, "sftp subsystem request rejected")
	}
	sftpClient, err := sftp.NewClientPipe(stdout, stdin, sftp.MaxPacket(maxPacket))
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return session, sftpClient, nil
}

// ExecuteWithSftp runs op on the node's pooled connection while holding the
// connection's I/O lock. If op fails the connection is evicted, so the
// next call reconnects, and the error is returned as is. Nothing is retried.
func (p *Pool) ExecuteWithSftp(ctx context.Context, nodeID string, node *inventory.Node, inv *inventory.Inventory, op func(*sftp.Client) error) error {
	conn, err := p.checkout(ctx, nodeID, node, inv)
	if err != nil {
		return err
	}
	defer conn.release()

	tracker := metrics.NewSftpOperationTracker()
	conn.ioMu.Lock()
	err = op(conn.client)
	conn.ioMu.Unlock()
	tracker.Complete(err)

	if err != nil {
		log.Debugf("SFTP operation on %s failed, evicting connection: %v", nodeID, err)
		p.evict(nodeID, conn, metrics.EvictionError)
		return err
	}
	return nil
}

// Execute is ExecuteWithSftp for operations that produce a value
func Execute[T any](ctx context.Context, p *Pool, nodeID string, node *inventory.Node, inv *inventory.Inventory, op func(*sftp.Client) (T, error)) (T, error) {
	var result T
	err := p.ExecuteWithSftp(ctx, nodeID, node, inv, func(client *sftp.Client) error {
		var opErr error
		result, opErr = op(client)
		return opErr
	})
	return result, err
}

// ClearSession evicts the node's connection, if any. It is closed right
// away unless an operation is running on it, in which case it closes when
// that operation returns.
func (p *Pool) ClearSession(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache.Get(nodeID) == nil {
		return
	}
	p.cache.Delete(nodeID)
	metrics.SftpPoolEvictionsTotal.WithLabelValues(metrics.EvictionCleared).Inc()
}

// Len is the number of pooled connections, live or not
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// NodeIDs lists the nodes with a pooled connection
func (p *Pool) NodeIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Keys()
}

// IsConnected is false once Close ran or the carrying connection dropped
func (c *Conn) IsConnected() bool {
	return !c.closed.Load() && c.chain.Alive()
}

// Client is the SFTP client. Callers outside the pool must not use it
// concurrently with pool operations on the same connection.
func (c *Conn) Client() *sftp.Client {
	return c.client
}

func (c *Conn) NodeID() string {
	return c.nodeID
}

func (c *Conn) acquire() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (c *Conn) release() {
	if c.refs.Add(-1) == 0 {
		if err := c.Close(); err != nil {
			log.Debugf("Error closing SFTP connection to %s: %v", c.nodeID, err)
		}
	}
}

// Close shuts the SFTP client, then its session channel, then the chain
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if closeErr := c.client.Close(); closeErr != nil {
			log.Debugf("Closing SFTP client for %s: %v", c.nodeID, closeErr)
		}
		_ = c.session.Close()
		err = c.chain.Close()
	})
	return err
}
