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
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/metrics"
	"github.com/hoptree/hoptree/test_utils"
)

type (
	dialCall struct {
		Addr     string
		Username string
		Logical  string
	}

	// recordingDialer wraps a real dialer and remembers every connect
	recordingDialer struct {
		inner   Dialer
		mu      sync.Mutex
		calls   []dialCall
		clients []Client
	}

	// fakeClient stands in for an SSH connection; it records its own
	// Close into a shared log so release order can be checked.
	fakeClient struct {
		name      string
		log       *closeLog
		closeOnce sync.Once
		closed    chan struct{}
	}

	closeLog struct {
		mu    sync.Mutex
		order []string
	}

	// fakeDialer hands out fakeClients keyed by the endpoint's host and
	// fails for hosts listed in failHosts.
	fakeDialer struct {
		log       *closeLog
		failHosts map[string]error
		mu        sync.Mutex
		dialed    []string
	}
)

func (d *recordingDialer) Dial(ctx context.Context, network, addr string, ep Endpoint) (Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dialCall{Addr: addr, Username: ep.Username, Logical: ep.Address()})
	d.mu.Unlock()
	client, err := d.inner.Dial(ctx, network, addr, ep)
	if err == nil {
		d.mu.Lock()
		d.clients = append(d.clients, client)
		d.mu.Unlock()
	}
	return client, err
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *closeLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func newFakeClient(name string, log *closeLog) *fakeClient {
	return &fakeClient{name: name, log: log, closed: make(chan struct{})}
}

func (c *fakeClient) NewSession() (*ssh.Session, error) {
	return nil, errors.New("fake client has no sessions")
}

func (c *fakeClient) Dial(network, addr string) (net.Conn, error) {
	return nil, errors.New("fake client cannot forward")
}

func (c *fakeClient) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	select {
	case <-c.closed:
		return false, nil, errors.New("connection closed")
	default:
		return false, nil, nil
	}
}

func (c *fakeClient) Close() error {
	c.closeOnce.Do(func() {
		c.log.add(c.name)
		close(c.closed)
	})
	return nil
}

func (c *fakeClient) Wait() error {
	<-c.closed
	return nil
}

func (d *fakeDialer) Dial(ctx context.Context, network, addr string, ep Endpoint) (Client, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, ep.Host)
	d.mu.Unlock()
	if err, ok := d.failHosts[ep.Host]; ok {
		return nil, err
	}
	return newFakeClient(ep.Host, d.log), nil
}

func waitClosed(t *testing.T, client Client) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		_ = client.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client was not closed")
	}
}

func TestBuildChainDirect(t *testing.T) {
	t.Cleanup(test_utils.SetupTestLogging(t))
	target := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{Password: "pw"})
	opts := Options{KnownHostsFile: target.KnownHosts}
	dialer := &recordingDialer{inner: NewDialer(opts)}

	final := serverEndpoint(target)
	final.Password = "pw"

	successBefore := promtest.ToFloat64(metrics.ChainBuildsTotal.WithLabelValues(metrics.ResultSuccess))
	chain, err := BuildChain(context.Background(), dialer, nil, final, opts)
	require.NoError(t, err)
	defer chain.Close()

	assert.Equal(t, 0, chain.Hops())
	assert.True(t, chain.Alive())
	assert.Equal(t, []dialCall{{Addr: target.Addr(), Username: "testuser", Logical: target.Addr()}}, dialer.calls)
	assert.Equal(t, "direct", runEcho(t, chain.Client(), "direct"))
	assert.Equal(t, successBefore+1, promtest.ToFloat64(metrics.ChainBuildsTotal.WithLabelValues(metrics.ResultSuccess)))
}

func TestBuildChainTwoHops(t *testing.T) {
	t.Cleanup(test_utils.SetupTestLogging(t))

	jumpKey, jumpPub := test_utils.WriteClientKey(t, "")
	bastion1 := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{User: "jump1", Password: "p1"})
	bastion2 := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{User: "jump2", PublicKey: jumpPub})
	target := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{User: "deploy", Password: "p3"})

	opts := Options{KnownHostsFile: test_utils.WriteKnownHosts(t, bastion1, bastion2, target)}
	dialer := &recordingDialer{inner: NewDialer(opts)}

	hops := []inventory.JumpHop{
		{Host: "127.0.0.1", Port: bastion1.Port, Username: "jump1", Password: "p1"},
		{Host: "127.0.0.1", Port: bastion2.Port, Username: "jump2", KeyPath: jumpKey},
	}
	final := Endpoint{Host: "127.0.0.1", Port: target.Port, Username: "deploy", Password: "p3"}

	chain, err := BuildChain(context.Background(), dialer, hops, final, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Hops())

	// The first hop is dialed directly; every later connect goes to a local
	// forward but is verified against the logical host.
	require.Len(t, dialer.calls, 3)
	assert.Equal(t, dialCall{Addr: bastion1.Addr(), Username: "jump1", Logical: bastion1.Addr()}, dialer.calls[0])
	assert.Equal(t, "jump2", dialer.calls[1].Username)
	assert.Equal(t, bastion2.Addr(), dialer.calls[1].Logical)
	assert.NotEqual(t, bastion2.Addr(), dialer.calls[1].Addr)
	assert.Equal(t, "deploy", dialer.calls[2].Username)
	assert.Equal(t, target.Addr(), dialer.calls[2].Logical)
	host, _, err := net.SplitHostPort(dialer.calls[2].Addr)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)

	// Each bastion forwarded to the next target in the chain
	assert.Equal(t, []string{bastion2.Addr()}, bastion1.ForwardTargets())
	assert.Equal(t, []string{target.Addr()}, bastion2.ForwardTargets())
	assert.Equal(t, []string{"jump1"}, bastion1.Logins())
	assert.Equal(t, []string{"jump2"}, bastion2.Logins())
	assert.Equal(t, []string{"deploy"}, target.Logins())

	assert.Equal(t, "through the chain", runEcho(t, chain.Client(), "through the chain"))

	require.NoError(t, chain.Close())
	for _, client := range dialer.clients {
		waitClosed(t, client)
	}
	assert.False(t, chain.Alive())
	select {
	case <-chain.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done was not closed after Close")
	}
}

func TestBuildChainHopFailure(t *testing.T) {
	t.Cleanup(test_utils.SetupTestLogging(t))

	bastion1 := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{User: "jump1", Password: "p1"})
	bastion2 := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{User: "jump2", Password: "p2"})
	target := test_utils.StartSSHServer(t, test_utils.SSHServerConfig{Password: "p3"})

	opts := Options{KnownHostsFile: test_utils.WriteKnownHosts(t, bastion1, bastion2, target)}
	dialer := &recordingDialer{inner: NewDialer(opts)}
	hops := []inventory.JumpHop{
		{Host: "127.0.0.1", Port: bastion1.Port, Username: "jump1", Password: "p1"},
		{Host: "127.0.0.1", Port: bastion2.Port, Username: "jump2", Password: "wrong"},
	}
	final := serverEndpoint(target)
	final.Password = "p3"

	failureBefore := promtest.ToFloat64(metrics.ChainBuildsTotal.WithLabelValues(metrics.ResultFailure))
	chain, err := BuildChain(context.Background(), dialer, hops, final, opts)
	require.Error(t, err)
	assert.Nil(t, chain)

	var chainErr *ChainError
	require.True(t, errors.As(err, &chainErr))
	assert.Equal(t, 1, chainErr.Hop)
	assert.Equal(t, 2, chainErr.Total)
	assert.True(t, chainErr.Partial())
	assert.Equal(t, bastion2.Addr(), chainErr.Addr)
	assert.Contains(t, err.Error(), "jump host 2 of 2")

	// The first hop was up and has been released
	require.Len(t, dialer.clients, 1)
	waitClosed(t, dialer.clients[0])
	assert.Empty(t, target.Logins())
	assert.Equal(t, failureBefore+1, promtest.ToFloat64(metrics.ChainBuildsTotal.WithLabelValues(metrics.ResultFailure)))
}

func TestBuildChainReleaseOrder(t *testing.T) {
	hops := []inventory.JumpHop{
		{Host: "hop0", Port: 22, Username: "u", Password: "p"},
		{Host: "hop1", Port: 22, Username: "u", Password: "p"},
	}
	final := Endpoint{Host: "final", Port: 22, Username: "u", Password: "p"}

	t.Run("close-reverses-creation", func(t *testing.T) {
		log := &closeLog{}
		dialer := &fakeDialer{log: log}
		chain, err := BuildChain(context.Background(), dialer, hops, final, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"hop0", "hop1", "final"}, dialer.dialed)

		require.NoError(t, chain.Close())
		assert.Equal(t, []string{"final", "hop1", "hop0"}, log.get())

		// Idempotent
		require.NoError(t, chain.Close())
		assert.Equal(t, []string{"final", "hop1", "hop0"}, log.get())
		assert.False(t, chain.Alive())
	})

	t.Run("final-failure-releases-hops", func(t *testing.T) {
		log := &closeLog{}
		dialer := &fakeDialer{log: log, failHosts: map[string]error{"final": errors.New("connection refused")}}
		_, err := BuildChain(context.Background(), dialer, hops, final, Options{})
		require.Error(t, err)

		var chainErr *ChainError
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, 2, chainErr.Hop)
		assert.True(t, chainErr.Partial())
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, []string{"hop1", "hop0"}, log.get())
	})

	t.Run("first-hop-failure-is-not-partial", func(t *testing.T) {
		log := &closeLog{}
		dialer := &fakeDialer{log: log, failHosts: map[string]error{"hop0": errors.New("no route to host")}}
		_, err := BuildChain(context.Background(), dialer, hops, final, Options{})

		var chainErr *ChainError
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, 0, chainErr.Hop)
		assert.False(t, chainErr.Partial())
		assert.Empty(t, log.get())
		assert.Equal(t, []string{"hop0"}, dialer.dialed)
	})

	t.Run("cancelled-context", func(t *testing.T) {
		log := &closeLog{}
		dialer := &fakeDialer{log: log}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := BuildChain(ctx, dialer, hops, final, Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Empty(t, dialer.dialed)
	})
}

func TestBuildChainHopTimeout(t *testing.T) {
	// Accepts TCP but never speaks SSH
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		listener.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	opts := Options{HopTimeout: 200 * time.Millisecond, InsecureIgnoreHostKey: true}
	final := Endpoint{Host: "127.0.0.1", Port: port, Username: "u", Password: "p"}

	start := time.Now()
	_, err = BuildChain(context.Background(), NewDialer(opts), nil, final, opts)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "timed out")
}

// stallingHopDialer hands out a jump client that never opens channels and
// dials everything else for real.
type stallingHopDialer struct {
	jump  *stallingClient
	inner Dialer
}

func (d *stallingHopDialer) Dial(ctx context.Context, network, addr string, ep Endpoint) (Client, error) {
	if ep.Host == "hop0" {
		return d.jump, nil
	}
	return d.inner.Dial(ctx, network, addr, ep)
}

func TestBuildChainHopTimeoutUnreachableNext(t *testing.T) {
	t.Cleanup(test_utils.SetupTestLogging(t))
	log := &closeLog{}
	opts := Options{HopTimeout: 200 * time.Millisecond, InsecureIgnoreHostKey: true}
	dialer := &stallingHopDialer{jump: newStallingClient("hop0", log), inner: NewDialer(opts)}
	hops := []inventory.JumpHop{{Host: "hop0", Port: 22, Username: "u", Password: "p"}}
	final := Endpoint{Host: "10.255.255.1", Port: 22, Username: "u", Password: "p"}

	result := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := BuildChain(context.Background(), dialer, hops, final, opts)
		result <- err
	}()

	select {
	case err := <-result:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		var chainErr *ChainError
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, 1, chainErr.Hop)
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("BuildChain did not honour the hop timeout")
	}

	// The forward was stopped and the jump client released after it
	select {
	case <-dialer.jump.dialing:
	default:
		t.Fatal("the final connect never reached the jump host")
	}
	assert.Equal(t, []string{"hop0"}, log.get())
}

func TestChainErrorMessages(t *testing.T) {
	cause := errors.New("boom")
	assert.Equal(t, "failed to connect to 10.0.0.5:22: boom", (&ChainError{Hop: 0, Total: 0, Addr: "10.0.0.5:22", Err: cause}).Error())
	assert.Equal(t, "failed to connect to jump host 1 of 2 (j1:22): boom", (&ChainError{Hop: 0, Total: 2, Addr: "j1:22", Err: cause}).Error())
	assert.Equal(t, "failed to connect to destination db:22 through 2 jump host(s): boom", (&ChainError{Hop: 2, Total: 2, Addr: "db:22", Err: cause}).Error())
}
