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
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/metrics"
)

// Chain is a live connection to a destination, possibly reached through
// nested local forwards over jump hosts. It owns every hop client and
// forward it created.
type Chain struct {
	client Client

	// done is closed once the destination connection has gone away
	done chan struct{}

	mu          sync.Mutex
	disposables []io.Closer
	closed      bool
	closeErr    error
	hops        int
}

// BuildChain connects to final through hops.
//
// Hop i is dialed at the current target with hop i's credentials, then a
// local forward to the next target (hop i+1, or final after the last hop) is
// started and 127.0.0.1:<port> becomes the current target. The final
// connection uses final's own credentials. Each connect is bounded by the
// hop timeout and ctx is checked between hops. On failure everything opened
// so far is closed in reverse order and a *ChainError is returned.
func BuildChain(ctx context.Context, dialer Dialer, hops []inventory.JumpHop, final Endpoint, opts Options) (*Chain, error) {
	start := time.Now()
	chain := &Chain{hops: len(hops), done: make(chan struct{})}

	fail := func(hop int, addr string, err error) (*Chain, error) {
		if closeErr := chain.releaseAll(); closeErr != nil {
			log.Debugf("Error releasing partial chain: %v", closeErr)
		}
		metrics.ChainBuildsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, &ChainError{Hop: hop, Total: len(hops), Addr: addr, Err: err}
	}

	target := final.Address()
	if len(hops) > 0 {
		target = EndpointFromHop(hops[0]).Address()
	}

	for i, hop := range hops {
		ep := EndpointFromHop(hop)
		if err := ctx.Err(); err != nil {
			return fail(i, ep.Address(), err)
		}

		client, err := dialHop(ctx, dialer, target, ep, opts)
		if err != nil {
			return fail(i, ep.Address(), err)
		}
		chain.push(client)

		next := final.Address()
		if i+1 < len(hops) {
			next = EndpointFromHop(hops[i+1]).Address()
		}
		fwd, err := StartLocalForward(client, next)
		if err != nil {
			return fail(i, ep.Address(), err)
		}
		chain.push(fwd)
		target = fwd.Addr()
		log.Debugf("Jump host %d/%d (%s) up, forwarding %s to %s", i+1, len(hops), ep.Address(), target, next)
	}

	if err := ctx.Err(); err != nil {
		return fail(len(hops), final.Address(), err)
	}
	client, err := dialHop(ctx, dialer, target, final, opts)
	if err != nil {
		return fail(len(hops), final.Address(), err)
	}
	chain.push(client)
	chain.client = client
	go func() {
		_ = client.Wait()
		close(chain.done)
	}()

	metrics.ChainBuildsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.ChainBuildDuration.Observe(time.Since(start).Seconds())
	return chain, nil
}

func dialHop(ctx context.Context, dialer Dialer, addr string, ep Endpoint, opts Options) (Client, error) {
	hopCtx, cancel := context.WithTimeout(ctx, opts.hopTimeout())
	defer cancel()
	client, err := dialer.Dial(hopCtx, "tcp", addr, ep)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Wrapf(err, "connect timed out after %s", opts.hopTimeout())
		}
		return nil, err
	}
	return client, nil
}

func (c *Chain) push(closer io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposables = append(c.disposables, closer)
}

// Client is the authenticated connection to the destination
func (c *Chain) Client() Client {
	return c.client
}

// Done is closed when the destination connection has terminated, whether
// by Close or by the peer.
func (c *Chain) Done() <-chan struct{} {
	return c.done
}

// Alive reports whether the destination connection is still up
func (c *Chain) Alive() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Hops is the number of jump hosts the chain goes through
func (c *Chain) Hops() int {
	return c.hops
}

// Close releases the chain in strict reverse order of creation: the final
// client first, then each forward before the hop client carrying it. It
// returns the first error; later calls return the same result.
func (c *Chain) Close() error {
	return c.releaseAll()
}

func (c *Chain) releaseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	c.closed = true

	for i := len(c.disposables) - 1; i >= 0; i-- {
		if err := c.disposables[i].Close(); err != nil && !isClosedErr(err) && c.closeErr == nil {
			c.closeErr = err
		}
	}
	c.disposables = nil
	return c.closeErr
}

// isClosedErr matches errors from closing something the peer already tore down
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
