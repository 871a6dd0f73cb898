// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch implements the per-consumer inbound message queue: a
// plain FIFO channel, and an 8-band-priority channel that still preserves
// FIFO order within a single priority. Neither variant releases anything
// to a caller until Start has been called, matching the "started" gate a
// Session puts in front of its consumers before the dispatch pump begins
// delivering.
package dispatch

import (
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/threads"
)

// numBands is the number of internal priority bands. JMS priorities 0-9
// fold down to eight bands: 0-3 share the lowest band, 4 through 9 each
// get their own, and the top band is reserved for urgent client-internal
// dispatches.
const numBands = 8

// queue is the bucket strategy a Channel delegates storage/ordering to —
// a single slice for Fifo, one slice per band for Priority.
type queue interface {
	len() int
	pushBack(d *command.MessageDispatch)
	pushFront(d *command.MessageDispatch)
	popFront() *command.MessageDispatch
	peekFront() *command.MessageDispatch
	drainAll() []*command.MessageDispatch
}

// Channel is the common interface both dispatch orderings implement.
type Channel interface {
	Start()
	Stop()
	Close()
	IsRunning() bool
	IsClosed() bool
	IsEmpty() bool
	Size() int
	Enqueue(d *command.MessageDispatch)
	EnqueueFirst(d *command.MessageDispatch)
	Peek() *command.MessageDispatch
	DequeueNoWait() *command.MessageDispatch
	// Dequeue waits up to timeout for a dispatch to become available.
	// timeout < 0 waits indefinitely; timeout == 0 checks once without
	// waiting at all.
	Dequeue(timeout time.Duration) *command.MessageDispatch
	RemoveAll() []*command.MessageDispatch
}

// channel is the shared monitor both orderings sit on. The monitor is a
// threads.ReentrantLock rather than a plain Mutex so compound lifecycle
// operations can call back through the locked public surface (Close
// re-enters via Stop), and so a waiter can sleep with the lock released
// at whatever recursion depth it was holding (see await).
type channel struct {
	mu      *threads.ReentrantLock
	signal  chan struct{} // closed and replaced on every broadcast
	q       queue
	running bool
	closed  bool
}

func newChannel(q queue) *channel {
	return &channel{
		mu:     threads.NewReentrantLock(),
		signal: make(chan struct{}),
		q:      q,
	}
}

// broadcast wakes every waiter; caller must hold the monitor.
func (c *channel) broadcast() {
	close(c.signal)
	c.signal = make(chan struct{})
}

// await releases the monitor at whatever recursion depth the caller
// holds it, sleeps until a broadcast or d elapses (d < 0 waits
// indefinitely), and restores the saved depth before returning. The
// wakeup channel is captured while the lock is still held, so a
// broadcast between the release and the receive is never lost.
func (c *channel) await(d time.Duration) {
	ch := c.signal
	depth := c.mu.FullyUnlock()
	if d < 0 {
		<-ch
	} else {
		timer := time.NewTimer(d)
		select {
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
	c.mu.ReLock(depth)
}

func (c *channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.running = true
	c.broadcast()
}

func (c *channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.broadcast()
}

func (c *channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.Stop() // re-enters the monitor; waiters see closed once we release
}

func (c *channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *channel) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.len() == 0
}

func (c *channel) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.len()
}

func (c *channel) Enqueue(d *command.MessageDispatch) {
	c.mu.Lock()
	c.q.pushBack(d)
	c.broadcast()
	c.mu.Unlock()
}

func (c *channel) EnqueueFirst(d *command.MessageDispatch) {
	c.mu.Lock()
	c.q.pushFront(d)
	c.broadcast()
	c.mu.Unlock()
}

func (c *channel) Peek() *command.MessageDispatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	return c.q.peekFront()
}

func (c *channel) DequeueNoWait() *command.MessageDispatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	return c.q.popFront()
}

func (c *channel) Dequeue(timeout time.Duration) *command.MessageDispatch {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timeout == 0 {
		if !c.running {
			return nil
		}
		return c.q.popFront()
	}

	var deadline time.Time
	bounded := timeout > 0
	if bounded {
		deadline = time.Now().Add(timeout)
	}

	for {
		if c.running {
			if d := c.q.popFront(); d != nil {
				return d
			}
		}
		if c.closed {
			return nil
		}
		if bounded {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil
			}
			c.await(remaining)
		} else {
			c.await(-1)
		}
	}
}

func (c *channel) RemoveAll() []*command.MessageDispatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.drainAll()
}
