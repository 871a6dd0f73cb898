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

package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/errs"
	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// futureResponse is a single pending request's rendezvous point: one
// correlationId maps to exactly one of these, resolve always arrives on
// the read-pump goroutine, and the waiter blocks on done.
type futureResponse struct {
	done chan struct{}
	once sync.Once
	resp command.Command
}

func newFutureResponse() *futureResponse {
	return &futureResponse{done: make(chan struct{})}
}

func (f *futureResponse) resolve(resp command.Command) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

// responseCorrelator assigns CommandIDs and pairs every response-required
// command with the Response the broker eventually sends back: a map of
// commandId -> futureResponse, cleaned up whether the wait succeeds,
// times out, or the caller's
// context is cancelled. A priorError, once set by a transport failure,
// causes every subsequent request to fail immediately instead of waiting
// for a response that will never come, and every request already
// in-flight is resolved with a synthetic ExceptionResponse so no waiter
// blocks forever.
type responseCorrelator struct {
	next Transport

	listener Listener
	lmu      sync.Mutex

	nextCommandID uint32

	mu        sync.Mutex
	pending   map[uint32]*futureResponse
	priorErr  error
}

// NewResponseCorrelator wraps next with request/response correlation.
func NewResponseCorrelator(next Transport) *responseCorrelator {
	c := &responseCorrelator{next: next, pending: make(map[uint32]*futureResponse)}
	next.SetListener(c)
	return c
}

func (c *responseCorrelator) SetListener(l Listener) {
	c.lmu.Lock()
	c.listener = l
	c.lmu.Unlock()
}

func (c *responseCorrelator) listenerOf() Listener {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	return c.listener
}

func (c *responseCorrelator) nextID() uint32 {
	return atomic.AddUint32(&c.nextCommandID, 1)
}

func (c *responseCorrelator) OnCommand(cmd command.Command) {
	log.TraceCommand("recv", cmd.DataStructureType().Name(), cmd.GetCommandID())
	if !cmd.IsResponse() {
		if l := c.listenerOf(); l != nil {
			l.OnCommand(cmd)
		}
		return
	}
	resp, ok := cmd.(interface{ GetCorrelationID() uint32 })
	if !ok {
		return
	}
	correlationID := resp.GetCorrelationID()

	c.mu.Lock()
	future, found := c.pending[correlationID]
	if found {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()

	if found {
		future.resolve(cmd)
	}
}

func (c *responseCorrelator) OnException(err error) {
	c.dispose(err)
	if l := c.listenerOf(); l != nil {
		l.OnException(err)
	}
}

// dispose marks the correlator permanently broken and fails every
// request presently waiting.
func (c *responseCorrelator) dispose(err error) {
	c.mu.Lock()
	if c.priorErr != nil {
		c.mu.Unlock()
		return
	}
	c.priorErr = err
	pending := c.pending
	c.pending = make(map[uint32]*futureResponse)
	c.mu.Unlock()

	for id, future := range pending {
		future.resolve(&command.ExceptionResponse{
			Response: command.Response{
				Header:        command.Header{IsResponseFlag: true},
				CorrelationID: id,
			},
			ExceptionClass: "java.io.IOException",
			Message:        err.Error(),
		})
	}
}

func (c *responseCorrelator) Start() error { return c.next.Start() }
func (c *responseCorrelator) Stop() error  { return c.next.Stop() }

func (c *responseCorrelator) Close() error {
	c.dispose(errs.New(errs.KindIO, "transport closed"))
	return c.next.Close()
}

func (c *responseCorrelator) IsFaultTolerant() bool { return c.next.IsFaultTolerant() }

// Oneway sends cmd without expecting a response. It still assigns a
// CommandID — every command needs one, response-required or not — but
// never registers a futureResponse.
func (c *responseCorrelator) Oneway(cmd command.Command) error {
	cmd.SetCommandID(c.nextID())
	cmd.SetResponseRequired(false)
	log.TraceCommand("send", cmd.DataStructureType().Name(), cmd.GetCommandID())
	return c.next.Oneway(cmd)
}

// Request sends cmd with ResponseRequired set and blocks for its Response
// (or ctx's cancellation/deadline, or a transport failure that disposes
// every pending request).
func (c *responseCorrelator) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	cmd.SetCommandID(c.nextID())
	cmd.SetResponseRequired(true)
	log.TraceCommand("send", cmd.DataStructureType().Name(), cmd.GetCommandID())

	future := newFutureResponse()

	c.mu.Lock()
	priorErr := c.priorErr
	if priorErr == nil {
		c.pending[cmd.GetCommandID()] = future
	}
	c.mu.Unlock()

	if priorErr != nil {
		return nil, errs.Wrap(errs.KindIO, "request: transport already failed", priorErr)
	}

	if err := c.next.Oneway(cmd); err != nil {
		c.mu.Lock()
		delete(c.pending, cmd.GetCommandID())
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-future.done:
		if exc, ok := future.resp.(*command.ExceptionResponse); ok {
			return nil, errs.New(errs.KindBroker, exc.Message)
		}
		return future.resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, cmd.GetCommandID())
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}
