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
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/wireformat"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// wireFormatNegotiator owns the WireFormatInfo handshake: the client
// sends its preferred WireFormatInfo immediately after Start,
// and blocks Oneway/Request until the peer's own WireFormatInfo has
// arrived and been folded into the shared WireFormat via Renegotiate.
// Every command after the first exchange flows straight through.
type wireFormatNegotiator struct {
	next Transport
	wf   *wireformat.WireFormat

	listener Listener
	lmu      sync.Mutex

	mu        sync.Mutex
	cond      *sync.Cond
	sendErr   error
	negDone   bool
	negWait   time.Duration
}

// NewWireFormatNegotiator wraps next, which must already be (or sit on
// top of) a wireFormatIO so Oneway accepts Commands, not raw bytes.
func NewWireFormatNegotiator(next Transport, wf *wireformat.WireFormat, handshakeTimeout time.Duration) Transport {
	n := &wireFormatNegotiator{next: next, wf: wf, negWait: handshakeTimeout}
	n.cond = sync.NewCond(&n.mu)
	next.SetListener(n)
	return n
}

func (n *wireFormatNegotiator) SetListener(l Listener) {
	n.lmu.Lock()
	n.listener = l
	n.lmu.Unlock()
}

func (n *wireFormatNegotiator) listenerOf() Listener {
	n.lmu.Lock()
	defer n.lmu.Unlock()
	return n.listener
}

func (n *wireFormatNegotiator) OnCommand(cmd command.Command) {
	if info, ok := cmd.(*command.WireFormatInfo); ok {
		n.wf.Renegotiate(info)
		n.mu.Lock()
		n.negDone = true
		n.cond.Broadcast()
		n.mu.Unlock()
		return
	}
	if l := n.listenerOf(); l != nil {
		l.OnCommand(cmd)
	}
}

func (n *wireFormatNegotiator) OnException(err error) {
	n.mu.Lock()
	if n.sendErr == nil {
		n.sendErr = err
	}
	n.negDone = true
	n.cond.Broadcast()
	n.mu.Unlock()
	if l := n.listenerOf(); l != nil {
		l.OnException(err)
	}
}

func (n *wireFormatNegotiator) Start() error {
	if err := n.next.Start(); err != nil {
		return err
	}
	return n.next.Oneway(n.wf.PreferredWireFormatInfo())
}

func (n *wireFormatNegotiator) Stop() error  { return n.next.Stop() }
func (n *wireFormatNegotiator) Close() error { return n.next.Close() }

func (n *wireFormatNegotiator) IsFaultTolerant() bool { return n.next.IsFaultTolerant() }

// awaitNegotiation blocks until the peer's WireFormatInfo has been
// received or negWait has elapsed. A zero negWait waits indefinitely.
func (n *wireFormatNegotiator) awaitNegotiation() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.negWait <= 0 {
		for !n.negDone {
			n.cond.Wait()
		}
	} else {
		deadline := time.Now().Add(n.negWait)
		for !n.negDone {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return errs.New(errs.KindTimeout, "timed out waiting for peer WireFormatInfo")
			}
			timer := time.AfterFunc(remaining, func() {
				n.mu.Lock()
				n.cond.Broadcast()
				n.mu.Unlock()
			})
			n.cond.Wait()
			timer.Stop()
		}
	}
	return n.sendErr
}

func (n *wireFormatNegotiator) Oneway(cmd command.Command) error {
	if _, ok := cmd.(*command.WireFormatInfo); !ok {
		if err := n.awaitNegotiation(); err != nil {
			return err
		}
	}
	return n.next.Oneway(cmd)
}

func (n *wireFormatNegotiator) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	if err := n.awaitNegotiation(); err != nil {
		return nil, err
	}
	return n.next.Request(ctx, cmd)
}
