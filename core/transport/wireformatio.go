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

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/wireformat"
	"github.com/pepper-iot/openwire-client-go/errs"
	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// wireFormatIO sits directly on top of the raw socket and is the first
// filter that knows about OpenWire commands at all: it marshals outgoing
// Commands into frame bodies and, in a dedicated read-pump goroutine,
// unmarshals incoming frame bodies back into Commands for the next filter
// out. Every filter further out than this one deals exclusively in
// command.Command values.
type wireFormatIO struct {
	next *sockTransport
	wf   *wireformat.WireFormat

	listener Listener
	lmu      sync.Mutex

	startOnce sync.Once
	stopped   chan struct{}
	pumpDone  chan struct{}
}

// NewWireFormatIO wraps next with OpenWire marshalling driven by wf.
func NewWireFormatIO(next Transport, wf *wireformat.WireFormat) (Transport, error) {
	sock, ok := next.(*sockTransport)
	if !ok {
		return nil, errs.New(errs.KindIllegalState, "wireFormatIO requires a raw socket transport directly underneath it")
	}
	f := &wireFormatIO{
		next:     sock,
		wf:       wf,
		stopped:  make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	sock.SetListener(f)
	return f, nil
}

func (f *wireFormatIO) SetListener(l Listener) {
	f.lmu.Lock()
	f.listener = l
	f.lmu.Unlock()
}

func (f *wireFormatIO) listenerOf() Listener {
	f.lmu.Lock()
	defer f.lmu.Unlock()
	return f.listener
}

// OnCommand implements the sockTransport Listener hook, but sockTransport
// never calls it — it has no commands of its own, only frame bytes. It is
// here solely so wireFormatIO satisfies Listener for SetListener's type.
func (f *wireFormatIO) OnCommand(command.Command) {}

func (f *wireFormatIO) OnException(err error) {
	if l := f.listenerOf(); l != nil {
		l.OnException(err)
	}
}

func (f *wireFormatIO) Start() error {
	f.startOnce.Do(func() {
		go f.readPump()
	})
	return nil
}

func (f *wireFormatIO) Stop() error {
	return f.next.Stop()
}

func (f *wireFormatIO) Close() error {
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
	return f.next.Close()
}

func (f *wireFormatIO) IsFaultTolerant() bool { return false }

func (f *wireFormatIO) Oneway(cmd command.Command) error {
	body, err := f.wf.Marshal(cmd)
	if err != nil {
		return errs.Wrap(errs.KindWireFormat, "marshal outgoing command", err)
	}
	return f.next.writeFrame(body)
}

// Request is never called directly on wireFormatIO in the assembled
// chain — the correlator filter handles request/response pairing and
// calls Oneway on this filter — but it's implemented for completeness
// and for tests that exercise this filter in isolation.
func (f *wireFormatIO) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	return nil, errs.New(errs.KindUnsupported, "wireFormatIO: Request requires a correlator filter above it")
}

func (f *wireFormatIO) readPump() {
	defer close(f.pumpDone)
	for {
		body, err := f.next.readFrame()
		if err != nil {
			select {
			case <-f.stopped:
				return
			default:
			}
			if l := f.listenerOf(); l != nil {
				l.OnException(errs.Wrap(errs.KindIO, "read frame", err))
			}
			return
		}
		cmd, err := f.wf.Unmarshal(body)
		if err != nil {
			// Structural corruption is terminal for this socket: framing
			// trust is gone, so close and let the failover layer reconnect.
			log.Errorf("wireformatio: structural corruption, closing transport: %v", err)
			_ = f.next.Close()
			if l := f.listenerOf(); l != nil {
				l.OnException(errs.Wrap(errs.KindWireFormat, "unmarshal incoming frame", err))
			}
			return
		}
		if l := f.listenerOf(); l != nil {
			l.OnCommand(cmd)
		}
	}
}
