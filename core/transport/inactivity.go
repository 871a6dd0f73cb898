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
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/threads"
	"github.com/pepper-iot/openwire-client-go/core/wireformat"
	"github.com/pepper-iot/openwire-client-go/errs"
	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// inactivityMonitor is the bidirectional keep-alive state machine: it
// stamps every outbound/inbound command, and on a
// CompositeTask-driven tick sends a KeepAliveInfo if nothing has gone out
// recently, and declares the peer dead if nothing has come in. It stays
// inert until the WireFormat has finished negotiating, since before that
// point neither side has agreed on an inactivity duration yet.
type inactivityMonitor struct {
	next Transport
	wf   *wireformat.WireFormat

	listener Listener
	lmu      sync.Mutex

	lastWriteNanos int64
	lastReadNanos  int64

	runner *threads.Runner
	task   *inactivityTask

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewInactivityMonitor wraps next with read/write activity tracking. wf
// supplies the negotiated MaxInactivityDuration once negotiation
// completes; until then the monitor ticks but never acts.
func NewInactivityMonitor(next Transport, wf *wireformat.WireFormat) Transport {
	m := &inactivityMonitor{next: next, wf: wf, runner: threads.NewRunner()}
	m.task = &inactivityTask{m: m}
	m.runner.AddTask(m.task)
	next.SetListener(m)
	return m
}

func (m *inactivityMonitor) SetListener(l Listener) {
	m.lmu.Lock()
	m.listener = l
	m.lmu.Unlock()
}

func (m *inactivityMonitor) listenerOf() Listener {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	return m.listener
}

func (m *inactivityMonitor) OnCommand(cmd command.Command) {
	atomic.StoreInt64(&m.lastReadNanos, time.Now().UnixNano())
	if _, ok := cmd.(*command.KeepAliveInfo); ok {
		return
	}
	if l := m.listenerOf(); l != nil {
		l.OnCommand(cmd)
	}
}

func (m *inactivityMonitor) OnException(err error) {
	if l := m.listenerOf(); l != nil {
		l.OnException(err)
	}
}

func (m *inactivityMonitor) Start() error {
	if err := m.next.Start(); err != nil {
		return err
	}
	m.startOnce.Do(func() {
		m.runner.Start()
	})
	return nil
}

func (m *inactivityMonitor) Stop() error {
	m.stopOnce.Do(func() {
		m.runner.Shutdown()
	})
	return m.next.Stop()
}

func (m *inactivityMonitor) Close() error {
	m.stopOnce.Do(func() {
		m.runner.Shutdown()
	})
	return m.next.Close()
}

func (m *inactivityMonitor) IsFaultTolerant() bool { return m.next.IsFaultTolerant() }

func (m *inactivityMonitor) Oneway(cmd command.Command) error {
	err := m.next.Oneway(cmd)
	if err == nil {
		atomic.StoreInt64(&m.lastWriteNanos, time.Now().UnixNano())
	}
	return err
}

func (m *inactivityMonitor) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	resp, err := m.next.Request(ctx, cmd)
	if err == nil {
		atomic.StoreInt64(&m.lastWriteNanos, time.Now().UnixNano())
	}
	return resp, err
}

// inactivityTask is the CompositeTask the monitor's own Runner drives;
// it is always "pending", and each iteration compares elapsed time
// since the last read/write against the
// negotiated duration.
type inactivityTask struct {
	m *inactivityMonitor
}

func (t *inactivityTask) IsPending() bool { return true }

func (t *inactivityTask) Iterate() bool {
	opts := t.m.wf.Options()
	if !t.m.wf.IsNegotiated() || opts.MaxInactivityDuration <= 0 {
		time.Sleep(250 * time.Millisecond)
		return false
	}

	now := time.Now()
	lastWrite := time.Unix(0, atomic.LoadInt64(&t.m.lastWriteNanos))
	lastRead := time.Unix(0, atomic.LoadInt64(&t.m.lastReadNanos))

	if atomic.LoadInt64(&t.m.lastReadNanos) != 0 && now.Sub(lastRead) > 2*opts.MaxInactivityDuration {
		t.m.OnException(errs.New(errs.KindTimeout, "channel was inactive for too long"))
		time.Sleep(opts.MaxInactivityDuration)
		return true
	}

	if atomic.LoadInt64(&t.m.lastWriteNanos) == 0 || now.Sub(lastWrite) > opts.MaxInactivityDuration {
		if err := t.m.next.Oneway(&command.KeepAliveInfo{}); err != nil {
			log.Warnf("inactivity monitor: keep-alive send failed: %v", err)
		} else {
			atomic.StoreInt64(&t.m.lastWriteNanos, now.UnixNano())
		}
	}

	time.Sleep(opts.MaxInactivityDuration / 3)
	return true
}
