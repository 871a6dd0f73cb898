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
	"sync/atomic"
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/wireformat"
)

func TestInactivityMonitorSendsKeepAliveWhenIdle(t *testing.T) {
	mock := NewMockTransport()
	wf := wireformat.New()
	wf.Renegotiate(&command.WireFormatInfo{
		Version:               wireformat.DefaultVersion,
		MaxInactivityDuration: 30 * time.Millisecond,
	})

	var keepAlives int32
	mock.OnOneway = func(cmd command.Command) {
		if _, ok := cmd.(*command.KeepAliveInfo); ok {
			atomic.AddInt32(&keepAlives, 1)
		}
	}

	mon := NewInactivityMonitor(mock, wf)
	if err := mon.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mon.Close()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&keepAlives) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&keepAlives) == 0 {
		t.Fatal("expected at least one KeepAliveInfo to be sent while idle")
	}
}

func TestInactivityMonitorSuppressesKeepAliveFromListener(t *testing.T) {
	mock := NewMockTransport()
	wf := wireformat.New()
	listener := &recordingListener{}

	mon := NewInactivityMonitor(mock, wf)
	mon.SetListener(listener)

	mock.PushToListener(&command.KeepAliveInfo{})
	mock.PushToListener(&command.ShutdownInfo{})

	if len(listener.commands) != 1 {
		t.Fatalf("expected KeepAliveInfo to be swallowed, got %d forwarded commands", len(listener.commands))
	}
}

func TestInactivityMonitorDeclaresDeadPeer(t *testing.T) {
	mock := NewMockTransport()
	wf := wireformat.New()
	wf.Renegotiate(&command.WireFormatInfo{
		Version:               wireformat.DefaultVersion,
		MaxInactivityDuration: 10 * time.Millisecond,
	})
	listener := &recordingListener{}

	mon := NewInactivityMonitor(mock, wf)
	mon.SetListener(listener)
	mock.PushToListener(&command.ShutdownInfo{}) // seed lastRead so the dead-peer branch can trigger

	if err := mon.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mon.Close()

	deadline := time.Now().Add(2 * time.Second)
	for listener.exception == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if listener.exception == nil {
		t.Fatal("expected OnException after sustained read silence")
	}
}
