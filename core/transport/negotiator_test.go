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
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/wireformat"
)

func TestWireFormatNegotiatorBlocksUntilPeerInfoArrives(t *testing.T) {
	mock := NewMockTransport()
	wf := wireformat.New()
	neg := NewWireFormatNegotiator(mock, wf, time.Second)

	if err := neg.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(mock.Sent) != 1 {
		t.Fatalf("expected local WireFormatInfo to be sent on Start, got %d", len(mock.Sent))
	}

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- neg.Oneway(&command.ShutdownInfo{})
	}()

	select {
	case <-sendDone:
		t.Fatal("Oneway returned before peer WireFormatInfo arrived")
	case <-time.After(30 * time.Millisecond):
	}

	mock.PushToListener(&command.WireFormatInfo{Version: wireformat.DefaultVersion, TightEncodingEnabled: true})

	select {
	case err := <-sendDone:
		if err != nil {
			t.Fatalf("Oneway after negotiation: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Oneway never unblocked after peer WireFormatInfo arrived")
	}

	if !wf.IsNegotiated() {
		t.Fatal("expected WireFormat to be negotiated")
	}
}

func TestWireFormatNegotiatorTimesOut(t *testing.T) {
	mock := NewMockTransport()
	wf := wireformat.New()
	neg := NewWireFormatNegotiator(mock, wf, 30*time.Millisecond)

	if err := neg.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := neg.Oneway(&command.ShutdownInfo{}); err == nil {
		t.Fatal("expected timeout error when peer never replies")
	}
}

func TestWireFormatNegotiatorPassesThroughOtherCommands(t *testing.T) {
	mock := NewMockTransport()
	wf := wireformat.New()
	listener := &recordingListener{}
	neg := NewWireFormatNegotiator(mock, wf, time.Second)
	neg.SetListener(listener)

	mock.PushToListener(&command.WireFormatInfo{Version: wireformat.DefaultVersion})
	mock.PushToListener(&command.ShutdownInfo{})

	if len(listener.commands) != 1 {
		t.Fatalf("expected only the non-WireFormatInfo command to be forwarded, got %d", len(listener.commands))
	}
	if _, ok := listener.commands[0].(*command.ShutdownInfo); !ok {
		t.Fatal("expected forwarded command to be ShutdownInfo")
	}
}
