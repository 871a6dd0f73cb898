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
	"net"
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/wireformat"
)

func TestWireFormatIORoundTripsOverAPipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	clientWF := wireformat.New()
	serverWF := wireformat.New()

	clientSock := newSockTransport(clientConn)
	serverSock := newSockTransport(serverConn)

	client, err := NewWireFormatIO(clientSock, clientWF)
	if err != nil {
		t.Fatalf("NewWireFormatIO (client): %v", err)
	}
	server, err := NewWireFormatIO(serverSock, serverWF)
	if err != nil {
		t.Fatalf("NewWireFormatIO (server): %v", err)
	}

	serverListener := &recordingListener{}
	server.SetListener(serverListener)

	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	defer client.Close()
	defer server.Close()

	sent := &command.ConnectionInfo{ClientID: "client-1"}
	if err := client.Oneway(sent); err != nil {
		t.Fatalf("Oneway: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(serverListener.commands) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(serverListener.commands) != 1 {
		t.Fatalf("expected one command delivered to server listener, got %d", len(serverListener.commands))
	}
	got, ok := serverListener.commands[0].(*command.ConnectionInfo)
	if !ok {
		t.Fatalf("expected *command.ConnectionInfo, got %T", serverListener.commands[0])
	}
	if got.ClientID != "client-1" {
		t.Fatalf("ClientID = %q, want %q", got.ClientID, "client-1")
	}
}
