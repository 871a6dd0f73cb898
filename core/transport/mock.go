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
	"github.com/pepper-iot/openwire-client-go/errs"
)

// MockTransport is an in-memory Transport stand-in for tests that don't
// need a real socket: filters (correlator, negotiator, inactivity
// monitor) can be stacked on it exactly as they would on a sockTransport,
// and the test drives both sides by calling Oneway/PushToListener
// directly.
type MockTransport struct {
	mu       sync.Mutex
	listener Listener
	closed   bool

	// OnOneway, if set, is invoked synchronously for every Oneway call
	// (including ones originating from Request); it lets a test play
	// broker by replying through PushToListener.
	OnOneway func(cmd command.Command)

	Sent []command.Command
}

// NewMockTransport returns a ready-to-use MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

func (m *MockTransport) listenerOf() Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// PushToListener delivers cmd to whatever is currently registered as this
// transport's listener, simulating an inbound frame from the broker.
func (m *MockTransport) PushToListener(cmd command.Command) {
	if l := m.listenerOf(); l != nil {
		l.OnCommand(cmd)
	}
}

// PushException simulates a transport-level failure.
func (m *MockTransport) PushException(err error) {
	if l := m.listenerOf(); l != nil {
		l.OnException(err)
	}
}

func (m *MockTransport) Start() error { return nil }
func (m *MockTransport) Stop() error  { return nil }

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) IsFaultTolerant() bool { return false }

func (m *MockTransport) Oneway(cmd command.Command) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.New(errs.KindIO, "mock transport closed")
	}
	m.Sent = append(m.Sent, cmd)
	hook := m.OnOneway
	m.mu.Unlock()
	if hook != nil {
		hook(cmd)
	}
	return nil
}

func (m *MockTransport) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	return nil, errs.New(errs.KindUnsupported, "MockTransport: Request requires a correlator filter above it")
}
