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
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
)

type recordingListener struct {
	commands  []command.Command
	exception error
}

func (l *recordingListener) OnCommand(cmd command.Command) { l.commands = append(l.commands, cmd) }
func (l *recordingListener) OnException(err error)         { l.exception = err }

func TestResponseCorrelatorMatchesResponseToRequest(t *testing.T) {
	mock := NewMockTransport()
	corr := NewResponseCorrelator(mock)

	mock.OnOneway = func(cmd command.Command) {
		mock.PushToListener(&command.Response{
			Header:        command.Header{IsResponseFlag: true},
			CorrelationID: cmd.GetCommandID(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := corr.Request(ctx, &command.ConnectionInfo{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response")
	}
}

func TestResponseCorrelatorOnewayDoesNotWait(t *testing.T) {
	mock := NewMockTransport()
	corr := NewResponseCorrelator(mock)

	if err := corr.Oneway(&command.ShutdownInfo{}); err != nil {
		t.Fatalf("Oneway: %v", err)
	}
	if len(mock.Sent) != 1 {
		t.Fatalf("expected 1 sent command, got %d", len(mock.Sent))
	}
	if mock.Sent[0].GetResponseRequired() {
		t.Fatal("Oneway must not set ResponseRequired")
	}
}

func TestResponseCorrelatorDisposeFailsPendingRequests(t *testing.T) {
	mock := NewMockTransport()
	corr := NewResponseCorrelator(mock)

	resultCh := make(chan error, 1)
	go func() {
		_, err := corr.Request(context.Background(), &command.ConnectionInfo{})
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	corr.OnException(someErr)

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected an error after dispose")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never unblocked after dispose")
	}
}

func TestResponseCorrelatorContextCancelUnblocksRequest(t *testing.T) {
	mock := NewMockTransport()
	corr := NewResponseCorrelator(mock) // broker never replies

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := corr.Request(ctx, &command.ConnectionInfo{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

// TestResponseCorrelatorAssignsUniqueCommandIDsConcurrently pins the
// correlation-uniqueness property: no two concurrent requests on one
// correlator may ever share a commandId.
func TestResponseCorrelatorAssignsUniqueCommandIDsConcurrently(t *testing.T) {
	mock := NewMockTransport()
	corr := NewResponseCorrelator(mock)

	mock.OnOneway = func(cmd command.Command) {
		mock.PushToListener(&command.Response{
			Header:        command.Header{IsResponseFlag: true},
			CorrelationID: cmd.GetCommandID(),
		})
	}

	const requests = 64
	ids := make(chan uint32, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := &command.ConnectionInfo{}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := corr.Request(ctx, cmd); err != nil {
				t.Errorf("Request: %v", err)
				return
			}
			ids <- cmd.GetCommandID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool, requests)
	for id := range ids {
		if id == 0 {
			t.Fatal("commandId 0 must never be assigned")
		}
		if seen[id] {
			t.Fatalf("commandId %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != requests {
		t.Fatalf("completed %d requests, want %d", len(seen), requests)
	}
}

var someErr = &testErr{"simulated transport failure"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
