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

package pub

import (
	"context"
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/session"
	"github.com/pepper-iot/openwire-client-go/core/transport"
)

func autoRespond(mock *transport.MockTransport) {
	mock.OnOneway = func(cmd command.Command) {
		if !cmd.GetResponseRequired() {
			return
		}
		mock.PushToListener(&command.Response{
			Header:        command.Header{IsResponseFlag: true},
			CorrelationID: cmd.GetCommandID(),
		})
	}
}

func newTestProducer(t *testing.T, mode session.AckMode, opts Options) (*Producer, *session.Session, *transport.MockTransport) {
	t.Helper()
	mock := transport.NewMockTransport()
	corr := transport.NewResponseCorrelator(mock)
	autoRespond(mock)

	sess, err := session.New(context.Background(), corr, command.SessionID{Value: 1}, mode)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	dest := command.Destination{Kind: command.KindQueue, Name: "orders"}
	p, err := NewProducer(context.Background(), sess, &dest, opts)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	return p, sess, mock
}

func TestSendPersistentUsesSyncRequestByDefault(t *testing.T) {
	persistent := true
	p, _, mock := newTestProducer(t, session.AckAuto, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := p.Send(ctx, command.Destination{}, command.BodyText, []byte("hi"), SendOptions{Persistent: &persistent})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id.ProducerSequenceID != 1 {
		t.Fatalf("ProducerSequenceID = %d, want 1", id.ProducerSequenceID)
	}

	var sawResponseRequired bool
	for _, cmd := range mock.Sent {
		if m, ok := cmd.(*command.Message); ok {
			sawResponseRequired = m.GetResponseRequired()
		}
	}
	if !sawResponseRequired {
		t.Fatal("expected a persistent sync send to set ResponseRequired")
	}
}

func TestSendNonPersistentUsesOnewayByDefault(t *testing.T) {
	persistent := false
	p, _, mock := newTestProducer(t, session.AckAuto, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Send(ctx, command.Destination{}, command.BodyText, []byte("hi"), SendOptions{Persistent: &persistent}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, cmd := range mock.Sent {
		if m, ok := cmd.(*command.Message); ok && m.GetResponseRequired() {
			t.Fatal("expected a non-persistent async send to skip ResponseRequired")
		}
	}
}

func TestAlwaysSyncSendForcesRequestEvenForNonPersistent(t *testing.T) {
	persistent := false
	p, _, mock := newTestProducer(t, session.AckAuto, Options{AlwaysSyncSend: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Send(ctx, command.Destination{}, command.BodyText, []byte("hi"), SendOptions{Persistent: &persistent}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	found := false
	for _, cmd := range mock.Sent {
		if m, ok := cmd.(*command.Message); ok && m.GetResponseRequired() {
			found = true
		}
	}
	if !found {
		t.Fatal("expected AlwaysSyncSend to set ResponseRequired")
	}
}

func TestAsyncSendBlocksUntilWindowCreditedBack(t *testing.T) {
	persistent := false
	p, _, _ := newTestProducer(t, session.AckAuto, Options{WindowSize: 10})

	body := make([]byte, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Send(ctx, command.Destination{}, command.BodyText, body, SendOptions{Persistent: &persistent}); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Send(ctx, command.Destination{}, command.BodyText, body, SendOptions{Persistent: &persistent})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("second Send should have blocked for window credit")
	case <-time.After(50 * time.Millisecond):
	}

	p.OnProducerAck(&command.ProducerAck{ProducerID: p.ID(), Size: 10})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second Send after credit: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Send never unblocked after ProducerAck")
	}
}

func TestIdentifiedProducerIgnoresCallerDestination(t *testing.T) {
	p, _, mock := newTestProducer(t, session.AckAuto, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other := command.Destination{Kind: command.KindQueue, Name: "other"}
	if _, err := p.Send(ctx, other, command.BodyText, []byte("hi"), SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, cmd := range mock.Sent {
		if m, ok := cmd.(*command.Message); ok {
			if m.Destination.Name != "orders" {
				t.Fatalf("Destination = %q, want the producer's own %q", m.Destination.Name, "orders")
			}
		}
	}
}

func TestCloseIsIdempotentAndUnregisters(t *testing.T) {
	p, _, mock := newTestProducer(t, session.AckAuto, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	found := false
	for _, cmd := range mock.Sent {
		if r, ok := cmd.(*command.RemoveInfo); ok {
			if id, ok := r.ObjectID.(command.ProducerID); ok && id == p.ID() {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected a RemoveInfo for this producer's ProducerID")
	}

	if _, err := p.Send(ctx, command.Destination{}, command.BodyText, []byte("hi"), SendOptions{}); err == nil {
		t.Fatal("expected Send on a closed producer to fail")
	}
}
