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

package conn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/pub"
	"github.com/pepper-iot/openwire-client-go/core/session"
	"github.com/pepper-iot/openwire-client-go/core/sub"
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

// testRig wires a Connection to a FailoverTransport whose ConnectFunc
// hands out ResponseCorrelator-wrapped MockTransports, bypassing Dial's
// real-networking buildConnectFunc/transport.Chain entirely.
type testRig struct {
	mu    sync.Mutex
	mocks []*transport.MockTransport
}

func (r *testRig) connect(ctx context.Context, uri string) (transport.Transport, error) {
	mock := transport.NewMockTransport()
	autoRespond(mock)
	corr := transport.NewResponseCorrelator(mock)
	r.mu.Lock()
	r.mocks = append(r.mocks, mock)
	r.mu.Unlock()
	return corr, nil
}

func (r *testRig) last() *transport.MockTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mocks[len(r.mocks)-1]
}

func (r *testRig) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mocks)
}

func dialTestConnection(t *testing.T, opts Options) (*Connection, *testRig) {
	t.Helper()
	opts = opts.SetDefaults()
	rig := &testRig{}

	c := newConnection(opts)
	cfg := transport.DefaultFailoverConfig([]string{"tcp://a:61616"})
	cfg.InitialReconnectDelay = time.Millisecond
	ft := transport.NewFailoverTransport(cfg, rig.connect)
	c.tp = ft
	ft.SetListener(c)
	ft.SetRecoveryListener(c)

	if err := ft.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = ft.Close() })

	select {
	case <-c.firstConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("never reached firstConnected")
	}
	return c, rig
}

func TestDialHandshakesConnectionInfoOnFirstConnect(t *testing.T) {
	c, rig := dialTestConnection(t, Options{ClientID: "rig-1"})
	if c.ID().Value != "rig-1" {
		t.Fatalf("ConnectionID.Value = %q, want %q", c.ID().Value, "rig-1")
	}

	mock := rig.last()
	if len(mock.Sent) != 1 {
		t.Fatalf("expected exactly 1 command sent on first connect, got %d", len(mock.Sent))
	}
	if _, ok := mock.Sent[0].(*command.ConnectionInfo); !ok {
		t.Fatalf("expected *command.ConnectionInfo, got %T", mock.Sent[0])
	}
}

func TestNewConsumerInheritsConnectionPrefetchAndRedeliveryDefaults(t *testing.T) {
	prefetch := command.PrefetchPolicy{QueuePrefetch: 7}
	redelivery := command.RedeliveryPolicy{MaximumRedeliveries: 2}
	c, _ := dialTestConnection(t, Options{Prefetch: prefetch, Redelivery: redelivery})

	sess, err := c.CreateSession(context.Background(), session.AckAuto)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	dest := command.Destination{Kind: command.KindQueue, Name: "orders"}
	cons, err := c.NewConsumer(context.Background(), sess, dest, sub.Options{})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if cons.Opts().PrefetchSize != 7 {
		t.Fatalf("PrefetchSize = %d, want 7 (inherited from connection Prefetch)", cons.Opts().PrefetchSize)
	}
	if cons.Opts().Redelivery.MaximumRedeliveries != 2 {
		t.Fatalf("MaximumRedeliveries = %d, want 2 (inherited from connection Redelivery)", cons.Opts().Redelivery.MaximumRedeliveries)
	}
}

func TestOnCommandRoutesMessageDispatchToConsumer(t *testing.T) {
	c, _ := dialTestConnection(t, Options{})

	sess, err := c.CreateSession(context.Background(), session.AckAuto)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	dest := command.Destination{Kind: command.KindQueue, Name: "orders"}
	cons, err := c.NewConsumer(context.Background(), sess, dest, sub.Options{})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	c.OnCommand(&command.MessageDispatch{
		ConsumerID:  cons.ID(),
		Destination: dest,
		Message: &command.Message{
			MessageID: command.MessageID{ProducerSequenceID: 1},
			Body:      []byte("hello"),
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cons.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg.Body) != "hello" {
		t.Fatalf("Body = %q", msg.Body)
	}
}

func TestOnCommandRoutesProducerAckToProducer(t *testing.T) {
	c, _ := dialTestConnection(t, Options{})

	sess, err := c.CreateSession(context.Background(), session.AckAuto)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	dest := command.Destination{Kind: command.KindQueue, Name: "orders"}
	prod, err := c.NewProducer(context.Background(), sess, &dest, pub.Options{WindowSize: 10})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}

	persistent := false
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := prod.Send(ctx, dest, command.BodyText, make([]byte, 10), pub.SendOptions{Persistent: &persistent}); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := prod.Send(ctx, dest, command.BodyText, make([]byte, 10), pub.SendOptions{Persistent: &persistent})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("second Send should have blocked for window credit")
	case <-time.After(50 * time.Millisecond):
	}

	c.OnCommand(&command.ProducerAck{ProducerID: prod.ID(), Size: 10})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second Send after routed ProducerAck: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ProducerAck routed through Connection.OnCommand never credited the producer's window")
	}
}

func TestOnCommandSurfacesConnectionErrorToExceptionListener(t *testing.T) {
	c, _ := dialTestConnection(t, Options{})

	errCh := make(chan error, 1)
	c.SetExceptionListener(func(err error) { errCh <- err })

	c.OnCommand(&command.ConnectionError{Message: "broker going away"})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a non-nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("exception listener was never called")
	}
}

func TestOnRecoveredResendsConnectionSessionConsumerAndProducerInfoBeforeSecondConnect(t *testing.T) {
	c, rig := dialTestConnection(t, Options{ClientID: "rig-2"})

	sess, err := c.CreateSession(context.Background(), session.AckAuto)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	dest := command.Destination{Kind: command.KindQueue, Name: "orders"}
	cons, err := c.NewConsumer(context.Background(), sess, dest, sub.Options{})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	prod, err := c.NewProducer(context.Background(), sess, &dest, pub.Options{})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}

	before := rig.count()
	rig.last().PushException(errors.New("simulated drop"))

	deadline := time.Now().Add(2 * time.Second)
	for rig.count() <= before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rig.count() <= before {
		t.Fatal("expected a reconnect to dial a new mock transport")
	}

	mock := rig.last()
	deadline = time.Now().Add(2 * time.Second)
	for len(mock.Sent) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if len(mock.Sent) < 3 {
		t.Fatalf("expected at least 3 resent commands on reconnect, got %d", len(mock.Sent))
	}
	if _, ok := mock.Sent[0].(*command.ConnectionInfo); !ok {
		t.Fatalf("resend[0] = %T, want *command.ConnectionInfo", mock.Sent[0])
	}
	if _, ok := mock.Sent[1].(*command.SessionInfo); !ok {
		t.Fatalf("resend[1] = %T, want *command.SessionInfo", mock.Sent[1])
	}

	var sawConsumerInfo, sawProducerInfo bool
	var consumerIdx, producerIdx int
	for i, cmd := range mock.Sent {
		if ci, ok := cmd.(*command.ConsumerInfo); ok && ci.ConsumerID == cons.ID() {
			sawConsumerInfo = true
			consumerIdx = i
		}
		if pi, ok := cmd.(*command.ProducerInfo); ok && pi.ProducerID == prod.ID() {
			sawProducerInfo = true
			producerIdx = i
		}
	}
	if !sawConsumerInfo {
		t.Fatal("expected a resent ConsumerInfo on reconnect")
	}
	if !sawProducerInfo {
		t.Fatal("expected a resent ProducerInfo on reconnect")
	}
	if consumerIdx < 1 || producerIdx < 1 {
		t.Fatal("expected ConsumerInfo/ProducerInfo to follow ConnectionInfo/SessionInfo")
	}
}

func TestUnsubscribeSendsRemoveSubscriptionInfo(t *testing.T) {
	c, rig := dialTestConnection(t, Options{ClientID: "rig-3"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Unsubscribe(ctx, "durable-sub-1"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	mock := rig.last()
	var got *command.RemoveSubscriptionInfo
	for _, cmd := range mock.Sent {
		if rsi, ok := cmd.(*command.RemoveSubscriptionInfo); ok {
			got = rsi
		}
	}
	if got == nil {
		t.Fatal("expected a RemoveSubscriptionInfo sent on Unsubscribe")
	}
	if got.ClientID != "rig-3" {
		t.Fatalf("ClientID = %q, want %q", got.ClientID, "rig-3")
	}
	if got.SubscriptionName != "durable-sub-1" {
		t.Fatalf("SubscriptionName = %q, want %q", got.SubscriptionName, "durable-sub-1")
	}
}

func sentMessages(mock *transport.MockTransport) []*command.Message {
	var out []*command.Message
	for _, cmd := range mock.Sent {
		if m, ok := cmd.(*command.Message); ok {
			out = append(out, m)
		}
	}
	return out
}

func TestCreateTemporaryQueueSendsDestinationInfoAdd(t *testing.T) {
	c, rig := dialTestConnection(t, Options{ClientID: "rig-tmp"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dest, err := c.CreateTemporaryQueue(ctx)
	if err != nil {
		t.Fatalf("CreateTemporaryQueue: %v", err)
	}
	if dest.Kind != command.KindTempQueue {
		t.Fatalf("Kind = %v, want KindTempQueue", dest.Kind)
	}
	if !strings.HasPrefix(dest.Name, "rig-tmp:") {
		t.Fatalf("Name = %q, want a connection-id-scoped name", dest.Name)
	}

	mock := rig.last()
	var add *command.DestinationInfo
	for _, cmd := range mock.Sent {
		if di, ok := cmd.(*command.DestinationInfo); ok {
			add = di
		}
	}
	if add == nil {
		t.Fatal("expected a DestinationInfo on the wire")
	}
	if add.OperationType != command.DestAdd {
		t.Fatalf("OperationType = %v, want DestAdd", add.OperationType)
	}
	if add.Destination.Name != dest.Name {
		t.Fatalf("DestinationInfo names %q, want %q", add.Destination.Name, dest.Name)
	}

	if err := c.DeleteTemporaryDestination(ctx, dest); err != nil {
		t.Fatalf("DeleteTemporaryDestination: %v", err)
	}
	var remove *command.DestinationInfo
	for _, cmd := range mock.Sent {
		if di, ok := cmd.(*command.DestinationInfo); ok && di.OperationType == command.DestRemove {
			remove = di
		}
	}
	if remove == nil {
		t.Fatal("expected a DestRemove DestinationInfo on delete")
	}

	if err := c.DeleteTemporaryDestination(ctx, command.NewQueue("orders")); err == nil {
		t.Fatal("expected deleting a non-temporary destination to fail")
	}
}

// TestRequestReplyOverTemporaryQueue drives the request/reply pattern: a
// requester sends to a service queue with ReplyTo set to its temporary
// queue, a responder echoes to the ReplyTo destination with the request's
// MessageID as correlation id, and the requester receives the reply. The
// test plays broker by routing each sent Message back in as a
// MessageDispatch for the consumer on its destination.
func TestRequestReplyOverTemporaryQueue(t *testing.T) {
	c, rig := dialTestConnection(t, Options{ClientID: "rig-rr"})
	mock := rig.last()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := c.CreateSession(ctx, session.AckAuto)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	service := command.NewQueue("service")
	responder, err := c.NewConsumer(ctx, sess, service, sub.Options{})
	if err != nil {
		t.Fatalf("responder NewConsumer: %v", err)
	}
	replyQueue, err := c.CreateTemporaryQueue(ctx)
	if err != nil {
		t.Fatalf("CreateTemporaryQueue: %v", err)
	}
	requester, err := c.NewConsumer(ctx, sess, replyQueue, sub.Options{})
	if err != nil {
		t.Fatalf("requester NewConsumer: %v", err)
	}
	prod, err := c.NewProducer(ctx, sess, nil, pub.Options{})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}

	if _, err := prod.Send(ctx, service, command.BodyText, []byte("Hello"), pub.SendOptions{ReplyTo: &replyQueue}); err != nil {
		t.Fatalf("request Send: %v", err)
	}
	var request *command.Message
	for _, m := range sentMessages(mock) {
		if m.Destination.Name == service.Name {
			request = m
		}
	}
	if request == nil {
		t.Fatal("expected the request Message on the wire")
	}
	if request.ReplyTo == nil || request.ReplyTo.Name != replyQueue.Name {
		t.Fatal("expected the request to carry the temporary queue as ReplyTo")
	}

	c.OnCommand(&command.MessageDispatch{
		ConsumerID:  responder.ID(),
		Destination: request.Destination,
		Message:     request,
	})
	got, err := responder.Receive(ctx)
	if err != nil {
		t.Fatalf("responder Receive: %v", err)
	}
	if string(got.Body) != "Hello" {
		t.Fatalf("responder got %q, want %q", got.Body, "Hello")
	}

	if _, err := prod.Send(ctx, *got.ReplyTo, command.BodyText, []byte("Reply: Hello"), pub.SendOptions{
		CorrelationID: got.MessageID.String(),
	}); err != nil {
		t.Fatalf("reply Send: %v", err)
	}
	var replyMsg *command.Message
	for _, m := range sentMessages(mock) {
		if m.Destination.Kind == command.KindTempQueue {
			replyMsg = m
		}
	}
	if replyMsg == nil {
		t.Fatal("expected the reply Message on the wire")
	}

	c.OnCommand(&command.MessageDispatch{
		ConsumerID:  requester.ID(),
		Destination: replyQueue,
		Message:     replyMsg,
	})
	reply, err := requester.Receive(ctx)
	if err != nil {
		t.Fatalf("requester Receive: %v", err)
	}
	if string(reply.Body) != "Reply: Hello" {
		t.Fatalf("reply body = %q, want %q", reply.Body, "Reply: Hello")
	}
	if reply.CorrelationID != request.MessageID.String() {
		t.Fatalf("CorrelationID = %q, want %q", reply.CorrelationID, request.MessageID.String())
	}
}

// TestCompositeSendTransmitsOneMessageWithOrderedComponents covers the
// client half of a composite fan-out: one Send to "A,B" puts exactly one
// Message on the wire whose composite destination preserves component
// order; the broker performs the fan-out.
func TestCompositeSendTransmitsOneMessageWithOrderedComponents(t *testing.T) {
	c, rig := dialTestConnection(t, Options{})
	mock := rig.last()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := c.CreateSession(ctx, session.AckAuto)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	composite := command.ParseDestination("A,B")
	prod, err := c.NewProducer(ctx, sess, &composite, pub.Options{})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if _, err := prod.Send(ctx, composite, command.BodyText, []byte("X"), pub.SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := sentMessages(mock)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one Message on the wire, got %d", len(msgs))
	}
	dest := msgs[0].Destination
	if !dest.IsComposite() || len(dest.Components) != 2 {
		t.Fatalf("expected a 2-component composite destination, got %+v", dest)
	}
	if dest.Components[0].Name != "A" || dest.Components[1].Name != "B" {
		t.Fatalf("component order not preserved: %+v", dest.Components)
	}
}

func TestCloseIsIdempotentAndTearsDownSessions(t *testing.T) {
	c, rig := dialTestConnection(t, Options{})

	if _, err := c.CreateSession(context.Background(), session.AckAuto); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	mock := rig.last()
	found := false
	for _, cmd := range mock.Sent {
		if _, ok := cmd.(*command.ShutdownInfo); ok {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a ShutdownInfo sent on Close")
	}

	if _, err := c.CreateSession(ctx, session.AckAuto); err == nil {
		t.Fatal("expected CreateSession on a closed connection to fail")
	}
}
