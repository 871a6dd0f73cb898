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

package session

import (
	"context"
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
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

func newTestSession(t *testing.T, mode AckMode) (*Session, *transport.MockTransport) {
	t.Helper()
	mock := transport.NewMockTransport()
	corr := transport.NewResponseCorrelator(mock)
	autoRespond(mock)

	sess, err := New(context.Background(), corr, command.SessionID{Value: 1}, mode)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sess, mock
}

func TestNewSessionSendsSessionInfo(t *testing.T) {
	sess, mock := newTestSession(t, AckAuto)
	if sess.ID().Value != 1 {
		t.Fatalf("ID = %+v", sess.ID())
	}
	if len(mock.Sent) != 1 {
		t.Fatalf("expected 1 SessionInfo sent, got %d", len(mock.Sent))
	}
	if _, ok := mock.Sent[0].(*command.SessionInfo); !ok {
		t.Fatalf("expected *command.SessionInfo, got %T", mock.Sent[0])
	}
}

func TestEnsureTransactionIsLazyAndIdempotent(t *testing.T) {
	sess, _ := newTestSession(t, AckTransacted)

	if sess.CurrentTransactionID() != nil {
		t.Fatal("no transaction should be open before the first send/ack")
	}

	tx1, err := sess.EnsureTransaction(context.Background())
	if err != nil {
		t.Fatalf("EnsureTransaction: %v", err)
	}
	tx2, err := sess.EnsureTransaction(context.Background())
	if err != nil {
		t.Fatalf("EnsureTransaction (second call): %v", err)
	}
	if *tx1 != *tx2 {
		t.Fatalf("expected the same transaction id across calls, got %v and %v", tx1, tx2)
	}
}

func TestEnsureTransactionRejectsNonTransactedSession(t *testing.T) {
	sess, _ := newTestSession(t, AckAuto)
	if _, err := sess.EnsureTransaction(context.Background()); err == nil {
		t.Fatal("expected an error on a non-transacted session")
	}
}

func TestCommitClearsCurrentTransaction(t *testing.T) {
	sess, _ := newTestSession(t, AckTransacted)

	if _, err := sess.EnsureTransaction(context.Background()); err != nil {
		t.Fatalf("EnsureTransaction: %v", err)
	}
	if err := sess.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if sess.CurrentTransactionID() != nil {
		t.Fatal("expected no transaction open after commit")
	}
}

func TestCommitWithoutTransactionFails(t *testing.T) {
	sess, _ := newTestSession(t, AckTransacted)
	if err := sess.Commit(context.Background()); err == nil {
		t.Fatal("expected an error committing with nothing open")
	}
}

type fakeConsumer struct {
	rolledBack int
	recovered  int
	closing    int
}

func (f *fakeConsumer) Rollback()       { f.rolledBack++ }
func (f *fakeConsumer) Recover()        { f.recovered++ }
func (f *fakeConsumer) SessionClosing() { f.closing++ }

func TestRollbackDrivesEveryRegisteredConsumer(t *testing.T) {
	sess, _ := newTestSession(t, AckTransacted)
	if _, err := sess.EnsureTransaction(context.Background()); err != nil {
		t.Fatalf("EnsureTransaction: %v", err)
	}

	c1, c2 := &fakeConsumer{}, &fakeConsumer{}
	sess.RegisterConsumer(sess.NextConsumerID(), c1)
	sess.RegisterConsumer(sess.NextConsumerID(), c2)

	if err := sess.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if c1.rolledBack != 1 || c2.rolledBack != 1 {
		t.Fatalf("expected every consumer rolled back exactly once, got %d and %d", c1.rolledBack, c2.rolledBack)
	}
	if sess.CurrentTransactionID() != nil {
		t.Fatal("expected no transaction open after rollback")
	}
}

func TestRecoverRejectedOnTransactedSession(t *testing.T) {
	sess, _ := newTestSession(t, AckTransacted)
	if err := sess.Recover(); err == nil {
		t.Fatal("expected recover to be rejected on a transacted session")
	}
}

func TestRecoverDrivesEveryRegisteredConsumer(t *testing.T) {
	sess, _ := newTestSession(t, AckClient)
	c1 := &fakeConsumer{}
	sess.RegisterConsumer(sess.NextConsumerID(), c1)

	if err := sess.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if c1.recovered != 1 {
		t.Fatalf("expected consumer recovered once, got %d", c1.recovered)
	}
}

func TestCloseNotifiesConsumersAndProducersThenRemovesSession(t *testing.T) {
	sess, mock := newTestSession(t, AckAuto)
	c1 := &fakeConsumer{}
	sess.RegisterConsumer(sess.NextConsumerID(), c1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c1.closing != 1 {
		t.Fatalf("expected SessionClosing called once, got %d", c1.closing)
	}

	found := false
	for _, cmd := range mock.Sent {
		if _, ok := cmd.(*command.RemoveInfo); ok {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a RemoveInfo sent on Close")
	}
}
