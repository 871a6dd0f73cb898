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

// Package session implements the JMS-style session state: the ack-mode
// enumeration, transacted-session lifecycle (BEGIN on first send/ack,
// COMMIT, ROLLBACK), and the registries a Connection uses to route
// inbound commands down to the right consumer or producer. It
// deliberately does not import core/sub or core/pub — those packages
// import Session, not the other way around, the usual "client built on
// top of a shared client handle" layering.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/transport"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// AckMode enumerates the five JMS acknowledgement modes.
type AckMode int

const (
	AckAuto AckMode = iota
	AckClient
	AckDupsOk
	AckTransacted
	AckIndividual
)

func (m AckMode) String() string {
	switch m {
	case AckAuto:
		return "AUTO_ACKNOWLEDGE"
	case AckClient:
		return "CLIENT_ACKNOWLEDGE"
	case AckDupsOk:
		return "DUPS_OK_ACKNOWLEDGE"
	case AckTransacted:
		return "SESSION_TRANSACTED"
	case AckIndividual:
		return "INDIVIDUAL_ACKNOWLEDGE"
	default:
		return "UNKNOWN_ACKNOWLEDGE"
	}
}

// ConsumerHandle is the subset of *sub.Consumer a Session needs in order
// to drive transaction rollback/recover and session-wide teardown without
// importing core/sub.
type ConsumerHandle interface {
	// Rollback re-enqueues every dispatch still waiting in the dispatch
	// channel at its front, incrementing each one's redelivery counter;
	// messages already handed to the application are not re-enqueued.
	Rollback()
	// Recover marks the dispatch channel so the next delivery out of it
	// is flagged redelivered, mirroring session.recover() in CLIENT mode.
	Recover()
	// SessionClosing tells the consumer its owning session is going away.
	SessionClosing()
}

// ProducerHandle is the subset of *pub.Producer a Session needs for
// session-wide teardown.
type ProducerHandle interface {
	SessionClosing()
}

// Session owns one SessionID's worth of consumers, producers, and
// transaction state. All of its wire sends go through the Transport it
// was constructed with — normally the outermost filter of a Connection's
// transport chain, so a send transparently survives failover.
type Session struct {
	id   command.SessionID
	tp   transport.Transport
	mode AckMode

	consumerIDs command.MonotonicCounter
	producerIDs command.MonotonicCounter
	txIDs       command.MonotonicCounter

	mu        sync.Mutex
	consumers map[string]ConsumerHandle
	producers map[string]ProducerHandle

	txMu      sync.Mutex
	currentTx *command.LocalTransactionID
}

// New creates a Session and sends its SessionInfo to the broker. The
// caller supplies the SessionID (connection-scoped sequence number
// allocation is the Connection's job, since it must stay unique across
// every session the connection owns).
func New(ctx context.Context, tp transport.Transport, id command.SessionID, mode AckMode) (*Session, error) {
	s := &Session{
		id:        id,
		tp:        tp,
		mode:      mode,
		consumers: make(map[string]ConsumerHandle),
		producers: make(map[string]ProducerHandle),
	}

	info := &command.SessionInfo{SessionID: id}
	info.SetResponseRequired(true)
	if _, err := tp.Request(ctx, info); err != nil {
		return nil, errs.Wrap(errs.KindIO, "create session", err)
	}
	return s, nil
}

// ID returns the SessionID this Session was created with.
func (s *Session) ID() command.SessionID { return s.id }

// Info reconstructs the SessionInfo this Session was created with, for
// the Connection kernel to resend on reconnect before any consumer or
// producer resubscription.
func (s *Session) Info() *command.SessionInfo {
	return &command.SessionInfo{SessionID: s.id}
}

// AckMode returns the acknowledgement mode consumers created under this
// session should use.
func (s *Session) AckMode() AckMode { return s.mode }

// Transport returns the transport consumers/producers created under this
// session should send through.
func (s *Session) Transport() transport.Transport { return s.tp }

// NextConsumerID allocates the next ConsumerID scoped to this session.
func (s *Session) NextConsumerID() command.ConsumerID {
	return command.ConsumerID{SessionID: s.id, Value: s.consumerIDs.Next()}
}

// NextProducerID allocates the next ProducerID scoped to this session.
func (s *Session) NextProducerID() command.ProducerID {
	return command.ProducerID{SessionID: s.id, Value: s.producerIDs.Next()}
}

// RegisterConsumer tracks a consumer created under this session so
// Rollback/Recover/Close can reach it.
func (s *Session) RegisterConsumer(id command.ConsumerID, c ConsumerHandle) {
	s.mu.Lock()
	s.consumers[id.String()] = c
	s.mu.Unlock()
}

// UnregisterConsumer drops a closed consumer from the registry.
func (s *Session) UnregisterConsumer(id command.ConsumerID) {
	s.mu.Lock()
	delete(s.consumers, id.String())
	s.mu.Unlock()
}

// RegisterProducer tracks a producer created under this session.
func (s *Session) RegisterProducer(id command.ProducerID, p ProducerHandle) {
	s.mu.Lock()
	s.producers[id.String()] = p
	s.mu.Unlock()
}

// UnregisterProducer drops a closed producer from the registry.
func (s *Session) UnregisterProducer(id command.ProducerID) {
	s.mu.Lock()
	delete(s.producers, id.String())
	s.mu.Unlock()
}

// CurrentTransactionID returns the in-flight transaction id, or nil if
// the session isn't transacted or no BEGIN has been sent yet.
func (s *Session) CurrentTransactionID() *command.LocalTransactionID {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.currentTx
}

// EnsureTransaction lazily sends a TransactionInfo BEGIN on the first
// send or ack of a new transaction. It is a no-op
// (returning the existing id) once a transaction is already open.
func (s *Session) EnsureTransaction(ctx context.Context) (*command.LocalTransactionID, error) {
	if s.mode != AckTransacted {
		return nil, errs.New(errs.KindIllegalState, "session is not transacted")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.currentTx != nil {
		return s.currentTx, nil
	}

	tx := command.LocalTransactionID{ConnectionID: s.id.ConnectionID, Value: s.txIDs.Next()}
	info := &command.TransactionInfo{
		ConnectionID:  s.id.ConnectionID,
		TransactionID: tx,
		Type:          command.TxBegin,
	}
	info.SetResponseRequired(true)
	if _, err := s.tp.Request(ctx, info); err != nil {
		return nil, errs.Wrap(errs.KindIO, "begin transaction", err)
	}
	s.currentTx = &tx
	return &tx, nil
}

// Commit sends a COMMIT for the open transaction, then clears it so the
// next send/ack lazily opens a new one. It is an error to call Commit on
// a non-transacted session or with no open transaction.
func (s *Session) Commit(ctx context.Context) error {
	if s.mode != AckTransacted {
		return errs.New(errs.KindIllegalState, "session is not transacted")
	}

	s.txMu.Lock()
	tx := s.currentTx
	s.txMu.Unlock()
	if tx == nil {
		return errs.New(errs.KindIllegalState, "no transaction in progress")
	}

	info := &command.TransactionInfo{
		ConnectionID:  tx.ConnectionID,
		TransactionID: *tx,
		Type:          command.TxCommitOnePhase,
	}
	info.SetResponseRequired(true)
	if _, err := s.tp.Request(ctx, info); err != nil {
		return errs.Wrap(errs.KindIO, "commit transaction", err)
	}

	s.txMu.Lock()
	s.currentTx = nil
	s.txMu.Unlock()
	return nil
}

// Rollback sends a ROLLBACK for the open transaction, then tells every
// consumer registered under this session to restore its dispatch channel
// state (enqueueFirst + redeliveryCounter bump) so redelivered messages
// are handled before anything newly arrived.
func (s *Session) Rollback(ctx context.Context) error {
	if s.mode != AckTransacted {
		return errs.New(errs.KindIllegalState, "session is not transacted")
	}

	s.txMu.Lock()
	tx := s.currentTx
	s.txMu.Unlock()
	if tx == nil {
		return errs.New(errs.KindIllegalState, "no transaction in progress")
	}

	info := &command.TransactionInfo{
		ConnectionID:  tx.ConnectionID,
		TransactionID: *tx,
		Type:          command.TxRollback,
	}
	info.SetResponseRequired(true)
	if _, err := s.tp.Request(ctx, info); err != nil {
		return errs.Wrap(errs.KindIO, "rollback transaction", err)
	}

	s.txMu.Lock()
	s.currentTx = nil
	s.txMu.Unlock()

	s.mu.Lock()
	handles := make([]ConsumerHandle, 0, len(s.consumers))
	for _, c := range s.consumers {
		handles = append(handles, c)
	}
	s.mu.Unlock()
	for _, c := range handles {
		c.Rollback()
	}
	return nil
}

// Recover tells every consumer registered under this session to mark its
// dispatch channel so the next delivery is flagged redelivered, per
// session.recover() in CLIENT mode. It does not itself
// send anything over the wire — the broker redelivers once the consumer
// sends its own MessageAck(AckRedelivered)-equivalent flow, which is the
// consumer's responsibility.
func (s *Session) Recover() error {
	if s.mode == AckTransacted {
		return errs.New(errs.KindIllegalState, "recover is not valid on a transacted session")
	}
	s.mu.Lock()
	handles := make([]ConsumerHandle, 0, len(s.consumers))
	for _, c := range s.consumers {
		handles = append(handles, c)
	}
	s.mu.Unlock()
	for _, c := range handles {
		c.Recover()
	}
	return nil
}

// Close tells every registered consumer/producer the session is closing,
// then removes the Session on the broker.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	consumers := make([]ConsumerHandle, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]ProducerHandle, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	s.consumers = make(map[string]ConsumerHandle)
	s.producers = make(map[string]ProducerHandle)
	s.mu.Unlock()

	for _, c := range consumers {
		c.SessionClosing()
	}
	for _, p := range producers {
		p.SessionClosing()
	}

	remove := &command.RemoveInfo{ObjectID: s.id}
	remove.SetResponseRequired(true)
	if _, err := s.tp.Request(ctx, remove); err != nil {
		return errs.Wrap(errs.KindIO, fmt.Sprintf("close session %s", s.id), err)
	}
	return nil
}
