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

// Package pub implements the producer half: MessageID
// assignment from a per-producer monotonic sequence, synchronous sends
// awaiting the broker's Response, async oneway sends governed by a
// producer window credited back via ProducerAck, and composite-
// destination fan-out handled transparently because Destination already
// carries its Components in order.
package pub

import (
	"context"
	"sync"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/session"
	"github.com/pepper-iot/openwire-client-go/core/transport"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// Options configures a Producer.
type Options struct {
	// UseAsyncSend sends oneway and relies on ProducerAck-based window
	// flow control instead of blocking for a Response.
	UseAsyncSend bool
	// AlwaysSyncSend forces Request-based sends even for non-persistent
	// messages, overriding UseAsyncSend.
	AlwaysSyncSend bool
	// WindowSize bounds the number of in-flight bytes an async producer
	// may have unacknowledged before Send blocks for credit.
	WindowSize int
	// DefaultPersistent is used when SendOptions.Persistent isn't set
	// explicitly by the caller.
	DefaultPersistent bool
	// DefaultPriority is used when SendOptions.Priority is left at its
	// zero value by the caller; 4 is JMS's own default priority.
	DefaultPriority byte
}

// SetDefaults returns a modified copy with zero values replaced.
func (o Options) SetDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = 1024 * 1024
	}
	if o.DefaultPriority == 0 {
		o.DefaultPriority = 4
	}
	return o
}

// SendOptions customizes one Send call.
type SendOptions struct {
	Priority      byte
	Persistent    *bool // nil selects the Producer's DefaultPersistent
	TimeToLive    time.Duration
	CorrelationID string
	ReplyTo       *command.Destination
	Properties    map[string]interface{}
}

// Producer sends messages tagged with sequential MessageIDs under one
// ProducerID. A nil Destination at construction makes it an "unidentified
// producer" whose Destination is supplied per Send call instead.
type Producer struct {
	id   command.ProducerID
	dest *command.Destination
	sess *session.Session
	tp   transport.Transport
	opts Options

	seq command.MonotonicCounter

	windowMu   sync.Mutex
	windowCond *sync.Cond
	windowUsed int

	closed bool
}

// NewProducer creates a Producer under sess and sends its ProducerInfo.
// Pass a nil dest for an unidentified producer that specifies its
// destination per Send call.
func NewProducer(ctx context.Context, sess *session.Session, dest *command.Destination, opts Options) (*Producer, error) {
	opts = opts.SetDefaults()

	id := sess.NextProducerID()
	p := &Producer{
		id:   id,
		dest: dest,
		sess: sess,
		tp:   sess.Transport(),
		opts: opts,
	}
	p.windowCond = sync.NewCond(&p.windowMu)

	info := &command.ProducerInfo{
		ProducerID:  id,
		Destination: dest,
		WindowSize:  opts.WindowSize,
	}
	info.SetResponseRequired(true)
	if _, err := sess.Transport().Request(ctx, info); err != nil {
		return nil, errs.Wrap(errs.KindIO, "create producer", err)
	}

	sess.RegisterProducer(id, p)
	return p, nil
}

// ID returns this producer's ProducerID.
func (p *Producer) ID() command.ProducerID { return p.id }

// Info reconstructs the ProducerInfo this Producer was created with, for
// the Connection kernel to resend on reconnect.
func (p *Producer) Info() *command.ProducerInfo {
	return &command.ProducerInfo{
		ProducerID:  p.id,
		Destination: p.dest,
		WindowSize:  p.opts.WindowSize,
	}
}

// Send assigns the next MessageID and transmits body. dest is ignored
// when this producer was created with a non-nil Destination — an
// identified producer cannot redirect sends, matching ActiveMQ's own
// client rule.
func (p *Producer) Send(ctx context.Context, dest command.Destination, bodyKind command.BodyType, body []byte, opts SendOptions) (command.MessageID, error) {
	p.windowMu.Lock()
	closed := p.closed
	p.windowMu.Unlock()
	if closed {
		return command.MessageID{}, errs.New(errs.KindIllegalState, "producer closed")
	}

	if p.dest != nil {
		dest = *p.dest
	}

	persistent := p.opts.DefaultPersistent
	if opts.Persistent != nil {
		persistent = *opts.Persistent
	}
	priority := opts.Priority
	if priority == 0 {
		priority = p.opts.DefaultPriority
	}

	msgID := command.MessageID{ProducerID: p.id, ProducerSequenceID: p.seq.Next()}
	m := &command.Message{
		MessageID:     msgID,
		ProducerID:    p.id,
		Destination:   dest,
		Timestamp:     time.Now(),
		Priority:      priority,
		Persistent:    persistent,
		Body:          body,
		BodyKind:      bodyKind,
		CorrelationID: opts.CorrelationID,
		ReplyTo:       opts.ReplyTo,
	}
	if opts.TimeToLive > 0 {
		m.Expiration = time.Now().Add(opts.TimeToLive)
	}
	if opts.Properties != nil {
		for k, v := range opts.Properties {
			if err := m.Properties().Set(k, v); err != nil {
				return command.MessageID{}, errs.Wrap(errs.KindWireFormat, "set message property", err)
			}
		}
	}
	if p.sess.AckMode() == session.AckTransacted {
		tx, err := p.sess.EnsureTransaction(ctx)
		if err != nil {
			return command.MessageID{}, err
		}
		m.TransactionID = tx
	}

	useSync := (persistent && !p.opts.UseAsyncSend) || p.opts.AlwaysSyncSend
	if useSync {
		m.SetResponseRequired(true)
		if _, err := p.tp.Request(ctx, m); err != nil {
			return command.MessageID{}, errs.Wrap(errs.KindIO, "send message", err)
		}
		return msgID, nil
	}

	size := len(body)
	if err := p.acquireWindow(ctx, size); err != nil {
		return command.MessageID{}, err
	}
	if err := p.tp.Oneway(m); err != nil {
		p.releaseWindow(size)
		return command.MessageID{}, errs.Wrap(errs.KindIO, "send message", err)
	}
	return msgID, nil
}

// acquireWindow blocks until there is room for size more in-flight
// bytes, honoring ctx.
func (p *Producer) acquireWindow(ctx context.Context, size int) error {
	p.windowMu.Lock()
	for p.windowUsed > 0 && p.windowUsed+size > p.opts.WindowSize {
		if ctx.Err() != nil {
			p.windowMu.Unlock()
			return ctx.Err()
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.windowMu.Lock()
				p.windowCond.Broadcast()
				p.windowMu.Unlock()
			case <-done:
			}
		}()
		p.windowCond.Wait()
		close(done)
	}
	p.windowUsed += size
	p.windowMu.Unlock()
	return nil
}

func (p *Producer) releaseWindow(size int) {
	p.windowMu.Lock()
	p.windowUsed -= size
	if p.windowUsed < 0 {
		p.windowUsed = 0
	}
	p.windowCond.Broadcast()
	p.windowMu.Unlock()
}

// OnProducerAck credits the async-send window, called by the owning
// Connection when a ProducerAck addressed to this ProducerID arrives.
func (p *Producer) OnProducerAck(ack *command.ProducerAck) {
	p.releaseWindow(int(ack.Size))
}

// SessionClosing implements session.ProducerHandle.
func (p *Producer) SessionClosing() {
	p.windowMu.Lock()
	p.closed = true
	p.windowCond.Broadcast()
	p.windowMu.Unlock()
}

// Close removes the producer from the broker.
func (p *Producer) Close(ctx context.Context) error {
	p.windowMu.Lock()
	already := p.closed
	p.closed = true
	p.windowCond.Broadcast()
	p.windowMu.Unlock()
	if already {
		return nil
	}
	p.sess.UnregisterProducer(p.id)

	remove := &command.RemoveInfo{ObjectID: p.id}
	remove.SetResponseRequired(true)
	if _, err := p.tp.Request(ctx, remove); err != nil {
		return errs.Wrap(errs.KindIO, "close producer", err)
	}
	return nil
}
