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

// Package sub implements the consumer half of the client: prefetch-
// bounded dispatch off a FIFO or 8-band priority channel, the five ack
// strategies a Session mode selects, optimizeAcknowledge batching, and
// poison-message handling once a redelivered message exceeds its
// RedeliveryPolicy. Construction hangs a Consumer off a shared
// *session.Session, rather than Session importing this package back.
package sub

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/dispatch"
	"github.com/pepper-iot/openwire-client-go/core/session"
	"github.com/pepper-iot/openwire-client-go/core/transport"
	"github.com/pepper-iot/openwire-client-go/errs"
	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// Options configures a Consumer.
type Options struct {
	Selector                   string
	NoLocal                    bool
	Exclusive                  bool
	Retroactive                bool
	Priority                   byte
	PrefetchSize               int // 0 selects pull-consumer semantics (MessagePull per receive)
	MaximumPendingMessageLimit int
	BrowserMode                bool
	DispatchAsync              bool
	// SubscriptionName makes the subscription durable when non-empty;
	// it must be stable across reconnects for the same ClientID.
	SubscriptionName string
	// UsePriorityDispatch selects the 8-band priority dispatch channel
	// instead of plain FIFO.
	UsePriorityDispatch bool
	Redelivery          command.RedeliveryPolicy

	// Prefetch supplies the per-destination-kind prefetch window sizes
	// SetDefaults draws from when PrefetchSize is left at zero; the zero
	// value of Prefetch itself falls back to command.DefaultPrefetchPolicy.
	Prefetch command.PrefetchPolicy

	// OptimizeAcknowledge defers AUTO-mode acks until either
	// OptimizeAcknowledgeTimeout elapses or the scheduled interval
	// fires. Expired messages are still acked promptly.
	OptimizeAcknowledge              bool
	OptimizeAcknowledgeTimeout       time.Duration
	OptimizedAckScheduledAckInterval time.Duration

	// AuditDepth bounds how many MessageIds of redelivered dispatches are
	// remembered; a redelivered dispatch whose MessageId is already
	// remembered is acked and skipped as a duplicate. Zero or negative
	// selects the default depth of 256, so the audit is always on.
	AuditDepth int
}

// SetDefaults returns a modified copy with zero values replaced by the
// client's defaults. dest and durable select which of Prefetch's
// per-destination-kind windows (or command.DefaultPrefetchPolicy's, if
// Prefetch was left unset) becomes PrefetchSize's default.
func (o Options) SetDefaults(dest command.Destination, durable bool) Options {
	if o.Prefetch == (command.PrefetchPolicy{}) {
		o.Prefetch = command.DefaultPrefetchPolicy()
	}
	if o.PrefetchSize == 0 {
		switch {
		case o.BrowserMode:
			o.PrefetchSize = o.Prefetch.QueueBrowserPrefetch
		case dest.Kind == command.KindTopic && durable:
			o.PrefetchSize = o.Prefetch.DurableTopicPrefetch
		case dest.Kind == command.KindTopic || dest.Kind == command.KindTempTopic:
			o.PrefetchSize = o.Prefetch.TopicPrefetch
		default:
			o.PrefetchSize = o.Prefetch.QueuePrefetch
		}
	}
	if o.MaximumPendingMessageLimit <= 0 {
		o.MaximumPendingMessageLimit = o.PrefetchSize
	}
	if o.Redelivery == (command.RedeliveryPolicy{}) {
		o.Redelivery = command.DefaultRedeliveryPolicy()
	}
	if o.OptimizeAcknowledge && o.OptimizeAcknowledgeTimeout <= 0 {
		o.OptimizeAcknowledgeTimeout = 300 * time.Millisecond
	}
	if o.OptimizeAcknowledge && o.OptimizedAckScheduledAckInterval <= 0 {
		o.OptimizedAckScheduledAckInterval = time.Second
	}
	if o.AuditDepth <= 0 {
		o.AuditDepth = 256
	}
	return o
}

// applyDestinationOptions folds the consumer.* options parsed off the
// destination string (`orders?consumer.exclusive=true`) onto o. A
// present option wins over the struct field, since the destination
// string is the more specific configuration surface; unrecognized
// options are left on the Destination for the broker to interpret.
func (o Options) applyDestinationOptions(dest command.Destination) Options {
	if v := dest.Option("consumer.exclusive"); v != "" {
		o.Exclusive = v == "true"
	}
	if v := dest.Option("consumer.noLocal"); v != "" {
		o.NoLocal = v == "true"
	}
	if v := dest.Option("consumer.retroactive"); v != "" {
		o.Retroactive = v == "true"
	}
	if v := dest.Option("consumer.dispatchAsync"); v != "" {
		o.DispatchAsync = v == "true"
	}
	if v := dest.Option("consumer.selector"); v != "" {
		o.Selector = v
	}
	if v := dest.Option("consumer.priority"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 9 {
			o.Priority = byte(n)
		}
	}
	if v := dest.Option("consumer.prefetchSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.PrefetchSize = n
		}
	}
	return o
}

// Consumer dispatches messages for one ConsumerID, applying the ack
// strategy its owning Session's AckMode selects.
type Consumer struct {
	id   command.ConsumerID
	dest command.Destination
	sess *session.Session
	tp   transport.Transport
	opts Options

	channel dispatch.Channel

	mu     sync.Mutex
	closed bool
	closedc chan struct{}

	pendingMu       sync.Mutex
	pendingCount    int32
	pendingLast     *command.MessageDispatch
	ackTimer        *time.Timer

	auditMu   sync.Mutex
	audit     []string
	auditSeen map[string]struct{}

	listenerMu sync.Mutex
	listener   func(msg *command.Message)
}

// NewConsumer creates a Consumer bound to dest under sess, and sends its
// ConsumerInfo. Passing a non-empty opts.SubscriptionName makes the
// subscription durable.
func NewConsumer(ctx context.Context, sess *session.Session, dest command.Destination, opts Options) (*Consumer, error) {
	opts = opts.applyDestinationOptions(dest)
	opts = opts.SetDefaults(dest, opts.SubscriptionName != "")

	id := sess.NextConsumerID()
	id.SubscriptionName = opts.SubscriptionName

	var channel dispatch.Channel
	if opts.UsePriorityDispatch {
		channel = dispatch.NewPriority()
	} else {
		channel = dispatch.NewFifo()
	}

	c := &Consumer{
		id:        id,
		dest:      dest,
		sess:      sess,
		tp:        sess.Transport(),
		opts:      opts,
		channel:   channel,
		closedc:   make(chan struct{}),
		auditSeen: make(map[string]struct{}),
	}

	info := &command.ConsumerInfo{
		ConsumerID:                 id,
		Destination:                dest,
		Selector:                   opts.Selector,
		NoLocal:                    opts.NoLocal,
		Exclusive:                  opts.Exclusive,
		Retroactive:                opts.Retroactive,
		Priority:                   opts.Priority,
		PrefetchSize:               opts.PrefetchSize,
		MaximumPendingMessageLimit: opts.MaximumPendingMessageLimit,
		BrowserMode:                opts.BrowserMode,
		DispatchAsync:              opts.DispatchAsync,
		SubscriptionName:           opts.SubscriptionName,
	}
	info.SetResponseRequired(true)
	if _, err := sess.Transport().Request(ctx, info); err != nil {
		return nil, errs.Wrap(errs.KindIO, "create consumer", err)
	}

	sess.RegisterConsumer(id, c)
	channel.Start()
	return c, nil
}

// ID returns this consumer's ConsumerID.
func (c *Consumer) ID() command.ConsumerID { return c.id }

// Opts returns the effective Options this Consumer was created with,
// after SetDefaults filled in any zero-valued fields.
func (c *Consumer) Opts() Options { return c.opts }

// Info reconstructs the ConsumerInfo this Consumer was created with, for
// the Connection kernel to resend on reconnect.
func (c *Consumer) Info() *command.ConsumerInfo {
	return &command.ConsumerInfo{
		ConsumerID:                 c.id,
		Destination:                c.dest,
		Selector:                   c.opts.Selector,
		NoLocal:                    c.opts.NoLocal,
		Exclusive:                  c.opts.Exclusive,
		Retroactive:                c.opts.Retroactive,
		Priority:                   c.opts.Priority,
		PrefetchSize:               c.opts.PrefetchSize,
		MaximumPendingMessageLimit: c.opts.MaximumPendingMessageLimit,
		BrowserMode:                c.opts.BrowserMode,
		DispatchAsync:              c.opts.DispatchAsync,
		SubscriptionName:           c.opts.SubscriptionName,
	}
}

// Closed reports a channel that closes once this consumer has been
// closed, for select-based callers.
func (c *Consumer) Closed() <-chan struct{} { return c.closedc }

// SetListener installs an asynchronous message listener and starts the
// background dispatch pump that feeds it. Calling SetListener makes
// Receive unusable on this consumer, matching javax.jms's mutual
// exclusion between MessageListener and synchronous receive.
func (c *Consumer) SetListener(fn func(msg *command.Message)) {
	c.listenerMu.Lock()
	c.listener = fn
	c.listenerMu.Unlock()
	go c.pump()
}

func (c *Consumer) pump() {
	for {
		d := c.channel.Dequeue(-1)
		if d == nil {
			select {
			case <-c.closedc:
				return
			default:
				continue
			}
		}
		c.deliver(d)
	}
}

func (c *Consumer) deliver(d *command.MessageDispatch) {
	if c.isPoison(d) {
		_ = c.sendAck(context.Background(), command.AckPoison, d.Message.MessageID, d.Message.MessageID, 1, "exceeded maximum redeliveries")
		return
	}
	if d.Message.Expired(time.Now()) {
		_ = c.sendAck(context.Background(), command.AckExpired, d.Message.MessageID, d.Message.MessageID, 1, "")
		return
	}

	c.listenerMu.Lock()
	fn := c.listener
	c.listenerMu.Unlock()
	if fn != nil {
		fn(d.Message)
	}
	c.autoAck(d)
}

// isPoison reports whether d's redelivery count has exceeded this
// consumer's RedeliveryPolicy.
func (c *Consumer) isPoison(d *command.MessageDispatch) bool {
	max := c.opts.Redelivery.MaximumRedeliveries
	return max >= 0 && d.RedeliveryCounter > max
}

// Receive returns a single Message, if available, blocking on ctx. The
// message is auto-acked per the session's ack mode before returning
// unless the mode is CLIENT or INDIVIDUAL, in which case the caller must
// call Acknowledge explicitly.
func (c *Consumer) Receive(ctx context.Context) (*command.Message, error) {
	if c.opts.PrefetchSize == 0 {
		if err := c.pull(ctx); err != nil {
			return nil, err
		}
	}

	for {
		d := c.dequeueWithContext(ctx)
		if d == nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.closedc:
				return nil, errs.New(errs.KindIllegalState, "consumer closed")
			default:
				continue
			}
		}
		if c.isPoison(d) {
			_ = c.sendAck(ctx, command.AckPoison, d.Message.MessageID, d.Message.MessageID, 1, "exceeded maximum redeliveries")
			continue
		}
		if d.Message.Expired(time.Now()) {
			_ = c.sendAck(ctx, command.AckExpired, d.Message.MessageID, d.Message.MessageID, 1, "")
			continue
		}
		if c.opts.AuditDepth > 0 && d.Message.Redelivered && c.seenBefore(d.Message.MessageID.String()) {
			_ = c.sendAck(ctx, command.AckStandard, d.Message.MessageID, d.Message.MessageID, 1, "")
			continue
		}
		c.autoAck(d)
		return d.Message, nil
	}
}

// dequeueWithContext polls the dispatch channel in short slices so a
// parent ctx cancellation is honored even though Channel.Dequeue itself
// only understands a plain time.Duration.
func (c *Consumer) dequeueWithContext(ctx context.Context) *command.MessageDispatch {
	const slice = 200 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closedc:
			return nil
		default:
		}
		if d := c.channel.Dequeue(slice); d != nil {
			return d
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) seenBefore(id string) bool {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	if _, ok := c.auditSeen[id]; ok {
		return true
	}
	c.audit = append(c.audit, id)
	c.auditSeen[id] = struct{}{}
	if len(c.audit) > c.opts.AuditDepth {
		drop := c.audit[0]
		c.audit = c.audit[1:]
		delete(c.auditSeen, drop)
	}
	return false
}

// autoAck applies AUTO/DUPS_OK/TRANSACTED ack timing. CLIENT and
// INDIVIDUAL modes never auto-ack; Acknowledge must be called by the caller.
// Expiration is handled before delivery (Receive and deliver both skip
// expired messages with a prompt EXPIRED ack), so by the time a dispatch
// reaches this point it is live.
func (c *Consumer) autoAck(d *command.MessageDispatch) {
	switch c.sess.AckMode() {
	case session.AckClient, session.AckIndividual:
		return
	case session.AckTransacted:
		_ = c.sendAck(context.Background(), command.AckStandard, d.Message.MessageID, d.Message.MessageID, 1, "")
	case session.AckDupsOk:
		c.batchAck(d, int32(float64(c.opts.PrefetchSize)*0.65))
	default: // AckAuto
		if c.opts.OptimizeAcknowledge {
			c.batchAck(d, int32(c.opts.PrefetchSize))
		} else {
			_ = c.sendAck(context.Background(), command.AckStandard, d.Message.MessageID, d.Message.MessageID, 1, "")
		}
	}
}

// batchAck coalesces a run of standard acks, flushing either once count
// reaches highWater or the ack timer fires. The timer starts with the
// first pending ack and runs for the shorter of OptimizedAckScheduledAckInterval
// and, when OptimizeAcknowledge is set, OptimizeAcknowledgeTimeout.
func (c *Consumer) batchAck(d *command.MessageDispatch, highWater int32) {
	c.pendingMu.Lock()
	c.pendingLast = d
	c.pendingCount++
	count := c.pendingCount
	if c.ackTimer == nil {
		delay := c.opts.OptimizedAckScheduledAckInterval
		if t := c.opts.OptimizeAcknowledgeTimeout; c.opts.OptimizeAcknowledge && t > 0 && (delay <= 0 || t < delay) {
			delay = t
		}
		if delay > 0 {
			c.ackTimer = time.AfterFunc(delay, c.flushPendingAck)
		}
	}
	c.pendingMu.Unlock()

	if highWater > 0 && count >= highWater {
		c.flushPendingAck()
	}
}

func (c *Consumer) flushPendingAck() {
	c.pendingMu.Lock()
	last := c.pendingLast
	count := c.pendingCount
	c.pendingLast = nil
	c.pendingCount = 0
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.pendingMu.Unlock()

	if last == nil || count == 0 {
		return
	}
	if err := c.sendAck(context.Background(), command.AckStandard, last.Message.MessageID, last.Message.MessageID, count, ""); err != nil {
		log.Warnf("consumer %s: batched ack failed: %v", c.id, err)
	}
}

// Acknowledge acks msg explicitly, as required in CLIENT mode (acks
// every message up to and including msg on this consumer) and
// INDIVIDUAL mode (acks exactly msg).
func (c *Consumer) Acknowledge(ctx context.Context, msg *command.Message) error {
	ackType := command.AckStandard
	if c.sess.AckMode() == session.AckIndividual {
		ackType = command.AckIndividual
	}
	return c.sendAck(ctx, ackType, msg.MessageID, msg.MessageID, 1, "")
}

func (c *Consumer) sendAck(ctx context.Context, ackType command.AckType, first, last command.MessageID, count int32, poisonCause string) error {
	ack := &command.MessageAck{
		AckType:        ackType,
		ConsumerID:     c.id,
		Destination:    c.dest,
		FirstMessageID: first,
		LastMessageID:  last,
		MessageCount:   count,
		PoisonCause:    poisonCause,
	}
	if c.sess.AckMode() == session.AckTransacted {
		tx, err := c.sess.EnsureTransaction(ctx)
		if err != nil {
			return err
		}
		ack.TransactionID = tx
	}
	if err := c.tp.Oneway(ack); err != nil {
		return errs.Wrap(errs.KindIO, "send ack", err)
	}
	return nil
}

// RedeliverUnacknowledged asks the broker to redeliver everything
// dispatched to this consumer but not yet acked — used after a CLIENT-
// mode session.recover() or an application-level redelivery request.
func (c *Consumer) RedeliverUnacknowledged(ctx context.Context) error {
	ack := &command.MessageAck{
		AckType:     command.AckRedelivered,
		ConsumerID:  c.id,
		Destination: c.dest,
	}
	ack.SetResponseRequired(true)
	_, err := c.tp.Request(ctx, ack)
	if err != nil {
		return errs.Wrap(errs.KindIO, "redeliver unacknowledged", err)
	}
	return nil
}

// OnMessageDispatch is called by the owning Connection when a
// MessageDispatch arrives for this consumer's ConsumerID. Wire-level
// corruption is handled upstream by the wireformat unmarshaller; a
// lazy-property parse failure surfaces only when the
// application actually reads a property, at which point the caller
// decides whether to poison-ack — this method itself never rejects a
// dispatch outright.
func (c *Consumer) OnMessageDispatch(d *command.MessageDispatch) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.channel.Enqueue(d)
}

// Rollback implements session.ConsumerHandle: drain everything still
// sitting in the dispatch channel and re-enqueue it at the front in its
// original order, each with its redelivery counter bumped and
// Redelivered set.
func (c *Consumer) Rollback() {
	pending := c.channel.RemoveAll()
	for i := len(pending) - 1; i >= 0; i-- {
		d := pending[i]
		d.RedeliveryCounter++
		d.Message.RedeliveryCounter = d.RedeliveryCounter
		d.Message.Redelivered = true
		c.channel.EnqueueFirst(d)
	}
}

// Recover implements session.ConsumerHandle: marks every currently
// queued dispatch redelivered, matching session.recover() in CLIENT
// mode — the broker will separately redeliver once told to via
// RedeliverUnacknowledged.
func (c *Consumer) Recover() {
	pending := c.channel.RemoveAll()
	for i := len(pending) - 1; i >= 0; i-- {
		d := pending[i]
		d.Message.Redelivered = true
		c.channel.EnqueueFirst(d)
	}
}

// SessionClosing implements session.ConsumerHandle.
func (c *Consumer) SessionClosing() {
	_ = c.closeLocal()
}

// Close removes the consumer from the broker with a RemoveInfo. It does
// not unsubscribe: a durable subscription outlives Close.
func (c *Consumer) Close(ctx context.Context) error {
	if !c.closeLocal() {
		return nil
	}
	c.sess.UnregisterConsumer(c.id)

	remove := &command.RemoveInfo{ObjectID: c.id}
	remove.SetResponseRequired(true)
	if _, err := c.tp.Request(ctx, remove); err != nil {
		return errs.Wrap(errs.KindIO, "close consumer", err)
	}
	return nil
}

func (c *Consumer) closeLocal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.closedc)
	c.channel.Close()
	return true
}

func (c *Consumer) pull(ctx context.Context) error {
	pull := &command.MessagePull{ConsumerID: c.id, Destination: c.dest}
	if deadline, ok := ctx.Deadline(); ok {
		pull.Timeout = time.Until(deadline)
	}
	if err := c.tp.Oneway(pull); err != nil {
		return errs.Wrap(errs.KindIO, "message pull", err)
	}
	return nil
}
