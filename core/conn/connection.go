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

// Package conn implements the Connection kernel: it assembles the
// transport filter chain (and wraps it in a FailoverTransport whenever
// one or more broker URIs are given), opens the ConnectionInfo
// handshake, and routes inbound MessageDispatch and ProducerAck
// commands down to the Consumer/Producer that owns them. On a
// FailoverTransport reconnect it resends ConnectionInfo, every
// SessionInfo, ConsumerInfo, and ProducerInfo, and any open transaction
// BEGIN strictly before FailoverTransport replays its write backlog, so
// the broker always sees subscriptions re-established first.
package conn

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/pub"
	"github.com/pepper-iot/openwire-client-go/core/session"
	"github.com/pepper-iot/openwire-client-go/core/sub"
	"github.com/pepper-iot/openwire-client-go/core/transport"
	"github.com/pepper-iot/openwire-client-go/errs"
	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// Options configures a Connection.
type Options struct {
	ClientID             string
	UserName             string
	Password             string
	WatchTopicAdvisories bool

	Transport transport.Options
	TLSConfig *tls.Config

	// Failover overrides the reconnect policy applied to the URIs passed
	// to Dial. Its URIs field is ignored; Dial always drives the pool
	// from its own uris argument so a single call site is the source of
	// truth for which brokers are in play.
	Failover transport.FailoverConfig

	// ConnectTimeout bounds how long Dial waits for the first successful
	// handshake before giving up.
	ConnectTimeout time.Duration

	// Prefetch and Redelivery carry the connection-wide
	// cms.prefetchPolicy.*/cms.redeliveryPolicy.* URI defaults that core/openwireurl.Parse fills in; NewConsumer applies
	// them to sub.Options.Prefetch/Redelivery whenever the caller leaves
	// those fields at their zero value, so a consumer created without its
	// own per-call override still inherits the connection URI's policy.
	Prefetch   command.PrefetchPolicy
	Redelivery command.RedeliveryPolicy

	// The connection.* URI family: connection-wide
	// defaults folded onto every Producer/Consumer created through this
	// Connection whose own Options leave the matching field unset.
	UseAsyncSend                     bool
	AlwaysSyncSend                   bool
	ProducerWindowSize               int
	DispatchAsync                    bool
	OptimizeAcknowledge              bool
	OptimizeAcknowledgeTimeout       time.Duration
	OptimizedAckScheduledAckInterval time.Duration

	// CloseTimeout bounds Close when the caller's context carries no
	// deadline of its own.
	CloseTimeout time.Duration
}

// SetDefaults returns a modified copy with zero values replaced.
func (o Options) SetDefaults() Options {
	if o.Transport == (transport.Options{}) {
		o.Transport = transport.DefaultOptions()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	return o
}

// Connection owns one ConnectionID's worth of sessions, consumers, and
// producers, and the single (possibly failover-wrapped) Transport they
// all share.
type Connection struct {
	id   command.ConnectionID
	opts Options
	tp   *transport.FailoverTransport

	sessionIDs  command.MonotonicCounter
	tempDestIDs command.MonotonicCounter

	mu        sync.Mutex
	sessions  map[string]*session.Session
	consumers map[string]*sub.Consumer
	producers map[string]*pub.Producer
	closed    bool

	firstConnectOnce sync.Once
	firstConnected   chan struct{}

	excMu       sync.Mutex
	excListener func(error)
}

// Dial assembles a transport chain for each of uris (tcp:// or ssl://),
// wraps it in a FailoverTransport, and blocks until the first handshake
// succeeds or ctx/Options.ConnectTimeout elapses. A single URI still
// gets FailoverTransport's automatic-reconnect behavior; it just never
// has a second address to roll over to.
func Dial(ctx context.Context, uris []string, opts Options) (*Connection, error) {
	if len(uris) == 0 {
		return nil, errs.New(errs.KindIllegalState, "no broker URIs given")
	}
	opts = opts.SetDefaults()

	fc := opts.Failover
	fc.URIs = uris
	if fc.InitialReconnectDelay <= 0 && fc.MaxReconnectDelay <= 0 && fc.BackoffMultiplier <= 0 {
		d := transport.DefaultFailoverConfig(uris)
		fc.InitialReconnectDelay = d.InitialReconnectDelay
		fc.MaxReconnectDelay = d.MaxReconnectDelay
		fc.BackoffMultiplier = d.BackoffMultiplier
		fc.Randomize = d.Randomize
	}

	c := newConnection(opts)

	connectFn := buildConnectFunc(opts.Transport, opts.TLSConfig)
	ft := transport.NewFailoverTransport(fc, connectFn)
	c.tp = ft
	ft.SetListener(c)
	ft.SetRecoveryListener(c)

	if err := ft.Start(); err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	select {
	case <-c.firstConnected:
	case <-connectCtx.Done():
		_ = ft.Close()
		return nil, errs.Wrap(errs.KindTimeout, "connect", connectCtx.Err())
	}
	return c, nil
}

// newConnection allocates an unstarted Connection with no Transport
// wired in yet; callers attach one (Dial wires a FailoverTransport built
// around buildConnectFunc, tests may wire any Transport implementation)
// and drive its firstConnected gate via OnRecovered.
func newConnection(opts Options) *Connection {
	c := &Connection{
		id:             command.NewConnectionID(),
		opts:           opts,
		sessions:       make(map[string]*session.Session),
		consumers:      make(map[string]*sub.Consumer),
		producers:      make(map[string]*pub.Producer),
		firstConnected: make(chan struct{}),
	}
	if opts.ClientID != "" {
		// A client-supplied ClientID makes the ConnectionID stable across
		// process restarts for durable subscriptions; mirror it into the
		// generated id's Value the way ActiveMQ's own client does.
		c.id.Value = opts.ClientID
	}
	return c
}

func buildConnectFunc(topts transport.Options, tlsConfig *tls.Config) transport.ConnectFunc {
	return func(ctx context.Context, uri string) (transport.Transport, error) {
		if strings.HasPrefix(uri, "ssl://") || strings.HasPrefix(uri, "tls://") {
			cfg := tlsConfig
			if cfg == nil {
				cfg = &tls.Config{}
			}
			return transport.ChainTLS(ctx, uri, cfg, topts)
		}
		return transport.Chain(ctx, uri, topts)
	}
}

// ID returns this connection's ConnectionID.
func (c *Connection) ID() command.ConnectionID { return c.id }

// SetExceptionListener installs a callback invoked when the broker
// reports a fatal ConnectionError.
func (c *Connection) SetExceptionListener(fn func(error)) {
	c.excMu.Lock()
	c.excListener = fn
	c.excMu.Unlock()
}

func (c *Connection) exceptionListener() func(error) {
	c.excMu.Lock()
	defer c.excMu.Unlock()
	return c.excListener
}

// CreateSession allocates a connection-scoped SessionID and opens a
// Session under it.
func (c *Connection) CreateSession(ctx context.Context, mode session.AckMode) (*session.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errs.New(errs.KindIllegalState, "connection closed")
	}
	id := command.SessionID{ConnectionID: c.id, Value: c.sessionIDs.Next()}
	c.mu.Unlock()

	sess, err := session.New(ctx, c.tp, id, mode)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[id.String()] = sess
	c.mu.Unlock()
	return sess, nil
}

// NewConsumer creates a Consumer under sess and registers it so inbound
// MessageDispatch commands addressed to it are routed here. Consumers
// meant to survive a reconnect must be created through this method
// rather than sub.NewConsumer directly, since only this registry is
// replayed by OnRecovered.
func (c *Connection) NewConsumer(ctx context.Context, sess *session.Session, dest command.Destination, opts sub.Options) (*sub.Consumer, error) {
	if opts.Prefetch == (command.PrefetchPolicy{}) {
		opts.Prefetch = c.opts.Prefetch
	}
	if opts.Redelivery == (command.RedeliveryPolicy{}) {
		opts.Redelivery = c.opts.Redelivery
	}
	if !opts.DispatchAsync {
		opts.DispatchAsync = c.opts.DispatchAsync
	}
	if !opts.OptimizeAcknowledge {
		opts.OptimizeAcknowledge = c.opts.OptimizeAcknowledge
		if opts.OptimizeAcknowledgeTimeout == 0 {
			opts.OptimizeAcknowledgeTimeout = c.opts.OptimizeAcknowledgeTimeout
		}
		if opts.OptimizedAckScheduledAckInterval == 0 {
			opts.OptimizedAckScheduledAckInterval = c.opts.OptimizedAckScheduledAckInterval
		}
	}
	cons, err := sub.NewConsumer(ctx, sess, dest, opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.consumers[cons.ID().String()] = cons
	c.mu.Unlock()
	return cons, nil
}

// NewProducer creates a Producer under sess and registers it so inbound
// ProducerAck credit is routed here.
func (c *Connection) NewProducer(ctx context.Context, sess *session.Session, dest *command.Destination, opts pub.Options) (*pub.Producer, error) {
	if !opts.UseAsyncSend {
		opts.UseAsyncSend = c.opts.UseAsyncSend
	}
	if !opts.AlwaysSyncSend {
		opts.AlwaysSyncSend = c.opts.AlwaysSyncSend
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = c.opts.ProducerWindowSize
	}
	prod, err := pub.NewProducer(ctx, sess, dest, opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.producers[prod.ID().String()] = prod
	c.mu.Unlock()
	return prod, nil
}

// OnCommand implements transport.Listener, routing unsolicited commands
// (those not correlated to an outstanding Request) to the consumer,
// producer, or exception listener they belong to.
func (c *Connection) OnCommand(cmd command.Command) {
	switch v := cmd.(type) {
	case *command.MessageDispatch:
		c.mu.Lock()
		cons := c.consumers[v.ConsumerID.String()]
		c.mu.Unlock()
		if cons == nil {
			log.Warnf("conn: MessageDispatch for unknown consumer %s", v.ConsumerID)
			return
		}
		cons.OnMessageDispatch(v)
	case *command.ProducerAck:
		c.mu.Lock()
		prod := c.producers[v.ProducerID.String()]
		c.mu.Unlock()
		if prod == nil {
			log.Warnf("conn: ProducerAck for unknown producer %s", v.ProducerID)
			return
		}
		prod.OnProducerAck(v)
	case *command.ConnectionError:
		log.Errorf("conn: broker reported a connection error: %s", v.Message)
		if fn := c.exceptionListener(); fn != nil {
			fn(errs.New(errs.KindBroker, v.Message))
		}
	default:
		log.Debugf("conn: ignoring unsolicited command %T", cmd)
	}
}

// OnException implements transport.Listener. FailoverTransport itself
// swallows inner transport failures to drive its own reconnect loop, so
// in practice this only fires if the caller deliberately wires a
// non-fault-tolerant Transport in place of a FailoverTransport.
func (c *Connection) OnException(err error) {
	log.Warnf("conn: transport exception: %v", err)
	if fn := c.exceptionListener(); fn != nil {
		fn(err)
	}
}

// OnRecovered implements transport.RecoveryListener: it resends
// ConnectionInfo, then every tracked SessionInfo (each followed at once
// by a BEGIN for that session's in-flight transaction, if any), then
// every ConsumerInfo and ProducerInfo, over
// next — the freshly dialed inner Transport — strictly before
// FailoverTransport marks itself connected and replays its backlog.
func (c *Connection) OnRecovered(next transport.Transport) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info := &command.ConnectionInfo{
		ConnectionID:         c.id,
		ClientID:             c.opts.ClientID,
		UserName:             c.opts.UserName,
		Password:             c.opts.Password,
		WatchTopicAdvisories: c.opts.WatchTopicAdvisories,
	}
	info.SetResponseRequired(true)
	if _, err := next.Request(ctx, info); err != nil {
		return errs.Wrap(errs.KindIO, "resend ConnectionInfo", err)
	}

	c.mu.Lock()
	sessions := make([]*session.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	consumers := make([]*sub.Consumer, 0, len(c.consumers))
	for _, cons := range c.consumers {
		consumers = append(consumers, cons)
	}
	producers := make([]*pub.Producer, 0, len(c.producers))
	for _, p := range c.producers {
		producers = append(producers, p)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		sinfo := s.Info()
		sinfo.SetResponseRequired(true)
		if _, err := next.Request(ctx, sinfo); err != nil {
			return errs.Wrap(errs.KindIO, "resend SessionInfo", err)
		}
		if tx := s.CurrentTransactionID(); tx != nil {
			begin := &command.TransactionInfo{
				ConnectionID:  tx.ConnectionID,
				TransactionID: *tx,
				Type:          command.TxBegin,
			}
			begin.SetResponseRequired(true)
			if _, err := next.Request(ctx, begin); err != nil {
				return errs.Wrap(errs.KindIO, "resume transaction", err)
			}
		}
	}
	for _, cons := range consumers {
		cinfo := cons.Info()
		cinfo.SetResponseRequired(true)
		if _, err := next.Request(ctx, cinfo); err != nil {
			return errs.Wrap(errs.KindIO, "resend ConsumerInfo", err)
		}
	}
	for _, p := range producers {
		pinfo := p.Info()
		pinfo.SetResponseRequired(true)
		if _, err := next.Request(ctx, pinfo); err != nil {
			return errs.Wrap(errs.KindIO, "resend ProducerInfo", err)
		}
	}

	c.firstConnectOnce.Do(func() { close(c.firstConnected) })
	return nil
}

// CreateTemporaryQueue asks the broker for a connection-scoped temporary
// queue, named after this connection's id so JMSReplyTo routing stays
// unambiguous across connections. The broker deletes it when the
// connection goes away; DeleteTemporaryDestination removes it sooner.
func (c *Connection) CreateTemporaryQueue(ctx context.Context) (command.Destination, error) {
	return c.createTempDestination(ctx, command.KindTempQueue)
}

// CreateTemporaryTopic is the topic flavor of CreateTemporaryQueue.
func (c *Connection) CreateTemporaryTopic(ctx context.Context) (command.Destination, error) {
	return c.createTempDestination(ctx, command.KindTempTopic)
}

func (c *Connection) createTempDestination(ctx context.Context, kind command.DestinationKind) (command.Destination, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return command.Destination{}, errs.New(errs.KindIllegalState, "connection closed")
	}

	dest := command.Destination{
		Kind: kind,
		Name: c.id.Value + ":" + strconv.FormatInt(c.tempDestIDs.Next(), 10),
	}
	info := &command.DestinationInfo{
		ConnectionID:  c.id,
		Destination:   dest,
		OperationType: command.DestAdd,
	}
	info.SetResponseRequired(true)
	if _, err := c.tp.Request(ctx, info); err != nil {
		return command.Destination{}, errs.Wrap(errs.KindIO, "create temporary destination", err)
	}
	return dest, nil
}

// DeleteTemporaryDestination removes a temporary destination created on
// this connection before the connection itself goes away. The broker
// rejects the removal while the destination still has consumers.
func (c *Connection) DeleteTemporaryDestination(ctx context.Context, dest command.Destination) error {
	if dest.Kind != command.KindTempQueue && dest.Kind != command.KindTempTopic {
		return errs.New(errs.KindIllegalState, "not a temporary destination: "+dest.String())
	}
	info := &command.DestinationInfo{
		ConnectionID:  c.id,
		Destination:   dest,
		OperationType: command.DestRemove,
	}
	info.SetResponseRequired(true)
	if _, err := c.tp.Request(ctx, info); err != nil {
		return errs.Wrap(errs.KindIO, "delete temporary destination", err)
	}
	return nil
}

// Unsubscribe erases a durable topic subscription's broker-side state by
// name. A durable consumer's subscription survives its
// Consumer reaching Closed; only this call removes it, so callers must
// Close the consumer (if still open) before calling Unsubscribe.
func (c *Connection) Unsubscribe(ctx context.Context, subscriptionName string) error {
	remove := &command.RemoveSubscriptionInfo{
		ConnectionID:     c.id,
		ClientID:         c.opts.ClientID,
		SubscriptionName: subscriptionName,
	}
	remove.SetResponseRequired(true)
	if _, err := c.tp.Request(ctx, remove); err != nil {
		return errs.Wrap(errs.KindIO, "unsubscribe "+subscriptionName, err)
	}
	return nil
}

// Close tears down every tracked session and the underlying transport.
// When ctx carries no deadline and Options.CloseTimeout is set, the
// teardown is bounded by that timeout instead of waiting indefinitely.
func (c *Connection) Close(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.opts.CloseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CloseTimeout)
		defer cancel()
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*session.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*session.Session)
	c.consumers = make(map[string]*sub.Consumer)
	c.producers = make(map[string]*pub.Producer)
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			log.Warnf("conn: closing session: %v", err)
		}
	}

	_ = c.tp.Oneway(&command.ShutdownInfo{})
	return c.tp.Close()
}
