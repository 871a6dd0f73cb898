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
	"math/rand"
	"sync"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/threads"
	"github.com/pepper-iot/openwire-client-go/errs"
	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// ConnectFunc builds and starts one fully assembled inner Transport chain
// (ordinarily wireFormatIO -> inactivityMonitor -> negotiator ->
// responseCorrelator) against the broker named by uri. FailoverTransport
// calls it once per connect attempt and owns the result until the next
// reconnect or Close.
type ConnectFunc func(ctx context.Context, uri string) (Transport, error)

// RecoveryListener lets the owner (the Connection kernel) resend
// ConnectionInfo/SessionInfo/ConsumerInfo/ProducerInfo and any open
// transaction state to a freshly (re)connected Transport before
// FailoverTransport replays its write backlog.
type RecoveryListener interface {
	OnRecovered(next Transport) error
}

// FailoverConfig controls FailoverTransport's reconnect behavior.
type FailoverConfig struct {
	URIs []string

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	BackoffMultiplier     float64
	MaxReconnectAttempts  int // 0 means unlimited
	Randomize             bool

	// MaxBacklog bounds how many Oneway commands will be queued while
	// reconnecting before an IO-kind "failover backlog full" error is
	// returned to the caller. Zero
	// means unbounded.
	MaxBacklog int
}

// DefaultFailoverConfig mirrors the ActiveMQ clients' failover defaults.
func DefaultFailoverConfig(uris []string) FailoverConfig {
	return FailoverConfig{
		URIs:                  uris,
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     30 * time.Second,
		BackoffMultiplier:     2.0,
		MaxReconnectAttempts:  0,
		Randomize:             true,
	}
}

type backlogEntry struct {
	cmd  command.Command
	done chan error // nil for Oneway entries that don't need a signal
}

// FailoverTransport is the outermost filter: it owns zero or one inner
// Transport at a time, rebuilding it against the next URI in the pool on
// failure, replaying RecoveryListener's resubscription first and then any
// backlog of commands that arrived while disconnected.
type FailoverTransport struct {
	cfg     FailoverConfig
	connect ConnectFunc

	listener   Listener
	lmu        sync.Mutex
	recovery   RecoveryListener
	rmu        sync.Mutex

	mu          sync.Mutex
	inner       Transport
	connected   bool
	closed      bool
	uriIndex    int
	backlog     []backlogEntry
	reconnectCh chan struct{}

	runner *threads.Runner
	task   *failoverTask
}

// NewFailoverTransport builds a FailoverTransport that has not yet
// attempted a connection; call Start to begin connecting.
func NewFailoverTransport(cfg FailoverConfig, connect ConnectFunc) *FailoverTransport {
	f := &FailoverTransport{
		cfg:         cfg,
		connect:     connect,
		reconnectCh: make(chan struct{}, 1),
		runner:      threads.NewRunner(),
	}
	f.task = &failoverTask{f: f}
	f.runner.AddTask(f.task)
	return f
}

// SetRecoveryListener installs the hook used to resubscribe state on a
// newly established Transport before any backlog replay.
func (f *FailoverTransport) SetRecoveryListener(r RecoveryListener) {
	f.rmu.Lock()
	f.recovery = r
	f.rmu.Unlock()
}

func (f *FailoverTransport) SetListener(l Listener) {
	f.lmu.Lock()
	f.listener = l
	f.lmu.Unlock()
}

func (f *FailoverTransport) listenerOf() Listener {
	f.lmu.Lock()
	defer f.lmu.Unlock()
	return f.listener
}

// onCommand/onException satisfy Listener for the inner Transport.
func (f *FailoverTransport) OnCommand(cmd command.Command) {
	if l := f.listenerOf(); l != nil {
		l.OnCommand(cmd)
	}
}

func (f *FailoverTransport) OnException(err error) {
	log.Warnf("failover: inner transport failed: %v", err)
	f.mu.Lock()
	wasConnected := f.connected
	inner := f.inner
	f.connected = false
	f.inner = nil
	f.mu.Unlock()
	if inner != nil {
		_ = inner.Close()
	}
	if wasConnected {
		f.triggerReconnect()
	}
}

func (f *FailoverTransport) triggerReconnect() {
	select {
	case f.reconnectCh <- struct{}{}:
	default:
	}
	f.runner.Wakeup()
}

func (f *FailoverTransport) Start() error {
	f.runner.Start()
	f.triggerReconnect()
	return nil
}

func (f *FailoverTransport) Stop() error {
	f.mu.Lock()
	inner := f.inner
	f.mu.Unlock()
	if inner != nil {
		return inner.Stop()
	}
	return nil
}

func (f *FailoverTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	inner := f.inner
	f.inner = nil
	backlog := f.backlog
	f.backlog = nil
	f.mu.Unlock()

	f.runner.Shutdown()

	for _, e := range backlog {
		if e.done != nil {
			e.done <- errs.New(errs.KindIO, "transport closed")
		}
	}
	if inner != nil {
		return inner.Close()
	}
	return nil
}

func (f *FailoverTransport) IsFaultTolerant() bool { return true }

// Oneway enqueues cmd if not currently connected, otherwise forwards it
// immediately. A send to a broken connection is treated the same as a
// disconnected one: it's queued for replay after reconnect rather than
// failed outright, since the caller has no better recourse.
func (f *FailoverTransport) Oneway(cmd command.Command) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errs.New(errs.KindIO, "failover transport closed")
	}
	inner := f.inner
	connected := f.connected
	f.mu.Unlock()

	if connected && inner != nil {
		if err := inner.Oneway(cmd); err == nil {
			return nil
		}
		// fall through to backlog on send failure; the read pump will
		// also notice and trigger reconnect via OnException.
	}

	f.mu.Lock()
	if f.cfg.MaxBacklog > 0 && len(f.backlog) >= f.cfg.MaxBacklog {
		f.mu.Unlock()
		return errs.New(errs.KindIO, "failover backlog full")
	}
	f.backlog = append(f.backlog, backlogEntry{cmd: cmd})
	f.mu.Unlock()
	f.triggerReconnect()
	return nil
}

// Request behaves like Oneway for delivery purposes but blocks the caller
// until the command is actually sent over a live Transport and that
// Transport's own Request resolves, or ctx is done. Unlike Oneway, a
// Request cannot be meaningfully queued across a reconnect because the
// correlator below needs a live connection to assign and track the
// correlation id; FailoverTransport instead waits for reconnection and
// then issues the request against the new inner Transport.
func (f *FailoverTransport) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	for {
		f.mu.Lock()
		inner := f.inner
		connected := f.connected
		closed := f.closed
		f.mu.Unlock()

		if closed {
			return nil, errs.New(errs.KindIO, "failover transport closed")
		}
		if connected && inner != nil {
			resp, err := inner.Request(ctx, cmd)
			if err == nil {
				return resp, nil
			}
			// request failed on a stale inner: loop and wait for the
			// next reconnect rather than surfacing a transient error.
		}

		f.triggerReconnect()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// failoverTask drives the reconnect state machine on its own Runner
// goroutine so a slow dial never blocks a caller's Oneway.
type failoverTask struct {
	f           *FailoverTransport
	attempt     int
	nextDelay   time.Duration
}

func (t *failoverTask) IsPending() bool {
	t.f.mu.Lock()
	closed := t.f.closed
	connected := t.f.connected
	t.f.mu.Unlock()
	if closed || connected {
		return false
	}
	select {
	case <-t.f.reconnectCh:
		return true
	default:
		return false
	}
}

func (t *failoverTask) Iterate() bool {
	cfg := t.f.cfg
	if len(cfg.URIs) == 0 {
		return false
	}

	if t.nextDelay == 0 {
		t.nextDelay = cfg.InitialReconnectDelay
	}
	if t.attempt > 0 {
		time.Sleep(t.nextDelay)
		t.nextDelay = time.Duration(float64(t.nextDelay) * cfg.BackoffMultiplier)
		if cfg.MaxReconnectDelay > 0 && t.nextDelay > cfg.MaxReconnectDelay {
			t.nextDelay = cfg.MaxReconnectDelay
		}
	}

	t.f.mu.Lock()
	idx := t.f.uriIndex % len(cfg.URIs)
	t.f.uriIndex++
	t.f.mu.Unlock()
	uri := cfg.URIs[idx]
	if cfg.Randomize && len(cfg.URIs) > 1 {
		uri = cfg.URIs[rand.Intn(len(cfg.URIs))]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	inner, err := t.f.connect(ctx, uri)
	cancel()
	if err != nil {
		t.attempt++
		log.Warnf("failover: connect to %s failed (attempt %d): %v", uri, t.attempt, err)
		if cfg.MaxReconnectAttempts > 0 && t.attempt >= cfg.MaxReconnectAttempts {
			t.f.OnException(errs.Wrap(errs.KindIO, "failover: exhausted reconnect attempts", err))
			return false
		}
		t.f.triggerReconnect()
		return true
	}

	inner.SetListener(t.f)
	if err := inner.Start(); err != nil {
		_ = inner.Close()
		t.attempt++
		t.f.triggerReconnect()
		return true
	}

	t.f.rmu.Lock()
	recovery := t.f.recovery
	t.f.rmu.Unlock()
	if recovery != nil {
		if err := recovery.OnRecovered(inner); err != nil {
			log.Errorf("failover: resubscription after reconnect failed: %v", err)
			_ = inner.Close()
			t.attempt++
			t.f.triggerReconnect()
			return true
		}
	}

	t.f.mu.Lock()
	backlog := t.f.backlog
	t.f.backlog = nil
	t.f.inner = inner
	t.f.connected = true
	t.f.mu.Unlock()

	for i, e := range backlog {
		log.TraceCommand("replay", e.cmd.DataStructureType().Name(), e.cmd.GetCommandID())
		if err := inner.Oneway(e.cmd); err != nil {
			// The fresh connection died mid-replay. Push the failed entry
			// and everything after it back onto the front of the backlog,
			// still in enqueue order, tear this inner down, and let the
			// next reconnect retry them instead of dropping them.
			log.Warnf("failover: backlog replay failed, requeueing %d commands: %v", len(backlog)-i, err)
			t.f.mu.Lock()
			t.f.backlog = append(append([]backlogEntry(nil), backlog[i:]...), t.f.backlog...)
			if t.f.inner == inner {
				t.f.inner = nil
			}
			t.f.connected = false
			t.f.mu.Unlock()
			_ = inner.Close()
			t.attempt++
			t.f.triggerReconnect()
			return true
		}
		if e.done != nil {
			e.done <- nil
		}
	}

	t.attempt = 0
	t.nextDelay = 0
	log.Infof("failover: reconnected to %s", uri)
	return true
}
