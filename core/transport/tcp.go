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
	"crypto/tls"
	"net"
	"strings"
	"sync"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/frame"
	"github.com/pepper-iot/openwire-client-go/core/transport/tcpopts"
	"github.com/pepper-iot/openwire-client-go/errs"
	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// sockTransport is the bottom of the chain: it owns the raw net.Conn and
// does nothing but push/pull length-prefixed frame bodies across it. It
// carries no OpenWire semantics at all — that starts one layer up, in
// wireFormatIO.
type sockTransport struct {
	conn net.Conn

	wmu sync.Mutex // serializes frame writes

	maxFrameSize int

	closeOnce sync.Once
	closed    chan struct{}

	listener Listener
	lmu      sync.Mutex

	readDone chan struct{}
}

// DialTCP opens a plain TCP connection to addr ("host:port"), applying the
// socket tuning described by opts via tcpopts.
func DialTCP(ctx context.Context, addr string, o Options) (Transport, error) {
	d := net.Dialer{Timeout: o.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", stripScheme(addr))
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "dial tcp "+addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tcpopts.Apply(tc, tcpopts.Options{NoDelay: o.TCPNoDelayEnabled, LingerSeconds: -1}); err != nil {
			log.Warnf("tcpopts: %v", err)
		}
	}
	return newSockTransport(conn), nil
}

// DialTLS opens a TLS connection to addr, completing the handshake
// synchronously before returning — a transport is never handed back to
// the caller mid-handshake, since a lazy handshake shows up later as a
// spurious read timeout.
func DialTLS(ctx context.Context, addr string, cfg *tls.Config, o Options) (Transport, error) {
	d := net.Dialer{Timeout: o.ConnectTimeout}
	conn, err := tls.DialWithDialer(&d, "tcp", stripScheme(addr), cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "dial tls "+addr, err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(errs.KindIO, "tls handshake "+addr, err)
	}
	return newSockTransport(conn), nil
}

func stripScheme(addr string) string {
	if i := strings.Index(addr, "://"); i >= 0 {
		return addr[i+3:]
	}
	return addr
}

func newSockTransport(conn net.Conn) *sockTransport {
	return &sockTransport{
		conn:         conn,
		maxFrameSize: frame.DefaultMaxFrameSize,
		closed:       make(chan struct{}),
	}
}

func (t *sockTransport) SetListener(l Listener) {
	t.lmu.Lock()
	t.listener = l
	t.lmu.Unlock()
}

func (t *sockTransport) notifyCommand(cmd command.Command) {
	t.lmu.Lock()
	l := t.listener
	t.lmu.Unlock()
	if l != nil {
		l.OnCommand(cmd)
	}
}

func (t *sockTransport) notifyException(err error) {
	t.lmu.Lock()
	l := t.listener
	t.lmu.Unlock()
	if l != nil {
		l.OnException(err)
	}
}

func (t *sockTransport) Start() error {
	return nil
}

func (t *sockTransport) Stop() error {
	return nil
}

func (t *sockTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

func (t *sockTransport) IsFaultTolerant() bool { return false }

// writeFrame marshals nothing itself: callers (wireFormatIO) pass an
// already-marshalled command body, and sockTransport only wraps it in the
// length prefix and writes it atomically with respect to other writers.
func (t *sockTransport) writeFrame(body []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	f := frame.Frame{Body: body}
	return f.Encode(t.conn)
}

// readFrame blocks for exactly one frame body.
func (t *sockTransport) readFrame() ([]byte, error) {
	var f frame.Frame
	if err := f.Decode(t.conn, t.maxFrameSize); err != nil {
		return nil, err
	}
	return f.Body, nil
}

// Oneway/Request are not meaningful at this layer: a bare socket doesn't
// know how to marshal a Command, only wireFormatIO above it does. Calling
// them directly on sockTransport is a programming error.
func (t *sockTransport) Oneway(command.Command) error {
	return errs.New(errs.KindUnsupported, "sockTransport: Oneway requires a WireFormat filter")
}

func (t *sockTransport) Request(context.Context, command.Command) (command.Command, error) {
	return nil, errs.New(errs.KindUnsupported, "sockTransport: Request requires a WireFormat filter")
}
