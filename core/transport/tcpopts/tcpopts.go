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

// Package tcpopts tunes a *net.TCPConn beyond what the standard library's
// own setter methods expose — the socket knobs broker clients
// conventionally surface as URI parameters (linger-on-close, a bounded
// keepalive probe interval). Apply uses only net.TCPConn's own setters;
// SetQuickACK is the one option set through a raw setsockopt call.
package tcpopts

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Options are the socket-level settings this package can apply to a
// freshly dialed TCP connection.
type Options struct {
	// NoDelay disables Nagle's algorithm, matching
	// wireformat.Options.TCPNoDelayEnabled.
	NoDelay bool

	// KeepAlive enables TCP keepalive probing; KeepAlivePeriod sets the
	// interval between probes once it starts (zero uses the OS default).
	KeepAlive       bool
	KeepAlivePeriod time.Duration

	// LingerSeconds, when >= 0, sets SO_LINGER so Close() either blocks
	// briefly flushing queued bytes or (LingerSeconds == 0) resets the
	// connection immediately instead of lingering in TIME_WAIT. Negative
	// leaves the OS default in place; note that the zero value of Options
	// therefore sets SO_LINGER to 0.
	LingerSeconds int
}

// Apply sets the requested options on conn, returning the first error
// encountered (further options are still attempted on a best-effort
// basis since none of these are essential to correctness).
func Apply(conn *net.TCPConn, o Options) error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	record(conn.SetNoDelay(o.NoDelay))

	if o.KeepAlive {
		record(conn.SetKeepAlive(true))
		if o.KeepAlivePeriod > 0 {
			record(conn.SetKeepAlivePeriod(o.KeepAlivePeriod))
		}
	} else {
		record(conn.SetKeepAlive(false))
	}

	if o.LingerSeconds >= 0 {
		record(conn.SetLinger(o.LingerSeconds))
	}

	return first
}

// SetQuickACK disables delayed ACKs by setting TCP_QUICKACK. That
// constant is Linux-only in golang.org/x/sys/unix and this file has no
// build constraint, so the package builds only on Linux.
func SetQuickACK(conn *net.TCPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
