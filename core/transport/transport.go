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

// Package transport implements the layered Transport chain: a raw
// TCP/TLS socket wrapped by a WireFormat I/O filter, an inactivity
// monitor, a WireFormat negotiator, a response correlator, and
// (outermost) an optional failover supervisor. Each filter only knows
// about the Transport immediately inside it.
package transport

import (
	"context"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
)

// Listener receives commands and lifecycle notifications pushed up from a
// Transport's read side. A Transport has exactly one Listener at a time;
// filters re-register themselves on the Transport they wrap so a command
// can be intercepted before it reaches the next filter out.
type Listener interface {
	OnCommand(cmd command.Command)
	OnException(err error)
}

// Transport is the common interface every filter in the chain, and the
// raw socket at the bottom of it, implements.
type Transport interface {
	// Start begins any background I/O (read pump, monitors) the
	// Transport needs. A second Start does not start a second read pump
	// or monitor, but the WireFormat negotiator sends its WireFormatInfo
	// again on every Start.
	Start() error

	// Stop halts background I/O without releasing the underlying
	// resource. The inactivity monitor's keep-alive ticker does not run
	// again after Stop, even if Start is called once more.
	Stop() error

	// Close releases the underlying resource. Idempotent.
	Close() error

	// Oneway sends cmd without waiting for a response.
	Oneway(cmd command.Command) error

	// Request sends cmd and blocks for its correlated Response, honoring
	// ctx's deadline/cancellation.
	Request(ctx context.Context, cmd command.Command) (command.Command, error)

	// SetListener installs the Listener that OnCommand/OnException are
	// delivered to. Filters call this on the Transport they wrap during
	// construction so they sit in the delivery path before the caller's
	// listener ever sees a command.
	SetListener(l Listener)

	// IsFaultTolerant reports whether this Transport (or one further in
	// the chain) recovers silently from a broken connection, the same
	// query ActiveMQConnection uses to decide whether to surface
	// transport exceptions to the application immediately or to give a
	// FailoverTransport a chance to reconnect first.
	IsFaultTolerant() bool
}

// Options configure the stack built by Chain.
type Options struct {
	// ConnectTimeout bounds the initial TCP/TLS dial.
	ConnectTimeout time.Duration

	// RequestTimeout bounds how long Oneway/Request wait for the peer's
	// WireFormatInfo during negotiation. Zero means wait indefinitely. It
	// does not bound a Request's wait for its Response; only the caller's
	// context does.
	RequestTimeout time.Duration

	// MaxInactivityDuration and MaxInactivityDurationInitialDelay seed
	// the local WireFormatInfo proposal; see wireformat.Options.
	MaxInactivityDuration             time.Duration
	MaxInactivityDurationInitialDelay time.Duration

	// TCPNoDelayEnabled and SizePrefixDisabled mirror the matching
	// wireformat.Options fields and are proposed in the local
	// WireFormatInfo. DialTCP also applies TCPNoDelayEnabled to the socket;
	// frames always carry the length prefix whatever SizePrefixDisabled says.
	TCPNoDelayEnabled  bool
	SizePrefixDisabled bool
}

// DefaultOptions mirrors wireformat.DefaultOptions' timing choices.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:                    30 * time.Second,
		RequestTimeout:                     0,
		MaxInactivityDuration:              30 * time.Second,
		MaxInactivityDurationInitialDelay: 10 * time.Second,
		TCPNoDelayEnabled:                  true,
		SizePrefixDisabled:                 false,
	}
}
