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

	"github.com/pepper-iot/openwire-client-go/core/wireformat"
)

// Chain dials addr and wraps the resulting socket in the standard
// filter stack: wireFormatIO -> inactivityMonitor ->
// wireFormatNegotiator -> responseCorrelator. The returned Transport has
// not been started; the caller (ordinarily the Connection kernel, or
// FailoverTransport's ConnectFunc) is responsible for calling Start.
func Chain(ctx context.Context, addr string, o Options) (Transport, error) {
	sock, err := DialTCP(ctx, addr, o)
	if err != nil {
		return nil, err
	}
	return wrapChain(sock, o)
}

// ChainTLS is Chain's TLS-dialing counterpart.
func ChainTLS(ctx context.Context, addr string, cfg *tls.Config, o Options) (Transport, error) {
	sock, err := DialTLS(ctx, addr, cfg, o)
	if err != nil {
		return nil, err
	}
	return wrapChain(sock, o)
}

func wrapChain(sock Transport, o Options) (Transport, error) {
	wf := wireformat.New()
	proposed := wf.Options()
	proposed.TCPNoDelayEnabled = o.TCPNoDelayEnabled
	proposed.SizePrefixDisabled = o.SizePrefixDisabled
	if o.MaxInactivityDuration > 0 {
		proposed.MaxInactivityDuration = o.MaxInactivityDuration
	}
	if o.MaxInactivityDurationInitialDelay > 0 {
		proposed.MaxInactivityDurationInitialDelay = o.MaxInactivityDurationInitialDelay
	}
	wf.SetLocalOptions(proposed)

	io, err := NewWireFormatIO(sock, wf)
	if err != nil {
		return nil, err
	}
	monitored := NewInactivityMonitor(io, wf)
	negotiated := NewWireFormatNegotiator(monitored, wf, o.RequestTimeout)
	return NewResponseCorrelator(negotiated), nil
}
