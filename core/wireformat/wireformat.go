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

// Package wireformat implements the OpenWire command marshaller: the
// loose and tight encodings, feature negotiation, and the LRU
// marshalling cache.
package wireformat

import (
	"fmt"
	"sync"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// Options are the negotiable WireFormat features.
type Options struct {
	Version                           int32
	CacheEnabled                      bool
	CacheSize                         int32
	TightEncodingEnabled              bool
	SizePrefixDisabled                bool
	TCPNoDelayEnabled                 bool
	MaxInactivityDuration             time.Duration
	MaxInactivityDurationInitialDelay time.Duration
	MaxFrameSize                      int64
}

// DefaultVersion is the OpenWire version negotiated when peers fail to
// agree on anything else.
const DefaultVersion = 12

// DefaultOptions is this client's local proposal, sent as the first
// WireFormatInfo on every new transport.
func DefaultOptions() Options {
	return Options{
		Version:                           DefaultVersion,
		CacheEnabled:                      true,
		CacheSize:                         1024,
		TightEncodingEnabled:              true,
		SizePrefixDisabled:                false,
		TCPNoDelayEnabled:                 true,
		MaxInactivityDuration:             30 * time.Second,
		MaxInactivityDurationInitialDelay: 10 * time.Second,
		MaxFrameSize:                      1024 * 1024 * 100,
	}
}

// WireFormat is a stateful marshaller: one instance per transport, since
// the marshalling cache and the negotiated options are connection-local.
type WireFormat struct {
	mu      sync.Mutex
	opts    Options
	negotiated bool

	writeCache *marshalCache
	readCache  *marshalCache
}

// New returns a WireFormat proposing DefaultOptions() until Renegotiate
// is called.
func New() *WireFormat {
	opts := DefaultOptions()
	return &WireFormat{
		opts:       opts,
		writeCache: newMarshalCache(int(opts.CacheSize)),
		readCache:  newMarshalCache(int(opts.CacheSize)),
	}
}

// PreferredWireFormatInfo returns the local proposal as a command ready
// to send.
func (w *WireFormat) PreferredWireFormatInfo() *command.WireFormatInfo {
	w.mu.Lock()
	o := w.opts
	w.mu.Unlock()
	return &command.WireFormatInfo{
		Version:                           o.Version,
		CacheEnabled:                      o.CacheEnabled,
		CacheSize:                         o.CacheSize,
		TightEncodingEnabled:              o.TightEncodingEnabled,
		SizePrefixDisabled:                o.SizePrefixDisabled,
		TCPNoDelayEnabled:                 o.TCPNoDelayEnabled,
		MaxInactivityDuration:             o.MaxInactivityDuration,
		MaxInactivityDurationInitialDelay: o.MaxInactivityDurationInitialDelay,
		MaxFrameSize:                      o.MaxFrameSize,
	}
}

// Options returns a snapshot of the currently effective (possibly
// renegotiated) options.
func (w *WireFormat) Options() Options {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts
}

// SetLocalOptions overrides the not-yet-negotiated local proposal, used
// by transport.Chain to fold in caller-supplied Options (TCP_NODELAY,
// inactivity timing) before the first WireFormatInfo is sent. Calling it
// after negotiation has completed is a no-op.
func (w *WireFormat) SetLocalOptions(o Options) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.negotiated {
		return
	}
	w.opts = o
	w.writeCache = newMarshalCache(int(o.CacheSize))
	w.readCache = newMarshalCache(int(o.CacheSize))
}

// Renegotiate computes the intersection of this side's proposal and the
// peer's WireFormatInfo: the lower version, the AND of
// every boolean feature, and the lower of the two inactivity durations
// (0 meaning "disabled" always wins, since it's the more conservative
// choice for keep-alive). Called exactly once per transport.
func (w *WireFormat) Renegotiate(peer *command.WireFormatInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.negotiated {
		return
	}
	w.negotiated = true

	if peer.Version < w.opts.Version {
		w.opts.Version = peer.Version
	}
	w.opts.CacheEnabled = w.opts.CacheEnabled && peer.CacheEnabled
	w.opts.TightEncodingEnabled = w.opts.TightEncodingEnabled && peer.TightEncodingEnabled
	w.opts.SizePrefixDisabled = w.opts.SizePrefixDisabled && peer.SizePrefixDisabled
	w.opts.TCPNoDelayEnabled = w.opts.TCPNoDelayEnabled && peer.TCPNoDelayEnabled

	if peer.CacheSize > 0 && peer.CacheSize < w.opts.CacheSize {
		w.opts.CacheSize = peer.CacheSize
	}
	w.writeCache = newMarshalCache(int(w.opts.CacheSize))
	w.readCache = newMarshalCache(int(w.opts.CacheSize))

	w.opts.MaxInactivityDuration = lowerNonZero(w.opts.MaxInactivityDuration, peer.MaxInactivityDuration)
	w.opts.MaxInactivityDurationInitialDelay = lowerNonZero(w.opts.MaxInactivityDurationInitialDelay, peer.MaxInactivityDurationInitialDelay)
}

func lowerNonZero(a, b time.Duration) time.Duration {
	if a == 0 || b == 0 {
		return 0
	}
	if a < b {
		return a
	}
	return b
}

// IsNegotiated reports whether Renegotiate has completed — the inactivity
// monitor stays disabled until this is true.
func (w *WireFormat) IsNegotiated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.negotiated
}

// Marshal serializes cmd into a standalone command body (the data
// structure type byte, header, and kind-specific fields), not including
// the outer frame length prefix — the socket transport adds that prefix
// to every frame it writes.
func (w *WireFormat) Marshal(cmd command.Command) ([]byte, error) {
	w.mu.Lock()
	tight := w.opts.TightEncodingEnabled
	w.mu.Unlock()

	enc := &encoder{wf: w, tight: tight}
	return enc.marshalTop(cmd)
}

// Unmarshal deserializes a standalone command body produced by Marshal.
func (w *WireFormat) Unmarshal(buf []byte) (command.Command, error) {
	w.mu.Lock()
	tight := w.opts.TightEncodingEnabled
	w.mu.Unlock()

	dec := &decoder{wf: w, tight: tight, buf: buf}
	return dec.unmarshalTop()
}

func wrapWireErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.KindWireFormat, context, err)
}

func unknownKindErr(t command.DataType) error {
	return errs.New(errs.KindWireFormat, fmt.Sprintf("unknown command type %d (%s)", t, t.Name()))
}
