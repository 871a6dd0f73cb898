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

package command

import (
	"sync"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/wireformat/codec"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// BodyType distinguishes the framed message body kinds. The body
// codecs themselves (Text/Bytes/Map/Stream/Object interpretation) are
// an external collaborator — this client only frames the body as opaque
// bytes plus its BodyType tag.
type BodyType DataType

const (
	BodyBytes  BodyType = BodyType(TypeBytesMessage)
	BodyMap    BodyType = BodyType(TypeMapMessage)
	BodyObject BodyType = BodyType(TypeObjectMessage)
	BodyStream BodyType = BodyType(TypeStreamMessage)
	BodyText   BodyType = BodyType(TypeTextMessage)
	BodyBlob   BodyType = BodyType(TypeBlobMessage)
	BodyPlain  BodyType = BodyType(TypeActiveMQMessage)
)

// LazyProperties stores the raw, not-yet-parsed message-property blob and
// parses it only on first named access. A parse failure
// is cached and re-surfaced identically on every subsequent access — it
// never tears down the transport, since the blob was already a complete,
// successfully framed field.
type LazyProperties struct {
	mu      sync.Mutex
	raw     []byte
	parsed  codec.PrimitiveMap
	err     error
	didScan bool
}

// NewLazyProperties wraps a raw properties blob as received on the wire.
func NewLazyProperties(raw []byte) *LazyProperties {
	return &LazyProperties{raw: raw}
}

// NewLazyPropertiesFromMap wraps an already-materialized map, used when
// building an outbound message; no parsing is ever needed for it.
func NewLazyPropertiesFromMap(m codec.PrimitiveMap) *LazyProperties {
	if m == nil {
		m = codec.PrimitiveMap{}
	}
	return &LazyProperties{parsed: m, didScan: true}
}

func (p *LazyProperties) ensureParsed() {
	if p.didScan {
		return
	}
	p.didScan = true
	if len(p.raw) == 0 {
		p.parsed = codec.PrimitiveMap{}
		return
	}
	m, err := codec.UnmarshalPrimitiveMap(p.raw)
	if err != nil {
		p.err = errs.Wrap(errs.KindIO, "parse message properties", err)
		return
	}
	p.parsed = m
}

// Get returns the named property, parsing the blob on first use. When
// the blob was corrupt the returned error is an errs.KindIO failure,
// returned identically on every subsequent call.
func (p *LazyProperties) Get(name string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureParsed()
	if p.err != nil {
		return nil, p.err
	}
	return p.parsed[name], nil
}

// Set assigns a property, forcing the blob to be (re-)materialized as a
// map; used when building an outbound message or editing one for resend.
func (p *LazyProperties) Set(name string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureParsed()
	if p.err != nil {
		return p.err
	}
	if p.parsed == nil {
		p.parsed = codec.PrimitiveMap{}
	}
	p.parsed[name] = value
	return nil
}

// All returns a copy of every property, or the cached parse error.
func (p *LazyProperties) All() (codec.PrimitiveMap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureParsed()
	if p.err != nil {
		return nil, p.err
	}
	out := make(codec.PrimitiveMap, len(p.parsed))
	for k, v := range p.parsed {
		out[k] = v
	}
	return out, nil
}

// Marshal re-encodes the (possibly edited) property set for transmission.
func (p *LazyProperties) Marshal() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureParsed()
	if p.err != nil || p.parsed == nil {
		return nil
	}
	return p.parsed.Marshal()
}

// Message is the common ActiveMQMessage header shared by every body
// type; the body itself is framed as opaque bytes (see BodyType).
type Message struct {
	Header

	MessageID         MessageID
	ProducerID        ProducerID
	Destination       Destination
	OriginalDestination *Destination
	TransactionID     *LocalTransactionID
	ReplyTo           *Destination
	Timestamp         time.Time
	CorrelationID     string
	Expiration        time.Time // zero means "never expires"
	Priority          byte      // 0-9, JMS priority range
	Persistent        bool
	Type              string
	Body              []byte
	BodyKind          BodyType
	RedeliveryCounter int
	Redelivered       bool
	Compressed        bool
	DroppableIfOverflow bool // NoLocal-filtered messages never reach this point; not read by the client

	// ConnectionID identifies the connection that produced this message,
	// used by NoLocal filtering at the broker and retained here only for
	// client-side advisory bookkeeping.
	ConnectionID ConnectionID

	properties *LazyProperties
}

func (m *Message) DataStructureType() DataType { return DataType(m.BodyKind) }

// Properties returns the lazy property accessor, creating an empty one on
// first use for an outbound message being built by user code.
func (m *Message) Properties() *LazyProperties {
	if m.properties == nil {
		m.properties = NewLazyPropertiesFromMap(nil)
	}
	return m.properties
}

// SetRawProperties installs a not-yet-parsed property blob, used by the
// wireformat unmarshaller for inbound messages so the parse stays lazy.
func (m *Message) SetRawProperties(raw []byte) {
	m.properties = NewLazyProperties(raw)
}

// Expired reports whether the message's TTL (if any) has elapsed as of
// now.
func (m *Message) Expired(now time.Time) bool {
	return !m.Expiration.IsZero() && !now.Before(m.Expiration)
}

// Copy returns a shallow copy suitable for redelivery bookkeeping
// (incrementing RedeliveryCounter without mutating the original in a
// shared dispatch channel).
func (m *Message) Copy() *Message {
	cp := *m
	return &cp
}
