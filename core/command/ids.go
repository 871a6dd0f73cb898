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
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ConnectionID identifies a single client connection to the broker. The
// value part is generated once per connection from a uuid, matching
// ActiveMQ's own "ID:host-uuid-seq" convention for temporary destination
// and connection naming.
type ConnectionID struct {
	Value string
}

// NewConnectionID returns a freshly generated ConnectionID seeded from a
// random uuid, as used by the default (non-clientID-supplied) connection
// path.
func NewConnectionID() ConnectionID {
	return ConnectionID{Value: fmt.Sprintf("ID:%s", uuid.NewString())}
}

func (c ConnectionID) String() string { return c.Value }

// SessionID identifies a Session scoped to a ConnectionID.
type SessionID struct {
	ConnectionID ConnectionID
	Value        int64
}

func (s SessionID) String() string {
	return fmt.Sprintf("%s:%d", s.ConnectionID, s.Value)
}

// ConsumerID identifies a Consumer scoped to a SessionID. For a durable
// topic subscription, SubscriptionName additionally carries the
// broker-resolved durability key (clientId + subscription name).
type ConsumerID struct {
	SessionID        SessionID
	Value            int64
	SubscriptionName string
}

func (c ConsumerID) String() string {
	if c.SubscriptionName != "" {
		return fmt.Sprintf("%s:%d[%s]", c.SessionID, c.Value, c.SubscriptionName)
	}
	return fmt.Sprintf("%s:%d", c.SessionID, c.Value)
}

// ProducerID identifies a Producer scoped to a SessionID.
type ProducerID struct {
	SessionID SessionID
	Value     int64
}

func (p ProducerID) String() string {
	return fmt.Sprintf("%s:%d", p.SessionID, p.Value)
}

// MessageID is globally unique within a connection session: the pair of
// the producer that created it, and a per-producer monotonic sequence.
type MessageID struct {
	ProducerID       ProducerID
	ProducerSequenceID int64
}

func (m MessageID) String() string {
	return fmt.Sprintf("%s:%d", m.ProducerID, m.ProducerSequenceID)
}

// LocalTransactionID identifies a non-XA transaction scoped to a
// connection.
type LocalTransactionID struct {
	ConnectionID ConnectionID
	Value        int64
}

func (t LocalTransactionID) String() string {
	return fmt.Sprintf("TX:%s:%d", t.ConnectionID, t.Value)
}

// BrokerID identifies the broker a connection is attached to, used for
// loop detection in network bridges; carried through but not interpreted
// by this client.
type BrokerID struct {
	Value string
}

// MonotonicCounter hands out strictly increasing int64 ids, used for
// session/consumer/producer/sequence numbering.
type MonotonicCounter struct {
	value int64
}

// Next returns the next value, starting at 1 for the first call.
func (c *MonotonicCounter) Next() int64 {
	return atomic.AddInt64(&c.value, 1)
}
