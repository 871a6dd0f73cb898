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

import "time"

// WireFormatInfo is exchanged once per connection to negotiate the
// framing options both peers will speak.
type WireFormatInfo struct {
	Header

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

func (w *WireFormatInfo) DataStructureType() DataType { return TypeWireFormatInfo }

// ConnectionInfo opens a client session on the broker.
type ConnectionInfo struct {
	Header

	ConnectionID    ConnectionID
	ClientID        string
	UserName        string
	Password        string
	WatchTopicAdvisories bool
}

func (c *ConnectionInfo) DataStructureType() DataType { return TypeConnectionInfo }

// SessionInfo creates a Session under a ConnectionInfo.
type SessionInfo struct {
	Header

	SessionID SessionID
}

func (s *SessionInfo) DataStructureType() DataType { return TypeSessionInfo }

// ConsumerInfo creates a Consumer under a SessionInfo.
type ConsumerInfo struct {
	Header

	ConsumerID        ConsumerID
	Destination       Destination
	Selector          string
	NoLocal           bool
	Exclusive         bool
	Retroactive       bool
	Priority          byte
	PrefetchSize      int
	MaximumPendingMessageLimit int
	BrowserMode       bool
	DispatchAsync     bool
	// SubscriptionName mirrors ConsumerID.SubscriptionName for durable
	// topic subscriptions; duplicated here because the wire command and
	// the id are marshalled independently.
	SubscriptionName string
}

func (c *ConsumerInfo) DataStructureType() DataType { return TypeConsumerInfo }

// ProducerInfo creates a Producer under a SessionInfo.
type ProducerInfo struct {
	Header

	ProducerID        ProducerID
	Destination       *Destination
	WindowSize        int
	DispatchAsync     bool
}

func (p *ProducerInfo) DataStructureType() DataType { return TypeProducerInfo }

// TransactionType enumerates the lifecycle operations carried by a
// TransactionInfo.
type TransactionType byte

const (
	TxBegin TransactionType = iota
	TxCommitOnePhase
	TxRollback
	TxRecover
	TxForget
)

// TransactionInfo carries one transaction lifecycle operation.
type TransactionInfo struct {
	Header

	ConnectionID  ConnectionID
	TransactionID LocalTransactionID
	Type          TransactionType
}

func (t *TransactionInfo) DataStructureType() DataType { return TypeTransactionInfo }

// DestOperationType selects whether a DestinationInfo creates or removes
// its destination at the broker.
type DestOperationType byte

const (
	DestAdd    DestOperationType = 0
	DestRemove DestOperationType = 1
)

// DestinationInfo creates or removes a destination at the broker. The
// client only issues it for temporary destinations; permanent queues and
// topics are created implicitly by the first ConsumerInfo/ProducerInfo
// that names them.
type DestinationInfo struct {
	Header

	ConnectionID  ConnectionID
	Destination   Destination
	OperationType DestOperationType
	// Timeout bounds how long the broker keeps an unused temporary
	// destination alive after its owning connection goes away; zero means
	// the broker's default.
	Timeout time.Duration
}

func (d *DestinationInfo) DataStructureType() DataType { return TypeDestinationInfo }

// RemoveSubscriptionInfo unsubscribes a durable topic subscription by
// name; it is the only way to erase subscription state that otherwise
// survives a consumer's Closed lifecycle state.
type RemoveSubscriptionInfo struct {
	Header

	ConnectionID     ConnectionID
	ClientID         string
	SubscriptionName string
}

func (r *RemoveSubscriptionInfo) DataStructureType() DataType { return TypeRemoveSubscriptionInfo }

// KeepAliveInfo is the inactivity monitor's liveness probe.
type KeepAliveInfo struct {
	Header
}

func (k *KeepAliveInfo) DataStructureType() DataType { return TypeKeepAliveInfo }

// ShutdownInfo tells the peer this side is shutting down cleanly.
type ShutdownInfo struct {
	Header
}

func (s *ShutdownInfo) DataStructureType() DataType { return TypeShutdownInfo }

// RemoveInfo removes a previously created ConnectionID/SessionID/
// ConsumerID/ProducerID from the broker.
type RemoveInfo struct {
	Header

	ObjectID interface{} // one of ConnectionID, SessionID, ConsumerID, ProducerID
	LastDeliveredSequenceID int64
}

func (r *RemoveInfo) DataStructureType() DataType { return TypeRemoveInfo }

// ConnectionError is sent by the broker to report a fatal connection
// error asynchronously (not correlated to a specific request).
type ConnectionError struct {
	Header

	Message string
}

func (c *ConnectionError) DataStructureType() DataType { return TypeConnectionError }

// ProducerAck credits a producer's async-send window.
type ProducerAck struct {
	Header

	ProducerID ProducerID
	Size       int32
}

func (p *ProducerAck) DataStructureType() DataType { return TypeProducerAck }

// MessagePull is used by a QueueBrowser/pull-consumer to request the next
// message explicitly rather than being pushed one.
type MessagePull struct {
	Header

	ConsumerID ConsumerID
	Destination Destination
	Timeout    time.Duration
}

func (m *MessagePull) DataStructureType() DataType { return TypeMessagePull }

// MessageDispatch delivers one Message to a Consumer.
type MessageDispatch struct {
	Header

	ConsumerID        ConsumerID
	Destination       Destination
	Message           *Message
	RedeliveryCounter int
}

func (m *MessageDispatch) DataStructureType() DataType { return TypeMessageDispatch }

// Response acknowledges a command sent with ResponseRequired=true.
type Response struct {
	Header

	CorrelationID uint32
}

func (r *Response) DataStructureType() DataType { return TypeResponse }

// GetCorrelationID lets transport/correlator.go pick the commandId back
// out of any concrete Response type through a single interface, without a
// type switch over every embedder.
func (r *Response) GetCorrelationID() uint32 { return r.CorrelationID }

// ExceptionResponse is a Response carrying a broker-side failure.
type ExceptionResponse struct {
	Response

	ExceptionClass string
	Message        string
}

func (e *ExceptionResponse) DataStructureType() DataType { return TypeExceptionResponse }

// DataResponse carries one opaque Command as a request's result.
type DataResponse struct {
	Response

	Data Command
}

func (d *DataResponse) DataStructureType() DataType { return TypeDataResponse }

// DataArrayResponse carries a list of opaque Commands as a request's
// result (e.g. broker-side enumeration replies).
type DataArrayResponse struct {
	Response

	Data []Command
}

func (d *DataArrayResponse) DataStructureType() DataType { return TypeDataArrayResponse }

// IntegerResponse carries a single integer result.
type IntegerResponse struct {
	Response

	Value int32
}

func (i *IntegerResponse) DataStructureType() DataType { return TypeIntegerResponse }
