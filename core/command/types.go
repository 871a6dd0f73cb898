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

// Package command implements the OpenWire command model: the closed set
// of data-structure type ids, the shared command header, and the tagged
// union of command kinds carried over a WireFormat-negotiated transport.
package command

// DataType identifies the wire-level shape of a Command, exactly as
// assigned by the OpenWire protocol (this set is binary-stable and must
// not be renumbered).
type DataType byte

const (
	TypeWireFormatInfo             DataType = 1
	TypeBrokerInfo                 DataType = 2
	TypeConnectionInfo             DataType = 3
	TypeSessionInfo                DataType = 4
	TypeConsumerInfo               DataType = 5
	TypeProducerInfo               DataType = 6
	TypeTransactionInfo            DataType = 7
	TypeDestinationInfo            DataType = 8
	TypeRemoveSubscriptionInfo     DataType = 9
	TypeKeepAliveInfo              DataType = 10
	TypeShutdownInfo               DataType = 11
	TypeRemoveInfo                 DataType = 12
	TypeControlCommand             DataType = 14
	TypeFlushCommand               DataType = 15
	TypeConnectionError            DataType = 16
	TypeConsumerControl            DataType = 17
	TypeConnectionControl          DataType = 18
	TypeProducerAck                DataType = 19
	TypeMessagePull                DataType = 20
	TypeMessageDispatch            DataType = 21
	TypeMessageAck                 DataType = 22
	TypeActiveMQMessage            DataType = 23
	TypeBytesMessage               DataType = 24
	TypeMapMessage                 DataType = 25
	TypeObjectMessage               DataType = 26
	TypeStreamMessage              DataType = 27
	TypeTextMessage                DataType = 28
	TypeBlobMessage                DataType = 29
	TypeResponse                   DataType = 30
	TypeExceptionResponse          DataType = 31
	TypeDataResponse               DataType = 32
	TypeDataArrayResponse          DataType = 33
	TypeIntegerResponse             DataType = 34
	TypeDiscoveryEvent             DataType = 40
	TypeJournalTopicAck            DataType = 50
	TypeJournalQueueAck            DataType = 52
	TypeJournalTrace               DataType = 53
	TypeJournalTransaction         DataType = 54
	TypeSubscriptionInfo           DataType = 55
	TypePartialCommand             DataType = 60
	TypeLastPartialCommand         DataType = 61
	TypeReplayCommand              DataType = 65
	TypeMessageDispatchNotification DataType = 90
	TypeNetworkBridgeFilter        DataType = 91
	TypeActiveMQQueue              DataType = 100
	TypeActiveMQTopic              DataType = 101
	TypeActiveMQTempQueue          DataType = 102
	TypeActiveMQTempTopic          DataType = 103
	TypeMessageID                  DataType = 110
	TypeLocalTransactionID         DataType = 111
	TypeXATransactionID            DataType = 112
	TypeConnectionID               DataType = 120
	TypeSessionID                  DataType = 121
	TypeConsumerID                 DataType = 122
	TypeProducerID                 DataType = 123
	TypeBrokerID                   DataType = 124
)

var typeNames = map[DataType]string{
	TypeWireFormatInfo:              "WireFormatInfo",
	TypeBrokerInfo:                  "BrokerInfo",
	TypeConnectionInfo:              "ConnectionInfo",
	TypeSessionInfo:                 "SessionInfo",
	TypeConsumerInfo:                "ConsumerInfo",
	TypeProducerInfo:                "ProducerInfo",
	TypeTransactionInfo:             "TransactionInfo",
	TypeDestinationInfo:             "DestinationInfo",
	TypeRemoveSubscriptionInfo:      "RemoveSubscriptionInfo",
	TypeKeepAliveInfo:               "KeepAliveInfo",
	TypeShutdownInfo:                "ShutdownInfo",
	TypeRemoveInfo:                  "RemoveInfo",
	TypeControlCommand:              "ControlCommand",
	TypeFlushCommand:                "FlushCommand",
	TypeConnectionError:             "ConnectionError",
	TypeConsumerControl:             "ConsumerControl",
	TypeConnectionControl:           "ConnectionControl",
	TypeProducerAck:                 "ProducerAck",
	TypeMessagePull:                 "MessagePull",
	TypeMessageDispatch:             "MessageDispatch",
	TypeMessageAck:                  "MessageAck",
	TypeActiveMQMessage:             "ActiveMQMessage",
	TypeBytesMessage:                "Bytes",
	TypeMapMessage:                  "Map",
	TypeObjectMessage:               "Object",
	TypeStreamMessage:               "Stream",
	TypeTextMessage:                 "Text",
	TypeBlobMessage:                 "Blob",
	TypeResponse:                    "Response",
	TypeExceptionResponse:           "ExceptionResponse",
	TypeDataResponse:                "DataResponse",
	TypeDataArrayResponse:           "DataArrayResponse",
	TypeIntegerResponse:             "IntegerResponse",
	TypeDiscoveryEvent:              "DiscoveryEvent",
	TypeJournalTopicAck:             "JournalTopicAck",
	TypeJournalQueueAck:             "JournalQueueAck",
	TypeJournalTrace:                "JournalTrace",
	TypeJournalTransaction:          "JournalTransaction",
	TypeSubscriptionInfo:            "SubscriptionInfo",
	TypePartialCommand:              "PartialCommand",
	TypeLastPartialCommand:          "LastPartialCommand",
	TypeReplayCommand:               "ReplayCommand",
	TypeMessageDispatchNotification: "MessageDispatchNotification",
	TypeNetworkBridgeFilter:         "NetworkBridgeFilter",
	TypeActiveMQQueue:               "ActiveMQQueue",
	TypeActiveMQTopic:               "ActiveMQTopic",
	TypeActiveMQTempQueue:           "ActiveMQTempQueue",
	TypeActiveMQTempTopic:           "ActiveMQTempTopic",
	TypeMessageID:                   "MessageId",
	TypeLocalTransactionID:          "LocalTransactionId",
	TypeXATransactionID:             "XATransactionId",
	TypeConnectionID:                "ConnectionId",
	TypeSessionID:                   "SessionId",
	TypeConsumerID:                  "ConsumerId",
	TypeProducerID:                  "ProducerId",
	TypeBrokerID:                    "BrokerId",
}

// Name returns the protocol name for a DataType, used for debug
// tracing.
func (t DataType) Name() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// Header is embedded by every Command implementation.
type Header struct {
	CommandID        uint32
	ResponseRequired bool
	IsResponseFlag   bool
}

func (h *Header) GetCommandID() uint32        { return h.CommandID }
func (h *Header) SetCommandID(id uint32)      { h.CommandID = id }
func (h *Header) GetResponseRequired() bool   { return h.ResponseRequired }
func (h *Header) SetResponseRequired(b bool)  { h.ResponseRequired = b }
func (h *Header) IsResponse() bool            { return h.IsResponseFlag }
func (h *Header) SetIsResponse(b bool)        { h.IsResponseFlag = b }

// Command is the common interface implemented by every data structure
// that can travel over the wire as a top-level frame.
type Command interface {
	DataStructureType() DataType
	GetCommandID() uint32
	SetCommandID(uint32)
	GetResponseRequired() bool
	SetResponseRequired(bool)
	IsResponse() bool
	SetIsResponse(bool)
}

// Opaque is used for data-structure types this client receives or
// forwards but does not interpret (journal replication commands, network
// bridge filters, discovery events, and the like). It still participates
// in the table-driven marshal dispatch via its DataType and keeps the
// original payload bytes for passthrough.
type Opaque struct {
	Header
	Type    DataType
	Payload []byte
}

func (o *Opaque) DataStructureType() DataType { return o.Type }
