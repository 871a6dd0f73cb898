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

// AckType enumerates the MessageAck variants. The numeric values are
// the wire-stable codes the broker expects.
type AckType byte

const (
	AckDelivered  AckType = 0
	AckPoison     AckType = 1
	AckStandard   AckType = 2
	AckRedelivered AckType = 3
	AckIndividual AckType = 4
	AckUnmatched  AckType = 5
	AckExpired    AckType = 6
)

// MessageAck acknowledges one message (Individual/Poison) or a contiguous
// run of messages up to and including LastMessageID (Standard/Delivered).
type MessageAck struct {
	Header

	AckType           AckType
	ConsumerID        ConsumerID
	Destination       Destination
	FirstMessageID    MessageID
	LastMessageID     MessageID
	MessageCount      int32
	TransactionID     *LocalTransactionID
	// PoisonCause is set only for AckPoison, carrying a human-readable
	// explanation (e.g. "lazy property unmarshal failed") for broker-side
	// DLQ diagnostics.
	PoisonCause string
}

func (m *MessageAck) DataStructureType() DataType { return TypeMessageAck }
