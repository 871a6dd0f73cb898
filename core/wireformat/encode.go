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

package wireformat

import (
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/wireformat/codec"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// encoder renders one Command to its standalone wire body. It is
// constructed fresh per Marshal call; the only state it carries across
// fields is the tight/loose mode, the cache lives on the WireFormat.
type encoder struct {
	wf    *WireFormat
	tight bool
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}

// marshalTop renders the full standalone command: the type byte, the
// shared header, and the kind-specific body.
func (e *encoder) marshalTop(cmd command.Command) ([]byte, error) {
	if cmd == nil {
		return nil, errs.New(errs.KindWireFormat, "marshal: nil command")
	}
	body, err := e.marshalBody(cmd)
	if err != nil {
		return nil, wrapWireErr("marshalling "+cmd.DataStructureType().Name(), err)
	}
	out := codec.NewWriter(len(body) + 6)
	out.WriteByte(byte(cmd.DataStructureType()))
	out.WriteInt(int32(cmd.GetCommandID()))
	var flags byte
	if cmd.GetResponseRequired() {
		flags |= 0x1
	}
	if cmd.IsResponse() {
		flags |= 0x2
	}
	out.WriteByte(flags)
	out.WriteRaw(body)
	return out.Bytes(), nil
}

func (e *encoder) marshalBody(cmd command.Command) ([]byte, error) {
	switch c := cmd.(type) {
	case *command.WireFormatInfo:
		return e.marshalWireFormatInfo(c), nil
	case *command.ConnectionInfo:
		return e.marshalConnectionInfo(c), nil
	case *command.SessionInfo:
		return e.marshalSessionInfo(c), nil
	case *command.ConsumerInfo:
		return e.marshalConsumerInfo(c), nil
	case *command.ProducerInfo:
		return e.marshalProducerInfo(c), nil
	case *command.TransactionInfo:
		return e.marshalTransactionInfo(c), nil
	case *command.DestinationInfo:
		return e.marshalDestinationInfo(c), nil
	case *command.RemoveSubscriptionInfo:
		return e.marshalRemoveSubscriptionInfo(c), nil
	case *command.KeepAliveInfo:
		return nil, nil
	case *command.ShutdownInfo:
		return nil, nil
	case *command.RemoveInfo:
		return e.marshalRemoveInfo(c), nil
	case *command.ConnectionError:
		return e.marshalConnectionError(c), nil
	case *command.ProducerAck:
		return e.marshalProducerAck(c), nil
	case *command.MessagePull:
		return e.marshalMessagePull(c), nil
	case *command.MessageDispatch:
		return e.marshalMessageDispatch(c), nil
	case *command.MessageAck:
		return e.marshalMessageAck(c), nil
	case *command.Message:
		return e.marshalMessage(c), nil
	case *command.ExceptionResponse:
		return e.marshalExceptionResponse(c), nil
	case *command.DataResponse:
		return e.marshalDataResponse(c)
	case *command.DataArrayResponse:
		return e.marshalDataArrayResponse(c)
	case *command.IntegerResponse:
		return e.marshalIntegerResponse(c), nil
	case *command.Response:
		return e.marshalResponse(c), nil
	case *command.Opaque:
		return c.Payload, nil
	default:
		return nil, unknownKindErr(cmd.DataStructureType())
	}
}

func (e *encoder) marshalWireFormatInfo(c *command.WireFormatInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteInt(c.Version) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.CacheEnabled) })
	f.req(func(w *codec.Writer) { w.WriteInt(c.CacheSize) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.TightEncodingEnabled) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.SizePrefixDisabled) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.TCPNoDelayEnabled) })
	f.req(func(w *codec.Writer) { w.WriteLong(int64(c.MaxInactivityDuration / time.Millisecond)) })
	f.req(func(w *codec.Writer) { w.WriteLong(int64(c.MaxInactivityDurationInitialDelay / time.Millisecond)) })
	f.req(func(w *codec.Writer) { w.WriteLong(c.MaxFrameSize) })
	return f.bytes()
}

func (e *encoder) marshalConnectionInfo(c *command.ConnectionInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeConnectionID(w, c.ConnectionID) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.WatchTopicAdvisories) })
	f.opt(c.ClientID != "", func(w *codec.Writer) { w.WriteUTF(c.ClientID) })
	f.opt(c.UserName != "", func(w *codec.Writer) { w.WriteUTF(c.UserName) })
	f.opt(c.Password != "", func(w *codec.Writer) { w.WriteUTF(c.Password) })
	return f.bytes()
}

func (e *encoder) marshalSessionInfo(c *command.SessionInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeSessionID(w, c.SessionID) })
	return f.bytes()
}

func (e *encoder) marshalConsumerInfo(c *command.ConsumerInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeConsumerID(w, c.ConsumerID) })
	f.req(func(w *codec.Writer) { e.writeDest(w, c.Destination) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.NoLocal) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.Exclusive) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.Retroactive) })
	f.req(func(w *codec.Writer) { w.WriteByte(c.Priority) })
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.PrefetchSize)) })
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.MaximumPendingMessageLimit)) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.BrowserMode) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.DispatchAsync) })
	f.opt(c.Selector != "", func(w *codec.Writer) { w.WriteUTF(c.Selector) })
	f.opt(c.SubscriptionName != "", func(w *codec.Writer) { w.WriteUTF(c.SubscriptionName) })
	return f.bytes()
}

func (e *encoder) marshalProducerInfo(c *command.ProducerInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeProducerID(w, c.ProducerID) })
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.WindowSize)) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.DispatchAsync) })
	f.opt(c.Destination != nil, func(w *codec.Writer) { e.writeDest(w, *c.Destination) })
	return f.bytes()
}

func (e *encoder) marshalTransactionInfo(c *command.TransactionInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeConnectionID(w, c.ConnectionID) })
	f.req(func(w *codec.Writer) { writeLocalTransactionID(w, c.TransactionID) })
	f.req(func(w *codec.Writer) { w.WriteByte(byte(c.Type)) })
	return f.bytes()
}

func (e *encoder) marshalDestinationInfo(c *command.DestinationInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeConnectionID(w, c.ConnectionID) })
	f.req(func(w *codec.Writer) { e.writeDest(w, c.Destination) })
	f.req(func(w *codec.Writer) { w.WriteByte(byte(c.OperationType)) })
	f.req(func(w *codec.Writer) { w.WriteLong(int64(c.Timeout / time.Millisecond)) })
	return f.bytes()
}

func (e *encoder) marshalRemoveSubscriptionInfo(c *command.RemoveSubscriptionInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeConnectionID(w, c.ConnectionID) })
	f.req(func(w *codec.Writer) { w.WriteUTF(c.ClientID) })
	f.req(func(w *codec.Writer) { w.WriteUTF(c.SubscriptionName) })
	return f.bytes()
}

// objectIDKind tags which concrete id type RemoveInfo.ObjectID holds, since
// the field is carried as interface{} on the Go side.
type objectIDKind byte

const (
	objectIDConnection objectIDKind = iota
	objectIDSession
	objectIDConsumer
	objectIDProducer
)

func (e *encoder) marshalRemoveInfo(c *command.RemoveInfo) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) {
		switch id := c.ObjectID.(type) {
		case command.ConnectionID:
			w.WriteByte(byte(objectIDConnection))
			writeConnectionID(w, id)
		case command.SessionID:
			w.WriteByte(byte(objectIDSession))
			writeSessionID(w, id)
		case command.ConsumerID:
			w.WriteByte(byte(objectIDConsumer))
			writeConsumerID(w, id)
		case command.ProducerID:
			w.WriteByte(byte(objectIDProducer))
			writeProducerID(w, id)
		}
	})
	f.req(func(w *codec.Writer) { w.WriteLong(c.LastDeliveredSequenceID) })
	return f.bytes()
}

func (e *encoder) marshalConnectionError(c *command.ConnectionError) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteUTF(c.Message) })
	return f.bytes()
}

func (e *encoder) marshalProducerAck(c *command.ProducerAck) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeProducerID(w, c.ProducerID) })
	f.req(func(w *codec.Writer) { w.WriteInt(c.Size) })
	return f.bytes()
}

func (e *encoder) marshalMessagePull(c *command.MessagePull) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeConsumerID(w, c.ConsumerID) })
	f.req(func(w *codec.Writer) { e.writeDest(w, c.Destination) })
	f.req(func(w *codec.Writer) { w.WriteLong(int64(c.Timeout / time.Millisecond)) })
	return f.bytes()
}

func (e *encoder) marshalMessageDispatch(c *command.MessageDispatch) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeConsumerID(w, c.ConsumerID) })
	f.req(func(w *codec.Writer) { e.writeDest(w, c.Destination) })
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.RedeliveryCounter)) })
	f.opt(c.Message != nil, func(w *codec.Writer) {
		body := e.marshalMessage(c.Message)
		w.WriteByte(byte(c.Message.DataStructureType()))
		w.WriteInt(int32(len(body)))
		w.WriteRaw(body)
	})
	return f.bytes()
}

func (e *encoder) marshalMessageAck(c *command.MessageAck) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteByte(byte(c.AckType)) })
	f.req(func(w *codec.Writer) { writeConsumerID(w, c.ConsumerID) })
	f.req(func(w *codec.Writer) { e.writeDest(w, c.Destination) })
	f.req(func(w *codec.Writer) { writeMessageID(w, c.FirstMessageID) })
	f.req(func(w *codec.Writer) { writeMessageID(w, c.LastMessageID) })
	f.req(func(w *codec.Writer) { w.WriteInt(c.MessageCount) })
	f.opt(c.TransactionID != nil, func(w *codec.Writer) { writeLocalTransactionID(w, *c.TransactionID) })
	f.opt(c.PoisonCause != "", func(w *codec.Writer) { w.WriteUTF(c.PoisonCause) })
	return f.bytes()
}

func (e *encoder) marshalMessage(c *command.Message) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { writeMessageID(w, c.MessageID) })
	f.req(func(w *codec.Writer) { writeProducerID(w, c.ProducerID) })
	f.req(func(w *codec.Writer) { e.writeDest(w, c.Destination) })
	f.req(func(w *codec.Writer) { w.WriteLong(toMillis(c.Timestamp)) })
	f.req(func(w *codec.Writer) { w.WriteLong(toMillis(c.Expiration)) })
	f.req(func(w *codec.Writer) { w.WriteByte(c.Priority) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.Persistent) })
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.RedeliveryCounter)) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.Redelivered) })
	f.req(func(w *codec.Writer) { w.WriteBoolean(c.Compressed) })
	f.req(func(w *codec.Writer) { w.WriteByteArray(c.Body) })
	f.req(func(w *codec.Writer) { w.WriteByteArray(c.Properties().Marshal()) })
	f.opt(c.OriginalDestination != nil, func(w *codec.Writer) { writeDestination(w, *c.OriginalDestination) })
	f.opt(c.TransactionID != nil, func(w *codec.Writer) { writeLocalTransactionID(w, *c.TransactionID) })
	f.opt(c.ReplyTo != nil, func(w *codec.Writer) { writeDestination(w, *c.ReplyTo) })
	f.opt(c.CorrelationID != "", func(w *codec.Writer) { w.WriteUTF(c.CorrelationID) })
	f.opt(c.Type != "", func(w *codec.Writer) { w.WriteUTF(c.Type) })
	f.opt(c.ConnectionID.Value != "", func(w *codec.Writer) { writeConnectionID(w, c.ConnectionID) })
	return f.bytes()
}

func (e *encoder) marshalResponse(c *command.Response) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.CorrelationID)) })
	return f.bytes()
}

func (e *encoder) marshalExceptionResponse(c *command.ExceptionResponse) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.CorrelationID)) })
	f.req(func(w *codec.Writer) { w.WriteUTF(c.ExceptionClass) })
	f.req(func(w *codec.Writer) { w.WriteUTF(c.Message) })
	return f.bytes()
}

func (e *encoder) marshalDataResponse(c *command.DataResponse) ([]byte, error) {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.CorrelationID)) })
	var inner []byte
	var err error
	if c.Data != nil {
		inner, err = e.marshalTop(c.Data)
		if err != nil {
			return nil, err
		}
	}
	f.opt(c.Data != nil, func(w *codec.Writer) { w.WriteByteArray(inner) })
	return f.bytes(), nil
}

func (e *encoder) marshalDataArrayResponse(c *command.DataArrayResponse) ([]byte, error) {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.CorrelationID)) })
	bodies := make([][]byte, len(c.Data))
	for i, d := range c.Data {
		b, err := e.marshalTop(d)
		if err != nil {
			return nil, err
		}
		bodies[i] = b
	}
	f.req(func(w *codec.Writer) {
		w.WriteInt(int32(len(bodies)))
		for _, b := range bodies {
			w.WriteByteArray(b)
		}
	})
	return f.bytes(), nil
}

func (e *encoder) marshalIntegerResponse(c *command.IntegerResponse) []byte {
	f := newFieldWriter(e.tight)
	f.req(func(w *codec.Writer) { w.WriteInt(int32(c.CorrelationID)) })
	f.req(func(w *codec.Writer) { w.WriteInt(c.Value) })
	return f.bytes()
}
