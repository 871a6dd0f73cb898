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

// decoder parses one standalone command body produced by encoder. Like
// encoder, it is built fresh per Unmarshal call.
type decoder struct {
	wf    *WireFormat
	tight bool
	buf   []byte
}

func (d *decoder) unmarshalTop() (command.Command, error) {
	r := codec.NewReader(d.buf)
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, wrapWireErr("reading command type", err)
	}
	dt := command.DataType(typeByte)
	cmdID, err := r.ReadInt()
	if err != nil {
		return nil, wrapWireErr("reading command id", err)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, wrapWireErr("reading command flags", err)
	}
	hdr := command.Header{
		CommandID:        uint32(cmdID),
		ResponseRequired: flags&0x1 != 0,
		IsResponseFlag:   flags&0x2 != 0,
	}
	cmd, err := d.unmarshalBody(dt, hdr, r)
	if err != nil {
		return nil, wrapWireErr("unmarshalling "+dt.Name(), err)
	}
	return cmd, nil
}

func (d *decoder) unmarshalBody(dt command.DataType, hdr command.Header, r *codec.Reader) (command.Command, error) {
	switch dt {
	case command.TypeWireFormatInfo:
		return d.unmarshalWireFormatInfo(hdr, r)
	case command.TypeConnectionInfo:
		return d.unmarshalConnectionInfo(hdr, r)
	case command.TypeSessionInfo:
		return d.unmarshalSessionInfo(hdr, r)
	case command.TypeConsumerInfo:
		return d.unmarshalConsumerInfo(hdr, r)
	case command.TypeProducerInfo:
		return d.unmarshalProducerInfo(hdr, r)
	case command.TypeTransactionInfo:
		return d.unmarshalTransactionInfo(hdr, r)
	case command.TypeDestinationInfo:
		return d.unmarshalDestinationInfo(hdr, r)
	case command.TypeRemoveSubscriptionInfo:
		return d.unmarshalRemoveSubscriptionInfo(hdr, r)
	case command.TypeKeepAliveInfo:
		return &command.KeepAliveInfo{Header: hdr}, nil
	case command.TypeShutdownInfo:
		return &command.ShutdownInfo{Header: hdr}, nil
	case command.TypeRemoveInfo:
		return d.unmarshalRemoveInfo(hdr, r)
	case command.TypeConnectionError:
		return d.unmarshalConnectionError(hdr, r)
	case command.TypeProducerAck:
		return d.unmarshalProducerAck(hdr, r)
	case command.TypeMessagePull:
		return d.unmarshalMessagePull(hdr, r)
	case command.TypeMessageDispatch:
		return d.unmarshalMessageDispatch(hdr, r)
	case command.TypeMessageAck:
		return d.unmarshalMessageAck(hdr, r)
	case command.TypeActiveMQMessage, command.TypeBytesMessage, command.TypeMapMessage,
		command.TypeObjectMessage, command.TypeStreamMessage, command.TypeTextMessage, command.TypeBlobMessage:
		return d.unmarshalMessage(hdr, command.BodyType(dt), r)
	case command.TypeResponse:
		return d.unmarshalResponse(hdr, r)
	case command.TypeExceptionResponse:
		return d.unmarshalExceptionResponse(hdr, r)
	case command.TypeDataResponse:
		return d.unmarshalDataResponse(hdr, r)
	case command.TypeDataArrayResponse:
		return d.unmarshalDataArrayResponse(hdr, r)
	case command.TypeIntegerResponse:
		return d.unmarshalIntegerResponse(hdr, r)
	default:
		// Closed-set type this client carries but does not interpret
		// (journal/network-bridge/discovery commands and the like): keep
		// the remaining bytes verbatim so the caller can still forward or
		// log the frame.
		payload, err := r.ReadRaw(r.Remaining())
		if err != nil {
			return nil, err
		}
		return &command.Opaque{Header: hdr, Type: dt, Payload: append([]byte(nil), payload...)}, nil
	}
}

func (d *decoder) unmarshalWireFormatInfo(hdr command.Header, r *codec.Reader) (*command.WireFormatInfo, error) {
	c := &command.WireFormatInfo{Header: hdr}
	var err error
	if c.Version, err = r.ReadInt(); err != nil {
		return nil, err
	}
	if c.CacheEnabled, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.CacheSize, err = r.ReadInt(); err != nil {
		return nil, err
	}
	if c.TightEncodingEnabled, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.SizePrefixDisabled, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.TCPNoDelayEnabled, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	maxInactivity, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	c.MaxInactivityDuration = time.Duration(maxInactivity) * time.Millisecond
	initialDelay, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	c.MaxInactivityDurationInitialDelay = time.Duration(initialDelay) * time.Millisecond
	if c.MaxFrameSize, err = r.ReadLong(); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *decoder) unmarshalConnectionInfo(hdr command.Header, r *codec.Reader) (*command.ConnectionInfo, error) {
	c := &command.ConnectionInfo{Header: hdr}
	var err error
	if c.ConnectionID, err = readConnectionID(r); err != nil {
		return nil, err
	}
	if c.WatchTopicAdvisories, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	fr := newFieldReader(d.tight, r, 3)
	if err := fr.beginOptional(); err != nil {
		return nil, err
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.ClientID, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.UserName, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.Password, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (d *decoder) unmarshalSessionInfo(hdr command.Header, r *codec.Reader) (*command.SessionInfo, error) {
	sid, err := readSessionID(r)
	if err != nil {
		return nil, err
	}
	return &command.SessionInfo{Header: hdr, SessionID: sid}, nil
}

func (d *decoder) unmarshalConsumerInfo(hdr command.Header, r *codec.Reader) (*command.ConsumerInfo, error) {
	c := &command.ConsumerInfo{Header: hdr}
	var err error
	if c.ConsumerID, err = readConsumerID(r); err != nil {
		return nil, err
	}
	if c.Destination, err = d.readDest(r); err != nil {
		return nil, err
	}
	if c.NoLocal, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.Exclusive, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.Retroactive, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.Priority, err = r.ReadByte(); err != nil {
		return nil, err
	}
	prefetch, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	c.PrefetchSize = int(prefetch)
	maxPending, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	c.MaximumPendingMessageLimit = int(maxPending)
	if c.BrowserMode, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.DispatchAsync, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	fr := newFieldReader(d.tight, r, 2)
	if err := fr.beginOptional(); err != nil {
		return nil, err
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.Selector, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.SubscriptionName, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (d *decoder) unmarshalProducerInfo(hdr command.Header, r *codec.Reader) (*command.ProducerInfo, error) {
	c := &command.ProducerInfo{Header: hdr}
	var err error
	if c.ProducerID, err = readProducerID(r); err != nil {
		return nil, err
	}
	window, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	c.WindowSize = int(window)
	if c.DispatchAsync, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	fr := newFieldReader(d.tight, r, 1)
	if err := fr.beginOptional(); err != nil {
		return nil, err
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		dest, err := d.readDest(r)
		if err != nil {
			return nil, err
		}
		c.Destination = &dest
	}
	return c, nil
}

func (d *decoder) unmarshalTransactionInfo(hdr command.Header, r *codec.Reader) (*command.TransactionInfo, error) {
	c := &command.TransactionInfo{Header: hdr}
	var err error
	if c.ConnectionID, err = readConnectionID(r); err != nil {
		return nil, err
	}
	if c.TransactionID, err = readLocalTransactionID(r); err != nil {
		return nil, err
	}
	typ, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.Type = command.TransactionType(typ)
	return c, nil
}

func (d *decoder) unmarshalDestinationInfo(hdr command.Header, r *codec.Reader) (*command.DestinationInfo, error) {
	c := &command.DestinationInfo{Header: hdr}
	var err error
	if c.ConnectionID, err = readConnectionID(r); err != nil {
		return nil, err
	}
	if c.Destination, err = d.readDest(r); err != nil {
		return nil, err
	}
	op, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.OperationType = command.DestOperationType(op)
	timeout, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	c.Timeout = time.Duration(timeout) * time.Millisecond
	return c, nil
}

func (d *decoder) unmarshalRemoveSubscriptionInfo(hdr command.Header, r *codec.Reader) (*command.RemoveSubscriptionInfo, error) {
	c := &command.RemoveSubscriptionInfo{Header: hdr}
	var err error
	if c.ConnectionID, err = readConnectionID(r); err != nil {
		return nil, err
	}
	if c.ClientID, err = r.ReadUTF(); err != nil {
		return nil, err
	}
	if c.SubscriptionName, err = r.ReadUTF(); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *decoder) unmarshalRemoveInfo(hdr command.Header, r *codec.Reader) (*command.RemoveInfo, error) {
	c := &command.RemoveInfo{Header: hdr}
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch objectIDKind(kindByte) {
	case objectIDConnection:
		id, err := readConnectionID(r)
		if err != nil {
			return nil, err
		}
		c.ObjectID = id
	case objectIDSession:
		id, err := readSessionID(r)
		if err != nil {
			return nil, err
		}
		c.ObjectID = id
	case objectIDConsumer:
		id, err := readConsumerID(r)
		if err != nil {
			return nil, err
		}
		c.ObjectID = id
	case objectIDProducer:
		id, err := readProducerID(r)
		if err != nil {
			return nil, err
		}
		c.ObjectID = id
	default:
		return nil, errs.New(errs.KindWireFormat, "unknown RemoveInfo object id kind")
	}
	if c.LastDeliveredSequenceID, err = r.ReadLong(); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *decoder) unmarshalConnectionError(hdr command.Header, r *codec.Reader) (*command.ConnectionError, error) {
	msg, err := r.ReadUTF()
	if err != nil {
		return nil, err
	}
	return &command.ConnectionError{Header: hdr, Message: msg}, nil
}

func (d *decoder) unmarshalProducerAck(hdr command.Header, r *codec.Reader) (*command.ProducerAck, error) {
	c := &command.ProducerAck{Header: hdr}
	var err error
	if c.ProducerID, err = readProducerID(r); err != nil {
		return nil, err
	}
	if c.Size, err = r.ReadInt(); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *decoder) unmarshalMessagePull(hdr command.Header, r *codec.Reader) (*command.MessagePull, error) {
	c := &command.MessagePull{Header: hdr}
	var err error
	if c.ConsumerID, err = readConsumerID(r); err != nil {
		return nil, err
	}
	if c.Destination, err = d.readDest(r); err != nil {
		return nil, err
	}
	timeout, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	c.Timeout = time.Duration(timeout) * time.Millisecond
	return c, nil
}

func (d *decoder) unmarshalMessageDispatch(hdr command.Header, r *codec.Reader) (*command.MessageDispatch, error) {
	c := &command.MessageDispatch{Header: hdr}
	var err error
	if c.ConsumerID, err = readConsumerID(r); err != nil {
		return nil, err
	}
	if c.Destination, err = d.readDest(r); err != nil {
		return nil, err
	}
	redelivery, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	c.RedeliveryCounter = int(redelivery)
	fr := newFieldReader(d.tight, r, 1)
	if err := fr.beginOptional(); err != nil {
		return nil, err
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		msgType, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		raw, err := r.ReadRaw(int(size))
		if err != nil {
			return nil, err
		}
		innerCmd, err := d.unmarshalBody(command.DataType(msgType), command.Header{}, codec.NewReader(raw))
		if err != nil {
			return nil, err
		}
		if msg, ok := innerCmd.(*command.Message); ok {
			c.Message = msg
		}
	}
	return c, nil
}

func (d *decoder) unmarshalMessageAck(hdr command.Header, r *codec.Reader) (*command.MessageAck, error) {
	c := &command.MessageAck{Header: hdr}
	ackType, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.AckType = command.AckType(ackType)
	if c.ConsumerID, err = readConsumerID(r); err != nil {
		return nil, err
	}
	if c.Destination, err = d.readDest(r); err != nil {
		return nil, err
	}
	if c.FirstMessageID, err = readMessageID(r); err != nil {
		return nil, err
	}
	if c.LastMessageID, err = readMessageID(r); err != nil {
		return nil, err
	}
	if c.MessageCount, err = r.ReadInt(); err != nil {
		return nil, err
	}
	fr := newFieldReader(d.tight, r, 2)
	if err := fr.beginOptional(); err != nil {
		return nil, err
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		txID, err := readLocalTransactionID(r)
		if err != nil {
			return nil, err
		}
		c.TransactionID = &txID
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.PoisonCause, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (d *decoder) unmarshalMessage(hdr command.Header, bodyKind command.BodyType, r *codec.Reader) (*command.Message, error) {
	c := &command.Message{Header: hdr, BodyKind: bodyKind}
	var err error
	if c.MessageID, err = readMessageID(r); err != nil {
		return nil, err
	}
	if c.ProducerID, err = readProducerID(r); err != nil {
		return nil, err
	}
	if c.Destination, err = d.readDest(r); err != nil {
		return nil, err
	}
	ts, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	c.Timestamp = fromMillis(ts)
	exp, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	c.Expiration = fromMillis(exp)
	if c.Priority, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if c.Persistent, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	redelivery, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	c.RedeliveryCounter = int(redelivery)
	if c.Redelivered, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.Compressed, err = r.ReadBoolean(); err != nil {
		return nil, err
	}
	if c.Body, err = r.ReadByteArray(); err != nil {
		return nil, err
	}
	rawProps, err := r.ReadByteArray()
	if err != nil {
		return nil, err
	}
	c.SetRawProperties(rawProps)

	fr := newFieldReader(d.tight, r, 6)
	if err := fr.beginOptional(); err != nil {
		return nil, err
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		dest, err := readDestination(r)
		if err != nil {
			return nil, err
		}
		c.OriginalDestination = &dest
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		txID, err := readLocalTransactionID(r)
		if err != nil {
			return nil, err
		}
		c.TransactionID = &txID
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		dest, err := readDestination(r)
		if err != nil {
			return nil, err
		}
		c.ReplyTo = &dest
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.CorrelationID, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.Type, err = r.ReadUTF(); err != nil {
			return nil, err
		}
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		if c.ConnectionID, err = readConnectionID(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (d *decoder) unmarshalResponse(hdr command.Header, r *codec.Reader) (*command.Response, error) {
	corr, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	return &command.Response{Header: hdr, CorrelationID: uint32(corr)}, nil
}

func (d *decoder) unmarshalExceptionResponse(hdr command.Header, r *codec.Reader) (*command.ExceptionResponse, error) {
	corr, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	class, err := r.ReadUTF()
	if err != nil {
		return nil, err
	}
	msg, err := r.ReadUTF()
	if err != nil {
		return nil, err
	}
	return &command.ExceptionResponse{
		Response:       command.Response{Header: hdr, CorrelationID: uint32(corr)},
		ExceptionClass: class,
		Message:        msg,
	}, nil
}

func (d *decoder) unmarshalDataResponse(hdr command.Header, r *codec.Reader) (*command.DataResponse, error) {
	corr, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	c := &command.DataResponse{Response: command.Response{Header: hdr, CorrelationID: uint32(corr)}}
	fr := newFieldReader(d.tight, r, 1)
	if err := fr.beginOptional(); err != nil {
		return nil, err
	}
	if present, err := fr.optPresent(); err != nil {
		return nil, err
	} else if present {
		raw, err := r.ReadByteArray()
		if err != nil {
			return nil, err
		}
		inner := &decoder{wf: d.wf, tight: d.tight, buf: raw}
		innerCmd, err := inner.unmarshalTop()
		if err != nil {
			return nil, err
		}
		c.Data = innerCmd
	}
	return c, nil
}

func (d *decoder) unmarshalDataArrayResponse(hdr command.Header, r *codec.Reader) (*command.DataArrayResponse, error) {
	corr, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	data := make([]command.Command, 0, n)
	for i := int32(0); i < n; i++ {
		raw, err := r.ReadByteArray()
		if err != nil {
			return nil, err
		}
		inner := &decoder{wf: d.wf, tight: d.tight, buf: raw}
		innerCmd, err := inner.unmarshalTop()
		if err != nil {
			return nil, err
		}
		data = append(data, innerCmd)
	}
	return &command.DataArrayResponse{
		Response: command.Response{Header: hdr, CorrelationID: uint32(corr)},
		Data:     data,
	}, nil
}

func (d *decoder) unmarshalIntegerResponse(hdr command.Header, r *codec.Reader) (*command.IntegerResponse, error) {
	corr, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	val, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	return &command.IntegerResponse{
		Response: command.Response{Header: hdr, CorrelationID: uint32(corr)},
		Value:    val,
	}, nil
}
