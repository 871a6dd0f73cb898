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
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
)

func TestMarshalUnmarshalRoundTripsConnectionInfoTightAndLoose(t *testing.T) {
	for _, tight := range []bool{true, false} {
		wf := New()
		o := wf.Options()
		o.TightEncodingEnabled = tight
		wf.SetLocalOptions(o)

		info := &command.ConnectionInfo{
			ConnectionID:         command.ConnectionID{Value: "conn-1"},
			ClientID:             "client-1",
			UserName:             "alice",
			Password:             "secret",
			WatchTopicAdvisories: true,
		}
		info.SetResponseRequired(true)
		info.SetCommandID(42)

		buf, err := wf.Marshal(info)
		if err != nil {
			t.Fatalf("Marshal (tight=%v): %v", tight, err)
		}
		out, err := wf.Unmarshal(buf)
		if err != nil {
			t.Fatalf("Unmarshal (tight=%v): %v", tight, err)
		}
		got, ok := out.(*command.ConnectionInfo)
		if !ok {
			t.Fatalf("got %T, want *command.ConnectionInfo", out)
		}
		if got.ConnectionID != info.ConnectionID || got.ClientID != info.ClientID ||
			got.UserName != info.UserName || got.Password != info.Password ||
			got.WatchTopicAdvisories != info.WatchTopicAdvisories {
			t.Fatalf("round trip mismatch (tight=%v): got %+v, want %+v", tight, got, info)
		}
		if got.GetCommandID() != info.GetCommandID() || got.GetResponseRequired() != info.GetResponseRequired() {
			t.Fatalf("header round trip mismatch (tight=%v): got %+v", tight, got.Header)
		}
	}
}

func TestMarshalUnmarshalRoundTripsMessageWithNestedStructures(t *testing.T) {
	wf := New()

	dest := command.Destination{Kind: command.KindQueue, Name: "orders"}
	msg := &command.Message{
		MessageID:   command.MessageID{ProducerID: command.ProducerID{Value: 7}, ProducerSequenceID: 99},
		ProducerID:  command.ProducerID{Value: 7},
		Destination: dest,
		ReplyTo:     &dest,
		Timestamp:   time.Unix(1700000000, 0).UTC(),
		Priority:    4,
		Persistent:  true,
		Body:        []byte("hello world"),
		BodyKind:    command.BodyText,
	}

	buf, err := wf.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := wf.Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got, ok := out.(*command.Message)
	if !ok {
		t.Fatalf("got %T, want *command.Message", out)
	}
	if got.MessageID != msg.MessageID {
		t.Fatalf("MessageID = %+v, want %+v", got.MessageID, msg.MessageID)
	}
	if got.Destination.Kind != msg.Destination.Kind || got.Destination.Name != msg.Destination.Name {
		t.Fatalf("Destination = %+v, want %+v", got.Destination, msg.Destination)
	}
	if got.ReplyTo == nil || got.ReplyTo.Kind != msg.ReplyTo.Kind || got.ReplyTo.Name != msg.ReplyTo.Name {
		t.Fatalf("ReplyTo = %+v, want %+v", got.ReplyTo, msg.ReplyTo)
	}
	if string(got.Body) != string(msg.Body) {
		t.Fatalf("Body = %q, want %q", got.Body, msg.Body)
	}
	if got.BodyKind != msg.BodyKind || got.Priority != msg.Priority || got.Persistent != msg.Persistent {
		t.Fatalf("scalar fields mismatch: got %+v", got)
	}
	if !got.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("Timestamp = %v, want %v", got.Timestamp, msg.Timestamp)
	}
}

func TestMarshalUnmarshalRoundTripsDestinationInfoWithOptions(t *testing.T) {
	wf := New()

	info := &command.DestinationInfo{
		ConnectionID: command.ConnectionID{Value: "conn-1"},
		Destination: command.Destination{
			Kind:    command.KindTempQueue,
			Name:    "conn-1:1",
			Options: map[string]string{"consumer.exclusive": "true"},
		},
		OperationType: command.DestAdd,
		Timeout:       30 * time.Second,
	}
	info.SetResponseRequired(true)
	info.SetCommandID(9)

	buf, err := wf.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := wf.Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got, ok := out.(*command.DestinationInfo)
	if !ok {
		t.Fatalf("got %T, want *command.DestinationInfo", out)
	}
	if got.ConnectionID != info.ConnectionID || got.OperationType != info.OperationType || got.Timeout != info.Timeout {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, info)
	}
	if got.Destination.Kind != info.Destination.Kind || got.Destination.Name != info.Destination.Name {
		t.Fatalf("Destination = %+v, want %+v", got.Destination, info.Destination)
	}
	if got.Destination.Option("consumer.exclusive") != "true" {
		t.Fatalf("destination options lost in transit: %+v", got.Destination.Options)
	}
}

// TestMarshalCacheShrinksRepeatDestinations drives the negotiated
// marshalling cache: after both peers advertise CacheEnabled, the second
// transmission of the same destination is a bare index reference, and a
// symmetric receiving WireFormat still resolves it to the full value.
func TestMarshalCacheShrinksRepeatDestinations(t *testing.T) {
	peer := &command.WireFormatInfo{
		Version:                           DefaultVersion,
		CacheEnabled:                      true,
		CacheSize:                         64,
		TightEncodingEnabled:              true,
		TCPNoDelayEnabled:                 true,
		MaxInactivityDuration:             30 * time.Second,
		MaxInactivityDurationInitialDelay: 10 * time.Second,
	}
	sender := New()
	sender.Renegotiate(peer)
	receiver := New()
	receiver.Renegotiate(peer)

	ack := func() *command.MessageAck {
		return &command.MessageAck{
			AckType:     command.AckStandard,
			Destination: command.Destination{Kind: command.KindQueue, Name: "orders"},
		}
	}

	first, err := sender.Marshal(ack())
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := sender.Marshal(ack())
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if len(second) >= len(first) {
		t.Fatalf("expected the repeat to shrink to an index reference: first %d bytes, second %d", len(first), len(second))
	}

	for i, buf := range [][]byte{first, second} {
		out, err := receiver.Unmarshal(buf)
		if err != nil {
			t.Fatalf("Unmarshal %d: %v", i, err)
		}
		got, ok := out.(*command.MessageAck)
		if !ok {
			t.Fatalf("Unmarshal %d: got %T", i, out)
		}
		if got.Destination.Name != "orders" || got.Destination.Kind != command.KindQueue {
			t.Fatalf("Unmarshal %d: Destination = %+v", i, got.Destination)
		}
	}
}

func TestRenegotiateTakesTheLowerVersionAndANDsFeatures(t *testing.T) {
	wf := New()
	peer := &command.WireFormatInfo{
		Version:                           DefaultVersion - 1,
		CacheEnabled:                      false,
		TightEncodingEnabled:              true,
		SizePrefixDisabled:                false,
		TCPNoDelayEnabled:                 true,
		CacheSize:                         16,
		MaxInactivityDuration:             5 * time.Second,
		MaxInactivityDurationInitialDelay: 5 * time.Second,
	}
	wf.Renegotiate(peer)

	got := wf.Options()
	if got.Version != DefaultVersion-1 {
		t.Fatalf("Version = %d, want %d", got.Version, DefaultVersion-1)
	}
	if got.CacheEnabled {
		t.Fatal("expected CacheEnabled to AND down to false")
	}
	if got.CacheSize != 16 {
		t.Fatalf("CacheSize = %d, want the peer's smaller 16", got.CacheSize)
	}
	if got.MaxInactivityDuration != 5*time.Second {
		t.Fatalf("MaxInactivityDuration = %v, want 5s", got.MaxInactivityDuration)
	}
}

func TestRenegotiateIsIdempotentAfterFirstCall(t *testing.T) {
	wf := New()
	wf.Renegotiate(&command.WireFormatInfo{Version: 1})
	wf.Renegotiate(&command.WireFormatInfo{Version: 99})

	if wf.Options().Version != 1 {
		t.Fatalf("Version = %d, want the first negotiation's 1 (second call must be a no-op)", wf.Options().Version)
	}
}

func TestSetLocalOptionsIsNoOpAfterNegotiation(t *testing.T) {
	wf := New()
	wf.Renegotiate(&command.WireFormatInfo{Version: 1})

	o := wf.Options()
	o.Version = 123
	wf.SetLocalOptions(o)

	if wf.Options().Version != 1 {
		t.Fatalf("Version = %d, want SetLocalOptions to be ignored post-negotiation", wf.Options().Version)
	}
}
