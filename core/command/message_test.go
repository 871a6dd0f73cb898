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
	"testing"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/wireformat/codec"
	"github.com/pepper-iot/openwire-client-go/errs"
)

func TestLazyPropertiesParseOnlyOnFirstAccess(t *testing.T) {
	blob := codec.PrimitiveMap{"color": "red", "weight": int32(12)}.Marshal()

	var m Message
	m.SetRawProperties(blob)

	v, err := m.Properties().Get("color")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "red" {
		t.Fatalf("color = %v, want %q", v, "red")
	}
	v, err = m.Properties().Get("weight")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != int32(12) {
		t.Fatalf("weight = %v, want 12", v)
	}
}

func TestLazyPropertiesCorruptBlobSurvivesUnmarshalAndFailsOnAccess(t *testing.T) {
	var m Message
	m.SetRawProperties([]byte{0xFF, 0xFF})

	// Installing the blob must never fail — per the corruption policy a
	// complete message with a bad property blob still reaches the
	// consumer.
	_, err1 := m.Properties().Get("anything")
	if err1 == nil {
		t.Fatal("expected first access to a corrupt blob to fail")
	}
	_, err2 := m.Properties().Get("anything")
	if err2 == nil {
		t.Fatal("expected second access to fail identically")
	}
	if err1 != err2 {
		t.Fatalf("expected the cached parse error on every access, got %v then %v", err1, err2)
	}
	if !errs.IsKind(err1, errs.KindIO) {
		t.Fatalf("expected an IoError-kind failure, got %v", err1)
	}
	if _, err := m.Properties().All(); err == nil {
		t.Fatal("expected All on a corrupt blob to fail")
	}
	if err := m.Properties().Set("k", "v"); err == nil {
		t.Fatal("expected Set on a corrupt blob to fail")
	}
}

func TestLazyPropertiesSetThenMarshalRoundTrips(t *testing.T) {
	var m Message
	if err := m.Properties().Set("region", "us-east"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	blob := m.Properties().Marshal()

	var in Message
	in.SetRawProperties(blob)
	v, err := in.Properties().Get("region")
	if err != nil {
		t.Fatalf("Get after round trip: %v", err)
	}
	if v != "us-east" {
		t.Fatalf("region = %v, want %q", v, "us-east")
	}
}

func TestMessageExpired(t *testing.T) {
	now := time.Now()
	var m Message
	if m.Expired(now) {
		t.Fatal("zero Expiration must mean never expires")
	}
	m.Expiration = now.Add(-time.Millisecond)
	if !m.Expired(now) {
		t.Fatal("past Expiration must report expired")
	}
	m.Expiration = now.Add(time.Minute)
	if m.Expired(now) {
		t.Fatal("future Expiration must not report expired")
	}
}
