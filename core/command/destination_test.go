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

import "testing"

func TestParseDestinationPlainNameDefaultsToQueue(t *testing.T) {
	d := ParseDestination("orders")
	if d.IsComposite() {
		t.Fatal("expected a non-composite destination")
	}
	if d.Kind != KindQueue || d.Name != "orders" {
		t.Fatalf("got %+v", d)
	}
}

func TestParseDestinationHonorsTypePrefixes(t *testing.T) {
	cases := []struct {
		in   string
		kind DestinationKind
		name string
	}{
		{"queue://orders", KindQueue, "orders"},
		{"topic://prices", KindTopic, "prices"},
		{"temp-queue://scratch", KindTempQueue, "scratch"},
		{"temp-topic://scratch", KindTempTopic, "scratch"},
	}
	for _, c := range cases {
		d := ParseDestination(c.in)
		if d.Kind != c.kind || d.Name != c.name {
			t.Fatalf("ParseDestination(%q) = %+v, want kind=%v name=%q", c.in, d, c.kind, c.name)
		}
	}
}

// TestParseDestinationCompositePreservesOrder covers the composite
// send contract: the client must parse "A,B" into a
// Composite whose component order survives, since each broker-side fan-out
// target is addressed by position.
func TestParseDestinationCompositePreservesOrder(t *testing.T) {
	d := ParseDestination("queue://A,topic://B,C")
	if !d.IsComposite() {
		t.Fatal("expected a composite destination")
	}
	if len(d.Components) != 3 {
		t.Fatalf("got %d components, want 3", len(d.Components))
	}
	want := []struct {
		kind DestinationKind
		name string
	}{
		{KindQueue, "A"},
		{KindTopic, "B"},
		{KindQueue, "C"},
	}
	for i, w := range want {
		if d.Components[i].Kind != w.kind || d.Components[i].Name != w.name {
			t.Fatalf("component[%d] = %+v, want kind=%v name=%q", i, d.Components[i], w.kind, w.name)
		}
	}
}

func TestDestinationStringRoundTripsThroughParseDestination(t *testing.T) {
	d := ParseDestination("queue://A,topic://B")
	again := ParseDestination(d.String())
	if again.String() != d.String() {
		t.Fatalf("round trip mismatch: %q != %q", again.String(), d.String())
	}
}

func TestParseDestinationIgnoresBlankComponents(t *testing.T) {
	d := ParseDestination("A,,B")
	if len(d.Components) != 2 {
		t.Fatalf("got %d components, want 2 (blank middle element dropped)", len(d.Components))
	}
}

func TestParseDestinationExtractsOptions(t *testing.T) {
	d := ParseDestination("orders?consumer.exclusive=true&consumer.priority=7")
	if d.Kind != KindQueue || d.Name != "orders" {
		t.Fatalf("got %+v, want queue orders", d)
	}
	if d.Option("consumer.exclusive") != "true" {
		t.Fatalf("consumer.exclusive = %q, want %q", d.Option("consumer.exclusive"), "true")
	}
	if d.Option("consumer.priority") != "7" {
		t.Fatalf("consumer.priority = %q, want %q", d.Option("consumer.priority"), "7")
	}
	if d.Option("not.set") != "" {
		t.Fatal("absent option must read as empty")
	}
}

func TestDestinationStringRendersOptionsDeterministically(t *testing.T) {
	d := ParseDestination("topic://prices?b=2&a=1")
	if got, want := d.String(), "topic://prices?a=1&b=2"; got != want {
		t.Fatalf("String() = %q, want %q (options in sorted key order)", got, want)
	}
	again := ParseDestination(d.String())
	if again.String() != d.String() {
		t.Fatalf("options round trip mismatch: %q != %q", again.String(), d.String())
	}
}
