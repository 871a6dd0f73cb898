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
	"sort"
	"strings"
)

// DestinationKind distinguishes the physical/temporary/composite
// variants a Destination can take.
type DestinationKind int

const (
	KindQueue DestinationKind = iota
	KindTopic
	KindTempQueue
	KindTempTopic
)

// Destination is the tagged Queue/Topic/TempQueue/TempTopic/Composite
// variant. A Composite preserves the insertion order of its components;
// non-composite destinations carry a nil Components slice.
type Destination struct {
	Kind       DestinationKind
	Name       string
	Components []Destination // non-nil only for a composite destination

	// Options carries the `?key=value` parameters from the destination
	// string (`Q?consumer.exclusive=true`). The broker interprets most of
	// them; the client applies the consumer.* subset it understands when
	// building a ConsumerInfo and passes the rest through untouched.
	Options map[string]string
}

// DataStructureType maps the destination kind to its wire type id. A
// composite destination is transmitted using the type id of its first
// component's family, with IsComposite()==true signalling the broker to
// treat Components as the authoritative list (mirrors ActiveMQQueue's own
// "composite" flag in the real protocol).
func (d Destination) DataStructureType() DataType {
	switch d.Kind {
	case KindTopic:
		return TypeActiveMQTopic
	case KindTempQueue:
		return TypeActiveMQTempQueue
	case KindTempTopic:
		return TypeActiveMQTempTopic
	default:
		return TypeActiveMQQueue
	}
}

// IsComposite reports whether d fans out to more than one physical
// destination.
func (d Destination) IsComposite() bool { return len(d.Components) > 0 }

// Option returns the named `?key=value` parameter, or "" when absent.
func (d Destination) Option(key string) string { return d.Options[key] }

// String renders the destination using the same `prefix://name`,
// `?key=value`, and comma-joined composite syntax accepted by
// ParseDestination. Options render in sorted key order so the output is
// deterministic.
func (d Destination) String() string {
	if d.IsComposite() {
		parts := make([]string, len(d.Components))
		for i, c := range d.Components {
			parts[i] = c.String()
		}
		return strings.Join(parts, ",")
	}
	var base string
	switch d.Kind {
	case KindTopic:
		base = "topic://" + d.Name
	case KindTempQueue:
		base = "temp-queue://" + d.Name
	case KindTempTopic:
		base = "temp-topic://" + d.Name
	default:
		base = d.Name
	}
	if len(d.Options) == 0 {
		return base
	}
	keys := make([]string, 0, len(d.Options))
	for k := range d.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + d.Options[k]
	}
	return base + "?" + strings.Join(pairs, "&")
}

// NewQueue constructs a plain queue destination.
func NewQueue(name string) Destination { return Destination{Kind: KindQueue, Name: name} }

// NewTopic constructs a plain topic destination.
func NewTopic(name string) Destination { return Destination{Kind: KindTopic, Name: name} }

// ParseDestination parses the composite destination syntax: a
// comma-separated list of names, each optionally
// qualified with a `queue://`/`topic://` prefix and optionally followed
// by `?key=value` options (`orders?consumer.exclusive=true`). A single,
// unqualified name parses to a plain Queue (ActiveMQ's default when no
// prefix and no other context is given). Component order is preserved.
func ParseDestination(s string) Destination {
	parts := strings.Split(s, ",")
	if len(parts) == 1 {
		return parseComponent(parts[0])
	}
	components := make([]Destination, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		components = append(components, parseComponent(p))
	}
	return Destination{Kind: KindQueue, Components: components}
}

func parseComponent(s string) Destination {
	s = strings.TrimSpace(s)
	var opts map[string]string
	if i := strings.IndexByte(s, '?'); i >= 0 {
		opts = parseOptions(s[i+1:])
		s = s[:i]
	}
	var d Destination
	switch {
	case strings.HasPrefix(s, "topic://"):
		d = Destination{Kind: KindTopic, Name: strings.TrimPrefix(s, "topic://")}
	case strings.HasPrefix(s, "queue://"):
		d = Destination{Kind: KindQueue, Name: strings.TrimPrefix(s, "queue://")}
	case strings.HasPrefix(s, "temp-queue://"):
		d = Destination{Kind: KindTempQueue, Name: strings.TrimPrefix(s, "temp-queue://")}
	case strings.HasPrefix(s, "temp-topic://"):
		d = Destination{Kind: KindTempTopic, Name: strings.TrimPrefix(s, "temp-topic://")}
	default:
		d = Destination{Kind: KindQueue, Name: s}
	}
	d.Options = opts
	return d
}

func parseOptions(query string) map[string]string {
	if query == "" {
		return nil
	}
	opts := make(map[string]string)
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v := pair, ""
		if i := strings.IndexByte(pair, '='); i >= 0 {
			k, v = pair[:i], pair[i+1:]
		}
		opts[k] = v
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
