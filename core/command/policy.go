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

// RedeliveryPolicy governs the client-side decision to give up on a
// message and send a POISON_ACK.
type RedeliveryPolicy struct {
	MaximumRedeliveries    int
	InitialRedeliveryDelay time.Duration
	UseExponentialBackOff  bool
	BackOffMultiplier      float64
}

// DefaultRedeliveryPolicy matches ActiveMQ's client defaults.
func DefaultRedeliveryPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{
		MaximumRedeliveries:    6,
		InitialRedeliveryDelay: time.Second,
		UseExponentialBackOff:  false,
		BackOffMultiplier:      5.0,
	}
}

// NextDelay computes the delay before redelivery attempt n (1-indexed).
func (p RedeliveryPolicy) NextDelay(attempt int) time.Duration {
	if !p.UseExponentialBackOff || attempt <= 1 {
		return p.InitialRedeliveryDelay
	}
	d := p.InitialRedeliveryDelay
	mult := p.BackOffMultiplier
	if mult <= 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
	}
	return d
}

// PrefetchPolicy carries per-consumer-kind prefetch window sizes.
type PrefetchPolicy struct {
	QueuePrefetch             int
	TopicPrefetch             int
	DurableTopicPrefetch      int
	QueueBrowserPrefetch      int
	OptimizeDurableTopicPrefetch int
}

// DefaultPrefetchPolicy matches ActiveMQ's client defaults.
func DefaultPrefetchPolicy() PrefetchPolicy {
	return PrefetchPolicy{
		QueuePrefetch:                1000,
		TopicPrefetch:                32766,
		DurableTopicPrefetch:         100,
		QueueBrowserPrefetch:         500,
		OptimizeDurableTopicPrefetch: 1000,
	}
}
