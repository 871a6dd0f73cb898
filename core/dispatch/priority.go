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

package dispatch

import "github.com/pepper-iot/openwire-client-go/core/command"

// priorityQueue buckets by the eight internal priority bands,
// dispatching the highest non-empty bucket first; within a bucket, order
// is FIFO. EnqueueFirst still respects priority ordering overall — it
// only jumps the dispatch to the front of its own bucket, which is what
// redelivery (a message going back to the head of its priority band)
// needs.
type priorityQueue struct {
	buckets [numBands][]*command.MessageDispatch
	count   int
}

// NewPriority returns a Channel that dispatches higher-priority messages
// first, FIFO within a priority band.
func NewPriority() Channel {
	return newChannel(&priorityQueue{})
}

// priorityBand maps a JMS priority (0-9) onto the internal bands: 0-3
// fold into band 0, 4-9 take bands 1-6, and band 7 stays reserved for
// client-internal urgent dispatches.
func priorityBand(d *command.MessageDispatch) int {
	p := 4
	if d != nil && d.Message != nil {
		p = int(d.Message.Priority)
	}
	switch {
	case p <= 3:
		return 0
	case p >= 9:
		return 6
	default:
		return p - 3
	}
}

func (q *priorityQueue) len() int { return q.count }

func (q *priorityQueue) pushBack(d *command.MessageDispatch) {
	b := priorityBand(d)
	q.buckets[b] = append(q.buckets[b], d)
	q.count++
}

func (q *priorityQueue) pushFront(d *command.MessageDispatch) {
	b := priorityBand(d)
	q.buckets[b] = append([]*command.MessageDispatch{d}, q.buckets[b]...)
	q.count++
}

func (q *priorityQueue) highestNonEmpty() int {
	for b := numBands - 1; b >= 0; b-- {
		if len(q.buckets[b]) > 0 {
			return b
		}
	}
	return -1
}

func (q *priorityQueue) popFront() *command.MessageDispatch {
	b := q.highestNonEmpty()
	if b < 0 {
		return nil
	}
	d := q.buckets[b][0]
	q.buckets[b] = q.buckets[b][1:]
	q.count--
	return d
}

func (q *priorityQueue) peekFront() *command.MessageDispatch {
	b := q.highestNonEmpty()
	if b < 0 {
		return nil
	}
	return q.buckets[b][0]
}

func (q *priorityQueue) drainAll() []*command.MessageDispatch {
	out := make([]*command.MessageDispatch, 0, q.count)
	for b := numBands - 1; b >= 0; b-- {
		out = append(out, q.buckets[b]...)
		q.buckets[b] = nil
	}
	q.count = 0
	return out
}
