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

type fifoQueue struct {
	items []*command.MessageDispatch
}

// NewFifo returns a Channel that dispatches strictly in arrival order.
func NewFifo() Channel {
	return newChannel(&fifoQueue{})
}

func (q *fifoQueue) len() int { return len(q.items) }

func (q *fifoQueue) pushBack(d *command.MessageDispatch) {
	q.items = append(q.items, d)
}

func (q *fifoQueue) pushFront(d *command.MessageDispatch) {
	q.items = append([]*command.MessageDispatch{d}, q.items...)
}

func (q *fifoQueue) popFront() *command.MessageDispatch {
	if len(q.items) == 0 {
		return nil
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d
}

func (q *fifoQueue) peekFront() *command.MessageDispatch {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *fifoQueue) drainAll() []*command.MessageDispatch {
	out := q.items
	q.items = nil
	return out
}
