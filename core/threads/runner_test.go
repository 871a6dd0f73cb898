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

package threads

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingTask struct {
	mu      sync.Mutex
	pending bool
	runs    int32
}

func (t *countingTask) IsPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *countingTask) Iterate() bool {
	atomic.AddInt32(&t.runs, 1)
	t.mu.Lock()
	t.pending = false
	t.mu.Unlock()
	return true
}

func (t *countingTask) arm() {
	t.mu.Lock()
	t.pending = true
	t.mu.Unlock()
}

func TestRunnerRunsPendingTasks(t *testing.T) {
	r := NewRunner()
	task := &countingTask{}
	r.AddTask(task)
	r.Start()
	defer r.Shutdown()

	task.arm()
	r.Wakeup()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&task.runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task never ran")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunnerFIFORotation(t *testing.T) {
	r := NewRunner()
	a := &countingTask{}
	b := &countingTask{}
	r.AddTask(a)
	r.AddTask(b)
	r.Start()
	defer r.Shutdown()

	a.arm()
	b.arm()
	r.Wakeup()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&a.runs) == 0 || atomic.LoadInt32(&b.runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("both tasks should have run")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunnerShutdownFromOwnGoroutineDoesNotDeadlock(t *testing.T) {
	r := NewRunner()
	selfShutdown := &selfShutdownTask{runner: r}
	r.AddTask(selfShutdown)
	r.Start()

	selfShutdown.arm()
	r.Wakeup()

	select {
	case <-selfShutdown.done:
	case <-time.After(2 * time.Second):
		t.Fatal("self-shutdown task never ran")
	}
}

// TestRunnerSurvivesPanickingTask pins the swallow-and-continue rule: a
// task that panics must not take the shared worker down with it; every
// other task keeps getting iterated.
func TestRunnerSurvivesPanickingTask(t *testing.T) {
	r := NewRunner()
	bad := &panickingTask{}
	good := &countingTask{}
	r.AddTask(bad)
	r.AddTask(good)
	r.Start()
	defer r.Shutdown()

	bad.arm()
	good.arm()
	r.Wakeup()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&good.runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("panicking sibling starved the good task")
		}
		time.Sleep(time.Millisecond)
	}

	good.arm()
	r.Wakeup()
	deadline = time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&good.runs) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("runner stopped scheduling after a task panic")
		}
		time.Sleep(time.Millisecond)
	}
}

type panickingTask struct {
	mu      sync.Mutex
	pending bool
}

func (t *panickingTask) arm() {
	t.mu.Lock()
	t.pending = true
	t.mu.Unlock()
}

func (t *panickingTask) IsPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *panickingTask) Iterate() bool {
	t.mu.Lock()
	t.pending = false
	t.mu.Unlock()
	panic("task blew up")
}

type selfShutdownTask struct {
	mu      sync.Mutex
	pending bool
	runner  *Runner
	done    chan struct{}
}

func (t *selfShutdownTask) arm() {
	t.done = make(chan struct{})
	t.mu.Lock()
	t.pending = true
	t.mu.Unlock()
}

func (t *selfShutdownTask) IsPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *selfShutdownTask) Iterate() bool {
	t.mu.Lock()
	t.pending = false
	t.mu.Unlock()
	t.runner.Shutdown()
	close(t.done)
	return true
}
