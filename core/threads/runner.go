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

// Package threads provides the cooperative single-worker task scheduler
// and the re-entrant locking primitive the transport filter chain is
// built on.
package threads

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/pepper-iot/openwire-client-go/pkg/log"
)

// CompositeTask is one unit of recurring work the Runner drives — a
// transport filter's dispatch loop, a keep-alive sender, a failover
// reconnect attempt.
type CompositeTask interface {
	// IsPending reports whether this task has work to do right now.
	IsPending() bool
	// Iterate performs one unit of work. Its return value is informational
	// only; the Runner always re-checks IsPending on the next pass.
	Iterate() bool
}

type runnerState int32

const (
	stateRunning runnerState = iota
	stateStopping
	stateStopped
)

// Runner is a single goroutine that repeatedly scans a rotating list of
// CompositeTasks, running whichever one is pending and rotating it to
// the back so tasks are served with FIFO fairness. A 100ms wakeup keeps
// it responsive without needing every wakeup() to be perfectly
// delivered.
//
// A task's Iterate() may itself tear down the very transport that owns
// this Runner, reaching back in to call Shutdown() before Iterate()
// returns. goroutineID lets Shutdown tell that case apart from an
// ordinary external shutdown request.
type Runner struct {
	mu    sync.Mutex
	cond  *sync.Cond
	tasks []CompositeTask

	state   runnerState
	pending bool

	goroutineID int64
	started     bool
	done        chan struct{}
}

// NewRunner returns a Runner with no tasks; Start launches its goroutine.
func NewRunner() *Runner {
	r := &Runner{state: stateRunning, done: make(chan struct{})}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the worker goroutine, if not already running.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning || r.started {
		return
	}
	r.started = true
	go r.run()
	r.wakeupLocked()
}

// IsStarted reports whether the worker goroutine has been launched.
func (r *Runner) IsStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// AddTask appends task to the rotation and wakes the worker.
func (r *Runner) AddTask(task CompositeTask) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	r.Wakeup()
}

// RemoveTask drops task from the rotation.
func (r *Runner) RemoveTask(task CompositeTask) {
	r.mu.Lock()
	for i, t := range r.tasks {
		if t == task {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.Wakeup()
}

// Wakeup prods the worker to re-scan the task list immediately instead of
// waiting out the 100ms poll.
func (r *Runner) Wakeup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeupLocked()
}

func (r *Runner) wakeupLocked() {
	if r.state != stateRunning {
		return
	}
	r.pending = true
	r.cond.Broadcast()
}

// Shutdown stops the worker and waits for it to exit, unless called from
// within the worker's own goroutine (a task's Iterate tearing down its
// owner), in which case it only signals and returns immediately — joining
// would deadlock.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.state != stateRunning {
		r.mu.Unlock()
		return
	}
	r.state = stateStopping
	r.pending = true
	selfGoroutine := r.started && r.goroutineID == currentGoroutineID()
	r.cond.Broadcast()
	r.mu.Unlock()

	if selfGoroutine {
		return
	}
	<-r.done
}

// ShutdownTimeout behaves like Shutdown but gives up waiting after d.
func (r *Runner) ShutdownTimeout(d time.Duration) {
	r.mu.Lock()
	if r.state != stateRunning {
		r.mu.Unlock()
		return
	}
	r.state = stateStopping
	r.pending = true
	selfGoroutine := r.started && r.goroutineID == currentGoroutineID()
	r.cond.Broadcast()
	r.mu.Unlock()

	if selfGoroutine {
		return
	}
	select {
	case <-r.done:
	case <-time.After(d):
	}
}

func (r *Runner) run() {
	r.mu.Lock()
	r.goroutineID = currentGoroutineID()
	r.mu.Unlock()

	for {
		r.mu.Lock()
		if r.state != stateRunning {
			r.mu.Unlock()
			break
		}
		r.pending = false
		r.mu.Unlock()

		if !r.iterate() {
			r.mu.Lock()
			for !r.pending && r.state == stateRunning {
				r.waitTimeout(100 * time.Millisecond)
			}
			if r.state != stateRunning {
				r.mu.Unlock()
				break
			}
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	r.state = stateStopped
	r.cond.Broadcast()
	r.mu.Unlock()
	close(r.done)
}

// waitTimeout releases r.mu for up to d so the loop periodically
// re-checks shutdown state instead of waiting indefinitely — caller
// must hold r.mu.
func (r *Runner) waitTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	r.cond.Wait()
}

// iterate runs at most one pending task per call, rotating it to the
// back of the list and returning true so the caller immediately
// rechecks for more pending work.
func (r *Runner) iterate() bool {
	r.mu.Lock()
	n := len(r.tasks)
	for i := 0; i < n; i++ {
		task := r.tasks[0]
		r.tasks = r.tasks[1:]

		if task.IsPending() {
			r.mu.Unlock()
			safeIterate(task)
			r.mu.Lock()

			if r.state != stateRunning {
				r.mu.Unlock()
				return false
			}
			r.tasks = append(r.tasks, task)
			r.mu.Unlock()
			return true
		}
		r.tasks = append(r.tasks, task)
	}
	r.mu.Unlock()
	return false
}

// safeIterate shields the worker from a panicking task: the Runner is
// shared infrastructure and must keep serving its other tasks no matter
// what one of them does. The panicking task still rotates to the back of
// the list like any other.
func safeIterate(task CompositeTask) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("task runner: task panicked: %v", p)
		}
	}()
	task.Iterate()
}

// currentGoroutineID extracts the calling goroutine's id from its stack
// trace header. It exists solely to answer "is Shutdown being called
// re-entrantly from my own worker goroutine"; Go has no cheaper
// supported way to ask it.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
