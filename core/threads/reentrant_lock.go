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
)

// ReentrantLock gives a goroutine Java-monitor-style reentrancy on top of
// a plain sync.Mutex: the same goroutine can Lock it repeatedly without
// deadlocking itself, and FullyUnlock/ReLock let a condition-style wait
// release the lock at whatever recursion depth it was acquired at and
// restore it afterward.
//
// owner is atomic so that goroutines which do NOT hold the lock can
// safely ask "is this mine?" (Lock's fast path, TryLock,
// IsHeldByCurrentGoroutine) while the owner is concurrently storing it.
// recursionCount needs no such protection: it is only ever touched by
// the goroutine that currently owns the underlying mutex, so every
// access is ordered by the mutex's own acquire/release.
type ReentrantLock struct {
	mu             sync.Mutex
	owner          atomic.Int64
	recursionCount int
}

// NewReentrantLock returns an unlocked, unowned lock.
func NewReentrantLock() *ReentrantLock { return &ReentrantLock{} }

// Lock acquires the lock, incrementing the recursion count if the calling
// goroutine already owns it.
func (l *ReentrantLock) Lock() {
	gid := currentGoroutineID()
	if l.owner.Load() == gid {
		l.recursionCount++
		return
	}
	l.mu.Lock()
	l.owner.Store(gid)
	l.recursionCount = 1
}

// TryLock attempts to acquire the lock without blocking.
func (l *ReentrantLock) TryLock() bool {
	gid := currentGoroutineID()
	if l.owner.Load() == gid {
		l.recursionCount++
		return true
	}
	if l.mu.TryLock() {
		l.owner.Store(gid)
		l.recursionCount = 1
		return true
	}
	return false
}

// Unlock releases one level of recursion, fully releasing the underlying
// mutex only once the count reaches zero. Unlock by a goroutine that
// does not own the lock is a no-op.
func (l *ReentrantLock) Unlock() {
	if l.owner.Load() != currentGoroutineID() {
		return
	}
	l.recursionCount--
	if l.recursionCount == 0 {
		l.owner.Store(0)
		l.mu.Unlock()
	}
}

// FullyUnlock releases the lock regardless of recursion depth, returning
// the depth the caller must pass to ReLock to restore it. Used
// immediately before sleeping on a wakeup signal so the lock is
// observably free to other goroutines for the whole wait.
func (l *ReentrantLock) FullyUnlock() int {
	if l.owner.Load() != currentGoroutineID() {
		return 0
	}
	saved := l.recursionCount
	l.recursionCount = 0
	l.owner.Store(0)
	l.mu.Unlock()
	return saved
}

// ReLock reacquires the lock and restores it to the given recursion
// depth, undoing a prior FullyUnlock.
func (l *ReentrantLock) ReLock(count int) {
	if count <= 0 {
		return
	}
	l.mu.Lock()
	l.owner.Store(currentGoroutineID())
	l.recursionCount = count
}

// IsHeldByCurrentGoroutine reports whether the calling goroutine owns the
// lock.
func (l *ReentrantLock) IsHeldByCurrentGoroutine() bool {
	return l.owner.Load() == currentGoroutineID()
}

// RecursionCount returns how many times the calling goroutine has
// acquired the lock, or 0 if it does not hold it.
func (l *ReentrantLock) RecursionCount() int {
	if l.owner.Load() != currentGoroutineID() {
		return 0
	}
	return l.recursionCount
}
