// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch is the bot's event loop: a single intake that runs
// tasks serially per key and concurrently across keys.
//
// Every piece of work the bot does (a membership event, a command, a
// timer firing) is submitted with a key naming the state it touches.
// Tasks sharing a key run one at a time in submission order, so two
// events for the same welcome room can never interleave. Tasks with
// different keys run in parallel, so a slow homeserver call for one
// room never stalls another.
//
// A lane (the goroutine serving one key) is started when the first
// task for that key arrives and exits as soon as its queue is empty;
// idle keys cost nothing.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Task is a unit of work. ctx is cancelled only after shutdown has
// drained every queued task.
type Task func(ctx context.Context)

// Loop serializes tasks per key.
type Loop struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond
	lanes   map[string]*lane
	pending int
	closed  bool
}

type lane struct {
	queue []Task
}

// New returns a Loop ready to accept tasks. Tasks submitted before Run
// is called execute immediately.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &Loop{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]*lane),
	}
	loop.idle = sync.NewCond(&loop.mu)
	return loop
}

// Submit enqueues task on key's lane. Returns false (and drops the
// task) after shutdown has begun.
func (l *Loop) Submit(key string, task Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("task dropped after shutdown", "key", key)
		return false
	}
	l.pending++
	current, running := l.lanes[key]
	if !running {
		current = &lane{}
		l.lanes[key] = current
	}
	current.queue = append(current.queue, task)
	if !running {
		go l.drain(key, current)
	}
	return true
}

func (l *Loop) drain(key string, current *lane) {
	for {
		l.mu.Lock()
		if len(current.queue) == 0 {
			delete(l.lanes, key)
			l.mu.Unlock()
			return
		}
		task := current.queue[0]
		current.queue[0] = nil
		current.queue = current.queue[1:]
		l.mu.Unlock()

		l.execute(key, task)

		l.mu.Lock()
		l.pending--
		if l.pending == 0 {
			l.idle.Broadcast()
		}
		l.mu.Unlock()
	}
}

func (l *Loop) execute(key string, task Task) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("task panicked",
				"key", key,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task(l.ctx)
}

// Wait blocks until no task is queued or running. Tasks submitted by
// running tasks are waited for too.
func (l *Loop) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.pending > 0 {
		l.idle.Wait()
	}
}

// Run blocks until ctx is done, then stops accepting tasks, drains the
// queued ones, and cancels the task context.
func (l *Loop) Run(ctx context.Context) {
	<-ctx.Done()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.Wait()
	l.cancel()
	l.logger.Info("event loop drained")
}

// Lanes returns the number of keys with queued or running work.
func (l *Loop) Lanes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
