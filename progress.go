// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import "sync"

// DefaultProgressBuffer is the capacity of a ProgressChannel. Compression
// emits at most 101 snapshots, so it never overflows.
const DefaultProgressBuffer = 128

// Snapshot is a point-in-time copy of a job's progress.
type Snapshot[S any] struct {
	Fraction float32 // in [0, 1]
	Stats    S
}

// Update is one item of a ProgressChannel. Cleared means no operation is
// in progress any more; Snapshot is then zero.
type Update[S any] struct {
	Snapshot Snapshot[S]
	Cleared  bool
}

// ProgressChannel carries snapshots from one job to one consumer.
//
// Consumers either range over Updates, which is closed when the job ends,
// or poll TryReadLatest from an event loop. Neither side ever blocks: when
// the buffer is full the producer drops the oldest pending update.
type ProgressChannel[S any] struct {
	ch chan Update[S]

	mu     sync.Mutex
	latest Snapshot[S]
	active bool // latest holds a snapshot of a running or finished job
	closed bool
}

// NewProgressChannel returns a channel buffering up to size updates.
func NewProgressChannel[S any](size int) *ProgressChannel[S] {
	if size <= 0 {
		size = DefaultProgressBuffer
	}
	return &ProgressChannel[S]{ch: make(chan Update[S], size)}
}

// Updates returns the FIFO stream of updates.
func (p *ProgressChannel[S]) Updates() <-chan Update[S] {
	return p.ch
}

// TryReadLatest returns the most recent snapshot without blocking. It
// reports false when nothing was emitted yet or the slot was cleared.
func (p *ProgressChannel[S]) TryReadLatest() (Snapshot[S], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.active
}

func (p *ProgressChannel[S]) send(s Snapshot[S]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.latest, p.active = s, true
	p.push(Update[S]{Snapshot: s})
}

// clear marks the slot as idle.
func (p *ProgressChannel[S]) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	var zero Snapshot[S]
	p.latest, p.active = zero, false
	p.push(Update[S]{Cleared: true})
}

func (p *ProgressChannel[S]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}

// push must be called with mu held.
func (p *ProgressChannel[S]) push(u Update[S]) {
	select {
	case p.ch <- u:
		return
	default:
	}

	select {
	case <-p.ch:
	default:
	}
	select {
	case p.ch <- u:
	default:
	}
}
