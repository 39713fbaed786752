// Package event republishes the engine's log and progress notifications as
// plain observable signals.
package event

import (
	"fmt"
	"sync"
	"time"
)

// Progress is a progress tick reported by the engine while a command runs.
type Progress struct {
	// Ratio is the completion ratio in [0, 1].
	Ratio float64
	// Elapsed is the media time processed so far, if the engine reported it.
	Elapsed *time.Duration
}

// String formats the progress the way the front ends display it.
func (p Progress) String() string {
	if p.Elapsed == nil {
		return fmt.Sprintf("progress: %.1f%% time: ", p.Ratio*100)
	}
	return fmt.Sprintf("progress: %.1f%% time: %s", p.Ratio*100, p.Elapsed.String())
}

type observer[T any] struct {
	id int
	fn func(T)
}

// Bridge fans out log lines and progress ticks to any number of observers.
//
// Emissions are serialized: every observer sees events in emission order.
// Observers are called synchronously from the emitting goroutine and must not
// call Emit* themselves.
type Bridge struct {
	emitMu sync.Mutex

	mu         sync.RWMutex
	nextID     int
	logs       []observer[string]
	progresses []observer[Progress]

	lastProgress *Progress
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// OnLog registers a log observer and returns a function removing it.
func (b *Bridge) OnLog(fn func(line string)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.logs = append(b.logs, observer[string]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.logs = remove(b.logs, id)
	}
}

// OnProgress registers a progress observer and returns a function removing it.
func (b *Bridge) OnProgress(fn func(p Progress)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.progresses = append(b.progresses, observer[Progress]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.progresses = remove(b.progresses, id)
	}
}

// EmitLog publishes a log line.
func (b *Bridge) EmitLog(line string) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.RLock()
	observers := b.logs
	b.mu.RUnlock()

	for _, o := range observers {
		o.fn(line)
	}
}

// EmitProgress publishes a progress tick.
func (b *Bridge) EmitProgress(p Progress) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.lastProgress = &p
	observers := b.progresses
	b.mu.Unlock()

	for _, o := range observers {
		o.fn(p)
	}
}

// LastProgress returns the last emitted progress tick, if any.
func (b *Bridge) LastProgress() (Progress, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastProgress == nil {
		return Progress{}, false
	}
	return *b.lastProgress, true
}

// remove returns a new slice so that emitters iterating the old one are not
// affected.
func remove[T any](observers []observer[T], id int) []observer[T] {
	out := make([]observer[T], 0, len(observers))
	for _, o := range observers {
		if o.id != id {
			out = append(out, o)
		}
	}
	return out
}
