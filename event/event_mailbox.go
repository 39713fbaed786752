package event

import (
	"context"
	"sync"
)

// Batch is what a Mailbox hands to its consumer on each wake-up.
type Batch struct {
	Logs     []string
	Progress *Progress
}

// Mailbox decouples a slow consumer from a Bridge.
//
// Log lines are queued in order and never dropped. Progress is kept as a
// last-value slot: intermediate ticks may be overwritten, the latest one is
// always delivered.
type Mailbox struct {
	mu       sync.Mutex
	logs     []string
	progress *Progress
	wake     chan struct{}

	unsubscribeLog      func()
	unsubscribeProgress func()
}

// NewMailbox subscribes a mailbox to the bridge. Close must be called to
// unsubscribe.
func NewMailbox(b *Bridge) *Mailbox {
	m := &Mailbox{
		wake: make(chan struct{}, 1),
	}
	m.unsubscribeLog = b.OnLog(m.pushLog)
	m.unsubscribeProgress = b.OnProgress(m.pushProgress)
	return m
}

func (m *Mailbox) pushLog(line string) {
	m.mu.Lock()
	m.logs = append(m.logs, line)
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) pushProgress(p Progress) {
	m.mu.Lock()
	m.progress = &p
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Next blocks until events are available and drains them.
func (m *Mailbox) Next(ctx context.Context) (Batch, error) {
	for {
		if b, ok := m.drain(); ok {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case <-m.wake:
		}
	}
}

func (m *Mailbox) drain() (Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.logs) == 0 && m.progress == nil {
		return Batch{}, false
	}
	b := Batch{Logs: m.logs, Progress: m.progress}
	m.logs = nil
	m.progress = nil
	return b, true
}

// Close unsubscribes the mailbox from its bridge.
func (m *Mailbox) Close() {
	m.unsubscribeLog()
	m.unsubscribeProgress()
}
