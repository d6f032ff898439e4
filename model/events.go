package model

import (
	"github.com/hupe1980/ndstore/core"
)

// EventKind classifies model notifications.
type EventKind uint8

const (
	// Loaded fires when an entity is decoded from its library.
	Loaded EventKind = iota + 1
	// Created fires for new entities.
	Created
	// Changed fires after a setter modified an entity.
	Changed
	// Deleted fires when an entity is marked deleted.
	Deleted
	// Flushed fires when a dirty entity was committed.
	Flushed
	// FlushFailed fires when committing a dirty entity failed.
	FlushFailed
)

func (k EventKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	case Flushed:
		return "flushed"
	case FlushFailed:
		return "flush-failed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after the model state changed.
type Event struct {
	Kind EventKind
	ID   core.ID
	// Field is set for Changed events from Set; empty for payload changes.
	Field string
	Err   error
}

// Subscribe registers fn for all future events and returns a function that
// removes it. Callbacks run synchronously on the goroutine that caused the
// event, after the model lock is released; they may call back into the model.
func (m *Model) Subscribe(fn func(Event)) (cancel func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSub++
	key := m.nextSub
	m.subs[key] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, key)
	}
}

func (m *Model) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	m.subMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
