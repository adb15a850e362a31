package store

import (
	"sync"

	"github.com/google/uuid"

	"metagen/server/internal/model"
)

const defaultEventRetention = 512

// EventLog is the per-workspace replay buffer behind the SSE stream. Only the
// newest retention events are kept; sequence numbers keep growing.
type EventLog struct {
	mu        sync.RWMutex
	retention int
	events    map[string][]model.WorkspaceEvent
	seq       map[string]int64
}

func NewEventLog(retention int) *EventLog {
	if retention < 1 {
		retention = defaultEventRetention
	}
	return &EventLog{
		retention: retention,
		events:    map[string][]model.WorkspaceEvent{},
		seq:       map[string]int64{},
	}
}

func (l *EventLog) Append(event model.WorkspaceEvent) model.WorkspaceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.seq[event.WorkspaceID] + 1
	l.seq[event.WorkspaceID] = seq
	event.Seq = seq
	event.EventID = uuid.NewString()
	events := append(l.events[event.WorkspaceID], event)
	if len(events) > l.retention {
		events = append([]model.WorkspaceEvent(nil), events[len(events)-l.retention:]...)
	}
	l.events[event.WorkspaceID] = events
	return event
}

func (l *EventLog) ListFromSeq(workspaceID string, fromSeq int64) []model.WorkspaceEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events[workspaceID]
	if fromSeq <= 0 {
		return append([]model.WorkspaceEvent(nil), events...)
	}
	out := make([]model.WorkspaceEvent, 0, len(events))
	for _, e := range events {
		if e.Seq > fromSeq {
			out = append(out, e)
		}
	}
	return out
}

func (l *EventLog) LastSeq(workspaceID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq[workspaceID]
}

func (l *EventLog) Drop(workspaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, workspaceID)
	delete(l.seq, workspaceID)
}
