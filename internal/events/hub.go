package events

import (
	"sync"

	"metagen/server/internal/model"

	"github.com/google/uuid"
)

// Hub fans workspace events out to live SSE subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan model.WorkspaceEvent
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[string]chan model.WorkspaceEvent{},
	}
}

func (h *Hub) Subscribe(workspaceID string, buf int) (string, <-chan model.WorkspaceEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[workspaceID]; !ok {
		h.subs[workspaceID] = map[string]chan model.WorkspaceEvent{}
	}
	ch := make(chan model.WorkspaceEvent, buf)
	h.subs[workspaceID][subID] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			wsSubs, ok := h.subs[workspaceID]
			if !ok {
				return
			}
			c, ok := wsSubs[subID]
			if !ok {
				return
			}
			delete(wsSubs, subID)
			close(c)
			if len(wsSubs) == 0 {
				delete(h.subs, workspaceID)
			}
		})
	}
	return subID, ch, unsubscribe
}

func (h *Hub) Publish(workspaceID string, evt model.WorkspaceEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	wsSubs, ok := h.subs[workspaceID]
	if !ok {
		return
	}
	for _, ch := range wsSubs {
		select {
		case ch <- evt:
		default:
			// Drop for slow subscribers to keep producer non-blocking.
		}
	}
}

// CloseWorkspace ends every stream of a deleted workspace.
func (h *Hub) CloseWorkspace(workspaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[workspaceID] {
		close(ch)
	}
	delete(h.subs, workspaceID)
}

func (h *Hub) Subscribers(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[workspaceID])
}
