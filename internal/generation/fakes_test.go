package generation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"metagen/server/internal/model"
)

// fakeGenerator answers from scripted functions and counts calls.
type fakeGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	seq   int

	thumbnails   func(req model.ThumbnailRequest) (model.ThumbnailResult, error)
	regenerate   func(req model.ThumbnailRequest) (model.ThumbnailResult, error)
	description  func(req model.DescriptionRequest) (model.DescriptionResult, error)
	tags         func(req model.TagsRequest) (model.TagsResult, error)
	lastRegenReq model.ThumbnailRequest
}

func newFakeGenerator() *fakeGenerator {
	g := &fakeGenerator{calls: map[string]int{}}
	g.thumbnails = func(req model.ThumbnailRequest) (model.ThumbnailResult, error) {
		return model.ThumbnailResult{Variants: g.makeVariants(req.Count)}, nil
	}
	g.regenerate = g.thumbnails
	g.description = func(model.DescriptionRequest) (model.DescriptionResult, error) {
		return model.DescriptionResult{Description: "a generated description"}, nil
	}
	g.tags = func(model.TagsRequest) (model.TagsResult, error) {
		return model.TagsResult{Tags: []string{"tutorial", "guide"}}, nil
	}
	return g
}

func (g *fakeGenerator) makeVariants(n int) []model.ThumbnailVariant {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.ThumbnailVariant, 0, n)
	for i := 0; i < n; i++ {
		g.seq++
		out = append(out, model.ThumbnailVariant{
			ID:       fmt.Sprintf("v%d", g.seq),
			ImageURL: fmt.Sprintf("https://img.test/%d.jpg", g.seq),
		})
	}
	return out
}

func (g *fakeGenerator) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGenerator) inc(name string) {
	g.mu.Lock()
	g.calls[name]++
	g.mu.Unlock()
}

func (g *fakeGenerator) GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	g.inc("thumbnails")
	return g.thumbnails(req)
}

func (g *fakeGenerator) RegenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	g.inc("regenerate")
	g.mu.Lock()
	g.lastRegenReq = req
	g.mu.Unlock()
	return g.regenerate(req)
}

func (g *fakeGenerator) GenerateDescription(ctx context.Context, req model.DescriptionRequest) (model.DescriptionResult, error) {
	g.inc("description")
	return g.description(req)
}

func (g *fakeGenerator) GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error) {
	g.inc("tags")
	return g.tags(req)
}

// manualScheduler is a virtual clock; callbacks fire only from Advance.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	tasks  map[int]*manualTask
}

type manualTask struct {
	id  int
	at  time.Time
	f   func()
	s   *manualScheduler
	off bool
}

func (t *manualTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.off {
		return false
	}
	t.off = true
	delete(t.s.tasks, t.id)
	return true
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{
		now:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		tasks: map[int]*manualTask{},
	}
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &manualTask{id: s.nextID, at: s.now.Add(d), f: f, s: s}
	s.tasks[t.id] = t
	return t
}

// Advance moves the clock forward, firing due callbacks in time order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		var due []*manualTask
		for _, t := range s.tasks {
			if !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			s.now = target
			s.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].id < due[j].id
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		delete(s.tasks, next.id)
		next.off = true
		s.now = next.at
		s.mu.Unlock()
		next.f()
	}
}

// changeLog records every change the orchestrator emits.
type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) record(ch Change) {
	l.mu.Lock()
	l.changes = append(l.changes, ch)
	l.mu.Unlock()
}

func (l *changeLog) sectionChanges(s Section) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ch := range l.changes {
		if ch.Type == ChangeSection && ch.Section.Section == s {
			n++
		}
	}
	return n
}

func (l *changeLog) snapshot() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.changes...)
}

func (l *changeLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}
