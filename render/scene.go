package render

import (
	"sync"

	"github.com/OpticalFlyer/tilestream/geom"

	"github.com/google/uuid"
)

// Scene is the rendering engine's scene graph as seen by the tile engine.
// Transforms place primitives in RenderWorld coordinates.
type Scene interface {
	Insert(id uuid.UUID, p Primitive, transform geom.Mat4)
	SetTransform(id uuid.UUID, transform geom.Mat4)
	SetVisible(id uuid.UUID, visible bool)
	Remove(id uuid.UUID)
}

// Entry is one primitive held by a MemScene.
type Entry struct {
	Primitive Primitive
	Transform geom.Mat4
	Visible   bool
}

// MemScene is a Scene kept in memory. It is safe for concurrent use.
type MemScene struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// NewMemScene returns an empty scene.
func NewMemScene() *MemScene {
	return &MemScene{entries: make(map[uuid.UUID]*Entry)}
}

// Insert adds p, initially visible. Inserting an existing id replaces it.
func (s *MemScene) Insert(id uuid.UUID, p Primitive, transform geom.Mat4) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &Entry{Primitive: p, Transform: transform, Visible: true}
}

func (s *MemScene) SetTransform(id uuid.UUID, transform geom.Mat4) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Transform = transform
	}
}

func (s *MemScene) SetVisible(id uuid.UUID, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Visible = visible
	}
}

func (s *MemScene) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Get returns a copy of the entry for id.
func (s *MemScene) Get(id uuid.UUID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of primitives and how many of them are visible.
func (s *MemScene) Len() (total, visible int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		total++
		if e.Visible {
			visible++
		}
	}
	return
}

// EachVisible calls fn for every visible primitive. fn must not call back
// into the scene.
func (s *MemScene) EachVisible(fn func(id uuid.UUID, e Entry)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, e := range s.entries {
		if e.Visible {
			fn(id, *e)
		}
	}
}
