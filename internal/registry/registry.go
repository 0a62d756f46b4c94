package registry

import (
	"fmt"
	"sync"

	"github.com/cabridge/cabridge/internal/store"
)

// persistedRegistry is the on-disk shape of registry.json.
type persistedRegistry struct {
	Tasks map[string]Task `json:"tasks"`
}

// Registry is the in-memory task map plus indices by topic, path, and
// pane, backed by an atomically-written JSON file. All mutation happens on
// the single orchestration goroutine (§5); the mutex exists to let the
// chat long-poll goroutine safely read it for routing decisions between
// ticks.
type Registry struct {
	mu   sync.RWMutex
	path string

	tasks   map[string]Task
	byTopic map[int]string
	byPath  map[string]string
	byPane  map[string]string
}

// New returns an empty registry backed by path (registry.json's location).
func New(path string) *Registry {
	return &Registry{
		path:    path,
		tasks:   make(map[string]Task),
		byTopic: make(map[int]string),
		byPath:  make(map[string]string),
		byPane:  make(map[string]string),
	}
}

// Load reads registry.json, replacing the in-memory state and rebuilding
// indices. A missing file leaves the registry empty, not an error.
func (r *Registry) Load() error {
	var persisted persistedRegistry
	if err := store.Load(r.path, &persisted); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = make(map[string]Task, len(persisted.Tasks))
	r.byTopic = make(map[int]string, len(persisted.Tasks))
	r.byPath = make(map[string]string, len(persisted.Tasks))
	r.byPane = make(map[string]string, len(persisted.Tasks))
	for name, task := range persisted.Tasks {
		task.Name = name
		r.indexLocked(task)
	}
	return nil
}

// Save persists the current in-memory state to registry.json atomically.
func (r *Registry) Save() error {
	r.mu.RLock()
	persisted := persistedRegistry{Tasks: make(map[string]Task, len(r.tasks))}
	for name, task := range r.tasks {
		persisted.Tasks[name] = task
	}
	r.mu.RUnlock()
	return store.Save(r.path, persisted)
}

func (r *Registry) indexLocked(task Task) {
	r.tasks[task.Name] = task
	r.byPath[task.Path] = task.Name
	if task.TopicID != 0 {
		r.byTopic[task.TopicID] = task.Name
	}
	if task.Pane != "" {
		r.byPane[task.Pane] = task.Name
	}
}

// AddTask inserts or overwrites a task by name (spec §8's round-trip law:
// registry.add_task(n, d); registry.get_task(n) == d, and re-adding
// overwrites).
func (r *Registry) AddTask(task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.tasks[task.Name]; ok {
		delete(r.byPath, old.Path)
		if old.TopicID != 0 {
			delete(r.byTopic, old.TopicID)
		}
		if old.Pane != "" {
			delete(r.byPane, old.Pane)
		}
	}
	r.indexLocked(task)
}

// GetTask returns a task by name.
func (r *Registry) GetTask(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// GetByTopic returns the task owning a chat topic id.
func (r *Registry) GetByTopic(topicID int) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byTopic[topicID]
	if !ok {
		return Task{}, false
	}
	return r.tasks[name], true
}

// GetByPath returns the task whose working directory is path.
func (r *Registry) GetByPath(path string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byPath[path]
	if !ok {
		return Task{}, false
	}
	return r.tasks[name], true
}

// GetByPane returns the task currently holding pane.
func (r *Registry) GetByPane(pane string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byPane[pane]
	if !ok {
		return Task{}, false
	}
	return r.tasks[name], true
}

// SetPane opportunistically updates a task's pane (router step 2: "update
// the task's pane if it differs").
func (r *Registry) SetPane(name, pane string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	if !ok {
		return fmt.Errorf("no such task %q", name)
	}
	if t.Pane != "" {
		delete(r.byPane, t.Pane)
	}
	t.Pane = pane
	if pane != "" {
		r.byPane[pane] = name
	}
	r.tasks[name] = t
	return nil
}

// RemoveTask deletes a task and its index entries (used by cleanup).
func (r *Registry) RemoveTask(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	if !ok {
		return
	}
	delete(r.tasks, name)
	delete(r.byPath, t.Path)
	if t.TopicID != 0 {
		delete(r.byTopic, t.TopicID)
	}
	if t.Pane != "" {
		delete(r.byPane, t.Pane)
	}
}

// All returns every registered task, in no particular order.
func (r *Registry) All() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// Has reports whether name is already registered (used by spawn's
// uniqueness check and auto-registration's disambiguation loop).
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}
