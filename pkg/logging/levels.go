package logging

import (
	"sort"
	"sync"
)

// LevelRegistry hands out per-component loggers whose levels can be changed
// at runtime by name. Components that were never tuned follow the root level.
type LevelRegistry struct {
	root   *JSONLogger
	mu     sync.Mutex
	levels map[string]*levelVar
}

// NewLevelRegistry creates a registry deriving component loggers from root
func NewLevelRegistry(root *JSONLogger) *LevelRegistry {
	return &LevelRegistry{
		root:   root,
		levels: make(map[string]*levelVar),
	}
}

// Logger returns the logger for a component, creating its level on first use
func (r *LevelRegistry) Logger(component string) Logger {
	return r.root.withLevel(r.levelFor(component), Component(component))
}

func (r *LevelRegistry) levelFor(component string) *levelVar {
	r.mu.Lock()
	defer r.mu.Unlock()

	lv, ok := r.levels[component]
	if !ok {
		lv = newLevelVar(r.root.GetLevel())
		r.levels[component] = lv
	}
	return lv
}

// Set changes the level of one component
func (r *LevelRegistry) Set(component string, level Level) {
	r.levelFor(component).set(level)
}

// Reset puts a component back on the root level
func (r *LevelRegistry) Reset(component string) {
	r.levelFor(component).set(r.root.GetLevel())
}

// Level reports the current level of a component
func (r *LevelRegistry) Level(component string) Level {
	return r.levelFor(component).get()
}

// Components lists every component seen so far, sorted
func (r *LevelRegistry) Components() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.levels))
	for name := range r.levels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
