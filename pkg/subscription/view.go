package subscription

import (
	"sync"

	"rsvp/pkg/model"
)

// View is a viewer's local copy of one event's capacity. It applies a fact
// only if its version is newer than the last one applied, so duplicated or
// reordered delivery converges on the same state.
type View struct {
	mu       sync.RWMutex
	current  model.CapacityChangeFact
	applied  bool
	onUpdate func(model.CapacityChangeFact)
}

func NewView(onUpdate func(model.CapacityChangeFact)) *View {
	return &View{onUpdate: onUpdate}
}

// Apply reports whether fact replaced the local state.
func (v *View) Apply(fact model.CapacityChangeFact) bool {
	v.mu.Lock()
	if v.applied && !fact.Newer(v.current.Version) {
		v.mu.Unlock()
		return false
	}
	v.current = fact
	v.applied = true
	onUpdate := v.onUpdate
	v.mu.Unlock()

	if onUpdate != nil {
		onUpdate(fact)
	}
	return true
}

// Snapshot returns the last applied fact and whether there is one.
func (v *View) Snapshot() (model.CapacityChangeFact, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.applied
}

func (v *View) Version() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current.Version
}
