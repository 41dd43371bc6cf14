package jobs

// Registry owns one State per job class. It is created once in main and
// passed to the components that run jobs and to the status surface.
type Registry struct {
	Import       *State
	Regeneration *State
	Watch        *State
}

// NewRegistry returns a registry with every job idle
func NewRegistry() *Registry {
	return &Registry{
		Import:       NewState(KindImport),
		Regeneration: NewState(KindRegeneration),
		Watch:        NewState(KindWatch),
	}
}

// Get returns the state for kind
func (r *Registry) Get(kind Kind) (*State, bool) {
	switch kind {
	case KindImport:
		return r.Import, true
	case KindRegeneration:
		return r.Regeneration, true
	case KindWatch:
		return r.Watch, true
	default:
		return nil, false
	}
}

// AnyRunning reports whether any job class is running
func (r *Registry) AnyRunning() bool {
	for _, s := range []*State{r.Import, r.Regeneration, r.Watch} {
		if s.Snapshot().Status == StatusRunning {
			return true
		}
	}
	return false
}

// CancelAll requests cancellation of every running job
func (r *Registry) CancelAll() {
	r.Import.Cancel()
	r.Regeneration.Cancel()
	r.Watch.Cancel()
}
