package instance

import (
	"github.com/dyluth/warren/internal/event"
	"github.com/dyluth/warren/internal/partition"
)

// Targets exposes the registry to the event router. Only existing runtimes are
// returned; routing never creates one.
func (r *Registry) Targets() event.Targets {
	return registryTargets{r: r}
}

type registryTargets struct {
	r *Registry
}

func (t registryTargets) Authority() (event.Target, bool) {
	return t.Lookup(partition.Authority)
}

func (t registryTargets) Lookup(key partition.Key) (event.Target, bool) {
	rt, ok := t.r.Lookup(key)
	if !ok {
		return nil, false
	}
	return rt, true
}

func (t registryTargets) All() []event.Target {
	runtimes := t.r.All()
	out := make([]event.Target, 0, len(runtimes))
	for _, rt := range runtimes {
		out = append(out, rt)
	}
	return out
}
