package platforms

import (
	"sort"
	"sync"
)

// Logger abstracts logging so callers can use logrus or any compatible logger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}

// Registry owns the live platform clients. Its contents are replaced
// wholesale by Reload whenever settings change.
type Registry struct {
	mu      sync.RWMutex
	clients map[Family]map[string]Client
	skipped []Instance
	factory map[Family]Factory
	log     Logger
}

// NewRegistry builds an empty registry using the given per-family factories.
func NewRegistry(factories map[Family]Factory, log Logger) *Registry {
	if log == nil {
		log = nopLogger{}
	}
	return &Registry{
		clients: make(map[Family]map[string]Client),
		factory: factories,
		log:     log,
	}
}

// Reload replaces every client. Disabled or misconfigured instances are
// skipped and never attempted; they are not failures.
func (r *Registry) Reload(instances []Instance) {
	next := make(map[Family]map[string]Client)
	var skipped []Instance

	for _, inst := range instances {
		if !inst.Enabled {
			r.log.Infof("Skipping %s platform %s: disabled.", inst.Type, inst.DisplayName())
			skipped = append(skipped, inst)
			continue
		}
		if err := inst.Validate(); err != nil {
			r.log.Infof("Skipping %s platform %s: %v", inst.Type, inst.DisplayName(), err)
			skipped = append(skipped, inst)
			continue
		}
		build, ok := r.factory[inst.Type]
		if !ok {
			r.log.Warnf("Skipping platform %s: %v %q", inst.DisplayName(), ErrUnsupportedFamily, inst.Type)
			skipped = append(skipped, inst)
			continue
		}
		c, err := build(inst)
		if err != nil {
			r.log.Warnf("Skipping platform %s: %v", inst.DisplayName(), err)
			skipped = append(skipped, inst)
			continue
		}
		if next[inst.Type] == nil {
			next[inst.Type] = make(map[string]Client)
		}
		next[inst.Type][inst.ID] = c
	}

	r.mu.Lock()
	r.clients = next
	r.skipped = skipped
	r.mu.Unlock()
}

// Clients returns the family's clients ordered by platform id.
func (r *Registry) Clients(f Family) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients[f]))
	for id := range r.clients[f] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Client, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.clients[f][id])
	}
	return out
}

// Client looks up a client by platform id across all families.
func (r *Registry) Client(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, byID := range r.clients {
		if c, ok := byID[id]; ok {
			return c, true
		}
	}
	return nil, false
}

// Instance returns the configuration behind a live client.
func (r *Registry) Instance(id string) (Instance, bool) {
	c, ok := r.Client(id)
	if !ok {
		return Instance{}, false
	}
	return c.Instance(), true
}

// ValidIDs returns the ids of every live client of a family.
func (r *Registry) ValidIDs(f Family) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients[f]))
	for id := range r.clients[f] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Skipped returns the instances ignored by the last Reload.
func (r *Registry) Skipped() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Instance(nil), r.skipped...)
}
