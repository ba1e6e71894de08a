package property

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Registry maps names to properties for one rig instance. Composite views are
// registered under their indexed names so lookups never parse.
type Registry struct {
	mu    sync.RWMutex
	props map[string]*Property
	order []string
}

func NewRegistry() *Registry {
	return &Registry{props: make(map[string]*Property)}
}

// Register adds p and, for composites, all of its views.
func (r *Registry) Register(props ...*Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range props {
		if err := r.add(p); err != nil {
			return err
		}
		for _, v := range p.views {
			if err := r.add(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) add(p *Property) error {
	if _, found := r.props[p.name]; found {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.name)
	}
	if p.parent != nil {
		if base, idx, ok := ParseIndexed(p.name); !ok || base != p.parent.name || idx != p.index {
			return fmt.Errorf("%s: view name does not match its composite", p.name)
		}
	}
	r.props[p.name] = p
	r.order = append(r.order, p.name)
	return nil
}

// MustRegister is Register for tables built at construction time.
func (r *Registry) MustRegister(props ...*Property) {
	if err := r.Register(props...); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (*Property, error) {
	if p := r.Get(name); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, name)
}

// Get returns nil when name is not registered.
func (r *Registry) Get(name string) *Property {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.props[name]
}

// Cached implements Cache.
func (r *Registry) Cached(name string) (any, bool) {
	p := r.Get(name)
	if p == nil {
		return nil, false
	}
	if p.parent != nil {
		v, ok := p.parent.Cached()
		if !ok {
			return nil, false
		}
		e := element(v, p.index)
		return e, e != nil
	}
	return p.Cached()
}

// Names returns all registered names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := append([]string(nil), r.order...)
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Each calls fn in registration order.
func (r *Registry) Each(fn func(*Property)) {
	r.mu.RLock()
	list := make([]*Property, 0, len(r.order))
	for _, n := range r.order {
		list = append(list, r.props[n])
	}
	r.mu.RUnlock()
	for _, p := range list {
		fn(p)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.props)
}

// ParseIndexed splits "name[3]" into its base name and index.
func ParseIndexed(name string) (string, int, bool) {
	if !strings.HasSuffix(name, "]") {
		return "", 0, false
	}
	open := strings.LastIndexByte(name, '[')
	if open <= 0 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(name[open+1 : len(name)-1])
	if err != nil || idx < 0 {
		return "", 0, false
	}
	return name[:open], idx, true
}
