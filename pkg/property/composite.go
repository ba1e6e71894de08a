package property

import "fmt"

// NewComposite creates a fixed-length aggregate property whose value is a
// []any of size elements. Each element is exposed as a view named name[i].
// Writes to a composite always coalesce.
func NewComposite(name string, owner Owner, size int, opts ...Option) *Property {
	p := New(name, owner, opts...)
	p.size = size
	p.coalesce = true
	p.views = make([]*Property, size)
	for i := range p.views {
		p.views[i] = &Property{
			name:       ViewName(name, i),
			owner:      owner,
			parent:     p,
			index:      i,
			readOnly:   p.readOnly,
			needsPower: p.needsPower,
		}
	}
	return p
}

// ViewName returns the registry name of element i of a composite.
func ViewName(composite string, i int) string {
	return fmt.Sprintf("%s[%d]", composite, i)
}

// View returns element i, with optional extra options such as a range check.
func (p *Property) View(i int) *Property {
	if i < 0 || i >= len(p.views) {
		return nil
	}
	return p.views[i]
}

// Size is the composite length, 0 for scalar properties.
func (p *Property) Size() int { return p.size }

// WithViewOptions applies options to element i, e.g. per-element range checks.
func (p *Property) WithViewOptions(i int, opts ...Option) *Property {
	if v := p.View(i); v != nil {
		for _, o := range opts {
			o(v)
		}
	}
	return p
}
