package kenwood

import (
	"context"
	"fmt"

	"github.com/roffe/gorig/pkg/property"
	"github.com/roffe/gorig/pkg/wire"
	"go.uber.org/zap"
)

// def describes a property backed by one command. Replies are matched on
// code plus prefix, the value is the first field after the prefix.
type def struct {
	name   string
	code   string
	prefix string
	field  wire.Field
	flag   bool
	min    int
	max    int
	always bool
	ro     bool
	echo   bool
	// after runs in the loop once the value was stored
	after func(ctx context.Context)
	opts  []property.Option
}

// cdef describes a composite backed by one multi-field command.
type cdef struct {
	name   string
	code   string
	layout wire.Layout
	flags  []bool
	ro     bool
	after  func(ctx context.Context, vals []any)
	opts   []property.Option
}

type table struct {
	d        *Driver
	props    []*property.Property
	handlers map[string]handler
}

func newTable(d *Driver) *table {
	return &table{d: d, handlers: make(map[string]handler)}
}

func (t *table) on(key string, h handler) {
	if _, found := t.handlers[key]; found {
		panic(fmt.Sprintf("duplicate handler for %s", key))
	}
	t.handlers[key] = h
}

// add registers p with the table unless the driver already owns a property
// of that name, in which case the existing one is returned.
func (t *table) add(p *property.Property) *property.Property {
	if existing := t.d.reg.Get(p.Name()); existing != nil {
		return existing
	}
	t.props = append(t.props, p)
	return p
}

func (t *table) define(df def) *property.Property {
	opts := []property.Option{property.Query(df.code + df.prefix + ";")}
	if !df.always {
		opts = append(opts, property.RequiresPower())
	}
	if df.ro {
		opts = append(opts, property.ReadOnly())
	} else {
		f := df.field
		prefix := df.code + df.prefix
		opts = append(opts, property.Format(func(v any) (string, error) {
			s, err := f.Encode(v)
			if err != nil {
				return "", err
			}
			return wire.Command(prefix, s), nil
		}))
	}
	if df.echo {
		opts = append(opts, property.Echoes())
	}
	if df.flag {
		opts = append(opts, property.Range(isBool))
	} else if df.max > df.min {
		opts = append(opts, property.Range(intRange(df.min, df.max)))
	}
	opts = append(opts, df.opts...)

	p := t.add(property.New(df.name, t.d, opts...))
	t.d.codes[df.name] = df.code
	t.on(df.code+df.prefix, func(ctx context.Context, fields string) {
		if len(fields) < df.field.Width {
			t.d.desync(df.code, fields, wire.ErrShortLine)
			p.Update(nil)
			return
		}
		v, ok, err := df.field.Decode(fields[:df.field.Width])
		if err != nil {
			t.d.desync(df.code, fields, err)
			p.Update(nil)
			return
		}
		switch {
		case !ok:
			p.Update(nil)
		case df.flag:
			p.Update(v.(int) != 0)
		default:
			p.Update(v)
		}
		if df.after != nil {
			df.after(ctx)
		}
	})
	return p
}

func (t *table) composite(cd cdef) *property.Property {
	opts := []property.Option{property.Query(cd.code + ";"), property.RequiresPower()}
	if cd.ro {
		opts = append(opts, property.ReadOnly())
	} else {
		layout := cd.layout
		opts = append(opts, property.Coalesce(), property.Format(func(v any) (string, error) {
			list, ok := v.([]any)
			if !ok || len(list) != len(layout) {
				return "", fmt.Errorf("%s: want %d values, got %v", cd.name, len(layout), v)
			}
			s, err := layout.Encode(list...)
			if err != nil {
				return "", err
			}
			return wire.Command(cd.code, s), nil
		}))
	}
	opts = append(opts, cd.opts...)
	p := t.add(property.NewComposite(cd.name, t.d, len(cd.layout), opts...))
	for i, flag := range cd.flags {
		if flag {
			p.WithViewOptions(i, property.Range(isBool))
		}
	}
	t.d.codes[cd.name] = cd.code
	t.on(cd.code, func(ctx context.Context, fields string) {
		vals, err := cd.layout.Decode(fields)
		if err != nil {
			t.d.desync(cd.code, fields, err)
			p.Update(nil)
			return
		}
		for i, flag := range cd.flags {
			if flag && vals[i] != nil {
				vals[i] = vals[i].(int) != 0
			}
		}
		p.Update(vals)
		if cd.after != nil {
			cd.after(ctx, vals)
		}
	})
	return p
}

// derived registers a read-only property populated only by handlers.
func (t *table) derived(name string, opts ...property.Option) *property.Property {
	return t.custom(name, append([]property.Option{property.ReadOnly()}, opts...)...)
}

// custom registers a property without a reply handler of its own.
func (t *table) custom(name string, opts ...property.Option) *property.Property {
	return t.add(property.New(name, t.d, append([]property.Option{property.RequiresPower()}, opts...)...))
}

func (d *Driver) desync(code, fields string, err error) {
	d.log.Warn("discarded malformed reply", zap.String("code", code), zap.String("fields", fields), zap.Error(err))
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func intRange(min, max int) func(any) bool {
	return func(v any) bool {
		n, ok := v.(int)
		return ok && n >= min && n <= max
	}
}
