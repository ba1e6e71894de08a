// Package property implements observable, cached device properties.
//
// A Property caches the last known device value of one named setting. Reads of
// an uncached value block the caller (never the dispatch loop) until the owner
// reports a completed round trip. Writes are fire-and-forget; consumers learn
// about the result through modify callbacks.
package property

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache gives non-blocking access to cached values by name.
type Cache interface {
	Cached(name string) (any, bool)
}

// Owner turns property requests into device traffic. It is implemented by a
// transceiver driver.
type Owner interface {
	Cache
	Property(name string) *Property
	// Query enqueues a device query for p.
	Query(p *Property)
	// Submit enqueues a set request. encode is called when the request is
	// dequeued and done when its round trip is over.
	Submit(p *Property, encode func() (string, bool), done func())
	PowerOn() bool
	// Notify runs fn on the callback goroutine.
	Notify(fn func())
	Done() <-chan struct{}
	Err() error
	// Fail terminates the connection with a fatal error.
	Fail(err error)
	ReadTimeout() time.Duration
	Logger() *zap.Logger
}

type Option func(*Property)

// Query sets the wire command that reads the property, e.g. "FA;".
func Query(cmd string) Option { return func(p *Property) { p.query = cmd } }

// QueryFunc sets a method based query, used when a single command cannot
// expose the value.
func QueryFunc(fn func(ctx context.Context) error) Option {
	return func(p *Property) { p.queryFn = fn }
}

// Format sets the formatter turning a value into a set command.
func Format(fn func(v any) (string, error)) Option { return func(p *Property) { p.format = fn } }

// SetFunc replaces the queued set path with a custom method. fn must not block.
func SetFunc(fn func(v any) error) Option { return func(p *Property) { p.setFn = fn } }

// Range rejects values for which fn returns false. Rejected writes are dropped.
func Range(fn func(v any) bool) Option { return func(p *Property) { p.rangeOK = fn } }

// Validity gates reads and writes on the state of other properties.
func Validity(fn func(c Cache) bool) Option { return func(p *Property) { p.validity = fn } }

func Deps(names ...string) Option {
	return func(p *Property) { p.deps = append(p.deps, names...) }
}

func ReadOnly() Option { return func(p *Property) { p.readOnly = true } }

func RequiresPower() Option { return func(p *Property) { p.needsPower = true } }

// Echoes marks properties whose set command is answered by the device, so no
// follow-up query is needed.
func Echoes() Option { return func(p *Property) { p.echoes = true } }

// Coalesce collapses writes that are still queued into the latest value.
func Coalesce() Option { return func(p *Property) { p.coalesce = true } }

// Lazy excludes the property from the start-of-day cache fill.
func Lazy() Option { return func(p *Property) { p.lazy = true } }

type Property struct {
	name  string
	owner Owner

	query    string
	queryFn  func(context.Context) error
	format   func(any) (string, error)
	setFn    func(any) error
	rangeOK  func(any) bool
	validity func(Cache) bool
	deps     []string

	readOnly   bool
	needsPower bool
	echoes     bool
	coalesce   bool
	lazy       bool

	size   int
	views  []*Property
	parent *Property
	index  int

	mu       sync.Mutex
	value    any
	pending  any
	next     any
	queued   bool
	inFlight bool

	modify   callbackList
	complete callbackList
}

func New(name string, owner Owner, opts ...Option) *Property {
	p := &Property{name: name, owner: owner}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Property) Name() string         { return p.name }
func (p *Property) QueryCommand() string { return p.query }
func (p *Property) HasQueryFunc() bool   { return p.queryFn != nil }
func (p *Property) HasValidity() bool    { return p.validity != nil }
func (p *Property) Lazy() bool           { return p.lazy }
func (p *Property) Echoes() bool         { return p.echoes }
func (p *Property) ReadOnly() bool       { return p.readOnly }
func (p *Property) RequiresPower() bool  { return p.needsPower }
func (p *Property) IsComposite() bool    { return p.size > 0 }
func (p *Property) Parent() *Property    { return p.parent }
func (p *Property) Queryable() bool      { return p.query != "" || p.queryFn != nil }
func (p *Property) String() string       { return p.name }

// Cached returns a copy of the cached value without touching the device.
func (p *Property) Cached() (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.value == nil {
		return nil, false
	}
	return copyValue(p.value), true
}

// Read returns the cached value, querying the device when it is unknown.
// A nil value with a nil error means unknown.
func (p *Property) Read(ctx context.Context) (any, error) {
	ok, err := p.valid(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.Clear()
		return nil, nil
	}
	if p.parent != nil {
		v, err := p.parent.Read(ctx)
		if err != nil || v == nil {
			return nil, err
		}
		return element(v, p.index), nil
	}
	if v, ok := p.Cached(); ok {
		return v, nil
	}
	if !p.Queryable() {
		return nil, nil
	}
	if InLoop(ctx) {
		return nil, fmt.Errorf("%s: %w", p.name, ErrReadInLoop)
	}
	if p.queryFn != nil {
		if err := p.queryFn(ctx); err != nil {
			return nil, err
		}
		v, _ := p.Cached()
		return v, nil
	}
	return p.wait(ctx)
}

func (p *Property) wait(ctx context.Context) (any, error) {
	done := make(chan struct{})
	var once sync.Once
	id := p.complete.add(func(any) { once.Do(func() { close(done) }) })
	defer p.complete.remove(id)

	p.owner.Query(p)

	timeout := p.owner.ReadTimeout()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		err := &NoReplyError{Name: p.name, Timeout: timeout}
		p.owner.Fail(err)
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.owner.Done():
		if err := p.owner.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
	v, _ := p.Cached()
	return v, nil
}

// valid runs the power, dependency and validity checks. Unknown
// dependencies are read unless ctx belongs to the dispatch loop.
func (p *Property) valid(ctx context.Context) (bool, error) {
	if p.needsPower && !p.owner.PowerOn() {
		return false, nil
	}
	for _, name := range p.deps {
		if _, ok := p.owner.Cached(name); ok {
			continue
		}
		dep := p.owner.Property(name)
		if dep == nil || !dep.Queryable() || InLoop(ctx) {
			return false, nil
		}
		v, err := dep.Read(ctx)
		if err != nil {
			return false, err
		}
		if v == nil {
			return false, nil
		}
	}
	if p.validity != nil && !p.validity(p.owner) {
		return false, nil
	}
	return true, nil
}

// Valid reports whether the property may currently be read or written,
// without issuing any device traffic.
func (p *Property) Valid() bool {
	ok, _ := p.valid(LoopContext(context.Background()))
	return ok
}

// Write requests a new value. It never blocks; out of range or currently
// invalid writes are dropped without error.
func (p *Property) Write(v any) error {
	if p.readOnly || (p.format == nil && p.setFn == nil && p.parent == nil) {
		return fmt.Errorf("%s: %w", p.name, ErrReadOnly)
	}
	if p.rangeOK != nil && !p.rangeOK(v) {
		p.owner.Logger().Debug("dropped out of range write", zap.String("property", p.name), zap.Any("value", v))
		return nil
	}
	if !p.Valid() {
		p.owner.Logger().Debug("dropped write to invalid property", zap.String("property", p.name))
		return nil
	}
	if p.parent != nil {
		list := make([]any, p.parent.size)
		list[p.index] = v
		return p.parent.Write(list)
	}
	if p.setFn != nil {
		return p.setFn(v)
	}
	if !p.coalesce {
		p.owner.Submit(p, p.encoder(v), nil)
		return nil
	}

	p.mu.Lock()
	switch {
	case p.queued:
		p.pending = p.merge(p.pending, v)
		p.mu.Unlock()
		return nil
	case p.inFlight:
		p.next = p.merge(p.next, v)
		p.mu.Unlock()
		return nil
	}
	p.pending = p.merge(nil, v)
	p.queued = true
	unknown := p.size > 0 && p.value == nil
	p.mu.Unlock()

	if unknown && p.Queryable() {
		// the reply lands before the set is dequeued, so the merge can fill from cache
		p.owner.Query(p)
	}
	p.owner.Submit(p, p.takePending, p.finishWrite)
	return nil
}

func (p *Property) encoder(v any) func() (string, bool) {
	return func() (string, bool) {
		s, err := p.format(v)
		if err != nil {
			p.owner.Logger().Warn("failed to format set command", zap.String("property", p.name), zap.Error(err))
			return "", false
		}
		return s, true
	}
}

// takePending is called by the transport when the coalesced request is
// dequeued. From here on new writes are buffered as next.
func (p *Property) takePending() (string, bool) {
	p.mu.Lock()
	v := p.pending
	p.pending = nil
	p.queued = false
	p.inFlight = true
	if p.size > 0 {
		v = p.fill(v)
	}
	p.mu.Unlock()

	if v == nil {
		p.owner.Logger().Warn("dropped composite write with unknown elements", zap.String("property", p.name))
		return "", false
	}
	return p.encoder(v)()
}

func (p *Property) finishWrite() {
	p.mu.Lock()
	p.inFlight = false
	if p.next == nil {
		p.mu.Unlock()
		return
	}
	p.pending, p.next = p.next, nil
	p.queued = true
	p.mu.Unlock()
	p.owner.Submit(p, p.takePending, p.finishWrite)
}

// merge combines a pending write with a new one. Composite writes only
// overwrite their non-nil elements.
func (p *Property) merge(base, v any) any {
	if p.size == 0 {
		return v
	}
	in, _ := v.([]any)
	out, _ := base.([]any)
	if out == nil {
		out = make([]any, p.size)
	}
	for i := 0; i < p.size && i < len(in); i++ {
		if in[i] != nil {
			out[i] = in[i]
		}
	}
	return out
}

// fill completes a composite write from the cache. Must hold p.mu.
func (p *Property) fill(v any) any {
	list, _ := v.([]any)
	cur, _ := p.value.([]any)
	out := make([]any, p.size)
	for i := range out {
		switch {
		case i < len(list) && list[i] != nil:
			out[i] = list[i]
		case i < len(cur) && cur[i] != nil:
			out[i] = cur[i]
		default:
			return nil
		}
	}
	return out
}

// Update stores a value decoded from the device. It must only be called from
// the dispatch loop. Modify callbacks fire when the value changed, completion
// callbacks fire always. A nil value is an answer of unknown: the cache is
// cleared as by Clear and modify callbacks are skipped.
func (p *Property) Update(v any) {
	p.mu.Lock()
	old := p.value
	p.value = v
	p.mu.Unlock()

	if v != nil && !reflect.DeepEqual(old, v) {
		p.notifyModify(v)
	}
	for i, view := range p.views {
		view.Update(element(v, i))
	}
	for _, fn := range p.complete.snapshot() {
		fn(copyValue(v))
	}
}

// Clear forgets the cached value without firing callbacks.
func (p *Property) Clear() {
	p.mu.Lock()
	p.value = nil
	p.mu.Unlock()
	for _, view := range p.views {
		view.Clear()
	}
}

func (p *Property) notifyModify(v any) {
	fns := p.modify.snapshot()
	if len(fns) == 0 {
		return
	}
	val := copyValue(v)
	p.owner.Notify(func() {
		for _, fn := range fns {
			fn(val)
		}
	})
}

func (p *Property) AddModifyCallback(fn func(any)) (CallbackID, error) {
	if p.size > 0 {
		return CallbackID{}, fmt.Errorf("%s: %w", p.name, ErrCompositeCallback)
	}
	return p.modify.add(fn), nil
}

func (p *Property) RemoveModifyCallback(id CallbackID) error {
	if !p.modify.remove(id) {
		return fmt.Errorf("%s: %w", p.name, ErrNoCallback)
	}
	return nil
}

// OnComplete registers an internal completion callback, fired once per
// finished round trip regardless of whether the value changed.
func (p *Property) OnComplete(fn func(any)) CallbackID {
	return p.complete.add(fn)
}

func (p *Property) RemoveOnComplete(id CallbackID) {
	p.complete.remove(id)
}

func element(v any, i int) any {
	list, ok := v.([]any)
	if !ok || i >= len(list) {
		return nil
	}
	return list[i]
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []bool:
		return append([]bool(nil), t...)
	default:
		return v
	}
}
