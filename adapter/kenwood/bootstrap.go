package kenwood

import (
	"context"
	"sync"

	"github.com/roffe/gorig/pkg/property"
	"go.uber.org/zap"
)

// bootstrap fills the cache. Plain queries are chained one at a time, each
// answer issuing the next; properties with a validity predicate go last
// since their precondition depends on earlier answers. Method based queries
// run afterwards on the calling goroutine.
func (d *Driver) bootstrap(ctx context.Context) error {
	if !d.booting.CompareAndSwap(false, true) {
		return nil
	}
	defer d.booting.Store(false)

	list := d.bootList()
	methods := d.methodQueries()
	run := &bootRun{
		d:     d,
		list:  list,
		total: len(list) + len(methods),
		done:  make(chan struct{}),
	}
	d.log.Debug("filling cache", zap.Int("queries", len(list)), zap.Int("methods", len(methods)))
	run.next()

	select {
	case <-run.done:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.Done():
		return d.closedErr()
	}

	for _, p := range methods {
		if _, ok := p.Cached(); !ok && p.Valid() {
			if _, err := p.Read(ctx); err != nil {
				return err
			}
		}
		run.progress()
	}
	d.ready.Store(true)
	d.log.Debug("cache filled", zap.Int("answered", run.answered))
	return nil
}

// bootList returns one property per distinct query command.
func (d *Driver) bootList() []*property.Property {
	seen := make(map[string]bool)
	var front, back []*property.Property
	d.reg.Each(func(p *property.Property) {
		cmd := p.QueryCommand()
		if cmd == "" || p.Parent() != nil || p.Lazy() || seen[cmd] {
			return
		}
		seen[cmd] = true
		if p.HasValidity() {
			back = append(back, p)
			return
		}
		front = append(front, p)
	})
	return append(front, back...)
}

func (d *Driver) methodQueries() []*property.Property {
	var out []*property.Property
	d.reg.Each(func(p *property.Property) {
		if p.HasQueryFunc() && p.Parent() == nil && !p.Lazy() {
			out = append(out, p)
		}
	})
	return out
}

type bootRun struct {
	d        *Driver
	list     []*property.Property
	i        int
	total    int
	count    int
	answered int
	done     chan struct{}
}

func (b *bootRun) progress() {
	b.count++
	b.d.cfg.OnProgress(b.count, b.total)
}

// next issues the next query. It is called by the bootstrapping goroutine
// once and then from completion callbacks in the dispatch loop, so exactly
// one bootstrap query is in flight.
func (b *bootRun) next() {
	for b.i < len(b.list) {
		p := b.list[b.i]
		b.i++
		if !p.Valid() {
			b.progress()
			continue
		}
		var once sync.Once
		var id property.CallbackID
		advance := func(answered bool) {
			once.Do(func() {
				p.RemoveOnComplete(id)
				if answered {
					b.answered++
				}
				b.progress()
				b.next()
			})
		}
		id = p.OnComplete(func(any) { advance(true) })
		// a reply the handler could not store still completes the request
		b.d.enqueueQuery(p, func(bool) { advance(false) })
		return
	}
	close(b.done)
}
