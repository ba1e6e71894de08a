// Package kenwood drives transceivers speaking the Kenwood CAT protocol.
package kenwood

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roffe/gorig"
	"github.com/roffe/gorig/pkg/kenwoodsim"
	"github.com/roffe/gorig/pkg/property"
	"github.com/roffe/gorig/pkg/transport"
	"github.com/roffe/gorig/pkg/wire"
	"go.uber.org/zap"
)

// SimulatorPort selects the built-in simulated transceiver instead of a
// serial device.
const SimulatorPort = "sim://"

type handler func(ctx context.Context, fields string)

type Driver struct {
	cfg *gorig.Config
	log *zap.Logger
	reg *property.Registry
	tr  *transport.Transport

	model    string
	handlers atomic.Pointer[map[string]handler]
	// set command code per property, used to match echoed replies
	codes map[string]string

	mu      sync.Mutex
	queries map[string]bool

	powerOn atomic.Bool
	booting atomic.Bool
	ready   atomic.Bool
	// control receiver seen in the last DC reply, loop owned
	lastCtrl *bool

	notifier *notifier
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ property.Owner = (*Driver)(nil)
var _ gorig.Rig = (*Driver)(nil)

func init() {
	if err := gorig.RegisterRig(&gorig.RigInfo{
		Name:        "TS-2000",
		Description: "Kenwood TS-2000 / TS-B2000",
		ModelCodes:  modelCodes(),
		New:         New,
	}); err != nil {
		panic(err)
	}
}

// New opens cfg.Port, identifies the transceiver and fills the cache.
func New(ctx context.Context, cfg *gorig.Config) (gorig.Rig, error) {
	cfg = cfg.WithDefaults()
	var port transport.Port
	if strings.HasPrefix(cfg.Port, SimulatorPort) {
		port = kenwoodsim.New(kenwoodsim.WithLogger(cfg.Logger))
	} else {
		p, err := transport.OpenSerial(cfg.Port, cfg.PortBaudrate)
		if err != nil {
			return nil, err
		}
		port = p
	}
	return Open(ctx, port, cfg)
}

// Open runs the driver on an already opened port.
func Open(ctx context.Context, port transport.Port, cfg *gorig.Config) (*Driver, error) {
	cfg = cfg.WithDefaults()
	d := &Driver{
		cfg:     cfg,
		log:     cfg.Logger.Named("kenwood"),
		reg:     property.NewRegistry(),
		codes:   make(map[string]string),
		queries: make(map[string]bool),
	}
	d.notifier = newNotifier()
	d.tr = transport.New(port, d.dispatch, transport.Config{
		AckTimeout:   cfg.AckTimeout,
		WakeInterval: cfg.WakeInterval,
		MaxRetries:   cfg.MaxRetries,
		Logger:       cfg.Logger,
	})

	// only the identity reply is understood until the model is known
	t := newTable(d)
	t.define(def{name: "id", code: "ID", field: wire.Dec(3), always: true, ro: true})
	d.install(t)

	loopCtx, cancel := context.WithCancel(context.Background())
	d.ctx, d.cancel = loopCtx, cancel
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := d.tr.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			d.log.Error("transport stopped", zap.Error(err))
		}
	}()
	go func() {
		defer d.wg.Done()
		d.notifier.run()
	}()

	if err := d.start(ctx); err != nil {
		d.Terminate()
		return nil, err
	}
	return d, nil
}

func (d *Driver) start(ctx context.Context) error {
	build, err := d.identify(ctx)
	if err != nil {
		return err
	}
	t := newTable(d)
	build(t)
	d.install(t)

	on, _, err := gorig.ReadBool(ctx, d, "power")
	if err != nil {
		return err
	}
	d.powerOn.Store(on)
	d.tr.SetPoweredOff(!on)
	if err := d.bootstrap(ctx); err != nil {
		return err
	}
	return d.Write("auto_info", 2)
}

// Model is the identity code of the connected transceiver.
func (d *Driver) Model() string { return d.model }

func (d *Driver) install(t *table) {
	for _, p := range t.props {
		if err := d.reg.Register(p); err != nil {
			// the id property survives the model switch
			d.log.Debug("skipped property", zap.Error(err))
		}
	}
	handlers := t.handlers
	d.handlers.Store(&handlers)
}

// dispatch runs in the transport loop for every reply line.
func (d *Driver) dispatch(ctx context.Context, code, fields string) {
	handlers := *d.handlers.Load()
	if len(fields) > 0 {
		if h, ok := handlers[code+fields[:1]]; ok {
			h(ctx, fields[1:])
			return
		}
	}
	if h, ok := handlers[code]; ok {
		h(ctx, fields)
		return
	}
	d.log.Debug("ignored reply", zap.String("code", code), zap.String("fields", fields))
}

// lookup resolves a facade name. memory[7] and memory[007] are the same cell.
func (d *Driver) lookup(name string) (*property.Property, error) {
	if base, idx, ok := property.ParseIndexed(name); ok {
		switch base {
		case memoryBase:
			name = memoryName(idx)
		case menuBase:
			name = menuName(idx)
		}
	}
	p, err := d.reg.Lookup(name)
	if err != nil && gorig.IsRequired(name) {
		return nil, fmt.Errorf("%s: %w", name, gorig.ErrNotImplemented)
	}
	return p, err
}

func (d *Driver) Read(ctx context.Context, name string) (any, error) {
	p, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	return p.Read(ctx)
}

func (d *Driver) Write(name string, value any) error {
	p, err := d.lookup(name)
	if err != nil {
		return err
	}
	return p.Write(value)
}

func (d *Driver) AddModifyCallback(name string, fn gorig.ModifyFunc) (gorig.CallbackID, error) {
	p, err := d.lookup(name)
	if err != nil {
		return gorig.CallbackID{}, err
	}
	return p.AddModifyCallback(fn)
}

func (d *Driver) RemoveModifyCallback(name string, id gorig.CallbackID) error {
	p, err := d.lookup(name)
	if err != nil {
		return err
	}
	return p.RemoveModifyCallback(id)
}

// Names lists every property, composite views and memory cells included.
func (d *Driver) Names() []string { return d.reg.Names() }

func (d *Driver) Stats() transport.Stats { return d.tr.Stats() }

func (d *Driver) State() transport.State { return d.tr.State() }

// Terminate turns auto-information off, stops the loop and releases every
// blocked reader. The returned error is the fatal error that ended the
// connection, if any.
func (d *Driver) Terminate() error {
	d.stopOnce.Do(func() {
		d.tr.Stop("AI0;")
		d.cancel()
		d.notifier.close()
		d.wg.Wait()
	})
	return d.tr.Err()
}

// Cached implements property.Cache.
func (d *Driver) Cached(name string) (any, bool) { return d.reg.Cached(name) }

func (d *Driver) Property(name string) *property.Property { return d.reg.Get(name) }

// Query enqueues the plain query of p unless the same command is already
// waiting in the queue.
func (d *Driver) Query(p *property.Property) {
	d.enqueueQuery(p, nil)
}

func (d *Driver) enqueueQuery(p *property.Property, done func(acked bool)) {
	cmd := p.QueryCommand()
	if cmd == "" {
		if done != nil {
			done(false)
		}
		return
	}
	d.mu.Lock()
	if d.queries[cmd] && done == nil {
		d.mu.Unlock()
		return
	}
	d.queries[cmd] = true
	d.mu.Unlock()

	err := d.tr.Enqueue(&transport.Request{
		Name: p.Name(),
		Encode: func() (string, bool) {
			d.mu.Lock()
			delete(d.queries, cmd)
			d.mu.Unlock()
			return cmd, true
		},
		Expect: cmd[:2],
		Done:   done,
	})
	if err != nil && done != nil {
		done(false)
	}
}

// Submit enqueues a set. Non-echoing properties get their query appended so
// the cache is refreshed in the same round trip.
func (d *Driver) Submit(p *property.Property, encode func() (string, bool), done func()) {
	r := &transport.Request{
		Name:   p.Name(),
		Encode: encode,
		Done: func(bool) {
			if done != nil {
				done()
			}
		},
	}
	switch q := p.QueryCommand(); {
	case p.Echoes():
		r.Expect = d.codes[p.Name()]
	case q != "":
		r.Followup = q
		r.Expect = q[:2]
	}
	if err := d.tr.Enqueue(r); err != nil {
		d.log.Debug("dropped set", zap.String("property", p.Name()), zap.Error(err))
		if done != nil {
			done()
		}
	}
}

// send enqueues a raw command that has no property of its own.
func (d *Driver) send(cmd string, followup string) {
	r := &transport.Request{
		Name:     cmd,
		Encode:   func() (string, bool) { return cmd, true },
		Followup: followup,
	}
	if followup != "" {
		r.Expect = followup[:2]
	}
	if err := d.tr.Enqueue(r); err != nil {
		d.log.Debug("dropped command", zap.String("command", cmd), zap.Error(err))
	}
}

func (d *Driver) PowerOn() bool { return d.powerOn.Load() }

func (d *Driver) Notify(fn func()) { d.notifier.push(fn) }

func (d *Driver) Done() <-chan struct{} { return d.tr.Done() }

func (d *Driver) Err() error { return d.tr.Err() }

func (d *Driver) Fail(err error) {
	d.log.Error("connection failed", zap.Error(err))
	d.tr.Fail(err)
}

func (d *Driver) ReadTimeout() time.Duration { return d.cfg.ReadTimeout }

func (d *Driver) Logger() *zap.Logger { return d.log }

// set stores a derived value. nil clears without notifying.
func (d *Driver) set(name string, v any) {
	p := d.reg.Get(name)
	if p == nil {
		return
	}
	if v == nil {
		p.Clear()
		return
	}
	p.Update(v)
}

func (d *Driver) cachedInt(name string) (int, bool) {
	v, ok := d.reg.Cached(name)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (d *Driver) cachedBool(name string) (bool, bool) {
	n, ok := d.cachedInt(name)
	return n != 0, ok
}
