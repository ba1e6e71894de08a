package property

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type submission struct {
	p      *Property
	encode func() (string, bool)
	done   func()
}

type fakeOwner struct {
	reg     *Registry
	timeout time.Duration
	power   bool
	done    chan struct{}
	err     error
	failed  error
	onQuery func(p *Property)

	mu      sync.Mutex
	queries []string
	submits []submission
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{
		reg:     NewRegistry(),
		timeout: time.Second,
		power:   true,
		done:    make(chan struct{}),
	}
}

func (o *fakeOwner) Cached(name string) (any, bool) { return o.reg.Cached(name) }
func (o *fakeOwner) Property(name string) *Property { return o.reg.Get(name) }
func (o *fakeOwner) PowerOn() bool                  { return o.power }
func (o *fakeOwner) Notify(fn func())               { fn() }
func (o *fakeOwner) Done() <-chan struct{}          { return o.done }
func (o *fakeOwner) Err() error                     { return o.err }
func (o *fakeOwner) ReadTimeout() time.Duration     { return o.timeout }
func (o *fakeOwner) Logger() *zap.Logger            { return zap.NewNop() }

func (o *fakeOwner) Fail(err error) {
	o.mu.Lock()
	o.failed = err
	o.mu.Unlock()
}

func (o *fakeOwner) Query(p *Property) {
	o.mu.Lock()
	o.queries = append(o.queries, p.QueryCommand())
	o.mu.Unlock()
	if o.onQuery != nil {
		o.onQuery(p)
	}
}

func (o *fakeOwner) Submit(p *Property, encode func() (string, bool), done func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submits = append(o.submits, submission{p, encode, done})
}

func (o *fakeOwner) queryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queries)
}

func (o *fakeOwner) submitted() []submission {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]submission(nil), o.submits...)
}

func decFormat(code string) Option {
	return Format(func(v any) (string, error) {
		return fmt.Sprintf("%s%03d;", code, v), nil
	})
}

func TestWriteOutOfRangeIsDropped(t *testing.T) {
	o := newFakeOwner()
	p := New("mic_gain", o, Query("MG;"), decFormat("MG"), Range(func(v any) bool {
		n, ok := v.(int)
		return ok && n >= 0 && n <= 100
	}))
	p.Update(50)

	tests := []any{101, -1, "loud"}
	for _, v := range tests {
		t.Run(fmt.Sprint(v), func(t *testing.T) {
			if err := p.Write(v); err != nil {
				t.Fatalf("Write(%v) error = %v, want nil", v, err)
			}
			if n := len(o.submitted()); n != 0 {
				t.Errorf("got %d submitted requests, want 0", n)
			}
			if got, _ := p.Cached(); got != 50 {
				t.Errorf("cache = %v, want 50", got)
			}
		})
	}
}

func TestWriteReadOnly(t *testing.T) {
	o := newFakeOwner()
	p := New("s_meter", o, Query("SM0;"), ReadOnly())
	if err := p.Write(1); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write() error = %v, want ErrReadOnly", err)
	}
}

func TestReadUnknownDependency(t *testing.T) {
	o := newFakeOwner()
	dep := New("derived", o)
	p := New("needs_derived", o, Query("XX;"), Deps("derived"))
	o.reg.MustRegister(dep, p)

	v, err := p.Read(context.Background())
	if err != nil || v != nil {
		t.Fatalf("Read() = %v, %v want nil, nil", v, err)
	}
	if n := o.queryCount(); n != 0 {
		t.Errorf("issued %d queries, want 0", n)
	}
}

func TestReadQueriesDependencyFirst(t *testing.T) {
	o := newFakeOwner()
	dep := New("mode", o, Query("MD;"))
	p := New("filter", o, Query("FW;"), Deps("mode"), Validity(func(c Cache) bool {
		m, ok := c.Cached("mode")
		return ok && m == 4
	}))
	o.reg.MustRegister(dep, p)
	o.onQuery = func(q *Property) {
		go func() {
			switch q.Name() {
			case "mode":
				q.Update(4)
			case "filter":
				q.Update(12)
			}
		}()
	}
	v, err := p.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 12 {
		t.Errorf("Read() = %v, want 12", v)
	}
	if n := o.queryCount(); n != 2 {
		t.Errorf("issued %d queries, want 2", n)
	}
}

func TestReadValidityFailsClearsCache(t *testing.T) {
	o := newFakeOwner()
	mode := New("mode", o, Query("MD;"))
	p := New("tone", o, Query("TO;"), Deps("mode"), Validity(func(c Cache) bool {
		m, _ := c.Cached("mode")
		return m == 4
	}))
	o.reg.MustRegister(mode, p)
	mode.Update(2)
	p.Update(1)

	v, err := p.Read(context.Background())
	if err != nil || v != nil {
		t.Fatalf("Read() = %v, %v want nil, nil", v, err)
	}
	if _, ok := p.Cached(); ok {
		t.Error("cache not cleared")
	}
}

func TestReadPowerOff(t *testing.T) {
	o := newFakeOwner()
	o.power = false
	p := New("vfoa", o, Query("FA;"), RequiresPower())
	v, err := p.Read(context.Background())
	if err != nil || v != nil {
		t.Fatalf("Read() = %v, %v want nil, nil", v, err)
	}
	if o.queryCount() != 0 {
		t.Error("query issued while powered off")
	}
}

func TestReadBlocksUntilComplete(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"))
	o.onQuery = func(q *Property) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			q.Update(14074000)
		}()
	}
	v, err := p.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 14074000 {
		t.Errorf("Read() = %v, want 14074000", v)
	}
	// second read is served from cache
	if _, err := p.Read(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := o.queryCount(); n != 1 {
		t.Errorf("issued %d queries, want 1", n)
	}
}

func TestReadTimeout(t *testing.T) {
	o := newFakeOwner()
	o.timeout = 20 * time.Millisecond
	p := New("vfoa", o, Query("FA;"))
	_, err := p.Read(context.Background())
	var nr *NoReplyError
	if !errors.As(err, &nr) {
		t.Fatalf("Read() error = %v, want NoReplyError", err)
	}
	if nr.Name != "vfoa" {
		t.Errorf("NoReplyError.Name = %q", nr.Name)
	}
	if o.failed != err {
		t.Errorf("owner failed with %v, want %v", o.failed, err)
	}
}

func TestReadOwnerClosed(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"))
	close(o.done)
	if _, err := p.Read(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Read() error = %v, want ErrClosed", err)
	}
}

func TestReadInLoopFailsFast(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"))
	start := time.Now()
	_, err := p.Read(LoopContext(context.Background()))
	if !errors.Is(err, ErrReadInLoop) {
		t.Fatalf("Read() error = %v, want ErrReadInLoop", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("read from loop blocked")
	}
	if o.queryCount() != 0 {
		t.Error("read from loop issued a query")
	}
}

func TestCoalescingWhileQueued(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"), decFormat("FA"), Coalesce())
	if err := p.Write(1); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(2); err != nil {
		t.Fatal(err)
	}
	subs := o.submitted()
	if len(subs) != 1 {
		t.Fatalf("got %d requests, want 1", len(subs))
	}
	cmd, ok := subs[0].encode()
	if !ok || cmd != "FA002;" {
		t.Errorf("encode() = %q, %v want FA002;", cmd, ok)
	}
}

func TestCoalescingWhileInFlight(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"), decFormat("FA"), Coalesce())
	p.Write(1)
	first := o.submitted()[0]
	if cmd, _ := first.encode(); cmd != "FA001;" {
		t.Fatalf("first command = %q", cmd)
	}
	p.Write(2)
	p.Write(3)
	if n := len(o.submitted()); n != 1 {
		t.Fatalf("writes during flight queued %d requests, want 1", n)
	}
	first.done()
	subs := o.submitted()
	if len(subs) != 2 {
		t.Fatalf("got %d requests after completion, want 2", len(subs))
	}
	if cmd, _ := subs[1].encode(); cmd != "FA003;" {
		t.Errorf("buffered command = %q, want FA003;", cmd)
	}
	subs[1].done()
	if n := len(o.submitted()); n != 2 {
		t.Errorf("got %d requests, want 2", n)
	}
}

func TestNonCoalescingQueuesEachWrite(t *testing.T) {
	o := newFakeOwner()
	p := New("keyer_speed", o, Query("KS;"), decFormat("KS"))
	p.Write(20)
	p.Write(25)
	subs := o.submitted()
	if len(subs) != 2 {
		t.Fatalf("got %d requests, want 2", len(subs))
	}
	if cmd, _ := subs[0].encode(); cmd != "KS020;" {
		t.Errorf("first = %q", cmd)
	}
	if cmd, _ := subs[1].encode(); cmd != "KS025;" {
		t.Errorf("second = %q", cmd)
	}
}

func tunerFormat() Option {
	return Format(func(v any) (string, error) {
		l := v.([]any)
		return fmt.Sprintf("AC%d%d%d;", l[0], l[1], l[2]), nil
	})
}

func TestCompositeViewMerge(t *testing.T) {
	o := newFakeOwner()
	c := NewComposite("tuner", o, 3, Query("AC;"), tunerFormat())
	o.reg.MustRegister(c)
	c.Update([]any{1, 1, 0})

	if err := c.View(2).Write(1); err != nil {
		t.Fatal(err)
	}
	subs := o.submitted()
	if len(subs) != 1 {
		t.Fatalf("got %d requests, want 1", len(subs))
	}
	if cmd, ok := subs[0].encode(); !ok || cmd != "AC111;" {
		t.Errorf("encode() = %q, %v want AC111;", cmd, ok)
	}
}

func TestCompositeViewsCoalesce(t *testing.T) {
	o := newFakeOwner()
	c := NewComposite("tuner", o, 3, Query("AC;"), tunerFormat())
	o.reg.MustRegister(c)
	c.Update([]any{0, 0, 0})

	c.View(0).Write(1)
	c.View(1).Write(1)
	subs := o.submitted()
	if len(subs) != 1 {
		t.Fatalf("got %d requests, want 1", len(subs))
	}
	if cmd, _ := subs[0].encode(); cmd != "AC110;" {
		t.Errorf("encode() = %q, want AC110;", cmd)
	}
}

func TestCompositeUnknownQueriesFirst(t *testing.T) {
	o := newFakeOwner()
	c := NewComposite("tuner", o, 3, Query("AC;"), tunerFormat())
	o.reg.MustRegister(c)
	c.View(1).Write(1)
	if o.queryCount() != 1 {
		t.Fatalf("want a query before the set")
	}
	subs := o.submitted()
	// still unknown when dequeued: the write is dropped
	if _, ok := subs[0].encode(); ok {
		t.Error("encode() succeeded with unknown elements")
	}
}

func TestCompositeViewRead(t *testing.T) {
	o := newFakeOwner()
	c := NewComposite("dual", o, 2, Query("DC;"))
	o.reg.MustRegister(c)
	c.Update([]any{0, 1})

	v, err := o.reg.Get("dual[1]").Read(context.Background())
	if err != nil || v != 1 {
		t.Errorf("Read() = %v, %v want 1", v, err)
	}
	if got, ok := o.reg.Cached("dual[0]"); !ok || got != 0 {
		t.Errorf("Cached() = %v, %v", got, ok)
	}
}

func TestModifyAndCompletionCallbacks(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"))
	var modified, completed []any
	if _, err := p.AddModifyCallback(func(v any) { modified = append(modified, v) }); err != nil {
		t.Fatal(err)
	}
	p.OnComplete(func(v any) { completed = append(completed, v) })

	p.Update(7000000)
	p.Update(7000000)
	p.Update(7001000)

	if want := []any{7000000, 7001000}; !reflect.DeepEqual(modified, want) {
		t.Errorf("modify callbacks = %v, want %v", modified, want)
	}
	if len(completed) != 3 {
		t.Errorf("completion callbacks = %d, want 3", len(completed))
	}
}

func TestClearDoesNotNotify(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"))
	p.Update(1)
	calls := 0
	p.AddModifyCallback(func(any) { calls++ })
	p.Clear()
	if calls != 0 {
		t.Errorf("Clear fired %d callbacks", calls)
	}
	p.Update(1)
	if calls != 1 {
		t.Errorf("update after clear fired %d callbacks, want 1", calls)
	}
}

func TestUpdateUnknownCompletes(t *testing.T) {
	o := newFakeOwner()
	p := New("rf_gain", o, Query("RG;"))
	p.Update(100)
	modified, completed := 0, 0
	p.AddModifyCallback(func(any) { modified++ })
	p.OnComplete(func(any) { completed++ })
	p.Update(nil)
	if _, ok := p.Cached(); ok {
		t.Error("value still cached after unknown answer")
	}
	if modified != 0 || completed != 1 {
		t.Errorf("modify = %d completion = %d, want 0 and 1", modified, completed)
	}
}

func TestReadAnsweredUnknown(t *testing.T) {
	o := newFakeOwner()
	p := New("rf_gain", o, Query("RG;"))
	o.onQuery = func(q *Property) {
		go q.Update(nil)
	}
	start := time.Now()
	v, err := p.Read(context.Background())
	if err != nil || v != nil {
		t.Fatalf("Read() = %v, %v want nil, nil", v, err)
	}
	if time.Since(start) >= o.timeout {
		t.Error("Read() waited for the timeout")
	}
}

func TestViewCallbacksFireOnElementChange(t *testing.T) {
	o := newFakeOwner()
	c := NewComposite("tuner", o, 3, Query("AC;"))
	var got []any
	if _, err := c.AddModifyCallback(func(any) {}); !errors.Is(err, ErrCompositeCallback) {
		t.Fatalf("AddModifyCallback on composite error = %v", err)
	}
	c.View(1).AddModifyCallback(func(v any) { got = append(got, v) })
	c.Update([]any{0, 1, 0})
	c.Update([]any{1, 1, 0})
	c.Update([]any{1, 0, 0})
	if want := []any{1, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("view callbacks = %v, want %v", got, want)
	}
}

func TestRemoveModifyCallback(t *testing.T) {
	o := newFakeOwner()
	p := New("vfoa", o, Query("FA;"))
	calls := 0
	id, _ := p.AddModifyCallback(func(any) { calls++ })
	p.AddModifyCallback(func(any) {})
	if err := p.RemoveModifyCallback(id); err != nil {
		t.Fatal(err)
	}
	if err := p.RemoveModifyCallback(id); !errors.Is(err, ErrNoCallback) {
		t.Errorf("second remove error = %v", err)
	}
	p.Update(1)
	if calls != 0 {
		t.Errorf("removed callback fired %d times", calls)
	}
}

func TestCachedReturnsCopy(t *testing.T) {
	o := newFakeOwner()
	c := NewComposite("pl", o, 2, Query("PL;"))
	c.Update([]any{10, 20})
	v, _ := c.Cached()
	v.([]any)[0] = 99
	again, _ := c.Cached()
	if again.([]any)[0] != 10 {
		t.Error("Cached() leaked internal slice")
	}
}
