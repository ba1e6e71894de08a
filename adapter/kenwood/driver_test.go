package kenwood

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/roffe/gorig"
	"github.com/roffe/gorig/pkg/kenwoodsim"
	"github.com/roffe/gorig/pkg/property"
)

func open(t *testing.T, opts ...kenwoodsim.Option) (*Driver, *kenwoodsim.Sim) {
	t.Helper()
	sim := kenwoodsim.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d, err := Open(ctx, sim, &gorig.Config{
		ReadTimeout: 2 * time.Second,
		AckTimeout:  200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Terminate() })
	waitFor(t, "auto information", cachedIs(d, "auto_info", 2))
	return d, sim
}

func waitFor(t *testing.T, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func cachedIs(d *Driver, name string, want any) func() bool {
	return func() bool {
		v, ok := d.Cached(name)
		return ok && v == want
	}
}

func read(t *testing.T, d *Driver, name string) any {
	t.Helper()
	v, err := d.Read(context.Background(), name)
	if err != nil {
		t.Fatalf("Read(%s) error = %v", name, err)
	}
	return v
}

func TestApplyOffset(t *testing.T) {
	tests := []struct {
		name   string
		f      int
		typ    int
		offset int
		want   int
	}{
		{"none", 145500000, OffsetNone, 600000, 145500000},
		{"positive", 14074000, OffsetPositive, 9000000, 23074000},
		{"negative", 145600000, OffsetNegative, 600000, 145000000},
		{"euro 70cm", 438900000, OffsetEuro, 0, 431300000},
		{"euro 23cm", 1298000000, OffsetEuro, 0, 1292000000},
		{"euro outside", 145600000, OffsetEuro, 600000, 145600000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applyOffset(tt.f, tt.typ, tt.offset); got != tt.want {
				t.Errorf("applyOffset() = %d, want %d", got, tt.want)
			}
		})
	}
	if got := applyShift(14074000, true, -150); got != 14073850 {
		t.Errorf("applyShift() = %d", got)
	}
	if got := applyShift(14074000, false, -150); got != 14074000 {
		t.Errorf("applyShift() disabled = %d", got)
	}
}

func TestFrequencyNetwork(t *testing.T) {
	d, _ := open(t,
		kenwoodsim.WithState("MD0", "4"),
		kenwoodsim.WithState("OS", "1"),
		kenwoodsim.WithState("OF", "009000000"),
		kenwoodsim.WithState("RT", "1"),
		kenwoodsim.WithShift(150),
	)
	tests := map[string]int{
		"main_rx_set_frequency":    14074000,
		"main_tx_set_frequency":    14074000,
		"main_tx_offset_frequency": 23074000,
		"main_rx_frequency":        14074150,
		"main_tx_frequency":        23074000,
		"rx_frequency":             14074150,
		"tx_frequency":             23074000,
	}
	for name, want := range tests {
		if got := read(t, d, name); got != want {
			t.Errorf("%s = %v, want %d", name, got, want)
		}
	}

	// XIT shares the shift register
	d.Write("xit", true)
	waitFor(t, "xit", cachedIs(d, "tx_frequency", 23074150))

	// split disables the repeater offset
	d.Write("split", true)
	waitFor(t, "split", cachedIs(d, "split", true))
	waitFor(t, "offset dropped", cachedIs(d, "main_tx_offset_frequency", 7074000))
}

func TestBootstrapCompleteness(t *testing.T) {
	d, sim := open(t)

	want := make(map[string]bool)
	d.reg.Each(func(p *property.Property) {
		if p.QueryCommand() == "" || p.Parent() != nil || p.Lazy() || !p.Valid() {
			return
		}
		if _, ok := p.Cached(); !ok {
			t.Errorf("%s not cached after bootstrap", p.Name())
		}
		want[p.QueryCommand()] = true
	})

	got := sim.Queries()
	var wantList []string
	for c := range want {
		wantList = append(wantList, c)
	}
	sort.Strings(wantList)
	if len(got) != len(wantList) {
		t.Fatalf("distinct queries = %d, want %d\ngot:  %v\nwant: %v", len(got), len(wantList), got, wantList)
	}
	for i := range got {
		if got[i] != wantList[i] {
			t.Errorf("query %d = %s, want %s", i, got[i], wantList[i])
		}
	}
	for _, name := range []string{"high_cut", "filter_width", "keyer_speed", "noise_reduction_level"} {
		p := d.reg.Get(name)
		if _, ok := p.Cached(); ok != p.Valid() {
			t.Errorf("%s cached = %v, valid = %v", name, ok, p.Valid())
		}
	}
}

func TestHiddenReceiverPath(t *testing.T) {
	d, sim := open(t)
	if got := read(t, d, "main_mode"); got != ModeUSB {
		t.Errorf("main_mode = %v", got)
	}
	if got := read(t, d, "sub_mode"); got != ModeFM {
		t.Errorf("sub_mode = %v", got)
	}
	if got := read(t, d, "sub_rx_frequency"); got != 145500000 {
		t.Errorf("sub_rx_frequency = %v", got)
	}
	if sim.Get("DC") != "00" {
		t.Errorf("DC not restored: %q", sim.Get("DC"))
	}
	var perturbed, restored bool
	for _, c := range sim.Commands() {
		switch c {
		case "DC11;":
			perturbed = true
		case "DC00;":
			restored = perturbed
		}
	}
	if !perturbed || !restored {
		t.Errorf("commands = %v", sim.Commands())
	}
	if got := read(t, d, "rx_mode"); got != ModeUSB {
		t.Errorf("rx_mode = %v", got)
	}
}

func TestUnsupportedModel(t *testing.T) {
	sim := kenwoodsim.New(kenwoodsim.WithModel("999"))
	_, err := Open(context.Background(), sim, &gorig.Config{AckTimeout: 100 * time.Millisecond})
	if !errors.Is(err, gorig.ErrUnsupportedModel) {
		t.Fatalf("Open() error = %v", err)
	}
	if gorig.IsRecoverable(err) {
		t.Error("unsupported model reported as recoverable")
	}
}

func TestModelOfAnotherDriver(t *testing.T) {
	// a registration from an earlier run of this test is fine
	gorig.RegisterRig(&gorig.RigInfo{
		Name:       "TS-990",
		ModelCodes: []string{"024"},
		New: func(context.Context, *gorig.Config) (gorig.Rig, error) {
			return nil, errors.New("not here")
		},
	})
	sim := kenwoodsim.New(kenwoodsim.WithModel("024"))
	_, err := Open(context.Background(), sim, &gorig.Config{AckTimeout: 100 * time.Millisecond})
	if !errors.Is(err, gorig.ErrUnsupportedModel) {
		t.Fatalf("Open() error = %v", err)
	}
	if !strings.Contains(err.Error(), "TS-990") {
		t.Errorf("Open() error = %v, want the registered driver named", err)
	}
	if gorig.IsRecoverable(err) {
		t.Error("foreign model reported as recoverable")
	}
}

func TestFacadeErrors(t *testing.T) {
	d, _ := open(t)
	for _, name := range gorig.RequiredProperties {
		if v := read(t, d, name); v == nil {
			t.Errorf("%s is unknown", name)
		}
	}
	if _, err := d.Read(context.Background(), "nope"); !errors.Is(err, gorig.ErrUnknownProperty) {
		t.Errorf("Read(nope) error = %v", err)
	}
	if _, err := d.AddModifyCallback("dual", func(any) {}); !errors.Is(err, gorig.ErrCompositeCallback) {
		t.Errorf("AddModifyCallback(dual) error = %v", err)
	}
	if _, err := d.AddModifyCallback("dual[1]", func(any) {}); err != nil {
		t.Errorf("AddModifyCallback(dual[1]) error = %v", err)
	}
	if err := d.Write("s_meter", 5); !errors.Is(err, gorig.ErrReadOnly) {
		t.Errorf("Write(s_meter) error = %v", err)
	}
}

func TestWriteNotifies(t *testing.T) {
	d, sim := open(t)
	got := make(chan any, 4)
	id, err := d.AddModifyCallback("vfoa", func(v any) { got <- v })
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Write("vfoa", 7000000); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-got:
		if v != 7000000 {
			t.Errorf("callback value = %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("modify callback never fired")
	}
	if sim.Get("FA") != "00007000000" {
		t.Errorf("FA = %q", sim.Get("FA"))
	}
	waitFor(t, "rx_frequency", cachedIs(d, "rx_frequency", 7000000))
	if err := d.RemoveModifyCallback("vfoa", id); err != nil {
		t.Error(err)
	}
}

func TestOutOfRangeWrite(t *testing.T) {
	d, sim := open(t)
	before := len(sim.Commands())
	for name, v := range map[string]any{"output_power": 500, "vfoa": 5, "tuner[0]": 3, "control_mode": 8} {
		if err := d.Write(name, v); err != nil {
			t.Errorf("Write(%s) error = %v", name, err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if after := len(sim.Commands()); after != before {
		t.Errorf("out of range writes sent %v", sim.Commands()[before:])
	}
	if v, _ := d.Cached("output_power"); v != 100 {
		t.Errorf("output_power = %v", v)
	}
}

func TestCompositeViewWrite(t *testing.T) {
	d, sim := open(t)
	if err := d.Write("tuner[2]", true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "tuner", func() bool { return sim.Get("AC") == "001" })
	waitFor(t, "view", cachedIs(d, "tuner[2]", true))
}

func TestRetryOnErrorReply(t *testing.T) {
	d, sim := open(t)
	sim.FailNext(3, "E")
	v := read(t, d, "memory[1]")
	m, ok := v.(MemoryChannel)
	if !ok || m.Frequency != 14074000 || m.Name != "FT8 20" {
		t.Fatalf("memory[1] = %#v", v)
	}
	if r := d.tr.Retries(); r != 3 {
		t.Errorf("Retries() = %d, want 3", r)
	}
}

func TestMemoryWrite(t *testing.T) {
	d, sim := open(t)
	if v := read(t, d, "memory[005]"); v.(MemoryChannel).Empty() != true {
		t.Fatalf("memory[005] = %v", v)
	}
	done := make(chan any, 1)
	d.AddModifyCallback("memory[5]", func(v any) { done <- v })
	m := MemoryChannel{Frequency: 433500000, Mode: ModeFM, Name: "LOCAL"}
	if err := d.Write("memory[5]", m); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-done:
		if v.(MemoryChannel) != m {
			t.Errorf("memory[5] = %#v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("memory write never confirmed")
	}
	if rec, ok := sim.Memory(5); !ok || rec[:11] != "00433500000" {
		t.Errorf("stored record = %q", rec)
	}
}

func TestMenuItem(t *testing.T) {
	d, sim := open(t)
	if v := read(t, d, "menu_item[12]"); v != "0" {
		t.Fatalf("menu_item[12] = %v", v)
	}
	if err := d.Write("menu_item[12]", "bad;value"); err != nil {
		t.Fatal(err)
	}
	if err := d.Write("menu_item[012]", "1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "menu write", cachedIs(d, "menu_item[012]", "1"))
	if got := sim.Get("EX0120000"); got != "1" {
		t.Errorf("simulator menu 012 = %q", got)
	}
	for _, c := range sim.Commands() {
		if strings.Contains(c, "bad") {
			t.Errorf("out of range menu value sent: %q", c)
		}
	}
	if _, err := d.Read(context.Background(), "menu_item[63]"); !errors.Is(err, gorig.ErrUnknownProperty) {
		t.Errorf("Read(menu_item[63]) error = %v", err)
	}
}

func TestAddedCommands(t *testing.T) {
	d, _ := open(t)
	tests := []struct {
		name string
		want any
	}{
		{"asc", true},
		{"sub_asc", false},
		{"sub_transceiver", true},
		{"auto_notch_level", 0},
		{"memory_groups[9]", true},
		{"quick_memory[1]", 0},
		{"tnc_leds[0]", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := read(t, d, tt.name); v != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, v, tt.want)
			}
		})
	}
	if err := d.Write("asc", false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "asc off", cachedIs(d, "asc", false))
}

func TestShiftWrite(t *testing.T) {
	d, sim := open(t)
	d.Write("shift", -300)
	waitFor(t, "shift", cachedIs(d, "shift", -300))
	if sim.Shift() != -300 {
		t.Errorf("sim shift = %d", sim.Shift())
	}
}

func TestPowerCycle(t *testing.T) {
	d, sim := open(t)
	if err := d.Write("power", false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "power off", func() bool { return !d.PowerOn() })
	if sim.Powered() {
		t.Error("simulator still powered")
	}
	if v := read(t, d, "vfoa"); v != nil {
		t.Errorf("vfoa with power off = %v", v)
	}
	if err := d.Write("power", true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "refill", cachedIs(d, "vfoa", 14074000))
	waitFor(t, "derived refill", cachedIs(d, "rx_frequency", 14074000))
}

func TestFrontPanelChange(t *testing.T) {
	d, sim := open(t)
	got := make(chan any, 1)
	d.AddModifyCallback("rx_frequency", func(v any) { got <- v })
	sim.Turn("FA", "00010136000")
	select {
	case v := <-got:
		if v != 10136000 {
			t.Errorf("rx_frequency = %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auto-information not applied")
	}
}

func TestTerminate(t *testing.T) {
	sim := kenwoodsim.New()
	d, err := Open(context.Background(), sim, &gorig.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Terminate(); err != nil {
		t.Errorf("Terminate() error = %v", err)
	}
	cmds := sim.Commands()
	if last := cmds[len(cmds)-1]; last != "AI0;" {
		t.Errorf("last command = %q", last)
	}
	if _, err := d.Read(context.Background(), "memory[9]"); !errors.Is(err, property.ErrClosed) {
		t.Errorf("Read() after Terminate error = %v", err)
	}
}

func TestBlankFieldIsUnknown(t *testing.T) {
	start := time.Now()
	d, sim := open(t, kenwoodsim.WithState("RG", "   "))
	if time.Since(start) > 5*time.Second {
		t.Errorf("Open() took %v", time.Since(start))
	}
	if v, ok := d.Cached("rf_gain"); ok {
		t.Errorf("rf_gain cached as %v, want unknown", v)
	}

	start = time.Now()
	v, err := d.Read(context.Background(), "rf_gain")
	if err != nil || v != nil {
		t.Fatalf("Read(rf_gain) = %v, %v want nil, nil", v, err)
	}
	if time.Since(start) >= d.ReadTimeout() {
		t.Error("Read(rf_gain) waited for the timeout")
	}

	sim.Turn("RG", "120")
	waitFor(t, "rf_gain", cachedIs(d, "rf_gain", 120))
	modified := make(chan any, 1)
	if _, err := d.AddModifyCallback("rf_gain", func(v any) { modified <- v }); err != nil {
		t.Fatal(err)
	}
	sim.Turn("RG", "   ")
	waitFor(t, "rf_gain cleared", func() bool {
		_, ok := d.Cached("rf_gain")
		return !ok
	})
	select {
	case v := <-modified:
		t.Errorf("modify callback fired with %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueryTimeoutIsFatal(t *testing.T) {
	d, sim := open(t)
	sim.Silence("MR")
	_, err := d.Read(context.Background(), "memory[7]")
	var nr *property.NoReplyError
	if !errors.As(err, &nr) {
		t.Fatalf("Read(memory[7]) error = %v, want NoReplyError", err)
	}
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection still up after a query timeout")
	}
	if !errors.As(d.Err(), &nr) {
		t.Errorf("Err() = %v, want NoReplyError", d.Err())
	}
	if _, err := d.Read(context.Background(), "memory[8]"); err == nil {
		t.Error("Read after a fatal timeout succeeded")
	}
}
