package kenwood

import (
	"context"
	"fmt"

	"github.com/roffe/gorig/pkg/property"
	"github.com/roffe/gorig/pkg/wire"
	"go.uber.org/zap"
)

// Operating modes as reported by MD and IF.
const (
	ModeLSB  = 1
	ModeUSB  = 2
	ModeCW   = 3
	ModeFM   = 4
	ModeAM   = 5
	ModeFSK  = 6
	ModeCWR  = 7
	ModeFSKR = 9
)

// Tuning modes as reported by FR, FT and the IF function field.
const (
	TuningVFOA   = 0
	TuningVFOB   = 1
	TuningMemory = 2
	TuningCall   = 3
)

// Offset types as reported by OS.
const (
	OffsetNone     = 0
	OffsetPositive = 1
	OffsetNegative = 2
	OffsetEuro     = 3
)

var ifLayout = wire.Layout{
	wire.Dec(11),   // operating frequency
	wire.Text(5),   // unused
	wire.Signed(5), // RIT/XIT shift
	wire.Dec(1),    // RIT
	wire.Dec(1),    // XIT
	wire.Dec(1),    // memory bank
	wire.Dec(2),    // memory channel
	wire.Dec(1),    // TX
	wire.Dec(1),    // mode
	wire.Dec(1),    // function
	wire.Dec(1),    // scan
	wire.Dec(1),    // split
	wire.Dec(1),    // tone
	wire.Dec(2),    // tone number
	wire.Dec(1),    // offset type
	wire.Rest(),
}

const (
	ifFrequency = iota
	_
	ifShift
	ifRIT
	ifXIT
	ifBank
	ifChannel
	ifTX
	ifMode
	ifFunction
	ifScan
	ifSplit
	ifTone
	ifToneNumber
	ifOffsetType
)

func validMode(v any) bool {
	n, ok := v.(int)
	return ok && n >= ModeLSB && n <= ModeFSKR && n != 8
}

// modeIn gates a property on the mode of the control receiver.
func modeIn(modes ...int) []property.Option {
	return []property.Option{
		property.Deps("control_mode"),
		property.Validity(func(c property.Cache) bool {
			v, ok := c.Cached("control_mode")
			if !ok {
				return false
			}
			for _, m := range modes {
				if v == m {
					return true
				}
			}
			return false
		}),
	}
}

// above gates a property on another integer property being greater than n.
func above(name string, n int) []property.Option {
	return []property.Option{
		property.Deps(name),
		property.Validity(func(c property.Cache) bool {
			v, ok := c.Cached(name)
			i, isInt := v.(int)
			return ok && isInt && i > n
		}),
	}
}

// MU carries one enable flag per memory group.
var (
	groupLayout = wire.Layout{wire.Dec(1), wire.Dec(1), wire.Dec(1), wire.Dec(1), wire.Dec(1),
		wire.Dec(1), wire.Dec(1), wire.Dec(1), wire.Dec(1), wire.Dec(1)}
	groupFlags = []bool{true, true, true, true, true, true, true, true, true, true}
)

var (
	phoneModes = []int{ModeLSB, ModeUSB, ModeFM, ModeAM}
	cwModes    = []int{ModeCW, ModeCWR}
	dataModes  = []int{ModeCW, ModeCWR, ModeFSK, ModeFSKR}
)

func ts2000(t *table) {
	d := t.d
	recompute := func(context.Context) { d.recompute() }
	route := func(context.Context) { d.route() }

	t.define(def{name: "id", code: "ID", field: wire.Dec(3), always: true, ro: true})
	t.define(def{name: "power", code: "PS", field: wire.Dec(1), flag: true, always: true, after: d.onPower})
	t.define(def{name: "auto_info", code: "AI", field: wire.Dec(1), min: 0, max: 3, always: true})

	// frequencies and tuning
	t.define(def{name: "vfoa", code: "FA", field: wire.Dec(11), min: 30000, max: 1300000000, after: recompute})
	t.define(def{name: "vfob", code: "FB", field: wire.Dec(11), min: 30000, max: 1300000000, after: recompute})
	t.define(def{name: "sub_vfo", code: "FC", field: wire.Dec(11), min: 30000, max: 1300000000, after: recompute})
	t.define(def{name: "control_rx_tuning_mode", code: "FR", field: wire.Dec(1), min: TuningVFOA, max: TuningCall, after: route})
	t.define(def{name: "control_tx_tuning_mode", code: "FT", field: wire.Dec(1), min: TuningVFOA, max: TuningCall, after: route})
	t.define(def{name: "control_mode", code: "MD", field: wire.Dec(1), after: route, opts: []property.Option{property.Range(validMode)}})
	t.define(def{name: "offset_type", code: "OS", field: wire.Dec(1), min: OffsetNone, max: OffsetEuro, after: recompute, opts: modeIn(ModeFM)})
	t.define(def{name: "offset_frequency", code: "OF", field: wire.Dec(9), min: 0, max: 999999999, after: recompute, opts: modeIn(ModeFM)})
	t.define(def{name: "rit", code: "RT", field: wire.Dec(1), flag: true, after: recompute})
	t.define(def{name: "xit", code: "XT", field: wire.Dec(1), flag: true, after: recompute})
	t.define(def{name: "memory_channel", code: "MC", field: wire.Dec(3), min: 0, max: MemoryChannels - 1})
	t.define(def{name: "fine_step", code: "FS", field: wire.Dec(1), flag: true})
	t.define(def{name: "scan", code: "SC", field: wire.Dec(1), min: 0, max: 1})

	t.composite(cdef{name: "dual", code: "DC", layout: wire.Layout{wire.Dec(1), wire.Dec(1)}, flags: []bool{true, true}, after: d.onDual})
	t.composite(cdef{name: "tuner", code: "AC", layout: wire.Layout{wire.Dec(1), wire.Dec(1), wire.Dec(1)}, flags: []bool{true, true, true}})
	t.composite(cdef{name: "busy", code: "BY", layout: wire.Layout{wire.Dec(1), wire.Dec(1)}, flags: []bool{true, true}, ro: true})
	t.composite(cdef{name: "lock", code: "LK", layout: wire.Layout{wire.Dec(1), wire.Dec(1)}, flags: []bool{true, true}})
	t.composite(cdef{name: "processor_level", code: "PL", layout: wire.Layout{wire.Dec(3), wire.Dec(3)}}).
		WithViewOptions(0, property.Range(intRange(0, 100))).
		WithViewOptions(1, property.Range(intRange(0, 100)))
	t.composite(cdef{name: "meter", code: "RM", layout: wire.Layout{wire.Dec(1), wire.Dec(4)}, ro: true})
	t.composite(cdef{name: "status", code: "IF", layout: ifLayout, ro: true, after: d.onStatus})

	// gains and levels
	t.define(def{name: "af_gain", code: "AG", prefix: "0", field: wire.Dec(3), min: 0, max: 255})
	t.define(def{name: "sub_af_gain", code: "AG", prefix: "1", field: wire.Dec(3), min: 0, max: 255})
	t.define(def{name: "squelch", code: "SQ", prefix: "0", field: wire.Dec(3), min: 0, max: 255})
	t.define(def{name: "sub_squelch", code: "SQ", prefix: "1", field: wire.Dec(3), min: 0, max: 255})
	t.define(def{name: "s_meter", code: "SM", prefix: "0", field: wire.Dec(4), ro: true})
	t.define(def{name: "sub_s_meter", code: "SM", prefix: "1", field: wire.Dec(4), ro: true})
	t.define(def{name: "rf_gain", code: "RG", field: wire.Dec(3), min: 0, max: 255})
	t.define(def{name: "mic_gain", code: "MG", field: wire.Dec(3), min: 0, max: 100})
	t.define(def{name: "carrier_gain", code: "CG", field: wire.Dec(3), min: 0, max: 100})
	t.define(def{name: "output_power", code: "PC", field: wire.Dec(3), min: 5, max: 100})
	t.define(def{name: "monitor_level", code: "ML", field: wire.Dec(3), min: 0, max: 9})
	t.define(def{name: "agc_time_constant", code: "GT", field: wire.Dec(3), min: 0, max: 20})

	// filters
	t.define(def{name: "high_cut", code: "SH", field: wire.Dec(2), min: 0, max: 11, opts: modeIn(phoneModes...)})
	t.define(def{name: "low_cut", code: "SL", field: wire.Dec(2), min: 0, max: 11, opts: modeIn(phoneModes...)})
	t.define(def{name: "filter_width", code: "FW", field: wire.Dec(4), min: 0, max: 9999, opts: modeIn(dataModes...)})
	t.define(def{name: "if_shift", code: "IS", field: wire.Signed(5), min: -9999, max: 9999})

	// DSP
	t.define(def{name: "noise_blanker", code: "NB", field: wire.Dec(1), flag: true})
	t.define(def{name: "noise_blanker_level", code: "NL", field: wire.Dec(3), min: 1, max: 10})
	t.define(def{name: "noise_reduction", code: "NR", field: wire.Dec(1), min: 0, max: 2})
	t.define(def{name: "noise_reduction_level", code: "RL", field: wire.Dec(2), min: 1, max: 10, opts: above("noise_reduction", 0)})
	t.define(def{name: "auto_notch", code: "NT", field: wire.Dec(1), flag: true})
	t.define(def{name: "beat_cancel", code: "BC", field: wire.Dec(1), min: 0, max: 2})
	t.define(def{name: "beat_cancel_frequency", code: "BP", field: wire.Dec(3), min: 0, max: 63, opts: above("beat_cancel", 1)})

	// CW and VOX
	t.define(def{name: "keyer_speed", code: "KS", field: wire.Dec(3), min: 10, max: 60, opts: modeIn(cwModes...)})
	t.define(def{name: "break_in_delay", code: "SD", field: wire.Dec(4), min: 0, max: 1000, opts: modeIn(cwModes...)})
	t.define(def{name: "cw_auto_tune", code: "CA", field: wire.Dec(1), flag: true, opts: modeIn(cwModes...)})
	t.define(def{name: "vox", code: "VX", field: wire.Dec(1), flag: true})
	t.define(def{name: "vox_gain", code: "VG", field: wire.Dec(3), min: 0, max: 9})
	t.define(def{name: "vox_delay", code: "VD", field: wire.Dec(4), min: 0, max: 3000})

	// tones
	t.define(def{name: "tone", code: "TO", field: wire.Dec(1), flag: true})
	t.define(def{name: "tone_number", code: "TN", field: wire.Dec(2), min: 1, max: 42})
	t.define(def{name: "ctcss", code: "CT", field: wire.Dec(1), flag: true})
	t.define(def{name: "ctcss_number", code: "CN", field: wire.Dec(2), min: 1, max: 42})
	t.define(def{name: "dcs", code: "DQ", field: wire.Dec(1), flag: true})
	t.define(def{name: "dcs_code", code: "QC", field: wire.Dec(3), min: 0, max: 103})

	// misc
	t.define(def{name: "antenna", code: "AN", field: wire.Dec(1), min: 1, max: 2})
	t.define(def{name: "attenuator", code: "RA", field: wire.Dec(2), min: 0, max: 1})
	t.define(def{name: "preamp", code: "PA", field: wire.Dec(1), flag: true})
	t.define(def{name: "processor", code: "PR", field: wire.Dec(1), flag: true})
	t.define(def{name: "menu", code: "MF", field: wire.Dec(1), min: 0, max: 1})
	t.define(def{name: "firmware_type", code: "TY", field: wire.Text(3), ro: true})
	t.define(def{name: "auto_mode", code: "AM", field: wire.Dec(1), flag: true})
	t.define(def{name: "auto_notch_level", code: "AL", field: wire.Dec(3), min: 0, max: 4})
	t.define(def{name: "asc", code: "AR", prefix: "0", field: wire.Dec(1), flag: true})
	t.define(def{name: "sub_asc", code: "AR", prefix: "1", field: wire.Dec(1), flag: true})
	t.define(def{name: "cluster_tune", code: "CM", field: wire.Dec(1), flag: true})
	t.define(def{name: "alt", code: "LT", field: wire.Dec(1), flag: true})
	t.define(def{name: "programmable_memory", code: "PM", field: wire.Dec(1), min: 0, max: 5})
	t.define(def{name: "multi_channel_step", code: "ST", field: wire.Dec(2), min: 0, max: 9})
	t.define(def{name: "tf_set", code: "TS", field: wire.Dec(1), flag: true})
	t.define(def{name: "sub_transceiver", code: "SB", field: wire.Dec(1), flag: true})
	t.define(def{name: "pll_unlock", code: "UL", field: wire.Dec(1), flag: true, ro: true})
	t.define(def{name: "keyer_buffer_full", code: "KY", field: wire.Dec(1), flag: true, ro: true})
	t.composite(cdef{name: "memory_groups", code: "MU", layout: groupLayout, flags: groupFlags})
	t.composite(cdef{name: "quick_memory", code: "QR", layout: wire.Layout{wire.Dec(1), wire.Dec(1)}, flags: []bool{true, false}}).
		WithViewOptions(1, property.Range(intRange(0, 9)))
	t.composite(cdef{name: "tnc_leds", code: "TI", layout: wire.Layout{wire.Dec(1), wire.Dec(1), wire.Dec(1)}, flags: []bool{true, true, true}, ro: true})

	// values carried by IF, TX and RX replies
	t.custom("shift", property.Query("IF;"), property.Range(intRange(-99999, 99999)), property.SetFunc(d.setShift))
	t.custom("tx", property.Query("IF;"), property.Range(isBool), property.Format(func(v any) (string, error) {
		if v.(bool) {
			return "TX;", nil
		}
		return "RX;", nil
	}))
	txHandler := func(on bool) handler {
		return func(context.Context, string) { d.set("tx", on) }
	}
	t.on("TX", txHandler(true))
	t.on("RX", txHandler(false))
	for _, code := range []string{"RC", "RU", "RD"} {
		t.on(code, func(context.Context, string) {})
	}

	// per receiver state and the frequency network
	for _, rx := range receivers {
		sub := rx == "sub"
		for _, name := range []string{"_rx_tuning_mode", "_tx_tuning_mode", "_mode"} {
			t.derived(rx+name, property.QueryFunc(d.queryReceiver(sub)))
		}
		t.derived(rx + "_operating_frequency")
		for _, name := range []string{"_rx_set_frequency", "_tx_set_frequency", "_tx_offset_frequency", "_rx_frequency", "_tx_frequency"} {
			t.derived(rx+name, property.QueryFunc(d.resolve))
		}
	}
	t.custom("rx_frequency", property.QueryFunc(d.resolve), property.Range(intRange(30000, 1300000000)), property.SetFunc(d.frequencySetter("rx")))
	t.custom("tx_frequency", property.QueryFunc(d.resolve), property.Range(intRange(30000, 1300000000)), property.SetFunc(d.frequencySetter("tx")))
	t.custom("rx_mode", property.QueryFunc(d.resolve), property.Range(validMode), property.SetFunc(d.setMode))
	t.custom("tx_mode", property.QueryFunc(d.resolve), property.Range(validMode), property.SetFunc(d.setMode))
	t.derived("rx_tuning_mode", property.QueryFunc(d.resolve))
	t.derived("tx_tuning_mode", property.QueryFunc(d.resolve))
	t.custom("split", property.QueryFunc(d.resolve), property.Range(isBool), property.SetFunc(d.setSplit))

	memories(t)
	menuItems(t)
}

// setShift clears the shift register and moves it by v Hz.
func (d *Driver) setShift(v any) error {
	n := v.(int)
	switch {
	case n == 0:
		d.send("RC;", "IF;")
	case n > 0:
		d.send("RC;", "")
		d.send(fmt.Sprintf("RU%05d;", n), "IF;")
	default:
		d.send("RC;", "")
		d.send(fmt.Sprintf("RD%05d;", -n), "IF;")
	}
	return nil
}

// setSplit moves the transmit VFO of the control receiver away from, or back
// to, the receive VFO.
func (d *Driver) setSplit(v any) error {
	rx, ok := d.cachedInt("control_rx_tuning_mode")
	if !ok || rx > TuningVFOB {
		d.log.Debug("split needs a known VFO tuning mode")
		return nil
	}
	tx := rx
	if v.(bool) {
		tx = TuningVFOB - rx
	}
	return d.reg.Get("control_tx_tuning_mode").Write(tx)
}

func (d *Driver) setMode(v any) error {
	return d.reg.Get("control_mode").Write(v)
}

// frequencySetter writes the VFO the current receive or transmit path is
// tuned by. Memory and call channels cannot be retuned.
func (d *Driver) frequencySetter(dir string) func(any) error {
	return func(v any) error {
		rx, ok := d.txReceiver()
		if !ok {
			return nil
		}
		if rx == "sub" {
			return d.reg.Get("sub_vfo").Write(v)
		}
		tm, ok := d.cachedInt("main_" + dir + "_tuning_mode")
		switch {
		case !ok:
			return nil
		case tm == TuningVFOA:
			return d.reg.Get("vfoa").Write(v)
		case tm == TuningVFOB:
			return d.reg.Get("vfob").Write(v)
		}
		d.log.Debug("cannot tune a memory or call channel", zap.String("direction", dir))
		return nil
	}
}
