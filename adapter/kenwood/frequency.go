package kenwood

import (
	"context"
	"time"

	"github.com/roffe/gorig/pkg/property"
	"go.uber.org/zap"
)

var receivers = []string{"main", "sub"}

// applyOffset returns the repeater transmit frequency for f.
func applyOffset(f, offsetType, offset int) int {
	switch offsetType {
	case OffsetPositive:
		return f + offset
	case OffsetNegative:
		return f - offset
	case OffsetEuro:
		switch {
		case f > 200_000_000 && f < 600_000_000:
			return f - 7_600_000
		case f > 1_200_000_000 && f < 1_400_000_000:
			return f - 6_000_000
		}
	}
	return f
}

func applyShift(f int, enabled bool, shift int) int {
	if enabled {
		return f + shift
	}
	return f
}

// route copies the control receiver values reported by FR, FT and MD to
// the receiver they belong to.
func (d *Driver) route() {
	ctrl, ok := d.controlReceiver()
	if ok {
		for _, name := range []string{"rx_tuning_mode", "tx_tuning_mode", "mode"} {
			if v, ok := d.reg.Cached("control_" + name); ok {
				d.set(ctrl+"_"+name, v)
			}
		}
	}
	d.recompute()
}

// onDual runs after a DC reply. When the control receiver changes, every
// value reported for "the control receiver" is stale and is queried again.
func (d *Driver) onDual(_ context.Context, vals []any) {
	ctrl, ok := vals[1].(bool)
	if ok && d.lastCtrl != nil && *d.lastCtrl != ctrl {
		for _, name := range []string{"control_rx_tuning_mode", "control_tx_tuning_mode", "control_mode", "status"} {
			p := d.reg.Get(name)
			p.Clear()
			d.Query(p)
		}
	}
	if ok {
		d.lastCtrl = &ctrl
	} else {
		d.lastCtrl = nil
	}
	d.recompute()
}

// onStatus spreads an IF reply over the properties it carries.
func (d *Driver) onStatus(_ context.Context, vals []any) {
	if ctrl, ok := d.controlReceiver(); ok {
		d.set(ctrl+"_operating_frequency", vals[ifFrequency])
	}
	d.set("shift", vals[ifShift])
	d.set("rit", asBool(vals[ifRIT]))
	d.set("xit", asBool(vals[ifXIT]))
	d.set("tx", asBool(vals[ifTX]))
	if bank, ok := vals[ifBank].(int); ok {
		if ch, ok := vals[ifChannel].(int); ok {
			d.set("memory_channel", bank*100+ch)
		}
	}
	if vals[ifMode] != nil {
		d.set("control_mode", vals[ifMode])
	}
	if vals[ifOffsetType] != nil && d.reg.Get("offset_type").Valid() {
		d.set("offset_type", vals[ifOffsetType])
	}
	d.route()
}

// onPower tracks PS replies. Losing power clears every cached value that
// needs it; regaining power fills the cache again.
func (d *Driver) onPower(context.Context) {
	on, ok := d.cachedBool("power")
	if !ok {
		return
	}
	was := d.powerOn.Swap(on)
	d.tr.SetPoweredOff(!on)
	switch {
	case was && !on:
		d.log.Info("transceiver powered off")
		d.reg.Each(func(p *property.Property) {
			if p.RequiresPower() && p.Parent() == nil {
				p.Clear()
			}
		})
		d.lastCtrl = nil
	case !was && on && d.ready.Load():
		d.log.Info("transceiver powered on")
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.bootstrap(d.ctx); err != nil {
				d.log.Warn("cache refill failed", zap.Error(err))
			}
		}()
	}
}

func (d *Driver) controlReceiver() (string, bool) {
	return d.dualReceiver(1)
}

func (d *Driver) txReceiver() (string, bool) {
	return d.dualReceiver(0)
}

func (d *Driver) dualReceiver(i int) (string, bool) {
	v, ok := d.reg.Cached("dual")
	if !ok {
		return "", false
	}
	sub, ok := v.([]any)[i].(bool)
	if !ok {
		return "", false
	}
	if sub {
		return "sub", true
	}
	return "main", true
}

// recompute refreshes the whole derived frequency network from the cache.
// It only runs in the dispatch loop.
func (d *Driver) recompute() {
	for _, rx := range receivers {
		d.recomputeReceiver(rx)
	}
	d.recomputeCurrent()
}

func (d *Driver) recomputeReceiver(rx string) {
	rxTM, rxOK := d.cachedInt(rx + "_rx_tuning_mode")
	txTM, txOK := d.cachedInt(rx + "_tx_tuning_mode")

	var rxSet, txSet any
	if rxOK {
		rxSet = d.setFrequency(rx, rxTM)
	}
	if txOK {
		txSet = d.setFrequency(rx, txTM)
	}
	d.set(rx+"_rx_set_frequency", rxSet)
	d.set(rx+"_tx_set_frequency", txSet)

	var offset any
	if f, ok := txSet.(int); ok {
		mode, modeOK := d.cachedInt(rx + "_mode")
		split := rxOK && txOK && rxTM != txTM
		switch {
		case !modeOK:
		case mode == ModeFM && !split:
			typ, typOK := d.cachedInt("offset_type")
			amount, amountOK := d.cachedInt("offset_frequency")
			if typOK && (amountOK || typ == OffsetNone || typ == OffsetEuro) {
				offset = applyOffset(f, typ, amount)
			}
		default:
			offset = f
		}
	}
	d.set(rx+"_tx_offset_frequency", offset)
	d.set(rx+"_rx_frequency", d.shifted(rxSet, "rit"))
	d.set(rx+"_tx_frequency", d.shifted(offset, "xit"))
}

// shifted applies the shift register when the named path (rit or xit) is on.
func (d *Driver) shifted(v any, path string) any {
	f, ok := v.(int)
	if !ok {
		return nil
	}
	enabled, ok := d.cachedBool(path)
	if !ok {
		return nil
	}
	if !enabled {
		return f
	}
	shift, ok := d.cachedInt("shift")
	if !ok {
		return nil
	}
	return applyShift(f, enabled, shift)
}

func (d *Driver) setFrequency(rx string, tuningMode int) any {
	var name string
	switch {
	case tuningMode >= TuningMemory:
		name = rx + "_operating_frequency"
	case rx == "sub":
		name = "sub_vfo"
	case tuningMode == TuningVFOA:
		name = "vfoa"
	default:
		name = "vfob"
	}
	v, _ := d.reg.Cached(name)
	return v
}

// recomputeCurrent points the current aliases at the receiver wired to the
// transmitter.
func (d *Driver) recomputeCurrent() {
	rx, ok := d.txReceiver()
	get := func(name string) any {
		if !ok {
			return nil
		}
		v, _ := d.reg.Cached(rx + "_" + name)
		return v
	}
	d.set("rx_frequency", get("rx_frequency"))
	d.set("tx_frequency", get("tx_frequency"))
	d.set("rx_mode", get("mode"))
	d.set("tx_mode", get("mode"))
	rxTM, txTM := get("rx_tuning_mode"), get("tx_tuning_mode")
	d.set("rx_tuning_mode", rxTM)
	d.set("tx_tuning_mode", txTM)
	if rxTM == nil || txTM == nil {
		d.set("split", nil)
		return
	}
	d.set("split", rxTM != txTM)
}

// resolve reads every input of the frequency network. The handlers storing
// the replies recompute the derived values.
func (d *Driver) resolve(ctx context.Context) error {
	inputs := []string{
		"dual", "vfoa", "vfob", "sub_vfo", "status",
		"main_rx_tuning_mode", "main_tx_tuning_mode", "main_mode",
		"sub_rx_tuning_mode", "sub_tx_tuning_mode", "sub_mode",
		"offset_type", "offset_frequency",
	}
	for _, name := range inputs {
		if _, err := d.reg.Get(name).Read(ctx); err != nil {
			return err
		}
	}
	return nil
}

// queryReceiver reads tuning modes and mode of one receiver. FR, FT and MD
// only report the control receiver, so for the other one the control and
// transmit flags are moved over, the values queried and the flags restored.
func (d *Driver) queryReceiver(sub bool) func(context.Context) error {
	return func(ctx context.Context) error {
		v, err := d.reg.Get("dual").Read(ctx)
		if err != nil || v == nil {
			return err
		}
		saved := v.([]any)
		if ctrl, _ := saved[1].(bool); ctrl == sub {
			return d.refresh(ctx)
		}
		if err := d.writeWait(ctx, "dual", []any{sub, sub}); err != nil {
			return err
		}
		err = d.refresh(ctx)
		if rerr := d.writeWait(ctx, "dual", saved); err == nil {
			err = rerr
		}
		if err != nil {
			return err
		}
		// wait for the control receiver values requeried by onDual
		return d.refresh(ctx)
	}
}

func (d *Driver) refresh(ctx context.Context) error {
	for _, name := range []string{"control_rx_tuning_mode", "control_tx_tuning_mode", "control_mode", "status"} {
		p := d.reg.Get(name)
		p.Clear()
		if _, err := p.Read(ctx); err != nil {
			return err
		}
	}
	return nil
}

// writeWait writes v and blocks until the next round trip of name completes.
func (d *Driver) writeWait(ctx context.Context, name string, v any) error {
	p := d.reg.Get(name)
	done := make(chan struct{})
	var closed bool
	id := p.OnComplete(func(any) {
		if !closed {
			closed = true
			close(done)
		}
	})
	defer p.RemoveOnComplete(id)
	if err := p.Write(v); err != nil {
		return err
	}
	t := time.NewTimer(d.cfg.ReadTimeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		err := &property.NoReplyError{Name: name, Timeout: d.cfg.ReadTimeout}
		d.Fail(err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.Done():
		return d.closedErr()
	}
}

func (d *Driver) closedErr() error {
	if err := d.Err(); err != nil {
		return err
	}
	return property.ErrClosed
}

func asBool(v any) any {
	if n, ok := v.(int); ok {
		return n != 0
	}
	return nil
}
